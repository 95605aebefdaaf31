// Package actor implements the actor state machine: the init handshake
// between a parent and a freshly spawned child, the run/suspend loop that
// multiplexes user messages with system (control-plane) messages, and
// orderly termination. It is built entirely on top of package process.
package actor

import (
	"time"

	"github.com/lguibr/actorforge/process"
)

// DefaultInitTimeout bounds how long a parent waits for a child's init
// handshake before killing it and reporting InitTimeout.
const DefaultInitTimeout = 5 * time.Second

// Mode is the actor's current scheduling mode, toggled by Suspend/Resume
// system messages.
type Mode int

const (
	Running Mode = iota
	Suspended
)

func (m Mode) String() string {
	if m == Suspended {
		return "suspended"
	}
	return "running"
}

// DebugState is an opaque carrier for OTP-style debug options. The empty
// value is always valid; this implementation does not interpret its
// contents, it only threads them through to StatusInfo for inspection.
type DebugState struct {
	Options map[string]interface{}
}

// StatusInfo is the snapshot returned by a GetStatus system message.
type StatusInfo struct {
	Module   string
	Parent   process.Pid
	Mode     Mode
	Debug    DebugState
	State    interface{}
	Restarts int
}

// Next is the result a Handler returns: either continue running with an
// updated state, or stop with an ExitReason. Modelled as a small
// kind-tagged struct with constructor functions, matching the rest of
// this module's ExitReason/InitResult style rather than a sealed
// interface hierarchy.
type Next[S any] struct {
	state  S
	stop   bool
	reason process.ExitReason
}

// Continue requests the actor keep running with state as its new state.
func Continue[S any](state S) Next[S] {
	return Next[S]{state: state}
}

// Stop requests the actor terminate with reason.
func Stop[S any](reason process.ExitReason) Next[S] {
	return Next[S]{stop: true, reason: reason}
}

// Handler processes one user message against the current state.
type Handler[S any, M any] func(msg M, state S) Next[S]

// InitResult is what a child's init() hands back during the spawn
// handshake: either Ready with the initial state and a user-message
// selector, or Failed with an opaque reason.
type InitResult[S any, M any] struct {
	state    S
	selector process.Selector[M]
	ready    bool
	reason   interface{}
}

// Ready reports successful initialisation.
func Ready[S any, M any](state S, selector process.Selector[M]) InitResult[S, M] {
	return InitResult[S, M]{state: state, selector: selector, ready: true}
}

// Failed reports that init() could not produce a usable state.
func Failed[S any, M any](reason interface{}) InitResult[S, M] {
	return InitResult[S, M]{reason: reason}
}

// InitFunc is the user-supplied initialiser run inside the freshly
// spawned child task, before it acknowledges its parent. self is already
// registered in the process table and mailbox by the time init runs;
// inbox is the Subject init should fold into its returned Selector (via
// process.Selecting) so that other actors' Sends reach this one.
type InitFunc[S any, M any] func(self process.Pid, parent process.Pid, inbox process.Subject[M]) InitResult[S, M]
