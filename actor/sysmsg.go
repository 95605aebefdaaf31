package actor

import (
	"sync/atomic"
	"time"

	"github.com/lguibr/actorforge/process"
)

// SystemMessage is the tagged union of operator/OTP-style control
// messages: GetState, GetStatus, Suspend, Resume. Each variant's Reply
// closure must be invoked exactly once by the actor's run loop.
type SystemMessage interface {
	isSystemMessage()
}

// GetState asks the actor to hand back its internal state verbatim.
type GetState struct {
	reply func(interface{})
}

func (GetState) isSystemMessage() {}

// Reply sends v back to the requester as the state snapshot.
func (m GetState) Reply(v interface{}) { m.reply(v) }

// GetStatus asks the actor to hand back a StatusInfo snapshot.
type GetStatus struct {
	reply func(StatusInfo)
}

func (GetStatus) isSystemMessage() {}

// Reply sends info back to the requester.
func (m GetStatus) Reply(info StatusInfo) { m.reply(info) }

// Suspend asks the actor to stop processing user messages. Its reply
// carries no payload by construction: spec.md 4.B requires the reply be
// fixed to "ok" regardless of what a handler might attempt to pass, which
// this signature enforces at the type level.
type Suspend struct {
	reply func()
}

func (Suspend) isSystemMessage() {}

// Reply acknowledges the suspend request.
func (m Suspend) Reply() { m.reply() }

// Resume asks the actor to resume processing user messages. See Suspend
// for why the reply takes no payload.
type Resume struct {
	reply func()
}

func (Resume) isSystemMessage() {}

// Reply acknowledges the resume request.
func (m Resume) Reply() { m.reply() }

// FromPair is the (caller_pid, ref) half of the wire-level system
// request tuple described in spec.md 4.B/6: (atom 'system', from_pair,
// request).
type FromPair struct {
	Caller process.Pid
	Ref    uint64
}

// requestKind enumerates the system request payload atoms.
type requestKind int

const (
	reqGetState requestKind = iota
	reqGetStatus
	reqSuspend
	reqResume
)

var nextSysRef uint64

func newSysRef() uint64 { return atomic.AddUint64(&nextSysRef, 1) }

// sysRequestAtom / sysReplyAtom name the two Tuple3 "atoms" this protocol
// uses: the request travelling to the actor, and the reply travelling
// back to the caller.
const (
	sysRequestAtom = "system"
	sysReplyAtom   = "system_reply"
)

func sendSysRequest(sys *process.System, target process.Pid, caller process.Pid, ref uint64, kind requestKind) {
	sys.SendRecord3(target, sysRequestAtom, FromPair{Caller: caller, Ref: ref}, kind)
}

func sendSysReply(sys *process.System, caller process.Pid, ref uint64, value interface{}) {
	sys.SendRecord3(caller, sysReplyAtom, ref, value)
}

// systemSelector builds the selector clause an actor run loop uses to
// recognise and normalize raw system requests addressed to self, wrapping
// each into a SystemMessage whose Reply closure implements the
// protocol-level substitution spec.md 4.B requires (get_state/get_status
// forward the handler's value verbatim; suspend/resume are fixed to an
// empty acknowledgement, which the Suspend/Resume types enforce simply by
// not accepting a value).
func systemSelector(sys *process.System, self process.Pid) process.Selector[SystemMessage] {
	return process.SelectingRecord3[SystemMessage](sysRequestAtom, func(second, third interface{}) (SystemMessage, bool) {
		from, ok := second.(FromPair)
		if !ok {
			return nil, false
		}
		kind, ok := third.(requestKind)
		if !ok {
			return nil, false
		}
		switch kind {
		case reqGetState:
			return GetState{reply: func(v interface{}) { sendSysReply(sys, from.Caller, from.Ref, v) }}, true
		case reqGetStatus:
			return GetStatus{reply: func(v StatusInfo) { sendSysReply(sys, from.Caller, from.Ref, v) }}, true
		case reqSuspend:
			return Suspend{reply: func() { sendSysReply(sys, from.Caller, from.Ref, struct{}{}) }}, true
		case reqResume:
			return Resume{reply: func() { sendSysReply(sys, from.Caller, from.Ref, struct{}{}) }}, true
		default:
			return nil, false
		}
	})
}

func replySelector[R any](ref uint64) process.Selector[R] {
	return process.SelectingRecord3[R](sysReplyAtom, func(second, third interface{}) (R, bool) {
		var zero R
		gotRef, ok := second.(uint64)
		if !ok || gotRef != ref {
			return zero, false
		}
		v, ok := third.(R)
		if !ok {
			return zero, false
		}
		return v, true
	})
}

// GetStateOf requests target's internal state snapshot.
func GetStateOf(sys *process.System, target process.Pid, callerPid process.Pid, callerMB *process.Mailbox, timeout time.Duration) (interface{}, bool) {
	ref := newSysRef()
	sendSysRequest(sys, target, callerPid, ref, reqGetState)
	return process.Select(callerMB, replySelector[interface{}](ref), timeout)
}

// GetStatusOf requests target's StatusInfo snapshot.
func GetStatusOf(sys *process.System, target process.Pid, callerPid process.Pid, callerMB *process.Mailbox, timeout time.Duration) (StatusInfo, bool) {
	ref := newSysRef()
	sendSysRequest(sys, target, callerPid, ref, reqGetStatus)
	return process.Select(callerMB, replySelector[StatusInfo](ref), timeout)
}

// SuspendOf requests target transition to Suspended and waits for the ack.
func SuspendOf(sys *process.System, target process.Pid, callerPid process.Pid, callerMB *process.Mailbox, timeout time.Duration) bool {
	ref := newSysRef()
	sendSysRequest(sys, target, callerPid, ref, reqSuspend)
	_, ok := process.Select(callerMB, replySelector[struct{}](ref), timeout)
	return ok
}

// ResumeOf requests target transition to Running and waits for the ack.
func ResumeOf(sys *process.System, target process.Pid, callerPid process.Pid, callerMB *process.Mailbox, timeout time.Duration) bool {
	ref := newSysRef()
	sendSysRequest(sys, target, callerPid, ref, reqResume)
	_, ok := process.Select(callerMB, replySelector[struct{}](ref), timeout)
	return ok
}
