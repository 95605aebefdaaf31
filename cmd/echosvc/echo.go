package main

import (
	"sync"
	"sync/atomic"

	"github.com/lguibr/actorforge/actor"
	"github.com/lguibr/actorforge/process"
	"github.com/lguibr/actorforge/supervisor"
)

// EchoState is the worker's trivial state: how many echoes it has served.
type EchoState struct {
	Count int
}

// EchoMsg is the worker's single user message type: a payload to echo
// and the reply handle to echo it to.
type EchoMsg struct {
	payload interface{}
	from    process.From[interface{}]
}

func newEchoHandler() actor.Handler[EchoState, EchoMsg] {
	return func(msg EchoMsg, state EchoState) actor.Next[EchoState] {
		msg.from.Reply(msg.payload)
		return actor.Continue(EchoState{Count: state.Count + 1})
	}
}

func newEchoInit() actor.InitFunc[EchoState, EchoMsg] {
	return func(self, parent process.Pid, inbox process.Subject[EchoMsg]) actor.InitResult[EchoState, EchoMsg] {
		sel := process.Selecting(inbox, func(m EchoMsg) EchoMsg { return m })
		return actor.Ready[EchoState, EchoMsg](EchoState{}, sel)
	}
}

// echoHandle is where the websocket layer finds the currently-running
// worker's Pid and Subject. It is updated every time the supervisor
// (re)spawns the worker, including after a restart, so callers always
// reach the live instance rather than a dead Pid.
type echoHandle struct {
	mu      sync.RWMutex
	pid     process.Pid
	subject process.Subject[EchoMsg]
}

func (h *echoHandle) set(pid process.Pid, subject process.Subject[EchoMsg]) {
	h.mu.Lock()
	h.pid, h.subject = pid, subject
	h.mu.Unlock()
}

func (h *echoHandle) get() (process.Pid, process.Subject[EchoMsg]) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.pid, h.subject
}

// startEcho builds the echo worker's supervisor.Worker start function,
// capturing restarts in an atomic counter threaded into StatusInfo.Restarts
// per SPEC_FULL.md's supplemented observability feature. It runs both on
// the supervisor's own init goroutine (first start) and on the async
// restartChildren goroutine (every restart thereafter), so the counter
// must be safe for concurrent increment/read rather than a plain int.
func startEcho(handle *echoHandle, restarts *atomic.Int32) func(sys *process.System, parent process.Pid, _ supervisor.Unit) (process.Pid, process.Subject[EchoMsg], error) {
	return func(sys *process.System, parent process.Pid, _ supervisor.Unit) (process.Pid, process.Subject[EchoMsg], error) {
		spec := actor.StartSpec[EchoState, EchoMsg]{
			Module:   "echo",
			Init:     newEchoInit(),
			Handler:  newEchoHandler(),
			Restarts: int(restarts.Load()),
		}
		pid, subject, err := actor.Start(sys, parent, spec)
		if err != nil {
			return process.Pid{}, process.Subject[EchoMsg]{}, err
		}
		restarts.Add(1)
		handle.set(pid, subject)
		return pid, subject, nil
	}
}
