package process

import (
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned by TryCall when no reply arrives within the
// requested timeout.
var ErrTimeout = errors.New("process: call timeout")

// ErrNoDeNode is returned by TryCall when the callee's death looks like a
// transport disconnect (see NoConnection) rather than an ordinary exit.
var ErrNoDeNode = errors.New("process: call nodedown")

// CallFailedError reports that the callee died before replying.
type CallFailedError struct {
	Reason ExitReason
}

func (e *CallFailedError) Error() string {
	return fmt.Sprintf("process: call failed: callee exited (%s)", e.Reason)
}

type callRef struct {
	id uint64
}

// From is a reply handle captured by a call(): it carries just enough to
// deliver exactly one reply to the original caller, and swallows send
// failures (the caller may have already timed out).
type From[R any] struct {
	sys    *System
	caller Pid
	ref    callRef
}

// Reply sends v back to the caller that constructed f. Calling Reply more
// than once per From is undefined, matching the spec's invariant that
// every From is replied to at most once.
func (f From[R]) Reply(v R) {
	if t, ok := f.sys.lookup(f.caller); ok {
		t.mailbox.push(replyEnvelope{ref: f.ref, value: v})
	}
}

type replyEnvelope struct {
	ref   callRef
	value interface{}
}

type callOutcome[R any] struct {
	value R
	err   error
}

func composeCallSelector[R any](ref callRef, monRef MonitorRef) Selector[callOutcome[R]] {
	reply := Selector[callOutcome[R]]{clauses: []Clause[callOutcome[R]]{{match: func(raw interface{}) (callOutcome[R], bool) {
		env, ok := raw.(replyEnvelope)
		if !ok || env.ref != ref {
			return callOutcome[R]{}, false
		}
		var v R
		if env.value != nil {
			v, ok = env.value.(R)
			if !ok {
				return callOutcome[R]{}, false
			}
		}
		return callOutcome[R]{value: v}, true
	}}}}

	down := SelectingProcessDown[callOutcome[R]](monRef, func(pd ProcessDown) callOutcome[R] {
		if payload, ok := pd.Reason.Payload.(string); ok && payload == "noconnection" {
			return callOutcome[R]{err: ErrNoDeNode}
		}
		return callOutcome[R]{err: &CallFailedError{Reason: pd.Reason}}
	})

	return Merge(reply, down)
}

// TryCall performs the synchronous request/reply protocol described in
// spec.md 4.C without crashing the caller on failure: it monitors the
// subject's owner, sends make(from), and waits (in priority order) for a
// reply, a nodedown ProcessDown, any other ProcessDown, or a timeout.
//
// callerMB must be the Mailbox of callerPid, typically obtained from
// System.Start (inside an actor) or System.RegisterCaller (from a plain
// goroutine).
func TryCall[Req any, Resp any](sys *System, callerPid Pid, callerMB *Mailbox, subject Subject[Req], make func(From[Resp]) Req, timeout time.Duration) (Resp, error) {
	ref := sys.nextCallRef()
	monRef := sys.Monitor(callerPid, subject.Owner())

	from := From[Resp]{sys: sys, caller: callerPid, ref: ref}
	subject.Send(make(from))

	sel := composeCallSelector[Resp](ref, monRef)
	outcome, ok := Select(callerMB, sel, timeout)
	sys.Demonitor(monRef, true)

	if !ok {
		var zero Resp
		return zero, ErrTimeout
	}
	if outcome.err != nil {
		var zero Resp
		return zero, outcome.err
	}
	return outcome.value, nil
}

// Call is TryCall's OTP-compatible variant: on any failure (timeout,
// nodedown, callee crash) it panics, which — run inside an actor's
// runTask wrapper — surfaces as the caller's own abnormal termination,
// matching spec.md 4.C.5 ("Failures surface as task termination of the
// caller by design").
func Call[Req any, Resp any](sys *System, callerPid Pid, callerMB *Mailbox, subject Subject[Req], make func(From[Resp]) Req, timeout time.Duration) Resp {
	resp, err := TryCall(sys, callerPid, callerMB, subject, make, timeout)
	if err != nil {
		panic(err)
	}
	return resp
}
