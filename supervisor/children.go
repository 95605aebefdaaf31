package supervisor

import (
	"fmt"

	"github.com/lguibr/actorforge/process"
)

// Unit is the composed-argument type for a supervisor whose children don't
// need to thread anything between them: the default initial argument a
// Children build-up starts from.
type Unit struct{}

// WorkerSpec is the fluent, type-safe builder behind Worker. ArgIn is what
// this child's start function receives (the previous child's argOut, or
// the supervisor's initial argument for the first child added); ArgOut is
// what it contributes to the next child's ArgIn once Returning has run.
type WorkerSpec[ArgIn any, ArgOut any, M any] struct {
	id        string
	start     func(sys *process.System, parent process.Pid, arg ArgIn) (process.Pid, process.Subject[M], error)
	returning func(arg ArgIn, subject process.Subject[M]) ArgOut
	kind      ChildKind
	shutdown  Shutdown
}

// Worker describes one supervised child by its id and start function,
// mirroring the child_spec/start_link pair of an OTP child spec. Chain
// Returning onto the result to thread a value into the next child's
// argument, matching this package's supervisor.worker(start) API.
func Worker[ArgIn any, ArgOut any, M any](id string, start func(sys *process.System, parent process.Pid, arg ArgIn) (process.Pid, process.Subject[M], error)) *WorkerSpec[ArgIn, ArgOut, M] {
	return &WorkerSpec[ArgIn, ArgOut, M]{id: id, start: start, kind: KindWorker}
}

// Returning derives this child's contribution to the next child's
// argument from the argument it was started with and the Subject it
// handed back. Children.Add calls this once the child is up, threading
// the result into the next spec's start.
func (w *WorkerSpec[ArgIn, ArgOut, M]) Returning(fn func(arg ArgIn, subject process.Subject[M]) ArgOut) *WorkerSpec[ArgIn, ArgOut, M] {
	w.returning = fn
	return w
}

// WithShutdown overrides this child's default shutdown policy.
func (w *WorkerSpec[ArgIn, ArgOut, M]) WithShutdown(s Shutdown) *WorkerSpec[ArgIn, ArgOut, M] {
	w.shutdown = s
	return w
}

// AsSupervisor marks this child as a nested supervisor for introspection
// purposes (ChildInfo.Kind), without otherwise changing how it is
// started or restarted.
func (w *WorkerSpec[ArgIn, ArgOut, M]) AsSupervisor() *WorkerSpec[ArgIn, ArgOut, M] {
	w.kind = KindSupervisor
	return w
}

// Build erases ArgIn/ArgOut/M into a ChildSpec the supervisor package can
// store and restart without any generic type parameters of its own. A
// missing Returning passes the incoming argument straight through
// unchanged, so a chain of Workers with no Returning calls behaves like
// the flat, argument-free list this package supported before.
func (w *WorkerSpec[ArgIn, ArgOut, M]) Build() ChildSpec {
	start := w.start
	returning := w.returning
	return ChildSpec{
		ID:       w.id,
		Kind:     w.kind,
		Shutdown: w.shutdown,
		Start: func(sys *process.System, parent process.Pid, argIn interface{}) (process.Pid, interface{}, error) {
			typedArg, _ := argIn.(ArgIn)
			pid, subject, err := start(sys, parent, typedArg)
			if err != nil {
				return process.Pid{}, nil, err
			}
			if returning == nil {
				return pid, argIn, nil
			}
			return pid, returning(typedArg, subject), nil
		},
	}
}

// Children accumulates a supervisor's child specs during its init
// handshake, spawning each one immediately and threading the composed
// argument from one spec's returning into the next spec's start, per
// this package's argument-composition contract. A build-up that fails
// partway through records the error and ignores subsequent Add calls, so
// callers can chain freely and check Failed once at the end.
type Children struct {
	sys    *process.System
	parent process.Pid
	arg    interface{}
	built  []childState
	err    error
}

func newChildren(sys *process.System, parent process.Pid, initialArg interface{}) *Children {
	return &Children{sys: sys, parent: parent, arg: initialArg}
}

// Add spawns spec now, feeding it the argument composed so far and
// carrying its returning value forward as the next Add's argument. If an
// earlier Add already failed, or this one does, the failure is recorded
// and the Children stops spawning further children.
func (c *Children) Add(spec ChildSpec) *Children {
	if c.err != nil {
		return c
	}
	pid, argOut, err := spec.Start(c.sys, c.parent, c.arg)
	if err != nil {
		c.err = fmt.Errorf("child %q failed to start: %w", spec.ID, err)
		return c
	}
	c.built = append(c.built, childState{spec: spec, pid: pid, alive: true, argIn: c.arg})
	c.arg = argOut
	return c
}

// Failed reports whether any Add call in this build-up has failed, and
// the error from the first one that did.
func (c *Children) Failed() (error, bool) {
	return c.err, c.err != nil
}
