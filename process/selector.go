package process

import "sync/atomic"

var nextSubjectID uint64

// Subject is a typed inbox endpoint for messages of type M, owned by
// exactly one task (its receiver). Any number of senders may hold clones
// of a Subject (it is a plain value); sending is non-blocking, unbounded,
// and FIFO per sender-receiver pair.
type Subject[M any] struct {
	id    uint64
	owner Pid
	sys   *System
}

// NewSubject creates a Subject of type M owned by owner, routed through
// sys's mailbox for that Pid.
func NewSubject[M any](sys *System, owner Pid) Subject[M] {
	return Subject[M]{id: atomic.AddUint64(&nextSubjectID, 1), owner: owner, sys: sys}
}

// Owner returns the Pid that owns s; messages sent to s land in that
// Pid's mailbox.
func (s Subject[M]) Owner() Pid { return s.owner }

// Send enqueues msg into the owner's mailbox. Infallible in contract: a
// dead owner silently drops the message.
func (s Subject[M]) Send(msg M) {
	s.sys.deliverSubject(s.owner, s.id, msg)
}

type subjectEnvelope struct {
	subjectID uint64
	value     interface{}
}

// Clause is one composable pattern of a Selector: a predicate-and-transform
// over a raw mailbox message.
type Clause[M any] struct {
	match func(raw interface{}) (M, bool)
}

// Selector is a composable specifier of which raw mailbox messages map to
// typed values of M. Selectors are plain values, not state; composition
// order defines tie-breaking when a single mailbox message matches more
// than one clause (earlier-added clauses win).
type Selector[M any] struct {
	clauses []Clause[M]
}

// EmptySelector returns a Selector matching nothing.
func EmptySelector[M any]() Selector[M] {
	return Selector[M]{}
}

// Selecting adds a clause that matches messages sent on subject, applying
// tag to produce the selector's M value.
func Selecting[X any, M any](subject Subject[X], tag func(X) M) Selector[M] {
	sid := subject.id
	return Selector[M]{clauses: []Clause[M]{{match: func(raw interface{}) (M, bool) {
		env, ok := raw.(subjectEnvelope)
		if !ok || env.subjectID != sid {
			var zero M
			return zero, false
		}
		v, ok := env.value.(X)
		if !ok {
			var zero M
			return zero, false
		}
		return tag(v), true
	}}}}
}

// SelectingAnything adds a catch-all clause matching any raw message.
// Because it matches everything, it should normally be composed with the
// lowest precedence (added last via Merge).
func SelectingAnything[M any](tag func(interface{}) M) Selector[M] {
	return Selector[M]{clauses: []Clause[M]{{match: func(raw interface{}) (M, bool) {
		return tag(raw), true
	}}}}
}

// ProcessDown is the one-shot death notification delivered to a monitor's
// owner when the monitored Pid dies.
type ProcessDown struct {
	Ref    MonitorRef
	Pid    Pid
	Reason ExitReason
}

type downEnvelope struct {
	ref    MonitorRef
	pid    Pid
	reason ExitReason
}

// SelectingProcessDown adds a clause matching the ProcessDown for ref.
func SelectingProcessDown[M any](ref MonitorRef, tag func(ProcessDown) M) Selector[M] {
	return Selector[M]{clauses: []Clause[M]{{match: func(raw interface{}) (M, bool) {
		env, ok := raw.(downEnvelope)
		if !ok || env.ref != ref {
			var zero M
			return zero, false
		}
		return tag(ProcessDown{Ref: env.ref, Pid: env.pid, Reason: env.reason}), true
	}}}}
}

// Tuple3 is the generic shape of the "raw 3-tuple starting with an atom"
// pattern the wire-level system-message protocol uses (see the actor
// package's sysmsg.go).
type Tuple3 struct {
	Atom   string
	Second interface{}
	Third  interface{}
}

type tuple3Envelope Tuple3

// SelectingRecord3 adds a clause matching a raw 3-tuple whose first element
// equals atom, decoding the remaining two elements via decode.
func SelectingRecord3[M any](atom string, decode func(second, third interface{}) (M, bool)) Selector[M] {
	return Selector[M]{clauses: []Clause[M]{{match: func(raw interface{}) (M, bool) {
		env, ok := raw.(tuple3Envelope)
		if !ok || env.Atom != atom {
			var zero M
			return zero, false
		}
		return decode(env.Second, env.Third)
	}}}}
}

// Exit is the typed notification a trapping task receives about a linked
// peer's death in place of that peer's signal terminating it.
type Exit struct {
	Pid    Pid
	Reason ExitReason
}

type exitEnvelope struct {
	pid    Pid
	reason ExitReason
}

// SelectingExit adds a clause matching trapped Exit signals about linked
// peers. Pair with System.TrapExits to enable delivery.
func SelectingExit[M any](tag func(Exit) M) Selector[M] {
	return Selector[M]{clauses: []Clause[M]{{match: func(raw interface{}) (M, bool) {
		env, ok := raw.(exitEnvelope)
		if !ok {
			var zero M
			return zero, false
		}
		return tag(Exit{Pid: env.pid, Reason: env.reason}), true
	}}}}
}

type terminateEnvelope struct {
	reason ExitReason
}

// SelectingTerminate adds a clause matching a termination request sent to
// this task itself via System.SendExit. Used by the actor package to
// implement supervised shutdown (spec.md 4.E: "send Exit(Normal) to the
// child's Pid").
func SelectingTerminate[M any](tag func(ExitReason) M) Selector[M] {
	return Selector[M]{clauses: []Clause[M]{{match: func(raw interface{}) (M, bool) {
		env, ok := raw.(terminateEnvelope)
		if !ok {
			var zero M
			return zero, false
		}
		return tag(env.reason), true
	}}}}
}

// Merge composes two selectors of the same type, preserving a's clauses
// ahead of b's: if a single message matches a clause from both, a's wins.
func Merge[M any](a, b Selector[M]) Selector[M] {
	out := make([]Clause[M], 0, len(a.clauses)+len(b.clauses))
	out = append(out, a.clauses...)
	out = append(out, b.clauses...)
	return Selector[M]{clauses: out}
}

// MapSelector transforms every value a selector would produce with f,
// preserving clause order (and thus precedence).
func MapSelector[M any, N any](sel Selector[M], f func(M) N) Selector[N] {
	out := make([]Clause[N], len(sel.clauses))
	for i, c := range sel.clauses {
		c := c
		out[i] = Clause[N]{match: func(raw interface{}) (N, bool) {
			v, ok := c.match(raw)
			if !ok {
				var zero N
				return zero, false
			}
			return f(v), true
		}}
	}
	return Selector[N]{clauses: out}
}
