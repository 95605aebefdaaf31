// Package process implements the substrate primitives of the actor runtime:
// process identity, typed subjects and selectors layered over an untyped
// mailbox, monitors, links and synchronous calls. Everything above this
// package (actor lifecycle, supervision) is built only on the contract
// exposed here.
package process

import "fmt"

// Pid is an opaque handle to a live or dead task. Equality and hashing are
// identity: two Pids compare equal iff they reference the same spawned
// task. Holding a Pid confers no ownership and no guarantee the task is
// still alive.
type Pid struct {
	id uint64
}

// String renders the Pid for logging/debugging purposes only.
func (p Pid) String() string {
	if p.id == 0 {
		return "<nil>"
	}
	return fmt.Sprintf("<%d>", p.id)
}

// IsZero reports whether p is the zero Pid, used to denote "no process"
// (e.g. a root task with no parent to link against).
func (p Pid) IsZero() bool {
	return p.id == 0
}
