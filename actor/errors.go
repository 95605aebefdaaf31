package actor

import (
	"fmt"

	"github.com/lguibr/actorforge/process"
)

// StartError is returned by Start when the spawned child fails to
// complete its init handshake. It is a kind-tagged struct, consistent
// with this module's ExitReason/Next/InitResult style.
type StartError struct {
	kind    startErrorKind
	reason  process.ExitReason
	dynamic interface{}
}

type startErrorKind int

const (
	startErrInitTimeout startErrorKind = iota
	startErrInitFailed
	startErrInitCrashed
)

// InitTimeout reports that init() did not complete within the timeout.
func InitTimeout() StartError { return StartError{kind: startErrInitTimeout} }

// InitFailed reports that init() returned Failed(reason), wrapping it in
// the same ExitReason shape a crash or explicit Stop would carry.
func InitFailed(reason process.ExitReason) StartError {
	return StartError{kind: startErrInitFailed, reason: reason}
}

// InitCrashed reports that init() panicked before returning a result.
func InitCrashed(dynamic interface{}) StartError {
	return StartError{kind: startErrInitCrashed, dynamic: dynamic}
}

func (e StartError) Error() string {
	switch e.kind {
	case startErrInitTimeout:
		return "actor: init timed out"
	case startErrInitFailed:
		return fmt.Sprintf("actor: init failed: %v", e.reason)
	case startErrInitCrashed:
		return fmt.Sprintf("actor: init crashed: %v", e.dynamic)
	default:
		return "actor: start error"
	}
}

// IsInitTimeout reports whether e is an InitTimeout.
func (e StartError) IsInitTimeout() bool { return e.kind == startErrInitTimeout }

// IsInitFailed reports whether e is an InitFailed, and its reason.
func (e StartError) IsInitFailed() (process.ExitReason, bool) {
	return e.reason, e.kind == startErrInitFailed
}

// IsInitCrashed reports whether e is an InitCrashed, and its payload.
func (e StartError) IsInitCrashed() (interface{}, bool) {
	return e.dynamic, e.kind == startErrInitCrashed
}
