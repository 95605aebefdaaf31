package actor

import (
	"time"

	"github.com/lguibr/actorforge/process"
)

// StartSpec bundles everything Start needs to spawn and run a child:
// its module name (surfaced in StatusInfo, useful for logging and
// supervisor diagnostics), its init and message handler, and how long the
// parent is willing to wait for the init handshake.
type StartSpec[S any, M any] struct {
	Module      string
	Init        InitFunc[S, M]
	Handler     Handler[S, M]
	InitTimeout time.Duration
	// Restarts is folded verbatim into StatusInfo.Restarts. The supervisor
	// package does not set it; a start function that counts its own
	// restarts passes that count here so GetStatus reflects it.
	Restarts int
}

type ackKind int

const (
	ackReady ackKind = iota
	ackFailed
	ackCrashed
)

type ack struct {
	kind   ackKind
	reason interface{}
	inbox  interface{}
}

type frameKind int

const (
	frameUser frameKind = iota
	frameSystem
	frameTerminate
	frameUnexpected
)

type frame[M any] struct {
	kind frameKind
	user M
	sys  SystemMessage
	term process.ExitReason
	raw  interface{}
}

// composeSelector builds the run loop's selector with the precedence
// order system-then-terminate-then-user-then-catchall: control-plane
// messages always win a race against user traffic, and anything
// unrecognised falls through to the catch-all rather than languishing in
// the mailbox (resolving the ambiguity between spec.md 4.D's prose
// ordering and its stated override rule in favour of the override rule).
// When includeUser is false (Suspended mode) the user and catch-all
// clauses are both omitted, so user messages simply remain queued until
// Resume.
func composeSelector[S any, M any](sys *process.System, self process.Pid, userSel process.Selector[M], includeUser bool) process.Selector[frame[M]] {
	sysClause := process.MapSelector(systemSelector(sys, self), func(sm SystemMessage) frame[M] {
		return frame[M]{kind: frameSystem, sys: sm}
	})
	termClause := process.MapSelector(process.SelectingTerminate[process.ExitReason](func(r process.ExitReason) process.ExitReason { return r }), func(r process.ExitReason) frame[M] {
		return frame[M]{kind: frameTerminate, term: r}
	})
	out := process.Merge(sysClause, termClause)

	if includeUser {
		userClause := process.MapSelector(userSel, func(m M) frame[M] {
			return frame[M]{kind: frameUser, user: m}
		})
		out = process.Merge(out, userClause)

		catchall := process.SelectingAnything[frame[M]](func(raw interface{}) frame[M] {
			return frame[M]{kind: frameUnexpected, raw: raw}
		})
		out = process.Merge(out, catchall)
	}
	return out
}

// Start spawns a child task running spec's init/handler loop, linked to
// parent, and blocks until the init handshake completes: it returns the
// child's Pid and inbound Subject on success, or a StartError describing
// why init did not produce a running actor (spec.md 6's InitTimeout,
// InitFailed, InitCrashed).
func Start[S any, M any](sys *process.System, parent process.Pid, spec StartSpec[S, M]) (process.Pid, process.Subject[M], error) {
	timeout := spec.InitTimeout
	if timeout <= 0 {
		timeout = DefaultInitTimeout
	}

	ackCh := make(chan ack, 1)

	pid := sys.Start(parent, true, func(self process.Pid, mb *process.Mailbox) process.ExitReason {
		return runActor(sys, self, parent, mb, spec, ackCh)
	})

	select {
	case a := <-ackCh:
		switch a.kind {
		case ackReady:
			return pid, a.inbox.(process.Subject[M]), nil
		case ackFailed:
			return process.Pid{}, process.Subject[M]{}, InitFailed(process.Abnormal(a.reason))
		default:
			return process.Pid{}, process.Subject[M]{}, InitCrashed(a.reason)
		}
	case <-time.After(timeout):
		sys.Kill(pid)
		return process.Pid{}, process.Subject[M]{}, InitTimeout()
	}
}

func runActor[S any, M any](sys *process.System, self process.Pid, parent process.Pid, mb *process.Mailbox, spec StartSpec[S, M], ackCh chan ack) (reason process.ExitReason) {
	inbox := process.NewSubject[M](sys, self)

	initResult, crashed := runInit(spec.Init, self, parent, inbox)
	if crashed != nil {
		ackCh <- ack{kind: ackCrashed, reason: crashed}
		return process.Abnormal(crashed)
	}
	if !initResult.ready {
		ackCh <- ack{kind: ackFailed, reason: initResult.reason}
		return process.Abnormal(initResult.reason)
	}
	ackCh <- ack{kind: ackReady, inbox: inbox}

	state := initResult.state
	userSel := initResult.selector
	mode := Running
	restarts := spec.Restarts
	debug := DebugState{}

	for {
		sel := composeSelector[S, M](sys, self, userSel, mode == Running)
		fr := process.SelectForever(mb, sel)

		switch fr.kind {
		case frameSystem:
			switch sm := fr.sys.(type) {
			case GetState:
				sm.Reply(state)
			case GetStatus:
				sm.Reply(StatusInfo{
					Module:   spec.Module,
					Parent:   parent,
					Mode:     mode,
					Debug:    debug,
					State:    state,
					Restarts: restarts,
				})
			case Suspend:
				mode = Suspended
				sm.Reply()
			case Resume:
				mode = Running
				sm.Reply()
			}
		case frameTerminate:
			return fr.term
		case frameUnexpected:
			logf("actor %s (%s): unexpected message %v", self, spec.Module, fr.raw)
		case frameUser:
			next := spec.Handler(fr.user, state)
			if next.stop {
				return next.reason
			}
			state = next.state
		}
	}
}

func runInit[S any, M any](init InitFunc[S, M], self, parent process.Pid, inbox process.Subject[M]) (result InitResult[S, M], crashed interface{}) {
	defer func() {
		if r := recover(); r != nil {
			crashed = r
		}
	}()
	result = init(self, parent, inbox)
	return result, nil
}
