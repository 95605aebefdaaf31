package supervisor

import (
	"fmt"
	"time"

	"github.com/lguibr/actorforge/actor"
	"github.com/lguibr/actorforge/process"
)

type supMsgKind int

const (
	msgChildExit supMsgKind = iota
	msgRetryDone
	msgListChildren
	msgGetChild
	msgStopChild
	msgStopBookkeeping
)

type restartOutcome struct {
	idx    int
	pid    process.Pid
	argIn  interface{}
	argOut interface{}
	err    error
}

// supMsg is this package's single user-message type, kind-tagged like
// the rest of this module rather than split into a sealed interface
// hierarchy. Only the fields relevant to kind are populated.
type supMsg struct {
	kind supMsgKind

	exitPid    process.Pid
	exitReason process.ExitReason

	retryResults []restartOutcome

	listFrom process.From[[]ChildInfo]

	getChildID   string
	getChildFrom process.From[ChildInfo]

	stopChildID string
	stopFrom    process.From[error]
	stopIdx     int
}

type childState struct {
	spec     ChildSpec
	pid      process.Pid
	argIn    interface{}
	restarts int
	alive    bool
}

type supState struct {
	sys       *process.System
	self      process.Pid
	inbox     process.Subject[supMsg]
	opts      Options
	intensity *intensity
	children  []childState
}

// Start spawns a supervisor actor, which in turn builds every child
// described by buildChildren (in order) as part of its own init
// handshake: if any child fails to start, the whole supervisor fails to
// start (InitFailed), exactly as an OTP supervisor refuses to come up
// with a broken child spec. buildChildren receives a fresh Children
// seeded with the initial composed argument (Unit{}, the spec's "unit"
// default) and chains Add calls onto it; see Worker and Children.Add for
// how the argument threads from one child's returning into the next
// child's start.
func Start(sys *process.System, parent process.Pid, opts Options, buildChildren func(*Children) *Children) (process.Pid, process.Subject[supMsg], error) {
	spec := actor.StartSpec[*supState, supMsg]{
		Module:      "supervisor",
		InitTimeout: opts.InitTimeout,
		Init: func(self, parent process.Pid, inbox process.Subject[supMsg]) actor.InitResult[*supState, supMsg] {
			st := &supState{
				sys:       sys,
				self:      self,
				inbox:     inbox,
				opts:      opts,
				intensity: newIntensity(opts.MaxFrequency, opts.Period),
			}

			cb := buildChildren(newChildren(sys, self, Unit{}))
			if err, failed := cb.Failed(); failed {
				return actor.Failed[*supState, supMsg](err)
			}
			st.children = cb.built

			exitSel := process.MapSelector(sys.TrapExits(self), func(e process.Exit) supMsg {
				return supMsg{kind: msgChildExit, exitPid: e.Pid, exitReason: e.Reason}
			})
			reqSel := process.Selecting(inbox, func(m supMsg) supMsg { return m })
			userSel := process.Merge(exitSel, reqSel)

			return actor.Ready[*supState, supMsg](st, userSel)
		},
		Handler: handleSupMsg,
	}
	return actor.Start(sys, parent, spec)
}

func handleSupMsg(msg supMsg, st *supState) actor.Next[*supState] {
	switch msg.kind {
	case msgChildExit:
		return onChildExit(msg, st)
	case msgRetryDone:
		return onRetryDone(msg, st)
	case msgListChildren:
		msg.listFrom.Reply(snapshotChildren(st))
		return actor.Continue(st)
	case msgGetChild:
		info, _ := findChild(st, msg.getChildID)
		msg.getChildFrom.Reply(info)
		return actor.Continue(st)
	case msgStopChild:
		return onStopChild(msg, st)
	case msgStopBookkeeping:
		st.children[msg.stopIdx].alive = false
		return actor.Continue(st)
	default:
		return actor.Continue(st)
	}
}

// onStopChild asks one named child to terminate gracefully, honouring its
// ChildSpec.Shutdown policy, without blocking the supervisor's own mailbox
// loop: the wait (and any kill escalation) runs in a background goroutine,
// matching restartChildren's async-retry pattern.
func onStopChild(msg supMsg, st *supState) actor.Next[*supState] {
	idx := -1
	for i, c := range st.children {
		if c.spec.ID == msg.stopChildID {
			idx = i
			break
		}
	}
	if idx < 0 {
		msg.stopFrom.Reply(fmt.Errorf("unknown child %q", msg.stopChildID))
		return actor.Continue(st)
	}
	if !st.children[idx].alive {
		msg.stopFrom.Reply(nil)
		return actor.Continue(st)
	}

	pid := st.children[idx].pid
	shutdown := st.children[idx].spec.Shutdown.orDefault()
	inbox := st.inbox
	go func(idx int, pid process.Pid, shutdown Shutdown, from process.From[error]) {
		shutdownChild(st.sys, pid, shutdown)
		from.Reply(nil)
		inbox.Send(supMsg{kind: msgStopBookkeeping, stopIdx: idx})
	}(idx, pid, shutdown, msg.stopFrom)
	return actor.Continue(st)
}

// shutdownChild asks pid to exit (Exit(Normal), observed via
// SelectingTerminate) and waits according to shutdown's policy, escalating
// to Kill if the child outlives its grace window.
func shutdownChild(sys *process.System, pid process.Pid, shutdown Shutdown) {
	switch shutdown.kind {
	case shutdownBrutalKill:
		sys.Kill(pid)
		waitForExit(sys, pid, 2*time.Second)
	case shutdownInfinity:
		sys.SendExit(pid, process.Normal())
		waitForExit(sys, pid, 24*365*time.Hour)
	default:
		sys.SendExit(pid, process.Normal())
		if !waitForExit(sys, pid, shutdown.timeout) {
			sys.Kill(pid)
			waitForExit(sys, pid, 2*time.Second)
		}
	}
}

// waitForExit blocks up to timeout for pid to leave the process table,
// reporting whether it did.
func waitForExit(sys *process.System, pid process.Pid, timeout time.Duration) bool {
	if !sys.IsAlive(pid) {
		return true
	}
	owner, mb, release := sys.RegisterCaller()
	defer release()
	ref := sys.Monitor(owner, pid)
	_, ok := process.Select(mb, process.SelectingProcessDown[process.ProcessDown](ref, func(pd process.ProcessDown) process.ProcessDown { return pd }), timeout)
	return ok
}

func onChildExit(msg supMsg, st *supState) actor.Next[*supState] {
	idx := indexOfPid(st, msg.exitPid)
	if idx < 0 {
		return actor.Continue(st)
	}
	if msg.exitReason.IsNormal() {
		st.children[idx].alive = false
		return actor.Continue(st)
	}

	if !st.intensity.record(time.Now()) {
		return actor.Stop[*supState](process.Abnormal("restart intensity exceeded"))
	}

	victims := victimIndices(st, idx)
	specs := make([]ChildSpec, len(victims))
	oldPids := make([]process.Pid, len(victims))
	for i, v := range victims {
		oldPids[i] = st.children[v].pid
		st.children[v].alive = false
		specs[i] = st.children[v].spec
	}
	initialArg := st.children[victims[0]].argIn
	go restartChildren(st.sys, st.self, victims, specs, oldPids, initialArg, st.inbox)
	return actor.Continue(st)
}

func onRetryDone(msg supMsg, st *supState) actor.Next[*supState] {
	for _, r := range msg.retryResults {
		if r.err != nil {
			return actor.Stop[*supState](process.Abnormal(fmt.Sprintf("child %q failed to restart: %v", st.children[r.idx].spec.ID, r.err)))
		}
		st.children[r.idx].pid = r.pid
		st.children[r.idx].argIn = r.argIn
		st.children[r.idx].alive = true
		st.children[r.idx].restarts++
	}
	return actor.Continue(st)
}

// restartChildren runs outside the supervisor's own mailbox loop so that
// GetState/GetStatus and other control traffic keep getting answered
// while restart spawns (which may block on a child's own init handshake)
// are in flight, then reports back via inbox once every victim has been
// restarted in original order, or as soon as one fails to start (later
// victims are then not attempted, and onRetryDone stops the supervisor
// rather than retrying). The composed argument is re-threaded from
// scratch starting at argIn (the first victim's argument when it was last
// started), so a restarted chain rebuilds exactly the argument sequence a
// fresh Children build-up would have produced from that point on.
//
// Every victim, not just the one that actually crashed, is shut down
// (honouring its own ChildSpec.Shutdown policy) before its replacement is
// spawned: in OneForAll and RestForOne scope the siblings in victims are
// still alive and running under their old Pid, and starting a new
// instance without first stopping the old one would leave it as an
// unreachable, un-supervised duplicate. oldPids[i] is the zero Pid (or
// already dead) for the child that crashed on its own, so shutting it
// down here is a harmless no-op for that one.
func restartChildren(sys *process.System, self process.Pid, victims []int, specs []ChildSpec, oldPids []process.Pid, argIn interface{}, inbox process.Subject[supMsg]) {
	results := make([]restartOutcome, 0, len(specs))
	arg := argIn
	for i, spec := range specs {
		shutdownChild(sys, oldPids[i], spec.Shutdown.orDefault())

		thisArgIn := arg
		pid, argOut, err := spec.Start(sys, self, thisArgIn)
		if err != nil {
			results = append(results, restartOutcome{idx: victims[i], argIn: thisArgIn, err: err})
			break
		}
		results = append(results, restartOutcome{idx: victims[i], pid: pid, argIn: thisArgIn, argOut: argOut})
		arg = argOut
	}
	inbox.Send(supMsg{kind: msgRetryDone, retryResults: results})
}

func victimIndices(st *supState, idx int) []int {
	switch st.opts.RestartScope {
	case OneForOne:
		return []int{idx}
	case OneForAll:
		out := make([]int, len(st.children))
		for i := range st.children {
			out[i] = i
		}
		return out
	default: // RestForOne
		out := make([]int, 0, len(st.children)-idx)
		for i := idx; i < len(st.children); i++ {
			out = append(out, i)
		}
		return out
	}
}

func indexOfPid(st *supState, pid process.Pid) int {
	for i, c := range st.children {
		if c.pid == pid {
			return i
		}
	}
	return -1
}

func snapshotChildren(st *supState) []ChildInfo {
	out := make([]ChildInfo, len(st.children))
	for i, c := range st.children {
		out[i] = ChildInfo{ID: c.spec.ID, Pid: c.pid, Kind: c.spec.Kind, Restarts: c.restarts, Alive: c.alive}
	}
	return out
}

func findChild(st *supState, id string) (ChildInfo, bool) {
	for _, c := range st.children {
		if c.spec.ID == id {
			return ChildInfo{ID: c.spec.ID, Pid: c.pid, Kind: c.spec.Kind, Restarts: c.restarts, Alive: c.alive}, true
		}
	}
	return ChildInfo{}, false
}

// ListChildren requests a snapshot of every child currently known to the
// supervisor at target.
func ListChildren(sys *process.System, target process.Subject[supMsg], callerPid process.Pid, callerMB *process.Mailbox, timeout time.Duration) ([]ChildInfo, error) {
	return process.TryCall(sys, callerPid, callerMB, target, func(from process.From[[]ChildInfo]) supMsg {
		return supMsg{kind: msgListChildren, listFrom: from}
	}, timeout)
}

// GetChild requests the current snapshot of one named child.
func GetChild(sys *process.System, target process.Subject[supMsg], id string, callerPid process.Pid, callerMB *process.Mailbox, timeout time.Duration) (ChildInfo, error) {
	return process.TryCall(sys, callerPid, callerMB, target, func(from process.From[ChildInfo]) supMsg {
		return supMsg{kind: msgGetChild, getChildID: id, getChildFrom: from}
	}, timeout)
}

// StopChild asks the supervisor at target to terminate the named child,
// honouring that child's ChildSpec.Shutdown policy (graceful Exit(Normal)
// up to a grace window, then Kill). The child is not restarted: this is
// the dynamic removal counterpart to OTP's supervisor:terminate_child/2.
func StopChild(sys *process.System, target process.Subject[supMsg], id string, callerPid process.Pid, callerMB *process.Mailbox, timeout time.Duration) error {
	result, callErr := process.TryCall(sys, callerPid, callerMB, target, func(from process.From[error]) supMsg {
		return supMsg{kind: msgStopChild, stopChildID: id, stopFrom: from}
	}, timeout)
	if callErr != nil {
		return callErr
	}
	return result
}
