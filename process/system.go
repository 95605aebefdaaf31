package process

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// task is the internal record for a live process: its mailbox, trap-exits
// flag and bookkeeping. Owned exclusively by the System's registry and the
// task's own goroutine.
type task struct {
	pid       Pid
	mailbox   *Mailbox
	trapExits atomic.Bool
}

// System is the runtime substrate: it owns the process table, link and
// monitor bookkeeping, and is the thing every Pid is implicitly scoped to.
// It plays the role bollywood.Engine plays in the teacher codebase,
// generalised from a fixed Actor interface to typed Subjects/Selectors.
type System struct {
	mu      sync.RWMutex
	tasks   map[uint64]*task
	nextPID uint64

	linksMu sync.Mutex
	links   map[uint64]map[uint64]struct{}

	monitorsMu sync.Mutex
	monitors   map[uint64]*monitorEntry   // keyed by MonitorRef.id
	byTarget   map[uint64]map[uint64]bool // target pid id -> set of ref ids

	nextCallID uint64
}

// NewSystem creates an empty process runtime.
func NewSystem() *System {
	return &System{
		tasks:    make(map[uint64]*task),
		links:    make(map[uint64]map[uint64]struct{}),
		monitors: make(map[uint64]*monitorEntry),
		byTarget: make(map[uint64]map[uint64]bool),
	}
}

func (s *System) allocPid() Pid {
	return Pid{id: atomic.AddUint64(&s.nextPID, 1)}
}

func (s *System) registerTask(t *task) {
	s.mu.Lock()
	s.tasks[t.pid.id] = t
	s.mu.Unlock()
}

func (s *System) lookup(pid Pid) (*task, bool) {
	s.mu.RLock()
	t, ok := s.tasks[pid.id]
	s.mu.RUnlock()
	return t, ok
}

// IsAlive reports whether pid refers to a currently registered task. A Pid
// that was never spawned is never alive.
func (s *System) IsAlive(pid Pid) bool {
	_, ok := s.lookup(pid)
	return ok
}

// Start spawns a new task running fn in its own goroutine and returns its
// Pid immediately (the handshake, if any, is the caller's responsibility —
// see the actor package for the init handshake built on top of this).
// When linked is true, a bidirectional link is installed against parent
// before fn begins running; parent must itself be a live task (the zero
// Pid means "no parent", used for root tasks).
//
// fn must return the ExitReason the task terminated with on a normal
// return. A panic inside fn is recovered and reported as Abnormal(panic
// value); Kill unwinds fn via a special panic caught here, reported as
// Killed (or whatever reason was propagated from a non-trapping linked
// peer's death).
func (s *System) Start(parent Pid, linked bool, fn func(self Pid, mb *Mailbox) ExitReason) Pid {
	pid := s.allocPid()
	t := &task{pid: pid, mailbox: newMailbox()}
	s.registerTask(t)

	if linked && !parent.IsZero() {
		s.link(parent, pid)
	}

	go s.runTask(t, fn)
	return pid
}

func (s *System) runTask(t *task, fn func(Pid, *Mailbox) ExitReason) {
	reason := Normal()
	defer func() {
		if r := recover(); r != nil {
			if pk, ok := r.(processKilled); ok {
				reason = pk.reason
			} else {
				reason = Abnormal(r)
				logf("process %s crashed: %v\n%s", t.pid, r, debug.Stack())
			}
		}
		s.taskExited(t, reason)
	}()
	reason = fn(t.pid, t.mailbox)
}

func (s *System) taskExited(t *task, reason ExitReason) {
	s.mu.Lock()
	delete(s.tasks, t.pid.id)
	s.mu.Unlock()

	// Monitors: one-shot, deliver ProcessDown to every watcher and drop them.
	s.monitorsMu.Lock()
	refs := s.byTarget[t.pid.id]
	delete(s.byTarget, t.pid.id)
	watchers := make([]*monitorEntry, 0, len(refs))
	for refID := range refs {
		if e, ok := s.monitors[refID]; ok {
			watchers = append(watchers, e)
			delete(s.monitors, refID)
		}
	}
	s.monitorsMu.Unlock()
	for _, w := range watchers {
		s.deliverDown(w, t.pid, reason)
	}

	// Links: notify or propagate to peers, then remove the link.
	s.linksMu.Lock()
	peers := s.links[t.pid.id]
	delete(s.links, t.pid.id)
	for peerID := range peers {
		if set, ok := s.links[peerID]; ok {
			delete(set, t.pid.id)
		}
	}
	s.linksMu.Unlock()

	for peerID := range peers {
		peerTask, ok := s.lookup(Pid{id: peerID})
		if !ok {
			continue
		}
		if peerTask.trapExits.Load() {
			peerTask.mailbox.push(exitEnvelope{pid: t.pid, reason: reason})
		} else if !reason.IsNormal() {
			peerTask.mailbox.forceKill(reason)
		}
	}
}

func (s *System) link(a, b Pid) {
	s.linksMu.Lock()
	defer s.linksMu.Unlock()
	if s.links[a.id] == nil {
		s.links[a.id] = make(map[uint64]struct{})
	}
	if s.links[b.id] == nil {
		s.links[b.id] = make(map[uint64]struct{})
	}
	s.links[a.id][b.id] = struct{}{}
	s.links[b.id][a.id] = struct{}{}
}

// TrapExits enables exit trapping for self and returns a Selector
// matching Exit notifications about self's linked peers.
func (s *System) TrapExits(self Pid) Selector[Exit] {
	if t, ok := s.lookup(self); ok {
		t.trapExits.Store(true)
	}
	return SelectingExit[Exit](func(e Exit) Exit { return e })
}

// Monitor starts observing target on behalf of owner. If target is
// already dead, a ProcessDown with reason NoProc is delivered to owner's
// mailbox immediately.
func (s *System) Monitor(owner, target Pid) MonitorRef {
	ref := newMonitorRef()

	if _, alive := s.lookup(target); !alive {
		if ownerTask, ok := s.lookup(owner); ok {
			ownerTask.mailbox.push(downEnvelope{ref: ref, pid: target, reason: NoProc()})
		}
		return ref
	}

	entry := &monitorEntry{ref: ref, owner: owner, target: target}
	s.monitorsMu.Lock()
	s.monitors[ref.id] = entry
	if s.byTarget[target.id] == nil {
		s.byTarget[target.id] = make(map[uint64]bool)
	}
	s.byTarget[target.id][ref.id] = true
	s.monitorsMu.Unlock()
	return ref
}

// Demonitor removes the subscription for ref. When flush is true, any
// already-enqueued ProcessDown for ref is purged from the owner's mailbox.
func (s *System) Demonitor(ref MonitorRef, flush bool) {
	s.monitorsMu.Lock()
	entry, ok := s.monitors[ref.id]
	if ok {
		delete(s.monitors, ref.id)
		if set := s.byTarget[entry.target.id]; set != nil {
			delete(set, ref.id)
		}
	}
	s.monitorsMu.Unlock()

	if !ok || !flush {
		return
	}
	if ownerTask, alive := s.lookup(entry.owner); alive {
		ownerTask.mailbox.removeMatching(func(raw interface{}) bool {
			env, ok := raw.(downEnvelope)
			return ok && env.ref == ref
		})
	}
}

func (s *System) deliverDown(entry *monitorEntry, pid Pid, reason ExitReason) {
	if ownerTask, ok := s.lookup(entry.owner); ok {
		ownerTask.mailbox.push(downEnvelope{ref: entry.ref, pid: pid, reason: reason})
	}
}

func (s *System) deliverSubject(owner Pid, subjectID uint64, value interface{}) {
	if t, ok := s.lookup(owner); ok {
		t.mailbox.push(subjectEnvelope{subjectID: subjectID, value: value})
	}
}

// Kill asynchronously terminates pid with reason Killed. Non-trappable:
// even a task that has called TrapExits is unwound, matching the spec's
// requirement that kill cannot be masked.
func (s *System) Kill(pid Pid) {
	if t, ok := s.lookup(pid); ok {
		t.mailbox.forceKill(Killed())
	}
}

// SendExit delivers an exit signal to pid. A task that calls TrapExits on
// itself and composes SelectingTerminate into its selector observes this
// as a typed value and may act on it (e.g. stop gracefully); this
// implementation always makes SelectingTerminate available so that
// "send Exit(Normal) to the child's Pid" (spec.md 4.E) is observable by
// any actor-package task without additional ceremony.
func (s *System) SendExit(pid Pid, reason ExitReason) {
	if t, ok := s.lookup(pid); ok {
		t.mailbox.push(terminateEnvelope{reason: reason})
	}
}

// SendRecord3 delivers a raw (atom, second, third) tuple to pid's mailbox,
// matched on the receiving end by SelectingRecord3. This is the wire-level
// primitive the actor package's system-message protocol (GetState,
// GetStatus, Suspend, Resume) is built on, per spec.md 4.B/6's framing of
// system messages as raw 3-tuples rather than a bespoke envelope type.
func (s *System) SendRecord3(pid Pid, atom string, second, third interface{}) {
	if t, ok := s.lookup(pid); ok {
		t.mailbox.push(tuple3Envelope{Atom: atom, Second: second, Third: third})
	}
}

// RegisterCaller allocates a Pid and Mailbox for a plain goroutine (e.g.
// a test, an HTTP handler, main) that wants to use Call/Select without
// running a full actor loop. The returned release func must be invoked
// once the caller is done, deregistering the shadow Pid.
func (s *System) RegisterCaller() (Pid, *Mailbox, func()) {
	pid := s.allocPid()
	t := &task{pid: pid, mailbox: newMailbox()}
	s.registerTask(t)
	release := func() { s.taskExited(t, Normal()) }
	return pid, t.mailbox, release
}

func (s *System) nextCallRef() callRef {
	return callRef{id: atomic.AddUint64(&s.nextCallID, 1)}
}

func logf(format string, args ...interface{}) {
	log(fmt.Sprintf(format, args...))
}
