package supervisor

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/lguibr/actorforge/actor"
	"github.com/lguibr/actorforge/process"
)

type pingMsg struct {
	from process.From[string]
}

// childSubjects records the inbox Subject each test worker's start
// function got back from actor.Start, keyed by Pid, so a test can reach a
// child it only knows from a ChildInfo snapshot.
var childSubjects sync.Map

func recordSubject[M any](pid process.Pid, subject process.Subject[M], err error) (process.Pid, process.Subject[M], error) {
	if err == nil {
		childSubjects.Store(pid, subject)
	}
	return pid, subject, err
}

func subjectOf[M any](pid process.Pid) process.Subject[M] {
	s, _ := childSubjects.Load(pid)
	return s.(process.Subject[M])
}

// newWorkerStarter builds a ChildSpec for a trivial actor that replies
// "pong" to any ping and crashes on demand (crash is read once then
// reset, so a restarted instance starts out healthy again). It needs no
// composed argument, so both ArgIn and ArgOut are Unit.
func newWorkerStarter(id string, crashNext *atomic.Bool) ChildSpec {
	return Worker[Unit, Unit, pingMsg](id, func(sys *process.System, parent process.Pid, _ Unit) (process.Pid, process.Subject[pingMsg], error) {
		return recordSubject[pingMsg](actor.Start(sys, parent, actor.StartSpec[int, pingMsg]{
			Module: id,
			Init: func(self, parent process.Pid, inbox process.Subject[pingMsg]) actor.InitResult[int, pingMsg] {
				if crashNext != nil && crashNext.Load() {
					crashNext.Store(false)
					return actor.Failed[int, pingMsg]("boom at init")
				}
				sel := process.Selecting(inbox, func(m pingMsg) pingMsg { return m })
				return actor.Ready[int, pingMsg](0, sel)
			},
			Handler: func(msg pingMsg, state int) actor.Next[int] {
				msg.from.Reply("pong")
				return actor.Continue(state + 1)
			},
		}))
	}).Build()
}

func newCrashingStarter(workerID string) ChildSpec {
	return Worker[Unit, Unit, pingMsg](workerID, func(sys *process.System, parent process.Pid, _ Unit) (process.Pid, process.Subject[pingMsg], error) {
		return recordSubject[pingMsg](actor.Start(sys, parent, actor.StartSpec[int, pingMsg]{
			Module: workerID,
			Init: func(self, parent process.Pid, inbox process.Subject[pingMsg]) actor.InitResult[int, pingMsg] {
				sel := process.Selecting(inbox, func(m pingMsg) pingMsg { return m })
				return actor.Ready[int, pingMsg](0, sel)
			},
			Handler: func(msg pingMsg, state int) actor.Next[int] {
				return actor.Stop[int](process.Abnormal(fmt.Sprintf("%s crashed", workerID)))
			},
		}))
	}).Build()
}

func TestSupervisorStartsAllChildren(t *testing.T) {
	defer goleak.VerifyNone(t)

	sys := process.NewSystem()
	supPid, subject, err := Start(sys, process.Pid{}, DefaultOptions(), func(c *Children) *Children {
		return c.Add(newWorkerStarter("a", nil)).Add(newWorkerStarter("b", nil))
	})
	require.NoError(t, err)
	defer sys.Kill(supPid)

	callerPid, callerMB, release := sys.RegisterCaller()
	defer release()

	children, err := ListChildren(sys, subject, callerPid, callerMB, time.Second)
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, "a", children[0].ID)
	assert.Equal(t, "b", children[1].ID)
	assert.True(t, children[0].Alive)
	assert.True(t, children[1].Alive)
}

func TestSupervisorFailsToStartWithBrokenChild(t *testing.T) {
	defer goleak.VerifyNone(t)

	alwaysFail := &atomic.Bool{}
	alwaysFail.Store(true)

	sys := process.NewSystem()
	_, _, err := Start(sys, process.Pid{}, DefaultOptions(), func(c *Children) *Children {
		return c.Add(newWorkerStarter("broken", alwaysFail))
	})
	require.Error(t, err)
}

// seededMsg lets a test drive a worker's reply without caring about its
// payload; seededWorker's actor state *is* the threaded argument, so
// GetState-ing it after a restart reveals exactly what argument it was
// started with.
type seededMsg struct {
	bump  bool
	crash bool
	from  process.From[int]
}

// newSeededWorker starts an actor whose state is seeded from the
// composed argument it receives (an int), replies with its current state
// on request, and optionally bumps it. Its Returning passes seed+1 to
// the next child, so a chain of these threads an incrementing counter
// exactly as spec.md's scenario 3 does.
func newSeededWorker(id string) *WorkerSpec[int, int, seededMsg] {
	return Worker[int, int, seededMsg](id, func(sys *process.System, parent process.Pid, seed int) (process.Pid, process.Subject[seededMsg], error) {
		return recordSubject[seededMsg](actor.Start(sys, parent, actor.StartSpec[int, seededMsg]{
			Module: id,
			Init: func(self, parent process.Pid, inbox process.Subject[seededMsg]) actor.InitResult[int, seededMsg] {
				sel := process.Selecting(inbox, func(m seededMsg) seededMsg { return m })
				return actor.Ready[int, seededMsg](seed, sel)
			},
			Handler: func(msg seededMsg, state int) actor.Next[int] {
				if msg.crash {
					return actor.Stop[int](process.Abnormal(fmt.Sprintf("%s crashed", id)))
				}
				if msg.bump {
					state++
				}
				msg.from.Reply(state)
				return actor.Continue(state)
			},
		}))
	}).Returning(func(seed int, _ process.Subject[seededMsg]) int { return seed + 1 })
}

func querySeeded(sys *process.System, subject process.Subject[seededMsg]) int {
	callerPid, callerMB, release := sys.RegisterCaller()
	defer release()
	out, err := process.TryCall(sys, callerPid, callerMB, subject, func(from process.From[int]) seededMsg {
		return seededMsg{from: from}
	}, time.Second)
	if err != nil {
		panic(err)
	}
	return out
}

func bumpSeeded(sys *process.System, subject process.Subject[seededMsg]) int {
	callerPid, callerMB, release := sys.RegisterCaller()
	defer release()
	out, err := process.TryCall(sys, callerPid, callerMB, subject, func(from process.From[int]) seededMsg {
		return seededMsg{bump: true, from: from}
	}, time.Second)
	if err != nil {
		panic(err)
	}
	return out
}

// TestRestForOneThreadsArgumentAcrossRestart exercises spec.md's scenario
// 3 literally: a, b, c form a chain where each worker's returning threads
// seed+1 into the next worker's start. After crashing b, rest-for-one
// restarts b and c: their freshly re-threaded seed values replace
// whatever state they had grown to before the crash, while a (never
// restarted) keeps the state it grew to on its own.
func TestRestForOneThreadsArgumentAcrossRestart(t *testing.T) {
	defer goleak.VerifyNone(t)

	sys := process.NewSystem()
	opts := DefaultOptions()
	opts.RestartScope = RestForOne

	aSpec := newSeededWorker("a")
	bSpec := newSeededWorker("b")
	cSpec := newSeededWorker("c")

	// Child a's ArgIn is Unit (it's first in the chain), so seed it at 0
	// via a thin adapter and thread 1 onward as b's argument.
	aAdapted := Worker[Unit, int, seededMsg]("a", func(sys *process.System, parent process.Pid, _ Unit) (process.Pid, process.Subject[seededMsg], error) {
		return aSpec.start(sys, parent, 0)
	}).Returning(func(_ Unit, subject process.Subject[seededMsg]) int { return 1 })

	supPid, subject, err := Start(sys, process.Pid{}, opts, func(c *Children) *Children {
		return c.Add(aAdapted.Build()).Add(bSpec.Build()).Add(cSpec.Build())
	})
	require.NoError(t, err)
	defer sys.Kill(supPid)

	callerPid, callerMB, release := sys.RegisterCaller()
	defer release()

	before, err := ListChildren(sys, subject, callerPid, callerMB, time.Second)
	require.NoError(t, err)
	require.Len(t, before, 3)

	aSubj := subjectOf[seededMsg](before[0].Pid)
	bSubj := subjectOf[seededMsg](before[1].Pid)
	cSubj := subjectOf[seededMsg](before[2].Pid)

	assert.Equal(t, 0, querySeeded(sys, aSubj), "a seeded from the unit default")
	assert.Equal(t, 1, querySeeded(sys, bSubj), "b seeded from a's returning")
	assert.Equal(t, 2, querySeeded(sys, cSubj), "c seeded from b's returning")

	// Grow a's own state well past its seed, so a restart-induced reset
	// would be unmistakable; a is never restarted, so this must survive.
	for i := 0; i < 5; i++ {
		bumpSeeded(sys, aSubj)
	}
	require.Equal(t, 5, querySeeded(sys, aSubj))

	// Crash b so rest-for-one restarts b and c.
	bSubj.Send(seededMsg{crash: true})

	var after []ChildInfo
	for i := 0; i < 200; i++ {
		after, err = ListChildren(sys, subject, callerPid, callerMB, time.Second)
		require.NoError(t, err)
		if after[1].Restarts > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, 1, after[1].Restarts)
	require.Equal(t, 1, after[2].Restarts)
	assert.Equal(t, 0, after[0].Restarts, "a must not be touched")
	assert.NotEqual(t, before[1].Pid, after[1].Pid)
	assert.NotEqual(t, before[2].Pid, after[2].Pid)

	newBSubj := subjectOf[seededMsg](after[1].Pid)
	newCSubj := subjectOf[seededMsg](after[2].Pid)

	assert.Equal(t, 5, querySeeded(sys, aSubj), "a's own counter must not reset")
	assert.Equal(t, 1, querySeeded(sys, newBSubj), "b's counter resets to its re-threaded seed")
	assert.Equal(t, 2, querySeeded(sys, newCSubj), "c's counter resets to its re-threaded seed")
}

func TestOneForOneRestartsOnlyFailedChild(t *testing.T) {
	defer goleak.VerifyNone(t)

	sys := process.NewSystem()
	opts := DefaultOptions()
	opts.RestartScope = OneForOne

	supPid, subject, err := Start(sys, process.Pid{}, opts, func(c *Children) *Children {
		return c.Add(newWorkerStarter("a", nil)).Add(newCrashingStarter("b"))
	})
	require.NoError(t, err)
	defer sys.Kill(supPid)

	callerPid, callerMB, release := sys.RegisterCaller()
	defer release()

	before, err := ListChildren(sys, subject, callerPid, callerMB, time.Second)
	require.NoError(t, err)

	bSubj := subjectOf[pingMsg](before[1].Pid)
	bSubj.Send(pingMsg{from: process.From[string]{}})

	var after []ChildInfo
	for i := 0; i < 200; i++ {
		after, err = ListChildren(sys, subject, callerPid, callerMB, time.Second)
		require.NoError(t, err)
		if after[1].Restarts > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	assert.Equal(t, 0, after[0].Restarts, "one-for-one must not touch sibling a")
	assert.Equal(t, 1, after[1].Restarts)
}

func TestStopChildTerminatesGracefullyAndStaysDown(t *testing.T) {
	defer goleak.VerifyNone(t)

	sys := process.NewSystem()
	supPid, subject, err := Start(sys, process.Pid{}, DefaultOptions(), func(c *Children) *Children {
		spec := newWorkerStarter("a", nil)
		spec.Shutdown = ShutdownTimeout(time.Second)
		return c.Add(spec)
	})
	require.NoError(t, err)
	defer sys.Kill(supPid)

	callerPid, callerMB, release := sys.RegisterCaller()
	defer release()

	before, err := ListChildren(sys, subject, callerPid, callerMB, time.Second)
	require.NoError(t, err)
	require.True(t, before[0].Alive)

	require.NoError(t, StopChild(sys, subject, "a", callerPid, callerMB, time.Second))

	for i := 0; i < 100 && sys.IsAlive(before[0].Pid); i++ {
		time.Sleep(time.Millisecond)
	}
	assert.False(t, sys.IsAlive(before[0].Pid), "child must actually exit once asked to stop")

	var after []ChildInfo
	for i := 0; i < 100; i++ {
		after, err = ListChildren(sys, subject, callerPid, callerMB, time.Second)
		require.NoError(t, err)
		if !after[0].Alive {
			break
		}
		time.Sleep(time.Millisecond)
	}
	assert.False(t, after[0].Alive, "a stopped child must not be silently restarted")
}

func TestStopChildUnknownIDReturnsError(t *testing.T) {
	defer goleak.VerifyNone(t)

	sys := process.NewSystem()
	supPid, subject, err := Start(sys, process.Pid{}, DefaultOptions(), func(c *Children) *Children {
		return c.Add(newWorkerStarter("a", nil))
	})
	require.NoError(t, err)
	defer sys.Kill(supPid)

	callerPid, callerMB, release := sys.RegisterCaller()
	defer release()

	err = StopChild(sys, subject, "nonexistent", callerPid, callerMB, time.Second)
	assert.Error(t, err)
}

func TestIntensityLimitStopsSupervisor(t *testing.T) {
	defer goleak.VerifyNone(t)

	sys := process.NewSystem()
	opts := Options{MaxFrequency: 1, Period: time.Minute, InitTimeout: time.Second, RestartScope: OneForOne}

	supPid, subject, err := Start(sys, process.Pid{}, opts, func(c *Children) *Children {
		return c.Add(newCrashingStarter("flaky"))
	})
	require.NoError(t, err)

	callerPid, callerMB, release := sys.RegisterCaller()
	defer release()

	monRef := sys.Monitor(callerPid, supPid)

	before, err := ListChildren(sys, subject, callerPid, callerMB, time.Second)
	require.NoError(t, err)
	firstSubj := subjectOf[pingMsg](before[0].Pid)
	firstSubj.Send(pingMsg{from: process.From[string]{}})

	// Wait for the restart to land, then crash the restarted instance to
	// exceed the budget of 1 restart per minute.
	var mid []ChildInfo
	for i := 0; i < 200; i++ {
		mid, err = ListChildren(sys, subject, callerPid, callerMB, time.Second)
		if err != nil {
			break // supervisor may already be gone if it overreacted
		}
		if mid[0].Restarts > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.NoError(t, err)
	require.Equal(t, 1, mid[0].Restarts)

	secondSubj := subjectOf[pingMsg](mid[0].Pid)
	secondSubj.Send(pingMsg{from: process.From[string]{}})

	down, ok := process.Select(callerMB, process.SelectingProcessDown[process.ProcessDown](monRef, func(pd process.ProcessDown) process.ProcessDown { return pd }), 2*time.Second)
	require.True(t, ok, "supervisor must give up once its restart intensity is exceeded")
	assert.Equal(t, process.ReasonAbnormal, down.Reason.Kind)
}
