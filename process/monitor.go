package process

import "sync/atomic"

var nextMonitorID uint64

// MonitorRef is a one-shot reference to an observation of another Pid,
// returned by System.Monitor.
type MonitorRef struct {
	id uint64
}

func newMonitorRef() MonitorRef {
	return MonitorRef{id: atomic.AddUint64(&nextMonitorID, 1)}
}

type monitorEntry struct {
	ref    MonitorRef
	owner  Pid
	target Pid
}
