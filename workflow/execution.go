package workflow

import "sync"

// execution holds the bookkeeping for one trigger firing. All fields are
// guarded by mu; the completed-check, merge-counter increment, and
// completed-insert happen under one critical section so a merge node fires
// exactly once no matter how its branches interleave.
type execution struct {
	id string

	// stopFlow executions (the STOP trigger) run even while the global
	// stop flag is set.
	stopFlow bool

	mu            sync.Mutex
	completed     map[string]struct{}
	mergeCounters map[string]int
	stopPath      map[string]struct{}
	sessionStop   bool
	activeTasks   int
}

func newExecution(id string, stopFlow bool) *execution {
	return &execution{
		id:            id,
		stopFlow:      stopFlow,
		completed:     make(map[string]struct{}),
		mergeCounters: make(map[string]int),
		stopPath:      make(map[string]struct{}),
	}
}

// requestSessionStop marks the whole execution for cooperative stop.
// Returns true on the first call.
func (e *execution) requestSessionStop() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sessionStop {
		return false
	}
	e.sessionStop = true
	return true
}

func (e *execution) sessionStopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionStop
}

// requestStopPath records that the path through nodeID should not schedule
// children. Ignored once a session stop is pending.
func (e *execution) requestStopPath(nodeID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sessionStop {
		return
	}
	e.stopPath[nodeID] = struct{}{}
}

// takeStopPath consumes the stop-path flag for nodeID.
func (e *execution) takeStopPath(nodeID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.stopPath[nodeID]
	if ok {
		delete(e.stopPath, nodeID)
	}
	return ok
}
