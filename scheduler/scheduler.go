// Package scheduler provides the periodic task scheduler that drives cyclic
// triggers: named callables run on a fixed interval until removed.
package scheduler

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is a callable run on every tick. A failed invocation is logged and
// not retried; the scheduler simply waits for the next tick.
type Task func()

type entry struct {
	stop chan struct{}
	done chan struct{}
}

// Scheduler runs named tasks on fixed intervals, each on its own ticker
// goroutine.
type Scheduler struct {
	mu      sync.Mutex
	tasks   map[string]*entry
	stopped bool
	logger  *zap.Logger
}

// New creates a scheduler.
func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		tasks:  make(map[string]*entry),
		logger: logger.With(zap.String("component", "scheduler")),
	}
}

// Add schedules task to run every interval under the given id. An existing
// task under the same id is replaced with a warning.
func (s *Scheduler) Add(id string, task Task, interval time.Duration) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.logger.Warn("add called on stopped scheduler", zap.String("task_id", id))
		return
	}
	if old, ok := s.tasks[id]; ok {
		s.logger.Warn("task already exists, replacing", zap.String("task_id", id))
		close(old.stop)
		delete(s.tasks, id)
	}
	e := &entry{stop: make(chan struct{}), done: make(chan struct{})}
	s.tasks[id] = e
	s.mu.Unlock()

	go s.run(id, task, interval, e)
	s.logger.Debug("task scheduled",
		zap.String("task_id", id),
		zap.Duration("interval", interval),
	)
}

func (s *Scheduler) run(id string, task Task, interval time.Duration, e *entry) {
	defer close(e.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.invoke(id, task)
		case <-e.stop:
			return
		}
	}
}

func (s *Scheduler) invoke(id string, task Task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("task panicked",
				zap.String("task_id", id),
				zap.Any("panic", r),
			)
		}
	}()
	task()
}

// Remove cancels and deregisters the task. Removing an unknown id is a
// debug-level no-op.
func (s *Scheduler) Remove(id string) {
	s.mu.Lock()
	e, ok := s.tasks[id]
	if ok {
		delete(s.tasks, id)
	}
	s.mu.Unlock()

	if !ok {
		s.logger.Debug("attempted to remove non-existent task", zap.String("task_id", id))
		return
	}
	close(e.stop)
	<-e.done
	s.logger.Debug("task removed", zap.String("task_id", id))
}

// Stop halts all scheduled work. The scheduler cannot be reused afterwards.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	entries := make([]*entry, 0, len(s.tasks))
	for _, e := range s.tasks {
		entries = append(entries, e)
	}
	s.tasks = make(map[string]*entry)
	s.mu.Unlock()

	for _, e := range entries {
		close(e.stop)
	}
	for _, e := range entries {
		<-e.done
	}
	s.logger.Info("scheduler stopped")
}

// Len returns the number of registered tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}
