package store

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory VarStore. Suitable for development, testing,
// and single-process deployments that do not need durability.
type MemoryStore struct {
	mu     sync.RWMutex
	graphs map[string]map[string]map[string]any // graph -> execution -> key -> value
	closed bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{graphs: make(map[string]map[string]map[string]any)}
}

func (s *MemoryStore) GetRunVar(_ context.Context, graphID, executionID, key string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	if scope, ok := s.graphs[graphID][executionID]; ok {
		if v, ok := scope[key]; ok {
			return v, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) SetRunVar(_ context.Context, graphID, executionID, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if s.graphs[graphID] == nil {
		s.graphs[graphID] = make(map[string]map[string]any)
	}
	if s.graphs[graphID][executionID] == nil {
		s.graphs[graphID][executionID] = make(map[string]any)
	}
	s.graphs[graphID][executionID][key] = value
	return nil
}

func (s *MemoryStore) ClearRunVars(_ context.Context, graphID, executionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStoreClosed
	}
	scope, ok := s.graphs[graphID][executionID]
	if !ok {
		return 0, nil
	}
	delete(s.graphs[graphID], executionID)
	return len(scope), nil
}

func (s *MemoryStore) ClearAgentVars(_ context.Context, graphID, _ string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStoreClosed
	}
	total := 0
	for _, scope := range s.graphs[graphID] {
		total += len(scope)
	}
	delete(s.graphs, graphID)
	return total, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.graphs = make(map[string]map[string]map[string]any)
	return nil
}
