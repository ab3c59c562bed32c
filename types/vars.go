package types

import "sync"

// VarMap is a concurrency-safe map of agent-scoped variables. The agent
// lifecycle manager and the graph runtime share one instance, so updates
// made while the agent runs are visible to in-flight executions
// immediately.
type VarMap struct {
	mu sync.RWMutex
	m  map[string]any
}

// NewVarMap creates a VarMap seeded with initial (which may be nil).
func NewVarMap(initial map[string]any) *VarMap {
	m := make(map[string]any, len(initial))
	for k, v := range initial {
		m[k] = v
	}
	return &VarMap{m: m}
}

// Get returns the value stored under key.
func (v *VarMap) Get(key string) (any, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	val, ok := v.m[key]
	return val, ok
}

// Set stores value under key.
func (v *VarMap) Set(key string, value any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.m[key] = value
}

// Delete removes key.
func (v *VarMap) Delete(key string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.m, key)
}

// Replace swaps the entire contents for vars.
func (v *VarMap) Replace(vars map[string]any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.m = make(map[string]any, len(vars))
	for k, val := range vars {
		v.m[k] = val
	}
}

// Snapshot returns a shallow copy of the current contents.
func (v *VarMap) Snapshot() map[string]any {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[string]any, len(v.m))
	for k, val := range v.m {
		out[k] = val
	}
	return out
}

// Len returns the number of variables.
func (v *VarMap) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.m)
}
