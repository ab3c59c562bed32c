package agent

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/agentmesh/broker"
	"github.com/BaSui01/agentmesh/internal/pool"
	"github.com/BaSui01/agentmesh/scheduler"
	"github.com/BaSui01/agentmesh/store"
	"github.com/BaSui01/agentmesh/types"
	"github.com/BaSui01/agentmesh/workflow"
)

// Definition is an agent as loaded from storage or configuration.
type Definition struct {
	ID    string         `json:"id" yaml:"id"`
	Name  string         `json:"name" yaml:"name"`
	Graph *types.Graph   `json:"graph" yaml:"graph"`
	Vars  map[string]any `json:"vars,omitempty" yaml:"vars,omitempty"`
}

// ManagerConfig carries the collaborators shared by all agents.
type ManagerConfig struct {
	Broker   *broker.Broker
	Sched    *scheduler.Scheduler
	Store    store.VarStore
	Registry *workflow.Registry
	Pool     *pool.GoroutinePool
	Logger   *zap.Logger
	Metrics  Metrics

	WorkflowMetrics workflow.Metrics

	CyclicInterval time.Duration
	StopTimeout    time.Duration
	QueueSize      int
}

// Manager owns the set of agent runtimes inside one process.
type Manager struct {
	cfg    ManagerConfig
	logger *zap.Logger

	mu     sync.Mutex
	agents map[string]*Runtime
}

// NewManager creates an empty manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Manager{
		cfg:    cfg,
		logger: cfg.Logger.With(zap.String("component", "agent_manager")),
		agents: make(map[string]*Runtime),
	}
}

// Add registers an agent definition. Adding an id twice replaces the old
// runtime only if it is not started.
func (m *Manager) Add(def Definition) (*Runtime, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.agents[def.ID]; ok && existing.Started() {
		return nil, fmt.Errorf("agent %s is started, stop it before replacing", def.ID)
	}
	rt := NewRuntime(Config{
		ID:              def.ID,
		Name:            def.Name,
		Graph:           def.Graph,
		Vars:            def.Vars,
		Store:           m.cfg.Store,
		Registry:        m.cfg.Registry,
		Pool:            m.cfg.Pool,
		Logger:          m.cfg.Logger,
		Metrics:         m.cfg.Metrics,
		WorkflowMetrics: m.cfg.WorkflowMetrics,
		CyclicInterval:  m.cfg.CyclicInterval,
		StopTimeout:     m.cfg.StopTimeout,
		QueueSize:       m.cfg.QueueSize,
	})
	m.agents[def.ID] = rt
	m.logger.Info("agent registered",
		zap.String("agent_id", def.ID),
		zap.String("agent_name", def.Name),
	)
	return rt, nil
}

// Get returns the runtime for id, or nil.
func (m *Manager) Get(id string) *Runtime {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.agents[id]
}

// Remove stops (if needed) and deregisters the agent.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	rt, ok := m.agents[id]
	if ok {
		delete(m.agents, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	if rt.Started() {
		rt.Stop()
	}
	m.logger.Info("agent removed", zap.String("agent_id", id))
}

// Start starts the agent with the given id.
func (m *Manager) Start(id string) error {
	rt := m.Get(id)
	if rt == nil {
		return types.NewError(types.ErrAgentNotStarted, fmt.Sprintf("unknown agent %s", id))
	}
	return rt.Start(m.cfg.Broker, m.cfg.Sched)
}

// Stop stops the agent with the given id. Unknown ids are a warning-level
// no-op.
func (m *Manager) Stop(id string) {
	rt := m.Get(id)
	if rt == nil {
		m.logger.Warn("stop requested for unknown agent", zap.String("agent_id", id))
		return
	}
	rt.Stop()
}

// UpdateVars pushes new persisted variables into a (possibly running)
// agent.
func (m *Manager) UpdateVars(id string, vars map[string]any) error {
	rt := m.Get(id)
	if rt == nil {
		return types.NewError(types.ErrAgentNotStarted, fmt.Sprintf("unknown agent %s", id))
	}
	rt.UpdateVars(vars)
	return nil
}

// StartAll starts every registered agent, returning the first error.
func (m *Manager) StartAll() error {
	for _, rt := range m.snapshot() {
		if err := rt.Start(m.cfg.Broker, m.cfg.Sched); err != nil {
			return err
		}
	}
	return nil
}

// StopAll stops every started agent concurrently.
func (m *Manager) StopAll() {
	var g errgroup.Group
	for _, rt := range m.snapshot() {
		rt := rt
		if !rt.Started() {
			continue
		}
		g.Go(func() error {
			rt.Stop()
			return nil
		})
	}
	_ = g.Wait()
	m.logger.Info("all agents stopped")
}

// Len returns the number of registered agents.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.agents)
}

func (m *Manager) snapshot() []*Runtime {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Runtime, 0, len(m.agents))
	for _, rt := range m.agents {
		out = append(out, rt)
	}
	return out
}
