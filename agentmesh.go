// Package agentmesh provides a top-level convenience entry point for
// running agent graphs with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/agentmesh"
//
//	sys, err := agentmesh.New(agentmesh.WithLogger(logger))
//	defer sys.Shutdown()
//
//	rt, err := sys.Agents.Add(agent.Definition{ID: "a1", Name: "greeter", Graph: g})
//	err = sys.Agents.Start("a1")
//	sys.Broker.Publish("/agent:a1", types.NewMessage("cli", "hello"))
//
// A System wires together the broker, the scheduler, the variable store,
// the bounded execution pool, and the agent manager.
package agentmesh

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/agent"
	"github.com/BaSui01/agentmesh/broker"
	"github.com/BaSui01/agentmesh/internal/metrics"
	"github.com/BaSui01/agentmesh/internal/pool"
	"github.com/BaSui01/agentmesh/scheduler"
	"github.com/BaSui01/agentmesh/store"
	"github.com/BaSui01/agentmesh/workflow"
)

// System bundles the shared collaborators of one agentmesh process.
type System struct {
	Broker   *broker.Broker
	Sched    *scheduler.Scheduler
	Store    store.VarStore
	Registry *workflow.Registry
	Pool     *pool.GoroutinePool
	Agents   *agent.Manager

	logger *zap.Logger
}

type options struct {
	logger         *zap.Logger
	storeConfig    store.Config
	poolConfig     pool.Config
	registry       *workflow.Registry
	collector      *metrics.Collector
	queueSize      int
	cyclicInterval time.Duration
	stopTimeout    time.Duration
}

// Option configures the System created by New.
type Option func(*options)

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithStore selects the variable store backend.
func WithStore(cfg store.Config) Option {
	return func(o *options) { o.storeConfig = cfg }
}

// WithPool overrides the execution pool configuration.
func WithPool(cfg pool.Config) Option {
	return func(o *options) { o.poolConfig = cfg }
}

// WithRegistry supplies a handler registry pre-loaded with application
// handlers.
func WithRegistry(r *workflow.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithMetrics enables Prometheus metrics, registered under namespace with
// reg (nil uses the default registerer).
func WithMetrics(namespace string, reg prometheus.Registerer) Option {
	return func(o *options) { o.collector = metrics.NewCollector(namespace, reg) }
}

// WithAgentDefaults sets the per-agent runtime knobs applied to every agent
// the manager creates: inbound queue capacity, cyclic trigger interval, and
// the stop join timeout. Zero values keep the agent package defaults.
func WithAgentDefaults(queueSize int, cyclicInterval, stopTimeout time.Duration) Option {
	return func(o *options) {
		o.queueSize = queueSize
		o.cyclicInterval = cyclicInterval
		o.stopTimeout = stopTimeout
	}
}

// New builds a System.
func New(opts ...Option) (*System, error) {
	o := &options{
		logger:     zap.NewNop(),
		poolConfig: pool.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.registry == nil {
		o.registry = workflow.NewRegistry()
	}

	varStore, err := store.New(o.storeConfig)
	if err != nil {
		return nil, err
	}

	var brokerOpts []broker.Option
	brokerOpts = append(brokerOpts, broker.WithLogger(o.logger))
	var agentMetrics agent.Metrics
	var wfMetrics workflow.Metrics
	if o.collector != nil {
		brokerOpts = append(brokerOpts, broker.WithMetrics(o.collector))
		agentMetrics = o.collector
		wfMetrics = o.collector
	}

	b := broker.New(brokerOpts...)
	sched := scheduler.New(o.logger)
	p := pool.New(o.poolConfig)

	manager := agent.NewManager(agent.ManagerConfig{
		Broker:          b,
		Sched:           sched,
		Store:           varStore,
		Registry:        o.registry,
		Pool:            p,
		Logger:          o.logger,
		Metrics:         agentMetrics,
		WorkflowMetrics: wfMetrics,
		QueueSize:       o.queueSize,
		CyclicInterval:  o.cyclicInterval,
		StopTimeout:     o.stopTimeout,
	})

	return &System{
		Broker:   b,
		Sched:    sched,
		Store:    varStore,
		Registry: o.registry,
		Pool:     p,
		Agents:   manager,
		logger:   o.logger,
	}, nil
}

// Shutdown stops every agent, the scheduler, and the execution pool, and
// closes the store.
func (s *System) Shutdown() {
	s.Agents.StopAll()
	s.Sched.Stop()
	s.Pool.Close()
	if err := s.Store.Close(); err != nil {
		s.logger.Warn("error closing variable store", zap.Error(err))
	}
}
