// Package agent provides the agent lifecycle manager: it owns one graph
// runtime per started agent, bridges the broker to it through an inbound
// message queue, and drives the agent's cyclic trigger.
package agent

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/broker"
	"github.com/BaSui01/agentmesh/internal/pool"
	"github.com/BaSui01/agentmesh/scheduler"
	"github.com/BaSui01/agentmesh/store"
	"github.com/BaSui01/agentmesh/types"
	"github.com/BaSui01/agentmesh/workflow"
)

// Broadcast and system channels every agent listens on.
const (
	TopicBroadcast      = "/broadcast"
	TopicSystemWildcard = "/system/#"
	selfPrefix          = "/self"
)

// DefaultCyclicInterval is the tick rate of an agent's CYCLIC trigger.
const DefaultCyclicInterval = 500 * time.Millisecond

// DefaultStopTimeout bounds how long Stop waits for the processing loop.
const DefaultStopTimeout = 5 * time.Second

// DefaultQueueSize is the inbound message queue capacity.
const DefaultQueueSize = 256

// Metrics receives agent lifecycle counters. A nil implementation is
// allowed.
type Metrics interface {
	AgentStarted(agentID string)
	AgentStopped(agentID string)
	MessageEnqueued(agentID string)
	MessageDropped(agentID string)
}

// Config describes one agent.
type Config struct {
	ID    string
	Name  string
	Graph *types.Graph
	Vars  map[string]any

	// Collaborators shared across agents.
	Store    store.VarStore
	Registry *workflow.Registry
	Pool     *pool.GoroutinePool
	Logger   *zap.Logger
	Metrics  Metrics

	// WorkflowMetrics is handed to the graph runtime.
	WorkflowMetrics workflow.Metrics

	CyclicInterval time.Duration
	StopTimeout    time.Duration
	QueueSize      int
}

type queueItem struct {
	topic string
	msg   *types.Message
}

// Runtime manages the runtime state and execution of a single agent.
type Runtime struct {
	id    string
	name  string
	graph *types.Graph
	vars  *types.VarMap

	cfg    Config
	logger *zap.Logger

	mu            sync.Mutex
	started       bool
	broker        *broker.Broker
	scheduler     *scheduler.Scheduler
	wf            *workflow.Runtime
	queue         chan queueItem
	loopStop      chan struct{}
	loopDone      chan struct{}
	subscriptions []string
}

// NewRuntime creates an agent runtime from its definition. The agent is
// not started until Start is called.
func NewRuntime(cfg Config) *Runtime {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.CyclicInterval <= 0 {
		cfg.CyclicInterval = DefaultCyclicInterval
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	r := &Runtime{
		id:    cfg.ID,
		name:  cfg.Name,
		graph: cfg.Graph,
		vars:  types.NewVarMap(cfg.Vars),
		cfg:   cfg,
		logger: cfg.Logger.With(
			zap.String("component", "agent_runtime"),
			zap.String("agent_id", cfg.ID),
			zap.String("agent_name", cfg.Name),
		),
	}
	r.logger.Info("agent runtime initialized")
	return r
}

// ID returns the agent id.
func (r *Runtime) ID() string { return r.id }

// Name returns the agent name.
func (r *Runtime) Name() string { return r.name }

// Started reports whether the agent is currently running.
func (r *Runtime) Started() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

// UpdateVars replaces the agent's persisted variables. The live graph
// runtime shares the same map, so running executions observe the update
// immediately.
func (r *Runtime) UpdateVars(vars map[string]any) {
	r.vars.Replace(vars)
	r.logger.Debug("runtime variables updated", zap.Int("count", len(vars)))
}

// Vars returns the agent's variable map.
func (r *Runtime) Vars() *types.VarMap { return r.vars }

// subscriberID is the identity this agent registers under at the broker.
func (r *Runtime) subscriberID() string { return "agent:" + r.id }

// agentChannel returns the agent's own topic.
func (r *Runtime) agentChannel() string { return "/agent:" + r.id }

// cyclicTaskID names the agent's scheduler task.
func (r *Runtime) cyclicTaskID() string { return r.id + "_cyclic_task" }

// deriveSubscriptions computes the topic set the agent listens on: its id
// and name channels, the broadcast and system channels, and every
// non-lifecycle trigger topic in the graph with '/self' rewritten to the
// agent's own channel.
func (r *Runtime) deriveSubscriptions() []string {
	seen := map[string]struct{}{}
	var topics []string
	add := func(topic string) {
		if _, dup := seen[topic]; dup || topic == "" {
			return
		}
		seen[topic] = struct{}{}
		topics = append(topics, topic)
	}

	add(r.agentChannel())
	add("/agent:" + r.name)
	add(TopicSystemWildcard)
	add(TopicBroadcast)

	for _, node := range r.graph.Nodes {
		if node.Type != types.NodeTypeTrigger || node.Subtype == "" {
			continue
		}
		switch node.Subtype {
		case types.TriggerInit, types.TriggerStop, types.TriggerCyclic:
			continue
		}
		topic := node.Subtype
		if strings.HasPrefix(topic, selfPrefix) {
			topic = strings.Replace(topic, selfPrefix, r.agentChannel(), 1)
		}
		add(topic)
	}
	return topics
}

// Start brings the agent up: builds the graph runtime, fires INIT,
// registers the cyclic task when the graph has an enabled CYCLIC trigger,
// subscribes to the derived topic set, and starts the processing loop.
// Calling Start on a started agent is a no-op with a warning.
func (r *Runtime) Start(b *broker.Broker, s *scheduler.Scheduler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		r.logger.Warn("start called but already started")
		return nil
	}

	wf, err := workflow.NewRuntime(workflow.Deps{
		Graph:    r.graph,
		AgentID:  r.id,
		Vars:     r.vars,
		Broker:   b,
		Store:    r.cfg.Store,
		Registry: r.cfg.Registry,
		Pool:     r.cfg.Pool,
		Logger:   r.cfg.Logger,
		Metrics:  r.cfg.WorkflowMetrics,
	})
	if err != nil {
		r.logger.Error("cannot start agent, graph rejected", zap.Error(err))
		return err
	}

	r.started = true
	r.broker = b
	r.scheduler = s
	r.wf = wf
	r.subscriptions = r.deriveSubscriptions()
	r.queue = make(chan queueItem, r.cfg.QueueSize)
	r.loopStop = make(chan struct{})
	r.loopDone = make(chan struct{})

	r.logger.Info("starting agent", zap.Strings("subscriptions", r.subscriptions))

	wf.ExecuteInit()

	if cyclic := r.graph.FindTrigger(types.TriggerCyclic); cyclic != nil {
		r.logger.Info("registering cyclic task", zap.String("task_id", r.cyclicTaskID()))
		s.Add(r.cyclicTaskID(), r.runCyclic, r.cfg.CyclicInterval)
	}

	for _, topic := range r.subscriptions {
		b.Subscribe(topic, r.subscriberID(), r.enqueue)
	}

	go r.processingLoop(r.queue, r.loopStop, r.loopDone)

	if r.cfg.Metrics != nil {
		r.cfg.Metrics.AgentStarted(r.id)
	}
	r.logger.Info("agent started")
	return nil
}

// Stop winds the agent down: fires STOP on the graph runtime, removes the
// cyclic task, signals the processing loop over a dedicated stop channel
// with a bounded join, and unsubscribes. Calling Stop on a non-started
// agent is a no-op with a warning.
func (r *Runtime) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		r.logger.Warn("stop called but not started")
		return
	}
	r.started = false
	wf := r.wf
	b := r.broker
	s := r.scheduler
	loopStop := r.loopStop
	loopDone := r.loopDone
	subscriptions := r.subscriptions
	r.wf = nil
	r.broker = nil
	r.scheduler = nil
	r.queue = nil
	r.mu.Unlock()

	r.logger.Info("stopping agent")

	wf.ExecuteStop()

	if s != nil {
		s.Remove(r.cyclicTaskID())
	}

	close(loopStop)
	select {
	case <-loopDone:
		r.logger.Info("message processing loop finished")
	case <-time.After(r.cfg.StopTimeout):
		r.logger.Warn("message processing loop did not finish within timeout")
	}

	for _, topic := range subscriptions {
		b.Unsubscribe(topic, r.subscriberID())
	}

	wf.Release()
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.AgentStopped(r.id)
	}
	r.logger.Info("agent stopped")
}

// runCyclic executes the CYCLIC trigger on the scheduler's tick.
func (r *Runtime) runCyclic() {
	r.mu.Lock()
	wf := r.wf
	started := r.started
	r.mu.Unlock()
	if !started || wf == nil {
		return
	}
	wf.ExecuteCyclic()
}

// enqueue is the broker callback: it puts (topic, message) onto the
// internal queue without blocking the publisher.
func (r *Runtime) enqueue(topic string, msg *types.Message) {
	r.mu.Lock()
	started := r.started
	queue := r.queue
	r.mu.Unlock()

	if !started || queue == nil {
		r.logger.Warn("message received while stopped, discarding", zap.String("topic", topic))
		return
	}
	select {
	case queue <- queueItem{topic: topic, msg: msg}:
		if r.cfg.Metrics != nil {
			r.cfg.Metrics.MessageEnqueued(r.id)
		}
		r.logger.Debug("message enqueued", zap.String("topic", topic))
	default:
		if r.cfg.Metrics != nil {
			r.cfg.Metrics.MessageDropped(r.id)
		}
		r.logger.Warn("message queue full, dropping message", zap.String("topic", topic))
	}
}

// processingLoop dequeues messages and dispatches them as triggers until
// the stop channel closes. The stop channel, not a queue element, carries
// the shutdown signal so a full queue can never wedge the loop.
func (r *Runtime) processingLoop(queue chan queueItem, stop <-chan struct{}, done chan struct{}) {
	defer close(done)
	r.logger.Info("message processing loop started")
	for {
		select {
		case <-stop:
			r.logger.Info("received stop signal in processing loop")
			return
		case item := <-queue:
			topic := item.topic
			if strings.HasPrefix(topic, selfPrefix) {
				topic = strings.Replace(topic, selfPrefix, r.agentChannel(), 1)
			}

			r.mu.Lock()
			wf := r.wf
			r.mu.Unlock()
			if wf == nil {
				r.logger.Warn("graph runtime gone, dropping message", zap.String("topic", topic))
				continue
			}
			wf.ExecuteTrigger(topic, item.msg)
		}
	}
}
