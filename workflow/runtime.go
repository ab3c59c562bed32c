package workflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/broker"
	"github.com/BaSui01/agentmesh/internal/pool"
	"github.com/BaSui01/agentmesh/store"
	"github.com/BaSui01/agentmesh/types"
)

// Metrics receives runtime counters. A nil implementation is allowed.
type Metrics interface {
	ExecutionStarted(graphID string)
	ExecutionCleaned(graphID string)
	NodeExecuted(graphID string, nodeType string, duration time.Duration, success bool)
}

// Runtime executes one graph on behalf of one agent. It is created by the
// agent lifecycle manager when the agent starts and released when it stops.
type Runtime struct {
	graph   *types.Graph
	agentID string
	vars    *types.VarMap

	broker   *broker.Broker
	store    store.VarStore
	registry *Registry
	pool     *pool.GoroutinePool
	logger   *zap.Logger
	metrics  Metrics

	ctx    context.Context
	cancel context.CancelFunc

	globalStop atomic.Bool

	mu         sync.Mutex
	executions map[string]*execution
}

// Deps carries the collaborators a Runtime needs. Graph, Broker, Store, and
// Pool are required; Registry defaults to the built-in registry, Logger to
// a no-op logger.
type Deps struct {
	Graph    *types.Graph
	AgentID  string
	Vars     *types.VarMap
	Broker   *broker.Broker
	Store    store.VarStore
	Registry *Registry
	Pool     *pool.GoroutinePool
	Logger   *zap.Logger
	Metrics  Metrics
}

// NewRuntime validates the graph and builds a runtime around it.
func NewRuntime(deps Deps) (*Runtime, error) {
	if err := deps.Graph.Validate(); err != nil {
		return nil, err
	}
	if deps.Registry == nil {
		deps.Registry = NewRegistry()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Vars == nil {
		deps.Vars = types.NewVarMap(nil)
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runtime{
		graph:      deps.Graph,
		agentID:    deps.AgentID,
		vars:       deps.Vars,
		broker:     deps.Broker,
		store:      deps.Store,
		registry:   deps.Registry,
		pool:       deps.Pool,
		logger:     deps.Logger.With(zap.String("component", "workflow_runtime"), zap.String("graph_id", deps.Graph.ID)),
		metrics:    deps.Metrics,
		ctx:        ctx,
		cancel:     cancel,
		executions: make(map[string]*execution),
	}
	r.logger.Info("workflow runtime initialized",
		zap.String("agent_id", deps.AgentID),
		zap.Int("nodes", len(deps.Graph.Nodes)),
		zap.Int("links", len(deps.Graph.Links)),
	)
	return r, nil
}

// Vars returns the live agent-scoped variable map.
func (r *Runtime) Vars() *types.VarMap { return r.vars }

// ExecuteTrigger finds the enabled trigger node whose subtype equals topic
// and starts a new execution at it. If the topic carries the agent's own
// channel, the equivalent '/self' form is also tried. No match is a no-op.
func (r *Runtime) ExecuteTrigger(topic string, msg *types.Message) {
	node := r.graph.FindTrigger(topic)
	if node == nil && r.agentID != "" {
		selfForm := strings.Replace(topic, "/agent:"+r.agentID, "/self", 1)
		if selfForm != topic {
			node = r.graph.FindTrigger(selfForm)
		}
	}
	if node == nil {
		r.logger.Debug("no active trigger node for topic", zap.String("topic", topic))
		return
	}

	executionID := uuid.NewString()
	r.logger.Info("executing trigger",
		zap.String("execution_id", executionID),
		zap.String("topic", topic),
		zap.String("node_id", node.ID),
	)
	exec := r.createExecution(executionID, false)
	if r.metrics != nil {
		r.metrics.ExecutionStarted(r.graph.ID)
	}
	r.schedule(exec, node.ID, msg)
}

// ExecuteInit fires the INIT lifecycle trigger.
func (r *Runtime) ExecuteInit() {
	r.ExecuteTrigger(types.TriggerInit, nil)
}

// ExecuteCyclic fires the CYCLIC lifecycle trigger unless a stop is
// pending.
func (r *Runtime) ExecuteCyclic() {
	if r.globalStop.Load() {
		return
	}
	r.ExecuteTrigger(types.TriggerCyclic, nil)
}

// ExecuteStop sets the global stop flag, marks every in-flight execution
// for session stop, unconditionally clears the agent's run-scoped
// variables, and then runs the STOP trigger node (if the graph has one)
// under a dedicated execution that is exempt from the stop flags.
func (r *Runtime) ExecuteStop() {
	r.logger.Info("executing STOP trigger")
	r.globalStop.Store(true)

	r.mu.Lock()
	for _, exec := range r.executions {
		exec.requestSessionStop()
	}
	r.mu.Unlock()

	count, err := r.store.ClearAgentVars(r.ctx, r.graph.ID, r.agentID)
	if err != nil {
		r.logger.Error("failed to clear agent variables during stop", zap.Error(err))
	} else if count > 0 {
		r.logger.Info("cleared agent variables during stop", zap.Int("count", count))
	}

	node := r.graph.FindTrigger(types.TriggerStop)
	if node == nil {
		r.logger.Info("no explicit STOP trigger, cleanup happens as active tasks drain")
		return
	}

	executionID := uuid.NewString()
	r.logger.Info("executing STOP trigger node",
		zap.String("execution_id", executionID),
		zap.String("node_id", node.ID),
	)
	exec := r.createExecution(executionID, true)
	r.schedule(exec, node.ID, nil)
}

// Release cancels the runtime's context. In-flight tasks observe the
// cancellation at their next stop check.
func (r *Runtime) Release() {
	r.cancel()
}

// ActiveExecutions returns the number of executions with live bookkeeping.
func (r *Runtime) ActiveExecutions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.executions)
}

func (r *Runtime) createExecution(id string, stopFlow bool) *execution {
	exec := newExecution(id, stopFlow)
	r.mu.Lock()
	r.executions[id] = exec
	r.mu.Unlock()
	return exec
}

// schedule accounts for a new processing task and hands it to the pool.
// The active-task counter is incremented before submission so the
// cleanup-at-zero rule cannot fire between submission and task start.
// A saturated pool runs the task inline on the submitter: node tasks
// schedule their own children, so blocking a worker on a full queue with
// every other worker doing the same would leave no consumer to drain it.
func (r *Runtime) schedule(exec *execution, nodeID string, msg *types.Message) {
	exec.mu.Lock()
	exec.activeTasks++
	exec.mu.Unlock()

	task := func(ctx context.Context) {
		defer r.finishTask(exec)
		r.processNode(ctx, exec, nodeID, msg)
	}
	err := r.pool.TrySubmit(r.ctx, task)
	if err == nil {
		return
	}
	if errors.Is(err, pool.ErrPoolFull) {
		r.logger.Debug("pool saturated, processing node inline",
			zap.String("execution_id", exec.id),
			zap.String("node_id", nodeID),
		)
		task(r.ctx)
		return
	}
	r.logger.Warn("failed to submit node task",
		zap.String("execution_id", exec.id),
		zap.String("node_id", nodeID),
		zap.Error(err),
	)
	r.finishTask(exec)
}

// finishTask decrements the execution's active-task counter. The task that
// brings it to zero, and only that one, purges the execution's run-scoped
// variables — unless a session stop already handled cleanup.
func (r *Runtime) finishTask(exec *execution) {
	exec.mu.Lock()
	exec.activeTasks--
	done := exec.activeTasks == 0
	skipCleanup := exec.sessionStop
	exec.mu.Unlock()
	if !done {
		return
	}

	r.mu.Lock()
	delete(r.executions, exec.id)
	r.mu.Unlock()

	if skipCleanup {
		return
	}
	count, err := r.store.ClearRunVars(r.ctx, r.graph.ID, exec.id)
	if err != nil {
		r.logger.Error("failed to clean up run variables",
			zap.String("execution_id", exec.id),
			zap.Error(err),
		)
		return
	}
	r.logger.Debug("cleaned up run variables",
		zap.String("execution_id", exec.id),
		zap.Int("count", count),
	)
	if r.metrics != nil {
		r.metrics.ExecutionCleaned(r.graph.ID)
	}
}

// stopped reports whether exec should make no further progress. Stop-flow
// executions ignore the global and session stop flags.
func (r *Runtime) stopped(exec *execution) bool {
	if exec.stopFlow {
		return false
	}
	return r.globalStop.Load() || exec.sessionStopped()
}

// processNode is the core node-processing algorithm: idempotent re-entry
// guard, merge join, handler invocation, output commit, and child fan-out.
func (r *Runtime) processNode(ctx context.Context, exec *execution, nodeID string, msg *types.Message) {
	node := r.graph.Node(nodeID)
	if node == nil {
		r.logger.Error("node not found in graph",
			zap.String("execution_id", exec.id),
			zap.String("node_id", nodeID),
		)
		return
	}

	if r.stopped(exec) {
		return
	}

	exec.mu.Lock()
	if _, done := exec.completed[nodeID]; done {
		exec.mu.Unlock()
		r.logger.Debug("node already completed in this execution, skipping",
			zap.String("execution_id", exec.id),
			zap.String("node_id", nodeID),
		)
		return
	}
	if incoming := r.graph.IncomingCount(nodeID); incoming > 1 {
		exec.mergeCounters[nodeID]++
		arrived := exec.mergeCounters[nodeID]
		if arrived < incoming {
			exec.mu.Unlock()
			r.logger.Debug("merge prerequisites not met, deferring",
				zap.String("execution_id", exec.id),
				zap.String("node_id", nodeID),
				zap.Int("arrived", arrived),
				zap.Int("required", incoming),
			)
			return
		}
	}
	exec.completed[nodeID] = struct{}{}
	exec.mu.Unlock()

	if node.Enabled {
		if r.stopped(exec) {
			return
		}
		if ok := r.executeNode(ctx, exec, node, msg); !ok {
			return
		}
	} else {
		r.logger.Debug("node disabled, skipping execution",
			zap.String("execution_id", exec.id),
			zap.String("node_id", nodeID),
		)
	}

	if exec.takeStopPath(nodeID) {
		r.logger.Debug("stop path requested, no children scheduled",
			zap.String("execution_id", exec.id),
			zap.String("node_id", nodeID),
		)
		return
	}
	if r.stopped(exec) {
		return
	}

	exec.mu.Lock()
	var next []string
	for _, child := range r.graph.Children(nodeID) {
		if _, done := exec.completed[child]; done {
			continue
		}
		next = append(next, child)
	}
	exec.mu.Unlock()

	for _, child := range next {
		r.schedule(exec, child, msg)
	}
}

// executeNode invokes the node's inline code or registered handler and
// commits its buffered writes. Returns false when this execution path must
// stop: handler failure, or a trigger node whose output resolved to false.
func (r *Runtime) executeNode(ctx context.Context, exec *execution, node *types.Node, msg *types.Message) bool {
	r.logger.Info("executing node",
		zap.String("execution_id", exec.id),
		zap.String("node_id", node.ID),
		zap.String("node_name", node.Name),
		zap.String("node_type", string(node.Type)),
		zap.String("node_subtype", node.Subtype),
	)

	nc := newNodeContext(ctx, r, exec, node, msg)
	start := time.Now()
	var err error

	switch {
	case (node.Type == types.NodeTypeCustom || node.Type == types.NodeTypeTrigger) && node.Code != "":
		err = r.executeLua(ctx, nc, node)
	case node.Handler != "":
		handler := r.registry.Lookup(node.Handler)
		if handler == nil {
			r.logger.Warn("no registered handler for node",
				zap.String("execution_id", exec.id),
				zap.String("node_id", node.ID),
				zap.String("handler", node.Handler),
			)
		} else {
			err = handler(ctx, nc)
		}
	default:
		// Neither handler nor code: the node forwards its parent output.
		err = nc.PassOutput()
	}

	duration := time.Since(start)
	if r.metrics != nil {
		r.metrics.NodeExecuted(r.graph.ID, string(node.Type), duration, err == nil)
	}

	if err != nil {
		nc.discard()
		r.logger.Error("node execution failed, discarding uncommitted writes",
			zap.String("execution_id", exec.id),
			zap.String("node_id", node.ID),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return false
	}

	if err := nc.commit(); err != nil {
		r.logger.Error("failed to commit node writes",
			zap.String("execution_id", exec.id),
			zap.String("node_id", node.ID),
			zap.Error(err),
		)
		return false
	}
	r.logger.Debug("node execution completed",
		zap.String("execution_id", exec.id),
		zap.String("node_id", node.ID),
		zap.Duration("duration", duration),
	)

	// A trigger node whose output resolves to boolean false gates this
	// execution path without error.
	if node.Type == types.NodeTypeTrigger {
		if item, ok := nc.committedOutput(); ok {
			if value, isBool := item.Value.(bool); isBool && !value {
				r.logger.Debug("trigger returned false, stopping execution path",
					zap.String("execution_id", exec.id),
					zap.String("node_id", node.ID),
				)
				return false
			}
		}
	}
	return true
}
