package workflow

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/types"
)

// nodeOutputKey is the run-var key under which a node's output is recorded.
func nodeOutputKey(nodeID string) string {
	return nodeID + "_output"
}

// NodeContext is the seam between the runtime and a node's logic. Handlers
// read their configuration and parent outputs through it and write their
// outputs back; writes are buffered and committed only after the handler
// returns successfully, so a failing handler leaves no partial state.
type NodeContext struct {
	ctx  context.Context
	rt   *Runtime
	exec *execution
	node *types.Node
	msg  *types.Message

	mu      sync.Mutex
	pending []pendingWrite
	output  *types.OutputItem
}

type pendingWrite struct {
	key   string
	value any
}

func newNodeContext(ctx context.Context, rt *Runtime, exec *execution, node *types.Node, msg *types.Message) *NodeContext {
	return &NodeContext{ctx: ctx, rt: rt, exec: exec, node: node, msg: msg}
}

// Message returns the message that fired this execution, which may be nil
// for lifecycle triggers.
func (nc *NodeContext) Message() *types.Message { return nc.msg }

// ExecutionID returns the id of the current execution.
func (nc *NodeContext) ExecutionID() string { return nc.exec.id }

// NodeID returns the id of the node being processed.
func (nc *NodeContext) NodeID() string { return nc.node.ID }

// AgentID returns the id of the owning agent.
func (nc *NodeContext) AgentID() string { return nc.rt.agentID }

// StaticInput returns the node's static configuration map.
func (nc *NodeContext) StaticInput() map[string]string { return nc.node.StaticInput }

// Input returns a single static-input value, or def when absent.
func (nc *NodeContext) Input(key, def string) string {
	if v, ok := nc.node.StaticInput[key]; ok {
		return v
	}
	return def
}

// Vars returns the live agent-scoped variable map.
func (nc *NodeContext) Vars() *types.VarMap { return nc.rt.vars }

// Logger returns a logger tagged with the execution and node ids.
func (nc *NodeContext) Logger() *zap.Logger {
	return nc.rt.logger.With(
		zap.String("execution_id", nc.exec.id),
		zap.String("node_id", nc.node.ID),
	)
}

// Publish sends a message through the broker.
func (nc *NodeContext) Publish(topic string, msg *types.Message) {
	nc.rt.broker.Publish(topic, msg)
}

// WriteOutput records a (key, value) pair as this node's output.
func (nc *NodeContext) WriteOutput(key string, value any) {
	nc.WriteRawOutput(types.OutputItem{Key: key, Value: value})
}

// WriteRawOutput records item as this node's output verbatim. The last
// write wins.
func (nc *NodeContext) WriteRawOutput(item types.OutputItem) {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	nc.output = &item
}

// SetRunVar buffers a run-scoped variable write.
func (nc *NodeContext) SetRunVar(key string, value any) {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	nc.pending = append(nc.pending, pendingWrite{key: key, value: value})
}

// GetRunVar reads a run-scoped variable, observing this node's own
// uncommitted writes first.
func (nc *NodeContext) GetRunVar(key string, def any) any {
	nc.mu.Lock()
	for i := len(nc.pending) - 1; i >= 0; i-- {
		if nc.pending[i].key == key {
			v := nc.pending[i].value
			nc.mu.Unlock()
			return v
		}
	}
	nc.mu.Unlock()

	v, err := nc.rt.store.GetRunVar(nc.ctx, nc.rt.graph.ID, nc.exec.id, key)
	if err != nil {
		return def
	}
	return v
}

// RequestStopPath signals that the current execution path should stop
// after this node: no children are scheduled, sibling branches continue.
func (nc *NodeContext) RequestStopPath() {
	if nc.rt.stopped(nc.exec) {
		return
	}
	nc.exec.requestStopPath(nc.node.ID)
	nc.Logger().Info("stop path requested by node")
}

// RequestSessionStop signals the whole execution to stop. Sibling tasks
// already dispatched observe the flag at their own entry points.
func (nc *NodeContext) RequestSessionStop() {
	if nc.exec.requestSessionStop() {
		nc.Logger().Info("session stop requested by node")
	}
}

// ParentOutputs returns the effective outputs of all direct parents, in
// link order. A parent output that is an aggregate bundle is unpacked so
// each contributing value appears individually.
func (nc *NodeContext) ParentOutputs() []types.OutputItem {
	var effective []types.OutputItem
	for _, parentID := range nc.rt.graph.Parents(nc.node.ID) {
		raw, err := nc.rt.store.GetRunVar(nc.ctx, nc.rt.graph.ID, nc.exec.id, nodeOutputKey(parentID))
		if err != nil {
			continue
		}
		item, ok := asOutputItem(raw)
		if !ok {
			continue
		}
		if item.Key == types.AggregatedOutputsKey {
			effective = append(effective, unpackAggregate(item.Value)...)
		} else {
			effective = append(effective, item)
		}
	}
	return effective
}

// ParentOutputsByKey returns the values of all effective parent outputs
// recorded under key.
func (nc *NodeContext) ParentOutputsByKey(key string) []any {
	var values []any
	for _, item := range nc.ParentOutputs() {
		if item.Key == key {
			values = append(values, item.Value)
		}
	}
	return values
}

// SingleParentOutput returns the one effective parent output value
// recorded under key. Zero matches returns def; more than one match is
// logged and also returns def.
func (nc *NodeContext) SingleParentOutput(key string, def any) any {
	values := nc.ParentOutputsByKey(key)
	switch len(values) {
	case 1:
		return values[0]
	case 0:
		return def
	default:
		nc.Logger().Warn("multiple parent output values where one was expected",
			zap.String("key", key),
			zap.Int("count", len(values)),
		)
		return def
	}
}

// PassOutput forwards the effective parent output(s) as this node's own
// output: a single effective output is passed through unchanged, several
// are re-wrapped into one aggregate bundle.
func (nc *NodeContext) PassOutput() error {
	effective := nc.ParentOutputs()
	switch len(effective) {
	case 0:
		return nil
	case 1:
		nc.WriteRawOutput(effective[0])
	default:
		values := make([]any, len(effective))
		for i, item := range effective {
			values[i] = item
		}
		nc.WriteRawOutput(types.OutputItem{Key: types.AggregatedOutputsKey, Value: values})
	}
	return nil
}

// commit flushes buffered writes to the store. Writes are dropped when a
// stop arrived while the handler ran, mirroring the rollback the stop path
// performs elsewhere.
func (nc *NodeContext) commit() error {
	if nc.rt.stopped(nc.exec) {
		nc.Logger().Warn("stop requested, discarding node writes")
		nc.discard()
		return nil
	}

	nc.mu.Lock()
	pending := nc.pending
	output := nc.output
	nc.pending = nil
	nc.mu.Unlock()

	for _, w := range pending {
		if err := nc.rt.store.SetRunVar(nc.ctx, nc.rt.graph.ID, nc.exec.id, w.key, w.value); err != nil {
			return err
		}
	}
	if output != nil {
		if err := nc.rt.store.SetRunVar(nc.ctx, nc.rt.graph.ID, nc.exec.id, nodeOutputKey(nc.node.ID), *output); err != nil {
			return err
		}
	}
	return nil
}

// discard drops all buffered writes.
func (nc *NodeContext) discard() {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	nc.pending = nil
	nc.output = nil
}

// committedOutput returns the node's recorded output, if any.
func (nc *NodeContext) committedOutput() (types.OutputItem, bool) {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	if nc.output == nil {
		return types.OutputItem{}, false
	}
	return *nc.output, true
}

// asOutputItem normalizes a stored value back into an OutputItem. Backends
// that JSON round-trip values return map[string]any.
func asOutputItem(raw any) (types.OutputItem, bool) {
	switch v := raw.(type) {
	case types.OutputItem:
		return v, true
	case *types.OutputItem:
		return *v, true
	case map[string]any:
		key, ok := v["key"].(string)
		if !ok {
			return types.OutputItem{}, false
		}
		return types.OutputItem{Key: key, Value: v["value"]}, true
	default:
		return types.OutputItem{}, false
	}
}

// unpackAggregate flattens the value of an aggregate bundle into its
// contained items.
func unpackAggregate(value any) []types.OutputItem {
	var items []types.OutputItem
	switch list := value.(type) {
	case []types.OutputItem:
		items = append(items, list...)
	case []any:
		for _, raw := range list {
			if item, ok := asOutputItem(raw); ok {
				items = append(items, item)
			}
		}
	}
	return items
}
