package workflow

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/types"
)

// Handler is the node handler contract: read configuration and parent
// outputs through the NodeContext, write zero or more outputs back. The
// runtime neither knows nor cares what a handler does internally.
type Handler func(ctx context.Context, nc *NodeContext) error

// Registry maps handler names to handlers. Nodes reference handlers by
// name; resolution happens at lookup time, never cached on the node.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates a registry pre-populated with the built-in handlers.
func NewRegistry() *Registry {
	r := &Registry{handlers: make(map[string]Handler)}
	r.Register("pass_through", passThroughHandler)
	r.Register("publish_message", publishMessageHandler)
	r.Register("log_message", logMessageHandler)
	return r
}

// Register adds or replaces a handler under name.
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Lookup returns the handler registered under name, or nil.
func (r *Registry) Lookup(name string) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[name]
}

// Names returns the registered handler names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// passThroughHandler forwards the parent output unchanged. Used by filter
// and wiring nodes.
func passThroughHandler(_ context.Context, nc *NodeContext) error {
	return nc.PassOutput()
}

// publishMessageHandler publishes the firing message (or the parent output
// value under "content") to the topic named in static input.
func publishMessageHandler(_ context.Context, nc *NodeContext) error {
	topic := nc.Input("topic", "")
	if topic == "" {
		return fmt.Errorf("publish_message node %s: static input 'topic' is required", nc.NodeID())
	}
	content := nc.SingleParentOutput("content", nil)
	msg := nc.Message()
	if content != nil || msg == nil {
		msg = types.NewMessage("/agent:"+nc.AgentID(), content)
	}
	nc.Publish(topic, msg)
	return nil
}

// logMessageHandler logs its effective parent outputs, mostly useful while
// building a graph.
func logMessageHandler(_ context.Context, nc *NodeContext) error {
	for _, item := range nc.ParentOutputs() {
		nc.Logger().Info("node input",
			zap.String("key", item.Key),
			zap.Any("value", item.Value),
		)
	}
	return nc.PassOutput()
}
