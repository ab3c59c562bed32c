package agent

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/broker"
	"github.com/BaSui01/agentmesh/internal/pool"
	"github.com/BaSui01/agentmesh/scheduler"
	"github.com/BaSui01/agentmesh/store"
	"github.com/BaSui01/agentmesh/types"
	"github.com/BaSui01/agentmesh/workflow"
)

type agentEnv struct {
	broker   *broker.Broker
	sched    *scheduler.Scheduler
	registry *workflow.Registry
}

func newAgentEnv(t *testing.T) *agentEnv {
	t.Helper()
	env := &agentEnv{
		broker:   broker.New(),
		sched:    scheduler.New(zap.NewNop()),
		registry: workflow.NewRegistry(),
	}
	t.Cleanup(env.sched.Stop)
	return env
}

func (e *agentEnv) runtime(t *testing.T, id, name string, graph *types.Graph, vars map[string]any) *Runtime {
	t.Helper()
	p := pool.New(pool.Config{MaxWorkers: 8, QueueSize: 64})
	t.Cleanup(p.Close)
	return NewRuntime(Config{
		ID:       id,
		Name:     name,
		Graph:    graph,
		Vars:     vars,
		Store:    store.NewMemoryStore(),
		Registry: e.registry,
		Pool:     p,
		Logger:   zap.NewNop(),
	})
}

func triggerNode(id, topic string) *types.Node {
	return &types.Node{ID: id, Name: id, Type: types.NodeTypeTrigger, Subtype: topic, Enabled: true}
}

func handlerNode(id, handler string) *types.Node {
	return &types.Node{ID: id, Name: id, Type: types.NodeTypeAction, Subtype: "test", Enabled: true, Handler: handler}
}

func TestDeriveSubscriptions(t *testing.T) {
	graph := &types.Graph{
		ID: "g",
		Nodes: []*types.Node{
			triggerNode("init", types.TriggerInit),
			triggerNode("stop", types.TriggerStop),
			triggerNode("cyclic", types.TriggerCyclic),
			triggerNode("self", "/self/ping"),
			triggerNode("chat", "/topic/chat"),
			triggerNode("dup", "/topic/chat"),
		},
	}
	env := newAgentEnv(t)
	rt := env.runtime(t, "a1", "alice", graph, nil)

	topics := rt.deriveSubscriptions()
	assert.ElementsMatch(t, []string{
		"/agent:a1",
		"/agent:alice",
		TopicSystemWildcard,
		TopicBroadcast,
		"/agent:a1/ping", // '/self' rewritten to the agent's own channel
		"/topic/chat",
	}, topics, "lifecycle triggers excluded, duplicates collapsed")
}

func TestStartDispatchesMessagesToTriggers(t *testing.T) {
	graph := &types.Graph{
		ID:    "g-dispatch",
		Nodes: []*types.Node{triggerNode("t", "/topic/news"), handlerNode("a", "record")},
		Links: []types.Link{{Source: "t", Target: "a"}},
	}
	env := newAgentEnv(t)
	rt := env.runtime(t, "a1", "alice", graph, nil)

	var got atomic.Value
	env.registry.Register("record", func(_ context.Context, nc *workflow.NodeContext) error {
		got.Store(nc.Message().Content)
		return nil
	})

	require.NoError(t, rt.Start(env.broker, env.sched))
	defer rt.Stop()

	env.broker.Publish("/topic/news", types.NewMessage("reporter", "breaking"))
	require.Eventually(t, func() bool {
		return got.Load() == "breaking"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSelfTopicRoundTrip(t *testing.T) {
	// A '/self' trigger is subscribed on the agent's own channel and the
	// inbound topic is matched back against the '/self' form.
	graph := &types.Graph{
		ID:    "g-self",
		Nodes: []*types.Node{triggerNode("t", "/self/ping"), handlerNode("a", "pong")},
		Links: []types.Link{{Source: "t", Target: "a"}},
	}
	env := newAgentEnv(t)
	rt := env.runtime(t, "a1", "alice", graph, nil)

	var pongs atomic.Int32
	env.registry.Register("pong", func(_ context.Context, _ *workflow.NodeContext) error {
		pongs.Add(1)
		return nil
	})

	require.NoError(t, rt.Start(env.broker, env.sched))
	defer rt.Stop()

	env.broker.Publish("/agent:a1/ping", types.NewMessage("peer", "ping"))
	require.Eventually(t, func() bool {
		return pongs.Load() == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestInitAndCyclicLifecycle(t *testing.T) {
	graph := &types.Graph{
		ID: "g-lifecycle",
		Nodes: []*types.Node{
			triggerNode("init", types.TriggerInit),
			triggerNode("cyclic", types.TriggerCyclic),
			handlerNode("a", "onInit"),
			handlerNode("b", "onTick"),
		},
		Links: []types.Link{
			{Source: "init", Target: "a"},
			{Source: "cyclic", Target: "b"},
		},
	}
	env := newAgentEnv(t)
	rt := env.runtime(t, "a1", "alice", graph, nil)
	rt.cfg.CyclicInterval = 10 * time.Millisecond

	var inits, ticks atomic.Int32
	env.registry.Register("onInit", func(_ context.Context, _ *workflow.NodeContext) error {
		inits.Add(1)
		return nil
	})
	env.registry.Register("onTick", func(_ context.Context, _ *workflow.NodeContext) error {
		ticks.Add(1)
		return nil
	})

	require.NoError(t, rt.Start(env.broker, env.sched))
	require.Eventually(t, func() bool {
		return inits.Load() == 1 && ticks.Load() >= 3
	}, 2*time.Second, 5*time.Millisecond)

	rt.Stop()
	assert.Equal(t, 0, env.sched.Len(), "cyclic task removed on stop")

	settled := ticks.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, ticks.Load(), "no ticks after stop")
}

func TestStopRunsStopTriggerAndUnsubscribes(t *testing.T) {
	graph := &types.Graph{
		ID: "g-stop",
		Nodes: []*types.Node{
			triggerNode("t", "/topic/in"),
			triggerNode("stop", types.TriggerStop),
			handlerNode("a", "onMsg"),
			handlerNode("b", "onStop"),
		},
		Links: []types.Link{
			{Source: "t", Target: "a"},
			{Source: "stop", Target: "b"},
		},
	}
	env := newAgentEnv(t)
	rt := env.runtime(t, "a1", "alice", graph, nil)

	var msgs, stops atomic.Int32
	env.registry.Register("onMsg", func(_ context.Context, _ *workflow.NodeContext) error {
		msgs.Add(1)
		return nil
	})
	env.registry.Register("onStop", func(_ context.Context, _ *workflow.NodeContext) error {
		stops.Add(1)
		return nil
	})

	require.NoError(t, rt.Start(env.broker, env.sched))
	rt.Stop()

	require.Eventually(t, func() bool {
		return stops.Load() == 1
	}, 2*time.Second, 5*time.Millisecond)

	// Unsubscribed: publishing after stop reaches nothing.
	env.broker.Publish("/topic/in", types.NewMessage("peer", "late"))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), msgs.Load())
	assert.False(t, rt.Started())
}

func TestProcessingLoopExitsOnStopWithFullQueue(t *testing.T) {
	// The stop signal travels on its own channel, so a queue that is full
	// at stop time cannot wedge the loop.
	graph := &types.Graph{ID: "g-full", Nodes: []*types.Node{triggerNode("init", types.TriggerInit)}}
	env := newAgentEnv(t)
	rt := env.runtime(t, "a1", "alice", graph, nil)

	queue := make(chan queueItem, 2)
	queue <- queueItem{topic: "/x"}
	queue <- queueItem{topic: "/y"}
	stop := make(chan struct{})
	done := make(chan struct{})
	go rt.processingLoop(queue, stop, done)

	close(stop)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("processing loop still running after stop signal")
	}
}

func TestStopReturnsPromptlyUnderMessageFlood(t *testing.T) {
	graph := &types.Graph{
		ID:    "g-flood",
		Nodes: []*types.Node{triggerNode("t", "/topic/flood")},
	}
	env := newAgentEnv(t)
	rt := env.runtime(t, "a1", "alice", graph, nil)
	rt.cfg.QueueSize = 1
	rt.cfg.StopTimeout = 2 * time.Second

	require.NoError(t, rt.Start(env.broker, env.sched))

	// Keep the tiny queue saturated while Stop runs.
	flooding := make(chan struct{})
	go func() {
		for {
			select {
			case <-flooding:
				return
			default:
				env.broker.Publish("/topic/flood", types.NewMessage("peer", "x"))
			}
		}
	}()
	defer close(flooding)

	start := time.Now()
	rt.Stop()
	assert.Less(t, time.Since(start), 1500*time.Millisecond, "stop must not burn the loop join timeout")
	assert.False(t, rt.Started())
}

func TestStartStopIdempotent(t *testing.T) {
	graph := &types.Graph{ID: "g-idem", Nodes: []*types.Node{triggerNode("init", types.TriggerInit)}}
	env := newAgentEnv(t)
	rt := env.runtime(t, "a1", "alice", graph, nil)

	rt.Stop() // not started yet, warning no-op
	assert.False(t, rt.Started())

	require.NoError(t, rt.Start(env.broker, env.sched))
	require.NoError(t, rt.Start(env.broker, env.sched)) // second start is a no-op
	assert.True(t, rt.Started())

	rt.Stop()
	rt.Stop() // second stop is a no-op
	assert.False(t, rt.Started())
}

func TestStartRejectsInvalidGraph(t *testing.T) {
	graph := &types.Graph{
		ID:    "g-bad",
		Nodes: []*types.Node{handlerNode("a", ""), handlerNode("b", "")},
		Links: []types.Link{{Source: "a", Target: "b"}, {Source: "b", Target: "a"}},
	}
	env := newAgentEnv(t)
	rt := env.runtime(t, "a1", "alice", graph, nil)

	err := rt.Start(env.broker, env.sched)
	require.Error(t, err)
	assert.False(t, rt.Started())
}

func TestUpdateVarsVisibleToRunningAgent(t *testing.T) {
	graph := &types.Graph{
		ID:    "g-vars",
		Nodes: []*types.Node{triggerNode("t", "/topic/ask"), handlerNode("a", "answer")},
		Links: []types.Link{{Source: "t", Target: "a"}},
	}
	env := newAgentEnv(t)
	rt := env.runtime(t, "a1", "alice", graph, map[string]any{"answer": "old"})

	var got atomic.Value
	env.registry.Register("answer", func(_ context.Context, nc *workflow.NodeContext) error {
		v, _ := nc.Vars().Get("answer")
		got.Store(v)
		return nil
	})

	require.NoError(t, rt.Start(env.broker, env.sched))
	defer rt.Stop()

	rt.UpdateVars(map[string]any{"answer": "new"})
	env.broker.Publish("/topic/ask", types.NewMessage("peer", "?"))
	require.Eventually(t, func() bool {
		return got.Load() == "new"
	}, 2*time.Second, 5*time.Millisecond)
}
