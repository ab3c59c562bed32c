// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector aggregates the runtime's Prometheus metrics. It satisfies the
// metrics interfaces of the broker, workflow, and agent packages.
type Collector struct {
	// Broker metrics
	publishesTotal      *prometheus.CounterVec
	deliveriesTotal     *prometheus.CounterVec
	dispatchErrorsTotal *prometheus.CounterVec

	// Workflow metrics
	executionsStarted *prometheus.CounterVec
	executionsCleaned *prometheus.CounterVec
	nodeDuration      *prometheus.HistogramVec

	// Agent metrics
	agentsRunning    prometheus.Gauge
	messagesEnqueued *prometheus.CounterVec
	messagesDropped  *prometheus.CounterVec
}

// NewCollector creates a collector registered with reg (or the default
// registerer when reg is nil).
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{}
	c.publishesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broker_publishes_total",
			Help:      "Messages published to the broker",
		},
		[]string{"topic"},
	)
	c.deliveriesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broker_deliveries_total",
			Help:      "Messages delivered to subscribers",
		},
		[]string{"topic"},
	)
	c.dispatchErrorsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broker_dispatch_errors_total",
			Help:      "Subscriber failures during dispatch",
		},
		[]string{"topic"},
	)
	c.executionsStarted = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_executions_started_total",
			Help:      "Graph executions started by trigger firings",
		},
		[]string{"graph_id"},
	)
	c.executionsCleaned = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_executions_cleaned_total",
			Help:      "Graph executions whose run vars were purged",
		},
		[]string{"graph_id"},
	)
	c.nodeDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_node_duration_seconds",
			Help:      "Node handler execution time",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"graph_id", "node_type", "status"},
	)
	c.agentsRunning = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agents_running",
			Help:      "Agents currently started",
		},
	)
	c.messagesEnqueued = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_messages_enqueued_total",
			Help:      "Messages accepted onto agent queues",
		},
		[]string{"agent_id"},
	)
	c.messagesDropped = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_messages_dropped_total",
			Help:      "Messages dropped because an agent queue was full",
		},
		[]string{"agent_id"},
	)
	return c
}

// PublishObserved implements the broker metrics sink.
func (c *Collector) PublishObserved(topic string) {
	c.publishesTotal.WithLabelValues(topic).Inc()
}

// DeliveryObserved implements the broker metrics sink.
func (c *Collector) DeliveryObserved(topic string) {
	c.deliveriesTotal.WithLabelValues(topic).Inc()
}

// DispatchErrorObserved implements the broker metrics sink.
func (c *Collector) DispatchErrorObserved(topic string) {
	c.dispatchErrorsTotal.WithLabelValues(topic).Inc()
}

// ExecutionStarted implements the workflow metrics sink.
func (c *Collector) ExecutionStarted(graphID string) {
	c.executionsStarted.WithLabelValues(graphID).Inc()
}

// ExecutionCleaned implements the workflow metrics sink.
func (c *Collector) ExecutionCleaned(graphID string) {
	c.executionsCleaned.WithLabelValues(graphID).Inc()
}

// NodeExecuted implements the workflow metrics sink.
func (c *Collector) NodeExecuted(graphID, nodeType string, duration time.Duration, success bool) {
	status := "ok"
	if !success {
		status = "error"
	}
	c.nodeDuration.WithLabelValues(graphID, nodeType, status).Observe(duration.Seconds())
}

// AgentStarted implements the agent metrics sink.
func (c *Collector) AgentStarted(string) {
	c.agentsRunning.Inc()
}

// AgentStopped implements the agent metrics sink.
func (c *Collector) AgentStopped(string) {
	c.agentsRunning.Dec()
}

// MessageEnqueued implements the agent metrics sink.
func (c *Collector) MessageEnqueued(agentID string) {
	c.messagesEnqueued.WithLabelValues(agentID).Inc()
}

// MessageDropped implements the agent metrics sink.
func (c *Collector) MessageDropped(agentID string) {
	c.messagesDropped.WithLabelValues(agentID).Inc()
}
