// Package broker provides the in-process topic broker that decouples agents
// from each other. Topics are strings segmented by '/', with MQTT-style
// wildcards: '+' matches exactly one segment, '#' (final segment only)
// matches any remaining segments.
package broker

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/types"
)

// Handler receives a published message. The topic argument is the published
// (concrete) topic, not the pattern the handler was registered under.
type Handler func(topic string, msg *types.Message)

// Broker is a topic-based publish/subscribe bus. Subscribers are identified
// by an explicit id so that subsumption checks can relate subscriptions of
// the same subscriber across topics.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]Handler // topic -> subscriber id -> handler
	logger      *zap.Logger
	metrics     Metrics
}

// Metrics receives broker counters. A nil implementation is allowed.
type Metrics interface {
	PublishObserved(topic string)
	DeliveryObserved(topic string)
	DispatchErrorObserved(topic string)
}

// Option configures a Broker.
type Option func(*Broker)

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Broker) { b.logger = logger }
}

// WithMetrics attaches a metrics sink.
func WithMetrics(m Metrics) Option {
	return func(b *Broker) { b.metrics = m }
}

// New creates an empty broker.
func New(opts ...Option) *Broker {
	b := &Broker{
		subscribers: make(map[string]map[string]Handler),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With(zap.String("component", "broker"))
	return b
}

// Subscribe registers the subscriber under topic. Two subsumption rules
// keep the table minimal: a subscription already covered by one of the
// subscriber's wildcard subscriptions is ignored, and a new wildcard
// subscription replaces any of the subscriber's specific subscriptions it
// covers.
func (b *Broker) Subscribe(topic, subscriberID string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subs, ok := b.subscribers[topic]; ok {
		if _, dup := subs[subscriberID]; dup {
			b.logger.Info("subscriber already on exact topic, ignoring",
				zap.String("topic", topic),
				zap.String("subscriber", subscriberID),
			)
			return
		}
	}

	for existing, subs := range b.subscribers {
		if _, ok := subs[subscriberID]; ok && IsWildcard(existing) && Matches(existing, topic) {
			b.logger.Info("subscription covered by existing wildcard, ignoring",
				zap.String("topic", topic),
				zap.String("covered_by", existing),
				zap.String("subscriber", subscriberID),
			)
			return
		}
	}

	if IsWildcard(topic) {
		for existing, subs := range b.subscribers {
			if _, ok := subs[subscriberID]; !ok || IsWildcard(existing) || !Matches(topic, existing) {
				continue
			}
			delete(subs, subscriberID)
			b.logger.Info("wildcard subscription replaces specific subscription",
				zap.String("wildcard", topic),
				zap.String("removed", existing),
				zap.String("subscriber", subscriberID),
			)
			if len(subs) == 0 {
				delete(b.subscribers, existing)
			}
		}
	}

	if b.subscribers[topic] == nil {
		b.subscribers[topic] = make(map[string]Handler)
	}
	b.subscribers[topic][subscriberID] = handler
	b.logger.Debug("subscribed",
		zap.String("topic", topic),
		zap.String("subscriber", subscriberID),
	)
}

// Unsubscribe removes the (topic, subscriber) pairing. The topic entry is
// dropped entirely once it has no subscribers.
func (b *Broker) Unsubscribe(topic, subscriberID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[topic]
	if !ok {
		return
	}
	if _, ok := subs[subscriberID]; ok {
		delete(subs, subscriberID)
		b.logger.Debug("unsubscribed",
			zap.String("topic", topic),
			zap.String("subscriber", subscriberID),
		)
	}
	if len(subs) == 0 {
		delete(b.subscribers, topic)
	}
}

// Publish delivers msg to every subscriber whose registered pattern matches
// topic. A panicking subscriber is logged and does not prevent delivery to
// the remaining subscribers.
func (b *Broker) Publish(topic string, msg *types.Message) {
	b.mu.RLock()
	var handlers []Handler
	var ids []string
	for pattern, subs := range b.subscribers {
		if Matches(pattern, topic) {
			for id, h := range subs {
				handlers = append(handlers, h)
				ids = append(ids, id)
			}
		}
	}
	b.mu.RUnlock()

	if b.metrics != nil {
		b.metrics.PublishObserved(topic)
	}
	b.logger.Debug("publishing",
		zap.String("topic", topic),
		zap.Int("subscribers", len(handlers)),
	)
	for i, h := range handlers {
		b.dispatch(h, ids[i], topic, msg)
	}
}

func (b *Broker) dispatch(h Handler, subscriberID, topic string, msg *types.Message) {
	defer func() {
		if r := recover(); r != nil {
			if b.metrics != nil {
				b.metrics.DispatchErrorObserved(topic)
			}
			b.logger.Error("subscriber panicked during dispatch",
				zap.String("topic", topic),
				zap.String("subscriber", subscriberID),
				zap.Any("panic", r),
			)
		}
	}()
	h(topic, msg)
	if b.metrics != nil {
		b.metrics.DeliveryObserved(topic)
	}
}

// SubscribeOnce registers a transient subscription that delivers at most
// one message and then removes itself. If filter is non-nil, only an
// accepted message completes the waiter; rejected messages leave the
// subscription in place.
func (b *Broker) SubscribeOnce(topic string, filter func(*types.Message) bool) *Waiter {
	w := &Waiter{ch: make(chan *types.Message, 1)}
	id := "once-" + uuid.NewString()

	b.Subscribe(topic, id, func(_ string, msg *types.Message) {
		if filter != nil && !filter(msg) {
			return
		}
		if w.complete(msg) {
			b.Unsubscribe(topic, id)
		}
	})
	return w
}
