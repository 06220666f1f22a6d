// Package relay implements cross-process fanout over Redis pub/sub.
//
// Every process publishes processed messages on a per-target topic and subscribes once
// to the namespace-wide wildcard pattern. Incoming messages are dispatched to whichever
// connections the local process hosts for the parsed target.
package relay

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/BjornMelin/tripsage-ai-sub023/internal/keyspace"
	"github.com/BjornMelin/tripsage-ai-sub023/internal/metrics"
)

// Client is the subset of redis.Client the relay uses.
type Client interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	PSubscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// LocalIndex resolves a target to the connection IDs hosted by this process.
type LocalIndex interface {
	LocalTargets(targetType, targetID string) []string
}

// Delivery hands a serialized message to one locally hosted connection.
type Delivery func(connectionID string, payload []byte) error

// Relay publishes messages to their topics and listens on the wildcard subscription.
type Relay struct {
	client  Client
	ks      keyspace.Keyspace
	index   LocalIndex
	deliver Delivery

	// subscribe is swapped out in tests to feed messages without a live store.
	subscribe func(ctx context.Context) (<-chan *redis.Message, func() error)
}

// New creates a relay. client may be nil for local-only deployments, in which case
// Listen returns immediately and only direct Dispatch calls deliver messages.
func New(client Client, ks keyspace.Keyspace, index LocalIndex, deliver Delivery) *Relay {
	r := &Relay{client: client, ks: ks, index: index, deliver: deliver}
	if client != nil {
		r.subscribe = func(ctx context.Context) (<-chan *redis.Message, func() error) {
			sub := client.PSubscribe(ctx, ks.Pattern())
			return sub.Channel(), sub.Close
		}
	}
	return r
}

// Publish sends a serialized message on the topic for its target.
func (r *Relay) Publish(ctx context.Context, targetType, targetID string, payload []byte) error {
	return r.client.Publish(ctx, r.ks.Topic(targetType, targetID), payload).Err()
}

// Listen subscribes to the wildcard broadcast pattern and dispatches each received
// message locally. Blocks until ctx is cancelled. A failure in one message's delivery
// never stops the loop.
func (r *Relay) Listen(ctx context.Context) {
	if r.subscribe == nil {
		return
	}

	ch, closeSub := r.subscribe(ctx)
	defer func() {
		_ = closeSub()
	}()

	for {
		select {
		case msg, ok := <-ch:
			if !ok || msg == nil {
				return
			}
			r.Dispatch(msg.Channel, []byte(msg.Payload))
		case <-ctx.Done():
			return
		}
	}
}

// Dispatch hands one received message to every locally hosted connection it targets.
func (r *Relay) Dispatch(topic string, payload []byte) {
	targetType, targetID, ok := r.ks.ParseTopic(topic)
	if !ok {
		slog.Warn("Ignoring message on unrecognized topic", "topic", topic)
		return
	}
	metrics.PubSubMessagesReceived.WithLabelValues(targetType).Inc()

	for _, connectionID := range r.index.LocalTargets(targetType, targetID) {
		if err := r.deliver(connectionID, payload); err != nil {
			metrics.DeliveryFailures.Inc()
			slog.Warn("Local delivery failed",
				"connection_id", connectionID,
				"target_type", targetType,
				"error", err)
			continue
		}
		metrics.LocalDeliveries.Inc()
	}
}
