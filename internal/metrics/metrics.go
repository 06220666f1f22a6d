// Package metrics defines the Prometheus metrics exposed by the broadcast core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Broadcast Facade Metrics
var (
	// BroadcastsTotal tracks broadcast calls by target type and outcome
	BroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_calls_total",
			Help: "Broadcast calls by target type and outcome (queued/duplicate/local/failed)",
		},
		[]string{"target_type", "outcome"},
	)

	// DedupHits tracks broadcasts suppressed by the deduplication cache
	DedupHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcast_dedup_hits_total",
			Help: "Broadcasts suppressed as duplicates",
		},
	)
)

// Queue Metrics
var (
	// QueueDepth tracks current number of pending messages in the shared queue
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "broadcast_queue_depth",
			Help: "Pending messages in the shared broadcast queue",
		},
	)

	// MessagesProcessed tracks messages drained from the queue and published
	MessagesProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcast_messages_processed_total",
			Help: "Messages drained from the queue and published",
		},
	)

	// MessagesExpired tracks messages discarded because their expiry had passed
	MessagesExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcast_messages_expired_total",
			Help: "Messages discarded at processing time because they had expired",
		},
	)

	// PoisonMessages tracks malformed queue entries dropped without publishing
	PoisonMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcast_poison_messages_total",
			Help: "Malformed queue entries dropped without publishing",
		},
	)

	// PublishFailures tracks pub/sub publish errors during queue processing
	PublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcast_publish_failures_total",
			Help: "Pub/sub publish errors during queue processing",
		},
	)
)

// Relay Metrics
var (
	// PubSubMessagesReceived tracks messages received on the wildcard subscription
	PubSubMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_pubsub_messages_received_total",
			Help: "Messages received on the wildcard broadcast subscription by target type",
		},
		[]string{"target_type"},
	)

	// LocalDeliveries tracks messages handed to local connections
	LocalDeliveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcast_local_deliveries_total",
			Help: "Messages handed to locally hosted connections",
		},
	)

	// DeliveryFailures tracks local delivery callback errors
	DeliveryFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcast_delivery_failures_total",
			Help: "Local delivery callback errors",
		},
	)
)

// Registry Metrics
var (
	// RegistryLocalConnections tracks connections registered with this process
	RegistryLocalConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "broadcast_registry_local_connections",
			Help: "Connections currently registered with this process",
		},
	)
)
