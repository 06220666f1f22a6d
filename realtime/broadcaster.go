package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/BjornMelin/tripsage-ai-sub023/internal/coordination"
	"github.com/BjornMelin/tripsage-ai-sub023/internal/dedup"
	"github.com/BjornMelin/tripsage-ai-sub023/internal/keyspace"
	"github.com/BjornMelin/tripsage-ai-sub023/internal/metrics"
	"github.com/BjornMelin/tripsage-ai-sub023/internal/queue"
	"github.com/BjornMelin/tripsage-ai-sub023/internal/registry"
	"github.com/BjornMelin/tripsage-ai-sub023/internal/relay"
	"github.com/BjornMelin/tripsage-ai-sub023/internal/retry"
	"github.com/BjornMelin/tripsage-ai-sub023/internal/store"
)

// Delivery hands a serialized message to one locally hosted connection. The wshub
// package provides a WebSocket-backed implementation; any function with this shape
// works.
type Delivery func(connectionID string, payload []byte) error

// storeConn is the slice of the Redis client surface the broadcaster composes over.
type storeConn interface {
	queue.Commands
	registry.Commands
	relay.Client
	coordination.Commands
	Ping(ctx context.Context) *redis.StatusCmd
}

// Broadcaster fans application events out to WebSocket-connected clients, across
// processes when a shared store is configured. Construct with New, wire into the
// application explicitly, and inject where needed; there is no package-level instance.
type Broadcaster struct {
	cfg   Config
	clock clockwork.Clock
	ks    keyspace.Keyspace

	rdb       storeConn // nil in local-only mode
	closeConn func() error

	registry  *registry.Registry
	dedup     *dedup.Cache
	queue     *queue.Queue
	relay     *relay.Relay
	instances *coordination.InstanceRegistry
	processor *processor

	instanceID string

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a broadcaster. deliver receives every message addressed to a connection
// this process hosts; nil disables local delivery (a pure producer). An empty
// cfg.RedisURL selects local-only mode.
func New(cfg Config, deliver Delivery, clock clockwork.Clock) (*Broadcaster, error) {
	cfg = cfg.withDefaults()

	var rdb storeConn
	var closeConn func() error
	if cfg.RedisURL != "" {
		client, err := store.Open(cfg.RedisURL)
		if err != nil {
			return nil, ValidationError("invalid shared store URL").WithContext("url", cfg.RedisURL)
		}
		rdb = client.Underlying()
		closeConn = client.Close
	}

	b := newBroadcaster(cfg, rdb, deliver, clock)
	b.closeConn = closeConn
	return b, nil
}

// newBroadcaster wires the components over an already-open store connection.
func newBroadcaster(cfg Config, rdb storeConn, deliver Delivery, clock clockwork.Clock) *Broadcaster {
	if deliver == nil {
		deliver = func(string, []byte) error { return nil }
	}

	ks := keyspace.New(cfg.Namespace)
	reg := registry.New(rdb, ks, clock)

	b := &Broadcaster{
		cfg:        cfg,
		clock:      clock,
		ks:         ks,
		rdb:        rdb,
		registry:   reg,
		dedup:      dedup.New(cfg.DedupCapacity),
		relay:      relay.New(rdb, ks, reg, relay.Delivery(deliver)),
		instanceID: instanceID(),
	}

	if rdb != nil {
		b.queue = queue.New(rdb, ks.Queue())
		b.processor = &processor{
			queue:    b.queue,
			relay:    b.relay,
			clock:    clock,
			interval: cfg.PollInterval,
			batch:    cfg.BatchSize,
		}
		b.instances = coordination.NewInstanceRegistry(
			rdb, ks.Instances(), b.instanceID, cfg.HeartbeatInterval, cfg.Version, clock)
	}
	return b
}

// Start verifies the shared store and launches the queue processor, the pub/sub
// listener, and the instance heartbeat. With no store configured it logs a warning
// and runs local-only. ctx bounds startup only, not the background loops.
func (b *Broadcaster) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return InternalError("broadcaster already started", nil)
	}

	if b.rdb == nil {
		slog.Warn("No shared store configured, broadcasting in local-only mode",
			"namespace", b.cfg.Namespace)
		b.running = true
		return nil
	}

	policy := retry.Policy{
		MaxAttempts:    3,
		InitialBackoff: 200 * time.Millisecond,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.Warn("Shared store ping failed, retrying",
				"attempt", attempt, "backoff", backoff, "error", err)
		},
	}
	err := retry.DoVoid(ctx, policy, func(error) retry.Action { return retry.Retry }, func() error {
		return b.rdb.Ping(ctx).Err()
	})
	if err != nil {
		return UnavailableError("shared store unreachable at startup", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.done = make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		b.processor.run(runCtx)
	}()
	go func() {
		defer wg.Done()
		b.relay.Listen(runCtx)
	}()
	go func() {
		defer wg.Done()
		b.instances.Start(runCtx)
	}()
	go func() {
		wg.Wait()
		close(b.done)
	}()

	b.running = true
	slog.Info("Broadcaster started",
		"namespace", b.cfg.Namespace,
		"poll_interval", b.cfg.PollInterval,
		"batch_size", b.cfg.BatchSize)
	return nil
}

// Stop cancels the background loops, waits for the in-flight batch to finish, and
// releases the store connection.
func (b *Broadcaster) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return nil
	}
	b.running = false

	if b.cancel != nil {
		b.cancel()

		timeout := b.clock.NewTimer(b.cfg.StopTimeout)
		defer timeout.Stop()
		select {
		case <-b.done:
			slog.Info("Broadcaster stopped gracefully")
		case <-timeout.Chan():
			slog.Warn("Broadcaster stop timeout exceeded", "timeout", b.cfg.StopTimeout)
			return InternalError("background loops did not stop in time", nil)
		}
	}

	if b.closeConn != nil {
		if err := b.closeConn(); err != nil {
			return InternalError("failed to close store connection", err)
		}
	}
	return nil
}

// BroadcastToConnection sends an event to a single connection. Priority 0 means
// PriorityHigh. Returns true when the message was queued or already handled.
func (b *Broadcaster) BroadcastToConnection(ctx context.Context, connectionID string, event Event, priority int) (bool, error) {
	return b.broadcast(ctx, TargetConnection, connectionID, event, priority)
}

// BroadcastToUser sends an event to every connection of a user.
func (b *Broadcaster) BroadcastToUser(ctx context.Context, userID string, event Event, priority int) (bool, error) {
	return b.broadcast(ctx, TargetUser, userID, event, priority)
}

// BroadcastToSession sends an event to every connection of a session.
func (b *Broadcaster) BroadcastToSession(ctx context.Context, sessionID string, event Event, priority int) (bool, error) {
	return b.broadcast(ctx, TargetSession, sessionID, event, priority)
}

// BroadcastToChannel sends an event to every subscriber of a channel.
func (b *Broadcaster) BroadcastToChannel(ctx context.Context, channel string, event Event, priority int) (bool, error) {
	return b.broadcast(ctx, TargetChannel, channel, event, priority)
}

// BroadcastToAll sends an event to every connection. Priority 0 means PriorityMedium:
// system-wide announcements are rarely as latency-critical as direct replies.
func (b *Broadcaster) BroadcastToAll(ctx context.Context, event Event, priority int) (bool, error) {
	return b.broadcast(ctx, TargetBroadcast, "", event, priority)
}

func (b *Broadcaster) broadcast(ctx context.Context, targetType TargetType, targetID string, event Event, priority int) (bool, error) {
	msg, err := newMessage(targetType, targetID, event, priority, b.clock.Now())
	if err != nil {
		metrics.BroadcastsTotal.WithLabelValues(string(targetType), "failed").Inc()
		return false, err
	}

	if b.dedup.Seen(msg.ID) {
		metrics.DedupHits.Inc()
		metrics.BroadcastsTotal.WithLabelValues(string(targetType), "duplicate").Inc()
		slog.Debug("Suppressing duplicate broadcast", "message_id", msg.ID)
		return true, nil
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		metrics.BroadcastsTotal.WithLabelValues(string(targetType), "failed").Inc()
		return false, SerializationError("failed to encode broadcast message", err)
	}

	if b.rdb == nil {
		// Local-only mode: no queue to route through, hand straight to local delivery.
		b.relay.Dispatch(b.ks.Topic(string(targetType), targetID), payload)
		metrics.BroadcastsTotal.WithLabelValues(string(targetType), "local").Inc()
		return true, nil
	}

	if err := b.queue.Enqueue(ctx, string(payload), msg.score()); err != nil {
		metrics.BroadcastsTotal.WithLabelValues(string(targetType), "failed").Inc()
		slog.Error("Failed to enqueue broadcast", "message_id", msg.ID, "error", err)
		return false, UnavailableError("broadcast not queued", err).WithContext("message_id", msg.ID)
	}

	metrics.BroadcastsTotal.WithLabelValues(string(targetType), "queued").Inc()
	return true, nil
}

// RegisterConnection records a live connection for a user. sessionID may be empty;
// channels may be nil. Re-registering a connection ID overwrites the previous record.
func (b *Broadcaster) RegisterConnection(ctx context.Context, connectionID, userID, sessionID string, channels []string) error {
	return b.registry.Register(ctx, connectionID, userID, sessionID, channels)
}

// UnregisterConnection removes a connection everywhere it is referenced. Unknown
// connection IDs are a silent no-op.
func (b *Broadcaster) UnregisterConnection(ctx context.Context, connectionID string) error {
	return b.registry.Unregister(ctx, connectionID)
}

// SubscribeChannel adds a connection to a channel.
func (b *Broadcaster) SubscribeChannel(ctx context.Context, connectionID, channel string) error {
	return b.registry.Subscribe(ctx, connectionID, channel)
}

// UnsubscribeChannel removes a connection from a channel.
func (b *Broadcaster) UnsubscribeChannel(ctx context.Context, connectionID, channel string) error {
	return b.registry.Unsubscribe(ctx, connectionID, channel)
}

// ConnectionCount returns how many connections a target currently has. Target types
// are the TargetType string values; unknown types count zero, never error.
func (b *Broadcaster) ConnectionCount(ctx context.Context, targetType, targetID string) (int, error) {
	return b.registry.Count(ctx, targetType, targetID)
}

// ActiveInstances lists broadcaster instances with a recent heartbeat. In local-only
// mode this process is the only instance.
func (b *Broadcaster) ActiveInstances(ctx context.Context) ([]string, error) {
	if b.instances == nil {
		return []string{b.instanceID}, nil
	}
	return b.instances.ActiveInstances(ctx)
}

func instanceID() string {
	id := uuid.NewString()
	if host, err := os.Hostname(); err == nil && host != "" {
		return fmt.Sprintf("%s-%s", host, id[:8])
	}
	return id
}
