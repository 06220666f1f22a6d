package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/BjornMelin/tripsage-ai-sub023/internal/metrics"
	"github.com/BjornMelin/tripsage-ai-sub023/internal/queue"
	"github.com/BjornMelin/tripsage-ai-sub023/internal/relay"
)

// processor drains the shared queue in priority order and republishes each message on
// its pub/sub topic. Entries are removed only after processing, so a crash mid-batch
// leaves them for another process: at-least-once, deduplicated upstream.
type processor struct {
	queue    *queue.Queue
	relay    *relay.Relay
	clock    clockwork.Clock
	interval time.Duration
	batch    int
}

// run polls until ctx is cancelled. A full batch triggers an immediate re-poll; an
// empty one waits out the poll interval. The in-flight batch always completes before
// exit.
func (p *processor) run(ctx context.Context) {
	for {
		processed := p.drainOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if processed > 0 {
			continue
		}
		select {
		case <-p.clock.After(p.interval):
		case <-ctx.Done():
			return
		}
	}
}

func (p *processor) drainOnce(ctx context.Context) int {
	entries, err := p.queue.Peek(ctx, p.batch)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("Failed to poll broadcast queue", "error", err)
		}
		return 0
	}

	for _, entry := range entries {
		p.process(ctx, entry)
	}

	if depth, err := p.queue.Len(ctx); err == nil {
		metrics.QueueDepth.Set(float64(depth))
	}
	return len(entries)
}

// process publishes one entry and removes it. The entry is removed even when
// processing fails: a poison message must never stall the queue for everyone else.
func (p *processor) process(ctx context.Context, entry queue.Entry) {
	defer func() {
		if err := p.queue.Remove(ctx, entry.Member); err != nil {
			slog.Warn("Failed to remove processed queue entry", "error", err)
		}
	}()

	var msg Message
	if err := json.Unmarshal([]byte(entry.Member), &msg); err != nil {
		metrics.PoisonMessages.Inc()
		slog.Warn("Dropping malformed queue entry", "error", err)
		return
	}

	if msg.expired(p.clock.Now()) {
		metrics.MessagesExpired.Inc()
		slog.Debug("Discarding expired message", "message_id", msg.ID)
		return
	}

	if err := p.relay.Publish(ctx, string(msg.TargetType), msg.TargetID, []byte(entry.Member)); err != nil {
		metrics.PublishFailures.Inc()
		slog.Error("Failed to publish broadcast message",
			"message_id", msg.ID,
			"target_type", msg.TargetType,
			"error", err)
		return
	}
	metrics.MessagesProcessed.Inc()
}
