package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BjornMelin/tripsage-ai-sub023/internal/keyspace"
	"github.com/BjornMelin/tripsage-ai-sub023/internal/queue"
	"github.com/BjornMelin/tripsage-ai-sub023/internal/registry"
	"github.com/BjornMelin/tripsage-ai-sub023/internal/relay"
)

func testProcessor(fake *fakeStore, clock clockwork.Clock) *processor {
	ks := keyspace.New("test")
	q := queue.New(fake, ks.Queue())
	return &processor{
		queue:    q,
		relay:    relay.New(fake, ks, registry.New(fake, ks, clock), nil),
		clock:    clock,
		interval: 10 * time.Millisecond,
		batch:    10,
	}
}

func enqueueMessage(t *testing.T, fake *fakeStore, msg *Message) {
	t.Helper()
	payload, err := json.Marshal(msg)
	require.NoError(t, err)
	q := queue.New(fake, keyspace.New("test").Queue())
	require.NoError(t, q.Enqueue(context.Background(), string(payload), msg.score()))
}

func TestProcessorPublishesByPriority(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	fake := newFakeStore()
	p := testProcessor(fake, clock)

	now := clock.Now()
	// The low-priority message is older, yet the high-priority one goes out first.
	low, err := newMessage(TargetUser, "u1", Event(`{"id":"old"}`), PriorityLow, now.Add(-time.Hour))
	require.NoError(t, err)
	high, err := newMessage(TargetChannel, "prices", Event(`{"id":"new"}`), PriorityHigh, now)
	require.NoError(t, err)
	enqueueMessage(t, fake, low)
	enqueueMessage(t, fake, high)

	processed := p.drainOnce(ctx)
	assert.Equal(t, 2, processed)

	published := fake.publishedMsgs()
	require.Len(t, published, 2)
	assert.Equal(t, "test:broadcast:channel:prices", published[0].topic)
	assert.Equal(t, "test:broadcast:user:u1", published[1].topic)
	assert.Zero(t, fake.queueLen())
}

func TestProcessorFIFOWithinPriority(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	fake := newFakeStore()
	p := testProcessor(fake, clock)

	now := clock.Now()
	first, err := newMessage(TargetUser, "u1", Event(`{"id":"first"}`), PriorityMedium, now.Add(-2*time.Second))
	require.NoError(t, err)
	second, err := newMessage(TargetUser, "u2", Event(`{"id":"second"}`), PriorityMedium, now)
	require.NoError(t, err)
	enqueueMessage(t, fake, second)
	enqueueMessage(t, fake, first)

	p.drainOnce(ctx)

	published := fake.publishedMsgs()
	require.Len(t, published, 2)
	assert.Equal(t, "test:broadcast:user:u1", published[0].topic)
	assert.Equal(t, "test:broadcast:user:u2", published[1].topic)
}

func TestProcessorDiscardsExpired(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	fake := newFakeStore()
	p := testProcessor(fake, clock)

	msg, err := newMessage(TargetUser, "u1", Event(`{"id":"stale"}`), PriorityHigh, clock.Now().Add(-time.Hour))
	require.NoError(t, err)
	deadline := clock.Now().Add(-time.Minute)
	msg.ExpiresAt = &deadline
	enqueueMessage(t, fake, msg)

	p.drainOnce(ctx)

	assert.Empty(t, fake.publishedMsgs())
	assert.Zero(t, fake.queueLen(), "expired entries are still removed")
}

func TestProcessorIsolatesPoisonEntries(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	fake := newFakeStore()
	p := testProcessor(fake, clock)

	q := queue.New(fake, keyspace.New("test").Queue())
	require.NoError(t, q.Enqueue(ctx, "not json at all", 1))

	msg, err := newMessage(TargetUser, "u1", Event(`{"id":"good"}`), PriorityMedium, clock.Now())
	require.NoError(t, err)
	enqueueMessage(t, fake, msg)

	p.drainOnce(ctx)

	// The malformed entry is dropped without blocking the healthy one behind it.
	published := fake.publishedMsgs()
	require.Len(t, published, 1)
	assert.Equal(t, "test:broadcast:user:u1", published[0].topic)
	assert.Zero(t, fake.queueLen())
}

func TestProcessorRunStopsOnCancel(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := testProcessor(newFakeStore(), clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.run(ctx)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("processor did not stop after cancellation")
	}
}
