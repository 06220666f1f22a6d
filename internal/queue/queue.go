// Package queue implements the shared priority queue of pending broadcast messages.
//
// The queue is a Redis sorted set: members are serialized messages, scores encode
// priority with a creation-time tie-break. Reads are non-destructive; entries are
// removed only after processing, which gives at-least-once semantics across
// cooperating processes without any distributed locking.
package queue

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Commands is the subset of redis.Client the queue uses.
type Commands interface {
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	ZRangeWithScores(ctx context.Context, key string, start, stop int64) *redis.ZSliceCmd
	ZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	ZCard(ctx context.Context, key string) *redis.IntCmd
}

// Entry is one queued message with its ordering score.
type Entry struct {
	Member string
	Score  float64
}

// Queue is a cross-process priority queue backed by a sorted set.
type Queue struct {
	rdb Commands
	key string
}

// New creates a queue over the given sorted-set key.
func New(rdb Commands, key string) *Queue {
	return &Queue{rdb: rdb, key: key}
}

// Enqueue inserts a serialized message with the given score.
func (q *Queue) Enqueue(ctx context.Context, member string, score float64) error {
	if err := q.rdb.ZAdd(ctx, q.key, redis.Z{Score: score, Member: member}).Err(); err != nil {
		return fmt.Errorf("failed to enqueue broadcast message: %w", err)
	}
	return nil
}

// Peek returns up to n lowest-score entries without removing them.
func (q *Queue) Peek(ctx context.Context, n int) ([]Entry, error) {
	zs, err := q.rdb.ZRangeWithScores(ctx, q.key, 0, int64(n)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read broadcast queue: %w", err)
	}

	entries := make([]Entry, 0, len(zs))
	for _, z := range zs {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		entries = append(entries, Entry{Member: member, Score: z.Score})
	}
	return entries, nil
}

// Remove deletes an exact entry. Removing an entry that is already gone (another
// process got there first) is not an error.
func (q *Queue) Remove(ctx context.Context, member string) error {
	if err := q.rdb.ZRem(ctx, q.key, member).Err(); err != nil {
		return fmt.Errorf("failed to remove broadcast message: %w", err)
	}
	return nil
}

// Len returns the number of pending entries.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.rdb.ZCard(ctx, q.key).Result()
}
