// Package coordination tracks the broadcaster instances sharing one namespace.
package coordination

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

// activeWindow is how long after its last heartbeat an instance counts as alive.
const activeWindow = 60 * time.Second

// Commands is the subset of redis.Client the registry uses.
type Commands interface {
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

// InstanceRegistry tracks active broadcaster instances in the shared store.
// Each instance sends periodic heartbeats to a shared hash; instances without a
// heartbeat inside the active window are considered gone.
type InstanceRegistry struct {
	rdb        Commands
	key        string
	instanceID string
	heartbeat  time.Duration
	version    string
	clock      clockwork.Clock
}

// InstanceInfo holds metadata about an instance.
type InstanceInfo struct {
	InstanceID string `json:"instance_id"`
	Timestamp  int64  `json:"timestamp"`
	Version    string `json:"version"`
}

// NewInstanceRegistry creates a registry. instanceID must be unique per process
// (e.g. hostname plus a random suffix).
func NewInstanceRegistry(rdb Commands, key, instanceID string, heartbeat time.Duration, version string, clock clockwork.Clock) *InstanceRegistry {
	return &InstanceRegistry{
		rdb:        rdb,
		key:        key,
		instanceID: instanceID,
		heartbeat:  heartbeat,
		version:    version,
		clock:      clock,
	}
}

// Start begins the heartbeat loop. Registers immediately, then refreshes on the
// ticker interval. Blocks until ctx is cancelled, then unregisters and returns.
func (r *InstanceRegistry) Start(ctx context.Context) {
	r.register(ctx)

	ticker := r.clock.NewTicker(r.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			r.register(ctx)
		case <-ctx.Done():
			r.unregister()
			return
		}
	}
}

func (r *InstanceRegistry) register(ctx context.Context) {
	value := InstanceInfo{
		InstanceID: r.instanceID,
		Timestamp:  r.clock.Now().Unix(),
		Version:    r.version,
	}

	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	r.rdb.HSet(ctx, r.key, r.instanceID, data)
}

// unregister removes this instance from the hash during graceful shutdown. The run
// context is already cancelled by the time we get here, so use a fresh one.
func (r *InstanceRegistry) unregister() {
	r.rdb.HDel(context.Background(), r.key, r.instanceID)
}

// ActiveInstances returns the IDs of instances with a heartbeat inside the window.
func (r *InstanceRegistry) ActiveInstances(ctx context.Context) ([]string, error) {
	instances, err := r.rdb.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, err
	}

	active := []string{}
	now := r.clock.Now().Unix()

	for instanceID, data := range instances {
		var info InstanceInfo
		if err := json.Unmarshal([]byte(data), &info); err != nil {
			continue
		}
		if now-info.Timestamp < int64(activeWindow/time.Second) {
			active = append(active, instanceID)
		}
	}

	return active, nil
}
