package realtime

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config controls a Broadcaster. The zero value works for single-process deployments:
// New applies the documented defaults to any zero field, and an empty RedisURL selects
// local-only mode.
type Config struct {
	// RedisURL points at the shared store (Redis/Dragonfly). Empty means local-only
	// mode: no cross-process fanout, broadcasts deliver to this process's connections.
	RedisURL string `env:"BROADCAST_REDIS_URL"`

	// Namespace prefixes every key and topic in the shared store.
	Namespace string `env:"BROADCAST_NAMESPACE" envDefault:"tripsage:websocket"`

	// PollInterval is the queue processor's idle wait between empty polls.
	PollInterval time.Duration `env:"BROADCAST_POLL_INTERVAL" envDefault:"100ms"`

	// BatchSize is the maximum number of messages drained per queue poll.
	BatchSize int `env:"BROADCAST_BATCH_SIZE" envDefault:"10"`

	// DedupCapacity bounds the in-process cache of recently broadcast message IDs.
	DedupCapacity int `env:"BROADCAST_DEDUP_CAPACITY" envDefault:"10000"`

	// HeartbeatInterval controls how often this instance refreshes its registration.
	HeartbeatInterval time.Duration `env:"BROADCAST_HEARTBEAT_INTERVAL" envDefault:"15s"`

	// StopTimeout bounds how long Stop waits for background loops to drain.
	StopTimeout time.Duration `env:"BROADCAST_STOP_TIMEOUT" envDefault:"10s"`

	// Version is reported in this instance's heartbeat record.
	Version string `env:"BROADCAST_VERSION" envDefault:"dev"`
}

// LoadConfig reads configuration from the environment.
func LoadConfig() (Config, error) {
	return env.ParseAs[Config]()
}

func (c Config) withDefaults() Config {
	if c.Namespace == "" {
		c.Namespace = "tripsage:websocket"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.DedupCapacity <= 0 {
		c.DedupCapacity = 10000
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 15 * time.Second
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 10 * time.Second
	}
	if c.Version == "" {
		c.Version = "dev"
	}
	return c
}
