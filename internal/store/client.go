// Package store wraps the Redis client used as the shared coordination backend.
package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Client wraps a go-redis client with convenience methods.
type Client struct {
	rdb *redis.Client
}

// Open creates a new client from a URL (e.g. "redis://localhost:6379").
// The URL syntax also covers Dragonfly and other RESP-compatible stores.
func Open(url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	rdb := redis.NewClient(opts)
	return &Client{rdb: rdb}, nil
}

// Ping verifies the connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Underlying returns the raw go-redis client.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}
