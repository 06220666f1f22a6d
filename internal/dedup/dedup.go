// Package dedup tracks recently processed broadcast message IDs.
package dedup

import (
	"container/list"
	"sync"
)

// Cache is a bounded LRU set of message IDs. Inserting beyond capacity evicts the
// least recently seen entry, so memory stays flat regardless of broadcast volume.
// An evicted ID that reappears is treated as new; that only re-enables a message
// that was already delivered, which is harmless for this domain.
type Cache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recently seen
	index    map[string]*list.Element
}

// New creates a cache holding at most capacity IDs. Capacity must be positive.
func New(capacity int) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element),
	}
}

// Seen reports whether id has been seen before, recording it as seen either way.
// A hit refreshes the entry's recency.
func (c *Cache) Seen(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[id]; ok {
		c.order.MoveToFront(el)
		return true
	}

	c.index[id] = c.order.PushFront(id)
	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.index, oldest.Value.(string))
	}
	return false
}

// Len returns the number of tracked IDs.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
