// Package wshub delivers broadcast messages to WebSocket connections on this process.
//
// The hub is the local end of the broadcast pipeline: the accept loop (owned by the
// application) attaches upgraded connections under their connection IDs, and the
// broadcaster's relay pushes payloads through Deliver. Each connection gets a buffered
// writer goroutine; clients that cannot keep up are dropped rather than allowed to
// stall the fanout.
package wshub

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

// Hub tracks the WebSocket connections hosted by this process.
type Hub struct {
	clock clockwork.Clock

	mu      sync.RWMutex
	writers map[string]*connWriter
}

// New creates an empty hub.
func New(clock clockwork.Clock) *Hub {
	return &Hub{
		clock:   clock,
		writers: make(map[string]*connWriter),
	}
}

// Attach takes ownership of a connection's write side under the given ID. Attaching
// an ID that is already present replaces and closes the previous connection.
func (h *Hub) Attach(connectionID string, conn *websocket.Conn) {
	writer := newConnWriter(conn, h.clock)

	h.mu.Lock()
	old, existed := h.writers[connectionID]
	h.writers[connectionID] = writer
	h.mu.Unlock()

	if existed {
		old.stop()
		slog.Debug("Replaced existing connection", "connection_id", connectionID)
	}
}

// Detach closes and forgets a connection. Unknown IDs are a no-op.
func (h *Hub) Detach(connectionID string) {
	h.mu.Lock()
	writer, ok := h.writers[connectionID]
	delete(h.writers, connectionID)
	h.mu.Unlock()

	if ok {
		writer.stop()
	}
}

// Deliver queues a payload for one connection. Satisfies realtime.Delivery. A client
// whose buffer is full is disconnected; better to lose one slow consumer than to
// hold up delivery for everyone else.
func (h *Hub) Deliver(connectionID string, payload []byte) error {
	h.mu.RLock()
	writer, ok := h.writers[connectionID]
	h.mu.RUnlock()

	if !ok {
		return fmt.Errorf("connection %s is not attached", connectionID)
	}

	if !writer.send(payload) {
		slog.Warn("Disconnecting slow client", "connection_id", connectionID)
		h.Detach(connectionID)
		return fmt.Errorf("connection %s too slow, dropped", connectionID)
	}
	return nil
}

// Len returns the number of attached connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.writers)
}

// Close disconnects every attached connection with a close frame.
func (h *Hub) Close(reason string) {
	h.mu.Lock()
	writers := h.writers
	h.writers = make(map[string]*connWriter)
	h.mu.Unlock()

	for connectionID, writer := range writers {
		writer.stopGraceful(reason)
		slog.Debug("Connection closed", "connection_id", connectionID)
	}
}
