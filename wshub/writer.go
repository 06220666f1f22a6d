package wshub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

const (
	writeDeadline     = 5 * time.Second
	pingInterval      = 30 * time.Second
	pongDeadline      = 60 * time.Second
	messageBufferSize = 16
)

// connWriter owns all writes to one WebSocket connection. Messages are buffered on a
// channel and written by a single goroutine, so delivery never blocks the relay and
// no two goroutines write the socket concurrently.
type connWriter struct {
	connection  *websocket.Conn
	clock       clockwork.Clock
	sendChannel chan []byte
	doneChannel chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

func newConnWriter(connection *websocket.Conn, clock clockwork.Clock) *connWriter {
	cw := &connWriter{
		connection:  connection,
		clock:       clock,
		sendChannel: make(chan []byte, messageBufferSize),
		doneChannel: make(chan struct{}),
	}
	cw.configurePongHandler()
	cw.wg.Add(1)
	go cw.run()
	return cw
}

func (cw *connWriter) run() {
	ticker := cw.clock.NewTicker(pingInterval)
	defer ticker.Stop()
	defer cw.wg.Done()

	for {
		select {
		case msg, ok := <-cw.sendChannel:
			if !ok {
				return
			}
			cw.updateWriteDeadline()
			if err := cw.connection.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.Chan():
			cw.updateWriteDeadline()
			if err := cw.connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				// Ping failed - client likely disconnected
				return
			}
		case <-cw.doneChannel:
			return
		}
	}
}

// send queues a message without blocking. Returns false when the buffer is full,
// which marks the client as too slow to keep.
func (cw *connWriter) send(payload []byte) bool {
	select {
	case cw.sendChannel <- payload:
		return true
	default:
		return false
	}
}

func (cw *connWriter) stop() {
	cw.stopOnce.Do(func() {
		close(cw.doneChannel)
		_ = cw.connection.Close()
	})
	cw.wg.Wait()
}

// stopGraceful sends a close frame with reason before closing.
func (cw *connWriter) stopGraceful(reason string) {
	cw.stopOnce.Do(func() {
		// Stop the run goroutine first so the close frame is the only writer.
		close(cw.doneChannel)
		cw.wg.Wait()

		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		cw.updateWriteDeadline()
		_ = cw.connection.WriteMessage(websocket.CloseMessage, closeMsg)
		_ = cw.connection.Close()
	})
}

func (cw *connWriter) configurePongHandler() {
	cw.updateReadDeadline()
	cw.connection.SetPongHandler(func(string) error {
		cw.updateReadDeadline()
		return nil
	})
}

func (cw *connWriter) updateWriteDeadline() {
	_ = cw.connection.SetWriteDeadline(cw.clock.Now().Add(writeDeadline))
}

func (cw *connWriter) updateReadDeadline() {
	_ = cw.connection.SetReadDeadline(cw.clock.Now().Add(pongDeadline))
}
