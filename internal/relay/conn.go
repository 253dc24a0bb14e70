package relay

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"
)

// conn wraps one client connection with a bounded outbound queue.
// Owned by the hub; the hub must Close() it.
type conn struct {
	ws   *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

var errBackpressure = errors.New("backpressure")

func newConn(ws *websocket.Conn, buffer int) *conn {
	return &conn{
		ws:   ws,
		send: make(chan []byte, buffer),
	}
}

// trySend enqueues without blocking; a full queue means the client is
// too slow and the hub decides what to do with it.
func (c *conn) trySend(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- data:
	default:
		return errBackpressure
	}
	return nil
}

func (c *conn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.ws.Close()
	c.mu.Unlock()
}
