// internal/hub/client.go
package hub

import (
	"sync"
	"time"

	"github.com/erilali/place/internal/logger"
	"github.com/erilali/place/internal/message"
	"github.com/erilali/place/internal/transport"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// flushTimeout bounds how long a closing handler waits for queued messages to go out.
const flushTimeout = 2 * time.Second

var (
	// ErrClientClosed is returned when delivering to a client that has gone away.
	ErrClientClosed = errors.New("client closed")

	// ErrSlowClient is returned when a client's outbound queue is full.
	ErrSlowClient = errors.New("client send queue full")
)

// Client represents one connection: its transport and its outbound queue.
type Client struct {
	ID          uuid.UUID
	Identity    string
	Conn        transport.Conn
	ConnectedAt time.Time

	mu     sync.Mutex
	send   chan message.Message
	closed bool
	done   chan struct{}
}

func newClient(conn transport.Conn, queue int) *Client {
	return &Client{
		ID:          uuid.New(),
		Conn:        conn,
		ConnectedAt: time.Now(),
		send:        make(chan message.Message, queue),
		done:        make(chan struct{}),
	}
}

// Deliver queues m for the write pump without blocking.
func (c *Client) Deliver(m message.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.send <- m:
		return nil
	default:
		return ErrSlowClient
	}
}

// Close stops accepting messages. Already queued messages are still written,
// then the write pump closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	return nil
}

// WritePump writes queued messages to the connection until the queue is
// closed or a write fails. It always closes the connection on the way out.
func (c *Client) WritePump(log *logger.Logger) {
	defer func() {
		c.Conn.Close()
		close(c.done)
	}()
	for m := range c.send {
		if err := c.Conn.Send(m); err != nil {
			if !transport.IsClosed(err) {
				log.Errorf("Write error: %v", err)
			}
			_ = c.Close()
			return
		}
	}
}

// flush closes the queue and waits, up to flushTimeout, for the write pump to drain it.
func (c *Client) flush() {
	_ = c.Close()
	t := time.NewTimer(flushTimeout)
	defer t.Stop()
	select {
	case <-c.done:
	case <-t.C:
	}
	c.Conn.Close()
}
