// internal/transport/websocket.go
// Message framing over gorilla websocket connections, one binary websocket message per message.
package transport

import (
	"sync"
	"time"

	"github.com/erilali/place/internal/message"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

const (
	webSocketReadDeadline  = 60 * time.Second
	webSocketWriteDeadline = 10 * time.Second
	webSocketPingPeriod    = (webSocketReadDeadline * 9) / 10 // Must be less than readDeadline
)

// ErrUnexpectedFrame is returned when the peer sends a text websocket message.
var ErrUnexpectedFrame = errors.New("transport: expected binary websocket message")

// WebSocket adapts a *websocket.Conn to Conn.
type WebSocket struct {
	conn      *websocket.Conn
	keepAlive bool

	wmu       sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// WebSocketCfg configures a WebSocket.
type WebSocketCfg func(*WebSocket)

// WithReadLimit caps the size of messages read from the peer.
func WithReadLimit(n int64) WebSocketCfg {
	return func(w *WebSocket) {
		w.conn.SetReadLimit(n)
	}
}

// WithKeepAlive makes the connection ping the peer periodically and drop it
// when no pong arrives within the read deadline. Servers enable it.
func WithKeepAlive() WebSocketCfg {
	return func(w *WebSocket) {
		w.keepAlive = true
	}
}

// NewWebSocket wraps c.
func NewWebSocket(c *websocket.Conn, cfgs ...WebSocketCfg) *WebSocket {
	w := &WebSocket{
		conn: c,
		done: make(chan struct{}),
	}
	c.SetReadLimit(MaxFrameSize)
	for _, cfg := range cfgs {
		cfg(w)
	}
	if w.keepAlive {
		_ = c.SetReadDeadline(time.Now().Add(webSocketReadDeadline))
		c.SetPongHandler(func(string) error {
			return c.SetReadDeadline(time.Now().Add(webSocketReadDeadline))
		})
		go w.pingLoop()
	}
	return w
}

func (w *WebSocket) pingLoop() {
	ticker := time.NewTicker(webSocketPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(webSocketWriteDeadline)
			if err := w.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return // Client connection is likely broken
			}
		}
	}
}

// Send encodes m and writes it as one binary message.
func (w *WebSocket) Send(m message.Message) error {
	body, err := message.Encode(m)
	if err != nil {
		return errors.Wrap(err, "encode message failed")
	}
	w.wmu.Lock()
	defer w.wmu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(webSocketWriteDeadline))
	if err := w.conn.WriteMessage(websocket.BinaryMessage, body); err != nil {
		return errors.Wrap(err, "write websocket message failed")
	}
	return nil
}

// Receive reads the next binary message and decodes it.
func (w *WebSocket) Receive() (message.Message, error) {
	kind, body, err := w.conn.ReadMessage()
	if err != nil {
		return nil, errors.Wrap(err, "read websocket message failed")
	}
	if kind != websocket.BinaryMessage {
		return nil, ErrUnexpectedFrame
	}
	m, err := message.Decode(body)
	if err != nil {
		return nil, errors.Wrap(err, "decode message failed")
	}
	return m, nil
}

// Close sends a close frame when possible and closes the connection.
func (w *WebSocket) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		deadline := time.Now().Add(time.Second)
		_ = w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = w.conn.Close()
	})
	return err
}

// RemoteAddr returns the peer address.
func (w *WebSocket) RemoteAddr() string {
	if addr := w.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
