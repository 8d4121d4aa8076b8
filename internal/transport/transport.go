// Package transport moves whole messages over a persistent connection.
//
// Two framings are supported: one message per binary websocket message, and a
// uint32 big-endian length prefix on a raw byte stream such as TCP. Callers
// never see partial messages; a corrupt or truncated frame is returned as an
// error and the connection should be dropped.
package transport

import (
	"io"
	"net"

	"github.com/erilali/place/internal/message"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// MaxFrameSize bounds a single encoded message.
const MaxFrameSize = 64 << 20

// MaxGridDim is the widest square grid whose snapshot fits in one frame even
// when every cell carries an owner of message.MaxOwnerLen bytes.
var MaxGridDim = maxGridDim(MaxFrameSize)

func maxGridDim(frame int) int {
	cells := (frame - message.SnapshotHeaderSize) / message.MaxCellSize
	if cells > message.MaxCells {
		cells = message.MaxCells
	}
	d := 0
	for (d+1)*(d+1) <= cells {
		d++
	}
	return d
}

// ErrFrameTooLarge is returned when a frame exceeds the configured limit.
var ErrFrameTooLarge = errors.New("transport: frame too large")

// Conn carries messages in both directions.
//
// Receive must only be called from one goroutine at a time. Send is safe for
// concurrent use and may run alongside Receive.
type Conn interface {
	Send(m message.Message) error
	Receive() (message.Message, error)
	Close() error
	RemoteAddr() string
}

// IsClosed reports whether err is an ordinary end of connection rather than a fault.
func IsClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code == websocket.CloseNormalClosure ||
			ce.Code == websocket.CloseGoingAway ||
			ce.Code == websocket.CloseNoStatusReceived
	}
	return false
}
