// internal/transport/stream.go
// Length-prefixed message framing over a raw byte stream.
package transport

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"
	"sync"

	"github.com/erilali/place/internal/message"
	"github.com/pkg/errors"
)

const frameHeaderSize = 4

// Stream frames messages on a net.Conn.
type Stream struct {
	conn     net.Conn
	r        *bufio.Reader
	maxFrame int

	wmu sync.Mutex
}

// StreamCfg configures a Stream.
type StreamCfg func(*Stream)

// WithMaxFrame overrides MaxFrameSize for frames read from the peer.
func WithMaxFrame(n int) StreamCfg {
	return func(s *Stream) {
		s.maxFrame = n
	}
}

// NewStream wraps c.
func NewStream(c net.Conn, cfgs ...StreamCfg) *Stream {
	s := &Stream{
		conn:     c,
		r:        bufio.NewReader(c),
		maxFrame: MaxFrameSize,
	}
	for _, cfg := range cfgs {
		cfg(s)
	}
	return s
}

// Send encodes m and writes it as one frame.
func (s *Stream) Send(m message.Message) error {
	body, err := message.Encode(m)
	if err != nil {
		return errors.Wrap(err, "encode message failed")
	}
	if len(body) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	frame := make([]byte, frameHeaderSize+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[frameHeaderSize:], body)

	s.wmu.Lock()
	defer s.wmu.Unlock()
	if _, err := s.conn.Write(frame); err != nil {
		return errors.Wrap(err, "write frame failed")
	}
	return nil
}

// Receive blocks until a whole frame has arrived and decodes it.
func (s *Stream) Receive() (message.Message, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(s.r, header[:]); err != nil {
		return nil, errors.Wrap(err, "read frame header failed")
	}
	n := binary.BigEndian.Uint32(header[:])
	if uint64(n) > uint64(s.maxFrame) {
		return nil, ErrFrameTooLarge
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(s.r, body); err != nil {
		return nil, errors.Wrap(err, "read frame body failed")
	}
	m, err := message.Decode(body)
	if err != nil {
		return nil, errors.Wrap(err, "decode message failed")
	}
	return m, nil
}

// Close closes the underlying connection.
func (s *Stream) Close() error {
	return s.conn.Close()
}

// RemoteAddr returns the peer address.
func (s *Stream) RemoteAddr() string {
	if addr := s.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
