// Package client implements the client side of the place protocol: the login
// handshake, a local mirror of the grid, and the paced outbound change path.
package client

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/erilali/place/internal/board"
	"github.com/erilali/place/internal/logger"
	"github.com/erilali/place/internal/message"
	"github.com/erilali/place/internal/pace"
	"github.com/erilali/place/internal/transport"
	"github.com/pkg/errors"
)

// DefaultChangeInterval is the minimum spacing between two outbound changes.
const DefaultChangeInterval = 500 * time.Millisecond

// State is the lifecycle of a Session.
type State int32

const (
	StateSendingLogin State = iota
	StateAwaitingLoginAck
	StateAwaitingSnapshot
	StateStreaming
	StateClosed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateSendingLogin:
		return "SendingLogin"
	case StateAwaitingLoginAck:
		return "AwaitingLoginAck"
	case StateAwaitingSnapshot:
		return "AwaitingSnapshot"
	case StateStreaming:
		return "Streaming"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Session is one client connection to a place server.
//
// Login must complete before Run and Change are used. After that Run and
// Change may be called from different goroutines and never wait on each other.
type Session struct {
	identity string
	conn     transport.Conn
	log      *logger.Logger
	gate     *pace.Gate
	interval time.Duration
	onChange func(board.Cell)
	onReject func(reason string)

	state   atomic.Int32
	mirror  *board.Grid
	welcome string

	closeOnce sync.Once
	done      chan struct{}
}

// Cfg configures a Session.
type Cfg func(*Session) error

// WithChangeInterval sets the minimum spacing between outbound changes.
func WithChangeInterval(d time.Duration) Cfg {
	return func(s *Session) error {
		if d < 0 {
			return errors.New("change interval must not be negative")
		}
		s.interval = d
		return nil
	}
}

// WithLogger sets the session logger.
func WithLogger(l *logger.Logger) Cfg {
	return func(s *Session) error {
		s.log = l
		return nil
	}
}

// OnChange registers fn to be called once for every broadcast applied to the mirror.
// It runs on the goroutine calling Run.
func OnChange(fn func(board.Cell)) Cfg {
	return func(s *Session) error {
		s.onChange = fn
		return nil
	}
}

// OnReject registers fn to be called when the server refuses one of our changes.
func OnReject(fn func(reason string)) Cfg {
	return func(s *Session) error {
		s.onReject = fn
		return nil
	}
}

// NewSession creates a Session for identity over an established connection.
func NewSession(conn transport.Conn, identity string, cfgs ...Cfg) (*Session, error) {
	if identity == "" {
		return nil, errors.New("identity must not be empty")
	}
	s := &Session{
		identity: identity,
		conn:     conn,
		interval: DefaultChangeInterval,
		done:     make(chan struct{}),
	}
	for _, cfg := range cfgs {
		if err := cfg(s); err != nil {
			return nil, errors.Wrap(err, "apply Session cfg failed")
		}
	}
	if s.log == nil {
		s.log = logger.NewLogger("client")
	}
	s.log = s.log.WithField("identity", identity)
	s.gate = pace.NewGate(s.interval)
	s.state.Store(int32(StateSendingLogin))
	return s, nil
}

// Dial connects to a server and returns a Session ready for Login.
func Dial(ctx context.Context, kind transport.Kind, host string, port uint16, identity string, cfgs ...Cfg) (*Session, error) {
	conn, err := transport.Dial(ctx, kind, host, port)
	if err != nil {
		return nil, err
	}
	s, err := NewSession(conn, identity, cfgs...)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// State returns the current state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Identity returns the name the session logs in with.
func (s *Session) Identity() string {
	return s.identity
}

// Welcome returns the text of the server's LoginAccepted.
func (s *Session) Welcome() string {
	return s.welcome
}

// Grid returns the local mirror. It is nil until Login succeeds.
func (s *Session) Grid() *board.Grid {
	if s.State() < StateStreaming {
		return nil
	}
	return s.mirror
}

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Login performs the handshake: it sends the identity, waits for the server
// to accept it, and installs the grid snapshot as the mirror. Any failure
// closes the session.
func (s *Session) Login(ctx context.Context) (err error) {
	if !s.state.CompareAndSwap(int32(StateSendingLogin), int32(StateAwaitingLoginAck)) {
		return errors.Errorf("login not allowed in state %s", s.State())
	}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()
	stop := s.closeOnCancel(ctx)
	defer stop()

	if err := s.conn.Send(message.Login{Identity: s.identity}); err != nil {
		return errors.Wrap(err, "send login failed")
	}

	m, err := s.conn.Receive()
	if err != nil {
		return errors.Wrap(err, "receive login reply failed")
	}
	switch v := m.(type) {
	case message.LoginAccepted:
		s.welcome = v.Text
	case message.LoginRejected:
		return &RejectedError{Reason: v.Reason}
	default:
		return message.Unexpected(m, message.TypeLoginAccepted, message.TypeLoginRejected)
	}
	s.state.Store(int32(StateAwaitingSnapshot))

	m, err = s.conn.Receive()
	if err != nil {
		return errors.Wrap(err, "receive snapshot failed")
	}
	snap, ok := m.(message.GridSnapshot)
	if !ok {
		return message.Unexpected(m, message.TypeGridSnapshot)
	}
	mirror, err := board.NewGrid(snap.Width, snap.Height)
	if err != nil {
		return errors.Wrap(err, "create mirror failed")
	}
	if err := mirror.Replace(snap.Width, snap.Height, snap.Cells); err != nil {
		return errors.Wrap(err, "install snapshot failed")
	}
	s.mirror = mirror
	s.state.Store(int32(StateStreaming))
	s.log.Infof("Logged in, %dx%d grid", snap.Width, snap.Height)
	return nil
}

// Run is the inbound loop. It applies every ChangeBroadcast to the mirror and
// reports it through OnChange until the connection ends or ctx is cancelled.
// It returns nil when the session was closed or the server went away.
func (s *Session) Run(ctx context.Context) error {
	if s.State() != StateStreaming {
		return ErrNotStreaming
	}
	defer s.Close()
	stop := s.closeOnCancel(ctx)
	defer stop()

	for {
		m, err := s.conn.Receive()
		if err != nil {
			if s.State() == StateClosed || transport.IsClosed(err) {
				return nil
			}
			return errors.Wrap(err, "receive failed")
		}
		switch v := m.(type) {
		case message.ChangeBroadcast:
			if err := s.mirror.Set(v.Cell); err != nil {
				s.log.Warnf("Ignoring broadcast: %v", err)
				continue
			}
			if s.onChange != nil {
				s.onChange(v.Cell)
			}
		case message.ChangeRejected:
			s.log.Warnf("Change rejected: %s", v.Reason)
			if s.onReject != nil {
				s.onReject(v.Reason)
			}
		default:
			s.log.Warnf("Ignoring message: %v", message.Unexpected(m, message.TypeChangeBroadcast))
		}
	}
}

// Change asks the server to paint (row, col) with color. Bounds and color are
// checked against the mirror first. Successive calls are spaced at least one
// change interval apart.
func (s *Session) Change(ctx context.Context, row, col, color int) error {
	switch s.State() {
	case StateStreaming:
	case StateClosed:
		return ErrClosed
	default:
		return ErrNotStreaming
	}
	if !s.mirror.Contains(row, col) {
		return errors.Wrapf(board.ErrOutOfBounds, "(%d, %d) outside %dx%d grid",
			row, col, s.mirror.Width(), s.mirror.Height())
	}
	c, err := board.ParseColor(color)
	if err != nil {
		return errors.Wrapf(err, "color %d", color)
	}
	return s.gate.Do(ctx, func() error {
		if s.State() == StateClosed {
			return ErrClosed
		}
		cell := board.NewCell(row, col, s.identity, c)
		if err := s.conn.Send(message.ChangeRequest{Cell: cell}); err != nil {
			s.Close()
			return errors.Wrap(err, "send change failed")
		}
		s.log.Debugf("Sent %s", cell)
		return nil
	})
}

// Close ends the session and releases the connection. It is safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

// closeOnCancel closes the session if ctx ends before the returned stop is called.
func (s *Session) closeOnCancel(ctx context.Context) (stop func()) {
	quit := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-quit:
		}
	}()
	return func() { close(quit) }
}
