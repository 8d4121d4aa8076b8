// internal/hub/handler.go
// The per-connection state machine: login handshake, then a loop applying change requests.
package hub

import (
	"context"
	"fmt"

	"github.com/erilali/place/internal/board"
	"github.com/erilali/place/internal/logger"
	"github.com/erilali/place/internal/message"
	"github.com/erilali/place/internal/pace"
	"github.com/erilali/place/internal/transport"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// State is the lifecycle of a server-side connection.
type State int

const (
	StateConnecting State = iota
	StateAwaitingLogin
	StateActive
	StateClosed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateAwaitingLogin:
		return "AwaitingLogin"
	case StateActive:
		return "Active"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

type handler struct {
	hub    *Hub
	client *Client
	log    *logger.Logger
	gate   *pace.Gate
	state  State
}

// ServeConn runs one connection to completion. It returns nil when the peer
// simply went away, and the reason otherwise. After Shutdown it closes conn
// and returns ErrHubClosed.
func (h *Hub) ServeConn(ctx context.Context, conn transport.Conn) error {
	if !h.admit() {
		conn.Close()
		return ErrHubClosed
	}
	defer h.handlers.Done()
	return h.serveConn(ctx, conn)
}

// spawn starts a handler for conn on its own goroutine, reserving its slot first.
func (h *Hub) spawn(ctx context.Context, conn transport.Conn) {
	if !h.admit() {
		conn.Close()
		return
	}
	go func() {
		defer h.handlers.Done()
		_ = h.serveConn(ctx, conn)
	}()
}

func (h *Hub) serveConn(ctx context.Context, conn transport.Conn) error {
	c := newClient(conn, h.sendQueue)
	hd := &handler{
		hub:    h,
		client: c,
		gate:   pace.NewGate(h.changeInterval),
		state:  StateConnecting,
		log: h.Logger.WithFields(map[string]interface{}{
			"session": c.ID.String(),
			"remote":  conn.RemoteAddr(),
		}),
	}
	go c.WritePump(hd.log)

	// a blocked Receive only returns once the connection is closed
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-h.ctx.Done():
		case <-stop:
			return
		}
		conn.Close()
	}()

	err := hd.run(ctx)
	hd.close()
	if err != nil && !transport.IsClosed(err) {
		hd.log.Warnf("Connection closed: %v", err)
		return err
	}
	hd.log.Info("Connection closed")
	return nil
}

func (hd *handler) run(ctx context.Context) error {
	hd.state = StateAwaitingLogin
	m, err := hd.client.Conn.Receive()
	if err != nil {
		return errors.Wrap(err, "receive login failed")
	}
	login, ok := m.(message.Login)
	if !ok {
		hd.hub.metrics.ProtocolViolations.Inc()
		return message.Unexpected(m, message.TypeLogin)
	}
	if err := hd.login(ctx, login.Identity); err != nil {
		return err
	}

	hd.state = StateActive
	for {
		m, err := hd.client.Conn.Receive()
		if err != nil {
			return errors.Wrap(err, "receive failed")
		}
		switch v := m.(type) {
		case message.ChangeRequest:
			err := hd.gate.Do(ctx, func() error {
				hd.change(ctx, v.Cell)
				return nil
			})
			if err != nil {
				return err
			}
		default:
			hd.hub.metrics.ProtocolViolations.Inc()
			hd.log.Warnf("Ignoring message: %v", message.Unexpected(m, message.TypeChangeRequest))
		}
	}
}

func (hd *handler) login(ctx context.Context, identity string) error {
	_, span := hd.hub.tracer.Start(ctx, "hub.login", trace.WithAttributes(
		attribute.String("place.identity", identity),
	))
	defer span.End()

	if err := validateIdentity(identity); err != nil {
		hd.hub.metrics.Logins.WithLabelValues("invalid").Inc()
		span.SetStatus(codes.Error, err.Error())
		rejectLogin(hd.client, err.Error())
		return errors.Wrapf(err, "login %q rejected", identity)
	}
	err := hd.hub.Registry.Register(identity, hd.client, hd.hub.greeting(identity))
	if errors.Is(err, ErrDuplicateIdentity) {
		hd.hub.metrics.Logins.WithLabelValues("duplicate").Inc()
		span.SetStatus(codes.Error, err.Error())
		hd.log.Infof("Attempted login with duplicate username: %s", identity)
		rejectLogin(hd.client, fmt.Sprintf("Username %q already taken.", identity))
		return errors.Wrapf(err, "login %q rejected", identity)
	}
	if err != nil {
		span.RecordError(err)
		return errors.Wrap(err, "register failed")
	}

	hd.client.Identity = identity
	hd.log = hd.log.WithField("identity", identity)
	hd.hub.metrics.Logins.WithLabelValues("accepted").Inc()
	hd.hub.metrics.Connected.Set(float64(hd.hub.Registry.Len()))
	hd.hub.publisher.PublishPresence(identity, PresenceLogin)
	hd.log.Info("User successfully logged in")
	return nil
}

// change validates and applies one cell, then broadcasts it. Invalid requests
// are answered with ChangeRejected and leave the session running.
func (hd *handler) change(ctx context.Context, cell board.Cell) {
	_, span := hd.hub.tracer.Start(ctx, "hub.change", trace.WithAttributes(
		attribute.Int("place.row", cell.Row),
		attribute.Int("place.col", cell.Col),
		attribute.Int("place.color", int(cell.Color)),
	))
	defer span.End()

	cell.Owner = hd.client.Identity
	apply := func() error {
		if err := hd.hub.validateChange(cell); err != nil {
			return err
		}
		return hd.hub.Grid.Set(cell)
	}
	delivered, err := hd.hub.Registry.Commit(apply, message.ChangeBroadcast{Cell: cell})
	if err != nil {
		hd.hub.metrics.Changes.WithLabelValues("rejected").Inc()
		span.SetStatus(codes.Error, err.Error())
		hd.log.Warnf("Rejected change: %v", err)
		rejectChange(hd.client, err)
		return
	}
	hd.hub.metrics.Changes.WithLabelValues("applied").Inc()
	hd.hub.metrics.Broadcasts.Inc()
	span.SetAttributes(attribute.Int("place.recipients", delivered))
	hd.hub.publisher.PublishChange(cell)
	hd.log.Debugf("Applied %s", cell)
}

// close moves to Closed: leave the registry, flush and release the connection.
func (hd *handler) close() {
	prev := hd.state
	hd.state = StateClosed
	if hd.client.Identity != "" {
		hd.hub.Registry.Unregister(hd.client.Identity, hd.client)
		hd.hub.metrics.Connected.Set(float64(hd.hub.Registry.Len()))
		hd.hub.publisher.PublishPresence(hd.client.Identity, PresenceLogout)
	}
	hd.client.flush()
	hd.log.Debugf("State %s -> %s", prev, hd.state)
}
