// internal/hub/acceptor.go
package hub

import (
	"context"
	"net"

	"github.com/erilali/place/internal/transport"
	"github.com/pkg/errors"
)

// Serve accepts raw TCP connections on ln and runs a handler for each, until
// ctx is cancelled, the hub shuts down, or Accept fails.
func (h *Hub) Serve(ctx context.Context, ln net.Listener) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-h.ctx.Done():
		case <-stop:
		}
		ln.Close()
	}()

	h.Logger.Infof("Now accepting connections on %s", ln.Addr())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || h.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return errors.Wrap(err, "accept failed")
		}
		h.Logger.Infof("User connected: %s", conn.RemoteAddr())
		h.spawn(ctx, transport.NewStream(conn, transport.WithMaxFrame(serverReadLimit)))
	}
}

// ListenAndServe listens on addr and calls Serve.
func (h *Hub) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s failed", addr)
	}
	return h.Serve(ctx, ln)
}
