package transport

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// Kind names a framing.
type Kind string

const (
	KindWebSocket Kind = "ws"
	KindTCP       Kind = "tcp"
)

// ParseKind validates a transport name.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(s)) {
	case KindWebSocket:
		return KindWebSocket, nil
	case KindTCP:
		return KindTCP, nil
	}
	return "", fmt.Errorf("unknown transport %q (want ws or tcp)", s)
}

// WebSocketPath is where servers accept websocket connections.
const WebSocketPath = "/ws"

// Dial connects to host:port with the given framing.
func Dial(ctx context.Context, kind Kind, host string, port uint16) (Conn, error) {
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	switch kind {
	case KindTCP:
		var d net.Dialer
		c, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, errors.Wrapf(err, "dial %s failed", addr)
		}
		return NewStream(c), nil
	case KindWebSocket:
		u := url.URL{Scheme: "ws", Host: addr, Path: WebSocketPath}
		c, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
		if err != nil {
			return nil, errors.Wrapf(err, "dial %s failed", u.String())
		}
		return NewWebSocket(c), nil
	}
	return nil, fmt.Errorf("unknown transport %q", kind)
}
