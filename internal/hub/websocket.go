// internal/hub/websocket.go
package hub

import (
	"net/http"

	"github.com/erilali/place/internal/transport"
	"github.com/gorilla/websocket"
)

// serverReadLimit caps messages from clients; they only send logins and change requests.
const serverReadLimit = 8 << 10

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// clients are native programs, not browsers
		return true
	},
}

// ServeWs upgrades the HTTP connection to a WebSocket and hands it to a connection handler.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Errorf("WebSocket upgrade error: %v", err)
		return
	}
	h.Logger.Infof("User connected: %s", conn.RemoteAddr())
	h.spawn(h.ctx, transport.NewWebSocket(conn,
		transport.WithKeepAlive(),
		transport.WithReadLimit(serverReadLimit),
	))
}
