// internal/api/api.go
// Provides the HTTP surface of the server: the websocket endpoint, health,
// prometheus metrics and a JSON view of the board.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/erilali/place/internal/board"
	"github.com/erilali/place/internal/hub"
	"github.com/erilali/place/internal/logger"
	"github.com/erilali/place/internal/transport"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 5 * time.Second

// Server serves the HTTP routes for one hub.
type Server struct {
	hub      *hub.Hub
	gatherer prometheus.Gatherer
	nc       *nats.Conn
	js       nats.JetStreamContext
	logger   *logger.Logger
	version  string
}

// Cfg configures a Server.
type Cfg func(*Server) error

// WithNATS reports the NATS connection and streams in /health.
func WithNATS(nc *nats.Conn, js nats.JetStreamContext) Cfg {
	return func(s *Server) error {
		s.nc = nc
		s.js = js
		return nil
	}
}

// WithGatherer sets what /metrics exposes.
func WithGatherer(g prometheus.Gatherer) Cfg {
	return func(s *Server) error {
		s.gatherer = g
		return nil
	}
}

// WithLogger sets the server logger.
func WithLogger(l *logger.Logger) Cfg {
	return func(s *Server) error {
		s.logger = l
		return nil
	}
}

// WithVersion sets the version reported by /health.
func WithVersion(v string) Cfg {
	return func(s *Server) error {
		s.version = v
		return nil
	}
}

// NewServer creates a Server for h.
func NewServer(h *hub.Hub, cfgs ...Cfg) (*Server, error) {
	if h == nil {
		return nil, errors.New("hub is required")
	}
	s := &Server{hub: h, gatherer: prometheus.DefaultGatherer, version: "dev"}
	for _, cfg := range cfgs {
		if err := cfg(s); err != nil {
			return nil, errors.Wrap(err, "apply Server cfg failed")
		}
	}
	if s.logger == nil {
		s.logger = logger.NewLogger("api")
	}
	return s, nil
}

// Router returns the routes. The websocket endpoint is only mounted when
// withWebSocket is set; in raw TCP mode the router only carries the admin routes.
func (s *Server) Router(withWebSocket bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	if withWebSocket {
		r.Get(transport.WebSocketPath, s.hub.ServeWs)
	}
	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Route("/api", func(r chi.Router) {
		r.Get("/board", s.board)
		r.Get("/board/{row}/{col}", s.cell)
		r.Get("/palette", s.palette)
		r.Get("/users", s.users)
	})
	return r
}

// Run serves handler on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.logger.Infof("HTTP server started at %s", addr)
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return errors.Wrapf(err, "serve http on %s failed", addr)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown http server failed")
	}
	return nil
}

type cellView struct {
	Row       int    `json:"row"`
	Col       int    `json:"col"`
	Owner     string `json:"owner,omitempty"`
	Color     int    `json:"color"`
	ColorName string `json:"color_name"`
	Time      int64  `json:"time,omitempty"`
}

func viewOf(c board.Cell) cellView {
	return cellView{
		Row:       c.Row,
		Col:       c.Col,
		Owner:     c.Owner,
		Color:     int(c.Color),
		ColorName: c.Color.Name(),
		Time:      c.Time,
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	natsStatus := "disconnected"
	if s.nc != nil && s.nc.Status() == nats.CONNECTED {
		natsStatus = "connected"
	}
	health := map[string]interface{}{
		"status":  "ok",
		"version": s.version,
		"users":   s.hub.Registry.Len(),
		"nats":    natsStatus,
		"width":   s.hub.Grid.Width(),
		"height":  s.hub.Grid.Height(),
		"uptime":  s.hub.Uptime().Round(time.Second).String(),
	}
	if s.js != nil {
		health["jetstream"] = map[string]interface{}{"streams": streamHealth(s.js)}
	}
	s.writeJSON(w, http.StatusOK, health)
}

func (s *Server) board(w http.ResponseWriter, r *http.Request) {
	cells := s.hub.Grid.Snapshot()
	views := make([]cellView, len(cells))
	for i, c := range cells {
		views[i] = viewOf(c)
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"width":  s.hub.Grid.Width(),
		"height": s.hub.Grid.Height(),
		"cells":  views,
	})
}

func (s *Server) cell(w http.ResponseWriter, r *http.Request) {
	row, err1 := strconv.Atoi(chi.URLParam(r, "row"))
	col, err2 := strconv.Atoi(chi.URLParam(r, "col"))
	if err1 != nil || err2 != nil {
		http.Error(w, "row and col must be integers", http.StatusBadRequest)
		return
	}
	c, err := s.hub.Grid.Get(row, col)
	if errors.Is(err, board.ErrOutOfBounds) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, viewOf(c))
}

func (s *Server) palette(w http.ResponseWriter, r *http.Request) {
	type entry struct {
		Index int    `json:"index"`
		Name  string `json:"name"`
		Hex   string `json:"hex"`
	}
	var out []entry
	for _, c := range board.Palette() {
		out = append(out, entry{Index: int(c), Name: c.Name(), Hex: c.Hex()})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) users(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"identities": s.hub.Registry.Identities(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Errorf("Error encoding response: %v", err)
	}
}
