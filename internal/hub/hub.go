// internal/hub/hub.go
// Provides the Hub: the canonical grid, the registry of logged-in clients and
// the settings every connection handler shares.
package hub

import (
	"context"
	"sync"
	"time"

	"github.com/erilali/place/internal/board"
	"github.com/erilali/place/internal/logger"
	"github.com/erilali/place/internal/transport"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultChangeInterval is the minimum spacing between one client's accepted changes.
	DefaultChangeInterval = 500 * time.Millisecond

	// DefaultSendQueue is the number of messages buffered per client before it is dropped as too slow.
	DefaultSendQueue = 256

	tracerName = "github.com/erilali/place/internal/hub"
)

var (
	// ErrGridTooLarge is returned by NewHub when a snapshot of the grid could exceed one frame.
	ErrGridTooLarge = errors.New("grid too large to snapshot")

	// ErrHubClosed is returned by ServeConn once Shutdown has begun.
	ErrHubClosed = errors.New("hub is shut down")
)

// Hub owns the canonical grid and the registry, and lends both to every
// connection handler it spawns.
type Hub struct {
	Grid     *board.Grid
	Registry *Registry
	Logger   *logger.Logger

	metrics        *Metrics
	publisher      Publisher
	tracer         trace.Tracer
	changeInterval time.Duration
	sendQueue      int
	startTime      time.Time

	ctx    context.Context
	cancel context.CancelFunc

	// guards handlers.Add against Shutdown's Wait
	mu       sync.Mutex
	closing  bool
	handlers sync.WaitGroup
}

// Cfg configures a Hub.
type Cfg func(*Hub) error

// WithLogger sets the hub logger.
func WithLogger(l *logger.Logger) Cfg {
	return func(h *Hub) error {
		h.Logger = l
		return nil
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Cfg {
	return func(h *Hub) error {
		h.metrics = m
		return nil
	}
}

// WithPublisher sets where accepted changes and presence events are published.
func WithPublisher(p Publisher) Cfg {
	return func(h *Hub) error {
		h.publisher = p
		return nil
	}
}

// WithTracer overrides the global OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Cfg {
	return func(h *Hub) error {
		h.tracer = t
		return nil
	}
}

// WithChangeInterval sets the per-client spacing between accepted changes. Zero disables it.
func WithChangeInterval(d time.Duration) Cfg {
	return func(h *Hub) error {
		if d < 0 {
			return errors.New("change interval must not be negative")
		}
		h.changeInterval = d
		return nil
	}
}

// WithSendQueue sets the per-client outbound buffer size.
func WithSendQueue(n int) Cfg {
	return func(h *Hub) error {
		if n < 2 {
			return errors.New("send queue must hold at least the login reply and the snapshot")
		}
		h.sendQueue = n
		return nil
	}
}

// NewHub creates a Hub around grid.
func NewHub(grid *board.Grid, cfgs ...Cfg) (*Hub, error) {
	if grid == nil {
		return nil, errors.New("grid is required")
	}
	if grid.Width() > transport.MaxGridDim || grid.Height() > transport.MaxGridDim {
		return nil, errors.Wrapf(ErrGridTooLarge, "%dx%d exceeds %dx%d",
			grid.Width(), grid.Height(), transport.MaxGridDim, transport.MaxGridDim)
	}
	h := &Hub{
		Grid:           grid,
		changeInterval: DefaultChangeInterval,
		sendQueue:      DefaultSendQueue,
		startTime:      time.Now(),
	}
	for _, cfg := range cfgs {
		if err := cfg(h); err != nil {
			return nil, errors.Wrap(err, "apply Hub cfg failed")
		}
	}
	if h.Logger == nil {
		h.Logger = logger.NewLogger("hub")
	}
	if h.metrics == nil {
		h.metrics = NewMetrics(prometheus.NewRegistry())
	}
	if h.publisher == nil {
		h.publisher = NopPublisher{}
	}
	if h.tracer == nil {
		h.tracer = otel.Tracer(tracerName)
	}
	h.Registry = NewRegistry(h.onDrop)
	h.ctx, h.cancel = context.WithCancel(context.Background())
	return h, nil
}

// Metrics returns the hub metrics.
func (h *Hub) Metrics() *Metrics {
	return h.metrics
}

// Uptime returns how long the hub has been running.
func (h *Hub) Uptime() time.Duration {
	return time.Since(h.startTime)
}

// Shutdown disconnects every client and waits for their handlers to finish
// or for ctx to expire.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()
	h.cancel()
	h.Registry.CloseAll()
	done := make(chan struct{})
	go func() {
		h.handlers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "wait for handlers failed")
	}
}

// admit reserves a handler slot. It fails once Shutdown has begun.
func (h *Hub) admit() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.handlers.Add(1)
	return true
}

// onDrop runs under the registry lock; it must not call back into the registry.
func (h *Hub) onDrop(identity string, err error) {
	h.metrics.Dropped.Inc()
	h.Logger.WithField("identity", identity).Warnf("Dropped client from broadcast: %v", err)
}
