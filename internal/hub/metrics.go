// internal/hub/metrics.go
package hub

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "place"

// Metrics are the prometheus collectors the hub updates.
type Metrics struct {
	Connected          prometheus.Gauge
	Logins             *prometheus.CounterVec
	Changes            *prometheus.CounterVec
	Broadcasts         prometheus.Counter
	Dropped            prometheus.Counter
	ProtocolViolations prometheus.Counter
}

// NewMetrics registers the hub collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Connected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connected_clients",
			Help:      "Number of logged-in clients.",
		}),
		Logins: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "logins_total",
			Help:      "Login attempts by result (accepted, duplicate, invalid).",
		}, []string{"result"}),
		Changes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "changes_total",
			Help:      "Change requests by result (applied, rejected).",
		}, []string{"result"}),
		Broadcasts: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "broadcasts_total",
			Help:      "Cell changes fanned out to clients.",
		}),
		Dropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "dropped_clients_total",
			Help:      "Clients removed because a broadcast could not be delivered.",
		}),
		ProtocolViolations: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "protocol_violations_total",
			Help:      "Messages received in a state that does not allow them.",
		}),
	}
}
