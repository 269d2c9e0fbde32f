package gateway

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	tokenRequests *prometheus.CounterVec
	relayJoins    *prometheus.CounterVec
	participants  prometheus.Gauge
	controlEvents *prometheus.CounterVec
}

// NewMetrics registers the gateway collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		tokenRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "yeschef",
			Name:      "token_requests_total",
			Help:      "Session token requests by outcome",
		}, []string{"outcome"}),
		relayJoins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "yeschef",
			Name:      "relay_joins_total",
			Help:      "Room relay joins by participant role",
		}, []string{"role"}),
		participants: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "yeschef",
			Name:      "relay_participants",
			Help:      "Participants currently connected to the relay",
		}),
		controlEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "yeschef",
			Name:      "control_events_total",
			Help:      "Control channel messages relayed by type",
		}, []string{"type"}),
	}
	m.registry.MustRegister(m.tokenRequests, m.relayJoins, m.participants, m.controlEvents)
	return m
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) tokenRequest(outcome string) {
	m.tokenRequests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) join(role string) {
	if role == "" {
		role = "unknown"
	}
	m.relayJoins.WithLabelValues(role).Inc()
	m.participants.Inc()
}

func (m *Metrics) leave() {
	m.participants.Dec()
}

func (m *Metrics) controlEvent(kind string) {
	m.controlEvents.WithLabelValues(kind).Inc()
}
