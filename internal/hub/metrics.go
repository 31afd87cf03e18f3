package hub

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the hub's operational counters, registered on a private
// registry so tests can run hubs side by side.
type Metrics struct {
	registry *prometheus.Registry

	ConnectedUsers  prometheus.Gauge
	MessagesRelayed prometheus.Counter
	CallSignals     *prometheus.CounterVec
	RateLimited     prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.ConnectedUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "teamchat",
		Subsystem: "hub",
		Name:      "connected_users",
		Help:      "Currently connected websocket clients.",
	})
	m.MessagesRelayed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "teamchat",
		Subsystem: "hub",
		Name:      "messages_relayed_total",
		Help:      "Chat messages accepted and fanned out.",
	})
	m.CallSignals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "teamchat",
		Subsystem: "hub",
		Name:      "call_signals_total",
		Help:      "Call signaling events relayed, by event.",
	}, []string{"event"})
	m.RateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "teamchat",
		Subsystem: "hub",
		Name:      "rate_limited_total",
		Help:      "chat:send requests rejected by the rate limiter.",
	})
	m.registry.MustRegister(m.ConnectedUsers, m.MessagesRelayed, m.CallSignals, m.RateLimited)
	return m
}

// Registry exposes the private registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
