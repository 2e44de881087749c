// Package metrics wires a small Prometheus registry into the listener and
// cluster packages: datagram counts, requests served by type, active
// peers, in-flight requests, and liveness evictions. Nothing in the
// protocol depends on these values; they are purely observational.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds every metric a peer or server process exposes, plus the
// *prometheus.Registry they are registered against so a process can serve
// them over HTTP. Each call to New gets its own private registry rather
// than the global default, so multiple Peer/Server instances in the same
// process (as in tests) never collide on metric registration.
type Registry struct {
	Prometheus *prometheus.Registry

	DatagramsReceived prometheus.Counter
	DatagramsDropped  *prometheus.CounterVec
	RequestsServed    *prometheus.CounterVec
	ActivePeers       prometheus.Gauge
	InFlightRequests  prometheus.Gauge
	LivenessEvictions prometheus.Counter
}

// New builds a private *prometheus.Registry and registers and returns a
// Registry of metrics against it. role distinguishes a peer process from a
// server process in the "role" const label.
func New(role string) *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	constLabels := prometheus.Labels{"role": role}
	return &Registry{
		Prometheus: reg,
		DatagramsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name:        "ctp_datagrams_received_total",
			Help:        "UDP datagrams read off the socket.",
			ConstLabels: constLabels,
		}),
		DatagramsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "ctp_datagrams_dropped_total",
			Help:        "Datagrams dropped before dispatch, by reason.",
			ConstLabels: constLabels,
		}, []string{"reason"}),
		RequestsServed: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "ctp_requests_served_total",
			Help:        "Requests handled, by message type.",
			ConstLabels: constLabels,
		}, []string{"type"}),
		ActivePeers: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "ctp_active_peers",
			Help:        "Peers currently tracked as live across all clusters.",
			ConstLabels: constLabels,
		}),
		InFlightRequests: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "ctp_in_flight_requests",
			Help:        "Requests sent and awaiting a response.",
			ConstLabels: constLabels,
		}),
		LivenessEvictions: factory.NewCounter(prometheus.CounterOpts{
			Name:        "ctp_liveness_evictions_total",
			Help:        "Peers evicted after exceeding the liveness TTL.",
			ConstLabels: constLabels,
		}),
	}
}
