package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relay"

// Delivery results recorded by Metrics.Deliveries.
const (
	resultDelivered  = "delivered"
	resultClosed     = "closed"
	resultBufferFull = "buffer_full"
	resultFailed     = "failed"
)

// Metrics holds the Prometheus collectors for the relay.
type Metrics struct {
	ActiveConnections prometheus.Gauge
	Events            *prometheus.CounterVec
	Deliveries        *prometheus.CounterVec
	BinaryEchoes      prometheus.Counter
	RateLimited       prometheus.Counter
}

// NewMetrics creates the relay metrics and registers them on reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "active_connections",
			Help:      "Number of connections currently registered.",
		}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "events_total",
			Help:      "Registry events processed, by kind.",
		}, []string{"kind"}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "deliveries_total",
			Help:      "Fan-out delivery attempts, by result.",
		}, []string{"result"}),
		BinaryEchoes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "binary_echoes_total",
			Help:      "Binary frames echoed back to their sender.",
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "rate_limited_frames_total",
			Help:      "Inbound frames discarded by the per-connection rate limit.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.ActiveConnections, m.Events, m.Deliveries, m.BinaryEchoes, m.RateLimited)
	}
	return m
}

// NewPromRegistry creates a Prometheus registry with Go runtime and process collectors.
func NewPromRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// MetricsHandler returns an http.Handler that serves Prometheus metrics.
func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
