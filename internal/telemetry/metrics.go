// Package telemetry holds the Prometheus instrumentation for backend calls.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics registers and serves the client-side collectors.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	recordsRemoved  prometheus.Counter
}

// New registers the core collectors on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "backend_request_duration_seconds",
		Help:    "Duration of backend requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "outcome"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backend_requests_total",
		Help: "Total number of backend requests",
	}, []string{"operation", "outcome"})

	recordsRemoved := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "records_removed_total",
		Help: "Total picking records confirmed removed by the backend",
	})

	registry.MustRegister(requestDuration, requestTotal, recordsRemoved)

	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		recordsRemoved:  recordsRemoved,
	}
}

// ObserveRequest records one backend round trip.
func (m *Metrics) ObserveRequest(operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestTotal.WithLabelValues(operation, outcome).Inc()
	m.requestDuration.WithLabelValues(operation, outcome).Observe(duration.Seconds())
}

// AddRemoved accumulates the backend-reported affected count.
func (m *Metrics) AddRemoved(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.recordsRemoved.Add(float64(count))
}

// Handler exposes the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return m.handler
}
