package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/shopfabric/mesh/internal/domain"
)

// Exporter mirrors the per-service call metrics into a prometheus registry
// for scraping. It is an optional projection; the authoritative counters
// live in ServiceMetrics.
type Exporter struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	circuitState    *prometheus.GaugeVec
}

// NewExporter creates an exporter with its own prometheus registry
func NewExporter() *Exporter {
	e := &Exporter{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mesh",
			Name:      "requests_total",
			Help:      "Total calls routed through the mesh per service.",
		}, []string{"service"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mesh",
			Name:      "errors_total",
			Help:      "Total failed calls per service.",
		}, []string{"service"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mesh",
			Name:      "request_duration_seconds",
			Help:      "Call latency per service.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service"}),
		circuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mesh",
			Name:      "circuit_state",
			Help:      "Circuit breaker state per service (0=closed, 1=open, 2=half-open).",
		}, []string{"service"}),
	}

	e.registry.MustRegister(e.requestsTotal, e.errorsTotal, e.requestDuration, e.circuitState)
	return e
}

// Registry exposes the underlying prometheus registry for the HTTP handler
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// ObserveCall records one completed call
func (e *Exporter) ObserveCall(service string, latency time.Duration, failed bool) {
	e.requestsTotal.WithLabelValues(service).Inc()
	if failed {
		e.errorsTotal.WithLabelValues(service).Inc()
	}
	e.requestDuration.WithLabelValues(service).Observe(latency.Seconds())
}

// SetCircuitState records a breaker transition
func (e *Exporter) SetCircuitState(service string, state domain.CircuitState) {
	e.circuitState.WithLabelValues(service).Set(float64(state))
}
