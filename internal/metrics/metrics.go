// Package metrics exposes Prometheus collectors for batch processing.
//
// A Metrics value records request statuses, per-operation outcomes and
// latencies. It implements engine.Observer so the dispatcher reports each
// executed operation directly.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/jsonapi-atomic/internal/ir"
)

const namespace = "jsonapi_atomic"

// Metrics holds the service collectors and the registry they live in.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec   // By status code
	requestDuration *prometheus.HistogramVec // By status code
	batchSize       prometheus.Histogram

	operationsTotal   *prometheus.CounterVec   // By op, type and outcome
	operationDuration *prometheus.HistogramVec // By op
}

// New creates collectors registered on a fresh registry. With runtime set
// the Go and process collectors are registered too.
func New(runtime bool) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of operations requests by response status",
		}, []string{"status"}),

		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Operations request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),

		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "operations",
			Help:      "Number of operations per committed batch",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100},
		}),

		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "operations_total",
			Help:      "Total number of executed operations",
		}, []string{"op", "type", "outcome"}), // outcome: ok, not_found, conflict, invalid, forbidden, unsupported, error

		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "operation_duration_seconds",
			Help:      "Single operation execution duration in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}, []string{"op"}),
	}

	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.batchSize,
		m.operationsTotal,
		m.operationDuration,
	)
	if runtime {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// ObserveRequest records one finished operations request.
func (m *Metrics) ObserveRequest(status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	code := strconv.Itoa(status)
	m.requestsTotal.WithLabelValues(code).Inc()
	m.requestDuration.WithLabelValues(code).Observe(elapsed.Seconds())
}

// ObserveBatch records the size of a committed batch.
func (m *Metrics) ObserveBatch(operations int) {
	if m == nil {
		return
	}
	m.batchSize.Observe(float64(operations))
}

// ObserveOperation records one executed operation.
func (m *Metrics) ObserveOperation(op ir.Op, resourceType string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(string(op), resourceType, Outcome(err)).Inc()
	m.operationDuration.WithLabelValues(string(op)).Observe(elapsed.Seconds())
}

// Outcome classifies an operation error into a metric label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ir.ErrNotFound):
		return "not_found"
	case errors.Is(err, ir.ErrConflict):
		return "conflict"
	case errors.Is(err, ir.ErrInvalid):
		return "invalid"
	case errors.Is(err, ir.ErrForbidden):
		return "forbidden"
	case errors.Is(err, ir.ErrUnsupported):
		return "unsupported"
	default:
		return "error"
	}
}
