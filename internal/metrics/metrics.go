package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the API
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// SolveDuration records engine operation latency by operation name
	SolveDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "engine_solve_duration_seconds", Help: "Engine operation duration in seconds.", Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5, 15}},
		[]string{"op"},
	)
	// SolveErrors counts failed engine operations by operation and error kind
	SolveErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "engine_solve_errors_total", Help: "Failed engine operations by kind."},
		[]string{"op", "kind"},
	)
	// MatrixRecomputes counts all-pairs recomputations after graph edge changes
	MatrixRecomputes = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "engine_matrix_recomputes_total", Help: "All-pairs distance matrix recomputations."},
	)
	// DensityRefresh counts density refresh passes by outcome
	DensityRefresh = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "density_refresh_total", Help: "Density refresh passes by status."},
		[]string{"status"},
	)
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(SolveDuration)
		Registry.MustRegister(SolveErrors)
		Registry.MustRegister(MatrixRecomputes)
		Registry.MustRegister(DensityRefresh)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once

// ObserveSolve records the duration of op and, when kind is non-empty, an error of that kind.
func ObserveSolve(op string, start time.Time, kind string) {
	SolveDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if kind != "" {
		SolveErrors.WithLabelValues(op, kind).Inc()
	}
}
