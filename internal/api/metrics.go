package api

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the API
type Metrics struct {
	RequestCounter   *prometheus.CounterVec
	LatencyHistogram *prometheus.HistogramVec
	RateLimitHits    prometheus.Counter
	ScanBatches      prometheus.Counter
	ScanEntries      prometheus.Counter
	OperationCounter *prometheus.CounterVec
	OperationBytes   prometheus.Counter
	WatcherEvents    *prometheus.CounterVec
	CacheHitRate     prometheus.Gauge
	registry         *prometheus.Registry
}

var (
	metricsInstance *Metrics
	metricsOnce     sync.Once
)

// NewMetrics creates and registers all metrics (singleton pattern for tests)
func NewMetrics() *Metrics {
	// Use singleton pattern to avoid duplicate registration
	metricsOnce.Do(func() {
		registry := prometheus.NewRegistry()

		m := &Metrics{
			RequestCounter: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "armoire_requests_total",
					Help: "Total number of HTTP requests",
				},
				[]string{"method", "path", "status"},
			),
			LatencyHistogram: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "armoire_request_duration_seconds",
					Help:    "HTTP request latency in seconds",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"method", "path"},
			),
			RateLimitHits: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "armoire_rate_limit_hits_total",
					Help: "Total number of rate limit hits",
				},
			),
			ScanBatches: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "armoire_scan_batches_total",
					Help: "Total number of scan batches streamed",
				},
			),
			ScanEntries: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "armoire_scan_entries_total",
					Help: "Total number of directory entries scanned",
				},
			),
			OperationCounter: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "armoire_operations_total",
					Help: "Total number of file operations by kind and outcome",
				},
				[]string{"kind", "status"},
			),
			OperationBytes: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "armoire_operation_bytes_total",
					Help: "Total bytes copied by file operations",
				},
			),
			WatcherEvents: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "armoire_watcher_events_total",
					Help: "Total filesystem change events by kind",
				},
				[]string{"op"},
			),
			CacheHitRate: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "armoire_metadata_cache_hit_rate",
					Help: "Metadata cache hit rate since start",
				},
			),
			registry: registry,
		}

		// Register metrics with custom registry
		registry.MustRegister(m.RequestCounter)
		registry.MustRegister(m.LatencyHistogram)
		registry.MustRegister(m.RateLimitHits)
		registry.MustRegister(m.ScanBatches)
		registry.MustRegister(m.ScanEntries)
		registry.MustRegister(m.OperationCounter)
		registry.MustRegister(m.OperationBytes)
		registry.MustRegister(m.WatcherEvents)
		registry.MustRegister(m.CacheHitRate)

		metricsInstance = m
	})

	return metricsInstance
}

// IncrementRequest increments the request counter
func (m *Metrics) IncrementRequest(method, path string, status int) {
	m.RequestCounter.WithLabelValues(method, path, fmt.Sprintf("%d", status)).Inc()
}

// RecordLatency records request latency
func (m *Metrics) RecordLatency(method, path string, seconds float64) {
	m.LatencyHistogram.WithLabelValues(method, path).Observe(seconds)
}

// RecordOperation counts a finished file operation.
func (m *Metrics) RecordOperation(kind, status string) {
	m.OperationCounter.WithLabelValues(kind, status).Inc()
}

// Handler returns the metrics endpoint handler backed by the private
// registry, so default-registry collectors never leak in.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ResetMetricsForTesting resets the singleton (only for tests)
func ResetMetricsForTesting() {
	metricsInstance = nil
	metricsOnce = sync.Once{}
}
