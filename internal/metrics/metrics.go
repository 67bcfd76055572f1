// Package metrics exposes Prometheus collectors for the conversion service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the service collectors. The zero value is not usable; build
// one with New.
type Metrics struct {
	registry *prometheus.Registry

	jobsTotal                  *prometheus.CounterVec
	jobDurationSeconds         *prometheus.HistogramVec
	jobPagesTotal              *prometheus.CounterVec
	artifactBytes              prometheus.Histogram
	activeConnections          prometheus.Gauge
	messagesTotal              *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	cleanupDeletedTotal        prometheus.Counter
}

// New registers every collector, plus the Go and process collectors, on a
// fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		jobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitepdf_jobs_total",
				Help: "Total number of conversion jobs, labeled by mode and result.",
			},
			[]string{"mode", "result"},
		),
		jobDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sitepdf_job_duration_seconds",
				Help:    "Histogram of conversion job durations, labeled by mode.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"mode"},
		),
		jobPagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitepdf_job_pages_total",
				Help: "Total number of pages rendered into artifacts, labeled by mode.",
			},
			[]string{"mode"},
		),
		artifactBytes: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sitepdf_artifact_bytes",
				Help:    "Histogram of generated artifact sizes.",
				Buckets: prometheus.ExponentialBuckets(16*1024, 4, 8),
			},
		),
		activeConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sitepdf_active_connections",
				Help: "Number of open real-time client connections.",
			},
		),
		messagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitepdf_realtime_messages_total",
				Help: "Messages sent to real-time connections, labeled by outcome.",
			},
			[]string{"outcome"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		),
		httpRequestDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"method", "route"},
		),
		cleanupDeletedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "sitepdf_cleanup_deleted_total",
				Help: "Total number of artifacts removed by bulk cleanup.",
			},
		),
	}
}

// Registerer exposes the registry so other packages can add collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	return m.registry
}

// Handler returns an http.Handler for exposing the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveJob records the outcome of one conversion job.
func (m *Metrics) ObserveJob(mode, result string, duration time.Duration, pages int, bytes int64) {
	m.jobsTotal.WithLabelValues(mode, result).Inc()
	m.jobDurationSeconds.WithLabelValues(mode).Observe(duration.Seconds())
	if pages > 0 {
		m.jobPagesTotal.WithLabelValues(mode).Add(float64(pages))
	}
	if bytes > 0 {
		m.artifactBytes.Observe(float64(bytes))
	}
}

// SetConnections sets the open connection gauge.
func (m *Metrics) SetConnections(n int) {
	m.activeConnections.Set(float64(n))
}

// MessageDelivered counts one real-time send attempt.
func (m *Metrics) MessageDelivered(ok bool) {
	outcome := "delivered"
	if !ok {
		outcome = "dropped"
	}
	m.messagesTotal.WithLabelValues(outcome).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func (m *Metrics) ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveCleanup adds deleted to the cleanup counter.
func (m *Metrics) ObserveCleanup(deleted int) {
	if deleted > 0 {
		m.cleanupDeletedTotal.Add(float64(deleted))
	}
}
