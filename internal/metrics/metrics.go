// Package metrics exposes Prometheus collectors for the capture service.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsTotal                  *prometheus.CounterVec
	cacheLookupsTotal          *prometheus.CounterVec
	rendersTotal               *prometheus.CounterVec
	renderDurationSeconds      prometheus.Histogram
	activeJobs                 prometheus.Gauge
	browserStartsTotal         prometheus.Counter
	browserIdleShutdownsTotal  prometheus.Counter
	enqueueFailuresTotal       prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagelens_jobs_total",
				Help: "Total number of jobs reaching a terminal status.",
			},
			[]string{"status"},
		)

		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagelens_cache_lookups_total",
				Help: "Total cache lookups, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		rendersTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagelens_renders_total",
				Help: "Total browser renders, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		renderDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pagelens_render_duration_seconds",
				Help:    "Histogram of full-page render latencies.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 45},
			},
		)

		activeJobs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pagelens_active_jobs",
				Help: "Number of jobs currently holding a concurrency slot.",
			},
		)

		browserStartsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pagelens_browser_starts_total",
				Help: "Total headless browser start sequences.",
			},
		)

		browserIdleShutdownsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pagelens_browser_idle_shutdowns_total",
				Help: "Total browser shutdowns triggered by the idle monitor.",
			},
		)

		enqueueFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pagelens_enqueue_failures_total",
				Help: "Total URLs dropped because the broker publish failed.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// ObserveJob records a job reaching a terminal status.
func ObserveJob(status string) {
	if jobsTotal != nil {
		jobsTotal.WithLabelValues(status).Inc()
	}
}

// ObserveCacheLookup records a cache hit or miss.
func ObserveCacheLookup(hit bool) {
	if cacheLookupsTotal == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	cacheLookupsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRender records one browser render and its latency.
func ObserveRender(err error, duration time.Duration) {
	if rendersTotal == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	rendersTotal.WithLabelValues(outcome).Inc()
	renderDurationSeconds.Observe(duration.Seconds())
}

// JobStarted marks a job acquiring a concurrency slot.
func JobStarted() {
	if activeJobs != nil {
		activeJobs.Inc()
	}
}

// JobFinished marks a job releasing its concurrency slot.
func JobFinished() {
	if activeJobs != nil {
		activeJobs.Dec()
	}
}

// ObserveBrowserStart records a browser start sequence.
func ObserveBrowserStart() {
	if browserStartsTotal != nil {
		browserStartsTotal.Inc()
	}
}

// ObserveIdleShutdown records a browser teardown caused by the idle monitor.
func ObserveIdleShutdown() {
	if browserIdleShutdownsTotal != nil {
		browserIdleShutdownsTotal.Inc()
	}
}

// ObserveEnqueueFailure records a URL dropped from a submission batch.
func ObserveEnqueueFailure() {
	if enqueueFailuresTotal != nil {
		enqueueFailuresTotal.Inc()
	}
}

// ObserveHTTPRequest records one served HTTP request.
func ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
