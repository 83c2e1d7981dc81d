// Package metrics exposes Prometheus collectors for the research service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	providerAttemptsTotal      *prometheus.CounterVec
	taskResultsTotal           *prometheus.CounterVec
	taskDurationSeconds        *prometheus.HistogramVec
	requestsTotal              *prometheus.CounterVec
	requestDurationSeconds     *prometheus.HistogramVec
	requestCostTotal           *prometheus.CounterVec
	activeSessions             prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	cacheLookupsTotal          *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		providerAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "research_provider_attempts_total",
				Help: "Provider probe attempts, labeled by source and result.",
			},
			[]string{"source", "result"},
		)

		taskResultsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "research_task_results_total",
				Help: "Finished research tasks, labeled by source and status.",
			},
			[]string{"source", "status"},
		)

		taskDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "research_task_duration_seconds",
				Help:    "Wall time per research task including retries.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"source"},
		)

		requestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "research_requests_total",
				Help: "Finished research requests, labeled by depth and status.",
			},
			[]string{"depth", "status"},
		)

		requestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "research_request_duration_seconds",
				Help:    "End-to-end research request latency.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 60},
			},
			[]string{"depth"},
		)

		requestCostTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "research_request_cost_total",
				Help: "Accumulated provider cost estimates, labeled by depth.",
			},
			[]string{"depth"},
		)

		activeSessions = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "research_active_sessions",
				Help: "Number of research sessions tracked by the registry.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "research_rate_limit_delays_seconds",
				Help:    "Histogram of provider rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"source"},
		)

		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "research_cache_lookups_total",
				Help: "Report cache lookups, labeled by result.",
			},
			[]string{"result"},
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

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAttempt counts a single provider probe attempt.
func ObserveAttempt(source, result string) {
	Init()
	providerAttemptsTotal.WithLabelValues(source, result).Inc()
}

// ObserveTask records a finished task.
func ObserveTask(source, status string, duration time.Duration) {
	Init()
	taskResultsTotal.WithLabelValues(source, status).Inc()
	taskDurationSeconds.WithLabelValues(source).Observe(duration.Seconds())
}

// ObserveRequest records a finished research request.
func ObserveRequest(depth, status string, duration time.Duration, cost float64) {
	Init()
	requestsTotal.WithLabelValues(depth, status).Inc()
	requestDurationSeconds.WithLabelValues(depth).Observe(duration.Seconds())
	if cost > 0 {
		requestCostTotal.WithLabelValues(depth).Add(cost)
	}
}

// SetActiveSessions updates the session gauge.
func SetActiveSessions(n int) {
	Init()
	activeSessions.Set(float64(n))
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(source string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(source).Observe(duration.Seconds())
}

// ObserveCacheLookup counts a cache hit or miss.
func ObserveCacheLookup(hit bool) {
	Init()
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
