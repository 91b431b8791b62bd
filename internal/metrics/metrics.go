// Package metrics exposes Prometheus collectors for the console and the
// reference backend.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Remote call outcomes.
const (
	OutcomeOK        = "ok"
	OutcomeRejected  = "rejected"
	OutcomeTransport = "transport_error"
)

var (
	remoteCallsTotal           *prometheus.CounterVec
	remoteCallDurationSeconds  *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	backendOperationsTotal     *prometheus.CounterVec
	rateLimitedTotal           prometheus.Counter
	rateLimitDelaySeconds      *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		remoteCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spider_console_remote_calls_total",
				Help: "Total number of backend calls made by the console, labeled by operation and outcome.",
			},
			[]string{"op", "outcome"},
		)

		remoteCallDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "spider_console_remote_call_duration_seconds",
				Help:    "Histogram of backend call latencies, labeled by operation.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"op"},
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

		backendOperationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spider_backend_operations_total",
				Help: "Total number of plugin operations served by the backend, labeled by operation and result.",
			},
			[]string{"op", "result"},
		)

		rateLimitedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "spider_backend_rate_limited_total",
				Help: "Total number of API requests refused by the rate limiter.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "spider_console_rate_limit_delay_seconds",
				Help:    "Time console calls spent waiting for the client-side rate limiter, labeled by host.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"host"},
		)
	})
}

// OpLabel reduces a remote path to its final segment, the operation name.
// It returns "unknown" when nothing usable remains.
func OpLabel(path string) string {
	path = strings.Trim(path, "/")
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if i := strings.LastIndex(path, "/"); i >= 0 {
		path = path[i+1:]
	}
	if path == "" {
		return "unknown"
	}
	return strings.ToLower(path)
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRemoteCall records one console-to-backend call.
func ObserveRemoteCall(op, outcome string, duration time.Duration) {
	Init()
	remoteCallsTotal.WithLabelValues(op, outcome).Inc()
	remoteCallDurationSeconds.WithLabelValues(op).Observe(duration.Seconds())
}

// RemoteCallsCounter returns the call counter for one operation and outcome.
func RemoteCallsCounter(op, outcome string) prometheus.Counter {
	Init()
	return remoteCallsTotal.WithLabelValues(op, outcome)
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveBackendOp counts one plugin operation handled by the backend.
func ObserveBackendOp(op string, success bool) {
	Init()
	result := "success"
	if !success {
		result = "failure"
	}
	backendOperationsTotal.WithLabelValues(op, result).Inc()
}

// ObserveRateLimited counts one request refused by the backend limiter.
func ObserveRateLimited() {
	Init()
	rateLimitedTotal.Inc()
}

// RateLimitedCounter returns the refused-request counter.
func RateLimitedCounter() prometheus.Counter {
	Init()
	return rateLimitedTotal
}

// ObserveRateLimitDelay records time spent waiting for a client-side token.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(host).Observe(duration.Seconds())
}
