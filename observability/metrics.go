package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type apiMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	apiMetricsOnce sync.Once
	apiRegistry    *apiMetrics
)

// API returns the lazily-initialised registry recording ledger API activity.
func API() *apiMetrics {
	apiMetricsOnce.Do(func() {
		apiRegistry = &apiMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pynth",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total ledger API requests segmented by route and outcome.",
			}, []string{"route", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pynth",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total ledger API errors segmented by route and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "pynth",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for ledger API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pynth",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected by the rate limiter.",
			}, []string{"route", "reason"}),
		}
		prometheus.MustRegister(
			apiRegistry.requests,
			apiRegistry.errors,
			apiRegistry.latency,
			apiRegistry.throttles,
		)
	})
	return apiRegistry
}

// Observe records the outcome of a request. The status code should be the
// HTTP status that was ultimately written.
func (m *apiMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
		m.errors.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	}
	m.requests.WithLabelValues(route, method, outcome).Inc()
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordThrottle counts a rejected request. Reasons should be stable strings
// such as "rate_limit".
func (m *apiMetrics) RecordThrottle(route, reason string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(route, reason).Inc()
}
