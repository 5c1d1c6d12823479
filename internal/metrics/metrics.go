// Package metrics exposes Prometheus collectors for the crawl and
// classification pipeline.
//
// Collectors register lazily on first use, so packages may call the Observe
// helpers without arranging for Init to run first.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	extractionsTotal           *prometheus.CounterVec
	extractionDurationSeconds  *prometheus.HistogramVec
	screenshotsTotal           *prometheus.CounterVec
	dispatchTotal              *prometheus.CounterVec
	dispatchDurationSeconds    *prometheus.HistogramVec
	resultsTotal               *prometheus.CounterVec
	rateWindowTotal            *prometheus.CounterVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	batchRemaining             prometheus.Gauge
	progressEventsTotal        *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors. It is safe to call repeatedly.
func Init() {
	once.Do(func() {
		extractionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "starmark_extractions_total",
				Help: "Content extractions, labeled by backend and result.",
			},
			[]string{"backend", "result"},
		)

		extractionDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "starmark_extraction_duration_seconds",
				Help:    "Latency of content extraction per backend.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"backend"},
		)

		screenshotsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "starmark_screenshots_total",
				Help: "Screenshot captures, labeled by result.",
			},
			[]string{"result"},
		)

		dispatchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "starmark_model_dispatch_total",
				Help: "Model completions, labeled by provider and result.",
			},
			[]string{"provider", "result"},
		)

		dispatchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "starmark_model_dispatch_duration_seconds",
				Help:    "Latency of model completions per provider.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 60, 120},
			},
			[]string{"provider"},
		)

		resultsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "starmark_results_total",
				Help: "Persisted crawl results, labeled by status.",
			},
			[]string{"status"},
		)

		rateWindowTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "starmark_rate_window_total",
				Help: "Fixed-window admission decisions, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "starmark_rate_limit_delays_seconds",
				Help:    "Time spent waiting on per-host request limits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		batchRemaining = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "starmark_batch_remaining_items",
				Help: "Targets left in the current batch run.",
			},
		)

		progressEventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "starmark_progress_events_total",
				Help: "Progress events published, labeled by stage.",
			},
			[]string{"stage"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "starmark_http_requests_total",
				Help: "API requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "starmark_http_request_duration_seconds",
				Help:    "API request latency, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite reduces a URL to its lowercase hostname, or "unknown".
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveExtraction records one extraction attempt against backend.
func ObserveExtraction(backend, result string, duration time.Duration) {
	Init()
	extractionsTotal.WithLabelValues(backend, result).Inc()
	extractionDurationSeconds.WithLabelValues(backend).Observe(duration.Seconds())
}

// ObserveScreenshot counts a screenshot capture.
func ObserveScreenshot(result string) {
	Init()
	screenshotsTotal.WithLabelValues(result).Inc()
}

// ObserveDispatch counts a model completion outcome.
func ObserveDispatch(provider, result string) {
	Init()
	if provider == "" {
		provider = "unknown"
	}
	dispatchTotal.WithLabelValues(provider, result).Inc()
}

// ObserveDispatchDuration records how long a completion took.
func ObserveDispatchDuration(provider string, duration time.Duration) {
	Init()
	if provider == "" {
		provider = "unknown"
	}
	dispatchDurationSeconds.WithLabelValues(provider).Observe(duration.Seconds())
}

// ObserveResult counts a persisted result by status.
func ObserveResult(status string) {
	Init()
	resultsTotal.WithLabelValues(status).Inc()
}

// ObserveRateWindow counts an admission decision: "acquired" or "rejected".
func ObserveRateWindow(outcome string) {
	Init()
	rateWindowTotal.WithLabelValues(outcome).Inc()
}

// ObserveRateLimitDelay records the duration of a per-host limiter wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// SetBatchRemaining reports how many targets the running batch has left.
func SetBatchRemaining(n int) {
	Init()
	batchRemaining.Set(float64(n))
}

// ObserveProgressEvent counts a published progress event.
func ObserveProgressEvent(stage string) {
	Init()
	progressEventsTotal.WithLabelValues(stage).Inc()
}

// ObserveHTTPRequest records an API request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
