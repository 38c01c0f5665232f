// Package metrics exposes the service's Prometheus collectors.
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
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	webhookDeliveriesTotal     *prometheus.CounterVec
	providerTriggersTotal      *prometheus.CounterVec
	sourceTasksTotal           *prometheus.CounterVec
	jobsFinalizedTotal         prometheus.Counter
	finalizerErrorsTotal       *prometheus.CounterVec
	waitOutcomesTotal          *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	pagesTotal                 *prometheus.CounterVec
	rateLimitDelaySeconds      *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry. Repeated calls are no-ops.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests, labeled by method and code.",
		}, []string{"method", "code"})

		httpRequestDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30},
		}, []string{"method", "route"})

		webhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_webhook_deliveries_total",
			Help: "Inbound provider webhooks, labeled by topic and outcome.",
		}, []string{"topic", "outcome"})

		providerTriggersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_provider_triggers_total",
			Help: "Provider trigger calls, labeled by source type and outcome.",
		}, []string{"source_type", "outcome"})

		sourceTasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_source_tasks_total",
			Help: "Source tasks executed by workers, labeled by source type, mode and outcome.",
		}, []string{"source_type", "mode", "outcome"})

		jobsFinalizedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "collector_jobs_finalized_total",
			Help: "Jobs whose fan-in finalized in this process.",
		})

		finalizerErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_finalizer_errors_total",
			Help: "Finalizer failures, labeled by finalizer.",
		}, []string{"finalizer"})

		waitOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_wait_outcomes_total",
			Help: "Bounded waits for webhook results, labeled by outcome.",
		}, []string{"outcome"})

		activeWorkers = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "collector_active_workers",
			Help: "Workers currently executing a task.",
		})

		pagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_pages_total",
			Help: "Pages fetched by the local scraper, labeled by site and status.",
		}, []string{"site", "status"})

		rateLimitDelaySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "collector_rate_limit_delay_seconds",
			Help:    "Time spent waiting on rate limiters, labeled by key.",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"key"})
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SanitizeSite reduces a URL to a lowercase host label, or "unknown".
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

// ObserveHTTPRequest records one served request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveWebhook records an inbound delivery outcome.
func ObserveWebhook(topic, outcome string) {
	Init()
	webhookDeliveriesTotal.WithLabelValues(topic, outcome).Inc()
}

// ObserveProviderTrigger records one trigger attempt sequence.
func ObserveProviderTrigger(sourceType, outcome string) {
	Init()
	providerTriggersTotal.WithLabelValues(sourceType, outcome).Inc()
}

// ObserveSourceTask records a task handled by a worker.
func ObserveSourceTask(sourceType, mode, outcome string) {
	Init()
	sourceTasksTotal.WithLabelValues(sourceType, mode, outcome).Inc()
}

// ObserveJobFinalized counts a finalization.
func ObserveJobFinalized() {
	Init()
	jobsFinalizedTotal.Inc()
}

// ObserveFinalizerError counts a failed finalizer.
func ObserveFinalizerError(name string) {
	Init()
	finalizerErrorsTotal.WithLabelValues(name).Inc()
}

// ObserveWait records a bounded-wait outcome (delivered, timeout, error).
func ObserveWait(outcome string) {
	Init()
	waitOutcomesTotal.WithLabelValues(outcome).Inc()
}

// ObservePage records a page fetched by the local scraper.
func ObservePage(rawURL, status string) {
	Init()
	pagesTotal.WithLabelValues(SanitizeSite(rawURL), status).Inc()
}

// ObserveRateLimitDelay records time spent blocked on a limiter.
func ObserveRateLimitDelay(key string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(key).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active worker gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active worker gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}
