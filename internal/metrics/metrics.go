// Package metrics exposes Prometheus collectors for the document pipeline.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Registry holds every collector of the service. Batch jobs push it to a
// Pushgateway on exit; the API server exposes it on /metrics.
var Registry = prometheus.NewRegistry()

var (
	factory = promauto.With(Registry)

	documentsFetchedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "aipolicy_documents_fetched_total",
			Help: "Total number of documents returned by the Federal Register search.",
		},
	)

	documentsInsertedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aipolicy_documents_inserted_total",
			Help: "Total number of new rows inserted, labeled by table.",
		},
		[]string{"table"},
	)

	classificationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aipolicy_classifications_total",
			Help: "Total number of classification attempts, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	refreshTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aipolicy_refresh_documents_total",
			Help: "Total number of metrics refresh units, labeled by table and outcome.",
		},
		[]string{"table", "outcome"},
	)

	jobsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aipolicy_jobs_total",
			Help: "Total number of batch job runs, labeled by batch job and status.",
		},
		[]string{"batch_job", "status"},
	)

	jobDurationSeconds = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aipolicy_job_duration_seconds",
			Help:    "Histogram of batch job durations, labeled by batch job.",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 3600},
		},
		// "job" is the Pushgateway grouping key and may not appear on pushed series.
		[]string{"batch_job"},
	)

	httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)

	activeWorkers = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "aipolicy_refresh_active_workers",
			Help: "Number of refresh workers currently processing a document.",
		},
	)

	rateLimitDelaysSeconds = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aipolicy_rate_limit_delays_seconds",
			Help:    "Histogram of rate limit wait durations, labeled by scope.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"scope"},
	)
)

// SanitizeSite extracts a lowercase hostname from a URL.
// It returns "unknown" if the URL is invalid.
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

// Handler returns an http.Handler exposing the service registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// Push sends the registry to a Pushgateway under the given job name.
// An empty gateway URL is a no-op.
func Push(ctx context.Context, gatewayURL, job string) error {
	if strings.TrimSpace(gatewayURL) == "" {
		return nil
	}
	if err := push.New(gatewayURL, job).Gatherer(Registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}

// ObserveFetched counts documents returned by the source search.
func ObserveFetched(n int) {
	if n > 0 {
		documentsFetchedTotal.Add(float64(n))
	}
}

// ObserveInserted counts rows inserted into a table.
func ObserveInserted(table string, n int) {
	if n > 0 {
		documentsInsertedTotal.WithLabelValues(table).Add(float64(n))
	}
}

// ObserveClassification increments the classification counter.
func ObserveClassification(outcome string) {
	classificationsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRefresh increments the refresh counter.
func ObserveRefresh(table, outcome string) {
	refreshTotal.WithLabelValues(table, outcome).Inc()
}

// ObserveJob records a finished job run.
func ObserveJob(job, status string, duration time.Duration) {
	jobsTotal.WithLabelValues(job, status).Inc()
	jobDurationSeconds.WithLabelValues(job).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(scope string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(scope).Observe(duration.Seconds())
}
