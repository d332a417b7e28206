// Package metrics exposes Prometheus collectors for the ingestion service.
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
	ingestJobsTotal            *prometheus.CounterVec
	ingestQueueDepth           prometheus.Gauge
	ingestActiveWorkers        prometheus.Gauge
	ingestFetchDurationSeconds *prometheus.HistogramVec
	ingestFetchBytesTotal      *prometheus.CounterVec
	ingestSinkWritesTotal      *prometheus.CounterVec
	ingestPollRowsTotal        *prometheus.CounterVec
	ingestPollErrorsTotal      *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		ingestJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_jobs_total",
				Help: "Total number of jobs that reached a terminal state, labeled by status.",
			},
			[]string{"status"},
		)

		ingestQueueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ingest_queue_depth",
				Help: "Number of jobs waiting for a worker.",
			},
		)

		ingestActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ingest_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		ingestFetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_fetch_duration_seconds",
				Help:    "Latency of the fetch-transform step, labeled by site.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
		)

		ingestFetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_fetch_bytes_total",
				Help: "Markdown bytes produced, labeled by site.",
			},
			[]string{"site"},
		)

		ingestSinkWritesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_sink_writes_total",
				Help: "Output sink writes, labeled by source type and result.",
			},
			[]string{"source", "result"},
		)

		ingestPollRowsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_poll_rows_total",
				Help: "Rows read by the polling loop, labeled by source type.",
			},
			[]string{"source"},
		)

		ingestPollErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_poll_errors_total",
				Help: "Failed polling ticks, labeled by source type.",
			},
			[]string{"source"},
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

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveJob increments the job counter for the given terminal status.
func ObserveJob(status string) {
	Init()
	ingestJobsTotal.WithLabelValues(status).Inc()
}

// SetQueueDepth records the current queue backlog.
func SetQueueDepth(depth int) {
	Init()
	ingestQueueDepth.Set(float64(depth))
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	ingestActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	ingestActiveWorkers.Dec()
}

// ObserveFetch records the duration and output size of one fetch-transform call.
func ObserveFetch(rawURL string, duration time.Duration, markdownBytes int) {
	Init()
	site := SanitizeSite(rawURL)
	ingestFetchDurationSeconds.WithLabelValues(site).Observe(duration.Seconds())
	if markdownBytes > 0 {
		ingestFetchBytesTotal.WithLabelValues(site).Add(float64(markdownBytes))
	}
}

// ObserveSinkWrite counts one output sink write attempt.
func ObserveSinkWrite(source string, err error) {
	Init()
	result := "ok"
	if err != nil {
		result = "error"
	}
	ingestSinkWritesTotal.WithLabelValues(source, result).Inc()
}

// ObservePoll counts the rows read by one polling tick, or the tick failure.
func ObservePoll(source string, rows int, err error) {
	Init()
	if err != nil {
		ingestPollErrorsTotal.WithLabelValues(source).Inc()
		return
	}
	ingestPollRowsTotal.WithLabelValues(source).Add(float64(rows))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
