// Package metrics exposes Prometheus collectors for the tag feed.
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
	queueInFlight              prometheus.Gauge
	queuePending               prometheus.Gauge
	queueJobsTotal             *prometheus.CounterVec
	queueJobDurationSeconds    prometheus.Histogram
	fetchRequestsTotal         *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	entryTransitionsTotal      *prometheus.CounterVec
	batchesRenderedTotal       prometheus.Counter
	entriesRenderedTotal       prometheus.Counter
	activeSessions             prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	pageCacheTotal             *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		queueInFlight = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tagfeed_queue_in_flight",
			Help: "Content jobs currently running.",
		})
		queuePending = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tagfeed_queue_pending",
			Help: "Content jobs waiting for a free slot.",
		})
		queueJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tagfeed_queue_jobs_total",
			Help: "Finished content jobs, labeled by result.",
		}, []string{"result"})
		queueJobDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "tagfeed_queue_job_duration_seconds",
			Help:    "Wall time of finished content jobs.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		})
		fetchRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tagfeed_fetch_requests_total",
			Help: "Fetches labeled by kind (index or content), site, and status class.",
		}, []string{"kind", "site", "status_class"})
		fetchBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tagfeed_fetch_bytes_total",
			Help: "Bytes downloaded, labeled by kind.",
		}, []string{"kind"})
		fetchDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tagfeed_fetch_duration_seconds",
			Help:    "Fetch latency labeled by kind.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"kind"})
		entryTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tagfeed_entry_transitions_total",
			Help: "Entry state transitions labeled by the state entered.",
		}, []string{"state"})
		batchesRenderedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "tagfeed_batches_rendered_total",
			Help: "Placeholder batches rendered.",
		})
		entriesRenderedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "tagfeed_entries_rendered_total",
			Help: "Placeholder entries rendered.",
		})
		activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tagfeed_sessions_active",
			Help: "Feed sessions currently mounted.",
		})
		rateLimitDelaysSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tagfeed_rate_limit_delays_seconds",
			Help:    "Histogram of rate limit wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"domain"})
		pageCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tagfeed_page_cache_total",
			Help: "Page cache lookups and writes labeled by result (hit, miss, error).",
		}, []string{"result"})
		httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		}, []string{"method", "code"})
		httpRequestDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"method", "route"})
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
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
	Init()
	return promhttp.Handler()
}

// StatusClass groups HTTP status codes; zero means the request never got a response.
func StatusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "other"
	}
}

// SetQueueDepth publishes the queue's pending and in-flight counts.
func SetQueueDepth(pending, inFlight int) {
	Init()
	queuePending.Set(float64(pending))
	queueInFlight.Set(float64(inFlight))
}

// ObserveJob records a finished queue job.
func ObserveJob(result string, duration time.Duration) {
	Init()
	queueJobsTotal.WithLabelValues(result).Inc()
	queueJobDurationSeconds.Observe(duration.Seconds())
}

// ObserveFetch records one index or content fetch.
func ObserveFetch(kind, rawURL string, statusCode, bytesFetched int, duration time.Duration) {
	Init()
	fetchRequestsTotal.WithLabelValues(kind, SanitizeSite(rawURL), StatusClass(statusCode)).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(kind).Add(float64(bytesFetched))
	}
	if duration > 0 {
		fetchDurationSeconds.WithLabelValues(kind).Observe(duration.Seconds())
	}
}

// ObserveEntryState counts an entry entering state.
func ObserveEntryState(state string) {
	Init()
	entryTransitionsTotal.WithLabelValues(state).Inc()
}

// ObserveBatch counts a rendered batch of size entries.
func ObserveBatch(size int) {
	Init()
	batchesRenderedTotal.Inc()
	entriesRenderedTotal.Add(float64(size))
}

// IncActiveSessions increments the mounted sessions gauge.
func IncActiveSessions() {
	Init()
	activeSessions.Inc()
}

// DecActiveSessions decrements the mounted sessions gauge.
func DecActiveSessions() {
	Init()
	activeSessions.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveCache counts a page cache outcome.
func ObserveCache(result string) {
	Init()
	pageCacheTotal.WithLabelValues(result).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
