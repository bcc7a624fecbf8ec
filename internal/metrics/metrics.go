// Package metrics exposes Prometheus collectors for the fetch service.
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
	jobsTotal                  *prometheus.CounterVec
	jobDurationSeconds         *prometheus.HistogramVec
	deliveredBytesTotal        prometheus.Counter
	admissionRejectionsTotal   *prometheus.CounterVec
	cacheLookupsTotal          *prometheus.CounterVec
	queueDepth                 prometheus.Gauge
	workerBusy                 prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pinsave_jobs_total",
				Help: "Total number of jobs processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		jobDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pinsave_job_duration_seconds",
				Help:    "Histogram of job processing time, labeled by outcome.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"outcome"},
		)

		deliveredBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pinsave_delivered_bytes_total",
				Help: "Total bytes of freshly fetched artifacts delivered.",
			},
		)

		admissionRejectionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pinsave_admission_rejections_total",
				Help: "Total number of requests turned away, labeled by reason.",
			},
			[]string{"reason"},
		)

		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pinsave_cache_lookups_total",
				Help: "Artifact cache lookups, labeled by result (hit, miss, stale).",
			},
			[]string{"result"},
		)

		queueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pinsave_queue_depth",
				Help: "Number of jobs waiting in the queue.",
			},
		)

		workerBusy = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pinsave_worker_busy",
				Help: "1 while the worker is processing a job.",
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

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pinsave_rate_limit_delays_seconds",
				Help:    "Histogram of extractor rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
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

// Handler returns an http.Handler for exposing Prometheus metrics. It
// registers the collectors first so an idle process still reports them.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveJob records a finished job.
func ObserveJob(outcome string, duration time.Duration, bytesDelivered int64) {
	Init()
	jobsTotal.WithLabelValues(outcome).Inc()
	jobDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
	if bytesDelivered > 0 {
		deliveredBytesTotal.Add(float64(bytesDelivered))
	}
}

// ObserveRejection counts a request turned away at admission.
func ObserveRejection(reason string) {
	Init()
	admissionRejectionsTotal.WithLabelValues(reason).Inc()
}

// ObserveCacheLookup counts a cache lookup result.
func ObserveCacheLookup(result string) {
	Init()
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// SetQueueDepth records the number of waiting jobs.
func SetQueueDepth(n int) {
	Init()
	queueDepth.Set(float64(n))
}

// SetWorkerBusy flips the worker busy gauge.
func SetWorkerBusy(busy bool) {
	Init()
	if busy {
		workerBusy.Set(1)
		return
	}
	workerBusy.Set(0)
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
