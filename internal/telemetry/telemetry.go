// Package telemetry exposes Prometheus collectors for the extraction service.
package telemetry

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	extractorPagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extractor_pages_total",
			Help: "Total number of pages processed, labeled by site and outcome.",
		},
		[]string{"site", "outcome"},
	)

	extractorRenderDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "extractor_render_duration_seconds",
			Help:    "Histogram of page render latencies, labeled by mode.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"mode"},
	)

	extractorRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extractor_records_total",
			Help: "Total number of extracted records, labeled by kind.",
		},
		[]string{"kind"},
	)

	extractorJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extractor_jobs_total",
			Help: "Total number of jobs finished, labeled by status.",
		},
		[]string{"status"},
	)

	extractorActiveJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "extractor_active_jobs",
			Help: "Number of jobs currently running.",
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
)

// Handler returns the standard Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := chi.RouteContext(r.Context()).RoutePattern()
		if routePattern == "" {
			routePattern = "unknown"
		}

		ObserveHTTPRequest(r.Method, routePattern, ww.statusCode, time.Since(start))
	})
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
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

// ObservePage records the outcome of a processed page.
func ObservePage(site, outcome string) {
	extractorPagesTotal.WithLabelValues(SanitizeSite(site), outcome).Inc()
}

// ObserveRender records a page render latency for the given mode.
func ObserveRender(mode string, duration time.Duration) {
	extractorRenderDurationSeconds.WithLabelValues(mode).Observe(duration.Seconds())
}

// ObserveRecords adds extracted record counts by kind.
func ObserveRecords(entities, relations int) {
	if entities > 0 {
		extractorRecordsTotal.WithLabelValues("entity").Add(float64(entities))
	}
	if relations > 0 {
		extractorRecordsTotal.WithLabelValues("relation").Add(float64(relations))
	}
}

// ObserveJob increments the finished-job counter for the given status.
func ObserveJob(status string) {
	extractorJobsTotal.WithLabelValues(status).Inc()
}

// IncActiveJobs increments the running-job gauge.
func IncActiveJobs() {
	extractorActiveJobs.Inc()
}

// DecActiveJobs decrements the running-job gauge.
func DecActiveJobs() {
	extractorActiveJobs.Dec()
}

// ObserveHTTPRequest records metrics for one HTTP request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
