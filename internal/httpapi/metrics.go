package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "analyzerd"

// Analysis latency is dominated by cache hits (sub-millisecond) or engine
// loads (seconds), so buckets span both.
var latencyBuckets = []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}

func metricOpts(subsystem, name, help string) prometheus.Opts {
	return prometheus.Opts{Namespace: metricsNamespace, Subsystem: subsystem, Name: name, Help: help}
}

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts(metricOpts("http", "requests_total", "Total number of HTTP requests")),
		[]string{"route", "method", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   latencyBuckets,
		},
		[]string{"route", "method", "status"},
	)

	httpInflight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts(metricOpts("http", "inflight_requests", "In-flight HTTP requests")),
		[]string{"route"},
	)

	analyzeResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts(metricOpts("analyze", "results_total", "Per-kind analysis outcomes (ok, cache_hit or an error code)")),
		[]string{"kind", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal, httpRequestDuration, httpInflight, analyzeResultsTotal)
}

// statusRecorder wraps http.ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// MetricsMiddleware instruments requests for Prometheus
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sr := &statusRecorder{ResponseWriter: w, status: 200}
		start := time.Now()
		next.ServeHTTP(sr, r)
		// The route pattern is only known after routing.
		route := routePatternOrPath(r)
		code := itoa(sr.status)
		httpRequestsTotal.WithLabelValues(route, r.Method, code).Inc()
		httpRequestDuration.WithLabelValues(route, r.Method, code).Observe(time.Since(start).Seconds())
	})
}

// inflightMiddleware tracks in-flight requests per route. It must sit inside
// the router so the pattern is resolved.
func inflightMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g := httpInflight.WithLabelValues(routePatternOrPath(r))
		g.Inc()
		defer g.Dec()
		next.ServeHTTP(w, r)
	})
}

// routePatternOrPath returns the chi route pattern if available, otherwise
// falls back to URL path. This avoids high-cardinality label values.
func routePatternOrPath(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

// countOutcome records one per-kind analysis outcome.
func countOutcome(kind, outcome string) {
	analyzeResultsTotal.WithLabelValues(kind, outcome).Inc()
}

// fast integer to ascii for small set of status codes
func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [4]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
