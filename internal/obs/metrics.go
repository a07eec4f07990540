package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Shared HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Ballot protocol metrics.
var (
	tokenRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kioskvote_token_requests_total",
			Help: "Token requests by outcome (issued, reissued, not_eligible, or an error code).",
		},
		[]string{"outcome"},
	)

	commits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kioskvote_commits_total",
			Help: "Commit attempts by outcome.",
		},
		[]string{"outcome"},
	)

	eligibilityLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kioskvote_eligibility_lookups_total",
			Help: "Remote eligibility lookups by result.",
		},
		[]string{"result"},
	)

	eligibilityLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "kioskvote_eligibility_lookup_seconds",
		Help:    "Latency of remote eligibility lookups.",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
	})

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kioskvote_ready",
		Help: "1 when the last readiness probe succeeded.",
	})
)

var initOnce sync.Once

// Init registers all metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			tokenRequests, commits, eligibilityLookups, eligibilityLatency, ready,
		)
	})
}

// Handler exposes the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTokenRequest counts one /query outcome.
func ObserveTokenRequest(outcome string) {
	tokenRequests.WithLabelValues(outcome).Inc()
}

// ObserveCommit counts one /commit outcome.
func ObserveCommit(outcome string) {
	commits.WithLabelValues(outcome).Inc()
}

// ObserveEligibility records one remote lookup.
func ObserveEligibility(result string, d time.Duration) {
	eligibilityLookups.WithLabelValues(result).Inc()
	eligibilityLatency.Observe(d.Seconds())
}

// SetReady mirrors the last readiness probe result.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

var knownPaths = map[string]struct{}{
	"/":        {},
	"/query":   {},
	"/commit":  {},
	"/ping":    {},
	"/healthz": {},
	"/readyz":  {},
	"/metrics": {},
}

// CanonicalPath maps a request path to a bounded label value.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	if _, ok := knownPaths[p]; ok {
		return p
	}
	return "other"
}

// Instrument measures rate, latency and in-flight requests.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
