package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics.
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

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the last readiness check passed.",
	})
)

// Submission pipeline metrics.
var (
	SubmissionsReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "submissions_received_total",
		Help: "Submissions accepted by the ingestion endpoint.",
	})

	PublishFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_publish_failures_total",
		Help: "Submissions stored but not enqueued.",
	})

	MessagesPoisoned = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "queue_messages_poisoned_total",
		Help: "Work messages routed to the dead-letter topic.",
	})

	Republished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reconcile_republished_total",
		Help: "Stale submissions re-enqueued by the reconciliation sweep.",
	})

	RepublishExhausted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reconcile_exhausted_total",
		Help: "Submissions left RECEIVED after their last allowed republish.",
	})

	SubmissionsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "submissions_finished_total",
			Help: "Submissions that reached a terminal status.",
		},
		[]string{"status"},
	)
)

var initOnce sync.Once

// Init registers metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration, readyGauge,
			SubmissionsReceived, PublishFailures, MessagesPoisoned, Republished, RepublishExhausted,
			SubmissionsFinished,
		)
	})
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady records the outcome of the latest readiness probe.
func SetReady(ok bool) {
	if ok {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

// Instrument records RPS, latency and in-flight requests. The path label uses
// the chi route pattern when available to keep cardinality bounded.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		path := CanonicalPath(r.URL.Path)
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if pattern := rc.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
	})
}

// CanonicalPath collapses identifier segments of known routes.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(p, "/"), "/")
	if len(parts) == 2 && parts[0] == "status" && parts[1] != "" {
		return "/status/{id}"
	}
	return p
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
