// Package metrics exposes Prometheus instrumentation for the API and the
// balance engine.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dividi_http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dividi_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dividi_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Domain metrics
var (
	balanceComputations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dividi_balance_computations_total",
			Help: "Group balance computations by resolution mode.",
		},
		[]string{"mode"},
	)

	archiveRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dividi_archive_rejections_total",
		Help: "Archive attempts refused because balances were unsettled.",
	})

	ledgerWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dividi_ledger_writes_total",
			Help: "Ledger records written, by kind.",
		},
		[]string{"kind"},
	)

	activityFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dividi_activity_failures_total",
		Help: "Activity events that could not be delivered.",
	})
)

var initOnce sync.Once

// Init registers every collector with the default registry. Calling it
// more than once is a no-op.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			balanceComputations, archiveRejections, ledgerWrites, activityFailures,
		)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// Balance modes
const (
	ModeSimplified = "simplified"
	ModePairwise   = "pairwise"
)

func BalanceComputed(simplified bool) {
	mode := ModePairwise
	if simplified {
		mode = ModeSimplified
	}
	balanceComputations.WithLabelValues(mode).Inc()
}

func ArchiveRejected() { archiveRejections.Inc() }

func LedgerWritten(kind string) { ledgerWrites.WithLabelValues(kind).Inc() }

func ActivityFailed() { activityFailures.Inc() }

// Instrument records request count, latency and in-flight requests. The
// path label is the matched route template when the request went through
// a mux router.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		path := routePath(r)
		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
	})
}

func routePath(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return CanonicalPath(r.URL.Path)
}

// CanonicalPath collapses group ids so unmatched paths do not explode the
// label cardinality.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(p, "/"), "/")
	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "groups" {
		parts[2] = ":id"
	}
	return "/" + strings.Join(parts, "/")
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
