// ABOUTME: Prometheus instrumentation for transitions, remote calendar calls and token refreshes
// ABOUTME: Exposes recording helpers, the scrape handler and an HTTP middleware for the web surface
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "issuecal_transitions_total",
		Help: "Issue change notifications processed, by transition rule and outcome.",
	}, []string{"rule", "outcome"})

	remoteCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "issuecal_remote_calls_total",
		Help: "Remote calendar operations, by transport, operation and outcome.",
	}, []string{"transport", "operation", "outcome"})

	remoteLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "issuecal_remote_call_duration_seconds",
		Help:    "Latency of remote calendar operations.",
		Buckets: prometheus.DefBuckets,
	}, []string{"transport", "operation"})

	tokenRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "issuecal_token_refresh_total",
		Help: "OAuth access token refresh attempts, by outcome.",
	}, []string{"outcome"})

	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "issuecal_http_requests_total",
		Help: "HTTP requests served, by method, route and status.",
	}, []string{"method", "route", "status"})
)

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordTransition counts one processed change notification.
func RecordTransition(rule string, err error) {
	transitionsTotal.WithLabelValues(rule, outcome(err)).Inc()
}

// ObserveRemoteCall returns a func that records latency and outcome of one
// remote calendar call when invoked with the call's error.
func ObserveRemoteCall(transport, operation string) func(error) {
	start := time.Now()
	return func(err error) {
		remoteLatency.WithLabelValues(transport, operation).Observe(time.Since(start).Seconds())
		remoteCallsTotal.WithLabelValues(transport, operation, outcome(err)).Inc()
	}
}

// RecordTokenRefresh counts one access token refresh attempt.
func RecordTokenRefresh(err error) {
	tokenRefreshTotal.WithLabelValues(outcome(err)).Inc()
}

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware counts requests by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		httpRequestsTotal.WithLabelValues(r.Method, routePattern(r), strconv.Itoa(status)).Inc()
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := strings.TrimSpace(rctx.RoutePattern()); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
