package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal counts HTTP requests by route, method, and status label.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	// HTTPRequestDuration records request durations by route and method.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	// RequestsEnqueuedTotal counts requests enqueued via the intake API.
	RequestsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requests_enqueued_total",
			Help: "Total number of inference requests enqueued",
		},
		[]string{"request_type"},
	)
	// RequestsCompletedTotal counts requests completed by the dispatcher.
	RequestsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requests_completed_total",
			Help: "Total number of inference requests completed, by terminal status",
		},
		[]string{"status"},
	)
	// InferenceDuration records adapter call durations by specialization.
	InferenceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inference_duration_seconds",
			Help:    "Inference backend call duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 180},
		},
		[]string{"specialization"},
	)
	// ArbiterWaitDuration records time spent waiting for the resource permit.
	ArbiterWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "arbiter_wait_seconds",
			Help:    "Time spent waiting to acquire the resource arbiter permit",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
	)
	// DispatcherCycleExceptions counts unexpected dispatcher-loop exceptions.
	DispatcherCycleExceptions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatcher_cycle_exceptions_total",
			Help: "Total number of unexpected exceptions in the dispatcher loop",
		},
	)
	// QueueDepth is registered for per-status row counts; no component in
	// this module sets it.
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Current number of rows per queue status",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration,
		RequestsEnqueuedTotal, RequestsCompletedTotal,
		InferenceDuration, ArbiterWaitDuration,
		DispatcherCycleExceptions, QueueDepth,
	)
}

// HTTPMetricsMiddleware records Prometheus metrics for every HTTP request,
// tagging the route pattern (not the raw path) to keep label cardinality
// bounded.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		HTTPRequestsTotal.WithLabelValues(route, r.Method, http.StatusText(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
