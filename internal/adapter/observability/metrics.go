// Package observability provides logging, metrics, and tracing.
//
// It integrates with OpenTelemetry for system monitoring and exposes the
// Prometheus instrumentation for the HTTP surface, the job pipeline, the
// routing decisions, and the WebSocket registry.
package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	OrdersSubmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orders_submitted_total",
			Help: "Total number of orders accepted at intake",
		},
	)
	OrdersFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orders_finished_total",
			Help: "Total number of orders that reached a terminal status",
		},
		[]string{"status"},
	)

	JobsEnqueuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jobs_enqueued_total",
			Help: "Total number of jobs enqueued",
		},
	)
	JobsProcessing = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobs_processing",
			Help: "Number of jobs currently processing",
		},
	)
	JobAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_attempts_total",
			Help: "Total number of job attempts by outcome",
		},
		[]string{"outcome"},
	)
	JobRetriesScheduledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "job_retries_scheduled_total",
			Help: "Total number of retries scheduled with backoff",
		},
	)

	RoutingDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routing_decisions_total",
			Help: "Total number of routing decisions by selected venue",
		},
		[]string{"dex"},
	)

	WSActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_active_connections",
			Help: "Number of order streams currently attached",
		},
	)
	WSFramesSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ws_frames_sent_total",
			Help: "Total number of WebSocket frames delivered to clients",
		},
	)
)

func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(OrdersSubmittedTotal)
	prometheus.MustRegister(OrdersFinishedTotal)
	prometheus.MustRegister(JobsEnqueuedTotal)
	prometheus.MustRegister(JobsProcessing)
	prometheus.MustRegister(JobAttemptsTotal)
	prometheus.MustRegister(JobRetriesScheduledTotal)
	prometheus.MustRegister(RoutingDecisionsTotal)
	prometheus.MustRegister(WSActiveConnections)
	prometheus.MustRegister(WSFramesSentTotal)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			// fallback when route pattern is unavailable
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

func EnqueueJob() {
	JobsEnqueuedTotal.Inc()
}

// StartProcessingJob marks a job dispatched to a worker.
func StartProcessingJob() {
	JobsProcessing.Inc()
}

// StopProcessingJob marks a dispatched job finished, whatever the outcome.
func StopProcessingJob() {
	JobsProcessing.Dec()
}

// FinishAttempt counts one finished attempt. Outcome is one of "completed",
// "retry_scheduled", "failed", or "discarded".
func FinishAttempt(outcome string) {
	JobAttemptsTotal.WithLabelValues(outcome).Inc()
}

// FinishOrder records a terminal order status.
func FinishOrder(status string) {
	OrdersFinishedTotal.WithLabelValues(status).Inc()
}
