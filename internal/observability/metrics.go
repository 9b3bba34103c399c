package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics mengumpulkan metrik Prometheus untuk aplikasi.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	gateDecisions   *prometheus.CounterVec
	refreshes       *prometheus.CounterVec
	roleSyncs       *prometheus.CounterVec
	upstreamErrors  prometheus.Counter
	sessionsDropped prometheus.Counter
}

// NewMetrics menginisialisasi registry dan metrik dasar.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "console_http_requests_total",
		Help: "HTTP requests by route and status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "console_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "console_gate_decisions_total",
		Help: "Authorization gate decisions by outcome and reason.",
	}, []string{"decision", "reason"})
	refreshes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "console_token_refresh_total",
		Help: "Access token refreshes by outcome.",
	}, []string{"outcome"})
	syncs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "console_role_sync_total",
		Help: "Role re-syncs by outcome.",
	}, []string{"outcome"})
	upstream := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "console_proxy_upstream_errors_total",
		Help: "Backend proxy calls that failed before a response.",
	})
	dropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "console_sessions_dropped_total",
		Help: "Sessions discarded after a failed refresh of an expired token.",
	})
	registry.MustRegister(requests, duration, decisions, refreshes, syncs, upstream, dropped)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		gateDecisions:   decisions,
		refreshes:       refreshes,
		roleSyncs:       syncs,
		upstreamErrors:  upstream,
		sessionsDropped: dropped,
	}
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveGateDecision menghitung satu keputusan gate.
func (m *Metrics) ObserveGateDecision(decision, reason string) {
	if m == nil {
		return
	}
	m.gateDecisions.WithLabelValues(decision, reason).Inc()
}

// ObserveRefresh menghitung hasil refresh token (session.Observer).
func (m *Metrics) ObserveRefresh(outcome string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(outcome).Inc()
}

// ObserveSync menghitung hasil sinkronisasi role (session.Observer).
func (m *Metrics) ObserveSync(outcome string) {
	if m == nil {
		return
	}
	m.roleSyncs.WithLabelValues(outcome).Inc()
}

// ObserveUpstreamError menghitung kegagalan jaringan proxy backend.
func (m *Metrics) ObserveUpstreamError(error) {
	if m == nil {
		return
	}
	m.upstreamErrors.Inc()
}

// ObserveSessionDropped menghitung sesi yang dibuang.
func (m *Metrics) ObserveSessionDropped() {
	if m == nil {
		return
	}
	m.sessionsDropped.Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
