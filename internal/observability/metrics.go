// Package observability exposes Prometheus metrics for the service.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics on a private registry.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	loginsTotal     *prometheus.CounterVec
	tokensIssued    *prometheus.CounterVec
	tokensRejected  *prometheus.CounterVec
	csrfViolations  prometheus.Counter
	lockoutsTotal   prometheus.Counter
}

// NewMetrics initializes the registry and the base metric set.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobhunter_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "jobhunter_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	logins := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobhunter_logins_total",
		Help: "Login attempts by outcome.",
	}, []string{"outcome"})
	issued := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobhunter_tokens_issued_total",
		Help: "JWTs minted by token type.",
	}, []string{"type"})
	rejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobhunter_tokens_rejected_total",
		Help: "Bearer tokens rejected by reason.",
	}, []string{"reason"})
	csrf := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobhunter_csrf_violations_total",
		Help: "Requests rejected by the CSRF stage.",
	})
	lockouts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobhunter_account_lockouts_total",
		Help: "Accounts locked after repeated failed logins.",
	})
	registry.MustRegister(requests, duration, logins, issued, rejected, csrf, lockouts)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		loginsTotal:     logins,
		tokensIssued:    issued,
		tokensRejected:  rejected,
		csrfViolations:  csrf,
		lockoutsTotal:   lockouts,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request count and duration for every HTTP request.
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

// RecordLogin counts a login attempt. Outcome is success, failure or locked.
func (m *Metrics) RecordLogin(outcome string) {
	if m == nil {
		return
	}
	m.loginsTotal.WithLabelValues(outcome).Inc()
}

// RecordTokenIssued counts a minted JWT by type.
func (m *Metrics) RecordTokenIssued(tokenType string) {
	if m == nil {
		return
	}
	m.tokensIssued.WithLabelValues(tokenType).Inc()
}

// RecordTokenRejected counts a rejected bearer token by reason.
func (m *Metrics) RecordTokenRejected(reason string) {
	if m == nil {
		return
	}
	m.tokensRejected.WithLabelValues(reason).Inc()
}

// RecordCSRFViolation counts a CSRF rejection.
func (m *Metrics) RecordCSRFViolation() {
	if m == nil {
		return
	}
	m.csrfViolations.Inc()
}

// RecordLockout counts an account lockout.
func (m *Metrics) RecordLockout() {
	if m == nil {
		return
	}
	m.lockoutsTotal.Inc()
}

// Registerer exposes the registry for custom metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
