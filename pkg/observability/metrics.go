package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics.
//
// A nil *Metrics is valid: every recording helper is a no-op on nil so
// services can be constructed without a registry in tests.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Token lifecycle
	TokensIssuedTotal        *prometheus.CounterVec
	TokenVerificationsTotal  *prometheus.CounterVec
	RefreshRotationsTotal    *prometheus.CounterVec
	RefreshReuseDetected     prometheus.Counter
	TokenRevocationsTotal    *prometheus.CounterVec
	LoginAttemptsTotal       *prometheus.CounterVec

	// Cache behaviour
	CacheOperationsTotal *prometheus.CounterVec
	CacheFallbacksTotal  *prometheus.CounterVec

	// Authorization
	PermissionChecksTotal    *prometheus.CounterVec
	PermissionMutationsTotal *prometheus.CounterVec

	// Background cleanup
	CleanupRowsTotal *prometheus.CounterVec
	CleanupRunsTotal *prometheus.CounterVec

	// Security-event webhooks
	WebhookDeliveriesTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "turnstile_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		TokensIssuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_tokens_issued_total",
				Help: "Signed tokens minted, by token type",
			},
			[]string{"type"},
		),
		TokenVerificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_token_verifications_total",
				Help: "Token verifications, by expected type and result",
			},
			[]string{"type", "result"},
		),
		RefreshRotationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_refresh_rotations_total",
				Help: "Refresh token rotations, by result",
			},
			[]string{"result"},
		),
		RefreshReuseDetected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "turnstile_refresh_token_reuse_detected_total",
				Help: "Already-consumed refresh tokens presented again",
			},
		),
		TokenRevocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_token_revocations_total",
				Help: "Explicit token revocations, by scope",
			},
			[]string{"scope"},
		),
		LoginAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_login_attempts_total",
				Help: "Login attempts, by result",
			},
			[]string{"result"},
		),
		CacheOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_cache_operations_total",
				Help: "Fast cache lookups, by namespace and result",
			},
			[]string{"namespace", "result"},
		),
		CacheFallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_cache_fallbacks_total",
				Help: "Reads served from the durable store because the cache failed",
			},
			[]string{"component"},
		),
		PermissionChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_permission_checks_total",
				Help: "Authorization decisions, by mode and result",
			},
			[]string{"mode", "result"},
		),
		PermissionMutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_permission_mutations_total",
				Help: "Direct grant rows written, by operation",
			},
			[]string{"operation"},
		),
		CleanupRowsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_cleanup_rows_total",
				Help: "Rows affected by cleanup jobs",
			},
			[]string{"job"},
		),
		CleanupRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_cleanup_runs_total",
				Help: "Cleanup job executions, by job and status",
			},
			[]string{"job", "status"},
		),
		WebhookDeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_webhook_deliveries_total",
				Help: "Security-event webhook deliveries, by outcome",
			},
			[]string{"status"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.TokensIssuedTotal,
		m.TokenVerificationsTotal,
		m.RefreshRotationsTotal,
		m.RefreshReuseDetected,
		m.TokenRevocationsTotal,
		m.LoginAttemptsTotal,
		m.CacheOperationsTotal,
		m.CacheFallbacksTotal,
		m.PermissionChecksTotal,
		m.PermissionMutationsTotal,
		m.CleanupRowsTotal,
		m.CleanupRunsTotal,
		m.WebhookDeliveriesTotal,
	)

	return m
}

func (m *Metrics) TokenIssued(tokenType string) {
	if m == nil {
		return
	}
	m.TokensIssuedTotal.WithLabelValues(tokenType).Inc()
}

func (m *Metrics) TokenVerified(tokenType, result string) {
	if m == nil {
		return
	}
	m.TokenVerificationsTotal.WithLabelValues(tokenType, result).Inc()
}

func (m *Metrics) RefreshRotated(result string) {
	if m == nil {
		return
	}
	m.RefreshRotationsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RefreshReused() {
	if m == nil {
		return
	}
	m.RefreshReuseDetected.Inc()
}

func (m *Metrics) TokenRevoked(scope string) {
	if m == nil {
		return
	}
	m.TokenRevocationsTotal.WithLabelValues(scope).Inc()
}

func (m *Metrics) LoginAttempt(result string) {
	if m == nil {
		return
	}
	m.LoginAttemptsTotal.WithLabelValues(result).Inc()
}

// CacheLookup records a fast-cache read; result is "hit", "miss" or "error".
func (m *Metrics) CacheLookup(namespace, result string) {
	if m == nil {
		return
	}
	m.CacheOperationsTotal.WithLabelValues(namespace, result).Inc()
}

func (m *Metrics) CacheFallback(component string) {
	if m == nil {
		return
	}
	m.CacheFallbacksTotal.WithLabelValues(component).Inc()
}

func (m *Metrics) PermissionCheck(mode string, allowed bool) {
	if m == nil {
		return
	}
	result := "denied"
	if allowed {
		result = "allowed"
	}
	m.PermissionChecksTotal.WithLabelValues(mode, result).Inc()
}

func (m *Metrics) PermissionMutation(operation string, rows int64) {
	if m == nil || rows <= 0 {
		return
	}
	m.PermissionMutationsTotal.WithLabelValues(operation).Add(float64(rows))
}

// CleanupRun records one execution of a cleanup job.
func (m *Metrics) CleanupRun(job string, rows int64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.CleanupRunsTotal.WithLabelValues(job, "error").Inc()
		return
	}
	m.CleanupRunsTotal.WithLabelValues(job, "success").Inc()
	if rows > 0 {
		m.CleanupRowsTotal.WithLabelValues(job).Add(float64(rows))
	}
}

// WebhookDelivery records one webhook outcome: "success", "retry",
// "failed" or "dropped".
func (m *Metrics) WebhookDelivery(status string) {
	if m == nil {
		return
	}
	m.WebhookDeliveriesTotal.WithLabelValues(status).Inc()
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// routeLabel prefers the mux route template over the raw path so user IDs in
// URLs do not explode label cardinality.
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return r.URL.Path
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
