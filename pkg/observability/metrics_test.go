package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_Registers(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	require.NotNil(t, m)

	m.TokenIssued("access")
	m.RefreshReused()

	families, err := registry.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["turnstile_tokens_issued_total"])
	assert.True(t, names["turnstile_refresh_token_reuse_detected_total"])
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.TokenIssued("access")
		m.TokenVerified("access", "ok")
		m.RefreshRotated("ok")
		m.RefreshReused()
		m.TokenRevoked("single")
		m.LoginAttempt("success")
		m.CacheLookup("session", "hit")
		m.CacheFallback("revocation")
		m.PermissionCheck("all", true)
		m.PermissionMutation("grant", 2)
		m.CleanupRun("sessions", 3, nil)
	})
}

func TestMetrics_Recording(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.PermissionCheck("any", false)
	m.PermissionCheck("any", false)
	m.CleanupRun("permissions", 4, nil)
	m.CleanupRun("permissions", 0, errors.New("db down"))
	m.PermissionMutation("grant", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PermissionChecksTotal.WithLabelValues("any", "denied")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.CleanupRowsTotal.WithLabelValues("permissions")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CleanupRunsTotal.WithLabelValues("permissions", "error")))
	assert.Equal(t, 0, testutil.CollectAndCount(m.PermissionMutationsTotal))
}

func TestHTTPMetricsMiddleware_UsesRouteTemplate(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(m))
	router.HandleFunc("/users/{id}/permissions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/users/abc/permissions", nil))

	assert.Equal(t, http.StatusTeapot, rr.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(
		m.HTTPRequestsTotal.WithLabelValues("GET", "/users/{id}/permissions", "418")))
}

func TestMetricsHandler(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.LoginAttempt("success")

	rr := httptest.NewRecorder()
	MetricsHandler(registry).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), `turnstile_login_attempts_total{result="success"} 1`))
}
