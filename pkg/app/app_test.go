package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/turnstile/pkg/audit"
	"github.com/platinummonkey/turnstile/pkg/config"
	"github.com/platinummonkey/turnstile/pkg/observability"
	"github.com/platinummonkey/turnstile/pkg/webhooks"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: "8080", RequestTimeout: time.Second},
		Auth: config.AuthConfig{
			JWTSecret:            "0123456789abcdef0123456789abcdef",
			Issuer:               "turnstile-test",
			AccessTokenTTL:       15 * time.Minute,
			RefreshTokenTTL:      7 * 24 * time.Hour,
			BcryptCost:           4,
			RequireActiveSession: true,
			CatalogCacheTTL:      time.Minute,
			LoginRateLimit:       5,
			LoginRateWindow:      time.Minute,
		},
		Cleanup: config.CleanupConfig{
			PermissionsSchedule:  "*/5 * * * *",
			SessionsSchedule:     "0 * * * *",
			TokensSchedule:       "30 * * * *",
			SessionRetentionDays: 30,
		},
	}
}

func newTestApp(t *testing.T, cfg *config.Config) (*App, sqlmock.Sqlmock, error) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	registry := prometheus.NewRegistry()
	a := &App{
		Config:   cfg,
		DB:       db,
		Logger:   observability.NewNopLogger(),
		Registry: registry,
		Metrics:  observability.NewMetrics(registry),
	}
	return a, mock, a.wire()
}

func TestWire_BuildsComponents(t *testing.T) {
	a, _, err := newTestApp(t, testConfig())
	require.NoError(t, err)

	assert.NotNil(t, a.Issuer)
	assert.NotNil(t, a.Authenticator)
	assert.NotNil(t, a.Gateway)
	assert.Len(t, a.Resolver.Templates(), 3, "templates come from the built-in seed")

	c := a.Cleaners()
	assert.NotNil(t, c.Permissions)
	assert.NotNil(t, c.Sessions)
	assert.NotNil(t, c.RefreshTokens)
	assert.NotNil(t, c.Blacklist)
}

func TestWire_SeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
permissions:
  - code: widgets.view
    name: View widgets
templates:
  - name: widget_viewer
    permissions: [widgets.view]
`), 0o600))

	cfg := testConfig()
	cfg.Auth.SeedFile = path
	a, _, err := newTestApp(t, cfg)
	require.NoError(t, err)
	require.Len(t, a.Resolver.Templates(), 1)
	assert.Equal(t, "widget_viewer", a.Resolver.Templates()[0].Name)

	cfg = testConfig()
	cfg.Auth.SeedFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, _, err = newTestApp(t, cfg)
	assert.Error(t, err)
}

func TestWire_Webhooks(t *testing.T) {
	a, _, err := newTestApp(t, testConfig())
	require.NoError(t, err)
	assert.Nil(t, a.Webhooks, "disabled without a URL")

	events := make(chan string, 4)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		events <- r.Header.Get(webhooks.HeaderEvent)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer hook.Close()

	cfg := testConfig()
	cfg.Webhook = config.WebhookConfig{URL: hook.URL, Format: "json", MaxAttempts: 1, Events: []string{"auth.refresh_reuse"}}
	a, mock, err := newTestApp(t, cfg)
	require.NoError(t, err)
	require.NotNil(t, a.Webhooks)

	// The database sink writes the activity row as well.
	mock.ExpectExec("INSERT INTO activity_logs").WillReturnResult(sqlmock.NewResult(1, 1))
	event := audit.NewEvent(context.Background(), audit.ActionRefreshReuse, audit.CategorySecurity, "u-1", "u-1")
	require.NoError(t, a.Audit.Log(context.Background(), event))
	require.NoError(t, a.Audit.Close())

	assert.Equal(t, "auth.refresh_reuse", <-events)
	assert.Equal(t, webhooks.DeliveryStats{Delivered: 1}, a.Webhooks.Stats())

	cfg.Webhook.URL = "not a url"
	_, _, err = newTestApp(t, cfg)
	assert.Error(t, err)
}

func TestServer_WithoutCache(t *testing.T) {
	a, mock, err := newTestApp(t, testConfig())
	require.NoError(t, err)
	server := a.Server()

	w := httptest.NewRecorder()
	server.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	mock.ExpectPing()
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))
	w = httptest.NewRecorder()
	server.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	server.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/sessions", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClose(t *testing.T) {
	a, mock, err := newTestApp(t, testConfig())
	require.NoError(t, err)

	mock.ExpectClose()
	assert.NoError(t, a.Close())
}
