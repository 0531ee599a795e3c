//go:build integration

package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/platinummonkey/turnstile/pkg/auth"
	"github.com/platinummonkey/turnstile/pkg/cache"
	"github.com/platinummonkey/turnstile/pkg/jobs"
	"github.com/platinummonkey/turnstile/pkg/observability"
	"github.com/platinummonkey/turnstile/pkg/rbac"
	"github.com/platinummonkey/turnstile/pkg/storage"
)

// setupPostgres starts a disposable Postgres and returns its URL.
func setupPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		t.Skip("Docker/Podman not available, skipping integration tests")
	}
	provider.Close()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("turnstile_test"),
		postgres.WithUsername("turnstile"),
		postgres.WithPassword("turnstile_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	})

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return url
}

type client struct {
	t      *testing.T
	server http.Handler
}

func (c *client) call(method, path, bearer string, body, out interface{}) int {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, path, &buf)
	if bearer != "" {
		r.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	c.server.ServeHTTP(w, r)
	if out != nil && w.Body.Len() > 0 {
		require.NoError(c.t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
	}
	return w.Code
}

func TestIntegration_EndToEnd(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	cfg := testConfig()
	cfg.Postgres = storage.DefaultConfig()
	cfg.Postgres.URL = setupPostgres(t)
	cfg.Redis = cache.Config{Enabled: true, URL: "redis://" + mr.Addr(), KeyPrefix: "ts:"}

	a, err := New(ctx, cfg, observability.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	require.NotNil(t, a.Cache)

	require.NoError(t, a.Migrate(ctx))
	require.NoError(t, a.SyncCatalog(ctx))
	require.NoError(t, a.SyncCatalog(ctx), "catalog sync is idempotent")

	hash, err := auth.HashPassword("correct horse", cfg.Auth.BcryptCost)
	require.NoError(t, err)
	admin := &auth.User{Email: "admin@example.com", PasswordHash: hash, Role: auth.RoleAdmin, AccessLevel: 5, TwoFactorEnabled: true}
	sales := &auth.User{Email: "sales@example.com", PasswordHash: hash, Role: auth.RoleSalesManager, AccessLevel: 2}
	require.NoError(t, a.Users.CreateUser(ctx, admin))
	require.NoError(t, a.Users.CreateUser(ctx, sales))

	c := &client{t: t, server: a.Server()}
	login := func(email string) *auth.TokenPair {
		var result auth.LoginResult
		code := c.call(http.MethodPost, "/auth/login", "", map[string]string{"email": email, "password": "correct horse"}, &result)
		require.Equal(t, http.StatusOK, code)
		return result.Tokens
	}
	codesOf := func(bearer string) map[string]rbac.Source {
		var body struct {
			Permissions []*rbac.EffectivePermission `json:"permissions"`
		}
		require.Equal(t, http.StatusOK, c.call(http.MethodGet, "/auth/me/permissions", bearer, nil, &body))
		out := map[string]rbac.Source{}
		for _, p := range body.Permissions {
			out[p.Code] = p.Source
		}
		return out
	}

	adminTokens := login("admin@example.com")
	salesTokens := login("sales@example.com")

	t.Run("role defaults", func(t *testing.T) {
		assert.Equal(t, map[string]rbac.Source{
			"customers.view": rbac.SourceRole,
			"orders.view":    rbac.SourceRole,
		}, codesOf(salesTokens.AccessToken))
	})

	t.Run("grant and revoke", func(t *testing.T) {
		var result rbac.GrantResult
		code := c.call(http.MethodPost, "/users/"+sales.ID+"/permissions", adminTokens.AccessToken,
			map[string]interface{}{"codes": []string{"customers.export", "orders.view"}, "reason": "quarter close"}, &result)
		require.Equal(t, http.StatusCreated, code)
		assert.Equal(t, []string{"customers.export", "orders.view"}, result.Granted)

		codes := codesOf(salesTokens.AccessToken)
		assert.Equal(t, rbac.SourceDirect, codes["customers.export"])
		assert.Equal(t, rbac.SourceDirect, codes["orders.view"])

		var revoked map[string]int64
		code = c.call(http.MethodDelete, "/users/"+sales.ID+"/permissions", adminTokens.AccessToken,
			map[string]interface{}{"codes": []string{"customers.export"}}, &revoked)
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, int64(1), revoked["revoked"])
		assert.NotContains(t, codesOf(salesTokens.AccessToken), "customers.export")
	})

	t.Run("sales cannot administer", func(t *testing.T) {
		code := c.call(http.MethodPost, "/users/"+admin.ID+"/permissions", salesTokens.AccessToken,
			map[string]interface{}{"codes": []string{"system.config"}}, nil)
		assert.Equal(t, http.StatusForbidden, code)
	})

	t.Run("refresh rotation and reuse", func(t *testing.T) {
		var next auth.TokenPair
		require.Equal(t, http.StatusOK, c.call(http.MethodPost, "/auth/refresh", "",
			map[string]string{"refreshToken": salesTokens.RefreshToken}, &next))
		assert.Equal(t, salesTokens.SessionID, next.SessionID)

		var failure map[string]string
		require.Equal(t, http.StatusUnauthorized, c.call(http.MethodPost, "/auth/refresh", "",
			map[string]string{"refreshToken": salesTokens.RefreshToken}, &failure))
		assert.Equal(t, "refresh_token_reused", failure["code"])

		salesTokens = &next
	})

	t.Run("logout revokes the access token", func(t *testing.T) {
		require.Equal(t, http.StatusNoContent, c.call(http.MethodPost, "/auth/logout", salesTokens.AccessToken,
			map[string]string{"refreshToken": salesTokens.RefreshToken}, nil))
		assert.Equal(t, http.StatusUnauthorized, c.call(http.MethodGet, "/auth/me/permissions", salesTokens.AccessToken, nil, nil))
	})

	t.Run("janitor runs against the schema", func(t *testing.T) {
		scheduler, err := jobs.NewCleanupScheduler(cfg.Cleanup, a.Cleaners(), nil)
		require.NoError(t, err)
		assert.NoError(t, scheduler.RunOnce(ctx))
	})
}
