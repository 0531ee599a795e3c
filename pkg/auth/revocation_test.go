package auth

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/turnstile/pkg/tokenutil"
)

func hashOf(token string) string { return tokenutil.Hash(token) }

func TestRevocationRegistry_CacheHitAndMiss(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	exp := h.clock.Now().Add(10 * time.Minute)

	require.NoError(t, h.registry.Revoke(ctx, "tok-1", "u1", TokenTypeAccess, exp, "logout"))
	assert.True(t, h.mr.Exists("ts:blacklist:"+hashOf("tok-1")))

	revoked, err := h.registry.IsRevoked(ctx, "tok-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = h.registry.IsRevoked(ctx, "tok-2")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestRevocationRegistry_CacheDownFallsBackToDatabase(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	exp := h.clock.Now().Add(10 * time.Minute)

	h.mr.Close()
	require.NoError(t, h.registry.Revoke(ctx, "tok-1", "u1", TokenTypeAccess, exp, "logout"))

	revoked, err := h.registry.IsRevoked(ctx, "tok-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	// Redis is back but never saw the entry: the durable window still covers it.
	require.NoError(t, h.mr.Restart())
	revoked, err = h.registry.IsRevoked(ctx, "tok-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	// Past the window the token itself has expired, so a plain miss is correct.
	h.clock.Advance(16 * time.Minute)
	revoked, err = h.registry.IsRevoked(ctx, "tok-1")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestRevocationRegistry_WithoutCache(t *testing.T) {
	store := newMemRevocationStore()
	registry := NewRevocationRegistry(store, nil, 15*time.Minute, nil, nil)
	ctx := context.Background()

	require.NoError(t, registry.Revoke(ctx, "tok", "u1", TokenTypeRefresh, time.Now().Add(time.Hour), "logout"))
	revoked, err := registry.IsRevoked(ctx, "tok")
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestRevocationRegistry_Cleanup(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.registry.Revoke(ctx, "short", "u1", TokenTypeAccess, h.clock.Now().Add(time.Minute), "x"))
	require.NoError(t, h.registry.Revoke(ctx, "long", "u1", TokenTypeRefresh, h.clock.Now().Add(time.Hour), "x"))

	h.clock.Advance(2 * time.Minute)
	n, err := h.registry.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestDBRevocationStore(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewDBRevocationStore(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO revoked_tokens").
		WithArgs("h1", "u1", "access", "logout", now, now.Add(time.Minute)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("h1", now).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec("DELETE FROM revoked_tokens").
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 4))

	require.NoError(t, store.Insert(ctx, &RevokedToken{
		TokenHash: "h1", UserID: "u1", TokenType: TokenTypeAccess, Reason: "logout",
		RevokedAt: now, ExpiresAt: now.Add(time.Minute),
	}))
	revoked, err := store.IsRevoked(ctx, "h1", now)
	require.NoError(t, err)
	assert.True(t, revoked)
	n, err := store.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
