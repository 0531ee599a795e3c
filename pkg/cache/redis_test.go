package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	cfg := DefaultConfig()
	cfg.URL = "redis://" + mr.Addr()
	cfg.KeyPrefix = "ts:"

	client, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client, mr
}

type snapshot struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

func TestClient_JSONRoundTrip(t *testing.T) {
	client, mr := setupClient(t)
	ctx := context.Background()

	key := SessionKey("u1", "s1")
	require.NoError(t, client.SetJSON(ctx, key, snapshot{UserID: "u1", Role: "ADMIN"}, time.Minute))
	assert.True(t, mr.Exists("ts:session:user:u1:s1"))

	var got snapshot
	hit, err := client.GetJSON(ctx, key, &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "ADMIN", got.Role)

	mr.FastForward(2 * time.Minute)
	hit, err = client.GetJSON(ctx, key, &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestClient_CorruptEntryIsMiss(t *testing.T) {
	client, mr := setupClient(t)
	require.NoError(t, mr.Set("ts:session:user:u1:s1", "{not json"))

	var got snapshot
	hit, err := client.GetJSON(context.Background(), SessionKey("u1", "s1"), &got)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.False(t, mr.Exists("ts:session:user:u1:s1"))
}

func TestClient_FlagAndTTL(t *testing.T) {
	client, _ := setupClient(t)
	ctx := context.Background()

	key := BlacklistKey("abc")
	require.NoError(t, client.SetFlag(ctx, key, 90*time.Second))

	ok, err := client.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	ttl, err := client.TTL(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, ttl)
}

func TestClient_InvalidatePatterns(t *testing.T) {
	client, mr := setupClient(t)
	ctx := context.Background()

	for _, k := range []string{SessionKey("u1", "a"), SessionKey("u1", "b"), SessionKey("u2", "c")} {
		require.NoError(t, client.SetFlag(ctx, k, time.Minute))
	}

	removed, err := client.InvalidatePatterns(ctx, UserSessionsPattern("u1"))
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.True(t, mr.Exists("ts:session:user:u2:c"))
}

func TestClient_PatternEscaping(t *testing.T) {
	client, mr := setupClient(t)
	ctx := context.Background()

	require.NoError(t, client.SetFlag(ctx, SessionKey("u1", "a"), time.Minute))

	removed, err := client.InvalidatePatterns(ctx, UserSessionsPattern("*"))
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.True(t, mr.Exists("ts:session:user:u1:a"))
}

func TestClient_InvalidateGlobUserID(t *testing.T) {
	client, mr := setupClient(t)
	ctx := context.Background()

	require.NoError(t, client.SetFlag(ctx, SessionKey("a*b", "s1"), time.Minute))
	require.NoError(t, client.SetFlag(ctx, SessionKey("axb", "s2"), time.Minute))

	removed, err := client.InvalidatePatterns(ctx, UserSessionsPattern("a*b"))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.False(t, mr.Exists("ts:session:user:a*b:s1"))
	assert.True(t, mr.Exists("ts:session:user:axb:s2"))
}

func TestClient_NilIsDisabled(t *testing.T) {
	var client *Client
	ctx := context.Background()

	_, err := client.GetJSON(ctx, "k", &snapshot{})
	assert.ErrorIs(t, err, ErrDisabled)
	assert.ErrorIs(t, client.SetFlag(ctx, "k", time.Second), ErrDisabled)
	assert.ErrorIs(t, client.Delete(ctx, "k"), ErrDisabled)
	_, err = client.InvalidatePatterns(ctx, "*")
	assert.ErrorIs(t, err, ErrDisabled)
	assert.NoError(t, client.Close())
	assert.Nil(t, client.Redis())
}

func TestClient_ServerDown(t *testing.T) {
	client, mr := setupClient(t)
	mr.Close()

	_, err := client.Exists(context.Background(), BlacklistKey("x"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrDisabled)
}

func TestNew_InvalidURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.URL = "://nope"
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestClient_IncrWindow(t *testing.T) {
	client, mr := setupClient(t)
	ctx := context.Background()
	key := RateLimitKey("login", "10.0.0.1")

	for want := int64(1); want <= 3; want++ {
		n, err := client.IncrWindow(ctx, key, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
	assert.Equal(t, time.Minute, mr.TTL("ts:ratelimit:login:10.0.0.1"))

	mr.FastForward(time.Minute)
	n, err := client.IncrWindow(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// A counter stranded without an expiry gets one instead of throttling forever.
	require.NoError(t, mr.Set("ts:ratelimit:login:10.0.0.2", "7"))
	n, err = client.IncrWindow(ctx, RateLimitKey("login", "10.0.0.2"), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(8), n)
	assert.Equal(t, time.Minute, mr.TTL("ts:ratelimit:login:10.0.0.2"))

	var disabled *Client
	_, err = disabled.IncrWindow(ctx, key, time.Minute)
	assert.ErrorIs(t, err, ErrDisabled)
}
