package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/platinummonkey/turnstile/pkg/cache"
	"github.com/platinummonkey/turnstile/pkg/observability"
	"github.com/platinummonkey/turnstile/pkg/tokenutil"
)

// RevokedToken is one durable blacklist entry.
type RevokedToken struct {
	TokenHash string
	UserID    string
	TokenType TokenType
	Reason    string
	RevokedAt time.Time
	ExpiresAt time.Time
}

// RevocationStore is the durable side of the blacklist.
type RevocationStore interface {
	Insert(ctx context.Context, entry *RevokedToken) error
	IsRevoked(ctx context.Context, tokenHash string, at time.Time) (bool, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// DBRevocationStore keeps blacklist entries in revoked_tokens.
type DBRevocationStore struct {
	db *sql.DB
}

// NewDBRevocationStore creates a revocation store.
func NewDBRevocationStore(db *sql.DB) *DBRevocationStore {
	return &DBRevocationStore{db: db}
}

func (s *DBRevocationStore) Insert(ctx context.Context, e *RevokedToken) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_tokens (token_hash, user_id, token_type, reason, revoked_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (token_hash) DO UPDATE SET expires_at = GREATEST(revoked_tokens.expires_at, EXCLUDED.expires_at)
	`, e.TokenHash, e.UserID, string(e.TokenType), e.Reason, e.RevokedAt, e.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to record revoked token: %w", err)
	}
	return nil
}

func (s *DBRevocationStore) IsRevoked(ctx context.Context, tokenHash string, at time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM revoked_tokens WHERE token_hash = $1 AND expires_at > $2)
	`, tokenHash, at).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check revoked token: %w", err)
	}
	return exists, nil
}

func (s *DBRevocationStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM revoked_tokens WHERE expires_at <= $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup revoked tokens: %w", err)
	}
	return result.RowsAffected()
}

// RevocationRegistry answers "was this token explicitly revoked?" for tokens
// that have not yet expired on their own.
type RevocationRegistry struct {
	store   RevocationStore
	cache   *cache.Client
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time

	// durableWindow is how long every lookup goes to Postgres after a cache
	// failure. It must be at least the access token TTL.
	durableWindow time.Duration
	durableUntil  atomic.Int64
}

// NewRevocationRegistry creates a registry. cacheClient may be nil.
func NewRevocationRegistry(store RevocationStore, cacheClient *cache.Client, durableWindow time.Duration, logger *observability.Logger, metrics *observability.Metrics) *RevocationRegistry {
	return &RevocationRegistry{
		store:         store,
		cache:         cacheClient,
		logger:        observability.OrNop(logger),
		metrics:       metrics,
		now:           time.Now,
		durableWindow: durableWindow,
	}
}

// Revoke blacklists token until expiresAt. Tokens already past expiry are
// not recorded.
func (r *RevocationRegistry) Revoke(ctx context.Context, token, userID string, tokenType TokenType, expiresAt time.Time, reason string) error {
	now := r.now()
	ttl := expiresAt.Sub(now)
	if ttl <= 0 {
		return nil
	}
	hash := tokenutil.Hash(token)

	err := r.store.Insert(ctx, &RevokedToken{
		TokenHash: hash,
		UserID:    userID,
		TokenType: tokenType,
		Reason:    reason,
		RevokedAt: now.UTC(),
		ExpiresAt: expiresAt.UTC(),
	})
	if err != nil {
		return err
	}

	if err := r.cache.SetFlag(ctx, cache.BlacklistKey(hash), ttl); err != nil {
		r.degrade("blacklist write", err)
	}
	return nil
}

// IsRevoked reports whether token is blacklisted.
func (r *RevocationRegistry) IsRevoked(ctx context.Context, token string) (bool, error) {
	hash := tokenutil.Hash(token)

	hit, err := r.cache.Exists(ctx, cache.BlacklistKey(hash))
	if err == nil {
		if hit {
			r.metrics.CacheLookup(cache.NamespaceBlacklist, "hit")
			return true, nil
		}
		r.metrics.CacheLookup(cache.NamespaceBlacklist, "miss")
		if r.now().UnixNano() >= r.durableUntil.Load() {
			return false, nil
		}
	} else {
		r.degrade("blacklist lookup", err)
	}

	return r.store.IsRevoked(ctx, hash, r.now().UTC())
}

// Cleanup deletes durable entries whose token has expired.
func (r *RevocationRegistry) Cleanup(ctx context.Context) (int64, error) {
	return r.store.DeleteExpired(ctx, r.now().UTC())
}

func (r *RevocationRegistry) degrade(op string, err error) {
	if errors.Is(err, cache.ErrDisabled) {
		return
	}
	r.durableUntil.Store(r.now().Add(r.durableWindow).UnixNano())
	r.metrics.CacheFallback("revocation")
	r.logger.WithError(err).WithField("operation", op).Warn("Blacklist cache unavailable, using database")
}
