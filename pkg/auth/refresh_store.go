package auth

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/platinummonkey/turnstile/pkg/storage"
)

// Reasons recorded in refresh_tokens.revoked_reason.
const (
	RevokeReasonRotated   = "rotated"
	RevokeReasonLogout    = "logout"
	RevokeReasonRevoked   = "revoked"
	RevokeReasonRevokeAll = "revoke_all"
	RevokeReasonReuse     = "reuse_detected"
)

// RefreshToken is the durable record of one issued refresh token.
type RefreshToken struct {
	ID            string
	TokenHash     string
	UserID        string
	SessionID     string
	ExpiresAt     time.Time
	CreatedAt     time.Time
	RevokedAt     *time.Time
	RevokedReason string
}

// RefreshTokenStore persists refresh tokens. revoked_at is the single source
// of truth for whether a token may still be exchanged.
type RefreshTokenStore interface {
	Insert(ctx context.Context, token *RefreshToken) error
	// FindByHash returns nil, nil when no row matches.
	FindByHash(ctx context.Context, tokenHash string) (*RefreshToken, error)
	// Rotate marks oldHash rotated and inserts next atomically. It returns
	// false without inserting when oldHash was no longer active.
	Rotate(ctx context.Context, oldHash string, next *RefreshToken, at time.Time) (bool, error)
	// Revoke returns false when the token was not active.
	Revoke(ctx context.Context, tokenHash, reason string, at time.Time) (bool, error)
	RevokeSession(ctx context.Context, sessionID, reason string, at time.Time) (int64, error)
	RevokeAllForUser(ctx context.Context, userID, reason string, at time.Time) (int64, error)
	// DeleteExpired removes rows that expired before the cutoff.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// DBRefreshTokenStore is the Postgres RefreshTokenStore.
type DBRefreshTokenStore struct {
	db *sql.DB
}

// NewDBRefreshTokenStore creates a refresh token store.
func NewDBRefreshTokenStore(db *sql.DB) *DBRefreshTokenStore {
	return &DBRefreshTokenStore{db: db}
}

const insertRefreshToken = `
	INSERT INTO refresh_tokens (id, token_hash, user_id, session_id, expires_at, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)
`

func (s *DBRefreshTokenStore) Insert(ctx context.Context, t *RefreshToken) error {
	_, err := s.db.ExecContext(ctx, insertRefreshToken,
		t.ID, t.TokenHash, t.UserID, t.SessionID, t.ExpiresAt, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to store refresh token: %w", err)
	}
	return nil
}

func (s *DBRefreshTokenStore) FindByHash(ctx context.Context, tokenHash string) (*RefreshToken, error) {
	var (
		t         RefreshToken
		revokedAt sql.NullTime
		reason    sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, token_hash, user_id, session_id, expires_at, created_at, revoked_at, revoked_reason
		FROM refresh_tokens
		WHERE token_hash = $1
	`, tokenHash).Scan(&t.ID, &t.TokenHash, &t.UserID, &t.SessionID, &t.ExpiresAt, &t.CreatedAt, &revokedAt, &reason)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}
	if revokedAt.Valid {
		at := revokedAt.Time
		t.RevokedAt = &at
	}
	t.RevokedReason = reason.String
	return &t, nil
}

func (s *DBRefreshTokenStore) Rotate(ctx context.Context, oldHash string, next *RefreshToken, at time.Time) (bool, error) {
	var rotated bool
	err := storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE refresh_tokens
			SET revoked_at = $2, revoked_reason = $3
			WHERE token_hash = $1 AND revoked_at IS NULL
		`, oldHash, at, RevokeReasonRotated)
		if err != nil {
			return fmt.Errorf("failed to consume refresh token: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if n == 0 {
			return nil
		}

		if _, err := tx.ExecContext(ctx, insertRefreshToken,
			next.ID, next.TokenHash, next.UserID, next.SessionID, next.ExpiresAt, next.CreatedAt); err != nil {
			return fmt.Errorf("failed to store refresh token: %w", err)
		}
		rotated = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return rotated, nil
}

func (s *DBRefreshTokenStore) Revoke(ctx context.Context, tokenHash, reason string, at time.Time) (bool, error) {
	n, err := s.exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = $2, revoked_reason = $3
		WHERE token_hash = $1 AND revoked_at IS NULL
	`, tokenHash, at, reason)
	return n > 0, err
}

func (s *DBRefreshTokenStore) RevokeSession(ctx context.Context, sessionID, reason string, at time.Time) (int64, error) {
	return s.exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = $2, revoked_reason = $3
		WHERE session_id = $1 AND revoked_at IS NULL
	`, sessionID, at, reason)
}

func (s *DBRefreshTokenStore) RevokeAllForUser(ctx context.Context, userID, reason string, at time.Time) (int64, error) {
	return s.exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = $2, revoked_reason = $3
		WHERE user_id = $1 AND revoked_at IS NULL
	`, userID, at, reason)
}

func (s *DBRefreshTokenStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	return s.exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1`, before)
}

func (s *DBRefreshTokenStore) exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to update refresh tokens: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}
