package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/turnstile/pkg/apperr"
	"github.com/platinummonkey/turnstile/pkg/cache"
	"github.com/platinummonkey/turnstile/pkg/observability"
	"github.com/platinummonkey/turnstile/pkg/tokenutil"
)

// DefaultTTL is used when CreateParams.TTL is zero.
const DefaultTTL = 24 * time.Hour

// Store manages sessions in Postgres with a Redis fast path.
type Store struct {
	db      *sql.DB
	cache   *cache.Client
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *observability.Logger) Option {
	return func(s *Store) { s.logger = observability.OrNop(l) }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a session store. cacheClient may be nil, in which case
// every lookup goes to Postgres.
func NewStore(db *sql.DB, cacheClient *cache.Client, opts ...Option) *Store {
	s := &Store{
		db:     db,
		cache:  cacheClient,
		logger: observability.NewNopLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const sessionColumns = `id, user_id, ip_address, user_agent, created_at, last_activity_at, expires_at, revoked_at, revoked_by`

// CreateSession generates an opaque session token, inserts the row and
// caches a snapshot for the lifetime of the session.
func (s *Store) CreateSession(ctx context.Context, p CreateParams) (*Session, error) {
	if p.UserID == "" {
		return nil, apperr.Invalid("user_id", "is required")
	}
	ttl := p.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	id := p.ID
	if id == "" {
		id = uuid.NewString()
	}

	token, tokenHash, err := tokenutil.Generate()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	sess := &Session{
		ID:             id,
		UserID:         p.UserID,
		Token:          token,
		IPAddress:      p.IPAddress,
		UserAgent:      p.UserAgent,
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(ttl),
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, token_hash, ip_address, user_agent, created_at, last_activity_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6, $7)
	`, sess.ID, sess.UserID, tokenHash, sess.IPAddress, sess.UserAgent, now, sess.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.cacheSnapshot(ctx, sess.UserID, sess.ID, sess.ExpiresAt)
	return sess, nil
}

// ValidateSession resolves an opaque session token. It returns nil, nil when
// the token is unknown, expired or revoked; otherwise it bumps
// last_activity_at and returns the session with its user.
func (s *Store) ValidateSession(ctx context.Context, token string) (*ValidatedSession, error) {
	if token == "" {
		return nil, nil
	}
	now := s.now().UTC()

	row := s.db.QueryRowContext(ctx, `
		UPDATE sessions s
		SET last_activity_at = $2
		FROM users u
		WHERE s.token_hash = $1
			AND u.id = s.user_id
			AND s.revoked_at IS NULL
			AND s.expires_at > $2
		RETURNING s.id, s.user_id, s.ip_address, s.user_agent, s.created_at, s.last_activity_at,
			s.expires_at, s.revoked_at, s.revoked_by,
			u.email, u.role, u.access_level, u.two_factor_enabled, u.status
	`, tokenutil.Hash(token), now)

	var vs ValidatedSession
	var revokedAt sql.NullTime
	var revokedBy sql.NullString
	err := row.Scan(
		&vs.ID, &vs.UserID, &vs.IPAddress, &vs.UserAgent, &vs.CreatedAt, &vs.LastActivityAt,
		&vs.ExpiresAt, &revokedAt, &revokedBy,
		&vs.User.Email, &vs.User.Role, &vs.User.AccessLevel, &vs.User.TwoFactorEnabled, &vs.User.Status,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to validate session: %w", err)
	}
	applyRevocation(&vs.Session, revokedAt, revokedBy)
	return &vs, nil
}

// IsActive reports whether the session is active. A cache hit answers
// directly; otherwise Postgres is consulted, last_activity_at is bumped and
// the snapshot is written back.
func (s *Store) IsActive(ctx context.Context, userID, sessionID string) (bool, error) {
	var snap snapshot
	hit, err := s.cache.GetJSON(ctx, cache.SessionKey(userID, sessionID), &snap)
	switch {
	case err != nil:
		s.cacheFailed("session lookup", err)
	case hit && snap.ExpiresAt.After(s.now()):
		s.metrics.CacheLookup(cache.NamespaceSession, "hit")
		return true, nil
	default:
		s.metrics.CacheLookup(cache.NamespaceSession, "miss")
	}

	now := s.now().UTC()
	var expiresAt time.Time
	err = s.db.QueryRowContext(ctx, `
		UPDATE sessions
		SET last_activity_at = $3
		WHERE id = $1 AND user_id = $2 AND revoked_at IS NULL AND expires_at > $3
		RETURNING expires_at
	`, sessionID, userID, now).Scan(&expiresAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check session: %w", err)
	}

	s.cacheSnapshot(ctx, userID, sessionID, expiresAt)
	return true, nil
}

// GetSession returns a session by ID regardless of state.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("session", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return sess, nil
}

// ExtendSession pushes the session's expiry forward to at least expiresAt.
// It fails with NotFoundError if the session is revoked or unknown.
func (s *Store) ExtendSession(ctx context.Context, userID, sessionID string, expiresAt time.Time) error {
	now := s.now().UTC()
	var newExpiry time.Time
	err := s.db.QueryRowContext(ctx, `
		UPDATE sessions
		SET expires_at = GREATEST(expires_at, $3), last_activity_at = $4
		WHERE id = $1 AND user_id = $2 AND revoked_at IS NULL
		RETURNING expires_at
	`, sessionID, userID, expiresAt.UTC(), now).Scan(&newExpiry)
	if err == sql.ErrNoRows {
		return apperr.NotFound("session", sessionID)
	}
	if err != nil {
		return fmt.Errorf("failed to extend session: %w", err)
	}

	s.cacheSnapshot(ctx, userID, sessionID, newExpiry)
	return nil
}

// RevokeSession revokes one session. Revoking an already revoked session
// is a no-op; an unknown ID is a NotFoundError.
func (s *Store) RevokeSession(ctx context.Context, id, revokedBy string) error {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		UPDATE sessions
		SET revoked_at = $2, revoked_by = $3
		WHERE id = $1 AND revoked_at IS NULL
		RETURNING user_id
	`, id, s.now().UTC(), nullString(revokedBy)).Scan(&userID)
	if err == sql.ErrNoRows {
		if _, getErr := s.GetSession(ctx, id); getErr != nil {
			return getErr
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}

	s.EvictSession(ctx, userID, id)
	return nil
}

// RevokeAllUserSessions revokes every active session of userID except
// exceptID (may be empty) and returns how many were revoked.
func (s *Store) RevokeAllUserSessions(ctx context.Context, userID, exceptID, revokedBy string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET revoked_at = $3, revoked_by = $4
		WHERE user_id = $1 AND revoked_at IS NULL AND ($2 = '' OR id <> $2)
	`, userID, exceptID, s.now().UTC(), nullString(revokedBy))
	if err != nil {
		return 0, fmt.Errorf("failed to revoke user sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	// The surviving session simply misses once and is re-cached from Postgres.
	s.EvictUser(ctx, userID)
	return n, nil
}

// GetActiveSessions lists the user's active sessions, newest activity first.
func (s *Store) GetActiveSessions(ctx context.Context, userID string) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2
		ORDER BY last_activity_at DESC
	`, userID, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// GetSessionCount counts the user's active sessions.
func (s *Store) GetSessionCount(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sessions
		WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2
	`, userID, s.now().UTC()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return count, nil
}

// CleanupExpiredSessions deletes expired sessions, and revoked sessions
// whose revocation is older than retentionDays. Pure time predicate, safe to
// run concurrently.
func (s *Store) CleanupExpiredSessions(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays < 0 {
		retentionDays = 0
	}
	now := s.now().UTC()
	cutoff := now.AddDate(0, 0, -retentionDays)

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM sessions
		WHERE expires_at <= $1 OR (revoked_at IS NOT NULL AND revoked_at < $2)
	`, now, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup sessions: %w", err)
	}
	return result.RowsAffected()
}

// EvictSession drops the cached snapshot of one session.
func (s *Store) EvictSession(ctx context.Context, userID, sessionID string) {
	if err := s.cache.Delete(ctx, cache.SessionKey(userID, sessionID)); err != nil {
		s.cacheFailed("session evict", err)
	}
}

// EvictUser drops every cached session snapshot of userID.
func (s *Store) EvictUser(ctx context.Context, userID string) {
	if _, err := s.cache.InvalidatePatterns(ctx, cache.UserSessionsPattern(userID)); err != nil {
		s.cacheFailed("session invalidate", err)
	}
}

func (s *Store) cacheSnapshot(ctx context.Context, userID, sessionID string, expiresAt time.Time) {
	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 {
		return
	}
	snap := snapshot{SessionID: sessionID, UserID: userID, ExpiresAt: expiresAt}
	if err := s.cache.SetJSON(ctx, cache.SessionKey(userID, sessionID), snap, ttl); err != nil {
		s.cacheFailed("session cache write", err)
	}
}

func (s *Store) cacheFailed(op string, err error) {
	if errors.Is(err, cache.ErrDisabled) {
		return
	}
	s.metrics.CacheFallback("session")
	s.logger.WithError(err).WithField("operation", op).Warn("Session cache unavailable, using database")
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		sess      Session
		revokedAt sql.NullTime
		revokedBy sql.NullString
	)
	err := row.Scan(&sess.ID, &sess.UserID, &sess.IPAddress, &sess.UserAgent,
		&sess.CreatedAt, &sess.LastActivityAt, &sess.ExpiresAt, &revokedAt, &revokedBy)
	if err != nil {
		return nil, err
	}
	applyRevocation(&sess, revokedAt, revokedBy)
	return &sess, nil
}

func applyRevocation(sess *Session, revokedAt sql.NullTime, revokedBy sql.NullString) {
	if revokedAt.Valid {
		t := revokedAt.Time
		sess.RevokedAt = &t
	}
	if revokedBy.Valid {
		sess.RevokedBy = revokedBy.String
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
