package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/platinummonkey/turnstile/pkg/apperr"
	"github.com/platinummonkey/turnstile/pkg/audit"
	"github.com/platinummonkey/turnstile/pkg/contextkeys"
	"github.com/platinummonkey/turnstile/pkg/observability"
	"github.com/platinummonkey/turnstile/pkg/session"
	"github.com/platinummonkey/turnstile/pkg/tokenutil"
)

// SessionManager is the part of session.Store the issuer drives.
type SessionManager interface {
	CreateSession(ctx context.Context, p session.CreateParams) (*session.Session, error)
	ExtendSession(ctx context.Context, userID, sessionID string, expiresAt time.Time) error
	RevokeSession(ctx context.Context, id, revokedBy string) error
	RevokeAllUserSessions(ctx context.Context, userID, exceptID, revokedBy string) (int64, error)
	EvictSession(ctx context.Context, userID, sessionID string)
	EvictUser(ctx context.Context, userID string)
}

// IssuerConfig holds signing parameters.
type IssuerConfig struct {
	Secret     []byte
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// RevokeSessionOnReuse revokes the whole session, including the token
	// that won the rotation, when a consumed refresh token is presented.
	RevokeSessionOnReuse bool
}

// TokenIssuer mints and validates token pairs.
type TokenIssuer struct {
	cfg         IssuerConfig
	refresh     RefreshTokenStore
	sessions    SessionManager
	revocations *RevocationRegistry
	users       UserProvider

	logger  *observability.Logger
	metrics *observability.Metrics
	audit   audit.Logger
	now     func() time.Time
}

// Option configures a TokenIssuer.
type Option func(*TokenIssuer)

func WithLogger(l *observability.Logger) Option {
	return func(i *TokenIssuer) { i.logger = observability.OrNop(l) }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(i *TokenIssuer) { i.metrics = m }
}

func WithAuditLogger(l audit.Logger) Option {
	return func(i *TokenIssuer) { i.audit = audit.OrNop(l) }
}

// WithClock overrides the time source for signing, verification and
// revocation bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(i *TokenIssuer) {
		i.now = now
		if i.revocations != nil {
			i.revocations.now = now
		}
	}
}

// NewTokenIssuer creates a token issuer.
func NewTokenIssuer(cfg IssuerConfig, refresh RefreshTokenStore, sessions SessionManager, revocations *RevocationRegistry, users UserProvider, opts ...Option) *TokenIssuer {
	i := &TokenIssuer{
		cfg:         cfg,
		refresh:     refresh,
		sessions:    sessions,
		revocations: revocations,
		users:       users,
		logger:      observability.NewNopLogger(),
		audit:       audit.NopLogger{},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// AccessTTL returns the configured access token lifetime.
func (i *TokenIssuer) AccessTTL() time.Duration { return i.cfg.AccessTTL }

// GenerateTokenPair starts a new session for user and returns its first
// token pair. The client address and user agent are taken from ctx.
func (i *TokenIssuer) GenerateTokenPair(ctx context.Context, user *User) (*TokenPair, error) {
	if user == nil || user.ID == "" {
		return nil, apperr.Invalid("user", "is required")
	}

	sessionID := uuid.NewString()
	ip, ua := contextkeys.GetClient(ctx)
	if _, err := i.sessions.CreateSession(ctx, session.CreateParams{
		ID:        sessionID,
		UserID:    user.ID,
		IPAddress: ip,
		UserAgent: ua,
		TTL:       i.cfg.RefreshTTL,
	}); err != nil {
		return nil, err
	}

	pair, row, err := i.mint(user, sessionID, i.now())
	if err == nil {
		err = i.refresh.Insert(ctx, row)
	}
	if err != nil {
		if revokeErr := i.sessions.RevokeSession(ctx, sessionID, "system"); revokeErr != nil {
			i.logger.WithError(revokeErr).WithField("session_id", sessionID).Warn("Failed to abandon session")
		}
		return nil, err
	}

	i.metrics.TokenIssued(string(TokenTypeAccess))
	i.metrics.TokenIssued(string(TokenTypeRefresh))
	return pair, nil
}

// VerifyToken checks the blacklist, the signature, expiry and the token
// type, in that order.
func (i *TokenIssuer) VerifyToken(ctx context.Context, token string, expected TokenType) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperr.Unauthenticated(apperr.ReasonTokenMissing, "token is required")
	}

	revoked, err := i.revocations.IsRevoked(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to check token revocation: %w", err)
	}
	if revoked {
		i.metrics.TokenVerified(string(expected), "revoked")
		return nil, apperr.Unauthenticated(apperr.ReasonTokenRevoked, "token has been revoked")
	}

	claims, err := i.parse(token, true)
	if err != nil {
		i.metrics.TokenVerified(string(expected), resultOf(err))
		return nil, err
	}
	if claims.Type != expected {
		i.metrics.TokenVerified(string(expected), "wrong_type")
		return nil, apperr.Unauthenticated(apperr.ReasonTokenInvalid,
			fmt.Sprintf("expected %s token, got %q", expected, claims.Type))
	}

	i.metrics.TokenVerified(string(expected), "valid")
	return claims, nil
}

// RefreshTokens exchanges a refresh token for a new pair in the same
// session. The presented token is consumed; presenting it again fails with
// ReasonRefreshTokenReused.
func (i *TokenIssuer) RefreshTokens(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := i.VerifyToken(ctx, refreshToken, TokenTypeRefresh)
	if err != nil {
		i.metrics.RefreshRotated("rejected")
		return nil, err
	}

	now := i.now()
	hash := tokenutil.Hash(refreshToken)
	stored, err := i.refresh.FindByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	switch {
	case stored == nil || stored.UserID != claims.Subject:
		i.metrics.RefreshRotated("rejected")
		return nil, apperr.Unauthenticated(apperr.ReasonTokenInvalid, "refresh token not recognized")
	case stored.RevokedAt != nil && stored.RevokedReason == RevokeReasonRotated:
		return nil, i.refreshReused(ctx, claims)
	case stored.RevokedAt != nil:
		i.metrics.RefreshRotated("rejected")
		return nil, apperr.Unauthenticated(apperr.ReasonTokenRevoked, "refresh token has been revoked")
	case !stored.ExpiresAt.After(now):
		i.metrics.RefreshRotated("rejected")
		return nil, apperr.Unauthenticated(apperr.ReasonTokenExpired, "refresh token has expired")
	}

	user, err := i.users.GetUser(ctx, claims.Subject)
	if apperr.IsNotFound(err) {
		return nil, apperr.Unauthenticated(apperr.ReasonTokenInvalid, "refresh token subject no longer exists")
	}
	if err != nil {
		return nil, err
	}
	if !user.IsActive() {
		return nil, apperr.Unauthenticated(apperr.ReasonAccountInactive, "account is not active")
	}

	pair, next, err := i.mint(user, claims.SessionID, now)
	if err != nil {
		return nil, err
	}

	if err := i.sessions.ExtendSession(ctx, user.ID, claims.SessionID, next.ExpiresAt); err != nil {
		if apperr.IsNotFound(err) {
			i.metrics.RefreshRotated("rejected")
			return nil, apperr.Unauthenticated(apperr.ReasonSessionRevoked, "session has been revoked")
		}
		return nil, err
	}

	rotated, err := i.refresh.Rotate(ctx, hash, next, now.UTC())
	if err != nil {
		return nil, err
	}
	if !rotated {
		return nil, i.refreshReused(ctx, claims)
	}

	i.metrics.RefreshRotated("rotated")
	i.metrics.TokenIssued(string(TokenTypeAccess))
	i.metrics.TokenIssued(string(TokenTypeRefresh))
	return pair, nil
}

// RevokeToken blacklists token for the rest of its lifetime. Refresh tokens
// are also revoked in refresh_tokens. Expired tokens are accepted and only
// evict the session cache entry.
func (i *TokenIssuer) RevokeToken(ctx context.Context, token, reason string) error {
	claims, err := i.parse(strings.TrimSpace(token), false)
	if err != nil {
		return err
	}
	if reason == "" {
		reason = RevokeReasonRevoked
	}

	if claims.ExpiresAt != nil {
		if err := i.revocations.Revoke(ctx, token, claims.Subject, claims.Type, claims.ExpiresAt.Time, reason); err != nil {
			return err
		}
	}
	if claims.Type == TokenTypeRefresh {
		if _, err := i.refresh.Revoke(ctx, tokenutil.Hash(token), reason, i.now().UTC()); err != nil {
			return err
		}
	}
	i.sessions.EvictSession(ctx, claims.Subject, claims.SessionID)

	i.metrics.TokenRevoked(string(claims.Type))
	return nil
}

// RevokeAllUserTokens revokes every refresh token of userID. Access tokens
// already issued stay valid until they expire; session rows are left to
// the caller.
func (i *TokenIssuer) RevokeAllUserTokens(ctx context.Context, userID, reason string) (int64, error) {
	if reason == "" {
		reason = RevokeReasonRevokeAll
	}
	n, err := i.refresh.RevokeAllForUser(ctx, userID, reason, i.now().UTC())
	if err != nil {
		return 0, err
	}
	i.sessions.EvictUser(ctx, userID)

	i.metrics.TokenRevoked("user")
	return n, nil
}

// CleanupExpiredRefreshTokens deletes refresh token rows that expired more
// than retention ago.
func (i *TokenIssuer) CleanupExpiredRefreshTokens(ctx context.Context, retention time.Duration) (int64, error) {
	return i.refresh.DeleteExpired(ctx, i.now().UTC().Add(-retention))
}

func (i *TokenIssuer) refreshReused(ctx context.Context, claims *Claims) error {
	i.metrics.RefreshReused()
	i.metrics.RefreshRotated("reused")

	log := i.logger.WithFields(map[string]interface{}{
		"security_event": "refresh_token_reuse",
		"user_id":        claims.Subject,
		"session_id":     claims.SessionID,
		"jti":            claims.ID,
	})
	log.Error("Consumed refresh token presented again")

	event := audit.NewEvent(ctx, audit.ActionRefreshReuse, audit.CategorySecurity, claims.Subject, claims.Subject).
		With("session_id", claims.SessionID)

	if i.cfg.RevokeSessionOnReuse {
		if _, err := i.refresh.RevokeSession(ctx, claims.SessionID, RevokeReasonReuse, i.now().UTC()); err != nil {
			log.WithError(err).Error("Failed to revoke refresh tokens of compromised session")
		}
		if err := i.sessions.RevokeSession(ctx, claims.SessionID, "system"); err != nil && !apperr.IsNotFound(err) {
			log.WithError(err).Error("Failed to revoke compromised session")
		}
		event.With("session_revoked", true)
	}
	audit.Emit(ctx, i.audit, i.logger, event)

	return apperr.Unauthenticated(apperr.ReasonRefreshTokenReused, "refresh token has already been used")
}

func (i *TokenIssuer) mint(user *User, sessionID string, now time.Time) (*TokenPair, *RefreshToken, error) {
	access, accessExp, err := i.sign(user, sessionID, TokenTypeAccess, now, i.cfg.AccessTTL)
	if err != nil {
		return nil, nil, err
	}
	refresh, refreshExp, err := i.sign(user, sessionID, TokenTypeRefresh, now, i.cfg.RefreshTTL)
	if err != nil {
		return nil, nil, err
	}

	pair := &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		SessionID:        sessionID,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}
	row := &RefreshToken{
		ID:        uuid.NewString(),
		TokenHash: tokenutil.Hash(refresh),
		UserID:    user.ID,
		SessionID: sessionID,
		ExpiresAt: refreshExp,
		CreatedAt: now.UTC(),
	}
	return pair, row, nil
}

func (i *TokenIssuer) sign(user *User, sessionID string, typ TokenType, now time.Time, ttl time.Duration) (string, time.Time, error) {
	// NumericDate has second precision; report the expiry the token carries.
	issuedAt := jwt.NewNumericDate(now)
	expiresAt := jwt.NewNumericDate(now.Add(ttl))

	claims := Claims{
		Email:     user.Email,
		Role:      user.Role,
		Type:      typ,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.cfg.Issuer,
			Subject:   user.ID,
			IssuedAt:  issuedAt,
			ExpiresAt: expiresAt,
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.cfg.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign %s token: %w", typ, err)
	}
	return signed, expiresAt.Time.UTC(), nil
}

func (i *TokenIssuer) parse(token string, validate bool) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	}
	if validate {
		opts = append(opts, jwt.WithExpirationRequired(), jwt.WithIssuedAt())
		if i.cfg.Issuer != "" {
			opts = append(opts, jwt.WithIssuer(i.cfg.Issuer))
		}
	} else {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return i.cfg.Secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, &apperr.AuthenticationError{Reason: apperr.ReasonTokenExpired, Message: "token has expired", Err: err}
		}
		return nil, &apperr.AuthenticationError{Reason: apperr.ReasonTokenInvalid, Message: "token is invalid", Err: err}
	}
	if claims.Subject == "" || claims.SessionID == "" {
		return nil, apperr.Unauthenticated(apperr.ReasonTokenInvalid, "token is missing required claims")
	}
	return claims, nil
}

func resultOf(err error) string {
	var authErr *apperr.AuthenticationError
	if errors.As(err, &authErr) {
		switch authErr.Reason {
		case apperr.ReasonTokenExpired:
			return "expired"
		case apperr.ReasonTokenRevoked:
			return "revoked"
		}
	}
	return "invalid"
}
