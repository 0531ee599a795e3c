package auth

import (
	"context"
	"sync"

	"github.com/platinummonkey/turnstile/pkg/apperr"
	"github.com/platinummonkey/turnstile/pkg/audit"
	"github.com/platinummonkey/turnstile/pkg/observability"
)

// Authenticator implements the login, refresh and logout flows on top of a
// TokenIssuer.
type Authenticator struct {
	issuer   *TokenIssuer
	users    UserProvider
	sessions SessionManager

	// dummyHash is compared against when the email is unknown so both paths
	// cost one bcrypt comparison.
	dummyOnce sync.Once
	dummyHash string
	cost      int
}

// NewAuthenticator creates an authenticator. bcryptCost is the cost used
// for the unknown-user comparison and should match stored hashes.
func NewAuthenticator(issuer *TokenIssuer, users UserProvider, sessions SessionManager, bcryptCost int) *Authenticator {
	return &Authenticator{issuer: issuer, users: users, sessions: sessions, cost: bcryptCost}
}

// LoginResult is returned by Login.
type LoginResult struct {
	User   *User      `json:"user"`
	Tokens *TokenPair `json:"tokens"`
}

// Login checks credentials and starts a session.
func (a *Authenticator) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	log := a.logger().WithField("email", normalizeEmail(email))

	user, err := a.users.GetUserByEmail(ctx, email)
	if err != nil && !apperr.IsNotFound(err) {
		return nil, err
	}
	if user == nil {
		VerifyPassword(a.dummy(), password)
		a.loginFailed(ctx, "", email, "unknown_email")
		return nil, apperr.Unauthenticated(apperr.ReasonInvalidCredentials, "invalid email or password")
	}
	if !VerifyPassword(user.PasswordHash, password) {
		a.loginFailed(ctx, user.ID, email, "bad_password")
		return nil, apperr.Unauthenticated(apperr.ReasonInvalidCredentials, "invalid email or password")
	}
	if !user.IsActive() {
		a.loginFailed(ctx, user.ID, email, "account_"+user.Status)
		return nil, apperr.Unauthenticated(apperr.ReasonAccountInactive, "account is not active")
	}

	pair, err := a.issuer.GenerateTokenPair(ctx, user)
	if err != nil {
		return nil, err
	}

	a.issuer.metrics.LoginAttempt("success")
	audit.Emit(ctx, a.issuer.audit, a.logger(),
		audit.NewEvent(ctx, audit.ActionLogin, audit.CategoryAuthentication, user.ID, user.ID).
			With("session_id", pair.SessionID))
	log.WithField("user_id", user.ID).Info("User logged in")

	return &LoginResult{User: user, Tokens: pair}, nil
}

// Refresh rotates a refresh token.
func (a *Authenticator) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	pair, err := a.issuer.RefreshTokens(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	claims, err := a.issuer.parse(pair.AccessToken, false)
	if err == nil {
		audit.Emit(ctx, a.issuer.audit, a.logger(),
			audit.NewEvent(ctx, audit.ActionRefresh, audit.CategoryAuthentication, claims.Subject, claims.Subject).
				With("session_id", pair.SessionID))
	}
	return pair, nil
}

// Logout ends one session: both tokens are blacklisted and the session row
// is revoked. Either token may be empty.
func (a *Authenticator) Logout(ctx context.Context, userID, sessionID, accessToken, refreshToken string) error {
	if accessToken != "" {
		if err := a.issuer.RevokeToken(ctx, accessToken, RevokeReasonLogout); err != nil {
			return err
		}
	}
	if refreshToken != "" {
		if err := a.issuer.RevokeToken(ctx, refreshToken, RevokeReasonLogout); err != nil && !apperr.IsAuthentication(err) {
			return err
		}
	}
	if _, err := a.issuer.refresh.RevokeSession(ctx, sessionID, RevokeReasonLogout, a.issuer.now().UTC()); err != nil {
		return err
	}
	if err := a.sessions.RevokeSession(ctx, sessionID, userID); err != nil && !apperr.IsNotFound(err) {
		return err
	}

	audit.Emit(ctx, a.issuer.audit, a.logger(),
		audit.NewEvent(ctx, audit.ActionLogout, audit.CategoryAuthentication, userID, userID).
			With("session_id", sessionID))
	return nil
}

// LogoutAll revokes every refresh token and session of userID. actorID is
// the user themselves or an administrator.
func (a *Authenticator) LogoutAll(ctx context.Context, userID, actorID string) (int64, error) {
	tokens, err := a.issuer.RevokeAllUserTokens(ctx, userID, RevokeReasonRevokeAll)
	if err != nil {
		return 0, err
	}
	sessions, err := a.sessions.RevokeAllUserSessions(ctx, userID, "", actorID)
	if err != nil {
		return 0, err
	}

	audit.Emit(ctx, a.issuer.audit, a.logger(),
		audit.NewEvent(ctx, audit.ActionLogoutAll, audit.CategoryAuthentication, actorID, userID).
			With("sessions_revoked", sessions).
			With("refresh_tokens_revoked", tokens))
	return sessions, nil
}

func (a *Authenticator) loginFailed(ctx context.Context, userID, email, reason string) {
	a.issuer.metrics.LoginAttempt("failure")
	audit.Emit(ctx, a.issuer.audit, a.logger(),
		audit.NewEvent(ctx, audit.ActionLoginFailed, audit.CategorySecurity, userID, userID).
			With("email", normalizeEmail(email)).
			With("reason", reason))
	a.logger().WithFields(map[string]interface{}{
		"email":  normalizeEmail(email),
		"reason": reason,
	}).Warn("Login failed")
}

func (a *Authenticator) dummy() string {
	a.dummyOnce.Do(func() {
		a.dummyHash, _ = HashPassword("turnstile-dummy-password", a.cost)
	})
	return a.dummyHash
}

func (a *Authenticator) logger() *observability.Logger {
	return a.issuer.logger
}
