package session

import "time"

// Session is one authenticated client lifetime.
type Session struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	// Token is the raw opaque session token. It is only populated on the
	// value returned by CreateSession; the database stores its hash.
	Token          string     `json:"-"`
	IPAddress      string     `json:"ip_address,omitempty"`
	UserAgent      string     `json:"user_agent,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
	RevokedBy      string     `json:"revoked_by,omitempty"`
}

// IsActive reports whether the session is usable at t.
func (s *Session) IsActive(t time.Time) bool {
	return s.RevokedAt == nil && s.ExpiresAt.After(t)
}

// UserInfo is the slice of the user record needed for authorization.
type UserInfo struct {
	Email            string `json:"email"`
	Role             string `json:"role"`
	AccessLevel      int    `json:"access_level"`
	TwoFactorEnabled bool   `json:"two_factor_enabled"`
	Status           string `json:"status"`
}

// ValidatedSession is an active session together with its user.
type ValidatedSession struct {
	Session
	User UserInfo `json:"user"`
}

// CreateParams describes a new session.
type CreateParams struct {
	// ID is optional; a UUID is generated when empty. Token issuance passes
	// the sessionId it embeds in the token claims.
	ID        string
	UserID    string
	IPAddress string
	UserAgent string
	TTL       time.Duration
}

// snapshot is what the cache holds for an active session.
type snapshot struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}
