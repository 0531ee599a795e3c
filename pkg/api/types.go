package api

import (
	"context"

	"github.com/platinummonkey/turnstile/pkg/auth"
	"github.com/platinummonkey/turnstile/pkg/rbac"
	"github.com/platinummonkey/turnstile/pkg/session"
)

// Authenticator runs the credential flows. *auth.Authenticator implements it.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*auth.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (*auth.TokenPair, error)
	Logout(ctx context.Context, userID, sessionID, accessToken, refreshToken string) error
	LogoutAll(ctx context.Context, userID, actorID string) (int64, error)
}

// SessionLister reads sessions. *session.Store implements it.
type SessionLister interface {
	GetSession(ctx context.Context, id string) (*session.Session, error)
	GetActiveSessions(ctx context.Context, userID string) ([]*session.Session, error)
	GetSessionCount(ctx context.Context, userID string) (int, error)
}

// PermissionService reads and changes permissions. *rbac.Resolver
// implements it.
type PermissionService interface {
	GetEffectivePermissions(ctx context.Context, userID string, hierarchical bool) ([]*rbac.EffectivePermission, error)
	GetPermissionHierarchy(ctx context.Context) ([]*rbac.PermissionNode, error)
	Templates() []rbac.Template
	Grant(ctx context.Context, req rbac.GrantRequest) (*rbac.GrantResult, error)
	GrantTemporary(ctx context.Context, userID, code, grantedBy string, hours int) (*rbac.GrantResult, error)
	ApplyTemplate(ctx context.Context, userID, name, grantedBy string) (*rbac.GrantResult, error)
	Revoke(ctx context.Context, userID string, codes []string, revokedBy, reason string) (int64, error)
	ClonePermissions(ctx context.Context, sourceUserID, targetUserID, clonedBy string) (*rbac.GrantResult, error)
	CheckPermissionRequirements(ctx context.Context, userID, code string) (*rbac.Requirements, error)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken,omitempty"`
}

type revokeRequest struct {
	Codes  []string `json:"codes"`
	Reason string   `json:"reason,omitempty"`
}

type temporaryGrantRequest struct {
	Code  string `json:"code"`
	Hours int    `json:"hours"`
}

type cloneRequest struct {
	SourceUserID string `json:"source_user_id"`
}

// sessionView marks the session the caller is using.
type sessionView struct {
	*session.Session
	Current bool `json:"current"`
}

type permissionsResponse struct {
	UserID       string                      `json:"user_id"`
	Hierarchical bool                        `json:"hierarchical"`
	Permissions  []*rbac.EffectivePermission `json:"permissions"`
}
