package middleware

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/turnstile/pkg/apperr"
	"github.com/platinummonkey/turnstile/pkg/auth"
	"github.com/platinummonkey/turnstile/pkg/observability"
	"github.com/platinummonkey/turnstile/pkg/rbac"
)

// TokenVerifier verifies bearer tokens.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string, expected auth.TokenType) (*auth.Claims, error)
}

// SessionChecker reports whether a session is still live.
type SessionChecker interface {
	IsActive(ctx context.Context, userID, sessionID string) (bool, error)
}

// PermissionChecker answers permission questions for a user.
type PermissionChecker interface {
	HasAny(ctx context.Context, userID string, codes []string) (bool, error)
	Missing(ctx context.Context, userID string, codes []string) ([]string, error)
	CheckPermissionRequirements(ctx context.Context, userID, code string) (*rbac.Requirements, error)
}

// Principal is the authenticated caller of a request.
type Principal struct {
	User      *auth.User
	Claims    *auth.Claims
	SessionID string
	Token     string
}

// Requirement is what a caller must satisfy. Empty fields are not checked.
type Requirement struct {
	// All lists codes the caller must hold every one of.
	All []string
	// Any lists codes the caller must hold at least one of.
	Any []string
	// MinAccessLevel is the lowest user access level (1-5) allowed.
	MinAccessLevel int
	// Sensitive names a code whose 2FA and approval flags are enforced.
	Sensitive string
}

// Gateway turns a bearer token into an allow or deny decision.
type Gateway struct {
	tokens      TokenVerifier
	sessions    SessionChecker
	permissions PermissionChecker
	users       rbac.UserLookup
	logger      *observability.Logger

	requireActiveSession bool
	timeout              time.Duration
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithLogger sets the gateway logger.
func WithLogger(l *observability.Logger) GatewayOption {
	return func(g *Gateway) { g.logger = observability.OrNop(l) }
}

// WithActiveSessionCheck rejects tokens whose session was revoked. It is on
// by default.
func WithActiveSessionCheck(enabled bool) GatewayOption {
	return func(g *Gateway) { g.requireActiveSession = enabled }
}

// WithTimeout bounds the store calls made for one decision.
func WithTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) { g.timeout = d }
}

// NewGateway creates a gateway.
func NewGateway(tokens TokenVerifier, sessions SessionChecker, permissions PermissionChecker, users rbac.UserLookup, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		tokens:               tokens,
		sessions:             sessions,
		permissions:          permissions,
		users:                users,
		logger:               observability.NewNopLogger(),
		requireActiveSession: true,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Authorize authenticates bearer and checks req against the caller.
func (g *Gateway) Authorize(ctx context.Context, bearer string, req Requirement) (*Principal, error) {
	ctx, cancel := g.bound(ctx)
	defer cancel()

	p, err := g.authenticate(ctx, bearer)
	if err != nil {
		return nil, err
	}
	if err := g.check(ctx, p, req); err != nil {
		return p, err
	}
	return p, nil
}

// AuthenticateToken verifies bearer as an access token and loads its user.
func (g *Gateway) AuthenticateToken(ctx context.Context, bearer string) (*Principal, error) {
	ctx, cancel := g.bound(ctx)
	defer cancel()
	return g.authenticate(ctx, bearer)
}

// Check tests req against an already authenticated principal.
func (g *Gateway) Check(ctx context.Context, p *Principal, req Requirement) error {
	ctx, cancel := g.bound(ctx)
	defer cancel()
	return g.check(ctx, p, req)
}

func (g *Gateway) authenticate(ctx context.Context, bearer string) (*Principal, error) {
	claims, err := g.tokens.VerifyToken(ctx, bearer, auth.TokenTypeAccess)
	if err != nil {
		return nil, err
	}
	userID := claims.UserID()

	if g.requireActiveSession && claims.SessionID != "" {
		active, err := g.sessions.IsActive(ctx, userID, claims.SessionID)
		if err != nil {
			return nil, err
		}
		if !active {
			return nil, apperr.Unauthenticated(apperr.ReasonSessionRevoked, "session is no longer active")
		}
	}

	user, err := g.users.GetUser(ctx, userID)
	if apperr.IsNotFound(err) {
		return nil, apperr.Unauthenticated(apperr.ReasonTokenInvalid, "token subject no longer exists")
	}
	if err != nil {
		return nil, err
	}
	if !user.IsActive() {
		return nil, apperr.Unauthenticated(apperr.ReasonAccountInactive, "account is not active")
	}

	observability.AnnotateSpan(ctx,
		attribute.String("enduser.id", user.ID),
		attribute.String("enduser.role", user.Role),
		attribute.String("turnstile.session_id", claims.SessionID),
	)
	return &Principal{User: user, Claims: claims, SessionID: claims.SessionID, Token: bearer}, nil
}

func (g *Gateway) check(ctx context.Context, p *Principal, req Requirement) error {
	userID := p.User.ID

	if req.MinAccessLevel > 0 && p.User.AccessLevel < req.MinAccessLevel {
		return g.deny(ctx, p, apperr.Forbidden(apperr.ReasonInsufficientAccessLevel, strconv.Itoa(req.MinAccessLevel)))
	}

	if len(req.All) > 0 {
		missing, err := g.permissions.Missing(ctx, userID, req.All)
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			return g.deny(ctx, p, apperr.Forbidden(apperr.ReasonInsufficientPermission, missing...))
		}
	}

	if len(req.Any) > 0 {
		ok, err := g.permissions.HasAny(ctx, userID, req.Any)
		if err != nil {
			return err
		}
		if !ok {
			return g.deny(ctx, p, apperr.Forbidden(apperr.ReasonInsufficientPermission, req.Any...))
		}
	}

	if req.Sensitive != "" {
		reqs, err := g.permissions.CheckPermissionRequirements(ctx, userID, req.Sensitive)
		if err != nil {
			return err
		}
		switch {
		case !reqs.HasPermission:
			return g.deny(ctx, p, apperr.Forbidden(apperr.ReasonInsufficientPermission, req.Sensitive))
		case reqs.Requires2FA && !reqs.Is2FAEnabled:
			return g.deny(ctx, p, apperr.Forbidden(apperr.ReasonTwoFactorRequired, req.Sensitive))
		case reqs.RequiresApproval:
			return g.deny(ctx, p, apperr.Forbidden(apperr.ReasonApprovalRequired, req.Sensitive))
		}
	}
	return nil
}

func (g *Gateway) deny(ctx context.Context, p *Principal, err *apperr.AuthorizationError) error {
	observability.AnnotateSpan(ctx, attribute.String("turnstile.denied", string(err.Reason)))
	g.logger.WithFields(map[string]interface{}{
		"user_id":  p.User.ID,
		"reason":   string(err.Reason),
		"required": err.Required,
	}).Info("Request denied")
	return err
}

func (g *Gateway) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, g.timeout)
}
