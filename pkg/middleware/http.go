package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/turnstile/pkg/apperr"
	"github.com/platinummonkey/turnstile/pkg/contextkeys"
	"github.com/platinummonkey/turnstile/pkg/httputil"
	"github.com/platinummonkey/turnstile/pkg/observability"
)

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header. It returns "" when the header is absent or malformed.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// PrincipalFromContext returns the principal stored by Authenticate.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(contextkeys.PrincipalKey).(*Principal)
	return p, ok && p != nil
}

// Authenticate rejects requests without a valid access token and stores
// the principal in the request context.
func (g *Gateway) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := g.AuthenticateToken(r.Context(), BearerToken(r))
		if err != nil {
			g.reject(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), p)))
	})
}

// Require enforces req, authenticating first if no principal is present.
func (g *Gateway) Require(req Requirement) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			p, ok := PrincipalFromContext(ctx)
			var err error
			if !ok {
				p, err = g.Authorize(ctx, BearerToken(r), req)
				if p != nil {
					ctx = withPrincipal(ctx, p)
				}
			} else {
				err = g.Check(ctx, p, req)
			}
			if err != nil {
				g.reject(w, r.WithContext(ctx), err)
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequirePermission requires code.
func (g *Gateway) RequirePermission(code string) mux.MiddlewareFunc {
	return g.Require(Requirement{All: []string{code}})
}

// RequireAll requires every one of codes.
func (g *Gateway) RequireAll(codes ...string) mux.MiddlewareFunc {
	return g.Require(Requirement{All: codes})
}

// RequireAny requires at least one of codes.
func (g *Gateway) RequireAny(codes ...string) mux.MiddlewareFunc {
	return g.Require(Requirement{Any: codes})
}

// RequireAccessLevel requires a user access level of at least level.
func (g *Gateway) RequireAccessLevel(level int) mux.MiddlewareFunc {
	return g.Require(Requirement{MinAccessLevel: level})
}

// RequireSensitive requires code and enforces its 2FA and approval flags.
func (g *Gateway) RequireSensitive(code string) mux.MiddlewareFunc {
	return g.Require(Requirement{Sensitive: code})
}

func (g *Gateway) reject(w http.ResponseWriter, r *http.Request, err error) {
	if apperr.IsAuthentication(err) {
		observability.FromContext(r.Context()).
			WithField("code", apperr.Code(err)).
			Debug("Authentication rejected")
	}
	httputil.WriteServiceError(w, r, err)
}

func withPrincipal(ctx context.Context, p *Principal) context.Context {
	ctx = contextkeys.WithPrincipal(ctx, p)
	ctx = contextkeys.WithUserID(ctx, p.User.ID)
	return ctx
}
