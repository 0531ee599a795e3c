package api

import (
	"net/http"
	"strings"

	"github.com/platinummonkey/turnstile/pkg/apperr"
	"github.com/platinummonkey/turnstile/pkg/httputil"
	"github.com/platinummonkey/turnstile/pkg/middleware"
)

// login handles POST /auth/login
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		httputil.WriteServiceError(w, r, apperr.Invalid("email", "email and password are required"))
		return
	}

	result, err := s.deps.Authenticator.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

// refresh handles POST /auth/refresh
func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		httputil.WriteServiceError(w, r, apperr.Unauthenticated(apperr.ReasonTokenMissing, "refresh token is required"))
		return
	}

	pair, err := s.deps.Authenticator.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, pair)
}

// logout handles POST /auth/logout. The body is optional.
func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	p := principal(r)

	var req logoutRequest
	if r.ContentLength != 0 {
		if !httputil.ParseJSONOrError(w, r, &req) {
			return
		}
	}

	if err := s.deps.Authenticator.Logout(r.Context(), p.User.ID, p.SessionID, p.Token, req.RefreshToken); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// logoutAll handles POST /auth/logout-all
func (s *Server) logoutAll(w http.ResponseWriter, r *http.Request) {
	p := principal(r)

	revoked, err := s.deps.Authenticator.LogoutAll(r.Context(), p.User.ID, p.User.ID)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]int64{"sessions_revoked": revoked})
}

// listSessions handles GET /auth/sessions
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	p := principal(r)

	sessions, err := s.deps.Sessions.GetActiveSessions(r.Context(), p.User.ID)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	count, err := s.deps.Sessions.GetSessionCount(r.Context(), p.User.ID)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	views := make([]sessionView, 0, len(sessions))
	for _, sess := range sessions {
		views = append(views, sessionView{Session: sess, Current: sess.ID == p.SessionID})
	}
	httputil.WriteSuccess(w, map[string]interface{}{"sessions": views, "active_count": count})
}

// revokeSession handles DELETE /auth/sessions/{id}. Callers can only end
// their own sessions; another user's session reads as not found.
func (s *Server) revokeSession(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	sess, err := s.deps.Sessions.GetSession(r.Context(), id)
	if err == nil && sess.UserID != p.User.ID {
		err = apperr.NotFound("session", id)
	}
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	access := ""
	if sess.ID == p.SessionID {
		access = p.Token
	}
	if err := s.deps.Authenticator.Logout(r.Context(), p.User.ID, sess.ID, access, ""); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// myPermissions handles GET /auth/me/permissions
func (s *Server) myPermissions(w http.ResponseWriter, r *http.Request) {
	s.writePermissions(w, r, principal(r).User.ID)
}

func (s *Server) writePermissions(w http.ResponseWriter, r *http.Request, userID string) {
	hierarchical, err := httputil.ParseQueryBool(r, "hierarchical", false)
	if err != nil {
		httputil.WriteServiceError(w, r, apperr.Invalid("hierarchical", "must be a boolean"))
		return
	}

	perms, err := s.deps.Permissions.GetEffectivePermissions(r.Context(), userID, hierarchical)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, permissionsResponse{
		UserID:       userID,
		Hierarchical: hierarchical,
		Permissions:  perms,
	})
}

// principal returns the caller. Routes using it are mounted behind the
// gateway, so it is always present.
func principal(r *http.Request) *middleware.Principal {
	p, _ := middleware.PrincipalFromContext(r.Context())
	return p
}
