package api

import (
	"net/http"

	"github.com/platinummonkey/turnstile/pkg/apperr"
	"github.com/platinummonkey/turnstile/pkg/httputil"
	"github.com/platinummonkey/turnstile/pkg/rbac"
)

// permissionHierarchy handles GET /permissions/hierarchy
func (s *Server) permissionHierarchy(w http.ResponseWriter, r *http.Request) {
	roots, err := s.deps.Permissions.GetPermissionHierarchy(r.Context())
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"permissions": roots})
}

// listTemplates handles GET /permissions/templates
func (s *Server) listTemplates(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, map[string]interface{}{"templates": s.deps.Permissions.Templates()})
}

// userPermissions handles GET /users/{id}/permissions
func (s *Server) userPermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	s.writePermissions(w, r, userID)
}

// grantPermissions handles POST /users/{id}/permissions
func (s *Server) grantPermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var req rbac.GrantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	req.UserID = userID
	req.GrantedBy = principal(r).User.ID

	result, err := s.deps.Permissions.Grant(r.Context(), req)
	s.writeGrant(w, r, result, err)
}

// revokePermissions handles DELETE /users/{id}/permissions
func (s *Server) revokePermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var req revokeRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	revoked, err := s.deps.Permissions.Revoke(r.Context(), userID, req.Codes, principal(r).User.ID, req.Reason)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]int64{"revoked": revoked})
}

// grantTemporary handles POST /users/{id}/permissions/temporary
func (s *Server) grantTemporary(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var req temporaryGrantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	result, err := s.deps.Permissions.GrantTemporary(r.Context(), userID, req.Code, principal(r).User.ID, req.Hours)
	s.writeGrant(w, r, result, err)
}

// clonePermissions handles POST /users/{id}/permissions/clone. The path
// user is the target.
func (s *Server) clonePermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var req cloneRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.SourceUserID == "" {
		httputil.WriteServiceError(w, r, apperr.Invalid("source_user_id", "source user is required"))
		return
	}

	result, err := s.deps.Permissions.ClonePermissions(r.Context(), req.SourceUserID, userID, principal(r).User.ID)
	s.writeGrant(w, r, result, err)
}

// applyTemplate handles POST /users/{id}/permissions/templates/{name}
func (s *Server) applyTemplate(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	name, ok := httputil.ParsePathStringOrError(w, r, "name")
	if !ok {
		return
	}

	result, err := s.deps.Permissions.ApplyTemplate(r.Context(), userID, name, principal(r).User.ID)
	s.writeGrant(w, r, result, err)
}

// permissionRequirements handles GET /users/{id}/permissions/requirements/{code}
func (s *Server) permissionRequirements(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	code, ok := httputil.ParsePathStringOrError(w, r, "code")
	if !ok {
		return
	}

	reqs, err := s.deps.Permissions.CheckPermissionRequirements(r.Context(), userID, code)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, reqs)
}

// writeGrant answers 201 when something new was granted and 200 when every
// code was already held.
func (s *Server) writeGrant(w http.ResponseWriter, r *http.Request, result *rbac.GrantResult, err error) {
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	if len(result.Granted) == 0 {
		httputil.WriteSuccess(w, result)
		return
	}
	httputil.WriteCreated(w, result)
}
