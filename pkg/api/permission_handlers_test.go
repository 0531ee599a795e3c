package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/turnstile/pkg/rbac"
)

func TestPermissionRoutes_Guards(t *testing.T) {
	h := newAPIHarness(t)

	cases := []struct {
		name   string
		method string
		path   string
		bearer string
		body   interface{}
		code   int
		reason string
	}{
		{"anonymous", http.MethodGet, "/users/u-sales/permissions", "", nil, http.StatusUnauthorized, "token_missing"},
		{"view denied", http.MethodGet, "/users/u-admin/permissions", "sales", nil, http.StatusForbidden, "insufficient_permission"},
		{"grant denied", http.MethodPost, "/users/u-sales/permissions", "sales", rbac.GrantRequest{Codes: []string{"orders.view"}}, http.StatusForbidden, "insufficient_permission"},
		{"revoke denied", http.MethodDelete, "/users/u-sales/permissions", "lead", revokeRequest{Codes: []string{"orders.view"}}, http.StatusForbidden, "insufficient_permission"},
		{"temporary needs 2fa", http.MethodPost, "/users/u-sales/permissions/temporary", "lead", temporaryGrantRequest{Code: "orders.view", Hours: 4}, http.StatusForbidden, "two_factor_required"},
		{"hierarchy denied", http.MethodGet, "/permissions/hierarchy", "sales", nil, http.StatusForbidden, "insufficient_permission"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			w := h.do(t, c.method, c.path, c.bearer, c.body)
			assert.Equal(t, c.code, w.Code, w.Body.String())
			assert.Equal(t, c.reason, errorOf(t, w).Code)
		})
	}

	assert.Empty(t, h.perms.grants)
	assert.Empty(t, h.perms.temp)
}

func TestPermissionRoutes_DeniedListsRequiredCode(t *testing.T) {
	h := newAPIHarness(t)

	w := h.do(t, http.MethodDelete, "/users/u-sales/permissions", "lead", revokeRequest{Codes: []string{"orders.view"}})
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, []string{"permission.revoke"}, errorOf(t, w).Required)
}

func TestGrantPermissions(t *testing.T) {
	h := newAPIHarness(t)

	w := h.do(t, http.MethodPost, "/users/u-sales/permissions", "admin", rbac.GrantRequest{
		Codes:  []string{"customers.view", "reports.view"},
		Reason: "quarter close",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var result rbac.GrantResult
	decode(t, w, &result)
	assert.Equal(t, []string{"reports.view"}, result.Granted)
	assert.Equal(t, []string{"customers.view"}, result.Skipped)

	require.Len(t, h.perms.grants, 1)
	req := h.perms.grants[0]
	assert.Equal(t, "u-sales", req.UserID)
	assert.Equal(t, "u-admin", req.GrantedBy)
	assert.Equal(t, "quarter close", req.Reason)

	t.Run("already held answers 200", func(t *testing.T) {
		w := h.do(t, http.MethodPost, "/users/u-sales/permissions", "admin", rbac.GrantRequest{Codes: []string{"orders.view"}})
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("granter cannot be spoofed", func(t *testing.T) {
		w := h.do(t, http.MethodPost, "/users/u-sales/permissions", "admin", map[string]interface{}{
			"codes":      []string{"orders.view"},
			"granted_by": "someone-else",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("validation error", func(t *testing.T) {
		w := h.do(t, http.MethodPost, "/users/u-sales/permissions", "admin", rbac.GrantRequest{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "codes", errorOf(t, w).Field)
	})
}

func TestRevokePermissions(t *testing.T) {
	h := newAPIHarness(t)

	w := h.do(t, http.MethodDelete, "/users/u-sales/permissions", "admin", revokeRequest{Codes: []string{"orders.view", "reports.view"}})
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]int64
	decode(t, w, &body)
	assert.Equal(t, int64(1), body["revoked"])
}

func TestGrantTemporary(t *testing.T) {
	h := newAPIHarness(t)

	w := h.do(t, http.MethodPost, "/users/u-sales/permissions/temporary", "admin", temporaryGrantRequest{Code: "reports.view", Hours: 8})
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, []string{"u-sales:reports.view"}, h.perms.temp)

	w = h.do(t, http.MethodPost, "/users/u-sales/permissions/temporary", "admin", temporaryGrantRequest{Code: "reports.view"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "hours", errorOf(t, w).Field)
}

func TestClonePermissions(t *testing.T) {
	h := newAPIHarness(t)

	w := h.do(t, http.MethodPost, "/users/u-new/permissions/clone", "admin", cloneRequest{SourceUserID: "u-sales"})
	assert.Equal(t, http.StatusCreated, w.Code)

	w = h.do(t, http.MethodPost, "/users/u-new/permissions/clone", "admin", cloneRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "source_user_id", errorOf(t, w).Field)

	w = h.do(t, http.MethodPost, "/users/u-sales/permissions/clone", "admin", cloneRequest{SourceUserID: "u-sales"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestApplyTemplate(t *testing.T) {
	h := newAPIHarness(t)

	w := h.do(t, http.MethodPost, "/users/u-sales/permissions/templates/finance_reviewer", "admin", nil)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = h.do(t, http.MethodPost, "/users/u-sales/permissions/templates/nope", "admin", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", errorOf(t, w).Code)
}

func TestPermissionRequirements(t *testing.T) {
	h := newAPIHarness(t)

	w := h.do(t, http.MethodGet, "/users/u-lead/permissions/requirements/permission.grant", "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var reqs rbac.Requirements
	decode(t, w, &reqs)
	assert.Equal(t, rbac.Requirements{HasPermission: true, Requires2FA: true}, reqs)

	w = h.do(t, http.MethodGet, "/users/u-lead/permissions/requirements/unknown.code", "admin", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPermissionCatalogRoutes(t *testing.T) {
	h := newAPIHarness(t)

	w := h.do(t, http.MethodGet, "/permissions/hierarchy", "lead", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var tree struct {
		Permissions []*rbac.PermissionNode `json:"permissions"`
	}
	decode(t, w, &tree)
	require.Len(t, tree.Permissions, 1)
	assert.Equal(t, "permission.view", tree.Permissions[0].Code)
	require.Len(t, tree.Permissions[0].Children, 1)

	w = h.do(t, http.MethodGet, "/permissions/templates", "lead", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var templates struct {
		Templates []rbac.Template `json:"templates"`
	}
	decode(t, w, &templates)
	require.Len(t, templates.Templates, 1)
	assert.Equal(t, "finance_reviewer", templates.Templates[0].Name)

	w = h.do(t, http.MethodGet, "/users/u-sales/permissions", "lead", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var perms permissionsResponse
	decode(t, w, &perms)
	assert.False(t, perms.Hierarchical)
	assert.Len(t, perms.Permissions, 2)
}
