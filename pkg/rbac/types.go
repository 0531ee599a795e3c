package rbac

import (
	"strings"
	"time"
)

// RiskLevel classifies how dangerous a permission is to hold.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Source says why a user holds an effective permission.
type Source string

const (
	SourceRole      Source = "role"
	SourceDirect    Source = "direct"
	SourceInherited Source = "inherited"
)

// ReasonExpired is stamped on grants revoked because they expired.
const ReasonExpired = "Permission expired"

// SystemActor is recorded as the actor of automated changes.
const SystemActor = "system"

// Permission is one catalog entry.
type Permission struct {
	ID               string    `json:"id"`
	Code             string    `json:"code"`
	Name             string    `json:"name"`
	Description      string    `json:"description,omitempty"`
	Category         string    `json:"category"`
	RiskLevel        RiskLevel `json:"risk_level"`
	Requires2FA      bool      `json:"requires_2fa"`
	RequiresApproval bool      `json:"requires_approval"`
	DefaultForRoles  []string  `json:"default_for_roles,omitempty"`
	ParentID         *string   `json:"parent_id,omitempty"`
	ParentCode       string    `json:"parent_code,omitempty"`
	Level            int       `json:"level"`
	Path             string    `json:"path"`
}

// CategoryOf returns the segment of code before the first dot.
func CategoryOf(code string) string {
	if i := strings.IndexByte(code, '.'); i > 0 {
		return code[:i]
	}
	return code
}

// UserPermission is a direct grant of one permission to one user.
type UserPermission struct {
	ID            string      `json:"id"`
	UserID        string      `json:"user_id"`
	PermissionID  string      `json:"permission_id"`
	GrantedBy     string      `json:"granted_by,omitempty"`
	GrantedAt     time.Time   `json:"granted_at"`
	GrantReason   string      `json:"grant_reason,omitempty"`
	ExpiresAt     *time.Time  `json:"expires_at,omitempty"`
	RevokedAt     *time.Time  `json:"revoked_at,omitempty"`
	RevokedBy     string      `json:"revoked_by,omitempty"`
	RevokeReason  string      `json:"revoke_reason,omitempty"`
	CanDelegate   bool        `json:"can_delegate"`
	DelegatedFrom string      `json:"delegated_from,omitempty"`
	Permission    *Permission `json:"permission,omitempty"`
}

// IsActive reports whether the grant is in force at t.
func (g *UserPermission) IsActive(t time.Time) bool {
	return g.RevokedAt == nil && (g.ExpiresAt == nil || g.ExpiresAt.After(t))
}

// EffectivePermission is one entry of a user's effective permission set.
type EffectivePermission struct {
	Permission
	Source        Source     `json:"source"`
	GrantedAt     *time.Time `json:"granted_at,omitempty"`
	GrantedBy     string     `json:"granted_by,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	InheritedFrom string     `json:"inherited_from,omitempty"`
}

// PermissionNode is a catalog entry with its children.
type PermissionNode struct {
	Permission
	Children []*PermissionNode `json:"children"`
}

// Requirements describes what must hold before a gated operation runs.
type Requirements struct {
	HasPermission    bool `json:"hasPermission"`
	Requires2FA      bool `json:"requires2fa"`
	RequiresApproval bool `json:"requiresApproval"`
	Is2FAEnabled     bool `json:"is2faEnabled"`
}

// GrantRequest grants codes to one user.
type GrantRequest struct {
	UserID      string     `json:"-"`
	Codes       []string   `json:"codes"`
	GrantedBy   string     `json:"-"`
	Reason      string     `json:"reason,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CanDelegate bool       `json:"can_delegate,omitempty"`
}

// GrantResult lists which codes were granted and which were already held.
type GrantResult struct {
	Granted []string `json:"granted"`
	Skipped []string `json:"skipped"`
}

// Template is a named bundle of permission codes.
type Template struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description"`
	Permissions []string `json:"permissions" yaml:"permissions"`
}
