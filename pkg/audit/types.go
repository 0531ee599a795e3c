package audit

import (
	"context"
	"time"

	"github.com/platinummonkey/turnstile/pkg/contextkeys"
)

// Action names what happened.
type Action string

const (
	ActionLogin        Action = "auth.login"
	ActionLoginFailed  Action = "auth.login_failed"
	ActionLogout       Action = "auth.logout"
	ActionLogoutAll    Action = "auth.logout_all"
	ActionRefresh      Action = "auth.refresh"
	ActionRefreshReuse Action = "auth.refresh_reuse"
	ActionTokenRevoke  Action = "auth.token_revoke"

	ActionSessionRevoke Action = "session.revoke"

	ActionPermissionGrant          Action = "permission.grant"
	ActionPermissionRevoke         Action = "permission.revoke"
	ActionPermissionGrantTemporary Action = "permission.grant_temporary"
	ActionPermissionClone          Action = "permission.clone"
	ActionPermissionExpire         Action = "permission.expire"
	ActionPermissionTemplateApply  Action = "permission.template_apply"
)

// Category groups actions for reporting.
type Category string

const (
	CategoryAuthentication Category = "authentication"
	CategorySession        Category = "session"
	CategoryPermission     Category = "permission"
	CategorySecurity       Category = "security"
)

// Event is one activity-log entry.
type Event struct {
	ID           int64                  `json:"id,omitempty"`
	ActorID      string                 `json:"actor_id,omitempty"`
	TargetUserID string                 `json:"target_user_id,omitempty"`
	Action       Action                 `json:"action"`
	Category     Category               `json:"category"`
	Details      map[string]interface{} `json:"details,omitempty"`
	IPAddress    string                 `json:"ip_address,omitempty"`
	UserAgent    string                 `json:"user_agent,omitempty"`
	RequestID    string                 `json:"request_id,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
}

// NewEvent builds an event stamped with the request metadata carried by ctx.
func NewEvent(ctx context.Context, action Action, category Category, actorID, targetUserID string) *Event {
	ip, ua := contextkeys.GetClient(ctx)
	return &Event{
		ActorID:      actorID,
		TargetUserID: targetUserID,
		Action:       action,
		Category:     category,
		Details:      make(map[string]interface{}),
		IPAddress:    ip,
		UserAgent:    ua,
		RequestID:    contextkeys.GetRequestID(ctx),
		Timestamp:    time.Now().UTC(),
	}
}

// With sets a detail and returns the event for chaining.
func (e *Event) With(key string, value interface{}) *Event {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}
