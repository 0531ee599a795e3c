package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// AuthReason classifies why authentication failed.
type AuthReason string

const (
	ReasonTokenMissing       AuthReason = "token_missing"
	ReasonTokenInvalid       AuthReason = "token_invalid"
	ReasonTokenExpired       AuthReason = "token_expired"
	ReasonTokenRevoked       AuthReason = "token_revoked"
	ReasonRefreshTokenReused AuthReason = "refresh_token_reused"
	ReasonInvalidCredentials AuthReason = "invalid_credentials"
	ReasonAccountInactive    AuthReason = "account_inactive"
	ReasonSessionRevoked     AuthReason = "session_revoked"
)

// DenyReason classifies why an authenticated caller was refused.
type DenyReason string

const (
	ReasonInsufficientPermission  DenyReason = "insufficient_permission"
	ReasonInsufficientAccessLevel DenyReason = "insufficient_access_level"
	ReasonTwoFactorRequired       DenyReason = "two_factor_required"
	ReasonApprovalRequired        DenyReason = "approval_required"
)

// AuthenticationError means the caller could not be identified: the token is
// missing, malformed, expired, revoked, or of the wrong type.
type AuthenticationError struct {
	Reason  AuthReason
	Message string
	Err     error
}

func (e *AuthenticationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "authentication failed: " + string(e.Reason)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// AuthorizationError means the caller is known but not allowed.
type AuthorizationError struct {
	Reason   DenyReason
	Required []string
	Message  string
}

func (e *AuthorizationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if len(e.Required) > 0 {
		return fmt.Sprintf("forbidden (%s): requires %s", e.Reason, strings.Join(e.Required, ", "))
	}
	return "forbidden: " + string(e.Reason)
}

// ValidationError reports a malformed request, such as an unknown permission
// code in a grant.
type ValidationError struct {
	Field   string
	Message string
	Values  []string
}

func (e *ValidationError) Error() string {
	msg := e.Message
	if len(e.Values) > 0 {
		msg = fmt.Sprintf("%s: %s", msg, strings.Join(e.Values, ", "))
	}
	if e.Field != "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, msg)
	}
	return msg
}

// ConflictError reports a write that collides with existing state.
type ConflictError struct {
	Resource string
	Message  string
}

func (e *ConflictError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Resource + " already exists"
}

// NotFoundError reports an unknown user, permission, or session.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return e.Resource + " not found"
	}
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// Unauthenticated builds an AuthenticationError.
func Unauthenticated(reason AuthReason, message string) *AuthenticationError {
	return &AuthenticationError{Reason: reason, Message: message}
}

// Forbidden builds an AuthorizationError.
func Forbidden(reason DenyReason, required ...string) *AuthorizationError {
	return &AuthorizationError{Reason: reason, Required: required}
}

// Invalid builds a ValidationError.
func Invalid(field, message string, values ...string) *ValidationError {
	return &ValidationError{Field: field, Message: message, Values: values}
}

// NotFound builds a NotFoundError.
func NotFound(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// IsAuthentication reports whether err is an AuthenticationError, optionally
// with one of the given reasons.
func IsAuthentication(err error, reasons ...AuthReason) bool {
	var authErr *AuthenticationError
	if !errors.As(err, &authErr) {
		return false
	}
	if len(reasons) == 0 {
		return true
	}
	for _, r := range reasons {
		if authErr.Reason == r {
			return true
		}
	}
	return false
}

// IsAuthorization reports whether err is an AuthorizationError.
func IsAuthorization(err error) bool {
	var e *AuthorizationError
	return errors.As(err, &e)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var e *ConflictError
	return errors.As(err, &e)
}

// HTTPStatus maps an error to the status code the HTTP boundary should send.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsAuthentication(err):
		return http.StatusUnauthorized
	case IsAuthorization(err):
		return http.StatusForbidden
	case IsValidation(err):
		return http.StatusBadRequest
	case IsNotFound(err):
		return http.StatusNotFound
	case IsConflict(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Code returns a short machine-readable code for err.
func Code(err error) string {
	var authErr *AuthenticationError
	if errors.As(err, &authErr) {
		return string(authErr.Reason)
	}
	var denyErr *AuthorizationError
	if errors.As(err, &denyErr) {
		return string(denyErr.Reason)
	}
	switch {
	case IsValidation(err):
		return "validation_failed"
	case IsNotFound(err):
		return "not_found"
	case IsConflict(err):
		return "conflict"
	default:
		return "internal_error"
	}
}
