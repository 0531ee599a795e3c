package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"authentication", Unauthenticated(ReasonTokenExpired, "token expired"), http.StatusUnauthorized},
		{"wrapped authentication", fmt.Errorf("verify: %w", Unauthenticated(ReasonTokenRevoked, "")), http.StatusUnauthorized},
		{"authorization", Forbidden(ReasonInsufficientPermission, "users.delete"), http.StatusForbidden},
		{"validation", Invalid("codes", "unknown permission codes", "nope.nope"), http.StatusBadRequest},
		{"not found", NotFound("permission", "users.delete"), http.StatusNotFound},
		{"conflict", &ConflictError{Resource: "grant"}, http.StatusConflict},
		{"plain", errors.New("db down"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestIsAuthenticationReasons(t *testing.T) {
	err := fmt.Errorf("refresh: %w", Unauthenticated(ReasonRefreshTokenReused, "refresh token already used"))

	assert.True(t, IsAuthentication(err))
	assert.True(t, IsAuthentication(err, ReasonTokenInvalid, ReasonRefreshTokenReused))
	assert.False(t, IsAuthentication(err, ReasonTokenExpired))
	assert.False(t, IsAuthentication(errors.New("other")))
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "invalid codes: unknown permission codes: a.b, c.d",
		Invalid("codes", "unknown permission codes", "a.b", "c.d").Error())
	assert.Equal(t, `permission "users.delete" not found`, NotFound("permission", "users.delete").Error())
	assert.Equal(t, "forbidden (insufficient_permission): requires users.delete, users.edit",
		Forbidden(ReasonInsufficientPermission, "users.delete", "users.edit").Error())
	assert.Equal(t, "authentication failed: token_missing", (&AuthenticationError{Reason: ReasonTokenMissing}).Error())
}

func TestCode(t *testing.T) {
	assert.Equal(t, "token_revoked", Code(Unauthenticated(ReasonTokenRevoked, "")))
	assert.Equal(t, "two_factor_required", Code(Forbidden(ReasonTwoFactorRequired)))
	assert.Equal(t, "validation_failed", Code(Invalid("", "bad")))
	assert.Equal(t, "internal_error", Code(errors.New("boom")))
}
