package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/turnstile/pkg/apperr"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"message": "success"}

	err := WriteJSON(w, http.StatusOK, data)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "success")
}

func TestWriteCreated(t *testing.T) {
	w := httptest.NewRecorder()

	err := WriteCreated(w, map[string]int{"id": 123})

	assert.NoError(t, err)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), "123")
}

func TestWriteNoContent(t *testing.T) {
	w := httptest.NewRecorder()
	WriteNoContent(w)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestWriteServiceError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		check      func(t *testing.T, w *httptest.ResponseRecorder, body ErrorResponse)
	}{
		{
			name:       "expired token",
			err:        apperr.Unauthenticated(apperr.ReasonTokenExpired, "token has expired"),
			wantStatus: http.StatusUnauthorized,
			wantCode:   "token_expired",
			check: func(t *testing.T, w *httptest.ResponseRecorder, body ErrorResponse) {
				assert.Equal(t, "token has expired", body.Message)
				assert.Contains(t, w.Header().Get("WWW-Authenticate"), "invalid_token")
			},
		},
		{
			name:       "missing permission",
			err:        apperr.Forbidden(apperr.ReasonInsufficientPermission, "users.delete"),
			wantStatus: http.StatusForbidden,
			wantCode:   "insufficient_permission",
			check: func(t *testing.T, _ *httptest.ResponseRecorder, body ErrorResponse) {
				assert.Equal(t, []string{"users.delete"}, body.Required)
			},
		},
		{
			name:       "validation",
			err:        apperr.Invalid("codes", "unknown permission codes", "orders.teleport"),
			wantStatus: http.StatusBadRequest,
			wantCode:   "validation_failed",
			check: func(t *testing.T, _ *httptest.ResponseRecorder, body ErrorResponse) {
				assert.Equal(t, "codes", body.Field)
				assert.Equal(t, []string{"orders.teleport"}, body.Required)
			},
		},
		{
			name:       "not found",
			err:        apperr.NotFound("user", "u1"),
			wantStatus: http.StatusNotFound,
			wantCode:   "not_found",
		},
		{
			name:       "internal errors hide their message",
			err:        errors.New("pq: password authentication failed for user turnstile"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "internal_error",
			check: func(t *testing.T, w *httptest.ResponseRecorder, body ErrorResponse) {
				assert.Empty(t, body.Message)
				assert.False(t, strings.Contains(w.Body.String(), "password"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/x", nil)

			WriteServiceError(w, r, tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantCode, body.Code)
			if tt.check != nil {
				tt.check(t, w, body)
			}
		})
	}
}
