package httputil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSON(t *testing.T) {
	type body struct {
		Email string `json:"email"`
	}

	t.Run("valid", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"a@b.c"}`))
		var b body
		require.NoError(t, ParseJSON(r, &b))
		assert.Equal(t, "a@b.c", b.Email)
	})

	t.Run("unknown field", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"a@b.c","admin":true}`))
		var b body
		assert.Error(t, ParseJSON(r, &b))
	})

	t.Run("or error writes 400", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
		w := httptest.NewRecorder()
		var b body
		assert.False(t, ParseJSONOrError(w, r, &b))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestParsePathString(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/users/u1", nil)
	r = mux.SetURLVars(r, map[string]string{"id": "u1"})

	id, err := ParsePathString(r, "id")
	require.NoError(t, err)
	assert.Equal(t, "u1", id)

	w := httptest.NewRecorder()
	_, ok := ParsePathStringOrError(w, r, "name")
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParseQueryBool(t *testing.T) {
	tests := []struct {
		query   string
		want    bool
		wantErr bool
	}{
		{"", false, false},
		{"?hierarchical=true", true, false},
		{"?hierarchical=0", false, false},
		{"?hierarchical=maybe", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/perms"+tt.query, nil)
			got, err := ParseQueryBool(r, "hierarchical", false)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
