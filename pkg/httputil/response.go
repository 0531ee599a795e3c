package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/platinummonkey/turnstile/pkg/apperr"
	"github.com/platinummonkey/turnstile/pkg/observability"
)

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteCreated writes a successful creation response (201 Created) with JSON data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteNoContent writes a successful response with no content (204 No Content)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error    string   `json:"error"`
	Code     string   `json:"code"`
	Message  string   `json:"message,omitempty"`
	Field    string   `json:"field,omitempty"`
	Required []string `json:"required,omitempty"`
}

// WriteErrorMessage writes a JSON error response with a custom message
func WriteErrorMessage(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Code:    code,
		Message: message,
	})
}

// WriteBadRequest writes a bad request error (400)
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, "bad_request", message)
}

// WriteServiceError renders err according to its apperr type. Anything
// untyped is logged and rendered as a bare 500.
func WriteServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	resp := ErrorResponse{
		Error: http.StatusText(status),
		Code:  apperr.Code(err),
	}

	if status >= http.StatusInternalServerError {
		observability.FromContext(r.Context()).
			WithError(err).
			WithField("path", r.URL.Path).
			Error("Request failed")
		WriteJSON(w, status, resp)
		return
	}

	resp.Message = err.Error()
	var validation *apperr.ValidationError
	if errors.As(err, &validation) {
		resp.Message = validation.Message
		resp.Field = validation.Field
		resp.Required = validation.Values
	}
	var denied *apperr.AuthorizationError
	if errors.As(err, &denied) {
		resp.Required = denied.Required
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	}
	WriteJSON(w, status, resp)
}
