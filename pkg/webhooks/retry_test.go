package webhooks

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewRetryPolicy_Defaults(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{})
	assert.Equal(t, DefaultRetryConfig(), p.config)

	p = NewRetryPolicy(RetryConfig{InitialDelay: time.Minute, MaxDelay: time.Second})
	assert.Equal(t, time.Minute, p.config.MaxDelay, "max delay never undercuts the first delay")
}

func TestRetryPolicy_NextRetryDelay(t *testing.T) {
	p := NewRetryPolicy(DefaultRetryConfig())

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{6, 30 * time.Second},
		{20, 30 * time.Second},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt %d", tt.attempts), func(t *testing.T) {
			assert.Equal(t, tt.want, p.NextRetryDelay(tt.attempts))
		})
	}
}

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{MaxAttempts: 3})
	transport := errors.New("connection refused")

	tests := []struct {
		name     string
		attempts int
		err      error
		want     bool
	}{
		{"success", 1, nil, false},
		{"transport error", 1, transport, true},
		{"last attempt", 3, transport, false},
		{"server error", 2, &StatusError{StatusCode: http.StatusInternalServerError}, true},
		{"request timeout", 1, &StatusError{StatusCode: http.StatusRequestTimeout}, true},
		{"throttled", 1, &StatusError{StatusCode: http.StatusTooManyRequests}, true},
		{"not found", 1, &StatusError{StatusCode: http.StatusNotFound}, false},
		{"unauthorized", 1, fmt.Errorf("wrapped: %w", &StatusError{StatusCode: http.StatusUnauthorized}), false},
		{"permanent", 1, permanent(transport), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.ShouldRetry(tt.attempts, tt.err))
		})
	}
}
