// Package contextkeys provides centralized context key definitions
//
// All context keys used across turnstile are defined here so that a value set
// by one package (the gateway, the request middleware) can be read by another
// (handlers, the audit trail) without import cycles.
//
// USAGE PATTERN:
//
//	ctx = contextkeys.WithPrincipal(ctx, principal)
//	principal, _ := ctx.Value(contextkeys.PrincipalKey).(*middleware.Principal)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// PrincipalKey contains *middleware.Principal
	// Set by: middleware.Gateway.Authenticate
	// Required by: every protected handler, permission middleware
	PrincipalKey Key = "principal"

	// RequestIDKey contains the request ID string
	// Set by: api request middleware
	// Used by: logger, audit trail
	RequestIDKey Key = "request_id"

	// UserIDKey contains the authenticated user ID string
	// Set by: middleware.Gateway.Authenticate
	// Used by: logger, audit trail
	UserIDKey Key = "user_id"

	// ClientIPKey contains the caller's IP address as seen by the server
	// Set by: api request middleware
	// Used by: session creation, audit trail
	ClientIPKey Key = "client_ip"

	// UserAgentKey contains the caller's User-Agent header
	UserAgentKey Key = "user_agent"

	// LoggerKey contains *observability.Logger
	LoggerKey Key = "logger"
)

// WithPrincipal adds the authenticated principal to the context
func WithPrincipal(ctx context.Context, principal interface{}) context.Context {
	return context.WithValue(ctx, PrincipalKey, principal)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID adds user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithClient records the caller's IP address and User-Agent
func WithClient(ctx context.Context, ip, userAgent string) context.Context {
	ctx = context.WithValue(ctx, ClientIPKey, ip)
	return context.WithValue(ctx, UserAgentKey, userAgent)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	return stringValue(ctx, RequestIDKey)
}

// GetUserID retrieves user ID from context
func GetUserID(ctx context.Context) string {
	return stringValue(ctx, UserIDKey)
}

// GetClient retrieves the caller's IP address and User-Agent
func GetClient(ctx context.Context) (ip, userAgent string) {
	return stringValue(ctx, ClientIPKey), stringValue(ctx, UserAgentKey)
}

func stringValue(ctx context.Context, key Key) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
