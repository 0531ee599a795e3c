// Package httputil provides HTTP handler utilities for consistent error handling,
// JSON encoding/decoding, and request parsing.
//
// # Errors
//
// Handlers return typed errors from pkg/apperr and render them with
// WriteServiceError, which picks the status code and a machine-readable code:
//
//	perms, err := resolver.GetEffectivePermissions(ctx, userID, false)
//	if err != nil {
//		httputil.WriteServiceError(w, r, err)
//		return
//	}
//	httputil.WriteSuccess(w, perms)
//
// Server errors are logged with the request logger and rendered without
// their internal message.
//
// # Request Context
//
// RequestContext stamps every request with a request ID (honouring an
// inbound X-Request-ID), the client IP and user agent, and a request-scoped
// logger:
//
//	router.Use(httputil.RequestContext(logger))
//	router.Use(httputil.Recovery)
//	router.Use(httputil.Timeout(5 * time.Second))
package httputil
