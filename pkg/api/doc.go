// Package api provides the HTTP REST API of the turnstile authorization core.
//
// # Overview
//
// The API exposes the credential flows, session management and permission
// administration over JSON. It is built on gorilla/mux; every request passes
// through the same chain:
//
//	otelhttp -> RequestContext -> Recovery -> Logging -> Timeout -> router
//
// and every matched route is counted by the Prometheus HTTP middleware.
//
// # Routes
//
// Authentication:
//
//	POST   /auth/login                 email + password, throttled per client IP
//	POST   /auth/refresh               rotates a refresh token
//	POST   /auth/logout                ends the caller's session
//	POST   /auth/logout-all            ends every session of the caller
//	GET    /auth/sessions              the caller's active sessions
//	DELETE /auth/sessions/{id}         ends one of the caller's sessions
//	GET    /auth/me/permissions        the caller's effective permissions
//
// Permission administration (guarded by permission.* codes):
//
//	GET    /permissions/hierarchy
//	GET    /permissions/templates
//	GET    /users/{id}/permissions
//	POST   /users/{id}/permissions
//	DELETE /users/{id}/permissions
//	POST   /users/{id}/permissions/temporary      requires 2FA on the caller
//	POST   /users/{id}/permissions/clone
//	POST   /users/{id}/permissions/templates/{name}
//	GET    /users/{id}/permissions/requirements/{code}
//
// Operations: /health/live, /health/ready and /metrics.
//
// # Errors
//
// Failures are rendered by httputil.WriteServiceError: authentication
// failures are 401 with a machine-readable code such as "token_revoked",
// denials are 403 with the codes that were required, and unexpected errors
// are 500 without detail.
//
// # Usage
//
//	server := api.NewServer(api.Deps{
//		Authenticator: authenticator,
//		Sessions:      sessions,
//		Permissions:   resolver,
//		Gateway:       gateway,
//	})
//	http.ListenAndServe(":8080", server)
package api
