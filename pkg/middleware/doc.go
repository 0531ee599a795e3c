// Package middleware provides the authorization gateway and HTTP middleware
// for authentication, authorization, and login throttling.
//
// # Overview
//
// Gateway is the per-request decision point. It verifies the bearer access
// token (signature, expiry, type and revocation), confirms the token's
// session is still live, loads the user and rejects inactive accounts, then
// evaluates a Requirement against the user's effective permissions.
//
//	p, err := gateway.Authorize(ctx, bearer, middleware.Requirement{
//		All: []string{"permission.grant"},
//	})
//
// Authentication failures are apperr.AuthenticationError (401); refusals are
// apperr.AuthorizationError (403) listing the codes that were missing.
//
// # HTTP Middleware
//
//	api := router.PathPrefix("/users").Subrouter()
//	api.Use(gateway.Authenticate)
//	api.Handle("/{id}/permissions",
//		gateway.RequirePermission("permission.grant")(grantHandler)).Methods("POST")
//
// Authenticate stores the *Principal in the request context, readable with
// PrincipalFromContext. RequirePermission, RequireAll, RequireAny,
// RequireAccessLevel and RequireSensitive authenticate on their own when
// no principal is present yet.
//
// RequireSensitive consults the permission's requires_2fa and
// requires_approval flags: a caller holding the code is still refused when
// the code needs 2FA and the user has not enabled it, or when the code
// needs approval.
//
// # Login Throttling
//
// RateLimit caps attempts per client IP with a fixed window. Counters live
// in Redis so all instances share them; FallbackLimiter switches to
// in-process counters while Redis is unreachable.
//
//	limiter := middleware.NewFallbackLimiter(
//		middleware.NewRedisLimiter(cacheClient, cfg, "login"),
//		middleware.NewMemoryLimiter(cfg), logger, metrics)
//	router.Handle("/auth/login", middleware.RateLimit(limiter, cfg, logger)(login))
package middleware
