// Package apperr defines the error taxonomy shared by the authorization and
// session services.
//
// Services return these typed errors; the HTTP boundary maps them to status
// codes with HTTPStatus:
//
//	AuthenticationError -> 401
//	AuthorizationError  -> 403
//	ValidationError     -> 400
//	NotFoundError       -> 404
//	ConflictError       -> 409
//
// Anything else is treated as an internal failure (500). Use errors.As to
// inspect the concrete type, or the Is* helpers for a quick check.
package apperr
