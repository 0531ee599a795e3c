// Package auth issues, verifies, rotates and revokes the signed tokens that
// identify callers.
//
// # Tokens
//
// Every login mints a pair bound to a fresh session:
//
//	access  HS256, short TTL (15m), claims {sub, email, role, type:"access", sessionId, iat, exp}
//	refresh HS256, long TTL (7d),  same claims with type:"refresh"
//
// Both also carry jti and iss. The refresh token's SHA-256 hash is stored in
// refresh_tokens; the raw token never is.
//
// # Refresh token lifecycle
//
//	ACTIVE -> ROTATED   refreshTokens consumed it (revoked_reason = "rotated")
//	ACTIVE -> REVOKED   logout, revokeToken, revokeAllUserTokens
//
// Rotation is a compare-and-set on revoked_at IS NULL inside one transaction
// with the insert of the successor row. Exactly one caller wins; every other
// caller presenting the same token gets ReasonRefreshTokenReused, which is
// logged as a security event. The session ID is preserved across rotations.
//
// # Revocation
//
// RevocationRegistry records explicitly revoked tokens until their natural
// expiry. Postgres (revoked_tokens) is authoritative; Redis (blacklist:<hash>)
// answers the hot path. After any cache failure the registry consults
// Postgres for every lookup for one access-token lifetime, so a revocation
// written while Redis was down cannot be missed by a later cache miss.
//
// # Usage
//
//	issuer := auth.NewTokenIssuer(cfg, refreshStore, sessions, registry, users,
//		auth.WithLogger(logger), auth.WithMetrics(metrics), auth.WithAuditLogger(auditLog))
//	pair, err := issuer.GenerateTokenPair(ctx, user)
//	claims, err := issuer.VerifyToken(ctx, pair.AccessToken, auth.TokenTypeAccess)
//	next, err := issuer.RefreshTokens(ctx, pair.RefreshToken)
//
// Errors are *apperr.AuthenticationError with a Reason; storage failures are
// returned wrapped and surface as 5xx.
package auth
