// Package cache is the Redis fast store used by the session and revocation
// services.
//
// Two key namespaces are used, both structured for SCAN-based bulk
// invalidation:
//
//	session:user:<userID>:<sessionID>   session snapshot, TTL = refresh-token lifetime
//	blacklist:<sha256(token)>           revocation flag, TTL = token's remaining lifetime
//
// The cache is never the source of truth. Callers treat every error,
// including ErrDisabled from a nil *Client, as "fall back to Postgres".
package cache
