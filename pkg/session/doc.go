// Package session is the durable record of authenticated client lifetimes.
//
// Postgres holds every session row and is authoritative. Redis holds a
// snapshot per active session under session:user:<userID>:<sessionID> so
// the authorization gateway can confirm a session without a database round
// trip. Every read falls back to Postgres on a cache miss or cache error,
// and every cache failure is logged at warning level only.
//
// A session is active iff revoked_at IS NULL AND expires_at > now.
package session
