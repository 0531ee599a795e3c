package cache

import "strings"

const (
	sessionNamespace   = "session:user"
	blacklistNamespace = "blacklist"
	ratelimitNamespace = "ratelimit"
)

// Namespaces used for metric labels.
const (
	NamespaceSession   = "session"
	NamespaceBlacklist = "blacklist"
)

// SessionKey is the fast-lookup key for one session of one user.
func SessionKey(userID, sessionID string) string {
	return sessionNamespace + ":" + userID + ":" + sessionID
}

// UserSessionsPattern matches every session key belonging to userID. Glob
// metacharacters in userID match only themselves.
func UserSessionsPattern(userID string) string {
	return sessionNamespace + ":" + escape(userID) + ":*"
}

// BlacklistKey is the revocation flag key for a token hash.
func BlacklistKey(tokenHash string) string {
	return blacklistNamespace + ":" + tokenHash
}

// RateLimitKey is the counter key for one throttled caller.
func RateLimitKey(scope, id string) string {
	return ratelimitNamespace + ":" + scope + ":" + id
}

// escape quotes glob metacharacters for use in a SCAN MATCH pattern.
func escape(s string) string {
	return globEscaper.Replace(s)
}

var globEscaper = strings.NewReplacer(
	`\`, `\\`,
	`*`, `\*`,
	`?`, `\?`,
	`[`, `\[`,
	`]`, `\]`,
)
