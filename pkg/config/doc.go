// Package config loads turnstile configuration from environment variables.
//
// Server:
//
//	TURNSTILE_HOST="0.0.0.0"
//	TURNSTILE_PORT="8080"
//	TURNSTILE_REQUEST_TIMEOUT="5s"
//
// Stores:
//
//	TURNSTILE_POSTGRES_URL="postgres://localhost/turnstile?sslmode=disable"
//	TURNSTILE_REDIS_ENABLED="true"
//	TURNSTILE_REDIS_URL="redis://localhost:6379/0"
//
// Tokens and authorization:
//
//	TURNSTILE_JWT_SECRET="<at least 32 bytes>"
//	TURNSTILE_ACCESS_TOKEN_TTL="15m"
//	TURNSTILE_REFRESH_TOKEN_TTL="168h"
//	TURNSTILE_BCRYPT_COST="12"
//	TURNSTILE_REVOKE_SESSION_ON_REUSE="false"
//
// Cleanup jobs (standard 5-field cron):
//
//	TURNSTILE_CLEANUP_PERMISSIONS_SCHEDULE="*/5 * * * *"
//	TURNSTILE_SESSION_RETENTION_DAYS="30"
//
// Observability:
//
//	TURNSTILE_LOG_LEVEL="info"
//	TURNSTILE_OTEL_ENABLED="false"
package config
