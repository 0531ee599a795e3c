package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/turnstile/pkg/observability"
)

// Migration represents a schema migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations returns every schema migration in version order.
func Migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id TEXT PRIMARY KEY,
					email VARCHAR(255) NOT NULL UNIQUE,
					password_hash VARCHAR(255) NOT NULL,
					role VARCHAR(64) NOT NULL,
					access_level SMALLINT NOT NULL DEFAULT 1 CHECK (access_level BETWEEN 1 AND 5),
					two_factor_enabled BOOLEAN NOT NULL DEFAULT FALSE,
					status VARCHAR(32) NOT NULL DEFAULT 'active',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
				CREATE INDEX IF NOT EXISTS idx_users_role ON users(role);
			`,
		},
		{
			Version:     2,
			Description: "Create permission catalog",
			SQL: `
				CREATE TABLE IF NOT EXISTS permissions (
					id TEXT PRIMARY KEY,
					code VARCHAR(128) NOT NULL UNIQUE,
					name VARCHAR(255) NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					category VARCHAR(64) NOT NULL,
					risk_level VARCHAR(16) NOT NULL DEFAULT 'low',
					requires_2fa BOOLEAN NOT NULL DEFAULT FALSE,
					requires_approval BOOLEAN NOT NULL DEFAULT FALSE,
					default_for_roles TEXT[] NOT NULL DEFAULT '{}',
					parent_id TEXT REFERENCES permissions(id) ON DELETE RESTRICT,
					level INTEGER NOT NULL DEFAULT 0,
					path TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
				CREATE INDEX IF NOT EXISTS idx_permissions_default_roles ON permissions USING GIN (default_for_roles);
				CREATE INDEX IF NOT EXISTS idx_permissions_parent ON permissions(parent_id);
			`,
		},
		{
			Version:     3,
			Description: "Create direct permission grants",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_permissions (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					permission_id TEXT NOT NULL REFERENCES permissions(id) ON DELETE RESTRICT,
					granted_by TEXT,
					granted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					grant_reason TEXT,
					expires_at TIMESTAMPTZ,
					revoked_at TIMESTAMPTZ,
					revoked_by TEXT,
					revoke_reason TEXT,
					can_delegate BOOLEAN NOT NULL DEFAULT FALSE,
					delegated_from TEXT
				);
				CREATE UNIQUE INDEX IF NOT EXISTS uq_user_permissions_open
					ON user_permissions(user_id, permission_id) WHERE revoked_at IS NULL;
				CREATE INDEX IF NOT EXISTS idx_user_permissions_expiry
					ON user_permissions(expires_at) WHERE revoked_at IS NULL AND expires_at IS NOT NULL;
			`,
		},
		{
			Version:     4,
			Description: "Create sessions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS sessions (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					token_hash CHAR(64) NOT NULL UNIQUE,
					ip_address VARCHAR(64) NOT NULL DEFAULT '',
					user_agent TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					last_activity_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					expires_at TIMESTAMPTZ NOT NULL,
					revoked_at TIMESTAMPTZ,
					revoked_by TEXT
				);
				CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
				CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);
			`,
		},
		{
			Version:     5,
			Description: "Create refresh tokens table",
			SQL: `
				CREATE TABLE IF NOT EXISTS refresh_tokens (
					id TEXT PRIMARY KEY,
					token_hash CHAR(64) NOT NULL UNIQUE,
					user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					session_id TEXT NOT NULL,
					expires_at TIMESTAMPTZ NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					revoked_at TIMESTAMPTZ,
					revoked_reason VARCHAR(64)
				);
				CREATE INDEX IF NOT EXISTS idx_refresh_tokens_user_open
					ON refresh_tokens(user_id) WHERE revoked_at IS NULL;
				CREATE INDEX IF NOT EXISTS idx_refresh_tokens_expires ON refresh_tokens(expires_at);
			`,
		},
		{
			Version:     6,
			Description: "Create durable revocation list",
			SQL: `
				CREATE TABLE IF NOT EXISTS revoked_tokens (
					token_hash CHAR(64) PRIMARY KEY,
					user_id TEXT NOT NULL DEFAULT '',
					token_type VARCHAR(16) NOT NULL DEFAULT '',
					reason VARCHAR(64) NOT NULL DEFAULT '',
					revoked_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					expires_at TIMESTAMPTZ NOT NULL
				);
				CREATE INDEX IF NOT EXISTS idx_revoked_tokens_expires ON revoked_tokens(expires_at);
			`,
		},
		{
			Version:     7,
			Description: "Create activity log",
			SQL: `
				CREATE TABLE IF NOT EXISTS activity_logs (
					id BIGSERIAL PRIMARY KEY,
					actor_id TEXT,
					target_user_id TEXT,
					action VARCHAR(64) NOT NULL,
					category VARCHAR(32) NOT NULL,
					details JSONB NOT NULL DEFAULT '{}',
					ip_address VARCHAR(64) NOT NULL DEFAULT '',
					user_agent TEXT NOT NULL DEFAULT '',
					request_id VARCHAR(64) NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
				CREATE INDEX IF NOT EXISTS idx_activity_logs_actor ON activity_logs(actor_id, created_at DESC);
				CREATE INDEX IF NOT EXISTS idx_activity_logs_target ON activity_logs(target_user_id, created_at DESC);
			`,
		},
	}
}

// RunMigrations applies pending migrations, each in its own transaction,
// recording them in schema_migrations.
func RunMigrations(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	logger = observability.OrNop(logger)

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}

	for _, m := range Migrations() {
		if applied[m.Version] {
			continue
		}

		logger.WithField("version", m.Version).Infof("Running migration: %s", m.Description)

		err := WithTx(ctx, db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", m.Version, err)
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
				m.Version, m.Description,
			); err != nil {
				return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}
