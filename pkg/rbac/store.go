package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/platinummonkey/turnstile/pkg/apperr"
	"github.com/platinummonkey/turnstile/pkg/audit"
	"github.com/platinummonkey/turnstile/pkg/storage"
)

// Store persists the permission catalog and direct grants. Every mutating
// method writes its audit event in the same transaction when event is
// non-nil and something changed.
type Store interface {
	ListPermissions(ctx context.Context) ([]*Permission, error)
	ListRolePermissions(ctx context.Context, role string) ([]*Permission, error)
	// ListActiveGrants returns grants not revoked and not expired at t,
	// each with its Permission populated.
	ListActiveGrants(ctx context.Context, userID string, at time.Time) ([]*UserPermission, error)
	// GrantPermissions inserts grants for userID, skipping permissions the
	// user already actively holds, and returns the inserted rows. Stale
	// expired rows for the same permissions are revoked first.
	GrantPermissions(ctx context.Context, userID string, grants []*UserPermission, at time.Time, event *audit.Event) ([]*UserPermission, error)
	RevokeGrants(ctx context.Context, userID string, permissionIDs []string, revokedBy, reason string, at time.Time, event *audit.Event) (int64, error)
	ExpireGrants(ctx context.Context, at time.Time, event *audit.Event) (int64, error)
	// UpsertPermissions writes catalog entries keyed by code. Parents must
	// precede children.
	UpsertPermissions(ctx context.Context, perms []*Permission) error
}

// DBStore is the Postgres Store.
type DBStore struct {
	db *sql.DB
}

// NewDBStore creates a permission store.
func NewDBStore(db *sql.DB) *DBStore {
	return &DBStore{db: db}
}

const permissionColumns = `p.id, p.code, p.name, p.description, p.category, p.risk_level,
	p.requires_2fa, p.requires_approval, p.default_for_roles, p.parent_id, p.level, p.path,
	COALESCE(pp.code, '')`

// ListPermissions returns the whole catalog.
func (s *DBStore) ListPermissions(ctx context.Context) ([]*Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+permissionColumns+`
		FROM permissions p
		LEFT JOIN permissions pp ON pp.id = p.parent_id
		ORDER BY p.level, p.category, p.name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()
	return scanPermissions(rows)
}

// ListRolePermissions returns permissions whose default_for_roles holds role.
func (s *DBStore) ListRolePermissions(ctx context.Context, role string) ([]*Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+permissionColumns+`
		FROM permissions p
		LEFT JOIN permissions pp ON pp.id = p.parent_id
		WHERE $1 = ANY(p.default_for_roles)
		ORDER BY p.category, p.code
	`, role)
	if err != nil {
		return nil, fmt.Errorf("failed to list role permissions: %w", err)
	}
	defer rows.Close()
	return scanPermissions(rows)
}

// ListActiveGrants returns the user's active direct grants.
func (s *DBStore) ListActiveGrants(ctx context.Context, userID string, at time.Time) ([]*UserPermission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT up.id, up.user_id, up.permission_id, COALESCE(up.granted_by, ''), up.granted_at,
			COALESCE(up.grant_reason, ''), up.expires_at, up.can_delegate, COALESCE(up.delegated_from, ''),
			`+permissionColumns+`
		FROM user_permissions up
		JOIN permissions p ON p.id = up.permission_id
		LEFT JOIN permissions pp ON pp.id = p.parent_id
		WHERE up.user_id = $1
			AND up.revoked_at IS NULL
			AND (up.expires_at IS NULL OR up.expires_at > $2)
		ORDER BY p.category, p.code
	`, userID, at)
	if err != nil {
		return nil, fmt.Errorf("failed to list user permissions: %w", err)
	}
	defer rows.Close()

	var grants []*UserPermission
	for rows.Next() {
		var (
			g         UserPermission
			p         Permission
			expiresAt sql.NullTime
			parentID  sql.NullString
		)
		err := rows.Scan(
			&g.ID, &g.UserID, &g.PermissionID, &g.GrantedBy, &g.GrantedAt,
			&g.GrantReason, &expiresAt, &g.CanDelegate, &g.DelegatedFrom,
			&p.ID, &p.Code, &p.Name, &p.Description, &p.Category, &p.RiskLevel,
			&p.Requires2FA, &p.RequiresApproval, pq.Array(&p.DefaultForRoles), &parentID, &p.Level, &p.Path,
			&p.ParentCode,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user permission: %w", err)
		}
		if expiresAt.Valid {
			t := expiresAt.Time
			g.ExpiresAt = &t
		}
		if parentID.Valid {
			id := parentID.String
			p.ParentID = &id
		}
		g.Permission = &p
		grants = append(grants, &g)
	}
	return grants, rows.Err()
}

// GrantPermissions inserts grants in one transaction.
func (s *DBStore) GrantPermissions(ctx context.Context, userID string, grants []*UserPermission, at time.Time, event *audit.Event) ([]*UserPermission, error) {
	if len(grants) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(grants))
	for _, g := range grants {
		ids = append(ids, g.PermissionID)
	}

	var inserted []*UserPermission
	err := storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		// Expired rows still hold the partial unique index until cleanup
		// stamps them; retire them so a fresh grant can be inserted.
		if _, err := tx.ExecContext(ctx, `
			UPDATE user_permissions
			SET revoked_at = $3, revoked_by = $4, revoke_reason = $5
			WHERE user_id = $1 AND permission_id = ANY($2)
				AND revoked_at IS NULL AND expires_at IS NOT NULL AND expires_at <= $3
		`, userID, pq.Array(ids), at, SystemActor, ReasonExpired); err != nil {
			return fmt.Errorf("failed to retire expired grants: %w", err)
		}

		for _, g := range grants {
			var id string
			err := tx.QueryRowContext(ctx, `
				INSERT INTO user_permissions
					(id, user_id, permission_id, granted_by, granted_at, grant_reason, expires_at, can_delegate, delegated_from)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
				ON CONFLICT (user_id, permission_id) WHERE revoked_at IS NULL DO NOTHING
				RETURNING id
			`, g.ID, userID, g.PermissionID, nullString(g.GrantedBy), g.GrantedAt, nullString(g.GrantReason),
				g.ExpiresAt, g.CanDelegate, nullString(g.DelegatedFrom)).Scan(&id)
			if err == sql.ErrNoRows {
				continue
			}
			if storage.IsForeignKeyViolation(err) {
				return apperr.NotFound("user", userID)
			}
			if err != nil {
				return fmt.Errorf("failed to insert grant: %w", err)
			}
			inserted = append(inserted, g)
		}

		if event == nil || len(inserted) == 0 {
			return nil
		}
		event.With("granted", codesOf(inserted))
		return audit.Insert(ctx, tx, event)
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

// RevokeGrants revokes the user's active grants of permissionIDs.
func (s *DBStore) RevokeGrants(ctx context.Context, userID string, permissionIDs []string, revokedBy, reason string, at time.Time, event *audit.Event) (int64, error) {
	if len(permissionIDs) == 0 {
		return 0, nil
	}
	var n int64
	err := storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE user_permissions
			SET revoked_at = $3, revoked_by = $4, revoke_reason = $5
			WHERE user_id = $1 AND permission_id = ANY($2) AND revoked_at IS NULL
		`, userID, pq.Array(permissionIDs), at, nullString(revokedBy), nullString(reason))
		if err != nil {
			return fmt.Errorf("failed to revoke grants: %w", err)
		}
		if n, err = result.RowsAffected(); err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if event == nil || n == 0 {
			return nil
		}
		event.With("revoked", n)
		return audit.Insert(ctx, tx, event)
	})
	return n, err
}

// ExpireGrants revokes every grant whose expiry has passed. It is a pure
// time predicate and may run concurrently with itself.
func (s *DBStore) ExpireGrants(ctx context.Context, at time.Time, event *audit.Event) (int64, error) {
	var n int64
	err := storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE user_permissions
			SET revoked_at = $1, revoked_by = $2, revoke_reason = $3
			WHERE revoked_at IS NULL AND expires_at IS NOT NULL AND expires_at <= $1
		`, at, SystemActor, ReasonExpired)
		if err != nil {
			return fmt.Errorf("failed to expire grants: %w", err)
		}
		if n, err = result.RowsAffected(); err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if event == nil || n == 0 {
			return nil
		}
		event.With("expired", n)
		return audit.Insert(ctx, tx, event)
	})
	return n, err
}

// UpsertPermissions writes the catalog in one transaction.
func (s *DBStore) UpsertPermissions(ctx context.Context, perms []*Permission) error {
	return storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, p := range perms {
			if p.ID == "" {
				p.ID = uuid.NewString()
			}
			roles := p.DefaultForRoles
			if roles == nil {
				roles = []string{}
			}
			err := tx.QueryRowContext(ctx, `
				INSERT INTO permissions
					(id, code, name, description, category, risk_level, requires_2fa, requires_approval,
					 default_for_roles, parent_id, level, path)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, (SELECT id FROM permissions WHERE code = $10), $11, $12)
				ON CONFLICT (code) DO UPDATE SET
					name = EXCLUDED.name,
					description = EXCLUDED.description,
					category = EXCLUDED.category,
					risk_level = EXCLUDED.risk_level,
					requires_2fa = EXCLUDED.requires_2fa,
					requires_approval = EXCLUDED.requires_approval,
					default_for_roles = EXCLUDED.default_for_roles,
					parent_id = EXCLUDED.parent_id,
					level = EXCLUDED.level,
					path = EXCLUDED.path,
					updated_at = NOW()
				RETURNING id
			`, p.ID, p.Code, p.Name, p.Description, p.Category, string(p.RiskLevel), p.Requires2FA, p.RequiresApproval,
				pq.Array(roles), nullString(p.ParentCode), p.Level, p.Path).Scan(&p.ID)
			if err != nil {
				return fmt.Errorf("failed to upsert permission %s: %w", p.Code, err)
			}
		}
		return nil
	})
}

func scanPermissions(rows *sql.Rows) ([]*Permission, error) {
	var perms []*Permission
	for rows.Next() {
		var (
			p        Permission
			parentID sql.NullString
		)
		err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.Description, &p.Category, &p.RiskLevel,
			&p.Requires2FA, &p.RequiresApproval, pq.Array(&p.DefaultForRoles), &parentID, &p.Level, &p.Path,
			&p.ParentCode)
		if err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		if parentID.Valid {
			id := parentID.String
			p.ParentID = &id
		}
		perms = append(perms, &p)
	}
	return perms, rows.Err()
}

func codesOf(grants []*UserPermission) []string {
	codes := make([]string, 0, len(grants))
	for _, g := range grants {
		if g.Permission != nil {
			codes = append(codes, g.Permission.Code)
		}
	}
	return codes
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
