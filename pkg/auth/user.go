package auth

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/turnstile/pkg/apperr"
	"github.com/platinummonkey/turnstile/pkg/storage"
)

// Business roles.
const (
	RoleSuperAdmin   = "SUPER_ADMIN"
	RoleAdmin        = "ADMIN"
	RoleSalesManager = "SALES_MANAGER"
	RoleSalesRep     = "SALES_REP"
	RoleSupportAgent = "SUPPORT_AGENT"
	RoleAccountant   = "ACCOUNTANT"
	RoleViewer       = "VIEWER"
)

// Account statuses. Only active accounts may authenticate.
const (
	StatusActive    = "active"
	StatusInactive  = "inactive"
	StatusSuspended = "suspended"
)

// User is the identity record consumed from user management.
type User struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	PasswordHash     string    `json:"-"`
	Role             string    `json:"role"`
	AccessLevel      int       `json:"access_level"`
	TwoFactorEnabled bool      `json:"two_factor_enabled"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// IsActive reports whether the account may authenticate.
func (u *User) IsActive() bool { return u.Status == StatusActive }

// UserProvider looks users up. Both methods return *apperr.NotFoundError
// for unknown users.
type UserProvider interface {
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
}

// DBUserStore reads users from Postgres.
type DBUserStore struct {
	db *sql.DB
}

// NewDBUserStore creates a user store.
func NewDBUserStore(db *sql.DB) *DBUserStore {
	return &DBUserStore{db: db}
}

const userColumns = `id, email, password_hash, role, access_level, two_factor_enabled, status, created_at, updated_at`

// GetUser returns a user by ID.
func (s *DBUserStore) GetUser(ctx context.Context, id string) (*User, error) {
	return s.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetUserByEmail returns a user by email, case-insensitively.
func (s *DBUserStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, normalizeEmail(email))
}

// CreateUser inserts a user. PasswordHash must already be a bcrypt hash.
func (s *DBUserStore) CreateUser(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Status == "" {
		u.Status = StatusActive
	}
	if u.AccessLevel == 0 {
		u.AccessLevel = 1
	}
	u.Email = normalizeEmail(u.Email)

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, email, password_hash, role, access_level, two_factor_enabled, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`, u.ID, u.Email, u.PasswordHash, u.Role, u.AccessLevel, u.TwoFactorEnabled, u.Status).
		Scan(&u.CreatedAt, &u.UpdatedAt)
	if storage.IsUniqueViolation(err) {
		return &apperr.ConflictError{Resource: "user", Message: "email already registered"}
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (s *DBUserStore) getOne(ctx context.Context, query, arg string) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.AccessLevel,
		&u.TwoFactorEnabled, &u.Status, &u.CreatedAt, &u.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("user", arg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
