package jobs

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/turnstile/pkg/config"
)

// Job names, also used as metric labels.
const (
	JobPermissions   = "permissions"
	JobSessions      = "sessions"
	JobRefreshTokens = "refresh_tokens"
	JobBlacklist     = "blacklist"
)

// PermissionCleaner retires expired direct grants. *rbac.Resolver
// implements it.
type PermissionCleaner interface {
	CleanupExpiredPermissions(ctx context.Context) (int64, error)
}

// SessionCleaner deletes dead sessions. *session.Store implements it.
type SessionCleaner interface {
	CleanupExpiredSessions(ctx context.Context, retentionDays int) (int64, error)
}

// RefreshTokenCleaner deletes dead refresh tokens. *auth.TokenIssuer
// implements it.
type RefreshTokenCleaner interface {
	CleanupExpiredRefreshTokens(ctx context.Context, retention time.Duration) (int64, error)
}

// BlacklistCleaner deletes expired revocation entries.
// *auth.RevocationRegistry implements it.
type BlacklistCleaner interface {
	Cleanup(ctx context.Context) (int64, error)
}

// Cleaners are the targets of the cleanup jobs. Nil fields are skipped.
type Cleaners struct {
	Permissions   PermissionCleaner
	Sessions      SessionCleaner
	RefreshTokens RefreshTokenCleaner
	Blacklist     BlacklistCleaner
}

// CleanupJobs builds the cleanup jobs for cfg. Refresh tokens and the
// blacklist share the tokens schedule; dead rows are kept for the session
// retention period.
func CleanupJobs(cfg config.CleanupConfig, c Cleaners) []Job {
	retention := time.Duration(cfg.SessionRetentionDays) * 24 * time.Hour

	var jobs []Job
	if c.Permissions != nil {
		jobs = append(jobs, Job{
			Name:     JobPermissions,
			Schedule: cfg.PermissionsSchedule,
			Run:      c.Permissions.CleanupExpiredPermissions,
		})
	}
	if c.Sessions != nil {
		jobs = append(jobs, Job{
			Name:     JobSessions,
			Schedule: cfg.SessionsSchedule,
			Run: func(ctx context.Context) (int64, error) {
				return c.Sessions.CleanupExpiredSessions(ctx, cfg.SessionRetentionDays)
			},
		})
	}
	if c.RefreshTokens != nil {
		jobs = append(jobs, Job{
			Name:     JobRefreshTokens,
			Schedule: cfg.TokensSchedule,
			Run: func(ctx context.Context) (int64, error) {
				return c.RefreshTokens.CleanupExpiredRefreshTokens(ctx, retention)
			},
		})
	}
	if c.Blacklist != nil {
		jobs = append(jobs, Job{
			Name:     JobBlacklist,
			Schedule: cfg.TokensSchedule,
			Run:      c.Blacklist.Cleanup,
		})
	}
	return jobs
}

// NewCleanupScheduler creates a scheduler with every cleanup job added.
func NewCleanupScheduler(cfg config.CleanupConfig, c Cleaners, log *logrus.Logger, opts ...Option) (*Scheduler, error) {
	s := NewScheduler(log, opts...)
	var errs []error
	for _, job := range CleanupJobs(cfg, c) {
		if err := s.Add(job); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return s, nil
}

// NewLogger returns a JSON logrus logger writing to stdout at level. An
// unknown level falls back to info.
func NewLogger(level string) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	return log
}
