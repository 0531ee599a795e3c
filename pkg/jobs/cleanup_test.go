package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/turnstile/pkg/config"
)

type fakeCleaner struct {
	retentionDays int
	retention     time.Duration
	calls         []string
}

func (f *fakeCleaner) CleanupExpiredPermissions(context.Context) (int64, error) {
	f.calls = append(f.calls, JobPermissions)
	return 2, nil
}

func (f *fakeCleaner) CleanupExpiredSessions(_ context.Context, retentionDays int) (int64, error) {
	f.calls = append(f.calls, JobSessions)
	f.retentionDays = retentionDays
	return 1, nil
}

func (f *fakeCleaner) CleanupExpiredRefreshTokens(_ context.Context, retention time.Duration) (int64, error) {
	f.calls = append(f.calls, JobRefreshTokens)
	f.retention = retention
	return 0, nil
}

func (f *fakeCleaner) Cleanup(context.Context) (int64, error) {
	f.calls = append(f.calls, JobBlacklist)
	return 5, nil
}

func cleanupConfig() config.CleanupConfig {
	return config.CleanupConfig{
		Enabled:              true,
		PermissionsSchedule:  "*/5 * * * *",
		SessionsSchedule:     "0 * * * *",
		TokensSchedule:       "30 * * * *",
		SessionRetentionDays: 7,
	}
}

func TestCleanupJobs(t *testing.T) {
	f := &fakeCleaner{}
	jobs := CleanupJobs(cleanupConfig(), Cleaners{Permissions: f, Sessions: f, RefreshTokens: f, Blacklist: f})
	require.Len(t, jobs, 4)

	schedules := map[string]string{}
	for _, j := range jobs {
		schedules[j.Name] = j.Schedule
	}
	assert.Equal(t, map[string]string{
		JobPermissions:   "*/5 * * * *",
		JobSessions:      "0 * * * *",
		JobRefreshTokens: "30 * * * *",
		JobBlacklist:     "30 * * * *",
	}, schedules)

	s, err := NewCleanupScheduler(cleanupConfig(), Cleaners{Permissions: f, Sessions: f, RefreshTokens: f, Blacklist: f}, nil)
	require.NoError(t, err)
	require.NoError(t, s.RunOnce(context.Background()))

	assert.Equal(t, []string{JobPermissions, JobSessions, JobRefreshTokens, JobBlacklist}, f.calls)
	assert.Equal(t, 7, f.retentionDays)
	assert.Equal(t, 7*24*time.Hour, f.retention)
}

func TestCleanupJobs_SkipsMissingCleaners(t *testing.T) {
	f := &fakeCleaner{}
	jobs := CleanupJobs(cleanupConfig(), Cleaners{Sessions: f})
	require.Len(t, jobs, 1)
	assert.Equal(t, JobSessions, jobs[0].Name)
}

func TestNewCleanupScheduler_BadSchedule(t *testing.T) {
	cfg := cleanupConfig()
	cfg.SessionsSchedule = "whenever"

	_, err := NewCleanupScheduler(cfg, Cleaners{Sessions: &fakeCleaner{}}, nil)
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	assert.Equal(t, "debug", NewLogger("debug").GetLevel().String())
	assert.Equal(t, "info", NewLogger("loud").GetLevel().String())
}
