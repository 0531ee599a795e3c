// Package jobs runs the periodic cleanup of expired grants, sessions and
// tokens on cron schedules.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/turnstile/pkg/observability"
)

// DefaultJobTimeout bounds a single job execution.
const DefaultJobTimeout = 5 * time.Minute

// Job is one scheduled task. Run returns the number of rows it touched.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) (int64, error)
}

// Scheduler runs jobs on cron schedules. A job never overlaps with itself.
type Scheduler struct {
	cron    *cron.Cron
	jobs    []Job
	log     *logrus.Logger
	metrics *observability.Metrics
	timeout time.Duration

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMetrics records every run.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithTimeout overrides DefaultJobTimeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewScheduler creates a scheduler. A nil log discards output.
func NewScheduler(log *logrus.Logger, opts ...Option) *Scheduler {
	if log == nil {
		log = logrus.New()
		log.Out = io.Discard
	}

	cronLog := cron.VerbosePrintfLogger(log)
	s := &Scheduler{
		cron: cron.New(
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		log:     log,
		timeout: DefaultJobTimeout,
		ctx:     context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add schedules job. The schedule uses the standard five-field cron syntax
// or descriptors such as "@hourly".
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return errors.New("job requires a name and a run function")
	}
	_, err := s.cron.AddFunc(job.Schedule, func() {
		s.run(s.baseContext(), job)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule %s job: %w", job.Name, err)
	}
	s.jobs = append(s.jobs, job)
	return nil
}

// Jobs returns the scheduled jobs in the order they were added.
func (s *Scheduler) Jobs() []Job {
	return append([]Job(nil), s.jobs...)
}

// Start runs the scheduler in the background until Stop or ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.cron.Start()
	for _, job := range s.jobs {
		s.log.WithFields(logrus.Fields{"job": job.Name, "schedule": job.Schedule}).Info("Cleanup job scheduled")
	}
}

// Stop stops scheduling and waits for running jobs, or until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	select {
	case <-s.cron.Stop().Done():
		s.log.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to stop scheduler: %w", ctx.Err())
	}
}

// RunOnce runs every job once in order. A failing job does not stop the
// rest; all failures are returned together.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var errs []error
	for _, job := range s.jobs {
		if _, err := s.run(ctx, job); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", job.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) run(ctx context.Context, job Job) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	rows, err := job.Run(ctx)
	s.metrics.CleanupRun(job.Name, rows, err)

	entry := s.log.WithFields(logrus.Fields{
		"job":         job.Name,
		"rows":        rows,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	if err != nil {
		entry.WithError(err).Error("Cleanup job failed")
		return rows, err
	}
	entry.Info("Cleanup job completed")
	return rows, nil
}

func (s *Scheduler) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}
