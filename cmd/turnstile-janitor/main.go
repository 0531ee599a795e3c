package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/platinummonkey/turnstile/pkg/app"
	"github.com/platinummonkey/turnstile/pkg/config"
	"github.com/platinummonkey/turnstile/pkg/jobs"
	"github.com/platinummonkey/turnstile/pkg/observability"
)

var (
	runOnce = flag.Bool("once", false, "Run every cleanup job once and exit")
	timeout = flag.Duration("job-timeout", jobs.DefaultJobTimeout, "Upper bound for a single job run")
)

func main() {
	flag.Parse()

	log := jobs.NewLogger(os.Getenv("TURNSTILE_LOG_LEVEL"))

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	// Job logs go to stdout, component logs to stderr.
	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stderr).
		WithField("service", "turnstile-janitor")

	ctx := context.Background()
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()

	scheduler, err := jobs.NewCleanupScheduler(cfg.Cleanup, a.Cleaners(), log,
		jobs.WithMetrics(a.Metrics),
		jobs.WithTimeout(*timeout),
	)
	if err != nil {
		log.Fatalf("Failed to schedule cleanup jobs: %v", err)
	}

	// Run once mode (for cron-driven deployments and backfills)
	if *runOnce {
		if err := scheduler.RunOnce(ctx); err != nil {
			a.Close()
			log.Fatalf("Cleanup failed: %v", err)
		}
		log.Info("Cleanup completed")
		return
	}

	scheduler.Start(ctx)
	log.Info("Turnstile janitor started")

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	log.Info("Shutting down gracefully...")
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := scheduler.Stop(stopCtx); err != nil {
		log.WithError(err).Error("Scheduler did not stop cleanly")
	}
}
