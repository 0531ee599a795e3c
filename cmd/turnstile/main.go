package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"

	"github.com/platinummonkey/turnstile/pkg/app"
	"github.com/platinummonkey/turnstile/pkg/config"
	"github.com/platinummonkey/turnstile/pkg/jobs"
	"github.com/platinummonkey/turnstile/pkg/observability"
)

var (
	migrate  = flag.Bool("migrate", false, "Apply database migrations before serving")
	seed     = flag.Bool("seed", false, "Sync the permission catalog before serving")
	initOnly = flag.Bool("init-only", false, "Run -migrate/-seed and exit without serving")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", cfg.Observability.OTelServiceName)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("Turnstile exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx := context.Background()

	telemetry, err := observability.InitTelemetry(ctx, observability.TelemetryConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return err
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}

	if *migrate {
		if err := a.Migrate(ctx); err != nil {
			a.Close()
			return err
		}
	}
	if *seed {
		if err := a.SyncCatalog(ctx); err != nil {
			a.Close()
			return err
		}
	}
	if *initOnly {
		return a.Close()
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      a.Server(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.Register("app", func(context.Context) error { return a.Close() })
	if telemetry != nil {
		shutdown.Register("telemetry", telemetry.Shutdown)
	}

	if cfg.Cleanup.Enabled {
		scheduler, err := jobs.NewCleanupScheduler(cfg.Cleanup, a.Cleaners(),
			jobs.NewLogger(cfg.Observability.LogLevel.String()),
			jobs.WithMetrics(a.Metrics),
		)
		if err != nil {
			a.Close()
			return err
		}
		scheduler.Start(ctx)
		shutdown.Register("scheduler", scheduler.Stop)
	}

	serveErr := make(chan error, 1)
	go func() {
		defer observability.RecoverPanic(logger, "http server")
		logger.WithField("addr", server.Addr).Info("Turnstile listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := <-serveErr; err != nil {
			logger.WithError(err).Error("HTTP server failed")
			cancel()
		}
	}()

	return shutdown.WaitForShutdown(waitCtx)
}
