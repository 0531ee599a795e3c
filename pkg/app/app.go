// Package app wires the authorization core from configuration. Both the
// API server and the janitor build their components here.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/platinummonkey/turnstile/pkg/api"
	"github.com/platinummonkey/turnstile/pkg/audit"
	"github.com/platinummonkey/turnstile/pkg/auth"
	"github.com/platinummonkey/turnstile/pkg/cache"
	"github.com/platinummonkey/turnstile/pkg/config"
	"github.com/platinummonkey/turnstile/pkg/jobs"
	"github.com/platinummonkey/turnstile/pkg/middleware"
	"github.com/platinummonkey/turnstile/pkg/observability"
	"github.com/platinummonkey/turnstile/pkg/rbac"
	"github.com/platinummonkey/turnstile/pkg/session"
	"github.com/platinummonkey/turnstile/pkg/storage"
	"github.com/platinummonkey/turnstile/pkg/webhooks"
)

// App holds the wired components.
type App struct {
	Config   *config.Config
	DB       *sql.DB
	Cache    *cache.Client
	Logger   *observability.Logger
	Registry *prometheus.Registry
	Metrics  *observability.Metrics
	Audit    audit.Logger
	Webhooks *webhooks.Notifier

	Users         *auth.DBUserStore
	Sessions      *session.Store
	Revocations   *auth.RevocationRegistry
	Issuer        *auth.TokenIssuer
	Authenticator *auth.Authenticator
	Resolver      *rbac.Resolver
	Gateway       *middleware.Gateway
}

// New connects to Postgres and Redis and builds every component. Postgres
// is required. Redis is optional: when it is disabled or unreachable the
// app runs without a cache and every lookup goes to Postgres.
func New(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*App, error) {
	logger = observability.OrNop(logger)

	db, err := storage.Open(ctx, cfg.Postgres)
	if err != nil {
		return nil, err
	}

	var cacheClient *cache.Client
	if cfg.Redis.Enabled {
		cacheClient, err = cache.New(ctx, cfg.Redis)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, running without cache")
			cacheClient = nil
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	a := &App{
		Config:   cfg,
		DB:       db,
		Cache:    cacheClient,
		Logger:   logger,
		Registry: registry,
		Metrics:  metrics,
	}
	if err := a.wire(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire() error {
	cfg := a.Config

	dbAudit, err := audit.NewDBLogger(a.DB)
	if err != nil {
		return fmt.Errorf("failed to create audit logger: %w", err)
	}
	sinks := []audit.Logger{audit.NewStructuredLogger(a.Logger), dbAudit}
	if cfg.Webhook.Enabled() {
		a.Webhooks, err = a.notifier()
		if err != nil {
			return err
		}
		sinks = append(sinks, a.Webhooks)
	}
	a.Audit = audit.NewMultiLogger(true, a.Logger, sinks...)

	a.Users = auth.NewDBUserStore(a.DB)
	a.Sessions = session.NewStore(a.DB, a.Cache,
		session.WithLogger(a.Logger.WithField("component", "session")),
		session.WithMetrics(a.Metrics),
	)
	a.Revocations = auth.NewRevocationRegistry(
		auth.NewDBRevocationStore(a.DB),
		a.Cache,
		cfg.Auth.AccessTokenTTL,
		a.Logger.WithField("component", "revocation"),
		a.Metrics,
	)
	a.Issuer = auth.NewTokenIssuer(
		auth.IssuerConfig{
			Secret:               []byte(cfg.Auth.JWTSecret),
			Issuer:               cfg.Auth.Issuer,
			AccessTTL:            cfg.Auth.AccessTokenTTL,
			RefreshTTL:           cfg.Auth.RefreshTokenTTL,
			RevokeSessionOnReuse: cfg.Auth.RevokeSessionOnReuse,
		},
		auth.NewDBRefreshTokenStore(a.DB),
		a.Sessions,
		a.Revocations,
		a.Users,
		auth.WithLogger(a.Logger.WithField("component", "token")),
		auth.WithMetrics(a.Metrics),
		auth.WithAuditLogger(a.Audit),
	)
	a.Authenticator = auth.NewAuthenticator(a.Issuer, a.Users, a.Sessions, cfg.Auth.BcryptCost)

	seed, err := a.seed()
	if err != nil {
		return err
	}
	opts := []rbac.Option{
		rbac.WithLogger(a.Logger.WithField("component", "rbac")),
		rbac.WithMetrics(a.Metrics),
		rbac.WithCatalogTTL(cfg.Auth.CatalogCacheTTL),
		rbac.WithHierarchicalChecks(cfg.Auth.HierarchicalChecks),
		rbac.WithTemplates(seed.Templates),
	}
	if a.Webhooks != nil {
		opts = append(opts, rbac.WithNotifier(a.Webhooks))
	}
	a.Resolver = rbac.NewResolver(rbac.NewDBStore(a.DB), a.Users, opts...)

	a.Gateway = middleware.NewGateway(a.Issuer, a.Sessions, a.Resolver, a.Users,
		middleware.WithLogger(a.Logger.WithField("component", "gateway")),
		middleware.WithActiveSessionCheck(cfg.Auth.RequireActiveSession),
		middleware.WithTimeout(cfg.Server.RequestTimeout),
	)
	return nil
}

func (a *App) notifier() (*webhooks.Notifier, error) {
	cfg := a.Config.Webhook
	events := make([]audit.Action, 0, len(cfg.Events))
	for _, e := range cfg.Events {
		events = append(events, audit.Action(e))
	}
	n, err := webhooks.NewNotifier(webhooks.Config{
		URL:       cfg.URL,
		Secret:    cfg.Secret,
		Format:    webhooks.Format(cfg.Format),
		Events:    events,
		Timeout:   cfg.Timeout,
		QueueSize: cfg.QueueSize,
		Retry:     webhooks.RetryConfig{MaxAttempts: cfg.MaxAttempts},
	},
		webhooks.WithLogger(a.Logger.WithField("component", "webhooks")),
		webhooks.WithMetrics(a.Metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook notifier: %w", err)
	}
	return n, nil
}

// seed loads the configured seed file, or the built-in catalog.
func (a *App) seed() (*rbac.Seed, error) {
	if path := a.Config.Auth.SeedFile; path != "" {
		return rbac.LoadSeedFile(path)
	}
	return rbac.DefaultSeed()
}

// Migrate applies pending schema migrations.
func (a *App) Migrate(ctx context.Context) error {
	return storage.RunMigrations(ctx, a.DB, a.Logger)
}

// SyncCatalog writes the permission catalog to Postgres.
func (a *App) SyncCatalog(ctx context.Context) error {
	seed, err := a.seed()
	if err != nil {
		return err
	}
	return a.Resolver.SyncCatalog(ctx, seed)
}

// Server builds the HTTP API.
func (a *App) Server() *api.Server {
	limit := middleware.RateLimitConfig{
		RequestsPerWindow: a.Config.Auth.LoginRateLimit,
		WindowDuration:    a.Config.Auth.LoginRateWindow,
	}
	limiter := middleware.NewFallbackLimiter(
		middleware.NewRedisLimiter(a.Cache, limit, "login"),
		middleware.NewMemoryLimiter(limit),
		a.Logger.WithField("component", "ratelimit"),
		a.Metrics,
	)

	return api.NewServer(api.Deps{
		Authenticator:  a.Authenticator,
		Sessions:       a.Sessions,
		Permissions:    a.Resolver,
		Gateway:        a.Gateway,
		LoginLimiter:   limiter,
		LoginLimit:     limit,
		Health:         observability.NewHealthChecker(a.DB, a.Cache.Redis(), a.Config.Observability.OTelServiceVersion),
		Registry:       a.Registry,
		Metrics:        a.Metrics,
		Logger:         a.Logger,
		RequestTimeout: a.Config.Server.RequestTimeout,
	})
}

// Cleaners returns the targets of the cleanup jobs.
func (a *App) Cleaners() jobs.Cleaners {
	return jobs.Cleaners{
		Permissions:   a.Resolver,
		Sessions:      a.Sessions,
		RefreshTokens: a.Issuer,
		Blacklist:     a.Revocations,
	}
}

// Close flushes the audit sinks, including pending webhook deliveries, and
// closes the connections.
func (a *App) Close() error {
	var errs []error
	if a.Audit != nil {
		errs = append(errs, a.Audit.Close())
	}
	if a.Cache != nil {
		errs = append(errs, a.Cache.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
