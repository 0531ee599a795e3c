package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/platinummonkey/turnstile/pkg/cache"
	"github.com/platinummonkey/turnstile/pkg/observability"
	"github.com/platinummonkey/turnstile/pkg/storage"
)

const minSecretLength = 32

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Postgres      storage.Config
	Redis         cache.Config
	Auth          AuthConfig
	Cleanup       CleanupConfig
	Webhook       WebhookConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// RequestTimeout bounds every store call made on behalf of a request.
	RequestTimeout time.Duration
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// AuthConfig holds token, password and authorization settings
type AuthConfig struct {
	JWTSecret       string
	Issuer          string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	BcryptCost      int

	// RequireActiveSession rejects access tokens whose session was revoked.
	RequireActiveSession bool
	// RevokeSessionOnReuse revokes the whole session when an already
	// rotated refresh token is presented again.
	RevokeSessionOnReuse bool
	// HierarchicalChecks expands held permissions to their descendants when
	// answering permission checks.
	HierarchicalChecks bool
	CatalogCacheTTL    time.Duration
	SeedFile           string

	// LoginRateLimit caps login attempts per client IP per LoginRateWindow.
	// Zero disables throttling.
	LoginRateLimit  int
	LoginRateWindow time.Duration
}

// CleanupConfig holds the cron schedules of the cleanup jobs
type CleanupConfig struct {
	Enabled              bool
	PermissionsSchedule  string
	SessionsSchedule     string
	TokensSchedule       string
	SessionRetentionDays int
}

// WebhookConfig configures the security-event webhook. An empty URL
// disables it.
type WebhookConfig struct {
	URL         string
	Secret      string
	Format      string
	Events      []string
	Timeout     time.Duration
	MaxAttempts int
	QueueSize   int
}

// Enabled reports whether a webhook endpoint is configured.
func (w WebhookConfig) Enabled() bool {
	return w.URL != ""
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from TURNSTILE_* environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Postgres:      loadPostgresConfig(),
		Redis:         loadRedisConfig(),
		Auth:          loadAuthConfig(),
		Cleanup:       loadCleanupConfig(),
		Webhook:       loadWebhookConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("TURNSTILE_HOST", "0.0.0.0"),
		Port:            getEnv("TURNSTILE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("TURNSTILE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("TURNSTILE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("TURNSTILE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("TURNSTILE_SHUTDOWN_TIMEOUT", 30*time.Second),
		RequestTimeout:  getEnvDuration("TURNSTILE_REQUEST_TIMEOUT", 5*time.Second),
	}
}

func loadPostgresConfig() storage.Config {
	cfg := storage.DefaultConfig()
	cfg.URL = getEnv("TURNSTILE_POSTGRES_URL", cfg.URL)
	if maxConns := getEnvInt("TURNSTILE_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.MaxOpenConns = maxConns
	}
	if idle := getEnvInt("TURNSTILE_POSTGRES_IDLE_CONNS", 0); idle > 0 {
		cfg.MaxIdleConns = idle
	}
	cfg.ConnMaxLifetime = getEnvDuration("TURNSTILE_POSTGRES_CONN_LIFETIME", cfg.ConnMaxLifetime)
	cfg.ConnectTimeout = getEnvDuration("TURNSTILE_POSTGRES_TIMEOUT", cfg.ConnectTimeout)
	return cfg
}

func loadRedisConfig() cache.Config {
	cfg := cache.DefaultConfig()
	cfg.Enabled = getEnvBool("TURNSTILE_REDIS_ENABLED", cfg.Enabled)
	cfg.URL = getEnv("TURNSTILE_REDIS_URL", cfg.URL)
	cfg.Password = getEnv("TURNSTILE_REDIS_PASSWORD", "")
	cfg.DB = getEnvInt("TURNSTILE_REDIS_DB", cfg.DB)
	if retries := getEnvInt("TURNSTILE_REDIS_MAX_RETRIES", 0); retries > 0 {
		cfg.MaxRetries = retries
	}
	if pool := getEnvInt("TURNSTILE_REDIS_POOL_SIZE", 0); pool > 0 {
		cfg.PoolSize = pool
	}
	cfg.KeyPrefix = getEnv("TURNSTILE_REDIS_KEY_PREFIX", "turnstile:")
	cfg.ReadTimeout = getEnvDuration("TURNSTILE_REDIS_READ_TIMEOUT", cfg.ReadTimeout)
	cfg.WriteTimeout = getEnvDuration("TURNSTILE_REDIS_WRITE_TIMEOUT", cfg.WriteTimeout)
	return cfg
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		JWTSecret:            getEnv("TURNSTILE_JWT_SECRET", ""),
		Issuer:               getEnv("TURNSTILE_JWT_ISSUER", "turnstile"),
		AccessTokenTTL:       getEnvDuration("TURNSTILE_ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL:      getEnvDuration("TURNSTILE_REFRESH_TOKEN_TTL", 7*24*time.Hour),
		BcryptCost:           getEnvInt("TURNSTILE_BCRYPT_COST", 12),
		RequireActiveSession: getEnvBool("TURNSTILE_REQUIRE_ACTIVE_SESSION", true),
		RevokeSessionOnReuse: getEnvBool("TURNSTILE_REVOKE_SESSION_ON_REUSE", false),
		HierarchicalChecks:   getEnvBool("TURNSTILE_HIERARCHICAL_CHECKS", false),
		CatalogCacheTTL:      getEnvDuration("TURNSTILE_CATALOG_CACHE_TTL", time.Minute),
		SeedFile:             getEnv("TURNSTILE_SEED_FILE", ""),
		LoginRateLimit:       getEnvInt("TURNSTILE_LOGIN_RATE_LIMIT", 10),
		LoginRateWindow:      getEnvDuration("TURNSTILE_LOGIN_RATE_WINDOW", time.Minute),
	}
}

func loadCleanupConfig() CleanupConfig {
	return CleanupConfig{
		Enabled:              getEnvBool("TURNSTILE_CLEANUP_ENABLED", true),
		PermissionsSchedule:  getEnv("TURNSTILE_CLEANUP_PERMISSIONS_SCHEDULE", "*/5 * * * *"),
		SessionsSchedule:     getEnv("TURNSTILE_CLEANUP_SESSIONS_SCHEDULE", "0 * * * *"),
		TokensSchedule:       getEnv("TURNSTILE_CLEANUP_TOKENS_SCHEDULE", "30 * * * *"),
		SessionRetentionDays: getEnvInt("TURNSTILE_SESSION_RETENTION_DAYS", 30),
	}
}

func loadWebhookConfig() WebhookConfig {
	return WebhookConfig{
		URL:         getEnv("TURNSTILE_WEBHOOK_URL", ""),
		Secret:      getEnv("TURNSTILE_WEBHOOK_SECRET", ""),
		Format:      getEnv("TURNSTILE_WEBHOOK_FORMAT", "json"),
		Events:      getEnvList("TURNSTILE_WEBHOOK_EVENTS"),
		Timeout:     getEnvDuration("TURNSTILE_WEBHOOK_TIMEOUT", 10*time.Second),
		MaxAttempts: getEnvInt("TURNSTILE_WEBHOOK_MAX_ATTEMPTS", 5),
		QueueSize:   getEnvInt("TURNSTILE_WEBHOOK_QUEUE_SIZE", 256),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("TURNSTILE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("TURNSTILE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("TURNSTILE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("TURNSTILE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("TURNSTILE_OTEL_SERVICE_NAME", "turnstile"),
		OTelServiceVersion: getEnv("TURNSTILE_OTEL_SERVICE_VERSION", "0.1.0"),
		OTelInsecure:       getEnvBool("TURNSTILE_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("TURNSTILE_OTEL_SAMPLE_RATIO", 1.0),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if port, err := strconv.Atoi(c.Server.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid server port: %s", c.Server.Port)
	}
	if c.Postgres.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Redis.Enabled && c.Redis.URL == "" {
		return fmt.Errorf("redis URL is required when redis is enabled")
	}

	if len(c.Auth.JWTSecret) < minSecretLength {
		return fmt.Errorf("JWT secret must be at least %d bytes", minSecretLength)
	}
	if c.Auth.AccessTokenTTL <= 0 || c.Auth.RefreshTokenTTL <= 0 {
		return fmt.Errorf("token lifetimes must be positive")
	}
	if c.Auth.AccessTokenTTL >= c.Auth.RefreshTokenTTL {
		return fmt.Errorf("access token TTL (%s) must be shorter than refresh token TTL (%s)",
			c.Auth.AccessTokenTTL, c.Auth.RefreshTokenTTL)
	}
	if c.Auth.BcryptCost < bcrypt.MinCost || c.Auth.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}

	if c.Auth.LoginRateLimit < 0 {
		return fmt.Errorf("login rate limit must not be negative")
	}
	if c.Auth.LoginRateLimit > 0 && c.Auth.LoginRateWindow <= 0 {
		return fmt.Errorf("login rate window must be positive when login rate limiting is enabled")
	}

	if c.Cleanup.SessionRetentionDays < 0 {
		return fmt.Errorf("session retention days must not be negative")
	}

	if c.Webhook.Enabled() {
		switch c.Webhook.Format {
		case "json", "slack", "teams":
		default:
			return fmt.Errorf("webhook format must be json, slack or teams, got %q", c.Webhook.Format)
		}
		if c.Webhook.MaxAttempts < 1 {
			return fmt.Errorf("webhook max attempts must be at least 1")
		}
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvList returns a comma-separated environment variable as a slice,
// or nil when unset
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
