// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry export, health checks and graceful shutdown for turnstile.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("user_id", id).Warn("session cache unavailable, using database")
//
// Services accept a nil *Logger and normalise it with OrNop.
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.TokenIssued("access")
//
// All recording helpers are no-ops on a nil *Metrics.
//
// # Health Checks
//
// Postgres down is unhealthy (503). Redis down is degraded (200): the
// authorization path falls back to the database.
//
// # OpenTelemetry
//
// InitTelemetry installs OTLP/gRPC trace and metric providers; the HTTP
// router is wrapped with otelhttp in pkg/api.
package observability
