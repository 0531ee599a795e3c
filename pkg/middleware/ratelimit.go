package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/platinummonkey/turnstile/pkg/cache"
	"github.com/platinummonkey/turnstile/pkg/httputil"
	"github.com/platinummonkey/turnstile/pkg/observability"
)

// RateLimitConfig defines a fixed-window limit
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
}

// LoginRateLimitConfig returns the default login throttle: 10 attempts per
// minute per client IP.
func LoginRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{RequestsPerWindow: 10, WindowDuration: time.Minute}
}

// Limiter counts requests per key.
type Limiter interface {
	// Allow records one request for key and reports whether it is within
	// the limit.
	Allow(ctx context.Context, key string) (bool, error)
}

// RedisLimiter shares counters across instances through the cache.
type RedisLimiter struct {
	cache  *cache.Client
	config RateLimitConfig
	scope  string
}

// NewRedisLimiter creates a cache-backed limiter. scope separates the
// counters of different limiters.
func NewRedisLimiter(client *cache.Client, config RateLimitConfig, scope string) *RedisLimiter {
	return &RedisLimiter{cache: client, config: config, scope: scope}
}

func (rl *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	n, err := rl.cache.IncrWindow(ctx, cache.RateLimitKey(rl.scope, key), rl.config.WindowDuration)
	if err != nil {
		return true, err
	}
	return n <= int64(rl.config.RequestsPerWindow), nil
}

// MemoryLimiter keeps counters in process. It is the fallback when the
// cache is unavailable.
type MemoryLimiter struct {
	config RateLimitConfig
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	count int
	reset time.Time
}

// NewMemoryLimiter creates an in-process limiter.
func NewMemoryLimiter(config RateLimitConfig) *MemoryLimiter {
	return &MemoryLimiter{config: config, now: time.Now, windows: make(map[string]*window)}
}

func (rl *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.windows[key]
	if !ok || !now.Before(w.reset) {
		w = &window{reset: now.Add(rl.config.WindowDuration)}
		rl.windows[key] = w
	}
	w.count++
	return w.count <= rl.config.RequestsPerWindow, nil
}

// Cleanup removes lapsed windows
func (rl *MemoryLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, w := range rl.windows {
		if !now.Before(w.reset) {
			delete(rl.windows, key)
		}
	}
}

// StartCleanup starts a background goroutine to cleanup lapsed windows
func (rl *MemoryLimiter) StartCleanup(ctx context.Context) {
	ticker := time.NewTicker(rl.config.WindowDuration)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// FallbackLimiter uses primary and switches to fallback for any request
// where primary fails.
type FallbackLimiter struct {
	primary  Limiter
	fallback Limiter
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewFallbackLimiter combines a shared limiter with a local one.
func NewFallbackLimiter(primary, fallback Limiter, logger *observability.Logger, metrics *observability.Metrics) *FallbackLimiter {
	return &FallbackLimiter{primary: primary, fallback: fallback, logger: observability.OrNop(logger), metrics: metrics}
}

func (f *FallbackLimiter) Allow(ctx context.Context, key string) (bool, error) {
	allowed, err := f.primary.Allow(ctx, key)
	if err == nil {
		return allowed, nil
	}
	if !errors.Is(err, cache.ErrDisabled) {
		f.logger.WithError(err).Warn("Rate limiter cache unavailable, using local counters")
		f.metrics.CacheFallback("ratelimit")
	}
	return f.fallback.Allow(ctx, key)
}

// RateLimit throttles requests per client IP. Limiter errors fail open.
func RateLimit(limiter Limiter, config RateLimitConfig, logger *observability.Logger) func(http.Handler) http.Handler {
	logger = observability.OrNop(logger)
	return func(next http.Handler) http.Handler {
		if config.RequestsPerWindow <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := httputil.ClientIP(r)
			allowed, err := limiter.Allow(r.Context(), ip)
			if err != nil {
				logger.WithError(err).Warn("Rate limiter failed, allowing request")
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				retryAfter := int(config.WindowDuration.Seconds())
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(config.RequestsPerWindow))
				w.Header().Set("X-RateLimit-Remaining", "0")
				httputil.WriteErrorMessage(w, http.StatusTooManyRequests, "rate_limited",
					fmt.Sprintf("too many attempts, retry in %d seconds", retryAfter))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
