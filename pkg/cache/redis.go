package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrDisabled is returned by every method of a nil *Client.
var ErrDisabled = errors.New("cache disabled")

// Config holds Redis connection settings
type Config struct {
	Enabled    bool
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
	KeyPrefix  string

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns settings for a local Redis.
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		URL:          "redis://localhost:6379/0",
		DB:           -1,
		MaxRetries:   2,
		PoolSize:     20,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	}
}

// Client wraps a go-redis client with JSON helpers and namespaced keys.
type Client struct {
	client *redis.Client
	prefix string
}

// New connects to Redis and pings it.
func New(ctx context.Context, cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB >= 0 {
		opts.DB = cfg.DB
	}
	if cfg.MaxRetries > 0 {
		opts.MaxRetries = cfg.MaxRetries
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	// Short timeouts: a slow cache must not hold up authentication, the
	// database fallback is always available.
	opts.DialTimeout = orDefault(cfg.DialTimeout, 2*time.Second)
	opts.ReadTimeout = orDefault(cfg.ReadTimeout, 500*time.Millisecond)
	opts.WriteTimeout = orDefault(cfg.WriteTimeout, 500*time.Millisecond)
	opts.PoolTimeout = opts.ReadTimeout + time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{client: client, prefix: cfg.KeyPrefix}, nil
}

// NewFromClient wraps an existing go-redis client.
func NewFromClient(client *redis.Client, keyPrefix string) *Client {
	return &Client{client: client, prefix: keyPrefix}
}

func (c *Client) key(k string) string {
	return c.prefix + k
}

// GetJSON loads key into dest. It reports false on a cache miss.
func (c *Client) GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	if c == nil {
		return false, ErrDisabled
	}
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err == redis.Nil {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("redis get failed: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		// corrupt entry: drop it and report a miss
		c.client.Del(ctx, c.key(key))
		return false, nil
	}
	return true, nil
}

// SetJSON stores v under key for ttl.
func (c *Client) SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	if c == nil {
		return ErrDisabled
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	if err := c.client.Set(ctx, c.key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// SetFlag stores a marker value under key for ttl.
func (c *Client) SetFlag(ctx context.Context, key string, ttl time.Duration) error {
	if c == nil {
		return ErrDisabled
	}
	if err := c.client.Set(ctx, c.key(key), "1", ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Exists reports whether key is present.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	if c == nil {
		return false, ErrDisabled
	}
	n, err := c.client.Exists(ctx, c.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists failed: %w", err)
	}
	return n > 0, nil
}

// Delete removes keys. Missing keys are not an error.
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	if c == nil {
		return ErrDisabled
	}
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = c.key(k)
	}
	if err := c.client.Del(ctx, prefixed...).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// InvalidatePatterns deletes every key matching the glob patterns and
// returns how many were removed.
func (c *Client) InvalidatePatterns(ctx context.Context, patterns ...string) (int, error) {
	if c == nil {
		return 0, ErrDisabled
	}
	removed := 0
	for _, pattern := range patterns {
		iter := c.client.Scan(ctx, 0, c.key(pattern), 100).Iterator()
		for iter.Next(ctx) {
			if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
				return removed, fmt.Errorf("failed to delete key %s: %w", iter.Val(), err)
			}
			removed++
		}
		if err := iter.Err(); err != nil {
			return removed, fmt.Errorf("failed to scan keys: %w", err)
		}
	}
	return removed, nil
}

// IncrWindow increments the counter at key and returns the new count. The
// first increment starts a window of length window; the counter resets when
// it lapses. A counter left without an expiry is given one on the next call.
func (c *Client) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	if c == nil {
		return 0, ErrDisabled
	}
	k := c.key(key)
	var (
		incr *redis.IntCmd
		ttl  *redis.DurationCmd
	)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		ttl = pipe.TTL(ctx, k)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis incr failed: %w", err)
	}
	n := incr.Val()
	if ttl.Val() < 0 {
		if err := c.client.Expire(ctx, k, window).Err(); err != nil {
			return n, fmt.Errorf("redis expire failed: %w", err)
		}
	}
	return n, nil
}

// TTL returns the remaining lifetime of key.
func (c *Client) TTL(ctx context.Context, key string) (time.Duration, error) {
	if c == nil {
		return 0, ErrDisabled
	}
	return c.client.TTL(ctx, c.key(key)).Result()
}

// Ping checks the connection.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil {
		return ErrDisabled
	}
	return c.client.Ping(ctx).Err()
}

// Redis exposes the underlying client, e.g. for health checks.
func (c *Client) Redis() *redis.Client {
	if c == nil {
		return nil
	}
	return c.client
}

// Close closes the connection pool.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}

func orDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}
