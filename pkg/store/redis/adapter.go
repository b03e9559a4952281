// Package redis is the Redis connection behind the query cache.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nimburion/docops/pkg/observability/logger"
)

// ErrKeyNotFound is returned by Get for a missing or expired key.
var ErrKeyNotFound = errors.New("redis: key not found")

const (
	defaultDialTimeout = 5 * time.Second
	healthCheckTimeout = 2 * time.Second
	scanCount          = 256
	unlinkBatch        = 500
)

// Config configures NewAdapter. URL uses the redis:// or rediss:// scheme.
type Config struct {
	URL              string
	MaxConns         int
	DialTimeout      time.Duration
	OperationTimeout time.Duration
}

// Adapter is a pooled Redis client.
type Adapter struct {
	client *redis.Client
	log    logger.Logger
}

// NewAdapter parses cfg.URL, opens the pool and pings the server.
func NewAdapter(cfg Config, log logger.Logger) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis: URL is required")
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis: parse URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		opts.PoolSize = cfg.MaxConns
	}
	opts.DialTimeout = defaultDialTimeout
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.OperationTimeout > 0 {
		opts.ReadTimeout = cfg.OperationTimeout
		opts.WriteTimeout = cfg.OperationTimeout
	}
	if log == nil {
		log = logger.Nop()
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), opts.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", opts.Addr, err)
	}

	log.Info("redis connected", "addr", opts.Addr, "db", opts.DB, "pool_size", opts.PoolSize)
	return &Adapter{client: client, log: log}, nil
}

// Get returns the value of key, or ErrKeyNotFound.
func (a *Adapter) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := a.client.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, fmt.Errorf("%s: %w", key, ErrKeyNotFound)
	case err != nil:
		return nil, fmt.Errorf("redis: get %s: %w", key, err)
	}
	return val, nil
}

// Put stores value under key. A zero ttl never expires.
func (a *Adapter) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := a.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", key, err)
	}
	return nil
}

// Keys walks the keyspace with SCAN and returns the keys matching the glob
// pattern. SCAN may return a key twice; duplicates are dropped.
func (a *Adapter) Keys(ctx context.Context, pattern string) ([]string, error) {
	seen := map[string]struct{}{}
	var keys []string
	it := a.client.Scan(ctx, 0, pattern, scanCount).Iterator()
	for it.Next(ctx) {
		k := it.Val()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("redis: scan %q: %w", pattern, err)
	}
	return keys, nil
}

// Unlink removes keys without blocking the server on large values and
// returns how many existed. Keys are sent in pipelined batches.
func (a *Adapter) Unlink(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	var cmds []*redis.IntCmd
	_, err := a.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for start := 0; start < len(keys); start += unlinkBatch {
			end := min(start+unlinkBatch, len(keys))
			cmds = append(cmds, p.Unlink(ctx, keys[start:end]...))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis: unlink: %w", err)
	}
	var n int64
	for _, c := range cmds {
		n += c.Val()
	}
	return n, nil
}

// HealthCheck pings the server.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	if err := a.client.Ping(ctx).Err(); err != nil {
		a.log.WithContext(ctx).Warn("redis health check failed", "error", err)
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close releases the pool. Calls after Close fail with redis.ErrClosed.
func (a *Adapter) Close() error {
	if err := a.client.Close(); err != nil {
		return fmt.Errorf("redis: close: %w", err)
	}
	a.log.Debug("redis connection closed")
	return nil
}
