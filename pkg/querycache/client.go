// Package querycache is a read-through cache for operation results keyed by
// registry cache keys. Concurrent misses on one key share a single load, and
// mutations drop whole key prefixes.
package querycache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/nimburion/docops/pkg/observability/logger"
	"github.com/nimburion/docops/pkg/observability/metrics"
	"github.com/nimburion/docops/pkg/observability/tracing"
	"github.com/nimburion/docops/pkg/registry"
	"github.com/nimburion/docops/pkg/resilience"
)

// DefaultTTL applies when Fetch is called with a non-positive ttl.
const DefaultTTL = 30 * time.Second

// Client is the cache context shared by every consumer of a process.
type Client struct {
	store      Store
	log        logger.Logger
	defaultTTL time.Duration
	group      singleflight.Group
	breaker    *resilience.CircuitBreaker
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger for cache backend failures.
func WithLogger(log logger.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithDefaultTTL overrides DefaultTTL.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *Client) {
		if ttl > 0 {
			c.defaultTTL = ttl
		}
	}
}

// WithCircuitBreaker skips backend reads and writes while cb is open, so a
// down cache costs one failed call per cooldown instead of one per lookup.
// Invalidations always reach the backend.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *Client) {
		c.breaker = cb
	}
}

// New returns a client over store.
func New(store Store, opts ...Option) *Client {
	c := &Client{store: store, log: logger.Nop(), defaultTTL: DefaultTTL}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Store returns the backend.
func (c *Client) Store() Store {
	return c.store
}

// Fetch returns the cached value for key, or runs load, caches its result
// and returns it. Load errors are returned and never cached. A failing
// backend degrades to calling load directly.
//
// A load shared by concurrent callers runs detached from their cancellation:
// a caller whose ctx ends returns ctx.Err() while the others keep waiting.
func Fetch[T any](ctx context.Context, c *Client, key registry.CacheKey, ttl time.Duration, load func(ctx context.Context) (T, error)) (out T, err error) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	id := key.String()
	head := key.Head()

	ctx, span := tracing.StartCacheSpan(ctx, tracing.CacheGet, c.store.System(), id)
	defer func() { tracing.Finish(span, err) }()

	raw, err := c.get(ctx, key)
	switch {
	case err == nil:
		var cached T
		if err := json.Unmarshal(raw, &cached); err == nil {
			metrics.RecordCacheResult(head, metrics.CacheHit)
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return cached, nil
		}
		c.log.WithContext(ctx).Warn("cached entry is unreadable, reloading", "key", id, "error", err)
	case errors.Is(err, ErrCacheMiss):
	case errors.Is(err, resilience.ErrCircuitBreakerOpen):
		metrics.RecordCacheResult(head, metrics.CacheBypass)
	default:
		metrics.RecordCacheResult(head, metrics.CacheError)
		c.log.WithContext(ctx).Warn("query cache read failed", "key", id, "error", err)
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))

	loadCtx := context.WithoutCancel(ctx)
	results := c.group.DoChan(id, func() (any, error) {
		start := time.Now()
		value, err := load(loadCtx)
		metrics.RecordCacheLoad(head, time.Since(start))
		if err != nil {
			return nil, err
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		if err := c.set(loadCtx, key, encoded, ttl); err != nil && !errors.Is(err, resilience.ErrCircuitBreakerOpen) {
			c.log.WithContext(loadCtx).Warn("query cache write failed", "key", id, "error", err)
		}
		return encoded, nil
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return out, ctx.Err()
	case res = <-results:
	}
	if res.Err != nil {
		return out, res.Err
	}
	body := res.Val
	if res.Shared {
		metrics.RecordCacheResult(head, metrics.CacheShared)
	} else {
		metrics.RecordCacheResult(head, metrics.CacheMiss)
	}
	// every caller decodes its own copy
	var fresh T
	if err := json.Unmarshal(body.([]byte), &fresh); err != nil {
		return out, err
	}
	return fresh, nil
}

func (c *Client) get(ctx context.Context, key registry.CacheKey) ([]byte, error) {
	if c.breaker == nil {
		return c.store.Get(ctx, key)
	}
	if !c.breaker.Allow() {
		return nil, resilience.ErrCircuitBreakerOpen
	}
	raw, err := c.store.Get(ctx, key)
	if errors.Is(err, ErrCacheMiss) {
		c.breaker.Record(nil)
	} else {
		c.breaker.Record(err)
	}
	return raw, err
}

func (c *Client) set(ctx context.Context, key registry.CacheKey, value []byte, ttl time.Duration) error {
	if c.breaker == nil {
		return c.store.Set(ctx, key, value, ttl)
	}
	return c.breaker.Execute(func() error {
		return c.store.Set(ctx, key, value, ttl)
	})
}

// Invalidate drops every entry under each prefix, typically the Base key of
// the list and get leaves a mutation affects.
func (c *Client) Invalidate(ctx context.Context, prefixes ...registry.CacheKey) error {
	var errs []error
	for _, prefix := range prefixes {
		spanCtx, span := tracing.StartCacheSpan(ctx, tracing.CacheInvalidate, c.store.System(), prefix.String())
		n, err := c.store.Invalidate(spanCtx, prefix)
		tracing.Finish(span, err)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		metrics.RecordCacheInvalidation(prefix.Head(), n)
	}
	return errors.Join(errs...)
}

// Close closes the backend.
func (c *Client) Close() error {
	return c.store.Close()
}
