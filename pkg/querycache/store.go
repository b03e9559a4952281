package querycache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/nimburion/docops/pkg/registry"
	"github.com/nimburion/docops/pkg/store/redis"
)

// ErrCacheMiss indicates that a cache key was not found.
var ErrCacheMiss = errors.New("cache key not found")

// Store is a pluggable backend for cached query results.
type Store interface {
	Get(ctx context.Context, key registry.CacheKey) ([]byte, error)
	Set(ctx context.Context, key registry.CacheKey, value []byte, ttl time.Duration) error
	// Invalidate drops every entry whose key starts with prefix and returns
	// how many were dropped.
	Invalidate(ctx context.Context, prefix registry.CacheKey) (int, error)
	// System names the backend in spans.
	System() string
	Close() error
}

type inMemoryItem struct {
	key       registry.CacheKey
	value     []byte
	expiresAt time.Time
}

// InMemoryStore is an in-process cache backend.
type InMemoryStore struct {
	mu    sync.RWMutex
	items map[string]inMemoryItem
	now   func() time.Time
}

// NewInMemoryStore creates an in-memory cache store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		items: make(map[string]inMemoryItem),
		now:   time.Now,
	}
}

// Get loads a key from memory.
func (s *InMemoryStore) Get(_ context.Context, key registry.CacheKey) ([]byte, error) {
	id := key.String()
	s.mu.RLock()
	item, ok := s.items[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrCacheMiss
	}
	if s.now().After(item.expiresAt) {
		s.mu.Lock()
		delete(s.items, id)
		s.mu.Unlock()
		return nil, ErrCacheMiss
	}
	return append([]byte{}, item.value...), nil
}

// Set stores a key with TTL. A non-positive ttl is clamped to one second.
func (s *InMemoryStore) Set(_ context.Context, key registry.CacheKey, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Second
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key.String()] = inMemoryItem{
		key:       append(registry.CacheKey(nil), key...),
		value:     append([]byte{}, value...),
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

// Invalidate removes every key under prefix.
func (s *InMemoryStore) Invalidate(_ context.Context, prefix registry.CacheKey) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, item := range s.items {
		if item.key.HasPrefix(prefix) {
			delete(s.items, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of entries, expired ones included.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// System implements Store.
func (s *InMemoryStore) System() string { return "memory" }

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}

// RedisStore persists cache entries in Redis under "<namespace>:<key>".
type RedisStore struct {
	adapter   *redis.Adapter
	namespace string
}

// NewRedisStore wraps a connected adapter. namespace defaults to "docops-cache".
func NewRedisStore(adapter *redis.Adapter, namespace string) (*RedisStore, error) {
	if adapter == nil {
		return nil, errors.New("redis adapter is required")
	}
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		namespace = "docops-cache"
	}
	return &RedisStore{adapter: adapter, namespace: namespace}, nil
}

// Get loads an entry from Redis.
func (s *RedisStore) Get(ctx context.Context, key registry.CacheKey) ([]byte, error) {
	raw, err := s.adapter.Get(ctx, s.key(key))
	if errors.Is(err, redis.ErrKeyNotFound) {
		return nil, ErrCacheMiss
	}
	return raw, err
}

// Set stores an entry with TTL.
func (s *RedisStore) Set(ctx context.Context, key registry.CacheKey, value []byte, ttl time.Duration) error {
	return s.adapter.Put(ctx, s.key(key), value, ttl)
}

// Invalidate scans for candidate keys and deletes those whose decoded key
// starts with prefix.
func (s *RedisStore) Invalidate(ctx context.Context, prefix registry.CacheKey) (int, error) {
	candidates, err := s.adapter.Keys(ctx, s.scanPattern(prefix))
	if err != nil {
		return 0, err
	}
	var doomed []string
	for _, raw := range candidates {
		key, err := registry.ParseCacheKey(strings.TrimPrefix(raw, s.namespace+":"))
		if err != nil || !key.HasPrefix(prefix) {
			continue
		}
		doomed = append(doomed, raw)
	}
	n, err := s.adapter.Unlink(ctx, doomed...)
	return int(n), err
}

// System implements Store.
func (s *RedisStore) System() string { return "redis" }

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.adapter.Close()
}

func (s *RedisStore) key(key registry.CacheKey) string {
	return s.namespace + ":" + key.String()
}

// scanPattern narrows SCAN to keys sharing the encoded prefix. The encoded
// prefix drops its closing bracket so longer keys still match.
func (s *RedisStore) scanPattern(prefix registry.CacheKey) string {
	encoded := strings.TrimSuffix(prefix.String(), "]")
	return globEscape(s.namespace+":"+encoded) + "*"
}

func globEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
