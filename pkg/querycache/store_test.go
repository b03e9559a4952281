package querycache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nimburion/docops/pkg/observability/logger"
	"github.com/nimburion/docops/pkg/registry"
	"github.com/nimburion/docops/pkg/store/redis"
	"github.com/nimburion/docops/pkg/testutil"
)

func TestScanPattern_EscapesGlob(t *testing.T) {
	s := &RedisStore{namespace: "docops-cache"}
	tests := []struct {
		prefix registry.CacheKey
		want   string
	}{
		{prefix: registry.CacheKey{"members", "list"}, want: `docops-cache:\["members","list"*`},
		{prefix: registry.CacheKey{}, want: `docops-cache:\[*`},
		{prefix: registry.CacheKey{"a*b"}, want: `docops-cache:\["a\*b"*`},
	}
	for _, tt := range tests {
		if got := s.scanPattern(tt.prefix); got != tt.want {
			t.Errorf("scanPattern(%v) = %s, want %s", tt.prefix, got, tt.want)
		}
	}
}

func TestNewRedisStore_RequiresAdapter(t *testing.T) {
	if _, err := NewRedisStore(nil, ""); err == nil {
		t.Fatal("expected error for nil adapter")
	}
}

func TestRedisStore_Integration(t *testing.T) {
	url := testutil.StartRedis(t)
	adapter, err := redis.NewAdapter(redis.Config{URL: url, OperationTimeout: 5 * time.Second}, logger.Nop())
	if err != nil {
		t.Fatalf("NewAdapter() error = %v", err)
	}
	store, err := NewRedisStore(adapter, "")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	if _, err := store.Get(ctx, registry.CacheKey{"members", "get", `"a"`}); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("Get() of missing key error = %v, want ErrCacheMiss", err)
	}
	for _, k := range []registry.CacheKey{
		{"members", "list", `{}`},
		{"members", "listing"},
		{"members", "get", `"a"`},
	} {
		if err := store.Set(ctx, k, []byte(`{"ok":true}`), time.Minute); err != nil {
			t.Fatalf("Set(%v) error = %v", k, err)
		}
	}
	got, err := store.Get(ctx, registry.CacheKey{"members", "get", `"a"`})
	if err != nil || string(got) != `{"ok":true}` {
		t.Fatalf("Get() = %s, %v", got, err)
	}

	n, err := store.Invalidate(ctx, registry.CacheKey{"members", "list"})
	if err != nil || n != 1 {
		t.Fatalf("Invalidate() = %d, %v, want 1", n, err)
	}
	if _, err := store.Get(ctx, registry.CacheKey{"members", "listing"}); err != nil {
		t.Fatalf("sibling entry was dropped: %v", err)
	}

	client := New(store)
	v, err := Fetch(ctx, client, registry.CacheKey{"donations", "list"}, time.Minute, func(context.Context) ([]int, error) {
		return []int{1, 2}, nil
	})
	if err != nil || len(v) != 2 {
		t.Fatalf("Fetch() = %v, %v", v, err)
	}
}
