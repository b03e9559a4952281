package querycache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nimburion/docops/pkg/query"
	"github.com/nimburion/docops/pkg/registry"
	"github.com/nimburion/docops/pkg/resilience"
)

type item struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func TestFetch_ReadThrough(t *testing.T) {
	client := New(NewInMemoryStore())
	ctx := context.Background()
	key := registry.CacheKey{"members", "get", `"a"`}
	var loads int32

	load := func(context.Context) (item, error) {
		atomic.AddInt32(&loads, 1)
		return item{ID: "a", Name: "Ada"}, nil
	}
	for i := 0; i < 3; i++ {
		got, err := Fetch(ctx, client, key, time.Minute, load)
		if err != nil || got.Name != "Ada" {
			t.Fatalf("Fetch() = %+v, %v", got, err)
		}
	}
	if loads != 1 {
		t.Fatalf("loader ran %d times, want 1", loads)
	}
}

func TestFetch_ErrorsAreNotCached(t *testing.T) {
	client := New(NewInMemoryStore())
	ctx := context.Background()
	key := registry.CacheKey{"members", "list"}
	boom := errors.New("boom")

	if _, err := Fetch(ctx, client, key, 0, func(context.Context) ([]item, error) { return nil, boom }); !errors.Is(err, boom) {
		t.Fatalf("Fetch() error = %v, want boom", err)
	}
	got, err := Fetch(ctx, client, key, 0, func(context.Context) ([]item, error) { return []item{{ID: "b"}}, nil })
	if err != nil || len(got) != 1 {
		t.Fatalf("Fetch() after error = %v, %v", got, err)
	}
}

func TestFetch_ExpiredEntryReloads(t *testing.T) {
	store := NewInMemoryStore()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	client := New(store)
	ctx := context.Background()
	key := registry.CacheKey{"members", "get", `"a"`}
	var loads int

	load := func(context.Context) (int, error) {
		loads++
		return loads, nil
	}
	if v, _ := Fetch(ctx, client, key, time.Second, load); v != 1 {
		t.Fatalf("first Fetch() = %d", v)
	}
	now = now.Add(2 * time.Second)
	if v, _ := Fetch(ctx, client, key, time.Second, load); v != 2 {
		t.Fatalf("Fetch() after expiry = %d, want reload", v)
	}
}

func TestFetch_ConcurrentMissesShareOneLoad(t *testing.T) {
	client := New(NewInMemoryStore())
	ctx := context.Background()
	key := registry.CacheKey{"members", "list"}
	release := make(chan struct{})
	var loads int32

	load := func(context.Context) ([]item, error) {
		atomic.AddInt32(&loads, 1)
		<-release
		return []item{{ID: "a"}}, nil
	}

	const callers = 8
	var wg sync.WaitGroup
	results := make(chan []item, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := Fetch(ctx, client, key, time.Minute, load)
			if err != nil {
				t.Errorf("Fetch() error = %v", err)
			}
			results <- out
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	if n := atomic.LoadInt32(&loads); n < 1 || n > callers {
		t.Fatalf("loads = %d", n)
	}
	var first []item
	for out := range results {
		if len(out) != 1 {
			t.Fatalf("caller got %v", out)
		}
		if first == nil {
			first = out
			continue
		}
		// callers must not share backing arrays
		if &first[0] == &out[0] {
			t.Fatal("callers received the same slice")
		}
	}
}

func TestFetch_SharedLoadSurvivesCallerCancel(t *testing.T) {
	client := New(NewInMemoryStore())
	key := registry.CacheKey{"members", "list"}
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	load := func(ctx context.Context) ([]item, error) {
		once.Do(func() { close(started) })
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return []item{{ID: "a"}}, nil
	}

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := Fetch(firstCtx, client, key, time.Minute, load)
		firstErr <- err
	}()
	<-started

	second := make(chan []item, 1)
	go func() {
		out, err := Fetch(context.Background(), client, key, time.Minute, load)
		if err != nil {
			t.Errorf("second Fetch() error = %v", err)
		}
		second <- out
	}()

	cancel()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("canceled Fetch() error = %v, want context.Canceled", err)
	}
	close(release)
	if out := <-second; len(out) != 1 {
		t.Fatalf("second Fetch() = %v, want the shared load result", out)
	}
}

type brokenStore struct {
	*InMemoryStore
}

func (brokenStore) Get(context.Context, registry.CacheKey) ([]byte, error) {
	return nil, errors.New("connection refused")
}

func TestFetch_BackendFailureFallsBackToLoad(t *testing.T) {
	client := New(brokenStore{NewInMemoryStore()})
	got, err := Fetch(context.Background(), client, registry.CacheKey{"k"}, 0, func(context.Context) (string, error) {
		return "fresh", nil
	})
	if err != nil || got != "fresh" {
		t.Fatalf("Fetch() = %q, %v", got, err)
	}
}

type downStore struct {
	*InMemoryStore
	calls atomic.Int32
}

func (s *downStore) Get(context.Context, registry.CacheKey) ([]byte, error) {
	s.calls.Add(1)
	return nil, errors.New("connection refused")
}

func (s *downStore) Set(context.Context, registry.CacheKey, []byte, time.Duration) error {
	s.calls.Add(1)
	return errors.New("connection refused")
}

func TestFetch_CircuitBreakerSkipsDownBackend(t *testing.T) {
	store := &downStore{InMemoryStore: NewInMemoryStore()}
	client := New(store, WithCircuitBreaker(resilience.NewCircuitBreaker(2, time.Hour)))

	for i := 0; i < 5; i++ {
		got, err := Fetch(context.Background(), client, registry.CacheKey{"k"}, 0, func(context.Context) (string, error) {
			return "fresh", nil
		})
		if err != nil || got != "fresh" {
			t.Fatalf("Fetch() = %q, %v", got, err)
		}
	}
	// first fetch: failed get and set open the breaker; the rest bypass it
	if n := store.calls.Load(); n != 2 {
		t.Fatalf("backend calls = %d, want 2", n)
	}
}

func TestInvalidate(t *testing.T) {
	store := NewInMemoryStore()
	client := New(store)
	ctx := context.Background()
	keys := []registry.CacheKey{
		{"members", "list", `{}`},
		{"members", "list", `{"sortBy":[{"field":"name","direction":"asc"}]}`},
		{"members", "listing"},
		{"members", "get", `"a"`},
		{"donations", "list"},
	}
	for _, k := range keys {
		if err := store.Set(ctx, k, []byte(`1`), time.Minute); err != nil {
			t.Fatal(err)
		}
	}

	if err := client.Invalidate(ctx, registry.CacheKey{"members", "list"}); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	if store.Len() != 3 {
		t.Fatalf("entries left = %d, want 3", store.Len())
	}
	if _, err := store.Get(ctx, registry.CacheKey{"members", "listing"}); err != nil {
		t.Fatal("a sibling sharing a string prefix must survive")
	}

	if err := client.Invalidate(ctx, registry.CacheKey{"members"}); err != nil {
		t.Fatal(err)
	}
	if store.Len() != 1 {
		t.Fatalf("entries left = %d, want 1", store.Len())
	}
}

func TestCached(t *testing.T) {
	var calls int32
	list := func(_ context.Context, vars query.Variables) ([]item, error) {
		atomic.AddInt32(&calls, 1)
		return []item{{ID: "a"}}, nil
	}
	mirror := registry.MustBuild(registry.Tree{registry.Op("list", list)}, registry.WithPrefix("members"))
	bound := registry.MustBind[query.Variables, []item](mirror, "list")
	client := New(NewInMemoryStore())
	cachedList := Cached(client, bound, time.Minute)
	ctx := context.Background()

	vars := query.Variables{}.Where("status", query.Equal, "active")
	for i := 0; i < 2; i++ {
		if out, err := cachedList(ctx, vars); err != nil || len(out) != 1 {
			t.Fatalf("cached call = %v, %v", out, err)
		}
	}
	if calls != 1 {
		t.Fatalf("operation ran %d times, want 1", calls)
	}
	if _, err := cachedList(ctx, vars.OrderBy("name", query.Asc)); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Fatalf("different input must miss, calls = %d", calls)
	}

	if err := client.Invalidate(ctx, bound.Base()); err != nil {
		t.Fatal(err)
	}
	if _, err := cachedList(ctx, vars); err != nil {
		t.Fatal(err)
	}
	if calls != 3 {
		t.Fatalf("invalidated entry must reload, calls = %d", calls)
	}
}
