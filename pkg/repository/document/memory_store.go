package document

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nimburion/docops/pkg/codec"
)

// MemoryStore is an in-process Store. Write sentinels resolve to the store
// clock and instants are kept as codec.Timestamp, as a remote store would return them.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]map[string]any
	now         func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: map[string]map[string]map[string]any{},
		now:         time.Now,
	}
}

// WithClock replaces the clock used to resolve write sentinels.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

// Run implements Store.
func (s *MemoryStore) Run(ctx context.Context, q Query) ([]Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, storeError("run", q.collection, err)
	}
	s.mu.RLock()
	docs := s.collections[q.collection]
	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	// identifier order stands in for a store's natural order
	sort.Strings(ids)
	snaps := make([]Snapshot, 0, len(ids))
	for _, id := range ids {
		snaps = append(snaps, Snapshot{
			Ref:    DocumentRef{Collection: q.collection, ID: id},
			Fields: copyMap(docs[id]),
		})
	}
	s.mu.RUnlock()
	return Apply(snaps, q), nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, ref DocumentRef) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, storeError("get", ref.Collection, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.collections[ref.Collection][ref.ID]
	if !ok {
		return Snapshot{}, storeError("get", ref.Collection, fmt.Errorf("%s: %w", ref, ErrNotFound))
	}
	return Snapshot{Ref: ref, Fields: copyMap(data)}, nil
}

// Set implements Store.
func (s *MemoryStore) Set(ctx context.Context, ref DocumentRef, data map[string]any) error {
	if err := ctx.Err(); err != nil {
		return storeError("set", ref.Collection, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collection(ref.Collection)[ref.ID] = s.resolve(data)
	return nil
}

// Update implements Store.
func (s *MemoryStore) Update(ctx context.Context, ref DocumentRef, data map[string]any) error {
	if err := ctx.Err(); err != nil {
		return storeError("update", ref.Collection, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.collections[ref.Collection][ref.ID]
	if !ok {
		return storeError("update", ref.Collection, fmt.Errorf("%s: %w", ref, ErrNotFound))
	}
	merged := copyMap(current)
	for k, v := range s.resolve(data) {
		merged[k] = v
	}
	s.collections[ref.Collection][ref.ID] = merged
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, ref DocumentRef) error {
	if err := ctx.Err(); err != nil {
		return storeError("delete", ref.Collection, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections[ref.Collection], ref.ID)
	return nil
}

// Add implements Store.
func (s *MemoryStore) Add(ctx context.Context, collection CollectionRef, data map[string]any) (DocumentRef, error) {
	ref := collection.Doc(uuid.NewString())
	if err := s.Set(ctx, ref, data); err != nil {
		return DocumentRef{}, err
	}
	return ref, nil
}

func (s *MemoryStore) collection(name string) map[string]map[string]any {
	c, ok := s.collections[name]
	if !ok {
		c = map[string]map[string]any{}
		s.collections[name] = c
	}
	return c
}

// resolve copies data, stamping sentinels and storing instants as wire timestamps.
func (s *MemoryStore) resolve(data map[string]any) map[string]any {
	now := codec.TimestampOf(s.now().UTC())
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = resolveValue(v, now)
	}
	return out
}

func resolveValue(v any, now codec.Timestamp) any {
	if codec.IsSentinel(v) {
		return now
	}
	switch t := v.(type) {
	case time.Time:
		return codec.TimestampOf(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = resolveValue(inner, now)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = resolveValue(inner, now)
		}
		return out
	}
	return v
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = copyValue(inner)
		}
		return out
	}
	return v
}
