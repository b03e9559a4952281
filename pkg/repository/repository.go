package repository

import (
	"context"

	"github.com/nimburion/docops/pkg/query"
	"github.com/nimburion/docops/pkg/repository/document"
	"github.com/nimburion/docops/pkg/schema"
)

// Repository binds the executor to one collection on one store. Variables
// passed to List and First are checked against the record's field paths.
type Repository[T any] struct {
	store  document.Store
	coll   *schema.Collection[T]
	fields []string
	opts   []Option
}

// New returns a repository for coll on store. opts apply to every read.
func New[T any](store document.Store, coll *schema.Collection[T], opts ...Option) *Repository[T] {
	return &Repository[T]{
		store:  store,
		coll:   coll,
		fields: query.Fields[T](),
		opts:   opts,
	}
}

// Collection returns the collection schema.
func (r *Repository[T]) Collection() *schema.Collection[T] {
	return r.coll
}

// Store returns the backing store.
func (r *Repository[T]) Store() document.Store {
	return r.store
}

// Query returns vars folded onto an unfiltered query of the collection.
func (r *Repository[T]) Query(vars query.Variables) (document.Query, error) {
	if err := vars.ValidateFields(r.fields); err != nil {
		return document.Query{}, err
	}
	return document.Collection(r.coll.Name()).Query().Apply(vars)
}

// Get fetches document id, or nil.
func (r *Repository[T]) Get(ctx context.Context, id string) *schema.Record[T] {
	return FetchOne(ctx, r.store, r.ref(id), r.coll, r.opts...)
}

// GetStrict fetches document id and returns the failure.
func (r *Repository[T]) GetStrict(ctx context.Context, id string) (*schema.Record[T], error) {
	return FetchOneStrict(ctx, r.store, r.ref(id), r.coll, r.opts...)
}

// List runs vars against the collection; failures yield an empty slice.
func (r *Repository[T]) List(ctx context.Context, vars query.Variables) []schema.Record[T] {
	q, err := r.Query(vars)
	if err != nil {
		newOptions(r.opts).log.WithContext(ctx).Error("document read failed", "op", OpFetchMany, "collection", r.coll.Name(), "error", err)
		return []schema.Record[T]{}
	}
	return FetchMany(ctx, r.store, q, r.coll, r.opts...)
}

// ListStrict is List returning the failure.
func (r *Repository[T]) ListStrict(ctx context.Context, vars query.Variables) ([]schema.Record[T], error) {
	q, err := r.Query(vars)
	if err != nil {
		return nil, err
	}
	return FetchManyStrict(ctx, r.store, q, r.coll, r.opts...)
}

// First returns the first record matching vars under order, or nil.
func (r *Repository[T]) First(ctx context.Context, vars query.Variables, order query.Sort) *schema.Record[T] {
	q, err := r.Query(vars.OrderBy(order.Field, order.Direction))
	if err != nil {
		newOptions(r.opts).log.WithContext(ctx).Error("document read failed", "op", OpFetchOne, "collection", r.coll.Name(), "error", err)
		return nil
	}
	return FetchOne(ctx, r.store, q, r.coll, r.opts...)
}

// Create adds data and returns the generated identifier.
func (r *Repository[T]) Create(ctx context.Context, data T) (string, error) {
	ref, err := Create(ctx, r.store, r.coll, data)
	if err != nil {
		return "", err
	}
	return ref.ID, nil
}

// Set creates or replaces document id.
func (r *Repository[T]) Set(ctx context.Context, id string, data T) error {
	return Set(ctx, r.store, r.coll, id, data)
}

// Update merges patch into document id.
func (r *Repository[T]) Update(ctx context.Context, id string, patch map[string]any) error {
	return Update(ctx, r.store, r.coll, id, patch)
}

// Delete removes document id.
func (r *Repository[T]) Delete(ctx context.Context, id string) error {
	return Delete(ctx, r.store, r.coll, id)
}

func (r *Repository[T]) ref(id string) document.DocumentRef {
	return document.Collection(r.coll.Name()).Doc(id)
}
