package repository

import (
	"context"

	"github.com/nimburion/docops/pkg/observability/metrics"
	"github.com/nimburion/docops/pkg/observability/tracing"
	"github.com/nimburion/docops/pkg/repository/document"
	"github.com/nimburion/docops/pkg/schema"
)

// Create encodes data through the collection's write shape and adds it under
// a store-generated identifier.
func Create[T any](ctx context.Context, store document.Store, coll *schema.Collection[T], data T) (document.DocumentRef, error) {
	encoded, err := coll.Encode(data)
	if err != nil {
		return document.DocumentRef{}, err
	}
	var ref document.DocumentRef
	err = observeWrite(ctx, tracing.DocumentCreate, "create", coll.Name(), func(ctx context.Context) error {
		var err error
		ref, err = store.Add(ctx, document.Collection(coll.Name()), encoded)
		return err
	})
	return ref, err
}

// Set encodes data and creates or replaces document id.
func Set[T any](ctx context.Context, store document.Store, coll *schema.Collection[T], id string, data T) error {
	encoded, err := coll.Encode(data)
	if err != nil {
		return err
	}
	return observeWrite(ctx, tracing.DocumentSet, "set", coll.Name(), func(ctx context.Context) error {
		return store.Set(ctx, document.Collection(coll.Name()).Doc(id), encoded)
	})
}

// Update merges patch into an existing document. SetOnWrite fields are stamped.
func Update[T any](ctx context.Context, store document.Store, coll *schema.Collection[T], id string, patch map[string]any) error {
	encoded, err := coll.EncodePatch(patch)
	if err != nil {
		return err
	}
	return observeWrite(ctx, tracing.DocumentUpdate, "update", coll.Name(), func(ctx context.Context) error {
		return store.Update(ctx, document.Collection(coll.Name()).Doc(id), encoded)
	})
}

// Delete removes document id.
func Delete[T any](ctx context.Context, store document.Store, coll *schema.Collection[T], id string) error {
	return observeWrite(ctx, tracing.DocumentDelete, "delete", coll.Name(), func(ctx context.Context) error {
		return store.Delete(ctx, document.Collection(coll.Name()).Doc(id))
	})
}

func observeWrite(ctx context.Context, kind tracing.Kind, op, collection string, fn func(ctx context.Context) error) error {
	ctx, span := tracing.StartDocumentSpan(ctx, kind, collection)
	err := fn(ctx)
	tracing.Finish(span, err)
	metrics.RecordDocumentWrite(op, collection, err)
	return err
}
