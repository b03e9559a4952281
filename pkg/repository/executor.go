package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nimburion/docops/pkg/observability/logger"
	"github.com/nimburion/docops/pkg/observability/metrics"
	"github.com/nimburion/docops/pkg/observability/tracing"
	"github.com/nimburion/docops/pkg/query"
	"github.com/nimburion/docops/pkg/repository/document"
	"github.com/nimburion/docops/pkg/schema"

	"go.opentelemetry.io/otel/attribute"
)

// Operation tags used in logs and metrics.
const (
	OpFetchOne  = "fetchOne"
	OpFetchMany = "fetchMany"
)

// Option configures a read.
type Option func(*options)

type options struct {
	log     logger.Logger
	partial bool
}

// WithLogger sets the logger failures are reported to. The default discards.
func WithLogger(log logger.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithPartialResults makes FetchMany return the documents that validate and
// log the rest, instead of failing the whole read.
func WithPartialResults() Option {
	return func(o *options) {
		o.partial = true
	}
}

func newOptions(opts []Option) *options {
	o := &options{log: logger.Nop()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// FetchOne resolves src to a single validated record. src is either a
// document.DocumentRef (direct fetch) or a document.Query (first result).
// A missing document and every failure yield nil; failures are logged.
func FetchOne[T any](ctx context.Context, store document.Store, src document.Source, coll *schema.Collection[T], opts ...Option) *schema.Record[T] {
	o := newOptions(opts)
	rec, err := fetchOne(ctx, store, src, coll, o)
	if err != nil {
		if !errors.Is(err, document.ErrNotFound) {
			o.log.WithContext(ctx).Error("document read failed", "op", OpFetchOne, "collection", coll.Name(), "error", err)
		}
		return nil
	}
	return rec
}

// FetchOneStrict is FetchOne returning the failure. Nothing matching src is
// reported as document.ErrNotFound.
func FetchOneStrict[T any](ctx context.Context, store document.Store, src document.Source, coll *schema.Collection[T], opts ...Option) (*schema.Record[T], error) {
	return fetchOne(ctx, store, src, coll, newOptions(opts))
}

// FetchFirst returns the first record of q under an explicit ordering, which
// is appended after any ordering q already carries.
func FetchFirst[T any](ctx context.Context, store document.Store, q document.Query, order query.Sort, coll *schema.Collection[T], opts ...Option) *schema.Record[T] {
	o := newOptions(opts)
	if order.Field == "" {
		o.log.WithContext(ctx).Error("document read failed", "op", OpFetchOne, "collection", coll.Name(), "error", errors.New("first requires an ordering field"))
		return nil
	}
	ordered := q.OrderBy(order.Field, order.Direction).(document.Query)
	return FetchOne(ctx, store, ordered, coll, opts...)
}

// FetchMany runs q and validates every result. Any failure yields an empty,
// non-nil slice and is logged.
func FetchMany[T any](ctx context.Context, store document.Store, q document.Query, coll *schema.Collection[T], opts ...Option) []schema.Record[T] {
	o := newOptions(opts)
	recs, err := fetchMany(ctx, store, q, coll, o)
	if err != nil {
		o.log.WithContext(ctx).Error("document read failed", "op", OpFetchMany, "collection", coll.Name(), "error", err)
		return []schema.Record[T]{}
	}
	return recs
}

// FetchManyStrict is FetchMany returning the failure.
func FetchManyStrict[T any](ctx context.Context, store document.Store, q document.Query, coll *schema.Collection[T], opts ...Option) ([]schema.Record[T], error) {
	return fetchMany(ctx, store, q, coll, newOptions(opts))
}

func fetchOne[T any](ctx context.Context, store document.Store, src document.Source, coll *schema.Collection[T], o *options) (*schema.Record[T], error) {
	var rec *schema.Record[T]
	err := observeRead(ctx, OpFetchOne, coll.Name(), func(ctx context.Context) (bool, error) {
		var snap document.Snapshot
		switch s := src.(type) {
		case document.DocumentRef:
			if err := sameCollection(s.Collection, coll.Name()); err != nil {
				return false, err
			}
			got, err := store.Get(ctx, s)
			if err != nil {
				return false, err
			}
			snap = got
		case document.Query:
			if err := sameCollection(s.Collection(), coll.Name()); err != nil {
				return false, err
			}
			if len(s.Sorts()) == 0 {
				o.log.WithContext(ctx).Debug("unordered query: first result follows store order", "collection", coll.Name())
			}
			snaps, err := store.Run(ctx, s.Limit(1))
			if err != nil {
				return false, err
			}
			if len(snaps) == 0 {
				return false, fmt.Errorf("%s query: %w", coll.Name(), document.ErrNotFound)
			}
			snap = snaps[0]
		default:
			return false, fmt.Errorf("unsupported document source %T", src)
		}
		parsed, err := coll.Parse(snap.ID(), snap.Data())
		if err != nil {
			metrics.RecordDocumentRejected(coll.Name())
			return false, err
		}
		rec = &parsed
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func fetchMany[T any](ctx context.Context, store document.Store, q document.Query, coll *schema.Collection[T], o *options) ([]schema.Record[T], error) {
	recs := []schema.Record[T]{}
	err := observeRead(ctx, OpFetchMany, coll.Name(), func(ctx context.Context) (bool, error) {
		if err := sameCollection(q.Collection(), coll.Name()); err != nil {
			return false, err
		}
		snaps, err := store.Run(ctx, q)
		if err != nil {
			return false, err
		}
		for _, snap := range snaps {
			rec, err := coll.Parse(snap.ID(), snap.Data())
			if err != nil {
				metrics.RecordDocumentRejected(coll.Name())
				if !o.partial {
					return false, err
				}
				o.log.WithContext(ctx).Warn("document rejected", "op", OpFetchMany, "collection", coll.Name(), "id", snap.ID(), "error", err)
				continue
			}
			recs = append(recs, rec)
		}
		return len(recs) > 0, nil
	})
	if err != nil {
		return nil, err
	}
	return recs, nil
}

// observeRead wraps a read in a document span and records its outcome.
// ErrNotFound counts as an empty read, not a failure.
func observeRead(ctx context.Context, op, collection string, fn func(ctx context.Context) (bool, error)) error {
	ctx, span := tracing.StartDocumentSpan(ctx, tracing.DocumentRead, collection, attribute.String("docops.op", op))
	start := time.Now()
	found, err := fn(ctx)
	tracing.Finish(span, err, document.ErrNotFound)

	result := metrics.ResultEmpty
	switch {
	case errors.Is(err, document.ErrNotFound):
	case err != nil:
		result = metrics.ResultError
	case found:
		result = metrics.ResultFound
	}
	metrics.RecordDocumentRead(op, collection, result, time.Since(start))
	return err
}

func sameCollection(got, want string) error {
	if got != want {
		return fmt.Errorf("source collection %q does not match schema collection %q", got, want)
	}
	return nil
}
