// Package repository executes validated document queries. Reads come in two
// flavours: lenient (FetchOne, FetchMany, FetchFirst) which log any failure
// and degrade to nil or an empty slice, and strict (FetchOneStrict,
// FetchManyStrict) which return the error. Writes always propagate errors.
package repository

import (
	"context"

	"github.com/nimburion/docops/pkg/query"
	"github.com/nimburion/docops/pkg/schema"
)

// Reader provides read operations over one collection.
type Reader[T any] interface {
	Get(ctx context.Context, id string) *schema.Record[T]
	GetStrict(ctx context.Context, id string) (*schema.Record[T], error)
	List(ctx context.Context, vars query.Variables) []schema.Record[T]
	ListStrict(ctx context.Context, vars query.Variables) ([]schema.Record[T], error)
	First(ctx context.Context, vars query.Variables, order query.Sort) *schema.Record[T]
}

// Writer provides write operations over one collection.
type Writer[T any] interface {
	Create(ctx context.Context, data T) (string, error)
	Set(ctx context.Context, id string, data T) error
	Update(ctx context.Context, id string, patch map[string]any) error
	Delete(ctx context.Context, id string) error
}

// CRUD combines Reader and Writer.
type CRUD[T any] interface {
	Reader[T]
	Writer[T]
}

var _ CRUD[struct{}] = (*Repository[struct{}])(nil)
