// Package document is the backend-neutral document store surface: collection
// and document references, lazily built queries, snapshots, and the Store
// contract implemented by the MongoDB, DynamoDB and in-memory backends.
package document

import (
	"context"
	"errors"
	"fmt"

	"github.com/nimburion/docops/pkg/query"
)

var (
	// ErrNotFound reports a document reference that resolves to nothing.
	ErrNotFound = errors.New("document not found")
	// ErrPermissionDenied reports a read or write rejected by the access rules.
	ErrPermissionDenied = errors.New("permission denied")
)

// StoreError wraps a failure talking to the document store.
type StoreError struct {
	Op         string
	Collection string
	Err        error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return fmt.Sprintf("document store %s %s: %v", e.Op, e.Collection, e.Err)
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeError(op, collection string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Collection: collection, Err: err}
}

// Store is a document database with named collections of string-keyed documents.
type Store interface {
	// Run executes q and returns the matching snapshots in query order.
	Run(ctx context.Context, q Query) ([]Snapshot, error)
	// Get fetches one document; a missing document is ErrNotFound.
	Get(ctx context.Context, ref DocumentRef) (Snapshot, error)
	// Set creates or replaces the document.
	Set(ctx context.Context, ref DocumentRef, data map[string]any) error
	// Update merges top-level fields into an existing document.
	Update(ctx context.Context, ref DocumentRef, data map[string]any) error
	// Delete removes the document. Deleting a missing document is not an error.
	Delete(ctx context.Context, ref DocumentRef) error
	// Add creates a document with a store-generated identifier.
	Add(ctx context.Context, collection CollectionRef, data map[string]any) (DocumentRef, error)
}

// Source is what a single-document fetch resolves: a DocumentRef or a Query.
type Source interface {
	collectionName() string
}

// CollectionRef names a collection.
type CollectionRef struct {
	Name string
}

// Collection returns a reference to the named collection.
func Collection(name string) CollectionRef {
	return CollectionRef{Name: name}
}

// Doc returns a reference to document id in the collection.
func (c CollectionRef) Doc(id string) DocumentRef {
	return DocumentRef{Collection: c.Name, ID: id}
}

// Query starts an unfiltered, unsorted query over the collection.
func (c CollectionRef) Query() Query {
	return Query{collection: c.Name}
}

// DocumentRef addresses one document.
type DocumentRef struct {
	Collection string
	ID         string
}

func (r DocumentRef) collectionName() string { return r.Collection }

// String renders collection/id.
func (r DocumentRef) String() string {
	return r.Collection + "/" + r.ID
}

// Query is an accumulated, unexecuted collection query. Every method returns
// a new Query; the receiver is never modified.
type Query struct {
	collection string
	filters    []query.Filter
	sorts      []query.Sort
	limit      int
}

var _ query.Queryable = Query{}

func (q Query) collectionName() string { return q.collection }

// Collection returns the queried collection name.
func (q Query) Collection() string { return q.collection }

// Filters returns the filters in application order.
func (q Query) Filters() []query.Filter { return append([]query.Filter(nil), q.filters...) }

// Sorts returns the orderings in application order.
func (q Query) Sorts() []query.Sort { return append([]query.Sort(nil), q.sorts...) }

// LimitValue returns the result cap, or zero when unbounded.
func (q Query) LimitValue() int { return q.limit }

// Where implements query.Queryable.
func (q Query) Where(field string, op query.Operator, value any) query.Queryable {
	out := q.clone()
	out.filters = append(out.filters, query.Filter{Field: field, Operator: op, Value: value})
	return out
}

// OrderBy implements query.Queryable.
func (q Query) OrderBy(field string, dir query.Direction) query.Queryable {
	if dir == "" {
		dir = query.Asc
	}
	out := q.clone()
	out.sorts = append(out.sorts, query.Sort{Field: field, Direction: dir})
	return out
}

// Limit caps the number of results. n <= 0 removes the cap.
func (q Query) Limit(n int) Query {
	out := q.clone()
	if n < 0 {
		n = 0
	}
	out.limit = n
	return out
}

// Apply validates vars and folds them onto q.
func (q Query) Apply(vars query.Variables) (Query, error) {
	if err := vars.Validate(); err != nil {
		return Query{}, err
	}
	return query.Build(q, vars).(Query), nil
}

func (q Query) clone() Query {
	return Query{
		collection: q.collection,
		filters:    append([]query.Filter(nil), q.filters...),
		sorts:      append([]query.Sort(nil), q.sorts...),
		limit:      q.limit,
	}
}

// Snapshot is one document as read from the store.
type Snapshot struct {
	Ref    DocumentRef
	Fields map[string]any
}

// ID returns the document identifier.
func (s Snapshot) ID() string { return s.Ref.ID }

// Data returns the stored field map.
func (s Snapshot) Data() map[string]any { return s.Fields }

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*MongoStore)(nil)
	_ Store = (*DynamoStore)(nil)
	_ Store = (*Scoped)(nil)
)
