package document

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nimburion/docops/pkg/codec"
	"github.com/nimburion/docops/pkg/query"
	mongostore "github.com/nimburion/docops/pkg/store/mongodb"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// MongoStore is the privileged Store over a MongoDB database. Document
// identifiers are stored as string _id values.
type MongoStore struct {
	adapter *mongostore.Adapter
}

// NewMongoStore wraps a connected adapter.
func NewMongoStore(adapter *mongostore.Adapter) (*MongoStore, error) {
	if adapter == nil {
		return nil, fmt.Errorf("mongodb adapter is required")
	}
	return &MongoStore{adapter: adapter}, nil
}

// Run implements Store.
func (s *MongoStore) Run(ctx context.Context, q Query) ([]Snapshot, error) {
	filter, err := MongoFilter(q)
	if err != nil {
		return nil, storeError("run", q.collection, err)
	}
	docs, err := s.adapter.Find(ctx, q.collection, filter, MongoSort(q), int64(q.limit))
	if err != nil {
		return nil, storeError("run", q.collection, err)
	}
	out := make([]Snapshot, 0, len(docs))
	for _, doc := range docs {
		out = append(out, fromMongo(q.collection, doc))
	}
	return out, nil
}

// Get implements Store.
func (s *MongoStore) Get(ctx context.Context, ref DocumentRef) (Snapshot, error) {
	doc, err := s.adapter.FindByID(ctx, ref.Collection, ref.ID)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Snapshot{}, storeError("get", ref.Collection, fmt.Errorf("%s: %w", ref, ErrNotFound))
	}
	if err != nil {
		return Snapshot{}, storeError("get", ref.Collection, err)
	}
	return fromMongo(ref.Collection, doc), nil
}

// Set implements Store. Sentinel fields are stamped by a follow-up $currentDate
// update, so the server clock assigns them.
func (s *MongoStore) Set(ctx context.Context, ref DocumentRef, data map[string]any) error {
	fields, stamped := splitSentinels(data)
	var stamp bson.D
	if len(stamped) > 0 {
		stamp = currentDate(stamped)
	}
	if err := s.adapter.Replace(ctx, ref.Collection, ref.ID, toMongo(fields), stamp); err != nil {
		return storeError("set", ref.Collection, err)
	}
	return nil
}

// Update implements Store.
func (s *MongoStore) Update(ctx context.Context, ref DocumentRef, data map[string]any) error {
	fields, stamped := splitSentinels(data)
	update := bson.D{}
	if len(fields) > 0 {
		update = append(update, bson.E{Key: "$set", Value: toMongo(fields)})
	}
	if len(stamped) > 0 {
		update = append(update, currentDate(stamped)...)
	}
	if len(update) == 0 {
		return nil
	}
	found, err := s.adapter.Patch(ctx, ref.Collection, ref.ID, update)
	if err != nil {
		return storeError("update", ref.Collection, err)
	}
	if !found {
		return storeError("update", ref.Collection, fmt.Errorf("%s: %w", ref, ErrNotFound))
	}
	return nil
}

// Delete implements Store.
func (s *MongoStore) Delete(ctx context.Context, ref DocumentRef) error {
	if err := s.adapter.Remove(ctx, ref.Collection, ref.ID); err != nil {
		return storeError("delete", ref.Collection, err)
	}
	return nil
}

// Add implements Store.
func (s *MongoStore) Add(ctx context.Context, collection CollectionRef, data map[string]any) (DocumentRef, error) {
	ref := collection.Doc(uuid.NewString())
	if err := s.Set(ctx, ref, data); err != nil {
		return DocumentRef{}, err
	}
	return ref, nil
}

// MongoFilter compiles the query's filters into a MongoDB filter document.
// Sort fields are required to exist, matching the other backends.
func MongoFilter(q Query) (bson.D, error) {
	parts := bson.A{}
	for _, f := range q.filters {
		part, err := mongoPredicate(f)
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
	}
	for _, s := range q.sorts {
		parts = append(parts, bson.D{{Key: s.Field, Value: bson.D{{Key: "$exists", Value: true}}}})
	}
	switch len(parts) {
	case 0:
		return bson.D{}, nil
	case 1:
		return parts[0].(bson.D), nil
	default:
		return bson.D{{Key: "$and", Value: parts}}, nil
	}
}

// MongoSort compiles the query's orderings into a MongoDB sort document.
func MongoSort(q Query) bson.D {
	out := bson.D{}
	for _, s := range q.sorts {
		dir := 1
		if s.Direction == query.Desc {
			dir = -1
		}
		out = append(out, bson.E{Key: s.Field, Value: dir})
	}
	return out
}

var mongoOperators = map[query.Operator]string{
	query.Equal:            "$eq",
	query.NotEqual:         "$ne",
	query.LessThan:         "$lt",
	query.LessThanEqual:    "$lte",
	query.GreaterThan:      "$gt",
	query.GreaterThanEqual: "$gte",
	query.ArrayContainsAny: "$in",
	query.In:               "$in",
	query.NotIn:            "$nin",
}

func mongoPredicate(f query.Filter) (bson.D, error) {
	value := toMongoValue(f.Value)
	if f.Operator == query.ArrayContains {
		// equality on an array field matches any element
		return bson.D{{Key: f.Field, Value: value}}, nil
	}
	op, ok := mongoOperators[f.Operator]
	if !ok {
		return nil, fmt.Errorf("%w: operator %q", query.ErrInvalidVariables, f.Operator)
	}
	if f.Operator.TakesList() {
		list := listOf(f.Value)
		values := make(bson.A, 0, len(list))
		for _, v := range list {
			values = append(values, toMongoValue(v))
		}
		value = values
	}
	if f.Operator == query.NotEqual || f.Operator == query.NotIn {
		// absent fields never match, as on the other backends
		return bson.D{{Key: f.Field, Value: bson.D{{Key: "$exists", Value: true}, {Key: op, Value: value}}}}, nil
	}
	return bson.D{{Key: f.Field, Value: bson.D{{Key: op, Value: value}}}}, nil
}

func splitSentinels(data map[string]any) (map[string]any, []string) {
	fields := make(map[string]any, len(data))
	var stamped []string
	for k, v := range data {
		if codec.IsSentinel(v) {
			stamped = append(stamped, k)
			continue
		}
		fields[k] = v
	}
	return fields, stamped
}

func currentDate(fields []string) bson.D {
	spec := bson.D{}
	for _, f := range fields {
		spec = append(spec, bson.E{Key: f, Value: true})
	}
	return bson.D{{Key: "$currentDate", Value: spec}}
}

func toMongo(data map[string]any) bson.M {
	out := bson.M{}
	for k, v := range data {
		out[k] = toMongoValue(v)
	}
	return out
}

func toMongoValue(v any) any {
	switch t := v.(type) {
	case codec.Timestamp:
		return t.Time()
	case time.Time:
		return t.UTC()
	case map[string]any:
		return toMongo(t)
	case []any:
		out := make(bson.A, len(t))
		for i, inner := range t {
			out[i] = toMongoValue(inner)
		}
		return out
	}
	return v
}

func fromMongo(collection string, doc bson.M) Snapshot {
	id := ""
	switch raw := doc["_id"].(type) {
	case string:
		id = raw
	case primitive.ObjectID:
		id = raw.Hex()
	default:
		if raw != nil {
			id = fmt.Sprint(raw)
		}
	}
	fields := make(map[string]any, len(doc))
	for k, v := range doc {
		if k == "_id" {
			continue
		}
		fields[k] = fromMongoValue(v)
	}
	return Snapshot{Ref: DocumentRef{Collection: collection, ID: id}, Fields: fields}
}

func fromMongoValue(v any) any {
	switch t := v.(type) {
	case primitive.DateTime:
		return codec.TimestampOf(t.Time().UTC())
	case primitive.Timestamp:
		return codec.Timestamp{Seconds: int64(t.T)}
	case primitive.ObjectID:
		return t.Hex()
	case primitive.Decimal128:
		return t.String()
	case bson.M:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = fromMongoValue(inner)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = fromMongoValue(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = fromMongoValue(inner)
		}
		return out
	}
	return v
}
