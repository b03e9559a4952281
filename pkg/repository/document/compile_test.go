package document

import (
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/nimburion/docops/pkg/codec"
	"github.com/nimburion/docops/pkg/query"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestMongoFilter(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		q    query.Queryable
		want bson.D
	}{
		{
			name: "empty",
			q:    Collection("members").Query(),
			want: bson.D{},
		},
		{
			name: "single equality",
			q:    Collection("members").Query().Where("status", query.Equal, "active"),
			want: bson.D{{Key: "status", Value: bson.D{{Key: "$eq", Value: "active"}}}},
		},
		{
			name: "array contains is element equality",
			q:    Collection("members").Query().Where("tags", query.ArrayContains, "board"),
			want: bson.D{{Key: "tags", Value: "board"}},
		},
		{
			name: "membership and range",
			q: Collection("members").Query().
				Where("status", query.In, []string{"active", "paused"}).
				Where("createdAt", query.LessThan, codec.TimestampOf(at)),
			want: bson.D{{Key: "$and", Value: bson.A{
				bson.D{{Key: "status", Value: bson.D{{Key: "$in", Value: bson.A{"active", "paused"}}}}},
				bson.D{{Key: "createdAt", Value: bson.D{{Key: "$lt", Value: at}}}},
			}}},
		},
		{
			name: "sort field must exist",
			q:    Collection("members").Query().OrderBy("name", query.Asc),
			want: bson.D{{Key: "name", Value: bson.D{{Key: "$exists", Value: true}}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MongoFilter(tt.q.(Query))
			if err != nil {
				t.Fatalf("MongoFilter() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("MongoFilter() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestMongoFilter_RejectsUnknownOperator(t *testing.T) {
	q := Collection("members").Query().Where("a", query.Operator("~"), 1).(Query)
	if _, err := MongoFilter(q); err == nil {
		t.Fatal("expected error for unknown operator")
	}
}

func TestMongoSort(t *testing.T) {
	q := Collection("members").Query().OrderBy("amount", query.Desc).OrderBy("name", "").(Query)
	want := bson.D{{Key: "amount", Value: -1}, {Key: "name", Value: 1}}
	if got := MongoSort(q); !reflect.DeepEqual(got, want) {
		t.Fatalf("MongoSort() = %#v, want %#v", got, want)
	}
}

func TestDynamoFilter(t *testing.T) {
	q := Collection("members").Query().
		Where("status", query.Equal, "active").
		Where("address.city", query.NotIn, []any{"Rome"}).
		Where("tags", query.ArrayContains, "board").
		OrderBy("amount", query.Asc).(Query)

	cond, ok, err := DynamoFilter(q)
	if err != nil || !ok {
		t.Fatalf("DynamoFilter() ok=%v err=%v", ok, err)
	}
	expr, err := expression.NewBuilder().WithFilter(cond).Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if expr.Filter() == nil || *expr.Filter() == "" {
		t.Fatal("expected a filter expression")
	}
	seen := map[string]bool{}
	var names []string
	for _, n := range expr.Names() {
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	sort.Strings(names)
	want := []string{"address", "amount", "city", "status", "tags"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("expression names = %v, want %v", names, want)
	}
}

func TestDynamoFilter_NothingCompiled(t *testing.T) {
	q := Collection("members").Query().Where("scores", query.ArrayContains, 7).(Query)
	if _, ok, err := DynamoFilter(q); ok || err != nil {
		t.Fatalf("expected residual-only filter, ok=%v err=%v", ok, err)
	}
}

func TestToDynamoValue_Instants(t *testing.T) {
	at := time.Date(2024, 2, 3, 4, 5, 6, 7, time.FixedZone("X", 3600))
	want := "2024-02-03T03:05:06.000000007Z"
	if got := toDynamoValue(at); got != want {
		t.Fatalf("toDynamoValue(time) = %v, want %v", got, want)
	}
	if got := toDynamoValue(codec.TimestampOf(at)); got != want {
		t.Fatalf("toDynamoValue(timestamp) = %v, want %v", got, want)
	}
}

func TestToDynamoValue_OrdersSubSecondInstants(t *testing.T) {
	base := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)
	instants := []time.Time{
		base,
		base.Add(500 * time.Millisecond),
		base.Add(500*time.Millisecond + time.Nanosecond),
		base.Add(time.Second),
	}
	encoded := make([]string, len(instants))
	for i, at := range instants {
		encoded[i] = toDynamoValue(at).(string)
	}
	if !sort.StringsAreSorted(encoded) {
		t.Fatalf("encoded instants do not sort as strings: %v", encoded)
	}
	if got := formatDynamoTime(base); got != "2024-06-01T09:30:00.000000000Z" {
		t.Fatalf("formatDynamoTime() = %q", got)
	}

	s := &DynamoStore{key: "id", now: func() time.Time { return instants[2] }}
	resolved := s.resolve(map[string]any{"updatedAt": codec.ServerTimestamp})
	if resolved["updatedAt"] != encoded[2] {
		t.Fatalf("sentinel resolved to %v, want %v", resolved["updatedAt"], encoded[2])
	}
}

func TestFromMongo(t *testing.T) {
	at := time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)
	snap := fromMongo("members", bson.M{
		"_id":       "m1",
		"name":      "Ada",
		"createdAt": primitive.NewDateTimeFromTime(at),
		"address":   bson.M{"city": "Turin"},
		"tags":      bson.A{"a"},
	})
	if snap.ID() != "m1" {
		t.Fatalf("ID() = %q", snap.ID())
	}
	if _, ok := snap.Fields["_id"]; ok {
		t.Fatal("_id must not leak into fields")
	}
	if snap.Fields["createdAt"] != codec.TimestampOf(at) {
		t.Fatalf("createdAt = %#v", snap.Fields["createdAt"])
	}
	if city, _ := Lookup(snap.Fields, "address.city"); city != "Turin" {
		t.Fatalf("address.city = %v", city)
	}
	if _, ok := snap.Fields["tags"].([]any); !ok {
		t.Fatalf("tags = %T, want []any", snap.Fields["tags"])
	}
}
