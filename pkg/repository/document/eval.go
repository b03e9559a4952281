package document

import (
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/nimburion/docops/pkg/codec"
	"github.com/nimburion/docops/pkg/query"
)

// Matches reports whether a stored field map satisfies f.
// A document lacking the filtered field never matches.
func Matches(doc map[string]any, f query.Filter) bool {
	value, present := Lookup(doc, f.Field)
	if !present {
		return false
	}
	switch f.Operator {
	case query.Equal:
		return equalValues(value, f.Value)
	case query.NotEqual:
		return !equalValues(value, f.Value)
	case query.LessThan, query.LessThanEqual, query.GreaterThan, query.GreaterThanEqual:
		c, ok := compareValues(value, f.Value)
		if !ok {
			return false
		}
		switch f.Operator {
		case query.LessThan:
			return c < 0
		case query.LessThanEqual:
			return c <= 0
		case query.GreaterThan:
			return c > 0
		default:
			return c >= 0
		}
	case query.ArrayContains:
		return containsAny(listOf(value), []any{f.Value})
	case query.ArrayContainsAny:
		return containsAny(listOf(value), listOf(f.Value))
	case query.In:
		return containsAny(listOf(f.Value), []any{value})
	case query.NotIn:
		return !containsAny(listOf(f.Value), []any{value})
	}
	return false
}

// MatchesAll reports whether doc satisfies every filter and carries every sort field.
func MatchesAll(doc map[string]any, q Query) bool {
	for _, f := range q.filters {
		if !Matches(doc, f) {
			return false
		}
	}
	for _, s := range q.sorts {
		if _, ok := Lookup(doc, s.Field); !ok {
			return false
		}
	}
	return true
}

// Lookup resolves a dotted path inside a field map.
func Lookup(doc map[string]any, path string) (any, bool) {
	var current any = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// SortSnapshots orders snapshots by the given sorts, stably.
func SortSnapshots(snaps []Snapshot, sorts []query.Sort) {
	if len(sorts) == 0 {
		return
	}
	sort.SliceStable(snaps, func(i, j int) bool {
		for _, s := range sorts {
			a, _ := Lookup(snaps[i].Fields, s.Field)
			b, _ := Lookup(snaps[j].Fields, s.Field)
			c := orderValues(a, b)
			if c == 0 {
				continue
			}
			if s.Direction == query.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// Apply filters, sorts and limits snapshots the way a store would.
func Apply(snaps []Snapshot, q Query) []Snapshot {
	out := make([]Snapshot, 0, len(snaps))
	for _, s := range snaps {
		if MatchesAll(s.Fields, q) {
			out = append(out, s)
		}
	}
	SortSnapshots(out, q.sorts)
	if q.limit > 0 && len(out) > q.limit {
		out = out[:q.limit]
	}
	return out
}

func equalValues(a, b any) bool {
	if c, ok := compareValues(a, b); ok {
		return c == 0
	}
	return reflect.DeepEqual(a, b)
}

// compareValues compares scalars of compatible kinds. Instants compare with
// RFC 3339 strings, which is how the DynamoDB backend stores them, and two
// RFC 3339 strings compare as instants.
func compareValues(a, b any) (int, bool) {
	a, b = scalar(a), scalar(b)
	switch x := a.(type) {
	case nil:
		return 0, b == nil
	case float64:
		if y, ok := b.(float64); ok {
			return cmpFloat(x, y), true
		}
	case string:
		switch y := b.(type) {
		case string:
			if tx, ok := parseInstant(x); ok {
				if ty, ok := parseInstant(y); ok {
					return tx.Compare(ty), true
				}
			}
			return strings.Compare(x, y), true
		case time.Time:
			if t, err := time.Parse(time.RFC3339Nano, x); err == nil {
				return t.Compare(y), true
			}
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0, true
			case !x:
				return -1, true
			default:
				return 1, true
			}
		}
	case time.Time:
		switch y := b.(type) {
		case time.Time:
			return x.Compare(y), true
		case string:
			if t, err := time.Parse(time.RFC3339Nano, y); err == nil {
				return x.Compare(t), true
			}
		}
	}
	return 0, false
}

// parseInstant reads an RFC 3339 string. Fraction widths vary between
// writers, so such strings only order correctly as times.
func parseInstant(s string) (time.Time, bool) {
	if len(s) < len("2006-01-02T15:04:05Z") || s[4] != '-' || s[10] != 'T' {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	return t, err == nil
}

// orderValues is a total order: comparable values compare naturally, the rest by kind.
func orderValues(a, b any) int {
	if c, ok := compareValues(a, b); ok {
		return c
	}
	return rank(scalar(a)) - rank(scalar(b))
}

func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64:
		return 2
	case time.Time:
		return 3
	case string:
		return 4
	case []any:
		return 5
	default:
		return 6
	}
}

func scalar(v any) any {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int8:
		return float64(t)
	case int16:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case uint:
		return float64(t)
	case uint32:
		return float64(t)
	case uint64:
		return float64(t)
	case float32:
		return float64(t)
	case codec.Timestamp:
		return t.Time()
	case *codec.Timestamp:
		if t == nil {
			return nil
		}
		return t.Time()
	case time.Time:
		return t.UTC()
	}
	return v
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func listOf(v any) []any {
	if v == nil {
		return nil
	}
	if l, ok := v.([]any); ok {
		return l
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

func containsAny(haystack, needles []any) bool {
	for _, h := range haystack {
		for _, n := range needles {
			if equalValues(h, n) {
				return true
			}
		}
	}
	return false
}
