package codec

import (
	"fmt"
	"math"
	"time"
)

// Field is a type-erased codec applied to one field of a raw document.
// Errors returned here describe a wire or domain value of the wrong type.
type Field interface {
	Encode(v any) (any, error)
	Decode(v any) (any, error)
	Nullable() bool
}

// InstantField applies Instant to raw document values.
var InstantField Field = instantField{}

// WriteTimeField applies WriteTime to raw document values.
// Decode is not supported: a write shape is never read back before the store resolves it.
var WriteTimeField Field = writeTimeField{}

type instantField struct{}

func (instantField) Nullable() bool { return Instant.Nullable() }

func (instantField) Encode(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	t, err := toTime(v)
	if err != nil {
		return nil, err
	}
	return Instant.Encode(t), nil
}

func (instantField) Decode(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if IsSentinel(v) {
		return nil, fmt.Errorf("unresolved write sentinel")
	}
	ts, err := WireTimestamp(v)
	if err != nil {
		return nil, err
	}
	return Instant.Decode(ts), nil
}

type writeTimeField struct{}

func (writeTimeField) Nullable() bool { return WriteTime.Nullable() }

func (writeTimeField) Encode(any) (any, error) {
	return WriteTime.Encode(time.Time{}), nil
}

func (writeTimeField) Decode(v any) (any, error) {
	return nil, fmt.Errorf("write-time field cannot be decoded (got %T)", v)
}

// WireTimestamp normalizes the timestamp shapes document backends surface on reads.
func WireTimestamp(v any) (Timestamp, error) {
	switch t := v.(type) {
	case Timestamp:
		return t, nil
	case *Timestamp:
		if t == nil {
			return Timestamp{}, fmt.Errorf("nil timestamp")
		}
		return *t, nil
	case time.Time:
		return TimestampOf(t), nil
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return Timestamp{}, fmt.Errorf("invalid timestamp %q: %w", t, err)
		}
		return TimestampOf(parsed), nil
	case map[string]any:
		seconds, ok := asInt64(t["seconds"])
		if !ok {
			return Timestamp{}, fmt.Errorf("timestamp map without integer seconds")
		}
		nanos, _ := asInt64(t["nanos"])
		if nanos < 0 || nanos >= int64(time.Second) {
			return Timestamp{}, fmt.Errorf("timestamp nanos out of range: %d", nanos)
		}
		return Timestamp{Seconds: seconds, Nanos: int32(nanos)}, nil
	default:
		return Timestamp{}, fmt.Errorf("expected timestamp, got %T", v)
	}
}

func toTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case *time.Time:
		if t == nil {
			return time.Time{}, fmt.Errorf("nil time")
		}
		return *t, nil
	default:
		ts, err := WireTimestamp(v)
		if err != nil {
			return time.Time{}, err
		}
		return ts.Time(), nil
	}
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	}
	return 0, false
}
