package registry

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// CacheKey identifies the result of one operation call:
// prefix segments, then the path from the tree root, then the normalized
// input when there is one.
type CacheKey []string

// Equal reports segment-wise equality.
func (k CacheKey) Equal(other CacheKey) bool {
	if len(k) != len(other) {
		return false
	}
	for i := range k {
		if k[i] != other[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether prefix is a leading run of k's segments.
func (k CacheKey) HasPrefix(prefix CacheKey) bool {
	if len(prefix) > len(k) {
		return false
	}
	return k[:len(prefix)].Equal(prefix)
}

// String renders k as a JSON array, which keeps segment boundaries unambiguous.
func (k CacheKey) String() string {
	body, _ := json.Marshal(append([]string{}, k...))
	return string(body)
}

// Head returns the first segment, or "" for an empty key.
func (k CacheKey) Head() string {
	if len(k) == 0 {
		return ""
	}
	return k[0]
}

// ParseCacheKey reverses String.
func ParseCacheKey(s string) (CacheKey, error) {
	var segments []string
	if err := json.Unmarshal([]byte(s), &segments); err != nil {
		return nil, fmt.Errorf("parse cache key: %w", err)
	}
	return CacheKey(segments), nil
}

// NoInput is the input type of operations that take none. Keys of such
// operations carry no input segment.
type NoInput = struct{}

var noInputType = reflect.TypeOf(NoInput{})

// normalizeInput renders input as canonical JSON. ok is false when the key
// carries no input segment: a nil input, a nil pointer, or NoInput.
func normalizeInput(input any) (segment string, ok bool, err error) {
	if input == nil {
		return "", false, nil
	}
	v := reflect.ValueOf(input)
	if v.Type() == noInputType {
		return "", false, nil
	}
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		if v.IsNil() {
			return "", false, nil
		}
	}
	body, err := json.Marshal(input)
	if err != nil {
		return "", false, err
	}
	return string(body), true, nil
}

func appendKey(base CacheKey, input any) (CacheKey, error) {
	segment, ok, err := normalizeInput(input)
	if err != nil {
		return nil, fmt.Errorf("%w: key %s: %v", ErrUnencodableInput, base, err)
	}
	out := make(CacheKey, len(base), len(base)+1)
	copy(out, base)
	if ok {
		out = append(out, segment)
	}
	return out, nil
}
