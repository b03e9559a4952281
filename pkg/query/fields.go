package query

import (
	"reflect"
	"sort"
	"strings"
	"time"
)

// Fields returns the dotted-path projection of T's JSON field names.
// Nested structs contribute both their own path and their children's paths.
func Fields[T any]() []string {
	var out []string
	collectFields(reflect.TypeOf((*T)(nil)).Elem(), "", &out, map[reflect.Type]bool{})
	sort.Strings(out)
	return out
}

var timeType = reflect.TypeOf(time.Time{})

func collectFields(t reflect.Type, prefix string, out *[]string, seen map[reflect.Type]bool) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct || t == timeType || seen[t] {
		return
	}
	seen[t] = true
	defer delete(seen, t)

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name, skip := jsonName(field)
		if skip {
			continue
		}
		if field.Anonymous && name == "" {
			collectFields(field.Type, prefix, out, seen)
			continue
		}
		if name == "" {
			name = field.Name
		}
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}
		*out = append(*out, path)
		collectFields(field.Type, path, out, seen)
	}
}

func jsonName(field reflect.StructField) (string, bool) {
	tag, ok := field.Tag.Lookup("json")
	if !ok {
		return "", false
	}
	name := strings.Split(tag, ",")[0]
	if name == "-" {
		return "", true
	}
	return name, false
}
