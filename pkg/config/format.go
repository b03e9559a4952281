package config

import (
	"cmp"
	"fmt"
	"reflect"
	"slices"
	"strings"
)

const redactedValue = "***"

// String renders the configuration as indented key: value lines under the
// mapstructure names, with set secret fields masked.
func (c *Config) String() string {
	return c.Redacted(nil)
}

// Redacted is String that also masks every field secrets sets. Pass the
// secrets Config returned by LoadWithSecrets, or nil.
func (c *Config) Redacted(secrets *Config) string {
	p := printer{}
	var mask reflect.Value
	if secrets != nil {
		mask = reflect.ValueOf(secrets).Elem()
	}
	p.object(reflect.ValueOf(c).Elem(), mask, 0)
	return p.String()
}

// Unredacted renders every value in clear.
func (c *Config) Unredacted() string {
	p := printer{reveal: true}
	p.object(reflect.ValueOf(c).Elem(), reflect.Value{}, 0)
	return p.String()
}

type printer struct {
	strings.Builder
	reveal bool
}

func (p *printer) line(depth int, key string, value any) {
	indent := strings.Repeat("  ", depth)
	if value == nil {
		fmt.Fprintf(p, "%s%s:\n", indent, key)
		return
	}
	fmt.Fprintf(p, "%s%s: %v\n", indent, key, value)
}

// object writes the exported fields of struct v. mask, when valid, has the
// type of v and marks the fields to hide.
func (p *printer) object(v, mask reflect.Value, depth int) {
	t := v.Type()
	for i := range t.NumField() {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		value := v.Field(i)
		var fieldMask reflect.Value
		if mask.IsValid() {
			fieldMask = mask.Field(i)
		}
		key := keyName(field)

		switch value.Kind() {
		case reflect.Struct:
			p.line(depth, key, nil)
			p.object(value, fieldMask, depth+1)
		case reflect.Map:
			p.mapping(key, value, depth)
		default:
			p.line(depth, key, p.display(field, value, fieldMask))
		}
	}
}

func (p *printer) mapping(key string, m reflect.Value, depth int) {
	if m.Len() == 0 {
		p.line(depth, key, "{}")
		return
	}
	p.line(depth, key, nil)
	keys := m.MapKeys()
	slices.SortFunc(keys, func(a, b reflect.Value) int {
		return cmp.Compare(fmt.Sprint(a.Interface()), fmt.Sprint(b.Interface()))
	})
	for _, k := range keys {
		name := fmt.Sprint(k.Interface())
		elem := m.MapIndex(k)
		if elem.Kind() == reflect.Struct {
			p.line(depth+1, name, nil)
			p.object(elem, reflect.Value{}, depth+2)
			continue
		}
		p.line(depth+1, name, elem.Interface())
	}
}

func (p *printer) display(field reflect.StructField, value, mask reflect.Value) any {
	if p.reveal {
		return value.Interface()
	}
	secret := field.Tag.Get("secret") == "true" && !value.IsZero()
	if secret || (mask.IsValid() && !mask.IsZero()) {
		return redactedValue
	}
	return value.Interface()
}

func keyName(field reflect.StructField) string {
	if tag := field.Tag.Get("mapstructure"); tag != "" && tag != "-" {
		return tag
	}
	return field.Name
}
