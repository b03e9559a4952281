// Package schema validates raw store documents against a collection shape
// derived from a Go record type and decodes them into typed records.
//
// Every collection carries three variants: the stored-data shape (T, no
// identifier), the full record (Record[T], stored data plus identifier) and
// the write shape (stored data with write-time codecs on audit fields).
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/nimburion/docops/pkg/codec"
	"github.com/xeipuuv/gojsonschema"
)

// Record is a validated document: the store identity plus the decoded body.
type Record[T any] struct {
	ID   string `json:"id"`
	Data T      `json:"data"`
}

// Document is a raw store document as returned by a backend.
type Document interface {
	ID() string
	Data() map[string]any
}

// Option configures a collection definition.
type Option func(*definition)

type definition struct {
	read       map[string]codec.Field
	write      map[string]codec.Field
	createOnly map[string]bool
	strict     bool
}

// Timestamp marks a top-level field as an instant: decoded from the wire on
// read and encoded back to a wire timestamp on write.
func Timestamp(field string) Option {
	return func(d *definition) {
		d.read[field] = codec.InstantField
		d.write[field] = codec.InstantField
	}
}

// SetOnWrite marks a top-level audit field the store stamps at write time.
// Reads decode it as an instant; writes always send the server-timestamp sentinel.
func SetOnWrite(field string) Option {
	return func(d *definition) {
		d.read[field] = codec.InstantField
		d.write[field] = codec.WriteTimeField
	}
}

// SetOnCreate is SetOnWrite for creation only: full writes stamp it, patches
// leave it alone unless they name it.
func SetOnCreate(field string) Option {
	return func(d *definition) {
		d.read[field] = codec.InstantField
		d.write[field] = codec.WriteTimeField
		d.createOnly[field] = true
	}
}

// Strict rejects top-level fields that T does not declare.
func Strict() Option {
	return func(d *definition) {
		d.strict = true
	}
}

// Collection is the schema set of one document collection.
type Collection[T any] struct {
	name       string
	read       map[string]codec.Field
	write      map[string]codec.Field
	createOnly map[string]bool
	shape      *jsonschema.Schema
	validator  *gojsonschema.Schema
	patch      *gojsonschema.Schema
}

var instantSchema = &jsonschema.Schema{Types: []string{"null", "string"}, Format: "date-time"}

// Define builds the schema set for collection name from record type T.
func Define[T any](name string, opts ...Option) (*Collection[T], error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	def := &definition{
		read:       map[string]codec.Field{},
		write:      map[string]codec.Field{},
		createOnly: map[string]bool{},
	}
	for _, opt := range opts {
		opt(def)
	}

	typeOf := reflect.TypeOf((*T)(nil)).Elem()
	for typeOf.Kind() == reflect.Pointer {
		typeOf = typeOf.Elem()
	}
	if typeOf.Kind() != reflect.Struct {
		return nil, fmt.Errorf("collection %s: record type must be a struct, got %s", name, typeOf.Kind())
	}

	shape, err := jsonschema.ForType(typeOf, &jsonschema.ForOptions{
		IgnoreInvalidTypes: true,
		TypeSchemas: map[reflect.Type]*jsonschema.Schema{
			reflect.TypeOf(time.Time{}): {Type: "string", Format: "date-time"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("collection %s: build schema: %w", name, err)
	}
	if !def.strict {
		shape.AdditionalProperties = nil
	}
	for field := range def.read {
		if _, ok := shape.Properties[field]; !ok {
			return nil, fmt.Errorf("collection %s: codec field %q is not declared by %s", name, field, typeOf.Name())
		}
		shape.Properties[field] = instantSchema
	}
	shape.Title = name

	raw, err := json.Marshal(shape)
	if err != nil {
		return nil, fmt.Errorf("collection %s: encode schema: %w", name, err)
	}
	validator, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("collection %s: compile schema: %w", name, err)
	}
	// a patch names any subset of the top-level fields
	partial := *shape
	partial.Required = nil
	raw, err = json.Marshal(&partial)
	if err != nil {
		return nil, fmt.Errorf("collection %s: encode patch schema: %w", name, err)
	}
	patch, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("collection %s: compile patch schema: %w", name, err)
	}

	return &Collection[T]{
		name:       name,
		read:       def.read,
		write:      def.write,
		createOnly: def.createOnly,
		shape:      shape,
		validator:  validator,
		patch:      patch,
	}, nil
}

// MustDefine is Define for package-level collection definitions; it panics on error.
func MustDefine[T any](name string, opts ...Option) *Collection[T] {
	c, err := Define[T](name, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Name returns the collection name.
func (c *Collection[T]) Name() string {
	return c.name
}

// JSONSchema returns the stored-data JSON schema.
func (c *Collection[T]) JSONSchema() ([]byte, error) {
	return json.MarshalIndent(c.shape, "", "  ")
}

// Validate checks raw stored data and decodes it into T.
func (c *Collection[T]) Validate(raw map[string]any) (T, error) {
	return c.decode("", raw)
}

// Parse builds the full record of document id from raw stored data.
func (c *Collection[T]) Parse(id string, raw map[string]any) (Record[T], error) {
	data, err := c.decode(id, raw)
	if err != nil {
		return Record[T]{}, err
	}
	return Record[T]{ID: id, Data: data}, nil
}

// ParseMany parses every document and stops at the first failure.
func (c *Collection[T]) ParseMany(docs []Document) ([]Record[T], error) {
	out := make([]Record[T], 0, len(docs))
	for _, doc := range docs {
		rec, err := c.Parse(doc.ID(), doc.Data())
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Encode produces the write shape of v: stored data with write codecs applied.
// The result holds unresolved sentinels and must only be sent to a store.
func (c *Collection[T]) Encode(v T) (map[string]any, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("collection %s: encode record: %w", c.name, err)
	}
	if err := c.check("", body); err != nil {
		return nil, err
	}
	out, err := decodeJSONObject(body)
	if err != nil {
		return nil, fmt.Errorf("collection %s: encode record: %w", c.name, err)
	}
	var violations []Violation
	for field, fc := range c.write {
		encoded, err := fc.Encode(out[field])
		if err != nil {
			violations = append(violations, Violation{Field: field, Reason: err.Error()})
			continue
		}
		out[field] = encoded
	}
	if len(violations) > 0 {
		sortViolations(violations)
		return nil, newValidationError(c.name, "", violations)
	}
	return out, nil
}

// EncodePatch applies write codecs to a partial update. Every patched field
// is checked against its stored shape, so a patch cannot leave the document
// unreadable. SetOnWrite fields are always stamped, SetOnCreate fields only
// when named.
func (c *Collection[T]) EncodePatch(patch map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(patch)+len(c.write))
	plain := make(map[string]any, len(patch))
	for k, v := range patch {
		out[k] = v
		if _, coded := c.write[k]; !coded {
			plain[k] = v
		}
	}
	body, err := json.Marshal(plain)
	if err != nil {
		return nil, newValidationError(c.name, "", []Violation{{Reason: "patch is not representable: " + err.Error()}})
	}
	if err := c.validate(c.patch, "", body); err != nil {
		return nil, err
	}
	var violations []Violation
	for field, fc := range c.write {
		value, present := out[field]
		if !present && (fc != codec.WriteTimeField || c.createOnly[field]) {
			continue
		}
		encoded, err := fc.Encode(value)
		if err != nil {
			violations = append(violations, Violation{Field: field, Reason: err.Error()})
			continue
		}
		out[field] = encoded
	}
	if len(violations) > 0 {
		sortViolations(violations)
		return nil, newValidationError(c.name, "", violations)
	}
	return out, nil
}

func (c *Collection[T]) decode(id string, raw map[string]any) (T, error) {
	var zero T
	if raw == nil {
		return zero, newValidationError(c.name, id, []Violation{{Reason: "document has no data"}})
	}

	doc := make(map[string]any, len(raw)+len(c.read))
	for k, v := range raw {
		doc[k] = v
	}
	// identity lives in Record.ID, never in the body
	delete(doc, "_id")
	var violations []Violation
	for field, fc := range c.read {
		value, present := doc[field]
		if !present {
			if fc.Nullable() {
				doc[field] = nil
			}
			continue
		}
		decoded, err := fc.Decode(value)
		if err != nil {
			violations = append(violations, Violation{Field: field, Reason: err.Error()})
			continue
		}
		doc[field] = decoded
	}
	if len(violations) > 0 {
		sortViolations(violations)
		return zero, newValidationError(c.name, id, violations)
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return zero, newValidationError(c.name, id, []Violation{{Reason: "document is not representable: " + err.Error()}})
	}
	if err := c.check(id, body); err != nil {
		return zero, err
	}
	var out T
	if err := json.Unmarshal(body, &out); err != nil {
		return zero, newValidationError(c.name, id, []Violation{{Reason: err.Error()}})
	}
	return out, nil
}

func (c *Collection[T]) check(id string, body []byte) error {
	return c.validate(c.validator, id, body)
}

func (c *Collection[T]) validate(schema *gojsonschema.Schema, id string, body []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return newValidationError(c.name, id, []Violation{{Reason: err.Error()}})
	}
	if result.Valid() {
		return nil
	}
	violations := make([]Violation, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		violations = append(violations, Violation{Field: fieldOf(re), Reason: re.Description()})
	}
	sortViolations(violations)
	return newValidationError(c.name, id, violations)
}

func fieldOf(re gojsonschema.ResultError) string {
	field := re.Field()
	if field == gojsonschema.STRING_CONTEXT_ROOT {
		field = ""
	}
	if re.Type() == "required" {
		if prop, ok := re.Details()["property"].(string); ok {
			if field == "" {
				return prop
			}
			return field + "." + prop
		}
	}
	return field
}

func sortViolations(v []Violation) {
	sort.SliceStable(v, func(i, j int) bool { return v[i].Field < v[j].Field })
}

func decodeJSONObject(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	normalized, _ := normalizeNumbers(out).(map[string]any)
	return normalized, nil
}

// normalizeNumbers turns json.Number into int64 when integral and float64 otherwise.
func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		for k, inner := range t {
			t[k] = normalizeNumbers(inner)
		}
		return t
	case []any:
		for i, inner := range t {
			t[i] = normalizeNumbers(inner)
		}
		return t
	default:
		return v
	}
}
