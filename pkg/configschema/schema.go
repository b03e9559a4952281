// Package configschema generates the JSON Schema of the docops configuration
// file, for editor completion and CI checks of deployment configs.
package configschema

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/nimburion/docops/pkg/config"
)

const durationPattern = `^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`

// enums lists the closed value sets Validate enforces.
var enums = map[string][]any{
	"database.type":            {config.DatabaseTypeMemory, config.DatabaseTypeMongoDB, config.DatabaseTypeDynamoDB},
	"cache.type":               {config.CacheTypeNone, config.CacheTypeInMemory, config.CacheTypeRedis},
	"observability.log_level":  {"debug", "info", "warn", "error"},
	"observability.log_format": {"json", "text"},
}

// BuildSchema returns the schema with defaults taken from defaults, or from
// config.DefaultConfig when nil. Secret fields are write-only and carry no
// default.
func BuildSchema(defaults *config.Config) (*jsonschema.Schema, error) {
	if defaults == nil {
		defaults = config.DefaultConfig()
	}
	t := reflect.TypeOf(config.Config{})
	schema, err := jsonschema.ForType(t, &jsonschema.ForOptions{
		IgnoreInvalidTypes: true,
		TypeSchemas: map[reflect.Type]*jsonschema.Schema{
			reflect.TypeOf(time.Duration(0)): {Type: "string", Pattern: durationPattern},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("build config schema: %w", err)
	}

	applyFieldNames(schema, t)
	injectDefaults(schema, reflect.ValueOf(defaults).Elem())
	for path, values := range enums {
		if prop := property(schema, path); prop != nil {
			prop.Enum = values
		}
	}

	name := strings.TrimSpace(defaults.Service.Name)
	if name == "" {
		name = "docops"
	}
	schema.Title = name + " configuration"
	schema.Schema = "https://json-schema.org/draft/2020-12/schema"
	return schema, nil
}

// applyFieldNames renames properties to their mapstructure keys and drops
// required lists: every key has a default.
func applyFieldNames(schema *jsonschema.Schema, t reflect.Type) {
	if schema == nil {
		return
	}
	schema.Required = nil
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			prop, ok := schema.Properties[field.Name]
			if !field.IsExported() || !ok {
				continue
			}
			delete(schema.Properties, field.Name)
			key := fieldKeyName(field)
			schema.Properties[key] = prop
			applyFieldNames(prop, field.Type)
		}
		for i, name := range schema.PropertyOrder {
			if f, ok := t.FieldByName(name); ok {
				schema.PropertyOrder[i] = fieldKeyName(f)
			}
		}
	case reflect.Map:
		applyFieldNames(schema.AdditionalProperties, t.Elem())
	}
}

func injectDefaults(schema *jsonschema.Schema, value reflect.Value) {
	t := value.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		prop := schema.Properties[fieldKeyName(field)]
		if prop == nil {
			continue
		}
		if field.Tag.Get("secret") == "true" {
			prop.WriteOnly = true
			continue
		}
		fv := value.Field(i)
		switch fv.Kind() {
		case reflect.Struct:
			injectDefaults(prop, fv)
		case reflect.Map:
		default:
			if raw, ok := marshalDefault(fv); ok {
				prop.Default = raw
			}
		}
	}
}

func marshalDefault(value reflect.Value) (json.RawMessage, bool) {
	v := value.Interface()
	if d, ok := v.(time.Duration); ok {
		v = d.String()
	}
	raw, err := json.Marshal(v)
	return raw, err == nil
}

func property(schema *jsonschema.Schema, path string) *jsonschema.Schema {
	for _, key := range strings.Split(path, ".") {
		if schema = schema.Properties[key]; schema == nil {
			return nil
		}
	}
	return schema
}

func fieldKeyName(field reflect.StructField) string {
	if tag := strings.Split(field.Tag.Get("mapstructure"), ",")[0]; tag != "" && tag != "-" {
		return tag
	}
	return strings.ToLower(field.Name)
}
