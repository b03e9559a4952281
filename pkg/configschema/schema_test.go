package configschema

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/nimburion/docops/pkg/config"
)

func TestBuildSchema_UsesConfigKeys(t *testing.T) {
	schema, err := BuildSchema(nil)
	if err != nil {
		t.Fatalf("build schema: %v", err)
	}
	for _, path := range []string{
		"database.key_attribute",
		"cache.ttl",
		"access.rules",
		"observability.async_logging.queue_size",
	} {
		if property(schema, path) == nil {
			t.Fatalf("expected %s in generated schema", path)
		}
	}
	if _, ok := schema.Properties["Database"]; ok {
		t.Fatal("Go field names must not leak into the schema")
	}
	if len(schema.Required) != 0 {
		t.Fatalf("every key has a default, got required %v", schema.Required)
	}
}

func TestBuildSchema_Defaults(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Service.Name = "members-api"
	cfg.Cache.TTL = 90 * time.Second

	schema, err := BuildSchema(cfg)
	if err != nil {
		t.Fatalf("build schema: %v", err)
	}
	if schema.Title != "members-api configuration" {
		t.Fatalf("Title = %q", schema.Title)
	}

	tests := []struct {
		path string
		want any
	}{
		{"cache.ttl", "1m30s"},
		{"database.type", "memory"},
		{"observability.async_logging.queue_size", float64(1024)},
	}
	for _, tt := range tests {
		var got any
		if err := json.Unmarshal(property(schema, tt.path).Default, &got); err != nil {
			t.Fatalf("%s default: %v", tt.path, err)
		}
		if got != tt.want {
			t.Fatalf("%s default = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestBuildSchema_SecretsAreWriteOnly(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Cache.URL = "redis://:hunter2@localhost:6379"

	schema, err := BuildSchema(cfg)
	if err != nil {
		t.Fatalf("build schema: %v", err)
	}
	url := property(schema, "cache.url")
	if !url.WriteOnly || url.Default != nil {
		t.Fatalf("cache.url should be write-only without default: %+v", url)
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "hunter2") {
		t.Fatal("secret value leaked into the schema")
	}
}

func TestBuildSchema_Enums(t *testing.T) {
	schema, err := BuildSchema(nil)
	if err != nil {
		t.Fatalf("build schema: %v", err)
	}
	enum := property(schema, "database.type").Enum
	if len(enum) != 3 || enum[1] != config.DatabaseTypeMongoDB {
		t.Fatalf("database.type enum = %v", enum)
	}
	if property(schema, "cache.ttl").Pattern == "" {
		t.Fatal("durations should carry a pattern")
	}
}
