package store

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nimburion/docops/pkg/config"
	"github.com/nimburion/docops/pkg/observability/logger"
	"github.com/nimburion/docops/pkg/repository/document"
)

var (
	_ Adapter = (*DocumentBackend)(nil)
	_ Adapter = (*CacheBackend)(nil)
)

func TestNewDocumentStore_Memory(t *testing.T) {
	backend, err := NewDocumentStore(config.DatabaseConfig{Type: config.DatabaseTypeMemory}, logger.Nop())
	if err != nil {
		t.Fatalf("NewDocumentStore() error = %v", err)
	}
	defer backend.Close()

	if _, ok := backend.Store.(*document.MemoryStore); !ok {
		t.Fatalf("expected a memory store, got %T", backend.Store)
	}
	if err := backend.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}
}

func TestNewDocumentStore_Errors(t *testing.T) {
	tests := []struct {
		name        string
		cfg         config.DatabaseConfig
		want        string
		unsupported bool
	}{
		{"empty type", config.DatabaseConfig{}, "database.type", true},
		{"unknown type", config.DatabaseConfig{Type: "postgres"}, `"postgres"`, true},
		{"mongodb without url", config.DatabaseConfig{Type: config.DatabaseTypeMongoDB, DatabaseName: "m"}, "URL", false},
		{"dynamodb without region", config.DatabaseConfig{Type: config.DatabaseTypeDynamoDB}, "region", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend, err := NewDocumentStore(tt.cfg, logger.Nop())
			if err == nil || backend != nil {
				t.Fatalf("expected error, got backend %v", backend)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
			if errors.Is(err, ErrUnsupported) != tt.unsupported {
				t.Fatalf("errors.Is(err, ErrUnsupported) = %v, want %v", !tt.unsupported, tt.unsupported)
			}
		})
	}
}

func TestNewCacheStore(t *testing.T) {
	none, err := NewCacheStore(config.CacheConfig{Type: config.CacheTypeNone}, logger.Nop())
	if err != nil || none != nil {
		t.Fatalf("disabled cache = %v, %v", none, err)
	}

	mem, err := NewCacheStore(config.CacheConfig{Type: config.CacheTypeInMemory}, logger.Nop())
	if err != nil {
		t.Fatalf("NewCacheStore() error = %v", err)
	}
	if mem.Store.System() != "memory" {
		t.Fatalf("System() = %q", mem.Store.System())
	}
	if err := mem.HealthCheck(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := mem.Close(); err != nil {
		t.Fatal(err)
	}

	if _, err := NewCacheStore(config.CacheConfig{Type: "memcached"}, logger.Nop()); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("memcached error = %v, want ErrUnsupported", err)
	}
	if _, err := NewCacheStore(config.CacheConfig{Type: config.CacheTypeRedis, URL: "::bad"}, logger.Nop()); err == nil {
		t.Fatal("expected redis url error")
	}
}
