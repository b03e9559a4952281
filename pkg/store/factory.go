package store

import (
	"context"
	"fmt"

	"github.com/nimburion/docops/pkg/config"
	"github.com/nimburion/docops/pkg/observability/logger"
	"github.com/nimburion/docops/pkg/querycache"
	"github.com/nimburion/docops/pkg/repository/document"
	"github.com/nimburion/docops/pkg/store/dynamodb"
	"github.com/nimburion/docops/pkg/store/mongodb"
	"github.com/nimburion/docops/pkg/store/redis"
)

// DocumentBackend is the privileged document store and the adapter owning
// its connection. The memory backend has no adapter.
type DocumentBackend struct {
	Store   document.Store
	Type    string
	adapter Adapter
}

// HealthCheck implements Adapter.
func (b *DocumentBackend) HealthCheck(ctx context.Context) error {
	if b.adapter == nil {
		return nil
	}
	return b.adapter.HealthCheck(ctx)
}

// Close implements Adapter.
func (b *DocumentBackend) Close() error {
	if b.adapter == nil {
		return nil
	}
	return b.adapter.Close()
}

// NewDocumentStore selects and connects the document store named by cfg.Type.
// There is no fallback between backends.
func NewDocumentStore(cfg config.DatabaseConfig, log logger.Logger) (*DocumentBackend, error) {
	switch cfg.Type {
	case config.DatabaseTypeMemory:
		return &DocumentBackend{Store: document.NewMemoryStore(), Type: cfg.Type}, nil
	case config.DatabaseTypeMongoDB:
		adapter, err := mongodb.NewAdapter(mongodb.Config{
			URL:              cfg.URL,
			Database:         cfg.DatabaseName,
			AppName:          mongoAppName,
			ConnectTimeout:   cfg.ConnectTimeout,
			OperationTimeout: cfg.QueryTimeout,
		}, log)
		if err != nil {
			return nil, err
		}
		s, err := document.NewMongoStore(adapter)
		if err != nil {
			_ = adapter.Close()
			return nil, err
		}
		return &DocumentBackend{Store: s, Type: cfg.Type, adapter: adapter}, nil
	case config.DatabaseTypeDynamoDB:
		adapter, err := dynamodb.NewAdapter(dynamodb.Config{
			Region:           cfg.Region,
			Endpoint:         cfg.Endpoint,
			AccessKeyID:      cfg.AccessKeyID,
			SecretAccessKey:  cfg.SecretAccessKey,
			SessionToken:     cfg.SessionToken,
			MaxAttempts:      cfg.MaxAttempts,
			OperationTimeout: cfg.QueryTimeout,
		}, log)
		if err != nil {
			return nil, err
		}
		s, err := document.NewDynamoStore(adapter, cfg.KeyAttribute)
		if err != nil {
			_ = adapter.Close()
			return nil, err
		}
		return &DocumentBackend{Store: s, Type: cfg.Type, adapter: adapter}, nil
	default:
		return nil, fmt.Errorf("%w: database.type %q (supported: memory, mongodb, dynamodb)", ErrUnsupported, cfg.Type)
	}
}

// CacheBackend is the query cache backend and the adapter owning its
// connection.
type CacheBackend struct {
	Store   querycache.Store
	adapter Adapter
}

// HealthCheck implements Adapter.
func (b *CacheBackend) HealthCheck(ctx context.Context) error {
	if b.adapter == nil {
		return nil
	}
	return b.adapter.HealthCheck(ctx)
}

// Close implements Adapter.
func (b *CacheBackend) Close() error {
	return b.Store.Close()
}

// NewCacheStore selects the query cache backend. It returns nil, nil when
// caching is disabled.
func NewCacheStore(cfg config.CacheConfig, log logger.Logger) (*CacheBackend, error) {
	switch cfg.Type {
	case config.CacheTypeNone:
		return nil, nil
	case config.CacheTypeInMemory:
		return &CacheBackend{Store: querycache.NewInMemoryStore()}, nil
	case config.CacheTypeRedis:
		adapter, err := redis.NewAdapter(redis.Config{
			URL:              cfg.URL,
			MaxConns:         cfg.MaxConns,
			OperationTimeout: cfg.OperationTimeout,
		}, log)
		if err != nil {
			return nil, err
		}
		s, err := querycache.NewRedisStore(adapter, cfg.Namespace)
		if err != nil {
			_ = adapter.Close()
			return nil, err
		}
		return &CacheBackend{Store: s, adapter: adapter}, nil
	default:
		return nil, fmt.Errorf("%w: cache.type %q (supported: none, inmemory, redis)", ErrUnsupported, cfg.Type)
	}
}
