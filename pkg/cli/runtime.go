package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nimburion/docops/pkg/config"
	"github.com/nimburion/docops/pkg/health"
	"github.com/nimburion/docops/pkg/membership"
	"github.com/nimburion/docops/pkg/observability/logger"
	"github.com/nimburion/docops/pkg/observability/metrics"
	"github.com/nimburion/docops/pkg/observability/tracing"
	"github.com/nimburion/docops/pkg/querycache"
	"github.com/nimburion/docops/pkg/registry"
	"github.com/nimburion/docops/pkg/repository/document"
	"github.com/nimburion/docops/pkg/resilience"
	"github.com/nimburion/docops/pkg/store"
	"github.com/nimburion/docops/pkg/version"
)

// RuntimeFactory builds the runtime a command operates on.
type RuntimeFactory func(ctx context.Context, cfg *config.Config, log logger.Logger) (*Runtime, error)

// Runtime is everything a command needs, wired from one Config.
type Runtime struct {
	Config     *config.Config
	Log        logger.Logger
	Documents  *store.DocumentBackend
	Cache      *store.CacheBackend
	QueryCache *querycache.Client
	Catalog    *registry.Catalog
	Members    *membership.Module
	Health     *health.Registry
	Metrics    *metrics.Registry

	tracer *tracing.TracerProvider
}

// NewRuntime connects the configured backends and registers the mirrors.
// On error every backend opened so far is closed.
func NewRuntime(ctx context.Context, cfg *config.Config, log logger.Logger) (_ *Runtime, err error) {
	rt := &Runtime{Config: cfg, Log: log, Health: health.NewRegistry(), Metrics: metrics.NewRegistry()}
	defer func() {
		if err != nil {
			_ = rt.Close(context.Background())
		}
	}()

	rt.tracer, err = tracing.NewTracerProvider(ctx, tracing.TracerConfig{
		ServiceName:    cfg.Service.Name,
		ServiceVersion: version.Current(cfg.Service.Name).Version,
		Environment:    cfg.Service.Environment,
		Endpoint:       cfg.Observability.TracingEndpoint,
		SampleRate:     cfg.Observability.TracingSampleRate,
		Enabled:        cfg.Observability.TracingEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("create tracer provider: %w", err)
	}

	if rt.Documents, err = store.NewDocumentStore(cfg.Database, log); err != nil {
		return nil, fmt.Errorf("open document store: %w", err)
	}
	rt.Health.Register(health.NewChecker("database", rt.Documents, cfg.Database.QueryTimeout))

	if rt.Cache, err = store.NewCacheStore(cfg.Cache, log); err != nil {
		return nil, fmt.Errorf("open cache store: %w", err)
	}
	var moduleOpts []membership.Option
	if rt.Cache != nil {
		cacheOpts := []querycache.Option{
			querycache.WithLogger(log),
			querycache.WithDefaultTTL(cfg.Cache.TTL),
		}
		if cfg.Cache.Type == config.CacheTypeRedis {
			cacheOpts = append(cacheOpts, querycache.WithCircuitBreaker(cacheBreaker(log)))
		}
		rt.QueryCache = querycache.New(rt.Cache.Store, cacheOpts...)
		moduleOpts = append(moduleOpts, membership.WithCache(rt.QueryCache, cfg.Cache.TTL))
		rt.Health.Register(health.NewChecker("cache", rt.Cache, cfg.Cache.OperationTimeout).Optional())
	}

	rules, err := document.NewRules(accessRules(cfg.Access))
	if err != nil {
		return nil, fmt.Errorf("compile access rules: %w", err)
	}
	scoped := document.NewScoped(rt.Documents.Store, rules, document.Principal{})

	if rt.Members, err = membership.NewModule(rt.Documents.Store, scoped, log, moduleOpts...); err != nil {
		return nil, err
	}
	rt.Catalog = registry.NewCatalog()
	if err = rt.Catalog.Register(rt.Members.Mirror); err != nil {
		return nil, err
	}
	return rt, nil
}

// cacheBreaker stops talking to a remote cache after five consecutive
// failures and probes it again every 30s.
func cacheBreaker(log logger.Logger) *resilience.CircuitBreaker {
	return resilience.NewCircuitBreaker(5, 30*time.Second,
		resilience.OnStateChange(func(from, to resilience.State) {
			log.Warn("query cache breaker state changed", "from", from.String(), "to", to.String())
		}),
	)
}

// accessRules overlays configured rules on the membership defaults. A
// configured collection replaces its default rule as a whole.
func accessRules(cfg config.AccessConfig) map[string]document.Rule {
	rules := membership.DefaultRules()
	for collection, r := range cfg.Rules {
		rules[collection] = document.Rule{Read: r.Read, Write: r.Write}
	}
	return rules
}

// Close releases every backend and flushes traces.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	if rt.Cache != nil {
		errs = append(errs, rt.Cache.Close())
	}
	if rt.Documents != nil {
		errs = append(errs, rt.Documents.Close())
	}
	if rt.tracer != nil {
		errs = append(errs, rt.tracer.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
