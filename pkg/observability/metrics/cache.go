package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cache outcomes.
const (
	CacheHit    = "hit"
	CacheMiss   = "miss"
	CacheShared = "shared"
	CacheError  = "error"
	// CacheBypass counts lookups skipped while the backend breaker is open.
	CacheBypass = "bypass"
)

var (
	cacheResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docops_query_cache_results_total",
			Help: "Query cache lookups by outcome.",
		},
		[]string{"prefix", "result"},
	)

	cacheLoadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docops_query_cache_load_duration_seconds",
			Help:    "Time spent loading a missed cache entry.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"prefix"},
	)

	cacheInvalidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docops_query_cache_invalidated_entries_total",
			Help: "Entries dropped by prefix invalidation.",
		},
		[]string{"prefix"},
	)
)

// RecordCacheResult counts one cache lookup. prefix is the first key segment.
func RecordCacheResult(prefix, result string) {
	cacheResultsTotal.WithLabelValues(prefix, result).Inc()
}

// RecordCacheLoad observes the latency of a loader run on a miss.
func RecordCacheLoad(prefix string, duration time.Duration) {
	cacheLoadDuration.WithLabelValues(prefix).Observe(duration.Seconds())
}

// RecordCacheInvalidation counts dropped entries.
func RecordCacheInvalidation(prefix string, n int) {
	cacheInvalidationsTotal.WithLabelValues(prefix).Add(float64(n))
}
