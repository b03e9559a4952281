// Package metrics holds the Prometheus collectors for document reads, writes
// and the query cache, and a Registry that exposes them.
package metrics

import (
	"io"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
)

// Namespace prefixes every docops metric name.
const Namespace = "docops_"

// docopsCollectors are registered by promauto on the default registerer and
// again on every Registry.
var docopsCollectors = []prometheus.Collector{
	documentReadsTotal,
	documentReadDuration,
	documentRejectedTotal,
	documentWritesTotal,
	cacheResultsTotal,
	cacheLoadDuration,
	cacheInvalidationsTotal,
}

// Registry is a private Prometheus registry carrying the docops collectors
// plus Go runtime and process metrics.
type Registry struct {
	reg *prometheus.Registry
}

// NewRegistry builds a Registry. extra collectors are registered after the
// defaults and must not collide with them.
func NewRegistry(extra ...prometheus.Collector) *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(docopsCollectors...)
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	reg.MustRegister(extra...)
	return &Registry{reg: reg}
}

// Register adds a collector.
func (r *Registry) Register(c prometheus.Collector) error {
	return r.reg.Register(c)
}

// Gatherer exposes the registry for custom exposition.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Handler serves the registry in the Prometheus text or OpenMetrics format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// WriteText writes every family whose name starts with prefix in the
// Prometheus text format. An empty prefix writes everything.
func (r *Registry) WriteText(w io.Writer, prefix string) error {
	families, err := r.reg.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if !strings.HasPrefix(mf.GetName(), prefix) {
			continue
		}
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
