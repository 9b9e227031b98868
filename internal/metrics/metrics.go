// Package metrics exposes prometheus collectors for ingestion, querying and
// model usage.
package metrics

import (
	"net/http"
	"time"

	"github.com/OFFIS-RIT/scholargraph/pkg/ai"
	"github.com/OFFIS-RIT/scholargraph/pkg/common"
	"github.com/OFFIS-RIT/scholargraph/pkg/ingest"
	"github.com/OFFIS-RIT/scholargraph/pkg/query"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "scholargraph"

type Collector struct {
	registry *prometheus.Registry

	documentsIngested *prometheus.CounterVec
	ingestDuration    *prometheus.HistogramVec

	queryDuration *prometheus.HistogramVec
	cacheHits     prometheus.Counter
	cacheMisses   prometheus.Counter
	degraded      prometheus.Counter

	modelTokens   *prometheus.CounterVec
	modelDuration prometheus.Counter
}

// NewCollector registers every collector on a fresh registry together with
// the go and process collectors.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		documentsIngested: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_ingested_total",
			Help:      "Documents processed by the ingestion pipeline, by final status.",
		}, []string{"status"}),
		ingestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Wall time of a single document ingestion.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"status"}),
		queryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Wall time of answering a query.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"query_type"}),
		cacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_cache_hits_total",
			Help:      "Queries answered from the response cache.",
		}),
		cacheMisses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_cache_misses_total",
			Help:      "Queries not found in the response cache.",
		}),
		degraded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_degraded_total",
			Help:      "Queries answered with the degraded fallback response.",
		}),
		modelTokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_tokens_total",
			Help:      "Tokens consumed by model calls.",
		}, []string{"direction"}),
		modelDuration: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_duration_seconds_total",
			Help:      "Time spent waiting on model calls.",
		}),
	}
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) DocumentIngested(status string, d time.Duration) {
	c.documentsIngested.WithLabelValues(status).Inc()
	c.ingestDuration.WithLabelValues(status).Observe(d.Seconds())
}

func (c *Collector) CacheLookup(hit bool) {
	if hit {
		c.cacheHits.Inc()
		return
	}
	c.cacheMisses.Inc()
}

func (c *Collector) QueryAnswered(queryType common.QueryType, d time.Duration, degraded bool) {
	if queryType == "" {
		queryType = common.QueryTypeFactual
	}
	c.queryDuration.WithLabelValues(string(queryType)).Observe(d.Seconds())
	if degraded {
		c.degraded.Inc()
	}
}

// ModelUsage adds the counters of a finished unit of work.
func (c *Collector) ModelUsage(m ai.ModelMetrics) {
	c.modelTokens.WithLabelValues("input").Add(float64(m.InputTokens))
	c.modelTokens.WithLabelValues("output").Add(float64(m.OutputTokens))
	c.modelDuration.Add(float64(m.DurationMs) / 1000)
}

var (
	_ query.Observer  = (*Collector)(nil)
	_ ingest.Observer = (*Collector)(nil)
)
