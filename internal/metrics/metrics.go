// Package metrics collects the Prometheus instrumentation shared by the
// pool and cache packages. The queue-depth gauges are grounded directly
// on the teacher's friggdb/pool package (metricQueryQueueLength /
// metricQueryQueueMax); the cache counters generalize the same idiom to
// hits/misses/evictions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every collector the proxy registers. A single instance
// is constructed at startup and threaded through the pool and cache.
type Metrics struct {
	QueueLength  prometheus.Gauge
	QueueMax     prometheus.Gauge
	TaskDuration prometheus.Histogram
	TasksTotal   prometheus.Counter

	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	CacheEvictions prometheus.Counter
	CacheEntries   prometheus.Gauge
}

// New registers and returns the proxy's metrics against reg. Passing a
// fresh prometheus.NewRegistry() keeps test instances isolated from the
// global default registerer.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		QueueLength: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "cacheproxy",
			Name:      "task_queue_length",
			Help:      "Current number of tasks waiting in the pool's queue.",
		}),
		QueueMax: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "cacheproxy",
			Name:      "task_queue_capacity",
			Help:      "Configured capacity of the pool's task queue.",
		}),
		TaskDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cacheproxy",
			Name:      "task_duration_seconds",
			Help:      "Time spent running a submitted task.",
			Buckets:   prometheus.DefBuckets,
		}),
		TasksTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "cacheproxy",
			Name:      "tasks_total",
			Help:      "Total number of tasks executed by the pool.",
		}),
		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: "cacheproxy",
			Name:      "cache_hits_total",
			Help:      "Requests served from an existing cache entry.",
		}),
		CacheMisses: f.NewCounter(prometheus.CounterOpts{
			Namespace: "cacheproxy",
			Name:      "cache_misses_total",
			Help:      "Requests that became the producer for a new cache entry.",
		}),
		CacheEvictions: f.NewCounter(prometheus.CounterOpts{
			Namespace: "cacheproxy",
			Name:      "cache_evictions_total",
			Help:      "Cache entries removed by the evictor or by upstream failure.",
		}),
		CacheEntries: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "cacheproxy",
			Name:      "cache_entries",
			Help:      "Approximate number of live cache entries.",
		}),
	}
}
