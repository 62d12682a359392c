package cache

import (
	"github.com/prometheus/client_golang/prometheus"
)

// cacheMetrics exposes cache statistics as Prometheus metrics.
type cacheMetrics struct {
	hits    prometheus.Counter
	misses  prometheus.Counter
	sets    prometheus.Counter
	deletes prometheus.Counter
	size    prometheus.Gauge
}

// newCacheMetrics registers cache metrics with the provided registerer.
// The prefix becomes the component label so multiple caches can share a registry.
func newCacheMetrics(reg prometheus.Registerer, prefix string) (*cacheMetrics, error) {
	m := &cacheMetrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "servicebus",
			Subsystem:   "cache",
			Name:        "hits_total",
			Help:        "Total cache hits",
			ConstLabels: prometheus.Labels{"cache": prefix},
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "servicebus",
			Subsystem:   "cache",
			Name:        "misses_total",
			Help:        "Total cache misses",
			ConstLabels: prometheus.Labels{"cache": prefix},
		}),
		sets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "servicebus",
			Subsystem:   "cache",
			Name:        "sets_total",
			Help:        "Total cache set operations",
			ConstLabels: prometheus.Labels{"cache": prefix},
		}),
		deletes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "servicebus",
			Subsystem:   "cache",
			Name:        "deletes_total",
			Help:        "Total cache delete operations",
			ConstLabels: prometheus.Labels{"cache": prefix},
		}),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "servicebus",
			Subsystem:   "cache",
			Name:        "entries",
			Help:        "Current number of cache entries",
			ConstLabels: prometheus.Labels{"cache": prefix},
		}),
	}

	for _, c := range []prometheus.Collector{m.hits, m.misses, m.sets, m.deletes, m.size} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *cacheMetrics) recordHit()       { m.hits.Inc() }
func (m *cacheMetrics) recordMiss()      { m.misses.Inc() }
func (m *cacheMetrics) recordSet()       { m.sets.Inc() }
func (m *cacheMetrics) recordDelete()    { m.deletes.Inc() }
func (m *cacheMetrics) updateSize(n int) { m.size.Set(float64(n)) }
