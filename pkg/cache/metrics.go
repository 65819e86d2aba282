package cache

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/cachescope/metric"
)

type cacheMetrics struct {
	hits    prometheus.Counter
	misses  prometheus.Counter
	sets    prometheus.Counter
	deletes prometheus.Counter
	size    prometheus.Gauge
}

func newCacheMetrics(registry *metric.MetricsRegistry, prefix string) (*cacheMetrics, error) {
	labels := prometheus.Labels{"cache": prefix}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "cachescope",
			Subsystem:   "cache",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}

	m := &cacheMetrics{
		hits:    counter("hits_total", "Lookups that found an entry"),
		misses:  counter("misses_total", "Lookups that found nothing"),
		sets:    counter("sets_total", "Set operations"),
		deletes: counter("deletes_total", "Entries removed"),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "cachescope",
			Subsystem:   "cache",
			Name:        "size",
			Help:        "Current number of entries",
			ConstLabels: labels,
		}),
	}

	for name, c := range map[string]prometheus.Counter{
		"cache_hits":    m.hits,
		"cache_misses":  m.misses,
		"cache_sets":    m.sets,
		"cache_deletes": m.deletes,
	} {
		if err := registry.RegisterCounter(prefix, name, c); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterGauge(prefix, "cache_size", m.size); err != nil {
		return nil, err
	}
	return m, nil
}
