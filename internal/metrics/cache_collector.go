package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/munim110/vector-tile-server/internal/cache"
)

// cacheCollector exports cache statistics read from a snapshot at scrape
// time, so the cache keeps a single source of truth for its counters.
type cacheCollector struct {
	snapshot func() cache.Stats

	entries     *prometheus.Desc
	capacity    *prometheus.Desc
	pending     *prometheus.Desc
	hits        *prometheus.Desc
	misses      *prometheus.Desc
	coalesced   *prometheus.Desc
	loads       *prometheus.Desc
	failures    *prometheus.Desc
	evictions   *prometheus.Desc
	expirations *prometheus.Desc
}

func newCacheCollector(snapshot func() cache.Stats) *cacheCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "cache", name), help, nil, nil)
	}
	return &cacheCollector{
		snapshot:    snapshot,
		entries:     desc("entries", "Number of resident cache entries"),
		capacity:    desc("capacity", "Maximum number of resident cache entries"),
		pending:     desc("pending_loads", "Number of loads in flight"),
		hits:        desc("hits_total", "Resolves answered from a resident entry"),
		misses:      desc("misses_total", "Resolves that started a new load"),
		coalesced:   desc("coalesced_total", "Resolves that attached to a load already in flight"),
		loads:       desc("loads_total", "Loads started"),
		failures:    desc("load_failures_total", "Loads that returned an error"),
		evictions:   desc("evictions_total", "Entries evicted to make room"),
		expirations: desc("expirations_total", "Entries dropped after their TTL"),
	}
}

func (c *cacheCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.entries
	ch <- c.capacity
	ch <- c.pending
	ch <- c.hits
	ch <- c.misses
	ch <- c.coalesced
	ch <- c.loads
	ch <- c.failures
	ch <- c.evictions
	ch <- c.expirations
}

func (c *cacheCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.snapshot()

	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}
	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}

	gauge(c.entries, float64(len(s.Entries)))
	gauge(c.capacity, float64(s.Capacity))
	gauge(c.pending, float64(s.Pending))
	counter(c.hits, s.Hits)
	counter(c.misses, s.Misses)
	counter(c.coalesced, s.Coalesced)
	counter(c.loads, s.Loads)
	counter(c.failures, s.LoadFailures)
	counter(c.evictions, s.Evictions)
	counter(c.expirations, s.Expirations)
}

// RegisterCache exports the statistics returned by snapshot.
func (m *Metrics) RegisterCache(snapshot func() cache.Stats) error {
	return m.registry.Register(newCacheCollector(snapshot))
}
