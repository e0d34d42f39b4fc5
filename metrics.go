package respool

import "github.com/prometheus/client_golang/prometheus"

// statsProvider is satisfied by any *Pool[T] regardless of T, since
// Stats() returns the non-generic Stats struct. It lets PoolCollector
// stay a plain, non-generic prometheus.Collector.
type statsProvider interface {
	Stats() Stats
}

// PoolCollector exposes a Pool's introspection properties (spec.md §6:
// size, available, borrowed, pending, spareResourceCapacity, max, min)
// as Prometheus gauges. Each Collect call takes one Stats snapshot under
// the pool's lock and turns it into const metrics, so scraping never
// blocks acquire/release on the hot path.
//
// Grounded on cubefs/cubefs's use of github.com/prometheus/client_golang
// for blobstore and node metrics.
type PoolCollector struct {
	provider statsProvider

	size      *prometheus.Desc
	available *prometheus.Desc
	borrowed  *prometheus.Desc
	pending   *prometheus.Desc
	spare     *prometheus.Desc
	max       *prometheus.Desc
	min       *prometheus.Desc
}

// NewCollector builds a PoolCollector for p, labeling every metric with
// pool="name" so multiple pools can share one registry.
func NewCollector[T comparable](name string, p *Pool[T]) *PoolCollector {
	labels := prometheus.Labels{"pool": name}
	ns := "respool"

	return &PoolCollector{
		provider: p,
		size: prometheus.NewDesc(
			prometheus.BuildFQName(ns, "", "size"),
			"Total resources currently known to the pool (idle + borrowed + in-flight creation).",
			nil, labels,
		),
		available: prometheus.NewDesc(
			prometheus.BuildFQName(ns, "", "available"),
			"Idle resources ready to be dispensed.",
			nil, labels,
		),
		borrowed: prometheus.NewDesc(
			prometheus.BuildFQName(ns, "", "borrowed"),
			"Resources currently on loan to a caller.",
			nil, labels,
		),
		pending: prometheus.NewDesc(
			prometheus.BuildFQName(ns, "", "pending"),
			"Acquire requests waiting in the priority queue.",
			nil, labels,
		),
		spare: prometheus.NewDesc(
			prometheus.BuildFQName(ns, "", "spare_resource_capacity"),
			"Additional resources that could still be created before hitting max.",
			nil, labels,
		),
		max: prometheus.NewDesc(
			prometheus.BuildFQName(ns, "", "max"),
			"Configured ceiling on total resources.",
			nil, labels,
		),
		min: prometheus.NewDesc(
			prometheus.BuildFQName(ns, "", "min"),
			"Configured floor that ensureMinimum targets.",
			nil, labels,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.size
	ch <- c.available
	ch <- c.borrowed
	ch <- c.pending
	ch <- c.spare
	ch <- c.max
	ch <- c.min
}

// Collect implements prometheus.Collector.
func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.provider.Stats()

	ch <- prometheus.MustNewConstMetric(c.size, prometheus.GaugeValue, float64(s.Size))
	ch <- prometheus.MustNewConstMetric(c.available, prometheus.GaugeValue, float64(s.Available))
	ch <- prometheus.MustNewConstMetric(c.borrowed, prometheus.GaugeValue, float64(s.Borrowed))
	ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(s.Pending))
	ch <- prometheus.MustNewConstMetric(c.spare, prometheus.GaugeValue, float64(s.SpareResourceCapacity))
	ch <- prometheus.MustNewConstMetric(c.max, prometheus.GaugeValue, float64(s.Max))
	ch <- prometheus.MustNewConstMetric(c.min, prometheus.GaugeValue, float64(s.Min))
}
