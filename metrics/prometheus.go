package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"imagepipeline/memory"
)

const namespace = "imagepipeline"

// PrometheusTracker exports pool events as Prometheus counters labelled by
// pool name.
type PrometheusTracker struct {
	allocs       *prometheus.CounterVec
	allocBytes   *prometheus.CounterVec
	reuses       *prometheus.CounterVec
	releases     *prometheus.CounterVec
	frees        *prometheus.CounterVec
	freedBytes   *prometheus.CounterVec
	softCapHits  *prometheus.CounterVec
	hardCapHits  *prometheus.CounterVec
	trims        *prometheus.CounterVec
	trimmedBytes *prometheus.CounterVec
}

var _ memory.PoolStatsTracker = (*PrometheusTracker)(nil)

// NewPrometheusTracker registers the pool counters on reg. A nil reg uses
// the default registerer.
func NewPrometheusTracker(reg prometheus.Registerer) *PrometheusTracker {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      name,
			Help:      help,
		}, append([]string{"pool"}, labels...))
	}

	return &PrometheusTracker{
		allocs:       counter("allocations_total", "Values allocated because no free value fit."),
		allocBytes:   counter("allocated_bytes_total", "Bytes allocated by the pool."),
		reuses:       counter("reuses_total", "Gets served from a free list."),
		releases:     counter("releases_total", "Released values kept for reuse."),
		frees:        counter("frees_total", "Values disposed instead of kept."),
		freedBytes:   counter("freed_bytes_total", "Bytes disposed by the pool."),
		softCapHits:  counter("soft_cap_reached_total", "Allocations that crossed the soft cap."),
		hardCapHits:  counter("hard_cap_reached_total", "Gets refused at the hard cap."),
		trims:        counter("trims_total", "Trim passes.", "type"),
		trimmedBytes: counter("trimmed_bytes_total", "Bytes released by trim passes.", "type"),
	}
}

func (p *PrometheusTracker) OnAlloc(pool string, n int) {
	p.allocs.WithLabelValues(pool).Inc()
	p.allocBytes.WithLabelValues(pool).Add(float64(n))
}

func (p *PrometheusTracker) OnValueReuse(pool string, _ int) {
	p.reuses.WithLabelValues(pool).Inc()
}

func (p *PrometheusTracker) OnValueRelease(pool string, _ int) {
	p.releases.WithLabelValues(pool).Inc()
}

func (p *PrometheusTracker) OnFree(pool string, n int) {
	p.frees.WithLabelValues(pool).Inc()
	p.freedBytes.WithLabelValues(pool).Add(float64(n))
}

func (p *PrometheusTracker) OnSoftCapReached(pool string) {
	p.softCapHits.WithLabelValues(pool).Inc()
}

func (p *PrometheusTracker) OnHardCapReached(pool string) {
	p.hardCapHits.WithLabelValues(pool).Inc()
}

func (p *PrometheusTracker) OnTrim(pool string, trimType memory.TrimType, freed int) {
	p.trims.WithLabelValues(pool, trimType.String()).Inc()
	p.trimmedBytes.WithLabelValues(pool, trimType.String()).Add(float64(freed))
}

// StatsSource is anything that can report a pool snapshot.
type StatsSource interface {
	Stats() memory.PoolStats
}

// PoolCollector reports the current size of each pool at scrape time.
type PoolCollector struct {
	sources []StatsSource

	usedBytes *prometheus.Desc
	freeBytes *prometheus.Desc
	usedCount *prometheus.Desc
	freeCount *prometheus.Desc
	softCap   *prometheus.Desc
	hardCap   *prometheus.Desc
}

var _ prometheus.Collector = (*PoolCollector)(nil)

// NewPoolCollector returns a collector over sources. Register it with
// reg.MustRegister.
func NewPoolCollector(sources ...StatsSource) *PoolCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "pool", name), help, []string{"pool"}, nil)
	}
	return &PoolCollector{
		sources:   sources,
		usedBytes: desc("used_bytes", "Bytes handed out and not yet released."),
		freeBytes: desc("free_bytes", "Bytes held on free lists."),
		usedCount: desc("used_values", "Values handed out and not yet released."),
		freeCount: desc("free_values", "Values held on free lists."),
		softCap:   desc("soft_cap_bytes", "Configured soft cap."),
		hardCap:   desc("hard_cap_bytes", "Configured hard cap."),
	}
}

// Describe implements prometheus.Collector.
func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.usedBytes
	ch <- c.freeBytes
	ch <- c.usedCount
	ch <- c.freeCount
	ch <- c.softCap
	ch <- c.hardCap
}

// Collect implements prometheus.Collector.
func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	for _, src := range c.sources {
		s := src.Stats()
		gauge := func(d *prometheus.Desc, v int) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, float64(v), s.Name)
		}
		gauge(c.usedBytes, s.UsedBytes)
		gauge(c.freeBytes, s.FreeBytes)
		gauge(c.usedCount, s.UsedCount)
		gauge(c.freeCount, s.FreeCount)
		gauge(c.softCap, s.SoftCap)
		gauge(c.hardCap, s.HardCap)
	}
}
