package httpapi

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"analyzerd/pkg/types"
)

// StatsSource provides the snapshot projected by the stats collector.
type StatsSource interface {
	Stats() types.StatsResponse
}

type statsCollector struct {
	src StatsSource

	kindLoaded    *prometheus.Desc
	kindInflight  *prometheus.Desc
	kindFailures  *prometheus.Desc
	cacheEntries  *prometheus.Desc
	cacheHits     *prometheus.Desc
	cacheMisses   *prometheus.Desc
	cacheEvicted  *prometheus.Desc
	cacheExpired  *prometheus.Desc
	memUsage      *prometheus.Desc
	memLimit      *prometheus.Desc
	loadsTotal    *prometheus.Desc
	evictTotal    *prometheus.Desc
	loaderActive  *prometheus.Desc
	analyzeTotals *prometheus.Desc
}

// NewStatsCollector exposes the service's Stats as Prometheus metrics,
// computed at scrape time.
func NewStatsCollector(src StatsSource) prometheus.Collector {
	d := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("analyzerd", "", name), help, labels, nil)
	}
	return &statsCollector{
		src:           src,
		kindLoaded:    d("kind_loaded", "1 when the kind's engine is loaded", "kind"),
		kindInflight:  d("kind_inflight", "Requests currently using the kind's engine", "kind"),
		kindFailures:  d("kind_load_failures_total", "Failed loads per kind", "kind"),
		cacheEntries:  d("cache_entries", "Result cache size"),
		cacheHits:     d("cache_hits_total", "Result cache hits"),
		cacheMisses:   d("cache_misses_total", "Result cache misses"),
		cacheEvicted:  d("cache_evictions_total", "Result cache LRU evictions"),
		cacheExpired:  d("cache_expirations_total", "Result cache TTL expirations"),
		memUsage:      d("memory_usage_bytes", "Current memory usage as seen by the configured source", "source"),
		memLimit:      d("memory_limit_bytes", "Memory budget (0 = unlimited)"),
		loadsTotal:    d("engine_loads_total", "Successful engine loads"),
		evictTotal:    d("engine_evictions_total", "Engine evictions"),
		loaderActive:  d("loader_active", "1 when the background loader is running and not paused"),
		analyzeTotals: d("analyze_calls_total", "Analyze calls served"),
	}
}

// RegisterStatsCollector registers a stats collector for src on reg, or on the
// default registerer when reg is nil. Registering twice is not an error.
func RegisterStatsCollector(reg prometheus.Registerer, src StatsSource) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if err := reg.Register(NewStatsCollector(src)); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return nil
		}
		return err
	}
	return nil
}

func (c *statsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.kindLoaded, c.kindInflight, c.kindFailures,
		c.cacheEntries, c.cacheHits, c.cacheMisses, c.cacheEvicted, c.cacheExpired,
		c.memUsage, c.memLimit, c.loadsTotal, c.evictTotal, c.loaderActive, c.analyzeTotals,
	} {
		ch <- d
	}
}

func (c *statsCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.src.Stats()
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	for _, k := range st.Kinds {
		gauge(c.kindLoaded, boolFloat(k.State == "loaded"), k.Kind)
		gauge(c.kindInflight, float64(k.Inflight), k.Kind)
		counter(c.kindFailures, k.Failures, k.Kind)
	}
	gauge(c.cacheEntries, float64(st.Cache.Size))
	counter(c.cacheHits, st.Cache.Hits)
	counter(c.cacheMisses, st.Cache.Misses)
	counter(c.cacheEvicted, st.Cache.Evictions)
	counter(c.cacheExpired, st.Cache.Expirations)
	gauge(c.memUsage, float64(st.Memory.UsageBytes), st.Memory.Source)
	gauge(c.memLimit, float64(st.Memory.LimitBytes))
	counter(c.loadsTotal, st.LoadsTotal)
	counter(c.evictTotal, st.EvictionsTotal)
	gauge(c.loaderActive, boolFloat(st.Loader.Active))
	counter(c.analyzeTotals, st.AnalyzeTotal)
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
