package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initSystemMetrics() {
	factory := promauto.With(r.registry)
	gauge := func(name, help string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{Name: "txkv_" + name, Help: help})
	}

	r.UptimeSeconds = gauge("uptime_seconds", "Seconds since the registry was created")
	r.GoRoutines = gauge("goroutines", "Number of goroutines")
	r.MemoryAllocBytes = gauge("memory_alloc_bytes", "Bytes of allocated heap objects")
	r.LocksHeld = gauge("locks_held", "Rows currently locked by transactions")
	r.MergeCacheEntries = gauge("merge_cache_entries", "Folded merge results held in memory")
}
