package vfs

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes the filesystem core's counters via
// prometheus/client_golang, mirroring netstack.Metrics: a dedicated
// registry per VFS instance so tests can create independent filesystems
// without collector name collisions.
type Metrics struct {
	Registry *prometheus.Registry

	BlockCacheHits    prometheus.Counter
	BlockCacheMisses  prometheus.Counter
	BlockCacheEvicts  prometheus.Counter
	InodeCacheHits    prometheus.Counter
	InodeCacheMisses  prometheus.Counter
	OpenFiles         prometheus.Gauge
	MountsActive      prometheus.Gauge
}

func vfsCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "nanokern",
		Subsystem: "vfs",
		Name:      name,
		Help:      help,
	})
}

func vfsGauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "nanokern",
		Subsystem: "vfs",
		Name:      name,
		Help:      help,
	})
}

// NewMetrics constructs and registers a fresh set of VFS counters.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry:         prometheus.NewRegistry(),
		BlockCacheHits:   vfsCounter("block_cache_hits_total", "Block cache hits."),
		BlockCacheMisses: vfsCounter("block_cache_misses_total", "Block cache misses."),
		BlockCacheEvicts: vfsCounter("block_cache_evictions_total", "Block cache evictions."),
		InodeCacheHits:   vfsCounter("inode_cache_hits_total", "Inode cache hits."),
		InodeCacheMisses: vfsCounter("inode_cache_misses_total", "Inode cache misses."),
		OpenFiles:        vfsGauge("open_files", "Currently open file descriptions."),
		MountsActive:     vfsGauge("mounts_active", "Currently mounted filesystems."),
	}
	m.Registry.MustRegister(
		m.BlockCacheHits, m.BlockCacheMisses, m.BlockCacheEvicts,
		m.InodeCacheHits, m.InodeCacheMisses, m.OpenFiles, m.MountsActive,
	)
	return m
}
