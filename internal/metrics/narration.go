package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// NarrationMetrics tracks the narration audio cache
type NarrationMetrics struct {
	Hits      prometheus.Counter
	Misses    prometheus.Counter
	Evictions prometheus.Counter
}

// NewNarrationMetrics creates and registers the narration cache metrics
func NewNarrationMetrics(registry *prometheus.Registry) (*NarrationMetrics, error) {
	m := &NarrationMetrics{
		Hits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lensclip_narration_cache_hits_total",
			Help: "Total number of narration requests served from cache",
		}),
		Misses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lensclip_narration_cache_misses_total",
			Help: "Total number of narration requests that required synthesis",
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lensclip_narration_cache_evictions_total",
			Help: "Total number of expired narration blobs removed",
		}),
	}
	if err := register(registry, "narration", m.Hits, m.Misses, m.Evictions); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordLookup counts a cache hit or miss
func (m *NarrationMetrics) RecordLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.Hits.Inc()
		return
	}
	m.Misses.Inc()
}

// AddEvictions counts removed blobs
func (m *NarrationMetrics) AddEvictions(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Evictions.Add(float64(n))
}
