// Package metrics provides the Prometheus metrics exported by lensclip components.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the per-component metric sets on one registry
type Metrics struct {
	Analysis  *AnalysisMetrics
	Remote    *RemoteMetrics
	Narration *NarrationMetrics
	Queue     *QueueMetrics
	registry  *prometheus.Registry
}

// New creates every metric set on a fresh registry together with the Go and
// process collectors
func New() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewWithRegistry(registry)
}

// NewWithRegistry creates every metric set on registry
func NewWithRegistry(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{registry: registry}
	var err error
	if m.Analysis, err = NewAnalysisMetrics(registry); err != nil {
		return nil, err
	}
	if m.Remote, err = NewRemoteMetrics(registry); err != nil {
		return nil, err
	}
	if m.Narration, err = NewNarrationMetrics(registry); err != nil {
		return nil, err
	}
	if m.Queue, err = NewQueueMetrics(registry); err != nil {
		return nil, err
	}
	return m, nil
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func register(registry *prometheus.Registry, name string, cs ...prometheus.Collector) error {
	for _, c := range cs {
		if err := registry.Register(c); err != nil {
			return fmt.Errorf("failed to register %s metrics: %w", name, err)
		}
	}
	return nil
}
