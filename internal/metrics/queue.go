package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// QueueMetrics tracks the analysis job queue
type QueueMetrics struct {
	Depth     prometheus.Gauge
	Completed *prometheus.CounterVec
}

// NewQueueMetrics creates and registers the job queue metrics
func NewQueueMetrics(registry *prometheus.Registry) (*QueueMetrics, error) {
	m := &QueueMetrics{
		Depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lensclip_queue_depth",
			Help: "Number of analysis jobs waiting or running",
		}),
		Completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lensclip_queue_jobs_total",
			Help: "Total number of finished analysis jobs by status",
		}, []string{"status"}),
	}
	if err := register(registry, "queue", m.Depth, m.Completed); err != nil {
		return nil, err
	}
	return m, nil
}

// SetDepth sets the current queue depth
func (m *QueueMetrics) SetDepth(n int) {
	if m == nil {
		return
	}
	m.Depth.Set(float64(n))
}

// RecordJob counts a finished job
func (m *QueueMetrics) RecordJob(status string) {
	if m == nil {
		return
	}
	m.Completed.WithLabelValues(status).Inc()
}
