package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Analysis outcomes
const (
	OutcomeReady    = "ready"
	OutcomeFailed   = "failed"
	OutcomeRejected = "rejected"
	OutcomeSkipped  = "skipped"
	OutcomeError    = "error"
)

// AnalysisMetrics tracks the observation pipeline
type AnalysisMetrics struct {
	Outcomes *prometheus.CounterVec
	Duration *prometheus.HistogramVec
	Cropped  prometheus.Counter
}

// NewAnalysisMetrics creates and registers the analysis metrics
func NewAnalysisMetrics(registry *prometheus.Registry) (*AnalysisMetrics, error) {
	m := &AnalysisMetrics{
		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lensclip_analysis_outcomes_total",
			Help: "Total number of analysis runs by outcome",
		}, []string{"outcome"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lensclip_analysis_step_duration_seconds",
			Help:    "Duration of analysis steps in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"step"}),
		Cropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lensclip_analysis_cropped_total",
			Help: "Total number of observations identified on a cropped region",
		}),
	}
	if err := register(registry, "analysis", m.Outcomes, m.Duration, m.Cropped); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordOutcome counts one finished analysis
func (m *AnalysisMetrics) RecordOutcome(outcome string) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(outcome).Inc()
}

// RecordDuration records the duration of one step in seconds
func (m *AnalysisMetrics) RecordDuration(step string, seconds float64) {
	if m == nil {
		return
	}
	m.Duration.WithLabelValues(step).Observe(seconds)
}

// IncCropped counts an identification made on a cropped region
func (m *AnalysisMetrics) IncCropped() {
	if m == nil {
		return
	}
	m.Cropped.Inc()
}

// RemoteMetrics tracks calls to external services
type RemoteMetrics struct {
	Attempts *prometheus.CounterVec
}

// NewRemoteMetrics creates and registers the remote call metrics
func NewRemoteMetrics(registry *prometheus.Registry) (*RemoteMetrics, error) {
	m := &RemoteMetrics{
		Attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lensclip_remote_retries_total",
			Help: "Total number of retried remote calls by service",
		}, []string{"service"}),
	}
	if err := register(registry, "remote", m.Attempts); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordRetry counts a retried call to service
func (m *RemoteMetrics) RecordRetry(service string) {
	if m == nil {
		return
	}
	m.Attempts.WithLabelValues(service).Inc()
}
