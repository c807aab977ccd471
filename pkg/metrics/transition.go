package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TransitionMetrics records applied stage transitions.
type TransitionMetrics struct {
	applied  *prometheus.CounterVec
	failed   *prometheus.CounterVec
	duration prometheus.Histogram
}

// NewTransitionMetrics registers the transition metrics on the provided registerer.
func NewTransitionMetrics(reg prometheus.Registerer) *TransitionMetrics {
	if reg == nil {
		return &TransitionMetrics{}
	}
	applied := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "carline_transitions_total",
		Help: "Stage transitions committed, by target status.",
	}, []string{"status"})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "carline_transition_failures_total",
		Help: "Stage transitions that did not commit, by error code.",
	}, []string{"code"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "carline_transition_duration_seconds",
		Help:    "Time spent in the transition transaction.",
		Buckets: prometheus.DefBuckets,
	})
	reg.MustRegister(applied, failed, duration)
	return &TransitionMetrics{
		applied:  applied,
		failed:   failed,
		duration: duration,
	}
}

// IncApplied counts a committed transition into status.
func (m *TransitionMetrics) IncApplied(status string) {
	if m == nil || m.applied == nil {
		return
	}
	m.applied.WithLabelValues(normalizeLabel(status)).Inc()
}

// IncFailed counts a transition that was rejected or rolled back.
func (m *TransitionMetrics) IncFailed(code string) {
	if m == nil || m.failed == nil {
		return
	}
	m.failed.WithLabelValues(normalizeLabel(code)).Inc()
}

// ObserveDuration records how long the transaction took.
func (m *TransitionMetrics) ObserveDuration(d time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.Observe(d.Seconds())
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
