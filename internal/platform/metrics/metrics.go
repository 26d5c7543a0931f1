// Package metrics holds the cross-cutting Prometheus collectors for the audit
// log, memory lifecycle, scheduler and reconciliation. Consent keeps its own
// collectors in internal/consent/metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	AuditAppends        *prometheus.CounterVec
	AuditAppendFailures *prometheus.CounterVec
	AuditVerifyFailures prometheus.Counter
	AuditAppendLatency  prometheus.Histogram

	MemoryTransitions *prometheus.CounterVec
	MemoryWriteDenied *prometheus.CounterVec

	SchedulerSweeps       *prometheus.CounterVec
	SchedulerSweepResults *prometheus.CounterVec
	SchedulerSweepLatency prometheus.Histogram

	ReconcileOutcomes *prometheus.CounterVec
}

// New registers the collectors on the default registry. Call once per process.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers the collectors on reg. Tests pass a fresh prometheus.NewRegistry().
func NewWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		AuditAppends: f.NewCounterVec(prometheus.CounterOpts{
			Name: "keepsake_audit_appends_total",
			Help: "Audit events appended, labeled by event type and region",
		}, []string{"event_type", "region"}),
		AuditAppendFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "keepsake_audit_append_failures_total",
			Help: "Audit appends rejected, labeled by reason",
		}, []string{"reason"}),
		AuditVerifyFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "keepsake_audit_verify_failures_total",
			Help: "Chain verifications that found a divergence",
		}),
		AuditAppendLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "keepsake_audit_append_latency_seconds",
			Help:    "Latency of audit append operations",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		MemoryTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "keepsake_memory_transitions_total",
			Help: "Memory object state transitions, labeled by target state and reason",
		}, []string{"state", "reason"}),
		MemoryWriteDenied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "keepsake_memory_write_denied_total",
			Help: "Memory writes denied for lack of active consent, labeled by scope",
		}, []string{"scope"}),
		SchedulerSweeps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "keepsake_scheduler_sweeps_total",
			Help: "Scheduler sweeps, labeled by outcome",
		}, []string{"outcome"}),
		SchedulerSweepResults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "keepsake_scheduler_sweep_items_total",
			Help: "Items handled by scheduler sweeps, labeled by action",
		}, []string{"action"}),
		SchedulerSweepLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "keepsake_scheduler_sweep_duration_seconds",
			Help:    "Duration of one scheduler sweep",
			Buckets: prometheus.DefBuckets,
		}),
		ReconcileOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "keepsake_reconcile_outcomes_total",
			Help: "Reconciliation attempts, labeled by outcome",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) ObserveAuditAppend(eventType, region string, seconds float64) {
	if m == nil {
		return
	}
	m.AuditAppends.WithLabelValues(eventType, region).Inc()
	m.AuditAppendLatency.Observe(seconds)
}

func (m *Metrics) IncAuditAppendFailure(reason string) {
	if m == nil {
		return
	}
	m.AuditAppendFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncAuditVerifyFailure() {
	if m == nil {
		return
	}
	m.AuditVerifyFailures.Inc()
}

func (m *Metrics) IncMemoryTransition(state, reason string) {
	if m == nil {
		return
	}
	m.MemoryTransitions.WithLabelValues(state, reason).Inc()
}

func (m *Metrics) IncMemoryWriteDenied(scope string) {
	if m == nil {
		return
	}
	m.MemoryWriteDenied.WithLabelValues(scope).Inc()
}

// ObserveSweep records one sweep. counts maps action (expired, reminded, locked, purged, skipped) to items.
func (m *Metrics) ObserveSweep(outcome string, seconds float64, counts map[string]int) {
	if m == nil {
		return
	}
	m.SchedulerSweeps.WithLabelValues(outcome).Inc()
	m.SchedulerSweepLatency.Observe(seconds)
	for action, n := range counts {
		if n > 0 {
			m.SchedulerSweepResults.WithLabelValues(action).Add(float64(n))
		}
	}
}

func (m *Metrics) IncReconcileOutcome(outcome string) {
	if m == nil {
		return
	}
	m.ReconcileOutcomes.WithLabelValues(outcome).Inc()
}
