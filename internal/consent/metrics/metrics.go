package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for consent operations.
type Metrics struct {
	ConsentsGranted     *prometheus.CounterVec
	ConsentsRevoked     *prometheus.CounterVec
	ConsentsRenewed     *prometheus.CounterVec
	ConsentsExpired     *prometheus.CounterVec
	ConsentChecks       *prometheus.CounterVec
	StaleExpiries       prometheus.Counter
	ConsentGrantLatency prometheus.Histogram

	// Lock contention on the in-memory transaction
	TxLockWait     prometheus.Histogram
	TxAcquisitions prometheus.Counter
}

func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

func NewWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ConsentsGranted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "keepsake_consents_granted_total",
			Help: "Consent grants, labeled by consent type",
		}, []string{"type"}),
		ConsentsRevoked: f.NewCounterVec(prometheus.CounterOpts{
			Name: "keepsake_consents_revoked_total",
			Help: "Consent revocations, labeled by consent type",
		}, []string{"type"}),
		ConsentsRenewed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "keepsake_consents_renewed_total",
			Help: "Consent renewals, labeled by consent type and path (extend, grace, fresh)",
		}, []string{"type", "path"}),
		ConsentsExpired: f.NewCounterVec(prometheus.CounterOpts{
			Name: "keepsake_consents_expired_total",
			Help: "Consents moved to expired by the scheduler, labeled by consent type",
		}, []string{"type"}),
		ConsentChecks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "keepsake_consent_checks_total",
			Help: "Active-consent checks, labeled by consent type and result",
		}, []string{"type", "result"}),
		StaleExpiries: f.NewCounter(prometheus.CounterOpts{
			Name: "keepsake_consent_stale_expiries_total",
			Help: "Expire calls discarded because the record had moved on",
		}),
		ConsentGrantLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "keepsake_consent_grant_latency_seconds",
			Help:    "Latency of consent grant operations in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		TxLockWait: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "keepsake_consent_shard_lock_wait_seconds",
			Help:    "Time spent waiting to acquire the subject shard lock",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		TxAcquisitions: f.NewCounter(prometheus.CounterOpts{
			Name: "keepsake_consent_shard_lock_acquisitions_total",
			Help: "Total number of shard lock acquisitions",
		}),
	}
}

func (m *Metrics) IncGranted(consentType string) {
	if m == nil {
		return
	}
	m.ConsentsGranted.WithLabelValues(consentType).Inc()
}

func (m *Metrics) IncRevoked(consentType string) {
	if m == nil {
		return
	}
	m.ConsentsRevoked.WithLabelValues(consentType).Inc()
}

func (m *Metrics) IncRenewed(consentType, path string) {
	if m == nil {
		return
	}
	m.ConsentsRenewed.WithLabelValues(consentType, path).Inc()
}

func (m *Metrics) IncExpired(consentType string) {
	if m == nil {
		return
	}
	m.ConsentsExpired.WithLabelValues(consentType).Inc()
}

func (m *Metrics) IncCheck(consentType string, active bool) {
	if m == nil {
		return
	}
	result := "inactive"
	if active {
		result = "active"
	}
	m.ConsentChecks.WithLabelValues(consentType, result).Inc()
}

func (m *Metrics) IncStaleExpiry() {
	if m == nil {
		return
	}
	m.StaleExpiries.Inc()
}

func (m *Metrics) ObserveGrantLatency(seconds float64) {
	if m == nil {
		return
	}
	m.ConsentGrantLatency.Observe(seconds)
}

func (m *Metrics) ObserveLockWait(seconds float64) {
	if m == nil {
		return
	}
	m.TxLockWait.Observe(seconds)
	m.TxAcquisitions.Inc()
}
