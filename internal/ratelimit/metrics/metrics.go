package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Decisions    *prometheus.CounterVec
	StoreErrors  prometheus.Counter
	Degraded     prometheus.Gauge
	SweptBuckets prometheus.Counter
}

// New registers on the default registry. Call once per process.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

func NewWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "keepsake_ratelimit_decisions_total",
			Help: "Rate limit decisions, labeled by route class and outcome",
		}, []string{"class", "outcome"}),
		StoreErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "keepsake_ratelimit_store_errors_total",
			Help: "Shared bucket store errors",
		}),
		Degraded: f.NewGauge(prometheus.GaugeOpts{
			Name: "keepsake_ratelimit_degraded",
			Help: "1 while decisions come from the process-local fallback store",
		}),
		SweptBuckets: f.NewCounter(prometheus.CounterOpts{
			Name: "keepsake_ratelimit_swept_buckets_total",
			Help: "Idle in-memory buckets dropped by housekeeping",
		}),
	}
}

func (m *Metrics) ObserveDecision(class string, allowed bool) {
	if m == nil {
		return
	}
	outcome := "allowed"
	if !allowed {
		outcome = "denied"
	}
	m.Decisions.WithLabelValues(class, outcome).Inc()
}

func (m *Metrics) IncStoreErrors() {
	if m == nil {
		return
	}
	m.StoreErrors.Inc()
}

func (m *Metrics) SetDegraded(degraded bool) {
	if m == nil {
		return
	}
	if degraded {
		m.Degraded.Set(1)
		return
	}
	m.Degraded.Set(0)
}

func (m *Metrics) AddSwept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SweptBuckets.Add(float64(n))
}
