// Package service decides whether an actor may spend from a class budget.
package service

import (
	"context"
	"log/slog"
	"time"

	"keepsake/internal/ratelimit/metrics"
	"keepsake/internal/ratelimit/models"
	"keepsake/internal/ratelimit/store/bucket"
	"keepsake/pkg/platform/circuit"
)

// Store is a sliding-window bucket store.
type Store interface {
	AllowN(ctx context.Context, key string, cost int, limit models.Limit, now time.Time) (*models.Result, error)
}

// Decision is a Result plus whether it came from the fallback store.
type Decision struct {
	*models.Result
	Degraded bool
}

// Limiter checks the primary store and, while the primary keeps failing,
// answers from a process-local fallback behind a circuit breaker.
type Limiter struct {
	primary  Store
	fallback *bucket.InMemoryBucketStore
	breaker  *circuit.Breaker
	limits   map[models.Class]models.Limit
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

type Option func(*Limiter)

// WithFallback answers from a local store while the primary circuit is open.
// Without it a primary error is returned to the caller.
func WithFallback(fallback *bucket.InMemoryBucketStore, breaker *circuit.Breaker) Option {
	return func(l *Limiter) {
		l.fallback = fallback
		l.breaker = breaker
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Limiter) { l.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

func New(primary Store, limits map[models.Class]models.Limit, opts ...Option) *Limiter {
	l := &Limiter{
		primary: primary,
		limits:  limits,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.fallback != nil && l.breaker == nil {
		l.breaker = circuit.New("ratelimit")
	}
	return l
}

// Check spends cost from key's budget for class. A nil Decision with a nil
// error means the class is unlimited.
func (l *Limiter) Check(ctx context.Context, key string, class models.Class, cost int, now time.Time) (*Decision, error) {
	limit, ok := l.limits[class]
	if !ok || !limit.Enabled() {
		return nil, nil
	}

	if l.breaker == nil || l.breaker.Allow() {
		res, err := l.primary.AllowN(ctx, key, cost, limit, now)
		if err == nil {
			if l.breaker != nil && l.breaker.Success() {
				l.metrics.SetDegraded(false)
				l.logger.InfoContext(ctx, "rate limit store recovered", "breaker", l.breaker.Name())
			}
			l.metrics.ObserveDecision(string(class), res.Allowed)
			return &Decision{Result: res}, nil
		}
		l.metrics.IncStoreErrors()
		if l.fallback == nil {
			return nil, err
		}
		if l.breaker.Failure() {
			l.metrics.SetDegraded(true)
			l.logger.WarnContext(ctx, "rate limit store failing; using local buckets", "breaker", l.breaker.Name(), "error", err)
		} else if l.breaker.State() == circuit.StateClosed {
			return nil, err
		}
	}

	res, err := l.fallback.AllowN(ctx, key, cost, limit, now)
	if err != nil {
		return nil, err
	}
	l.metrics.ObserveDecision(string(class), res.Allowed)
	return &Decision{Result: res, Degraded: true}, nil
}

// Sweep drops idle fallback buckets.
func (l *Limiter) Sweep(now time.Time) {
	if l.fallback == nil {
		return
	}
	l.metrics.AddSwept(l.fallback.Sweep(now))
}
