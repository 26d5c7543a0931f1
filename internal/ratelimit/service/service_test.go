package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"keepsake/internal/ratelimit/metrics"
	"keepsake/internal/ratelimit/models"
	"keepsake/internal/ratelimit/store/bucket"
	"keepsake/pkg/platform/circuit"
)

// flakyStore fails while down is set and otherwise delegates to a memory store.
type flakyStore struct {
	down  bool
	calls int
	inner *bucket.InMemoryBucketStore
}

func (f *flakyStore) AllowN(ctx context.Context, key string, cost int, limit models.Limit, now time.Time) (*models.Result, error) {
	f.calls++
	if f.down {
		return nil, errors.New("connection refused")
	}
	return f.inner.AllowN(ctx, key, cost, limit, now)
}

type LimiterSuite struct {
	suite.Suite
	primary *flakyStore
	metrics *metrics.Metrics
	limiter *Limiter
	now     time.Time
}

func TestLimiterSuite(t *testing.T) {
	suite.Run(t, new(LimiterSuite))
}

func (s *LimiterSuite) SetupTest() {
	s.now = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	s.primary = &flakyStore{inner: bucket.NewInMemoryBucketStore()}
	s.metrics = metrics.NewWith(prometheus.NewRegistry())
	breaker := circuit.New("test",
		circuit.WithFailureThreshold(2),
		circuit.WithSuccessThreshold(1),
		circuit.WithProbeInterval(time.Second),
		circuit.WithClock(func() time.Time { return s.now }),
	)
	s.limiter = New(s.primary, map[models.Class]models.Limit{
		models.ClassAPI: {Requests: 2, Window: time.Minute},
	},
		WithFallback(bucket.NewInMemoryBucketStore(), breaker),
		WithMetrics(s.metrics),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

func (s *LimiterSuite) check() (*Decision, error) {
	return s.limiter.Check(context.Background(), "actor:subject:a:api", models.ClassAPI, 1, s.now)
}

func (s *LimiterSuite) TestUnlimitedClass() {
	d, err := s.limiter.Check(context.Background(), "k", models.ClassSync, 1, s.now)
	s.Require().NoError(err)
	s.Nil(d)
	s.Zero(s.primary.calls)
}

func (s *LimiterSuite) TestPrimaryDecides() {
	for range 2 {
		d, err := s.check()
		s.Require().NoError(err)
		s.True(d.Allowed)
		s.False(d.Degraded)
	}
	d, err := s.check()
	s.Require().NoError(err)
	s.False(d.Allowed)
	s.Equal(2.0, testutil.ToFloat64(s.metrics.Decisions.WithLabelValues("api", "allowed")))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Decisions.WithLabelValues("api", "denied")))
}

func (s *LimiterSuite) TestFallsBackWhileCircuitIsOpen() {
	s.primary.down = true

	_, err := s.check()
	s.Error(err, "below the threshold the error reaches the caller")

	d, err := s.check()
	s.Require().NoError(err)
	s.True(d.Degraded, "threshold reached; fallback answers")
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Degraded))

	calls := s.primary.calls
	d, err = s.check()
	s.Require().NoError(err)
	s.True(d.Degraded)
	s.Equal(calls, s.primary.calls, "no probe inside the interval")

	d, err = s.check()
	s.Require().NoError(err)
	s.False(d.Allowed, "fallback enforces the same budget")

	s.primary.down = false
	s.now = s.now.Add(time.Second)
	d, err = s.check()
	s.Require().NoError(err)
	s.False(d.Degraded, "probe succeeded and closed the circuit")
	s.Equal(0.0, testutil.ToFloat64(s.metrics.Degraded))
	s.Equal(2.0, testutil.ToFloat64(s.metrics.StoreErrors))
}

func (s *LimiterSuite) TestWithoutFallbackErrorsPass() {
	s.primary.down = true
	limiter := New(s.primary, map[models.Class]models.Limit{models.ClassAPI: {Requests: 1, Window: time.Minute}})

	for range 10 {
		_, err := limiter.Check(context.Background(), "k", models.ClassAPI, 1, s.now)
		s.Error(err)
	}
}

func (s *LimiterSuite) TestSweep() {
	s.primary.down = true
	_, _ = s.check()
	_, _ = s.check()

	s.limiter.Sweep(s.now.Add(2 * time.Minute))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.SweptBuckets))
}
