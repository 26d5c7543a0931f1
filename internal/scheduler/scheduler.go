// Package scheduler runs the consent expiry and renewal sweeps. It keeps no
// state between sweeps: every decision is re-read from the consent and memory
// services, and reminders are handed to the outbox.
package scheduler

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	consentmodels "keepsake/internal/consent/models"
	memorymodels "keepsake/internal/memory/models"
	memoryservice "keepsake/internal/memory/service"
	"keepsake/internal/platform/lock"
	"keepsake/internal/platform/metrics"
	"keepsake/internal/platform/tracing"
	id "keepsake/pkg/domain"
	"keepsake/pkg/platform/outbox"
	"keepsake/pkg/requestcontext"
)

//go:generate mockgen -source=scheduler.go -destination=mocks/mocks.go -package=mocks

// ConsentService is the slice of the consent service the sweeps drive.
type ConsentService interface {
	Registry() *consentmodels.Registry
	ListDue(ctx context.Context, t consentmodels.Type, before time.Time, after *consentmodels.Position, limit int) ([]*consentmodels.Record, error)
	ListInactive(ctx context.Context, t consentmodels.Type, after *consentmodels.Position, limit int) ([]*consentmodels.Record, error)
	Expire(ctx context.Context, subject id.SubjectID, t consentmodels.Type, expectedVersion int) (*consentmodels.Record, error)
}

// MemoryService locks and purges dependents.
type MemoryService interface {
	LockDependents(ctx context.Context, record *consentmodels.Record, reason memorymodels.LockReason, actor id.ActorType) (int, error)
	PurgeDue(ctx context.Context) (memoryservice.PurgeResult, error)
}

const (
	defaultLockTTL   = 30 * time.Second
	defaultBatchSize = 500
	maxBatchSize     = 5000 // largest page the consent stores return
)

// Result counts what one sweep did.
type Result struct {
	Expired     int
	Reminded    int
	Locked      int
	Purged      int
	PurgeFailed int
	Skipped     int
}

func (r Result) counts() map[string]int {
	return map[string]int{
		"expired":      r.Expired,
		"reminded":     r.Reminded,
		"locked":       r.Locked,
		"purged":       r.Purged,
		"purge_failed": r.PurgeFailed,
		"skipped":      r.Skipped,
	}
}

// RenewalDue is the outbox payload of a renewal reminder.
type RenewalDue struct {
	SubjectID   string    `json:"subject_id"`
	ConsentType string    `json:"consent_type"`
	Version     int       `json:"version"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type Scheduler struct {
	consents ConsentService
	memory   MemoryService
	outbox   outbox.Appender
	locker   lock.Locker
	lockTTL  time.Duration
	batch    int
	metrics  *metrics.Metrics
	tracer   tracing.Tracer
	logger   *slog.Logger
}

type Option func(*Scheduler)

func WithLockTTL(ttl time.Duration) Option {
	return func(s *Scheduler) {
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}

// WithBatchSize sets how many records a sweep reads per page. Sweeps page
// until a short page, so the size bounds memory, not coverage.
func WithBatchSize(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.batch = min(n, maxBatchSize)
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

func WithTracer(t tracing.Tracer) Option {
	return func(s *Scheduler) { s.tracer = t }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(consents ConsentService, memory MemoryService, ob outbox.Appender, locker lock.Locker, opts ...Option) (*Scheduler, error) {
	if consents == nil || memory == nil || ob == nil || locker == nil {
		return nil, fmt.Errorf("consents, memory, outbox, and locker are required")
	}
	s := &Scheduler{
		consents: consents,
		memory:   memory,
		outbox:   ob,
		locker:   locker,
		lockTTL:  defaultLockTTL,
		batch:    defaultBatchSize,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.tracer = tracing.OrNoop(s.tracer)
	return s, nil
}

// Start runs one sweep loop per distinct sweep interval until ctx is
// cancelled. The loop with the shortest interval also runs the purge pass.
func (s *Scheduler) Start(ctx context.Context) error {
	groups := s.intervalGroups()
	g, ctx := errgroup.WithContext(ctx)
	for i, grp := range groups {
		purge := i == 0
		g.Go(func() error {
			return s.loop(ctx, grp.interval, grp.types, purge)
		})
	}
	return g.Wait()
}

type intervalGroup struct {
	interval time.Duration
	types    []consentmodels.Type
}

func (s *Scheduler) intervalGroups() []intervalGroup {
	registry := s.consents.Registry()
	byInterval := make(map[time.Duration][]consentmodels.Type)
	for _, t := range registry.Types() {
		policy, err := registry.Policy(t)
		if err != nil {
			continue
		}
		byInterval[policy.SweepInterval] = append(byInterval[policy.SweepInterval], t)
	}
	groups := make([]intervalGroup, 0, len(byInterval))
	for interval, types := range byInterval {
		groups = append(groups, intervalGroup{interval: interval, types: types})
	}
	slices.SortFunc(groups, func(a, b intervalGroup) int { return cmp.Compare(a.interval, b.interval) })
	return groups
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, types []consentmodels.Type, purge bool) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.sweep(ctx, types, purge); err != nil {
				s.logger.ErrorContext(ctx, "scheduler sweep failed", "interval", interval, "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RunOnce sweeps the given types, or every registered type when none are
// given, and then purges due objects. Per-record errors are collected and
// returned together after the whole sweep ran.
func (s *Scheduler) RunOnce(ctx context.Context, types ...consentmodels.Type) (Result, error) {
	if len(types) == 0 {
		types = s.consents.Registry().Types()
	}
	return s.sweep(ctx, types, true)
}

func (s *Scheduler) sweep(ctx context.Context, types []consentmodels.Type, purge bool) (res Result, err error) {
	// One clock for the whole sweep.
	ctx = requestcontext.WithTime(ctx, requestcontext.Now(ctx))
	ctx, span := s.tracer.Start(ctx, "scheduler.sweep", attribute.Int("types", len(types)))
	start := time.Now()
	defer func() {
		span.SetAttributes(
			attribute.Int("expired", res.Expired),
			attribute.Int("locked", res.Locked),
			attribute.Int("skipped", res.Skipped),
		)
		span.End(err)
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		s.metrics.ObserveSweep(outcome, time.Since(start).Seconds(), res.counts())
	}()

	var errs []error
	for _, t := range types {
		errs = append(errs, s.sweepDue(ctx, t, &res)...)
		errs = append(errs, s.enforce(ctx, t, &res)...)
	}
	if purge {
		pr, err := s.memory.PurgeDue(ctx)
		res.Purged += pr.Purged
		res.PurgeFailed += pr.Failed
		if err != nil {
			errs = append(errs, fmt.Errorf("purge: %w", err))
		}
	}

	if res != (Result{}) {
		s.logger.InfoContext(ctx, "scheduler sweep finished",
			"expired", res.Expired,
			"reminded", res.Reminded,
			"locked", res.Locked,
			"purged", res.Purged,
			"purge_failed", res.PurgeFailed,
			"skipped", res.Skipped,
		)
	}
	return res, errors.Join(errs...)
}

// sweepDue expires records whose expiry has passed and reminds the rest.
func (s *Scheduler) sweepDue(ctx context.Context, t consentmodels.Type, res *Result) []error {
	policy, err := s.consents.Registry().Policy(t)
	if err != nil {
		return []error{err}
	}
	now := requestcontext.Now(ctx)
	var (
		errs  []error
		after *consentmodels.Position
	)
	for {
		due, err := s.consents.ListDue(ctx, t, now.Add(policy.ReminderLead), after, s.batch)
		if err != nil {
			return append(errs, fmt.Errorf("list due %s: %w", t, err))
		}
		for _, r := range due {
			err := s.withSubjectLock(ctx, r.SubjectID, res, func() error {
				if now.Before(r.ExpiresAt) {
					return s.remind(ctx, r, res)
				}
				return s.expire(ctx, r, res)
			})
			if err != nil {
				errs = append(errs, fmt.Errorf("%s %s v%d: %w", r.SubjectID, t, r.Version, err))
			}
		}
		if len(due) < s.batch {
			return errs
		}
		if err := ctx.Err(); err != nil {
			return append(errs, err)
		}
		after = due[len(due)-1].DuePosition()
	}
}

func (s *Scheduler) expire(ctx context.Context, r *consentmodels.Record, res *Result) error {
	expired, err := s.consents.Expire(ctx, r.SubjectID, r.Type, r.Version)
	if err != nil {
		return err
	}
	if expired == nil {
		return nil // moved on since it was listed
	}
	res.Expired++
	n, err := s.memory.LockDependents(ctx, expired, memorymodels.ReasonExpiry, id.ActorSystem)
	res.Locked += n
	return err
}

// remind emits a renewal-due signal keyed by subject, type and version, so a
// record is reminded at most once however many sweeps see it.
func (s *Scheduler) remind(ctx context.Context, r *consentmodels.Record, res *Result) error {
	payload, err := json.Marshal(RenewalDue{
		SubjectID:   r.SubjectID.String(),
		ConsentType: r.Type.String(),
		Version:     r.Version,
		ExpiresAt:   r.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("marshal renewal reminder: %w", err)
	}
	key := fmt.Sprintf("%s|%s|%d", r.SubjectID, r.Type, r.Version)
	entry := outbox.NewDeterministicEntry(outbox.KindRenewalDue, key, r.SubjectID.String(), "renewal_due", payload, requestcontext.Now(ctx))
	switch err := s.outbox.Append(ctx, entry); {
	case errors.Is(err, outbox.ErrDuplicate):
		return nil
	case err != nil:
		return fmt.Errorf("append renewal reminder: %w", err)
	}
	res.Reminded++
	return nil
}

// enforce re-locks dependents of expired and revoked records. It repairs a
// revocation whose synchronous lock failed; otherwise it finds nothing to do.
func (s *Scheduler) enforce(ctx context.Context, t consentmodels.Type, res *Result) []error {
	var (
		errs  []error
		after *consentmodels.Position
	)
	for {
		inactive, err := s.consents.ListInactive(ctx, t, after, s.batch)
		if err != nil {
			return append(errs, fmt.Errorf("list inactive %s: %w", t, err))
		}
		for _, r := range inactive {
			reason := memorymodels.ReasonExpiry
			if r.Status == consentmodels.StatusRevoked {
				reason = memorymodels.ReasonRevocation
			}
			err := s.withSubjectLock(ctx, r.SubjectID, res, func() error {
				n, err := s.memory.LockDependents(ctx, r, reason, id.ActorSystem)
				res.Locked += n
				return err
			})
			if err != nil {
				errs = append(errs, fmt.Errorf("enforce %s %s: %w", r.SubjectID, t, err))
			}
		}
		if len(inactive) < s.batch {
			return errs
		}
		if err := ctx.Err(); err != nil {
			return append(errs, err)
		}
		after = inactive[len(inactive)-1].InactivePosition()
	}
}

// withSubjectLock runs fn holding the subject's advisory lock. A busy or
// unreachable lock skips the subject without an error.
func (s *Scheduler) withSubjectLock(ctx context.Context, subject id.SubjectID, res *Result, fn func() error) error {
	release, ok, err := s.locker.TryAcquire(ctx, "subject:"+subject.String(), s.lockTTL)
	if err != nil {
		s.logger.WarnContext(ctx, "advisory lock unavailable; skipping subject", "subject_id", subject, "error", err)
	}
	if err != nil || !ok {
		res.Skipped++
		return nil
	}
	defer func() {
		if err := release(ctx); err != nil {
			s.logger.WarnContext(ctx, "advisory lock release failed", "subject_id", subject, "error", err)
		}
	}()
	return fn()
}
