// Package service implements the consent lifecycle: grant, revoke, renew and
// scheduler-driven expiry over insert-only, audited records.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	auditmodels "keepsake/internal/audit/models"
	"keepsake/internal/consent/metrics"
	"keepsake/internal/consent/models"
	"keepsake/internal/consent/store"
	"keepsake/internal/sentinel"
	id "keepsake/pkg/domain"
	dErrors "keepsake/pkg/domain-errors"
	"keepsake/pkg/requestcontext"
)

//go:generate mockgen -source=service.go -destination=../mocks/mocks.go -package=mocks

// DependentGate is told about transitions that change what memory objects
// gated by a consent may do. Revocation and renewal run after the consent
// transaction commits; a failure is logged and left to the scheduler's
// enforcement sweep. ConsentLapsed runs before a new version replaces one
// that lapsed beyond its grace, and its failure aborts the replacement.
type DependentGate interface {
	ConsentRevoked(ctx context.Context, r *models.Record) error
	ConsentRenewed(ctx context.Context, r *models.Record) error
	ConsentLapsed(ctx context.Context, r *models.Record) error
}

// StreamResolver picks the audit stream a subject's consent events go to.
type StreamResolver func(subject id.SubjectID) id.StreamID

// Renewal paths, used for metrics and logs.
const (
	renewExtend = "extend"
	renewGrace  = "grace"
	renewFresh  = "fresh"
)

type Service struct {
	tx       Tx
	reader   store.Store
	registry *models.Registry
	gate     DependentGate
	stream   StreamResolver
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

type Option func(*Service)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithDependentGate wires the memory manager's synchronous lock and unlock.
func WithDependentGate(g DependentGate) Option {
	return func(s *Service) { s.gate = g }
}

// WithStreamResolver overrides the default per-subject stream. Device replicas
// record every event on their own device stream.
func WithStreamResolver(r StreamResolver) Option {
	return func(s *Service) {
		if r != nil {
			s.stream = r
		}
	}
}

// New builds the service. reader serves reads outside a transaction and
// must see the same data the transaction writes.
func New(tx Tx, reader store.Store, registry *models.Registry, opts ...Option) *Service {
	s := &Service{
		tx:       tx,
		reader:   reader,
		registry: registry,
		stream:   id.SubjectStream,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetDependentGate wires the gate after construction; the memory service
// that implements it depends on this service.
func (s *Service) SetDependentGate(g DependentGate) {
	s.gate = g
}

func (s *Service) Registry() *models.Registry {
	return s.registry
}

// Stream returns the audit stream for subject.
func (s *Service) Stream(subject id.SubjectID) id.StreamID {
	return s.stream(subject)
}

// Grant records a new grant. An existing current record is superseded, never overwritten.
func (s *Service) Grant(ctx context.Context, subject id.SubjectID, t models.Type, method models.Method, region id.Region, actor id.ActorType) (*models.Record, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveGrantLatency(time.Since(start).Seconds()) }()

	policy, err := s.validate(subject, t, actor)
	if err != nil {
		return nil, err
	}
	if !method.IsValid() {
		return nil, dErrors.Newf(dErrors.CodeValidation, "invalid consent method: %s", method)
	}
	if region.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "region required")
	}

	if err := s.enforceLapse(ctx, subject, t, policy); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	var granted *models.Record
	err = s.tx.RunInTx(ctx, subject, func(ctx context.Context, st Stores) error {
		prior, err := current(ctx, st.Records, subject, t)
		if err != nil {
			return err
		}
		next, err := models.NewGrant(subject, t, method, region, actor, now, policy, prior)
		if err != nil {
			return err
		}
		if err := s.AppendVersion(ctx, st, prior, next, auditmodels.EventConsentGranted, ""); err != nil {
			return err
		}
		granted = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncGranted(string(t))
	s.logger.InfoContext(ctx, "consent granted",
		"subject_id", subject,
		"consent_type", t,
		"version", granted.Version,
		"request_id", requestcontext.RequestID(ctx),
	)
	return granted, nil
}

// Revoke records a revocation and then locks dependents. Revoking an already
// revoked record returns it unchanged.
func (s *Service) Revoke(ctx context.Context, subject id.SubjectID, t models.Type, actor id.ActorType) (*models.Record, error) {
	if _, err := s.validate(subject, t, actor); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	var (
		revoked *models.Record
		changed bool
	)
	err := s.tx.RunInTx(ctx, subject, func(ctx context.Context, st Stores) error {
		prior, err := required(ctx, st.Records, subject, t)
		if err != nil {
			return err
		}
		if prior.Status == models.StatusRevoked {
			revoked = prior
			return nil
		}
		next := prior.Successor(models.StatusRevoked, actor, now)
		if err := s.AppendVersion(ctx, st, prior, next, auditmodels.EventConsentRevoked, ""); err != nil {
			return err
		}
		revoked, changed = next, true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return revoked, nil
	}

	s.metrics.IncRevoked(string(t))
	s.logger.InfoContext(ctx, "consent revoked",
		"subject_id", subject,
		"consent_type", t,
		"version", revoked.Version,
		"request_id", requestcontext.RequestID(ctx),
	)
	if s.gate != nil {
		if err := s.gate.ConsentRevoked(ctx, revoked); err != nil {
			s.logger.ErrorContext(ctx, "failed to lock dependents after revocation; enforcement sweep will retry",
				"subject_id", subject,
				"consent_type", t,
				"error", err,
			)
		}
	}
	return revoked, nil
}

// Renew extends a granted record, restores an expired one within grace, or
// starts over with a fresh grant once grace has elapsed.
func (s *Service) Renew(ctx context.Context, subject id.SubjectID, t models.Type, method models.Method, actor id.ActorType) (*models.Record, error) {
	policy, err := s.validate(subject, t, actor)
	if err != nil {
		return nil, err
	}
	if !method.IsValid() {
		return nil, dErrors.Newf(dErrors.CodeValidation, "invalid consent method: %s", method)
	}

	if err := s.enforceLapse(ctx, subject, t, policy); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	var (
		renewed *models.Record
		path    string
	)
	err = s.tx.RunInTx(ctx, subject, func(ctx context.Context, st Stores) error {
		prior, err := required(ctx, st.Records, subject, t)
		if err != nil {
			return err
		}
		if prior.Status == models.StatusRevoked {
			return dErrors.New(dErrors.CodeConflict, "consent revoked; grant required")
		}

		var (
			next  *models.Record
			event = auditmodels.EventConsentRenewed
		)
		switch {
		case prior.IsActive(now):
			path = renewExtend
			next = extend(prior, method, actor, now, policy)
		case prior.WithinGrace(now, policy.Grace):
			path = renewGrace
			next = extend(prior, method, actor, now, policy)
		default:
			path = renewFresh
			event = auditmodels.EventConsentGranted
			next, err = models.NewGrant(subject, t, method, prior.Region, actor, now, policy, prior)
			if err != nil {
				return err
			}
		}
		if err := s.AppendVersion(ctx, st, prior, next, event, path); err != nil {
			return err
		}
		renewed = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncRenewed(string(t), path)
	s.logger.InfoContext(ctx, "consent renewed",
		"subject_id", subject,
		"consent_type", t,
		"version", renewed.Version,
		"path", path,
		"request_id", requestcontext.RequestID(ctx),
	)
	if path == renewGrace && s.gate != nil {
		if err := s.gate.ConsentRenewed(ctx, renewed); err != nil {
			s.logger.ErrorContext(ctx, "failed to unlock dependents after renewal",
				"subject_id", subject,
				"consent_type", t,
				"error", err,
			)
		}
	}
	return renewed, nil
}

func extend(prior *models.Record, method models.Method, actor id.ActorType, now time.Time, policy models.TypePolicy) *models.Record {
	next := prior.Successor(models.StatusGranted, actor, now)
	next.Method = method
	next.ExpiresAt = now.Add(policy.DefaultExpiry)
	next.RevokedAt = nil
	return next
}

// Expire persists the expiry of a granted record on behalf of the scheduler.
// A record that moved past expectedVersion, or is no longer granted and due,
// is left alone and (nil, nil) is returned.
func (s *Service) Expire(ctx context.Context, subject id.SubjectID, t models.Type, expectedVersion int) (*models.Record, error) {
	now := requestcontext.Now(ctx)
	var expired *models.Record
	err := s.tx.RunInTx(ctx, subject, func(ctx context.Context, st Stores) error {
		prior, err := required(ctx, st.Records, subject, t)
		if err != nil {
			return err
		}
		if prior.Version != expectedVersion || prior.Status != models.StatusGranted || now.Before(prior.ExpiresAt) {
			s.metrics.IncStaleExpiry()
			s.logger.DebugContext(ctx, "stale expiry discarded",
				"subject_id", subject,
				"consent_type", t,
				"expected_version", expectedVersion,
				"current_version", prior.Version,
			)
			return nil
		}
		next := prior.Successor(models.StatusExpired, id.ActorSystem, now)
		if err := s.AppendVersion(ctx, st, prior, next, auditmodels.EventConsentExpired, ""); err != nil {
			return err
		}
		expired = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired != nil {
		s.metrics.IncExpired(string(t))
	}
	return expired, nil
}

// AppendVersion writes the audit event for next, inserts next and supersedes
// prior, in that order, through st. Callers own the transaction.
func (s *Service) AppendVersion(ctx context.Context, st Stores, prior, next *models.Record, event auditmodels.EventType, detail string) error {
	_, err := st.Audit.Append(ctx, s.stream(next.SubjectID), auditmodels.Draft{
		Type:           event,
		ActorType:      next.ActorType,
		Timestamp:      next.CreatedAt,
		Region:         next.Region,
		SubjectID:      next.SubjectID,
		ConsentType:    string(next.Type),
		ConsentVersion: next.Version,
		Detail:         detail,
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeAuditWrite, "failed to record consent transition")
	}
	if err := st.Records.Insert(ctx, next); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return dErrors.Wrap(err, dErrors.CodeConflict, "consent changed concurrently")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save consent record")
	}
	if prior == nil {
		return nil
	}
	if err := st.Records.Supersede(ctx, prior.ID, next.CreatedAt); err != nil {
		if errors.Is(err, sentinel.ErrStale) {
			return dErrors.Wrap(err, dErrors.CodeConflict, "consent changed concurrently")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to supersede consent record")
	}
	return nil
}

// CurrentStatus returns the current record with its status computed at request time.
func (s *Service) CurrentStatus(ctx context.Context, subject id.SubjectID, t models.Type) (*models.View, error) {
	policy, err := s.registry.Policy(t)
	if err != nil {
		return nil, err
	}
	r, err := required(ctx, s.reader, subject, t)
	if err != nil {
		return nil, err
	}
	view := &models.View{Record: r, Effective: r.EffectiveStatus(requestcontext.Now(ctx), policy.ReminderLead)}
	s.metrics.IncCheck(string(t), r.IsActive(requestcontext.Now(ctx)))
	return view, nil
}

// History returns every version, oldest first.
func (s *Service) History(ctx context.Context, subject id.SubjectID, t models.Type) ([]*models.Record, error) {
	if _, err := s.registry.Policy(t); err != nil {
		return nil, err
	}
	records, err := s.reader.History(ctx, subject, t)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read consent history")
	}
	if len(records) == 0 {
		return nil, dErrors.New(dErrors.CodeNotFound, "no consent record")
	}
	return records, nil
}

// ListDue returns a page of current granted records of type t expiring at or
// before before, resuming after the given position.
func (s *Service) ListDue(ctx context.Context, t models.Type, before time.Time, after *models.Position, limit int) ([]*models.Record, error) {
	records, err := s.reader.ListDue(ctx, models.DueQuery{Type: t, Before: before, After: after, Limit: limit})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list due consents")
	}
	return records, nil
}

// ListInactive returns a page of current expired or revoked records of type t.
func (s *Service) ListInactive(ctx context.Context, t models.Type, after *models.Position, limit int) ([]*models.Record, error) {
	records, err := s.reader.ListInactive(ctx, models.InactiveQuery{Type: t, After: after, Limit: limit})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list inactive consents")
	}
	return records, nil
}

// CanExport reports whether subject holds an active grant of any export-gate type.
func (s *Service) CanExport(ctx context.Context, subject id.SubjectID) (bool, error) {
	now := requestcontext.Now(ctx)
	for _, t := range s.registry.ExportGates() {
		r, err := s.reader.Current(ctx, subject, t)
		if errors.Is(err, sentinel.ErrNotFound) {
			continue
		}
		if err != nil {
			return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read export consent")
		}
		if r.IsActive(now) {
			return true, nil
		}
	}
	return false, nil
}

// enforceLapse locks what was captured under a version that lapsed beyond
// its grace before a new version can make the type active again. Writes are
// refused while the version is lapsed, so no new dependent appears between
// the lock and the new version.
func (s *Service) enforceLapse(ctx context.Context, subject id.SubjectID, t models.Type, policy models.TypePolicy) error {
	if s.gate == nil {
		return nil
	}
	prior, err := current(ctx, s.reader, subject, t)
	if err != nil || prior == nil {
		return err
	}
	now := requestcontext.Now(ctx)
	if prior.Status == models.StatusRevoked || prior.IsActive(now) || prior.WithinGrace(now, policy.Grace) {
		return nil
	}
	if err := s.gate.ConsentLapsed(ctx, prior); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to lock memory of the lapsed consent")
	}
	return nil
}

func (s *Service) validate(subject id.SubjectID, t models.Type, actor id.ActorType) (models.TypePolicy, error) {
	if subject.IsNil() {
		return models.TypePolicy{}, dErrors.New(dErrors.CodeBadRequest, "subject ID required")
	}
	if !actor.IsValid() {
		return models.TypePolicy{}, dErrors.Newf(dErrors.CodeValidation, "invalid actor type: %s", actor)
	}
	return s.registry.Policy(t)
}

// current returns the current record or nil when none exists.
func current(ctx context.Context, st store.Store, subject id.SubjectID, t models.Type) (*models.Record, error) {
	r, err := st.Current(ctx, subject, t)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read consent record")
	}
	return r, nil
}

func required(ctx context.Context, st store.Store, subject id.SubjectID, t models.Type) (*models.Record, error) {
	r, err := current(ctx, st, subject, t)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "no consent record")
	}
	return r, nil
}
