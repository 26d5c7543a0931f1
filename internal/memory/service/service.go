// Package service implements the memory lifecycle: consent-gated writes,
// locking on expiry or revocation, grace-window purge and erasure.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	auditmodels "keepsake/internal/audit/models"
	consentmodels "keepsake/internal/consent/models"
	"keepsake/internal/memory/blob"
	"keepsake/internal/memory/models"
	"keepsake/internal/memory/store"
	"keepsake/internal/platform/metrics"
	"keepsake/internal/sentinel"
	id "keepsake/pkg/domain"
	dErrors "keepsake/pkg/domain-errors"
	"keepsake/pkg/platform/validation"
	"keepsake/pkg/requestcontext"
)

//go:generate mockgen -source=service.go -destination=../mocks/mocks.go -package=mocks

// ConsentSource reads current consent. The consent service satisfies it.
// Status is never cached beyond one operation.
type ConsentSource interface {
	CurrentStatus(ctx context.Context, subject id.SubjectID, t consentmodels.Type) (*consentmodels.View, error)
}

// StreamResolver picks the audit stream an owner's memory events go to.
type StreamResolver func(owner id.SubjectID) id.StreamID

const defaultBlobConcurrency = 8

type Service struct {
	tx           Tx
	reader       store.Store
	consents     ConsentSource
	registry     *consentmodels.Registry
	blobs        blob.Backend
	requirements map[models.Scope]consentmodels.Type
	stream       StreamResolver
	blobWorkers  int
	purgeBatch   int
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

type Option func(*Service)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithStreamResolver(r StreamResolver) Option {
	return func(s *Service) {
		if r != nil {
			s.stream = r
		}
	}
}

// WithScopeRequirement sets the consent type a scope needs in addition to
// each object's own consent_ref. Every scope needs memory_retention by default.
func WithScopeRequirement(scope models.Scope, t consentmodels.Type) Option {
	return func(s *Service) { s.requirements[scope] = t }
}

// WithBlobConcurrency bounds parallel blob deletes during erasure.
func WithBlobConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.blobWorkers = n
		}
	}
}

// WithPurgeBatch bounds how many objects one PurgeDue call handles.
func WithPurgeBatch(n int) Option {
	return func(s *Service) { s.purgeBatch = n }
}

func New(tx Tx, reader store.Store, consents ConsentSource, registry *consentmodels.Registry, blobs blob.Backend, opts ...Option) *Service {
	s := &Service{
		tx:       tx,
		reader:   reader,
		consents: consents,
		registry: registry,
		blobs:    blobs,
		requirements: map[models.Scope]consentmodels.Type{
			models.ScopeSession: consentmodels.TypeMemoryRetention,
			models.ScopeUser:    consentmodels.TypeMemoryRetention,
			models.ScopeAmbient: consentmodels.TypeMemoryRetention,
		},
		stream:      id.SubjectStream,
		blobWorkers: defaultBlobConcurrency,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Write stores metadata for new content. Both the scope's required consent
// and consent_ref's type must be granted and unexpired; a non-zero
// ref.Version must be the current version. Writing is not a transition and
// records no audit event.
func (s *Service) Write(ctx context.Context, owner id.SubjectID, scope models.Scope, ref models.ConsentRef, contentRef, topic string) (*models.Object, error) {
	if owner.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "owner ID required")
	}
	if !scope.IsValid() {
		return nil, dErrors.Newf(dErrors.CodeValidation, "invalid scope: %s", scope)
	}
	if err := validation.CheckRequired("content_ref", contentRef); err != nil {
		return nil, err
	}
	if err := validation.CheckStringLength("content_ref", contentRef, validation.MaxContentRefLength); err != nil {
		return nil, err
	}
	if err := validation.CheckStringLength("topic", topic, validation.MaxTopicLength); err != nil {
		return nil, err
	}
	if ref.Type == "" {
		ref.Type = s.requirements[scope]
	}
	if _, err := s.registry.Policy(ref.Type); err != nil {
		return nil, err
	}

	var written *models.Object
	err := s.tx.RunInTx(ctx, owner, func(ctx context.Context, st Stores) error {
		current, err := s.requireActive(ctx, owner, scope, ref.Type)
		if err != nil {
			return err
		}
		if ref.Version != 0 && ref.Version != current.Version {
			return dErrors.Newf(dErrors.CodeConsentNotActive, "consent_ref version %d is not current", ref.Version)
		}
		now := requestcontext.Now(ctx)
		o := &models.Object{
			ID:           id.NewObjectID(),
			OwnerID:      owner,
			Scope:        scope,
			ConsentRef:   models.ConsentRef{Type: ref.Type, Version: current.Version},
			State:        models.StateActive,
			Topic:        topic,
			ContentRef:   contentRef,
			OriginStream: s.stream(owner),
			Region:       current.Region,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := st.Objects.Insert(ctx, o); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save memory object")
		}
		written = o
		return nil
	})
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeConsentNotActive) {
			s.metrics.IncMemoryWriteDenied(string(scope))
			s.logger.InfoContext(ctx, "memory write denied",
				"owner_id", owner,
				"scope", scope,
				"consent_type", ref.Type,
				"reason", err.Error(),
				"request_id", requestcontext.RequestID(ctx),
			)
		}
		return nil, err
	}
	return written, nil
}

// CanWrite reports whether the scope's required consent is active now. Any
// lookup failure reads as false.
func (s *Service) CanWrite(ctx context.Context, owner id.SubjectID, scope models.Scope) (bool, error) {
	if !scope.IsValid() {
		return false, dErrors.Newf(dErrors.CodeValidation, "invalid scope: %s", scope)
	}
	_, err := s.requireActive(ctx, owner, scope, s.requirements[scope])
	return err == nil, nil
}

// Lock holds an active object at the owner's request. Manual locks carry no
// purge deadline. Locking a locked object is a no-op.
func (s *Service) Lock(ctx context.Context, owner id.SubjectID, objectID id.ObjectID, actor id.ActorType) (*models.Object, error) {
	return s.transition(ctx, owner, objectID, func(ctx context.Context, st Stores, o *models.Object) error {
		switch o.State {
		case models.StatePurged:
			return dErrors.New(dErrors.CodeConflict, "memory object is purged")
		case models.StateLocked:
			return nil
		}
		now := requestcontext.Now(ctx)
		o.Lock(models.ReasonManual, now, nil)
		return s.apply(ctx, st, o, auditmodels.EventMemoryLocked, actor, lockDetail(o))
	})
}

// Purge deletes the object's content and marks it purged. The object is
// committed locked and due before its content is touched, so a failed delete
// leaves it for the purge sweep. Purging a purged object is a no-op.
func (s *Service) Purge(ctx context.Context, owner id.SubjectID, objectID id.ObjectID, actor id.ActorType) (*models.Object, error) {
	o, err := s.transition(ctx, owner, objectID, func(ctx context.Context, st Stores, o *models.Object) error {
		if o.State == models.StatePurged {
			return nil
		}
		return s.markPurgeDue(ctx, st, o, actor, requestcontext.Now(ctx))
	})
	if err != nil {
		return nil, err
	}
	if o.State == models.StatePurged {
		return o, nil
	}
	run := s.finishPurges(ctx, []*models.Object{o}, actor, "requested")
	if len(run.purged) == 1 {
		return run.purged[0], nil
	}
	if err := run.err(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "memory object is left due for the purge sweep")
	}
	return s.Get(ctx, owner, objectID)
}

// Reactivate returns a locked object to active while its grace window is
// open and its consents are active again.
func (s *Service) Reactivate(ctx context.Context, owner id.SubjectID, objectID id.ObjectID, actor id.ActorType) (*models.Object, error) {
	return s.transition(ctx, owner, objectID, func(ctx context.Context, st Stores, o *models.Object) error {
		if o.State != models.StateLocked {
			return dErrors.Newf(dErrors.CodeConflict, "memory object is %s, not locked", o.State)
		}
		now := requestcontext.Now(ctx)
		if !o.WithinGrace(now) {
			return dErrors.New(dErrors.CodeConflict, "grace period has elapsed")
		}
		current, err := s.requireActive(ctx, o.OwnerID, o.Scope, o.ConsentRef.Type)
		if err != nil {
			return err
		}
		o.ConsentRef.Version = current.Version
		o.Unlock(now)
		return s.apply(ctx, st, o, auditmodels.EventMemoryUnlocked, actor, "reactivated")
	})
}

// Get returns one of owner's objects.
func (s *Service) Get(ctx context.Context, owner id.SubjectID, objectID id.ObjectID) (*models.Object, error) {
	o, err := s.reader.Get(ctx, objectID)
	if err != nil {
		return nil, translateGet(err)
	}
	if o.OwnerID != owner {
		return nil, dErrors.New(dErrors.CodeNotFound, "memory object not found")
	}
	return o, nil
}

func (s *Service) List(ctx context.Context, owner id.SubjectID, filter models.ListFilter) ([]*models.Object, error) {
	objects, err := s.reader.ListByOwner(ctx, owner, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list memory objects")
	}
	return objects, nil
}

// Export returns the metadata of every non-purged object. It requires an
// active grant of an export-gate consent type and records memory_exported.
func (s *Service) Export(ctx context.Context, owner id.SubjectID, actor id.ActorType) ([]*models.Object, error) {
	gate, err := s.activeExportGate(ctx, owner)
	if err != nil {
		return nil, err
	}

	var exported []*models.Object
	err = s.tx.RunInTx(ctx, owner, func(ctx context.Context, st Stores) error {
		objects, err := st.Objects.ListByOwner(ctx, owner, models.ListFilter{
			States: []models.State{models.StateActive, models.StateLocked},
		})
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list memory objects")
		}
		_, err = st.Audit.Append(ctx, s.stream(owner), auditmodels.Draft{
			Type:           auditmodels.EventMemoryExported,
			ActorType:      actor,
			Timestamp:      requestcontext.Now(ctx),
			Region:         gate.Region,
			SubjectID:      owner,
			ConsentType:    string(gate.Type),
			ConsentVersion: gate.Version,
			Detail:         fmt.Sprintf("objects=%d", len(objects)),
		})
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeAuditWrite, "failed to record export")
		}
		exported = objects
		return nil
	})
	if err != nil {
		return nil, err
	}
	return exported, nil
}

func (s *Service) activeExportGate(ctx context.Context, owner id.SubjectID) (*consentmodels.Record, error) {
	now := requestcontext.Now(ctx)
	for _, t := range s.registry.ExportGates() {
		view, err := s.consents.CurrentStatus(ctx, owner, t)
		if err != nil {
			if !dErrors.HasCode(err, dErrors.CodeNotFound) {
				s.logger.WarnContext(ctx, "export consent lookup failed", "owner_id", owner, "error", err)
			}
			continue
		}
		if view.Record.IsActive(now) {
			return view.Record, nil
		}
	}
	return nil, dErrors.New(dErrors.CodeConsentNotActive, "export requires an active export consent")
}

// transition loads an owner's object under the owner lock and runs fn on it.
func (s *Service) transition(ctx context.Context, owner id.SubjectID, objectID id.ObjectID, fn func(ctx context.Context, st Stores, o *models.Object) error) (*models.Object, error) {
	var out *models.Object
	err := s.tx.RunInTx(ctx, owner, func(ctx context.Context, st Stores) error {
		o, err := st.Objects.Get(ctx, objectID)
		if err != nil {
			return translateGet(err)
		}
		if o.OwnerID != owner {
			return dErrors.New(dErrors.CodeNotFound, "memory object not found")
		}
		if err := fn(ctx, st, o); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// apply records event for o and then saves o. o already carries its new state.
func (s *Service) apply(ctx context.Context, st Stores, o *models.Object, event auditmodels.EventType, actor id.ActorType, detail string) error {
	if err := s.appendEvent(ctx, st, o, event, actor, detail); err != nil {
		return err
	}
	if err := st.Objects.Update(ctx, o); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save memory object")
	}
	s.metrics.IncMemoryTransition(string(o.State), string(o.LockReason))
	return nil
}

func (s *Service) appendEvent(ctx context.Context, st Stores, o *models.Object, event auditmodels.EventType, actor id.ActorType, detail string) error {
	_, err := st.Audit.Append(ctx, s.stream(o.OwnerID), auditmodels.Draft{
		Type:           event,
		ActorType:      actor,
		Timestamp:      requestcontext.Now(ctx),
		Region:         o.Region,
		SubjectID:      o.OwnerID,
		ConsentType:    string(o.ConsentRef.Type),
		ConsentVersion: o.ConsentRef.Version,
		ObjectID:       o.ID,
		Detail:         detail,
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeAuditWrite, "failed to record memory transition")
	}
	return nil
}

// requireActive checks every consent gating (scope, refType) and returns the
// current record of refType. Lookup failures deny.
func (s *Service) requireActive(ctx context.Context, owner id.SubjectID, scope models.Scope, refType consentmodels.Type) (*consentmodels.Record, error) {
	now := requestcontext.Now(ctx)
	var ref *consentmodels.Record
	for _, t := range s.gatingTypes(scope, refType) {
		view, err := s.consents.CurrentStatus(ctx, owner, t)
		if err != nil {
			if dErrors.HasCode(err, dErrors.CodeNotFound) {
				return nil, dErrors.Newf(dErrors.CodeConsentNotActive, "no %s consent", t)
			}
			s.logger.WarnContext(ctx, "consent lookup failed; denying",
				"owner_id", owner,
				"consent_type", t,
				"error", err,
			)
			return nil, dErrors.Newf(dErrors.CodeConsentNotActive, "%s consent could not be verified", t)
		}
		if !view.Record.IsActive(now) {
			return nil, dErrors.Newf(dErrors.CodeConsentNotActive, "%s consent is %s", t, view.Effective)
		}
		if t == refType {
			ref = view.Record
		}
	}
	return ref, nil
}

func (s *Service) gatingTypes(scope models.Scope, refType consentmodels.Type) []consentmodels.Type {
	required, ok := s.requirements[scope]
	if !ok || required == refType {
		return []consentmodels.Type{refType}
	}
	return []consentmodels.Type{required, refType}
}

// dependsOn reports whether t gates o, through its scope or its consent_ref.
func (s *Service) dependsOn(o *models.Object, t consentmodels.Type) bool {
	return o.ConsentRef.Type == t || s.requirements[o.Scope] == t
}

func lockDetail(o *models.Object) string {
	if o.PurgeAfter == nil {
		return "reason=" + string(o.LockReason)
	}
	return "reason=" + string(o.LockReason) + " purge_after=" + o.PurgeAfter.UTC().Format(time.RFC3339)
}

func translateGet(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "memory object not found")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read memory object")
}
