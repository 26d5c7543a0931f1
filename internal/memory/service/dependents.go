package service

import (
	"context"
	"errors"
	"time"

	auditmodels "keepsake/internal/audit/models"
	consentmodels "keepsake/internal/consent/models"
	"keepsake/internal/memory/models"
	"keepsake/internal/sentinel"
	id "keepsake/pkg/domain"
	dErrors "keepsake/pkg/domain-errors"
	"keepsake/pkg/requestcontext"
)

// LockDependents locks every active object of the record's subject that the
// record's type gates. The purge deadline is the record's grace anchor plus
// the type's grace. Objects already locked are left alone, so repeated
// enforcement sweeps emit nothing new.
//
// Under the owner lock the record must still be the subject's current
// version and inactive. A renewal that committed after the caller read the
// record wins, and nothing is locked.
func (s *Service) LockDependents(ctx context.Context, record *consentmodels.Record, reason models.LockReason, actor id.ActorType) (int, error) {
	locked := 0
	err := s.tx.RunInTx(ctx, record.SubjectID, func(ctx context.Context, st Stores) error {
		view, err := s.consents.CurrentStatus(ctx, record.SubjectID, record.Type)
		if err != nil {
			return err
		}
		if view.Record.Version != record.Version || view.Record.IsActive(requestcontext.Now(ctx)) {
			s.logger.DebugContext(ctx, "superseded consent version; dependents left alone",
				"owner_id", record.SubjectID,
				"consent_type", record.Type,
				"version", record.Version,
				"current_version", view.Record.Version,
			)
			return nil
		}
		locked, err = s.LockDependentsIn(ctx, st, record, reason, actor)
		return err
	})
	if err != nil {
		return 0, err
	}
	if locked > 0 {
		s.logger.InfoContext(ctx, "dependent memory locked",
			"owner_id", record.SubjectID,
			"consent_type", record.Type,
			"reason", reason,
			"count", locked,
		)
	}
	return locked, nil
}

// LockDependentsIn is LockDependents inside a transaction the caller owns.
// The caller has already established that record is current.
func (s *Service) LockDependentsIn(ctx context.Context, st Stores, record *consentmodels.Record, reason models.LockReason, actor id.ActorType) (int, error) {
	policy, err := s.registry.Policy(record.Type)
	if err != nil {
		return 0, err
	}
	deadline := record.GraceAnchor().Add(policy.Grace)

	objects, err := st.Objects.ListByOwner(ctx, record.SubjectID, models.ListFilter{States: []models.State{models.StateActive}})
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list memory objects")
	}
	now := requestcontext.Now(ctx)
	locked := 0
	for _, o := range objects {
		if !s.dependsOn(o, record.Type) {
			continue
		}
		purgeAfter := deadline
		o.Lock(reason, now, &purgeAfter)
		if err := s.apply(ctx, st, o, auditmodels.EventMemoryLocked, actor, lockDetail(o)); err != nil {
			return locked, err
		}
		locked++
	}
	return locked, nil
}

// UnlockDependents restores objects locked by the expiry of the record's type
// once it is active again. Only objects still inside their grace window whose
// other gating consents are also active come back.
func (s *Service) UnlockDependents(ctx context.Context, record *consentmodels.Record, actor id.ActorType) (int, error) {
	if !record.IsActive(requestcontext.Now(ctx)) {
		return 0, dErrors.New(dErrors.CodeConsentNotActive, "consent is not active")
	}

	unlocked := 0
	err := s.tx.RunInTx(ctx, record.SubjectID, func(ctx context.Context, st Stores) error {
		objects, err := st.Objects.ListByOwner(ctx, record.SubjectID, models.ListFilter{States: []models.State{models.StateLocked}})
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list memory objects")
		}
		now := requestcontext.Now(ctx)
		for _, o := range objects {
			if o.LockReason != models.ReasonExpiry || o.PurgeAfter == nil || !o.WithinGrace(now) || !s.dependsOn(o, record.Type) {
				continue
			}
			current, err := s.requireActive(ctx, o.OwnerID, o.Scope, o.ConsentRef.Type)
			if err != nil {
				continue
			}
			o.ConsentRef.Version = current.Version
			o.Unlock(now)
			if err := s.apply(ctx, st, o, auditmodels.EventMemoryUnlocked, actor, "consent renewed within grace"); err != nil {
				return err
			}
			unlocked++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return unlocked, nil
}

// ConsentRevoked locks dependents synchronously after a revocation commits.
func (s *Service) ConsentRevoked(ctx context.Context, record *consentmodels.Record) error {
	_, err := s.LockDependents(ctx, record, models.ReasonRevocation, record.ActorType)
	return err
}

// ConsentLapsed locks the dependents of a version that lapsed beyond its
// grace, before a fresh grant replaces it. Their deadline has already passed.
func (s *Service) ConsentLapsed(ctx context.Context, record *consentmodels.Record) error {
	_, err := s.LockDependents(ctx, record, models.ReasonExpiry, id.ActorSystem)
	return err
}

// ConsentRenewed unlocks dependents after a renewal within grace commits.
func (s *Service) ConsentRenewed(ctx context.Context, record *consentmodels.Record) error {
	_, err := s.UnlockDependents(ctx, record, record.ActorType)
	return err
}

// Bindings tell ImportOffline which central consent version each imported
// object's gating consents resolved to.
type Bindings map[BindingKey]Binding

type BindingKey struct {
	Owner id.SubjectID
	Type  consentmodels.Type
}

type Binding struct {
	Version int
	Active  bool
}

// ImportResult counts what ImportOffline did.
type ImportResult struct {
	Imported int
	Locked   []id.ObjectID
	// Restricted are known objects locked because the device had locked them.
	Restricted []id.ObjectID
	// PurgeDue are known objects the device purged. They are committed due
	// for purge; PurgeMarked deletes their content after the merge commits.
	PurgeDue []id.ObjectID
	Skipped  int
}

// ImportOffline inserts objects captured on a device through the caller's
// transaction. Active objects whose gating consents did not survive
// reconciliation are imported locked with reason conflict and no purge
// deadline.
//
// For an object already known centrally the more restrictive state wins. A
// device purge makes the central copy due for purge, a device lock locks an
// active central copy, and nothing the device sends makes a central object
// active again.
func (s *Service) ImportOffline(ctx context.Context, st Stores, objects []*models.Object, bindings Bindings) (ImportResult, error) {
	var res ImportResult
	now := requestcontext.Now(ctx)
	for _, in := range objects {
		o := *in
		central, err := st.Objects.Get(ctx, o.ID)
		switch {
		case err == nil:
			if err := s.restrictKnown(ctx, st, central, &o, now, &res); err != nil {
				return res, err
			}
			continue
		case !errors.Is(err, sentinel.ErrNotFound):
			return res, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read memory object")
		}

		if o.State == models.StateActive {
			ref, refOK := bindings[BindingKey{o.OwnerID, o.ConsentRef.Type}]
			scopeType := s.requirements[o.Scope]
			scope, scopeOK := bindings[BindingKey{o.OwnerID, scopeType}]
			if refOK && ref.Active && (scopeType == "" || (scopeOK && scope.Active)) {
				o.ConsentRef.Version = ref.Version
			} else {
				o.Lock(models.ReasonConflict, now, nil)
				if err := s.appendEvent(ctx, st, &o, auditmodels.EventMemoryLocked, id.ActorSystem, lockDetail(&o)); err != nil {
					return res, err
				}
				res.Locked = append(res.Locked, o.ID)
				s.metrics.IncMemoryTransition(string(o.State), string(o.LockReason))
			}
		}
		if err := st.Objects.Insert(ctx, &o); err != nil {
			return res, dErrors.Wrap(err, dErrors.CodeInternal, "failed to import memory object")
		}
		res.Imported++
	}
	return res, nil
}

// restrictKnown applies the device copy of an object to the central copy when
// the device state is more restrictive.
func (s *Service) restrictKnown(ctx context.Context, st Stores, central, device *models.Object, now time.Time, res *ImportResult) error {
	if central.OwnerID != device.OwnerID {
		return dErrors.New(dErrors.CodeConflict, "memory object belongs to another owner")
	}
	switch {
	case central.State == models.StatePurged, device.State == models.StateActive:
		res.Skipped++
	case device.State == models.StatePurged:
		if err := s.markPurgeDue(ctx, st, central, id.ActorSystem, now); err != nil {
			return err
		}
		res.PurgeDue = append(res.PurgeDue, central.ID)
	case central.State == models.StateActive:
		reason := device.LockReason
		if reason == "" {
			reason = models.ReasonConflict
		}
		var deadline *time.Time
		if device.PurgeAfter != nil {
			d := *device.PurgeAfter
			deadline = &d
		}
		central.Lock(reason, now, deadline)
		if err := s.apply(ctx, st, central, auditmodels.EventMemoryLocked, id.ActorSystem, lockDetail(central)); err != nil {
			return err
		}
		res.Restricted = append(res.Restricted, central.ID)
	default:
		res.Skipped++
	}
	return nil
}

// graceDeadline is now plus the grace of t.
func (s *Service) graceDeadline(t consentmodels.Type, now time.Time) (*time.Time, error) {
	policy, err := s.registry.Policy(t)
	if err != nil {
		return nil, err
	}
	deadline := now.Add(policy.Grace)
	return &deadline, nil
}
