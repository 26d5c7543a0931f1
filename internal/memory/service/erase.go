package service

import (
	"context"
	"time"

	auditmodels "keepsake/internal/audit/models"
	consentmodels "keepsake/internal/consent/models"
	"keepsake/internal/memory/models"
	id "keepsake/pkg/domain"
	dErrors "keepsake/pkg/domain-errors"
	"keepsake/pkg/requestcontext"
)

// Erase applies a right-to-be-forgotten request to owner's objects. It always
// records one erasure_requested event, then one event per object it moves.
// Objects already in the target state are skipped, so repeating a request
// records the request again and changes nothing else.
//
// Full and topic erasure first commit every target as locked and due for
// purge, together with the request. Content is deleted in parallel after that
// commit. An object whose content cannot be deleted stays due and is reported
// as deferred; the purge sweep finishes it.
func (s *Service) Erase(ctx context.Context, owner id.SubjectID, req models.EraseRequest) (*models.EraseResult, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if owner.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "owner ID required")
	}

	res := &models.EraseResult{Mode: req.Mode}
	var due []*models.Object
	err := s.tx.RunInTx(ctx, owner, func(ctx context.Context, st Stores) error {
		now := requestcontext.Now(ctx)
		_, err := st.Audit.Append(ctx, s.stream(owner), auditmodels.Draft{
			Type:      auditmodels.EventErasureRequested,
			ActorType: req.InitiatorType,
			Timestamp: now,
			Region:    req.Region,
			SubjectID: owner,
			Detail:    req.Detail(),
		})
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeAuditWrite, "failed to record erasure request")
		}

		filter := models.ListFilter{States: []models.State{models.StateActive, models.StateLocked}}
		if req.Mode == models.ErasePartialTopic {
			filter.Topic = req.TargetTopic
		}
		objects, err := st.Objects.ListByOwner(ctx, owner, filter)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list memory objects")
		}

		switch req.Mode {
		case models.EraseFull, models.ErasePartialTopic:
			for _, o := range objects {
				if err := s.markPurgeDue(ctx, st, o, req.InitiatorType, now); err != nil {
					return err
				}
			}
			due = objects
			return nil
		case models.EraseReflectionOnly:
			deadline, err := s.graceDeadline(consentmodels.TypeReflectionArchive, now)
			if err != nil {
				return err
			}
			return s.eraseLock(ctx, st, objects, req.InitiatorType, models.ReasonErasure, deadline, func(o *models.Object) bool {
				return s.dependsOn(o, consentmodels.TypeReflectionArchive)
			}, res)
		case models.EraseArchive:
			return s.eraseLock(ctx, st, objects, req.InitiatorType, models.ReasonArchive, nil, func(*models.Object) bool {
				return true
			}, res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(due) > 0 {
		run := s.finishPurges(ctx, due, req.InitiatorType, "erasure")
		res.Purged, res.Deferred = run.purgedIDs(), run.deferred
	}

	s.logger.InfoContext(ctx, "erasure applied",
		"owner_id", owner,
		"mode", req.Mode,
		"initiator", req.InitiatorType,
		"purged", len(res.Purged),
		"locked", len(res.Locked),
		"deferred", len(res.Deferred),
		"request_id", requestcontext.RequestID(ctx),
	)
	return res, nil
}

func (s *Service) eraseLock(ctx context.Context, st Stores, objects []*models.Object, actor id.ActorType, reason models.LockReason, deadline *time.Time, match func(*models.Object) bool, res *models.EraseResult) error {
	now := requestcontext.Now(ctx)
	for _, o := range objects {
		if !match(o) || !o.Lock(reason, now, deadline) {
			continue
		}
		if err := s.apply(ctx, st, o, auditmodels.EventMemoryLocked, actor, lockDetail(o)); err != nil {
			return err
		}
		res.Locked = append(res.Locked, o.ID)
	}
	return nil
}
