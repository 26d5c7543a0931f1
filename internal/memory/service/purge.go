package service

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	auditmodels "keepsake/internal/audit/models"
	"keepsake/internal/memory/models"
	id "keepsake/pkg/domain"
	dErrors "keepsake/pkg/domain-errors"
	"keepsake/pkg/requestcontext"
)

// Purging is two-phase. The first transaction records the intent: the object
// is committed locked with reason erasure and a deadline that has already
// passed. Content is deleted only after that commit, and a second transaction
// per object records memory_purged. Anything interrupted in between is still
// locked and due, so the purge sweep finishes it.

// PurgeResult counts the outcome of one purge pass.
type PurgeResult struct {
	Purged int
	Failed int
}

// PurgeDue purges locked objects whose grace deadline has passed. An object
// whose content cannot be deleted stays locked and is retried next pass.
func (s *Service) PurgeDue(ctx context.Context) (PurgeResult, error) {
	due, err := s.reader.ListDuePurge(ctx, requestcontext.Now(ctx), s.purgeBatch)
	if err != nil {
		return PurgeResult{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list purge-due objects")
	}
	run := s.finishPurges(ctx, due, id.ActorSystem, "grace elapsed")
	return PurgeResult{Purged: len(run.purged), Failed: len(run.deferred)}, run.err()
}

// markPurgeDue makes o due for purge now. An active object is locked, which
// is a transition; a locked one only has its deadline moved.
func (s *Service) markPurgeDue(ctx context.Context, st Stores, o *models.Object, actor id.ActorType, now time.Time) error {
	due := now
	if o.Lock(models.ReasonErasure, now, &due) {
		return s.apply(ctx, st, o, auditmodels.EventMemoryLocked, actor, lockDetail(o))
	}
	o.LockReason = models.ReasonErasure
	o.PurgeAfter = &due
	o.UpdatedAt = now
	if err := st.Objects.Update(ctx, o); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save memory object")
	}
	return nil
}

// purgeRun is the outcome of finishPurges.
type purgeRun struct {
	purged   []*models.Object
	deferred []id.ObjectID
	errs     []error
}

func (r purgeRun) err() error {
	if len(r.errs) == 0 {
		return nil
	}
	return fmt.Errorf("%d objects left for the purge sweep: %w", len(r.errs), r.errs[0])
}

func (r purgeRun) purgedIDs() []id.ObjectID {
	ids := make([]id.ObjectID, 0, len(r.purged))
	for _, o := range r.purged {
		ids = append(ids, o.ID)
	}
	return ids
}

// finishPurges deletes the content of objects already committed as due, in
// parallel, then records each purge in its own transaction. It must not run
// inside a transaction of the owner.
func (s *Service) finishPurges(ctx context.Context, objects []*models.Object, actor id.ActorType, detail string) purgeRun {
	deleteErrs := make([]error, len(objects))
	var g errgroup.Group
	g.SetLimit(s.blobWorkers)
	for i, o := range objects {
		g.Go(func() error {
			deleteErrs[i] = s.blobs.Delete(ctx, o.ContentRef)
			return nil
		})
	}
	_ = g.Wait() // workers record failures per object and never return one

	var run purgeRun
	for i, o := range objects {
		err := deleteErrs[i]
		if err != nil {
			err = dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete memory content")
		} else {
			var done *models.Object
			done, err = s.recordPurge(ctx, o, actor, detail)
			if err == nil {
				if done != nil {
					run.purged = append(run.purged, done)
				}
				continue
			}
		}
		s.logger.WarnContext(ctx, "memory purge deferred to purge sweep",
			"object_id", o.ID,
			"owner_id", o.OwnerID,
			"error", err,
		)
		run.deferred = append(run.deferred, o.ID)
		run.errs = append(run.errs, fmt.Errorf("purge %s: %w", o.ID, err))
	}
	return run
}

// recordPurge marks o purged once its content is gone. It returns nil when o
// is no longer due, for instance because a concurrent sweep finished it.
func (s *Service) recordPurge(ctx context.Context, o *models.Object, actor id.ActorType, detail string) (*models.Object, error) {
	var out *models.Object
	err := s.tx.RunInTx(ctx, o.OwnerID, func(ctx context.Context, st Stores) error {
		current, err := st.Objects.Get(ctx, o.ID)
		if err != nil {
			return translateGet(err)
		}
		now := requestcontext.Now(ctx)
		if !current.PurgeDue(now) {
			return nil
		}
		current.Purge(now)
		if err := s.apply(ctx, st, current, auditmodels.EventMemoryPurged, actor, detail); err != nil {
			return err
		}
		out = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PurgeMarked finishes objects a merge committed as due for purge. Objects
// it cannot finish are left to the purge sweep.
func (s *Service) PurgeMarked(ctx context.Context, owner id.SubjectID, objectIDs []id.ObjectID, actor id.ActorType) (int, error) {
	var due []*models.Object
	now := requestcontext.Now(ctx)
	for _, objectID := range objectIDs {
		o, err := s.Get(ctx, owner, objectID)
		if err != nil {
			return 0, err
		}
		if o.PurgeDue(now) {
			due = append(due, o)
		}
	}
	run := s.finishPurges(ctx, due, actor, "offline erasure")
	return len(run.purged), run.err()
}
