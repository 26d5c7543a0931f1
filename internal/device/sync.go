package device

import (
	"context"
	"errors"
	"fmt"

	synchandler "keepsake/internal/reconcile/handler"
	"keepsake/internal/reconcile/models"
	id "keepsake/pkg/domain"
	dErrors "keepsake/pkg/domain-errors"
	"keepsake/pkg/platform/validation"
)

// ErrAwaitingReview means the central service holds an open fork review for
// this stream. Nothing ships until a reviewer resolves it.
var ErrAwaitingReview = errors.New("device stream is awaiting fork review")

// Remote is the central sync API. Client satisfies it.
type Remote interface {
	Push(ctx context.Context, stream id.StreamID, batch *models.Batch) (*synchandler.OutcomeResponse, error)
	Status(ctx context.Context, stream id.StreamID) (*synchandler.CursorResponse, error)
}

// SyncResult sums the merges of one Sync call.
type SyncResult struct {
	Batches      int
	EventsMerged int
	Imported     int
	Locked       int
	Rechained    int
}

// Sync ships everything pending, one capped batch at a time. When a reviewer
// resolved an earlier fork as rechain, the unacknowledged tail is rebuilt on
// the central tail first. A fork that is still open returns ErrAwaitingReview.
func (r *Replica) Sync(ctx context.Context, remote Remote) (SyncResult, error) {
	var res SyncResult
	p, err := r.PendingBatch(ctx)
	if err != nil || p.Empty() {
		return res, err
	}

	// Pushing an unrebased tail after a rechain resolution would open a
	// second review, so the central cursor is read first.
	status, err := remote.Status(ctx, r.stream)
	switch {
	case dErrors.HasCode(err, dErrors.CodeNotFound):
	case err != nil:
		return res, fmt.Errorf("read central cursor: %w", err)
	case status.State == string(models.StateQuarantined):
		return res, fmt.Errorf("%s: %w", r.stream, ErrAwaitingReview)
	case status.RechainRequired:
		n, err := r.Rechain(ctx, status.LastSeq, status.LastHash)
		if err != nil {
			return res, err
		}
		res.Rechained = n
	}

	for {
		p, err := r.PendingBatch(ctx)
		if err != nil {
			return res, err
		}
		if p.Empty() {
			return res, nil
		}

		out, err := remote.Push(ctx, r.stream, p.Batch)
		if dErrors.HasCode(err, dErrors.CodeForkDetected) {
			return res, fmt.Errorf("%s: %w", r.stream, ErrAwaitingReview)
		}
		if err != nil {
			return res, fmt.Errorf("push batch: %w", err)
		}

		acked := models.Cursor{Stream: r.stream, LastSeq: out.Cursor.LastSeq, LastHash: out.Cursor.LastHash}
		if err := r.MarkMerged(ctx, p, acked); err != nil {
			return res, err
		}
		res.Batches++
		res.EventsMerged += out.EventsMerged
		res.Imported += out.Imported
		res.Locked += len(out.Locked)

		if len(p.Batch.Events) < validation.MaxBatchEvents {
			return res, nil
		}
	}
}
