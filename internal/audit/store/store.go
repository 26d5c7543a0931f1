// Package store persists audit chains. Every implementation enforces the
// chain head with a compare-and-set: an event is accepted only when its seq
// and prev_hash extend the current head of its stream.
package store

import (
	"context"
	"time"

	"keepsake/internal/audit/models"
	id "keepsake/pkg/domain"
)

// Error Contract:
// - Head returns sentinel.ErrNotFound for a stream with no events
// - Append returns sentinel.ErrConflict when the head moved, sentinel.ErrDuplicate on a repeated event id
// - Get returns sentinel.ErrNotFound when the event was never written or was pruned
type Store interface {
	Head(ctx context.Context, stream id.StreamID) (*models.StreamHead, error)
	Append(ctx context.Context, event *models.Event, algorithm string) error
	Get(ctx context.Context, stream id.StreamID, seq int64) (*models.Event, error)
	// ListStream returns events with fromSeq <= seq <= toSeq in order. toSeq 0 means to the head.
	ListStream(ctx context.Context, stream id.StreamID, fromSeq, toSeq int64) ([]models.Event, error)
	Query(ctx context.Context, q models.Query) ([]models.Event, error)
	// PruneBefore removes events of one region older than cutoff. Heads are kept.
	PruneBefore(ctx context.Context, region id.Region, cutoff time.Time) (int64, error)
}

const (
	defaultQueryLimit = 500
	maxQueryLimit     = 5000
)

func queryLimit(limit int) int {
	if limit <= 0 {
		return defaultQueryLimit
	}
	return min(limit, maxQueryLimit)
}
