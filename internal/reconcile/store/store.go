// Package store persists sync cursors and review items.
package store

import (
	"context"

	"keepsake/internal/reconcile/models"
	id "keepsake/pkg/domain"
)

// Store is the sync bookkeeping repository.
//
// Error contract:
//   - GetCursor and GetReview return sentinel.ErrNotFound for unknown keys.
//   - SaveCursor inserts a cursor with Version 0 and otherwise updates the
//     row only when its version still matches, returning sentinel.ErrStale
//     when it moved and sentinel.ErrConflict when an insert races another.
//     On success c.Version is the new row version.
//   - UpdateReview returns sentinel.ErrNotFound for unknown reviews.
type Store interface {
	GetCursor(ctx context.Context, stream id.StreamID) (*models.Cursor, error)
	SaveCursor(ctx context.Context, c *models.Cursor) error
	InsertReview(ctx context.Context, r *models.ReviewItem) error
	GetReview(ctx context.Context, reviewID id.ReviewID) (*models.ReviewItem, error)
	UpdateReview(ctx context.Context, r *models.ReviewItem) error
	ListReviews(ctx context.Context, filter models.ReviewFilter) ([]*models.ReviewItem, error)
}

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

func listLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return min(limit, maxListLimit)
}
