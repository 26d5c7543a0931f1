// Package store persists consent records. Records are insert-only: a change
// inserts the next version and stamps superseded_at on the prior row.
package store

import (
	"context"
	"time"

	"keepsake/internal/consent/models"
	id "keepsake/pkg/domain"
)

// Store is the consent record repository.
//
// Error contract:
//   - Current returns sentinel.ErrNotFound when the subject never held the type.
//   - Insert returns sentinel.ErrConflict when (subject, type, version) exists.
//   - Supersede returns sentinel.ErrStale when the row is already superseded.
type Store interface {
	Current(ctx context.Context, subject id.SubjectID, t models.Type) (*models.Record, error)
	History(ctx context.Context, subject id.SubjectID, t models.Type) ([]*models.Record, error)
	Insert(ctx context.Context, r *models.Record) error
	Supersede(ctx context.Context, recordID id.RecordID, at time.Time) error
	ListDue(ctx context.Context, q models.DueQuery) ([]*models.Record, error)
	ListInactive(ctx context.Context, q models.InactiveQuery) ([]*models.Record, error)
}

const (
	defaultListLimit = 500
	maxListLimit     = 5000
)

func listLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultListLimit
	case limit > maxListLimit:
		return maxListLimit
	default:
		return limit
	}
}
