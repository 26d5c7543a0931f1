// Package store persists memory object metadata. Unlike consent and audit
// rows, objects are updated in place as they move through their lifecycle.
package store

import (
	"context"
	"time"

	"keepsake/internal/memory/models"
	id "keepsake/pkg/domain"
)

// Store is the memory object repository.
//
// Error contract:
//   - Get and Update return sentinel.ErrNotFound for unknown objects.
//   - Insert returns sentinel.ErrDuplicate when the object ID exists.
type Store interface {
	Get(ctx context.Context, objectID id.ObjectID) (*models.Object, error)
	Insert(ctx context.Context, o *models.Object) error
	Update(ctx context.Context, o *models.Object) error
	ListByOwner(ctx context.Context, owner id.SubjectID, filter models.ListFilter) ([]*models.Object, error)
	// ListDuePurge returns locked objects whose purge deadline is at or before now, oldest deadline first.
	ListDuePurge(ctx context.Context, now time.Time, limit int) ([]*models.Object, error)
}

const (
	defaultListLimit = 1000
	maxListLimit     = 10000
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

func stateStrings(states []models.State) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}
