package store

import (
	"context"
	"slices"
	"sync"

	"keepsake/internal/reconcile/models"
	"keepsake/internal/sentinel"
	id "keepsake/pkg/domain"
)

// InMemoryStore keeps cursors and reviews in maps. Callers get copies.
type InMemoryStore struct {
	mu      sync.RWMutex
	cursors map[id.StreamID]models.Cursor
	reviews map[id.ReviewID]models.ReviewItem
	order   []id.ReviewID
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		cursors: make(map[id.StreamID]models.Cursor),
		reviews: make(map[id.ReviewID]models.ReviewItem),
	}
}

func (s *InMemoryStore) GetCursor(_ context.Context, stream id.StreamID) (*models.Cursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cursors[stream]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &c, nil
}

func (s *InMemoryStore) SaveCursor(_ context.Context, c *models.Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.cursors[c.Stream]
	switch {
	case c.Version == 0 && ok:
		return sentinel.ErrConflict
	case c.Version != 0 && (!ok || existing.Version != c.Version):
		return sentinel.ErrStale
	}
	c.Version++
	s.cursors[c.Stream] = *c
	return nil
}

func (s *InMemoryStore) InsertReview(_ context.Context, r *models.ReviewItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reviews[r.ID]; ok {
		return sentinel.ErrDuplicate
	}
	s.reviews[r.ID] = *r
	s.order = append(s.order, r.ID)
	return nil
}

func (s *InMemoryStore) GetReview(_ context.Context, reviewID id.ReviewID) (*models.ReviewItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reviews[reviewID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &r, nil
}

func (s *InMemoryStore) UpdateReview(_ context.Context, r *models.ReviewItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reviews[r.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.reviews[r.ID] = *r
	return nil
}

func (s *InMemoryStore) ListReviews(_ context.Context, filter models.ReviewFilter) ([]*models.ReviewItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	limit := listLimit(filter.Limit)
	out := make([]*models.ReviewItem, 0)
	for _, reviewID := range slices.Backward(s.order) {
		r := s.reviews[reviewID]
		if filter.Stream != "" && r.Stream != filter.Stream {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		out = append(out, &r)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
