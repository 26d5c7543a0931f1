package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"keepsake/internal/memory/models"
	"keepsake/internal/sentinel"
	id "keepsake/pkg/domain"
)

// InMemoryStore keeps objects by ID with an owner index. Callers get copies.
type InMemoryStore struct {
	mu      sync.RWMutex
	objects map[id.ObjectID]*models.Object
	byOwner map[id.SubjectID][]id.ObjectID
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		objects: make(map[id.ObjectID]*models.Object),
		byOwner: make(map[id.SubjectID][]id.ObjectID),
	}
}

func (s *InMemoryStore) Get(_ context.Context, objectID id.ObjectID) (*models.Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.objects[objectID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(o), nil
}

func (s *InMemoryStore) Insert(_ context.Context, o *models.Object) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.objects[o.ID]; exists {
		return sentinel.ErrDuplicate
	}
	s.objects[o.ID] = clone(o)
	s.byOwner[o.OwnerID] = append(s.byOwner[o.OwnerID], o.ID)
	return nil
}

func (s *InMemoryStore) Update(_ context.Context, o *models.Object) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.objects[o.ID]; !exists {
		return sentinel.ErrNotFound
	}
	s.objects[o.ID] = clone(o)
	return nil
}

func (s *InMemoryStore) ListByOwner(_ context.Context, owner id.SubjectID, filter models.ListFilter) ([]*models.Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	limit := listLimit(filter.Limit)
	var out []*models.Object
	for _, objectID := range s.byOwner[owner] {
		o := s.objects[objectID]
		if !filter.Matches(o) {
			continue
		}
		out = append(out, clone(o))
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *InMemoryStore) ListDuePurge(_ context.Context, now time.Time, limit int) ([]*models.Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Object
	for _, o := range s.objects {
		if o.PurgeDue(now) {
			out = append(out, clone(o))
		}
	}
	slices.SortFunc(out, func(a, b *models.Object) int { return a.PurgeAfter.Compare(*b.PurgeAfter) })
	if l := listLimit(limit); len(out) > l {
		out = out[:l]
	}
	return out, nil
}

func clone(o *models.Object) *models.Object {
	cp := *o
	cp.LockedAt = copyTime(o.LockedAt)
	cp.PurgeAfter = copyTime(o.PurgeAfter)
	cp.PurgedAt = copyTime(o.PurgedAt)
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
