package store

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"keepsake/internal/consent/models"
	"keepsake/internal/sentinel"
	id "keepsake/pkg/domain"
)

type historyKey struct {
	subject id.SubjectID
	t       models.Type
}

// InMemoryStore keeps every version per (subject, type), oldest first.
type InMemoryStore struct {
	mu      sync.RWMutex
	history map[historyKey][]*models.Record
	byID    map[id.RecordID]*models.Record
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		history: make(map[historyKey][]*models.Record),
		byID:    make(map[id.RecordID]*models.Record),
	}
}

func (s *InMemoryStore) Current(_ context.Context, subject id.SubjectID, t models.Type) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := s.history[historyKey{subject, t}]
	if len(versions) == 0 {
		return nil, sentinel.ErrNotFound
	}
	cp := *versions[len(versions)-1]
	return &cp, nil
}

func (s *InMemoryStore) History(_ context.Context, subject id.SubjectID, t models.Type) ([]*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := s.history[historyKey{subject, t}]
	out := make([]*models.Record, 0, len(versions))
	for _, r := range versions {
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (s *InMemoryStore) Insert(_ context.Context, r *models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := historyKey{r.SubjectID, r.Type}
	versions := s.history[key]
	if len(versions) > 0 && versions[len(versions)-1].Version >= r.Version {
		return sentinel.ErrConflict
	}
	if _, dup := s.byID[r.ID]; dup {
		return sentinel.ErrConflict
	}
	cp := *r
	s.history[key] = append(versions, &cp)
	s.byID[r.ID] = &cp
	return nil
}

func (s *InMemoryStore) Supersede(_ context.Context, recordID id.RecordID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[recordID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if r.SupersededAt != nil {
		return sentinel.ErrStale
	}
	r.SupersededAt = &at
	return nil
}

func (s *InMemoryStore) ListDue(_ context.Context, q models.DueQuery) ([]*models.Record, error) {
	return s.listCurrent(q.Type, listLimit(q.Limit), func(r *models.Record) bool {
		return r.Status == models.StatusGranted && !r.ExpiresAt.After(q.Before) && q.After.Less(r.ExpiresAt, r.ID)
	}, byKey(func(r *models.Record) time.Time { return r.ExpiresAt })), nil
}

func (s *InMemoryStore) ListInactive(_ context.Context, q models.InactiveQuery) ([]*models.Record, error) {
	return s.listCurrent(q.Type, listLimit(q.Limit), func(r *models.Record) bool {
		inactive := r.Status == models.StatusExpired || r.Status == models.StatusRevoked
		return inactive && q.After.Less(r.CreatedAt, r.ID)
	}, byKey(func(r *models.Record) time.Time { return r.CreatedAt })), nil
}

// byKey orders records by a timestamp then by ID, the same order the SQL
// stores page in.
func byKey(at func(*models.Record) time.Time) func(a, b *models.Record) int {
	return func(a, b *models.Record) int {
		if c := at(a).Compare(at(b)); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	}
}

func (s *InMemoryStore) listCurrent(t models.Type, limit int, keep func(*models.Record) bool, cmp func(a, b *models.Record) int) []*models.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Record
	for key, versions := range s.history {
		if key.t != t || len(versions) == 0 {
			continue
		}
		if current := versions[len(versions)-1]; keep(current) {
			cp := *current
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, cmp)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
