package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"keepsake/internal/audit/models"
	"keepsake/internal/sentinel"
	id "keepsake/pkg/domain"
)

// InMemoryStore keeps one partition per region, mirroring the Postgres layout.
type InMemoryStore struct {
	mu         sync.RWMutex
	partitions map[id.Region][]*models.Event
	streams    map[id.StreamID][]*models.Event
	heads      map[id.StreamID]models.StreamHead
	ids        map[id.EventID]struct{}
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		partitions: make(map[id.Region][]*models.Event),
		streams:    make(map[id.StreamID][]*models.Event),
		heads:      make(map[id.StreamID]models.StreamHead),
		ids:        make(map[id.EventID]struct{}),
	}
}

func (s *InMemoryStore) Head(_ context.Context, stream id.StreamID) (*models.StreamHead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.heads[stream]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &h, nil
}

func (s *InMemoryStore) Append(_ context.Context, event *models.Event, algorithm string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.ids[event.ID]; dup {
		return sentinel.ErrDuplicate
	}
	head, exists := s.heads[event.Stream]
	if !exists {
		if event.Seq != 1 {
			return sentinel.ErrConflict
		}
	} else if event.Seq != head.Seq+1 || event.PrevHash != head.Hash {
		return sentinel.ErrConflict
	}

	stored := *event
	s.partitions[event.Region] = append(s.partitions[event.Region], &stored)
	s.streams[event.Stream] = append(s.streams[event.Stream], &stored)
	s.ids[event.ID] = struct{}{}
	if !exists {
		head = models.StreamHead{Stream: event.Stream, Algorithm: algorithm}
	}
	head.Seq, head.Hash = event.Seq, event.SelfHash
	s.heads[event.Stream] = head
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, stream id.StreamID, seq int64) (*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.streams[stream] {
		if e.Seq == seq {
			cp := *e
			return &cp, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStore) ListStream(_ context.Context, stream id.StreamID, fromSeq, toSeq int64) ([]models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Event
	for _, e := range s.streams[stream] {
		if e.Seq < fromSeq || (toSeq > 0 && e.Seq > toSeq) {
			continue
		}
		out = append(out, *e)
	}
	return out, nil
}

func (s *InMemoryStore) Query(_ context.Context, q models.Query) ([]models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := queryLimit(q.Limit)
	var out []models.Event
	for _, e := range s.partitions[q.Region] {
		if !matches(e, q) {
			continue
		}
		out = append(out, *e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func matches(e *models.Event, q models.Query) bool {
	if q.From != nil && e.TimestampUTC.Before(*q.From) {
		return false
	}
	if q.To != nil && !e.TimestampUTC.Before(*q.To) {
		return false
	}
	if q.Subject != nil && e.SubjectID != *q.Subject {
		return false
	}
	if q.Stream != "" && e.Stream != q.Stream {
		return false
	}
	if len(q.Types) > 0 && !slices.Contains(q.Types, e.Type) {
		return false
	}
	return true
}

func (s *InMemoryStore) PruneBefore(_ context.Context, region id.Region, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pruned int64
	kept := s.partitions[region][:0]
	for _, e := range s.partitions[region] {
		if e.TimestampUTC.Before(cutoff) {
			pruned++
			s.streams[e.Stream] = slices.DeleteFunc(s.streams[e.Stream], func(x *models.Event) bool { return x == e })
			continue
		}
		kept = append(kept, e)
	}
	s.partitions[region] = kept
	return pruned, nil
}
