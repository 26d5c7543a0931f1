package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"keepsake/internal/audit/chain"
	"keepsake/internal/audit/models"
	"keepsake/internal/platform/database/sqlite"
	"keepsake/internal/sentinel"
	id "keepsake/pkg/domain"
)

// StoreContractSuite runs the same chain-head contract against every
// implementation that can run without external services.
type StoreContractSuite struct {
	suite.Suite
	newStore func(t *testing.T) Store
	store    Store
	hasher   chain.Hasher
	base     time.Time
}

func TestInMemoryStoreContract(t *testing.T) {
	suite.Run(t, &StoreContractSuite{newStore: func(*testing.T) Store { return NewInMemory() }})
}

func TestSQLiteStoreContract(t *testing.T) {
	suite.Run(t, &StoreContractSuite{newStore: func(t *testing.T) Store {
		db, err := sqlite.Open(context.Background(), ":memory:", SQLiteSchema)
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		t.Cleanup(func() { db.Close() })
		return NewSQLite(db)
	}})
}

func (s *StoreContractSuite) SetupTest() {
	s.store = s.newStore(s.T())
	s.hasher = chain.MustHasher(chain.AlgorithmSHA256)
	s.base = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
}

func (s *StoreContractSuite) event(stream id.StreamID, seq int64, prev string, region id.Region, subject id.SubjectID) *models.Event {
	e := &models.Event{
		ID:           id.NewEventID(),
		Stream:       stream,
		Seq:          seq,
		Type:         models.EventConsentGranted,
		ActorType:    id.ActorSubject,
		TimestampUTC: s.base.Add(time.Duration(seq) * time.Hour),
		Region:       region,
		Outcome:      models.OutcomeSuccess,
		SubjectID:    subject,
		ConsentType:  "memory_retention",
	}
	chain.Seal(s.hasher, e, prev)
	return e
}

func (s *StoreContractSuite) appendN(stream id.StreamID, n int, region id.Region, subject id.SubjectID) []*models.Event {
	ctx := context.Background()
	prev := chain.GenesisHash
	var out []*models.Event
	for i := 1; i <= n; i++ {
		e := s.event(stream, int64(i), prev, region, subject)
		s.Require().NoError(s.store.Append(ctx, e, s.hasher.Algorithm()))
		prev = e.SelfHash
		out = append(out, e)
	}
	return out
}

func (s *StoreContractSuite) TestHeadTracksTail() {
	ctx := context.Background()
	stream := id.DeviceStream("tablet-1")

	_, err := s.store.Head(ctx, stream)
	s.ErrorIs(err, sentinel.ErrNotFound)

	events := s.appendN(stream, 3, "eu", id.SubjectID(uuid.New()))
	head, err := s.store.Head(ctx, stream)
	s.Require().NoError(err)
	s.Equal(int64(3), head.Seq)
	s.Equal(events[2].SelfHash, head.Hash)
	s.Equal(chain.AlgorithmSHA256, head.Algorithm)
}

func (s *StoreContractSuite) TestAppendRejectsStaleHead() {
	ctx := context.Background()
	stream := id.DeviceStream("tablet-2")
	events := s.appendN(stream, 2, "eu", id.SubjectID(uuid.New()))

	s.Run("gap in seq", func() {
		e := s.event(stream, 4, events[1].SelfHash, "eu", id.SubjectID(uuid.New()))
		s.ErrorIs(s.store.Append(ctx, e, s.hasher.Algorithm()), sentinel.ErrConflict)
	})
	s.Run("wrong prev hash", func() {
		e := s.event(stream, 3, events[0].SelfHash, "eu", id.SubjectID(uuid.New()))
		s.ErrorIs(s.store.Append(ctx, e, s.hasher.Algorithm()), sentinel.ErrConflict)
	})
	s.Run("second genesis", func() {
		e := s.event(stream, 1, chain.GenesisHash, "eu", id.SubjectID(uuid.New()))
		s.ErrorIs(s.store.Append(ctx, e, s.hasher.Algorithm()), sentinel.ErrConflict)
	})
}

func (s *StoreContractSuite) TestAppendRejectsDuplicateID() {
	ctx := context.Background()
	first := s.appendN(id.DeviceStream("tablet-3"), 1, "eu", id.SubjectID(uuid.New()))[0]

	dup := s.event(id.DeviceStream("tablet-4"), 1, chain.GenesisHash, "eu", id.SubjectID(uuid.New()))
	dup.ID = first.ID
	chain.Seal(s.hasher, dup, chain.GenesisHash)
	err := s.store.Append(ctx, dup, s.hasher.Algorithm())
	s.Error(err)
	s.ErrorIs(err, sentinel.ErrDuplicate)
}

func (s *StoreContractSuite) TestListStreamRange() {
	ctx := context.Background()
	stream := id.DeviceStream("tablet-5")
	s.appendN(stream, 5, "eu", id.SubjectID(uuid.New()))

	all, err := s.store.ListStream(ctx, stream, 1, 0)
	s.Require().NoError(err)
	s.Len(all, 5)
	s.Equal(chain.GenesisHash, all[0].PrevHash)

	mid, err := s.store.ListStream(ctx, stream, 2, 4)
	s.Require().NoError(err)
	s.Require().Len(mid, 3)
	s.Equal(int64(2), mid[0].Seq)
	s.Equal(int64(4), mid[2].Seq)

	res := chain.VerifyEvents(s.hasher, all, 0, chain.GenesisHash)
	s.True(res.Valid, res.Reason)

	got, err := s.store.Get(ctx, stream, 3)
	s.Require().NoError(err)
	s.Equal(all[2].SelfHash, got.SelfHash)
	_, err = s.store.Get(ctx, stream, 9)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *StoreContractSuite) TestQueryIsScopedToRegion() {
	ctx := context.Background()
	subject := id.SubjectID(uuid.New())
	s.appendN(id.SubjectStream(subject), 3, "eu", subject)
	other := id.SubjectID(uuid.New())
	s.appendN(id.SubjectStream(other), 2, "us", other)

	eu, err := s.store.Query(ctx, models.Query{Region: "eu"})
	s.Require().NoError(err)
	s.Len(eu, 3)

	from := s.base.Add(2 * time.Hour)
	windowed, err := s.store.Query(ctx, models.Query{Region: "eu", From: &from, Subject: &subject})
	s.Require().NoError(err)
	s.Len(windowed, 2)

	typed, err := s.store.Query(ctx, models.Query{Region: "us", Types: []models.EventType{models.EventMemoryPurged}})
	s.Require().NoError(err)
	s.Empty(typed)

	limited, err := s.store.Query(ctx, models.Query{Region: "eu", Limit: 1})
	s.Require().NoError(err)
	s.Len(limited, 1)
}

func (s *StoreContractSuite) TestPruneKeepsHead() {
	ctx := context.Background()
	stream := id.DeviceStream("tablet-6")
	events := s.appendN(stream, 4, "uk", id.SubjectID(uuid.New()))

	n, err := s.store.PruneBefore(ctx, "uk", s.base.Add(3*time.Hour))
	s.Require().NoError(err)
	s.Equal(int64(2), n)

	rest, err := s.store.ListStream(ctx, stream, 1, 0)
	s.Require().NoError(err)
	s.Len(rest, 2)

	head, err := s.store.Head(ctx, stream)
	s.Require().NoError(err)
	s.Equal(events[3].SelfHash, head.Hash)
}
