package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"keepsake/internal/audit/chain"
	"keepsake/internal/audit/models"
	"keepsake/internal/audit/store"
	"keepsake/internal/platform/metrics"
	id "keepsake/pkg/domain"
	dErrors "keepsake/pkg/domain-errors"
	"keepsake/pkg/platform/outbox"
	"keepsake/pkg/requestcontext"
)

type stubExport struct {
	allowed map[id.SubjectID]bool
	err     error
}

func (s stubExport) CanExport(_ context.Context, subject id.SubjectID) (bool, error) {
	return s.allowed[subject], s.err
}

type AuditServiceSuite struct {
	suite.Suite
	store   *store.InMemoryStore
	outbox  *outbox.MemoryStore
	writer  *ChainWriter
	service *Service
	ctx     context.Context
	now     time.Time
}

func TestAuditServiceSuite(t *testing.T) {
	suite.Run(t, new(AuditServiceSuite))
}

func (s *AuditServiceSuite) SetupTest() {
	s.store = store.NewInMemory()
	s.outbox = outbox.NewMemoryStore()
	s.writer = NewChainWriter(s.store, chain.MustHasher(chain.AlgorithmSHA256),
		WithOutbox(s.outbox),
		WithDefaultRegion("eu"),
		WithWriterMetrics(metrics.NewWith(prometheus.NewRegistry())),
	)
	s.service = New(s.store, s.writer)
	s.now = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
}

func (s *AuditServiceSuite) draft(t models.EventType) models.Draft {
	return models.Draft{Type: t, ActorType: id.ActorSubject}
}

func (s *AuditServiceSuite) TestAppendBuildsChain() {
	stream := id.SubjectStream(id.SubjectID(uuid.New()))

	first, err := s.service.Append(s.ctx, stream, s.draft(models.EventConsentGranted))
	s.Require().NoError(err)
	second, err := s.service.Append(s.ctx, stream, s.draft(models.EventMemoryLocked))
	s.Require().NoError(err)

	s.Equal(int64(1), first.Seq)
	s.Equal(chain.GenesisHash, first.PrevHash)
	s.Equal(first.SelfHash, second.PrevHash)
	s.Equal(id.Region("eu"), second.Region)
	s.Equal(s.now, second.TimestampUTC)
	s.Equal(models.OutcomeSuccess, second.Outcome)

	entries := s.outbox.ListByKind(outbox.KindAuditEvent)
	s.Len(entries, 2)
}

func (s *AuditServiceSuite) TestAppendRejectsInvalidDrafts() {
	stream := id.DeviceStream("d1")
	_, err := s.service.Append(s.ctx, stream, models.Draft{Type: "consent_teleported", ActorType: id.ActorSubject})
	s.True(dErrors.HasCode(err, dErrors.CodeAuditWrite))

	_, err = s.service.Append(s.ctx, stream, models.Draft{Type: models.EventConsentGranted, ActorType: "robot"})
	s.True(dErrors.HasCode(err, dErrors.CodeAuditWrite))
}

func (s *AuditServiceSuite) TestAppendChainViolations() {
	stream := id.DeviceStream("d2")
	first, err := s.service.Append(s.ctx, stream, s.draft(models.EventConsentGranted))
	s.Require().NoError(err)

	s.Run("expected prev hash mismatch", func() {
		d := s.draft(models.EventConsentRevoked)
		d.ExpectedPrevHash = chain.GenesisHash
		_, err := s.service.Append(s.ctx, stream, d)
		s.True(dErrors.HasCode(err, dErrors.CodeChainViolation))
	})

	s.Run("expected prev hash match", func() {
		d := s.draft(models.EventConsentRevoked)
		d.ExpectedPrevHash = first.SelfHash
		_, err := s.service.Append(s.ctx, stream, d)
		s.NoError(err)
	})

	s.Run("duplicate event id", func() {
		d := s.draft(models.EventConsentRenewed)
		d.ID = first.ID
		_, err := s.service.Append(s.ctx, stream, d)
		s.True(dErrors.HasCode(err, dErrors.CodeChainViolation))
	})
}

func (s *AuditServiceSuite) TestConcurrentAppendsStayContiguous() {
	stream := id.SubjectStream(id.SubjectID(uuid.New()))
	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			for range 5 {
				// Retries absorb head movement; exhausting them surfaces a chain violation.
				_, err := s.service.Append(s.ctx, stream, s.draft(models.EventMemoryLocked))
				if err != nil {
					s.True(dErrors.HasCode(err, dErrors.CodeChainViolation))
				}
			}
		})
	}
	wg.Wait()

	res, err := s.service.Verify(s.ctx, stream, 0, 0)
	s.Require().NoError(err)
	s.True(res.Valid, res.Reason)
}

func (s *AuditServiceSuite) TestAppendStoreFailureIsAuditWriteError() {
	failing := NewChainWriter(failingStore{Store: s.store}, chain.MustHasher(chain.AlgorithmSHA256))
	_, err := failing.Append(s.ctx, id.DeviceStream("d3"), s.draft(models.EventConsentGranted))
	s.True(dErrors.HasCode(err, dErrors.CodeAuditWrite))
}

func (s *AuditServiceSuite) TestAppendRefusesAlgorithmSwitch() {
	stream := id.DeviceStream("d4")
	_, err := s.service.Append(s.ctx, stream, s.draft(models.EventConsentGranted))
	s.Require().NoError(err)

	blake := NewChainWriter(s.store, chain.MustHasher(chain.AlgorithmBLAKE2b))
	_, err = blake.Append(s.ctx, stream, s.draft(models.EventConsentRevoked))
	s.True(dErrors.HasCode(err, dErrors.CodeAuditWrite))
}

func (s *AuditServiceSuite) TestAppendVerified() {
	stream := id.DeviceStream("tablet")
	hasher := chain.MustHasher(chain.AlgorithmSHA256)
	build := func(startSeq int64, prev string, n int) []models.Event {
		out := make([]models.Event, n)
		for i := range out {
			out[i] = models.Event{
				ID: id.NewEventID(), Stream: stream, Seq: startSeq + int64(i),
				Type: models.EventConsentGranted, ActorType: id.ActorSubject,
				TimestampUTC: s.now, Region: "eu", Outcome: models.OutcomeSuccess,
			}
			chain.Seal(hasher, &out[i], prev)
			prev = out[i].SelfHash
		}
		return out
	}

	batch := build(1, chain.GenesisHash, 3)
	s.Require().NoError(s.writer.AppendVerified(s.ctx, stream, batch))

	head, err := s.service.Head(s.ctx, stream)
	s.Require().NoError(err)
	s.Equal(batch[2].SelfHash, head.Hash)

	s.Run("batch not extending tail", func() {
		err := s.writer.AppendVerified(s.ctx, stream, build(4, chain.GenesisHash, 1))
		s.True(dErrors.HasCode(err, dErrors.CodeChainViolation))
	})

	s.Run("tampered batch", func() {
		next := build(4, head.Hash, 2)
		next[1].Detail = "edited"
		err := s.writer.AppendVerified(s.ctx, stream, next)
		s.True(dErrors.HasCode(err, dErrors.CodeChainViolation))
	})

	s.Run("foreign stream event", func() {
		next := build(4, head.Hash, 1)
		next[0].Stream = "device:other"
		err := s.writer.AppendVerified(s.ctx, stream, next)
		s.True(dErrors.HasCode(err, dErrors.CodeChainViolation))
	})
}

func (s *AuditServiceSuite) TestVerifyDetectsTampering() {
	stream := id.SubjectStream(id.SubjectID(uuid.New()))
	for range 4 {
		_, err := s.service.Append(s.ctx, stream, s.draft(models.EventMemoryLocked))
		s.Require().NoError(err)
	}

	res, err := s.service.Verify(s.ctx, stream, 0, 0)
	s.Require().NoError(err)
	s.True(res.Valid)
	s.Equal(4, res.Checked)

	res, err = s.service.Verify(s.ctx, stream, 3, 4)
	s.Require().NoError(err)
	s.True(res.Valid)
	s.Equal(2, res.Checked)

	tampered := New(tamperingStore{Store: s.store, seq: 2}, s.writer)
	res, err = tampered.Verify(s.ctx, stream, 0, 0)
	s.Require().NoError(err)
	s.False(res.Valid)
	s.Equal(int64(2), res.FirstDivergence)

	truncated := New(truncatingStore{Store: s.store}, s.writer)
	res, err = truncated.Verify(s.ctx, stream, 0, 0)
	s.Require().NoError(err)
	s.False(res.Valid)
	s.Equal(int64(4), res.FirstDivergence)
}

func (s *AuditServiceSuite) TestVerifyUnknownStream() {
	_, err := s.service.Verify(s.ctx, id.DeviceStream("ghost"), 0, 0)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *AuditServiceSuite) TestQueryResidency() {
	subject := id.SubjectID(uuid.New())
	d := s.draft(models.EventConsentGranted)
	d.SubjectID = subject
	d.Region = "us"
	_, err := s.service.Append(s.ctx, id.SubjectStream(subject), d)
	s.Require().NoError(err)

	s.Run("same region defaults to requester partition", func() {
		events, err := s.service.Query(s.ctx, models.Query{RequesterRegion: "us"})
		s.Require().NoError(err)
		s.Len(events, 1)
	})

	s.Run("cross region without export checker", func() {
		_, err := s.service.Query(s.ctx, models.Query{RequesterRegion: "eu", Region: "us", Subject: &subject})
		s.True(dErrors.HasCode(err, dErrors.CodeResidencyViolation))
	})

	s.Run("cross region without subject filter", func() {
		s.service.SetExportChecker(stubExport{allowed: map[id.SubjectID]bool{subject: true}})
		_, err := s.service.Query(s.ctx, models.Query{RequesterRegion: "eu", Region: "us"})
		s.True(dErrors.HasCode(err, dErrors.CodeResidencyViolation))
	})

	s.Run("cross region with export consent", func() {
		s.service.SetExportChecker(stubExport{allowed: map[id.SubjectID]bool{subject: true}})
		events, err := s.service.Query(s.ctx, models.Query{RequesterRegion: "eu", Region: "us", Subject: &subject})
		s.Require().NoError(err)
		s.Len(events, 1)
	})

	s.Run("cross region export check failure", func() {
		s.service.SetExportChecker(stubExport{err: errors.New("db down")})
		_, err := s.service.Query(s.ctx, models.Query{RequesterRegion: "eu", Region: "us", Subject: &subject})
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})

	s.Run("invalid filters", func() {
		from, to := s.now, s.now.Add(-time.Hour)
		_, err := s.service.Query(s.ctx, models.Query{RequesterRegion: "us", From: &from, To: &to})
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))

		_, err = s.service.Query(s.ctx, models.Query{RequesterRegion: "us", Types: []models.EventType{"nope"}})
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))

		_, err = s.service.Query(s.ctx, models.Query{})
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func (s *AuditServiceSuite) TestPruneBeforeHonoursRetention() {
	old := requestcontext.WithTime(context.Background(), s.now.AddDate(-8, 0, 0))
	_, err := s.service.Append(old, id.DeviceStream("d5"), s.draft(models.EventConsentGranted))
	s.Require().NoError(err)

	_, err = s.service.PruneBefore(s.ctx, "eu", s.now.AddDate(-1, 0, 0))
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	n, err := s.service.PruneBefore(s.ctx, "eu", s.now.AddDate(-7, 0, -1))
	s.Require().NoError(err)
	s.Equal(int64(1), n)
}

// failingStore fails every append.
type failingStore struct{ store.Store }

func (failingStore) Append(context.Context, *models.Event, string) error {
	return errors.New("disk full")
}

// tamperingStore returns seq with an edited detail field.
type tamperingStore struct {
	store.Store
	seq int64
}

func (t tamperingStore) ListStream(ctx context.Context, stream id.StreamID, from, to int64) ([]models.Event, error) {
	events, err := t.Store.ListStream(ctx, stream, from, to)
	for i := range events {
		if events[i].Seq == t.seq {
			events[i].Detail = "rewritten"
		}
	}
	return events, err
}

// truncatingStore hides the last event of every stream.
type truncatingStore struct{ store.Store }

func (t truncatingStore) ListStream(ctx context.Context, stream id.StreamID, from, to int64) ([]models.Event, error) {
	events, err := t.Store.ListStream(ctx, stream, from, to)
	if len(events) > 0 {
		events = events[:len(events)-1]
	}
	return events, err
}
