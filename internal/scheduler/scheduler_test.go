package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"keepsake/internal/audit/chain"
	auditmodels "keepsake/internal/audit/models"
	auditservice "keepsake/internal/audit/service"
	auditstore "keepsake/internal/audit/store"
	consentmodels "keepsake/internal/consent/models"
	consentservice "keepsake/internal/consent/service"
	consentstore "keepsake/internal/consent/store"
	"keepsake/internal/memory/blob"
	memorymodels "keepsake/internal/memory/models"
	memoryservice "keepsake/internal/memory/service"
	memorystore "keepsake/internal/memory/store"
	"keepsake/internal/platform/lock"
	"keepsake/internal/platform/metrics"
	"keepsake/internal/scheduler/mocks"
	id "keepsake/pkg/domain"
	"keepsake/pkg/platform/outbox"
	platformsync "keepsake/pkg/platform/sync"
	"keepsake/pkg/requestcontext"
)

// LifecycleSuite drives real in-memory services through the scheduler.
type LifecycleSuite struct {
	suite.Suite
	audit     *auditstore.InMemoryStore
	hasher    chain.Hasher
	objects   *memorystore.InMemoryStore
	outbox    *outbox.MemoryStore
	consents  *consentservice.Service
	memory    *memoryservice.Service
	scheduler *Scheduler
	subject   id.SubjectID
	day0      time.Time
}

func TestLifecycleSuite(t *testing.T) {
	suite.Run(t, new(LifecycleSuite))
}

func (s *LifecycleSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mu := platformsync.NewShardedMutex()
	s.audit = auditstore.NewInMemory()
	s.hasher = chain.MustHasher(chain.AlgorithmSHA256)
	writer := auditservice.NewChainWriter(s.audit, s.hasher)

	records := consentstore.NewInMemory()
	s.consents = consentservice.New(
		consentservice.NewShardedTx(mu, consentservice.Stores{Records: records, Audit: writer}, nil),
		records, consentmodels.DefaultRegistry(), consentservice.WithLogger(logger))

	s.objects = memorystore.NewInMemory()
	s.memory = memoryservice.New(
		memoryservice.NewShardedTx(mu, memoryservice.Stores{Objects: s.objects, Audit: writer}),
		s.objects, s.consents, s.consents.Registry(), blob.NewMemory(), memoryservice.WithLogger(logger))
	s.consents.SetDependentGate(s.memory)

	s.outbox = outbox.NewMemoryStore()
	var err error
	s.scheduler, err = New(s.consents, s.memory, s.outbox, lock.NewLocal(),
		WithMetrics(metrics.NewWith(prometheus.NewRegistry())),
		WithLogger(logger),
	)
	s.Require().NoError(err)

	s.subject = id.SubjectID(uuid.New())
	s.day0 = time.Date(2026, 1, 5, 7, 30, 0, 0, time.UTC)
}

func (s *LifecycleSuite) at(days int) context.Context {
	return requestcontext.WithTime(context.Background(), s.day0.AddDate(0, 0, days))
}

func (s *LifecycleSuite) sweep(days int) Result {
	res, err := s.scheduler.RunOnce(s.at(days), consentmodels.TypeMemoryRetention)
	s.Require().NoError(err)
	return res
}

func (s *LifecycleSuite) seed(writes int) []id.ObjectID {
	_, err := s.consents.Grant(s.at(0), s.subject, consentmodels.TypeMemoryRetention, consentmodels.MethodVerbalLogged, "eu", id.ActorSubject)
	s.Require().NoError(err)
	ids := make([]id.ObjectID, 0, writes)
	for i := range writes {
		o, err := s.memory.Write(s.at(1), s.subject, memorymodels.ScopeSession, memorymodels.ConsentRef{},
			"session/"+uuid.NewString(), "")
		s.Require().NoError(err, "write %d", i)
		ids = append(ids, o.ID)
	}
	return ids
}

func (s *LifecycleSuite) states(ids []id.ObjectID) []memorymodels.State {
	out := make([]memorymodels.State, 0, len(ids))
	for _, objectID := range ids {
		o, err := s.objects.Get(context.Background(), objectID)
		s.Require().NoError(err)
		out = append(out, o.State)
	}
	return out
}

func repeat(state memorymodels.State, n int) []memorymodels.State {
	out := make([]memorymodels.State, n)
	for i := range out {
		out[i] = state
	}
	return out
}

func (s *LifecycleSuite) TestQuarterScenario() {
	objects := s.seed(5)

	s.Run("reminder at day 83 is emitted once", func() {
		res := s.sweep(83)
		s.Equal(1, res.Reminded)
		s.Zero(res.Expired)

		res = s.sweep(84)
		s.Zero(res.Reminded)
		s.Len(s.outbox.ListByKind(outbox.KindRenewalDue), 1)
	})

	s.Run("expiry at day 91 locks all five", func() {
		res := s.sweep(91)
		s.Equal(1, res.Expired)
		s.Equal(5, res.Locked)
		s.Equal(repeat(memorymodels.StateLocked, 5), s.states(objects))
	})

	s.Run("renewal at day 96 unlocks all five", func() {
		_, err := s.consents.Renew(s.at(96), s.subject, consentmodels.TypeMemoryRetention, consentmodels.MethodVerbalLogged, id.ActorSubject)
		s.Require().NoError(err)
		s.Equal(repeat(memorymodels.StateActive, 5), s.states(objects))
	})

	events, err := s.audit.ListStream(context.Background(), id.SubjectStream(s.subject), 1, 0)
	s.Require().NoError(err)
	s.Require().Len(events, 13)

	want := []auditmodels.EventType{auditmodels.EventConsentGranted, auditmodels.EventConsentExpired}
	for range 5 {
		want = append(want, auditmodels.EventMemoryLocked)
	}
	want = append(want, auditmodels.EventConsentRenewed)
	for range 5 {
		want = append(want, auditmodels.EventMemoryUnlocked)
	}
	got := make([]auditmodels.EventType, 0, len(events))
	for i, e := range events {
		s.Equal(int64(i+1), e.Seq)
		got = append(got, e.Type)
	}
	s.Equal(want, got)
	s.True(chain.VerifyEvents(s.hasher, events, 0, chain.GenesisHash).Valid)
}

func (s *LifecycleSuite) TestGraceWindow() {
	s.Run("renew three days after expiry restores objects", func() {
		objects := s.seed(2)
		s.sweep(90)
		_, err := s.consents.Renew(s.at(93), s.subject, consentmodels.TypeMemoryRetention, consentmodels.MethodTap, id.ActorSubject)
		s.Require().NoError(err)
		s.Equal(repeat(memorymodels.StateActive, 2), s.states(objects))
	})

	s.Run("renew ten days after expiry finds objects purged", func() {
		s.subject = id.SubjectID(uuid.New())
		objects := s.seed(2)
		s.sweep(90)

		res := s.sweep(100)
		s.Equal(2, res.Purged)

		_, err := s.consents.Renew(s.at(100), s.subject, consentmodels.TypeMemoryRetention, consentmodels.MethodTap, id.ActorSubject)
		s.Require().NoError(err)
		s.Equal(repeat(memorymodels.StatePurged, 2), s.states(objects))
	})
}

func (s *LifecycleSuite) TestEnforcementRepairsMissedRevocationLock() {
	objects := s.seed(3)
	s.consents.SetDependentGate(nil)
	_, err := s.consents.Revoke(s.at(10), s.subject, consentmodels.TypeMemoryRetention, id.ActorSubject)
	s.Require().NoError(err)
	s.Equal(repeat(memorymodels.StateActive, 3), s.states(objects))

	res := s.sweep(11)
	s.Equal(3, res.Locked)
	s.Equal(repeat(memorymodels.StateLocked, 3), s.states(objects))

	res = s.sweep(12)
	s.Zero(res.Locked)
}

func (s *LifecycleSuite) TestSweepPagesPastBatchSize() {
	sched, err := New(s.consents, s.memory, s.outbox, lock.NewLocal(),
		WithBatchSize(1),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	s.Require().NoError(err)

	var objects []id.ObjectID
	for range 3 {
		s.subject = id.SubjectID(uuid.New())
		objects = append(objects, s.seed(2)...)
	}
	run := func(days int) Result {
		res, err := sched.RunOnce(s.at(days), consentmodels.TypeMemoryRetention)
		s.Require().NoError(err)
		return res
	}

	s.Run("reminded records stay listed and every subject is reached", func() {
		res := run(83)
		s.Equal(3, res.Reminded)
		s.Len(s.outbox.ListByKind(outbox.KindRenewalDue), 3)
	})

	s.Run("expiry reaches every subject", func() {
		res := run(91)
		s.Equal(3, res.Expired)
		s.Equal(6, res.Locked)
		s.Equal(repeat(memorymodels.StateLocked, 6), s.states(objects))
	})
}

func (s *LifecycleSuite) TestEnforcementPagesPastBatchSize() {
	sched, err := New(s.consents, s.memory, s.outbox, lock.NewLocal(),
		WithBatchSize(1),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	s.Require().NoError(err)

	var objects []id.ObjectID
	for range 3 {
		s.subject = id.SubjectID(uuid.New())
		objects = append(objects, s.seed(1)...)
	}
	s.consents.SetDependentGate(nil)
	for _, objectID := range objects {
		o, err := s.objects.Get(context.Background(), objectID)
		s.Require().NoError(err)
		_, err = s.consents.Revoke(s.at(10), o.OwnerID, consentmodels.TypeMemoryRetention, id.ActorSubject)
		s.Require().NoError(err)
	}

	res, err := sched.RunOnce(s.at(11), consentmodels.TypeMemoryRetention)
	s.Require().NoError(err)
	s.Equal(3, res.Locked)
	s.Equal(repeat(memorymodels.StateLocked, 3), s.states(objects))
}

func TestSweepSkipsBusySubjects(t *testing.T) {
	ctrl := gomock.NewController(t)
	consents := mocks.NewMockConsentService(ctrl)
	memory := mocks.NewMockMemoryService(ctrl)
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	due := &consentmodels.Record{
		SubjectID: id.SubjectID(uuid.New()),
		Type:      consentmodels.TypeMemoryRetention,
		Status:    consentmodels.StatusGranted,
		ExpiresAt: now.Add(-time.Hour),
		Version:   2,
	}

	consents.EXPECT().Registry().Return(consentmodels.DefaultRegistry()).AnyTimes()
	consents.EXPECT().ListDue(gomock.Any(), consentmodels.TypeMemoryRetention, gomock.Any(), gomock.Nil(), 500).
		Return([]*consentmodels.Record{due}, nil).Times(2)
	consents.EXPECT().ListInactive(gomock.Any(), consentmodels.TypeMemoryRetention, gomock.Nil(), 500).Return(nil, nil).Times(2)
	memory.EXPECT().PurgeDue(gomock.Any()).Return(memoryservice.PurgeResult{}, nil).Times(2)

	for name, locker := range map[string]lock.Locker{
		"held":        stubLocker{},
		"unreachable": stubLocker{err: errors.New("dial tcp: connection refused")},
	} {
		sched, err := New(consents, memory, outbox.NewMemoryStore(), locker,
			WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
		require.NoError(t, err)

		res, err := sched.RunOnce(requestcontext.WithTime(context.Background(), now), consentmodels.TypeMemoryRetention)
		require.NoError(t, err, name)
		assert.Equal(t, 1, res.Skipped, name)
		assert.Zero(t, res.Expired, name)
	}
}

func TestSweepDiscardsStaleExpiry(t *testing.T) {
	ctrl := gomock.NewController(t)
	consents := mocks.NewMockConsentService(ctrl)
	memory := mocks.NewMockMemoryService(ctrl)
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	due := &consentmodels.Record{
		SubjectID: id.SubjectID(uuid.New()),
		Type:      consentmodels.TypeMemoryRetention,
		Status:    consentmodels.StatusGranted,
		ExpiresAt: now.Add(-time.Minute),
		Version:   4,
	}

	consents.EXPECT().Registry().Return(consentmodels.DefaultRegistry()).AnyTimes()
	consents.EXPECT().ListDue(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return([]*consentmodels.Record{due}, nil)
	consents.EXPECT().Expire(gomock.Any(), due.SubjectID, due.Type, 4).Return(nil, nil)
	consents.EXPECT().ListInactive(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, nil)
	memory.EXPECT().PurgeDue(gomock.Any()).Return(memoryservice.PurgeResult{}, nil)

	sched, err := New(consents, memory, outbox.NewMemoryStore(), lock.NewLocal())
	require.NoError(t, err)

	res, err := sched.RunOnce(requestcontext.WithTime(context.Background(), now), consentmodels.TypeMemoryRetention)
	require.NoError(t, err)
	assert.Zero(t, res.Expired)
	assert.Zero(t, res.Locked)
}

func TestSweepResumesAfterLastRecordOfPage(t *testing.T) {
	ctrl := gomock.NewController(t)
	consents := mocks.NewMockConsentService(ctrl)
	memory := mocks.NewMockMemoryService(ctrl)
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	records := make([]*consentmodels.Record, 3)
	for i := range records {
		records[i] = &consentmodels.Record{
			ID:        id.RecordID(uuid.New()),
			SubjectID: id.SubjectID(uuid.New()),
			Type:      consentmodels.TypeMemoryRetention,
			Status:    consentmodels.StatusRevoked,
			ExpiresAt: now.AddDate(0, 0, 10+i),
			CreatedAt: now.Add(time.Duration(i-3) * time.Hour),
			Version:   2,
		}
	}

	consents.EXPECT().Registry().Return(consentmodels.DefaultRegistry()).AnyTimes()
	consents.EXPECT().ListDue(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Nil(), 1).Return(nil, nil)
	gomock.InOrder(
		consents.EXPECT().ListInactive(gomock.Any(), consentmodels.TypeMemoryRetention, gomock.Nil(), 1).
			Return(records[:1], nil),
		consents.EXPECT().ListInactive(gomock.Any(), consentmodels.TypeMemoryRetention, records[0].InactivePosition(), 1).
			Return(records[1:2], nil),
		consents.EXPECT().ListInactive(gomock.Any(), consentmodels.TypeMemoryRetention, records[1].InactivePosition(), 1).
			Return(records[2:], nil),
		consents.EXPECT().ListInactive(gomock.Any(), consentmodels.TypeMemoryRetention, records[2].InactivePosition(), 1).
			Return(nil, nil),
	)
	for _, r := range records {
		memory.EXPECT().LockDependents(gomock.Any(), r, memorymodels.ReasonRevocation, id.ActorSystem).Return(1, nil)
	}
	memory.EXPECT().PurgeDue(gomock.Any()).Return(memoryservice.PurgeResult{}, nil)

	sched, err := New(consents, memory, outbox.NewMemoryStore(), lock.NewLocal(), WithBatchSize(1))
	require.NoError(t, err)

	res, err := sched.RunOnce(requestcontext.WithTime(context.Background(), now), consentmodels.TypeMemoryRetention)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Locked)
}

func TestSweepAggregatesErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	consents := mocks.NewMockConsentService(ctrl)
	memory := mocks.NewMockMemoryService(ctrl)
	storeDown := errors.New("store down")
	blobDown := errors.New("blob store down")

	consents.EXPECT().Registry().Return(consentmodels.DefaultRegistry()).AnyTimes()
	consents.EXPECT().ListDue(gomock.Any(), consentmodels.TypeMemoryRetention, gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, storeDown)
	consents.EXPECT().ListDue(gomock.Any(), consentmodels.TypeExport, gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, nil)
	consents.EXPECT().ListInactive(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, nil).Times(2)
	memory.EXPECT().PurgeDue(gomock.Any()).Return(memoryservice.PurgeResult{Purged: 1, Failed: 1}, blobDown)

	sched, err := New(consents, memory, outbox.NewMemoryStore(), lock.NewLocal())
	require.NoError(t, err)

	res, err := sched.RunOnce(context.Background(), consentmodels.TypeMemoryRetention, consentmodels.TypeExport)
	require.Error(t, err)
	assert.ErrorIs(t, err, storeDown)
	assert.ErrorIs(t, err, blobDown)
	assert.Equal(t, 1, res.Purged)
	assert.Equal(t, 1, res.PurgeFailed)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(nil, nil, nil, nil)
	require.Error(t, err)
}

type stubLocker struct{ err error }

func (l stubLocker) TryAcquire(context.Context, string, time.Duration) (lock.Release, bool, error) {
	return nil, false, l.err
}
