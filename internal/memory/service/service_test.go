package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"keepsake/internal/audit/chain"
	auditmocks "keepsake/internal/audit/mocks"
	auditmodels "keepsake/internal/audit/models"
	auditservice "keepsake/internal/audit/service"
	auditstore "keepsake/internal/audit/store"
	consentmodels "keepsake/internal/consent/models"
	consentservice "keepsake/internal/consent/service"
	consentstore "keepsake/internal/consent/store"
	"keepsake/internal/memory/blob"
	"keepsake/internal/memory/mocks"
	"keepsake/internal/memory/models"
	"keepsake/internal/memory/store"
	"keepsake/internal/platform/metrics"
	id "keepsake/pkg/domain"
	dErrors "keepsake/pkg/domain-errors"
	platformsync "keepsake/pkg/platform/sync"
	"keepsake/pkg/requestcontext"
)

type ServiceSuite struct {
	suite.Suite
	audit    *auditstore.InMemoryStore
	writer   *auditservice.ChainWriter
	objects  *store.InMemoryStore
	blobs    *blob.MemoryBackend
	consents *consentservice.Service
	service  *Service
	subject  id.SubjectID
	day0     time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mu := platformsync.NewShardedMutex()
	s.audit = auditstore.NewInMemory()
	s.writer = auditservice.NewChainWriter(s.audit, chain.MustHasher(chain.AlgorithmSHA256))

	records := consentstore.NewInMemory()
	consentTx := consentservice.NewShardedTx(mu, consentservice.Stores{Records: records, Audit: s.writer}, nil)
	s.consents = consentservice.New(consentTx, records, consentmodels.DefaultRegistry(), consentservice.WithLogger(logger))

	s.objects = store.NewInMemory()
	s.blobs = blob.NewMemory()
	tx := NewShardedTx(mu, Stores{Objects: s.objects, Audit: s.writer})
	s.service = New(tx, s.objects, s.consents, s.consents.Registry(), s.blobs,
		WithMetrics(metrics.NewWith(prometheus.NewRegistry())),
		WithLogger(logger),
		WithBlobConcurrency(2),
	)
	s.consents.SetDependentGate(s.service)

	s.subject = id.SubjectID(uuid.New())
	s.day0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
}

// withAudit builds a service over the suite's stores that records
// transitions through appender.
func (s *ServiceSuite) withAudit(appender auditservice.Appender) *Service {
	tx := NewShardedTx(platformsync.NewShardedMutex(), Stores{Objects: s.objects, Audit: appender})
	return New(tx, s.objects, s.consents, s.consents.Registry(), s.blobs,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

func (s *ServiceSuite) at(days int) context.Context {
	return requestcontext.WithTime(context.Background(), s.day0.AddDate(0, 0, days))
}

func (s *ServiceSuite) day(days int) time.Time {
	return s.day0.AddDate(0, 0, days)
}

func (s *ServiceSuite) grant(days int, t consentmodels.Type) *consentmodels.Record {
	r, err := s.consents.Grant(s.at(days), s.subject, t, consentmodels.MethodTap, "eu", id.ActorSubject)
	s.Require().NoError(err)
	return r
}

func (s *ServiceSuite) write(days int, topic string) *models.Object {
	key := "owner/" + uuid.NewString()
	s.blobs.Put(key)
	o, err := s.service.Write(s.at(days), s.subject, models.ScopeUser, models.ConsentRef{}, key, topic)
	s.Require().NoError(err)
	return o
}

func (s *ServiceSuite) get(objectID id.ObjectID) *models.Object {
	o, err := s.objects.Get(context.Background(), objectID)
	s.Require().NoError(err)
	return o
}

func (s *ServiceSuite) events() []auditmodels.Event {
	events, err := s.audit.ListStream(context.Background(), id.SubjectStream(s.subject), 1, 0)
	s.Require().NoError(err)
	return events
}

func (s *ServiceSuite) countEvents(t auditmodels.EventType) int {
	n := 0
	for _, e := range s.events() {
		if e.Type == t {
			n++
		}
	}
	return n
}

func (s *ServiceSuite) expire(days int, t consentmodels.Type) *consentmodels.Record {
	view, err := s.consents.CurrentStatus(s.at(days), s.subject, t)
	s.Require().NoError(err)
	expired, err := s.consents.Expire(s.at(days), s.subject, t, view.Version)
	s.Require().NoError(err)
	s.Require().NotNil(expired)
	_, err = s.service.LockDependents(s.at(days), expired, models.ReasonExpiry, id.ActorSystem)
	s.Require().NoError(err)
	return expired
}

func (s *ServiceSuite) TestWriteRequiresActiveConsent() {
	_, err := s.service.Write(s.at(0), s.subject, models.ScopeSession, models.ConsentRef{}, "k1", "")
	s.True(dErrors.HasCode(err, dErrors.CodeConsentNotActive))

	s.grant(0, consentmodels.TypeMemoryRetention)
	o := s.write(1, "garden")

	s.Equal(models.StateActive, o.State)
	s.Equal(consentmodels.TypeMemoryRetention, o.ConsentRef.Type)
	s.Equal(1, o.ConsentRef.Version)
	s.Equal(id.Region("eu"), o.Region)
	s.Len(s.events(), 1, "a write is not a transition")

	_, err = s.service.Write(s.at(90), s.subject, models.ScopeUser, models.ConsentRef{}, "k2", "")
	s.True(dErrors.HasCode(err, dErrors.CodeConsentNotActive), "expired by time even before the sweep")
}

func (s *ServiceSuite) TestWriteChecksScopeAndReference() {
	s.grant(0, consentmodels.TypeMemoryRetention)

	s.Run("stale version", func() {
		_, err := s.service.Write(s.at(1), s.subject, models.ScopeUser,
			models.ConsentRef{Type: consentmodels.TypeMemoryRetention, Version: 7}, "k", "")
		s.True(dErrors.HasCode(err, dErrors.CodeConsentNotActive))
	})

	s.Run("reference consent missing", func() {
		_, err := s.service.Write(s.at(1), s.subject, models.ScopeUser,
			models.ConsentRef{Type: consentmodels.TypeReflectionArchive}, "k", "")
		s.True(dErrors.HasCode(err, dErrors.CodeConsentNotActive))
	})

	s.Run("unknown reference type", func() {
		_, err := s.service.Write(s.at(1), s.subject, models.ScopeUser,
			models.ConsentRef{Type: "telepathy"}, "k", "")
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("bad scope", func() {
		_, err := s.service.Write(s.at(1), s.subject, "forever", models.ConsentRef{}, "k", "")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("missing content ref", func() {
		_, err := s.service.Write(s.at(1), s.subject, models.ScopeUser, models.ConsentRef{}, "", "")
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("both consents active", func() {
		s.grant(1, consentmodels.TypeReflectionArchive)
		o, err := s.service.Write(s.at(2), s.subject, models.ScopeUser,
			models.ConsentRef{Type: consentmodels.TypeReflectionArchive, Version: 1}, "k", "")
		s.Require().NoError(err)
		s.Equal(consentmodels.TypeReflectionArchive, o.ConsentRef.Type)
	})
}

func (s *ServiceSuite) TestWriteFailsClosed() {
	ctrl := gomock.NewController(s.T())
	source := mocks.NewMockConsentSource(ctrl)
	source.EXPECT().CurrentStatus(gomock.Any(), s.subject, consentmodels.TypeMemoryRetention).
		Return(nil, errors.New("connection refused")).Times(2)

	tx := NewShardedTx(platformsync.NewShardedMutex(), Stores{Objects: s.objects, Audit: failingAppender{}})
	svc := New(tx, s.objects, source, consentmodels.DefaultRegistry(), s.blobs,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	_, err := svc.Write(s.at(0), s.subject, models.ScopeAmbient, models.ConsentRef{}, "k", "")
	s.True(dErrors.HasCode(err, dErrors.CodeConsentNotActive))

	ok, err := svc.CanWrite(s.at(0), s.subject, models.ScopeAmbient)
	s.Require().NoError(err)
	s.False(ok)
}

func (s *ServiceSuite) TestCanWrite() {
	ok, err := s.service.CanWrite(s.at(0), s.subject, models.ScopeSession)
	s.Require().NoError(err)
	s.False(ok)

	s.grant(0, consentmodels.TypeMemoryRetention)
	ok, err = s.service.CanWrite(s.at(0), s.subject, models.ScopeSession)
	s.Require().NoError(err)
	s.True(ok)

	_, err = s.service.CanWrite(s.at(0), s.subject, "forever")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *ServiceSuite) TestRevokeLocksDependents() {
	s.grant(0, consentmodels.TypeMemoryRetention)
	a := s.write(1, "")
	b := s.write(2, "")

	_, err := s.consents.Revoke(s.at(5), s.subject, consentmodels.TypeMemoryRetention, id.ActorCaregiver)
	s.Require().NoError(err)

	for _, objectID := range []id.ObjectID{a.ID, b.ID} {
		o := s.get(objectID)
		s.Equal(models.StateLocked, o.State)
		s.Equal(models.ReasonRevocation, o.LockReason)
		s.Require().NotNil(o.PurgeAfter)
		s.Equal(s.day(12), *o.PurgeAfter)
	}
	s.Equal(2, s.countEvents(auditmodels.EventMemoryLocked))

	s.Run("repeat enforcement is silent", func() {
		view, err := s.consents.CurrentStatus(s.at(6), s.subject, consentmodels.TypeMemoryRetention)
		s.Require().NoError(err)
		n, err := s.service.LockDependents(s.at(6), view.Record, models.ReasonRevocation, id.ActorSystem)
		s.Require().NoError(err)
		s.Zero(n)
		s.Equal(2, s.countEvents(auditmodels.EventMemoryLocked))
	})

	s.Run("renewal after revocation does not unlock", func() {
		_, err := s.consents.Renew(s.at(7), s.subject, consentmodels.TypeMemoryRetention, consentmodels.MethodTap, id.ActorSubject)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.Equal(models.StateLocked, s.get(a.ID).State)
	})
}

func (s *ServiceSuite) TestRenewWithinGraceUnlocks() {
	s.grant(0, consentmodels.TypeMemoryRetention)
	o := s.write(1, "")
	s.expire(90, consentmodels.TypeMemoryRetention)

	locked := s.get(o.ID)
	s.Equal(models.ReasonExpiry, locked.LockReason)
	s.Equal(s.day(97), *locked.PurgeAfter)

	renewed, err := s.consents.Renew(s.at(93), s.subject, consentmodels.TypeMemoryRetention, consentmodels.MethodTap, id.ActorSubject)
	s.Require().NoError(err)

	unlocked := s.get(o.ID)
	s.Equal(models.StateActive, unlocked.State)
	s.Empty(unlocked.LockReason)
	s.Nil(unlocked.PurgeAfter)
	s.Equal(renewed.Version, unlocked.ConsentRef.Version)
	s.Equal(1, s.countEvents(auditmodels.EventMemoryUnlocked))
}

func (s *ServiceSuite) TestRenewBeyondGraceLeavesObjectsToPurge() {
	s.grant(0, consentmodels.TypeMemoryRetention)
	o := s.write(1, "")
	s.expire(90, consentmodels.TypeMemoryRetention)

	r, err := s.consents.Renew(s.at(100), s.subject, consentmodels.TypeMemoryRetention, consentmodels.MethodTap, id.ActorSubject)
	s.Require().NoError(err)
	s.Equal(s.day(100), r.GrantedAt, "fresh grant")
	s.Equal(models.StateLocked, s.get(o.ID).State)

	_, err = s.service.Reactivate(s.at(100), s.subject, o.ID, id.ActorSubject)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	res, err := s.service.PurgeDue(s.at(100))
	s.Require().NoError(err)
	s.Equal(PurgeResult{Purged: 1}, res)

	purged := s.get(o.ID)
	s.Equal(models.StatePurged, purged.State)
	s.False(s.blobs.Has(o.ContentRef))
	s.Equal(1, s.countEvents(auditmodels.EventMemoryPurged))
}

func (s *ServiceSuite) TestPurgeDueRetriesBlobFailure() {
	s.grant(0, consentmodels.TypeMemoryRetention)
	o := s.write(1, "")
	s.expire(90, consentmodels.TypeMemoryRetention)
	s.blobs.FailOn(o.ContentRef, blob.ErrUnavailable)

	res, err := s.service.PurgeDue(s.at(98))
	s.Error(err)
	s.Equal(PurgeResult{Failed: 1}, res)
	s.Equal(models.StateLocked, s.get(o.ID).State)
	s.Zero(s.countEvents(auditmodels.EventMemoryPurged))

	s.blobs.FailOn(o.ContentRef, nil)
	res, err = s.service.PurgeDue(s.at(99))
	s.Require().NoError(err)
	s.Equal(PurgeResult{Purged: 1}, res)
}

func (s *ServiceSuite) TestPurgeDueSkipsUnlockedObjects() {
	s.grant(0, consentmodels.TypeMemoryRetention)
	s.write(1, "")

	res, err := s.service.PurgeDue(s.at(200))
	s.Require().NoError(err)
	s.Zero(res.Purged)
}

func (s *ServiceSuite) TestManualTransitions() {
	s.grant(0, consentmodels.TypeMemoryRetention)
	o := s.write(1, "")

	locked, err := s.service.Lock(s.at(2), s.subject, o.ID, id.ActorSubject)
	s.Require().NoError(err)
	s.Equal(models.ReasonManual, locked.LockReason)
	s.Nil(locked.PurgeAfter)

	_, err = s.service.Lock(s.at(2), s.subject, o.ID, id.ActorSubject)
	s.Require().NoError(err)
	s.Equal(1, s.countEvents(auditmodels.EventMemoryLocked))

	active, err := s.service.Reactivate(s.at(3), s.subject, o.ID, id.ActorSubject)
	s.Require().NoError(err)
	s.Equal(models.StateActive, active.State)

	_, err = s.service.Reactivate(s.at(3), s.subject, o.ID, id.ActorSubject)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	purged, err := s.service.Purge(s.at(4), s.subject, o.ID, id.ActorSubject)
	s.Require().NoError(err)
	s.Equal(models.StatePurged, purged.State)
	s.Equal([]string{o.ContentRef}, s.blobs.Deleted())

	_, err = s.service.Purge(s.at(4), s.subject, o.ID, id.ActorSubject)
	s.Require().NoError(err)
	s.Equal(1, s.countEvents(auditmodels.EventMemoryPurged))

	_, err = s.service.Lock(s.at(5), s.subject, o.ID, id.ActorSubject)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *ServiceSuite) TestTransitionsCheckOwner() {
	s.grant(0, consentmodels.TypeMemoryRetention)
	o := s.write(1, "")
	stranger := id.SubjectID(uuid.New())

	_, err := s.service.Lock(s.at(2), stranger, o.ID, id.ActorSubject)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	_, err = s.service.Get(s.at(2), stranger, o.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	_, err = s.service.Purge(s.at(2), s.subject, id.NewObjectID(), id.ActorSubject)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestPurgeLeavesObjectDueWhenBlobFails() {
	s.grant(0, consentmodels.TypeMemoryRetention)
	o := s.write(1, "")
	s.blobs.FailOn(o.ContentRef, blob.ErrUnavailable)

	_, err := s.service.Purge(s.at(2), s.subject, o.ID, id.ActorSubject)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))

	due := s.get(o.ID)
	s.Equal(models.StateLocked, due.State)
	s.Equal(models.ReasonErasure, due.LockReason)
	s.Equal(s.day(2), *due.PurgeAfter)
	s.Equal(1, s.countEvents(auditmodels.EventMemoryLocked))
	s.Zero(s.countEvents(auditmodels.EventMemoryPurged))

	s.blobs.FailOn(o.ContentRef, nil)
	res, err := s.service.PurgeDue(s.at(2))
	s.Require().NoError(err)
	s.Equal(PurgeResult{Purged: 1}, res)
	s.Equal(models.StatePurged, s.get(o.ID).State)
}

func (s *ServiceSuite) TestEraseDeletesNothingBeforeIntentCommits() {
	s.grant(0, consentmodels.TypeMemoryRetention)
	o := s.write(1, "")

	ctrl := gomock.NewController(s.T())
	appender := auditmocks.NewMockAppender(ctrl)
	gomock.InOrder(
		appender.EXPECT().Append(gomock.Any(), id.SubjectStream(s.subject), gomock.Any()).DoAndReturn(s.writer.Append),
		appender.EXPECT().Append(gomock.Any(), id.SubjectStream(s.subject), gomock.Any()).
			Return(nil, errors.New("audit store unavailable")),
	)

	_, err := s.withAudit(appender).Erase(s.at(2), s.subject, s.eraseRequest(models.EraseFull, ""))
	s.True(dErrors.HasCode(err, dErrors.CodeAuditWrite))

	s.Empty(s.blobs.Deleted())
	s.True(s.blobs.Has(o.ContentRef))
	s.Equal(models.StateActive, s.get(o.ID).State)
	s.Zero(s.countEvents(auditmodels.EventMemoryPurged))
}

func (s *ServiceSuite) TestPurgeRecordFailureLeavesObjectToSweep() {
	s.grant(0, consentmodels.TypeMemoryRetention)
	o := s.write(1, "")

	ctrl := gomock.NewController(s.T())
	appender := auditmocks.NewMockAppender(ctrl)
	gomock.InOrder(
		appender.EXPECT().Append(gomock.Any(), id.SubjectStream(s.subject), gomock.Any()).DoAndReturn(s.writer.Append),
		appender.EXPECT().Append(gomock.Any(), id.SubjectStream(s.subject), gomock.Any()).
			Return(nil, errors.New("audit store unavailable")),
	)

	_, err := s.withAudit(appender).Purge(s.at(2), s.subject, o.ID, id.ActorSubject)
	s.True(dErrors.HasCode(err, dErrors.CodeAuditWrite))

	due := s.get(o.ID)
	s.Equal(models.StateLocked, due.State, "the committed intent survives the failed purge record")
	s.True(due.PurgeDue(s.day(2)))
	s.Equal(1, s.countEvents(auditmodels.EventMemoryLocked))

	res, err := s.service.PurgeDue(s.at(3))
	s.Require().NoError(err)
	s.Equal(PurgeResult{Purged: 1}, res)
	s.Equal(models.StatePurged, s.get(o.ID).State)
	s.Equal(1, s.countEvents(auditmodels.EventMemoryPurged))
}

func (s *ServiceSuite) TestLockDependentsIgnoresSupersededVersion() {
	s.grant(0, consentmodels.TypeMemoryRetention)
	o := s.write(1, "")

	// The expiry sweep reads and expires v1, then a renewal commits before
	// the sweep locks dependents.
	view, err := s.consents.CurrentStatus(s.at(91), s.subject, consentmodels.TypeMemoryRetention)
	s.Require().NoError(err)
	expired, err := s.consents.Expire(s.at(91), s.subject, consentmodels.TypeMemoryRetention, view.Version)
	s.Require().NoError(err)
	s.Require().NotNil(expired)
	_, err = s.consents.Renew(s.at(91), s.subject, consentmodels.TypeMemoryRetention, consentmodels.MethodTap, id.ActorSubject)
	s.Require().NoError(err)

	n, err := s.service.LockDependents(s.at(91), expired, models.ReasonExpiry, id.ActorSystem)
	s.Require().NoError(err)
	s.Zero(n)
	s.Equal(models.StateActive, s.get(o.ID).State)

	res, err := s.service.PurgeDue(s.at(98))
	s.Require().NoError(err)
	s.Zero(res.Purged)
	s.Equal(models.StateActive, s.get(o.ID).State)
	s.Zero(s.countEvents(auditmodels.EventMemoryLocked))
}

func (s *ServiceSuite) TestFreshRenewalWithoutSweepPurgesLapsedMemory() {
	s.grant(0, consentmodels.TypeMemoryRetention)
	o := s.write(1, "")

	r, err := s.consents.Renew(s.at(100), s.subject, consentmodels.TypeMemoryRetention, consentmodels.MethodTap, id.ActorSubject)
	s.Require().NoError(err)
	s.Equal(s.day(100), r.GrantedAt, "fresh grant")

	locked := s.get(o.ID)
	s.Equal(models.StateLocked, locked.State)
	s.Equal(models.ReasonExpiry, locked.LockReason)
	s.Equal(s.day(97), *locked.PurgeAfter)

	_, err = s.service.Reactivate(s.at(100), s.subject, o.ID, id.ActorSubject)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	res, err := s.service.PurgeDue(s.at(100))
	s.Require().NoError(err)
	s.Equal(PurgeResult{Purged: 1}, res)
	s.False(s.blobs.Has(o.ContentRef))
}

func (s *ServiceSuite) eraseRequest(mode models.EraseMode, topic string) models.EraseRequest {
	return models.EraseRequest{
		InitiatorType: id.ActorSubject,
		AuthMethod:    "pin",
		Mode:          mode,
		TargetTopic:   topic,
		Region:        "eu",
	}
}

func (s *ServiceSuite) TestEraseFullIsRepeatable() {
	s.grant(0, consentmodels.TypeMemoryRetention)
	for range 3 {
		s.write(1, "")
	}

	res, err := s.service.Erase(s.at(2), s.subject, s.eraseRequest(models.EraseFull, ""))
	s.Require().NoError(err)
	s.Len(res.Purged, 3)
	s.Empty(res.Deferred)
	s.Len(s.blobs.Deleted(), 3)

	res, err = s.service.Erase(s.at(3), s.subject, s.eraseRequest(models.EraseFull, ""))
	s.Require().NoError(err)
	s.Empty(res.Purged)

	s.Equal(2, s.countEvents(auditmodels.EventErasureRequested))
	s.Equal(3, s.countEvents(auditmodels.EventMemoryPurged))
}

func (s *ServiceSuite) TestErasePartialTopic() {
	s.grant(0, consentmodels.TypeMemoryRetention)
	garden := s.write(1, "garden")
	family := s.write(1, "family")

	res, err := s.service.Erase(s.at(2), s.subject, s.eraseRequest(models.ErasePartialTopic, "garden"))
	s.Require().NoError(err)
	s.Equal([]id.ObjectID{garden.ID}, res.Purged)
	s.Equal(models.StateActive, s.get(family.ID).State)
}

func (s *ServiceSuite) TestEraseReflectionOnly() {
	s.grant(0, consentmodels.TypeMemoryRetention)
	s.grant(0, consentmodels.TypeReflectionArchive)
	plain := s.write(1, "")
	reflection, err := s.service.Write(s.at(1), s.subject, models.ScopeUser,
		models.ConsentRef{Type: consentmodels.TypeReflectionArchive}, "reflection/1", "")
	s.Require().NoError(err)

	res, err := s.service.Erase(s.at(2), s.subject, s.eraseRequest(models.EraseReflectionOnly, ""))
	s.Require().NoError(err)
	s.Equal([]id.ObjectID{reflection.ID}, res.Locked)

	o := s.get(reflection.ID)
	s.Equal(models.ReasonErasure, o.LockReason)
	s.Equal(s.day(9), *o.PurgeAfter)
	s.Equal(models.StateActive, s.get(plain.ID).State)
}

func (s *ServiceSuite) TestEraseArchive() {
	s.grant(0, consentmodels.TypeMemoryRetention)
	a := s.write(1, "")

	res, err := s.service.Erase(s.at(2), s.subject, s.eraseRequest(models.EraseArchive, ""))
	s.Require().NoError(err)
	s.Equal([]id.ObjectID{a.ID}, res.Locked)

	o := s.get(a.ID)
	s.Equal(models.ReasonArchive, o.LockReason)
	s.Nil(o.PurgeAfter)

	sweep, err := s.service.PurgeDue(s.at(400))
	s.Require().NoError(err)
	s.Zero(sweep.Purged, "archived objects never purge on their own")
}

func (s *ServiceSuite) TestEraseDefersFailedDeletes() {
	s.grant(0, consentmodels.TypeMemoryRetention)
	ok := s.write(1, "")
	stuck := s.write(1, "")
	s.blobs.FailOn(stuck.ContentRef, blob.ErrUnavailable)

	res, err := s.service.Erase(s.at(2), s.subject, s.eraseRequest(models.EraseFull, ""))
	s.Require().NoError(err)
	s.Equal([]id.ObjectID{ok.ID}, res.Purged)
	s.Equal([]id.ObjectID{stuck.ID}, res.Deferred)

	o := s.get(stuck.ID)
	s.Equal(models.StateLocked, o.State)
	s.Equal(models.ReasonErasure, o.LockReason)
	s.Equal(s.day(2), *o.PurgeAfter)

	s.blobs.FailOn(stuck.ContentRef, nil)
	sweep, err := s.service.PurgeDue(s.at(2))
	s.Require().NoError(err)
	s.Equal(1, sweep.Purged)
}

func (s *ServiceSuite) TestEraseValidation() {
	req := s.eraseRequest(models.EraseFull, "")
	req.AuthMethod = ""
	_, err := s.service.Erase(s.at(0), s.subject, req)
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))

	req = s.eraseRequest(models.EraseFull, "")
	req.InitiatorType = id.ActorSystem
	_, err = s.service.Erase(s.at(0), s.subject, req)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = s.service.Erase(s.at(0), s.subject, s.eraseRequest(models.ErasePartialTopic, ""))
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	s.Empty(s.events())
}

func (s *ServiceSuite) TestExport() {
	s.grant(0, consentmodels.TypeMemoryRetention)
	s.write(1, "")
	locked := s.write(1, "")
	_, err := s.service.Lock(s.at(1), s.subject, locked.ID, id.ActorSubject)
	s.Require().NoError(err)

	_, err = s.service.Export(s.at(2), s.subject, id.ActorSubject)
	s.True(dErrors.HasCode(err, dErrors.CodeConsentNotActive))

	s.grant(2, consentmodels.TypeExport)
	objects, err := s.service.Export(s.at(3), s.subject, id.ActorSubject)
	s.Require().NoError(err)
	s.Len(objects, 2)

	events := s.events()
	last := events[len(events)-1]
	s.Equal(auditmodels.EventMemoryExported, last.Type)
	s.Equal("objects=2", last.Detail)
	s.Equal(string(consentmodels.TypeExport), last.ConsentType)
}

func (s *ServiceSuite) TestImportOffline() {
	existing := &models.Object{ID: id.NewObjectID(), OwnerID: s.subject, Scope: models.ScopeUser, State: models.StateActive,
		ConsentRef: models.ConsentRef{Type: consentmodels.TypeMemoryRetention, Version: 1}, ContentRef: "k0", Region: "eu"}
	s.Require().NoError(s.objects.Insert(context.Background(), existing))

	bound := &models.Object{ID: id.NewObjectID(), OwnerID: s.subject, Scope: models.ScopeUser, State: models.StateActive,
		ConsentRef: models.ConsentRef{Type: consentmodels.TypeMemoryRetention, Version: 1}, ContentRef: "k1", Region: "eu"}
	orphan := &models.Object{ID: id.NewObjectID(), OwnerID: s.subject, Scope: models.ScopeUser, State: models.StateActive,
		ConsentRef: models.ConsentRef{Type: consentmodels.TypeReflectionArchive, Version: 1}, ContentRef: "k2", Region: "eu"}

	bindings := Bindings{
		{s.subject, consentmodels.TypeMemoryRetention}:   {Version: 3, Active: true},
		{s.subject, consentmodels.TypeReflectionArchive}: {Version: 2, Active: false},
	}
	writer := auditservice.NewChainWriter(s.audit, chain.MustHasher(chain.AlgorithmSHA256))
	st := Stores{Objects: s.objects, Audit: writer}

	res, err := s.service.ImportOffline(s.at(0), st, []*models.Object{existing, bound, orphan}, bindings)
	s.Require().NoError(err)
	s.Equal(2, res.Imported)
	s.Equal(1, res.Skipped)
	s.Equal([]id.ObjectID{orphan.ID}, res.Locked)

	s.Equal(3, s.get(bound.ID).ConsentRef.Version)
	quarantined := s.get(orphan.ID)
	s.Equal(models.StateLocked, quarantined.State)
	s.Equal(models.ReasonConflict, quarantined.LockReason)
	s.Nil(quarantined.PurgeAfter)
	s.Equal(1, s.countEvents(auditmodels.EventMemoryLocked))
}

func (s *ServiceSuite) TestImportOfflineRestrictsKnownObjects() {
	s.grant(0, consentmodels.TypeMemoryRetention)
	purgedOnDevice := s.write(1, "")
	lockedOnDevice := s.write(1, "")
	lockedCentrally := s.write(1, "")
	_, err := s.service.Lock(s.at(2), s.subject, lockedCentrally.ID, id.ActorSubject)
	s.Require().NoError(err)

	devicePurged := *purgedOnDevice
	devicePurged.Purge(s.day(3))
	deviceLocked := *lockedOnDevice
	deadline := s.day(10)
	deviceLocked.Lock(models.ReasonErasure, s.day(3), &deadline)
	deviceActive := *lockedCentrally
	deviceActive.Unlock(s.day(3))

	bindings := Bindings{{s.subject, consentmodels.TypeMemoryRetention}: {Version: 1, Active: true}}
	st := Stores{Objects: s.objects, Audit: s.writer}
	res, err := s.service.ImportOffline(s.at(4), st, []*models.Object{&devicePurged, &deviceLocked, &deviceActive}, bindings)
	s.Require().NoError(err)
	s.Zero(res.Imported)
	s.Equal([]id.ObjectID{purgedOnDevice.ID}, res.PurgeDue)
	s.Equal([]id.ObjectID{lockedOnDevice.ID}, res.Restricted)
	s.Equal(1, res.Skipped)

	locked := s.get(lockedOnDevice.ID)
	s.Equal(models.StateLocked, locked.State)
	s.Equal(models.ReasonErasure, locked.LockReason)
	s.Equal(deadline, *locked.PurgeAfter)
	s.Equal(models.StateLocked, s.get(lockedCentrally.ID).State, "a device never reactivates a central object")
	s.Empty(s.blobs.Deleted(), "content is deleted only after the merge commits")

	n, err := s.service.PurgeMarked(s.at(4), s.subject, res.PurgeDue, id.ActorSystem)
	s.Require().NoError(err)
	s.Equal(1, n)
	s.Equal(models.StatePurged, s.get(purgedOnDevice.ID).State)
	s.Equal([]string{purgedOnDevice.ContentRef}, s.blobs.Deleted())
}

type failingAppender struct{}

func (failingAppender) Append(context.Context, id.StreamID, auditmodels.Draft) (*auditmodels.Event, error) {
	return nil, dErrors.New(dErrors.CodeAuditWrite, "audit store unavailable")
}

func (failingAppender) AppendVerified(context.Context, id.StreamID, []auditmodels.Event) error {
	return dErrors.New(dErrors.CodeAuditWrite, "audit store unavailable")
}
