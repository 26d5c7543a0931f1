package worker_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"keepsake/internal/platform/kafka/producer"
	"keepsake/pkg/platform/outbox"
	"keepsake/pkg/platform/outbox/worker"
	"keepsake/pkg/platform/outbox/worker/mocks"
)

type WorkerSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	publisher *mocks.MockPublisher
	store     *outbox.MemoryStore
	worker    *worker.Worker
}

func TestWorkerSuite(t *testing.T) {
	suite.Run(t, new(WorkerSuite))
}

func (s *WorkerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.publisher = mocks.NewMockPublisher(s.ctrl)
	s.store = outbox.NewMemoryStore()
	s.worker = worker.New(s.store, s.publisher,
		worker.WithTopic(outbox.KindRenewalDue, "reminders"),
		worker.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

func (s *WorkerSuite) append(kind outbox.Kind, eventType string) *outbox.Entry {
	e := outbox.NewEntry(kind, "subject:1", eventType, []byte(`{}`), time.Now())
	s.Require().NoError(s.store.Append(context.Background(), e))
	return e
}

// Invariant: each kind is routed to its own topic and keyed by the entry id.
func (s *WorkerSuite) TestRoutesByKind() {
	audit := s.append(outbox.KindAuditEvent, "consent_granted")
	reminder := s.append(outbox.KindRenewalDue, "renewal_due")

	s.publisher.EXPECT().Produce(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, msg *producer.Message) error {
			switch string(msg.Key) {
			case audit.ID.String():
				s.Equal(worker.DefaultAuditTopic, msg.Topic)
			case reminder.ID.String():
				s.Equal("reminders", msg.Topic)
				s.Equal("renewal_due", msg.Headers["kind"])
			default:
				s.Failf("unexpected key", "%s", msg.Key)
			}
			return nil
		}).Times(2)

	n, err := s.worker.PublishBatch(context.Background())
	s.Require().NoError(err)
	s.Equal(2, n)

	pending, err := s.store.CountPending(context.Background())
	s.Require().NoError(err)
	s.Zero(pending)
}

// Invariant: a failed publish leaves the entry pending for the next poll.
func (s *WorkerSuite) TestFailedPublishStaysPending() {
	s.append(outbox.KindAuditEvent, "memory_locked")
	s.publisher.EXPECT().Produce(gomock.Any(), gomock.Any()).Return(errors.New("broker down"))

	n, err := s.worker.PublishBatch(context.Background())
	s.Require().NoError(err)
	s.Zero(n)

	pending, err := s.store.CountPending(context.Background())
	s.Require().NoError(err)
	s.EqualValues(1, pending)
}

func (s *WorkerSuite) TestStartDrainsOnCancel() {
	s.append(outbox.KindAuditEvent, "memory_purged")
	s.publisher.EXPECT().Produce(gomock.Any(), gomock.Any()).Return(nil).MinTimes(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Require().NoError(s.worker.Start(ctx))

	pending, err := s.store.CountPending(context.Background())
	s.Require().NoError(err)
	s.Zero(pending)
}
