//go:build integration

package producer_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"keepsake/internal/platform/kafka/producer"
	"keepsake/pkg/testutil/containers"
)

type ProducerIntegrationSuite struct {
	suite.Suite
	kafka    *containers.KafkaContainer
	producer *producer.Producer
}

func TestProducerIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(ProducerIntegrationSuite))
}

func (s *ProducerIntegrationSuite) SetupSuite() {
	s.kafka = containers.GetManager().GetKafka(s.T())
	prod, err := producer.New(producer.Config{
		Brokers:         s.kafka.Brokers,
		Acks:            "all",
		Retries:         3,
		DeliveryTimeout: 10 * time.Second,
	}, nil)
	s.Require().NoError(err)
	s.producer = prod
}

func (s *ProducerIntegrationSuite) TearDownSuite() {
	if s.producer != nil {
		_ = s.producer.Close()
	}
}

func (s *ProducerIntegrationSuite) TestEnsureTopicsIsIdempotent() {
	ctx := context.Background()
	s.Require().NoError(s.producer.EnsureTopics(ctx, 1, 1, "it-ensure"))
	s.Require().NoError(s.producer.EnsureTopics(ctx, 1, 1, "it-ensure"))
}

func (s *ProducerIntegrationSuite) TestProduceWithHeaders() {
	ctx := context.Background()
	topic := "it-produce-headers"
	s.Require().NoError(s.producer.EnsureTopics(ctx, 1, 1, topic))

	err := s.producer.Produce(ctx, &producer.Message{
		Topic:   topic,
		Key:     []byte("subject:1"),
		Value:   []byte(`{"event_type":"consent_granted"}`),
		Headers: map[string]string{"kind": "audit_event"},
	})
	s.Require().NoError(err)
	s.Require().NoError(s.producer.Health(ctx))

	consumer, err := s.kafka.NewConsumer("it-produce-headers", topic)
	s.Require().NoError(err)
	defer consumer.Close()

	record := s.kafka.WaitForMessage(ctx, consumer, 10*time.Second, func(r *kgo.Record) bool {
		return string(r.Key) == "subject:1"
	})
	s.Require().NotNil(record)
	s.Require().Len(record.Headers, 1)
	s.Equal("audit_event", string(record.Headers[0].Value))
}
