package worker

import (
	"context"
	"log/slog"
	"time"

	"keepsake/internal/platform/kafka/producer"
	"keepsake/pkg/platform/outbox"
	"keepsake/pkg/platform/outbox/metrics"
)

//go:generate mockgen -source=worker.go -destination=mocks/mocks.go -package=mocks

// Publisher delivers one message. Satisfied by producer.Producer and producer.NoopProducer.
type Publisher interface {
	Produce(ctx context.Context, msg *producer.Message) error
}

// Default topics per entry kind.
const (
	DefaultAuditTopic   = "keepsake.audit.events"
	DefaultRenewalTopic = "keepsake.consent.renewal-due"
)

// Worker polls the outbox and publishes pending entries.
type Worker struct {
	store        outbox.Store
	publisher    Publisher
	topics       map[outbox.Kind]string
	batchSize    int
	pollInterval time.Duration
	drainTimeout time.Duration
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

type Option func(*Worker)

// WithTopic overrides the destination topic for one entry kind.
func WithTopic(kind outbox.Kind, topic string) Option {
	return func(w *Worker) {
		if topic != "" {
			w.topics[kind] = topic
		}
	}
}

func WithBatchSize(size int) Option {
	return func(w *Worker) {
		if size > 0 {
			w.batchSize = size
		}
	}
}

func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.pollInterval = interval
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

func New(store outbox.Store, publisher Publisher, opts ...Option) *Worker {
	w := &Worker{
		store:     store,
		publisher: publisher,
		topics: map[outbox.Kind]string{
			outbox.KindAuditEvent: DefaultAuditTopic,
			outbox.KindRenewalDue: DefaultRenewalTopic,
		},
		batchSize:    100,
		pollInterval: 250 * time.Millisecond,
		drainTimeout: 10 * time.Second,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start polls until ctx is cancelled, then drains what is left with a short deadline.
func (w *Worker) Start(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.drain()
			return nil
		case <-ticker.C:
			if _, err := w.PublishBatch(ctx); err != nil {
				w.logger.ErrorContext(ctx, "outbox poll failed", "error", err)
			}
		}
	}
}

// PublishBatch publishes up to one batch of pending entries and returns how many were
// marked processed. A failed entry is left pending and retried on the next poll.
func (w *Worker) PublishBatch(ctx context.Context) (int, error) {
	entries, err := w.store.FetchUnprocessed(ctx, w.batchSize)
	if err != nil {
		if w.metrics != nil {
			w.metrics.IncPublishFailures()
		}
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}
	if w.metrics != nil {
		w.metrics.ObserveBatchSize(len(entries))
	}

	published := 0
	for _, entry := range entries {
		if err := w.publish(ctx, entry); err != nil {
			w.logger.ErrorContext(ctx, "failed to publish outbox entry",
				"id", entry.ID,
				"kind", entry.Kind,
				"event_type", entry.EventType,
				"error", err,
			)
			if w.metrics != nil {
				w.metrics.IncPublishFailures()
			}
			continue
		}
		// A publish that is not marked will be re-published; consumers dedupe on the key.
		if err := w.store.MarkProcessed(ctx, entry.ID, time.Now().UTC()); err != nil {
			w.logger.ErrorContext(ctx, "failed to mark outbox entry processed",
				"id", entry.ID,
				"error", err,
			)
			continue
		}
		published++
		if w.metrics != nil {
			w.metrics.IncPublished(string(entry.Kind))
		}
	}
	return published, nil
}

func (w *Worker) publish(ctx context.Context, entry *outbox.Entry) error {
	start := time.Now()
	topic, ok := w.topics[entry.Kind]
	if !ok {
		topic = DefaultAuditTopic
	}
	err := w.publisher.Produce(ctx, &producer.Message{
		Topic: topic,
		Key:   []byte(entry.ID.String()),
		Value: entry.Payload,
		Headers: map[string]string{
			"kind":         string(entry.Kind),
			"aggregate_id": entry.AggregateID,
			"event_type":   entry.EventType,
		},
	})
	if err != nil {
		return err
	}
	if w.metrics != nil {
		w.metrics.ObservePublishDuration(time.Since(start).Seconds())
	}
	return nil
}

func (w *Worker) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), w.drainTimeout)
	defer cancel()

	w.logger.InfoContext(ctx, "draining outbox worker")
	for {
		n, err := w.PublishBatch(ctx)
		if err != nil {
			w.logger.ErrorContext(ctx, "outbox drain failed", "error", err)
			return
		}
		if n == 0 {
			return
		}
	}
}

// UpdateMetrics refreshes the pending-depth gauge.
func (w *Worker) UpdateMetrics(ctx context.Context) error {
	if w.metrics == nil {
		return nil
	}
	count, err := w.store.CountPending(ctx)
	if err != nil {
		return err
	}
	w.metrics.SetPendingDepth(count)
	return nil
}
