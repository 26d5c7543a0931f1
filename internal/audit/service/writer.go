package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"keepsake/internal/audit/chain"
	"keepsake/internal/audit/models"
	"keepsake/internal/audit/store"
	"keepsake/internal/platform/metrics"
	"keepsake/internal/platform/tracing"
	"keepsake/internal/sentinel"
	id "keepsake/pkg/domain"
	dErrors "keepsake/pkg/domain-errors"
	"keepsake/pkg/platform/outbox"
	"keepsake/pkg/requestcontext"
)

//go:generate mockgen -source=writer.go -destination=../mocks/mocks.go -package=mocks

// Appender records transitions on a stream. Consent, memory and reconciliation
// services call it inside their transactions, before mutating state.
type Appender interface {
	Append(ctx context.Context, stream id.StreamID, draft models.Draft) (*models.Event, error)
	AppendVerified(ctx context.Context, stream id.StreamID, events []models.Event) error
}

// maxAppendAttempts bounds retries when a concurrent writer moves the head.
const maxAppendAttempts = 3

// ChainWriter computes seq and hashes from the stream tail and appends.
// A writer is bound to one store; Bind produces a writer for a transaction.
type ChainWriter struct {
	store   store.Store
	hasher  chain.Hasher
	outbox  outbox.Appender
	region  id.Region
	metrics *metrics.Metrics
	tracer  tracing.Tracer
	logger  *slog.Logger
}

type WriterOption func(*ChainWriter)

// WithOutbox mirrors every appended event to the outbox for Kafka fan-out.
func WithOutbox(ob outbox.Appender) WriterOption {
	return func(w *ChainWriter) { w.outbox = ob }
}

// WithDefaultRegion sets the region used when a draft carries none.
func WithDefaultRegion(region id.Region) WriterOption {
	return func(w *ChainWriter) { w.region = region }
}

func WithWriterMetrics(m *metrics.Metrics) WriterOption {
	return func(w *ChainWriter) { w.metrics = m }
}

func WithWriterTracer(t tracing.Tracer) WriterOption {
	return func(w *ChainWriter) { w.tracer = t }
}

func WithWriterLogger(logger *slog.Logger) WriterOption {
	return func(w *ChainWriter) { w.logger = logger }
}

func NewChainWriter(st store.Store, hasher chain.Hasher, opts ...WriterOption) *ChainWriter {
	w := &ChainWriter{store: st, hasher: hasher, logger: slog.Default()}
	for _, opt := range opts {
		opt(w)
	}
	w.tracer = tracing.OrNoop(w.tracer)
	return w
}

// Bind returns a writer with the same settings over transaction-bound stores.
// A nil ob disables outbox fan-out for the bound writer.
func (w *ChainWriter) Bind(st store.Store, ob outbox.Appender) *ChainWriter {
	bound := *w
	bound.store = st
	bound.outbox = ob
	return &bound
}

func (w *ChainWriter) Hasher() chain.Hasher { return w.hasher }

func (w *ChainWriter) Append(ctx context.Context, stream id.StreamID, d models.Draft) (*models.Event, error) {
	ctx, span := w.tracer.Start(ctx, "audit.append",
		attribute.String("stream", stream.String()),
		attribute.String("event_type", string(d.Type)),
	)
	start := time.Now()
	event, err := w.append(ctx, stream, d)
	span.End(err)
	if err != nil {
		w.metrics.IncAuditAppendFailure(failureReason(err))
		w.logger.ErrorContext(ctx, "audit append failed",
			"stream", stream,
			"event_type", d.Type,
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		return nil, err
	}
	w.metrics.ObserveAuditAppend(string(event.Type), string(event.Region), time.Since(start).Seconds())
	return event, nil
}

func (w *ChainWriter) append(ctx context.Context, stream id.StreamID, d models.Draft) (*models.Event, error) {
	if !d.Type.IsValid() {
		return nil, dErrors.Newf(dErrors.CodeAuditWrite, "unknown audit event type %q", d.Type)
	}
	if !d.ActorType.IsValid() {
		return nil, dErrors.Newf(dErrors.CodeAuditWrite, "unknown actor type %q", d.ActorType)
	}
	event := w.fromDraft(ctx, stream, d)

	for attempt := 1; ; attempt++ {
		seq, prev, err := w.tail(ctx, stream)
		if err != nil {
			return nil, err
		}
		if d.ExpectedPrevHash != "" && d.ExpectedPrevHash != prev {
			return nil, dErrors.New(dErrors.CodeChainViolation, "stream tail does not match expected prev_hash")
		}
		event.Seq = seq + 1
		chain.Seal(w.hasher, event, prev)

		err = w.store.Append(ctx, event, w.hasher.Algorithm())
		switch {
		case err == nil:
			if err := w.publish(ctx, event); err != nil {
				return nil, err
			}
			return event, nil
		case errors.Is(err, sentinel.ErrDuplicate):
			return nil, dErrors.Wrap(err, dErrors.CodeChainViolation, "duplicate audit event id")
		case errors.Is(err, sentinel.ErrConflict):
			if d.ExpectedPrevHash != "" || attempt == maxAppendAttempts {
				return nil, dErrors.Wrap(err, dErrors.CodeChainViolation, "stream head moved during append")
			}
		default:
			return nil, dErrors.Wrap(err, dErrors.CodeAuditWrite, "failed to append audit event")
		}
	}
}

// AppendVerified appends events sealed elsewhere (a device chain). The batch
// must extend the current tail and every hash must recompute.
func (w *ChainWriter) AppendVerified(ctx context.Context, stream id.StreamID, events []models.Event) (err error) {
	if len(events) == 0 {
		return nil
	}
	ctx, span := w.tracer.Start(ctx, "audit.append_verified",
		attribute.String("stream", stream.String()),
		attribute.Int("events", len(events)),
	)
	defer func() { span.End(err) }()

	seq, prev, err := w.tail(ctx, stream)
	if err != nil {
		return err
	}
	for i := range events {
		if events[i].Stream != stream {
			return dErrors.Newf(dErrors.CodeChainViolation, "event %s is not on stream %s", events[i].ID, stream)
		}
	}
	if res := chain.VerifyEvents(w.hasher, events, seq, prev); !res.Valid {
		return dErrors.Newf(dErrors.CodeChainViolation, "seq %d: %s", res.FirstDivergence, res.Reason)
	}

	for i := range events {
		e := events[i]
		if err := w.store.Append(ctx, &e, w.hasher.Algorithm()); err != nil {
			if errors.Is(err, sentinel.ErrConflict) || errors.Is(err, sentinel.ErrDuplicate) {
				return dErrors.Wrap(err, dErrors.CodeChainViolation, fmt.Sprintf("seq %d rejected by stream head", e.Seq))
			}
			return dErrors.Wrap(err, dErrors.CodeAuditWrite, "failed to append verified event")
		}
		if err := w.publish(ctx, &e); err != nil {
			return err
		}
		w.metrics.ObserveAuditAppend(string(e.Type), string(e.Region), 0)
	}
	return nil
}

// tail returns the head seq and hash, or (0, genesis) for a new stream.
func (w *ChainWriter) tail(ctx context.Context, stream id.StreamID) (int64, string, error) {
	head, err := w.store.Head(ctx, stream)
	if errors.Is(err, sentinel.ErrNotFound) {
		return 0, chain.GenesisHash, nil
	}
	if err != nil {
		return 0, "", dErrors.Wrap(err, dErrors.CodeAuditWrite, "failed to read stream head")
	}
	if head.Algorithm != w.hasher.Algorithm() {
		return 0, "", dErrors.New(dErrors.CodeAuditWrite,
			fmt.Sprintf("stream %s is chained with %s, writer uses %s", stream, head.Algorithm, w.hasher.Algorithm()))
	}
	return head.Seq, head.Hash, nil
}

func (w *ChainWriter) fromDraft(ctx context.Context, stream id.StreamID, d models.Draft) *models.Event {
	ts := d.Timestamp
	if ts.IsZero() {
		ts = requestcontext.Now(ctx)
	}
	local := d.TimestampLocal
	if local == "" {
		local = ts.Format(time.RFC3339)
	}
	region := d.Region
	if region.IsZero() {
		region = w.region
	}
	outcome := d.Outcome
	if outcome == "" {
		outcome = models.OutcomeSuccess
	}
	eventID := d.ID
	if eventID.IsNil() {
		eventID = id.NewEventID()
	}
	return &models.Event{
		ID:             eventID,
		Stream:         stream,
		Type:           d.Type,
		ActorType:      d.ActorType,
		TimestampUTC:   ts.UTC(),
		TimestampLocal: local,
		Region:         region,
		Outcome:        outcome,
		SubjectID:      d.SubjectID,
		ConsentType:    d.ConsentType,
		ConsentVersion: d.ConsentVersion,
		ObjectID:       d.ObjectID,
		Detail:         d.Detail,
	}
}

func (w *ChainWriter) publish(ctx context.Context, e *models.Event) error {
	if w.outbox == nil {
		return nil
	}
	payload, err := json.Marshal(ToResponse(e))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeAuditWrite, "failed to encode audit event")
	}
	entry := outbox.NewDeterministicEntry(outbox.KindAuditEvent, e.ID.String(), e.Stream.String(), string(e.Type), payload, e.TimestampUTC)
	if err := w.outbox.Append(ctx, entry); err != nil && !errors.Is(err, outbox.ErrDuplicate) {
		return dErrors.Wrap(err, dErrors.CodeAuditWrite, "failed to enqueue audit event")
	}
	return nil
}

func failureReason(err error) string {
	if code, ok := dErrors.CodeOf(err); ok {
		return string(code)
	}
	return "unknown"
}
