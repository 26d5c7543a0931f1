// Package service implements the hash-chained audit log: chain writes,
// verification, residency-scoped queries and retention pruning.
package service

import (
	"context"
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
	"keepsake/pkg/requestcontext"
)

// ExportChecker reports whether a subject has an active cross-border export consent.
type ExportChecker interface {
	CanExport(ctx context.Context, subject id.SubjectID) (bool, error)
}

// DefaultRetention is the minimum age of events PruneBefore may remove.
const DefaultRetention = 7 * 365 * 24 * time.Hour

type Service struct {
	store     store.Store
	writer    *ChainWriter
	export    ExportChecker
	retention time.Duration
	metrics   *metrics.Metrics
	tracer    tracing.Tracer
	logger    *slog.Logger
}

type Option func(*Service)

// WithExportChecker enables cross-region reads for subjects with export consent.
// Without one every cross-region query is refused.
func WithExportChecker(c ExportChecker) Option {
	return func(s *Service) { s.export = c }
}

func WithRetention(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.retention = d
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithTracer(t tracing.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func New(st store.Store, writer *ChainWriter, opts ...Option) *Service {
	s := &Service{
		store:     st,
		writer:    writer,
		retention: DefaultRetention,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.tracer = tracing.OrNoop(s.tracer)
	return s
}

// SetExportChecker wires the consent service after construction, since consent
// itself depends on the audit writer.
func (s *Service) SetExportChecker(c ExportChecker) {
	s.export = c
}

func (s *Service) Append(ctx context.Context, stream id.StreamID, d models.Draft) (*models.Event, error) {
	return s.writer.Append(ctx, stream, d)
}

func (s *Service) Head(ctx context.Context, stream id.StreamID) (*models.StreamHead, error) {
	head, err := s.store.Head(ctx, stream)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "audit stream not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read stream head")
	}
	return head, nil
}

// Verify recomputes [fromSeq, toSeq] of a stream. Zero bounds mean the whole stream.
// A range that starts after pruned events is anchored on its first event's prev_hash.
func (s *Service) Verify(ctx context.Context, stream id.StreamID, fromSeq, toSeq int64) (res *models.VerifyResult, err error) {
	ctx, span := s.tracer.Start(ctx, "audit.verify", attribute.String("stream", stream.String()))
	defer func() { span.End(err) }()

	head, err := s.Head(ctx, stream)
	if err != nil {
		return nil, err
	}
	if fromSeq <= 0 {
		fromSeq = 1
	}
	if toSeq <= 0 || toSeq > head.Seq {
		toSeq = head.Seq
	}
	if fromSeq > toSeq {
		return nil, dErrors.New(dErrors.CodeBadRequest, "from must not exceed to")
	}
	hasher, err := chain.NewHasher(head.Algorithm)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "stream uses an unknown hash algorithm")
	}

	events, err := s.store.ListStream(ctx, stream, fromSeq, toSeq)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read audit stream")
	}
	anchorSeq, anchorHash, err := s.anchor(ctx, stream, fromSeq, events)
	if err != nil {
		return nil, err
	}

	result := chain.VerifyEvents(hasher, events, anchorSeq, anchorHash)
	result.Stream = stream
	if result.Valid {
		s.checkTail(&result, events, toSeq, head)
	}
	if !result.Valid {
		s.metrics.IncAuditVerifyFailure()
		s.logger.WarnContext(ctx, "audit chain divergence",
			"stream", stream,
			"first_divergence", result.FirstDivergence,
			"reason", result.Reason,
		)
	}
	return &result, nil
}

func (s *Service) anchor(ctx context.Context, stream id.StreamID, fromSeq int64, events []models.Event) (int64, string, error) {
	if fromSeq == 1 {
		return 0, chain.GenesisHash, nil
	}
	prev, err := s.store.Get(ctx, stream, fromSeq-1)
	if err == nil {
		return prev.Seq, prev.SelfHash, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return 0, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to read anchor event")
	}
	if len(events) == 0 {
		return fromSeq - 1, "", nil
	}
	return events[0].Seq - 1, events[0].PrevHash, nil
}

// checkTail catches events missing from the end of the range, which
// VerifyEvents cannot see.
func (s *Service) checkTail(res *models.VerifyResult, events []models.Event, toSeq int64, head *models.StreamHead) {
	var lastSeq int64
	if len(events) > 0 {
		lastSeq = events[len(events)-1].Seq
	}
	switch {
	case lastSeq != toSeq:
		res.Valid = false
		res.FirstDivergence = lastSeq + 1
		res.Reason = "events missing from stream"
	case toSeq == head.Seq && events[len(events)-1].SelfHash != head.Hash:
		res.Valid = false
		res.FirstDivergence = toSeq
		res.Reason = "last event does not match stream head"
	}
}

// Query reads one regional partition. Reading another region's partition
// requires a subject filter and that subject's active export consent.
func (s *Service) Query(ctx context.Context, q models.Query) ([]models.Event, error) {
	if q.RequesterRegion.IsZero() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "requester region required")
	}
	if q.Region.IsZero() {
		q.Region = q.RequesterRegion
	}
	if q.From != nil && q.To != nil && !q.From.Before(*q.To) {
		return nil, dErrors.New(dErrors.CodeBadRequest, "from must be before to")
	}
	for _, t := range q.Types {
		if !t.IsValid() {
			return nil, dErrors.Newf(dErrors.CodeBadRequest, "unknown event type: %s", t)
		}
	}
	if q.IsCrossRegion() {
		if err := s.checkResidency(ctx, q); err != nil {
			return nil, err
		}
	}

	events, err := s.store.Query(ctx, q)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to query audit events")
	}
	return events, nil
}

func (s *Service) checkResidency(ctx context.Context, q models.Query) error {
	if q.Subject == nil || s.export == nil {
		return dErrors.New(dErrors.CodeResidencyViolation,
			fmt.Sprintf("cross-region read of %s from %s requires export consent", q.Region, q.RequesterRegion))
	}
	ok, err := s.export.CanExport(ctx, *q.Subject)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check export consent")
	}
	if !ok {
		s.logger.InfoContext(ctx, "cross-region audit read refused",
			"requester_region", q.RequesterRegion,
			"region", q.Region,
			"request_id", requestcontext.RequestID(ctx),
		)
		return dErrors.New(dErrors.CodeResidencyViolation, "subject has no active export consent")
	}
	return nil
}

// PruneBefore removes events older than cutoff from one region. The cutoff
// must leave at least the retention period in place.
func (s *Service) PruneBefore(ctx context.Context, region id.Region, cutoff time.Time) (int64, error) {
	if region.IsZero() {
		return 0, dErrors.New(dErrors.CodeBadRequest, "region required")
	}
	limit := requestcontext.Now(ctx).Add(-s.retention)
	if cutoff.After(limit) {
		return 0, dErrors.New(dErrors.CodeValidation,
			fmt.Sprintf("cutoff %s is inside the %s retention period", cutoff.Format(time.RFC3339), s.retention))
	}
	n, err := s.store.PruneBefore(ctx, region, cutoff)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to prune audit events")
	}
	s.logger.InfoContext(ctx, "audit events pruned", "region", region, "cutoff", cutoff, "count", n)
	return n, nil
}
