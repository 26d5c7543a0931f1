// Package engine merges device batches into the central store in one
// transaction. A batch whose chain does not extend the central tail is
// quarantined for review and never retried automatically.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"keepsake/internal/audit/chain"
	auditmodels "keepsake/internal/audit/models"
	consentmodels "keepsake/internal/consent/models"
	consentservice "keepsake/internal/consent/service"
	memorymodels "keepsake/internal/memory/models"
	memoryservice "keepsake/internal/memory/service"
	"keepsake/internal/platform/metrics"
	"keepsake/internal/platform/tracing"
	"keepsake/internal/reconcile/models"
	"keepsake/internal/sentinel"
	id "keepsake/pkg/domain"
	dErrors "keepsake/pkg/domain-errors"
	"keepsake/pkg/requestcontext"
)

//go:generate mockgen -source=engine.go -destination=../mocks/mocks.go -package=mocks

// ChainReader reads the central copy of a device stream.
type ChainReader interface {
	Head(ctx context.Context, stream id.StreamID) (*auditmodels.StreamHead, error)
	ListStream(ctx context.Context, stream id.StreamID, fromSeq, toSeq int64) ([]auditmodels.Event, error)
}

// ConsentApplier writes consent versions inside a merge transaction.
type ConsentApplier interface {
	Registry() *consentmodels.Registry
	AppendVersion(ctx context.Context, st consentservice.Stores, prior, next *consentmodels.Record, event auditmodels.EventType, detail string) error
}

// MemoryImporter imports offline objects and locks dependents inside a merge
// transaction. PurgeMarked runs after the merge commits.
type MemoryImporter interface {
	ImportOffline(ctx context.Context, st memoryservice.Stores, objects []*memorymodels.Object, bindings memoryservice.Bindings) (memoryservice.ImportResult, error)
	LockDependentsIn(ctx context.Context, st memoryservice.Stores, record *consentmodels.Record, reason memorymodels.LockReason, actor id.ActorType) (int, error)
	PurgeMarked(ctx context.Context, owner id.SubjectID, objectIDs []id.ObjectID, actor id.ActorType) (int, error)
}

// defaultStaleAfter is how long a Syncing cursor may stay silent before a
// new batch takes it over.
const defaultStaleAfter = 5 * time.Minute

type Engine struct {
	tx         Tx
	chain      ChainReader
	sync       SyncReader
	consents   ConsentApplier
	memory     MemoryImporter
	hasher     chain.Hasher
	staleAfter time.Duration
	metrics    *metrics.Metrics
	tracer     tracing.Tracer
	logger     *slog.Logger
}

// SyncReader is the read side of the cursor and review store.
type SyncReader interface {
	GetCursor(ctx context.Context, stream id.StreamID) (*models.Cursor, error)
	GetReview(ctx context.Context, reviewID id.ReviewID) (*models.ReviewItem, error)
	ListReviews(ctx context.Context, filter models.ReviewFilter) ([]*models.ReviewItem, error)
}

type Option func(*Engine)

// WithStaleAfter sets how long an abandoned merge blocks its stream.
func WithStaleAfter(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.staleAfter = d
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithTracer(t tracing.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New builds an Engine. hasher must be the central chain writer's hasher.
func New(tx Tx, chainReader ChainReader, syncReader SyncReader, consents ConsentApplier, memory MemoryImporter, hasher chain.Hasher, opts ...Option) *Engine {
	e := &Engine{
		tx:         tx,
		chain:      chainReader,
		sync:       syncReader,
		consents:   consents,
		memory:     memory,
		hasher:     hasher,
		staleAfter: defaultStaleAfter,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.tracer = tracing.OrNoop(e.tracer)
	return e
}

// Reconcile merges one device batch. The stream moves Disconnected → Syncing,
// then either Reconciled → Disconnected on success or Quarantined on a fork
// (CodeForkDetected). Any other failure returns the stream to Disconnected.
func (e *Engine) Reconcile(ctx context.Context, b *models.Batch) (out *models.Outcome, err error) {
	if b == nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "batch is required")
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	for _, r := range b.Consents {
		if !e.consents.Registry().IsRegistered(r.Type) {
			return nil, dErrors.New(dErrors.CodeValidation, "unknown consent type: "+string(r.Type))
		}
	}
	ctx = requestcontext.WithTime(ctx, requestcontext.Now(ctx))
	ctx, span := e.tracer.Start(ctx, "reconcile.merge",
		attribute.String("stream", b.Stream.String()),
		attribute.Int("events", len(b.Events)),
		attribute.Int("consents", len(b.Consents)),
		attribute.Int("objects", len(b.Objects)),
	)
	defer func() {
		span.End(err)
		e.metrics.IncReconcileOutcome(outcomeLabel(err))
	}()

	if err := e.begin(ctx, b); err != nil {
		return nil, err
	}

	events, divergence, err := e.checkContinuity(ctx, b.Stream, b.Events)
	if err != nil {
		e.abort(ctx, b)
		return nil, err
	}
	if divergence != nil {
		return nil, e.quarantine(ctx, b, divergence)
	}

	out, purgeDue, err := e.merge(ctx, b, events)
	if err != nil {
		e.abort(ctx, b)
		return nil, err
	}
	if len(purgeDue) > 0 {
		n, err := e.memory.PurgeMarked(ctx, b.SubjectID, purgeDue, id.ActorSystem)
		out.Purged = n
		if err != nil {
			e.logger.WarnContext(ctx, "offline erasure left for the purge sweep",
				"stream", b.Stream,
				"subject_id", b.SubjectID,
				"error", err,
			)
		}
	}
	e.logger.InfoContext(ctx, "device batch reconciled",
		"stream", b.Stream,
		"subject_id", b.SubjectID,
		"events", out.EventsMerged,
		"consents_applied", out.ConsentsApplied,
		"imported", out.Imported,
		"locked", len(out.Locked)+out.DependentsLocked+out.Restricted,
		"purged", out.Purged,
		"request_id", requestcontext.RequestID(ctx),
	)
	return out, nil
}

// begin persists Syncing so a concurrent batch for the stream is refused.
func (e *Engine) begin(ctx context.Context, b *models.Batch) error {
	return e.tx.RunInTx(ctx, b.SubjectID, func(ctx context.Context, st Stores) error {
		now := requestcontext.Now(ctx)
		cursor, err := st.Sync.GetCursor(ctx, b.Stream)
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			cursor = models.NewCursor(b.Stream, b.SubjectID, chain.GenesisHash, now)
		case err != nil:
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read sync cursor")
		}
		if cursor.SubjectID != b.SubjectID {
			return dErrors.New(dErrors.CodeForbidden, "stream belongs to another subject")
		}
		if err := cursor.BeginSync(now, e.staleAfter); err != nil {
			return err
		}
		return saveCursor(ctx, st, cursor)
	})
}

// divergence describes why a batch cannot extend the central chain.
type divergence struct {
	reason   string
	expected string
	received string
	firstSeq int64
	lastSeq  int64
}

// checkContinuity drops the prefix of events the central chain already holds
// (a batch resent after a lost acknowledgement), then checks that the rest is
// internally continuous and starts at the central tail.
func (e *Engine) checkContinuity(ctx context.Context, stream id.StreamID, events []auditmodels.Event) ([]auditmodels.Event, *divergence, error) {
	if len(events) == 0 {
		return nil, nil, nil
	}
	tailSeq, tailHash, err := e.tail(ctx, stream)
	if err != nil {
		return nil, nil, err
	}
	events, err = e.trimMerged(ctx, stream, events, tailSeq)
	if err != nil {
		return nil, nil, err
	}
	if len(events) == 0 {
		return nil, nil, nil
	}

	first, last := events[0], events[len(events)-1]
	d := &divergence{expected: tailHash, received: first.PrevHash, firstSeq: first.Seq, lastSeq: last.Seq}
	if res := chain.VerifyEvents(e.hasher, events, first.Seq-1, first.PrevHash); !res.Valid {
		d.reason = fmt.Sprintf("batch chain broken at seq %d: %s", res.FirstDivergence, res.Reason)
		return nil, d, nil
	}
	if first.PrevHash != tailHash || first.Seq != tailSeq+1 {
		d.reason = fmt.Sprintf("batch starts at seq %d but the central tail is seq %d", first.Seq, tailSeq)
		if first.Seq == tailSeq+1 {
			d.reason = "batch prev_hash does not match the central tail"
		}
		return nil, d, nil
	}
	return events, nil, nil
}

// trimMerged removes leading events identical to ones already merged. A
// partial or mismatched overlap is left for the continuity check to reject.
func (e *Engine) trimMerged(ctx context.Context, stream id.StreamID, events []auditmodels.Event, tailSeq int64) ([]auditmodels.Event, error) {
	first := events[0].Seq
	if first < 1 || first > tailSeq {
		return events, nil
	}
	overlapEnd := min(tailSeq, events[len(events)-1].Seq)
	stored, err := e.chain.ListStream(ctx, stream, first, overlapEnd)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read central chain")
	}
	if int64(len(stored)) != overlapEnd-first+1 {
		return events, nil
	}
	for i := range stored {
		if stored[i].ID != events[i].ID || stored[i].SelfHash != events[i].SelfHash {
			return events, nil
		}
	}
	return events[len(stored):], nil
}

func (e *Engine) tail(ctx context.Context, stream id.StreamID) (int64, string, error) {
	head, err := e.chain.Head(ctx, stream)
	if errors.Is(err, sentinel.ErrNotFound) {
		return 0, chain.GenesisHash, nil
	}
	if err != nil {
		return 0, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to read central tail")
	}
	return head.Seq, head.Hash, nil
}

// quarantine parks the stream and enqueues the batch for review.
func (e *Engine) quarantine(ctx context.Context, b *models.Batch, d *divergence) error {
	now := requestcontext.Now(ctx)
	review := &models.ReviewItem{
		ID:               id.NewReviewID(),
		Stream:           b.Stream,
		SubjectID:        b.SubjectID,
		Reason:           d.reason,
		FirstSeq:         d.firstSeq,
		LastSeq:          d.lastSeq,
		ExpectedPrevHash: d.expected,
		ReceivedPrevHash: d.received,
		Status:           models.ReviewOpen,
		CreatedAt:        now,
	}
	err := e.tx.RunInTx(ctx, b.SubjectID, func(ctx context.Context, st Stores) error {
		cursor, err := st.Sync.GetCursor(ctx, b.Stream)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read sync cursor")
		}
		cursor.Quarantine(now)
		if err := saveCursor(ctx, st, cursor); err != nil {
			return err
		}
		if err := st.Sync.InsertReview(ctx, review); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to enqueue review")
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.logger.WarnContext(ctx, "device batch quarantined",
		"stream", b.Stream,
		"subject_id", b.SubjectID,
		"review_id", review.ID,
		"reason", d.reason,
		"request_id", requestcontext.RequestID(ctx),
	)
	return dErrors.New(dErrors.CodeForkDetected, "fork detected; batch queued for review "+review.ID.String())
}

// abort returns a Syncing cursor to Disconnected after a failed merge.
func (e *Engine) abort(ctx context.Context, b *models.Batch) {
	err := e.tx.RunInTx(context.WithoutCancel(ctx), b.SubjectID, func(ctx context.Context, st Stores) error {
		cursor, err := st.Sync.GetCursor(ctx, b.Stream)
		if err != nil {
			return err
		}
		if cursor.State != models.StateSyncing {
			return nil
		}
		cursor.Disconnect(requestcontext.Now(ctx))
		return st.Sync.SaveCursor(ctx, cursor)
	})
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to release sync cursor", "stream", b.Stream, "error", err)
	}
}

// merge applies the batch in one transaction: the device chain first, then
// consents, then objects, then the cursor. It returns the known objects the
// device purged; their content is deleted once the merge has committed.
func (e *Engine) merge(ctx context.Context, b *models.Batch, events []auditmodels.Event) (*models.Outcome, []id.ObjectID, error) {
	out := &models.Outcome{EventsMerged: len(events)}
	var purgeDue []id.ObjectID
	err := e.tx.RunInTx(ctx, b.SubjectID, func(ctx context.Context, st Stores) error {
		cursor, err := st.Sync.GetCursor(ctx, b.Stream)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read sync cursor")
		}
		if cursor.State != models.StateSyncing {
			return dErrors.New(dErrors.CodeConflict, "sync cursor changed during merge")
		}

		if err := st.Audit.AppendVerified(ctx, b.Stream, events); err != nil {
			return err
		}
		bindings, err := e.resolveConsents(ctx, st, b, events, out)
		if err != nil {
			return err
		}
		imported, err := e.memory.ImportOffline(ctx, st.memory(), b.Objects, bindings)
		if err != nil {
			return err
		}
		out.Imported, out.Locked, out.Skipped = imported.Imported, imported.Locked, imported.Skipped
		out.Restricted = len(imported.Restricted)
		purgeDue = imported.PurgeDue

		lastSeq, lastHash := cursor.LastSeq, cursor.LastHash
		if n := len(events); n > 0 {
			lastSeq, lastHash = events[n-1].Seq, events[n-1].SelfHash
		}
		cursor.Advance(lastSeq, lastHash, requestcontext.Now(ctx))
		if err := saveCursor(ctx, st, cursor); err != nil {
			return err
		}
		out.Cursor = *cursor
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return out, purgeDue, nil
}

// resolveConsents applies most-restrictive-wins to each local record created
// by the events being merged and returns the binding of every consent type
// the subject holds centrally. Records of versions merged earlier are ignored.
func (e *Engine) resolveConsents(ctx context.Context, st Stores, b *models.Batch, events []auditmodels.Event, out *models.Outcome) (memoryservice.Bindings, error) {
	registry := e.consents.Registry()
	now := requestcontext.Now(ctx)
	bindings := make(memoryservice.Bindings)
	detail := "offline " + b.Stream.String()

	for _, local := range latestPerType(models.CapturedConsents(events, b.Consents)) {
		central, err := currentOrNil(ctx, st, b.SubjectID, local.Type)
		if err != nil {
			return nil, err
		}
		key := memoryservice.BindingKey{Owner: b.SubjectID, Type: local.Type}

		switch decide(central, local, now) {
		case verdictKeepCentral:
			bindings[key] = memoryservice.Binding{Version: central.Version, Active: central.IsActive(now)}
		case verdictApplyRestriction:
			next, event := restriction(central, local, now)
			if err := e.consents.AppendVersion(ctx, st.consent(), central, next, event, detail); err != nil {
				return nil, err
			}
			n, err := e.memory.LockDependentsIn(ctx, st.memory(), next, lockReason(next), local.ActorType)
			if err != nil {
				return nil, err
			}
			out.ConsentsApplied++
			out.DependentsLocked += n
			bindings[key] = memoryservice.Binding{Version: next.Version}
		case verdictApplyGrant:
			first := firstVersion(local, now)
			if err := e.consents.AppendVersion(ctx, st.consent(), nil, first, auditmodels.EventConsentGranted, detail); err != nil {
				return nil, err
			}
			out.ConsentsApplied++
			bindings[key] = memoryservice.Binding{Version: first.Version, Active: first.IsActive(now)}
		case verdictNone:
			bindings[key] = memoryservice.Binding{}
		}
	}

	for _, t := range registry.Types() {
		key := memoryservice.BindingKey{Owner: b.SubjectID, Type: t}
		if _, ok := bindings[key]; ok {
			continue
		}
		central, err := currentOrNil(ctx, st, b.SubjectID, t)
		if err != nil {
			return nil, err
		}
		if central != nil {
			bindings[key] = memoryservice.Binding{Version: central.Version, Active: central.IsActive(now)}
		}
	}
	return bindings, nil
}

type verdict int

const (
	verdictNone verdict = iota
	verdictKeepCentral
	verdictApplyRestriction
	verdictApplyGrant
)

// decide picks the more restrictive of the central and local record. A local
// record restricts only through its persisted status: a device grant that
// lapsed by the clock is not an expiry the device recorded. Neither side's
// timestamps are compared.
func decide(central, local *consentmodels.Record, now time.Time) verdict {
	localRestricts := local.Status == consentmodels.StatusRevoked || local.Status == consentmodels.StatusExpired
	switch {
	case central == nil && localRestricts:
		return verdictNone
	case central == nil:
		return verdictApplyGrant
	case !central.IsActive(now):
		return verdictKeepCentral
	case localRestricts:
		return verdictApplyRestriction
	default:
		return verdictKeepCentral
	}
}

// restriction builds the central version that carries a local revocation or expiry.
func restriction(central, local *consentmodels.Record, now time.Time) (*consentmodels.Record, auditmodels.EventType) {
	if local.Status == consentmodels.StatusRevoked {
		return central.Successor(consentmodels.StatusRevoked, local.ActorType, now), auditmodels.EventConsentRevoked
	}
	next := central.Successor(consentmodels.StatusExpired, local.ActorType, now)
	if next.ExpiresAt.After(now) {
		next.ExpiresAt = now
	}
	return next, auditmodels.EventConsentExpired
}

// firstVersion re-bases a device grant as the subject's first central version.
func firstVersion(local *consentmodels.Record, now time.Time) *consentmodels.Record {
	first := *local
	first.ID = id.NewRecordID()
	first.Version = 1
	first.RevokedAt = nil
	first.CreatedAt = now
	first.SupersededAt = nil
	return &first
}

func lockReason(r *consentmodels.Record) memorymodels.LockReason {
	if r.Status == consentmodels.StatusRevoked {
		return memorymodels.ReasonRevocation
	}
	return memorymodels.ReasonExpiry
}

// latestPerType keeps the highest local version of each type, in batch order.
func latestPerType(records []*consentmodels.Record) []*consentmodels.Record {
	latest := make(map[consentmodels.Type]int)
	var out []*consentmodels.Record
	for _, r := range records {
		i, seen := latest[r.Type]
		switch {
		case !seen:
			latest[r.Type] = len(out)
			out = append(out, r)
		case r.Version > out[i].Version:
			out[i] = r
		}
	}
	return out
}

func currentOrNil(ctx context.Context, st Stores, subject id.SubjectID, t consentmodels.Type) (*consentmodels.Record, error) {
	r, err := st.Records.Current(ctx, subject, t)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read central consent")
	}
	return r, nil
}

func saveCursor(ctx context.Context, st Stores, c *models.Cursor) error {
	err := st.Sync.SaveCursor(ctx, c)
	switch {
	case errors.Is(err, sentinel.ErrStale), errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, "sync cursor changed concurrently")
	case err != nil:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save sync cursor")
	}
	return nil
}

// Status returns the stream's cursor, or a fresh Disconnected cursor at the
// genesis hash for a stream that never synced.
func (e *Engine) Status(ctx context.Context, stream id.StreamID) (*models.Cursor, error) {
	cursor, err := e.sync.GetCursor(ctx, stream)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return models.NewCursor(stream, id.SubjectID{}, chain.GenesisHash, requestcontext.Now(ctx)), nil
	case err != nil:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read sync cursor")
	}
	return cursor, nil
}

func (e *Engine) ListReviews(ctx context.Context, filter models.ReviewFilter) ([]*models.ReviewItem, error) {
	reviews, err := e.sync.ListReviews(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list reviews")
	}
	return reviews, nil
}

// ResolveReview records a reviewer's decision and returns the quarantined
// stream to Disconnected at its last merged point. A rechain resolution flags
// the cursor so the device rebuilds its tail before syncing again.
func (e *Engine) ResolveReview(ctx context.Context, reviewID id.ReviewID, resolution models.Resolution, reviewer id.ActorType) (*models.ReviewItem, error) {
	if !resolution.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "resolution must be discard or rechain")
	}
	if reviewer != id.ActorStaff && reviewer != id.ActorSystem {
		return nil, dErrors.New(dErrors.CodeForbidden, "only staff resolve sync reviews")
	}
	existing, err := e.sync.GetReview(ctx, reviewID)
	if err != nil {
		return nil, translateReview(err)
	}

	var resolved *models.ReviewItem
	err = e.tx.RunInTx(ctx, existing.SubjectID, func(ctx context.Context, st Stores) error {
		now := requestcontext.Now(ctx)
		review, err := st.Sync.GetReview(ctx, reviewID)
		if err != nil {
			return translateReview(err)
		}
		if err := review.Resolve(resolution, reviewer, now); err != nil {
			return err
		}
		cursor, err := st.Sync.GetCursor(ctx, review.Stream)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read sync cursor")
		}
		if cursor.State == models.StateQuarantined {
			cursor.Disconnect(now)
			cursor.RechainRequired = resolution == models.ResolutionRechain
			if err := saveCursor(ctx, st, cursor); err != nil {
				return err
			}
		}
		if err := st.Sync.UpdateReview(ctx, review); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save review")
		}
		resolved = review
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.InfoContext(ctx, "sync review resolved",
		"review_id", reviewID,
		"stream", resolved.Stream,
		"resolution", resolution,
		"reviewer", reviewer,
	)
	return resolved, nil
}

func translateReview(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeNotFound, "review not found")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read review")
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "merged"
	case dErrors.HasCode(err, dErrors.CodeForkDetected):
		return "fork"
	case dErrors.HasCode(err, dErrors.CodeConflict):
		return "conflict"
	default:
		return "error"
	}
}
