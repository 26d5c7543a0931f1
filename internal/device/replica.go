// Package device is the offline replica a tablet runs while it cannot reach
// the central service. Consent and memory transitions run locally against
// SQLite and are chained on the device's own audit stream; PendingBatch
// collects what the central service has not yet acknowledged.
package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

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
	"keepsake/internal/platform/database"
	"keepsake/internal/platform/database/sqlite"
	"keepsake/internal/reconcile/models"
	reconcilestore "keepsake/internal/reconcile/store"
	"keepsake/internal/sentinel"
	id "keepsake/pkg/domain"
	dErrors "keepsake/pkg/domain-errors"
	"keepsake/pkg/platform/validation"
	platformsync "keepsake/pkg/platform/sync"
	"keepsake/pkg/requestcontext"
)

// Replica is one device's local state for a single subject.
type Replica struct {
	db       *sql.DB
	subject  id.SubjectID
	stream   id.StreamID
	hasher   chain.Hasher
	audit    *auditstore.SQLiteStore
	records  *consentstore.SQLiteStore
	objects  *memorystore.SQLiteStore
	cursors  *reconcilestore.SQLiteStore
	consents *consentservice.Service
	memory   *memoryservice.Service
	logger   *slog.Logger
}

type Option func(*options)

type options struct {
	registry *consentmodels.Registry
	blobs    blob.Backend
	hasher   chain.Hasher
	logger   *slog.Logger
}

// WithRegistry overrides the consent types the replica accepts. It must match
// the central registry or batches are rejected.
func WithRegistry(r *consentmodels.Registry) Option {
	return func(o *options) { o.registry = r }
}

func WithBlobs(b blob.Backend) Option {
	return func(o *options) { o.blobs = b }
}

func WithHasher(h chain.Hasher) Option {
	return func(o *options) { o.hasher = h }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Open opens or creates the replica database at path (":memory:" in tests).
func Open(ctx context.Context, path string, device id.DeviceID, subject id.SubjectID, opts ...Option) (*Replica, error) {
	if device == "" || subject.IsNil() {
		return nil, fmt.Errorf("device and subject are required")
	}
	o := options{
		registry: consentmodels.DefaultRegistry(),
		blobs:    blob.NewMemory(),
		hasher:   chain.MustHasher(chain.AlgorithmSHA256),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	db, err := sqlite.Open(ctx, path,
		auditstore.SQLiteSchema,
		consentstore.SQLiteSchema,
		memorystore.SQLiteSchema,
		reconcilestore.SQLiteSchema,
	)
	if err != nil {
		return nil, err
	}
	r := &Replica{
		db:      db,
		subject: subject,
		stream:  id.DeviceStream(device),
		hasher:  o.hasher,
		audit:   auditstore.NewSQLite(db),
		records: consentstore.NewSQLite(db),
		objects: memorystore.NewSQLite(db),
		cursors: reconcilestore.NewSQLite(db),
		logger:  o.logger,
	}

	// The pool holds one connection, so the services run under the sharded
	// mutex instead of SQL transactions: a consent read made inside a memory
	// transition would otherwise wait on its own connection.
	writer := auditservice.NewChainWriter(r.audit, o.hasher, auditservice.WithWriterLogger(o.logger))
	mu := platformsync.NewShardedMutex()
	onDevice := func(id.SubjectID) id.StreamID { return r.stream }
	consentTx := consentservice.NewShardedTx(mu, consentservice.Stores{Records: r.records, Audit: writer}, nil)
	r.consents = consentservice.New(consentTx, r.records, o.registry,
		consentservice.WithStreamResolver(onDevice),
		consentservice.WithLogger(o.logger),
	)
	memoryTx := memoryservice.NewShardedTx(mu, memoryservice.Stores{Objects: r.objects, Audit: writer})
	r.memory = memoryservice.New(memoryTx, r.objects, r.consents, o.registry, o.blobs,
		memoryservice.WithStreamResolver(onDevice),
		memoryservice.WithLogger(o.logger),
	)
	r.consents.SetDependentGate(r.memory)
	return r, nil
}

func (r *Replica) Close() error { return r.db.Close() }

func (r *Replica) Stream() id.StreamID { return r.stream }

func (r *Replica) Subject() id.SubjectID { return r.subject }

// Consents is the local consent service. Its events chain on the device stream.
func (r *Replica) Consents() *consentservice.Service { return r.consents }

// Memory is the local memory gate.
func (r *Replica) Memory() *memoryservice.Service { return r.memory }

// Cursor returns the last point the central service acknowledged, or the
// genesis cursor before the first successful sync.
func (r *Replica) Cursor(ctx context.Context) (*models.Cursor, error) {
	c, err := r.cursors.GetCursor(ctx, r.stream)
	if errors.Is(err, sentinel.ErrNotFound) {
		return models.NewCursor(r.stream, r.subject, chain.GenesisHash, time.Time{}), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read local cursor: %w", err)
	}
	return c, nil
}

// Pending is a batch ready to ship, with the local time it was captured at.
type Pending struct {
	Batch      *models.Batch
	CapturedAt time.Time
}

// Empty reports whether there is nothing for the central service to merge.
func (p *Pending) Empty() bool {
	return len(p.Batch.Events) == 0 && len(p.Batch.Objects) == 0
}

// PendingBatch collects the unacknowledged tail of the device chain, the
// current local version of every consent type, and the objects captured on
// this device since the last acknowledged sync. The tail is capped at the
// batch limit; call again after MarkMerged to ship the rest.
func (r *Replica) PendingBatch(ctx context.Context) (*Pending, error) {
	capturedAt := requestcontext.Now(ctx)
	cursor, err := r.Cursor(ctx)
	if err != nil {
		return nil, err
	}

	from := cursor.LastSeq + 1
	events, err := r.audit.ListStream(ctx, r.stream, from, from+validation.MaxBatchEvents-1)
	if err != nil {
		return nil, fmt.Errorf("read unmerged events: %w", err)
	}

	// Only versions created since the last merge are shipped; a version
	// the central store already holds is never offered again.
	var current []*consentmodels.Record
	for _, t := range r.consents.Registry().Types() {
		rec, err := r.records.Current(ctx, r.subject, t)
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			continue
		case err != nil:
			return nil, fmt.Errorf("read local %s consent: %w", t, err)
		}
		current = append(current, rec)
	}
	consents := models.CapturedConsents(events, current)

	all, err := r.objects.ListByOwner(ctx, r.subject, memorymodels.ListFilter{Limit: validation.MaxBatchObjects})
	if err != nil {
		return nil, fmt.Errorf("read local objects: %w", err)
	}
	var objects []*memorymodels.Object
	for _, o := range all {
		if o.OriginStream == r.stream && !o.UpdatedAt.Before(cursor.UpdatedAt) {
			objects = append(objects, o)
		}
	}

	return &Pending{
		Batch: &models.Batch{
			Stream:    r.stream,
			SubjectID: r.subject,
			Events:    events,
			Consents:  consents,
			Objects:   objects,
		},
		CapturedAt: capturedAt,
	}, nil
}

// MarkMerged records the central cursor returned for a shipped batch. The
// acknowledged hash must be the one this device sealed at that seq.
func (r *Replica) MarkMerged(ctx context.Context, p *Pending, central models.Cursor) error {
	if central.Stream != r.stream {
		return dErrors.New(dErrors.CodeValidation, "cursor is for another stream")
	}
	if central.LastSeq > 0 {
		e, err := r.audit.Get(ctx, r.stream, central.LastSeq)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.Newf(dErrors.CodeChainViolation, "central cursor is ahead of the device at seq %d", central.LastSeq)
			}
			return fmt.Errorf("read acknowledged event: %w", err)
		}
		if e.SelfHash != central.LastHash {
			return dErrors.Newf(dErrors.CodeChainViolation, "central hash at seq %d differs from the device chain", central.LastSeq)
		}
	}

	local, err := r.Cursor(ctx)
	if err != nil {
		return err
	}
	local.LastSeq, local.LastHash = central.LastSeq, central.LastHash
	local.State = models.StateDisconnected
	local.RechainRequired = false
	local.UpdatedAt = p.CapturedAt
	if err := r.cursors.SaveCursor(ctx, local); err != nil {
		return fmt.Errorf("save local cursor: %w", err)
	}
	return nil
}

// Rechain rebuilds the unacknowledged tail on top of the central tail
// (anchorSeq, anchorHash) after a reviewer chose rechain. Each unmerged event
// keeps its ID and content and is resealed at its new position. Events between
// the last acknowledged seq and the anchor are dropped from the device; the
// central chain holds them. It returns how many events were resealed.
func (r *Replica) Rechain(ctx context.Context, anchorSeq int64, anchorHash string) (int, error) {
	now := requestcontext.Now(ctx)
	var resealed int
	err := database.RunInTx(ctx, r.db, func(tx *sql.Tx) error {
		audit := auditstore.NewSQLiteTx(tx)
		cursors := reconcilestore.NewSQLiteTx(tx)

		local, err := cursors.GetCursor(ctx, r.stream)
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			local = models.NewCursor(r.stream, r.subject, chain.GenesisHash, time.Time{})
		case err != nil:
			return fmt.Errorf("read local cursor: %w", err)
		}
		tail, err := audit.ListStream(ctx, r.stream, local.LastSeq+1, 0)
		if err != nil {
			return fmt.Errorf("read unmerged events: %w", err)
		}

		if err := audit.Rebase(ctx, r.stream, min(local.LastSeq, anchorSeq), anchorSeq, anchorHash, r.hasher.Algorithm(), now); err != nil {
			return err
		}
		prev := anchorHash
		for i := range tail {
			e := tail[i]
			e.Seq = anchorSeq + int64(i) + 1
			chain.Seal(r.hasher, &e, prev)
			if err := audit.Append(ctx, &e, r.hasher.Algorithm()); err != nil {
				return fmt.Errorf("reappend seq %d: %w", e.Seq, err)
			}
			prev = e.SelfHash
		}
		resealed = len(tail)

		local.LastSeq, local.LastHash = anchorSeq, anchorHash
		local.State = models.StateDisconnected
		local.RechainRequired = false
		return cursors.SaveCursor(ctx, local)
	})
	if err != nil {
		return 0, err
	}
	r.logger.InfoContext(ctx, "device chain rebuilt on central tail",
		"stream", r.stream,
		"anchor_seq", anchorSeq,
		"resealed", resealed,
	)
	return resealed, nil
}

// Verify checks the device chain from the last acknowledged point.
func (r *Replica) Verify(ctx context.Context) (auditmodels.VerifyResult, error) {
	cursor, err := r.Cursor(ctx)
	if err != nil {
		return auditmodels.VerifyResult{}, err
	}
	events, err := r.audit.ListStream(ctx, r.stream, cursor.LastSeq+1, 0)
	if err != nil {
		return auditmodels.VerifyResult{}, fmt.Errorf("read unmerged events: %w", err)
	}
	return chain.VerifyEvents(r.hasher, events, cursor.LastSeq, cursor.LastHash), nil
}
