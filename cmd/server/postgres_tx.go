package main

import (
	"context"
	"database/sql"
	"time"

	auditservice "keepsake/internal/audit/service"
	auditstore "keepsake/internal/audit/store"
	consentservice "keepsake/internal/consent/service"
	consentstore "keepsake/internal/consent/store"
	memoryservice "keepsake/internal/memory/service"
	memorystore "keepsake/internal/memory/store"
	"keepsake/internal/platform/database"
	"keepsake/internal/reconcile/engine"
	reconcilestore "keepsake/internal/reconcile/store"
	id "keepsake/pkg/domain"
	dErrors "keepsake/pkg/domain-errors"
	outboxpg "keepsake/pkg/platform/outbox/postgres"
)

const (
	defaultConsentTxTimeout = 5 * time.Second
	defaultMemoryTxTimeout  = 10 * time.Second
	defaultSyncTxTimeout    = 30 * time.Second
)

// subjectTx runs one Postgres transaction holding the subject's advisory
// lock. Consent, memory and sync transactions lock the same key, so a merge
// excludes concurrent writes for that subject.
type subjectTx struct {
	db     *sql.DB
	writer *auditservice.ChainWriter
}

func (t subjectTx) run(ctx context.Context, subject id.SubjectID, timeout time.Duration, fn func(ctx context.Context, tx *sql.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	return database.RunInTx(ctx, t.db, func(tx *sql.Tx) error {
		if err := database.LockXact(ctx, tx, "subject:"+subject.String()); err != nil {
			return err
		}
		return fn(ctx, tx)
	})
}

// audit binds the chain writer and its outbox to tx, so an event, its
// outbox row and the state change commit together.
func (t subjectTx) audit(tx *sql.Tx) *auditservice.ChainWriter {
	return t.writer.Bind(auditstore.NewPostgresTx(tx), outboxpg.NewTx(tx))
}

type consentPostgresTx struct{ subjectTx }

func (t consentPostgresTx) RunInTx(ctx context.Context, subject id.SubjectID, fn func(ctx context.Context, st consentservice.Stores) error) error {
	return t.run(ctx, subject, defaultConsentTxTimeout, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, consentservice.Stores{
			Records: consentstore.NewPostgresTx(tx),
			Audit:   t.audit(tx),
		})
	})
}

type memoryPostgresTx struct{ subjectTx }

func (t memoryPostgresTx) RunInTx(ctx context.Context, owner id.SubjectID, fn func(ctx context.Context, st memoryservice.Stores) error) error {
	return t.run(ctx, owner, defaultMemoryTxTimeout, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, memoryservice.Stores{
			Objects: memorystore.NewPostgresTx(tx),
			Audit:   t.audit(tx),
		})
	})
}

type syncPostgresTx struct{ subjectTx }

func (t syncPostgresTx) RunInTx(ctx context.Context, subject id.SubjectID, fn func(ctx context.Context, st engine.Stores) error) error {
	return t.run(ctx, subject, defaultSyncTxTimeout, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, engine.Stores{
			Audit:   t.audit(tx),
			Records: consentstore.NewPostgresTx(tx),
			Objects: memorystore.NewPostgresTx(tx),
			Sync:    reconcilestore.NewPostgresTx(tx),
		})
	})
}
