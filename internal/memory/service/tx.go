package service

import (
	"context"
	"time"

	auditservice "keepsake/internal/audit/service"
	"keepsake/internal/memory/store"
	id "keepsake/pkg/domain"
	dErrors "keepsake/pkg/domain-errors"
	platformsync "keepsake/pkg/platform/sync"
)

// Stores are the repositories one memory transition writes through.
type Stores struct {
	Objects store.Store
	Audit   auditservice.Appender
}

// Tx runs fn holding the owner's advisory lock. SQL implementations commit
// the audit event and the object update together.
type Tx interface {
	RunInTx(ctx context.Context, owner id.SubjectID, fn func(ctx context.Context, st Stores) error) error
}

const defaultTxTimeout = 10 * time.Second

// ShardedTx serializes transitions per owner. Share the mutex with the
// consent ShardedTx so a revocation's dependent lock waits for in-flight writes.
type ShardedTx struct {
	mu     *platformsync.ShardedMutex
	stores Stores
}

func NewShardedTx(mu *platformsync.ShardedMutex, stores Stores) *ShardedTx {
	return &ShardedTx{mu: mu, stores: stores}
}

func (t *ShardedTx) RunInTx(ctx context.Context, owner id.SubjectID, fn func(ctx context.Context, st Stores) error) error {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultTxTimeout)
		defer cancel()
	}

	key := owner.String()
	t.mu.Lock(key)
	defer t.mu.Unlock(key)

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	return fn(ctx, t.stores)
}
