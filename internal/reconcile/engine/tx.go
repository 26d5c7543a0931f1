package engine

import (
	"context"
	"time"

	auditservice "keepsake/internal/audit/service"
	consentservice "keepsake/internal/consent/service"
	consentstore "keepsake/internal/consent/store"
	memoryservice "keepsake/internal/memory/service"
	memorystore "keepsake/internal/memory/store"
	"keepsake/internal/reconcile/store"
	id "keepsake/pkg/domain"
	dErrors "keepsake/pkg/domain-errors"
	platformsync "keepsake/pkg/platform/sync"
)

// Stores are everything one merge writes. SQL implementations bind all of
// them to the same transaction.
type Stores struct {
	Audit   auditservice.Appender
	Records consentstore.Store
	Objects memorystore.Store
	Sync    store.Store
}

func (s Stores) consent() consentservice.Stores {
	return consentservice.Stores{Records: s.Records, Audit: s.Audit}
}

func (s Stores) memory() memoryservice.Stores {
	return memoryservice.Stores{Objects: s.Objects, Audit: s.Audit}
}

// Tx runs fn holding the subject's advisory lock.
type Tx interface {
	RunInTx(ctx context.Context, subject id.SubjectID, fn func(ctx context.Context, st Stores) error) error
}

const defaultTxTimeout = 30 * time.Second

// ShardedTx is the in-memory backend's transaction. It must share its mutex
// with the consent and memory ShardedTx so a merge excludes their writes.
type ShardedTx struct {
	mu     *platformsync.ShardedMutex
	stores Stores
}

func NewShardedTx(mu *platformsync.ShardedMutex, stores Stores) *ShardedTx {
	return &ShardedTx{mu: mu, stores: stores}
}

func (t *ShardedTx) RunInTx(ctx context.Context, subject id.SubjectID, fn func(ctx context.Context, st Stores) error) error {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultTxTimeout)
		defer cancel()
	}

	key := subject.String()
	t.mu.Lock(key)
	defer t.mu.Unlock(key)

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	return fn(ctx, t.stores)
}
