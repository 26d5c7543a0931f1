package service

import (
	"context"
	"time"

	auditservice "keepsake/internal/audit/service"
	"keepsake/internal/consent/metrics"
	"keepsake/internal/consent/store"
	id "keepsake/pkg/domain"
	dErrors "keepsake/pkg/domain-errors"
	platformsync "keepsake/pkg/platform/sync"
)

// Stores are the repositories a consent transaction writes through. Both are
// bound to the same transaction so the audit event and the record commit together.
type Stores struct {
	Records store.Store
	Audit   auditservice.Appender
}

// Tx provides the transactional boundary for one subject's consent mutation.
// Implementations hold the subject's advisory lock for the duration of fn.
type Tx interface {
	RunInTx(ctx context.Context, subject id.SubjectID, fn func(ctx context.Context, st Stores) error) error
}

// defaultTxTimeout is the maximum duration for a consent transaction.
const defaultTxTimeout = 5 * time.Second

// ShardedTx serializes mutations per subject with a sharded mutex. It is the
// transaction used by the in-memory backend and the device replica; the audit
// append happens first, so a failure there leaves the record untouched.
type ShardedTx struct {
	mu      *platformsync.ShardedMutex
	stores  Stores
	timeout time.Duration
	metrics *metrics.Metrics
}

// NewShardedTx builds a ShardedTx. The mutex may be shared with other services'
// transactions over the same subject keys; none of them may nest.
func NewShardedTx(mu *platformsync.ShardedMutex, stores Stores, m *metrics.Metrics) *ShardedTx {
	return &ShardedTx{mu: mu, stores: stores, metrics: m}
}

func (t *ShardedTx) RunInTx(ctx context.Context, subject id.SubjectID, fn func(ctx context.Context, st Stores) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	key := subject.String()
	lockStart := time.Now()
	t.mu.Lock(key)
	t.metrics.ObserveLockWait(time.Since(lockStart).Seconds())
	defer t.mu.Unlock(key)

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	return fn(ctx, t.stores)
}
