package outbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeterministicEntryIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2026, 3, 25, 0, 0, 0, 0, time.UTC)

	first := NewDeterministicEntry(KindRenewalDue, "subj|memory_retention|1", "subj", "renewal_due", []byte(`{}`), now)
	again := NewDeterministicEntry(KindRenewalDue, "subj|memory_retention|1", "subj", "renewal_due", []byte(`{}`), now.Add(time.Hour))
	other := NewDeterministicEntry(KindRenewalDue, "subj|memory_retention|2", "subj", "renewal_due", []byte(`{}`), now)

	require.NoError(t, store.Append(ctx, first))
	assert.ErrorIs(t, store.Append(ctx, again), ErrDuplicate)
	require.NoError(t, store.Append(ctx, other))

	pending, err := store.CountPending(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, pending)
}

func TestMemoryStore_ProcessAndCleanup(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	a := NewEntry(KindAuditEvent, "subject:a", "consent_granted", []byte(`{}`), t0)
	b := NewEntry(KindAuditEvent, "subject:a", "consent_revoked", []byte(`{}`), t0.Add(time.Second))
	require.NoError(t, store.Append(ctx, b))
	require.NoError(t, store.Append(ctx, a))

	batch, err := store.FetchUnprocessed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, a.ID, batch[0].ID, "oldest first")

	require.NoError(t, store.MarkProcessed(ctx, a.ID, t0.Add(time.Minute)))
	assert.Error(t, store.MarkProcessed(ctx, a.ID, t0.Add(time.Minute)))

	deleted, err := store.DeleteProcessedBefore(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)
	assert.Len(t, store.ListByKind(KindAuditEvent), 1)
}
