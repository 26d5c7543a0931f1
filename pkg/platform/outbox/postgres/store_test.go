package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keepsake/pkg/platform/outbox"
)

func TestStore_AppendDuplicateIsReported(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := New(db)
	now := time.Date(2026, 3, 25, 0, 0, 0, 0, time.UTC)
	entry := outbox.NewDeterministicEntry(outbox.KindRenewalDue, "k", "subj", "renewal_due", []byte(`{}`), now)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO outbox")).
		WithArgs(entry.ID, "renewal_due", "subj", "renewal_due", entry.Payload, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO outbox")).
		WithArgs(entry.ID, "renewal_due", "subj", "renewal_due", entry.Payload, now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.Append(context.Background(), entry))
	assert.ErrorIs(t, store.Append(context.Background(), entry), outbox.ErrDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_FetchUnprocessed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	entry := outbox.NewEntry(outbox.KindAuditEvent, "subject:x", "consent_granted", []byte(`{"seq":1}`), time.Now())
	rows := sqlmock.NewRows([]string{"id", "kind", "aggregate_id", "event_type", "payload", "created_at", "processed_at"}).
		AddRow(entry.ID.String(), "audit_event", entry.AggregateID, entry.EventType, entry.Payload, entry.CreatedAt, nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM outbox")).WithArgs(1000).WillReturnRows(rows)

	got, err := New(db).FetchUnprocessed(context.Background(), 5000)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, outbox.KindAuditEvent, got[0].Kind)
	assert.True(t, got[0].IsPending())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_MarkProcessedMissingRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	entry := outbox.NewEntry(outbox.KindAuditEvent, "a", "b", nil, time.Now())
	mock.ExpectExec(regexp.QuoteMeta("UPDATE outbox SET processed_at")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = New(db).MarkProcessed(context.Background(), entry.ID, time.Now())
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
