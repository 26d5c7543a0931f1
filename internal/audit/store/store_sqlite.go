package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"keepsake/internal/audit/models"
	"keepsake/internal/platform/database/sqlite"
	"keepsake/internal/sentinel"
	id "keepsake/pkg/domain"
)

// SQLiteSchema creates the device-local audit tables.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS audit_events (
	event_id        TEXT PRIMARY KEY,
	stream_id       TEXT NOT NULL,
	seq             INTEGER NOT NULL,
	event_type      TEXT NOT NULL,
	actor_type      TEXT NOT NULL,
	timestamp_utc   TIMESTAMP NOT NULL,
	timestamp_local TEXT NOT NULL,
	region          TEXT NOT NULL,
	outcome         TEXT NOT NULL,
	subject_id      TEXT,
	consent_type    TEXT NOT NULL DEFAULT '',
	consent_version INTEGER NOT NULL DEFAULT 0,
	object_id       TEXT,
	detail          TEXT NOT NULL DEFAULT '',
	prev_hash       TEXT NOT NULL,
	self_hash       TEXT NOT NULL,
	UNIQUE (stream_id, seq)
);
CREATE TABLE IF NOT EXISTS audit_stream_heads (
	stream_id  TEXT PRIMARY KEY,
	seq        INTEGER NOT NULL,
	head_hash  TEXT NOT NULL,
	algorithm  TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);`

// SQLiteStore is the device replica's audit chain.
type SQLiteStore struct {
	db *sql.DB
	tx *sql.Tx
}

func NewSQLite(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func NewSQLiteTx(tx *sql.Tx) *SQLiteStore {
	return &SQLiteStore{tx: tx}
}

func (s *SQLiteStore) execer() dbExecutor {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

func (s *SQLiteStore) Head(ctx context.Context, stream id.StreamID) (*models.StreamHead, error) {
	var h models.StreamHead
	err := s.execer().QueryRowContext(ctx,
		`SELECT seq, head_hash, algorithm FROM audit_stream_heads WHERE stream_id = ?`, stream.String(),
	).Scan(&h.Seq, &h.Hash, &h.Algorithm)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("read stream head: %w", err)
	}
	h.Stream = stream
	return &h, nil
}

func (s *SQLiteStore) Append(ctx context.Context, e *models.Event, algorithm string) error {
	if s.tx != nil {
		return s.appendEvent(ctx, s.tx, e, algorithm)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit append: %w", err)
	}
	if err := s.appendEvent(ctx, tx, e, algorithm); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) appendEvent(ctx context.Context, ex dbExecutor, e *models.Event, algorithm string) error {
	var (
		res sql.Result
		err error
	)
	if e.Seq == 1 {
		res, err = ex.ExecContext(ctx, `
			INSERT INTO audit_stream_heads (stream_id, seq, head_hash, algorithm, updated_at)
			VALUES (?, 1, ?, ?, ?) ON CONFLICT (stream_id) DO NOTHING`,
			e.Stream.String(), e.SelfHash, algorithm, e.TimestampUTC)
	} else {
		res, err = ex.ExecContext(ctx, `
			UPDATE audit_stream_heads SET seq = ?, head_hash = ?, updated_at = ?
			WHERE stream_id = ? AND seq = ? AND head_hash = ?`,
			e.Seq, e.SelfHash, e.TimestampUTC, e.Stream.String(), e.Seq-1, e.PrevHash)
	}
	if err != nil {
		return fmt.Errorf("advance stream head: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrConflict
	}

	_, err = ex.ExecContext(ctx, `INSERT INTO audit_events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.UUID(e.ID), e.Stream.String(), e.Seq, string(e.Type), string(e.ActorType),
		e.TimestampUTC, e.TimestampLocal, string(e.Region), string(e.Outcome),
		nullUUID(uuid.UUID(e.SubjectID)), e.ConsentType, e.ConsentVersion, nullUUID(uuid.UUID(e.ObjectID)),
		e.Detail, e.PrevHash, e.SelfHash)
	if err != nil {
		if sqlite.IsConstraintViolation(err) {
			return sentinel.ErrDuplicate
		}
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, stream id.StreamID, seq int64) (*models.Event, error) {
	e, err := scanEvent(s.execer().QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM audit_events WHERE stream_id = ? AND seq = ?`, stream.String(), seq))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get audit event: %w", err)
	}
	return e, nil
}

func (s *SQLiteStore) ListStream(ctx context.Context, stream id.StreamID, fromSeq, toSeq int64) ([]models.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM audit_events WHERE stream_id = ? AND seq >= ?`
	args := []any{stream.String(), fromSeq}
	if toSeq > 0 {
		query += ` AND seq <= ?`
		args = append(args, toSeq)
	}
	return s.list(ctx, query+` ORDER BY seq ASC`, args...)
}

func (s *SQLiteStore) Query(ctx context.Context, q models.Query) ([]models.Event, error) {
	where := []string{"region = ?"}
	args := []any{string(q.Region)}
	if q.From != nil {
		where, args = append(where, "timestamp_utc >= ?"), append(args, q.From.UTC())
	}
	if q.To != nil {
		where, args = append(where, "timestamp_utc < ?"), append(args, q.To.UTC())
	}
	if q.Subject != nil {
		where, args = append(where, "subject_id = ?"), append(args, uuid.UUID(*q.Subject))
	}
	if q.Stream != "" {
		where, args = append(where, "stream_id = ?"), append(args, q.Stream.String())
	}
	if len(q.Types) > 0 {
		marks := strings.TrimSuffix(strings.Repeat("?,", len(q.Types)), ",")
		where = append(where, "event_type IN ("+marks+")")
		for _, t := range q.Types {
			args = append(args, string(t))
		}
	}
	args = append(args, queryLimit(q.Limit))
	return s.list(ctx, `SELECT `+eventColumns+` FROM audit_events WHERE `+strings.Join(where, " AND ")+
		` ORDER BY timestamp_utc ASC, stream_id ASC, seq ASC LIMIT ?`, args...)
}

func (s *SQLiteStore) PruneBefore(ctx context.Context, region id.Region, cutoff time.Time) (int64, error) {
	res, err := s.execer().ExecContext(ctx, `DELETE FROM audit_events WHERE region = ? AND timestamp_utc < ?`, string(region), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune audit events: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) list(ctx context.Context, query string, args ...any) ([]models.Event, error) {
	rows, err := s.execer().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var out []models.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// Rebase drops every local event after keepSeq and moves the stream head to
// (headSeq, headHash), so the next append chains onto a tail sealed
// elsewhere. A zero headSeq removes the head and the stream restarts at
// genesis. Call it inside a transaction.
func (s *SQLiteStore) Rebase(ctx context.Context, stream id.StreamID, keepSeq, headSeq int64, headHash, algorithm string, now time.Time) error {
	ex := s.execer()
	if _, err := ex.ExecContext(ctx, `DELETE FROM audit_events WHERE stream_id = ? AND seq > ?`, stream.String(), keepSeq); err != nil {
		return fmt.Errorf("drop unmerged audit events: %w", err)
	}
	if headSeq == 0 {
		if _, err := ex.ExecContext(ctx, `DELETE FROM audit_stream_heads WHERE stream_id = ?`, stream.String()); err != nil {
			return fmt.Errorf("reset stream head: %w", err)
		}
		return nil
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO audit_stream_heads (stream_id, seq, head_hash, algorithm, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (stream_id) DO UPDATE SET seq = excluded.seq, head_hash = excluded.head_hash, updated_at = excluded.updated_at`,
		stream.String(), headSeq, headHash, algorithm, now.UTC())
	if err != nil {
		return fmt.Errorf("move stream head: %w", err)
	}
	return nil
}
