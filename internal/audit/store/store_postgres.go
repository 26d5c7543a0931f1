package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"keepsake/internal/audit/models"
	"keepsake/internal/platform/database"
	"keepsake/internal/sentinel"
	id "keepsake/pkg/domain"
)

// PostgresStore writes to audit_events, which is LIST-partitioned by region,
// and tracks stream tails in audit_stream_heads.
type PostgresStore struct {
	db *sql.DB
	tx *sql.Tx
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// NewPostgresTx binds the store to a transaction so the append commits with the state change it records.
func NewPostgresTx(tx *sql.Tx) *PostgresStore {
	return &PostgresStore{tx: tx}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer() dbExecutor {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

const eventColumns = `event_id, stream_id, seq, event_type, actor_type, timestamp_utc, timestamp_local,
	region, outcome, subject_id, consent_type, consent_version, object_id, detail, prev_hash, self_hash`

func (s *PostgresStore) Head(ctx context.Context, stream id.StreamID) (*models.StreamHead, error) {
	query := `SELECT stream_id, seq, head_hash, algorithm FROM audit_stream_heads WHERE stream_id = $1`
	if s.tx != nil {
		query += ` FOR UPDATE`
	}
	var h models.StreamHead
	var streamID string
	err := s.execer().QueryRowContext(ctx, query, stream.String()).Scan(&streamID, &h.Seq, &h.Hash, &h.Algorithm)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("read stream head: %w", err)
	}
	h.Stream = id.StreamID(streamID)
	return &h, nil
}

func (s *PostgresStore) Append(ctx context.Context, event *models.Event, algorithm string) error {
	if s.tx != nil {
		return appendEvent(ctx, s.tx, event, algorithm)
	}
	return database.RunInTx(ctx, s.db, func(tx *sql.Tx) error {
		return appendEvent(ctx, tx, event, algorithm)
	})
}

func appendEvent(ctx context.Context, ex dbExecutor, e *models.Event, algorithm string) error {
	var (
		res sql.Result
		err error
	)
	if e.Seq == 1 {
		res, err = ex.ExecContext(ctx, `
			INSERT INTO audit_stream_heads (stream_id, seq, head_hash, algorithm, updated_at)
			VALUES ($1, 1, $2, $3, $4)
			ON CONFLICT (stream_id) DO NOTHING`,
			e.Stream.String(), e.SelfHash, algorithm, e.TimestampUTC,
		)
	} else {
		res, err = ex.ExecContext(ctx, `
			UPDATE audit_stream_heads
			SET seq = $2, head_hash = $3, updated_at = $4
			WHERE stream_id = $1 AND seq = $5 AND head_hash = $6`,
			e.Stream.String(), e.Seq, e.SelfHash, e.TimestampUTC, e.Seq-1, e.PrevHash,
		)
	}
	if err != nil {
		return fmt.Errorf("advance stream head: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("stream head rows affected: %w", err)
	} else if n == 0 {
		return sentinel.ErrConflict
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO audit_events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		uuid.UUID(e.ID), e.Stream.String(), e.Seq, string(e.Type), string(e.ActorType),
		e.TimestampUTC, e.TimestampLocal, string(e.Region), string(e.Outcome),
		nullUUID(uuid.UUID(e.SubjectID)), e.ConsentType, e.ConsentVersion, nullUUID(uuid.UUID(e.ObjectID)),
		e.Detail, e.PrevHash, e.SelfHash,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return sentinel.ErrDuplicate
		}
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func nullUUID(u uuid.UUID) uuid.NullUUID {
	return uuid.NullUUID{UUID: u, Valid: u != uuid.Nil}
}

func (s *PostgresStore) Get(ctx context.Context, stream id.StreamID, seq int64) (*models.Event, error) {
	row := s.execer().QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM audit_events WHERE stream_id = $1 AND seq = $2`,
		stream.String(), seq)
	e, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get audit event: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) ListStream(ctx context.Context, stream id.StreamID, fromSeq, toSeq int64) ([]models.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM audit_events WHERE stream_id = $1 AND seq >= $2`
	args := []any{stream.String(), fromSeq}
	if toSeq > 0 {
		query += ` AND seq <= $3`
		args = append(args, toSeq)
	}
	query += ` ORDER BY seq ASC`
	return s.list(ctx, query, args...)
}

// Query always filters on region first so Postgres prunes to one partition.
func (s *PostgresStore) Query(ctx context.Context, q models.Query) ([]models.Event, error) {
	where := []string{"region = $1"}
	args := []any{string(q.Region)}
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if q.From != nil {
		add("timestamp_utc >= $%d", *q.From)
	}
	if q.To != nil {
		add("timestamp_utc < $%d", *q.To)
	}
	if q.Subject != nil {
		add("subject_id = $%d", uuid.UUID(*q.Subject))
	}
	if q.Stream != "" {
		add("stream_id = $%d", q.Stream.String())
	}
	if len(q.Types) > 0 {
		types := make([]string, len(q.Types))
		for i, t := range q.Types {
			types[i] = string(t)
		}
		add("event_type = ANY($%d)", pq.Array(types))
	}
	args = append(args, queryLimit(q.Limit))
	query := fmt.Sprintf(`SELECT %s FROM audit_events WHERE %s ORDER BY timestamp_utc ASC, stream_id ASC, seq ASC LIMIT $%d`,
		eventColumns, strings.Join(where, " AND "), len(args))
	return s.list(ctx, query, args...)
}

func (s *PostgresStore) PruneBefore(ctx context.Context, region id.Region, cutoff time.Time) (int64, error) {
	res, err := s.execer().ExecContext(ctx,
		`DELETE FROM audit_events WHERE region = $1 AND timestamp_utc < $2`, string(region), cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune audit events: %w", err)
	}
	return res.RowsAffected()
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]models.Event, error) {
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*models.Event, error) {
	var (
		e                            models.Event
		eventID                      uuid.UUID
		stream, eventType, actorType string
		region, outcome              string
		subjectID, objectID          uuid.NullUUID
	)
	err := row.Scan(&eventID, &stream, &e.Seq, &eventType, &actorType, &e.TimestampUTC, &e.TimestampLocal,
		&region, &outcome, &subjectID, &e.ConsentType, &e.ConsentVersion, &objectID, &e.Detail, &e.PrevHash, &e.SelfHash)
	if err != nil {
		return nil, err
	}
	e.ID = id.EventID(eventID)
	e.Stream = id.StreamID(stream)
	e.Type = models.EventType(eventType)
	e.ActorType = id.ActorType(actorType)
	e.Region = id.Region(region)
	e.Outcome = models.Outcome(outcome)
	e.TimestampUTC = e.TimestampUTC.UTC()
	if subjectID.Valid {
		e.SubjectID = id.SubjectID(subjectID.UUID)
	}
	if objectID.Valid {
		e.ObjectID = id.ObjectID(objectID.UUID)
	}
	return &e, nil
}
