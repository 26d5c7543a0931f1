package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"keepsake/internal/consent/models"
	"keepsake/internal/platform/database/sqlite"
	"keepsake/internal/sentinel"
	id "keepsake/pkg/domain"
)

// SQLiteSchema creates the device-local consent table.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS consent_records (
	id            TEXT PRIMARY KEY,
	subject_id    TEXT NOT NULL,
	consent_type  TEXT NOT NULL,
	status        TEXT NOT NULL,
	granted_at    TIMESTAMP NOT NULL,
	expires_at    TIMESTAMP NOT NULL,
	revoked_at    TIMESTAMP,
	method        TEXT NOT NULL,
	region        TEXT NOT NULL,
	version       INTEGER NOT NULL,
	actor_type    TEXT NOT NULL,
	created_at    TIMESTAMP NOT NULL,
	superseded_at TIMESTAMP,
	UNIQUE (subject_id, consent_type, version)
);`

// SQLiteStore is the device replica's consent history.
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

func (s *SQLiteStore) Current(ctx context.Context, subject id.SubjectID, t models.Type) (*models.Record, error) {
	r, err := scanRecord(s.execer().QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM consent_records
		WHERE subject_id = ? AND consent_type = ? ORDER BY version DESC LIMIT 1`,
		uuid.UUID(subject), string(t)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find current consent: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) History(ctx context.Context, subject id.SubjectID, t models.Type) ([]*models.Record, error) {
	rows, err := s.execer().QueryContext(ctx,
		`SELECT `+recordColumns+` FROM consent_records
		WHERE subject_id = ? AND consent_type = ? ORDER BY version ASC`,
		uuid.UUID(subject), string(t))
	if err != nil {
		return nil, fmt.Errorf("list consent history: %w", err)
	}
	return collect(rows)
}

func (s *SQLiteStore) Insert(ctx context.Context, r *models.Record) error {
	_, err := s.execer().ExecContext(ctx,
		`INSERT INTO consent_records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.UUID(r.ID), uuid.UUID(r.SubjectID), string(r.Type), string(r.Status),
		r.GrantedAt.UTC(), r.ExpiresAt.UTC(), utcPtr(r.RevokedAt), string(r.Method), string(r.Region),
		r.Version, string(r.ActorType), r.CreatedAt.UTC(), utcPtr(r.SupersededAt))
	if err != nil {
		if sqlite.IsConstraintViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert consent record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Supersede(ctx context.Context, recordID id.RecordID, at time.Time) error {
	res, err := s.execer().ExecContext(ctx,
		`UPDATE consent_records SET superseded_at = ? WHERE id = ? AND superseded_at IS NULL`,
		at.UTC(), uuid.UUID(recordID))
	if err != nil {
		return fmt.Errorf("supersede consent record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrStale
	}
	return nil
}

func (s *SQLiteStore) ListDue(ctx context.Context, q models.DueQuery) ([]*models.Record, error) {
	after := q.After.OrElseZero()
	rows, err := s.execer().QueryContext(ctx,
		`SELECT `+recordColumns+` FROM consent_records
		WHERE consent_type = ? AND superseded_at IS NULL AND status = 'granted' AND expires_at <= ?
			AND (expires_at, id) > (?, ?)
		ORDER BY expires_at ASC, id ASC LIMIT ?`,
		string(q.Type), q.Before.UTC(), after.At.UTC(), uuid.UUID(after.ID), listLimit(q.Limit))
	if err != nil {
		return nil, fmt.Errorf("list due consents: %w", err)
	}
	return collect(rows)
}

func (s *SQLiteStore) ListInactive(ctx context.Context, q models.InactiveQuery) ([]*models.Record, error) {
	after := q.After.OrElseZero()
	rows, err := s.execer().QueryContext(ctx,
		`SELECT `+recordColumns+` FROM consent_records
		WHERE consent_type = ? AND superseded_at IS NULL AND status IN ('expired', 'revoked')
			AND (created_at, id) > (?, ?)
		ORDER BY created_at ASC, id ASC LIMIT ?`,
		string(q.Type), after.At.UTC(), uuid.UUID(after.ID), listLimit(q.Limit))
	if err != nil {
		return nil, fmt.Errorf("list inactive consents: %w", err)
	}
	return collect(rows)
}

func utcPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
