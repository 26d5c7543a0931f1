package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"keepsake/internal/consent/models"
	"keepsake/internal/platform/database"
	"keepsake/internal/sentinel"
	id "keepsake/pkg/domain"
)

// PostgresStore persists consent records in consent_records.
type PostgresStore struct {
	db *sql.DB
	tx *sql.Tx
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// NewPostgresTx binds the store to a transaction so a new version commits with its audit event.
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

const recordColumns = `id, subject_id, consent_type, status, granted_at, expires_at, revoked_at,
	method, region, version, actor_type, created_at, superseded_at`

func (s *PostgresStore) Current(ctx context.Context, subject id.SubjectID, t models.Type) (*models.Record, error) {
	row := s.execer().QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM consent_records
		WHERE subject_id = $1 AND consent_type = $2
		ORDER BY version DESC
		LIMIT 1`,
		uuid.UUID(subject), string(t))
	r, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find current consent: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) History(ctx context.Context, subject id.SubjectID, t models.Type) ([]*models.Record, error) {
	rows, err := s.execer().QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM consent_records
		WHERE subject_id = $1 AND consent_type = $2
		ORDER BY version ASC`,
		uuid.UUID(subject), string(t))
	if err != nil {
		return nil, fmt.Errorf("list consent history: %w", err)
	}
	return collect(rows)
}

func (s *PostgresStore) Insert(ctx context.Context, r *models.Record) error {
	_, err := s.execer().ExecContext(ctx, `
		INSERT INTO consent_records (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		uuid.UUID(r.ID), uuid.UUID(r.SubjectID), string(r.Type), string(r.Status),
		r.GrantedAt, r.ExpiresAt, r.RevokedAt, string(r.Method), string(r.Region),
		r.Version, string(r.ActorType), r.CreatedAt, r.SupersededAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert consent record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Supersede(ctx context.Context, recordID id.RecordID, at time.Time) error {
	res, err := s.execer().ExecContext(ctx, `
		UPDATE consent_records SET superseded_at = $2
		WHERE id = $1 AND superseded_at IS NULL`,
		uuid.UUID(recordID), at)
	if err != nil {
		return fmt.Errorf("supersede consent record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("supersede rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrStale
	}
	return nil
}

func (s *PostgresStore) ListDue(ctx context.Context, q models.DueQuery) ([]*models.Record, error) {
	after := q.After.OrElseZero()
	rows, err := s.execer().QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM consent_records
		WHERE consent_type = $1 AND superseded_at IS NULL AND status = 'granted' AND expires_at <= $2
			AND (expires_at, id) > ($3, $4)
		ORDER BY expires_at ASC, id ASC
		LIMIT $5`,
		string(q.Type), q.Before, after.At, uuid.UUID(after.ID), listLimit(q.Limit))
	if err != nil {
		return nil, fmt.Errorf("list due consents: %w", err)
	}
	return collect(rows)
}

func (s *PostgresStore) ListInactive(ctx context.Context, q models.InactiveQuery) ([]*models.Record, error) {
	after := q.After.OrElseZero()
	rows, err := s.execer().QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM consent_records
		WHERE consent_type = $1 AND superseded_at IS NULL AND status IN ('expired', 'revoked')
			AND (created_at, id) > ($2, $3)
		ORDER BY created_at ASC, id ASC
		LIMIT $4`,
		string(q.Type), after.At, uuid.UUID(after.ID), listLimit(q.Limit))
	if err != nil {
		return nil, fmt.Errorf("list inactive consents: %w", err)
	}
	return collect(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord is shared with the SQLite store; both drivers scan TEXT or uuid
// columns into uuid.UUID and timestamps into time.Time.
func scanRecord(row rowScanner) (*models.Record, error) {
	var (
		r                     models.Record
		recordID, subjectID   uuid.UUID
		consentType, status   string
		method, region, actor string
		revokedAt, superseded sql.NullTime
	)
	if err := row.Scan(&recordID, &subjectID, &consentType, &status, &r.GrantedAt, &r.ExpiresAt, &revokedAt,
		&method, &region, &r.Version, &actor, &r.CreatedAt, &superseded); err != nil {
		return nil, err
	}
	r.ID = id.RecordID(recordID)
	r.SubjectID = id.SubjectID(subjectID)
	r.Type = models.Type(consentType)
	r.Status = models.Status(status)
	r.Method = models.Method(method)
	r.Region = id.Region(region)
	r.ActorType = id.ActorType(actor)
	r.GrantedAt = r.GrantedAt.UTC()
	r.ExpiresAt = r.ExpiresAt.UTC()
	r.CreatedAt = r.CreatedAt.UTC()
	if revokedAt.Valid {
		t := revokedAt.Time.UTC()
		r.RevokedAt = &t
	}
	if superseded.Valid {
		t := superseded.Time.UTC()
		r.SupersededAt = &t
	}
	return &r, nil
}

func collect(rows *sql.Rows) ([]*models.Record, error) {
	defer rows.Close()
	var out []*models.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan consent record: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate consent records: %w", err)
	}
	return out, nil
}
