package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"keepsake/internal/memory/models"
	"keepsake/internal/platform/database/sqlite"
	"keepsake/internal/sentinel"
	id "keepsake/pkg/domain"
)

// SQLiteSchema creates the device-local object table.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS memory_objects (
	id              TEXT PRIMARY KEY,
	owner_id        TEXT NOT NULL,
	scope           TEXT NOT NULL,
	consent_type    TEXT NOT NULL,
	consent_version INTEGER NOT NULL,
	state           TEXT NOT NULL,
	topic           TEXT NOT NULL DEFAULT '',
	content_ref     TEXT NOT NULL,
	lock_reason     TEXT NOT NULL DEFAULT '',
	origin_stream   TEXT NOT NULL DEFAULT '',
	region          TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMP NOT NULL,
	locked_at       TIMESTAMP,
	purge_after     TIMESTAMP,
	purged_at       TIMESTAMP,
	updated_at      TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS memory_objects_owner ON memory_objects (owner_id, created_at);`

// SQLiteStore is the device replica's object table.
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

func (s *SQLiteStore) Get(ctx context.Context, objectID id.ObjectID) (*models.Object, error) {
	o, err := scanObject(s.execer().QueryRowContext(ctx,
		`SELECT `+objectColumns+` FROM memory_objects WHERE id = ?`, uuid.UUID(objectID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find memory object: %w", err)
	}
	return o, nil
}

func (s *SQLiteStore) Insert(ctx context.Context, o *models.Object) error {
	_, err := s.execer().ExecContext(ctx,
		`INSERT INTO memory_objects (`+objectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.UUID(o.ID), uuid.UUID(o.OwnerID), string(o.Scope), string(o.ConsentRef.Type), o.ConsentRef.Version,
		string(o.State), o.Topic, o.ContentRef, string(o.LockReason), string(o.OriginStream), string(o.Region),
		o.CreatedAt.UTC(), utcPtr(o.LockedAt), utcPtr(o.PurgeAfter), utcPtr(o.PurgedAt), o.UpdatedAt.UTC())
	if err != nil {
		if sqlite.IsConstraintViolation(err) {
			return sentinel.ErrDuplicate
		}
		return fmt.Errorf("insert memory object: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, o *models.Object) error {
	res, err := s.execer().ExecContext(ctx,
		`UPDATE memory_objects
		SET consent_version = ?, state = ?, lock_reason = ?, locked_at = ?, purge_after = ?, purged_at = ?, updated_at = ?
		WHERE id = ?`,
		o.ConsentRef.Version, string(o.State), string(o.LockReason), utcPtr(o.LockedAt),
		utcPtr(o.PurgeAfter), utcPtr(o.PurgedAt), o.UpdatedAt.UTC(), uuid.UUID(o.ID))
	if err != nil {
		return fmt.Errorf("update memory object: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ListByOwner(ctx context.Context, owner id.SubjectID, filter models.ListFilter) ([]*models.Object, error) {
	query := `SELECT ` + objectColumns + ` FROM memory_objects WHERE owner_id = ?`
	args := []any{uuid.UUID(owner)}
	if len(filter.States) > 0 {
		query += ` AND state IN (?` + strings.Repeat(", ?", len(filter.States)-1) + `)`
		for _, st := range stateStrings(filter.States) {
			args = append(args, st)
		}
	}
	if filter.Topic != "" {
		query += ` AND topic = ?`
		args = append(args, filter.Topic)
	}
	query += ` ORDER BY created_at ASC LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	rows, err := s.execer().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list memory objects: %w", err)
	}
	return collect(rows)
}

func (s *SQLiteStore) ListDuePurge(ctx context.Context, now time.Time, limit int) ([]*models.Object, error) {
	rows, err := s.execer().QueryContext(ctx,
		`SELECT `+objectColumns+` FROM memory_objects
		WHERE state = 'locked' AND purge_after IS NOT NULL AND purge_after <= ?
		ORDER BY purge_after ASC LIMIT ?`,
		now.UTC(), listLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list purge-due memory objects: %w", err)
	}
	return collect(rows)
}

// ListCreatedAfter returns objects created on the device after since, for sync batches.
func (s *SQLiteStore) ListCreatedAfter(ctx context.Context, since time.Time) ([]*models.Object, error) {
	rows, err := s.execer().QueryContext(ctx,
		`SELECT `+objectColumns+` FROM memory_objects WHERE created_at > ? ORDER BY created_at ASC`,
		since.UTC())
	if err != nil {
		return nil, fmt.Errorf("list new memory objects: %w", err)
	}
	return collect(rows)
}

func utcPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
