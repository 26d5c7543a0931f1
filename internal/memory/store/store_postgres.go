package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	consentmodels "keepsake/internal/consent/models"
	"keepsake/internal/memory/models"
	"keepsake/internal/platform/database"
	"keepsake/internal/sentinel"
	id "keepsake/pkg/domain"
)

// PostgresStore persists objects in memory_objects.
type PostgresStore struct {
	db *sql.DB
	tx *sql.Tx
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// NewPostgresTx binds the store to a transaction so a transition commits with its audit event.
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

const objectColumns = `id, owner_id, scope, consent_type, consent_version, state, topic, content_ref,
	lock_reason, origin_stream, region, created_at, locked_at, purge_after, purged_at, updated_at`

func (s *PostgresStore) Get(ctx context.Context, objectID id.ObjectID) (*models.Object, error) {
	o, err := scanObject(s.execer().QueryRowContext(ctx, `
		SELECT `+objectColumns+`
		FROM memory_objects
		WHERE id = $1`,
		uuid.UUID(objectID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find memory object: %w", err)
	}
	return o, nil
}

func (s *PostgresStore) Insert(ctx context.Context, o *models.Object) error {
	_, err := s.execer().ExecContext(ctx, `
		INSERT INTO memory_objects (`+objectColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		uuid.UUID(o.ID), uuid.UUID(o.OwnerID), string(o.Scope), string(o.ConsentRef.Type), o.ConsentRef.Version,
		string(o.State), o.Topic, o.ContentRef, string(o.LockReason), string(o.OriginStream), string(o.Region),
		o.CreatedAt, o.LockedAt, o.PurgeAfter, o.PurgedAt, o.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return sentinel.ErrDuplicate
		}
		return fmt.Errorf("insert memory object: %w", err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, o *models.Object) error {
	res, err := s.execer().ExecContext(ctx, `
		UPDATE memory_objects
		SET consent_version = $2, state = $3, lock_reason = $4, locked_at = $5,
			purge_after = $6, purged_at = $7, updated_at = $8
		WHERE id = $1`,
		uuid.UUID(o.ID), o.ConsentRef.Version, string(o.State), string(o.LockReason),
		o.LockedAt, o.PurgeAfter, o.PurgedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update memory object: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// ListByOwner filters states with = ANY($2); an empty array means every state.
func (s *PostgresStore) ListByOwner(ctx context.Context, owner id.SubjectID, filter models.ListFilter) ([]*models.Object, error) {
	rows, err := s.execer().QueryContext(ctx, `
		SELECT `+objectColumns+`
		FROM memory_objects
		WHERE owner_id = $1
			AND (cardinality($2::text[]) = 0 OR state = ANY($2))
			AND ($3::text = '' OR topic = $3)
		ORDER BY created_at ASC
		LIMIT $4`,
		uuid.UUID(owner), pq.Array(stateStrings(filter.States)), filter.Topic, listLimit(filter.Limit))
	if err != nil {
		return nil, fmt.Errorf("list memory objects: %w", err)
	}
	return collect(rows)
}

func (s *PostgresStore) ListDuePurge(ctx context.Context, now time.Time, limit int) ([]*models.Object, error) {
	rows, err := s.execer().QueryContext(ctx, `
		SELECT `+objectColumns+`
		FROM memory_objects
		WHERE state = 'locked' AND purge_after IS NOT NULL AND purge_after <= $1
		ORDER BY purge_after ASC
		LIMIT $2`,
		now, listLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list purge-due memory objects: %w", err)
	}
	return collect(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanObject is shared with the SQLite store.
func scanObject(row rowScanner) (*models.Object, error) {
	var (
		o                                models.Object
		objectID, ownerID                uuid.UUID
		scope, consentType, state        string
		lockReason, originStream, region string
		lockedAt, purgeAfter, purgedAt   sql.NullTime
	)
	if err := row.Scan(&objectID, &ownerID, &scope, &consentType, &o.ConsentRef.Version, &state, &o.Topic,
		&o.ContentRef, &lockReason, &originStream, &region, &o.CreatedAt, &lockedAt, &purgeAfter, &purgedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.ID = id.ObjectID(objectID)
	o.OwnerID = id.SubjectID(ownerID)
	o.Scope = models.Scope(scope)
	o.ConsentRef.Type = consentmodels.Type(consentType)
	o.State = models.State(state)
	o.LockReason = models.LockReason(lockReason)
	o.OriginStream = id.StreamID(originStream)
	o.Region = id.Region(region)
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	o.LockedAt = nullTime(lockedAt)
	o.PurgeAfter = nullTime(purgeAfter)
	o.PurgedAt = nullTime(purgedAt)
	return &o, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func collect(rows *sql.Rows) ([]*models.Object, error) {
	defer rows.Close()
	var out []*models.Object
	for rows.Next() {
		o, err := scanObject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory object: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memory objects: %w", err)
	}
	return out, nil
}
