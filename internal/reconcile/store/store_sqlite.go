package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"keepsake/internal/platform/database/sqlite"
	"keepsake/internal/reconcile/models"
	"keepsake/internal/sentinel"
	id "keepsake/pkg/domain"
)

// SQLiteSchema creates the device-local sync tables. A device keeps one
// cursor, its own stream's last acknowledged merge.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS sync_cursors (
	stream_id        TEXT PRIMARY KEY,
	subject_id       TEXT NOT NULL,
	state            TEXT NOT NULL,
	last_seq         INTEGER NOT NULL DEFAULT 0,
	last_hash        TEXT NOT NULL,
	rechain_required INTEGER NOT NULL DEFAULT 0,
	version          INTEGER NOT NULL,
	updated_at       TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS sync_reviews (
	id                 TEXT PRIMARY KEY,
	stream_id          TEXT NOT NULL,
	subject_id         TEXT NOT NULL,
	reason             TEXT NOT NULL,
	first_seq          INTEGER NOT NULL,
	last_seq           INTEGER NOT NULL,
	expected_prev_hash TEXT NOT NULL,
	received_prev_hash TEXT NOT NULL,
	status             TEXT NOT NULL,
	resolution         TEXT NOT NULL DEFAULT '',
	reviewer           TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMP NOT NULL,
	resolved_at        TIMESTAMP
);`

// SQLiteStore is the device replica's sync bookkeeping.
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

func (s *SQLiteStore) GetCursor(ctx context.Context, stream id.StreamID) (*models.Cursor, error) {
	c, err := scanCursor(s.execer().QueryRowContext(ctx,
		`SELECT `+cursorColumns+` FROM sync_cursors WHERE stream_id = ?`, stream.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get sync cursor: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) SaveCursor(ctx context.Context, c *models.Cursor) error {
	if c.Version == 0 {
		_, err := s.execer().ExecContext(ctx, `INSERT INTO sync_cursors (`+cursorColumns+`) VALUES (?, ?, ?, ?, ?, ?, 1, ?)`,
			c.Stream.String(), c.SubjectID.String(), string(c.State), c.LastSeq, c.LastHash, c.RechainRequired, c.UpdatedAt.UTC())
		if err != nil {
			if sqlite.IsConstraintViolation(err) {
				return sentinel.ErrConflict
			}
			return fmt.Errorf("insert sync cursor: %w", err)
		}
		c.Version = 1
		return nil
	}

	res, err := s.execer().ExecContext(ctx, `
		UPDATE sync_cursors
		SET state = ?, last_seq = ?, last_hash = ?, rechain_required = ?, version = version + 1, updated_at = ?
		WHERE stream_id = ? AND version = ?`,
		string(c.State), c.LastSeq, c.LastHash, c.RechainRequired, c.UpdatedAt.UTC(), c.Stream.String(), c.Version)
	if err != nil {
		return fmt.Errorf("update sync cursor: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrStale
	}
	c.Version++
	return nil
}

func (s *SQLiteStore) InsertReview(ctx context.Context, r *models.ReviewItem) error {
	_, err := s.execer().ExecContext(ctx, `INSERT INTO sync_reviews (`+reviewColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, reviewArgs(r)...)
	if err != nil {
		if sqlite.IsConstraintViolation(err) {
			return sentinel.ErrDuplicate
		}
		return fmt.Errorf("insert sync review: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetReview(ctx context.Context, reviewID id.ReviewID) (*models.ReviewItem, error) {
	r, err := scanReview(s.execer().QueryRowContext(ctx,
		`SELECT `+reviewColumns+` FROM sync_reviews WHERE id = ?`, reviewID.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get sync review: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) UpdateReview(ctx context.Context, r *models.ReviewItem) error {
	res, err := s.execer().ExecContext(ctx,
		`UPDATE sync_reviews SET status = ?, resolution = ?, reviewer = ?, resolved_at = ? WHERE id = ?`,
		string(r.Status), string(r.Resolution), string(r.Reviewer), r.ResolvedAt, r.ID.String())
	if err != nil {
		return fmt.Errorf("update sync review: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ListReviews(ctx context.Context, filter models.ReviewFilter) ([]*models.ReviewItem, error) {
	var (
		where []string
		args  []any
	)
	if filter.Stream != "" {
		where, args = append(where, "stream_id = ?"), append(args, filter.Stream.String())
	}
	if filter.Status != "" {
		where, args = append(where, "status = ?"), append(args, string(filter.Status))
	}
	query := `SELECT ` + reviewColumns + ` FROM sync_reviews`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, listLimit(filter.Limit))
	return listReviews(ctx, s.execer(), query+` ORDER BY created_at DESC LIMIT ?`, args...)
}
