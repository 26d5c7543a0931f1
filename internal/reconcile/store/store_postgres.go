package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"keepsake/internal/platform/database"
	"keepsake/internal/reconcile/models"
	"keepsake/internal/sentinel"
	id "keepsake/pkg/domain"
)

// PostgresStore persists sync_cursors and sync_reviews.
type PostgresStore struct {
	db *sql.DB
	tx *sql.Tx
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// NewPostgresTx binds the store to a transaction so the cursor advances with the merge.
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

const cursorColumns = `stream_id, subject_id, state, last_seq, last_hash, rechain_required, version, updated_at`

const reviewColumns = `id, stream_id, subject_id, reason, first_seq, last_seq, expected_prev_hash,
	received_prev_hash, status, resolution, reviewer, created_at, resolved_at`

func (s *PostgresStore) GetCursor(ctx context.Context, stream id.StreamID) (*models.Cursor, error) {
	c, err := scanCursor(s.execer().QueryRowContext(ctx,
		`SELECT `+cursorColumns+` FROM sync_cursors WHERE stream_id = $1`, stream.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get sync cursor: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) SaveCursor(ctx context.Context, c *models.Cursor) error {
	if c.Version == 0 {
		_, err := s.execer().ExecContext(ctx, `
			INSERT INTO sync_cursors (`+cursorColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, 1, $7)`,
			c.Stream.String(), c.SubjectID.String(), string(c.State), c.LastSeq, c.LastHash, c.RechainRequired, c.UpdatedAt)
		if err != nil {
			if database.IsUniqueViolation(err) {
				return sentinel.ErrConflict
			}
			return fmt.Errorf("insert sync cursor: %w", err)
		}
		c.Version = 1
		return nil
	}

	res, err := s.execer().ExecContext(ctx, `
		UPDATE sync_cursors
		SET state = $1, last_seq = $2, last_hash = $3, rechain_required = $4, version = version + 1, updated_at = $5
		WHERE stream_id = $6 AND version = $7`,
		string(c.State), c.LastSeq, c.LastHash, c.RechainRequired, c.UpdatedAt, c.Stream.String(), c.Version)
	if err != nil {
		return fmt.Errorf("update sync cursor: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrStale
	}
	c.Version++
	return nil
}

func (s *PostgresStore) InsertReview(ctx context.Context, r *models.ReviewItem) error {
	_, err := s.execer().ExecContext(ctx, `
		INSERT INTO sync_reviews (`+reviewColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		reviewArgs(r)...)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return sentinel.ErrDuplicate
		}
		return fmt.Errorf("insert sync review: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetReview(ctx context.Context, reviewID id.ReviewID) (*models.ReviewItem, error) {
	r, err := scanReview(s.execer().QueryRowContext(ctx,
		`SELECT `+reviewColumns+` FROM sync_reviews WHERE id = $1`, reviewID.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get sync review: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) UpdateReview(ctx context.Context, r *models.ReviewItem) error {
	res, err := s.execer().ExecContext(ctx, `
		UPDATE sync_reviews SET status = $1, resolution = $2, reviewer = $3, resolved_at = $4
		WHERE id = $5`,
		string(r.Status), string(r.Resolution), string(r.Reviewer), r.ResolvedAt, r.ID.String())
	if err != nil {
		return fmt.Errorf("update sync review: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListReviews(ctx context.Context, filter models.ReviewFilter) ([]*models.ReviewItem, error) {
	var (
		where []string
		args  []any
	)
	if filter.Stream != "" {
		args = append(args, filter.Stream.String())
		where = append(where, fmt.Sprintf("stream_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	query := `SELECT ` + reviewColumns + ` FROM sync_reviews`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, listLimit(filter.Limit))
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args))
	return listReviews(ctx, s.execer(), query, args...)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCursor(row rowScanner) (*models.Cursor, error) {
	var (
		c             models.Cursor
		stream, state string
		subject       uuid.UUID
	)
	if err := row.Scan(&stream, &subject, &state, &c.LastSeq, &c.LastHash, &c.RechainRequired, &c.Version, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Stream = id.StreamID(stream)
	c.SubjectID = id.SubjectID(subject)
	c.State = models.CursorState(state)
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

func scanReview(row rowScanner) (*models.ReviewItem, error) {
	var (
		r                                    models.ReviewItem
		reviewID, subject                    uuid.UUID
		stream, status, resolution, reviewer string
		resolvedAt                           sql.NullTime
	)
	err := row.Scan(&reviewID, &stream, &subject, &r.Reason, &r.FirstSeq, &r.LastSeq, &r.ExpectedPrevHash,
		&r.ReceivedPrevHash, &status, &resolution, &reviewer, &r.CreatedAt, &resolvedAt)
	if err != nil {
		return nil, err
	}
	r.ID = id.ReviewID(reviewID)
	r.Stream = id.StreamID(stream)
	r.SubjectID = id.SubjectID(subject)
	r.Status = models.ReviewStatus(status)
	r.Resolution = models.Resolution(resolution)
	r.Reviewer = id.ActorType(reviewer)
	r.CreatedAt = r.CreatedAt.UTC()
	if resolvedAt.Valid {
		t := resolvedAt.Time.UTC()
		r.ResolvedAt = &t
	}
	return &r, nil
}

func reviewArgs(r *models.ReviewItem) []any {
	return []any{
		r.ID.String(), r.Stream.String(), r.SubjectID.String(), r.Reason, r.FirstSeq, r.LastSeq,
		r.ExpectedPrevHash, r.ReceivedPrevHash, string(r.Status), string(r.Resolution), string(r.Reviewer),
		r.CreatedAt, r.ResolvedAt,
	}
}

func listReviews(ctx context.Context, ex dbExecutor, query string, args ...any) ([]*models.ReviewItem, error) {
	rows, err := ex.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sync reviews: %w", err)
	}
	defer rows.Close()

	out := make([]*models.ReviewItem, 0)
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync review: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
