package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/suite"

	"keepsake/internal/reconcile/models"
	"keepsake/internal/sentinel"
	id "keepsake/pkg/domain"
)

type PostgresStoreSuite struct {
	suite.Suite
	mock  sqlmock.Sqlmock
	store *PostgresStore
	now   time.Time
}

func TestPostgresStoreSuite(t *testing.T) {
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupTest() {
	db, mock, err := sqlmock.New()
	s.Require().NoError(err)
	s.T().Cleanup(func() { db.Close() })
	s.mock = mock
	s.store = NewPostgres(db)
	s.now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
}

func (s *PostgresStoreSuite) TearDownTest() {
	s.NoError(s.mock.ExpectationsWereMet())
}

var cursorRowColumns = []string{
	"stream_id", "subject_id", "state", "last_seq", "last_hash", "rechain_required", "version", "updated_at",
}

func (s *PostgresStoreSuite) TestGetCursor() {
	subject := uuid.New()
	s.mock.ExpectQuery(`FROM sync_cursors WHERE stream_id = \$1`).
		WithArgs("device:tablet-1").
		WillReturnRows(sqlmock.NewRows(cursorRowColumns).
			AddRow("device:tablet-1", subject.String(), "quarantined", 12, "ff", false, 7, s.now))

	c, err := s.store.GetCursor(context.Background(), id.DeviceStream("tablet-1"))
	s.Require().NoError(err)
	s.Equal(models.StateQuarantined, c.State)
	s.Equal(id.SubjectID(subject), c.SubjectID)
	s.Equal(int64(12), c.LastSeq)
	s.Equal(int64(7), c.Version)
}

func (s *PostgresStoreSuite) TestGetCursorNotFound() {
	s.mock.ExpectQuery(`FROM sync_cursors`).WillReturnRows(sqlmock.NewRows(cursorRowColumns))

	_, err := s.store.GetCursor(context.Background(), id.DeviceStream("tablet-1"))
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestSaveCursorInsertRace() {
	s.mock.ExpectExec(`INSERT INTO sync_cursors`).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	c := models.NewCursor(id.DeviceStream("tablet-1"), id.SubjectID(uuid.New()), "genesis", s.now)
	s.ErrorIs(s.store.SaveCursor(context.Background(), c), sentinel.ErrConflict)
	s.Zero(c.Version)
}

func (s *PostgresStoreSuite) TestSaveCursorChecksVersion() {
	c := &models.Cursor{Stream: id.DeviceStream("tablet-1"), State: models.StateSyncing, LastHash: "aa", Version: 3, UpdatedAt: s.now}

	s.mock.ExpectExec(`UPDATE sync_cursors`).
		WithArgs("syncing", int64(0), "aa", false, s.now, "device:tablet-1", int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	s.Require().NoError(s.store.SaveCursor(context.Background(), c))
	s.Equal(int64(4), c.Version)

	s.mock.ExpectExec(`UPDATE sync_cursors`).WillReturnResult(sqlmock.NewResult(0, 0))
	s.ErrorIs(s.store.SaveCursor(context.Background(), c), sentinel.ErrStale)
}

func (s *PostgresStoreSuite) TestListReviewsFilters() {
	s.mock.ExpectQuery(`FROM sync_reviews WHERE stream_id = \$1 AND status = \$2 ORDER BY created_at DESC LIMIT \$3`).
		WithArgs("device:tablet-1", "open", 100).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "stream_id", "subject_id", "reason", "first_seq", "last_seq", "expected_prev_hash",
			"received_prev_hash", "status", "resolution", "reviewer", "created_at", "resolved_at",
		}).AddRow(uuid.NewString(), "device:tablet-1", uuid.NewString(), "fork", 3, 5, "aa", "bb", "open", "", "", s.now, nil))

	out, err := s.store.ListReviews(context.Background(), models.ReviewFilter{
		Stream: id.DeviceStream("tablet-1"),
		Status: models.ReviewOpen,
	})
	s.Require().NoError(err)
	s.Require().Len(out, 1)
	s.Nil(out[0].ResolvedAt)
	s.Equal(int64(5), out[0].LastSeq)
}

func (s *PostgresStoreSuite) TestInsertReviewError() {
	s.mock.ExpectExec(`INSERT INTO sync_reviews`).WillReturnError(errors.New("connection reset"))

	err := s.store.InsertReview(context.Background(), &models.ReviewItem{ID: id.NewReviewID(), CreatedAt: s.now})
	s.Require().Error(err)
	s.NotErrorIs(err, sentinel.ErrDuplicate)
}
