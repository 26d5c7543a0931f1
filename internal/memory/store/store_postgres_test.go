package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/suite"

	consentmodels "keepsake/internal/consent/models"
	"keepsake/internal/memory/models"
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
	s.now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
}

func (s *PostgresStoreSuite) TearDownTest() {
	s.NoError(s.mock.ExpectationsWereMet())
}

var objectRowColumns = []string{
	"id", "owner_id", "scope", "consent_type", "consent_version", "state", "topic", "content_ref",
	"lock_reason", "origin_stream", "region", "created_at", "locked_at", "purge_after", "purged_at", "updated_at",
}

func (s *PostgresStoreSuite) TestGetScansLockedObject() {
	objectID := uuid.New()
	owner := uuid.New()
	deadline := s.now.AddDate(0, 0, 7)
	s.mock.ExpectQuery(`FROM memory_objects\s+WHERE id = \$1`).
		WithArgs(objectID.String()).
		WillReturnRows(sqlmock.NewRows(objectRowColumns).AddRow(
			objectID.String(), owner.String(), "session", "caregiver_access", 4, "locked", "garden", "blobs/1",
			"revocation", "device:tablet-1", "uk", s.now, s.now, deadline, nil, s.now,
		))

	o, err := s.store.Get(context.Background(), id.ObjectID(objectID))
	s.Require().NoError(err)
	s.Equal(id.SubjectID(owner), o.OwnerID)
	s.Equal(models.ScopeSession, o.Scope)
	s.Equal(consentmodels.TypeCaregiverAccess, o.ConsentRef.Type)
	s.Equal(4, o.ConsentRef.Version)
	s.Equal(models.ReasonRevocation, o.LockReason)
	s.Equal(id.StreamID("device:tablet-1"), o.OriginStream)
	s.Equal(id.Region("uk"), o.Region)
	s.Require().NotNil(o.PurgeAfter)
	s.True(o.PurgeAfter.Equal(deadline))
	s.Nil(o.PurgedAt)
}

func (s *PostgresStoreSuite) TestGetNotFound() {
	s.mock.ExpectQuery(`FROM memory_objects`).WillReturnRows(sqlmock.NewRows(objectRowColumns))

	_, err := s.store.Get(context.Background(), id.NewObjectID())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestInsertDuplicate() {
	s.mock.ExpectExec(`INSERT INTO memory_objects`).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := s.store.Insert(context.Background(), &models.Object{ID: id.NewObjectID(), State: models.StateActive})
	s.ErrorIs(err, sentinel.ErrDuplicate)
}

func (s *PostgresStoreSuite) TestUpdateMissingRow() {
	s.mock.ExpectExec(`UPDATE memory_objects`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.store.Update(context.Background(), &models.Object{ID: id.NewObjectID(), State: models.StatePurged})
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestListByOwnerPassesStateArray() {
	owner := id.SubjectID(uuid.New())
	s.mock.ExpectQuery(`WHERE owner_id = \$1\s+AND \(cardinality\(\$2::text\[\]\) = 0 OR state = ANY\(\$2\)\)`).
		WithArgs(owner.String(), "{\"active\",\"locked\"}", "", defaultListLimit).
		WillReturnRows(sqlmock.NewRows(objectRowColumns))

	out, err := s.store.ListByOwner(context.Background(), owner, models.ListFilter{States: []models.State{models.StateActive, models.StateLocked}})
	s.Require().NoError(err)
	s.Empty(out)
}

func (s *PostgresStoreSuite) TestListDuePurgeCapsLimit() {
	s.mock.ExpectQuery(`WHERE state = 'locked' AND purge_after IS NOT NULL AND purge_after <= \$1`).
		WithArgs(s.now, maxListLimit).
		WillReturnRows(sqlmock.NewRows(objectRowColumns))

	_, err := s.store.ListDuePurge(context.Background(), s.now, 1_000_000)
	s.Require().NoError(err)
}
