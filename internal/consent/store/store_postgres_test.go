package store

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/suite"

	"consentledger/internal/consent/models"
	"consentledger/internal/sentinel"
	dErrors "consentledger/pkg/domain-errors"
	"consentledger/pkg/testutil"
)

type PostgresUnitSuite struct {
	suite.Suite
	db    *sql.DB
	mock  sqlmock.Sqlmock
	store *PostgresStore
	ctx   context.Context
}

func TestPostgresUnitSuite(t *testing.T) {
	suite.Run(t, new(PostgresUnitSuite))
}

func (s *PostgresUnitSuite) SetupTest() {
	var err error
	s.db, s.mock, err = sqlmock.New()
	s.Require().NoError(err)
	s.store = NewPostgres(s.db)
	s.ctx = context.Background()
}

func (s *PostgresUnitSuite) TearDownTest() {
	s.NoError(s.mock.ExpectationsWereMet())
	s.db.Close()
}

var consentRowColumns = []string{"id", "document_hash", "document_type", "sender", "recipient", "status",
	"created_at", "granted_at", "revoked_at", "expires_at", "permissions", "evidence"}

func rowFor(rec *models.Record) *sqlmock.Rows {
	var granted, revoked, expires any
	if rec.GrantedAt != nil {
		granted = *rec.GrantedAt
	}
	if rec.RevokedAt != nil {
		revoked = *rec.RevokedAt
	}
	if rec.ExpiresAt != nil {
		expires = *rec.ExpiresAt
	}
	perms := `[]`
	if len(rec.Permissions) > 0 {
		perms = `["READ"]`
	}
	return sqlmock.NewRows(consentRowColumns).AddRow(
		uuid.UUID(rec.ID).String(), rec.DocumentHash, rec.DocumentType, rec.Sender.String(), rec.Recipient.String(),
		string(rec.Status), rec.CreatedAt, granted, revoked, expires, []byte(perms),
		[]byte(`{"Request":{"TxID":"REQTX","Round":10,"Optimistic":false}}`),
	)
}

func (s *PostgresUnitSuite) TestSaveConflictOnDuplicate() {
	rec := testutil.NewRecordBuilder().Build()
	s.mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO consents")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	s.ErrorIs(s.store.Save(s.ctx, rec), sentinel.ErrConflict)
}

func (s *PostgresUnitSuite) TestSaveMapsUniqueViolationToConflict() {
	rec := testutil.NewRecordBuilder().Build()
	s.mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO consents")).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"})

	s.ErrorIs(s.store.Save(s.ctx, rec), sentinel.ErrConflict)
}

func (s *PostgresUnitSuite) TestSaveInsertsRow() {
	rec := testutil.NewRecordBuilder().Build()
	s.mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO consents")).
		WithArgs(uuid.UUID(rec.ID), rec.DocumentHash, rec.DocumentType, rec.Sender.String(), rec.Recipient.String(),
			"PENDING", rec.CreatedAt, nil, nil, nil, []byte(`[]`), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(uuid.UUID(rec.ID).String()))

	s.NoError(s.store.Save(s.ctx, rec))
}

func (s *PostgresUnitSuite) TestFindByIDNotFound() {
	s.mock.ExpectQuery(regexp.QuoteMeta("FROM consents WHERE id = $1")).
		WillReturnRows(sqlmock.NewRows(consentRowColumns))

	_, err := s.store.FindByID(s.ctx, testutil.TestIDs.ConsentID1)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresUnitSuite) TestFindByIDDecodesRow() {
	rec := testutil.NewRecordBuilder().WithID(testutil.TestIDs.ConsentID1).Build()
	s.mock.ExpectQuery(regexp.QuoteMeta("FROM consents WHERE id = $1")).
		WithArgs(uuid.UUID(rec.ID)).
		WillReturnRows(rowFor(rec))

	got, err := s.store.FindByID(s.ctx, rec.ID)
	s.Require().NoError(err)
	s.Equal(rec.Sender, got.Sender)
	s.Equal(models.StatusPending, got.Status)
	s.Equal("REQTX", got.Evidence.Request.TxID)
	s.Nil(got.Permissions)
}

func (s *PostgresUnitSuite) TestExecuteCommitsWithStatusGuard() {
	rec := testutil.NewRecordBuilder().WithID(testutil.TestIDs.ConsentID1).Build()
	at := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	s.mock.ExpectBegin()
	s.mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).WithArgs(uuid.UUID(rec.ID)).WillReturnRows(rowFor(rec))
	s.mock.ExpectExec(regexp.QuoteMeta("UPDATE consents")).
		WithArgs(uuid.UUID(rec.ID), "GRANTED", at, nil, nil, []byte(`["READ"]`), sqlmock.AnyArg(), "PENDING").
		WillReturnResult(sqlmock.NewResult(0, 1))
	s.mock.ExpectCommit()

	got, err := s.store.Execute(s.ctx, rec.ID,
		func(cur *models.Record) error { return nil },
		func(cur *models.Record) {
			cur.Status = models.StatusGranted
			cur.GrantedAt = &at
			cur.Permissions = models.Permissions{models.PermissionRead}
		})
	s.Require().NoError(err)
	s.Equal(models.StatusGranted, got.Status)
}

func (s *PostgresUnitSuite) TestExecuteStaleStateRollsBack() {
	rec := testutil.NewRecordBuilder().WithID(testutil.TestIDs.ConsentID1).Build()
	s.mock.ExpectBegin()
	s.mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).WillReturnRows(rowFor(rec))
	s.mock.ExpectExec(regexp.QuoteMeta("UPDATE consents")).WillReturnResult(sqlmock.NewResult(0, 0))
	s.mock.ExpectRollback()

	_, err := s.store.Execute(s.ctx, rec.ID,
		func(*models.Record) error { return nil },
		func(cur *models.Record) { cur.Status = models.StatusRevoked; cur.RevokedAt = testutil.Ptr(time.Now()) })
	s.ErrorIs(err, sentinel.ErrStaleState)
}

func (s *PostgresUnitSuite) TestExecuteValidationFailureRollsBack() {
	rec := testutil.NewRecordBuilder().WithID(testutil.TestIDs.ConsentID1).Build()
	s.mock.ExpectBegin()
	s.mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).WillReturnRows(rowFor(rec))
	s.mock.ExpectRollback()

	_, err := s.store.Execute(s.ctx, rec.ID,
		func(*models.Record) error { return dErrors.New(dErrors.CodeIllegalTransition, "no") },
		func(*models.Record) {})
	s.True(dErrors.HasCode(err, dErrors.CodeIllegalTransition))
}

func (s *PostgresUnitSuite) TestListAppliesRoleAndDocumentType() {
	rec := testutil.NewRecordBuilder().Build()
	s.mock.ExpectQuery(regexp.QuoteMeta("WHERE recipient = $1 AND lower(document_type) = lower($2)")).
		WithArgs(rec.Recipient.String(), "medical-record").
		WillReturnRows(rowFor(rec))

	got, err := s.store.List(s.ctx, models.RecordFilter{
		Participant:  rec.Recipient,
		Role:         models.RoleRecipient,
		DocumentType: "medical-record",
	}, time.Now())
	s.Require().NoError(err)
	s.Len(got, 1)
}
