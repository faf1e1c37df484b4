//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"consentledger/internal/consent/models"
	"consentledger/internal/consent/store"
	dErrors "consentledger/pkg/domain-errors"
	"consentledger/pkg/testutil"
	"consentledger/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateAll(context.Background()))
}

func (s *PostgresStoreSuite) TestRoundTripAndList() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	expiry := now.Add(time.Hour)
	rec := testutil.NewRecordBuilder().CreatedAt(now.Add(-time.Hour)).
		Granted(now, &expiry, models.PermissionRead, models.PermissionExport).Build()
	s.Require().NoError(s.store.Save(ctx, rec))

	got, err := s.store.FindByID(ctx, rec.ID)
	s.Require().NoError(err)
	s.Equal(rec.Permissions, got.Permissions)
	s.True(rec.ExpiresAt.Equal(*got.ExpiresAt))

	list, err := s.store.List(ctx, models.RecordFilter{Participant: rec.Recipient, Status: testutil.Ptr(models.StatusGranted)}, now)
	s.Require().NoError(err)
	s.Len(list, 1)
}

// Concurrent GRANTs on one PENDING record: the row lock admits exactly one.
func (s *PostgresStoreSuite) TestConcurrentGrantOneWinner() {
	ctx := context.Background()
	rec := testutil.NewRecordBuilder().Build()
	s.Require().NoError(s.store.Save(ctx, rec))
	at := time.Now().UTC()

	res := testutil.RunConcurrent(20, func(int) error {
		_, err := s.store.Execute(ctx, rec.ID,
			func(cur *models.Record) error {
				if cur.Status != models.StatusPending {
					return dErrors.New(dErrors.CodeIllegalTransition, "already granted")
				}
				return nil
			},
			func(cur *models.Record) {
				cur.Status = models.StatusGranted
				cur.GrantedAt = &at
			})
		return err
	})
	s.Equal(int32(1), res.Successes)
	s.Equal(int32(19), res.Conflicts)
}
