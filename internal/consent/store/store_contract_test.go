package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"consentledger/internal/consent/models"
	"consentledger/internal/sentinel"
	id "consentledger/pkg/domain"
	dErrors "consentledger/pkg/domain-errors"
	"consentledger/pkg/testutil"
)

// contractStore is the surface every implementation offers.
type contractStore interface {
	Save(ctx context.Context, rec *models.Record) error
	FindByID(ctx context.Context, consentID id.ConsentID) (*models.Record, error)
	List(ctx context.Context, filter models.RecordFilter, now time.Time) ([]*models.Record, error)
	Execute(ctx context.Context, consentID id.ConsentID, validate func(*models.Record) error, mutate func(*models.Record)) (*models.Record, error)
}

type StoreContractSuite struct {
	suite.Suite
	newStore func(t *testing.T) contractStore
	store    contractStore
	ctx      context.Context
	now      time.Time
}

func TestInMemoryStoreContract(t *testing.T) {
	suite.Run(t, &StoreContractSuite{newStore: func(*testing.T) contractStore { return New() }})
}

func TestSQLiteStoreContract(t *testing.T) {
	suite.Run(t, &StoreContractSuite{newStore: func(t *testing.T) contractStore {
		key := make([]byte, 32)
		for i := range key {
			key[i] = byte(i)
		}
		s, err := NewSQLite(context.Background(), filepath.Join(t.TempDir(), "consents.db"), key)
		if err != nil {
			t.Fatalf("open sqlite store: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	}})
}

func (s *StoreContractSuite) SetupTest() {
	s.store = s.newStore(s.T())
	s.ctx = context.Background()
	s.now = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
}

func (s *StoreContractSuite) assertSameRecord(want, got *models.Record) {
	s.Equal(want.ID, got.ID)
	s.Equal(want.DocumentHash, got.DocumentHash)
	s.Equal(want.DocumentType, got.DocumentType)
	s.Equal(want.Sender, got.Sender)
	s.Equal(want.Recipient, got.Recipient)
	s.Equal(want.Status, got.Status)
	s.True(want.CreatedAt.Equal(got.CreatedAt))
	s.Equal(want.Permissions, got.Permissions)
	s.Equal(want.Evidence, got.Evidence)
	for _, pair := range [][2]*time.Time{{want.GrantedAt, got.GrantedAt}, {want.RevokedAt, got.RevokedAt}, {want.ExpiresAt, got.ExpiresAt}} {
		if pair[0] == nil {
			s.Nil(pair[1])
			continue
		}
		s.Require().NotNil(pair[1])
		s.True(pair[0].Equal(*pair[1]))
	}
}

func (s *StoreContractSuite) TestSaveAndFind() {
	expiry := s.now.Add(48 * time.Hour)
	rec := testutil.NewRecordBuilder().Granted(s.now, &expiry, models.PermissionRead, models.PermissionShare).Build()
	s.Require().NoError(s.store.Save(s.ctx, rec))

	got, err := s.store.FindByID(s.ctx, rec.ID)
	s.Require().NoError(err)
	s.assertSameRecord(rec, got)

	got.DocumentType = "mutated"
	again, err := s.store.FindByID(s.ctx, rec.ID)
	s.Require().NoError(err)
	s.Equal(rec.DocumentType, again.DocumentType)
}

func (s *StoreContractSuite) TestSaveDuplicateConflicts() {
	rec := testutil.NewRecordBuilder().Build()
	s.Require().NoError(s.store.Save(s.ctx, rec))
	s.ErrorIs(s.store.Save(s.ctx, rec), sentinel.ErrConflict)
}

func (s *StoreContractSuite) TestFindMissing() {
	_, err := s.store.FindByID(s.ctx, id.NewConsentID())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *StoreContractSuite) TestListFilters() {
	alice, bob, carol := testutil.TestIDs.Alice, testutil.TestIDs.Bob, testutil.TestIDs.Carol
	past := s.now.Add(-time.Hour)
	future := s.now.Add(time.Hour)

	pending := testutil.NewRecordBuilder().CreatedAt(s.now.Add(-5 * time.Hour)).Build()
	active := testutil.NewRecordBuilder().CreatedAt(s.now.Add(-4 * time.Hour)).
		Granted(s.now.Add(-3*time.Hour), &future, models.PermissionRead).Build()
	expired := testutil.NewRecordBuilder().CreatedAt(s.now.Add(-4 * time.Hour)).WithDocumentType("tax-return").
		Granted(s.now.Add(-3*time.Hour), &past).Build()
	incoming := testutil.NewRecordBuilder().Between(carol, alice).CreatedAt(s.now.Add(-2 * time.Hour)).Build()
	unrelated := testutil.NewRecordBuilder().Between(bob, carol).Build()
	for _, r := range []*models.Record{pending, active, expired, incoming, unrelated} {
		s.Require().NoError(s.store.Save(s.ctx, r))
	}

	all, err := s.store.List(s.ctx, models.RecordFilter{Participant: alice}, s.now)
	s.Require().NoError(err)
	s.Len(all, 4)
	s.Equal(incoming.ID, all[0].ID)

	sent, err := s.store.List(s.ctx, models.RecordFilter{Participant: alice, Role: models.RoleSender}, s.now)
	s.Require().NoError(err)
	s.Len(sent, 3)

	received, err := s.store.List(s.ctx, models.RecordFilter{Participant: alice, Role: models.RoleRecipient}, s.now)
	s.Require().NoError(err)
	s.Require().Len(received, 1)
	s.Equal(incoming.ID, received[0].ID)

	expiredOnly, err := s.store.List(s.ctx, models.RecordFilter{Participant: alice, Status: testutil.Ptr(models.StatusExpired)}, s.now)
	s.Require().NoError(err)
	s.Require().Len(expiredOnly, 1)
	s.Equal(expired.ID, expiredOnly[0].ID)

	grantedOnly, err := s.store.List(s.ctx, models.RecordFilter{Participant: alice, Status: testutil.Ptr(models.StatusGranted)}, s.now)
	s.Require().NoError(err)
	s.Require().Len(grantedOnly, 1)
	s.Equal(active.ID, grantedOnly[0].ID)

	byType, err := s.store.List(s.ctx, models.RecordFilter{Participant: alice, DocumentType: "TAX-RETURN"}, s.now)
	s.Require().NoError(err)
	s.Len(byType, 1)
}

func (s *StoreContractSuite) TestExecuteAppliesMutation() {
	rec := testutil.NewRecordBuilder().Build()
	s.Require().NoError(s.store.Save(s.ctx, rec))

	grantedAt := s.now
	updated, err := s.store.Execute(s.ctx, rec.ID,
		func(cur *models.Record) error { return nil },
		func(cur *models.Record) {
			cur.Status = models.StatusGranted
			cur.GrantedAt = &grantedAt
			cur.Permissions = models.Permissions{models.PermissionRead}
			cur.Evidence.Grant = models.TxRef{TxID: "G", Round: 7, Optimistic: true}
		})
	s.Require().NoError(err)
	s.Equal(models.StatusGranted, updated.Status)

	got, err := s.store.FindByID(s.ctx, rec.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusGranted, got.Status)
	s.True(got.Evidence.Grant.Optimistic)
	s.Equal(models.Permissions{models.PermissionRead}, got.Permissions)
}

func (s *StoreContractSuite) TestExecuteValidationFailureLeavesRecord() {
	rec := testutil.NewRecordBuilder().Build()
	s.Require().NoError(s.store.Save(s.ctx, rec))

	denied := dErrors.New(dErrors.CodeIllegalTransition, "moved on")
	_, err := s.store.Execute(s.ctx, rec.ID,
		func(*models.Record) error { return denied },
		func(cur *models.Record) { cur.Status = models.StatusRevoked })
	s.ErrorIs(err, denied)

	got, err := s.store.FindByID(s.ctx, rec.ID)
	s.Require().NoError(err)
	s.assertSameRecord(rec, got)
}

func (s *StoreContractSuite) TestExecuteMissing() {
	_, err := s.store.Execute(s.ctx, id.NewConsentID(),
		func(*models.Record) error { return nil }, func(*models.Record) {})
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *StoreContractSuite) TestConcurrentExecuteOneWinner() {
	rec := testutil.NewRecordBuilder().Build()
	s.Require().NoError(s.store.Save(s.ctx, rec))
	at := s.now

	res := testutil.RunConcurrent(10, func(int) error {
		_, err := s.store.Execute(s.ctx, rec.ID,
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
	s.Equal(int32(9), res.Conflicts)
}
