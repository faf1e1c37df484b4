package access

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consentledger/internal/consent/lifecycle"
	"consentledger/internal/consent/models"
	id "consentledger/pkg/domain"
	dErrors "consentledger/pkg/domain-errors"
)

func newAddress() id.Address {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		panic(err)
	}
	addr, err := id.AddressFromPublicKey(pub)
	if err != nil {
		panic(err)
	}
	return addr
}

var (
	alice = newAddress()
	bob   = newAddress()
	carol = newAddress()
	start = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
)

func pending(t *testing.T) *models.Record {
	t.Helper()
	rec, err := models.NewRecord(id.NewConsentID(), "h1", "contract", alice, bob, start)
	require.NoError(t, err)
	return rec
}

func TestCanView_RuleOrder(t *testing.T) {
	past := start.Add(time.Minute)
	granted := &models.Record{Sender: alice, Recipient: bob, Status: models.StatusGranted, GrantedAt: &past,
		Permissions: models.Permissions{models.PermissionWrite, models.PermissionRead}}
	expiredRevoked := &models.Record{Sender: alice, Recipient: bob, Status: models.StatusRevoked, ExpiresAt: &past}
	expired := &models.Record{Sender: alice, Recipient: bob, Status: models.StatusGranted, GrantedAt: &past, ExpiresAt: &past}

	tests := []struct {
		name     string
		rec      *models.Record
		identity id.Address
		want     Reason
		allowed  bool
	}{
		{"nil record", nil, alice, ReasonNoRecord, false},
		{"outsider", granted, carol, ReasonNotParticipant, false},
		{"outsider on revoked record still not a participant", expiredRevoked, carol, ReasonNotParticipant, false},
		{"revoked wins over expired", expiredRevoked, bob, ReasonRevoked, false},
		{"expired despite granted status", expired, bob, ReasonExpired, false},
		{"pending", pending(t), bob, ReasonNotGranted, false},
		{"granted recipient", granted, bob, ReasonGranted, true},
		{"granted sender", granted, alice, ReasonGranted, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := CanView(tt.rec, tt.identity, start.Add(time.Hour))
			assert.Equal(t, tt.allowed, d.Allowed)
			assert.Equal(t, tt.want, d.Reason)
			if tt.allowed {
				assert.Equal(t, models.Permissions{models.PermissionRead, models.PermissionWrite}, d.Permissions)
				assert.NoError(t, d.Err())
			} else {
				assert.Empty(t, d.Permissions)
				assert.Error(t, d.Err())
			}
		})
	}
}

func TestCanModify(t *testing.T) {
	rec := pending(t)

	assert.True(t, CanModify(nil, alice, models.ActionRequest).Allowed)
	assert.Equal(t, ReasonNoRecord, CanModify(nil, alice, models.ActionGrant).Reason)
	assert.True(t, CanModify(rec, bob, models.ActionGrant).Allowed)
	assert.True(t, CanModify(rec, alice, models.ActionRevoke).Allowed)

	d := CanModify(rec, alice, models.ActionGrant)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonWrongParty, d.Reason)
	assert.True(t, dErrors.HasCode(d.Err(), dErrors.CodeForbidden))

	d = CanModify(rec, carol, models.ActionRevoke)
	assert.Equal(t, ReasonNotParticipant, d.Reason)

	d = CanModify(rec, alice, models.ActionRequest)
	assert.Equal(t, ReasonIllegal, d.Reason)
	assert.True(t, dErrors.HasCode(d.Err(), dErrors.CodeIllegalTransition))
}

// TestScenario_RequestGrantExpireRevoke walks one consent from request to
// revocation, checking the view decision at each step.
func TestScenario_RequestGrantExpireRevoke(t *testing.T) {
	rec := pending(t)
	assert.Equal(t, models.StatusPending, rec.Status)
	assert.Equal(t, ReasonNotGranted, CanView(rec, bob, start).Reason)

	grantAt := start.Add(time.Minute)
	expiry := grantAt.Add(time.Hour)
	rec, err := lifecycle.Apply(rec, lifecycle.Change{
		Action:      models.ActionGrant,
		Actor:       bob,
		At:          grantAt,
		Permissions: models.Permissions{models.PermissionRead},
		ExpiresAt:   &expiry,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusGranted, rec.Status)
	require.NotNil(t, rec.GrantedAt)
	assert.True(t, CanView(rec, bob, grantAt.Add(30*time.Minute)).Allowed)

	later := grantAt.Add(2 * time.Hour)
	d := CanView(rec, bob, later)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonExpired, d.Reason)
	assert.Equal(t, models.StatusGranted, rec.Status)

	rec, err = lifecycle.Apply(rec, lifecycle.Change{Action: models.ActionRevoke, Actor: alice, At: later})
	require.NoError(t, err)
	assert.Equal(t, models.StatusRevoked, rec.Status)
	for _, who := range []id.Address{alice, bob} {
		d := CanView(rec, who, later)
		assert.False(t, d.Allowed)
		assert.Equal(t, ReasonRevoked, d.Reason)
	}
}
