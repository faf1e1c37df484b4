package lifecycle

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consentledger/internal/consent/models"
	id "consentledger/pkg/domain"
	dErrors "consentledger/pkg/domain-errors"
)

var (
	t0       = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sender   = mustAddress()
	receiver = mustAddress()
	outsider = mustAddress()
)

func mustAddress() id.Address {
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

func recordIn(t *testing.T, status models.Status) *models.Record {
	t.Helper()
	rec, err := models.NewRecord(id.NewConsentID(), "h1", "medical", sender, receiver, t0)
	require.NoError(t, err)
	switch status {
	case models.StatusGranted:
		rec, err = Apply(rec, Change{Action: models.ActionGrant, Actor: receiver, At: t0.Add(time.Minute),
			Permissions: models.Permissions{models.PermissionRead}, Tx: models.TxRef{TxID: "grant-tx"}})
		require.NoError(t, err)
	case models.StatusRevoked:
		rec, err = Apply(rec, Change{Action: models.ActionRevoke, Actor: sender, At: t0.Add(time.Minute)})
		require.NoError(t, err)
	}
	return rec
}

func actorFor(p Party) id.Address {
	switch p {
	case PartySender:
		return sender
	case PartyRecipient:
		return receiver
	default:
		return outsider
	}
}

// TestApply_TransitionTable exercises every (state, action, party) combination
// and checks rejected changes leave the record untouched.
func TestApply_TransitionTable(t *testing.T) {
	type want struct {
		to   models.Status
		code dErrors.Code
	}
	cases := map[models.Status]map[models.Action]map[Party]want{
		models.StatusPending: {
			models.ActionGrant: {
				PartyRecipient: {to: models.StatusGranted},
				PartySender:    {code: dErrors.CodeAuthorizationDenied},
				PartyNone:      {code: dErrors.CodeAuthorizationDenied},
			},
			models.ActionRevoke: {
				PartySender:    {to: models.StatusRevoked},
				PartyRecipient: {code: dErrors.CodeAuthorizationDenied},
				PartyNone:      {code: dErrors.CodeAuthorizationDenied},
			},
			models.ActionRequest: {
				PartySender: {code: dErrors.CodeIllegalTransition},
			},
		},
		models.StatusGranted: {
			models.ActionGrant: {
				PartyRecipient: {code: dErrors.CodeIllegalTransition},
				PartySender:    {code: dErrors.CodeIllegalTransition},
			},
			models.ActionRevoke: {
				PartySender:    {to: models.StatusRevoked},
				PartyRecipient: {to: models.StatusRevoked},
				PartyNone:      {code: dErrors.CodeAuthorizationDenied},
			},
			models.ActionRequest: {
				PartySender: {code: dErrors.CodeIllegalTransition},
			},
		},
		models.StatusRevoked: {
			models.ActionGrant: {
				PartyRecipient: {code: dErrors.CodeIllegalTransition},
			},
			models.ActionRevoke: {
				PartySender:    {code: dErrors.CodeIllegalTransition},
				PartyRecipient: {code: dErrors.CodeIllegalTransition},
			},
			models.ActionRequest: {
				PartySender: {code: dErrors.CodeIllegalTransition},
			},
		},
	}

	for from, byAction := range cases {
		for action, byParty := range byAction {
			for party, w := range byParty {
				t.Run(fmt.Sprintf("%s %s by %s", from, action, party), func(t *testing.T) {
					rec := recordIn(t, from)
					before := rec.Clone()

					next, err := Apply(rec, Change{
						Action:      action,
						Actor:       actorFor(party),
						At:          t0.Add(time.Hour),
						Permissions: models.Permissions{models.PermissionRead},
					})

					assert.Equal(t, before, rec, "input record must never be mutated")
					if w.code != "" {
						require.Error(t, err)
						assert.True(t, dErrors.HasCode(err, w.code), "got %v", err)
						assert.Nil(t, next)
						return
					}
					require.NoError(t, err)
					assert.Equal(t, w.to, next.Status)
				})
			}
		}
	}
}

func TestApply_GrantSetsTimestampOnce(t *testing.T) {
	rec := recordIn(t, models.StatusPending)
	expiry := t0.Add(time.Hour)
	grantAt := t0.Add(time.Minute)

	granted, err := Apply(rec, Change{
		Action:      models.ActionGrant,
		Actor:       receiver,
		At:          grantAt,
		Permissions: models.Permissions{models.PermissionWrite, models.PermissionRead, models.PermissionRead},
		ExpiresAt:   &expiry,
		Tx:          models.TxRef{TxID: "tx-grant", Round: 7},
	})
	require.NoError(t, err)
	require.NotNil(t, granted.GrantedAt)
	assert.Equal(t, grantAt, *granted.GrantedAt)
	assert.Equal(t, models.Permissions{models.PermissionRead, models.PermissionWrite}, granted.Permissions)
	assert.Equal(t, "tx-grant", granted.Evidence.Grant.TxID)
	assert.Nil(t, granted.RevokedAt)
	assert.Nil(t, rec.GrantedAt)
	assert.Empty(t, rec.Permissions)

	_, err = Apply(granted, Change{Action: models.ActionGrant, Actor: receiver, At: t0.Add(2 * time.Minute)})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeIllegalTransition))
	assert.Equal(t, grantAt, *granted.GrantedAt)
}

func TestApply_RevokeSetsTimestampOnce(t *testing.T) {
	granted := recordIn(t, models.StatusGranted)
	revokeAt := t0.Add(30 * time.Minute)

	revoked, err := Apply(granted, Change{Action: models.ActionRevoke, Actor: sender, At: revokeAt, Tx: models.TxRef{TxID: "tx-revoke"}})
	require.NoError(t, err)
	require.NotNil(t, revoked.RevokedAt)
	assert.Equal(t, revokeAt, *revoked.RevokedAt)
	assert.Equal(t, granted.GrantedAt, revoked.GrantedAt)
	assert.Equal(t, "tx-revoke", revoked.Evidence.Revoke.TxID)

	_, err = Apply(revoked, Change{Action: models.ActionRevoke, Actor: receiver, At: t0.Add(time.Hour)})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeIllegalTransition))
	assert.Equal(t, revokeAt, *revoked.RevokedAt)
}

func TestApply_GrantRejectsExpiryBeforeCreation(t *testing.T) {
	rec := recordIn(t, models.StatusPending)
	past := t0.Add(-time.Minute)

	_, err := Apply(rec, Change{Action: models.ActionGrant, Actor: receiver, At: t0.Add(time.Minute), ExpiresAt: &past})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidIntent))
}

func TestApply_RejectsUnknownPermission(t *testing.T) {
	rec := recordIn(t, models.StatusPending)

	_, err := Apply(rec, Change{Action: models.ActionGrant, Actor: receiver, At: t0.Add(time.Minute),
		Permissions: models.Permissions{"OWN"}})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidIntent))
}

func TestTarget(t *testing.T) {
	to, err := Target(nil, models.ActionRequest)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, to)

	_, err = Target(nil, models.ActionGrant)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeIllegalTransition))

	_, err = Target(recordIn(t, models.StatusGranted), models.ActionView)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeIllegalTransition))
}

func TestPartyOf(t *testing.T) {
	rec := recordIn(t, models.StatusPending)
	assert.Equal(t, PartySender, PartyOf(rec, sender))
	assert.Equal(t, PartyRecipient, PartyOf(rec, receiver))
	assert.Equal(t, PartyNone, PartyOf(rec, outsider))
	assert.Equal(t, PartyNone, PartyOf(nil, sender))
}
