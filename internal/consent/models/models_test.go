package models

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "consentledger/pkg/domain"
	dErrors "consentledger/pkg/domain-errors"
)

func newAddress(t *testing.T) id.Address {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	addr, err := id.AddressFromPublicKey(pub)
	require.NoError(t, err)
	return addr
}

func TestNewRecord_Invariants(t *testing.T) {
	a, b := newAddress(t), newAddress(t)
	now := time.Now()

	t.Run("creates pending record without permissions", func(t *testing.T) {
		rec, err := NewRecord(id.NewConsentID(), " h1 ", "medical", a, b, now)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, rec.Status)
		assert.Equal(t, "h1", rec.DocumentHash)
		assert.Empty(t, rec.Permissions)
		assert.Nil(t, rec.GrantedAt)
		require.NoError(t, rec.Validate())
	})

	t.Run("rejects sender equal to recipient", func(t *testing.T) {
		_, err := NewRecord(id.NewConsentID(), "h1", "medical", a, a, now)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	t.Run("rejects missing document hash", func(t *testing.T) {
		_, err := NewRecord(id.NewConsentID(), "  ", "medical", a, b, now)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	t.Run("rejects nil id", func(t *testing.T) {
		_, err := NewRecord(id.ConsentID{}, "h1", "medical", a, b, now)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})
}

func TestRecord_EffectiveStatus(t *testing.T) {
	now := time.Now()
	expiry := now.Add(time.Hour)
	granted := now
	rec := &Record{Status: StatusGranted, GrantedAt: &granted, ExpiresAt: &expiry}

	assert.Equal(t, StatusGranted, rec.EffectiveStatus(now))
	assert.True(t, rec.IsActive(now))
	assert.Equal(t, StatusExpired, rec.EffectiveStatus(now.Add(2*time.Hour)))
	assert.False(t, rec.IsActive(now.Add(2*time.Hour)))
	assert.Equal(t, StatusGranted, rec.Status, "expiry never rewrites stored status")

	pending := &Record{Status: StatusPending, ExpiresAt: &expiry}
	assert.Equal(t, StatusPending, pending.EffectiveStatus(now.Add(2*time.Hour)))
}

func TestRecord_RemainingTime(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *Record {
		e := now.Add(d)
		return &Record{ExpiresAt: &e}
	}

	assert.Equal(t, "No expiry", (&Record{}).RemainingTime(now))
	assert.Equal(t, "Expired", at(-time.Second).RemainingTime(now))
	assert.Equal(t, "3 days remaining", at(3*24*time.Hour+5*time.Hour).RemainingTime(now))
	assert.Equal(t, "1 day remaining", at(25*time.Hour).RemainingTime(now))
	assert.Equal(t, "5 hours remaining", at(5*time.Hour+10*time.Minute).RemainingTime(now))
	assert.Equal(t, "1 hour remaining", at(time.Hour).RemainingTime(now))
	assert.Equal(t, "Less than 1 hour", at(59*time.Minute).RemainingTime(now))
}

func TestRecord_CloneIsDeep(t *testing.T) {
	now := time.Now()
	rec := &Record{Status: StatusGranted, GrantedAt: &now, Permissions: Permissions{PermissionRead}}
	cp := rec.Clone()
	cp.Permissions[0] = PermissionWrite
	*cp.GrantedAt = now.Add(time.Hour)

	assert.Equal(t, PermissionRead, rec.Permissions[0])
	assert.Equal(t, now, *rec.GrantedAt)
}

func TestParsePermissions(t *testing.T) {
	ps, err := ParsePermissions([]string{"write", " READ", "read"})
	require.NoError(t, err)
	assert.Equal(t, Permissions{PermissionRead, PermissionWrite}, ps)

	_, err = ParsePermissions([]string{"READ", "OWN"})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidIntent))
}

func TestRecordFilter_MatchesDerivedExpired(t *testing.T) {
	a, b, c := newAddress(t), newAddress(t), newAddress(t)
	now := time.Now()
	past := now.Add(-time.Minute)
	rec := &Record{Sender: a, Recipient: b, Status: StatusGranted, GrantedAt: &past, ExpiresAt: &past, DocumentType: "Medical"}

	expired := StatusExpired
	granted := StatusGranted
	assert.True(t, RecordFilter{Participant: a, Status: &expired}.Matches(rec, now))
	assert.False(t, RecordFilter{Participant: a, Status: &granted}.Matches(rec, now))
	assert.True(t, RecordFilter{Participant: b, Role: RoleRecipient, DocumentType: "medical"}.Matches(rec, now))
	assert.False(t, RecordFilter{Participant: b, Role: RoleSender}.Matches(rec, now))
	assert.False(t, RecordFilter{Participant: c}.Matches(rec, now))
}

func TestComputeStats(t *testing.T) {
	now := time.Now()
	past, future := now.Add(-time.Hour), now.Add(time.Hour)
	records := []*Record{
		{Status: StatusPending},
		{Status: StatusGranted, ExpiresAt: &future},
		{Status: StatusGranted},
		{Status: StatusGranted, ExpiresAt: &past},
		{Status: StatusRevoked},
	}

	assert.Equal(t, Stats{Total: 5, Pending: 1, Granted: 3, Active: 2, Expired: 1, Revoked: 1}, ComputeStats(records, now))
}
