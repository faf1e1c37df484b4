package testutil

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"consentledger/internal/consent/models"
	id "consentledger/pkg/domain"
)

// Seed bytes for the fixed test identities. Seed(b) repeats b 32 times.
const (
	SeedAlice byte = 0xA1
	SeedBob   byte = 0xB0
	SeedCarol byte = 0xC0
)

// TestIDs provides fixed ids for deterministic test data.
var TestIDs = struct {
	ConsentID1 id.ConsentID
	ConsentID2 id.ConsentID
	Alice      id.Address
	Bob        id.Address
	Carol      id.Address
}{
	ConsentID1: id.ConsentID(uuid.MustParse("11111111-1111-1111-1111-111111111111")),
	ConsentID2: id.ConsentID(uuid.MustParse("22222222-2222-2222-2222-222222222222")),
	Alice:      AddressFromSeed(SeedAlice),
	Bob:        AddressFromSeed(SeedBob),
	Carol:      AddressFromSeed(SeedCarol),
}

// Seed returns a 32-byte ed25519 seed made of b.
func Seed(b byte) []byte {
	return bytes.Repeat([]byte{b}, ed25519.SeedSize)
}

// SeedHex is Seed in the hex form accepted by the dev keyring.
func SeedHex(b byte) string {
	return hex.EncodeToString(Seed(b))
}

// AddressFromSeed derives the ledger address of the key with Seed(b).
func AddressFromSeed(b byte) id.Address {
	priv := ed25519.NewKeyFromSeed(Seed(b))
	addr, err := id.AddressFromPublicKey(priv.Public().(ed25519.PublicKey))
	if err != nil {
		panic("testutil: derive address: " + err.Error())
	}
	return addr
}

// RecordBuilder builds consent records in any lifecycle state.
type RecordBuilder struct {
	rec *models.Record
}

// NewRecordBuilder starts from a PENDING record from Alice to Bob.
func NewRecordBuilder() *RecordBuilder {
	created := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	return &RecordBuilder{rec: &models.Record{
		ID:           id.NewConsentID(),
		DocumentHash: "sha256:5f70bf18a086007016e948b04aed3b82103a36bea41755b6cddfaf10ace3c6ef",
		DocumentType: "medical-record",
		Sender:       TestIDs.Alice,
		Recipient:    TestIDs.Bob,
		Status:       models.StatusPending,
		CreatedAt:    created,
		Evidence:     models.Evidence{Request: models.TxRef{TxID: "REQTX", Round: 10}},
	}}
}

func (b *RecordBuilder) WithID(consentID id.ConsentID) *RecordBuilder {
	b.rec.ID = consentID
	return b
}

func (b *RecordBuilder) Between(sender, recipient id.Address) *RecordBuilder {
	b.rec.Sender = sender
	b.rec.Recipient = recipient
	return b
}

func (b *RecordBuilder) WithDocumentType(docType string) *RecordBuilder {
	b.rec.DocumentType = docType
	return b
}

func (b *RecordBuilder) CreatedAt(t time.Time) *RecordBuilder {
	b.rec.CreatedAt = t
	return b
}

// Granted marks the record GRANTED at at, with optional expiry.
func (b *RecordBuilder) Granted(at time.Time, expiresAt *time.Time, perms ...models.Permission) *RecordBuilder {
	b.rec.Status = models.StatusGranted
	b.rec.GrantedAt = &at
	b.rec.ExpiresAt = expiresAt
	b.rec.Permissions = models.Permissions(perms).Normalize()
	b.rec.Evidence.Grant = models.TxRef{TxID: "GRANTTX", Round: 20}
	return b
}

// Revoked marks the record REVOKED at at.
func (b *RecordBuilder) Revoked(at time.Time) *RecordBuilder {
	b.rec.Status = models.StatusRevoked
	b.rec.RevokedAt = &at
	b.rec.Evidence.Revoke = models.TxRef{TxID: "REVOKETX", Round: 30}
	return b
}

func (b *RecordBuilder) Build() *models.Record {
	return b.rec.Clone()
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
