package txbuilder

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"consentledger/internal/consent/models"
	"consentledger/internal/ledger"
	id "consentledger/pkg/domain"
	dErrors "consentledger/pkg/domain-errors"
)

type BuilderSuite struct {
	suite.Suite
	now       time.Time
	builder   *Builder
	sender    id.Address
	recipient id.Address
	recipPub  ed25519.PublicKey
	consentID id.ConsentID
}

func TestBuilderSuite(t *testing.T) {
	suite.Run(t, new(BuilderSuite))
}

func (s *BuilderSuite) SetupTest() {
	s.now = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	s.builder = New(42)
	s.sender = s.address()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	s.Require().NoError(err)
	s.recipPub = pub
	s.recipient, err = id.AddressFromPublicKey(pub)
	s.Require().NoError(err)
	s.consentID = id.NewConsentID()
}

func (s *BuilderSuite) address() id.Address {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	s.Require().NoError(err)
	addr, err := id.AddressFromPublicKey(pub)
	s.Require().NoError(err)
	return addr
}

func (s *BuilderSuite) intent(kind models.Action) Intent {
	return Intent{
		Kind:          kind,
		Actor:         s.sender,
		CorrelationID: id.NewCorrelationID(),
		ConsentID:     s.consentID,
		DocumentHash:  "h1",
		DocumentType:  "medical",
		Recipient:     s.recipient,
	}
}

func (s *BuilderSuite) TestRequestArgumentOrder() {
	built, err := s.builder.Build(s.intent(models.ActionRequest))
	s.Require().NoError(err)

	s.Require().Len(built.Args, 5)
	s.Equal(ArgRequest, string(built.Args[0]))
	s.Equal("h1", string(built.Args[1]))
	s.Equal("medical", string(built.Args[2]))
	s.Equal(s.consentID.String(), string(built.Args[3]))
	s.Equal([]byte(s.recipPub), built.Args[4])
	s.Equal([]byte(s.recipPub), built.RecipientKey)
	s.Equal([]id.Address{s.recipient}, built.Accounts)
	s.Equal(uint64(42), built.AppID)
}

func (s *BuilderSuite) TestGrantArgumentOrder() {
	in := s.intent(models.ActionGrant)
	expiry := s.now.Add(time.Hour)
	in.ExpiresAt = &expiry
	in.Permissions = models.Permissions{models.PermissionWrite, models.PermissionRead}

	built, err := s.builder.Build(in)
	s.Require().NoError(err)

	s.Require().Len(built.Args, 3)
	s.Equal(ArgGrant, string(built.Args[0]))
	s.Equal(uint64(expiry.Unix()), binary.BigEndian.Uint64(built.Args[1]))
	s.JSONEq(`["READ","WRITE"]`, string(built.Args[2]))
	s.Nil(built.RecipientKey)
}

func (s *BuilderSuite) TestGrantWithoutExpiryEncodesZero() {
	in := s.intent(models.ActionGrant)
	in.Permissions = models.Permissions{models.PermissionRead}

	built, err := s.builder.Build(in)
	s.Require().NoError(err)
	s.Equal(uint64(0), binary.BigEndian.Uint64(built.Args[1]))
}

func (s *BuilderSuite) TestRevokeAndViewCarryOnlyDiscriminator() {
	for kind, disc := range map[models.Action]string{models.ActionRevoke: ArgRevoke, models.ActionView: ArgView} {
		built, err := s.builder.Build(s.intent(kind))
		s.Require().NoError(err)
		s.Equal([][]byte{[]byte(disc)}, built.Args)
		s.Equal("consent:"+s.consentID.String(), string(built.Note))
	}
}

func (s *BuilderSuite) TestInvalidIntents() {
	cases := map[string]func(*Intent){
		"unknown kind":         func(in *Intent) { in.Kind = "DELETE" },
		"malformed actor":      func(in *Intent) { in.Actor = "not-an-address" },
		"empty actor":          func(in *Intent) { in.Actor = "" },
		"missing correlation":  func(in *Intent) { in.CorrelationID = id.CorrelationID{} },
		"missing consent":      func(in *Intent) { in.ConsentID = id.ConsentID{} },
		"recipient is sender":  func(in *Intent) { in.Recipient = in.Actor },
		"malformed recipient":  func(in *Intent) { in.Recipient = "ABC" },
		"empty document hash":  func(in *Intent) { in.DocumentHash = " " },
		"grant expiry before epoch": func(in *Intent) {
			in.Kind = models.ActionGrant
			in.ExpiresAt = &time.Time{}
		},
		"grant unknown perm": func(in *Intent) {
			in.Kind = models.ActionGrant
			in.Permissions = models.Permissions{"OWN"}
		},
	}
	for name, mutate := range cases {
		s.Run(name, func() {
			in := s.intent(models.ActionRequest)
			mutate(&in)
			built, err := s.builder.Build(in)
			s.Nil(built)
			s.True(dErrors.HasCode(err, dErrors.CodeInvalidIntent), "got %v", err)
			s.False(dErrors.IsRetryable(err))
		})
	}
}

func (s *BuilderSuite) TestBindIsDeterministic() {
	built, err := s.builder.Build(s.intent(models.ActionRequest))
	s.Require().NoError(err)
	params := ledger.Params{Fee: 1000, FirstValid: 10, LastValid: 1010, GenesisID: "devnet-v1", GenesisHash: []byte{1, 2, 3}}

	a, err := built.Bind(params)
	s.Require().NoError(err)
	b, err := built.Bind(params)
	s.Require().NoError(err)

	s.Equal(a.Encoded, b.Encoded)
	s.Equal(a.Fingerprint, b.Fingerprint)
	s.Len(a.Fingerprint, 64)

	var decoded ledger.UnsignedTx
	s.Require().NoError(cbor.Unmarshal(a.Encoded, &decoded))
	s.Equal(built.Args, decoded.Args)
	s.Equal(s.sender, decoded.Sender)
	s.Equal(params, decoded.Params)

	params.FirstValid = 11
	c, err := built.Bind(params)
	s.Require().NoError(err)
	s.NotEqual(a.Fingerprint, c.Fingerprint)
}

func (s *BuilderSuite) TestExpiryIsCheckedSeparately() {
	in := s.intent(models.ActionGrant)
	past := s.now.Add(-time.Minute)
	in.ExpiresAt = &past

	built, err := s.builder.Build(in)
	s.Require().NoError(err, "a lapsed expiry still builds so a recorded grant can be resumed")
	s.Equal(past, *built.ExpiresAt)

	err = built.CheckExpiry(s.now)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidIntent))
	s.NoError(built.CheckExpiry(s.now.Add(-time.Hour)))

	in.ExpiresAt = nil
	open, err := s.builder.Build(in)
	s.Require().NoError(err)
	s.NoError(open.CheckExpiry(s.now))
}

func (s *BuilderSuite) TestDigestIgnoresParamsButNotIntent() {
	in := s.intent(models.ActionGrant)
	in.Permissions = models.Permissions{models.PermissionRead}
	built, err := s.builder.Build(in)
	s.Require().NoError(err)
	digest, err := built.Digest()
	s.Require().NoError(err)
	s.Len(digest, 64)

	in.CorrelationID = id.NewCorrelationID()
	again, err := s.builder.Build(in)
	s.Require().NoError(err)
	s.Equal(digest, s.digest(again), "correlation id is the key, not part of the intent")

	changes := map[string]func(*Intent){
		"other consent":     func(in *Intent) { in.ConsentID = id.NewConsentID() },
		"more permissions":  func(in *Intent) { in.Permissions = models.Permissions{models.PermissionRead, models.PermissionWrite} },
		"other actor":       func(in *Intent) { in.Actor = s.address() },
		"expiry added":      func(in *Intent) { at := s.now.Add(time.Hour); in.ExpiresAt = &at },
		"revoke same grant": func(in *Intent) { in.Kind = models.ActionRevoke },
	}
	for name, mutate := range changes {
		s.Run(name, func() {
			changed := in
			mutate(&changed)
			other, err := s.builder.Build(changed)
			s.Require().NoError(err)
			s.NotEqual(digest, s.digest(other))
		})
	}
}

func (s *BuilderSuite) digest(b *Built) string {
	d, err := b.Digest()
	s.Require().NoError(err)
	return d
}

func TestFingerprint(t *testing.T) {
	assert.Equal(t, Fingerprint([]byte("x")), Fingerprint([]byte("x")))
	require.NotEqual(t, Fingerprint([]byte("x")), Fingerprint([]byte("y")))
}
