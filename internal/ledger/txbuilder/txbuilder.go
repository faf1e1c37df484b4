// Package txbuilder turns a consent intent into the ledger's application-call
// argument format. It performs no I/O: validation failures are reported as
// CodeInvalidIntent before anything reaches the network.
package txbuilder

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"

	"consentledger/internal/consent/models"
	"consentledger/internal/ledger"
	id "consentledger/pkg/domain"
	dErrors "consentledger/pkg/domain-errors"
)

// Discriminators are the first application argument of each call.
const (
	ArgRequest = "request_consent"
	ArgGrant   = "grant_consent"
	ArgRevoke  = "revoke_consent"
	ArgView    = "view_document"
)

const txTypeAppCall = "appl"

var discriminators = map[models.Action]string{
	models.ActionRequest: ArgRequest,
	models.ActionGrant:   ArgGrant,
	models.ActionRevoke:  ArgRevoke,
	models.ActionView:    ArgView,
}

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("txbuilder: CBOR encoder initialization failed: " + err.Error())
	}
}

// Intent is an unsubmitted description of a desired consent change.
type Intent struct {
	Kind          models.Action
	Actor         id.Address
	CorrelationID id.CorrelationID
	ConsentID     id.ConsentID

	// REQUEST
	DocumentHash string
	DocumentType string
	Recipient    id.Address

	// GRANT
	ExpiresAt   *time.Time
	Permissions models.Permissions
}

// Built is a validated intent in argument form.
type Built struct {
	Kind          models.Action
	Sender        id.Address
	CorrelationID id.CorrelationID
	AppID         uint64
	Args          [][]byte
	// RecipientKey is the decoded recipient public key, REQUEST only.
	RecipientKey []byte
	Accounts     []id.Address
	Note         []byte
	// ExpiresAt is the requested expiry, GRANT only.
	ExpiresAt *time.Time
}

// Builder binds intents to one consent application.
type Builder struct {
	appID uint64
}

func New(appID uint64) *Builder {
	return &Builder{appID: appID}
}

// Build validates in and encodes its ordered argument list.
func (b *Builder) Build(in Intent) (*Built, error) {
	disc, ok := discriminators[in.Kind]
	if !ok {
		return nil, invalid("unknown intent kind %q", in.Kind)
	}
	if _, err := id.ParseAddress(in.Actor.String()); err != nil {
		return nil, invalid("actor address is malformed")
	}
	if in.CorrelationID.IsNil() {
		return nil, invalid("correlation id required")
	}
	if in.ConsentID.IsNil() {
		return nil, invalid("consent id required")
	}

	out := &Built{
		Kind:          in.Kind,
		Sender:        in.Actor,
		CorrelationID: in.CorrelationID,
		AppID:         b.appID,
		Args:          [][]byte{[]byte(disc)},
		Note:          []byte("consent:" + in.ConsentID.String()),
	}

	switch in.Kind {
	case models.ActionRequest:
		if err := b.request(in, out); err != nil {
			return nil, err
		}
	case models.ActionGrant:
		if err := b.grant(in, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (b *Builder) request(in Intent, out *Built) error {
	hash := strings.TrimSpace(in.DocumentHash)
	if hash == "" {
		return invalid("document hash required")
	}
	if len(hash) > models.MaxDocumentFieldLength || len(in.DocumentType) > models.MaxDocumentFieldLength {
		return invalid("document fields too long")
	}
	if _, err := id.ParseAddress(in.Recipient.String()); err != nil {
		return invalid("recipient address is malformed")
	}
	if in.Recipient == in.Actor {
		return invalid("recipient must differ from sender")
	}
	key, err := in.Recipient.PublicKey()
	if err != nil {
		return invalid("recipient address is malformed")
	}
	out.RecipientKey = key
	out.Accounts = []id.Address{in.Recipient}
	out.Args = append(out.Args,
		[]byte(hash),
		[]byte(strings.TrimSpace(in.DocumentType)),
		[]byte(in.ConsentID.String()),
		key,
	)
	return nil
}

func (b *Builder) grant(in Intent, out *Built) error {
	var expiry uint64
	if in.ExpiresAt != nil {
		if in.ExpiresAt.Unix() <= 0 {
			return invalid("expiry is before the epoch")
		}
		at := *in.ExpiresAt
		out.ExpiresAt = &at
		expiry = uint64(at.Unix())
	}
	if err := in.Permissions.Validate(); err != nil {
		return invalid("permissions contain an unknown tag")
	}
	perms, err := json.Marshal(in.Permissions.Normalize().Strings())
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "encode permissions")
	}
	out.Args = append(out.Args, binary.BigEndian.AppendUint64(nil, expiry), perms)
	return nil
}

// CheckExpiry rejects a GRANT whose expiry is not after now. It applies to a
// first submission only: a repeat of a recorded GRANT must stay resumable
// after its expiry has passed.
func (b *Built) CheckExpiry(now time.Time) error {
	if b.ExpiresAt != nil && !b.ExpiresAt.After(now) {
		return invalid("expiry must be in the future")
	}
	return nil
}

// intentFields is everything a signed call commits to apart from the
// network parameters.
type intentFields struct {
	Kind     models.Action `cbor:"kind"`
	Sender   id.Address    `cbor:"snd"`
	AppID    uint64        `cbor:"apid"`
	Args     [][]byte      `cbor:"apaa"`
	Accounts []id.Address  `cbor:"apat,omitempty"`
	Note     []byte        `cbor:"note,omitempty"`
}

// Digest is the hex BLAKE3-256 digest of the intent without submission
// parameters. Two builds of the same intent share a digest whatever the
// network round they are bound to.
func (b *Built) Digest() (string, error) {
	enc, err := encMode.Marshal(intentFields{
		Kind:     b.Kind,
		Sender:   b.Sender,
		AppID:    b.AppID,
		Args:     b.Args,
		Accounts: b.Accounts,
		Note:     b.Note,
	})
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "encode intent")
	}
	return Fingerprint(enc), nil
}

// Bind attaches submission parameters and derives the deterministic CBOR
// encoding and its BLAKE3 fingerprint.
func (b *Built) Bind(p ledger.Params) (ledger.UnsignedTx, error) {
	tx := ledger.UnsignedTx{
		Type:     txTypeAppCall,
		Sender:   b.Sender,
		AppID:    b.AppID,
		Args:     b.Args,
		Accounts: b.Accounts,
		Note:     b.Note,
		Params:   p,
	}
	enc, err := Encode(tx)
	if err != nil {
		return ledger.UnsignedTx{}, err
	}
	tx.Encoded = enc
	tx.Fingerprint = Fingerprint(enc)
	return tx, nil
}

// Encode renders tx in core deterministic CBOR.
func Encode(tx ledger.UnsignedTx) ([]byte, error) {
	enc, err := encMode.Marshal(tx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encode unsigned transaction")
	}
	return enc, nil
}

// Fingerprint is the hex BLAKE3-256 digest of an encoded transaction.
func Fingerprint(encoded []byte) string {
	sum := blake3.Sum256(encoded)
	return hex.EncodeToString(sum[:])
}

func invalid(format string, args ...any) error {
	return dErrors.New(dErrors.CodeInvalidIntent, fmt.Sprintf(format, args...))
}
