// Package fieldcodec encrypts the sensitive consent fields for local persistence.
//
// Each field is sealed with AES-256-GCM under its own subkey, derived from the
// caller's key with HKDF-SHA256 and the field name as info. The plaintext is the
// RFC 8785 canonical JSON of the value, so equal values always encrypt from
// identical bytes. Nonces are 12 random bytes per call; the 16-byte tag is kept
// apart from the ciphertext so all three parts are independently recoverable.
package fieldcodec

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/gowebpki/jcs"
	"golang.org/x/crypto/hkdf"

	dErrors "consentledger/pkg/domain-errors"
)

const (
	KeySize   = 32
	NonceSize = 12
	TagSize   = 16
)

// Field names the protected fields. The name is also the HKDF info suffix, so
// renaming one invalidates everything sealed under it.
type Field string

const (
	FieldDocumentHash Field = "documentHash"
	FieldRequester    Field = "requester"
	FieldPermissions  Field = "permissions"
)

// Fields lists every protected field in a fixed order.
var Fields = []Field{FieldDocumentHash, FieldRequester, FieldPermissions}

const hkdfInfoPrefix = "consentledger.fieldcodec.v1/"

// Sealed is one encrypted field value.
type Sealed struct {
	Ciphertext []byte `json:"ciphertext"`
	Nonce      []byte `json:"nonce"`
	Tag        []byte `json:"tag"`
}

// IsZero reports whether nothing was sealed.
func (s Sealed) IsZero() bool {
	return len(s.Ciphertext) == 0 && len(s.Nonce) == 0 && len(s.Tag) == 0
}

// Codec holds one AEAD per field.
type Codec struct {
	aeads  map[Field]cipher.AEAD
	rand   io.Reader
	logger *slog.Logger
}

type Option func(*Codec)

// WithLogger sets the logger used to report fields that fail to decrypt.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Codec) {
		c.logger = logger
	}
}

// WithRandom replaces the nonce source. Tests only.
func WithRandom(r io.Reader) Option {
	return func(c *Codec) {
		if r != nil {
			c.rand = r
		}
	}
}

// New derives the per-field subkeys from a 32-byte key.
func New(key []byte, opts ...Option) (*Codec, error) {
	if len(key) != KeySize {
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("field key must be %d bytes", KeySize))
	}
	c := &Codec{aeads: make(map[Field]cipher.AEAD, len(Fields)), rand: rand.Reader}
	for _, f := range Fields {
		sub := make([]byte, KeySize)
		if _, err := io.ReadFull(hkdf.New(sha256.New, key, nil, []byte(hkdfInfoPrefix+string(f))), sub); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "derive field key")
		}
		block, err := aes.NewCipher(sub)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "create cipher")
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "create gcm")
		}
		c.aeads[f] = aead
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Codec) aead(f Field) (cipher.AEAD, error) {
	a, ok := c.aeads[f]
	if !ok {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown field: "+string(f))
	}
	return a, nil
}

// Encrypt canonicalizes value and seals it under field's subkey.
func (c *Codec) Encrypt(field Field, value any) (Sealed, error) {
	aead, err := c.aead(field)
	if err != nil {
		return Sealed{}, err
	}
	plaintext, err := Canonical(value)
	if err != nil {
		return Sealed{}, err
	}
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return Sealed{}, dErrors.Wrap(err, dErrors.CodeInternal, "generate nonce")
	}
	out := aead.Seal(nil, nonce, plaintext, []byte(field))
	split := len(out) - TagSize
	return Sealed{
		Ciphertext: out[:split:split],
		Nonce:      nonce,
		Tag:        out[split:],
	}, nil
}

// Decrypt opens s and unmarshals the canonical text into out. Any mismatch in
// key, nonce, tag or ciphertext fails with CodeDecryptionFailed and out is left
// untouched.
func (c *Codec) Decrypt(field Field, s Sealed, out any) error {
	aead, err := c.aead(field)
	if err != nil {
		return err
	}
	if len(s.Nonce) != NonceSize || len(s.Tag) != TagSize {
		return dErrors.New(dErrors.CodeDecryptionFailed, "malformed sealed field "+string(field))
	}
	buf := make([]byte, 0, len(s.Ciphertext)+TagSize)
	buf = append(buf, s.Ciphertext...)
	buf = append(buf, s.Tag...)
	plaintext, err := aead.Open(nil, s.Nonce, buf, []byte(field))
	if err != nil {
		return dErrors.New(dErrors.CodeDecryptionFailed, "authentication failed for field "+string(field))
	}
	if err := json.Unmarshal(plaintext, out); err != nil {
		return dErrors.Wrap(err, dErrors.CodeDecryptionFailed, "decode field "+string(field))
	}
	return nil
}

// Canonical renders value as RFC 8785 JSON.
func Canonical(value any) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "marshal field value")
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "canonicalize field value")
	}
	return out, nil
}

// Plain holds the protected fields in the clear.
type Plain struct {
	DocumentHash string   `json:"documentHash"`
	Requester    string   `json:"requester"`
	Permissions  []string `json:"permissions"`
}

// Envelope holds the protected fields sealed.
type Envelope struct {
	DocumentHash Sealed `json:"documentHash"`
	Requester    Sealed `json:"requester"`
	Permissions  Sealed `json:"permissions"`
}

func (e Envelope) get(f Field) Sealed {
	switch f {
	case FieldDocumentHash:
		return e.DocumentHash
	case FieldRequester:
		return e.Requester
	default:
		return e.Permissions
	}
}

// Seal encrypts every protected field.
func (c *Codec) Seal(p Plain) (Envelope, error) {
	var env Envelope
	var err error
	if env.DocumentHash, err = c.Encrypt(FieldDocumentHash, p.DocumentHash); err != nil {
		return Envelope{}, err
	}
	if env.Requester, err = c.Encrypt(FieldRequester, p.Requester); err != nil {
		return Envelope{}, err
	}
	perms := p.Permissions
	if perms == nil {
		perms = []string{}
	}
	if env.Permissions, err = c.Encrypt(FieldPermissions, perms); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Decoded is the result of opening an Envelope field by field. Fields listed
// in Failed keep their zero value in Plain and stay available sealed in Opaque.
type Decoded struct {
	Plain  Plain
	Opaque map[Field]Sealed
	Failed []Field
}

// Complete reports whether every field decrypted.
func (d Decoded) Complete() bool { return len(d.Failed) == 0 }

// Open decrypts each field independently. A failure on one field is logged as
// a warning and recorded; the remaining fields are still decrypted.
func (c *Codec) Open(ctx context.Context, env Envelope) Decoded {
	d := Decoded{Opaque: map[Field]Sealed{}}
	targets := map[Field]any{
		FieldDocumentHash: &d.Plain.DocumentHash,
		FieldRequester:    &d.Plain.Requester,
		FieldPermissions:  &d.Plain.Permissions,
	}
	for _, f := range Fields {
		sealed := env.get(f)
		if err := c.Decrypt(f, sealed, targets[f]); err != nil {
			d.Failed = append(d.Failed, f)
			d.Opaque[f] = sealed
			if c.logger != nil {
				c.logger.WarnContext(ctx, "field decryption failed",
					"field", string(f),
					"error", err,
				)
			}
		}
	}
	return d
}

// DecodeKey accepts a 32-byte key as 64 hex characters or standard base64.
func DecodeKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if len(s) == hex.EncodedLen(KeySize) {
		if key, err := hex.DecodeString(s); err == nil {
			return key, nil
		}
	}
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(key) != KeySize {
		return nil, dErrors.New(dErrors.CodeValidation, "field key must be 32 bytes, hex or base64")
	}
	return key, nil
}

// GenerateKey returns a fresh random key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "generate key")
	}
	return key, nil
}
