// Package domain provides type-safe identifiers to prevent mixing up IDs at compile time.
package domain

import (
	"bytes"
	"crypto/sha512"
	"encoding/base32"
	"strings"

	"github.com/google/uuid"

	dErrors "consentledger/pkg/domain-errors"
)

// ConsentID identifies one consent record. CorrelationID makes a ledger
// submission idempotent across retries.
type (
	ConsentID     uuid.UUID
	CorrelationID uuid.UUID
)

// Address is a chain address: base32 (no padding) of a 32-byte public key
// followed by a 4-byte checksum taken from the tail of its SHA-512/256 digest.
type Address string

const (
	publicKeySize   = 32
	checksumSize    = 4
	addressByteSize = publicKeySize + checksumSize
	// AddressLength is the encoded length of a well-formed address.
	AddressLength = 58
)

var addressEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

func NewConsentID() ConsentID         { return ConsentID(uuid.New()) }
func NewCorrelationID() CorrelationID { return CorrelationID(uuid.New()) }

var consentNamespace = uuid.MustParse("6f1d8a52-3c0e-5b8f-9a47-0d2c1e7b4f90")

// ConsentIDFor derives the consent id a REQUEST with correlation id c
// creates, so retrying the request cannot mint a second record.
func ConsentIDFor(c CorrelationID) ConsentID {
	return ConsentID(uuid.NewSHA1(consentNamespace, c[:]))
}

// Parse functions - use at trust boundaries (handlers, API inputs).

func ParseConsentID(s string) (ConsentID, error) {
	id, err := parseUUID(s, "consent ID")
	return ConsentID(id), err
}

func ParseCorrelationID(s string) (CorrelationID, error) {
	id, err := parseUUID(s, "correlation ID")
	return CorrelationID(id), err
}

// ParseAddress validates the encoding, length and checksum of a chain address.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidIntent, "address cannot be empty")
	}
	if len(s) != AddressLength {
		return "", dErrors.New(dErrors.CodeInvalidIntent, "address has invalid length")
	}
	raw, err := addressEncoding.DecodeString(s)
	if err != nil || len(raw) != addressByteSize {
		return "", dErrors.New(dErrors.CodeInvalidIntent, "address is not valid base32")
	}
	if !bytes.Equal(raw[publicKeySize:], checksum(raw[:publicKeySize])) {
		return "", dErrors.New(dErrors.CodeInvalidIntent, "address checksum mismatch")
	}
	return Address(s), nil
}

// AddressFromPublicKey encodes a 32-byte public key as an address.
func AddressFromPublicKey(pub []byte) (Address, error) {
	if len(pub) != publicKeySize {
		return "", dErrors.New(dErrors.CodeInvalidIntent, "public key must be 32 bytes")
	}
	buf := make([]byte, 0, addressByteSize)
	buf = append(buf, pub...)
	buf = append(buf, checksum(pub)...)
	return Address(addressEncoding.EncodeToString(buf)), nil
}

// PublicKey decodes the address into its public key bytes. The address must
// already have passed ParseAddress.
func (a Address) PublicKey() ([]byte, error) {
	if _, err := ParseAddress(string(a)); err != nil {
		return nil, err
	}
	raw, _ := addressEncoding.DecodeString(string(a))
	return raw[:publicKeySize], nil
}

func checksum(pub []byte) []byte {
	sum := sha512.Sum512_256(pub)
	return sum[len(sum)-checksumSize:]
}

// String methods - for logging and debugging.

func (id ConsentID) String() string     { return uuid.UUID(id).String() }
func (id CorrelationID) String() string { return uuid.UUID(id).String() }
func (a Address) String() string        { return string(a) }

// IsNil checks - used for service-layer validation.

func (id ConsentID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id CorrelationID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (a Address) IsZero() bool       { return a == "" }

// parseUUID is the shared validation logic.
func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeBadRequest, label+" cannot be empty")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeBadRequest, "invalid "+label+" format")
	}
	return id, nil
}
