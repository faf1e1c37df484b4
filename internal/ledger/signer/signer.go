// Package signer is a development Signer backed by in-process ed25519 keys.
// It stands in for a wallet: production deployments inject their own
// ledger.Signer.
package signer

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"consentledger/internal/ledger"
	id "consentledger/pkg/domain"
	dErrors "consentledger/pkg/domain-errors"
)

// signingPrefix domain-separates transaction signatures.
var signingPrefix = []byte("TX")

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("signer: CBOR encoder initialization failed: " + err.Error())
	}
}

// Signed is the wire form of a signed transaction.
type Signed struct {
	Sig    []byte     `cbor:"sig"`
	Signer id.Address `cbor:"sgnr"`
	Txn    []byte     `cbor:"txn"`
}

// Keyring holds one private key per address.
type Keyring struct {
	mu   sync.RWMutex
	keys map[id.Address]ed25519.PrivateKey
}

func NewKeyring() *Keyring {
	return &Keyring{keys: make(map[id.Address]ed25519.PrivateKey)}
}

// Generate creates a fresh key and returns its address.
func (k *Keyring) Generate() (id.Address, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return k.Add(priv)
}

// AddSeed registers the key derived from a hex-encoded 32-byte seed.
func (k *Keyring) AddSeed(seedHex string) (id.Address, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil || len(seed) != ed25519.SeedSize {
		return "", dErrors.New(dErrors.CodeBadRequest, "seed must be 32 hex-encoded bytes")
	}
	return k.Add(ed25519.NewKeyFromSeed(seed))
}

func (k *Keyring) Add(priv ed25519.PrivateKey) (id.Address, error) {
	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return "", fmt.Errorf("unexpected public key type %T", priv.Public())
	}
	addr, err := id.AddressFromPublicKey(pub)
	if err != nil {
		return "", err
	}
	k.mu.Lock()
	k.keys[addr] = priv
	k.mu.Unlock()
	return addr, nil
}

// Remove forgets the key for addr; later Sign calls for it are refused.
func (k *Keyring) Remove(addr id.Address) {
	k.mu.Lock()
	delete(k.keys, addr)
	k.mu.Unlock()
}

// Addresses lists the known identities in sorted order.
func (k *Keyring) Addresses() []id.Address {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]id.Address, 0, len(k.keys))
	for addr := range k.keys {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Sign signs tx for identity. The identity must hold a key and be the
// transaction's sender.
func (k *Keyring) Sign(ctx context.Context, tx ledger.UnsignedTx, identity id.Address) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k.mu.RLock()
	priv, ok := k.keys[identity]
	k.mu.RUnlock()
	if !ok {
		return nil, dErrors.New(dErrors.CodeAuthorizationDenied, "no signing key for identity")
	}
	if tx.Sender != identity {
		return nil, dErrors.New(dErrors.CodeAuthorizationDenied, "identity is not the transaction sender")
	}
	if len(tx.Encoded) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidIntent, "transaction is not encoded")
	}

	blob, err := encMode.Marshal(Signed{
		Sig:    ed25519.Sign(priv, message(tx.Encoded)),
		Signer: identity,
		Txn:    tx.Encoded,
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encode signed transaction")
	}
	return blob, nil
}

// Verify decodes a signed blob, checks the signature and returns the
// transaction it covers. Failures are CodeSubmissionRejected.
func Verify(blob []byte) (Signed, ledger.UnsignedTx, error) {
	var s Signed
	if err := cbor.Unmarshal(blob, &s); err != nil {
		return Signed{}, ledger.UnsignedTx{}, rejected("malformed signed transaction")
	}
	pub, err := s.Signer.PublicKey()
	if err != nil {
		return Signed{}, ledger.UnsignedTx{}, rejected("malformed signer address")
	}
	if !ed25519.Verify(pub, message(s.Txn), s.Sig) {
		return Signed{}, ledger.UnsignedTx{}, rejected("invalid signature")
	}
	var tx ledger.UnsignedTx
	if err := cbor.Unmarshal(s.Txn, &tx); err != nil {
		return Signed{}, ledger.UnsignedTx{}, rejected("malformed transaction body")
	}
	if tx.Sender != s.Signer {
		return Signed{}, ledger.UnsignedTx{}, rejected("signer does not match sender")
	}
	tx.Encoded = s.Txn
	return s, tx, nil
}

func message(encoded []byte) []byte {
	return bytes.Join([][]byte{signingPrefix, encoded}, nil)
}

func rejected(msg string) error {
	return dErrors.New(dErrors.CodeSubmissionRejected, msg)
}
