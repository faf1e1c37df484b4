// Package ledger declares the capabilities the consent core consumes from the
// external ledger: a Signer that authorizes transactions on behalf of an
// identity and a Ledger that accepts signed transactions and answers status
// queries. Concrete adapters live in subpackages.
package ledger

//go:generate mockgen -source=ledger.go -destination=mocks/mocks.go -package=mocks Signer,Ledger

import (
	"context"

	id "consentledger/pkg/domain"
)

// Params are the network-current values an unsigned transaction is bound to.
type Params struct {
	Fee         uint64 `cbor:"fee"`
	FirstValid  uint64 `cbor:"fv"`
	LastValid   uint64 `cbor:"lv"`
	GenesisID   string `cbor:"gen"`
	GenesisHash []byte `cbor:"gh"`
}

// UnsignedTx is an application call ready for signing. Encoded and Fingerprint
// are derived by the transaction builder and are not part of the encoding.
type UnsignedTx struct {
	Type     string       `cbor:"type"`
	Sender   id.Address   `cbor:"snd"`
	AppID    uint64       `cbor:"apid"`
	Args     [][]byte     `cbor:"apaa"`
	Accounts []id.Address `cbor:"apat,omitempty"`
	Note     []byte       `cbor:"note,omitempty"`
	Params   Params       `cbor:"params"`

	Encoded     []byte `cbor:"-"`
	Fingerprint string `cbor:"-"`
}

// TxStatus is the answer to a point query about a submitted transaction.
// Exactly one of the three conditions is meaningful: a confirmed round above
// zero, a pool error, or not found. All zero means still pending.
type TxStatus struct {
	ConfirmedRound uint64
	PoolError      string
	NotFound       bool
}

// Signer produces a signed blob for an unsigned transaction on behalf of an
// identity. A refusal is reported as CodeAuthorizationDenied.
type Signer interface {
	Sign(ctx context.Context, tx UnsignedTx, identity id.Address) ([]byte, error)
}

// Ledger is the submit/query surface of the external ledger. Implementations
// must be safe for concurrent use. Submit reports a payload rejection as
// CodeSubmissionRejected; Status reports transport failures as
// CodeTransientQuery.
type Ledger interface {
	SubmissionParams(ctx context.Context) (Params, error)
	Submit(ctx context.Context, signed []byte) (string, error)
	Status(ctx context.Context, txID string) (TxStatus, error)
}
