// Package memledger is an in-process Ledger for tests, e2e runs and the demo
// server mode. It verifies signatures, enforces the validity window and
// confirms transactions after a configurable number of status queries.
package memledger

import (
	"context"
	"encoding/base32"
	"fmt"
	"sync"

	"github.com/zeebo/blake3"

	"consentledger/internal/ledger"
	"consentledger/internal/ledger/signer"
	dErrors "consentledger/pkg/domain-errors"
)

const (
	DefaultGenesisID = "consentledger-dev-v1"
	DefaultMinFee    = 1000
	validityWindow   = 1000
)

// Fate decides what happens to an accepted transaction.
type Fate struct {
	// Reject refuses the submission with this reason.
	Reject string
	// PoolError fails the transaction after acceptance.
	PoolError string
	// Lost makes the transaction permanently unknown to status queries.
	Lost bool
	// ConfirmAfter is the number of pending answers before confirmation.
	ConfirmAfter int
}

// FateFunc chooses a Fate per transaction.
type FateFunc func(tx ledger.UnsignedTx) Fate

type txEntry struct {
	tx      ledger.UnsignedTx
	fate    Fate
	queries int
	round   uint64
}

// Ledger is safe for concurrent use.
type Ledger struct {
	mu        sync.Mutex
	round     uint64
	genesisID string
	minFee    uint64
	fate      FateFunc
	txs       map[string]*txEntry
	order     []string
}

type Option func(*Ledger)

// WithConfirmAfter confirms every transaction after n pending answers.
func WithConfirmAfter(n int) Option {
	return func(l *Ledger) {
		l.fate = func(ledger.UnsignedTx) Fate { return Fate{ConfirmAfter: n} }
	}
}

func WithFate(fn FateFunc) Option {
	return func(l *Ledger) {
		if fn != nil {
			l.fate = fn
		}
	}
}

func WithGenesisID(genesisID string) Option {
	return func(l *Ledger) {
		l.genesisID = genesisID
	}
}

func WithStartRound(round uint64) Option {
	return func(l *Ledger) {
		l.round = round
	}
}

func New(opts ...Option) *Ledger {
	l := &Ledger{
		round:     1,
		genesisID: DefaultGenesisID,
		minFee:    DefaultMinFee,
		fate:      func(ledger.UnsignedTx) Fate { return Fate{} },
		txs:       make(map[string]*txEntry),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SetFate replaces the fate function for later submissions.
func (l *Ledger) SetFate(fn FateFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fate = fn
}

func (l *Ledger) SubmissionParams(ctx context.Context) (ledger.Params, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Params{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return ledger.Params{
		Fee:        l.minFee,
		FirstValid: l.round,
		LastValid:  l.round + validityWindow,
		GenesisID:  l.genesisID,
	}, nil
}

func (l *Ledger) Submit(ctx context.Context, signed []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	_, tx, err := signer.Verify(signed)
	if err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case tx.Params.GenesisID != l.genesisID:
		return "", rejected("genesis id mismatch")
	case tx.Params.Fee < l.minFee:
		return "", rejected(fmt.Sprintf("fee %d below minimum %d", tx.Params.Fee, l.minFee))
	case l.round < tx.Params.FirstValid || l.round > tx.Params.LastValid:
		return "", rejected(fmt.Sprintf("round %d outside validity window", l.round))
	}

	txID := TxID(tx.Encoded)
	if _, dup := l.txs[txID]; dup {
		return "", rejected("transaction already in ledger")
	}
	fate := l.fate(tx)
	if fate.Reject != "" {
		return "", rejected(fate.Reject)
	}
	l.txs[txID] = &txEntry{tx: tx, fate: fate}
	l.order = append(l.order, txID)
	return txID, nil
}

// Status advances the round by one per query.
func (l *Ledger) Status(ctx context.Context, txID string) (ledger.TxStatus, error) {
	if err := ctx.Err(); err != nil {
		return ledger.TxStatus{}, dErrors.Wrap(err, dErrors.CodeTransientQuery, "status query cancelled")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.round++

	e, ok := l.txs[txID]
	if !ok || e.fate.Lost {
		return ledger.TxStatus{NotFound: true}, nil
	}
	if e.round > 0 {
		return ledger.TxStatus{ConfirmedRound: e.round}, nil
	}
	if e.fate.PoolError != "" {
		return ledger.TxStatus{PoolError: e.fate.PoolError}, nil
	}
	if e.queries < e.fate.ConfirmAfter {
		e.queries++
		return ledger.TxStatus{}, nil
	}
	e.round = l.round
	return ledger.TxStatus{ConfirmedRound: e.round}, nil
}

// Transactions returns accepted transactions in submission order.
func (l *Ledger) Transactions() []ledger.UnsignedTx {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ledger.UnsignedTx, 0, len(l.order))
	for _, txID := range l.order {
		out = append(out, l.txs[txID].tx)
	}
	return out
}

// TxID is the base32 BLAKE3 digest of the encoded transaction.
func TxID(encoded []byte) string {
	sum := blake3.Sum256(encoded)
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(sum[:])
}

func rejected(msg string) error {
	return dErrors.New(dErrors.CodeSubmissionRejected, msg)
}
