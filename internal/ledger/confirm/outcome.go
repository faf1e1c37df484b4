package confirm

import (
	"fmt"

	dErrors "consentledger/pkg/domain-errors"
)

// State is the terminal (or locally abandoned) state of one submission.
type State string

const (
	StateConfirmed State = "confirmed"
	// StatePending means the local wait was cancelled after submission.
	StatePending  State = "pending"
	StateFailed   State = "failed"
	StateTimedOut State = "timed_out"
)

// Outcome reports how a submitted transaction ended.
type Outcome struct {
	State       State  `json:"state"`
	TxID        string `json:"tx_id,omitempty"`
	Round       uint64 `json:"round,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Optimistic  bool   `json:"optimistic,omitempty"`
	Polls       int    `json:"polls"`
	Fingerprint string `json:"fingerprint,omitempty"`
	// Replayed is set when the outcome came from an earlier submission with
	// the same correlation id.
	Replayed bool `json:"-"`
}

// Terminal reports whether re-checking can no longer change the outcome.
func (o Outcome) Terminal() bool {
	return o.State == StateConfirmed || o.State == StateFailed
}

// Err maps a non-confirmed outcome to a coded error.
func (o Outcome) Err() error {
	switch o.State {
	case StateConfirmed:
		return nil
	case StateFailed:
		return dErrors.New(dErrors.CodeTransactionFailed, fmt.Sprintf("transaction %s failed: %s", o.TxID, o.Reason))
	case StateTimedOut:
		return dErrors.New(dErrors.CodeTimedOut,
			fmt.Sprintf("transaction %s not confirmed after %d polls; re-check later instead of resubmitting", o.TxID, o.Polls))
	default:
		return dErrors.New(dErrors.CodeTimedOut,
			fmt.Sprintf("stopped waiting for transaction %s; it may still confirm", o.TxID))
	}
}
