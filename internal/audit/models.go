package audit

import "time"

// Event is one entry in a consent's history. Actor is the address of the
// party that acted; it is empty for system-initiated entries.
type Event struct {
	Timestamp     time.Time `json:"timestamp"`
	ConsentID     string    `json:"consent_id"`
	Actor         string    `json:"actor,omitempty"`
	Action        string    `json:"action"`
	Decision      string    `json:"decision"`
	Reason        string    `json:"reason,omitempty"`
	TxID          string    `json:"tx_id,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	RequestID     string    `json:"request_id,omitempty"`
}
