package models

import (
	"fmt"
	"slices"
	"strings"
	"time"

	id "consentledger/pkg/domain"
	dErrors "consentledger/pkg/domain-errors"
)

// MaxDocumentFieldLength bounds documentHash and documentType.
const MaxDocumentFieldLength = 256

// TxRef links a transition to the ledger entry that recorded it.
type TxRef struct {
	TxID  string
	Round uint64
	// Optimistic marks a confirmation inferred from repeated not-found polls.
	Optimistic bool
}

func (r TxRef) IsZero() bool { return r.TxID == "" }

// Evidence carries one ledger reference per transition.
type Evidence struct {
	Request TxRef
	Grant   TxRef
	Revoke  TxRef
}

// Record is one sender→recipient consent over one document.
//
// Status only moves forward: PENDING → GRANTED → REVOKED, or PENDING → REVOKED.
// GrantedAt and RevokedAt are written once by the transition that owns them and
// Permissions stay empty until the record is granted. Expiry never mutates
// Status; callers ask EffectiveStatus at read time.
type Record struct {
	ID           id.ConsentID
	DocumentHash string
	DocumentType string
	Sender       id.Address
	Recipient    id.Address
	Status       Status
	CreatedAt    time.Time
	GrantedAt    *time.Time
	RevokedAt    *time.Time
	ExpiresAt    *time.Time
	Permissions  Permissions
	Evidence     Evidence
}

// NewRecord creates a PENDING record with domain invariant checks.
func NewRecord(consentID id.ConsentID, documentHash, documentType string, sender, recipient id.Address, createdAt time.Time) (*Record, error) {
	if consentID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "consent ID required")
	}
	documentHash = strings.TrimSpace(documentHash)
	if documentHash == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "document hash required")
	}
	if len(documentHash) > MaxDocumentFieldLength || len(documentType) > MaxDocumentFieldLength {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "document fields too long")
	}
	if sender.IsZero() || recipient.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "sender and recipient required")
	}
	if sender == recipient {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "sender and recipient must differ")
	}
	if createdAt.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "creation time required")
	}
	return &Record{
		ID:           consentID,
		DocumentHash: documentHash,
		DocumentType: strings.TrimSpace(documentType),
		Sender:       sender,
		Recipient:    recipient,
		Status:       StatusPending,
		CreatedAt:    createdAt,
	}, nil
}

// Validate re-checks the stored invariants, used when loading from persistence.
func (r *Record) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeInvariantViolation, "record required")
	}
	if !r.Status.IsStored() {
		return dErrors.New(dErrors.CodeInvariantViolation, fmt.Sprintf("invalid stored status %q", r.Status))
	}
	if r.Sender == r.Recipient {
		return dErrors.New(dErrors.CodeInvariantViolation, "sender and recipient must differ")
	}
	if r.Status == StatusPending && len(r.Permissions) > 0 {
		return dErrors.New(dErrors.CodeInvariantViolation, "pending record cannot carry permissions")
	}
	if r.Status == StatusGranted && r.GrantedAt == nil {
		return dErrors.New(dErrors.CodeInvariantViolation, "granted record missing grant time")
	}
	if r.Status == StatusRevoked && r.RevokedAt == nil {
		return dErrors.New(dErrors.CodeInvariantViolation, "revoked record missing revocation time")
	}
	if r.ExpiresAt != nil && !r.ExpiresAt.After(r.CreatedAt) {
		return dErrors.New(dErrors.CodeInvariantViolation, "expiry must be after creation time")
	}
	return nil
}

// IsParticipant reports whether addr is the sender or recipient.
func (r *Record) IsParticipant(addr id.Address) bool {
	return addr == r.Sender || addr == r.Recipient
}

// IsExpired is true for a GRANTED record whose expiry has passed.
func (r *Record) IsExpired(now time.Time) bool {
	return r.Status == StatusGranted && r.ExpiresAt != nil && now.After(*r.ExpiresAt)
}

// EffectiveStatus reports the lifecycle state at now, deriving EXPIRED.
func (r *Record) EffectiveStatus(now time.Time) Status {
	if r.IsExpired(now) {
		return StatusExpired
	}
	return r.Status
}

// IsActive returns true when consent currently authorizes access.
func (r *Record) IsActive(now time.Time) bool {
	return r.Status == StatusGranted && !r.IsExpired(now)
}

// RemainingTime renders the time left before expiry in human terms.
func (r *Record) RemainingTime(now time.Time) string {
	if r.ExpiresAt == nil {
		return "No expiry"
	}
	if now.After(*r.ExpiresAt) {
		return "Expired"
	}
	diff := r.ExpiresAt.Sub(now)
	days := int(diff / (24 * time.Hour))
	hours := int((diff % (24 * time.Hour)) / time.Hour)
	switch {
	case days > 0:
		return plural(days, "day") + " remaining"
	case hours > 0:
		return plural(hours, "hour") + " remaining"
	default:
		return "Less than 1 hour"
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.GrantedAt = cloneTime(r.GrantedAt)
	out.RevokedAt = cloneTime(r.RevokedAt)
	out.ExpiresAt = cloneTime(r.ExpiresAt)
	out.Permissions = slices.Clone(r.Permissions)
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Role narrows a listing to one side of the consent.
type Role string

const (
	RoleAny       Role = ""
	RoleSender    Role = "sender"
	RoleRecipient Role = "recipient"
)

// RecordFilter selects records for one participant.
type RecordFilter struct {
	Participant  id.Address
	Role         Role
	Status       *Status
	DocumentType string
}

// Matches applies the filter at now so EXPIRED can be selected.
func (f RecordFilter) Matches(r *Record, now time.Time) bool {
	switch f.Role {
	case RoleSender:
		if r.Sender != f.Participant {
			return false
		}
	case RoleRecipient:
		if r.Recipient != f.Participant {
			return false
		}
	default:
		if !r.IsParticipant(f.Participant) {
			return false
		}
	}
	if f.Status != nil && r.EffectiveStatus(now) != *f.Status {
		return false
	}
	if f.DocumentType != "" && !strings.EqualFold(r.DocumentType, f.DocumentType) {
		return false
	}
	return true
}

// Stats summarizes a participant's consents. Granted counts every record that
// reached GRANTED and is not revoked; Active and Expired partition it.
type Stats struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Granted int `json:"granted"`
	Active  int `json:"active"`
	Expired int `json:"expired"`
	Revoked int `json:"revoked"`
}

// ComputeStats folds records into Stats at now.
func ComputeStats(records []*Record, now time.Time) Stats {
	s := Stats{Total: len(records)}
	for _, r := range records {
		switch r.Status {
		case StatusPending:
			s.Pending++
		case StatusGranted:
			s.Granted++
			if r.IsExpired(now) {
				s.Expired++
			} else {
				s.Active++
			}
		case StatusRevoked:
			s.Revoked++
		}
	}
	return s
}
