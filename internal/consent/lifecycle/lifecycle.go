// Package lifecycle defines the legal consent transitions and who may trigger them.
//
// Checks here run before any ledger round-trip, so an impossible transition
// never costs a submission. Apply is the only place a record's status and
// transition timestamps change.
package lifecycle

import (
	"fmt"
	"time"

	"consentledger/internal/consent/models"
	id "consentledger/pkg/domain"
	dErrors "consentledger/pkg/domain-errors"
)

// Party is the side of a consent an identity stands on.
type Party int

const (
	PartyNone Party = iota
	PartySender
	PartyRecipient
)

func (p Party) String() string {
	switch p {
	case PartySender:
		return "sender"
	case PartyRecipient:
		return "recipient"
	default:
		return "none"
	}
}

// Rule is one row of the transition table.
type Rule struct {
	From   models.Status // empty for REQUEST
	To     models.Status
	Action models.Action
	By     []Party
}

// Rules is the complete transition table; anything absent is illegal.
var Rules = []Rule{
	{From: "", To: models.StatusPending, Action: models.ActionRequest, By: []Party{PartySender}},
	{From: models.StatusPending, To: models.StatusGranted, Action: models.ActionGrant, By: []Party{PartyRecipient}},
	{From: models.StatusGranted, To: models.StatusRevoked, Action: models.ActionRevoke, By: []Party{PartySender, PartyRecipient}},
	{From: models.StatusPending, To: models.StatusRevoked, Action: models.ActionRevoke, By: []Party{PartySender}},
}

// PartyOf reports which side addr is on. A nil record yields PartyNone.
func PartyOf(rec *models.Record, addr id.Address) Party {
	switch {
	case rec == nil || addr.IsZero():
		return PartyNone
	case addr == rec.Sender:
		return PartySender
	case addr == rec.Recipient:
		return PartyRecipient
	default:
		return PartyNone
	}
}

func lookup(from models.Status, action models.Action) (Rule, bool) {
	for _, r := range Rules {
		if r.From == from && r.Action == action {
			return r, true
		}
	}
	return Rule{}, false
}

// Target returns the status action leads to from the record's stored status.
// A nil record means the consent does not exist yet.
func Target(rec *models.Record, action models.Action) (models.Status, error) {
	var from models.Status
	if rec != nil {
		from = rec.Status
	}
	rule, ok := lookup(from, action)
	if !ok {
		return "", illegal(from, action)
	}
	return rule.To, nil
}

// Allowed reports whether party may trigger action from status.
func Allowed(from models.Status, action models.Action, party Party) bool {
	rule, ok := lookup(from, action)
	if !ok {
		return false
	}
	for _, p := range rule.By {
		if p == party {
			return true
		}
	}
	return false
}

// Check validates both the transition and the actor. For REQUEST, rec is nil
// and the actor must be the named sender, so callers pass the prospective
// sender as actor and check identity themselves.
func Check(rec *models.Record, action models.Action, actor id.Address) (models.Status, error) {
	to, err := Target(rec, action)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return to, nil
	}
	party := PartyOf(rec, actor)
	if !Allowed(rec.Status, action, party) {
		return "", dErrors.New(dErrors.CodeAuthorizationDenied,
			fmt.Sprintf("%s may not %s a %s consent", party, action, rec.Status))
	}
	return to, nil
}

// Change describes a confirmed transition to apply.
type Change struct {
	Action      models.Action
	Actor       id.Address
	At          time.Time
	Permissions models.Permissions // GRANT only
	ExpiresAt   *time.Time         // GRANT only
	Tx          models.TxRef
}

// Apply returns a copy of rec with the change applied. rec is never modified,
// so a rejected change leaves the caller's record exactly as it was.
func Apply(rec *models.Record, c Change) (*models.Record, error) {
	if rec == nil {
		return nil, dErrors.New(dErrors.CodeIllegalTransition, "no consent to transition")
	}
	to, err := Check(rec, c.Action, c.Actor)
	if err != nil {
		return nil, err
	}
	if c.At.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "transition time required")
	}

	next := rec.Clone()
	next.Status = to
	at := c.At

	switch c.Action {
	case models.ActionGrant:
		if next.GrantedAt != nil {
			return nil, dErrors.New(dErrors.CodeInvariantViolation, "grant time already set")
		}
		if err := c.Permissions.Validate(); err != nil {
			return nil, err
		}
		if c.ExpiresAt != nil && !c.ExpiresAt.After(rec.CreatedAt) {
			return nil, dErrors.New(dErrors.CodeInvalidIntent, "expiry must be after creation time")
		}
		next.GrantedAt = &at
		next.Permissions = c.Permissions.Normalize()
		next.ExpiresAt = cloneTime(c.ExpiresAt)
		next.Evidence.Grant = c.Tx
	case models.ActionRevoke:
		if next.RevokedAt != nil {
			return nil, dErrors.New(dErrors.CodeInvariantViolation, "revocation time already set")
		}
		next.RevokedAt = &at
		next.Evidence.Revoke = c.Tx
	default:
		return nil, illegal(rec.Status, c.Action)
	}
	return next, nil
}

func illegal(from models.Status, action models.Action) error {
	if from == "" {
		from = "(none)"
	}
	return dErrors.New(dErrors.CodeIllegalTransition,
		fmt.Sprintf("cannot %s a consent in state %s", action, from))
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
