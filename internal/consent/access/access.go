// Package access decides whether an identity may view or act on a consent.
// Every function is pure: no I/O and no clock reads.
package access

import (
	"time"

	"consentledger/internal/consent/lifecycle"
	"consentledger/internal/consent/models"
	id "consentledger/pkg/domain"
	dErrors "consentledger/pkg/domain-errors"
)

// Reason explains a decision. Values are stable and safe to show to users.
type Reason string

const (
	ReasonNoRecord       Reason = "no consent request found"
	ReasonNotParticipant Reason = "not a participant"
	ReasonRevoked        Reason = "revoked"
	ReasonExpired        Reason = "expired"
	ReasonNotGranted     Reason = "not granted yet"
	ReasonGranted        Reason = "access granted"
	ReasonIllegal        Reason = "transition not allowed"
	ReasonWrongParty     Reason = "not permitted for this party"
)

// Decision is the evaluator's answer. Permissions is set only when Allowed.
type Decision struct {
	Allowed     bool
	Reason      Reason
	Permissions models.Permissions
}

func deny(r Reason) Decision { return Decision{Reason: r} }

// CanView evaluates view access; the first matching rule wins.
func CanView(rec *models.Record, identity id.Address, now time.Time) Decision {
	switch {
	case rec == nil:
		return deny(ReasonNoRecord)
	case !rec.IsParticipant(identity):
		return deny(ReasonNotParticipant)
	case rec.Status == models.StatusRevoked:
		return deny(ReasonRevoked)
	case rec.IsExpired(now):
		return deny(ReasonExpired)
	case rec.Status != models.StatusGranted:
		return deny(ReasonNotGranted)
	}
	return Decision{
		Allowed:     true,
		Reason:      ReasonGranted,
		Permissions: rec.Permissions.Normalize(),
	}
}

// CanModify answers whether identity may trigger action against rec.
// A nil record only admits REQUEST.
func CanModify(rec *models.Record, identity id.Address, action models.Action) Decision {
	if rec == nil && action != models.ActionRequest {
		return deny(ReasonNoRecord)
	}
	if rec != nil && !rec.IsParticipant(identity) {
		return deny(ReasonNotParticipant)
	}
	_, err := lifecycle.Check(rec, action, identity)
	switch {
	case err == nil:
		return Decision{Allowed: true, Reason: ReasonGranted}
	case dErrors.HasCode(err, dErrors.CodeAuthorizationDenied):
		return deny(ReasonWrongParty)
	default:
		return deny(ReasonIllegal)
	}
}

// Err converts a denied decision into a coded error.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	switch d.Reason {
	case ReasonNoRecord:
		return dErrors.New(dErrors.CodeNotFound, string(d.Reason))
	case ReasonIllegal:
		return dErrors.New(dErrors.CodeIllegalTransition, string(d.Reason))
	default:
		return dErrors.New(dErrors.CodeForbidden, string(d.Reason))
	}
}
