package handler

import (
	"time"

	"consentledger/internal/consent/models"
	"consentledger/internal/consent/service"
	id "consentledger/pkg/domain"
	dErrors "consentledger/pkg/domain-errors"
	platformstrings "consentledger/pkg/platform/strings"
	"consentledger/pkg/platform/validation"
	v "consentledger/pkg/validation"
)

// CreateConsentRequest asks a recipient for consent over one document.
type CreateConsentRequest struct {
	Recipient     string `json:"recipient" validate:"required,chainaddr"`
	DocumentHash  string `json:"document_hash" validate:"required,notblank,max=256"`
	DocumentType  string `json:"document_type" validate:"required,notblank,max=256"`
	CorrelationID string `json:"correlation_id,omitempty" validate:"omitempty,uuid"`
}

func (r *CreateConsentRequest) Sanitize() {
	platformstrings.TrimInPlace(&r.Recipient, &r.DocumentHash, &r.DocumentType, &r.CorrelationID)
}

func (r *CreateConsentRequest) Validate() error {
	if err := validation.CheckStringLength("recipient", r.Recipient, validation.MaxAddressLength); err != nil {
		return err
	}
	return v.Validate(r)
}

func (r *CreateConsentRequest) ToCommand(sender id.Address, corr id.CorrelationID) service.RequestCommand {
	return service.RequestCommand{
		Sender:        sender,
		Recipient:     id.Address(r.Recipient),
		DocumentHash:  r.DocumentHash,
		DocumentType:  r.DocumentType,
		CorrelationID: corr,
	}
}

// GrantRequest carries the permissions and optional expiry of a grant.
// ExpiresInDays is a convenience for clients that do not compute timestamps;
// it resolves against the clock on every attempt, so retries under one
// correlation id should send the absolute expires_at instead.
type GrantRequest struct {
	Permissions   []string   `json:"permissions" validate:"dive,notblank"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	ExpiresInDays *int       `json:"expires_in_days,omitempty" validate:"omitempty,min=1,max=3650"`
	CorrelationID string     `json:"correlation_id,omitempty" validate:"omitempty,uuid"`
}

func (r *GrantRequest) Sanitize() {
	platformstrings.TrimEach(r.Permissions)
	platformstrings.TrimInPlace(&r.CorrelationID)
}

func (r *GrantRequest) Validate() error {
	if err := validation.CheckSliceCount("permissions", len(r.Permissions), validation.MaxPermissions); err != nil {
		return err
	}
	if err := validation.CheckEachStringLength("permission", r.Permissions, validation.MaxPermissionLength); err != nil {
		return err
	}
	if r.ExpiresAt != nil && r.ExpiresInDays != nil {
		return dErrors.New(dErrors.CodeValidation, "set either expires_at or expires_in_days, not both")
	}
	return v.Validate(r)
}

func (r *GrantRequest) ToCommand(consentID id.ConsentID, actor id.Address, corr id.CorrelationID, now time.Time) (service.GrantCommand, error) {
	perms, err := models.ParsePermissions(r.Permissions)
	if err != nil {
		return service.GrantCommand{}, err
	}
	expiresAt := r.ExpiresAt
	if r.ExpiresInDays != nil {
		t := now.AddDate(0, 0, *r.ExpiresInDays)
		expiresAt = &t
	}
	return service.GrantCommand{
		ConsentID:     consentID,
		Actor:         actor,
		Permissions:   perms,
		ExpiresAt:     expiresAt,
		CorrelationID: corr,
	}, nil
}

// RevokeRequest is optional on revoke; it only carries a correlation id.
type RevokeRequest struct {
	CorrelationID string `json:"correlation_id,omitempty" validate:"omitempty,uuid"`
}

func (r *RevokeRequest) Sanitize() {
	platformstrings.TrimInPlace(&r.CorrelationID)
}

func (r *RevokeRequest) Validate() error {
	return v.Validate(r)
}

// BulkRevokeRequest lists the consents to revoke in one call.
type BulkRevokeRequest struct {
	ConsentIDs []string `json:"consent_ids" validate:"required,min=1,dive,uuid"`
}

// Normalize drops blanks and duplicates while preserving order.
func (r *BulkRevokeRequest) Normalize() {
	r.ConsentIDs = platformstrings.DedupeFold(r.ConsentIDs)
}

func (r *BulkRevokeRequest) Validate() error {
	if err := validation.CheckSliceCount("consent_ids", len(r.ConsentIDs), validation.MaxBulkConsentIDs); err != nil {
		return err
	}
	return v.Validate(r)
}

func (r *BulkRevokeRequest) ToConsentIDs() ([]id.ConsentID, error) {
	out := make([]id.ConsentID, 0, len(r.ConsentIDs))
	for _, raw := range r.ConsentIDs {
		cid, err := id.ParseConsentID(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, cid)
	}
	return out, nil
}
