package handler

import (
	"time"

	"consentledger/internal/audit"
	"consentledger/internal/consent/access"
	"consentledger/internal/consent/models"
	"consentledger/internal/consent/service"
	"consentledger/internal/ledger/confirm"
	dErrors "consentledger/pkg/domain-errors"
	"consentledger/pkg/platform/httputil"
)

// Consent is a consent record in HTTP responses. Status is the stored state;
// EffectiveStatus folds in expiry at response time.
type Consent struct {
	ID              string        `json:"id"`
	DocumentHash    string        `json:"document_hash"`
	DocumentType    string        `json:"document_type"`
	Sender          string        `json:"sender"`
	Recipient       string        `json:"recipient"`
	Status          models.Status `json:"status"`
	EffectiveStatus models.Status `json:"effective_status"`
	CreatedAt       time.Time     `json:"created_at"`
	GrantedAt       *time.Time    `json:"granted_at,omitempty"`
	RevokedAt       *time.Time    `json:"revoked_at,omitempty"`
	ExpiresAt       *time.Time    `json:"expires_at,omitempty"`
	RemainingTime   string        `json:"remaining_time,omitempty"`
	Permissions     []string      `json:"permissions"`
	Evidence        Evidence      `json:"evidence"`
}

type Evidence struct {
	Request *TxRef `json:"request,omitempty"`
	Grant   *TxRef `json:"grant,omitempty"`
	Revoke  *TxRef `json:"revoke,omitempty"`
}

type TxRef struct {
	TxID       string `json:"tx_id"`
	Round      uint64 `json:"round,omitempty"`
	Optimistic bool   `json:"optimistic,omitempty"`
}

// Submission describes the ledger side of a transition. CorrelationID is the
// key to retry with or to poll /submissions with.
type Submission struct {
	CorrelationID string        `json:"correlation_id,omitempty"`
	State         confirm.State `json:"state"`
	TxID          string        `json:"tx_id,omitempty"`
	Round         uint64        `json:"round,omitempty"`
	Optimistic    bool          `json:"optimistic,omitempty"`
	Polls         int           `json:"polls"`
	Reason        string        `json:"reason,omitempty"`
	Replayed      bool          `json:"replayed,omitempty"`
	Message       string        `json:"message,omitempty"`
}

// TransitionResponse answers REQUEST, GRANT and REVOKE. Consent is omitted
// while the transaction is still unconfirmed.
type TransitionResponse struct {
	Consent    *Consent   `json:"consent,omitempty"`
	Submission Submission `json:"submission"`
}

type ListResponse struct {
	Consents []*Consent `json:"consents"`
	Count    int        `json:"count"`
}

type AccessResponse struct {
	Allowed     bool     `json:"allowed"`
	Reason      string   `json:"reason"`
	Permissions []string `json:"permissions,omitempty"`
}

type ViewResponse struct {
	Access     AccessResponse `json:"access"`
	Consent    *Consent       `json:"consent"`
	Submission *Submission    `json:"submission,omitempty"`
}

type HistoryResponse struct {
	ConsentID string        `json:"consent_id"`
	Events    []audit.Event `json:"events"`
}

type BulkItem struct {
	ConsentID string                 `json:"consent_id"`
	Revoked   bool                   `json:"revoked"`
	TxID      string                 `json:"tx_id,omitempty"`
	Error     *httputil.ErrorResponse `json:"error,omitempty"`
}

type BulkRevokeResponse struct {
	Results   []BulkItem `json:"results"`
	Succeeded int        `json:"succeeded"`
	Failed    int        `json:"failed"`
}

const pendingMessage = "transaction not confirmed yet; retry with the same correlation_id or poll /submissions/{correlation_id}"

func toConsent(r *models.Record, now time.Time) *Consent {
	if r == nil {
		return nil
	}
	perms := r.Permissions.Strings()
	if perms == nil {
		perms = []string{}
	}
	return &Consent{
		ID:              r.ID.String(),
		DocumentHash:    r.DocumentHash,
		DocumentType:    r.DocumentType,
		Sender:          r.Sender.String(),
		Recipient:       r.Recipient.String(),
		Status:          r.Status,
		EffectiveStatus: r.EffectiveStatus(now),
		CreatedAt:       r.CreatedAt,
		GrantedAt:       r.GrantedAt,
		RevokedAt:       r.RevokedAt,
		ExpiresAt:       r.ExpiresAt,
		RemainingTime:   remainingTime(r, now),
		Permissions:     perms,
		Evidence: Evidence{
			Request: toTxRef(r.Evidence.Request),
			Grant:   toTxRef(r.Evidence.Grant),
			Revoke:  toTxRef(r.Evidence.Revoke),
		},
	}
}

// remainingTime is only meaningful for granted consents.
func remainingTime(r *models.Record, now time.Time) string {
	if r.Status != models.StatusGranted {
		return ""
	}
	return r.RemainingTime(now)
}

func toTxRef(ref models.TxRef) *TxRef {
	if ref.IsZero() {
		return nil
	}
	return &TxRef{TxID: ref.TxID, Round: ref.Round, Optimistic: ref.Optimistic}
}

func toSubmission(corr string, out confirm.Outcome) Submission {
	sub := Submission{
		CorrelationID: corr,
		State:         out.State,
		TxID:          out.TxID,
		Round:         out.Round,
		Optimistic:    out.Optimistic,
		Polls:         out.Polls,
		Reason:        out.Reason,
		Replayed:      out.Replayed,
	}
	if !out.Terminal() && out.State != "" {
		sub.Message = pendingMessage
	}
	return sub
}

func toListResponse(records []*models.Record, now time.Time) *ListResponse {
	consents := make([]*Consent, 0, len(records))
	for _, r := range records {
		consents = append(consents, toConsent(r, now))
	}
	return &ListResponse{Consents: consents, Count: len(consents)}
}

func toAccessResponse(d access.Decision) AccessResponse {
	resp := AccessResponse{Allowed: d.Allowed, Reason: string(d.Reason)}
	if d.Allowed {
		resp.Permissions = d.Permissions.Strings()
	}
	return resp
}

func toBulkResponse(items []service.BulkItem) *BulkRevokeResponse {
	resp := &BulkRevokeResponse{Results: make([]BulkItem, 0, len(items))}
	for _, it := range items {
		item := BulkItem{ConsentID: it.ConsentID.String()}
		if it.Err != nil {
			code := dErrors.CodeOf(it.Err)
			item.Error = &httputil.ErrorResponse{
				Error:     httputil.DomainCodeToHTTPCode(code),
				Retryable: dErrors.IsRetryable(it.Err),
			}
			if code != dErrors.CodeInternal {
				item.Error.ErrorDescription = it.Err.Error()
			}
			if it.Result != nil {
				item.TxID = it.Result.Outcome.TxID
			}
			resp.Failed++
		} else {
			item.Revoked = true
			item.TxID = it.Result.Outcome.TxID
			resp.Succeeded++
		}
		resp.Results = append(resp.Results, item)
	}
	return resp
}
