package models

// Audit event actions describe what operation occurred.
const (
	AuditActionConsentRequested = "consent_requested"
	AuditActionConsentGranted   = "consent_granted"
	AuditActionConsentRevoked   = "consent_revoked"
	AuditActionDocumentViewed   = "document_viewed"
	AuditActionViewDenied       = "document_view_denied"
	AuditActionOperationFailed  = "consent_operation_failed"
)

// Audit event decisions record the outcome of the action.
const (
	AuditDecisionRequested = "requested"
	AuditDecisionGranted   = "granted"
	AuditDecisionRevoked   = "revoked"
	AuditDecisionAllowed   = "allowed"
	AuditDecisionDenied    = "denied"
	AuditDecisionFailed    = "failed"
)

// Audit event reasons explain why the action was taken.
const (
	AuditReasonUserInitiated  = "user_initiated"
	AuditReasonBulkRevocation = "bulk_revocation"
)
