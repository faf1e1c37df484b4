package service

import (
	"context"
	"log/slog"
	"time"

	"consentledger/internal/audit"
	"consentledger/internal/consent/access"
	"consentledger/internal/consent/models"
	"consentledger/internal/ledger/confirm"
	"consentledger/internal/notify"
	id "consentledger/pkg/domain"
	dErrors "consentledger/pkg/domain-errors"
	"consentledger/pkg/requestcontext"
)

var transitionAudit = map[models.Action]struct {
	action   string
	decision string
	kind     notify.Kind
}{
	models.ActionRequest: {models.AuditActionConsentRequested, models.AuditDecisionRequested, notify.KindRequestCreated},
	models.ActionGrant:   {models.AuditActionConsentGranted, models.AuditDecisionGranted, notify.KindConsentGranted},
	models.ActionRevoke:  {models.AuditActionConsentRevoked, models.AuditDecisionRevoked, notify.KindConsentRevoked},
}

// observe records latency and, for failures, the error code. err is a
// pointer so deferred calls see the named result.
func (s *Service) observe(action models.Action, start time.Time, err *error) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveOperationLatency(string(action), time.Since(start).Seconds())
	if err != nil && *err != nil {
		s.metrics.IncrementFailed(string(action), string(dErrors.CodeOf(*err)))
	}
}

func (s *Service) recordTransition(ctx context.Context, action models.Action, rec *models.Record, actor id.Address,
	corr id.CorrelationID, out confirm.Outcome, reason string) {
	meta := transitionAudit[action]
	if reason == "" {
		reason = models.AuditReasonUserInitiated
	}
	s.emitAudit(ctx, audit.Event{
		ConsentID:     rec.ID.String(),
		Actor:         actor.String(),
		Action:        meta.action,
		Decision:      meta.decision,
		Reason:        reason,
		TxID:          out.TxID,
		CorrelationID: corr.String(),
	})
	if s.metrics != nil {
		s.metrics.IncrementTransition(string(action))
	}

	counterparty := rec.Recipient
	if actor == rec.Recipient {
		counterparty = rec.Sender
	}
	s.publish(notify.Event{
		Kind:          meta.kind,
		ConsentID:     rec.ID.String(),
		Actor:         actor.String(),
		Counterparty:  counterparty.String(),
		CorrelationID: corr.String(),
		TxID:          out.TxID,
		Round:         out.Round,
		Optimistic:    out.Optimistic,
		ExpiresAt:     rec.ExpiresAt,
	})

	s.logger.InfoContext(ctx, "consent transition applied",
		"action", action,
		"consent_id", rec.ID.String(),
		"status", rec.Status,
		"tx_id", out.TxID,
		"optimistic", out.Optimistic,
		"request_id", requestcontext.RequestID(ctx),
	)
}

func (s *Service) recordFailure(ctx context.Context, action models.Action, consentID id.ConsentID, actor id.Address,
	corr id.CorrelationID, out confirm.Outcome, err error) {
	code := dErrors.CodeOf(err)
	s.emitAudit(ctx, audit.Event{
		ConsentID:     consentID.String(),
		Actor:         actor.String(),
		Action:        models.AuditActionOperationFailed,
		Decision:      models.AuditDecisionFailed,
		Reason:        string(action) + ": " + string(code),
		TxID:          out.TxID,
		CorrelationID: corr.String(),
	})
	s.publish(notify.Event{
		Kind:          notify.KindOperationFailed,
		ConsentID:     consentID.String(),
		Actor:         actor.String(),
		CorrelationID: corr.String(),
		TxID:          out.TxID,
		Error:         err.Error(),
		ErrorCode:     string(code),
	})

	level := slog.LevelWarn
	if code == dErrors.CodeInternal {
		level = slog.LevelError
	}
	s.logger.Log(ctx, level, "consent operation failed",
		"action", action,
		"consent_id", consentID.String(),
		"correlation_id", corr.String(),
		"tx_id", out.TxID,
		"code", code,
		"retryable", dErrors.IsRetryable(err),
		"error", err,
		"request_id", requestcontext.RequestID(ctx),
	)
}

func (s *Service) recordView(ctx context.Context, rec *models.Record, identity id.Address, d access.Decision, txID string) {
	if s.metrics != nil {
		s.metrics.IncrementViewDecision(string(d.Reason))
	}
	if rec == nil {
		return
	}
	action, decision := models.AuditActionDocumentViewed, models.AuditDecisionAllowed
	if !d.Allowed {
		action, decision = models.AuditActionViewDenied, models.AuditDecisionDenied
	}
	s.emitAudit(ctx, audit.Event{
		ConsentID: rec.ID.String(),
		Actor:     identity.String(),
		Action:    action,
		Decision:  decision,
		Reason:    string(d.Reason),
		TxID:      txID,
	})
}

func (s *Service) emitAudit(ctx context.Context, event audit.Event) {
	if s.auditor == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if err := s.auditor.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to record consent audit event",
			"action", event.Action,
			"consent_id", event.ConsentID,
			"error", err,
		)
	}
}

func (s *Service) publish(event notify.Event) {
	if s.notifier == nil {
		return
	}
	s.notifier.Publish(event)
}
