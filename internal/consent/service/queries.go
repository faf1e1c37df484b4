package service

import (
	"context"
	"errors"
	"time"

	"consentledger/internal/audit"
	"consentledger/internal/consent/access"
	"consentledger/internal/consent/models"
	"consentledger/internal/ledger/confirm"
	"consentledger/internal/ledger/txbuilder"
	"consentledger/internal/sentinel"
	id "consentledger/pkg/domain"
	dErrors "consentledger/pkg/domain-errors"
)

// ViewResult is the answer to a view request. Record is set only when the
// view was allowed; Outcome only when the view was logged on the ledger.
type ViewResult struct {
	Decision      access.Decision
	Record        *models.Record
	RemainingTime string
	Outcome       *confirm.Outcome
}

// View evaluates view access for identity and, when allowed and view logging
// is on, records the view as a VIEW transaction before answering.
func (s *Service) View(ctx context.Context, consentID id.ConsentID, identity id.Address) (res *ViewResult, err error) {
	start := time.Now()
	defer s.observe(models.ActionView, start, &err)

	if identity.IsZero() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "missing identity")
	}
	rec, err := s.load(ctx, consentID)
	if err != nil {
		return nil, err
	}
	now := s.now(ctx)
	d := access.CanView(rec, identity, now)
	res = &ViewResult{Decision: d}
	if !d.Allowed {
		s.recordView(ctx, rec, identity, d, "")
		return res, d.Err()
	}

	if s.logViews {
		corr := id.NewCorrelationID()
		built, err := s.builder.Build(txbuilder.Intent{
			Kind:          models.ActionView,
			Actor:         identity,
			CorrelationID: corr,
			ConsentID:     consentID,
		})
		if err != nil {
			return res, err
		}
		out, err := s.submit(ctx, built)
		if err != nil {
			s.recordFailure(ctx, models.ActionView, consentID, identity, corr, out, err)
			return res, err
		}
		res.Outcome = &out
	}

	var txID string
	if res.Outcome != nil {
		txID = res.Outcome.TxID
	}
	s.recordView(ctx, rec, identity, d, txID)
	res.Record = rec
	res.RemainingTime = rec.RemainingTime(now)
	return res, nil
}

// Check answers the view question without logging anything. Only
// infrastructure failures are returned as errors.
func (s *Service) Check(ctx context.Context, consentID id.ConsentID, identity id.Address) (access.Decision, error) {
	rec, err := s.load(ctx, consentID)
	if err != nil {
		return access.Decision{}, err
	}
	return access.CanView(rec, identity, s.now(ctx)), nil
}

// Get returns a record to one of its participants.
func (s *Service) Get(ctx context.Context, consentID id.ConsentID, identity id.Address) (*models.Record, error) {
	if identity.IsZero() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "missing identity")
	}
	rec, err := s.store.FindByID(ctx, consentID)
	if err != nil {
		return nil, translateStoreErr(err, "failed to read consent")
	}
	if !rec.IsParticipant(identity) {
		return nil, dErrors.New(dErrors.CodeForbidden, string(access.ReasonNotParticipant))
	}
	return rec, nil
}

// List returns the participant's consents, newest first.
func (s *Service) List(ctx context.Context, filter models.RecordFilter) ([]*models.Record, error) {
	if filter.Participant.IsZero() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "missing identity")
	}
	if filter.Status != nil && !filter.Status.IsValid() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "invalid status filter")
	}
	start := time.Now()
	records, err := s.store.List(ctx, filter, s.now(ctx))
	if err != nil {
		return nil, translateStoreErr(err, "failed to list consents")
	}
	if s.metrics != nil {
		s.metrics.ObserveStoreOperationLatency("list", time.Since(start).Seconds())
		s.metrics.ObserveRecordsPerParticipant(float64(len(records)))
	}
	return records, nil
}

// Stats summarizes every consent the participant is party to.
func (s *Service) Stats(ctx context.Context, participant id.Address) (models.Stats, error) {
	records, err := s.List(ctx, models.RecordFilter{Participant: participant})
	if err != nil {
		return models.Stats{}, err
	}
	return models.ComputeStats(records, s.now(ctx)), nil
}

// History returns the audit trail of one consent to a participant.
func (s *Service) History(ctx context.Context, consentID id.ConsentID, identity id.Address) ([]audit.Event, error) {
	if _, err := s.Get(ctx, consentID, identity); err != nil {
		return nil, err
	}
	if s.auditor == nil {
		return []audit.Event{}, nil
	}
	events, err := s.auditor.History(ctx, consentID.String())
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read consent history")
	}
	return events, nil
}

// load treats a missing record as nil so the evaluator can deny it.
func (s *Service) load(ctx context.Context, consentID id.ConsentID) (*models.Record, error) {
	rec, err := s.store.FindByID(ctx, consentID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, translateStoreErr(err, "failed to read consent")
	}
	return rec, nil
}
