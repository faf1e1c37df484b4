package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"consentledger/internal/consent/access"
	"consentledger/internal/consent/lifecycle"
	"consentledger/internal/consent/models"
	"consentledger/internal/ledger/confirm"
	"consentledger/internal/ledger/txbuilder"
	"consentledger/internal/sentinel"
	id "consentledger/pkg/domain"
	dErrors "consentledger/pkg/domain-errors"
)

// RequestCommand asks recipient for consent over one document.
// CorrelationID is optional; supplying the same one makes retries safe.
type RequestCommand struct {
	Sender        id.Address
	Recipient     id.Address
	DocumentHash  string
	DocumentType  string
	CorrelationID id.CorrelationID
}

type GrantCommand struct {
	ConsentID     id.ConsentID
	Actor         id.Address
	Permissions   models.Permissions
	ExpiresAt     *time.Time
	CorrelationID id.CorrelationID
}

type RevokeCommand struct {
	ConsentID     id.ConsentID
	Actor         id.Address
	CorrelationID id.CorrelationID
}

// Request records a new PENDING consent once the REQUEST transaction
// confirms. The consent id is derived from the correlation id, so a retry of
// a request that already landed returns the stored record untouched.
func (s *Service) Request(ctx context.Context, cmd RequestCommand) (res *Result, err error) {
	start := time.Now()
	defer s.observe(models.ActionRequest, start, &err)

	if cmd.Sender.IsZero() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "missing identity")
	}
	if _, err := lifecycle.Check(nil, models.ActionRequest, cmd.Sender); err != nil {
		return nil, err
	}
	corr := correlationOrNew(cmd.CorrelationID)
	consentID := id.ConsentIDFor(corr)

	built, err := s.builder.Build(txbuilder.Intent{
		Kind:          models.ActionRequest,
		Actor:         cmd.Sender,
		CorrelationID: corr,
		ConsentID:     consentID,
		DocumentHash:  cmd.DocumentHash,
		DocumentType:  cmd.DocumentType,
		Recipient:     cmd.Recipient,
	})
	if err != nil {
		return nil, err
	}
	rec, err := models.NewRecord(consentID, cmd.DocumentHash, cmd.DocumentType, cmd.Sender, cmd.Recipient, s.now(ctx))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidIntent, err.Error())
	}

	unlock, err := s.lockRecord(ctx, consentID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	existing, err := s.store.FindByID(ctx, consentID)
	switch {
	case err == nil:
		return s.replayedRequest(existing, cmd.Sender)
	case !errors.Is(err, sentinel.ErrNotFound):
		return nil, translateStoreErr(err, "failed to read consent")
	}

	out, err := s.submit(ctx, built)
	if err != nil {
		s.recordFailure(ctx, models.ActionRequest, consentID, cmd.Sender, corr, out, err)
		return &Result{Outcome: out}, err
	}

	rec.Evidence.Request = txRef(out)
	if err := s.store.Save(ctx, rec); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			// another instance applied the same confirmed request first
			if existing, findErr := s.store.FindByID(ctx, consentID); findErr == nil {
				return s.replayedRequest(existing, cmd.Sender)
			}
		}
		return &Result{Outcome: out}, translateStoreErr(err, "failed to save consent")
	}

	s.recordTransition(ctx, models.ActionRequest, rec, cmd.Sender, corr, out, "")
	return &Result{Record: rec, Outcome: out}, nil
}

func (s *Service) replayedRequest(existing *models.Record, sender id.Address) (*Result, error) {
	if existing.Sender != sender {
		return nil, dErrors.New(dErrors.CodeConflict, "correlation id already used by another sender")
	}
	return &Result{
		Record: existing,
		Outcome: confirm.Outcome{
			State:      confirm.StateConfirmed,
			TxID:       existing.Evidence.Request.TxID,
			Round:      existing.Evidence.Request.Round,
			Optimistic: existing.Evidence.Request.Optimistic,
			Replayed:   true,
		},
	}, nil
}

// Grant moves a PENDING consent to GRANTED on behalf of its recipient.
// Permissions may be empty; ExpiresAt, when set, must be in the future when
// the grant is first submitted. A retry of a recorded grant is applied even
// if its expiry has since passed.
func (s *Service) Grant(ctx context.Context, cmd GrantCommand) (res *Result, err error) {
	start := time.Now()
	defer s.observe(models.ActionGrant, start, &err)

	return s.transition(ctx, transition{
		consentID:     cmd.ConsentID,
		action:        models.ActionGrant,
		actor:         cmd.Actor,
		correlationID: cmd.CorrelationID,
		permissions:   cmd.Permissions.Normalize(),
		expiresAt:     cmd.ExpiresAt,
	})
}

// Revoke ends a consent. The recipient or sender may revoke a GRANTED
// consent; only the sender may withdraw a PENDING request.
func (s *Service) Revoke(ctx context.Context, cmd RevokeCommand) (res *Result, err error) {
	start := time.Now()
	defer s.observe(models.ActionRevoke, start, &err)

	return s.transition(ctx, transition{
		consentID:     cmd.ConsentID,
		action:        models.ActionRevoke,
		actor:         cmd.Actor,
		correlationID: cmd.CorrelationID,
	})
}

type transition struct {
	consentID     id.ConsentID
	action        models.Action
	actor         id.Address
	correlationID id.CorrelationID
	permissions   models.Permissions
	expiresAt     *time.Time
	reason        string
}

func (s *Service) transition(ctx context.Context, t transition) (*Result, error) {
	if t.actor.IsZero() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "missing identity")
	}
	if t.consentID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "consent id required")
	}
	corr := correlationOrNew(t.correlationID)

	unlock, err := s.lockRecord(ctx, t.consentID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	rec, err := s.store.FindByID(ctx, t.consentID)
	if err != nil {
		return nil, translateStoreErr(err, "failed to read consent")
	}
	if d := access.CanModify(rec, t.actor, t.action); !d.Allowed {
		return &Result{Record: rec}, d.Err()
	}

	built, err := s.builder.Build(txbuilder.Intent{
		Kind:          t.action,
		Actor:         t.actor,
		CorrelationID: corr,
		ConsentID:     t.consentID,
		Permissions:   t.permissions,
		ExpiresAt:     t.expiresAt,
	})
	if err != nil {
		return &Result{Record: rec}, err
	}

	out, err := s.submit(ctx, built)
	if err != nil {
		s.recordFailure(ctx, t.action, t.consentID, t.actor, corr, out, err)
		return &Result{Record: rec, Outcome: out}, err
	}

	next, err := lifecycle.Apply(rec, lifecycle.Change{
		Action:      t.action,
		Actor:       t.actor,
		At:          s.now(ctx),
		Permissions: t.permissions,
		ExpiresAt:   t.expiresAt,
		Tx:          txRef(out),
	})
	if err != nil {
		s.recordFailure(ctx, t.action, t.consentID, t.actor, corr, out, err)
		return &Result{Record: rec, Outcome: out}, err
	}

	saved, err := s.store.Execute(ctx, t.consentID, expectStatus(rec.Status), func(r *models.Record) {
		*r = *next.Clone()
	})
	if err != nil {
		err = translateStoreErr(err, "failed to apply consent transition")
		s.recordFailure(ctx, t.action, t.consentID, t.actor, corr, out, err)
		return &Result{Record: rec, Outcome: out}, err
	}

	s.recordTransition(ctx, t.action, saved, t.actor, corr, out, t.reason)
	return &Result{Record: saved, Outcome: out}, nil
}

// submit runs the coordinator and folds non-confirmed outcomes into errors.
func (s *Service) submit(ctx context.Context, built *txbuilder.Built) (confirm.Outcome, error) {
	out, err := s.confirmer.Submit(ctx, built)
	if err != nil {
		return out, err
	}
	if err := out.Err(); err != nil {
		return out, err
	}
	return out, nil
}

// BulkItem is the per-consent result of BulkRevoke.
type BulkItem struct {
	ConsentID id.ConsentID
	Result    *Result
	Err       error
}

// BulkRevoke revokes each consent independently. One failure never stops
// the others; the returned error only covers invalid input.
func (s *Service) BulkRevoke(ctx context.Context, actor id.Address, consentIDs []id.ConsentID) ([]BulkItem, error) {
	if actor.IsZero() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "missing identity")
	}
	if len(consentIDs) == 0 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "consent ids must not be empty")
	}
	if len(consentIDs) > MaxBulkItems {
		return nil, dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("at most %d consents per bulk revoke", MaxBulkItems))
	}

	items := make([]BulkItem, len(consentIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.bulkConcurrency)
	for i, consentID := range consentIDs {
		g.Go(func() error {
			start := time.Now()
			res, err := s.transition(gctx, transition{
				consentID: consentID,
				action:    models.ActionRevoke,
				actor:     actor,
				reason:    models.AuditReasonBulkRevocation,
			})
			s.observe(models.ActionRevoke, start, &err)
			items[i] = BulkItem{ConsentID: consentID, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return items, nil
}
