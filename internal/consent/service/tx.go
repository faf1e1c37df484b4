package service

import (
	"context"
	"time"

	"consentledger/internal/consent/models"
	"consentledger/internal/sentinel"
	id "consentledger/pkg/domain"
	dErrors "consentledger/pkg/domain-errors"
)

// lockRecord serializes every transition on one consent for the whole
// check → submit → apply sequence. The wait is bounded only by ctx because
// the holder may be polling the ledger.
func (s *Service) lockRecord(ctx context.Context, consentID id.ConsentID) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTimedOut, "operation aborted: context cancelled")
	}
	key := consentID.String()

	lockStart := time.Now()
	if err := s.locks.LockContext(ctx, key); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTimedOut, "gave up waiting for the consent record lock")
	}
	if s.metrics != nil {
		s.metrics.ObserveLockWait(time.Since(lockStart).Seconds())
	}
	return func() { s.locks.Unlock(key) }, nil
}

// expectStatus is the compare half of compare-on-apply: the write only
// happens if the stored record is still in the state the transition was
// checked against.
func expectStatus(from models.Status) func(*models.Record) error {
	return func(rec *models.Record) error {
		if rec.Status != from {
			return sentinel.ErrStaleState
		}
		return nil
	}
}
