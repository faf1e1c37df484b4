// Package service runs consent operations end to end: it checks the
// transition locally, drives the matching ledger transaction to a terminal
// outcome and only then applies the change to the stored record.
package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Store,Confirmer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"consentledger/internal/audit"
	"consentledger/internal/consent/metrics"
	"consentledger/internal/consent/models"
	"consentledger/internal/ledger/confirm"
	"consentledger/internal/ledger/txbuilder"
	"consentledger/internal/notify"
	"consentledger/internal/sentinel"
	id "consentledger/pkg/domain"
	dErrors "consentledger/pkg/domain-errors"
	platformsync "consentledger/pkg/platform/sync"
	"consentledger/pkg/platform/middleware/requesttime"
)

// Store defines the persistence interface for consent records.
// Error Contract:
//   - FindByID and Execute return sentinel.ErrNotFound when no record exists
//   - Save returns sentinel.ErrConflict when the id is taken
//   - Execute returns sentinel.ErrStaleState when the stored status moved
//     between validation and the write
type Store interface {
	Save(ctx context.Context, rec *models.Record) error
	FindByID(ctx context.Context, consentID id.ConsentID) (*models.Record, error)
	List(ctx context.Context, filter models.RecordFilter, now time.Time) ([]*models.Record, error)
	Execute(ctx context.Context, consentID id.ConsentID, validate func(*models.Record) error, mutate func(*models.Record)) (*models.Record, error)
}

// Confirmer submits built transactions and reports their outcome.
type Confirmer interface {
	Submit(ctx context.Context, b *txbuilder.Built) (confirm.Outcome, error)
	Resume(ctx context.Context, correlationID id.CorrelationID) (confirm.Outcome, error)
}

type Option func(*Service)

const (
	defaultLockShards      = 256
	defaultBulkConcurrency = 4
	MaxBulkItems           = 100
)

// Service owns consent transitions and access decisions.
type Service struct {
	store     Store
	confirmer Confirmer
	builder   *txbuilder.Builder
	locks     *platformsync.ShardedMutex

	auditor  *audit.Publisher
	notifier *notify.Dispatcher
	metrics  *metrics.Metrics
	logger   *slog.Logger
	clock    func() time.Time

	logViews        bool
	bulkConcurrency int
}

func New(store Store, confirmer Confirmer, builder *txbuilder.Builder, opts ...Option) *Service {
	svc := &Service{
		store:           store,
		confirmer:       confirmer,
		builder:         builder,
		locks:           platformsync.NewShardedMutex(platformsync.WithShards(defaultLockShards)),
		bulkConcurrency: defaultBulkConcurrency,
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.logger == nil {
		svc.logger = slog.New(slog.DiscardHandler)
	}
	return svc
}

func WithAuditor(p *audit.Publisher) Option {
	return func(s *Service) {
		s.auditor = p
	}
}

func WithNotifier(d *notify.Dispatcher) Option {
	return func(s *Service) {
		s.notifier = d
	}
}

// WithMetrics sets the metrics instance for the service
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithLogger sets the logger instance for the service.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithClock pins the time source. Without it the request-scoped time is used.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.clock = now
	}
}

// WithViewLogging records every permitted view as a VIEW transaction.
func WithViewLogging(enabled bool) Option {
	return func(s *Service) {
		s.logViews = enabled
	}
}

// WithBulkConcurrency bounds parallel revocations in BulkRevoke.
func WithBulkConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.bulkConcurrency = n
		}
	}
}

func (s *Service) now(ctx context.Context) time.Time {
	if s.clock != nil {
		return s.clock()
	}
	return requesttime.Now(ctx)
}

// Result pairs the record after an operation with the ledger outcome that
// justified it. Record is nil when nothing was stored.
type Result struct {
	Record  *models.Record
	Outcome confirm.Outcome
}

// Resume re-checks a submission by correlation id without resubmitting it.
// Repeating the original operation with the same correlation id both
// resumes the wait and applies the transition once it confirms.
func (s *Service) Resume(ctx context.Context, correlationID id.CorrelationID) (confirm.Outcome, error) {
	if correlationID.IsNil() {
		return confirm.Outcome{}, dErrors.New(dErrors.CodeBadRequest, "correlation id required")
	}
	return s.confirmer.Resume(ctx, correlationID)
}

// translateStoreErr maps store sentinels to domain errors exactly once.
func translateStoreErr(err error, msg string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "consent not found")
	case errors.Is(err, sentinel.ErrStaleState):
		return dErrors.New(dErrors.CodeIllegalTransition, "consent changed while the transition was in flight")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeConflict, "consent already exists")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}

func txRef(o confirm.Outcome) models.TxRef {
	return models.TxRef{TxID: o.TxID, Round: o.Round, Optimistic: o.Optimistic}
}

func correlationOrNew(c id.CorrelationID) id.CorrelationID {
	if c.IsNil() {
		return id.NewCorrelationID()
	}
	return c
}
