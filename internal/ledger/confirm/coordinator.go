// Package confirm drives a signed consent transaction from submission to a
// terminal outcome.
//
// The protocol is: fetch submission parameters (bounded retry), sign under a
// per-identity lock, submit once, then poll the ledger on a fixed cadence up
// to a ceiling. Rejections and signer refusals are terminal and never retried.
// Every submission is keyed by its correlation id: a repeat never resubmits,
// it resumes waiting on the recorded transaction.
package confirm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"consentledger/internal/ledger"
	"consentledger/internal/ledger/txbuilder"
	"consentledger/internal/platform/tracer"
	"consentledger/internal/sentinel"
	id "consentledger/pkg/domain"
	dErrors "consentledger/pkg/domain-errors"
	platformsync "consentledger/pkg/platform/sync"
)

const (
	DefaultPollInterval    = time.Second
	DefaultMaxPolls        = 30
	DefaultOptimisticAfter = 5
	DefaultParamAttempts   = 3
	defaultParamBackoff    = 250 * time.Millisecond
	defaultEntryTTL        = 24 * time.Hour
)

// Coordinator submits and confirms transactions. It is safe for concurrent use.
type Coordinator struct {
	ledger    ledger.Ledger
	signer    ledger.Signer
	store     IdempotencyStore
	signLocks *platformsync.ShardedMutex
	flight    singleflight.Group

	pollInterval    time.Duration
	paramBackoff    time.Duration
	maxPolls        int
	optimisticAfter int
	paramAttempts   int

	logger  *slog.Logger
	metrics *Metrics
	tracer  tracer.Tracer
	now     func() time.Time
}

type Option func(*Coordinator)

// WithPollInterval sets the delay between status polls.
func WithPollInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithMaxPolls sets the polling ceiling.
func WithMaxPolls(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxPolls = n
		}
	}
}

// WithOptimisticAfter sets how many consecutive not-found polls are tolerated
// before the transaction is assumed confirmed. Zero disables the assumption:
// not-found then keeps polling until the ceiling.
func WithOptimisticAfter(n int) Option {
	return func(c *Coordinator) {
		if n >= 0 {
			c.optimisticAfter = n
		}
	}
}

// WithParamRetry sets the attempt bound and backoff for the parameter fetch.
func WithParamRetry(attempts int, backoff time.Duration) Option {
	return func(c *Coordinator) {
		if attempts > 0 {
			c.paramAttempts = attempts
		}
		if backoff >= 0 {
			c.paramBackoff = backoff
		}
	}
}

func WithIdempotencyStore(s IdempotencyStore) Option {
	return func(c *Coordinator) {
		if s != nil {
			c.store = s
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

func WithTracer(t tracer.Tracer) Option {
	return func(c *Coordinator) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithClock sets the time source for entry timestamps and latency.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

func New(l ledger.Ledger, s ledger.Signer, opts ...Option) *Coordinator {
	c := &Coordinator{
		ledger:          l,
		signer:          s,
		signLocks:       platformsync.NewShardedMutex(),
		pollInterval:    DefaultPollInterval,
		paramBackoff:    defaultParamBackoff,
		maxPolls:        DefaultMaxPolls,
		optimisticAfter: DefaultOptimisticAfter,
		paramAttempts:   DefaultParamAttempts,
		tracer:          tracer.NewNoop(),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.store == nil {
		c.store = NewInMemory(defaultEntryTTL)
	}
	return c
}

// Submit drives b to an outcome. Failures before the ledger accepts the
// transaction are returned as errors: CodeSubmissionError (parameters or
// transport, retryable), CodeAuthorizationDenied (signer) and
// CodeSubmissionRejected (ledger). Once accepted, the result is always an
// Outcome with a nil error; Outcome.Err() converts non-confirmed states.
//
// A correlation id answers only for the intent first submitted under it:
// reusing it for a different intent is CodeConflict, whether the first
// submission is recorded or still in flight.
//
// Cancelling ctx after acceptance returns StatePending with the transaction
// id; the transaction itself is unaffected.
func (c *Coordinator) Submit(ctx context.Context, b *txbuilder.Built) (Outcome, error) {
	if b == nil || b.CorrelationID.IsNil() {
		return Outcome{}, dErrors.New(dErrors.CodeInvalidIntent, "built intent with correlation id required")
	}
	intent, err := b.Digest()
	if err != nil {
		return Outcome{}, err
	}
	key := b.CorrelationID.String()
	v, err, _ := c.flight.Do(key, func() (any, error) {
		o, err := c.submit(ctx, key, intent, b)
		return flightResult{outcome: o, intent: intent, kind: string(b.Kind)}, err
	})
	res, _ := v.(flightResult)
	if res.intent != intent {
		return Outcome{}, reusedCorrelation(res.kind)
	}
	return res.outcome, err
}

// flightResult carries the leader's intent to callers that joined its flight.
type flightResult struct {
	outcome Outcome
	intent  string
	kind    string
}

func reusedCorrelation(kind string) error {
	return dErrors.New(dErrors.CodeConflict,
		fmt.Sprintf("correlation id already used for a different %s intent", kind))
}

// Resume re-checks a submission recorded under correlationID without
// resubmitting it.
func (c *Coordinator) Resume(ctx context.Context, correlationID id.CorrelationID) (Outcome, error) {
	key := correlationID.String()
	v, err, _ := c.flight.Do("resume:"+key, func() (any, error) {
		ctx, span := c.tracer.Start(ctx, tracer.SpanConfirmResume, tracer.String(tracer.AttrCorrelationID, key))
		entry, err := c.lookup(ctx, key)
		if err == nil && (entry == nil || entry.TxID == "") {
			err = dErrors.New(dErrors.CodeNotFound, "no submission recorded for correlation id")
		}
		if err != nil {
			span.End(err)
			return Outcome{}, err
		}
		o := c.replay(ctx, entry)
		span.SetAttributes(tracer.String(tracer.AttrOutcome, string(o.State)))
		span.End(nil)
		return o, nil
	})
	o, _ := v.(Outcome)
	return o, err
}

func (c *Coordinator) submit(ctx context.Context, key, intent string, b *txbuilder.Built) (out Outcome, err error) {
	ctx, span := c.tracer.Start(ctx, tracer.SpanConfirmSubmit,
		tracer.String(tracer.AttrIntentKind, string(b.Kind)),
		tracer.String(tracer.AttrCorrelationID, key),
		tracer.String(tracer.AttrIdentity, tracer.HashIdentity(b.Sender.String())),
	)
	defer func() {
		span.SetAttributes(
			tracer.String(tracer.AttrOutcome, string(out.State)),
			tracer.Int64(tracer.AttrPolls, int64(out.Polls)),
			tracer.Bool(tracer.AttrOptimistic, out.Optimistic),
		)
		span.End(err)
	}()

	entry, err := c.lookup(ctx, key)
	if err != nil {
		return Outcome{}, err
	}
	if entry != nil && entry.TxID != "" {
		if entry.Intent != intent {
			return Outcome{}, reusedCorrelation(entry.Kind)
		}
		span.SetAttributes(tracer.Bool(tracer.AttrReplayed, true))
		return c.replay(ctx, entry), nil
	}
	if err := b.CheckExpiry(c.now()); err != nil {
		return Outcome{}, err
	}

	params, err := c.fetchParams(ctx, span)
	if err != nil {
		return Outcome{}, err
	}
	unsigned, err := b.Bind(params)
	if err != nil {
		return Outcome{}, err
	}
	span.SetAttributes(tracer.String(tracer.AttrFingerprint, unsigned.Fingerprint))

	signed, err := c.sign(ctx, unsigned, b.Sender)
	if err != nil {
		return Outcome{}, err
	}

	txID, err := c.ledger.Submit(ctx, signed)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeSubmissionRejected) {
			if c.metrics != nil {
				c.metrics.Rejections.Inc()
			}
			c.log(ctx, slog.LevelWarn, "ledger rejected transaction",
				"correlation_id", key, "fingerprint", unsigned.Fingerprint, "error", err)
			return Outcome{State: StateFailed, Reason: err.Error(), Fingerprint: unsigned.Fingerprint}, err
		}
		return Outcome{}, recode(err, dErrors.CodeSubmissionError, "submit transaction")
	}
	span.AddEvent(tracer.EventSubmitted, tracer.String(tracer.AttrTxID, txID))

	entry = &Entry{
		CorrelationID: key,
		Kind:          string(b.Kind),
		Intent:        intent,
		TxID:          txID,
		Fingerprint:   unsigned.Fingerprint,
		CreatedAt:     c.now(),
	}
	if err := c.store.Put(ctx, entry); err != nil {
		// The transaction is already on its way; losing the record only
		// weakens replay protection for this id.
		c.log(ctx, slog.LevelError, "failed to record submission", "correlation_id", key, "tx_id", txID, "error", err)
	}
	return c.await(ctx, entry), nil
}

func (c *Coordinator) lookup(ctx context.Context, key string) (*Entry, error) {
	entry, err := c.store.Get(ctx, key)
	switch {
	case err == nil:
		return entry, nil
	case errors.Is(err, sentinel.ErrNotFound):
		return nil, nil
	default:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "read submission record")
	}
}

// replay answers from a recorded entry, polling again if it never finished.
func (c *Coordinator) replay(ctx context.Context, entry *Entry) Outcome {
	if c.metrics != nil {
		c.metrics.Replays.Inc()
	}
	if entry.Outcome != nil && entry.Outcome.Terminal() {
		o := *entry.Outcome
		o.Replayed = true
		return o
	}
	o := c.await(ctx, entry)
	o.Replayed = true
	return o
}

func (c *Coordinator) await(ctx context.Context, entry *Entry) Outcome {
	start := c.now()
	o := c.poll(ctx, entry.TxID)
	o.Fingerprint = entry.Fingerprint

	if o.Terminal() {
		entry.Outcome = &o
		// Record terminal outcomes even when the caller has gone away.
		if err := c.store.Put(context.WithoutCancel(ctx), entry); err != nil {
			c.log(ctx, slog.LevelError, "failed to record outcome", "tx_id", o.TxID, "error", err)
		}
	}
	if c.metrics != nil {
		c.metrics.observeOutcome(o, c.now().Sub(start).Seconds())
	}

	level := slog.LevelInfo
	if o.State != StateConfirmed || o.Optimistic {
		level = slog.LevelWarn
	}
	c.log(ctx, level, "transaction outcome",
		"correlation_id", entry.CorrelationID,
		"tx_id", o.TxID,
		"state", o.State,
		"round", o.Round,
		"polls", o.Polls,
		"optimistic", o.Optimistic,
	)
	return o
}

// poll queries the ledger up to maxPolls times, pausing pollInterval between
// queries. Transport errors count against the ceiling and reset the
// not-found streak.
func (c *Coordinator) poll(ctx context.Context, txID string) Outcome {
	ctx, span := c.tracer.Start(ctx, tracer.SpanConfirmPoll, tracer.String(tracer.AttrTxID, txID))
	defer span.End(nil)

	notFound := 0
	for polls := 1; polls <= c.maxPolls; polls++ {
		if polls > 1 {
			if err := c.wait(ctx, c.pollInterval); err != nil {
				return Outcome{State: StatePending, TxID: txID, Polls: polls - 1}
			}
		}
		st, err := c.ledger.Status(ctx, txID)
		if err != nil {
			if ctx.Err() != nil {
				return Outcome{State: StatePending, TxID: txID, Polls: polls}
			}
			if c.metrics != nil {
				c.metrics.TransientQueries.Inc()
			}
			c.log(ctx, slog.LevelDebug, "status query failed", "tx_id", txID, "poll", polls, "error", err)
			notFound = 0
			continue
		}
		switch {
		case st.ConfirmedRound > 0:
			return Outcome{State: StateConfirmed, TxID: txID, Round: st.ConfirmedRound, Polls: polls}
		case st.PoolError != "":
			return Outcome{State: StateFailed, TxID: txID, Reason: st.PoolError, Polls: polls}
		case st.NotFound:
			notFound++
			span.AddEvent(tracer.EventNotFound, tracer.Int64(tracer.AttrPolls, int64(polls)))
			if c.optimisticAfter > 0 && notFound > c.optimisticAfter {
				return Outcome{State: StateConfirmed, TxID: txID, Optimistic: true, Polls: polls}
			}
		default:
			notFound = 0
		}
	}
	return Outcome{State: StateTimedOut, TxID: txID, Polls: c.maxPolls}
}

func (c *Coordinator) fetchParams(ctx context.Context, span tracer.Span) (ledger.Params, error) {
	var lastErr error
	for attempt := 1; attempt <= c.paramAttempts; attempt++ {
		p, err := c.ledger.SubmissionParams(ctx)
		if err == nil {
			return p, nil
		}
		lastErr = err
		if attempt == c.paramAttempts || ctx.Err() != nil {
			break
		}
		if c.metrics != nil {
			c.metrics.ParamRetries.Inc()
		}
		span.AddEvent(tracer.EventParamsRetry, tracer.Int64("attempt", int64(attempt)))
		if err := c.wait(ctx, c.paramBackoff); err != nil {
			break
		}
	}
	return ledger.Params{}, recode(lastErr, dErrors.CodeSubmissionError,
		fmt.Sprintf("fetch submission parameters failed after %d attempts", c.paramAttempts))
}

// sign serializes signing per identity.
func (c *Coordinator) sign(ctx context.Context, tx ledger.UnsignedTx, identity id.Address) ([]byte, error) {
	lockKey := identity.String()
	if err := c.signLocks.LockContext(ctx, lockKey); err != nil {
		return nil, recode(err, dErrors.CodeSubmissionError, "waiting for signer")
	}
	defer c.signLocks.Unlock(lockKey)

	blob, err := c.signer.Sign(ctx, tx, identity)
	if err == nil && len(blob) == 0 {
		err = errors.New("signer returned an empty signature")
	}
	if err != nil {
		if c.metrics != nil {
			c.metrics.SignerDenials.Inc()
		}
		return nil, recode(err, dErrors.CodeAuthorizationDenied, "signer refused transaction")
	}
	return blob, nil
}

func (c *Coordinator) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Coordinator) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Log(ctx, level, msg, args...)
}

// recode wraps err under code even when err already carries another code.
func recode(err error, code dErrors.Code, msg string) error {
	return &dErrors.Error{Code: code, Message: msg + ": " + errText(err), Err: err}
}

func errText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
