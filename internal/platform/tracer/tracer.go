// Package tracer provides a lightweight tracing abstraction.
//
// Components depend on the Tracer interface rather than OpenTelemetry APIs so
// tests can run with NoopTracer while production wires the OTel adapter.
package tracer

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/zeebo/blake3"
)

// Span represents an active trace span.
type Span interface {
	// End completes the span, marking it failed when err is non-nil.
	// End must be called exactly once, typically via defer.
	End(err error)
	SetAttributes(attrs ...Attribute)
	AddEvent(name string, attrs ...Attribute)
}

// Tracer creates spans. Implementations must be safe for concurrent use.
type Tracer interface {
	// Start creates a span; the returned context carries it to child operations.
	//
	// Example:
	//   ctx, span := tr.Start(ctx, tracer.SpanConfirmSubmit,
	//       tracer.String(tracer.AttrIntentKind, "GRANT"),
	//   )
	//   defer span.End(err)
	Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span)
}

// Attribute represents a key-value pair attached to spans.
type Attribute struct {
	Key   string
	Value any
}

func String(key, value string) Attribute { return Attribute{Key: key, Value: value} }

func Bool(key string, value bool) Attribute { return Attribute{Key: key, Value: value} }

func Int64(key string, value int64) Attribute { return Attribute{Key: key, Value: value} }

// Duration creates a duration attribute in milliseconds.
func Duration(key string, value time.Duration) Attribute {
	return Attribute{Key: key, Value: value.Milliseconds()}
}

// HashIdentity shortens an address to a stable 16-hex-char digest so traces
// can be correlated without carrying the address itself.
func HashIdentity(addr string) string {
	if addr == "" {
		return ""
	}
	sum := blake3.Sum256([]byte(addr))
	return hex.EncodeToString(sum[:8])
}

// Span names.
const (
	SpanConfirmSubmit = "ledger.confirm.submit"
	SpanConfirmResume = "ledger.confirm.resume"
	SpanConfirmPoll   = "ledger.confirm.poll"
	SpanLedgerCall    = "ledger.algod.call"
)

// Attribute keys.
const (
	AttrIntentKind    = "intent.kind"
	AttrCorrelationID = "correlation_id"
	AttrIdentity      = "identity"
	AttrTxID          = "tx.id"
	AttrFingerprint   = "tx.fingerprint"
	AttrPolls         = "polls"
	AttrOutcome       = "outcome"
	AttrOptimistic    = "optimistic"
	AttrReplayed      = "replayed"
	AttrEndpoint      = "endpoint"
)

// Event names.
const (
	EventParamsRetry = "params.retry"
	EventSubmitted   = "tx.submitted"
	EventNotFound    = "tx.not_found"
)
