package tracer_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"consentledger/internal/platform/tracer"
)

func TestNoopTracer_Start(t *testing.T) {
	tr := tracer.NewNoop()
	ctx := context.Background()

	newCtx, span := tr.Start(ctx, tracer.SpanConfirmSubmit,
		tracer.String(tracer.AttrIntentKind, "GRANT"),
		tracer.Bool(tracer.AttrReplayed, true),
	)

	assert.Equal(t, ctx, newCtx)
	require.NotNil(t, span)

	span.SetAttributes(tracer.Int64(tracer.AttrPolls, 3))
	span.AddEvent(tracer.EventSubmitted)
	span.End(errors.New("boom"))
}

func TestOTelTracer_WithInjectedTracer(t *testing.T) {
	tr := tracer.NewOTel(tracer.WithOTelTracer(nooptrace.NewTracerProvider().Tracer("test")))

	ctx, span := tr.Start(context.Background(), tracer.SpanConfirmPoll, tracer.Int64(tracer.AttrPolls, 1))
	require.NotNil(t, ctx)
	span.AddEvent(tracer.EventNotFound, tracer.String(tracer.AttrTxID, "TX1"))
	span.End(nil)
}

func TestHashIdentity(t *testing.T) {
	assert.Empty(t, tracer.HashIdentity(""))
	h := tracer.HashIdentity("ADDR")
	assert.Len(t, h, 16)
	assert.Equal(t, h, tracer.HashIdentity("ADDR"))
	assert.NotEqual(t, h, tracer.HashIdentity("ADDR2"))
}
