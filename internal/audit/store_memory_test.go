package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryStore_ListsOldestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	t0 := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Append(ctx, Event{ConsentID: "c1", Action: "grant", Timestamp: t0.Add(time.Minute)}))
	require.NoError(t, s.Append(ctx, Event{ConsentID: "c2", Action: "request", Timestamp: t0}))
	require.NoError(t, s.Append(ctx, Event{ConsentID: "c1", Action: "request", Timestamp: t0}))

	got, err := s.ListByConsent(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "request", got[0].Action)
	assert.Equal(t, "grant", got[1].Action)

	got[0].Action = "mutated"
	again, _ := s.ListByConsent(ctx, "c1")
	assert.Equal(t, "request", again[0].Action, "callers get a copy")

	none, err := s.ListByConsent(ctx, "unknown")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}
