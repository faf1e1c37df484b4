package audit

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewPostgresStore(db)
	ctx := context.Background()
	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO consent_audit_events")).
		WithArgs(sqlmock.AnyArg(), "c1", at, "ADDR", "consent_granted", "granted", "", "TX", "corr", "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.Append(ctx, Event{
		Timestamp: at, ConsentID: "c1", Actor: "ADDR", Action: "consent_granted",
		Decision: "granted", TxID: "TX", CorrelationID: "corr",
	}))

	rows := sqlmock.NewRows([]string{"consent_id", "occurred_at", "actor", "action", "decision",
		"reason", "tx_id", "correlation_id", "request_id"}).
		AddRow("c1", at, "ADDR", "consent_granted", "granted", "", "TX", "corr", "")
	mock.ExpectQuery(regexp.QuoteMeta("FROM consent_audit_events")).WithArgs("c1").WillReturnRows(rows)

	events, err := store.ListByConsent(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "TX", events[0].TxID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
