package audit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// PostgresStore keeps history in the consent_audit_events table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	query := `
		INSERT INTO consent_audit_events (
			id, consent_id, occurred_at, actor, action, decision,
			reason, tx_id, correlation_id, request_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.New(),
		event.ConsentID,
		event.Timestamp,
		event.Actor,
		event.Action,
		event.Decision,
		event.Reason,
		event.TxID,
		event.CorrelationID,
		event.RequestID,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByConsent(ctx context.Context, consentID string) ([]Event, error) {
	query := `
		SELECT consent_id, occurred_at, actor, action, decision,
			   reason, tx_id, correlation_id, request_id
		FROM consent_audit_events
		WHERE consent_id = $1
		ORDER BY occurred_at ASC, id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, consentID)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ConsentID, &e.Timestamp, &e.Actor, &e.Action, &e.Decision,
			&e.Reason, &e.TxID, &e.CorrelationID, &e.RequestID); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
