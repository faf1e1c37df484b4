package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"consentledger/internal/consent/models"
	"consentledger/internal/sentinel"
	id "consentledger/pkg/domain"
)

// PostgresStore persists consent records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const consentColumns = `id, document_hash, document_type, sender, recipient, status,
		created_at, granted_at, revoked_at, expires_at, permissions, evidence`

func (s *PostgresStore) Save(ctx context.Context, rec *models.Record) error {
	if rec == nil {
		return fmt.Errorf("consent record is required")
	}
	perms, evidence, err := encodeJSONColumns(rec)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO consents (` + consentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING
		RETURNING id
	`
	var stored uuid.UUID
	err = s.db.QueryRowContext(ctx, query,
		uuid.UUID(rec.ID),
		rec.DocumentHash,
		rec.DocumentType,
		rec.Sender.String(),
		rec.Recipient.String(),
		string(rec.Status),
		rec.CreatedAt,
		rec.GrantedAt,
		rec.RevokedAt,
		rec.ExpiresAt,
		perms,
		evidence,
	).Scan(&stored)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("save consent: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, consentID id.ConsentID) (*models.Record, error) {
	query := `SELECT ` + consentColumns + ` FROM consents WHERE id = $1`
	rec, err := scanConsent(s.db.QueryRowContext(ctx, query, uuid.UUID(consentID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find consent: %w", err)
	}
	return rec, nil
}

// List narrows by participant and document type in SQL; status is matched
// in Go because EXPIRED is derived from the clock.
func (s *PostgresStore) List(ctx context.Context, filter models.RecordFilter, now time.Time) ([]*models.Record, error) {
	query := `SELECT ` + consentColumns + ` FROM consents WHERE `
	participant := filter.Participant.String()
	switch filter.Role {
	case models.RoleSender:
		query += `sender = $1`
	case models.RoleRecipient:
		query += `recipient = $1`
	default:
		query += `(sender = $1 OR recipient = $1)`
	}
	args := []any{participant}
	if filter.DocumentType != "" {
		query += ` AND lower(document_type) = lower($2)`
		args = append(args, filter.DocumentType)
	}
	query += ` ORDER BY created_at DESC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list consents: %w", err)
	}
	defer rows.Close()

	var out []*models.Record
	for rows.Next() {
		rec, err := scanConsent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan consent: %w", err)
		}
		if filter.Matches(rec, now) {
			out = append(out, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate consents: %w", err)
	}
	return out, nil
}

// Execute locks the row, validates, mutates and writes it back. The UPDATE
// also requires the status read under lock, so a write can never land on a
// record that moved in between.
func (s *PostgresStore) Execute(ctx context.Context, consentID id.ConsentID, validate func(*models.Record) error, mutate func(*models.Record)) (*models.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin consent execute tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `SELECT ` + consentColumns + ` FROM consents WHERE id = $1 FOR UPDATE`
	rec, err := scanConsent(tx.QueryRowContext(ctx, query, uuid.UUID(consentID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find consent for execute: %w", err)
	}
	if err := validate(rec); err != nil {
		return nil, err
	}
	expected := rec.Status
	mutate(rec)
	if err := updateConsent(ctx, tx, rec, expected); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit consent execute: %w", err)
	}
	return rec, nil
}

func updateConsent(ctx context.Context, exec dbExecutor, rec *models.Record, expected models.Status) error {
	perms, evidence, err := encodeJSONColumns(rec)
	if err != nil {
		return err
	}
	query := `
		UPDATE consents
		SET status = $2, granted_at = $3, revoked_at = $4, expires_at = $5,
			permissions = $6, evidence = $7
		WHERE id = $1 AND status = $8
	`
	res, err := exec.ExecContext(ctx, query,
		uuid.UUID(rec.ID),
		string(rec.Status),
		rec.GrantedAt,
		rec.RevokedAt,
		rec.ExpiresAt,
		perms,
		evidence,
		string(expected),
	)
	if err != nil {
		return fmt.Errorf("update consent: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update consent rows: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrStaleState
	}
	return nil
}

func encodeJSONColumns(rec *models.Record) (perms []byte, evidence []byte, err error) {
	list := rec.Permissions.Strings()
	if list == nil {
		list = []string{}
	}
	if perms, err = json.Marshal(list); err != nil {
		return nil, nil, fmt.Errorf("encode permissions: %w", err)
	}
	if evidence, err = json.Marshal(rec.Evidence); err != nil {
		return nil, nil, fmt.Errorf("encode evidence: %w", err)
	}
	return perms, evidence, nil
}

type consentRow interface {
	Scan(dest ...any) error
}

func scanConsent(row consentRow) (*models.Record, error) {
	var (
		rec                            models.Record
		consentID                      uuid.UUID
		sender, recipient, status      string
		grantedAt, revokedAt, expireAt sql.NullTime
		perms, evidence                []byte
	)
	if err := row.Scan(&consentID, &rec.DocumentHash, &rec.DocumentType, &sender, &recipient, &status,
		&rec.CreatedAt, &grantedAt, &revokedAt, &expireAt, &perms, &evidence); err != nil {
		return nil, err
	}
	rec.ID = id.ConsentID(consentID)
	rec.Sender = id.Address(sender)
	rec.Recipient = id.Address(recipient)
	rec.Status = models.Status(status)
	rec.GrantedAt = nullTime(grantedAt)
	rec.RevokedAt = nullTime(revokedAt)
	rec.ExpiresAt = nullTime(expireAt)

	var list []string
	if err := json.Unmarshal(perms, &list); err != nil {
		return nil, fmt.Errorf("decode permissions: %w", err)
	}
	if len(list) > 0 {
		parsed, err := models.ParsePermissions(list)
		if err != nil {
			return nil, err
		}
		rec.Permissions = parsed
	}
	if len(evidence) > 0 {
		if err := json.Unmarshal(evidence, &rec.Evidence); err != nil {
			return nil, fmt.Errorf("decode evidence: %w", err)
		}
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return &rec, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
