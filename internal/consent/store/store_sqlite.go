package store

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/zeebo/blake3"
	_ "modernc.org/sqlite"

	"consentledger/internal/consent/fieldcodec"
	"consentledger/internal/consent/models"
	"consentledger/internal/sentinel"
	id "consentledger/pkg/domain"
	dErrors "consentledger/pkg/domain-errors"
)

const senderRefContext = "consentledger 2026 sqlite sender reference v1"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS consents (
    id            TEXT PRIMARY KEY,
    sender_ref    TEXT    NOT NULL,
    recipient     TEXT    NOT NULL,
    document_type TEXT    NOT NULL DEFAULT '',
    status        TEXT    NOT NULL,
    created_at    INTEGER NOT NULL,
    granted_at    INTEGER,
    revoked_at    INTEGER,
    expires_at    INTEGER,
    sealed        TEXT    NOT NULL,
    evidence      TEXT    NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_consents_sender_ref ON consents (sender_ref);
CREATE INDEX IF NOT EXISTS idx_consents_recipient ON consents (recipient);
`

// SQLiteStore is a single-file store for local deployments. The document
// hash, the requester address and the permissions are sealed with the field
// codec; the sender is indexed by a keyed BLAKE3 reference instead.
type SQLiteStore struct {
	db     *sql.DB
	codec  *fieldcodec.Codec
	refKey []byte
	logger *slog.Logger
}

type SQLiteOption func(*SQLiteStore)

func WithSQLiteLogger(logger *slog.Logger) SQLiteOption {
	return func(s *SQLiteStore) {
		s.logger = logger
	}
}

// NewSQLite opens dsn and creates the schema if needed. key is the 32-byte
// field key.
func NewSQLite(ctx context.Context, dsn string, key []byte, opts ...SQLiteOption) (*SQLiteStore, error) {
	s := &SQLiteStore{refKey: make([]byte, 32)}
	for _, opt := range opts {
		opt(s)
	}
	codec, err := fieldcodec.New(key, fieldcodec.WithLogger(s.logger))
	if err != nil {
		return nil, err
	}
	s.codec = codec
	blake3.DeriveKey(senderRefContext, key, s.refKey)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	s.db = db
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) senderRef(addr id.Address) string {
	h, err := blake3.NewKeyed(s.refKey)
	if err != nil {
		panic("sqlite store: keyed hasher: " + err.Error())
	}
	_, _ = h.Write([]byte(addr.String()))
	return hex.EncodeToString(h.Sum(nil))
}

func (s *SQLiteStore) Save(ctx context.Context, rec *models.Record) error {
	if rec == nil {
		return fmt.Errorf("consent record is required")
	}
	sealed, evidence, err := s.encode(rec)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO consents (id, sender_ref, recipient, document_type, status,
			created_at, granted_at, revoked_at, expires_at, sealed, evidence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		rec.ID.String(),
		s.senderRef(rec.Sender),
		rec.Recipient.String(),
		rec.DocumentType,
		string(rec.Status),
		rec.CreatedAt.UnixNano(),
		unixOrNil(rec.GrantedAt),
		unixOrNil(rec.RevokedAt),
		unixOrNil(rec.ExpiresAt),
		sealed,
		evidence,
	)
	if err != nil {
		return fmt.Errorf("save consent: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

const sqliteColumns = `id, recipient, document_type, status, created_at,
	granted_at, revoked_at, expires_at, sealed, evidence`

func (s *SQLiteStore) FindByID(ctx context.Context, consentID id.ConsentID) (*models.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM consents WHERE id = ?`, consentID.String())
	rec, err := s.scan(ctx, row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

// List skips records whose sealed fields fail to open; the codec logs each
// failure.
func (s *SQLiteStore) List(ctx context.Context, filter models.RecordFilter, now time.Time) ([]*models.Record, error) {
	query := `SELECT ` + sqliteColumns + ` FROM consents WHERE `
	var args []any
	switch filter.Role {
	case models.RoleSender:
		query += `sender_ref = ?`
		args = append(args, s.senderRef(filter.Participant))
	case models.RoleRecipient:
		query += `recipient = ?`
		args = append(args, filter.Participant.String())
	default:
		query += `(sender_ref = ? OR recipient = ?)`
		args = append(args, s.senderRef(filter.Participant), filter.Participant.String())
	}
	query += ` ORDER BY created_at DESC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list consents: %w", err)
	}
	defer rows.Close()

	var out []*models.Record
	skipped := 0
	for rows.Next() {
		rec, err := s.scan(ctx, rows)
		if dErrors.HasCode(err, dErrors.CodeDecryptionFailed) {
			skipped++
			continue
		}
		if err != nil {
			return nil, err
		}
		if filter.Matches(rec, now) {
			out = append(out, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate consents: %w", err)
	}
	if skipped > 0 && s.logger != nil {
		s.logger.WarnContext(ctx, "skipped undecryptable consents", "count", skipped)
	}
	return out, nil
}

func (s *SQLiteStore) Execute(ctx context.Context, consentID id.ConsentID, validate func(*models.Record) error, mutate func(*models.Record)) (*models.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin consent execute tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	rec, err := s.scan(ctx, tx.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM consents WHERE id = ?`, consentID.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, err
	}
	if err := validate(rec); err != nil {
		return nil, err
	}
	expected := rec.Status
	mutate(rec)

	sealed, evidence, err := s.encode(rec)
	if err != nil {
		return nil, err
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE consents
		SET status = ?, granted_at = ?, revoked_at = ?, expires_at = ?, sealed = ?, evidence = ?
		WHERE id = ? AND status = ?`,
		string(rec.Status),
		unixOrNil(rec.GrantedAt),
		unixOrNil(rec.RevokedAt),
		unixOrNil(rec.ExpiresAt),
		sealed,
		evidence,
		rec.ID.String(),
		string(expected),
	)
	if err != nil {
		return nil, fmt.Errorf("update consent: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return nil, sentinel.ErrStaleState
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit consent execute: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) encode(rec *models.Record) (sealed string, evidence string, err error) {
	env, err := s.codec.Seal(fieldcodec.Plain{
		DocumentHash: rec.DocumentHash,
		Requester:    rec.Sender.String(),
		Permissions:  rec.Permissions.Strings(),
	})
	if err != nil {
		return "", "", err
	}
	envJSON, err := json.Marshal(env)
	if err != nil {
		return "", "", fmt.Errorf("encode sealed fields: %w", err)
	}
	evJSON, err := json.Marshal(rec.Evidence)
	if err != nil {
		return "", "", fmt.Errorf("encode evidence: %w", err)
	}
	return string(envJSON), string(evJSON), nil
}

func (s *SQLiteStore) scan(ctx context.Context, row consentRow) (*models.Record, error) {
	var (
		rec                             models.Record
		consentID, recipient, status    string
		createdAt                       int64
		grantedAt, revokedAt, expiresAt sql.NullInt64
		sealed, evidence                string
	)
	if err := row.Scan(&consentID, &recipient, &rec.DocumentType, &status, &createdAt,
		&grantedAt, &revokedAt, &expiresAt, &sealed, &evidence); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan consent: %w", err)
	}
	parsedID, err := id.ParseConsentID(consentID)
	if err != nil {
		return nil, err
	}

	var env fieldcodec.Envelope
	if err := json.Unmarshal([]byte(sealed), &env); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeDecryptionFailed, "decode sealed fields")
	}
	decoded := s.codec.Open(ctx, env)
	if !decoded.Complete() {
		names := make([]string, len(decoded.Failed))
		for i, f := range decoded.Failed {
			names[i] = string(f)
		}
		return nil, dErrors.New(dErrors.CodeDecryptionFailed,
			fmt.Sprintf("consent %s: fields did not decrypt: %s", consentID, strings.Join(names, ", ")))
	}

	rec.ID = parsedID
	rec.DocumentHash = decoded.Plain.DocumentHash
	rec.Sender = id.Address(decoded.Plain.Requester)
	rec.Recipient = id.Address(recipient)
	rec.Status = models.Status(status)
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	rec.GrantedAt = fromUnix(grantedAt)
	rec.RevokedAt = fromUnix(revokedAt)
	rec.ExpiresAt = fromUnix(expiresAt)
	if len(decoded.Plain.Permissions) > 0 {
		perms, err := models.ParsePermissions(decoded.Plain.Permissions)
		if err != nil {
			return nil, err
		}
		rec.Permissions = perms
	}
	if err := json.Unmarshal([]byte(evidence), &rec.Evidence); err != nil {
		return nil, fmt.Errorf("decode evidence: %w", err)
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return &rec, nil
}

func unixOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func fromUnix(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}
