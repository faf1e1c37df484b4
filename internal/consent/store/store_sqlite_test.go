package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consentledger/internal/consent/models"
	dErrors "consentledger/pkg/domain-errors"
	"consentledger/pkg/testutil"
)

func TestSQLiteSealsSensitiveFields(t *testing.T) {
	ctx := context.Background()
	key := make([]byte, 32)
	key[0] = 7
	s, err := NewSQLite(ctx, filepath.Join(t.TempDir(), "c.db"), key)
	require.NoError(t, err)
	defer s.Close()

	rec := testutil.NewRecordBuilder().Build()
	require.NoError(t, s.Save(ctx, rec))

	var sealed, senderRef string
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT sealed, sender_ref FROM consents WHERE id = ?`, rec.ID.String()).
		Scan(&sealed, &senderRef))
	assert.NotContains(t, sealed, rec.DocumentHash)
	assert.NotContains(t, sealed, rec.Sender.String())
	assert.NotEqual(t, rec.Sender.String(), senderRef)
	assert.Len(t, senderRef, 64)
}

func TestSQLiteWrongKeyFailsClosed(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "c.db")
	good := make([]byte, 32)
	good[0] = 1
	bad := make([]byte, 32)
	bad[0] = 2

	writer, err := NewSQLite(ctx, path, good)
	require.NoError(t, err)
	rec := testutil.NewRecordBuilder().Granted(time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), nil, models.PermissionRead).Build()
	require.NoError(t, writer.Save(ctx, rec))
	require.NoError(t, writer.Close())

	reader, err := NewSQLite(ctx, path, bad)
	require.NoError(t, err)
	defer reader.Close()

	_, err = reader.FindByID(ctx, rec.ID)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeDecryptionFailed))

	// The recipient column is plaintext, so the row is found and then skipped.
	list, err := reader.List(ctx, models.RecordFilter{Participant: rec.Recipient}, time.Now())
	require.NoError(t, err)
	assert.Empty(t, list)
}
