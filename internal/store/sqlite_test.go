package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadextract/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestSQLite_Migrate_Idempotent(t *testing.T) {
	st := newTestSQLiteStore(t)

	// Migrate already ran in the helper; a second run must not error.
	require.NoError(t, st.Migrate(context.Background()))
}

func TestSQLite_GetMessage_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetMessage(context.Background(), "no-such-id")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "message not found")
}

func TestSQLite_GetUsageEntry_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetUsageEntry(context.Background(), "no-such-id")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "usage entry not found")
}

func TestSQLite_TimestampsRoundTripUTC(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	added := time.Date(2026, 8, 25, 9, 30, 0, 0, time.UTC)
	msg, err := st.CreateMessage(ctx, testMessage("conv-ts", "wamid-ts", added))
	require.NoError(t, err)

	got, err := st.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, got.DateAdded.Equal(added), "date_added drifted: %s", got.DateAdded)
	assert.False(t, got.ReceivedAt.IsZero())
}

func TestSQLite_SeedExtractionFields_AssignsIDs(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	fields := []model.ExtractionField{
		{LocationID: "loc-1", FieldKey: "contact.email", FieldType: model.FieldTypeEmail,
			OverwritePolicy: model.OverwriteAlways, Active: true},
	}
	n, err := st.SeedExtractionFields(ctx, fields)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	listed, err := st.ListExtractionFields(ctx, "loc-1")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.NotEmpty(t, listed[0].ID)
	assert.Empty(t, listed[0].PicklistOptions)
}
