package report

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/leadextract/internal/config"
	"github.com/sells-group/leadextract/internal/model"
	"github.com/sells-group/leadextract/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedUsage(t *testing.T, st store.Store, locationID string, created time.Time, fin model.UsageFinalization, chargeID string) {
	t.Helper()
	entry, err := st.CreateUsageEntry(context.Background(), &model.UsageLogEntry{
		LocationID:      locationID,
		ConversationID:  "conv-1",
		MessageRecordID: uuid.New().String(),
		CreatedAt:       created,
	})
	require.NoError(t, err)
	require.NoError(t, st.FinalizeUsageEntry(context.Background(), entry.ID, fin))
	if chargeID != "" {
		require.NoError(t, st.SetUsageCharge(context.Background(), entry.ID, chargeID, "meter-direct", fin.CustomerCost))
	}
}

func cellFloat(t *testing.T, c *xlsx.Cell) float64 {
	t.Helper()
	v, err := c.Float()
	require.NoError(t, err)
	return v
}

func cellInt(t *testing.T, c *xlsx.Cell) int {
	t.Helper()
	v, err := c.Int()
	require.NoError(t, err)
	return v
}

func TestExport_WritesWorkbook(t *testing.T) {
	st := newTestStore(t)
	march := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	seedUsage(t, st, "loc-a", march, model.UsageFinalization{
		Model: "claude-haiku-4-5-20251001", InputTokens: 800, OutputTokens: 50,
		CostEstimate: 0.0011, Success: true, ResponseTimeMS: 900,
	}, "")
	seedUsage(t, st, "loc-a", march.Add(time.Hour), model.UsageFinalization{
		Model: "claude-haiku-4-5-20251001", Success: false, ErrorMessage: "overloaded",
	}, "")
	seedUsage(t, st, "loc-b", march, model.UsageFinalization{
		Model: "claude-haiku-4-5-20251001", InputTokens: 1200, OutputTokens: 80,
		CostEstimate: 0.0016, CustomerCost: 0.03, Success: true,
	}, "ch-1")

	dir := t.TempDir()
	exp := NewExporter(st, config.ReportConfig{OutputDir: dir})

	sum, err := exp.Export(context.Background(), march)
	require.NoError(t, err)
	require.NotNil(t, sum)

	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), sum.Month)
	assert.Equal(t, 2, sum.Locations)
	assert.Equal(t, 3, sum.Attempts)
	assert.Equal(t, 2, sum.Successes)
	assert.InDelta(t, 0.0027, sum.ProviderCost, 1e-9)
	assert.InDelta(t, 0.03, sum.CustomerCost, 1e-9)
	assert.False(t, sum.Delivered)
	assert.Equal(t, filepath.Join(dir, "usage-2026-03.xlsx"), sum.Path)

	f, err := xlsx.OpenFile(sum.Path)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 1)
	sheet := f.Sheets[0]
	assert.Equal(t, "Usage 2026-03", sheet.Name)

	// Header, one row per location, then the totals row.
	require.Len(t, sheet.Rows, 4)
	assert.Equal(t, "Location", sheet.Rows[0].Cells[0].String())
	assert.Equal(t, "Charges", sheet.Rows[0].Cells[7].String())

	locA := sheet.Rows[1]
	assert.Equal(t, "loc-a", locA.Cells[0].String())
	assert.Equal(t, 2, cellInt(t, locA.Cells[1]))
	assert.Equal(t, 1, cellInt(t, locA.Cells[2]))
	assert.Equal(t, 800, cellInt(t, locA.Cells[3]))
	assert.InDelta(t, 0.0011, cellFloat(t, locA.Cells[5]), 1e-9)
	assert.Equal(t, 0, cellInt(t, locA.Cells[7]))

	locB := sheet.Rows[2]
	assert.Equal(t, "loc-b", locB.Cells[0].String())
	assert.InDelta(t, 0.03, cellFloat(t, locB.Cells[6]), 1e-9)
	assert.Equal(t, 1, cellInt(t, locB.Cells[7]))

	total := sheet.Rows[3]
	assert.Equal(t, "TOTAL", total.Cells[0].String())
	assert.Equal(t, 3, cellInt(t, total.Cells[1]))
	assert.Equal(t, 2000, cellInt(t, total.Cells[3]))
	assert.InDelta(t, 0.0027, cellFloat(t, total.Cells[5]), 1e-9)
}

func TestExport_MonthBoundsRespected(t *testing.T) {
	st := newTestStore(t)
	seedUsage(t, st, "loc-feb", time.Date(2026, 2, 27, 0, 0, 0, 0, time.UTC),
		model.UsageFinalization{Success: true}, "")
	seedUsage(t, st, "loc-mar", time.Date(2026, 3, 1, 0, 0, 1, 0, time.UTC),
		model.UsageFinalization{Success: true}, "")

	exp := NewExporter(st, config.ReportConfig{OutputDir: t.TempDir()})
	sum, err := exp.Export(context.Background(), time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Locations)
	assert.Equal(t, 1, sum.Attempts)

	f, err := xlsx.OpenFile(sum.Path)
	require.NoError(t, err)
	require.Len(t, f.Sheets[0].Rows, 3)
	assert.Equal(t, "loc-mar", f.Sheets[0].Rows[1].Cells[0].String())
}

func TestExport_EmptyMonthStillWritesWorkbook(t *testing.T) {
	st := newTestStore(t)
	exp := NewExporter(st, config.ReportConfig{OutputDir: t.TempDir()})

	sum, err := exp.Export(context.Background(), time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Zero(t, sum.Locations)

	_, statErr := os.Stat(sum.Path)
	require.NoError(t, statErr)

	f, err := xlsx.OpenFile(sum.Path)
	require.NoError(t, err)
	require.Len(t, f.Sheets[0].Rows, 2)
	assert.Equal(t, "TOTAL", f.Sheets[0].Rows[1].Cells[0].String())
}

func TestExport_DeliveryFailureKeepsLocalFile(t *testing.T) {
	st := newTestStore(t)
	seedUsage(t, st, "loc-a", time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		model.UsageFinalization{Success: true}, "")

	// Nothing listens on port 1; the upload fails after the local save.
	exp := NewExporter(st, config.ReportConfig{
		OutputDir: t.TempDir(),
		FTPURL:    "ftp://127.0.0.1:1/drop",
	})

	sum, err := exp.Export(context.Background(), time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deliver workbook")

	require.NotNil(t, sum)
	assert.False(t, sum.Delivered)
	_, statErr := os.Stat(sum.Path)
	require.NoError(t, statErr)
}

func TestParseDropURL(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		wantHost string
		wantDir  string
		wantErr  bool
	}{
		{name: "default port", url: "ftp://drop.example.com/reports", wantHost: "drop.example.com:21", wantDir: "/reports"},
		{name: "explicit port", url: "ftp://drop.example.com:2121/reports/monthly", wantHost: "drop.example.com:2121", wantDir: "/reports/monthly"},
		{name: "no path", url: "ftp://drop.example.com", wantHost: "drop.example.com:21", wantDir: ""},
		{name: "wrong scheme", url: "https://drop.example.com/reports", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, dir, err := parseDropURL(tt.url)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, host)
			assert.Equal(t, tt.wantDir, dir)
		})
	}
}
