package export

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/graduation-sniper/internal/domain"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testPositions() []domain.TradePosition {
	exit := base.Add(time.Hour)
	return []domain.TradePosition{
		{
			ID:               2,
			AssetID:          "MintBBBBBBBB",
			StrategyName:     "default",
			Status:           domain.StatusClosed,
			EntryTime:        base.Add(10 * time.Minute),
			ExitTime:         &exit,
			EntryAmount:      decimal.NewFromInt(1),
			EntryPrice:       decimal.NewFromFloat(0.001),
			ExitPrice:        decimal.NewNullDecimal(decimal.NewFromFloat(0.0008)),
			RealizedProceeds: decimal.NewFromFloat(0.8),
			FeesPaid:         decimal.NewFromFloat(0.02),
			ExitReason:       domain.ExitReasonStopLoss,
		},
		{
			ID:               1,
			AssetID:          "MintAAAAAAAA",
			StrategyName:     "default",
			Status:           domain.StatusClosed,
			EntryTime:        base,
			ExitTime:         &exit,
			EntryAmount:      decimal.NewFromInt(1),
			EntryPrice:       decimal.NewFromFloat(0.001),
			ExitPrice:        decimal.NewNullDecimal(decimal.NewFromFloat(0.0015)),
			RealizedProceeds: decimal.NewFromFloat(1.5),
			FeesPaid:         decimal.NewFromFloat(0.03),
			ExitReason:       domain.ExitReasonProfitTarget,
		},
		{
			ID:           3,
			AssetID:      "MintAAAAAAAA",
			StrategyName: "aggressive",
			Status:       domain.StatusFailed,
			EntryTime:    base.Add(20 * time.Minute),
			EntryAmount:  decimal.NewFromFloat(0.5),
			EntryPrice:   decimal.NewFromFloat(0.002),
			ExitAttempts: 3,
			ExitReason:   domain.ExitReasonExitFailed,
		},
		{
			ID:           4,
			AssetID:      "MintCCCCCCCC",
			StrategyName: "default",
			Status:       domain.StatusActive,
			EntryTime:    base.Add(30 * time.Minute),
			EntryAmount:  decimal.NewFromFloat(0.5),
			EntryPrice:   decimal.NewFromFloat(0.002),
		},
	}
}

func newExporter(t *testing.T) *PositionExporter {
	pe := NewPositionExporter(zaptest.NewLogger(t))
	pe.now = func() time.Time { return base.Add(24 * time.Hour) }
	return pe
}

func TestExportCSV(t *testing.T) {
	pe := newExporter(t)
	dir := t.TempDir()

	path, err := pe.ExportPositions(testPositions(), ExportOptions{Format: FormatCSV, OutputDir: dir})
	require.NoError(t, err)
	assert.Contains(t, path, "positions_20260302_120000.csv")

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 5)
	assert.Equal(t, CSVHeaders(), rows[0])
	// oldest entry first
	assert.Equal(t, "1", rows[1][0])
	assert.Equal(t, "2", rows[2][0])
	assert.Equal(t, "0.5", rows[1][11])
	assert.Equal(t, "50.00", rows[1][12])
	assert.Equal(t, "-20.00", rows[2][12])
	assert.Equal(t, "", rows[3][5], "failed position has no exit time")
}

func TestExportJSONSummary(t *testing.T) {
	pe := newExporter(t)

	path, err := pe.ExportPositions(testPositions(), ExportOptions{Format: FormatJSON, OutputDir: t.TempDir()})
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var out struct {
		PositionCount int                    `json:"position_count"`
		Summary       Summary                `json:"summary"`
		Positions     []domain.TradePosition `json:"positions"`
	}
	require.NoError(t, json.Unmarshal(raw, &out))

	assert.Equal(t, 4, out.PositionCount)
	require.Len(t, out.Positions, 4)
	assert.Equal(t, uint64(1), out.Positions[0].ID)
	assert.Equal(t, 2, out.Summary.Closed)
	assert.Equal(t, 1, out.Summary.Failed)
	assert.Equal(t, 1, out.Summary.Open)
	assert.Equal(t, 3, out.Summary.UniqueAssets)
}

func TestSummarize(t *testing.T) {
	s := Summarize(testPositions())

	assert.Equal(t, 1, s.Wins)
	assert.Equal(t, 1, s.Losses)
	assert.InDelta(t, 50.0, s.WinRate, 1e-9)
	assert.True(t, s.TotalPnL.Equal(decimal.NewFromFloat(0.3)), s.TotalPnL.String())
	assert.True(t, s.BestPnL.Equal(decimal.NewFromFloat(0.5)), s.BestPnL.String())
	assert.True(t, s.WorstPnL.Equal(decimal.NewFromFloat(-0.2)), s.WorstPnL.String())
	assert.True(t, s.TotalInvested.Equal(decimal.NewFromInt(3)), s.TotalInvested.String())
	assert.True(t, s.TotalFees.Equal(decimal.NewFromFloat(0.05)), s.TotalFees.String())

	assert.Equal(t, Summary{}, Summarize(nil))
}

func TestExportFilters(t *testing.T) {
	tests := []struct {
		name string
		opts ExportOptions
		ids  []string
	}{
		{
			name: "time range",
			opts: ExportOptions{StartTime: base.Add(5 * time.Minute), EndTime: base.Add(25 * time.Minute)},
			ids:  []string{"2", "3"},
		},
		{
			name: "asset",
			opts: ExportOptions{Asset: "MintAAAAAAAA"},
			ids:  []string{"1", "3"},
		},
		{
			name: "statuses",
			opts: ExportOptions{Statuses: []domain.PositionStatus{domain.StatusFailed, domain.StatusActive}},
			ids:  []string{"3", "4"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pe := newExporter(t)
			tt.opts.Format = FormatCSV
			tt.opts.OutputDir = t.TempDir()

			path, err := pe.ExportPositions(testPositions(), tt.opts)
			require.NoError(t, err)

			f, err := os.Open(path)
			require.NoError(t, err)
			defer f.Close()
			rows, err := csv.NewReader(f).ReadAll()
			require.NoError(t, err)

			var ids []string
			for _, row := range rows[1:] {
				ids = append(ids, row[0])
			}
			assert.Equal(t, tt.ids, ids)
		})
	}
}

func TestExportErrors(t *testing.T) {
	pe := newExporter(t)

	_, err := pe.ExportPositions(testPositions(), ExportOptions{Format: "xml", OutputDir: t.TempDir()})
	assert.ErrorContains(t, err, "unsupported format")

	_, err = pe.ExportPositions(testPositions(), ExportOptions{Format: FormatCSV, Asset: "unknown", OutputDir: t.TempDir()})
	assert.ErrorIs(t, err, ErrNothingToExport)
}
