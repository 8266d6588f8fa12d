package export

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/graduation-sniper/internal/domain"
)

// ExportFormat represents the export file format
type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatJSON ExportFormat = "json"
)

// ErrNothingToExport is returned when no position matches the options.
var ErrNothingToExport = errors.New("no positions match the export criteria")

// ExportOptions configures the export behavior
type ExportOptions struct {
	Format    ExportFormat
	StartTime time.Time // by entry time, inclusive
	EndTime   time.Time
	Asset     string
	Statuses  []domain.PositionStatus // empty means all
	OutputDir string
}

// PositionExporter writes position history to disk.
type PositionExporter struct {
	logger *zap.Logger
	now    func() time.Time
}

func NewPositionExporter(logger *zap.Logger) *PositionExporter {
	return &PositionExporter{
		logger: logger.Named("export"),
		now:    time.Now,
	}
}

// ExportPositions writes the positions matching options, oldest entry first, and
// returns the file path.
func (pe *PositionExporter) ExportPositions(positions []domain.TradePosition, options ExportOptions) (string, error) {
	if options.Format != FormatCSV && options.Format != FormatJSON {
		return "", fmt.Errorf("unsupported format: %s", options.Format)
	}

	filtered := filterPositions(positions, options)
	if len(filtered) == 0 {
		return "", ErrNothingToExport
	}
	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].EntryTime.Equal(filtered[j].EntryTime) {
			return filtered[i].ID < filtered[j].ID
		}
		return filtered[i].EntryTime.Before(filtered[j].EntryTime)
	})

	if err := os.MkdirAll(options.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	outputPath := filepath.Join(options.OutputDir, pe.filename(options))

	var err error
	switch options.Format {
	case FormatCSV:
		err = writeCSV(filtered, outputPath)
	case FormatJSON:
		err = pe.writeJSON(filtered, outputPath)
	}
	if err != nil {
		return "", err
	}

	pe.logger.Info("Positions exported",
		zap.String("file", outputPath),
		zap.Int("count", len(filtered)),
		zap.String("format", string(options.Format)))
	return outputPath, nil
}

func filterPositions(positions []domain.TradePosition, options ExportOptions) []domain.TradePosition {
	var filtered []domain.TradePosition
	for _, p := range positions {
		if !options.StartTime.IsZero() && p.EntryTime.Before(options.StartTime) {
			continue
		}
		if !options.EndTime.IsZero() && p.EntryTime.After(options.EndTime) {
			continue
		}
		if options.Asset != "" && p.AssetID != options.Asset {
			continue
		}
		if len(options.Statuses) > 0 && !hasStatus(options.Statuses, p.Status) {
			continue
		}
		filtered = append(filtered, p)
	}
	return filtered
}

func hasStatus(list []domain.PositionStatus, s domain.PositionStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (pe *PositionExporter) filename(options ExportOptions) string {
	prefix := "positions"
	if options.Asset != "" {
		prefix += "_" + domain.ShortID(options.Asset)
	}
	return fmt.Sprintf("%s_%s.%s", prefix, pe.now().Format("20060102_150405"), options.Format)
}

// CSVHeaders lists the columns written by the CSV export.
func CSVHeaders() []string {
	return []string{
		"id", "asset", "strategy", "status",
		"entry_time", "exit_time", "entry_amount", "entry_price", "exit_price",
		"realized_proceeds", "fees_paid", "realized_pnl", "pnl_percent",
		"exit_reason", "exit_attempts",
	}
}

// CSVRow renders one position in CSVHeaders order.
func CSVRow(p domain.TradePosition) []string {
	exitTime := ""
	if p.ExitTime != nil {
		exitTime = p.ExitTime.UTC().Format(time.RFC3339)
	}
	exitPrice := ""
	if p.ExitPrice.Valid {
		exitPrice = p.ExitPrice.Decimal.String()
	}
	return []string{
		strconv.FormatUint(p.ID, 10),
		p.AssetID,
		p.StrategyName,
		string(p.Status),
		p.EntryTime.UTC().Format(time.RFC3339),
		exitTime,
		p.EntryAmount.String(),
		p.EntryPrice.String(),
		exitPrice,
		p.RealizedProceeds.String(),
		p.FeesPaid.String(),
		p.RealizedPnL().String(),
		pnlPercent(p).StringFixed(2),
		p.ExitReason,
		strconv.Itoa(p.ExitAttempts),
	}
}

func pnlPercent(p domain.TradePosition) decimal.Decimal {
	if !p.EntryAmount.IsPositive() {
		return decimal.Zero
	}
	return p.RealizedPnL().Div(p.EntryAmount).Mul(decimal.NewFromInt(100))
}

func writeCSV(positions []domain.TradePosition, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(CSVHeaders()); err != nil {
		return fmt.Errorf("failed to write CSV headers: %w", err)
	}
	for _, p := range positions {
		if err := writer.Write(CSVRow(p)); err != nil {
			return fmt.Errorf("failed to write position %d: %w", p.ID, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

func (pe *PositionExporter) writeJSON(positions []domain.TradePosition, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create JSON file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")

	exportData := struct {
		ExportTime    time.Time              `json:"export_time"`
		PositionCount int                    `json:"position_count"`
		Summary       Summary                `json:"summary"`
		Positions     []domain.TradePosition `json:"positions"`
	}{
		ExportTime:    pe.now(),
		PositionCount: len(positions),
		Summary:       Summarize(positions),
		Positions:     positions,
	}
	if err := encoder.Encode(exportData); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// Summary aggregates realized results. Only CLOSED positions count toward PnL.
type Summary struct {
	Closed        int             `json:"closed"`
	Failed        int             `json:"failed"`
	Open          int             `json:"open"`
	UniqueAssets  int             `json:"unique_assets"`
	Wins          int             `json:"wins"`
	Losses        int             `json:"losses"`
	WinRate       float64         `json:"win_rate"` // percent of closed
	TotalInvested decimal.Decimal `json:"total_invested"`
	TotalFees     decimal.Decimal `json:"total_fees"`
	TotalPnL      decimal.Decimal `json:"total_pnl"`
	BestPnL       decimal.Decimal `json:"best_pnl"`
	WorstPnL      decimal.Decimal `json:"worst_pnl"`
}

func Summarize(positions []domain.TradePosition) Summary {
	var s Summary
	assets := make(map[string]struct{})
	for _, p := range positions {
		assets[p.AssetID] = struct{}{}
		s.TotalInvested = s.TotalInvested.Add(p.EntryAmount)
		s.TotalFees = s.TotalFees.Add(p.FeesPaid)

		switch p.Status {
		case domain.StatusClosed:
		case domain.StatusFailed:
			s.Failed++
			continue
		default:
			s.Open++
			continue
		}

		pnl := p.RealizedPnL()
		if s.Closed == 0 || pnl.GreaterThan(s.BestPnL) {
			s.BestPnL = pnl
		}
		if s.Closed == 0 || pnl.LessThan(s.WorstPnL) {
			s.WorstPnL = pnl
		}
		s.Closed++
		s.TotalPnL = s.TotalPnL.Add(pnl)
		switch {
		case pnl.IsPositive():
			s.Wins++
		case pnl.IsNegative():
			s.Losses++
		}
	}
	s.UniqueAssets = len(assets)
	if s.Closed > 0 {
		s.WinRate = float64(s.Wins) / float64(s.Closed) * 100
	}
	return s
}
