// Package export writes the stored tables out as Excel workbooks and Parquet
// datasets for downstream analysis.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"eqx/internal/store"
)

// Sheet names, one per stored table.
const (
	sheetPrices    = "Prices"
	sheetBenchmark = "Benchmark"
	sheetIndex     = "Index"
	sheetDaily     = "DailyMetrics"
	sheetSummary   = "SummaryMetrics"
)

// ExcelExporter writes one workbook with a sheet per stored table.
type ExcelExporter struct {
	store store.Store
	log   *slog.Logger
}

func NewExcelExporter(s store.Store) *ExcelExporter {
	return &ExcelExporter{
		store: s,
		log:   slog.Default().With("component", "export"),
	}
}

// Export writes the workbook to path, covering rows dated in [start, end].
// Null columns become empty cells.
func (e *ExcelExporter) Export(ctx context.Context, path, start, end string) error {
	f := excelize.NewFile()
	defer f.Close()

	// Reuse the default sheet for the first table, then add the rest.
	if err := f.SetSheetName(f.GetSheetName(0), sheetPrices); err != nil {
		return fmt.Errorf("renaming default sheet: %w", err)
	}
	for _, name := range []string{sheetBenchmark, sheetIndex, sheetDaily, sheetSummary} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("adding sheet %s: %w", name, err)
		}
	}

	if err := e.writePrices(ctx, f, start, end); err != nil {
		return fmt.Errorf("exporting %s sheet: %w", sheetPrices, err)
	}
	if err := e.writeBenchmark(ctx, f, start, end); err != nil {
		return fmt.Errorf("exporting %s sheet: %w", sheetBenchmark, err)
	}
	if err := e.writeIndex(ctx, f, start, end); err != nil {
		return fmt.Errorf("exporting %s sheet: %w", sheetIndex, err)
	}
	if err := e.writeDaily(ctx, f, start, end); err != nil {
		return fmt.Errorf("exporting %s sheet: %w", sheetDaily, err)
	}
	if err := e.writeSummary(ctx, f, start, end); err != nil {
		return fmt.Errorf("exporting %s sheet: %w", sheetSummary, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating export dir: %w", err)
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("saving workbook: %w", err)
	}
	e.log.Info("excel export written", "path", path, "start", start, "end", end)
	return nil
}

func (e *ExcelExporter) writePrices(ctx context.Context, f *excelize.File, start, end string) error {
	points, err := e.store.ReadPrices(ctx, start, end)
	if err != nil {
		return err
	}
	if err := setRow(f, sheetPrices, 1, []any{"date", "ticker", "close", "market_cap"}); err != nil {
		return err
	}
	for i, p := range points {
		if err := setRow(f, sheetPrices, i+2, []any{p.Date, p.Ticker, p.Close, p.MarketCap}); err != nil {
			return err
		}
	}
	return nil
}

func (e *ExcelExporter) writeBenchmark(ctx context.Context, f *excelize.File, start, end string) error {
	points, err := e.store.ReadBenchmarks(ctx, start, end)
	if err != nil {
		return err
	}
	if err := setRow(f, sheetBenchmark, 1, []any{"date", "close"}); err != nil {
		return err
	}
	for i, p := range points {
		if err := setRow(f, sheetBenchmark, i+2, []any{p.Date, p.Close}); err != nil {
			return err
		}
	}
	return nil
}

func (e *ExcelExporter) writeIndex(ctx context.Context, f *excelize.File, start, end string) error {
	snaps, err := e.store.ReadSnapshots(ctx, start, end)
	if err != nil {
		return err
	}
	if err := setRow(f, sheetIndex, 1, []any{"date", "index_value", "benchmark_value", "tickers"}); err != nil {
		return err
	}
	for i, s := range snaps {
		row := []any{s.Date, s.IndexValue, cellValue(s.BenchmarkValue), s.Constituents.Encode()}
		if err := setRow(f, sheetIndex, i+2, row); err != nil {
			return err
		}
	}
	return nil
}

func (e *ExcelExporter) writeDaily(ctx context.Context, f *excelize.File, start, end string) error {
	rows, err := e.store.ReadDailyMetrics(ctx, start, end)
	if err != nil {
		return err
	}
	header := []any{
		"date", "index_value", "benchmark_close", "daily_return", "benchmark_return",
		"cumulative_return", "rolling_volatility", "rolling_beta", "rolling_max",
		"drawdown", "drawdown_pct", "tickers", "turnover", "exposure_similarity",
	}
	if err := setRow(f, sheetDaily, 1, header); err != nil {
		return err
	}
	for i, r := range rows {
		row := []any{
			r.Date, r.IndexValue, r.BenchmarkClose, r.DailyReturn, r.BenchmarkReturn,
			r.CumulativeReturn, cellValue(r.RollingVolatility), cellValue(r.RollingBeta), r.RollingMax,
			r.Drawdown, r.DrawdownPct, r.Constituents.Encode(), r.Turnover, r.ExposureSimilarity,
		}
		if err := setRow(f, sheetDaily, i+2, row); err != nil {
			return err
		}
	}
	return nil
}

func (e *ExcelExporter) writeSummary(ctx context.Context, f *excelize.File, start, end string) error {
	rows, err := e.store.ReadSummaries(ctx, start, end)
	if err != nil {
		return err
	}
	header := []any{
		"date", "window_days", "best_day", "worst_day", "max_drawdown", "final_return",
		"avg_daily_return", "volatility", "sharpe_ratio", "sortino_ratio", "ulcer_index",
		"annualized_return", "annualized_volatility", "up_capture", "down_capture",
		"win_ratio", "avg_turnover", "total_rebalances", "avg_exposure_similarity",
		"var_95", "var_99", "return_skewness", "return_kurtosis",
		"max_gain_streak", "max_loss_streak",
	}
	if err := setRow(f, sheetSummary, 1, header); err != nil {
		return err
	}
	for i, r := range rows {
		row := []any{
			r.Date, r.WindowDays, cellValue(r.BestDay), cellValue(r.WorstDay),
			cellValue(r.MaxDrawdown), cellValue(r.FinalReturn), cellValue(r.AvgDailyReturn),
			cellValue(r.Volatility), cellValue(r.SharpeRatio), cellValue(r.SortinoRatio),
			cellValue(r.UlcerIndex), cellValue(r.AnnualizedReturn), cellValue(r.AnnualizedVolatility),
			cellValue(r.UpCapture), cellValue(r.DownCapture), cellValue(r.WinRatio),
			cellValue(r.AvgTurnover), cellValue(r.TotalRebalances), cellValue(r.AvgExposureSimilarity),
			cellValue(r.VaR95), cellValue(r.VaR99), cellValue(r.ReturnSkewness),
			cellValue(r.ReturnKurtosis), cellValue(r.MaxGainStreak), cellValue(r.MaxLossStreak),
		}
		if err := setRow(f, sheetSummary, i+2, row); err != nil {
			return err
		}
	}
	return nil
}

// setRow writes values into one sheet row, starting at column A.
func setRow(f *excelize.File, sheet string, row int, values []any) error {
	for i, v := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return err
		}
	}
	return nil
}

// cellValue unwraps a nullable column for SetCellValue; nil becomes an empty
// cell.
func cellValue[T any](p *T) any {
	if p == nil {
		return ""
	}
	return *p
}
