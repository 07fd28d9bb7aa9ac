package export

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"

	"eqx/internal/domain"
	"eqx/internal/store"
)

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// PriceRecord is the Parquet schema for the stock_prices table.
type PriceRecord struct {
	Date      string  `parquet:"date"`
	Ticker    string  `parquet:"ticker"`
	Close     float64 `parquet:"close"`
	MarketCap float64 `parquet:"market_cap"`
}

// BenchmarkRecord is the Parquet schema for the benchmark_prices table.
type BenchmarkRecord struct {
	Date  string  `parquet:"date"`
	Close float64 `parquet:"close"`
}

// IndexRecord is the Parquet schema for the index_values table.
type IndexRecord struct {
	Date           string   `parquet:"date"`
	IndexValue     float64  `parquet:"index_value"`
	BenchmarkValue *float64 `parquet:"benchmark_value,optional"`
	Tickers        string   `parquet:"tickers"`
}

// DailyMetricRecord is the Parquet schema for the index_metrics table.
type DailyMetricRecord struct {
	Date               string   `parquet:"date"`
	IndexValue         float64  `parquet:"index_value"`
	BenchmarkClose     float64  `parquet:"benchmark_close"`
	DailyReturn        float64  `parquet:"daily_return"`
	BenchmarkReturn    float64  `parquet:"benchmark_return"`
	CumulativeReturn   float64  `parquet:"cumulative_return"`
	RollingVolatility  *float64 `parquet:"rolling_volatility,optional"`
	RollingBeta        *float64 `parquet:"rolling_beta,optional"`
	RollingMax         float64  `parquet:"rolling_max"`
	Drawdown           float64  `parquet:"drawdown"`
	DrawdownPct        float64  `parquet:"drawdown_pct"`
	Tickers            string   `parquet:"tickers"`
	Turnover           int64    `parquet:"turnover"`
	ExposureSimilarity float64  `parquet:"exposure_similarity"`
}

// SummaryRecord is the Parquet schema for the summary_metrics table.
type SummaryRecord struct {
	Date                  string   `parquet:"date"`
	WindowDays            int64    `parquet:"window_days"`
	BestDay               *string  `parquet:"best_day,optional"`
	WorstDay              *string  `parquet:"worst_day,optional"`
	MaxDrawdown           *float64 `parquet:"max_drawdown,optional"`
	FinalReturn           *float64 `parquet:"final_return,optional"`
	AvgDailyReturn        *float64 `parquet:"avg_daily_return,optional"`
	Volatility            *float64 `parquet:"volatility,optional"`
	SharpeRatio           *float64 `parquet:"sharpe_ratio,optional"`
	SortinoRatio          *float64 `parquet:"sortino_ratio,optional"`
	UlcerIndex            *float64 `parquet:"ulcer_index,optional"`
	AnnualizedReturn      *float64 `parquet:"annualized_return,optional"`
	AnnualizedVolatility  *float64 `parquet:"annualized_volatility,optional"`
	UpCapture             *float64 `parquet:"up_capture,optional"`
	DownCapture           *float64 `parquet:"down_capture,optional"`
	WinRatio              *float64 `parquet:"win_ratio,optional"`
	AvgTurnover           *float64 `parquet:"avg_turnover,optional"`
	TotalRebalances       *int64   `parquet:"total_rebalances,optional"`
	AvgExposureSimilarity *float64 `parquet:"avg_exposure_similarity,optional"`
	VaR95                 *float64 `parquet:"var_95,optional"`
	VaR99                 *float64 `parquet:"var_99,optional"`
	ReturnSkewness        *float64 `parquet:"return_skewness,optional"`
	ReturnKurtosis        *float64 `parquet:"return_kurtosis,optional"`
	MaxGainStreak         *int64   `parquet:"max_gain_streak,optional"`
	MaxLossStreak         *int64   `parquet:"max_loss_streak,optional"`
}

// ---------------------------------------------------------------------------
// Exporter
// ---------------------------------------------------------------------------

// ParquetExporter writes one Parquet file per stored table.
type ParquetExporter struct {
	store store.Store
	log   *slog.Logger
}

func NewParquetExporter(s store.Store) *ParquetExporter {
	return &ParquetExporter{
		store: s,
		log:   slog.Default().With("component", "export"),
	}
}

// Export writes the table files under dir, covering rows dated in
// [start, end]. Files are named after the tables they mirror.
func (p *ParquetExporter) Export(ctx context.Context, dir, start, end string) error {
	prices, err := p.store.ReadPrices(ctx, start, end)
	if err != nil {
		return fmt.Errorf("reading prices: %w", err)
	}
	priceRecords := make([]PriceRecord, 0, len(prices))
	for _, pt := range prices {
		priceRecords = append(priceRecords, PriceRecord{
			Date: pt.Date, Ticker: pt.Ticker, Close: pt.Close, MarketCap: pt.MarketCap,
		})
	}
	if err := writeParquetFile(filepath.Join(dir, "stock_prices.parquet"), priceRecords); err != nil {
		return fmt.Errorf("writing stock_prices: %w", err)
	}

	benches, err := p.store.ReadBenchmarks(ctx, start, end)
	if err != nil {
		return fmt.Errorf("reading benchmarks: %w", err)
	}
	benchRecords := make([]BenchmarkRecord, 0, len(benches))
	for _, b := range benches {
		benchRecords = append(benchRecords, BenchmarkRecord{Date: b.Date, Close: b.Close})
	}
	if err := writeParquetFile(filepath.Join(dir, "benchmark_prices.parquet"), benchRecords); err != nil {
		return fmt.Errorf("writing benchmark_prices: %w", err)
	}

	snaps, err := p.store.ReadSnapshots(ctx, start, end)
	if err != nil {
		return fmt.Errorf("reading snapshots: %w", err)
	}
	indexRecords := make([]IndexRecord, 0, len(snaps))
	for _, s := range snaps {
		indexRecords = append(indexRecords, IndexRecord{
			Date:           s.Date,
			IndexValue:     s.IndexValue,
			BenchmarkValue: s.BenchmarkValue,
			Tickers:        s.Constituents.Encode(),
		})
	}
	if err := writeParquetFile(filepath.Join(dir, "index_values.parquet"), indexRecords); err != nil {
		return fmt.Errorf("writing index_values: %w", err)
	}

	daily, err := p.store.ReadDailyMetrics(ctx, start, end)
	if err != nil {
		return fmt.Errorf("reading daily metrics: %w", err)
	}
	dailyRecords := make([]DailyMetricRecord, 0, len(daily))
	for _, r := range daily {
		dailyRecords = append(dailyRecords, DailyMetricRecord{
			Date:               r.Date,
			IndexValue:         r.IndexValue,
			BenchmarkClose:     r.BenchmarkClose,
			DailyReturn:        r.DailyReturn,
			BenchmarkReturn:    r.BenchmarkReturn,
			CumulativeReturn:   r.CumulativeReturn,
			RollingVolatility:  r.RollingVolatility,
			RollingBeta:        r.RollingBeta,
			RollingMax:         r.RollingMax,
			Drawdown:           r.Drawdown,
			DrawdownPct:        r.DrawdownPct,
			Tickers:            r.Constituents.Encode(),
			Turnover:           int64(r.Turnover),
			ExposureSimilarity: r.ExposureSimilarity,
		})
	}
	if err := writeParquetFile(filepath.Join(dir, "index_metrics.parquet"), dailyRecords); err != nil {
		return fmt.Errorf("writing index_metrics: %w", err)
	}

	summaries, err := p.store.ReadSummaries(ctx, start, end)
	if err != nil {
		return fmt.Errorf("reading summaries: %w", err)
	}
	summaryRecords := make([]SummaryRecord, 0, len(summaries))
	for _, r := range summaries {
		summaryRecords = append(summaryRecords, newSummaryRecord(r))
	}
	if err := writeParquetFile(filepath.Join(dir, "summary_metrics.parquet"), summaryRecords); err != nil {
		return fmt.Errorf("writing summary_metrics: %w", err)
	}

	p.log.Info("parquet export written", "dir", dir, "start", start, "end", end,
		"prices", len(priceRecords), "snapshots", len(indexRecords))
	return nil
}

func newSummaryRecord(r domain.SummaryMetricRow) SummaryRecord {
	return SummaryRecord{
		Date:                  r.Date,
		WindowDays:            int64(r.WindowDays),
		BestDay:               r.BestDay,
		WorstDay:              r.WorstDay,
		MaxDrawdown:           r.MaxDrawdown,
		FinalReturn:           r.FinalReturn,
		AvgDailyReturn:        r.AvgDailyReturn,
		Volatility:            r.Volatility,
		SharpeRatio:           r.SharpeRatio,
		SortinoRatio:          r.SortinoRatio,
		UlcerIndex:            r.UlcerIndex,
		AnnualizedReturn:      r.AnnualizedReturn,
		AnnualizedVolatility:  r.AnnualizedVolatility,
		UpCapture:             r.UpCapture,
		DownCapture:           r.DownCapture,
		WinRatio:              r.WinRatio,
		AvgTurnover:           r.AvgTurnover,
		TotalRebalances:       i64ptr(r.TotalRebalances),
		AvgExposureSimilarity: r.AvgExposureSimilarity,
		VaR95:                 r.VaR95,
		VaR99:                 r.VaR99,
		ReturnSkewness:        r.ReturnSkewness,
		ReturnKurtosis:        r.ReturnKurtosis,
		MaxGainStreak:         i64ptr(r.MaxGainStreak),
		MaxLossStreak:         i64ptr(r.MaxLossStreak),
	}
}

func i64ptr(p *int) *int64 {
	if p == nil {
		return nil
	}
	v := int64(*p)
	return &v
}

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}
