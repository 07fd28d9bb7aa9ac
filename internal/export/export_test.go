package export

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"
	"github.com/xuri/excelize/v2"

	"eqx/internal/domain"
	"eqx/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "eqx.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func fp(v float64) *float64 { return &v }
func ip(v int) *int         { return &v }
func sp(v string) *string   { return &v }

// seedAll populates every table with two in-range rows plus out-of-range
// extras dated 2024-04-02.
func seedAll(t *testing.T, s *store.SQLiteStore) {
	t.Helper()
	ctx := context.Background()

	prices := []domain.PricePoint{
		{Date: "2024-03-04", Ticker: "AAA", Close: 100, MarketCap: 1e9},
		{Date: "2024-03-04", Ticker: "BBB", Close: 200, MarketCap: 2e9},
		{Date: "2024-03-05", Ticker: "AAA", Close: 105, MarketCap: 1.05e9},
		{Date: "2024-04-02", Ticker: "ZZZ", Close: 10, MarketCap: 1e8},
	}
	if err := s.UpsertPrices(ctx, prices); err != nil {
		t.Fatalf("UpsertPrices: %v", err)
	}

	benches := []domain.BenchmarkPoint{
		{Date: "2024-03-04", Close: 5000},
		{Date: "2024-03-05", Close: 5100},
		{Date: "2024-04-02", Close: 5200},
	}
	if err := s.UpsertBenchmarks(ctx, benches); err != nil {
		t.Fatalf("UpsertBenchmarks: %v", err)
	}

	snaps := []*domain.IndexSnapshot{
		{Date: "2024-03-04", IndexValue: 10, BenchmarkValue: fp(5000), Constituents: domain.Constituents{"AAA", "BBB"}},
		{Date: "2024-03-05", IndexValue: 10.2, Constituents: domain.Constituents{"AAA", "CCC"}},
	}
	for _, snap := range snaps {
		if err := s.UpsertSnapshot(ctx, snap); err != nil {
			t.Fatalf("UpsertSnapshot(%s): %v", snap.Date, err)
		}
	}

	daily := []domain.DailyMetricRow{
		{
			Date: "2024-03-04", IndexValue: 10, BenchmarkClose: 5000,
			RollingMax: 10, ExposureSimilarity: 1,
			Constituents: domain.Constituents{"AAA", "BBB"},
		},
		{
			Date: "2024-03-05", IndexValue: 10.2, BenchmarkClose: 5100,
			DailyReturn: 0.02, BenchmarkReturn: 0.02, CumulativeReturn: 0.02,
			RollingVolatility: fp(0.02), RollingBeta: fp(0.9), RollingMax: 10.2,
			Turnover: 2, ExposureSimilarity: 0.5,
			Constituents: domain.Constituents{"AAA", "CCC"},
		},
	}
	if err := s.UpsertDailyMetrics(ctx, daily); err != nil {
		t.Fatalf("UpsertDailyMetrics: %v", err)
	}

	full := &domain.SummaryMetricRow{
		Date: "2024-03-05", WindowDays: 30,
		BestDay: sp("2024-03-05"), WorstDay: sp("2024-03-04"),
		MaxDrawdown: fp(-0.05), FinalReturn: fp(0.03), AvgDailyReturn: fp(0.015),
		Volatility: fp(0.007), SharpeRatio: fp(2.14), SortinoRatio: fp(0),
		UlcerIndex: fp(1.2), AnnualizedReturn: fp(4.4), AnnualizedVolatility: fp(0.11),
		UpCapture: fp(1.2), DownCapture: fp(0.8), WinRatio: fp(1.0),
		AvgTurnover: fp(0.5), TotalRebalances: ip(1), AvgExposureSimilarity: fp(0.99),
		VaR95: fp(-0.01), VaR99: fp(-0.02), ReturnSkewness: fp(0.1), ReturnKurtosis: fp(-1.1),
		MaxGainStreak: ip(2), MaxLossStreak: ip(0),
	}
	if err := s.UpsertSummary(ctx, full); err != nil {
		t.Fatalf("UpsertSummary: %v", err)
	}
	null := &domain.SummaryMetricRow{Date: "2024-03-05", WindowDays: 7}
	if err := s.UpsertSummary(ctx, null); err != nil {
		t.Fatalf("UpsertSummary null row: %v", err)
	}
}

func TestExcelExport(t *testing.T) {
	s := newTestStore(t)
	seedAll(t, s)
	path := filepath.Join(t.TempDir(), "out", "eqx.xlsx")

	if err := NewExcelExporter(s).Export(context.Background(), path, "2024-03-01", "2024-03-31"); err != nil {
		t.Fatalf("Export: %v", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	want := []string{sheetPrices, sheetBenchmark, sheetIndex, sheetDaily, sheetSummary}
	for _, name := range want {
		found := false
		for _, got := range sheets {
			if got == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("sheet %s missing from %v", name, sheets)
		}
	}

	cell := func(sheet, ref string) string {
		t.Helper()
		v, err := f.GetCellValue(sheet, ref)
		if err != nil {
			t.Fatalf("GetCellValue(%s!%s): %v", sheet, ref, err)
		}
		return v
	}

	// Prices: header, then rows ordered by date and ticker. The April row is
	// out of range.
	if got := cell(sheetPrices, "A1"); got != "date" {
		t.Errorf("Prices A1 = %q, want date", got)
	}
	if got := cell(sheetPrices, "B2"); got != "AAA" {
		t.Errorf("Prices B2 = %q, want AAA", got)
	}
	if got := cell(sheetPrices, "A4"); got != "2024-03-05" {
		t.Errorf("Prices A4 = %q, want 2024-03-05", got)
	}
	if got := cell(sheetPrices, "A5"); got != "" {
		t.Errorf("Prices A5 = %q, want empty (out-of-range row exported)", got)
	}

	// Index: nullable benchmark_value becomes an empty cell.
	if got := cell(sheetIndex, "C2"); got != "5000" {
		t.Errorf("Index C2 = %q, want 5000", got)
	}
	if got := cell(sheetIndex, "C3"); got != "" {
		t.Errorf("Index C3 = %q, want empty", got)
	}
	if got := cell(sheetIndex, "D3"); got != "AAA,CCC" {
		t.Errorf("Index D3 = %q, want AAA,CCC", got)
	}

	// DailyMetrics: rolling stats null on the first row only.
	if got := cell(sheetDaily, "G2"); got != "" {
		t.Errorf("DailyMetrics G2 = %q, want empty", got)
	}
	if got := cell(sheetDaily, "G3"); got != "0.02" {
		t.Errorf("DailyMetrics G3 = %q, want 0.02", got)
	}
	if got := cell(sheetDaily, "M3"); got != "2" {
		t.Errorf("DailyMetrics M3 = %q, want 2", got)
	}

	// SummaryMetrics: the 7-day null row sorts before the 30-day row.
	if got := cell(sheetSummary, "B2"); got != "7" {
		t.Errorf("SummaryMetrics B2 = %q, want 7", got)
	}
	if got := cell(sheetSummary, "C2"); got != "" {
		t.Errorf("SummaryMetrics C2 = %q, want empty", got)
	}
	if got := cell(sheetSummary, "B3"); got != "30" {
		t.Errorf("SummaryMetrics B3 = %q, want 30", got)
	}
	if got := cell(sheetSummary, "C3"); got != "2024-03-05" {
		t.Errorf("SummaryMetrics C3 = %q, want 2024-03-05", got)
	}
	if got := cell(sheetSummary, "R3"); got != "1" {
		t.Errorf("SummaryMetrics R3 = %q, want 1", got)
	}
}

func TestParquetExport(t *testing.T) {
	s := newTestStore(t)
	seedAll(t, s)
	dir := filepath.Join(t.TempDir(), "pq")

	if err := NewParquetExporter(s).Export(context.Background(), dir, "2024-03-01", "2024-03-31"); err != nil {
		t.Fatalf("Export: %v", err)
	}

	prices, err := parquet.ReadFile[PriceRecord](filepath.Join(dir, "stock_prices.parquet"))
	if err != nil {
		t.Fatalf("reading stock_prices.parquet: %v", err)
	}
	if len(prices) != 3 {
		t.Fatalf("got %d price records, want 3 (out-of-range row exported?)", len(prices))
	}
	if prices[0].Ticker != "AAA" || prices[0].Close != 100 || prices[0].MarketCap != 1e9 {
		t.Errorf("first price record = %+v", prices[0])
	}

	benches, err := parquet.ReadFile[BenchmarkRecord](filepath.Join(dir, "benchmark_prices.parquet"))
	if err != nil {
		t.Fatalf("reading benchmark_prices.parquet: %v", err)
	}
	if len(benches) != 2 {
		t.Fatalf("got %d benchmark records, want 2", len(benches))
	}

	index, err := parquet.ReadFile[IndexRecord](filepath.Join(dir, "index_values.parquet"))
	if err != nil {
		t.Fatalf("reading index_values.parquet: %v", err)
	}
	if len(index) != 2 {
		t.Fatalf("got %d index records, want 2", len(index))
	}
	if index[0].BenchmarkValue == nil || *index[0].BenchmarkValue != 5000 {
		t.Errorf("index[0].BenchmarkValue = %v, want 5000", index[0].BenchmarkValue)
	}
	if index[1].BenchmarkValue != nil {
		t.Errorf("index[1].BenchmarkValue = %v, want nil", *index[1].BenchmarkValue)
	}
	if index[1].Tickers != "AAA,CCC" {
		t.Errorf("index[1].Tickers = %q, want AAA,CCC", index[1].Tickers)
	}

	daily, err := parquet.ReadFile[DailyMetricRecord](filepath.Join(dir, "index_metrics.parquet"))
	if err != nil {
		t.Fatalf("reading index_metrics.parquet: %v", err)
	}
	if len(daily) != 2 {
		t.Fatalf("got %d daily records, want 2", len(daily))
	}
	if daily[0].RollingVolatility != nil {
		t.Errorf("daily[0].RollingVolatility = %v, want nil", *daily[0].RollingVolatility)
	}
	if daily[1].RollingVolatility == nil || *daily[1].RollingVolatility != 0.02 {
		t.Errorf("daily[1].RollingVolatility = %v, want 0.02", daily[1].RollingVolatility)
	}
	if daily[1].Turnover != 2 {
		t.Errorf("daily[1].Turnover = %d, want 2", daily[1].Turnover)
	}

	summaries, err := parquet.ReadFile[SummaryRecord](filepath.Join(dir, "summary_metrics.parquet"))
	if err != nil {
		t.Fatalf("reading summary_metrics.parquet: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("got %d summary records, want 2", len(summaries))
	}
	if summaries[0].WindowDays != 7 || summaries[0].FinalReturn != nil || summaries[0].MaxGainStreak != nil {
		t.Errorf("null-window record = %+v", summaries[0])
	}
	if summaries[1].WindowDays != 30 {
		t.Errorf("summaries[1].WindowDays = %d, want 30", summaries[1].WindowDays)
	}
	if summaries[1].FinalReturn == nil || *summaries[1].FinalReturn != 0.03 {
		t.Errorf("summaries[1].FinalReturn = %v, want 0.03", summaries[1].FinalReturn)
	}
	if summaries[1].TotalRebalances == nil || *summaries[1].TotalRebalances != 1 {
		t.Errorf("summaries[1].TotalRebalances = %v, want 1", summaries[1].TotalRebalances)
	}
}
