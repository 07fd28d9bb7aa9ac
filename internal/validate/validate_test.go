package validate

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

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

func TestRunReportsFindings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	dir := t.TempDir()

	prices := []domain.PricePoint{
		{Date: "2024-03-04", Ticker: "AAA", Close: 100, MarketCap: 1e9},
		{Date: "2024-03-04", Ticker: "BBB", Close: -5, MarketCap: 2e9},
		{Date: "2024-03-04", Ticker: "CCC", Close: 50, MarketCap: 0},
		// 100 -> 1200 is an 11x move, above the spike threshold.
		{Date: "2024-03-05", Ticker: "AAA", Close: 1200, MarketCap: 1e9},
	}
	if err := s.UpsertPrices(ctx, prices); err != nil {
		t.Fatalf("UpsertPrices: %v", err)
	}
	benches := []domain.BenchmarkPoint{
		{Date: "2024-03-04", Close: 5000},
		{Date: "2024-03-05", Close: -1},
	}
	if err := s.UpsertBenchmarks(ctx, benches); err != nil {
		t.Fatalf("UpsertBenchmarks: %v", err)
	}
	bench := 5000.0
	snaps := []*domain.IndexSnapshot{
		{Date: "2024-03-04", IndexValue: 10, BenchmarkValue: &bench, Constituents: domain.Constituents{"AAA"}},
		{Date: "2024-03-05", IndexValue: -2, Constituents: domain.Constituents{"AAA"}},
	}
	for _, snap := range snaps {
		if err := s.UpsertSnapshot(ctx, snap); err != nil {
			t.Fatalf("UpsertSnapshot(%s): %v", snap.Date, err)
		}
	}

	findings, err := NewValidator(s, dir).Run(ctx, "2024-03-31")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	detail := func(name string) string { return filepath.Join(dir, name) }
	want := []Finding{
		{Table: "stock_prices", Issue: "Non-positive values", Column: "close", Count: 1, DetailsFile: detail("stock_prices__non_positive__close.csv")},
		{Table: "stock_prices", Issue: "Non-positive values", Column: "market_cap", Count: 1, DetailsFile: detail("stock_prices__non_positive__market_cap.csv")},
		{Table: "stock_prices", Issue: "Price change >10x vs previous day", Column: "close", Count: 1, DetailsFile: detail("stock_prices__price_spike_gt_10x__close.csv")},
		{Table: "benchmark_prices", Issue: "Non-positive values", Column: "close", Count: 1, DetailsFile: detail("benchmark_prices__non_positive__close.csv")},
		{Table: "index_values", Issue: "Non-positive values", Column: "index_value", Count: 1, DetailsFile: detail("index_values__non_positive__index_value.csv")},
		{Table: "index_values", Issue: "Missing benchmark close", Column: "benchmark_value", Count: 1, DetailsFile: detail("index_values__missing_benchmark__benchmark_value.csv")},
	}
	if !reflect.DeepEqual(findings, want) {
		t.Errorf("findings = %+v,\nwant %+v", findings, want)
	}

	for _, f := range want {
		if _, err := os.Stat(f.DetailsFile); err != nil {
			t.Errorf("detail report: %v", err)
		}
	}

	spike, err := os.ReadFile(filepath.Join(dir, "stock_prices__price_spike_gt_10x__close.csv"))
	if err != nil {
		t.Fatalf("reading spike report: %v", err)
	}
	if got := string(spike); !strings.Contains(got, "2024-03-05,AAA,1200,100,11") {
		t.Errorf("spike report missing the flagged row:\n%s", got)
	}

	summary, err := os.ReadFile(filepath.Join(dir, "validation_report.csv"))
	if err != nil {
		t.Fatalf("reading summary report: %v", err)
	}
	if lines := strings.Count(strings.TrimSpace(string(summary)), "\n") + 1; lines != 7 {
		t.Errorf("summary has %d lines, want header plus 6 findings:\n%s", lines, summary)
	}
}

func TestRunCleanData(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	dir := t.TempDir()

	prices := []domain.PricePoint{
		{Date: "2024-03-04", Ticker: "AAA", Close: 100, MarketCap: 1e9},
		{Date: "2024-03-05", Ticker: "AAA", Close: 105, MarketCap: 1.1e9},
		// Dated after the cutoff: must not be validated.
		{Date: "2024-04-02", Ticker: "DDD", Close: -1, MarketCap: 1e9},
	}
	if err := s.UpsertPrices(ctx, prices); err != nil {
		t.Fatalf("UpsertPrices: %v", err)
	}
	if err := s.UpsertBenchmarks(ctx, []domain.BenchmarkPoint{{Date: "2024-03-04", Close: 5000}}); err != nil {
		t.Fatalf("UpsertBenchmarks: %v", err)
	}
	bench := 5000.0
	snap := &domain.IndexSnapshot{Date: "2024-03-04", IndexValue: 10, BenchmarkValue: &bench, Constituents: domain.Constituents{"AAA"}}
	if err := s.UpsertSnapshot(ctx, snap); err != nil {
		t.Fatalf("UpsertSnapshot: %v", err)
	}

	findings, err := NewValidator(s, dir).Run(ctx, "2024-03-31")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(findings) != 0 {
		t.Fatalf("findings = %+v, want none", findings)
	}
	if _, err := os.Stat(filepath.Join(dir, "validation_report.csv")); !os.IsNotExist(err) {
		t.Errorf("summary report written for clean data: %v", err)
	}
}
