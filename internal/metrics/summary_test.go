package metrics

import (
	"context"
	"math"
	"testing"

	"eqx/internal/domain"
	"eqx/internal/store"
)

// metricRow builds a stored daily metric row with just the fields the
// summary calculator reads.
func metricRow(date string, ret, benchRet, drawdown float64, turnover int, similarity float64) domain.DailyMetricRow {
	return domain.DailyMetricRow{
		Date:               date,
		IndexValue:         100,
		BenchmarkClose:     5000,
		DailyReturn:        ret,
		BenchmarkReturn:    benchRet,
		RollingMax:         100,
		Drawdown:           drawdown,
		DrawdownPct:        drawdown * 100,
		Constituents:       domain.Constituents{"AAA"},
		Turnover:           turnover,
		ExposureSimilarity: similarity,
	}
}

func seedMetricRows(t *testing.T, s *store.SQLiteStore, rows []domain.DailyMetricRow) {
	t.Helper()
	if err := s.UpsertDailyMetrics(context.Background(), rows); err != nil {
		t.Fatalf("UpsertDailyMetrics: %v", err)
	}
}

func getSummary(t *testing.T, s *store.SQLiteStore, date string, windowDays int) *domain.SummaryMetricRow {
	t.Helper()
	row, err := s.GetSummary(context.Background(), date, windowDays)
	if err != nil {
		t.Fatalf("GetSummary(%s, %d): %v", date, windowDays, err)
	}
	if row == nil {
		t.Fatalf("GetSummary(%s, %d) = nil, want a row", date, windowDays)
	}
	return row
}

func derefF(t *testing.T, name string, p *float64) float64 {
	t.Helper()
	if p == nil {
		t.Fatalf("%s is null, want a value", name)
	}
	return *p
}

func derefI(t *testing.T, name string, p *int) int {
	t.Helper()
	if p == nil {
		t.Fatalf("%s is null, want a value", name)
	}
	return *p
}

func derefS(t *testing.T, name string, p *string) string {
	t.Helper()
	if p == nil {
		t.Fatalf("%s is null, want a value", name)
	}
	return *p
}

func TestSummaryFiveDayWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedMetricRows(t, s, []domain.DailyMetricRow{
		metricRow("2024-03-04", 0.01, 0.02, 0, 0, 1.0),
		metricRow("2024-03-05", 0.02, 0.01, 0, 2, 0.98),
		metricRow("2024-03-06", -0.01, -0.02, -0.01, 0, 1.0),
		metricRow("2024-03-07", 0.03, 0.02, 0, 4, 0.96),
		metricRow("2024-03-08", -0.02, -0.01, -0.02, 0, 1.0),
	})

	calc := NewSummaryCalculator(s)
	if err := calc.Compute(ctx, "2024-03-08", 30); err != nil {
		t.Fatalf("Compute: %v", err)
	}
	got := getSummary(t, s, "2024-03-08", 30)

	if d := derefS(t, "BestDay", got.BestDay); d != "2024-03-07" {
		t.Errorf("BestDay = %s, want 2024-03-07", d)
	}
	if d := derefS(t, "WorstDay", got.WorstDay); d != "2024-03-08" {
		t.Errorf("WorstDay = %s, want 2024-03-08", d)
	}

	wantFinal := 1.01*1.02*0.99*1.03*0.98 - 1
	wantVol := math.Sqrt(0.00043) // ddof=1 over the five returns
	wantClose(t, "FinalReturn", derefF(t, "FinalReturn", got.FinalReturn), wantFinal)
	wantClose(t, "AvgDailyReturn", derefF(t, "AvgDailyReturn", got.AvgDailyReturn), 0.006)
	wantClose(t, "Volatility", derefF(t, "Volatility", got.Volatility), wantVol)
	wantClose(t, "SharpeRatio", derefF(t, "SharpeRatio", got.SharpeRatio), 0.006/wantVol)
	// Downside deviations are the two negative returns.
	wantClose(t, "SortinoRatio", derefF(t, "SortinoRatio", got.SortinoRatio), 0.006/math.Sqrt(5e-5))
	// Drawdown percents 0,0,-1,0,-2: sqrt(mean of squares) = 1.
	wantClose(t, "UlcerIndex", derefF(t, "UlcerIndex", got.UlcerIndex), 1.0)
	wantClose(t, "MaxDrawdown", derefF(t, "MaxDrawdown", got.MaxDrawdown), -0.02)
	wantClose(t, "AnnualizedReturn", derefF(t, "AnnualizedReturn", got.AnnualizedReturn),
		math.Pow(1+wantFinal, 252.0/5)-1)
	wantClose(t, "AnnualizedVolatility", derefF(t, "AnnualizedVolatility", got.AnnualizedVolatility),
		wantVol*math.Sqrt(252))
	wantClose(t, "UpCapture", derefF(t, "UpCapture", got.UpCapture), 1.2)
	wantClose(t, "DownCapture", derefF(t, "DownCapture", got.DownCapture), 1.0)
	wantClose(t, "WinRatio", derefF(t, "WinRatio", got.WinRatio), 0.6)
	wantClose(t, "AvgTurnover", derefF(t, "AvgTurnover", got.AvgTurnover), 1.2)
	wantClose(t, "AvgExposureSimilarity", derefF(t, "AvgExposureSimilarity", got.AvgExposureSimilarity), 0.988)
	wantClose(t, "VaR95", derefF(t, "VaR95", got.VaR95), -0.018)
	wantClose(t, "VaR99", derefF(t, "VaR99", got.VaR99), -0.0196)
	// Central moments of the return sample: m2 = 3.44e-4, m3 = -1.008e-6,
	// m4 = 1.78592e-7.
	wantClose(t, "ReturnSkewness", derefF(t, "ReturnSkewness", got.ReturnSkewness),
		-1.008e-6/math.Pow(3.44e-4, 1.5))
	wantClose(t, "ReturnKurtosis", derefF(t, "ReturnKurtosis", got.ReturnKurtosis),
		1.78592e-7/(3.44e-4*3.44e-4)-3)
	if n := derefI(t, "TotalRebalances", got.TotalRebalances); n != 2 {
		t.Errorf("TotalRebalances = %d, want 2", n)
	}
	if n := derefI(t, "MaxGainStreak", got.MaxGainStreak); n != 2 {
		t.Errorf("MaxGainStreak = %d, want 2", n)
	}
	if n := derefI(t, "MaxLossStreak", got.MaxLossStreak); n != 1 {
		t.Errorf("MaxLossStreak = %d, want 1", n)
	}
}

func TestSummaryZeroVarianceReturns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedMetricRows(t, s, []domain.DailyMetricRow{
		metricRow("2024-03-04", 0.005, 0.01, 0, 0, 1.0),
		metricRow("2024-03-05", 0.005, -0.01, 0, 0, 1.0),
		metricRow("2024-03-06", 0.005, 0.02, 0, 0, 1.0),
	})

	calc := NewSummaryCalculator(s)
	if err := calc.Compute(ctx, "2024-03-06", 30); err != nil {
		t.Fatalf("Compute: %v", err)
	}
	got := getSummary(t, s, "2024-03-06", 30)

	wantClose(t, "Volatility", derefF(t, "Volatility", got.Volatility), 0)
	wantClose(t, "SharpeRatio", derefF(t, "SharpeRatio", got.SharpeRatio), 0)
	// No negative returns, so the downside deviation is undefined.
	wantClose(t, "SortinoRatio", derefF(t, "SortinoRatio", got.SortinoRatio), 0)
	wantClose(t, "AnnualizedVolatility", derefF(t, "AnnualizedVolatility", got.AnnualizedVolatility), 0)
	wantClose(t, "WinRatio", derefF(t, "WinRatio", got.WinRatio), 1.0)
	wantClose(t, "VaR95", derefF(t, "VaR95", got.VaR95), 0.005)
	wantClose(t, "UpCapture", derefF(t, "UpCapture", got.UpCapture), 1.0/3)
	wantClose(t, "DownCapture", derefF(t, "DownCapture", got.DownCapture), -0.5)
	if got.ReturnSkewness != nil {
		t.Errorf("ReturnSkewness = %v, want null on zero variance", *got.ReturnSkewness)
	}
	if got.ReturnKurtosis != nil {
		t.Errorf("ReturnKurtosis = %v, want null on zero variance", *got.ReturnKurtosis)
	}
	if n := derefI(t, "MaxGainStreak", got.MaxGainStreak); n != 3 {
		t.Errorf("MaxGainStreak = %d, want 3", n)
	}
	if n := derefI(t, "MaxLossStreak", got.MaxLossStreak); n != 0 {
		t.Errorf("MaxLossStreak = %d, want 0", n)
	}
}

func TestSummaryInsufficientDataStoresNullRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	calc := NewSummaryCalculator(s)

	// No rows at all.
	if err := calc.Compute(ctx, "2024-03-08", 30); err != nil {
		t.Fatalf("Compute with no data: %v", err)
	}
	got := getSummary(t, s, "2024-03-08", 30)
	if got.FinalReturn != nil || got.BestDay != nil || got.TotalRebalances != nil || got.MaxGainStreak != nil {
		t.Errorf("null row carries values: %+v", got)
	}
	if got.Date != "2024-03-08" || got.WindowDays != 30 {
		t.Errorf("null row keyed (%s, %d), want (2024-03-08, 30)", got.Date, got.WindowDays)
	}

	// A single observation is still insufficient.
	seedMetricRows(t, s, []domain.DailyMetricRow{metricRow("2024-03-15", 0.01, 0.01, 0, 0, 1.0)})
	if err := calc.Compute(ctx, "2024-03-15", 7); err != nil {
		t.Fatalf("Compute with one row: %v", err)
	}
	if got := getSummary(t, s, "2024-03-15", 7); got.Volatility != nil || got.WinRatio != nil {
		t.Errorf("single-observation summary carries values: %+v", got)
	}
}

func TestSummaryWindowBoundaries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedMetricRows(t, s, []domain.DailyMetricRow{
		metricRow("2024-03-04", 0.50, 0.01, 0, 0, 1.0), // one day before the window
		metricRow("2024-03-05", 0.03, 0.01, 0, 0, 1.0), // exactly at the window start
		metricRow("2024-03-08", 0.01, 0.01, 0, 0, 1.0),
		metricRow("2024-03-10", -0.01, -0.01, 0, 0, 1.0),
	})

	calc := NewSummaryCalculator(s)
	if err := calc.Compute(ctx, "2024-03-10", 5); err != nil {
		t.Fatalf("Compute: %v", err)
	}
	got := getSummary(t, s, "2024-03-10", 5)

	if d := derefS(t, "BestDay", got.BestDay); d != "2024-03-05" {
		t.Errorf("BestDay = %s, want 2024-03-05 (window start is inclusive, earlier rows excluded)", d)
	}
	if d := derefS(t, "WorstDay", got.WorstDay); d != "2024-03-10" {
		t.Errorf("WorstDay = %s, want 2024-03-10", d)
	}
	wantClose(t, "WinRatio", derefF(t, "WinRatio", got.WinRatio), 2.0/3)
}

func TestSummaryTieBreaksFirstOccurrence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedMetricRows(t, s, []domain.DailyMetricRow{
		metricRow("2024-03-04", 0.02, 0.01, 0, 0, 1.0),
		metricRow("2024-03-05", -0.01, -0.01, 0, 0, 1.0),
		metricRow("2024-03-06", 0.02, 0.01, 0, 0, 1.0),
		metricRow("2024-03-07", -0.01, -0.01, 0, 0, 1.0),
	})

	calc := NewSummaryCalculator(s)
	if err := calc.Compute(ctx, "2024-03-07", 7); err != nil {
		t.Fatalf("Compute: %v", err)
	}
	got := getSummary(t, s, "2024-03-07", 7)

	if d := derefS(t, "BestDay", got.BestDay); d != "2024-03-04" {
		t.Errorf("BestDay = %s, want first occurrence 2024-03-04", d)
	}
	if d := derefS(t, "WorstDay", got.WorstDay); d != "2024-03-05" {
		t.Errorf("WorstDay = %s, want first occurrence 2024-03-05", d)
	}
}

func TestSummaryRerunReplacesRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedMetricRows(t, s, []domain.DailyMetricRow{
		metricRow("2024-03-04", 0.01, 0.01, 0, 0, 1.0),
		metricRow("2024-03-05", 0.02, 0.01, 0, 0, 1.0),
	})

	calc := NewSummaryCalculator(s)
	if err := calc.Compute(ctx, "2024-03-05", 7); err != nil {
		t.Fatalf("Compute: %v", err)
	}

	// A corrected metric row lands and the summary is recomputed.
	seedMetricRows(t, s, []domain.DailyMetricRow{metricRow("2024-03-05", 0.05, 0.01, 0, 0, 1.0)})
	if err := calc.Compute(ctx, "2024-03-05", 7); err != nil {
		t.Fatalf("recompute: %v", err)
	}

	got := getSummary(t, s, "2024-03-05", 7)
	wantClose(t, "FinalReturn after correction", derefF(t, "FinalReturn", got.FinalReturn), 1.01*1.05-1)

	all, err := s.ReadSummaries(ctx, "2024-03-05", "2024-03-05")
	if err != nil {
		t.Fatalf("ReadSummaries: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("got %d summary rows, want 1 after recompute", len(all))
	}
}
