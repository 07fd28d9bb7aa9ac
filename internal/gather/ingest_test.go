package gather

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"eqx/internal/domain"
)

// fakeFeed serves canned price points keyed by ticker.
type fakeFeed struct {
	points      map[string]domain.PricePoint   // single-date responses
	rangePoints map[string][]domain.PricePoint // range responses
	errs        map[string]error
	bench       []domain.BenchmarkPoint
}

func (f *fakeFeed) FetchPricePoint(_ context.Context, ticker, _ string) (domain.PricePoint, bool, error) {
	if err := f.errs[ticker]; err != nil {
		return domain.PricePoint{}, false, err
	}
	p, ok := f.points[ticker]
	return p, ok, nil
}

func (f *fakeFeed) FetchPriceRange(_ context.Context, ticker, _, _ string) ([]domain.PricePoint, error) {
	if err := f.errs[ticker]; err != nil {
		return nil, err
	}
	return f.rangePoints[ticker], nil
}

func (f *fakeFeed) FetchBenchmarkPoint(_ context.Context, date string) (domain.BenchmarkPoint, bool, error) {
	for _, b := range f.bench {
		if b.Date == date {
			return b, true, nil
		}
	}
	return domain.BenchmarkPoint{}, false, nil
}

func (f *fakeFeed) FetchBenchmarkRange(_ context.Context, _, _ string) ([]domain.BenchmarkPoint, error) {
	return f.bench, nil
}

// fakeIngestStore records upserts in memory and can be told to reject
// specific tickers.
type fakeIngestStore struct {
	mu      sync.Mutex
	prices  []domain.PricePoint
	benches []domain.BenchmarkPoint
	failFor map[string]bool
}

func (s *fakeIngestStore) UpsertPrices(_ context.Context, points []domain.PricePoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range points {
		if s.failFor[p.Ticker] {
			return errors.New("simulated write failure")
		}
	}
	s.prices = append(s.prices, points...)
	return nil
}

func (s *fakeIngestStore) ReadPrices(_ context.Context, _, _ string) ([]domain.PricePoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.PricePoint(nil), s.prices...), nil
}

func (s *fakeIngestStore) TopByMarketCap(_ context.Context, _ string, _ int) ([]domain.PricePoint, error) {
	return nil, nil
}

func (s *fakeIngestStore) UpsertBenchmarks(_ context.Context, points []domain.BenchmarkPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.benches = append(s.benches, points...)
	return nil
}

func (s *fakeIngestStore) ReadBenchmarks(_ context.Context, _, _ string) ([]domain.BenchmarkPoint, error) {
	return nil, nil
}

func (s *fakeIngestStore) GetBenchmark(_ context.Context, _ string) (*domain.BenchmarkPoint, error) {
	return nil, nil
}

func TestIngestIsolatesFailures(t *testing.T) {
	const date = "2024-03-01"
	feed := &fakeFeed{
		points: map[string]domain.PricePoint{
			"AAPL": {Date: date, Ticker: "AAPL", Close: 180.5, MarketCap: 2.8e12},
			"MSFT": {Date: date, Ticker: "MSFT", Close: 410.2, MarketCap: 3.0e12},
		},
		errs: map[string]error{
			"BOOM": errors.New("connection reset"),
		},
		bench: []domain.BenchmarkPoint{{Date: date, Close: 5100.0}},
	}
	st := &fakeIngestStore{failFor: map[string]bool{"MSFT": true}}
	dir := t.TempDir()
	coord := NewCoordinator(feed, st, 4, dir)

	// NODATA has no feed entry: an absent row, not an error.
	report, err := coord.Ingest(context.Background(), date, []string{"MSFT", "AAPL", "NODATA", "BOOM"})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if report.RowsWritten != 1 {
		t.Errorf("rows written = %d, want 1", report.RowsWritten)
	}
	wantFailed := []string{"BOOM", "MSFT", "NODATA"}
	if !reflect.DeepEqual(report.FailedTickers, wantFailed) {
		t.Errorf("failed tickers = %v, want %v", report.FailedTickers, wantFailed)
	}

	if len(st.prices) != 1 || st.prices[0].Ticker != "AAPL" {
		t.Errorf("stored prices = %+v, want only AAPL", st.prices)
	}
	if len(st.benches) != 1 || st.benches[0].Close != 5100.0 {
		t.Errorf("stored benchmarks = %+v, want one 5100.0", st.benches)
	}

	// The failure report lands next to the other run artifacts.
	data, err := os.ReadFile(filepath.Join(dir, "failed_tickers_2024-03-01.csv"))
	if err != nil {
		t.Fatalf("reading failure report: %v", err)
	}
	want := "failed_ticker\nBOOM\nMSFT\nNODATA\n"
	if string(data) != want {
		t.Errorf("failure report = %q, want %q", data, want)
	}
}

func TestIngestEmptyUniverse(t *testing.T) {
	coord := NewCoordinator(&fakeFeed{}, &fakeIngestStore{}, 4, t.TempDir())

	_, err := coord.Ingest(context.Background(), "2024-03-01", nil)
	if !errors.Is(err, ErrUniverseEmpty) {
		t.Errorf("Ingest with no tickers: err = %v, want ErrUniverseEmpty", err)
	}
}

func TestIngestAllSucceed(t *testing.T) {
	const date = "2024-03-01"
	points := make(map[string]domain.PricePoint)
	var tickers []string
	for _, tk := range []string{"A", "B", "C", "D", "E", "F", "G", "H"} {
		points[tk] = domain.PricePoint{Date: date, Ticker: tk, Close: 10, MarketCap: 1e9}
		tickers = append(tickers, tk)
	}
	feed := &fakeFeed{points: points}
	st := &fakeIngestStore{}
	coord := NewCoordinator(feed, st, 3, t.TempDir())

	report, err := coord.Ingest(context.Background(), date, tickers)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if report.RowsWritten != len(tickers) {
		t.Errorf("rows written = %d, want %d", report.RowsWritten, len(tickers))
	}
	if len(report.FailedTickers) != 0 {
		t.Errorf("failed tickers = %v, want none", report.FailedTickers)
	}
	if len(st.prices) != len(tickers) {
		t.Errorf("stored %d prices, want %d", len(st.prices), len(tickers))
	}
}

func TestIngestRange(t *testing.T) {
	dates := []string{"2024-03-01", "2024-03-04", "2024-03-05"}
	rangePoints := make(map[string][]domain.PricePoint)
	for _, tk := range []string{"AAPL", "MSFT"} {
		for _, d := range dates {
			rangePoints[tk] = append(rangePoints[tk],
				domain.PricePoint{Date: d, Ticker: tk, Close: 100, MarketCap: 1e12})
		}
	}
	var bench []domain.BenchmarkPoint
	for _, d := range dates {
		bench = append(bench, domain.BenchmarkPoint{Date: d, Close: 5000})
	}
	feed := &fakeFeed{rangePoints: rangePoints, bench: bench}
	st := &fakeIngestStore{}
	coord := NewCoordinator(feed, st, 2, t.TempDir())

	report, err := coord.IngestRange(context.Background(), dates[0], dates[len(dates)-1],
		[]string{"AAPL", "MSFT", "EMPTY"})
	if err != nil {
		t.Fatalf("IngestRange: %v", err)
	}
	if report.RowsWritten != 6 {
		t.Errorf("rows written = %d, want 6", report.RowsWritten)
	}
	if len(report.FailedTickers) != 1 || report.FailedTickers[0] != "EMPTY" {
		t.Errorf("failed tickers = %v, want [EMPTY]", report.FailedTickers)
	}
	if report.Date != "2024-03-05" {
		t.Errorf("report date = %s, want range end", report.Date)
	}
	if len(st.benches) != 3 {
		t.Errorf("stored %d benchmark rows, want 3", len(st.benches))
	}
}

func TestWriteFailureReportEmptyList(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteFailureReport(dir, "2024-03-01", nil)
	if err != nil {
		t.Fatalf("WriteFailureReport: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading report: %v", err)
	}
	if string(data) != "failed_ticker\n" {
		t.Errorf("report = %q, want header only", data)
	}
}
