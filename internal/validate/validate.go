// Package validate runs integrity checks over the stored tables: non-positive
// prices and market caps, day-over-day price spikes, and index dates missing a
// benchmark close. Findings are written as CSV reports, one detail file per
// finding plus a summary file.
package validate

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"eqx/internal/domain"
	"eqx/internal/store"
)

// spikeFactor is the day-over-day close change, relative to the previous
// close, above which a price is reported as a glitch.
const spikeFactor = 10.0

// summaryFile is the name of the summary report under the reports dir.
const summaryFile = "validation_report.csv"

// Date strings sort lexicographically, so this bounds any stored row.
const minDate = "0000-01-01"

// Finding summarizes one validation rule's hits on one table column.
type Finding struct {
	Table       string
	Issue       string
	Column      string
	Count       int
	DetailsFile string
}

// validateStore is the read-only slice of the analytical store the validator
// consumes.
type validateStore interface {
	store.PriceStore
	store.BenchmarkStore
	store.IndexStore
}

// Validator checks stored data and reports findings under a reports dir.
type Validator struct {
	store      validateStore
	reportsDir string
	log        *slog.Logger
}

func NewValidator(s validateStore, reportsDir string) *Validator {
	return &Validator{
		store:      s,
		reportsDir: reportsDir,
		log:        slog.Default().With("component", "validate"),
	}
}

// Run checks all stored rows dated on or before date. Each finding produces a
// detail CSV named <table>__<issue>__<column>.csv; when anything was found a
// summary CSV is written as well. The returned findings mirror the summary
// file. Findings are reported, not errors: Run fails only when the store or
// the report files do.
func (v *Validator) Run(ctx context.Context, date string) ([]Finding, error) {
	v.log.Info("validating stored tables", "through", date)

	var findings []Finding
	collect := func(fs []Finding, err error) error {
		if err != nil {
			return err
		}
		findings = append(findings, fs...)
		return nil
	}

	if err := collect(v.checkPrices(ctx, date)); err != nil {
		return nil, err
	}
	if err := collect(v.checkBenchmarks(ctx, date)); err != nil {
		return nil, err
	}
	if err := collect(v.checkSnapshots(ctx, date)); err != nil {
		return nil, err
	}

	if len(findings) == 0 {
		v.log.Info("all data passed validation checks")
		return nil, nil
	}

	path, err := v.writeSummary(findings)
	if err != nil {
		return nil, err
	}
	for _, f := range findings {
		v.log.Warn("validation issue",
			"table", f.Table, "issue", f.Issue, "column", f.Column, "count", f.Count)
	}
	v.log.Warn("validation issues found", "findings", len(findings), "report", path)
	return findings, nil
}

func (v *Validator) checkPrices(ctx context.Context, date string) ([]Finding, error) {
	points, err := v.store.ReadPrices(ctx, minDate, date)
	if err != nil {
		return nil, fmt.Errorf("reading prices: %w", err)
	}

	var findings []Finding
	var badClose, badCap [][]string
	for _, p := range points {
		row := []string{p.Date, p.Ticker, formatFloat(p.Close), formatFloat(p.MarketCap)}
		if p.Close <= 0 {
			badClose = append(badClose, row)
		}
		if p.MarketCap <= 0 {
			badCap = append(badCap, row)
		}
	}
	priceHeader := []string{"date", "ticker", "close", "market_cap"}
	f, err := v.finding("stock_prices", "Non-positive values", "close", "non_positive", priceHeader, badClose)
	if err != nil {
		return nil, err
	}
	findings = append(findings, f...)
	f, err = v.finding("stock_prices", "Non-positive values", "market_cap", "non_positive", priceHeader, badCap)
	if err != nil {
		return nil, err
	}
	findings = append(findings, f...)

	f, err = v.checkPriceSpikes(points)
	if err != nil {
		return nil, err
	}
	return append(findings, f...), nil
}

// checkPriceSpikes flags closes that moved more than spikeFactor times the
// previous close in either direction, per ticker.
func (v *Validator) checkPriceSpikes(points []domain.PricePoint) ([]Finding, error) {
	// ReadPrices orders by date; regroup per ticker, keeping date order.
	byTicker := make(map[string][]domain.PricePoint)
	for _, p := range points {
		byTicker[p.Ticker] = append(byTicker[p.Ticker], p)
	}
	tickers := make([]string, 0, len(byTicker))
	for t := range byTicker {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	var bad [][]string
	for _, t := range tickers {
		series := byTicker[t]
		for i := 1; i < len(series); i++ {
			prev, cur := series[i-1].Close, series[i].Close
			change := (cur - prev) / prev
			if change > spikeFactor || change < -spikeFactor {
				bad = append(bad, []string{
					series[i].Date, t, formatFloat(cur), formatFloat(prev), formatFloat(change),
				})
			}
		}
	}
	header := []string{"date", "ticker", "close", "prev_close", "change_pct"}
	return v.finding("stock_prices", "Price change >10x vs previous day", "close", "price_spike_gt_10x", header, bad)
}

func (v *Validator) checkBenchmarks(ctx context.Context, date string) ([]Finding, error) {
	points, err := v.store.ReadBenchmarks(ctx, minDate, date)
	if err != nil {
		return nil, fmt.Errorf("reading benchmarks: %w", err)
	}

	var bad [][]string
	for _, p := range points {
		if p.Close <= 0 {
			bad = append(bad, []string{p.Date, formatFloat(p.Close)})
		}
	}
	return v.finding("benchmark_prices", "Non-positive values", "close", "non_positive",
		[]string{"date", "close"}, bad)
}

func (v *Validator) checkSnapshots(ctx context.Context, date string) ([]Finding, error) {
	snaps, err := v.store.ReadSnapshots(ctx, minDate, date)
	if err != nil {
		return nil, fmt.Errorf("reading snapshots: %w", err)
	}

	var findings []Finding
	var badValue, noBench [][]string
	for _, s := range snaps {
		if s.IndexValue <= 0 {
			badValue = append(badValue, []string{s.Date, formatFloat(s.IndexValue)})
		}
		if s.BenchmarkValue == nil {
			noBench = append(noBench, []string{s.Date})
		}
	}
	f, err := v.finding("index_values", "Non-positive values", "index_value", "non_positive",
		[]string{"date", "index_value"}, badValue)
	if err != nil {
		return nil, err
	}
	findings = append(findings, f...)
	f, err = v.finding("index_values", "Missing benchmark close", "benchmark_value", "missing_benchmark",
		[]string{"date"}, noBench)
	if err != nil {
		return nil, err
	}
	return append(findings, f...), nil
}

// finding writes the detail CSV for one rule's hits and returns the matching
// finding, or nothing when the rule found no rows.
func (v *Validator) finding(table, issue, column, slug string, header []string, rows [][]string) ([]Finding, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	name := fmt.Sprintf("%s__%s__%s.csv", table, slug, column)
	path, err := v.writeCSV(name, header, rows)
	if err != nil {
		return nil, err
	}
	return []Finding{{Table: table, Issue: issue, Column: column, Count: len(rows), DetailsFile: path}}, nil
}

func (v *Validator) writeSummary(findings []Finding) (string, error) {
	rows := make([][]string, 0, len(findings))
	for _, f := range findings {
		rows = append(rows, []string{f.Table, f.Issue, f.Column, strconv.Itoa(f.Count), f.DetailsFile})
	}
	return v.writeCSV(summaryFile, []string{"table", "issue", "column", "count", "details_file"}, rows)
}

func (v *Validator) writeCSV(name string, header []string, rows [][]string) (string, error) {
	if err := os.MkdirAll(v.reportsDir, 0o755); err != nil {
		return "", fmt.Errorf("creating reports dir: %w", err)
	}
	path := filepath.Join(v.reportsDir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating report: %w", err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		return "", fmt.Errorf("writing report header: %w", err)
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			f.Close()
			return "", fmt.Errorf("writing report row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return "", fmt.Errorf("flushing report: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing report: %w", err)
	}
	return path, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
