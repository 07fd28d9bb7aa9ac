// Package metrics derives statistics from stored index snapshots and
// benchmark closes. DailyCalculator appends one per-date metric row from a
// short trailing lookback, SummaryCalculator aggregates a window of those
// rows into a single summary row, and RecomputeHistory rebuilds the whole
// daily metrics table after historical backfills.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"eqx/internal/domain"
	"eqx/internal/store"
)

// rollingWindow is the observation count behind the rolling volatility and
// rolling correlation columns. Fewer trailing observations leave them null.
const rollingWindow = 7

// defaultLookbackDays is the calendar span the incremental calculator loads
// around a target date. Seven calendar days never contain rollingWindow
// trading days, so rolling columns stay null until a full-history recompute.
const defaultLookbackDays = 7

// dailyStore is the slice of the analytical store the daily calculator
// needs: snapshot and benchmark history in, metric rows out.
type dailyStore interface {
	store.IndexStore
	store.BenchmarkStore
	store.MetricStore
}

// DailyCalculator computes the per-date metric row for single trading dates.
type DailyCalculator struct {
	store        dailyStore
	lookbackDays int
	log          *slog.Logger
}

// NewDailyCalculator returns a calculator reading lookbackDays calendar days
// of history around each target date.
func NewDailyCalculator(s dailyStore, lookbackDays int) *DailyCalculator {
	if lookbackDays < 1 {
		lookbackDays = defaultLookbackDays
	}
	return &DailyCalculator{
		store:        s,
		lookbackDays: lookbackDays,
		log:          slog.Default().With("component", "metrics"),
	}
}

// Compute derives the metric row for date from the trailing lookback and
// upserts it. Only the target date's row is written; the lookback rows exist
// solely to seed returns and drawdowns. When the date has no joined snapshot
// and benchmark data the computation is skipped without error, so a missing
// ingestion never fails a pipeline run.
func (c *DailyCalculator) Compute(ctx context.Context, date string) error {
	start, err := domain.AddDays(date, -(c.lookbackDays - 1))
	if err != nil {
		return err
	}

	snaps, err := c.store.ReadSnapshots(ctx, start, date)
	if err != nil {
		return fmt.Errorf("reading snapshots: %w", err)
	}
	benches, err := c.store.ReadBenchmarks(ctx, start, date)
	if err != nil {
		return fmt.Errorf("reading benchmarks: %w", err)
	}

	rows := buildDailyRows(snaps, benches)
	target := -1
	for i := range rows {
		if rows[i].Date == date {
			target = i
			break
		}
	}
	if target < 0 {
		c.log.Warn("no joined index and benchmark data for date, skipping",
			"date", date, "lookback_start", start)
		return nil
	}

	row := rows[target]
	if err := c.store.UpsertDailyMetrics(ctx, []domain.DailyMetricRow{row}); err != nil {
		return fmt.Errorf("storing daily metrics: %w", err)
	}
	c.log.Info("daily metrics stored",
		"date", date,
		"daily_return", row.DailyReturn,
		"drawdown", row.Drawdown,
		"turnover", row.Turnover)
	return nil
}

// buildDailyRows inner-joins snapshots with benchmark closes by date and
// derives the full metric set over the joined range, in date order. Returns
// on the first joined row are 0 by convention, and cumulative statistics are
// relative to the start of the joined range.
func buildDailyRows(snaps []domain.IndexSnapshot, benches []domain.BenchmarkPoint) []domain.DailyMetricRow {
	benchByDate := make(map[string]float64, len(benches))
	for _, b := range benches {
		benchByDate[b.Date] = b.Close
	}

	rows := make([]domain.DailyMetricRow, 0, len(snaps))
	seen := make(map[string]struct{}, len(snaps))
	for _, s := range snaps {
		bench, ok := benchByDate[s.Date]
		if !ok {
			continue
		}
		if _, dup := seen[s.Date]; dup {
			continue
		}
		seen[s.Date] = struct{}{}
		rows = append(rows, domain.DailyMetricRow{
			Date:           s.Date,
			IndexValue:     s.IndexValue,
			BenchmarkClose: bench,
			Constituents:   s.Constituents,
		})
	}
	if len(rows) == 0 {
		return rows
	}

	indexReturns := make([]float64, len(rows))
	benchReturns := make([]float64, len(rows))
	cumulative := 1.0
	rollingMax := math.Inf(-1)
	for i := range rows {
		if i > 0 {
			indexReturns[i] = rows[i].IndexValue/rows[i-1].IndexValue - 1
			benchReturns[i] = rows[i].BenchmarkClose/rows[i-1].BenchmarkClose - 1
		}
		cumulative *= 1 + indexReturns[i]
		if rows[i].IndexValue > rollingMax {
			rollingMax = rows[i].IndexValue
		}

		rows[i].DailyReturn = indexReturns[i]
		rows[i].BenchmarkReturn = benchReturns[i]
		rows[i].CumulativeReturn = cumulative - 1
		rows[i].RollingMax = rollingMax
		rows[i].Drawdown = (rows[i].IndexValue - rollingMax) / rollingMax
		rows[i].DrawdownPct = rows[i].Drawdown * 100

		if i+1 >= rollingWindow {
			lo := i + 1 - rollingWindow
			rows[i].RollingVolatility = fptr(sampleStd(indexReturns[lo : i+1]))
			rows[i].RollingBeta = fptr(correlation(indexReturns[lo:i+1], benchReturns[lo:i+1]))
		}

		if i == 0 {
			rows[i].ExposureSimilarity = 1.0
		} else {
			rows[i].Turnover, rows[i].ExposureSimilarity = compositionDelta(rows[i-1].Constituents, rows[i].Constituents)
		}
	}
	return rows
}

// compositionDelta returns the symmetric-difference size (turnover) and the
// Jaccard similarity between two constituent sets. Two empty sets compare as
// identical.
func compositionDelta(prev, cur domain.Constituents) (int, float64) {
	prevSet, curSet := prev.Set(), cur.Set()
	shared := 0
	for t := range curSet {
		if _, ok := prevSet[t]; ok {
			shared++
		}
	}
	union := len(prevSet) + len(curSet) - shared
	if union == 0 {
		return 0, 1.0
	}
	return union - shared, float64(shared) / float64(union)
}
