package metrics

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoData reports that the store holds no joinable snapshot and benchmark
// history to recompute from.
var ErrNoData = errors.New("no index history to recompute")

// Date strings sort lexicographically, so these bound any stored row.
const (
	minDate = "0000-01-01"
	maxDate = "9999-12-31"
)

// RecomputeHistory derives metric rows for the entire stored snapshot
// history and atomically replaces the daily metrics table with them. Unlike
// Compute, cumulative and rolling statistics here span the full history, so
// this is the pass that fills rolling columns the short incremental lookback
// leaves null. It is meant to run after historical backfills or corrections
// that invalidate previously stored rows. Returns the number of rows written.
func (c *DailyCalculator) RecomputeHistory(ctx context.Context) (int, error) {
	snaps, err := c.store.ReadSnapshots(ctx, minDate, maxDate)
	if err != nil {
		return 0, fmt.Errorf("reading snapshots: %w", err)
	}
	benches, err := c.store.ReadBenchmarks(ctx, minDate, maxDate)
	if err != nil {
		return 0, fmt.Errorf("reading benchmarks: %w", err)
	}

	rows := buildDailyRows(snaps, benches)
	if len(rows) == 0 {
		return 0, ErrNoData
	}

	if err := c.store.ReplaceDailyMetrics(ctx, rows); err != nil {
		return 0, fmt.Errorf("replacing daily metrics: %w", err)
	}
	c.log.Info("daily metrics recomputed",
		"rows", len(rows),
		"start", rows[0].Date,
		"end", rows[len(rows)-1].Date)
	return len(rows), nil
}
