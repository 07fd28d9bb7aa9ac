// Package store defines storage interfaces for persisting and retrieving the
// index pipeline's domain objects: raw prices, benchmark prices, index
// snapshots, and computed metric rows.
//
// All writes follow the same upsert discipline: inside a single transaction,
// rows matching the batch's keys are deleted and the batch is inserted. On
// any error the transaction rolls back and the table is left exactly as it
// was before the attempt.
package store

import (
	"context"

	"eqx/internal/domain"
)

// PriceStore persists and retrieves per-ticker price points.
type PriceStore interface {
	// UpsertPrices replaces any rows matching the batch's (date, ticker)
	// keys and inserts the batch, atomically.
	UpsertPrices(ctx context.Context, points []domain.PricePoint) error

	// ReadPrices returns price points with date in [start, end], ordered by
	// date, then ticker.
	ReadPrices(ctx context.Context, start, end string) ([]domain.PricePoint, error)

	// TopByMarketCap returns up to limit price points for the given date,
	// ordered by market cap descending (ties broken by ticker ascending).
	TopByMarketCap(ctx context.Context, date string, limit int) ([]domain.PricePoint, error)
}

// BenchmarkStore persists and retrieves benchmark closing prices.
type BenchmarkStore interface {
	// UpsertBenchmarks replaces any rows matching the batch's dates and
	// inserts the batch, atomically.
	UpsertBenchmarks(ctx context.Context, points []domain.BenchmarkPoint) error

	// ReadBenchmarks returns benchmark points with date in [start, end],
	// ordered by date.
	ReadBenchmarks(ctx context.Context, start, end string) ([]domain.BenchmarkPoint, error)

	// GetBenchmark returns the benchmark point for date, or nil when no row
	// exists.
	GetBenchmark(ctx context.Context, date string) (*domain.BenchmarkPoint, error)
}

// IndexStore persists and retrieves index composition snapshots.
type IndexStore interface {
	// UpsertSnapshot replaces any snapshot for the same date, atomically.
	UpsertSnapshot(ctx context.Context, snap *domain.IndexSnapshot) error

	// ReadSnapshots returns snapshots with date in [start, end], ordered by
	// date.
	ReadSnapshots(ctx context.Context, start, end string) ([]domain.IndexSnapshot, error)

	// DeleteSnapshot removes the snapshot for date. Historical reruns use it
	// to drop a stale snapshot once a date no longer has enough priced
	// constituents. Deleting a missing snapshot is not an error.
	DeleteSnapshot(ctx context.Context, date string) error
}

// MetricStore persists and retrieves daily metric rows.
type MetricStore interface {
	// UpsertDailyMetrics replaces any rows matching the batch's dates and
	// inserts the batch, atomically.
	UpsertDailyMetrics(ctx context.Context, rows []domain.DailyMetricRow) error

	// ReadDailyMetrics returns daily metric rows with date in [start, end],
	// ordered by date.
	ReadDailyMetrics(ctx context.Context, start, end string) ([]domain.DailyMetricRow, error)

	// ReplaceDailyMetrics atomically discards the whole table and inserts
	// rows. Used by the full-history recompute.
	ReplaceDailyMetrics(ctx context.Context, rows []domain.DailyMetricRow) error
}

// SummaryStore persists and retrieves window-bounded summary rows.
type SummaryStore interface {
	// UpsertSummary replaces any row with the same (date, window_days) key,
	// atomically.
	UpsertSummary(ctx context.Context, row *domain.SummaryMetricRow) error

	// ReadSummaries returns summary rows with date in [start, end], ordered
	// by date, then window_days.
	ReadSummaries(ctx context.Context, start, end string) ([]domain.SummaryMetricRow, error)

	// GetSummary returns the summary row for (date, windowDays), or nil when
	// no row exists.
	GetSummary(ctx context.Context, date string, windowDays int) (*domain.SummaryMetricRow, error)
}

// Store combines all table interfaces backed by one analytical store.
type Store interface {
	PriceStore
	BenchmarkStore
	IndexStore
	MetricStore
	SummaryStore
}
