// Package index constructs the equal-weight index from ingested prices: the
// top constituents by market capitalization, valued at the arithmetic mean
// of their closes.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"eqx/internal/domain"
	"eqx/internal/store"
)

// ErrNotEnoughConstituents means fewer tickers were priced on the date than
// the index requires. The build is skipped; a partial snapshot is never
// written.
var ErrNotEnoughConstituents = errors.New("not enough priced constituents")

// builderStore is the slice of the analytical store the builder touches.
type builderStore interface {
	store.PriceStore
	store.BenchmarkStore
	store.IndexStore
}

// Builder selects the top-N constituents by market cap for a date and
// persists the resulting snapshot.
type Builder struct {
	store builderStore
	size  int
	log   *slog.Logger
}

// NewBuilder creates a Builder for an index of size constituents.
func NewBuilder(s builderStore, size int) *Builder {
	return &Builder{
		store: s,
		size:  size,
		log:   slog.Default().With("component", "index"),
	}
}

// Build constructs and persists the index snapshot for date. The snapshot
// always carries exactly size constituents; when fewer tickers are priced,
// Build returns ErrNotEnoughConstituents and writes nothing. The benchmark
// close is attached when present; its absence never blocks the build.
func (b *Builder) Build(ctx context.Context, date string) (*domain.IndexSnapshot, error) {
	points, err := b.store.TopByMarketCap(ctx, date, b.size)
	if err != nil {
		return nil, fmt.Errorf("loading prices for %s: %w", date, err)
	}
	if len(points) < b.size {
		b.log.Warn("skipping index build",
			"date", date, "priced", len(points), "required", b.size)
		return nil, fmt.Errorf("%w: %d of %d priced on %s",
			ErrNotEnoughConstituents, len(points), b.size, date)
	}

	sum := 0.0
	constituents := make(domain.Constituents, 0, b.size)
	for _, p := range points {
		sum += p.Close
		constituents = append(constituents, p.Ticker)
	}

	snap := &domain.IndexSnapshot{
		Date:         date,
		IndexValue:   round4(sum / float64(b.size)),
		Constituents: constituents,
	}

	bench, err := b.store.GetBenchmark(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("loading benchmark for %s: %w", date, err)
	}
	if bench != nil {
		snap.BenchmarkValue = &bench.Close
	}

	if err := b.store.UpsertSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("persisting snapshot %s: %w", date, err)
	}

	b.log.Info("index built",
		"date", date, "value", snap.IndexValue, "constituents", len(constituents))
	return snap, nil
}

// round4 rounds to the 4-decimal precision persisted for index values.
func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
