package gather

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"eqx/internal/domain"
	"eqx/internal/store"
)

// ErrUniverseEmpty means there were no tickers to ingest. Both universe
// sources came back empty, so the run has nothing to build an index from.
var ErrUniverseEmpty = errors.New("ticker universe is empty")

// ingestStore is the slice of the analytical store the coordinator writes.
type ingestStore interface {
	store.PriceStore
	store.BenchmarkStore
}

// Coordinator fans per-ticker fetches out across a bounded worker pool and
// writes each result in its own short-lived transaction. A failed fetch or
// write affects only its own ticker; everything else proceeds.
type Coordinator struct {
	feed       PriceFeed
	store      ingestStore
	maxWorkers int
	reportsDir string
	log        *slog.Logger
}

// NewCoordinator creates a Coordinator writing failure reports under
// reportsDir.
func NewCoordinator(feed PriceFeed, s ingestStore, maxWorkers int, reportsDir string) *Coordinator {
	return &Coordinator{
		feed:       feed,
		store:      s,
		maxWorkers: maxWorkers,
		reportsDir: reportsDir,
		log:        slog.Default().With("component", "ingest"),
	}
}

// Ingest fetches every ticker's price point for date concurrently and
// upserts each in its own transaction, then fetches and upserts the
// benchmark point. Tickers that produce no row, whether from a fetch
// error, missing data, or a write failure, are collected into the
// report's failure list and a CSV failure report. An empty universe is
// a hard failure.
func (c *Coordinator) Ingest(ctx context.Context, date string, tickers []string) (*domain.IngestionReport, error) {
	if len(tickers) == 0 {
		return nil, ErrUniverseEmpty
	}

	runStart := time.Now()
	c.log.Info("starting ingestion", "date", date, "tickers", len(tickers), "workers", c.maxWorkers)

	tickerCh := make(chan string, len(tickers))
	for _, t := range tickers {
		tickerCh <- t
	}
	close(tickerCh)

	var (
		wg          sync.WaitGroup
		rowsWritten atomic.Int64
		mu          sync.Mutex
		failed      []string
	)
	fail := func(ticker string) {
		mu.Lock()
		failed = append(failed, ticker)
		mu.Unlock()
	}

	workers := min(c.maxWorkers, len(tickers))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ticker := range tickerCh {
				if ctx.Err() != nil {
					return
				}

				point, ok, err := c.feed.FetchPricePoint(ctx, ticker, date)
				if err != nil {
					c.log.Warn("fetch failed", "ticker", ticker, "err", err)
					fail(ticker)
					continue
				}
				if !ok {
					c.log.Debug("no usable data", "ticker", ticker, "date", date)
					fail(ticker)
					continue
				}

				// One transaction per ticker: a write failure rolls back
				// this ticker only.
				if err := c.store.UpsertPrices(ctx, []domain.PricePoint{point}); err != nil {
					c.log.Error("write failed", "ticker", ticker, "err", err)
					fail(ticker)
					continue
				}
				rowsWritten.Add(1)
			}
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Benchmark lands after the pool drains, under the same transactional
	// discipline. Its absence degrades the day's metrics, not the run.
	c.ingestBenchmark(ctx, date)

	sort.Strings(failed)
	report := &domain.IngestionReport{
		Date:          date,
		RowsWritten:   int(rowsWritten.Load()),
		FailedTickers: failed,
	}

	c.log.Info("ingestion complete",
		"date", date,
		"rows", report.RowsWritten,
		"failed", len(failed),
		"elapsed", time.Since(runStart).Round(time.Millisecond),
	)

	if len(failed) > 0 {
		if path, err := WriteFailureReport(c.reportsDir, date, failed); err != nil {
			c.log.Error("writing failure report", "err", err)
		} else {
			c.log.Info("failure report written", "path", path)
		}
	}
	return report, nil
}

// IngestRange fetches each ticker's full [start, end] history in one feed
// call per ticker, so a 30-day backfill costs the same number of requests
// as a single day. The report's Date is the range end.
func (c *Coordinator) IngestRange(ctx context.Context, start, end string, tickers []string) (*domain.IngestionReport, error) {
	if len(tickers) == 0 {
		return nil, ErrUniverseEmpty
	}

	runStart := time.Now()
	c.log.Info("starting range ingestion",
		"start", start, "end", end, "tickers", len(tickers), "workers", c.maxWorkers)

	tickerCh := make(chan string, len(tickers))
	for _, t := range tickers {
		tickerCh <- t
	}
	close(tickerCh)

	var (
		wg          sync.WaitGroup
		rowsWritten atomic.Int64
		mu          sync.Mutex
		failed      []string
	)
	fail := func(ticker string) {
		mu.Lock()
		failed = append(failed, ticker)
		mu.Unlock()
	}

	workers := min(c.maxWorkers, len(tickers))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ticker := range tickerCh {
				if ctx.Err() != nil {
					return
				}

				points, err := c.feed.FetchPriceRange(ctx, ticker, start, end)
				if err != nil {
					c.log.Warn("range fetch failed", "ticker", ticker, "err", err)
					fail(ticker)
					continue
				}
				if len(points) == 0 {
					c.log.Debug("no usable data", "ticker", ticker)
					fail(ticker)
					continue
				}

				if err := c.store.UpsertPrices(ctx, points); err != nil {
					c.log.Error("write failed", "ticker", ticker, "err", err)
					fail(ticker)
					continue
				}
				rowsWritten.Add(int64(len(points)))
			}
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	benchPoints, err := c.feed.FetchBenchmarkRange(ctx, start, end)
	switch {
	case err != nil:
		c.log.Warn("benchmark range fetch failed", "err", err)
	case len(benchPoints) == 0:
		c.log.Warn("no benchmark closes in range", "start", start, "end", end)
	default:
		if err := c.store.UpsertBenchmarks(ctx, benchPoints); err != nil {
			c.log.Error("benchmark write failed", "err", err)
		}
	}

	sort.Strings(failed)
	report := &domain.IngestionReport{
		Date:          end,
		RowsWritten:   int(rowsWritten.Load()),
		FailedTickers: failed,
	}

	c.log.Info("range ingestion complete",
		"start", start,
		"end", end,
		"rows", report.RowsWritten,
		"failed", len(failed),
		"elapsed", time.Since(runStart).Round(time.Millisecond),
	)

	if len(failed) > 0 {
		if path, err := WriteFailureReport(c.reportsDir, end, failed); err != nil {
			c.log.Error("writing failure report", "err", err)
		} else {
			c.log.Info("failure report written", "path", path)
		}
	}
	return report, nil
}

// ingestBenchmark fetches and upserts the benchmark point for date. Failures
// are logged, never fatal.
func (c *Coordinator) ingestBenchmark(ctx context.Context, date string) {
	bench, ok, err := c.feed.FetchBenchmarkPoint(ctx, date)
	switch {
	case err != nil:
		c.log.Warn("benchmark fetch failed", "date", date, "err", err)
	case !ok:
		c.log.Warn("no benchmark close", "date", date)
	default:
		if err := c.store.UpsertBenchmarks(ctx, []domain.BenchmarkPoint{bench}); err != nil {
			c.log.Error("benchmark write failed", "date", date, "err", err)
		}
	}
}
