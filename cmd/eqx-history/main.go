// Command eqx-history backfills the pipeline over a date range: range
// ingestion with a wider worker pool, per-date index builds and daily
// metrics, a full-history metric recomputation, and one summary row for
// the end date.
//
// Usage:
//
//	eqx-history -start 2024-05-01 -end 2024-06-25
//	eqx-history -end 2024-06-25 -days 30
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"eqx/internal/config"
	"eqx/internal/domain"
	"eqx/internal/gather"
	"eqx/internal/index"
	"eqx/internal/metrics"
	"eqx/internal/store"
	"eqx/internal/util"
)

func main() {
	startFlag := flag.String("start", "", "range start YYYY-MM-DD (default: -days back from -end)")
	endFlag := flag.String("end", "", "range end YYYY-MM-DD (default: latest finished trading day)")
	daysFlag := flag.Int("days", 30, "calendar days back from -end when -start is not set")
	cfgFlag := flag.String("config", "", "path to YAML config (default: config/eqx.yaml, or $EQX_CONFIG)")
	flag.Parse()

	cfgPath := *cfgFlag
	if cfgPath == "" {
		cfgPath = "config/eqx.yaml"
		if p := os.Getenv("EQX_CONFIG"); p != "" {
			cfgPath = p
		}
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Dual logger: stdout + /tmp log file.
	logFileName := fmt.Sprintf("/tmp/eqx-history-%s.log", time.Now().Format("2006-01-02"))
	logFile, err := os.Create(logFileName)
	if err != nil {
		log.Fatalf("failed to create log file: %v", err)
	}
	defer logFile.Close()

	w := io.MultiWriter(os.Stdout, logFile)
	util.SetDefault(util.NewTextLogger(w, cfg.Logging.Level))

	end := *endFlag
	if end == "" {
		end = defaultEndDate(cfg)
	}
	if !domain.ValidDate(end) {
		log.Fatalf("invalid -end %q: use YYYY-MM-DD", end)
	}

	start := *startFlag
	if start == "" {
		start, err = domain.AddDays(end, -(*daysFlag - 1))
		if err != nil {
			log.Fatalf("deriving start from -days: %v", err)
		}
	}
	if !domain.ValidDate(start) {
		log.Fatalf("invalid -start %q: use YYYY-MM-DD", start)
	}
	if start > end {
		log.Fatalf("range %s..%s: start after end", start, end)
	}

	dates := tradingDates(cfg, start, end)
	if len(dates) == 0 {
		log.Fatalf("no trading days in %s..%s", start, end)
	}

	s, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open store %s: %v", cfg.Storage.SQLitePath, err)
	}
	defer s.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("historical pipeline starting",
		"start", start, "end", end, "tradingDays", len(dates),
		"workers", cfg.Ingestion.HistoryMaxWorkers, "logFile", logFileName)

	resolver := gather.NewUniverseResolver(
		cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL,
		cfg.Universe.FallbackURL, cfg.Universe.RefDir, cfg.Universe.Limit)
	tickers := resolver.Resolve(ctx)

	feed := gather.NewYahooFeed(
		cfg.Feed.BaseURL, cfg.Feed.BenchmarkSymbol,
		cfg.Feed.RateLimitPerMin, cfg.Feed.RetryMaxAttempts)
	coord := gather.NewCoordinator(feed, s, cfg.Ingestion.HistoryMaxWorkers, cfg.Storage.ReportsDir)

	report, err := coord.IngestRange(ctx, start, end, tickers)
	if err != nil {
		log.Fatalf("range ingestion failed: %v", err)
	}

	builder := index.NewBuilder(s, cfg.Index.Size)
	daily := metrics.NewDailyCalculator(s, cfg.Metrics.LookbackDays)

	// Per-date failures are reported at the end; one bad date never aborts
	// the range.
	built, skipped, failures := buildDates(ctx, s, builder, daily, dates)
	if err := ctx.Err(); err != nil {
		log.Fatalf("interrupted: %v", err)
	}

	// Recompute the whole history so the rolling columns span the full range
	// instead of each date's short incremental lookback.
	if _, err := daily.RecomputeHistory(ctx); err != nil {
		if errors.Is(err, metrics.ErrNoData) {
			slog.Warn("no index history to recompute")
		} else {
			slog.Error("history recomputation failed", "err", err)
			failures = append(failures, fmt.Sprintf("recompute: %v", err))
		}
	}

	if err := metrics.NewSummaryCalculator(s).Compute(ctx, end, cfg.Metrics.WindowDays); err != nil {
		slog.Error("summary metrics failed", "date", end, "err", err)
		failures = append(failures, fmt.Sprintf("summary %s: %v", end, err))
	}

	slog.Info("historical pipeline complete",
		"start", start, "end", end,
		"rows", report.RowsWritten, "failedTickers", len(report.FailedTickers),
		"built", built, "skipped", skipped, "failures", len(failures))

	if len(failures) > 0 {
		for _, f := range failures {
			slog.Error("failure", "detail", f)
		}
		s.Close()
		os.Exit(1)
	}
}

// defaultEndDate picks the range end when -end is not given: the latest
// finished trading day from the Alpaca calendar when credentials are
// configured, otherwise today in US market time.
func defaultEndDate(cfg *config.Config) string {
	if cfg.Alpaca.APIKey != "" && cfg.Alpaca.APISecret != "" {
		date, err := gather.LatestFinishedTradingDay(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL)
		if err == nil {
			return date
		}
		slog.Warn("trading calendar lookup failed, falling back to today", "err", err)
	}
	if et, err := time.LoadLocation("America/New_York"); err == nil {
		return time.Now().In(et).Format(domain.DateLayout)
	}
	return time.Now().UTC().Format(domain.DateLayout)
}

// tradingDates lists the trading days in [start, end]: from the Alpaca
// calendar when credentials are configured, otherwise plain weekdays.
func tradingDates(cfg *config.Config, start, end string) []string {
	if cfg.Alpaca.APIKey != "" && cfg.Alpaca.APISecret != "" {
		dates, err := gather.TradingDays(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL, start, end)
		if err == nil {
			return dates
		}
		slog.Warn("trading calendar lookup failed, falling back to weekdays", "err", err)
	}
	dates, err := gather.DateRange{Start: start, End: end}.Weekdays()
	if err != nil {
		slog.Error("expanding date range", "err", err)
		return nil
	}
	return dates
}

// buildDates builds the index snapshot and incremental daily metrics for each
// date in order, stopping early once ctx is done. A date without enough
// priced constituents is skipped, and any snapshot a previous run left for it
// is deleted: after a correcting backfill the stored composition must still
// derive from the current price table. Per-date failures are collected rather
// than aborting the range.
func buildDates(ctx context.Context, s *store.SQLiteStore, builder *index.Builder, daily *metrics.DailyCalculator, dates []string) (built, skipped int, failures []string) {
	for _, date := range dates {
		if ctx.Err() != nil {
			return built, skipped, failures
		}

		if _, err := builder.Build(ctx, date); err != nil {
			if errors.Is(err, index.ErrNotEnoughConstituents) {
				if err := s.DeleteSnapshot(ctx, date); err != nil {
					slog.Error("dropping stale snapshot failed", "date", date, "err", err)
					failures = append(failures, fmt.Sprintf("drop snapshot %s: %v", date, err))
					continue
				}
				skipped++
				continue
			}
			slog.Error("index build failed", "date", date, "err", err)
			failures = append(failures, fmt.Sprintf("build %s: %v", date, err))
			continue
		}
		built++

		if err := daily.Compute(ctx, date); err != nil {
			slog.Error("daily metrics failed", "date", date, "err", err)
			failures = append(failures, fmt.Sprintf("metrics %s: %v", date, err))
		}
	}
	return built, skipped, failures
}
