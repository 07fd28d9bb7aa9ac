// Command eqx runs the equal-weight index pipeline for one trading date:
// ingest prices, build the index snapshot, derive daily and summary metrics,
// validate the stored tables, and export Excel/Parquet artifacts.
//
// Usage:
//
//	eqx -step run-all -date 2024-06-25 -window 30
//	eqx -step ingest,build-index -date 2024-06-25
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
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"eqx/internal/config"
	"eqx/internal/domain"
	"eqx/internal/export"
	"eqx/internal/gather"
	"eqx/internal/index"
	"eqx/internal/metrics"
	"eqx/internal/store"
	"eqx/internal/util"
	"eqx/internal/validate"
)

// minDate bounds full-history export reads. Date strings sort
// lexicographically, so it precedes any stored row.
const minDate = "0000-01-01"

// pipeline carries the wired dependencies each step draws on.
type pipeline struct {
	cfg    *config.Config
	store  *store.SQLiteStore
	date   string
	window int
}

type step struct {
	name string
	run  func(ctx context.Context, p *pipeline) error
}

// allSteps is the run-all sequence, in pipeline order.
var allSteps = []step{
	{"ingest", runIngest},
	{"build-index", runBuildIndex},
	{"daily-metrics", runDailyMetrics},
	{"summary-metrics", runSummaryMetrics},
	{"validate", runValidate},
	{"export-excel", runExportExcel},
	{"export-parquet", runExportParquet},
}

func main() {
	stepFlag := flag.String("step", "run-all",
		"comma-separated steps: ingest, build-index, daily-metrics, summary-metrics, validate, export-excel, export-parquet, run-all")
	dateFlag := flag.String("date", "", "trading date YYYY-MM-DD (default: latest finished trading day)")
	windowFlag := flag.Int("window", 0, "summary window in calendar days (default: metrics.window_days from config)")
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
	logFileName := fmt.Sprintf("/tmp/eqx-%s.log", time.Now().Format("2006-01-02"))
	logFile, err := os.Create(logFileName)
	if err != nil {
		log.Fatalf("failed to create log file: %v", err)
	}
	defer logFile.Close()

	w := io.MultiWriter(os.Stdout, logFile)
	var logger *slog.Logger
	if cfg.Logging.Format == "json" {
		logger = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: util.ParseLevel(cfg.Logging.Level)}))
	} else {
		logger = util.NewTextLogger(w, cfg.Logging.Level)
	}
	util.SetDefault(logger)

	selected, err := selectSteps(*stepFlag)
	if err != nil {
		log.Fatalf("invalid -step: %v", err)
	}

	date := *dateFlag
	if date == "" {
		date = defaultRunDate(cfg)
	}
	if !domain.ValidDate(date) {
		log.Fatalf("invalid -date %q: use YYYY-MM-DD", date)
	}

	window := *windowFlag
	if window <= 0 {
		window = cfg.Metrics.WindowDays
	}

	s, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open store %s: %v", cfg.Storage.SQLitePath, err)
	}
	defer s.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	p := &pipeline{cfg: cfg, store: s, date: date, window: window}
	slog.Info("eqx pipeline starting",
		"date", date, "window", window, "db", cfg.Storage.SQLitePath, "logFile", logFileName)

	var failures []string
	for _, st := range selected {
		if err := ctx.Err(); err != nil {
			slog.Warn("pipeline interrupted", "before", st.name)
			failures = append(failures, fmt.Sprintf("%s: %v", st.name, err))
			break
		}

		started := time.Now()
		slog.Info("starting step", "step", st.name)
		if err := st.run(ctx, p); err != nil {
			slog.Error("step failed",
				"step", st.name, "err", err, "elapsed", time.Since(started).Round(time.Millisecond))
			failures = append(failures, fmt.Sprintf("%s: %v", st.name, err))
			continue
		}
		slog.Info("completed step",
			"step", st.name, "elapsed", time.Since(started).Round(time.Millisecond))
	}

	if len(failures) > 0 {
		slog.Error("pipeline completed with errors", "failures", strings.Join(failures, "; "))
		s.Close()
		os.Exit(1)
	}
	slog.Info("pipeline completed successfully", "date", date)
}

// selectSteps expands the -step flag into an ordered step list. run-all
// expands to every step; explicit names run in the order given.
func selectSteps(arg string) ([]step, error) {
	var selected []step
	for _, raw := range strings.Split(arg, ",") {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}
		if name == "run-all" {
			return allSteps, nil
		}
		found := false
		for _, st := range allSteps {
			if st.name == name {
				selected = append(selected, st)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown step %q", name)
		}
	}
	if len(selected) == 0 {
		return nil, errors.New("no steps selected")
	}
	return selected, nil
}

// defaultRunDate picks the date to run when -date is not given: the latest
// finished trading day from the Alpaca calendar when credentials are
// configured, otherwise today in US market time.
func defaultRunDate(cfg *config.Config) string {
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

// ---------------------------------------------------------------------------
// Steps
// ---------------------------------------------------------------------------

func runIngest(ctx context.Context, p *pipeline) error {
	resolver := gather.NewUniverseResolver(
		p.cfg.Alpaca.APIKey, p.cfg.Alpaca.APISecret, p.cfg.Alpaca.BaseURL,
		p.cfg.Universe.FallbackURL, p.cfg.Universe.RefDir, p.cfg.Universe.Limit)
	tickers := resolver.Resolve(ctx)

	feed := gather.NewYahooFeed(
		p.cfg.Feed.BaseURL, p.cfg.Feed.BenchmarkSymbol,
		p.cfg.Feed.RateLimitPerMin, p.cfg.Feed.RetryMaxAttempts)
	coord := gather.NewCoordinator(feed, p.store, p.cfg.Ingestion.MaxWorkers, p.cfg.Storage.ReportsDir)

	report, err := coord.Ingest(ctx, p.date, tickers)
	if err != nil {
		return err
	}
	if report.RowsWritten == 0 {
		return fmt.Errorf("no price rows ingested for %s", p.date)
	}
	return nil
}

func runBuildIndex(ctx context.Context, p *pipeline) error {
	_, err := index.NewBuilder(p.store, p.cfg.Index.Size).Build(ctx, p.date)
	if errors.Is(err, index.ErrNotEnoughConstituents) {
		// An under-populated date is a skip, not a failure: the snapshot is
		// simply absent and downstream steps carry on without it.
		slog.Warn("index build skipped", "date", p.date)
		return nil
	}
	return err
}

func runDailyMetrics(ctx context.Context, p *pipeline) error {
	return metrics.NewDailyCalculator(p.store, p.cfg.Metrics.LookbackDays).Compute(ctx, p.date)
}

func runSummaryMetrics(ctx context.Context, p *pipeline) error {
	return metrics.NewSummaryCalculator(p.store).Compute(ctx, p.date, p.window)
}

func runValidate(ctx context.Context, p *pipeline) error {
	_, err := validate.NewValidator(p.store, p.cfg.Storage.ReportsDir).Run(ctx, p.date)
	return err
}

func runExportExcel(ctx context.Context, p *pipeline) error {
	path := filepath.Join(p.cfg.Storage.ExportDir, "equal_weight_index.xlsx")
	return export.NewExcelExporter(p.store).Export(ctx, path, minDate, p.date)
}

func runExportParquet(ctx context.Context, p *pipeline) error {
	dir := filepath.Join(p.cfg.Storage.DataDir, "parquet")
	return export.NewParquetExporter(p.store).Export(ctx, dir, minDate, p.date)
}
