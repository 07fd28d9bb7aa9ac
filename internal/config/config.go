package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the eqx index pipeline.
type Config struct {
	Storage   Storage   `yaml:"storage"`
	Alpaca    Alpaca    `yaml:"alpaca"`
	Feed      Feed      `yaml:"feed"`
	Universe  Universe  `yaml:"universe"`
	Index     Index     `yaml:"index"`
	Metrics   Metrics   `yaml:"metrics"`
	Ingestion Ingestion `yaml:"ingestion"`
	Logging   Logging   `yaml:"logging"`
}

// Storage holds paths for data persistence and generated artifacts.
type Storage struct {
	SQLitePath string `yaml:"sqlite_path"` // analytical store database file
	DataDir    string `yaml:"data_dir"`    // parquet archive output
	ReportsDir string `yaml:"reports_dir"` // failure + validation reports
	ExportDir  string `yaml:"export_dir"`  // Excel workbook output
}

// Alpaca holds credentials and the endpoint for the Alpaca trading API,
// used for universe resolution and the trading calendar.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
}

// Feed configures the price/shares-outstanding feed.
type Feed struct {
	BaseURL          string `yaml:"base_url"`           // chart + quoteSummary host
	BenchmarkSymbol  string `yaml:"benchmark_symbol"`   // benchmark index symbol
	RateLimitPerMin  int    `yaml:"rate_limit_per_min"` // feed request pacing
	RetryMaxAttempts int    `yaml:"retry_max_attempts"` // transient-error retries
}

// Universe controls ticker-universe resolution.
type Universe struct {
	FallbackURL string `yaml:"fallback_url"` // scraped constituent list
	RefDir      string `yaml:"ref_dir"`      // reference CSVs for ETF exclusion
	Limit       int    `yaml:"limit"`        // cap on universe size, 0 = no cap
}

// Index holds index-construction parameters.
type Index struct {
	Size int `yaml:"size"` // constituent count
}

// Metrics holds lookback parameters for the metric calculators.
type Metrics struct {
	LookbackDays int `yaml:"lookback_days"` // daily rolling window, calendar days
	WindowDays   int `yaml:"window_days"`   // summary window, calendar days
}

// Ingestion controls the concurrent fetch fan-out.
type Ingestion struct {
	MaxWorkers        int `yaml:"max_workers"`         // single-date ingestion pool
	HistoryMaxWorkers int `yaml:"history_max_workers"` // historical range pool
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, applies
// environment variable overrides, and fills in defaults for anything left
// unset. A missing file is not an error: the pipeline is fully runnable
// from environment variables and defaults alone.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Fall through to env overrides and defaults.
	default:
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("EQX_DB_FILE"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("EQX_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("EQX_REPORTS_DIR"); v != "" {
		cfg.Storage.ReportsDir = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}

	if v := os.Getenv("EQX_WINDOW_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Metrics.WindowDays = n
		}
	}
	if v := os.Getenv("EQX_MAX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Ingestion.MaxWorkers = n
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// The canonical APCA_ variables the Alpaca SDK documents win over the
	// ALPACA_ aliases above.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

// applyDefaults fills zero-valued fields with working defaults.
func applyDefaults(cfg *Config) {
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "data/eqx.db"
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data"
	}
	if cfg.Storage.ReportsDir == "" {
		cfg.Storage.ReportsDir = "reports"
	}
	if cfg.Storage.ExportDir == "" {
		cfg.Storage.ExportDir = "export"
	}

	if cfg.Alpaca.BaseURL == "" {
		cfg.Alpaca.BaseURL = "https://api.alpaca.markets"
	}

	if cfg.Feed.BaseURL == "" {
		cfg.Feed.BaseURL = "https://query1.finance.yahoo.com"
	}
	if cfg.Feed.BenchmarkSymbol == "" {
		cfg.Feed.BenchmarkSymbol = "^GSPC"
	}
	if cfg.Feed.RateLimitPerMin <= 0 {
		cfg.Feed.RateLimitPerMin = 300
	}
	if cfg.Feed.RetryMaxAttempts <= 0 {
		cfg.Feed.RetryMaxAttempts = 5
	}

	if cfg.Universe.FallbackURL == "" {
		cfg.Universe.FallbackURL = "https://en.wikipedia.org/wiki/List_of_S%26P_500_companies"
	}

	if cfg.Index.Size <= 0 {
		cfg.Index.Size = 100
	}

	if cfg.Metrics.LookbackDays <= 0 {
		cfg.Metrics.LookbackDays = 7
	}
	if cfg.Metrics.WindowDays <= 0 {
		cfg.Metrics.WindowDays = 30
	}

	if cfg.Ingestion.MaxWorkers <= 0 {
		cfg.Ingestion.MaxWorkers = 8
	}
	if cfg.Ingestion.HistoryMaxWorkers <= 0 {
		cfg.Ingestion.HistoryMaxWorkers = 12
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}
