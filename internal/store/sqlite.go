package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"eqx/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ PriceStore = (*SQLiteStore)(nil)
var _ BenchmarkStore = (*SQLiteStore)(nil)
var _ IndexStore = (*SQLiteStore)(nil)
var _ MetricStore = (*SQLiteStore)(nil)
var _ SummaryStore = (*SQLiteStore)(nil)
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements the analytical store on a SQLite database.
//
// The session is not safe for concurrent write transactions: mu serializes
// the delete-then-insert critical section so every concurrent ingestion
// worker gets its own short-lived, exclusive transaction. This is a hard
// invariant, not an artifact of the driver.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex // guards all write transactions
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, ensures the
// schema exists, and returns a ready-to-use SQLiteStore. Schema creation is
// idempotent and never destroys existing data.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite %s: %w", dbPath, err)
	}
	// One connection keeps reads and writes on a single session.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// createTables creates all pipeline tables if they do not exist.
func (s *SQLiteStore) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS stock_prices (
			date       TEXT NOT NULL,
			ticker     TEXT NOT NULL,
			close      REAL NOT NULL,
			market_cap REAL NOT NULL,
			PRIMARY KEY (date, ticker)
		)`,
		`CREATE TABLE IF NOT EXISTS benchmark_prices (
			date  TEXT NOT NULL PRIMARY KEY,
			close REAL NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS index_values (
			date            TEXT NOT NULL PRIMARY KEY,
			index_value     REAL NOT NULL,
			benchmark_value REAL,
			tickers         TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS index_metrics (
			date                TEXT NOT NULL PRIMARY KEY,
			index_value         REAL NOT NULL,
			benchmark_close     REAL NOT NULL,
			daily_return        REAL NOT NULL,
			benchmark_return    REAL NOT NULL,
			cumulative_return   REAL NOT NULL,
			rolling_volatility  REAL,
			rolling_beta        REAL,
			rolling_max         REAL NOT NULL,
			drawdown            REAL NOT NULL,
			drawdown_pct        REAL NOT NULL,
			tickers             TEXT NOT NULL,
			turnover            INTEGER NOT NULL,
			exposure_similarity REAL NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS summary_metrics (
			date                    TEXT NOT NULL,
			window_days             INTEGER NOT NULL,
			best_day                TEXT,
			worst_day               TEXT,
			max_drawdown            REAL,
			final_return            REAL,
			avg_daily_return        REAL,
			volatility              REAL,
			sharpe_ratio            REAL,
			sortino_ratio           REAL,
			ulcer_index             REAL,
			annualized_return       REAL,
			annualized_volatility   REAL,
			up_capture              REAL,
			down_capture            REAL,
			win_ratio               REAL,
			avg_turnover            REAL,
			total_rebalances        INTEGER,
			avg_exposure_similarity REAL,
			var_95                  REAL,
			var_99                  REAL,
			return_skewness         REAL,
			return_kurtosis         REAL,
			max_gain_streak         INTEGER,
			max_loss_streak         INTEGER,
			PRIMARY KEY (date, window_days)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// withWriteTx runs fn inside a single write transaction, serialized by mu.
// The transaction commits only if fn returns nil; any error rolls the whole
// batch back, leaving the table exactly as it was.
func (s *SQLiteStore) withWriteTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() // no-op once committed

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// ---------------------------------------------------------------------------
// PriceStore implementation
// ---------------------------------------------------------------------------

// UpsertPrices replaces any rows matching the batch's (date, ticker) keys and
// inserts the batch inside one transaction.
func (s *SQLiteStore) UpsertPrices(ctx context.Context, points []domain.PricePoint) error {
	if len(points) == 0 {
		return nil
	}
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		for _, p := range points {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM stock_prices WHERE date = ? AND ticker = ?`,
				p.Date, p.Ticker); err != nil {
				return fmt.Errorf("deleting price %s/%s: %w", p.Date, p.Ticker, err)
			}
		}
		for _, p := range points {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO stock_prices (date, ticker, close, market_cap) VALUES (?, ?, ?, ?)`,
				p.Date, p.Ticker, p.Close, p.MarketCap); err != nil {
				return fmt.Errorf("inserting price %s/%s: %w", p.Date, p.Ticker, err)
			}
		}
		return nil
	})
}

// ReadPrices returns price points with date in [start, end].
func (s *SQLiteStore) ReadPrices(ctx context.Context, start, end string) ([]domain.PricePoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date, ticker, close, market_cap FROM stock_prices
		 WHERE date BETWEEN ? AND ? ORDER BY date, ticker`, start, end)
	if err != nil {
		return nil, fmt.Errorf("querying stock_prices: %w", err)
	}
	defer rows.Close()

	var points []domain.PricePoint
	for rows.Next() {
		var p domain.PricePoint
		if err := rows.Scan(&p.Date, &p.Ticker, &p.Close, &p.MarketCap); err != nil {
			return nil, fmt.Errorf("scanning stock_prices row: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// TopByMarketCap returns up to limit price points for date, ordered by market
// cap descending with ticker as the deterministic tiebreak.
func (s *SQLiteStore) TopByMarketCap(ctx context.Context, date string, limit int) ([]domain.PricePoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date, ticker, close, market_cap FROM stock_prices
		 WHERE date = ? ORDER BY market_cap DESC, ticker ASC LIMIT ?`, date, limit)
	if err != nil {
		return nil, fmt.Errorf("querying top market cap for %s: %w", date, err)
	}
	defer rows.Close()

	var points []domain.PricePoint
	for rows.Next() {
		var p domain.PricePoint
		if err := rows.Scan(&p.Date, &p.Ticker, &p.Close, &p.MarketCap); err != nil {
			return nil, fmt.Errorf("scanning stock_prices row: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// ---------------------------------------------------------------------------
// BenchmarkStore implementation
// ---------------------------------------------------------------------------

// UpsertBenchmarks replaces any rows matching the batch's dates and inserts
// the batch inside one transaction.
func (s *SQLiteStore) UpsertBenchmarks(ctx context.Context, points []domain.BenchmarkPoint) error {
	if len(points) == 0 {
		return nil
	}
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		for _, p := range points {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM benchmark_prices WHERE date = ?`, p.Date); err != nil {
				return fmt.Errorf("deleting benchmark %s: %w", p.Date, err)
			}
		}
		for _, p := range points {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO benchmark_prices (date, close) VALUES (?, ?)`,
				p.Date, p.Close); err != nil {
				return fmt.Errorf("inserting benchmark %s: %w", p.Date, err)
			}
		}
		return nil
	})
}

// ReadBenchmarks returns benchmark points with date in [start, end].
func (s *SQLiteStore) ReadBenchmarks(ctx context.Context, start, end string) ([]domain.BenchmarkPoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date, close FROM benchmark_prices
		 WHERE date BETWEEN ? AND ? ORDER BY date`, start, end)
	if err != nil {
		return nil, fmt.Errorf("querying benchmark_prices: %w", err)
	}
	defer rows.Close()

	var points []domain.BenchmarkPoint
	for rows.Next() {
		var p domain.BenchmarkPoint
		if err := rows.Scan(&p.Date, &p.Close); err != nil {
			return nil, fmt.Errorf("scanning benchmark_prices row: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// GetBenchmark returns the benchmark point for date, or nil when absent.
func (s *SQLiteStore) GetBenchmark(ctx context.Context, date string) (*domain.BenchmarkPoint, error) {
	var p domain.BenchmarkPoint
	err := s.db.QueryRowContext(ctx,
		`SELECT date, close FROM benchmark_prices WHERE date = ?`, date).
		Scan(&p.Date, &p.Close)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying benchmark %s: %w", date, err)
	}
	return &p, nil
}

// ---------------------------------------------------------------------------
// IndexStore implementation
// ---------------------------------------------------------------------------

// UpsertSnapshot replaces any snapshot for the same date inside one
// transaction.
func (s *SQLiteStore) UpsertSnapshot(ctx context.Context, snap *domain.IndexSnapshot) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM index_values WHERE date = ?`, snap.Date); err != nil {
			return fmt.Errorf("deleting snapshot %s: %w", snap.Date, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO index_values (date, index_value, benchmark_value, tickers)
			 VALUES (?, ?, ?, ?)`,
			snap.Date, snap.IndexValue, snap.BenchmarkValue, snap.Constituents.Encode()); err != nil {
			return fmt.Errorf("inserting snapshot %s: %w", snap.Date, err)
		}
		return nil
	})
}

// ReadSnapshots returns snapshots with date in [start, end].
func (s *SQLiteStore) ReadSnapshots(ctx context.Context, start, end string) ([]domain.IndexSnapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date, index_value, benchmark_value, tickers FROM index_values
		 WHERE date BETWEEN ? AND ? ORDER BY date`, start, end)
	if err != nil {
		return nil, fmt.Errorf("querying index_values: %w", err)
	}
	defer rows.Close()

	var snaps []domain.IndexSnapshot
	for rows.Next() {
		var (
			snap    domain.IndexSnapshot
			tickers string
		)
		if err := rows.Scan(&snap.Date, &snap.IndexValue, &snap.BenchmarkValue, &tickers); err != nil {
			return nil, fmt.Errorf("scanning index_values row: %w", err)
		}
		snap.Constituents = domain.ParseConstituents(tickers)
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// DeleteSnapshot removes the snapshot for date. Missing rows are not an
// error.
func (s *SQLiteStore) DeleteSnapshot(ctx context.Context, date string) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM index_values WHERE date = ?`, date); err != nil {
			return fmt.Errorf("deleting snapshot %s: %w", date, err)
		}
		return nil
	})
}

// ---------------------------------------------------------------------------
// MetricStore implementation
// ---------------------------------------------------------------------------

// UpsertDailyMetrics replaces any rows matching the batch's dates and inserts
// the batch inside one transaction.
func (s *SQLiteStore) UpsertDailyMetrics(ctx context.Context, metricRows []domain.DailyMetricRow) error {
	if len(metricRows) == 0 {
		return nil
	}
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		for _, r := range metricRows {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM index_metrics WHERE date = ?`, r.Date); err != nil {
				return fmt.Errorf("deleting daily metrics %s: %w", r.Date, err)
			}
		}
		return insertDailyMetrics(ctx, tx, metricRows)
	})
}

// ReplaceDailyMetrics atomically rewrites the whole index_metrics table.
func (s *SQLiteStore) ReplaceDailyMetrics(ctx context.Context, metricRows []domain.DailyMetricRow) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM index_metrics`); err != nil {
			return fmt.Errorf("clearing index_metrics: %w", err)
		}
		return insertDailyMetrics(ctx, tx, metricRows)
	})
}

// insertDailyMetrics inserts rows within an open transaction.
func insertDailyMetrics(ctx context.Context, tx *sql.Tx, metricRows []domain.DailyMetricRow) error {
	for _, r := range metricRows {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO index_metrics (
				date, index_value, benchmark_close, daily_return, benchmark_return,
				cumulative_return, rolling_volatility, rolling_beta, rolling_max,
				drawdown, drawdown_pct, tickers, turnover, exposure_similarity
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.Date, r.IndexValue, r.BenchmarkClose, r.DailyReturn, r.BenchmarkReturn,
			r.CumulativeReturn, r.RollingVolatility, r.RollingBeta, r.RollingMax,
			r.Drawdown, r.DrawdownPct, r.Constituents.Encode(), r.Turnover,
			r.ExposureSimilarity); err != nil {
			return fmt.Errorf("inserting daily metrics %s: %w", r.Date, err)
		}
	}
	return nil
}

// ReadDailyMetrics returns daily metric rows with date in [start, end].
func (s *SQLiteStore) ReadDailyMetrics(ctx context.Context, start, end string) ([]domain.DailyMetricRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date, index_value, benchmark_close, daily_return, benchmark_return,
			cumulative_return, rolling_volatility, rolling_beta, rolling_max,
			drawdown, drawdown_pct, tickers, turnover, exposure_similarity
		 FROM index_metrics WHERE date BETWEEN ? AND ? ORDER BY date`, start, end)
	if err != nil {
		return nil, fmt.Errorf("querying index_metrics: %w", err)
	}
	defer rows.Close()

	var out []domain.DailyMetricRow
	for rows.Next() {
		var (
			r       domain.DailyMetricRow
			tickers string
		)
		if err := rows.Scan(&r.Date, &r.IndexValue, &r.BenchmarkClose, &r.DailyReturn,
			&r.BenchmarkReturn, &r.CumulativeReturn, &r.RollingVolatility, &r.RollingBeta,
			&r.RollingMax, &r.Drawdown, &r.DrawdownPct, &tickers, &r.Turnover,
			&r.ExposureSimilarity); err != nil {
			return nil, fmt.Errorf("scanning index_metrics row: %w", err)
		}
		r.Constituents = domain.ParseConstituents(tickers)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// SummaryStore implementation
// ---------------------------------------------------------------------------

// UpsertSummary replaces any row with the same (date, window_days) key inside
// one transaction.
func (s *SQLiteStore) UpsertSummary(ctx context.Context, row *domain.SummaryMetricRow) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM summary_metrics WHERE date = ? AND window_days = ?`,
			row.Date, row.WindowDays); err != nil {
			return fmt.Errorf("deleting summary %s/%d: %w", row.Date, row.WindowDays, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO summary_metrics (
				date, window_days, best_day, worst_day, max_drawdown, final_return,
				avg_daily_return, volatility, sharpe_ratio, sortino_ratio, ulcer_index,
				annualized_return, annualized_volatility, up_capture, down_capture,
				win_ratio, avg_turnover, total_rebalances, avg_exposure_similarity,
				var_95, var_99, return_skewness, return_kurtosis,
				max_gain_streak, max_loss_streak
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			row.Date, row.WindowDays, row.BestDay, row.WorstDay, row.MaxDrawdown,
			row.FinalReturn, row.AvgDailyReturn, row.Volatility, row.SharpeRatio,
			row.SortinoRatio, row.UlcerIndex, row.AnnualizedReturn,
			row.AnnualizedVolatility, row.UpCapture, row.DownCapture, row.WinRatio,
			row.AvgTurnover, row.TotalRebalances, row.AvgExposureSimilarity,
			row.VaR95, row.VaR99, row.ReturnSkewness, row.ReturnKurtosis,
			row.MaxGainStreak, row.MaxLossStreak); err != nil {
			return fmt.Errorf("inserting summary %s/%d: %w", row.Date, row.WindowDays, err)
		}
		return nil
	})
}

// ReadSummaries returns summary rows with date in [start, end].
func (s *SQLiteStore) ReadSummaries(ctx context.Context, start, end string) ([]domain.SummaryMetricRow, error) {
	rows, err := s.db.QueryContext(ctx, selectSummaryCols+
		` FROM summary_metrics WHERE date BETWEEN ? AND ? ORDER BY date, window_days`,
		start, end)
	if err != nil {
		return nil, fmt.Errorf("querying summary_metrics: %w", err)
	}
	defer rows.Close()

	var out []domain.SummaryMetricRow
	for rows.Next() {
		r, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// GetSummary returns the summary row for (date, windowDays), or nil when
// absent.
func (s *SQLiteStore) GetSummary(ctx context.Context, date string, windowDays int) (*domain.SummaryMetricRow, error) {
	rows, err := s.db.QueryContext(ctx, selectSummaryCols+
		` FROM summary_metrics WHERE date = ? AND window_days = ?`, date, windowDays)
	if err != nil {
		return nil, fmt.Errorf("querying summary %s/%d: %w", date, windowDays, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanSummary(rows)
}

const selectSummaryCols = `SELECT date, window_days, best_day, worst_day,
	max_drawdown, final_return, avg_daily_return, volatility, sharpe_ratio,
	sortino_ratio, ulcer_index, annualized_return, annualized_volatility,
	up_capture, down_capture, win_ratio, avg_turnover, total_rebalances,
	avg_exposure_similarity, var_95, var_99, return_skewness, return_kurtosis,
	max_gain_streak, max_loss_streak`

// scanSummary scans one summary_metrics row. Nullable columns land in the
// row's pointer fields, so a NULL column stays a nil pointer.
func scanSummary(rows *sql.Rows) (*domain.SummaryMetricRow, error) {
	var r domain.SummaryMetricRow
	if err := rows.Scan(&r.Date, &r.WindowDays, &r.BestDay, &r.WorstDay,
		&r.MaxDrawdown, &r.FinalReturn, &r.AvgDailyReturn, &r.Volatility,
		&r.SharpeRatio, &r.SortinoRatio, &r.UlcerIndex, &r.AnnualizedReturn,
		&r.AnnualizedVolatility, &r.UpCapture, &r.DownCapture, &r.WinRatio,
		&r.AvgTurnover, &r.TotalRebalances, &r.AvgExposureSimilarity,
		&r.VaR95, &r.VaR99, &r.ReturnSkewness, &r.ReturnKurtosis,
		&r.MaxGainStreak, &r.MaxLossStreak); err != nil {
		return nil, fmt.Errorf("scanning summary_metrics row: %w", err)
	}
	return &r, nil
}
