// Package domain defines the core data model shared across the index
// pipeline: raw price points, benchmark points, index snapshots, and the
// derived metric rows. All entities are keyed by calendar date strings in
// YYYY-MM-DD form.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the canonical date format used for all table keys.
const DateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD date string.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing date %q: %w", s, err)
	}
	return t, nil
}

// AddDays returns the date n days after (or before, for negative n) the
// given YYYY-MM-DD date.
func AddDays(date string, n int) (string, error) {
	t, err := ParseDate(date)
	if err != nil {
		return "", err
	}
	return t.AddDate(0, 0, n).Format(DateLayout), nil
}

// ValidDate reports whether s is a well-formed YYYY-MM-DD date.
func ValidDate(s string) bool {
	_, err := time.Parse(DateLayout, s)
	return err == nil
}

// PricePoint is a single ticker's closing price and derived market
// capitalization for one trading date. Key: (Date, Ticker).
type PricePoint struct {
	Date      string
	Ticker    string
	Close     float64
	MarketCap float64
}

// BenchmarkPoint is the benchmark's closing value for one trading date.
// Key: Date.
type BenchmarkPoint struct {
	Date  string
	Close float64
}

// Constituents is the ordered ticker list of an index snapshot, ranked by
// descending market cap at selection time. It is kept typed everywhere in
// the pipeline; Encode/ParseConstituents are the only conversion points,
// used exclusively at the storage boundary.
type Constituents []string

// Encode serializes the list to its canonical storage form. Ticker symbols
// are uppercase alphanumerics with dashes, so a bare comma join is
// unambiguous.
func (c Constituents) Encode() string {
	return strings.Join(c, ",")
}

// ParseConstituents decodes the canonical storage form produced by Encode.
// Empty segments are dropped so a blank column decodes to an empty list.
func ParseConstituents(s string) Constituents {
	if s == "" {
		return Constituents{}
	}
	parts := strings.Split(s, ",")
	out := make(Constituents, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Set returns the constituents as a membership set.
func (c Constituents) Set() map[string]struct{} {
	m := make(map[string]struct{}, len(c))
	for _, t := range c {
		m[t] = struct{}{}
	}
	return m
}

// IndexSnapshot is the persisted composition and value of the equal-weight
// index for one date. Key: Date. A snapshot always carries exactly the full
// constituent count; partial snapshots are never written. BenchmarkValue is
// nil when no benchmark close exists for the date.
type IndexSnapshot struct {
	Date           string
	IndexValue     float64
	BenchmarkValue *float64
	Constituents   Constituents
}

// DailyMetricRow holds the single-date rolling statistics derived from
// IndexSnapshot and BenchmarkPoint history. Key: Date. Rolling fields are
// nil until enough trailing observations exist.
type DailyMetricRow struct {
	Date               string
	IndexValue         float64
	BenchmarkClose     float64
	DailyReturn        float64
	BenchmarkReturn    float64
	CumulativeReturn   float64
	RollingVolatility  *float64 // 7-observation trailing stddev of DailyReturn
	RollingBeta        *float64 // 7-observation trailing correlation vs benchmark
	RollingMax         float64
	Drawdown           float64
	DrawdownPct        float64
	Constituents       Constituents
	Turnover           int
	ExposureSimilarity float64
}

// SummaryMetricRow holds window-bounded aggregate statistics ending on Date.
// Key: (Date, WindowDays). All value fields are pointers: a row whose values
// are all nil records that the window held fewer than two observations,
// which callers must be able to distinguish from a missing row.
type SummaryMetricRow struct {
	Date                  string
	WindowDays            int
	BestDay               *string
	WorstDay              *string
	MaxDrawdown           *float64
	FinalReturn           *float64
	AvgDailyReturn        *float64
	Volatility            *float64
	SharpeRatio           *float64
	SortinoRatio          *float64
	UlcerIndex            *float64
	AnnualizedReturn      *float64
	AnnualizedVolatility  *float64
	UpCapture             *float64
	DownCapture           *float64
	WinRatio              *float64
	AvgTurnover           *float64
	TotalRebalances       *int
	AvgExposureSimilarity *float64
	VaR95                 *float64
	VaR99                 *float64
	ReturnSkewness        *float64
	ReturnKurtosis        *float64
	MaxGainStreak         *int
	MaxLossStreak         *int
}

// IngestionReport summarizes one ingestion run: how many price rows were
// committed and which tickers produced no row.
type IngestionReport struct {
	Date          string
	RowsWritten   int
	FailedTickers []string
}
