package gather

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
)

// UniverseResolver produces the set of tickers eligible for index
// membership. The primary source is the Alpaca asset list (active, tradable
// US common stock, with ETFs excluded via reference CSVs); when that fails
// or comes back empty, a public constituents table is scraped as fallback.
// Resolution fails soft: an empty result is valid and logged, never fatal.
type UniverseResolver struct {
	client      *alpaca.Client
	fallbackURL string
	refDir      string
	limit       int
	httpClient  *http.Client
	log         *slog.Logger
}

// NewUniverseResolver creates a resolver. Empty credentials disable the
// primary source; limit > 0 caps the universe size for smoke runs.
func NewUniverseResolver(apiKey, apiSecret, baseURL, fallbackURL, refDir string, limit int) *UniverseResolver {
	var client *alpaca.Client
	if apiKey != "" && apiSecret != "" {
		client = alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		})
	}
	return &UniverseResolver{
		client:      client,
		fallbackURL: fallbackURL,
		refDir:      refDir,
		limit:       limit,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		log:         slog.Default().With("component", "universe"),
	}
}

// Resolve returns the eligible tickers sorted ascending. Both sources
// failing yields an empty slice; the caller decides whether that aborts its
// run.
func (r *UniverseResolver) Resolve(ctx context.Context) []string {
	symbols, err := r.fromAssets()
	if err != nil {
		r.log.Warn("primary universe source failed", "err", err)
	}
	if len(symbols) == 0 {
		symbols, err = r.fromFallback(ctx)
		if err != nil {
			r.log.Warn("fallback universe source failed", "err", err)
			return nil
		}
	}

	sort.Strings(symbols)
	if r.limit > 0 && len(symbols) > r.limit {
		symbols = symbols[:r.limit]
	}
	r.log.Info("universe resolved", "tickers", len(symbols))
	return symbols
}

// fromAssets lists active tradable US equities from the Alpaca asset API and
// drops everything classified as an ETF by the reference data.
func (r *UniverseResolver) fromAssets() ([]string, error) {
	if r.client == nil {
		return nil, errors.New("no API credentials configured")
	}

	assets, err := r.client.GetAssets(alpaca.GetAssetsRequest{
		Status:     "active",
		AssetClass: "us_equity",
	})
	if err != nil {
		return nil, fmt.Errorf("GetAssets: %w", err)
	}

	etfs := loadSymbolSet(findLatestRefFile(r.refDir, "us_etf"), "ETF")

	var symbols []string
	for _, a := range assets {
		if !a.Tradable {
			continue
		}
		sym := strings.ToUpper(strings.TrimSpace(a.Symbol))
		if sym == "" || etfs[sym] {
			continue
		}
		symbols = append(symbols, normalizeSymbol(sym))
	}
	return symbols, nil
}

// fromFallback scrapes the constituents table at fallbackURL: one symbol per
// row, first cell.
func (r *UniverseResolver) fromFallback(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.fallbackURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", r.fallbackURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FeedError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing constituents page: %w", err)
	}

	table := doc.Find("table#constituents")
	if table.Length() == 0 {
		table = doc.Find("table").First()
	}

	seen := make(map[string]bool)
	var symbols []string
	table.Find("tr").Each(func(_ int, row *goquery.Selection) {
		sym := strings.ToUpper(strings.TrimSpace(row.Find("td").First().Text()))
		if sym == "" {
			return // header row
		}
		sym = normalizeSymbol(sym)
		if !seen[sym] {
			seen[sym] = true
			symbols = append(symbols, sym)
		}
	})

	if len(symbols) == 0 {
		return nil, errors.New("no symbols found in constituents table")
	}
	r.log.Info("universe from fallback list", "tickers", len(symbols))
	return symbols, nil
}

// normalizeSymbol maps share-class dots to the dashed form the price feed
// expects (BRK.B -> BRK-B).
func normalizeSymbol(sym string) string {
	return strings.ReplaceAll(sym, ".", "-")
}

// findLatestRefFile finds the latest date-stamped file matching
// prefix_YYYY-MM-DD.csv in dir, falling back to prefix.csv.
func findLatestRefFile(dir, prefix string) string {
	pattern := filepath.Join(dir, prefix+"_????-??-??.csv")
	matches, err := filepath.Glob(pattern)
	if err == nil && len(matches) > 0 {
		sort.Strings(matches)
		return matches[len(matches)-1]
	}
	return filepath.Join(dir, prefix+".csv")
}

// loadSymbolSet reads the symbol column of a CSV file into an uppercase set.
// A missing file yields an empty set.
func loadSymbolSet(path, label string) map[string]bool {
	set := make(map[string]bool)

	f, err := os.Open(path)
	if err != nil {
		slog.Debug("reference file not found", "label", label, "path", path)
		return set
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		slog.Warn("failed to read CSV header", "label", label, "path", path, "err", err)
		return set
	}

	symbolIdx := 0
	for i, col := range header {
		if strings.EqualFold(strings.TrimSpace(col), "symbol") {
			symbolIdx = i
			break
		}
	}

	for {
		record, err := reader.Read()
		if err != nil {
			break
		}
		if len(record) > symbolIdx {
			sym := strings.ToUpper(strings.TrimSpace(record[symbolIdx]))
			if sym != "" {
				set[sym] = true
			}
		}
	}
	return set
}
