package gather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"eqx/internal/domain"
	"eqx/internal/util"
)

// userAgent is sent on every feed request; the public endpoints reject the
// Go default agent.
const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// baseDelay is the initial backoff between feed retries.
const baseDelay = time.Second

// FeedError wraps a non-2xx feed response so callers can classify it.
type FeedError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *FeedError) Error() string {
	return fmt.Sprintf("HTTP %d %s: %s", e.StatusCode, e.Status, e.Body)
}

// retryable reports whether the status class is worth another attempt:
// throttling and server-side failures only.
func (e *FeedError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// PriceFeed fetches closing prices and shares outstanding for single
// tickers. All methods return ok=false, not an error, when the feed simply
// has no usable row: no bar for the date, missing or non-positive shares
// outstanding, or a row that is void after numeric coercion.
type PriceFeed interface {
	// FetchPricePoint returns the ticker's close and derived market cap for
	// one trading date.
	FetchPricePoint(ctx context.Context, ticker, date string) (domain.PricePoint, bool, error)

	// FetchPriceRange returns one point per trading date in [start, end],
	// ascending. A nil slice with nil error means the feed has nothing
	// usable for the ticker.
	FetchPriceRange(ctx context.Context, ticker, start, end string) ([]domain.PricePoint, error)

	// FetchBenchmarkPoint returns the benchmark close for one date.
	FetchBenchmarkPoint(ctx context.Context, date string) (domain.BenchmarkPoint, bool, error)

	// FetchBenchmarkRange returns benchmark closes for [start, end],
	// ascending.
	FetchBenchmarkRange(ctx context.Context, start, end string) ([]domain.BenchmarkPoint, error)
}

// Compile-time interface check.
var _ PriceFeed = (*YahooFeed)(nil)

// YahooFeed implements PriceFeed against the Yahoo Finance public API:
// daily closes from the v8 chart endpoint, shares outstanding from the v10
// quoteSummary endpoint. Every request is paced by a shared rate limiter
// and retried with exponential backoff on transient failures.
type YahooFeed struct {
	baseURL     string
	benchmark   string
	client      *http.Client
	limiter     *util.RateLimiter
	maxAttempts int
	retryDelay  time.Duration
	log         *slog.Logger
}

// NewYahooFeed creates a YahooFeed for the given API host and benchmark
// symbol, pacing requests at ratePerMin and retrying transient failures up
// to maxAttempts times.
func NewYahooFeed(baseURL, benchmarkSymbol string, ratePerMin, maxAttempts int) *YahooFeed {
	return &YahooFeed{
		baseURL:     strings.TrimRight(baseURL, "/"),
		benchmark:   benchmarkSymbol,
		client:      &http.Client{Timeout: 30 * time.Second},
		limiter:     util.NewRateLimiter(ratePerMin),
		maxAttempts: maxAttempts,
		retryDelay:  baseDelay,
		log:         slog.Default().With("component", "feed"),
	}
}

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

type apiError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *apiError     `json:"error"`
	} `json:"chart"`
}

type chartResult struct {
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Close []*float64 `json:"close"`
		} `json:"quote"`
	} `json:"indicators"`
}

// rawValue is the feed's {raw, fmt} number wrapper.
type rawValue struct {
	Raw float64 `json:"raw"`
	Fmt string  `json:"fmt"`
}

type quoteSummaryResponse struct {
	QuoteSummary struct {
		Result []struct {
			DefaultKeyStatistics struct {
				SharesOutstanding rawValue `json:"sharesOutstanding"`
			} `json:"defaultKeyStatistics"`
		} `json:"result"`
		Error *apiError `json:"error"`
	} `json:"quoteSummary"`
}

// ---------------------------------------------------------------------------
// PriceFeed implementation
// ---------------------------------------------------------------------------

// FetchPricePoint fetches the close for date from the chart endpoint and the
// current shares outstanding from quoteSummary, returning close*shares as
// the market cap.
func (f *YahooFeed) FetchPricePoint(ctx context.Context, ticker, date string) (domain.PricePoint, bool, error) {
	closes, err := f.chartCloses(ctx, ticker, date, date)
	if err != nil {
		return domain.PricePoint{}, false, err
	}
	var closePrice float64
	found := false
	for _, dc := range closes {
		if dc.date == date {
			closePrice = dc.close
			found = true
			break
		}
	}
	if !found {
		return domain.PricePoint{}, false, nil
	}

	shares, ok, err := f.sharesOutstanding(ctx, ticker)
	if err != nil || !ok {
		return domain.PricePoint{}, false, err
	}
	return domain.PricePoint{
		Date:      date,
		Ticker:    ticker,
		Close:     closePrice,
		MarketCap: closePrice * shares,
	}, true, nil
}

// FetchPriceRange fetches the ticker's closes for [start, end] in one chart
// call. Market caps use the current shares outstanding across the whole
// range; the feed exposes no historical share counts.
func (f *YahooFeed) FetchPriceRange(ctx context.Context, ticker, start, end string) ([]domain.PricePoint, error) {
	closes, err := f.chartCloses(ctx, ticker, start, end)
	if err != nil || len(closes) == 0 {
		return nil, err
	}

	shares, ok, err := f.sharesOutstanding(ctx, ticker)
	if err != nil || !ok {
		return nil, err
	}
	points := make([]domain.PricePoint, 0, len(closes))
	for _, dc := range closes {
		points = append(points, domain.PricePoint{
			Date:      dc.date,
			Ticker:    ticker,
			Close:     dc.close,
			MarketCap: dc.close * shares,
		})
	}
	return points, nil
}

// FetchBenchmarkPoint returns the benchmark symbol's close for date.
func (f *YahooFeed) FetchBenchmarkPoint(ctx context.Context, date string) (domain.BenchmarkPoint, bool, error) {
	closes, err := f.chartCloses(ctx, f.benchmark, date, date)
	if err != nil {
		return domain.BenchmarkPoint{}, false, err
	}
	for _, dc := range closes {
		if dc.date == date {
			return domain.BenchmarkPoint{Date: date, Close: dc.close}, true, nil
		}
	}
	return domain.BenchmarkPoint{}, false, nil
}

// FetchBenchmarkRange returns the benchmark symbol's closes for [start, end].
func (f *YahooFeed) FetchBenchmarkRange(ctx context.Context, start, end string) ([]domain.BenchmarkPoint, error) {
	closes, err := f.chartCloses(ctx, f.benchmark, start, end)
	if err != nil {
		return nil, err
	}
	points := make([]domain.BenchmarkPoint, 0, len(closes))
	for _, dc := range closes {
		points = append(points, domain.BenchmarkPoint{Date: dc.date, Close: dc.close})
	}
	return points, nil
}

// ---------------------------------------------------------------------------
// Endpoint helpers
// ---------------------------------------------------------------------------

type dateClose struct {
	date  string
	close float64
}

// chartCloses fetches daily closes for [start, end]. Null and non-positive
// closes are dropped. A 404 or an empty result set means the feed has no
// data for the symbol and is reported as an empty slice, not an error.
func (f *YahooFeed) chartCloses(ctx context.Context, symbol, start, end string) ([]dateClose, error) {
	startT, err := domain.ParseDate(start)
	if err != nil {
		return nil, err
	}
	endT, err := domain.ParseDate(end)
	if err != nil {
		return nil, err
	}

	reqURL := fmt.Sprintf("%s/v8/finance/chart/%s?period1=%d&period2=%d&interval=1d",
		f.baseURL, url.PathEscape(symbol), startT.Unix(), endT.AddDate(0, 0, 1).Unix())

	var resp chartResponse
	if err := f.getJSON(ctx, reqURL, &resp); err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("chart %s: %w", symbol, err)
	}
	if resp.Chart.Error != nil {
		f.log.Debug("chart API error", "symbol", symbol,
			"code", resp.Chart.Error.Code, "description", resp.Chart.Error.Description)
		return nil, nil
	}
	if len(resp.Chart.Result) == 0 || len(resp.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, nil
	}

	result := resp.Chart.Result[0]
	quote := result.Indicators.Quote[0]
	out := make([]dateClose, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(quote.Close) || quote.Close[i] == nil {
			continue
		}
		c := *quote.Close[i]
		if c <= 0 || math.IsNaN(c) {
			continue
		}
		out = append(out, dateClose{
			date:  time.Unix(ts, 0).UTC().Format(domain.DateLayout),
			close: c,
		})
	}
	return out, nil
}

// sharesOutstanding fetches the symbol's current shares outstanding from the
// quoteSummary endpoint. ok is false when the field is missing or
// non-positive.
func (f *YahooFeed) sharesOutstanding(ctx context.Context, symbol string) (float64, bool, error) {
	reqURL := fmt.Sprintf("%s/v10/finance/quoteSummary/%s?modules=defaultKeyStatistics",
		f.baseURL, url.PathEscape(symbol))

	var resp quoteSummaryResponse
	if err := f.getJSON(ctx, reqURL, &resp); err != nil {
		if notFound(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("quoteSummary %s: %w", symbol, err)
	}
	if resp.QuoteSummary.Error != nil || len(resp.QuoteSummary.Result) == 0 {
		return 0, false, nil
	}

	shares := resp.QuoteSummary.Result[0].DefaultKeyStatistics.SharesOutstanding.Raw
	if shares <= 0 || math.IsNaN(shares) {
		return 0, false, nil
	}
	return shares, true, nil
}

// getJSON performs a rate-limited GET with retries and decodes the JSON body
// into out. 429 and 5xx responses are retried with exponential backoff;
// other failures abort immediately.
func (f *YahooFeed) getJSON(ctx context.Context, reqURL string, out any) error {
	return util.Retry(ctx, f.maxAttempts, f.retryDelay, func() error {
		if err := f.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return util.Permanent(fmt.Errorf("creating request: %w", err))
		}
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Accept", "application/json")

		resp, err := f.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return util.Permanent(err)
			}
			return err // network errors are transient
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			ferr := &FeedError{
				StatusCode: resp.StatusCode,
				Status:     resp.Status,
				Body:       string(body),
			}
			if !ferr.retryable() {
				return util.Permanent(ferr)
			}
			return ferr
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading response: %w", err)
		}
		if err := json.Unmarshal(data, out); err != nil {
			return util.Permanent(fmt.Errorf("parsing response: %w", err))
		}
		return nil
	})
}

// notFound reports whether err is a feed 404.
func notFound(err error) bool {
	var ferr *FeedError
	return errors.As(err, &ferr) && ferr.StatusCode == http.StatusNotFound
}
