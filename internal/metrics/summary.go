package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"eqx/internal/domain"
	"eqx/internal/store"
)

// tradingDaysPerYear annualizes daily return and volatility figures.
const tradingDaysPerYear = 252

// summaryStore is the slice of the analytical store the summary calculator
// needs: daily metric rows in, one summary row out.
type summaryStore interface {
	store.MetricStore
	store.SummaryStore
}

// SummaryCalculator aggregates a trailing window of daily metric rows into a
// single summary row keyed by (end date, window length).
type SummaryCalculator struct {
	store summaryStore
	log   *slog.Logger
}

func NewSummaryCalculator(s summaryStore) *SummaryCalculator {
	return &SummaryCalculator{
		store: s,
		log:   slog.Default().With("component", "summary"),
	}
}

// Compute aggregates the daily metric rows dated within windowDays calendar
// days of endDate, inclusive on both ends, and upserts one summary row. A
// window holding fewer than two observations still produces a row, with
// every value field null, so a stored row always records that the
// computation ran for that (date, window) pair.
func (c *SummaryCalculator) Compute(ctx context.Context, endDate string, windowDays int) error {
	start, err := domain.AddDays(endDate, -windowDays)
	if err != nil {
		return err
	}

	rows, err := c.store.ReadDailyMetrics(ctx, start, endDate)
	if err != nil {
		return fmt.Errorf("reading daily metrics: %w", err)
	}

	summary := &domain.SummaryMetricRow{Date: endDate, WindowDays: windowDays}
	if len(rows) < 2 {
		c.log.Warn("insufficient daily metrics for summary, storing null row",
			"end", endDate, "window_days", windowDays, "rows", len(rows))
	} else {
		fillSummary(summary, rows)
	}

	if err := c.store.UpsertSummary(ctx, summary); err != nil {
		return fmt.Errorf("storing summary metrics: %w", err)
	}
	if len(rows) >= 2 {
		c.log.Info("summary metrics stored",
			"end", endDate, "window_days", windowDays, "rows", len(rows))
	}
	return nil
}

// fillSummary computes every aggregate over the window's rows, which arrive
// in date order. Undefined statistics follow fixed conventions: ratios with
// a degenerate denominator fall back to 0, higher moments on zero variance
// go null.
func fillSummary(s *domain.SummaryMetricRow, rows []domain.DailyMetricRow) {
	n := len(rows)
	returns := make([]float64, n)
	for i, r := range rows {
		returns[i] = r.DailyReturn
	}

	finalReturn := 1.0
	for _, r := range returns {
		finalReturn *= 1 + r
	}
	finalReturn--

	avgReturn := mean(returns)
	vol := sampleStd(returns)

	sharpe := 0.0
	if vol > 0 {
		sharpe = avgReturn / vol
	}

	var downside []float64
	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	sortino := 0.0
	if ds := sampleStd(downside); ds > 0 {
		sortino = avgReturn / ds
	}

	ddSq := make([]float64, n)
	maxDrawdown := rows[0].Drawdown
	for i, r := range rows {
		ddSq[i] = r.DrawdownPct * r.DrawdownPct
		if r.Drawdown < maxDrawdown {
			maxDrawdown = r.Drawdown
		}
	}
	ulcer := math.Sqrt(mean(ddSq))

	var upIdx, upBench, downIdx, downBench []float64
	for _, r := range rows {
		switch {
		case r.BenchmarkReturn > 0:
			upIdx = append(upIdx, r.DailyReturn)
			upBench = append(upBench, r.BenchmarkReturn)
		case r.BenchmarkReturn < 0:
			downIdx = append(downIdx, r.DailyReturn)
			downBench = append(downBench, r.BenchmarkReturn)
		}
	}
	upCapture := 0.0
	if len(upIdx) > 0 {
		upCapture = mean(upIdx) / mean(upBench)
	}
	downCapture := 0.0
	if len(downIdx) > 0 {
		downCapture = mean(downIdx) / mean(downBench)
	}

	wins := 0
	for _, r := range returns {
		if r > 0 {
			wins++
		}
	}

	turnoverSum, rebalances := 0, 0
	similaritySum := 0.0
	for _, r := range rows {
		turnoverSum += r.Turnover
		if r.Turnover > 0 {
			rebalances++
		}
		similaritySum += r.ExposureSimilarity
	}

	// First occurrence wins on ties.
	bestIdx, worstIdx := 0, 0
	for i, r := range returns {
		if r > returns[bestIdx] {
			bestIdx = i
		}
		if r < returns[worstIdx] {
			worstIdx = i
		}
	}
	best, worst := rows[bestIdx].Date, rows[worstIdx].Date

	gain := maxStreak(returns, true)
	loss := maxStreak(returns, false)

	s.BestDay = &best
	s.WorstDay = &worst
	s.MaxDrawdown = fptr(maxDrawdown)
	s.FinalReturn = fptr(finalReturn)
	s.AvgDailyReturn = fptr(avgReturn)
	s.Volatility = fptr(vol)
	s.SharpeRatio = fptr(sharpe)
	s.SortinoRatio = fptr(sortino)
	s.UlcerIndex = fptr(ulcer)
	s.AnnualizedReturn = fptr(math.Pow(1+finalReturn, tradingDaysPerYear/float64(n)) - 1)
	s.AnnualizedVolatility = fptr(vol * math.Sqrt(tradingDaysPerYear))
	s.UpCapture = fptr(upCapture)
	s.DownCapture = fptr(downCapture)
	s.WinRatio = fptr(float64(wins) / float64(n))
	s.AvgTurnover = fptr(float64(turnoverSum) / float64(n))
	s.TotalRebalances = &rebalances
	s.AvgExposureSimilarity = fptr(similaritySum / float64(n))
	s.VaR95 = fptr(quantile(returns, 0.05))
	s.VaR99 = fptr(quantile(returns, 0.01))
	s.ReturnSkewness = fptr(skewness(returns))
	s.ReturnKurtosis = fptr(kurtosis(returns))
	s.MaxGainStreak = &gain
	s.MaxLossStreak = &loss
}
