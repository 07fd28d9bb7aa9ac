package gather

import (
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"

	"eqx/internal/domain"
)

// LatestFinishedTradingDay returns the most recent trading day whose market
// session has ended (after 20:05 ET, when extended-hours data has settled),
// using the Alpaca trading calendar API.
func LatestFinishedTradingDay(apiKey, apiSecret, baseURL string) (string, error) {
	client := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	})

	et, err := time.LoadLocation("America/New_York")
	if err != nil {
		return "", fmt.Errorf("loading ET timezone: %w", err)
	}

	now := time.Now().In(et)
	start := now.AddDate(0, 0, -7)

	calendar, err := client.GetCalendar(alpaca.GetCalendarRequest{
		Start: start,
		End:   now,
	})
	if err != nil {
		return "", fmt.Errorf("GetCalendar: %w", err)
	}
	if len(calendar) == 0 {
		return "", fmt.Errorf("no trading days returned from calendar")
	}

	today := now.Format(domain.DateLayout)
	cutoff := time.Date(now.Year(), now.Month(), now.Day(), 20, 5, 0, 0, et)

	for i := len(calendar) - 1; i >= 0; i-- {
		day := calendar[i]
		if day.Date == today {
			if now.After(cutoff) {
				return day.Date, nil
			}
			continue
		}
		dayDate, err := time.Parse(domain.DateLayout, day.Date)
		if err != nil {
			continue
		}
		if dayDate.Before(now) {
			return day.Date, nil
		}
	}

	return "", fmt.Errorf("could not determine latest finished trading day")
}

// TradingDays returns the trading dates in [start, end] ascending, from the
// Alpaca trading calendar API.
func TradingDays(apiKey, apiSecret, baseURL, start, end string) ([]string, error) {
	startT, err := domain.ParseDate(start)
	if err != nil {
		return nil, err
	}
	endT, err := domain.ParseDate(end)
	if err != nil {
		return nil, err
	}

	client := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	})
	calendar, err := client.GetCalendar(alpaca.GetCalendarRequest{
		Start: startT,
		End:   endT,
	})
	if err != nil {
		return nil, fmt.Errorf("GetCalendar: %w", err)
	}

	days := make([]string, 0, len(calendar))
	for _, day := range calendar {
		days = append(days, day.Date)
	}
	return days, nil
}
