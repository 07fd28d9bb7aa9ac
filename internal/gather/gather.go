// Package gather resolves the eligible ticker universe and ingests
// per-ticker prices into the analytical store through a bounded worker pool.
// Fetching runs concurrently; every write lands in its own short-lived
// transaction so one bad ticker never poisons the rest of the run.
package gather

import (
	"fmt"
	"time"

	"eqx/internal/domain"
)

// DateRange is an inclusive range of YYYY-MM-DD calendar dates.
type DateRange struct {
	Start string
	End   string
}

// Weekdays expands the range into its Monday-Friday dates in ascending
// order. Market holidays are not filtered; ingestion simply finds no bars
// for them.
func (r DateRange) Weekdays() ([]string, error) {
	start, err := domain.ParseDate(r.Start)
	if err != nil {
		return nil, err
	}
	end, err := domain.ParseDate(r.End)
	if err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, fmt.Errorf("date range %s..%s: end before start", r.Start, r.End)
	}

	var dates []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		dates = append(dates, d.Format(domain.DateLayout))
	}
	return dates, nil
}
