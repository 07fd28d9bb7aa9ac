package gather

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
)

// WriteFailureReport writes the failed-ticker list for date as a one-column
// CSV under dir and returns the file path. The file is overwritten on each
// run for the same date.
func WriteFailureReport(dir, date string, tickers []string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating reports dir: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("failed_tickers_%s.csv", date))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating failure report: %w", err)
	}

	w := csv.NewWriter(f)
	w.Write([]string{"failed_ticker"})
	for _, t := range tickers {
		w.Write([]string{t})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return "", fmt.Errorf("writing failure report: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing failure report: %w", err)
	}
	return path, nil
}
