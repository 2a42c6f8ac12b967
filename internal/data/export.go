package data

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"factorlab/internal/domain"

	"github.com/gocarina/gocsv"
)

// WriteNavCSV writes the canonical backtest artifact: one row per
// simulated trading day.
func WriteNavCSV(path string, nav []domain.NavRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create nav file: %w", err)
	}
	defer f.Close()

	if err := gocsv.MarshalFile(&nav, f); err != nil {
		return fmt.Errorf("failed to write nav file: %w", err)
	}
	return nil
}

// WriteTargetHoldingsCSV writes one file per rebalance day containing
// (symbol, score, weight) rows for the selected instruments.
func WriteTargetHoldingsCSV(dir string, date time.Time, holdings []domain.TargetHolding) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("holdings_%s.csv", date.Format(time.DateOnly)))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create holdings file: %w", err)
	}
	defer f.Close()

	if err := gocsv.MarshalFile(&holdings, f); err != nil {
		return fmt.Errorf("failed to write holdings file: %w", err)
	}
	return nil
}
