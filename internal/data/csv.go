package data

import (
	"fmt"
	"os"
	"time"

	"factorlab/internal/domain"

	"github.com/gocarina/gocsv"
)

type priceRow struct {
	Symbol string  `csv:"symbol"`
	Date   string  `csv:"date"`
	Close  float64 `csv:"close"`
	Volume float64 `csv:"volume"`
}

type calendarRow struct {
	Date string `csv:"date"`
}

// LoadCSV reads the full price history from pricesPath and, when
// calendarPath is non-empty, the trading calendar from its own file.
// Rows must be grouped by symbol and ordered by date, which is how the
// vendor dumps arrive.
func LoadCSV(pricesPath, calendarPath string) (Service, error) {
	f, err := os.Open(pricesPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open prices file: %w", err)
	}
	defer f.Close()

	rows := []*priceRow{}
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse prices file: %w", err)
	}

	bars := make([]domain.Bar, 0, len(rows))
	for _, row := range rows {
		date, err := time.Parse(time.DateOnly, row.Date)
		if err != nil {
			return nil, fmt.Errorf("failed to parse bar date %q: %w", row.Date, err)
		}
		bars = append(bars, domain.Bar{
			Symbol: row.Symbol,
			Date:   date,
			Close:  row.Close,
			Volume: row.Volume,
		})
	}

	var calendar *domain.TradingCalendar
	if calendarPath != "" {
		calendar, err = loadCalendarCSV(calendarPath)
		if err != nil {
			return nil, err
		}
	}

	return NewDataset(bars, calendar)
}

func loadCalendarCSV(path string) (*domain.TradingCalendar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open calendar file: %w", err)
	}
	defer f.Close()

	rows := []*calendarRow{}
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse calendar file: %w", err)
	}

	days := make([]time.Time, 0, len(rows))
	for _, row := range rows {
		date, err := time.Parse(time.DateOnly, row.Date)
		if err != nil {
			return nil, fmt.Errorf("failed to parse calendar date %q: %w", row.Date, err)
		}
		days = append(days, date)
	}

	return domain.NewTradingCalendar(days)
}
