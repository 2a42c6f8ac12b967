package data

import (
	"fmt"
	"sort"
	"time"

	"factorlab/internal/domain"
)

// DataGapError marks a price lookup for a day on which the instrument
// has no bar (suspended or delisted). Callers recover by excluding the
// instrument from that day's universe; it is never fatal.
type DataGapError struct {
	Symbol string
	Date   time.Time
}

func (e DataGapError) Error() string {
	return fmt.Sprintf("no quote for %s on %s", e.Symbol, e.Date.Format(time.DateOnly))
}

// Service is the read-only dataset contract the simulation consumes.
// Implementations load once up front; the simulation receives the
// loaded dataset by reference and never mutates it.
type Service interface {
	Symbols() []string
	History(symbol string) ([]domain.Bar, error)
	Price(symbol string, date time.Time) (float64, error)
	Volume(symbol string, date time.Time) (float64, error)
	Calendar() *domain.TradingCalendar
}

type inMemoryDataset struct {
	symbols  []string
	bars     map[string][]domain.Bar
	prices   map[string]map[string]float64
	volumes  map[string]map[string]float64
	calendar *domain.TradingCalendar
}

// NewDataset builds the in-memory dataset from bars. The calendar may
// be nil, in which case it is derived from the union of bar dates.
// Bars per symbol must arrive strictly ordered with no duplicate days.
func NewDataset(bars []domain.Bar, calendar *domain.TradingCalendar) (Service, error) {
	d := &inMemoryDataset{
		bars:    map[string][]domain.Bar{},
		prices:  map[string]map[string]float64{},
		volumes: map[string]map[string]float64{},
	}

	for _, bar := range bars {
		if bar.Close <= 0 {
			return nil, fmt.Errorf("non-positive close %f for %s on %s", bar.Close, bar.Symbol, bar.Date.Format(time.DateOnly))
		}
		if bar.Volume < 0 {
			return nil, fmt.Errorf("negative volume %f for %s on %s", bar.Volume, bar.Symbol, bar.Date.Format(time.DateOnly))
		}
		history := d.bars[bar.Symbol]
		if len(history) > 0 && !history[len(history)-1].Date.Before(bar.Date) {
			return nil, fmt.Errorf("bars for %s out of order at %s", bar.Symbol, bar.Date.Format(time.DateOnly))
		}
		d.bars[bar.Symbol] = append(history, bar)

		key := bar.Date.Format(time.DateOnly)
		if _, ok := d.prices[bar.Symbol]; !ok {
			d.prices[bar.Symbol] = map[string]float64{}
			d.volumes[bar.Symbol] = map[string]float64{}
		}
		d.prices[bar.Symbol][key] = bar.Close
		d.volumes[bar.Symbol][key] = bar.Volume
	}

	for symbol := range d.bars {
		d.symbols = append(d.symbols, symbol)
	}
	sort.Strings(d.symbols)

	if calendar == nil {
		derived, err := deriveCalendar(bars)
		if err != nil {
			return nil, err
		}
		calendar = derived
	}
	d.calendar = calendar

	return d, nil
}

func deriveCalendar(bars []domain.Bar) (*domain.TradingCalendar, error) {
	seen := map[string]time.Time{}
	for _, bar := range bars {
		seen[bar.Date.Format(time.DateOnly)] = bar.Date
	}
	days := make([]time.Time, 0, len(seen))
	for _, d := range seen {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool {
		return days[i].Before(days[j])
	})
	return domain.NewTradingCalendar(days)
}

func (d *inMemoryDataset) Symbols() []string {
	out := make([]string, len(d.symbols))
	copy(out, d.symbols)
	return out
}

func (d *inMemoryDataset) History(symbol string) ([]domain.Bar, error) {
	bars, ok := d.bars[symbol]
	if !ok {
		return nil, fmt.Errorf("unknown symbol %s", symbol)
	}
	return bars, nil
}

// Price retrieves the close for an asset on the given day from the
// preloaded cache. A miss is a DataGapError, not a lookup failure.
func (d *inMemoryDataset) Price(symbol string, date time.Time) (float64, error) {
	if _, ok := d.prices[symbol]; ok {
		if price, ok := d.prices[symbol][date.Format(time.DateOnly)]; ok {
			return price, nil
		}
	}
	return 0, DataGapError{Symbol: symbol, Date: date}
}

func (d *inMemoryDataset) Volume(symbol string, date time.Time) (float64, error) {
	if _, ok := d.volumes[symbol]; ok {
		if volume, ok := d.volumes[symbol][date.Format(time.DateOnly)]; ok {
			return volume, nil
		}
	}
	return 0, DataGapError{Symbol: symbol, Date: date}
}

func (d *inMemoryDataset) Calendar() *domain.TradingCalendar {
	return d.calendar
}
