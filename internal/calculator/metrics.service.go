package calculator

import (
	"fmt"
	"math"
	"time"

	"factorlab/internal/domain"

	"github.com/montanaflynn/stats"
)

const tradingDaysPerYear = 252

type SummaryStatistics struct {
	StartDate        time.Time `json:"startDate"`
	EndDate          time.Time `json:"endDate"`
	InitialValue     float64   `json:"initialValue"`
	FinalValue       float64   `json:"finalValue"`
	TotalReturn      float64   `json:"totalReturn"`
	AnnualizedReturn float64   `json:"annualizedReturn"`
	MaxDrawdown      float64   `json:"maxDrawdown"`
	SharpeRatio      float64   `json:"sharpeRatio"`
}

// EnrichNavSeries fills the derived columns (daily return, running
// maximum, drawdown) in place and returns the same slice. Records must
// already be in trading-day order; the simulator guarantees that.
func EnrichNavSeries(nav []domain.NavRecord) []domain.NavRecord {
	runningMax := 0.0
	for i := range nav {
		value := nav[i].Value.InexactFloat64()
		if i == 0 {
			nav[i].DailyReturn = 0
		} else {
			prev := nav[i-1].Value.InexactFloat64()
			nav[i].DailyReturn = value/prev - 1
		}
		if value > runningMax {
			runningMax = value
		}
		nav[i].RunningMax = runningMax
		nav[i].Drawdown = value/runningMax - 1
	}
	return nav
}

// CalculateMetrics reduces an enriched NAV series to its summary
// statistics. Sharpe is defined as 0 when daily returns have no
// variance.
func CalculateMetrics(nav []domain.NavRecord) (*SummaryStatistics, error) {
	if len(nav) < 2 {
		return nil, fmt.Errorf("cannot calculate metrics on < 2 nav records")
	}

	initial := nav[0].Value.InexactFloat64()
	final := nav[len(nav)-1].Value.InexactFloat64()
	if initial <= 0 {
		return nil, fmt.Errorf("cannot calculate metrics with non-positive initial value %f", initial)
	}

	calendarDays := nav[len(nav)-1].Date.Sub(nav[0].Date).Hours() / 24
	if calendarDays <= 0 {
		return nil, fmt.Errorf("nav series spans no time")
	}
	annualized := math.Pow(final/initial, 365/calendarDays) - 1

	maxDrawdown := 0.0
	for _, record := range nav {
		if record.Drawdown < maxDrawdown {
			maxDrawdown = record.Drawdown
		}
	}

	returns := DailyReturns(nav)
	mean, err := stats.Mean(returns)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate mean return: %w", err)
	}
	stdev, err := stats.StandardDeviationSample(returns)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate stdev of returns: %w", err)
	}
	sharpe := 0.0
	if stdev > 0 {
		sharpe = mean / stdev * math.Sqrt(tradingDaysPerYear)
	}

	return &SummaryStatistics{
		StartDate:        nav[0].Date,
		EndDate:          nav[len(nav)-1].Date,
		InitialValue:     initial,
		FinalValue:       final,
		TotalReturn:      final/initial - 1,
		AnnualizedReturn: annualized,
		MaxDrawdown:      maxDrawdown,
		SharpeRatio:      sharpe,
	}, nil
}

// DailyReturns skips the first record, which has no prior day.
func DailyReturns(nav []domain.NavRecord) []float64 {
	if len(nav) == 0 {
		return nil
	}
	returns := make([]float64, 0, len(nav)-1)
	for i := 1; i < len(nav); i++ {
		returns = append(returns, nav[i].DailyReturn)
	}
	return returns
}

// MonthlyReturnMatrix buckets the NAV series into a year × month grid
// of returns, for heatmap-style reporting. Each month's return is the
// change from the prior month's closing value; the first month is
// measured from the series' first value.
func MonthlyReturnMatrix(nav []domain.NavRecord) map[int]map[time.Month]float64 {
	out := map[int]map[time.Month]float64{}
	if len(nav) == 0 {
		return out
	}

	base := nav[0].Value.InexactFloat64()
	currentYear, currentMonth := nav[0].Date.Year(), nav[0].Date.Month()
	last := base

	record := func(year int, month time.Month, closing float64) {
		if _, ok := out[year]; !ok {
			out[year] = map[time.Month]float64{}
		}
		out[year][month] = closing/base - 1
	}

	for _, r := range nav {
		year, month := r.Date.Year(), r.Date.Month()
		if year != currentYear || month != currentMonth {
			record(currentYear, currentMonth, last)
			base = last
			currentYear, currentMonth = year, month
		}
		last = r.Value.InexactFloat64()
	}
	record(currentYear, currentMonth, last)

	return out
}

type DistributionBucket struct {
	Low   float64 `json:"low"`
	High  float64 `json:"high"`
	Count int     `json:"count"`
}

// DailyReturnDistribution histograms the daily return series into
// equal-width buckets over the observed range.
func DailyReturnDistribution(nav []domain.NavRecord, numBuckets int) []DistributionBucket {
	returns := DailyReturns(nav)
	if len(returns) == 0 || numBuckets <= 0 {
		return nil
	}

	low, high := returns[0], returns[0]
	for _, r := range returns {
		if r < low {
			low = r
		}
		if r > high {
			high = r
		}
	}
	if high == low {
		return []DistributionBucket{{Low: low, High: high, Count: len(returns)}}
	}

	width := (high - low) / float64(numBuckets)
	buckets := make([]DistributionBucket, numBuckets)
	for i := range buckets {
		buckets[i].Low = low + float64(i)*width
		buckets[i].High = buckets[i].Low + width
	}
	for _, r := range returns {
		idx := int((r - low) / width)
		if idx >= numBuckets {
			idx = numBuckets - 1
		}
		buckets[idx].Count++
	}
	return buckets
}
