package service

import (
	"fmt"
	"sort"
	"time"
)

// Scheduler decides, from the day index alone, when the model retrains
// and when the portfolio rebalances. Both triggers are gated on a full
// training window existing strictly behind the current day.
type Scheduler struct {
	TrainWindowDays    int
	RetrainEveryDays   int
	RebalanceEveryDays int
}

func (s Scheduler) ShouldRetrain(dayIndex int) bool {
	return dayIndex%s.RetrainEveryDays == 0 && dayIndex >= s.TrainWindowDays
}

func (s Scheduler) ShouldRebalance(dayIndex int) bool {
	return dayIndex%s.RebalanceEveryDays == 0 && dayIndex >= s.TrainWindowDays
}

// TrainWindow returns the closed trading-day range
// [dayIndex-TrainWindowDays, dayIndex-1] within the simulated day
// slice: the window always excludes the current day, so trained models
// never see the day they first predict.
func (s Scheduler) TrainWindow(days []time.Time, dayIndex int) (time.Time, time.Time, error) {
	if dayIndex < s.TrainWindowDays {
		return time.Time{}, time.Time{}, fmt.Errorf("day index %d has no full %d-day training window", dayIndex, s.TrainWindowDays)
	}
	if dayIndex >= len(days) {
		return time.Time{}, time.Time{}, fmt.Errorf("day index %d out of range [0, %d)", dayIndex, len(days))
	}
	return days[dayIndex-s.TrainWindowDays], days[dayIndex-1], nil
}

// InsufficientUniverseError marks a rebalance day on which fewer than
// topN instruments had valid scores. The rebalance is skipped and the
// prior holdings retained; it is never fatal.
type InsufficientUniverseError struct {
	Date  time.Time
	Valid int
	TopN  int
}

func (e InsufficientUniverseError) Error() string {
	return fmt.Sprintf("only %d scored instruments on %s, need %d", e.Valid, e.Date.Format(time.DateOnly), e.TopN)
}

type ScoredSymbol struct {
	Symbol string
	Score  float64
}

// SelectTopN picks the n best-scored symbols. Ties break on score
// descending then symbol ascending, so repeated runs over identical
// input select identically.
func SelectTopN(date time.Time, scores map[string]*float64, n int) ([]ScoredSymbol, error) {
	pairs := []ScoredSymbol{}
	for symbol, score := range scores {
		if score != nil {
			pairs = append(pairs, ScoredSymbol{Symbol: symbol, Score: *score})
		}
	}
	if len(pairs) < n {
		return nil, InsufficientUniverseError{Date: date, Valid: len(pairs), TopN: n}
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Score != pairs[j].Score {
			return pairs[i].Score > pairs[j].Score
		}
		return pairs[i].Symbol < pairs[j].Symbol
	})

	return pairs[:n], nil
}
