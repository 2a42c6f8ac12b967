package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// NavRecord is one row of the simulation's canonical output: the
// portfolio value on one trading day plus derived series filled in by
// the performance analyzer. Exactly one record exists per simulated
// trading day, in order.
type NavRecord struct {
	Date  time.Time       `csv:"date" json:"date"`
	Value decimal.Decimal `csv:"value" json:"value"`

	// Derived by calculator.EnrichNavSeries.
	DailyReturn float64 `csv:"daily_return" json:"dailyReturn"`
	RunningMax  float64 `csv:"running_max" json:"runningMax"`
	Drawdown    float64 `csv:"drawdown" json:"drawdown"`
}

// TargetHolding is one row of a rebalance-day export: the raw model
// score for a selected instrument and the equal target weight assigned
// to it. Downstream consumers decide how to use the score; the file
// always carries both.
type TargetHolding struct {
	Symbol string  `csv:"symbol" json:"symbol"`
	Score  float64 `csv:"score" json:"score"`
	Weight float64 `csv:"weight" json:"weight"`
}

// RebalanceRecord captures what the simulator did on one rebalance day.
type RebalanceRecord struct {
	Date     time.Time       `json:"date"`
	Holdings []TargetHolding `json:"holdings"`
	Skipped  bool            `json:"skipped"`
	Reason   string          `json:"reason,omitempty"`
}
