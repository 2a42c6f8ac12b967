package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"factorlab/internal/calculator"
	"factorlab/internal/data"
	"factorlab/internal/domain"
	"factorlab/internal/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type BacktestHandler struct {
	Data          data.Service
	FactorService calculator.FactorService
	Strategy      ScoreStrategy
	Scheduler     Scheduler
}

type BacktestInput struct {
	Start               time.Time
	End                 time.Time
	InitialCapital      decimal.Decimal
	TopN                int
	TransactionCostRate decimal.Decimal
	ForwardReturnDays   int
	MinTrainingRows     int
}

// distributionBuckets is the bucket count for the daily-return
// histogram attached to results.
const distributionBuckets = 20

type BacktestResult struct {
	RunID      uuid.UUID                     `json:"runId"`
	Nav        []domain.NavRecord            `json:"nav"`
	Rebalances []domain.RebalanceRecord      `json:"rebalances"`
	Summary    *calculator.SummaryStatistics `json:"summary,omitempty"`

	// derived read-only views for reporting
	MonthlyReturns     map[int]map[time.Month]float64  `json:"monthlyReturns,omitempty"`
	ReturnDistribution []calculator.DistributionBucket `json:"returnDistribution,omitempty"`
}

// Run executes the walk-forward simulation day by day, strictly in
// calendar order: mark to market, maybe retrain, maybe rebalance,
// record NAV. On failure the partially accumulated NAV series is
// returned alongside an error naming the day and stage.
func (h BacktestHandler) Run(ctx context.Context, in BacktestInput) (*BacktestResult, error) {
	log := logger.FromContext(ctx)

	if in.TopN <= 0 {
		return nil, fmt.Errorf("cannot backtest with topN %d", in.TopN)
	}
	if !in.InitialCapital.IsPositive() {
		return nil, fmt.Errorf("cannot backtest with non-positive initial capital")
	}

	days, err := h.Data.Calendar().Days(in.Start, in.End)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve backtest range: %w", err)
	}

	factors, err := h.FactorService.ComputeUniverse(ctx, days)
	if err != nil {
		return nil, fmt.Errorf("failed to compute factors: %w", err)
	}

	trained, isTrained := h.Strategy.(*TrainedStrategy)
	var labels calculator.UniverseLabels
	if isTrained {
		labels, err = h.FactorService.ComputeLabels(in.ForwardReturnDays)
		if err != nil {
			return nil, fmt.Errorf("failed to compute training labels: %w", err)
		}
	}

	factorNames := h.FactorService.FactorNames()
	normalizedCache := map[string]map[string]domain.FactorVector{}
	normalizedOn := func(day time.Time) map[string]domain.FactorVector {
		key := day.Format(time.DateOnly)
		if cached, ok := normalizedCache[key]; ok {
			return cached
		}
		normalized := calculator.NormalizeCrossSection(factors[key], factorNames)
		normalizedCache[key] = normalized
		return normalized
	}

	result := &BacktestResult{
		RunID: uuid.New(),
	}
	portfolio := domain.NewPortfolio(in.InitialCapital)

	log.Infow("starting backtest",
		"runId", result.RunID,
		"start", in.Start.Format(time.DateOnly),
		"end", in.End.Format(time.DateOnly),
		"days", len(days),
		"topN", in.TopN,
	)

	for i, day := range days {
		if isTrained && h.Scheduler.ShouldRetrain(i) {
			if err := h.retrain(ctx, trained, days, i, normalizedOn, labels, factorNames, in.MinTrainingRows); err != nil {
				return result, fmt.Errorf("backtest failed on %s during training: %w", day.Format(time.DateOnly), err)
			}
		}

		value, err := h.markToMarket(ctx, portfolio, day)
		if err != nil {
			return result, fmt.Errorf("backtest failed on %s during valuation: %w", day.Format(time.DateOnly), err)
		}

		if h.Scheduler.ShouldRebalance(i) {
			value, err = h.rebalance(ctx, portfolio, day, value, normalizedOn(day), in, result)
			if err != nil {
				return result, fmt.Errorf("backtest failed on %s during rebalancing: %w", day.Format(time.DateOnly), err)
			}
		}

		result.Nav = append(result.Nav, domain.NavRecord{
			Date:  day,
			Value: value,
		})
	}

	result.Nav = calculator.EnrichNavSeries(result.Nav)
	if len(result.Nav) >= 2 {
		summary, err := calculator.CalculateMetrics(result.Nav)
		if err != nil {
			return result, fmt.Errorf("failed to calculate metrics: %w", err)
		}
		result.Summary = summary
		result.MonthlyReturns = calculator.MonthlyReturnMatrix(result.Nav)
		result.ReturnDistribution = calculator.DailyReturnDistribution(result.Nav, distributionBuckets)
	}

	log.Infow("backtest complete",
		"runId", result.RunID,
		"navRecords", len(result.Nav),
		"rebalances", len(result.Rebalances),
	)
	return result, nil
}

// markToMarket values the portfolio at day close. Held instruments
// with no quote (suspended or delisted) are dropped and contribute
// nothing; no sale proceeds are credited.
func (h BacktestHandler) markToMarket(ctx context.Context, portfolio *domain.Portfolio, day time.Time) (decimal.Decimal, error) {
	log := logger.FromContext(ctx)

	value := portfolio.Cash
	for symbol, position := range portfolio.Positions {
		price, err := h.Data.Price(symbol, day)
		var gap data.DataGapError
		if errors.As(err, &gap) {
			log.Warnw("dropping unquoted position",
				"symbol", symbol,
				"date", day.Format(time.DateOnly),
			)
			delete(portfolio.Positions, symbol)
			continue
		} else if err != nil {
			return decimal.Zero, fmt.Errorf("failed to price %s: %w", symbol, err)
		}
		value = value.Add(position.Quantity.Mul(decimal.NewFromFloat(price)))
	}
	return value, nil
}

func (h BacktestHandler) retrain(
	ctx context.Context,
	trained *TrainedStrategy,
	days []time.Time,
	dayIndex int,
	normalizedOn func(time.Time) map[string]domain.FactorVector,
	labels calculator.UniverseLabels,
	factorNames []string,
	minRows int,
) error {
	log := logger.FromContext(ctx)

	trainStart, trainEnd, err := h.Scheduler.TrainWindow(days, dayIndex)
	if err != nil {
		return err
	}

	rows := []TrainingRow{}
	for j := dayIndex - h.Scheduler.TrainWindowDays; j < dayIndex; j++ {
		day := days[j]
		dayLabels := labels.On(day)
		for symbol, vector := range normalizedOn(day) {
			label, ok := dayLabels[symbol]
			if !ok {
				continue
			}
			features, ok := FeatureRow(vector, factorNames)
			if !ok {
				continue
			}
			rows = append(rows, TrainingRow{
				Symbol:   symbol,
				Date:     day,
				Features: features,
				Label:    label,
			})
		}
	}

	if len(rows) < minRows {
		log.Warnw("skipping retrain: not enough training rows",
			"date", days[dayIndex].Format(time.DateOnly),
			"rows", len(rows),
			"minRows", minRows,
		)
		return nil
	}

	if err := trained.Retrain(trainStart, trainEnd, rows); err != nil {
		return err
	}
	log.Infow("retrained model",
		"trainStart", trainStart.Format(time.DateOnly),
		"trainEnd", trainEnd.Format(time.DateOnly),
		"rows", len(rows),
	)
	return nil
}

// rebalance liquidates the current holdings and equal-weights the
// top-N scored instruments, sizing integer share counts from available
// capital only. Un-invested remainder stays in cash, so capital can
// never go negative.
func (h BacktestHandler) rebalance(
	ctx context.Context,
	portfolio *domain.Portfolio,
	day time.Time,
	value decimal.Decimal,
	normalized map[string]domain.FactorVector,
	in BacktestInput,
	result *BacktestResult,
) (decimal.Decimal, error) {
	log := logger.FromContext(ctx)

	factorNames := h.FactorService.FactorNames()
	universe := map[string]domain.FactorVector{}
	for symbol, vector := range normalized {
		if vector.Complete(factorNames) {
			universe[symbol] = vector
		}
	}

	scores := h.Strategy.Scores(day, universe)
	selected, err := SelectTopN(day, scores, in.TopN)
	var short InsufficientUniverseError
	if errors.As(err, &short) {
		log.Warnw("skipping rebalance: universe too small",
			"date", day.Format(time.DateOnly),
			"valid", short.Valid,
			"topN", short.TopN,
		)
		result.Rebalances = append(result.Rebalances, domain.RebalanceRecord{
			Date:    day,
			Skipped: true,
			Reason:  short.Error(),
		})
		return value, nil
	} else if err != nil {
		return decimal.Zero, fmt.Errorf("failed to select instruments: %w", err)
	}

	// sell everything at today's close; the sell fee comes off capital
	soldNotional := value.Sub(portfolio.Cash)
	capital := value.Sub(in.TransactionCostRate.Mul(soldNotional))
	portfolio.Positions = map[string]*domain.Position{}

	// reserve the buy fee up front so sizing can never overdraw cash
	investable := capital.Div(decimal.NewFromInt(1).Add(in.TransactionCostRate))
	perStock := investable.Div(decimal.NewFromInt(int64(in.TopN)))

	boughtNotional := decimal.Zero
	holdings := []domain.TargetHolding{}
	weight := 1 / float64(in.TopN)
	for _, pick := range selected {
		price, err := h.Data.Price(pick.Symbol, day)
		if err != nil {
			return decimal.Zero, fmt.Errorf("failed to price %s: %w", pick.Symbol, err)
		}
		priceDec := decimal.NewFromFloat(price)
		shares := perStock.Div(priceDec).Floor()
		if !shares.IsPositive() {
			continue
		}
		portfolio.Positions[pick.Symbol] = &domain.Position{
			Symbol:   pick.Symbol,
			Quantity: shares,
		}
		boughtNotional = boughtNotional.Add(shares.Mul(priceDec))
		holdings = append(holdings, domain.TargetHolding{
			Symbol: pick.Symbol,
			Score:  pick.Score,
			Weight: weight,
		})
	}

	portfolio.Cash = capital.Sub(boughtNotional).Sub(in.TransactionCostRate.Mul(boughtNotional))
	portfolio.LastRebalance = day

	result.Rebalances = append(result.Rebalances, domain.RebalanceRecord{
		Date:     day,
		Holdings: holdings,
	})
	log.Debugw("rebalanced",
		"date", day.Format(time.DateOnly),
		"positions", len(portfolio.Positions),
	)

	return portfolio.Cash.Add(boughtNotional), nil
}
