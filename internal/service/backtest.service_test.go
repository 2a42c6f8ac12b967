package service_test

import (
	"context"
	"testing"
	"time"

	"factorlab/internal/calculator"
	"factorlab/internal/config"
	"factorlab/internal/data"
	"factorlab/internal/domain"
	"factorlab/internal/service"
	mock_service "factorlab/internal/service/mocks"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// tinyWindows keeps every built-in factor computable from bar index 2
// onward, so short fixtures produce complete vectors quickly.
func tinyWindows() config.FactorConfig {
	return config.FactorConfig{
		MomentumWindow: 2,
		ReversalWindow: 1,
		TrendWindow:    2,
		VolumeWindow:   2,
	}
}

type fixture struct {
	closes map[string][]float64
	// gaps marks (symbol, bar index) pairs to drop, simulating
	// suspensions
	gaps map[string][]int
}

func buildDataset(t *testing.T, f fixture, start time.Time) data.Service {
	t.Helper()
	gapped := map[string]map[int]bool{}
	for symbol, indices := range f.gaps {
		gapped[symbol] = map[int]bool{}
		for _, i := range indices {
			gapped[symbol][i] = true
		}
	}

	bars := []domain.Bar{}
	days := []time.Time{}
	for symbol, series := range f.closes {
		for i, close := range series {
			if gapped[symbol][i] {
				continue
			}
			bars = append(bars, domain.Bar{
				Symbol: symbol,
				Date:   start.AddDate(0, 0, i),
				Close:  close,
				Volume: 100,
			})
		}
		if len(series) > len(days) {
			days = days[:0]
			for i := range series {
				days = append(days, start.AddDate(0, 0, i))
			}
		}
	}

	calendar, err := domain.NewTradingCalendar(days)
	require.NoError(t, err)
	ds, err := data.NewDataset(bars, calendar)
	require.NoError(t, err)
	return ds
}

func linearHandler(t *testing.T, ds data.Service, scheduler service.Scheduler) service.BacktestHandler {
	t.Helper()
	factorService := calculator.NewFactorService(ds, tinyWindows())
	strategy, err := service.NewLinearStrategy(factorService.FactorNames(), map[string]float64{
		calculator.FactorMomentum: 1,
	})
	require.NoError(t, err)
	return service.BacktestHandler{
		Data:          ds,
		FactorService: factorService,
		Strategy:      strategy,
		Scheduler:     scheduler,
	}
}

func flatSeries(n int, level float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = level
	}
	return out
}

func TestBacktest_FlatPricesConserveCapital(t *testing.T) {
	start := date(2024, 1, 2)
	ds := buildDataset(t, fixture{
		closes: map[string][]float64{
			"600000.SH": flatSeries(8, 10),
			"000001.SZ": flatSeries(8, 10),
			"600519.SH": flatSeries(8, 10),
			"000002.SZ": flatSeries(8, 10),
		},
	}, start)

	handler := linearHandler(t, ds, service.Scheduler{
		TrainWindowDays:    3,
		RetrainEveryDays:   1,
		RebalanceEveryDays: 1,
	})

	result, err := handler.Run(context.Background(), service.BacktestInput{
		Start:          start,
		End:            start.AddDate(0, 0, 7),
		InitialCapital: decimal.NewFromInt(1000),
		TopN:           2,
	})
	require.NoError(t, err)
	require.Len(t, result.Nav, 8)

	// with constant prices and no costs, every trade is a wash: the
	// portfolio stays at initial capital through every rebalance
	for _, record := range result.Nav {
		require.True(t, decimal.NewFromInt(1000).Equal(record.Value),
			"nav on %s was %s", record.Date.Format(time.DateOnly), record.Value)
	}

	require.NotNil(t, result.Summary)
	require.Equal(t, 0.0, result.Summary.TotalReturn)
	require.Equal(t, 0.0, result.Summary.MaxDrawdown)
	require.Equal(t, 0.0, result.Summary.SharpeRatio)

	require.InDelta(t, 0.0, result.MonthlyReturns[2024][time.January], 1e-9)
	require.NotEmpty(t, result.ReturnDistribution)
}

func TestBacktest_NoRebalanceBeforeTrainingWindow(t *testing.T) {
	start := date(2024, 1, 2)
	ds := buildDataset(t, fixture{
		closes: map[string][]float64{
			"600000.SH": {10, 12, 9, 14, 11, 16},
			"000001.SZ": {20, 18, 22, 17, 23, 19},
		},
	}, start)

	handler := linearHandler(t, ds, service.Scheduler{
		TrainWindowDays:    100,
		RetrainEveryDays:   1,
		RebalanceEveryDays: 1,
	})

	result, err := handler.Run(context.Background(), service.BacktestInput{
		Start:          start,
		End:            start.AddDate(0, 0, 5),
		InitialCapital: decimal.NewFromInt(1000),
		TopN:           1,
	})
	require.NoError(t, err)

	require.Empty(t, result.Rebalances)
	for _, record := range result.Nav {
		require.True(t, decimal.NewFromInt(1000).Equal(record.Value))
	}
}

func TestBacktest_DropsUnquotedPositions(t *testing.T) {
	start := date(2024, 1, 2)
	ds := buildDataset(t, fixture{
		closes: map[string][]float64{
			"600000.SH": flatSeries(6, 10),
			"000001.SZ": flatSeries(6, 10),
			"600519.SH": flatSeries(6, 10),
		},
		// 600000.SH suspends on day 4 and stays suspended
		gaps: map[string][]int{"600000.SH": {4, 5}},
	}, start)

	handler := linearHandler(t, ds, service.Scheduler{
		TrainWindowDays:    3,
		RetrainEveryDays:   1,
		RebalanceEveryDays: 1,
	})

	result, err := handler.Run(context.Background(), service.BacktestInput{
		Start:          start,
		End:            start.AddDate(0, 0, 5),
		InitialCapital: decimal.NewFromInt(1000),
		TopN:           2,
	})
	require.NoError(t, err)

	// day 3 buys 000001.SZ and 600000.SH (tie broken by symbol) at 50
	// shares each. On day 4 600000.SH has no quote, so its 500 of value
	// vanishes rather than being sold.
	require.True(t, decimal.NewFromInt(1000).Equal(result.Nav[3].Value))
	require.True(t, decimal.NewFromInt(500).Equal(result.Nav[4].Value))
	require.True(t, decimal.NewFromInt(500).Equal(result.Nav[5].Value))
}

func TestBacktest_SkipsRebalanceWhenUniverseTooSmall(t *testing.T) {
	start := date(2024, 1, 2)
	ds := buildDataset(t, fixture{
		closes: map[string][]float64{
			"600000.SH": flatSeries(6, 10),
			"000001.SZ": flatSeries(6, 10),
		},
	}, start)

	handler := linearHandler(t, ds, service.Scheduler{
		TrainWindowDays:    3,
		RetrainEveryDays:   1,
		RebalanceEveryDays: 1,
	})

	result, err := handler.Run(context.Background(), service.BacktestInput{
		Start:          start,
		End:            start.AddDate(0, 0, 5),
		InitialCapital: decimal.NewFromInt(1000),
		TopN:           5,
	})
	require.NoError(t, err)

	require.Len(t, result.Rebalances, 3)
	for _, rebalance := range result.Rebalances {
		require.True(t, rebalance.Skipped)
		require.Contains(t, rebalance.Reason, "need 5")
	}
	for _, record := range result.Nav {
		require.True(t, decimal.NewFromInt(1000).Equal(record.Value))
	}
}

func TestBacktest_TransactionCostsNeverOverdraw(t *testing.T) {
	start := date(2024, 1, 2)
	ds := buildDataset(t, fixture{
		closes: map[string][]float64{
			"600000.SH": {10, 11, 10, 12, 11, 13, 12, 14},
			"000001.SZ": {20, 19, 21, 18, 22, 17, 23, 16},
			"600519.SH": {5, 6, 5, 7, 6, 8, 7, 9},
		},
	}, start)

	handler := linearHandler(t, ds, service.Scheduler{
		TrainWindowDays:    3,
		RetrainEveryDays:   1,
		RebalanceEveryDays: 1,
	})

	result, err := handler.Run(context.Background(), service.BacktestInput{
		Start:               start,
		End:                 start.AddDate(0, 0, 7),
		InitialCapital:      decimal.NewFromInt(1000),
		TopN:                2,
		TransactionCostRate: decimal.NewFromFloat(0.003),
	})
	require.NoError(t, err)
	require.Len(t, result.Nav, 8)

	for _, record := range result.Nav {
		require.True(t, record.Value.IsPositive(),
			"nav on %s was %s", record.Date.Format(time.DateOnly), record.Value)
		require.LessOrEqual(t, record.Drawdown, 0.0)
	}
}

func TestBacktest_TrainedStrategyFollowsModelScores(t *testing.T) {
	start := date(2024, 1, 2)
	ds := buildDataset(t, fixture{
		closes: map[string][]float64{
			"600000.SH": flatSeries(8, 10),
			"000001.SZ": flatSeries(8, 10),
			"600519.SH": flatSeries(8, 10),
		},
	}, start)

	ctrl := gomock.NewController(t)
	trainer := mock_service.NewMockTrainer(ctrl)
	model := mock_service.NewMockModel(ctrl)

	trainer.EXPECT().Train(gomock.Any(), gomock.Any()).Return(model, nil).MinTimes(1)
	// rank by row index: symbols arrive sorted, so the last symbol
	// alphabetically always scores highest
	model.EXPECT().Predict(gomock.Any()).DoAndReturn(func(features [][]float64) []float64 {
		out := make([]float64, len(features))
		for i := range out {
			out[i] = float64(i)
		}
		return out
	}).AnyTimes()

	factorService := calculator.NewFactorService(ds, tinyWindows())
	fallback, err := service.NewLinearStrategy(factorService.FactorNames(), map[string]float64{
		calculator.FactorMomentum: 1,
	})
	require.NoError(t, err)

	handler := service.BacktestHandler{
		Data:          ds,
		FactorService: factorService,
		Strategy:      service.NewTrainedStrategy(factorService.FactorNames(), trainer, fallback),
		Scheduler: service.Scheduler{
			TrainWindowDays:    3,
			RetrainEveryDays:   1,
			RebalanceEveryDays: 1,
		},
	}

	result, err := handler.Run(context.Background(), service.BacktestInput{
		Start:             start,
		End:               start.AddDate(0, 0, 7),
		InitialCapital:    decimal.NewFromInt(1000),
		TopN:              1,
		ForwardReturnDays: 1,
		MinTrainingRows:   1,
	})
	require.NoError(t, err)

	require.NotEmpty(t, result.Rebalances)
	for _, rebalance := range result.Rebalances {
		require.False(t, rebalance.Skipped)
		require.Len(t, rebalance.Holdings, 1)
		require.Equal(t, "600519.SH", rebalance.Holdings[0].Symbol)
	}
}

func TestBacktest_InputValidation(t *testing.T) {
	start := date(2024, 1, 2)
	ds := buildDataset(t, fixture{
		closes: map[string][]float64{"600000.SH": flatSeries(4, 10)},
	}, start)
	handler := linearHandler(t, ds, service.Scheduler{
		TrainWindowDays:    1,
		RetrainEveryDays:   1,
		RebalanceEveryDays: 1,
	})

	t.Run("rejects non-positive topN", func(t *testing.T) {
		_, err := handler.Run(context.Background(), service.BacktestInput{
			Start:          start,
			End:            start.AddDate(0, 0, 3),
			InitialCapital: decimal.NewFromInt(1000),
		})
		require.ErrorContains(t, err, "topN")
	})

	t.Run("rejects non-positive capital", func(t *testing.T) {
		_, err := handler.Run(context.Background(), service.BacktestInput{
			Start: start,
			End:   start.AddDate(0, 0, 3),
			TopN:  1,
		})
		require.ErrorContains(t, err, "initial capital")
	})

	t.Run("rejects non-trading-day bounds", func(t *testing.T) {
		_, err := handler.Run(context.Background(), service.BacktestInput{
			Start:          start.AddDate(0, 0, -1),
			End:            start.AddDate(0, 0, 3),
			InitialCapital: decimal.NewFromInt(1000),
			TopN:           1,
		})
		require.ErrorContains(t, err, "failed to resolve backtest range")
	})
}
