package calculator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEvaluateFactorExpression(t *testing.T) {
	start := day(2024, 1, 2)
	ds := newTestDataset(t,
		map[string][]float64{"600000.SH": {10, 11, 12}},
		map[string][]float64{"600000.SH": {100, 100, 100}},
		start,
	)
	evalDay := start.AddDate(0, 0, 2)

	t.Run("price on the evaluation day", func(t *testing.T) {
		result, err := EvaluateFactorExpression(ds, "price(currentDate)", "600000.SH", evalDay)
		require.NoError(t, err)
		require.InDelta(t, 12.0, result.Value, 1e-9)
	})

	t.Run("price resolves gaps to the prior bar", func(t *testing.T) {
		// 2024-01-06 is beyond the last bar; evaluating as of that day
		// should fall back to the close on 2024-01-04
		result, err := EvaluateFactorExpression(ds, "price(currentDate)", "600000.SH", start.AddDate(0, 0, 4))
		require.NoError(t, err)
		require.InDelta(t, 12.0, result.Value, 1e-9)
	})

	t.Run("percent change between two dates", func(t *testing.T) {
		result, err := EvaluateFactorExpression(ds, "pricePercentChange(nDaysAgo(2), currentDate)", "600000.SH", evalDay)
		require.NoError(t, err)
		require.InDelta(t, 20.0, result.Value, 1e-9)
	})

	t.Run("moving average over trading days", func(t *testing.T) {
		result, err := EvaluateFactorExpression(ds, "movingAverage(2)", "600000.SH", evalDay)
		require.NoError(t, err)
		require.InDelta(t, 11.5, result.Value, 1e-9)
	})

	t.Run("addDate composes with price", func(t *testing.T) {
		result, err := EvaluateFactorExpression(ds, "price(addDate(currentDate, 0, 0, -1))", "600000.SH", evalDay)
		require.NoError(t, err)
		require.InDelta(t, 11.0, result.Value, 1e-9)
	})

	t.Run("rejects dates after the evaluation day", func(t *testing.T) {
		_, err := EvaluateFactorExpression(ds, `price("2024-01-05")`, "600000.SH", evalDay)
		require.ErrorContains(t, err, "after evaluation day")
	})

	t.Run("errors when the lookback exceeds history", func(t *testing.T) {
		_, err := EvaluateFactorExpression(ds, "movingAverage(10)", "600000.SH", evalDay)
		require.Error(t, err)
	})

	t.Run("rejects non-numeric results", func(t *testing.T) {
		_, err := EvaluateFactorExpression(ds, `"not a number"`, "600000.SH", evalDay)
		require.ErrorContains(t, err, "failed to convert")
	})

	t.Run("rsi over trading days", func(t *testing.T) {
		// both deltas are gains, so rsi saturates at 100
		result, err := EvaluateFactorExpression(ds, "rsi(2)", "600000.SH", evalDay)
		require.NoError(t, err)
		require.InDelta(t, 100.0, result.Value, 1e-3)
	})

	t.Run("arithmetic over metric functions", func(t *testing.T) {
		result, err := EvaluateFactorExpression(ds, "price(currentDate) / movingAverage(3)", "600000.SH", evalDay)
		require.NoError(t, err)
		require.InDelta(t, 12.0/11.0, result.Value, 1e-9)
	})
}
