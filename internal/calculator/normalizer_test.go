package calculator

import (
	"math"
	"testing"

	"factorlab/internal/domain"

	"github.com/montanaflynn/stats"
	"github.com/stretchr/testify/require"
)

func TestNormalizeCrossSection(t *testing.T) {
	t.Run("standardizes to zero mean and unit stdev", func(t *testing.T) {
		vectors := map[string]domain.FactorVector{
			"a": {"momentum": 1},
			"b": {"momentum": 2},
			"c": {"momentum": 3},
			"d": {"momentum": 4},
		}
		out := NormalizeCrossSection(vectors, []string{"momentum"})

		values := []float64{}
		for _, vector := range out {
			values = append(values, vector["momentum"])
		}
		mean, err := stats.Mean(values)
		require.NoError(t, err)
		stdev, err := stats.StandardDeviationSample(values)
		require.NoError(t, err)
		require.InDelta(t, 0, mean, 1e-9)
		require.InDelta(t, 1, stdev, 1e-9)
	})

	t.Run("clips outliers at three mads from the median", func(t *testing.T) {
		vectors := map[string]domain.FactorVector{
			"a": {"momentum": 1},
			"b": {"momentum": 2},
			"c": {"momentum": 3},
			"d": {"momentum": 4},
			"e": {"momentum": 100},
		}
		out := NormalizeCrossSection(vectors, []string{"momentum"})

		// median 3, mad 1: the outlier clips to 6 before standardizing,
		// so it normalizes identically to a raw value of 6
		clipped := map[string]domain.FactorVector{
			"a": {"momentum": 1},
			"b": {"momentum": 2},
			"c": {"momentum": 3},
			"d": {"momentum": 4},
			"e": {"momentum": 6},
		}
		expected := NormalizeCrossSection(clipped, []string{"momentum"})
		require.InDelta(t, expected["e"]["momentum"], out["e"]["momentum"], 1e-9)
		require.Less(t, out["e"]["momentum"], 3.0)
	})

	t.Run("degenerate cross-section centers instead of dividing", func(t *testing.T) {
		vectors := map[string]domain.FactorVector{
			"a": {"momentum": 5},
			"b": {"momentum": 5},
			"c": {"momentum": 5},
		}
		out := NormalizeCrossSection(vectors, []string{"momentum"})
		for _, vector := range out {
			require.Equal(t, 0.0, vector["momentum"])
		}
	})

	t.Run("single instrument centers to zero", func(t *testing.T) {
		vectors := map[string]domain.FactorVector{
			"a": {"momentum": 42},
		}
		out := NormalizeCrossSection(vectors, []string{"momentum"})
		require.Equal(t, 0.0, out["a"]["momentum"])
	})

	t.Run("skips missing and non-finite values", func(t *testing.T) {
		vectors := map[string]domain.FactorVector{
			"a": {"momentum": 1},
			"b": {"momentum": 2},
			"c": {"momentum": math.NaN()},
			"d": {},
		}
		out := NormalizeCrossSection(vectors, []string{"momentum"})

		require.True(t, math.IsNaN(out["c"]["momentum"]))
		_, ok := out["d"]["momentum"]
		require.False(t, ok)
	})

	t.Run("does not mutate the input vectors", func(t *testing.T) {
		vectors := map[string]domain.FactorVector{
			"a": {"momentum": 1},
			"b": {"momentum": 2},
		}
		NormalizeCrossSection(vectors, []string{"momentum"})
		require.Equal(t, 1.0, vectors["a"]["momentum"])
		require.Equal(t, 2.0, vectors["b"]["momentum"])
	})

	t.Run("factors normalize independently", func(t *testing.T) {
		vectors := map[string]domain.FactorVector{
			"a": {"momentum": 1, "reversal": 1000},
			"b": {"momentum": 2, "reversal": 2000},
		}
		out := NormalizeCrossSection(vectors, []string{"momentum", "reversal"})

		// both two-point cross-sections standardize to the same z-scores
		require.InDelta(t, out["a"]["momentum"], out["a"]["reversal"], 1e-9)
		require.InDelta(t, out["b"]["momentum"], out["b"]["reversal"], 1e-9)
	})
}
