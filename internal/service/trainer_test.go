package service

import (
	"testing"

	"factorlab/internal/config"
	"factorlab/internal/gbdt"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestGBDTConfigFromModelConfig(t *testing.T) {
	t.Run("zero values fall back to defaults", func(t *testing.T) {
		cfg := GBDTConfigFromModelConfig(config.ModelConfig{})
		require.Equal(t, "", cmp.Diff(gbdt.DefaultConfig(), cfg))
	})

	t.Run("set values carry through", func(t *testing.T) {
		cfg := GBDTConfigFromModelConfig(config.ModelConfig{
			NumRounds:    10,
			LearningRate: 0.2,
			Seed:         7,
		})
		require.Equal(t, 10, cfg.NumRounds)
		require.Equal(t, 0.2, cfg.LearningRate)
		require.Equal(t, int64(7), cfg.Seed)
		require.Equal(t, gbdt.DefaultConfig().MaxDepth, cfg.MaxDepth)
	})
}

func TestNewStrategyFromConfig(t *testing.T) {
	base := config.Default()
	factorNames := []string{"momentum", "reversal"}

	t.Run("linear strategy", func(t *testing.T) {
		cfg := base
		cfg.Strategy = config.Strategy_Linear
		strategy, err := NewStrategyFromConfig(cfg, factorNames)
		require.NoError(t, err)
		_, ok := strategy.(*LinearStrategy)
		require.True(t, ok)
	})

	t.Run("gbdt strategy wraps a linear fallback", func(t *testing.T) {
		strategy, err := NewStrategyFromConfig(base, factorNames)
		require.NoError(t, err)
		trained, ok := strategy.(*TrainedStrategy)
		require.True(t, ok)
		require.NotNil(t, trained.Fallback)
		require.Nil(t, trained.State())
	})

	t.Run("bad weights", func(t *testing.T) {
		cfg := base
		cfg.FactorWeights = map[string]float64{}
		_, err := NewStrategyFromConfig(cfg, factorNames)
		require.ErrorContains(t, err, "failed to build linear strategy")
	})
}
