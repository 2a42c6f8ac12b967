package service

import (
	"fmt"

	"factorlab/internal/config"
	"factorlab/internal/gbdt"
)

type gbdtTrainer struct {
	cfg gbdt.Config
}

// NewGBDTTrainer adapts the gbdt package to the Trainer contract.
func NewGBDTTrainer(cfg gbdt.Config) Trainer {
	return gbdtTrainer{cfg: cfg}
}

func (t gbdtTrainer) Train(features [][]float64, labels []float64) (Model, error) {
	return gbdt.Train(features, labels, t.cfg)
}

// GBDTConfigFromModelConfig maps run configuration onto trainer
// hyperparameters, falling back to package defaults for zero values.
func GBDTConfigFromModelConfig(mc config.ModelConfig) gbdt.Config {
	cfg := gbdt.DefaultConfig()
	if mc.NumRounds > 0 {
		cfg.NumRounds = mc.NumRounds
	}
	if mc.LearningRate > 0 {
		cfg.LearningRate = mc.LearningRate
	}
	if mc.MaxDepth > 0 {
		cfg.MaxDepth = mc.MaxDepth
	}
	if mc.MinLeafSize > 0 {
		cfg.MinLeafSize = mc.MinLeafSize
	}
	if mc.FeatureFraction > 0 {
		cfg.FeatureFraction = mc.FeatureFraction
	}
	if mc.SubsampleFraction > 0 {
		cfg.SubsampleFraction = mc.SubsampleFraction
	}
	if mc.SubsampleEvery > 0 {
		cfg.SubsampleEvery = mc.SubsampleEvery
	}
	if mc.Seed != 0 {
		cfg.Seed = mc.Seed
	}
	return cfg
}

// NewStrategyFromConfig wires the configured scoring strategy. The
// trained strategy starts from the linear fallback and only switches to
// the boosted model after its first retrain.
func NewStrategyFromConfig(cfg config.Config, factorNames []string) (ScoreStrategy, error) {
	linear, err := NewLinearStrategy(factorNames, cfg.FactorWeights)
	if err != nil {
		return nil, fmt.Errorf("failed to build linear strategy: %w", err)
	}
	if cfg.Strategy == config.Strategy_Linear {
		return linear, nil
	}
	trainer := NewGBDTTrainer(GBDTConfigFromModelConfig(cfg.Model))
	return NewTrainedStrategy(factorNames, trainer, linear), nil
}
