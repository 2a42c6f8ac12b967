package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const dateLayout = "2006-01-02"

// Strategy selects how normalized factors become scores.
type Strategy string

const (
	Strategy_GradientBoosted Strategy = "gbdt"
	Strategy_Linear          Strategy = "linear"
)

// ExpressionFactor is a user-defined factor evaluated per (symbol, day)
// by the goval-based evaluator and merged into the built-in vector
// under Name.
type ExpressionFactor struct {
	Name       string `yaml:"name"`
	Expression string `yaml:"expression"`
}

type FactorConfig struct {
	MomentumWindow int `yaml:"momentumWindow"`
	ReversalWindow int `yaml:"reversalWindow"`
	TrendWindow    int `yaml:"trendWindow"`
	VolumeWindow   int `yaml:"volumeWindow"`
	RSIWindow      int `yaml:"rsiWindow"`

	IncludeRSI bool `yaml:"includeRSI"`

	Expressions []ExpressionFactor `yaml:"expressions"`
}

type ModelConfig struct {
	NumRounds         int     `yaml:"numRounds"`
	LearningRate      float64 `yaml:"learningRate"`
	MaxDepth          int     `yaml:"maxDepth"`
	MinLeafSize       int     `yaml:"minLeafSize"`
	FeatureFraction   float64 `yaml:"featureFraction"`
	SubsampleFraction float64 `yaml:"subsampleFraction"`
	SubsampleEvery    int     `yaml:"subsampleEvery"`
	Seed              int64   `yaml:"seed"`
}

type Config struct {
	PricesPath   string `yaml:"pricesPath"`
	CalendarPath string `yaml:"calendarPath"` // optional; derived from bars when empty
	OutputDir    string `yaml:"outputDir"`

	Start string `yaml:"start"`
	End   string `yaml:"end"`

	InitialCapital      float64 `yaml:"initialCapital"`
	TopN                int     `yaml:"topN"`
	TrainWindowDays     int     `yaml:"trainWindowDays"`
	RetrainEveryDays    int     `yaml:"retrainEveryDays"`
	RebalanceEveryDays  int     `yaml:"rebalanceEveryDays"`
	ForwardReturnDays   int     `yaml:"forwardReturnDays"`
	TransactionCostRate float64 `yaml:"transactionCostRate"`
	MinTrainingRows     int     `yaml:"minTrainingRows"`

	Strategy      Strategy           `yaml:"strategy"`
	FactorWeights map[string]float64 `yaml:"factorWeights"`
	Factors       FactorConfig       `yaml:"factors"`
	Model         ModelConfig        `yaml:"model"`

	ApiPort int `yaml:"apiPort"`
}

// Default mirrors the research scripts' hardcoded parameters: a one
// year training window retrained every 20 trading days, monthly
// rebalancing into the top 50 names, and zero transaction costs.
func Default() Config {
	return Config{
		OutputDir:           "out",
		InitialCapital:      80_000_000,
		TopN:                50,
		TrainWindowDays:     252,
		RetrainEveryDays:    20,
		RebalanceEveryDays:  20,
		ForwardReturnDays:   5,
		TransactionCostRate: 0,
		MinTrainingRows:     100,
		Strategy:            Strategy_GradientBoosted,
		FactorWeights: map[string]float64{
			"momentum":       0.30,
			"reversal":       0.15,
			"ep_proxy":       0.25,
			"bp_proxy":       0.15,
			"volume_anomaly": 0.15,
		},
		Factors: FactorConfig{
			MomentumWindow: 20,
			ReversalWindow: 5,
			TrendWindow:    250,
			VolumeWindow:   20,
			RSIWindow:      14,
		},
		Model: ModelConfig{
			NumRounds:         100,
			LearningRate:      0.05,
			MaxDepth:          5,
			MinLeafSize:       20,
			FeatureFraction:   0.8,
			SubsampleFraction: 0.8,
			SubsampleEvery:    5,
			Seed:              42,
		},
		ApiPort: 8080,
	}
}

func Load(path string) (*Config, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(f, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c Config) StartDate() (time.Time, error) {
	t, err := time.Parse(dateLayout, c.Start)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid start date %q: %w", c.Start, err)
	}
	return t, nil
}

func (c Config) EndDate() (time.Time, error) {
	t, err := time.Parse(dateLayout, c.End)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid end date %q: %w", c.End, err)
	}
	return t, nil
}

// Validate fails fast on parameters that would make the simulation
// meaningless. These are the only errors that should ever halt a run
// before it starts.
func (c Config) Validate() error {
	if c.TopN <= 0 {
		return fmt.Errorf("topN must be positive, got %d", c.TopN)
	}
	if c.TrainWindowDays <= 0 {
		return fmt.Errorf("trainWindowDays must be positive, got %d", c.TrainWindowDays)
	}
	if c.RetrainEveryDays <= 0 {
		return fmt.Errorf("retrainEveryDays must be positive, got %d", c.RetrainEveryDays)
	}
	if c.RebalanceEveryDays <= 0 {
		return fmt.Errorf("rebalanceEveryDays must be positive, got %d", c.RebalanceEveryDays)
	}
	if c.ForwardReturnDays <= 0 {
		return fmt.Errorf("forwardReturnDays must be positive, got %d", c.ForwardReturnDays)
	}
	if c.InitialCapital <= 0 {
		return fmt.Errorf("initialCapital must be positive, got %f", c.InitialCapital)
	}
	if c.TransactionCostRate < 0 || c.TransactionCostRate >= 1 {
		return fmt.Errorf("transactionCostRate must be in [0, 1), got %f", c.TransactionCostRate)
	}
	if c.Strategy != Strategy_GradientBoosted && c.Strategy != Strategy_Linear {
		return fmt.Errorf("unknown strategy %q", c.Strategy)
	}
	for _, w := range []struct {
		name  string
		value int
	}{
		{"momentumWindow", c.Factors.MomentumWindow},
		{"reversalWindow", c.Factors.ReversalWindow},
		{"trendWindow", c.Factors.TrendWindow},
		{"volumeWindow", c.Factors.VolumeWindow},
		{"rsiWindow", c.Factors.RSIWindow},
	} {
		if w.value <= 0 {
			return fmt.Errorf("factor window %s must be positive, got %d", w.name, w.value)
		}
	}
	weightTotal := 0.0
	for name, w := range c.FactorWeights {
		if w < 0 {
			return fmt.Errorf("factor weight %s must not be negative, got %f", name, w)
		}
		weightTotal += w
	}
	if weightTotal <= 0 {
		return fmt.Errorf("factor weights must sum to a positive total, got %f", weightTotal)
	}
	for _, e := range c.Factors.Expressions {
		if e.Name == "" || e.Expression == "" {
			return fmt.Errorf("expression factors need both name and expression")
		}
	}
	return nil
}
