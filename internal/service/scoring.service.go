package service

import (
	"fmt"
	"sort"
	"time"

	"factorlab/internal/domain"
)

// Trainer is the pluggable model-training collaborator. The default
// implementation wraps the gbdt package; tests substitute mocks.
type Trainer interface {
	Train(features [][]float64, labels []float64) (Model, error)
}

// Model maps feature matrices to predicted forward-return scores.
type Model interface {
	Predict(features [][]float64) []float64
}

// ModelState is the currently active model plus its training window.
// It is replaced wholesale at each retrain and never mutated between
// retrains.
type ModelState struct {
	Model      Model
	TrainStart time.Time
	TrainEnd   time.Time
}

// ScoreStrategy maps a day's normalized factor vectors to scores.
// Higher is better. Implementations must never reference data dated
// after the given day.
type ScoreStrategy interface {
	Scores(day time.Time, universe map[string]domain.FactorVector) map[string]*float64
}

// LinearStrategy combines normalized factors with fixed weights. It is
// both a standalone strategy and the fallback used by the trained
// strategy before its first retrain.
type LinearStrategy struct {
	FactorNames []string
	Weights     map[string]float64
}

func NewLinearStrategy(factorNames []string, weights map[string]float64) (*LinearStrategy, error) {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return nil, fmt.Errorf("factor weights must sum to a positive total, got %f", total)
	}
	return &LinearStrategy{
		FactorNames: factorNames,
		Weights:     weights,
	}, nil
}

func (s *LinearStrategy) Scores(day time.Time, universe map[string]domain.FactorVector) map[string]*float64 {
	out := map[string]*float64{}
	for symbol, vector := range universe {
		score := 0.0
		// missing normalized values score as 0, matching the
		// prediction-time fill
		for _, name := range s.FactorNames {
			if v, ok := vector[name]; ok {
				score += v * s.Weights[name]
			}
		}
		out[symbol] = &score
	}
	return out
}

// TrainingRow is one (instrument, day) observation with complete
// normalized factors and a computable forward-return label.
type TrainingRow struct {
	Symbol   string
	Date     time.Time
	Features []float64
	Label    float64
}

// TrainedStrategy predicts with the current ModelState and falls back
// to the linear combination until the first successful retrain.
type TrainedStrategy struct {
	FactorNames []string
	Trainer     Trainer
	Fallback    *LinearStrategy

	state *ModelState
}

func NewTrainedStrategy(factorNames []string, trainer Trainer, fallback *LinearStrategy) *TrainedStrategy {
	return &TrainedStrategy{
		FactorNames: factorNames,
		Trainer:     trainer,
		Fallback:    fallback,
	}
}

func (s *TrainedStrategy) State() *ModelState {
	return s.state
}

// Retrain fits a fresh model on the given rows and atomically replaces
// the model state. trainEnd must precede the day scores are next
// requested for; the scheduler guarantees that.
func (s *TrainedStrategy) Retrain(trainStart, trainEnd time.Time, rows []TrainingRow) error {
	if len(rows) == 0 {
		return fmt.Errorf("cannot retrain on 0 rows")
	}
	features := make([][]float64, len(rows))
	labels := make([]float64, len(rows))
	for i, row := range rows {
		if len(row.Features) != len(s.FactorNames) {
			return fmt.Errorf("training row %d has %d features, expected %d", i, len(row.Features), len(s.FactorNames))
		}
		features[i] = row.Features
		labels[i] = row.Label
	}

	model, err := s.Trainer.Train(features, labels)
	if err != nil {
		return fmt.Errorf("failed to train model: %w", err)
	}

	s.state = &ModelState{
		Model:      model,
		TrainStart: trainStart,
		TrainEnd:   trainEnd,
	}
	return nil
}

func (s *TrainedStrategy) Scores(day time.Time, universe map[string]domain.FactorVector) map[string]*float64 {
	if s.state == nil {
		return s.Fallback.Scores(day, universe)
	}

	// deterministic row order so predictions map back to symbols
	symbols := make([]string, 0, len(universe))
	for symbol := range universe {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	features := make([][]float64, len(symbols))
	for i, symbol := range symbols {
		row := make([]float64, len(s.FactorNames))
		for j, name := range s.FactorNames {
			if v, ok := universe[symbol][name]; ok {
				row[j] = v
			}
		}
		features[i] = row
	}

	predictions := s.state.Model.Predict(features)
	out := map[string]*float64{}
	for i, symbol := range symbols {
		score := predictions[i]
		out[symbol] = &score
	}
	return out
}

// FeatureRow extracts the ordered feature slice for one vector,
// requiring every factor to be present.
func FeatureRow(vector domain.FactorVector, factorNames []string) ([]float64, bool) {
	row := make([]float64, len(factorNames))
	for i, name := range factorNames {
		v, ok := vector[name]
		if !ok {
			return nil, false
		}
		row[i] = v
	}
	return row, true
}
