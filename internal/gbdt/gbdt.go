// Package gbdt implements least-squares gradient boosting over
// depth-limited regression trees. It is the default model-training
// collaborator for the score model; any trainer satisfying the service
// contract can replace it.
package gbdt

import (
	"fmt"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat"
)

type Config struct {
	NumRounds         int
	LearningRate      float64
	MaxDepth          int
	MinLeafSize       int
	FeatureFraction   float64
	SubsampleFraction float64
	SubsampleEvery    int
	Seed              int64
}

// DefaultConfig mirrors the research defaults: 100 rounds at learning
// rate 0.05 with 80% feature and row sampling, re-bagged every 5
// rounds, seeded for reproducibility.
func DefaultConfig() Config {
	return Config{
		NumRounds:         100,
		LearningRate:      0.05,
		MaxDepth:          5,
		MinLeafSize:       20,
		FeatureFraction:   0.8,
		SubsampleFraction: 0.8,
		SubsampleEvery:    5,
		Seed:              42,
	}
}

func (c Config) validate() error {
	if c.NumRounds <= 0 {
		return fmt.Errorf("numRounds must be positive, got %d", c.NumRounds)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("learningRate must be positive, got %f", c.LearningRate)
	}
	if c.MaxDepth <= 0 {
		return fmt.Errorf("maxDepth must be positive, got %d", c.MaxDepth)
	}
	if c.MinLeafSize <= 0 {
		return fmt.Errorf("minLeafSize must be positive, got %d", c.MinLeafSize)
	}
	if c.FeatureFraction <= 0 || c.FeatureFraction > 1 {
		return fmt.Errorf("featureFraction must be in (0, 1], got %f", c.FeatureFraction)
	}
	if c.SubsampleFraction <= 0 || c.SubsampleFraction > 1 {
		return fmt.Errorf("subsampleFraction must be in (0, 1], got %f", c.SubsampleFraction)
	}
	if c.SubsampleEvery <= 0 {
		return fmt.Errorf("subsampleEvery must be positive, got %d", c.SubsampleEvery)
	}
	return nil
}

type node struct {
	leaf      bool
	value     float64
	feature   int
	threshold float64
	left      *node
	right     *node
}

func (n *node) predict(row []float64) float64 {
	for !n.leaf {
		if row[n.feature] <= n.threshold {
			n = n.left
		} else {
			n = n.right
		}
	}
	return n.value
}

type Regressor struct {
	base         float64
	learningRate float64
	trees        []*node
}

// Train fits a boosted ensemble to the given feature matrix and
// labels. Identical inputs and config produce an identical model.
func Train(features [][]float64, labels []float64, cfg Config) (*Regressor, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if len(features) == 0 {
		return nil, fmt.Errorf("cannot train on 0 rows")
	}
	if len(features) != len(labels) {
		return nil, fmt.Errorf("got %d feature rows but %d labels", len(features), len(labels))
	}
	numFeatures := len(features[0])
	if numFeatures == 0 {
		return nil, fmt.Errorf("cannot train on 0 features")
	}
	for i, row := range features {
		if len(row) != numFeatures {
			return nil, fmt.Errorf("feature row %d has %d values, expected %d", i, len(row), numFeatures)
		}
	}

	rng := rand.New(rand.NewSource(cfg.Seed))

	r := &Regressor{
		base:         stat.Mean(labels, nil),
		learningRate: cfg.LearningRate,
	}

	predictions := make([]float64, len(labels))
	for i := range predictions {
		predictions[i] = r.base
	}
	residuals := make([]float64, len(labels))

	var bag []int
	for round := 0; round < cfg.NumRounds; round++ {
		for i := range labels {
			residuals[i] = labels[i] - predictions[i]
		}

		if bag == nil || round%cfg.SubsampleEvery == 0 {
			bag = sampleRows(rng, len(labels), cfg.SubsampleFraction)
		}
		candidateFeatures := sampleFeatures(rng, numFeatures, cfg.FeatureFraction)

		tree := buildTree(features, residuals, bag, candidateFeatures, cfg, 0)
		r.trees = append(r.trees, tree)

		for i, row := range features {
			predictions[i] += cfg.LearningRate * tree.predict(row)
		}
	}

	return r, nil
}

func (r *Regressor) Predict(features [][]float64) []float64 {
	out := make([]float64, len(features))
	for i, row := range features {
		prediction := r.base
		for _, tree := range r.trees {
			prediction += r.learningRate * tree.predict(row)
		}
		out[i] = prediction
	}
	return out
}

func (r *Regressor) NumTrees() int {
	return len(r.trees)
}

func sampleRows(rng *rand.Rand, n int, fraction float64) []int {
	count := int(fraction * float64(n))
	if count < 1 {
		count = 1
	}
	perm := rng.Perm(n)[:count]
	sort.Ints(perm)
	return perm
}

func sampleFeatures(rng *rand.Rand, n int, fraction float64) []int {
	count := int(fraction * float64(n))
	if count < 1 {
		count = 1
	}
	perm := rng.Perm(n)[:count]
	sort.Ints(perm)
	return perm
}

func buildTree(features [][]float64, residuals []float64, rows []int, candidateFeatures []int, cfg Config, depth int) *node {
	if depth >= cfg.MaxDepth || len(rows) < 2*cfg.MinLeafSize {
		return leafNode(residuals, rows)
	}

	feature, threshold, ok := bestSplit(features, residuals, rows, candidateFeatures, cfg.MinLeafSize)
	if !ok {
		return leafNode(residuals, rows)
	}

	left := []int{}
	right := []int{}
	for _, i := range rows {
		if features[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	return &node{
		feature:   feature,
		threshold: threshold,
		left:      buildTree(features, residuals, left, candidateFeatures, cfg, depth+1),
		right:     buildTree(features, residuals, right, candidateFeatures, cfg, depth+1),
	}
}

func leafNode(residuals []float64, rows []int) *node {
	sum := 0.0
	for _, i := range rows {
		sum += residuals[i]
	}
	return &node{
		leaf:  true,
		value: sum / float64(len(rows)),
	}
}

// bestSplit scans sorted candidate thresholds per feature and picks
// the one with the largest squared-error reduction, honoring the
// minimum leaf size on both sides.
func bestSplit(features [][]float64, residuals []float64, rows []int, candidateFeatures []int, minLeafSize int) (int, float64, bool) {
	bestGain := 0.0
	bestFeature := -1
	bestThreshold := 0.0

	totalSum := 0.0
	totalSqSum := 0.0
	for _, i := range rows {
		totalSum += residuals[i]
		totalSqSum += residuals[i] * residuals[i]
	}
	n := float64(len(rows))
	parentSSE := totalSqSum - totalSum*totalSum/n

	sorted := make([]int, len(rows))
	for _, feature := range candidateFeatures {
		copy(sorted, rows)
		sort.Slice(sorted, func(a, b int) bool {
			return features[sorted[a]][feature] < features[sorted[b]][feature]
		})

		leftSum := 0.0
		leftSqSum := 0.0
		for k := 0; k < len(sorted)-1; k++ {
			i := sorted[k]
			leftSum += residuals[i]
			leftSqSum += residuals[i] * residuals[i]

			leftCount := k + 1
			rightCount := len(sorted) - leftCount
			if leftCount < minLeafSize || rightCount < minLeafSize {
				continue
			}
			// no split between identical values
			if features[i][feature] == features[sorted[k+1]][feature] {
				continue
			}

			rightSum := totalSum - leftSum
			rightSqSum := totalSqSum - leftSqSum
			leftSSE := leftSqSum - leftSum*leftSum/float64(leftCount)
			rightSSE := rightSqSum - rightSum*rightSum/float64(rightCount)
			gain := parentSSE - leftSSE - rightSSE
			if gain > bestGain {
				bestGain = gain
				bestFeature = feature
				bestThreshold = (features[i][feature] + features[sorted[k+1]][feature]) / 2
			}
		}
	}

	if bestFeature < 0 {
		return 0, 0, false
	}
	return bestFeature, bestThreshold, true
}
