package calculator

import (
	"math"

	"factorlab/internal/domain"

	"github.com/montanaflynn/stats"
)

const madMultiplier = 3.0

// NormalizeCrossSection winsorizes and standardizes each named factor
// across the given day's universe. Statistics are computed per factor
// from only the instruments carrying that factor, independently of any
// other day. Degenerate cross-sections (zero MAD, zero stdev, fewer
// than two values) fall through to defined no-op branches.
func NormalizeCrossSection(vectors map[string]domain.FactorVector, factorNames []string) map[string]domain.FactorVector {
	out := make(map[string]domain.FactorVector, len(vectors))
	for symbol, vector := range vectors {
		out[symbol] = vector.Clone()
	}

	for _, name := range factorNames {
		symbols := []string{}
		values := []float64{}
		for symbol, vector := range out {
			if v, ok := vector[name]; ok && !math.IsNaN(v) && !math.IsInf(v, 0) {
				symbols = append(symbols, symbol)
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			continue
		}

		values = winsorize(values)

		mean, err := stats.Mean(values)
		if err != nil {
			continue
		}
		stdev := 0.0
		if len(values) >= 2 {
			stdev, err = stats.StandardDeviationSample(values)
			if err != nil {
				stdev = 0
			}
		}

		for i, symbol := range symbols {
			if stdev > 0 {
				out[symbol][name] = (values[i] - mean) / stdev
			} else {
				out[symbol][name] = values[i] - mean
			}
		}
	}

	return out
}

// winsorize clips to median ± 3×MAD. Zero MAD leaves values untouched.
func winsorize(values []float64) []float64 {
	median, err := stats.Median(values)
	if err != nil {
		return values
	}
	deviations := make([]float64, len(values))
	for i, v := range values {
		deviations[i] = math.Abs(v - median)
	}
	mad, err := stats.Median(deviations)
	if err != nil || mad == 0 {
		return values
	}

	upper := median + madMultiplier*mad
	lower := median - madMultiplier*mad
	out := make([]float64, len(values))
	for i, v := range values {
		switch {
		case v > upper:
			out[i] = upper
		case v < lower:
			out[i] = lower
		default:
			out[i] = v
		}
	}
	return out
}
