package calculator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"factorlab/internal/config"
	"factorlab/internal/data"
	"factorlab/internal/domain"
	"factorlab/internal/logger"
)

// Built-in factor names. ep_proxy and bp_proxy stand in for earnings
// and book-value ratios; the dataset carries no fundamentals, so price
// level and the long trend serve as valuation surrogates.
const (
	FactorMomentum      = "momentum"
	FactorReversal      = "reversal"
	FactorEPProxy       = "ep_proxy"
	FactorBPProxy       = "bp_proxy"
	FactorVolumeAnomaly = "volume_anomaly"
	FactorRSI           = "rsi"
)

// epsilon guards divisions; factors are left defined rather than
// erroring on zero denominators.
const epsilon = 1e-10

type FactorService interface {
	FactorNames() []string
	ComputeUniverse(ctx context.Context, days []time.Time) (UniverseFactors, error)
	ComputeLabels(horizon int) (UniverseLabels, error)
}

// UniverseFactors holds point-in-time factor vectors keyed by
// date (time.DateOnly) then symbol.
type UniverseFactors map[string]map[string]domain.FactorVector

func (u UniverseFactors) On(date time.Time) map[string]domain.FactorVector {
	return u[date.Format(time.DateOnly)]
}

// UniverseLabels holds forward-return training labels, keyed the same
// way. Labels exist only where the forward horizon is within the data.
type UniverseLabels map[string]map[string]float64

func (u UniverseLabels) On(date time.Time) map[string]float64 {
	return u[date.Format(time.DateOnly)]
}

type factorServiceHandler struct {
	Data   data.Service
	Config config.FactorConfig
}

func NewFactorService(ds data.Service, cfg config.FactorConfig) FactorService {
	return factorServiceHandler{
		Data:   ds,
		Config: cfg,
	}
}

func (h factorServiceHandler) FactorNames() []string {
	names := []string{
		FactorMomentum,
		FactorReversal,
		FactorEPProxy,
		FactorBPProxy,
		FactorVolumeAnomaly,
	}
	if h.Config.IncludeRSI {
		names = append(names, FactorRSI)
	}
	for _, e := range h.Config.Expressions {
		names = append(names, e.Name)
	}
	return names
}

type factorWorkResult struct {
	symbol string
	series map[string]domain.FactorVector
	err    error
}

// ComputeUniverse computes the factor series for every instrument in
// the dataset, restricted to the given days. Instruments are
// independent, so the work fans out across a fixed worker pool; days
// stay strictly point-in-time within each instrument's rolling pass.
func (h factorServiceHandler) ComputeUniverse(ctx context.Context, days []time.Time) (UniverseFactors, error) {
	log := logger.FromContext(ctx)

	wanted := make(map[string]bool, len(days))
	for _, d := range days {
		wanted[d.Format(time.DateOnly)] = true
	}

	symbols := h.Data.Symbols()
	inputCh := make(chan string, len(symbols))
	resultCh := make(chan factorWorkResult, len(symbols))
	numGoroutines := 10
	var wg sync.WaitGroup
	for _, symbol := range symbols {
		wg.Add(1)
		inputCh <- symbol
	}
	close(inputCh)

	for i := 0; i < numGoroutines; i++ {
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case symbol, ok := <-inputCh:
					if !ok {
						return
					}
					series, err := h.computeInstrument(symbol, wanted)
					resultCh <- factorWorkResult{
						symbol: symbol,
						series: series,
						err:    err,
					}
					wg.Done()
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	out := UniverseFactors{}
	for res := range resultCh {
		if res.err != nil {
			return nil, fmt.Errorf("failed to compute factors for %s: %w", res.symbol, res.err)
		}
		for dateKey, vector := range res.series {
			if _, ok := out[dateKey]; !ok {
				out[dateKey] = map[string]domain.FactorVector{}
			}
			out[dateKey][res.symbol] = vector
		}
	}

	log.Debugw("computed universe factors",
		"symbols", len(symbols),
		"days", len(days),
	)
	return out, nil
}

func (h factorServiceHandler) computeInstrument(symbol string, wanted map[string]bool) (map[string]domain.FactorVector, error) {
	bars, err := h.Data.History(symbol)
	if err != nil {
		return nil, err
	}

	series := computeFactorSeries(bars, h.Config)

	out := map[string]domain.FactorVector{}
	for i, bar := range bars {
		key := bar.Date.Format(time.DateOnly)
		if !wanted[key] {
			continue
		}
		vector := series[i]
		for _, e := range h.Config.Expressions {
			result, err := EvaluateFactorExpression(h.Data, e.Expression, symbol, bar.Date)
			if err != nil {
				// treated like insufficient history: the factor is
				// missing for this instrument on this day
				continue
			}
			vector[e.Name] = result.Value
		}
		out[key] = vector
	}
	return out, nil
}

// computeFactorSeries runs one rolling pass over an instrument's bars
// and returns a factor vector per bar index. Each vector only uses
// bars at or before its own index. Factors whose lookback exceeds the
// available history are omitted from the vector.
func computeFactorSeries(bars []domain.Bar, cfg config.FactorConfig) []domain.FactorVector {
	n := len(bars)
	out := make([]domain.FactorVector, n)

	closeSum := make([]float64, n+1)
	volumeSum := make([]float64, n+1)
	gainSum := make([]float64, n+1)
	lossSum := make([]float64, n+1)
	for i, bar := range bars {
		closeSum[i+1] = closeSum[i] + bar.Close
		volumeSum[i+1] = volumeSum[i] + bar.Volume
		gain, loss := 0.0, 0.0
		if i > 0 {
			delta := bar.Close - bars[i-1].Close
			if delta > 0 {
				gain = delta
			} else {
				loss = -delta
			}
		}
		gainSum[i+1] = gainSum[i] + gain
		lossSum[i+1] = lossSum[i] + loss
	}

	windowMean := func(sums []float64, i, window, minPeriods int) (float64, bool) {
		count := i + 1
		if count > window {
			count = window
		}
		if count < minPeriods {
			return 0, false
		}
		return (sums[i+1] - sums[i+1-count]) / float64(count), true
	}

	for i, bar := range bars {
		vector := domain.FactorVector{}

		if i >= cfg.MomentumWindow {
			base := bars[i-cfg.MomentumWindow].Close
			vector[FactorMomentum] = (bar.Close/base - 1) * 100
		}
		if i >= cfg.ReversalWindow {
			base := bars[i-cfg.ReversalWindow].Close
			vector[FactorReversal] = -(bar.Close/base - 1) * 100
		}

		vector[FactorEPProxy] = 1 / (bar.Close + epsilon) * 1000

		if ma, ok := windowMean(closeSum, i, cfg.TrendWindow, cfg.TrendWindow/2); ok {
			vector[FactorBPProxy] = ma / (bar.Close + epsilon)
		}

		if ma, ok := windowMean(volumeSum, i, cfg.VolumeWindow, cfg.VolumeWindow/2); ok {
			vector[FactorVolumeAnomaly] = bar.Volume / (ma + epsilon)
		}

		if cfg.IncludeRSI {
			// window means over price deltas; bar 0 has no delta but
			// still counts toward the window, matching a rolling mean
			// over a diffed series
			gain, gainOk := windowMean(gainSum, i, cfg.RSIWindow, cfg.RSIWindow/2)
			loss, lossOk := windowMean(lossSum, i, cfg.RSIWindow, cfg.RSIWindow/2)
			if gainOk && lossOk && i > 0 {
				rs := gain / (loss + epsilon)
				vector[FactorRSI] = 100 - (100 / (1 + rs))
			}
		}

		out[i] = vector
	}

	return out
}

// ComputeLabels returns forward returns over the given horizon for
// every (instrument, day) where the horizon stays within loaded data.
// Labels are training targets only; the live day never has one by the
// time it is used.
func (h factorServiceHandler) ComputeLabels(horizon int) (UniverseLabels, error) {
	out := UniverseLabels{}
	for _, symbol := range h.Data.Symbols() {
		bars, err := h.Data.History(symbol)
		if err != nil {
			return nil, err
		}
		for i := 0; i+horizon < len(bars); i++ {
			key := bars[i].Date.Format(time.DateOnly)
			if _, ok := out[key]; !ok {
				out[key] = map[string]float64{}
			}
			out[key][symbol] = (bars[i+horizon].Close/bars[i].Close - 1) * 100
		}
	}
	return out, nil
}
