package calculator

import (
	"fmt"
	"math"
	"time"

	"factorlab/internal/data"
	"factorlab/internal/domain"

	"github.com/maja42/goval"
)

const evalDateLayout = "2006-01-02"

// priceOnOrBefore resolves a calendar date to the most recent bar at or
// before it, so expressions can use plain calendar offsets without
// landing on weekends or suspensions. Dates after the evaluation day
// are rejected upstream.
func priceOnOrBefore(ds data.Service, symbol string, date time.Time) (float64, error) {
	bars, err := ds.History(symbol)
	if err != nil {
		return 0, err
	}
	i, err := lastBarAtOrBefore(bars, date)
	if err != nil {
		return 0, data.DataGapError{Symbol: symbol, Date: date}
	}
	return bars[i].Close, nil
}

func constructFunctionMap(
	ds data.Service,
	symbol string,
	currentDate time.Time,
) map[string]goval.ExpressionFunction {
	parseBoundedDate := func(arg interface{}) (time.Time, error) {
		date, err := time.Parse(evalDateLayout, arg.(string))
		if err != nil {
			return time.Time{}, err
		}
		if date.After(currentDate) {
			return time.Time{}, fmt.Errorf("expression references %s after evaluation day %s", date.Format(evalDateLayout), currentDate.Format(evalDateLayout))
		}
		return date, nil
	}

	return map[string]goval.ExpressionFunction{
		// helper functions
		"addDate": func(args ...interface{}) (interface{}, error) {
			// addDate(date, years, months, days)
			if len(args) < 4 {
				return 0, fmt.Errorf("addDate needs 4 args, got %d", len(args))
			}
			date, err := time.Parse(evalDateLayout, args[0].(string))
			if err != nil {
				return 0, err
			}

			var years, months, days = args[1].(int), args[2].(int), args[3].(int)

			date = date.AddDate(years, months, days)

			return date.Format(evalDateLayout), nil
		},

		"nDaysAgo": func(args ...interface{}) (interface{}, error) {
			if len(args) < 1 {
				return 0, fmt.Errorf("nDaysAgo needs 1 arg, got %d", len(args))
			}
			n := args[0].(int)
			d := currentDate.AddDate(0, 0, -n)

			return d.Format(evalDateLayout), nil
		},

		// metric functions

		// price(date strDate)
		"price": func(args ...interface{}) (interface{}, error) {
			if len(args) < 1 {
				return 0, fmt.Errorf("price needs 1 arg, got %d", len(args))
			}
			date, err := parseBoundedDate(args[0])
			if err != nil {
				return 0, err
			}
			return priceOnOrBefore(ds, symbol, date)
		},

		// pricePercentChange(start, end strDate)
		"pricePercentChange": func(args ...interface{}) (interface{}, error) {
			if len(args) < 2 {
				return 0, fmt.Errorf("pricePercentChange needs 2 args, got %d", len(args))
			}
			start, err := parseBoundedDate(args[0])
			if err != nil {
				return 0, err
			}
			end, err := parseBoundedDate(args[1])
			if err != nil {
				return 0, err
			}

			startPrice, err := priceOnOrBefore(ds, symbol, start)
			if err != nil {
				return 0, err
			}
			endPrice, err := priceOnOrBefore(ds, symbol, end)
			if err != nil {
				return 0, err
			}

			return (endPrice/startPrice - 1) * 100, nil
		},

		// movingAverage(days int) over trading days ending at the
		// evaluation day
		"movingAverage": func(args ...interface{}) (interface{}, error) {
			if len(args) < 1 {
				return 0, fmt.Errorf("movingAverage needs 1 arg, got %d", len(args))
			}
			n := args[0].(int)
			if n <= 0 {
				return 0, fmt.Errorf("movingAverage window must be positive, got %d", n)
			}

			bars, err := ds.History(symbol)
			if err != nil {
				return 0, err
			}
			end, err := lastBarAtOrBefore(bars, currentDate)
			if err != nil {
				return 0, err
			}
			if end+1 < n {
				return 0, data.DataGapError{Symbol: symbol, Date: currentDate}
			}
			sum := 0.0
			for i := end - n + 1; i <= end; i++ {
				sum += bars[i].Close
			}
			return sum / float64(n), nil
		},

		// rsi(days int) over trading days ending at the evaluation day
		"rsi": func(args ...interface{}) (interface{}, error) {
			if len(args) < 1 {
				return 0, fmt.Errorf("rsi needs 1 arg, got %d", len(args))
			}
			n := args[0].(int)
			if n <= 0 {
				return 0, fmt.Errorf("rsi window must be positive, got %d", n)
			}

			bars, err := ds.History(symbol)
			if err != nil {
				return 0, err
			}
			end, err := lastBarAtOrBefore(bars, currentDate)
			if err != nil {
				return 0, err
			}
			if end < n {
				return 0, data.DataGapError{Symbol: symbol, Date: currentDate}
			}
			gain, loss := 0.0, 0.0
			for i := end - n + 1; i <= end; i++ {
				delta := bars[i].Close - bars[i-1].Close
				if delta > 0 {
					gain += delta
				} else {
					loss -= delta
				}
			}
			rs := (gain / float64(n)) / (loss/float64(n) + epsilon)
			return 100 - (100 / (1 + rs)), nil
		},
	}
}

func lastBarAtOrBefore(bars []domain.Bar, date time.Time) (int, error) {
	for i := len(bars) - 1; i >= 0; i-- {
		if !bars[i].Date.After(date) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("no bars at or before %s", date.Format(evalDateLayout))
}

type ExpressionResult struct {
	Value float64
}

// EvaluateFactorExpression evaluates a user-configured factor
// expression for one symbol on one day. Expressions can only see data
// dated on or before the evaluation day.
func EvaluateFactorExpression(
	ds data.Service,
	expression string,
	symbol string,
	date time.Time,
) (*ExpressionResult, error) {
	eval := goval.NewEvaluator()
	variables := map[string]interface{}{
		"currentDate": date.Format(evalDateLayout),
	}

	functions := constructFunctionMap(ds, symbol, date)
	result, err := eval.Evaluate(expression, variables, functions)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate factor expression: %w", err)
	}

	r, ok := toFloat(result)
	if !ok {
		return nil, fmt.Errorf("failed to convert expression result to float")
	} else if math.IsNaN(r) {
		return nil, fmt.Errorf("calculated NaN as expression result")
	} else if math.IsInf(r, 0) {
		return nil, fmt.Errorf("calculated infinity as expression result")
	}

	return &ExpressionResult{
		Value: r,
	}, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch value := v.(type) {
	case float64:
		return value, true
	case int:
		return float64(value), true
	default:
		return 0, false
	}
}
