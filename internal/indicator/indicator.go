// Package indicator computes the technical indicator panel over a window of
// price bars.
//
// Every function in this package is pure. Series are []float64 aligned to the
// input bars, with NaN standing in for an undefined value. Values are rounded
// to two decimals at the edge of each function, while intermediate state is
// carried at full precision.
package indicator

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Series is a column of indicator values aligned to a bar window. NaN marks
// an undefined value.
type Series []float64

var (
	// ErrPeriod is returned when a window length or span is not positive.
	ErrPeriod = errors.New("indicator: period must be positive")
	// ErrLength is returned when parallel input series differ in length.
	ErrLength = errors.New("indicator: input series length mismatch")
	// ErrGap is returned when a series has an undefined value after its
	// first defined one.
	ErrGap = errors.New("indicator: undefined value inside series")
)

// Nulls returns a series of n undefined values.
func Nulls(n int) Series {
	s := make(Series, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}

// Round2 rounds v to two decimals, half away from zero. Non-finite values
// pass through unchanged.
func Round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

func round2All(s Series) Series {
	for i, v := range s {
		s[i] = Round2(v)
	}
	return s
}

func checkPeriod(period int) error {
	if period <= 0 {
		return fmt.Errorf("%w: got %d", ErrPeriod, period)
	}
	return nil
}

func checkLengths(n int, series ...[]float64) error {
	for _, s := range series {
		if len(s) != n {
			return fmt.Errorf("%w: %d vs %d", ErrLength, len(s), n)
		}
	}
	return nil
}

// firstDefined returns the index of the first non-NaN value, or len(values)
// if there is none. Any NaN after that index is a gap.
func firstDefined(values []float64) (int, error) {
	start := len(values)
	for i, v := range values {
		if !math.IsNaN(v) {
			start = i
			break
		}
	}
	for i := start; i < len(values); i++ {
		if math.IsNaN(values[i]) {
			return 0, fmt.Errorf("%w at index %d", ErrGap, i)
		}
	}
	return start, nil
}

// checkFinite rejects price inputs carrying NaN or Inf anywhere.
func checkFinite(name string, values []float64) error {
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("indicator: non-finite %s at index %d", name, i)
		}
	}
	return nil
}
