package indicator

import "math"

// Supertrend direction values.
const (
	Downtrend = -1
	Uptrend   = 1
)

// Supertrend runs the ATR(period) band ratchet over the bars and returns the
// supertrend line and its direction (+1 up, -1 down, NaN undefined).
//
// The recurrence starts at the first bar with a defined ATR. That bar takes
// the raw upper band and a downtrend; every bar before it is undefined in
// both outputs. After the start, bands only move against the trend when the
// previous close has broken through them.
func Supertrend(high, low, close []float64, period int, mult float64) (line, dir Series, err error) {
	atr, err := ATR(high, low, close, period)
	if err != nil {
		return nil, nil, err
	}
	n := len(close)
	line, dir = Nulls(n), Nulls(n)

	start := -1
	for i, v := range atr {
		if !math.IsNaN(v) {
			start = i
			break
		}
	}
	if start < 0 {
		return line, dir, nil
	}

	var upper, lower, st float64
	for t := start; t < n; t++ {
		mid := (high[t] + low[t]) / 2
		basicUpper := mid + mult*atr[t]
		basicLower := mid - mult*atr[t]

		if t == start {
			upper, lower, st = basicUpper, basicLower, basicUpper
			line[t], dir[t] = st, Downtrend
			continue
		}

		prevClose := close[t-1]
		if basicUpper < upper || prevClose > upper {
			upper = basicUpper
		}
		if basicLower > lower || prevClose < lower {
			lower = basicLower
		}

		if close[t] > st {
			st, dir[t] = lower, Uptrend
		} else {
			st, dir[t] = upper, Downtrend
		}
		line[t] = st
	}
	return round2All(line), dir, nil
}
