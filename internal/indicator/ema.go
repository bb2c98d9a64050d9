package indicator

import "math"

// ewm is a recursive exponential average seeded on its first observation:
// y0 = x0, yt = (1-alpha)*y(t-1) + alpha*xt. Output stays undefined until
// minPeriods observations have been seen.
// O(1) per update, no window storage.
type ewm struct {
	alpha      float64
	minPeriods int
	count      int
	current    float64
}

func newSpanEWM(span int) *ewm {
	return &ewm{alpha: 2.0 / float64(span+1)}
}

// newWilder returns the smoothing used by RSI and ATR (alpha = 1/period),
// undefined for the first period-1 observations.
func newWilder(period int) *ewm {
	return &ewm{alpha: 1.0 / float64(period), minPeriods: period}
}

// Update feeds x and returns the current value. A NaN observation leaves the
// state untouched.
func (e *ewm) Update(x float64) float64 {
	if !math.IsNaN(x) {
		if e.count == 0 {
			e.current = x
		} else {
			e.current = (1-e.alpha)*e.current + e.alpha*x
		}
		e.count++
	}
	return e.Value()
}

func (e *ewm) Value() float64 {
	if e.count == 0 || e.count < e.minPeriods {
		return math.NaN()
	}
	return e.current
}

func (e *ewm) Ready() bool { return e.count > 0 && e.count >= e.minPeriods }

func spanEMA(values []float64, span int) Series {
	e := newSpanEWM(span)
	out := make(Series, len(values))
	for i, v := range values {
		out[i] = e.Update(v)
	}
	return out
}

// EMA returns the span-based exponential moving average of values
// (alpha = 2/(span+1)), defined from the first defined input. Leading NaNs
// are allowed; a NaN after the first value is an error.
func EMA(values []float64, span int) (Series, error) {
	if err := checkPeriod(span); err != nil {
		return nil, err
	}
	if _, err := firstDefined(values); err != nil {
		return nil, err
	}
	return round2All(spanEMA(values, span)), nil
}
