package indicator

import (
	"math"

	"github.com/markcheno/go-talib"
)

// SMA returns the simple moving average of values over period bars. The first
// period-1 bars after the first defined input are undefined, as is every bar
// when the series is shorter than period.
func SMA(values []float64, period int) (Series, error) {
	if err := checkPeriod(period); err != nil {
		return nil, err
	}
	start, err := firstDefined(values)
	if err != nil {
		return nil, err
	}
	out := Nulls(len(values))
	tail := values[start:]
	if len(tail) < period {
		return out, nil
	}

	// talib zero-fills its lookback; those slots stay NaN here.
	sma := talib.Sma(tail, period)
	for i := period - 1; i < len(tail); i++ {
		out[start+i] = Round2(sma[i])
	}
	return out, nil
}

// WMA returns the linearly weighted moving average of values over period
// bars, with weight k on the k-th oldest sample of each window.
func WMA(values []float64, period int) (Series, error) {
	if err := checkPeriod(period); err != nil {
		return nil, err
	}
	start, err := firstDefined(values)
	if err != nil {
		return nil, err
	}
	out := Nulls(len(values))
	tail := values[start:]
	if len(tail) < period {
		return out, nil
	}

	if period == 1 {
		for i, v := range tail {
			out[start+i] = Round2(v)
		}
		return out, nil
	}
	wma := talib.Wma(tail, period)
	for i := period - 1; i < len(tail); i++ {
		if !math.IsNaN(wma[i]) {
			out[start+i] = Round2(wma[i])
		}
	}
	return out, nil
}
