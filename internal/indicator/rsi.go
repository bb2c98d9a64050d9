package indicator

import "math"

// RSI calculates the Relative Strength Index of close using Wilder's
// smoothing of gains and losses.
//
// Any bar where RSI is undefined, including the warm-up bars and every bar
// whose average loss is zero, is filled with 100. The result is therefore
// fully defined and lies in [0, 100].
func RSI(close []float64, period int) (Series, error) {
	if err := checkPeriod(period); err != nil {
		return nil, err
	}
	if err := checkFinite("close", close); err != nil {
		return nil, err
	}

	out := make(Series, len(close))
	if len(close) == 0 {
		return out, nil
	}
	out[0] = 100

	gain, loss := newWilder(period), newWilder(period)
	for i := 1; i < len(close); i++ {
		delta := close[i] - close[i-1]
		ag := gain.Update(math.Max(delta, 0))
		al := loss.Update(math.Max(-delta, 0))

		// Zero average loss divides to undefined and falls through to 100.
		if math.IsNaN(ag) || math.IsNaN(al) || al == 0 {
			out[i] = 100
			continue
		}
		rs := ag / al
		out[i] = Round2(100 - 100/(1+rs))
	}
	return out, nil
}
