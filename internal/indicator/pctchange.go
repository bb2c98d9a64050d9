package indicator

import "math"

// PctChange returns the bar-over-bar percent change of close. The first bar
// is undefined, as is any bar following a zero close.
func PctChange(close []float64) (Series, error) {
	if err := checkFinite("close", close); err != nil {
		return nil, err
	}
	out := Nulls(len(close))
	for i := 1; i < len(close); i++ {
		if close[i-1] == 0 {
			continue
		}
		v := (close[i] - close[i-1]) / close[i-1] * 100
		if !math.IsInf(v, 0) {
			out[i] = Round2(v)
		}
	}
	return out, nil
}
