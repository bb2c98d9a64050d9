package indicator

import "gonum.org/v1/gonum/stat"

// Bollinger returns the upper, middle and lower bands of close over period
// bars, where the middle band is the SMA and the outer bands sit mult sample
// standard deviations away from it.
func Bollinger(close []float64, period int, mult float64) (upper, middle, lower Series, err error) {
	if err := checkPeriod(period); err != nil {
		return nil, nil, nil, err
	}
	if err := checkFinite("close", close); err != nil {
		return nil, nil, nil, err
	}
	n := len(close)
	upper, middle, lower = Nulls(n), Nulls(n), Nulls(n)

	for i := period - 1; i < n; i++ {
		mean, std := stat.MeanStdDev(close[i-period+1:i+1], nil)
		if period == 1 {
			std = 0
		}
		middle[i] = Round2(mean)
		upper[i] = Round2(mean + mult*std)
		lower[i] = Round2(mean - mult*std)
	}
	return upper, middle, lower, nil
}
