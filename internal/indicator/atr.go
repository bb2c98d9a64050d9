package indicator

import "math"

// TrueRange returns max(high-low, |high-prevClose|, |low-prevClose|) per bar.
// The first bar has no previous close and uses high-low alone.
func TrueRange(high, low, close []float64) (Series, error) {
	if err := checkLengths(len(close), high, low); err != nil {
		return nil, err
	}
	for name, s := range map[string][]float64{"high": high, "low": low, "close": close} {
		if err := checkFinite(name, s); err != nil {
			return nil, err
		}
	}
	tr := make(Series, len(close))
	for i := range close {
		tr[i] = high[i] - low[i]
		if i > 0 {
			tr[i] = math.Max(tr[i], math.Max(math.Abs(high[i]-close[i-1]), math.Abs(low[i]-close[i-1])))
		}
	}
	return tr, nil
}

// ATR returns the Average True Range: Wilder smoothing of the true range,
// undefined for the first period-1 bars.
func ATR(high, low, close []float64, period int) (Series, error) {
	if err := checkPeriod(period); err != nil {
		return nil, err
	}
	tr, err := TrueRange(high, low, close)
	if err != nil {
		return nil, err
	}
	w := newWilder(period)
	out := make(Series, len(tr))
	for i, v := range tr {
		out[i] = Round2(w.Update(v))
	}
	return out, nil
}
