package indicator

// MACD returns the MACD line, EMA(fast) - EMA(slow) of close, and its signal
// line, an EMA(signal) of the unrounded MACD line. Both are defined from the
// first bar.
func MACD(close []float64, fast, slow, signal int) (line, sig Series, err error) {
	for _, p := range []int{fast, slow, signal} {
		if err := checkPeriod(p); err != nil {
			return nil, nil, err
		}
	}
	if err := checkFinite("close", close); err != nil {
		return nil, nil, err
	}
	ef, es := spanEMA(close, fast), spanEMA(close, slow)
	line = make(Series, len(close))
	for i := range close {
		line[i] = ef[i] - es[i]
	}
	sig = spanEMA(line, signal)
	return round2All(line), round2All(sig), nil
}
