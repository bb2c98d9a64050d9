package indicator

import (
	"fmt"

	"github.com/rs/zerolog"

	"marketpanel/internal/model"
)

// Panel parameters.
const (
	SMAShort, SMAMedium, SMALong = 20, 50, 200
	RSIFast, RSIMedium, RSISlow  = 3, 9, 14
	MACDFast, MACDSlow, MACDSig  = 12, 26, 9
	BollingerPeriod              = 20
	BollingerMult                = 2.0
	ATRPeriod                    = 14
	SupertrendPeriod             = 10
	SupertrendMult               = 3.0
	EMARSISpan                   = 3
	WMARSIPeriod                 = 21
)

// Failure records one indicator that could not be computed. Its columns are
// left undefined in every row of the Result.
type Failure struct {
	Indicator string
	Err       error
}

func (f Failure) Error() string { return fmt.Sprintf("%s: %v", f.Indicator, f.Err) }

// Result is the indicator panel for a bar window, one row per input bar.
type Result struct {
	Rows     []model.IndicatorRow
	Failures []Failure
}

// Calculator computes the full indicator panel. It is stateless apart from
// its logger and safe for concurrent use.
type Calculator struct {
	log zerolog.Logger
}

// NewCalculator returns a Calculator that logs indicator failures to log.
func NewCalculator(log zerolog.Logger) *Calculator {
	return &Calculator{log: log.With().Str("component", "indicator").Logger()}
}

// Compute derives every indicator for bars, which must be ordered by date
// ascending and belong to a single instrument and timeframe. A failing
// indicator is logged and yields undefined columns; it never aborts the panel.
func (c *Calculator) Compute(bars []model.PriceBar) Result {
	n := len(bars)
	high, low, closes, adj := make([]float64, n), make([]float64, n), make([]float64, n), make([]float64, n)
	for i, b := range bars {
		high[i], low[i], closes[i], adj[i] = b.High, b.Low, b.Close, b.AdjClose
	}

	var res Result
	run := func(name string, width int, fn func() ([]Series, error)) []Series {
		out, f := guard(name, n, width, fn)
		if f != nil {
			res.Failures = append(res.Failures, *f)
			ev := c.log.Warn().Str("indicator", name).Err(f.Err).Int("bars", n)
			if n > 0 {
				ev = ev.Int64("instrument_id", bars[0].InstrumentID).Str("timeframe", bars[0].Timeframe.String())
			}
			ev.Msg("indicator computation failed")
		}
		return out
	}
	single := func(s Series, err error) ([]Series, error) { return []Series{s}, err }

	sma20 := run("sma_20", 1, func() ([]Series, error) { return single(SMA(adj, SMAShort)) })
	sma50 := run("sma_50", 1, func() ([]Series, error) { return single(SMA(adj, SMAMedium)) })
	sma200 := run("sma_200", 1, func() ([]Series, error) { return single(SMA(adj, SMALong)) })
	rsi3 := run("rsi_3", 1, func() ([]Series, error) { return single(RSI(closes, RSIFast)) })
	rsi9 := run("rsi_9", 1, func() ([]Series, error) { return single(RSI(closes, RSIMedium)) })
	rsi14 := run("rsi_14", 1, func() ([]Series, error) { return single(RSI(closes, RSISlow)) })
	macd := run("macd", 2, func() ([]Series, error) {
		l, s, err := MACD(closes, MACDFast, MACDSlow, MACDSig)
		return []Series{l, s}, err
	})
	bb := run("bollinger", 3, func() ([]Series, error) {
		u, m, l, err := Bollinger(closes, BollingerPeriod, BollingerMult)
		return []Series{u, m, l}, err
	})
	atr := run("atr_14", 1, func() ([]Series, error) { return single(ATR(high, low, closes, ATRPeriod)) })
	st := run("supertrend", 2, func() ([]Series, error) {
		l, d, err := Supertrend(high, low, closes, SupertrendPeriod, SupertrendMult)
		return []Series{l, d}, err
	})
	// Derived from RSI(9); they stay undefined when RSI(9) failed.
	emaRSI := run("ema_rsi_9_3", 1, func() ([]Series, error) { return single(EMA(rsi9[0], EMARSISpan)) })
	wmaRSI := run("wma_rsi_9_21", 1, func() ([]Series, error) { return single(WMA(rsi9[0], WMARSIPeriod)) })
	pct := run("pct_price_change", 1, func() ([]Series, error) { return single(PctChange(closes)) })

	res.Rows = make([]model.IndicatorRow, n)
	for i, b := range bars {
		res.Rows[i] = model.IndicatorRow{
			InstrumentID:   b.InstrumentID,
			Timeframe:      b.Timeframe,
			Date:           b.Date,
			SMA20:          model.Float(sma20[0][i]),
			SMA50:          model.Float(sma50[0][i]),
			SMA200:         model.Float(sma200[0][i]),
			RSI3:           model.Float(rsi3[0][i]),
			RSI9:           model.Float(rsi9[0][i]),
			RSI14:          model.Float(rsi14[0][i]),
			MACD:           model.Float(macd[0][i]),
			MACDSignal:     model.Float(macd[1][i]),
			BBUpper:        model.Float(bb[0][i]),
			BBMiddle:       model.Float(bb[1][i]),
			BBLower:        model.Float(bb[2][i]),
			ATR14:          model.Float(atr[0][i]),
			Supertrend:     model.Float(st[0][i]),
			SupertrendDir:  model.Int(st[1][i]),
			EMARSI9_3:      model.Float(emaRSI[0][i]),
			WMARSI9_21:     model.Float(wmaRSI[0][i]),
			PctPriceChange: model.Float(pct[0][i]),
		}
	}
	return res
}

// guard runs fn and checks it produced width series of n values. Errors and
// panics are converted into a Failure, with all-undefined outputs in place.
func guard(name string, n, width int, fn func() ([]Series, error)) (out []Series, f *Failure) {
	fail := func(err error) ([]Series, *Failure) {
		nulls := make([]Series, width)
		for i := range nulls {
			nulls[i] = Nulls(n)
		}
		return nulls, &Failure{Indicator: name, Err: err}
	}
	defer func() {
		if r := recover(); r != nil {
			out, f = fail(fmt.Errorf("panic: %v", r))
		}
	}()

	out, err := fn()
	if err != nil {
		return fail(err)
	}
	if len(out) != width {
		return fail(fmt.Errorf("expected %d outputs, got %d", width, len(out)))
	}
	for _, s := range out {
		if len(s) != n {
			return fail(fmt.Errorf("%w: %d vs %d", ErrLength, len(s), n))
		}
	}
	return out, nil
}
