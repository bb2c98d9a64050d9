package model

import (
	"math"
	"time"
)

// IndicatorRow holds the indicator panel for one (instrument, timeframe, date).
// Nil fields are undefined values (warm-up or a failed computation) and are
// stored as SQL NULL.
type IndicatorRow struct {
	InstrumentID int64     `json:"instrument_id"`
	Timeframe    Timeframe `json:"timeframe"`
	Date         time.Time `json:"date"`

	SMA20  *float64 `json:"sma_20"`
	SMA50  *float64 `json:"sma_50"`
	SMA200 *float64 `json:"sma_200"`

	RSI3  *float64 `json:"rsi_3"`
	RSI9  *float64 `json:"rsi_9"`
	RSI14 *float64 `json:"rsi_14"`

	MACD       *float64 `json:"macd"`
	MACDSignal *float64 `json:"macd_signal"`

	BBUpper  *float64 `json:"bb_upper"`
	BBMiddle *float64 `json:"bb_middle"`
	BBLower  *float64 `json:"bb_lower"`

	ATR14         *float64 `json:"atr_14"`
	Supertrend    *float64 `json:"supertrend"`
	SupertrendDir *int     `json:"supertrend_dir"`

	EMARSI9_3  *float64 `json:"ema_rsi_9_3"`
	WMARSI9_21 *float64 `json:"wma_rsi_9_21"`

	PctPriceChange *float64 `json:"pct_price_change"`
}

// Float converts a series value into a nullable field; NaN becomes nil.
func Float(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// Value dereferences a nullable field, returning NaN for nil.
func Value(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}

// AlignedPanelRow is a daily bar and its daily indicators enriched with the
// most recent weekly and monthly indicator rows dated on or before it.
// Weekly/Monthly are nil when no coarser row exists yet.
type AlignedPanelRow struct {
	Instrument Instrument    `json:"instrument"`
	Bar        PriceBar      `json:"bar"`
	Daily      IndicatorRow  `json:"daily"`
	Weekly     *IndicatorRow `json:"weekly,omitempty"`
	Monthly    *IndicatorRow `json:"monthly,omitempty"`
}

// Int converts a series value holding a whole number into a nullable int
// field; NaN becomes nil.
func Int(v float64) *int {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	i := int(v)
	return &i
}
