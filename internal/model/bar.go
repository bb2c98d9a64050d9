package model

import (
	"encoding/json"
	"time"
)

// PriceBar is one OHLCV bar for an instrument at a given timeframe.
// Primary key is (InstrumentID, Timeframe, Date). Within one instrument and
// timeframe, bars are read strictly ascending by Date.
type PriceBar struct {
	InstrumentID int64     `json:"instrument_id"`
	Timeframe    Timeframe `json:"timeframe"`
	Date         time.Time `json:"date"`
	Open         float64   `json:"open"`
	High         float64   `json:"high"`
	Low          float64   `json:"low"`
	Close        float64   `json:"close"`
	AdjClose     float64   `json:"adj_close"`
	Volume       float64   `json:"volume"`
	DeliveryPct  *float64  `json:"delivery_pct,omitempty"`
}

// MarshalJSON writes missing (NaN) prices as null.
func (b PriceBar) MarshalJSON() ([]byte, error) {
	type plain PriceBar
	return json.Marshal(struct {
		plain
		Open     *float64 `json:"open"`
		High     *float64 `json:"high"`
		Low      *float64 `json:"low"`
		Close    *float64 `json:"close"`
		AdjClose *float64 `json:"adj_close"`
	}{
		plain:    plain(b),
		Open:     Float(b.Open),
		High:     Float(b.High),
		Low:      Float(b.Low),
		Close:    Float(b.Close),
		AdjClose: Float(b.AdjClose),
	})
}

// Week52Stats holds the trailing one-year high/low of an instrument's daily bars.
type Week52Stats struct {
	InstrumentID int64     `json:"instrument_id"`
	High         float64   `json:"week52_high"`
	Low          float64   `json:"week52_low"`
	AsOf         time.Time `json:"as_of_date"`
}

// DateOnly truncates t to midnight UTC. All bar dates are stored this way.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
