package postgres

import (
	"math"
	"time"

	"marketpanel/internal/model"
)

type symbolRecord struct {
	SymbolID    int64   `gorm:"column:symbol_id;primaryKey"`
	Name        string  `gorm:"column:name;not null"`
	YahooSymbol string  `gorm:"column:yahoo_symbol;uniqueIndex;not null"`
	Exchange    *string `gorm:"column:exchange"`
	IsActive    bool    `gorm:"column:is_active;default:true"`
}

type barRecord struct {
	SymbolID  int64     `gorm:"column:symbol_id;primaryKey"`
	Timeframe string    `gorm:"column:timeframe;primaryKey"`
	Date      time.Time `gorm:"column:date;type:date;primaryKey"`
	Open      *float64  `gorm:"column:open;type:real"`
	High      *float64  `gorm:"column:high;type:real"`
	Low       *float64  `gorm:"column:low;type:real"`
	Close     *float64  `gorm:"column:close;type:real"`
	AdjClose  *float64  `gorm:"column:adj_close;type:real"`
	Volume    *float64  `gorm:"column:volume;type:real"`
	DelvPct   *float64  `gorm:"column:delv_pct;type:real"`
}

type indicatorRecord struct {
	SymbolID       int64     `gorm:"column:symbol_id;primaryKey"`
	Timeframe      string    `gorm:"column:timeframe;primaryKey"`
	Date           time.Time `gorm:"column:date;type:date;primaryKey"`
	SMA20          *float64  `gorm:"column:sma_20;type:real"`
	SMA50          *float64  `gorm:"column:sma_50;type:real"`
	SMA200         *float64  `gorm:"column:sma_200;type:real"`
	RSI3           *float64  `gorm:"column:rsi_3;type:real"`
	RSI9           *float64  `gorm:"column:rsi_9;type:real"`
	RSI14          *float64  `gorm:"column:rsi_14;type:real"`
	MACD           *float64  `gorm:"column:macd;type:real"`
	MACDSignal     *float64  `gorm:"column:macd_signal;type:real"`
	BBUpper        *float64  `gorm:"column:bb_upper;type:real"`
	BBMiddle       *float64  `gorm:"column:bb_middle;type:real"`
	BBLower        *float64  `gorm:"column:bb_lower;type:real"`
	ATR14          *float64  `gorm:"column:atr_14;type:real"`
	Supertrend     *float64  `gorm:"column:supertrend;type:real"`
	SupertrendDir  *int      `gorm:"column:supertrend_dir"`
	EMARSI9_3      *float64  `gorm:"column:ema_rsi_9_3;type:real"`
	WMARSI9_21     *float64  `gorm:"column:wma_rsi_9_21;type:real"`
	PctPriceChange *float64  `gorm:"column:pct_price_change;type:real"`
}

type statsRecord struct {
	SymbolID   int64     `gorm:"column:symbol_id;primaryKey"`
	Week52High float64   `gorm:"column:week52_high;type:real"`
	Week52Low  float64   `gorm:"column:week52_low;type:real"`
	AsOfDate   time.Time `gorm:"column:as_of_date;type:date"`
}

func (r symbolRecord) toModel() model.Instrument {
	in := model.Instrument{ID: r.SymbolID, Name: r.Name, Symbol: r.YahooSymbol, Active: r.IsActive}
	if r.Exchange != nil {
		in.Exchange = *r.Exchange
	}
	return in
}

func orZero(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

// orNaN maps a NULL price to NaN, which indicator math refuses.
func orNaN(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}

func (r barRecord) toModel() model.PriceBar {
	b := model.PriceBar{
		InstrumentID: r.SymbolID,
		Timeframe:    model.Timeframe(r.Timeframe),
		Date:         model.DateOnly(r.Date),
		Open:         orNaN(r.Open),
		High:         orNaN(r.High),
		Low:          orNaN(r.Low),
		Close:        orNaN(r.Close),
		AdjClose:     orNaN(r.Close),
		Volume:       orZero(r.Volume),
		DeliveryPct:  r.DelvPct,
	}
	if r.AdjClose != nil {
		b.AdjClose = *r.AdjClose
	}
	return b
}

func fromIndicator(r model.IndicatorRow) indicatorRecord {
	return indicatorRecord{
		SymbolID:       r.InstrumentID,
		Timeframe:      string(r.Timeframe),
		Date:           model.DateOnly(r.Date),
		SMA20:          r.SMA20,
		SMA50:          r.SMA50,
		SMA200:         r.SMA200,
		RSI3:           r.RSI3,
		RSI9:           r.RSI9,
		RSI14:          r.RSI14,
		MACD:           r.MACD,
		MACDSignal:     r.MACDSignal,
		BBUpper:        r.BBUpper,
		BBMiddle:       r.BBMiddle,
		BBLower:        r.BBLower,
		ATR14:          r.ATR14,
		Supertrend:     r.Supertrend,
		SupertrendDir:  r.SupertrendDir,
		EMARSI9_3:      r.EMARSI9_3,
		WMARSI9_21:     r.WMARSI9_21,
		PctPriceChange: r.PctPriceChange,
	}
}

func (r indicatorRecord) toModel() model.IndicatorRow {
	return model.IndicatorRow{
		InstrumentID:   r.SymbolID,
		Timeframe:      model.Timeframe(r.Timeframe),
		Date:           model.DateOnly(r.Date),
		SMA20:          r.SMA20,
		SMA50:          r.SMA50,
		SMA200:         r.SMA200,
		RSI3:           r.RSI3,
		RSI9:           r.RSI9,
		RSI14:          r.RSI14,
		MACD:           r.MACD,
		MACDSignal:     r.MACDSignal,
		BBUpper:        r.BBUpper,
		BBMiddle:       r.BBMiddle,
		BBLower:        r.BBLower,
		ATR14:          r.ATR14,
		Supertrend:     r.Supertrend,
		SupertrendDir:  r.SupertrendDir,
		EMARSI9_3:      r.EMARSI9_3,
		WMARSI9_21:     r.WMARSI9_21,
		PctPriceChange: r.PctPriceChange,
	}
}
