package scanner

import (
	"fmt"

	"marketpanel/internal/model"
)

// HilegaMilega flags pullbacks below the 20-day average where short-term
// RSI momentum is turning up inside a weekly and monthly uptrend.
//
// A row matches when all of the following hold:
//
//	adj_close >= MinPrice and adj_close < sma_20
//	rsi_3 / rsi_9 >= 1.15
//	rsi_9 / ema_rsi_9_3 >= 1.04
//	ema_rsi_9_3 / wma_rsi_9_21 >= 1
//	rsi_3 < 60
//	weekly rsi_3 > 50 and monthly rsi_3 > 50
//	pct_price_change <= 5
//
// Any undefined input fails the row.
type HilegaMilega struct {
	MinPrice float64
}

// NewHilegaMilega returns the scanner with its usual price floor of 100.
func NewHilegaMilega() *HilegaMilega { return &HilegaMilega{MinPrice: 100} }

func (h *HilegaMilega) Name() string { return "hilega_milega" }

func (h *HilegaMilega) Match(_ *model.AlignedPanelRow, r model.AlignedPanelRow) (Action, string, bool) {
	if r.Weekly == nil || r.Monthly == nil {
		return "", "", false
	}
	d := r.Daily
	if d.SMA20 == nil || d.RSI3 == nil || d.RSI9 == nil || d.EMARSI9_3 == nil ||
		d.WMARSI9_21 == nil || d.PctPriceChange == nil || r.Weekly.RSI3 == nil || r.Monthly.RSI3 == nil {
		return "", "", false
	}
	px := r.Bar.AdjClose
	rsi3, rsi9, ema, wma := *d.RSI3, *d.RSI9, *d.EMARSI9_3, *d.WMARSI9_21
	if rsi9 == 0 || ema == 0 || wma == 0 {
		return "", "", false
	}

	ok := px >= h.MinPrice &&
		px < *d.SMA20 &&
		rsi3/rsi9 >= 1.15 &&
		rsi9/ema >= 1.04 &&
		ema/wma >= 1 &&
		rsi3 < 60 &&
		*r.Weekly.RSI3 > 50 &&
		*r.Monthly.RSI3 > 50 &&
		*d.PctPriceChange <= 5
	if !ok {
		return "", "", false
	}
	return ActionBuy, fmt.Sprintf("rsi3 %.2f over rsi9 %.2f below sma20 %.2f, weekly rsi3 %.2f, monthly rsi3 %.2f",
		rsi3, rsi9, *d.SMA20, *r.Weekly.RSI3, *r.Monthly.RSI3), true
}
