package scanner

import (
	"fmt"

	"marketpanel/internal/model"
)

// Momentum flags rows where short-term RSI is accelerating above its own
// smoothed averages. Unlike HilegaMilega it needs no pullback and no
// higher-timeframe confirmation.
//
//	close >= MinPrice
//	rsi_3 / rsi_9 >= 1.15
//	rsi_9 / ema_rsi_9_3 >= 1.04
//	ema_rsi_9_3 / wma_rsi_9_21 >= 1
//	rsi_3 > 50
type Momentum struct {
	MinPrice float64
}

// NewMomentum returns the scanner with a price floor of 100.
func NewMomentum() *Momentum { return &Momentum{MinPrice: 100} }

func (m *Momentum) Name() string { return "momentum" }

func (m *Momentum) Match(_ *model.AlignedPanelRow, r model.AlignedPanelRow) (Action, string, bool) {
	d := r.Daily
	if d.RSI3 == nil || d.RSI9 == nil || d.EMARSI9_3 == nil || d.WMARSI9_21 == nil {
		return "", "", false
	}
	rsi3, rsi9, ema, wma := *d.RSI3, *d.RSI9, *d.EMARSI9_3, *d.WMARSI9_21
	if rsi9 == 0 || ema == 0 || wma == 0 {
		return "", "", false
	}
	ok := r.Bar.Close >= m.MinPrice &&
		rsi3/rsi9 >= 1.15 &&
		rsi9/ema >= 1.04 &&
		ema/wma >= 1 &&
		rsi3 > 50
	if !ok {
		return "", "", false
	}
	return ActionBuy, fmt.Sprintf("rsi3 %.2f over rsi9 %.2f, ema %.2f over wma %.2f", rsi3, rsi9, ema, wma), true
}
