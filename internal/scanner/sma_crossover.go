package scanner

import (
	"fmt"

	"marketpanel/internal/model"
)

// SMACrossover flags daily crosses of the 20-day over the 50-day average.
//
// Buy: sma_20 crosses above sma_50 (golden cross).
// Sell: sma_20 crosses below sma_50 (death cross).
//
// With the RSI filter on, buys are dropped while rsi_14 > 70 and sells while
// rsi_14 < 30.
type SMACrossover struct {
	RSIFilter bool
}

func (s *SMACrossover) Name() string { return "sma_crossover" }

func (s *SMACrossover) Match(prev *model.AlignedPanelRow, r model.AlignedPanelRow) (Action, string, bool) {
	if prev == nil {
		return "", "", false
	}
	pf, ps, f, sl := prev.Daily.SMA20, prev.Daily.SMA50, r.Daily.SMA20, r.Daily.SMA50
	if pf == nil || ps == nil || f == nil || sl == nil {
		return "", "", false
	}
	rsi := r.Daily.RSI14

	switch {
	case *pf <= *ps && *f > *sl:
		if s.RSIFilter && rsi != nil && *rsi > 70 {
			return "", "", false
		}
		return ActionBuy, fmt.Sprintf("golden cross: sma20 %.2f > sma50 %.2f", *f, *sl), true
	case *pf >= *ps && *f < *sl:
		if s.RSIFilter && rsi != nil && *rsi < 30 {
			return "", "", false
		}
		return ActionSell, fmt.Sprintf("death cross: sma20 %.2f < sma50 %.2f", *f, *sl), true
	}
	return "", "", false
}
