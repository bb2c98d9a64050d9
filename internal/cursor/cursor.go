// Package cursor resolves the bar window an incremental indicator refresh
// must compute over, and filters the computed rows down to the ones that are
// new since the last refresh.
package cursor

import (
	"context"
	"fmt"
	"time"

	"marketpanel/internal/model"
)

// Window is the set of bars to compute over for one (instrument, timeframe).
type Window struct {
	// Watermark is the latest stored indicator date, nil on a full backfill.
	Watermark *time.Time
	// Bars holds the lookback bars dated on or before Watermark followed by
	// every bar after it, ascending.
	Bars []model.PriceBar
	// Lookback is the number of leading bars dated on or before Watermark.
	Lookback int
}

// Full reports whether the window covers the instrument's whole history.
func (w Window) Full() bool { return w.Watermark == nil }

// NewBars returns the number of bars dated after the watermark.
func (w Window) NewBars() int { return len(w.Bars) - w.Lookback }

// Fresh keeps the rows dated strictly after the watermark. Rows at or before
// it are recomputed only to warm the indicators up and are never persisted.
func (w Window) Fresh(rows []model.IndicatorRow) []model.IndicatorRow {
	if w.Watermark == nil {
		return rows
	}
	out := make([]model.IndicatorRow, 0, len(rows))
	for _, r := range rows {
		if r.Date.After(*w.Watermark) {
			out = append(out, r)
		}
	}
	return out
}

// Resolve builds the window for one (instrument, timeframe).
//
// Without a watermark the window is the full history. With watermark W it is
// the last lookbackRows+1 bars dated on or before W followed by every bar
// dated after W. The extra bar is the one at W itself, so lookbackRows bars of
// history precede it. When fewer prior bars exist, all of them are used.
func Resolve(ctx context.Context, prices model.PriceSource, sink model.IndicatorSink, instrumentID int64, tf model.Timeframe, lookbackRows int) (Window, error) {
	if lookbackRows < 0 {
		return Window{}, model.NegativeLookback(lookbackRows)
	}

	wm, err := sink.Watermark(ctx, instrumentID, tf)
	if err != nil {
		return Window{}, fmt.Errorf("cursor watermark: %w", err)
	}

	if wm == nil {
		bars, err := prices.ReadBars(ctx, instrumentID, tf, time.Time{}, time.Time{})
		if err != nil {
			return Window{}, fmt.Errorf("cursor read full history: %w", err)
		}
		return Window{Bars: bars}, validate(bars, instrumentID, tf)
	}

	prior, err := prices.ReadBarsUntil(ctx, instrumentID, tf, *wm, lookbackRows+1)
	if err != nil {
		return Window{}, fmt.Errorf("cursor read lookback: %w", err)
	}
	fresh, err := prices.ReadBarsAfter(ctx, instrumentID, tf, *wm)
	if err != nil {
		return Window{}, fmt.Errorf("cursor read new bars: %w", err)
	}

	bars := make([]model.PriceBar, 0, len(prior)+len(fresh))
	bars = append(bars, prior...)
	bars = append(bars, fresh...)
	w := Window{Watermark: wm, Bars: bars, Lookback: len(prior)}
	return w, validate(bars, instrumentID, tf)
}

// validate rejects windows that are out of order or mix keys.
func validate(bars []model.PriceBar, instrumentID int64, tf model.Timeframe) error {
	for i, b := range bars {
		if b.InstrumentID != instrumentID || b.Timeframe != tf {
			return fmt.Errorf("cursor: bar %d belongs to %d/%s, want %d/%s", i, b.InstrumentID, b.Timeframe, instrumentID, tf)
		}
		if i > 0 && !b.Date.After(bars[i-1].Date) {
			return fmt.Errorf("cursor: bar dates not strictly ascending at %s", b.Date.Format(time.DateOnly))
		}
	}
	return nil
}
