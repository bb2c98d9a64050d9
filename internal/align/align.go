// Package align builds the multi-timeframe analysis panel: every daily bar
// with its daily indicators, enriched with the latest weekly and monthly
// indicator rows dated on or before it.
package align

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"marketpanel/internal/logger"
	"marketpanel/internal/metrics"
	"marketpanel/internal/model"
	"marketpanel/internal/registry"
)

// CoarseLead is how far before the panel start coarse rows are loaded, so
// the first daily rows already see the previous week and month.
const CoarseLead = 2 // months

// AsOf returns, for each date, the index of the coarse row with the greatest
// date not after it, or -1 when every coarse row is later. Both inputs must
// be sorted ascending; the join never looks forward.
func AsOf(dates []time.Time, coarse []model.IndicatorRow) []int {
	out := make([]int, len(dates))
	j := -1
	for i, d := range dates {
		for j+1 < len(coarse) && !coarse[j+1].Date.After(d) {
			j++
		}
		out[i] = j
	}
	return out
}

// Align joins one instrument's daily bars with its daily, weekly and monthly
// indicator rows. Bars without a daily indicator row are left out. All
// inputs must be sorted ascending by date.
func Align(in model.Instrument, bars []model.PriceBar, daily, weekly, monthly []model.IndicatorRow) []model.AlignedPanelRow {
	// Inner join of bars and daily rows on date.
	var (
		joined []model.AlignedPanelRow
		dates  []time.Time
	)
	k := 0
	for _, b := range bars {
		for k < len(daily) && daily[k].Date.Before(b.Date) {
			k++
		}
		if k == len(daily) {
			break
		}
		if !daily[k].Date.Equal(b.Date) {
			continue
		}
		joined = append(joined, model.AlignedPanelRow{Instrument: in, Bar: b, Daily: daily[k]})
		dates = append(dates, b.Date)
	}

	for i, w := range AsOf(dates, weekly) {
		if w >= 0 {
			row := weekly[w]
			joined[i].Weekly = &row
		}
	}
	for i, m := range AsOf(dates, monthly) {
		if m >= 0 {
			row := monthly[m]
			joined[i].Monthly = &row
		}
	}
	return joined
}

// Assets resolves an asset key to its storage handles.
type Assets interface {
	Resolve(key string) (registry.Handles, error)
}

// Builder loads panels from storage.
type Builder struct {
	assets  Assets
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewBuilder returns a Builder. m may be nil.
func NewBuilder(assets Assets, m *metrics.Metrics, log zerolog.Logger) *Builder {
	return &Builder{assets: assets, metrics: m, log: logger.Component(log, "align")}
}

// Panel builds the aligned panel of every active instrument of asset for
// daily dates in [from, to]. Rows are grouped by instrument in registry
// order and ascending by date within one instrument. An unknown asset
// returns a *model.ConfigError.
func (b *Builder) Panel(ctx context.Context, asset string, from, to time.Time) ([]model.AlignedPanelRow, error) {
	h, err := b.assets.Resolve(asset)
	if err != nil {
		return nil, err
	}
	instruments, err := h.Symbols.ActiveInstruments(ctx)
	if err != nil {
		return nil, fmt.Errorf("panel %s: list instruments: %w", asset, err)
	}

	var coarseFrom time.Time
	if !from.IsZero() {
		coarseFrom = from.AddDate(0, -CoarseLead, 0)
	}

	var out []model.AlignedPanelRow
	for _, in := range instruments {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := b.instrumentPanel(ctx, h, in, from, to, coarseFrom)
		if err != nil {
			return nil, fmt.Errorf("panel %s %s: %w", asset, in.Label(), err)
		}
		out = append(out, rows...)
	}

	if b.metrics != nil {
		b.metrics.PanelRows.Add(float64(len(out)))
	}
	b.log.Debug().Str("asset", asset).Int("instruments", len(instruments)).Int("rows", len(out)).Msg("panel built")
	return out, nil
}

func (b *Builder) instrumentPanel(ctx context.Context, h registry.Handles, in model.Instrument, from, to, coarseFrom time.Time) ([]model.AlignedPanelRow, error) {
	bars, err := h.Prices.ReadBars(ctx, in.ID, model.Daily, from, to)
	if err != nil {
		return nil, fmt.Errorf("read bars: %w", err)
	}
	if len(bars) == 0 {
		return nil, nil
	}
	daily, err := h.Indicators.ReadIndicators(ctx, in.ID, model.Daily, from, to)
	if err != nil {
		return nil, fmt.Errorf("read daily indicators: %w", err)
	}
	weekly, err := h.Indicators.ReadIndicators(ctx, in.ID, model.Weekly, coarseFrom, to)
	if err != nil {
		return nil, fmt.Errorf("read weekly indicators: %w", err)
	}
	monthly, err := h.Indicators.ReadIndicators(ctx, in.ID, model.Monthly, coarseFrom, to)
	if err != nil {
		return nil, fmt.Errorf("read monthly indicators: %w", err)
	}
	return Align(in, bars, daily, weekly, monthly), nil
}
