// Package stats maintains the 52-week high/low table of each asset class.
package stats

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"

	"marketpanel/internal/logger"
	"marketpanel/internal/metrics"
	"marketpanel/internal/model"
	"marketpanel/internal/registry"
)

// Assets resolves an asset key to its storage handles.
type Assets interface {
	Resolve(key string) (registry.Handles, error)
}

// Refresher recomputes 52-week stats from daily bars.
type Refresher struct {
	assets  Assets
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewRefresher returns a Refresher. m may be nil.
func NewRefresher(assets Assets, m *metrics.Metrics, log zerolog.Logger) *Refresher {
	return &Refresher{assets: assets, metrics: m, log: logger.Component(log, "stats")}
}

// Window returns the daily date range the stats as of asOf cover:
// [asOf - 1 year, asOf].
func Window(asOf time.Time) (from, to time.Time) {
	to = model.DateOnly(asOf)
	return to.AddDate(-1, 0, 0), to
}

// Compute returns the high/low of bars, which must be daily bars of one
// instrument. ok is false when bars carry no finite high/low.
func Compute(id int64, bars []model.PriceBar, asOf time.Time) (model.Week52Stats, bool) {
	highs := make([]float64, 0, len(bars))
	lows := make([]float64, 0, len(bars))
	for _, b := range bars {
		if !math.IsNaN(b.High) && !math.IsInf(b.High, 0) {
			highs = append(highs, b.High)
		}
		if !math.IsNaN(b.Low) && !math.IsInf(b.Low, 0) {
			lows = append(lows, b.Low)
		}
	}
	if len(highs) == 0 || len(lows) == 0 {
		return model.Week52Stats{}, false
	}
	return model.Week52Stats{
		InstrumentID: id,
		High:         floats.Max(highs),
		Low:          floats.Min(lows),
		AsOf:         model.DateOnly(asOf),
	}, true
}

// Refresh recomputes the stats of every active instrument of asset and
// upserts them in one call. Instruments without daily bars in the window
// are skipped. It returns the number of rows written.
func (r *Refresher) Refresh(ctx context.Context, asset string, asOf time.Time) (int, error) {
	h, err := r.assets.Resolve(asset)
	if err != nil {
		return 0, err
	}
	instruments, err := h.Symbols.ActiveInstruments(ctx)
	if err != nil {
		return 0, fmt.Errorf("stats %s: list instruments: %w", asset, err)
	}

	from, to := Window(asOf)
	var out []model.Week52Stats
	for _, in := range instruments {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		bars, err := h.Prices.ReadBars(ctx, in.ID, model.Daily, from, to)
		if err != nil {
			return 0, fmt.Errorf("stats %s %s: %w", asset, in.Label(), err)
		}
		if st, ok := Compute(in.ID, bars, to); ok {
			out = append(out, st)
		}
	}
	if len(out) == 0 {
		r.log.Warn().Str("asset", asset).Msg("no daily bars in the 52-week window")
		return 0, nil
	}

	n, err := h.Stats.UpsertStats(ctx, out)
	if err != nil {
		return 0, fmt.Errorf("stats %s: upsert: %w", asset, err)
	}
	if r.metrics != nil {
		r.metrics.StatsRows.Add(float64(n))
	}
	r.log.Info().Str("asset", asset).Int("rows", n).Time("as_of", to).Msg("52-week stats updated")
	return n, nil
}
