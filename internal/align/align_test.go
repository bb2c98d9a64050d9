package align

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketpanel/internal/metrics"
	"marketpanel/internal/model"
	"marketpanel/internal/registry"
	"marketpanel/internal/store/memory"
)

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func row(tf model.Timeframe, d string, rsi3 float64) model.IndicatorRow {
	return model.IndicatorRow{InstrumentID: 1, Timeframe: tf, Date: date(d), RSI3: model.Float(rsi3)}
}

func TestAsOf(t *testing.T) {
	weekly := []model.IndicatorRow{
		row(model.Weekly, "2024-03-04", 40),
		row(model.Weekly, "2024-03-11", 55),
		row(model.Weekly, "2024-03-18", 70),
	}
	dates := []time.Time{date("2024-03-01"), date("2024-03-04"), date("2024-03-15"), date("2024-03-18"), date("2024-04-02")}

	assert.Equal(t, []int{-1, 0, 1, 2, 2}, AsOf(dates, weekly))
	assert.Equal(t, []int{-1, -1}, AsOf(dates[:2], nil))
	assert.Empty(t, AsOf(nil, weekly))
}

func TestAlign_NeverLooksForward(t *testing.T) {
	in := model.Instrument{ID: 1, Symbol: "AAA"}
	var bars []model.PriceBar
	var daily []model.IndicatorRow
	for _, d := range []string{"2024-02-28", "2024-03-01", "2024-03-11", "2024-03-15"} {
		bars = append(bars, model.PriceBar{InstrumentID: 1, Timeframe: model.Daily, Date: date(d), Close: 100})
		daily = append(daily, row(model.Daily, d, 30))
	}
	weekly := []model.IndicatorRow{row(model.Weekly, "2024-03-04", 40), row(model.Weekly, "2024-03-11", 55), row(model.Weekly, "2024-03-18", 70)}
	monthly := []model.IndicatorRow{row(model.Monthly, "2024-03-01", 65)}

	panel := Align(in, bars, daily, weekly, monthly)
	require.Len(t, panel, 4)

	// Before any coarse row exists the enrichment is empty.
	assert.Nil(t, panel[0].Weekly)
	assert.Nil(t, panel[0].Monthly)

	assert.Nil(t, panel[1].Weekly)
	require.NotNil(t, panel[1].Monthly)
	assert.Equal(t, date("2024-03-01"), panel[1].Monthly.Date)

	// An exact date match is allowed.
	assert.Equal(t, date("2024-03-11"), panel[2].Weekly.Date)

	// 2024-03-15 takes the 03-11 week, never the later 03-18 one.
	require.NotNil(t, panel[3].Weekly)
	assert.Equal(t, date("2024-03-11"), panel[3].Weekly.Date)
	assert.Equal(t, 55.0, *panel[3].Weekly.RSI3)
	assert.Equal(t, "AAA", panel[3].Instrument.Symbol)
}

func TestAlign_SkipsBarsWithoutDailyRow(t *testing.T) {
	bars := []model.PriceBar{
		{Date: date("2024-03-01")}, {Date: date("2024-03-04")}, {Date: date("2024-03-05")},
	}
	daily := []model.IndicatorRow{row(model.Daily, "2024-03-01", 1), row(model.Daily, "2024-03-05", 2)}

	panel := Align(model.Instrument{ID: 1}, bars, daily, nil, nil)
	require.Len(t, panel, 2)
	assert.Equal(t, date("2024-03-05"), panel[1].Bar.Date)
	assert.Equal(t, 2.0, *panel[1].Daily.RSI3)
}

func TestBuilder_Panel(t *testing.T) {
	st := memory.New()
	st.AddInstrument(model.Instrument{ID: 1, Symbol: "AAA", Active: true})
	st.AddInstrument(model.Instrument{ID: 2, Symbol: "BBB", Active: true})

	ctx := context.Background()
	var rows []model.IndicatorRow
	for _, id := range []int64{1, 2} {
		for d := date("2024-03-01"); !d.After(date("2024-03-29")); d = d.AddDate(0, 0, 1) {
			st.AddBars(model.PriceBar{InstrumentID: id, Timeframe: model.Daily, Date: d, Close: 100})
			rows = append(rows, model.IndicatorRow{InstrumentID: id, Timeframe: model.Daily, Date: d})
		}
	}
	// Instrument 1 has a February monthly row, outside the panel range but
	// inside the coarse lead.
	rows = append(rows,
		model.IndicatorRow{InstrumentID: 1, Timeframe: model.Monthly, Date: date("2024-02-01"), RSI3: model.Float(80)},
		model.IndicatorRow{InstrumentID: 1, Timeframe: model.Weekly, Date: date("2024-03-11"), RSI3: model.Float(60)},
		model.IndicatorRow{InstrumentID: 2, Timeframe: model.Weekly, Date: date("2024-03-18"), RSI3: model.Float(90)},
	)
	_, err := st.UpsertIndicators(ctx, rows)
	require.NoError(t, err)

	f := &registry.File{Assets: []registry.AssetSpec{{Key: "india_equity"}}, Timeframes: []string{"1d"}}
	reg, err := registry.New(f, func(registry.AssetSpec) (registry.Handles, error) {
		return registry.Handles{Symbols: st, Prices: st, Indicators: st, Stats: st}, nil
	})
	require.NoError(t, err)

	m := metrics.NewMetrics(prometheus.NewRegistry())
	b := NewBuilder(reg, m, zerolog.Nop())

	panel, err := b.Panel(ctx, "india_equity", date("2024-03-14"), date("2024-03-20"))
	require.NoError(t, err)
	require.Len(t, panel, 14)
	assert.Equal(t, 14.0, testutil.ToFloat64(m.PanelRows))

	first := panel[0]
	assert.Equal(t, int64(1), first.Instrument.ID)
	assert.Equal(t, date("2024-03-14"), first.Bar.Date)
	require.NotNil(t, first.Monthly)
	assert.Equal(t, 80.0, *first.Monthly.RSI3)
	require.NotNil(t, first.Weekly)
	assert.Equal(t, date("2024-03-11"), first.Weekly.Date)

	// Instrument 2 only sees its own weekly row, from 03-18 on.
	for _, r := range panel[7:] {
		assert.Equal(t, int64(2), r.Instrument.ID)
		assert.Nil(t, r.Monthly)
		if r.Bar.Date.Before(date("2024-03-18")) {
			assert.Nil(t, r.Weekly)
		} else {
			require.NotNil(t, r.Weekly)
			assert.Equal(t, 90.0, *r.Weekly.RSI3)
		}
	}

	_, err = b.Panel(ctx, "bonds", time.Time{}, time.Time{})
	assert.True(t, registry.IsConfigError(err))
}
