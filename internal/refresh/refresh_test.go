package refresh

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketpanel/internal/indicator"
	"marketpanel/internal/metrics"
	"marketpanel/internal/model"
	"marketpanel/internal/notification"
	"marketpanel/internal/registry"
	"marketpanel/internal/store/memory"
)

var day0 = time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC)

// waveBars matches the synthetic series used by the indicator tests.
func waveBars(id int64, tf model.Timeframe, from, to int) []model.PriceBar {
	var out []model.PriceBar
	for i := from; i < to; i++ {
		x := float64(i)
		c := 100 + 10*math.Sin(x/7) + 0.05*x
		out = append(out, model.PriceBar{
			InstrumentID: id,
			Timeframe:    tf,
			Date:         day0.AddDate(0, 0, i),
			Open:         c,
			High:         c + 1 + 0.5*math.Abs(math.Sin(x/3)),
			Low:          c - 1 - 0.5*math.Abs(math.Cos(x/5)),
			Close:        c,
			AdjClose:     c,
			Volume:       1000,
		})
	}
	return out
}

// fixture is one asset class "usa_equity" with two instruments in memory.
type fixture struct {
	st  *memory.Store
	reg *registry.Registry
}

func newFixture(t *testing.T, dailyBars int) *fixture {
	t.Helper()
	st := memory.New()
	st.AddInstrument(model.Instrument{ID: 1, Symbol: "AAA", Active: true})
	st.AddInstrument(model.Instrument{ID: 2, Symbol: "BBB", Active: true})
	st.AddInstrument(model.Instrument{ID: 3, Symbol: "OLD", Active: false})
	for _, id := range []int64{1, 2, 3} {
		st.AddBars(waveBars(id, model.Daily, 0, dailyBars)...)
		st.AddBars(waveBars(id, model.Weekly, 0, 12)...)
	}

	f := &registry.File{Assets: []registry.AssetSpec{{Key: "usa_equity"}}, Timeframes: []string{"1d", "1wk", "1mo"}}
	reg, err := registry.New(f, func(registry.AssetSpec) (registry.Handles, error) {
		return registry.Handles{Symbols: st, Prices: st, Indicators: st, Stats: st}, nil
	})
	require.NoError(t, err)
	return &fixture{st: st, reg: reg}
}

type recordingPublisher struct {
	mu     sync.Mutex
	latest []model.IndicatorRow
	runs   []any
}

func (p *recordingPublisher) PublishLatest(_ context.Context, _ string, _ model.Instrument, row model.IndicatorRow) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.latest = append(p.latest, row)
	return nil
}

func (p *recordingPublisher) PublishRun(_ context.Context, summary any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runs = append(p.runs, summary)
	return nil
}

type recordingNotifier struct{ alerts []notification.Alert }

func (n *recordingNotifier) Send(_ context.Context, a notification.Alert) error {
	n.alerts = append(n.alerts, a)
	return nil
}

func TestRefresh_FullBackfill(t *testing.T) {
	fx := newFixture(t, 60)
	rep, err := New(fx.reg, zerolog.Nop()).Refresh(context.Background(), Request{})
	require.NoError(t, err)

	assert.NotEmpty(t, rep.RunID)
	assert.True(t, rep.OK())
	assert.Equal(t, 4, rep.Processed) // 2 instruments x (1d, 1wk)
	assert.Equal(t, 2, rep.Skipped)   // no monthly bars
	assert.Equal(t, 2*(60+12), rep.Inserted)
	assert.Equal(t, 60, fx.st.RowCount(1, model.Daily))
	assert.Equal(t, 12, fx.st.RowCount(2, model.Weekly))
	assert.Equal(t, 0, fx.st.RowCount(3, model.Daily), "inactive instruments are not refreshed")
}

func TestRefresh_IsIdempotent(t *testing.T) {
	fx := newFixture(t, 60)
	c := New(fx.reg, zerolog.Nop())
	_, err := c.Refresh(context.Background(), Request{})
	require.NoError(t, err)

	rep, err := c.Refresh(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Inserted)
	assert.Equal(t, 0, rep.Processed)
	assert.Equal(t, 6, rep.Skipped)
	assert.Equal(t, 60, fx.st.RowCount(1, model.Daily))
}

func TestRefresh_IncrementalMatchesFullHistory(t *testing.T) {
	fx := newFixture(t, 380)
	c := New(fx.reg, zerolog.Nop())
	req := Request{Assets: []string{"usa_equity"}, Timeframes: []string{"1d"}, LookbackRows: 250}
	_, err := c.Refresh(context.Background(), req)
	require.NoError(t, err)

	fx.st.AddBars(waveBars(1, model.Daily, 380, 400)...)
	rep, err := c.Refresh(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 20, rep.Inserted)
	assert.Equal(t, 1, rep.Processed)

	want := indicator.NewCalculator(zerolog.Nop()).Compute(waveBars(1, model.Daily, 0, 400)).Rows
	got, err := fx.st.ReadIndicators(context.Background(), 1, model.Daily, day0.AddDate(0, 0, 380), time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 20)
	for i, g := range got {
		w := want[380+i]
		assert.Equal(t, w.Date, g.Date)
		for _, pair := range [][2]*float64{
			{w.SMA200, g.SMA200}, {w.RSI14, g.RSI14}, {w.MACD, g.MACD}, {w.MACDSignal, g.MACDSignal},
			{w.ATR14, g.ATR14}, {w.Supertrend, g.Supertrend}, {w.WMARSI9_21, g.WMARSI9_21},
		} {
			require.NotNil(t, pair[0])
			require.NotNil(t, pair[1])
			assert.InDelta(t, *pair[0], *pair[1], 0.011, "row %s", g.Date.Format("2006-01-02"))
		}
		assert.Equal(t, *w.SupertrendDir, *g.SupertrendDir)
	}
}

func TestRefresh_FailedUnitIsIsolated(t *testing.T) {
	fx := newFixture(t, 40)
	fx.st.FailUpsert = func(rows []model.IndicatorRow) error {
		if rows[0].InstrumentID == 2 {
			return errors.New("disk full")
		}
		return nil
	}
	notifier := &recordingNotifier{}
	c := New(fx.reg, zerolog.Nop(), WithNotifier(notifier))

	rep, err := c.Refresh(context.Background(), Request{Timeframes: []string{"1d", "1wk"}})
	require.NoError(t, err)
	assert.False(t, rep.OK())
	assert.Equal(t, 2, rep.Processed)
	require.Len(t, rep.Failures, 2)
	for _, f := range rep.Failures {
		assert.Equal(t, int64(2), f.InstrumentID)
		assert.Equal(t, "BBB", f.Symbol)
		assert.Contains(t, f.Reason, "persist: disk full")
	}
	assert.Equal(t, "usa_equity/BBB#2/1d", rep.Failures[0].Unit())

	assert.Equal(t, 40, fx.st.RowCount(1, model.Daily))
	assert.Equal(t, 0, fx.st.RowCount(2, model.Daily))
	assert.Equal(t, 0, fx.st.RowCount(2, model.Weekly))

	require.Len(t, notifier.alerts, 1)
	assert.Equal(t, rep.RunID, notifier.alerts[0].Fields["run_id"])
}

func TestRefresh_ConfigErrorBeforeAnyWork(t *testing.T) {
	fx := newFixture(t, 30)
	c := New(fx.reg, zerolog.Nop())

	_, err := c.Refresh(context.Background(), Request{Assets: []string{"usa_equity", "bonds"}})
	require.Error(t, err)
	assert.True(t, registry.IsConfigError(err))

	_, err = c.Refresh(context.Background(), Request{Timeframes: []string{"1d", "1h"}})
	require.Error(t, err)
	assert.True(t, registry.IsConfigError(err))

	_, err = c.Refresh(context.Background(), Request{LookbackRows: -5})
	require.Error(t, err)
	assert.True(t, registry.IsConfigError(err))
	assert.Contains(t, err.Error(), "lookback_rows")

	assert.Equal(t, 0, fx.st.RowCount(1, model.Daily))
}

func TestRefresh_CancelledBeforeStart(t *testing.T) {
	fx := newFixture(t, 30)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := New(fx.reg, zerolog.Nop()).Refresh(ctx, Request{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, IsCanceled(err))
	assert.True(t, rep.Canceled)
	assert.Empty(t, rep.Failures)
	assert.Equal(t, 0, fx.st.RowCount(1, model.Daily))
}

func TestRefresh_CancelledBetweenUnits(t *testing.T) {
	fx := newFixture(t, 30)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fx.st.FailUpsert = func([]model.IndicatorRow) error {
		cancel() // the first unit still commits
		return nil
	}

	rep, err := New(fx.reg, zerolog.Nop()).Refresh(ctx, Request{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, rep.Canceled)
	assert.Equal(t, 1, rep.Processed)
	assert.Equal(t, 30, fx.st.RowCount(1, model.Daily))
	assert.Equal(t, 0, fx.st.RowCount(1, model.Weekly))
	assert.Equal(t, 0, fx.st.RowCount(2, model.Daily))
}

func TestRefresh_WorkersGiveSameResult(t *testing.T) {
	seq := newFixture(t, 50)
	par := newFixture(t, 50)

	r1, err := New(seq.reg, zerolog.Nop()).Refresh(context.Background(), Request{})
	require.NoError(t, err)
	r2, err := New(par.reg, zerolog.Nop(), WithWorkers(4)).Refresh(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, r1.Inserted, r2.Inserted)
	assert.Equal(t, r1.Processed, r2.Processed)

	for _, id := range []int64{1, 2} {
		a, _ := seq.st.ReadIndicators(context.Background(), id, model.Daily, time.Time{}, time.Time{})
		b, _ := par.st.ReadIndicators(context.Background(), id, model.Daily, time.Time{}, time.Time{})
		assert.Equal(t, a, b)
	}
}

func TestRefresh_PublishesAndRecordsMetrics(t *testing.T) {
	fx := newFixture(t, 30)
	pub := &recordingPublisher{}
	m := metrics.NewMetrics(prometheus.NewRegistry())
	c := New(fx.reg, zerolog.Nop(), WithPublisher(pub), WithMetrics(m))

	rep, err := c.Refresh(context.Background(), Request{})
	require.NoError(t, err)

	require.Len(t, pub.latest, 4)
	for _, row := range pub.latest {
		if row.Timeframe == model.Daily {
			assert.Equal(t, day0.AddDate(0, 0, 29), row.Date)
		}
	}
	require.Len(t, pub.runs, 1)
	assert.Equal(t, rep.RunID, pub.runs[0].(Report).RunID)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.UnitsTotal.WithLabelValues("usa_equity", "1d", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.UnitsTotal.WithLabelValues("usa_equity", "1mo", "skipped")))
	assert.Equal(t, 60.0, testutil.ToFloat64(m.RowsInserted.WithLabelValues("usa_equity", "1d")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RefreshRuns.WithLabelValues("ok")))
}
