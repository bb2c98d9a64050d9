package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketpanel/internal/metrics"
	"marketpanel/internal/model"
)

// unreachable returns a client whose every command fails fast.
func unreachable(t *testing.T) *goredis.Client {
	t.Helper()
	c := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { c.Close() })
	return c
}

func TestLatestKey(t *testing.T) {
	assert.Equal(t, "ind:latest:india_equity:1wk:RELIANCE.NS", LatestKey("india_equity", model.Weekly, "RELIANCE.NS"))
}

func TestLatestRow_JSONFlattensIndicatorRow(t *testing.T) {
	rsi := 61.5
	b, err := json.Marshal(LatestRow{Asset: "crypto", Symbol: "BTC-USD", IndicatorRow: model.IndicatorRow{InstrumentID: 7, Timeframe: model.Daily, RSI3: &rsi}})
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, "crypto", m["asset"])
	assert.Equal(t, 61.5, m["rsi_3"])
	assert.Equal(t, "1d", m["timeframe"])
	assert.Nil(t, m["sma_20"])
}

func TestPublisher_HoldsLatestRowsWhileOpen(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	p := NewWithClient(unreachable(t), Config{MaxFailures: 2, ResetTimeout: time.Hour}, zerolog.Nop())
	p.SetMetrics(m)

	ctx := context.Background()
	in := model.Instrument{ID: 1, Symbol: "AAA"}
	row := model.IndicatorRow{InstrumentID: 1, Timeframe: model.Daily, Date: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)}

	// Two real failures trip the breaker.
	assert.Error(t, p.PublishLatest(ctx, "usa_equity", in, row))
	assert.Error(t, p.PublishLatest(ctx, "usa_equity", in, row))
	require.Equal(t, StateOpen, p.Breaker().CurrentState())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RedisCircuitBreakerState))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RedisCircuitBreakerTrips))

	// Now rows are held, one per key.
	require.NoError(t, p.PublishLatest(ctx, "usa_equity", in, row))
	require.NoError(t, p.PublishLatest(ctx, "usa_equity", in, row))
	require.NoError(t, p.PublishLatest(ctx, "usa_equity", model.Instrument{ID: 2, Symbol: "BBB"}, row))
	assert.Equal(t, 2, p.Pending())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RedisPublishes))

	assert.ErrorIs(t, p.PublishRun(ctx, map[string]int{"processed": 1}), ErrCircuitOpen)
}

func TestPublisher_PendingBufferIsBounded(t *testing.T) {
	p := NewWithClient(unreachable(t), Config{MaxFailures: 1, ResetTimeout: time.Hour, MaxPending: 1}, zerolog.Nop())
	ctx := context.Background()
	row := model.IndicatorRow{Timeframe: model.Daily}

	assert.Error(t, p.PublishLatest(ctx, "forex", model.Instrument{Symbol: "EURUSD=X"}, row))
	require.NoError(t, p.PublishLatest(ctx, "forex", model.Instrument{Symbol: "EURUSD=X"}, row))
	require.NoError(t, p.PublishLatest(ctx, "forex", model.Instrument{Symbol: "GBPUSD=X"}, row))
	assert.Equal(t, 1, p.Pending())
}

func TestPublisher_HeldRowNeverOverwritesNewerWrite(t *testing.T) {
	srv := newFakeServer(t)
	p := NewWithClient(srv.client(t), Config{MaxFailures: 1, ResetTimeout: time.Minute}, zerolog.Nop())
	clock := &fakeClock{t: time.Date(2024, 3, 15, 18, 0, 0, 0, time.UTC)}
	p.cb.now = clock.now

	ctx := context.Background()
	aaa := model.Instrument{ID: 1, Symbol: "AAA"}
	bbb := model.Instrument{ID: 2, Symbol: "BBB"}
	row := func(id int64, day int) model.IndicatorRow {
		return model.IndicatorRow{InstrumentID: id, Timeframe: model.Daily, Date: time.Date(2024, 3, day, 0, 0, 0, 0, time.UTC)}
	}

	srv.down.Store(true)
	assert.Error(t, p.PublishLatest(ctx, "usa_equity", aaa, row(1, 13)))
	require.Equal(t, StateOpen, p.Breaker().CurrentState())

	require.NoError(t, p.PublishLatest(ctx, "usa_equity", aaa, row(1, 14)))
	require.NoError(t, p.PublishLatest(ctx, "usa_equity", bbb, row(2, 14)))
	// An older row for a held key does not replace the newer one.
	require.NoError(t, p.PublishLatest(ctx, "usa_equity", bbb, row(2, 12)))
	require.Equal(t, 2, p.Pending())

	srv.down.Store(false)
	clock.advance(2 * time.Minute)

	// The half-open write for AAA closes the breaker and supersedes its held row.
	require.NoError(t, p.PublishLatest(ctx, "usa_equity", aaa, row(1, 15)))
	assert.Equal(t, StateClosed, p.Breaker().CurrentState())
	require.Eventually(t, func() bool { return p.Pending() == 0 }, 2*time.Second, 10*time.Millisecond)
	p.flush()

	got, ok := srv.get(LatestKey("usa_equity", model.Daily, "AAA"))
	require.True(t, ok)
	assert.Contains(t, got, "2024-03-15")

	got, ok = srv.get(LatestKey("usa_equity", model.Daily, "BBB"))
	require.True(t, ok)
	assert.Contains(t, got, "2024-03-14")
}
