package postgres

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketpanel/internal/model"
)

func TestPoolConfigFromEnv(t *testing.T) {
	t.Setenv("DB_MAX_OPEN_CONNS", "40")
	t.Setenv("DB_MAX_IDLE_CONNS", "-3")
	t.Setenv("DB_CONN_MAX_LIFETIME_MINUTES", "abc")
	t.Setenv("DB_CONN_MAX_IDLE_TIME_MINUTES", "2")

	cfg := PoolConfigFromEnv()
	assert.Equal(t, 40, cfg.MaxOpenConns)
	assert.Equal(t, 10, cfg.MaxIdleConns)
	assert.Equal(t, 5*time.Minute, cfg.ConnMaxLifetime)
	assert.Equal(t, 2*time.Minute, cfg.ConnMaxIdleTime)
}

func TestIndicatorRecord_PreservesNulls(t *testing.T) {
	v, dir := 42.5, -1
	row := model.IndicatorRow{
		InstrumentID:  3,
		Timeframe:     model.Monthly,
		Date:          time.Date(2024, 2, 29, 15, 30, 0, 0, time.UTC),
		RSI14:         &v,
		SupertrendDir: &dir,
	}
	back := fromIndicator(row).toModel()
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), back.Date)
	assert.Equal(t, model.Monthly, back.Timeframe)
	require.NotNil(t, back.RSI14)
	assert.Equal(t, 42.5, *back.RSI14)
	assert.Equal(t, -1, *back.SupertrendDir)
	assert.Nil(t, back.SMA200)
}

func TestBarRecord_AdjCloseFallsBackToClose(t *testing.T) {
	c := 101.5
	b := barRecord{SymbolID: 1, Timeframe: "1d", Date: time.Date(2024, 1, 2, 0, 0, 0, 0, time.Local), Close: &c}.toModel()
	assert.Equal(t, 101.5, b.AdjClose)
	assert.True(t, math.IsNaN(b.Open), "NULL open reads as NaN")
	assert.Equal(t, time.UTC, b.Date.Location())
}

func TestBarRecord_NullPricesAreNaN(t *testing.T) {
	v := 1200.0
	b := barRecord{SymbolID: 3, Timeframe: "1d", Date: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), Volume: &v}.toModel()
	assert.True(t, math.IsNaN(b.Close))
	assert.True(t, math.IsNaN(b.High))
	assert.True(t, math.IsNaN(b.Low))
	assert.True(t, math.IsNaN(b.AdjClose))
	assert.Equal(t, 1200.0, b.Volume)
}

func TestSymbolRecord_ToModel(t *testing.T) {
	ex := "NSE"
	in := symbolRecord{SymbolID: 9, Name: "Reliance", YahooSymbol: "RELIANCE.NS", Exchange: &ex, IsActive: true}.toModel()
	assert.Equal(t, "NSE:RELIANCE.NS", in.Key())
	assert.Equal(t, "RELIANCE.NS#9", in.Label())
}
