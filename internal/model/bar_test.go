package model

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceBar_MarshalJSONNullsMissingPrices(t *testing.T) {
	b := PriceBar{
		InstrumentID: 4,
		Timeframe:    Daily,
		Date:         time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		Open:         101.5,
		High:         math.NaN(),
		Low:          math.NaN(),
		Close:        math.NaN(),
		AdjClose:     math.NaN(),
		Volume:       2500,
	}
	data, err := json.Marshal(b)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, 101.5, m["open"])
	assert.Nil(t, m["close"])
	assert.Nil(t, m["adj_close"])
	assert.Equal(t, 2500.0, m["volume"])
	assert.Equal(t, "1d", m["timeframe"])
	assert.Equal(t, float64(4), m["instrument_id"])
	assert.Contains(t, m, "high")
}
