package indengine

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketpanel/internal/align"
	"marketpanel/internal/metrics"
	"marketpanel/internal/model"
	"marketpanel/internal/refresh"
	"marketpanel/internal/registry"
	"marketpanel/internal/scanner"
	"marketpanel/internal/stats"
	"marketpanel/internal/store/memory"
)

var today = time.Date(2024, 6, 28, 0, 0, 0, 0, time.UTC)

type harness struct {
	svc    *Service
	st     *memory.Store
	health *metrics.HealthStatus
	srv    *httptest.Server
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	st := memory.New()
	st.AddInstrument(model.Instrument{ID: 1, Symbol: "AAA", Exchange: "NYSE", Active: true})
	for i := 0; i < 90; i++ {
		c := 100 + float64(i%7)
		st.AddBars(model.PriceBar{InstrumentID: 1, Timeframe: model.Daily, Date: today.AddDate(0, 0, i-89),
			Open: c, High: c + 1, Low: c - 1, Close: c, AdjClose: c})
	}

	f := &registry.File{Assets: []registry.AssetSpec{{Key: "usa_equity"}}, Timeframes: []string{"1d", "1wk", "1mo"}}
	reg, err := registry.New(f, func(registry.AssetSpec) (registry.Handles, error) {
		return registry.Handles{Symbols: st, Prices: st, Indicators: st, Stats: st}, nil
	})
	require.NoError(t, err)

	promReg := prometheus.NewRegistry()
	m := metrics.NewMetrics(promReg)
	health := metrics.NewHealthStatus(reg.Keys(), false)
	log := zerolog.Nop()

	svc, err := New(cfg, Deps{
		Registry: reg,
		Refresh:  refresh.New(reg, log, refresh.WithMetrics(m)),
		Panels:   align.NewBuilder(reg, m, log),
		Stats:    stats.NewRefresher(reg, m, log),
		Scanners: scanner.Default(m),
		Health:   health,
		Gatherer: promReg,
	}, log)
	require.NoError(t, err)
	svc.now = func() time.Time { return today.Add(20 * time.Hour) }

	srv := httptest.NewServer(svc.Handler())
	t.Cleanup(srv.Close)
	return &harness{svc: svc, st: st, health: health, srv: srv}
}

func (h *harness) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, h.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, respBody
}

func TestRefreshEndpoint(t *testing.T) {
	h := newHarness(t, Config{})

	resp, body := h.do(t, http.MethodPost, "/refresh", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var rep refresh.Report
	require.NoError(t, json.Unmarshal(body, &rep))
	assert.Equal(t, 90, rep.Inserted)
	assert.Equal(t, 1, rep.Processed)
	assert.Equal(t, 90, h.st.RowCount(1, model.Daily))
	assert.True(t, h.health.LastRefreshOK)

	resp, _ = h.do(t, http.MethodPost, "/refresh", `{"assets":["bonds"]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = h.do(t, http.MethodPost, "/refresh", `{"lookback_rows":-5}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "lookback_rows")

	resp, _ = h.do(t, http.MethodPost, "/refresh", `{"timeframes":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRefreshEndpoint_Busy(t *testing.T) {
	h := newHarness(t, Config{})
	h.svc.mu.Lock()
	defer h.svc.mu.Unlock()

	resp, _ := h.do(t, http.MethodPost, "/refresh", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestWatermarksEndpoint(t *testing.T) {
	h := newHarness(t, Config{})
	_, err := h.svc.RunRefresh(context.Background(), refresh.Request{Timeframes: []string{"1d"}})
	require.NoError(t, err)

	resp, body := h.do(t, http.MethodGet, "/assets/usa_equity/watermarks", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got struct {
		Prices     map[string]string `json:"prices"`
		Indicators map[string]string `json:"indicators"`
	}
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "2024-06-28", got.Prices["1d"])
	assert.Equal(t, "2024-06-28", got.Indicators["1d"])

	resp, _ = h.do(t, http.MethodGet, "/assets/bonds/watermarks", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPanelAndScanEndpoints(t *testing.T) {
	h := newHarness(t, Config{PanelDays: 9})
	_, err := h.svc.RunRefresh(context.Background(), refresh.Request{})
	require.NoError(t, err)

	// Default range: the last PanelDays days through today.
	resp, body := h.do(t, http.MethodGet, "/assets/usa_equity/panel", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var panel []model.AlignedPanelRow
	require.NoError(t, json.Unmarshal(body, &panel))
	assert.Len(t, panel, 10)

	resp, body = h.do(t, http.MethodGet, "/assets/usa_equity/panel?from=2024-06-20&to=2024-06-21", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &panel))
	assert.Len(t, panel, 2)

	resp, _ = h.do(t, http.MethodGet, "/assets/usa_equity/panel?from=2024-06-22&to=2024-06-21", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = h.do(t, http.MethodGet, "/assets/usa_equity/panel?from=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = h.do(t, http.MethodGet, "/assets/bonds/panel", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = h.do(t, http.MethodGet, "/assets/usa_equity/scan?scanner=sma_crossover", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var signals []scanner.Signal
	require.NoError(t, json.Unmarshal(body, &signals))
	for _, s := range signals {
		assert.Equal(t, "sma_crossover", s.Scanner)
	}

	resp, _ = h.do(t, http.MethodGet, "/assets/usa_equity/scan?scanner=turtle", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatsEndpoint(t *testing.T) {
	h := newHarness(t, Config{})

	resp, body := h.do(t, http.MethodPost, "/assets/usa_equity/stats?as_of=2024-06-28", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.JSONEq(t, `{"rows":1,"as_of":"2024-06-28"}`, string(body))

	st, ok := h.st.Stats(1)
	require.True(t, ok)
	assert.Equal(t, 107.0, st.High)
	assert.Equal(t, 99.0, st.Low)

	resp, _ = h.do(t, http.MethodPost, "/assets/usa_equity/stats?as_of=June", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMetricsAndAssetsEndpoints(t *testing.T) {
	h := newHarness(t, Config{})
	_, err := h.svc.RunRefresh(context.Background(), refresh.Request{})
	require.NoError(t, err)

	resp, body := h.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "indengine_refresh_runs_total")

	resp, body = h.do(t, http.MethodGet, "/assets", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"assets":["usa_equity"],"timeframes":["1d","1wk","1mo"],"scanners":["hilega_milega","sma_crossover"]}`, string(body))
}

func TestNew_RejectsBadSchedule(t *testing.T) {
	f := &registry.File{Assets: []registry.AssetSpec{{Key: "crypto"}}, Timeframes: []string{"1d"}}
	reg, err := registry.New(f, func(registry.AssetSpec) (registry.Handles, error) { return registry.Handles{}, nil })
	require.NoError(t, err)

	_, err = New(Config{RefreshSchedule: "every tuesday"}, Deps{Registry: reg}, zerolog.Nop())
	assert.Error(t, err)

	_, err = New(Config{RefreshSchedule: "0 30 18 * * MON-FRI", StatsSchedule: "@daily"}, Deps{Registry: reg}, zerolog.Nop())
	assert.NoError(t, err)
}
