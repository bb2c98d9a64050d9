package indengine

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"marketpanel/internal/model"
	"marketpanel/internal/refresh"
	"marketpanel/internal/registry"
	"marketpanel/internal/scanner"
)

const dateLayout = "2006-01-02"

// Handler returns the HTTP API.
func (svc *Service) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(svc.loggingMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	if svc.deps.Health != nil {
		r.Method(http.MethodGet, "/healthz", svc.deps.Health)
	}
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(svc.deps.Gatherer, promhttp.HandlerOpts{}))

	r.Post("/refresh", svc.handleRefresh)
	r.Get("/assets", svc.handleAssets)
	r.Route("/assets/{asset}", func(r chi.Router) {
		r.Get("/panel", svc.handlePanel)
		r.Get("/scan", svc.handleScan)
		r.Get("/watermarks", svc.handleWatermarks)
		r.Post("/stats", svc.handleStats)
	})
	return r
}

func (svc *Service) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		svc.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

// handleRefresh handles POST /refresh. The body is an optional
// refresh.Request; an empty body refreshes everything.
func (svc *Service) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refresh.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	rep, err := svc.RunRefresh(r.Context(), req)
	switch {
	case errors.Is(err, ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
	case registry.IsConfigError(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case refresh.IsCanceled(err):
		writeJSON(w, http.StatusServiceUnavailable, rep)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, rep)
	}
}

func (svc *Service) handleAssets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"assets":     svc.deps.Registry.Keys(),
		"timeframes": svc.deps.Registry.Timeframes(),
		"scanners":   svc.deps.Scanners.Names(),
	})
}

// handlePanel handles GET /assets/{asset}/panel?from=&to=.
func (svc *Service) handlePanel(w http.ResponseWriter, r *http.Request) {
	from, to, ok := svc.dateRange(w, r)
	if !ok {
		return
	}
	panel, err := svc.deps.Panels.Panel(r.Context(), chi.URLParam(r, "asset"), from, to)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if panel == nil {
		panel = []model.AlignedPanelRow{}
	}
	writeJSON(w, http.StatusOK, panel)
}

// handleScan handles GET /assets/{asset}/scan?from=&to=&scanner=a,b.
func (svc *Service) handleScan(w http.ResponseWriter, r *http.Request) {
	from, to, ok := svc.dateRange(w, r)
	if !ok {
		return
	}
	var names []string
	if s := r.URL.Query().Get("scanner"); s != "" {
		names = strings.Split(s, ",")
	}
	eng, err := svc.deps.Scanners.Select(names...)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	panel, err := svc.deps.Panels.Panel(r.Context(), chi.URLParam(r, "asset"), from, to)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	signals := eng.Run(panel)
	if signals == nil {
		signals = []scanner.Signal{}
	}
	writeJSON(w, http.StatusOK, signals)
}

// handleWatermarks handles GET /assets/{asset}/watermarks: the latest price
// and indicator date per timeframe.
func (svc *Service) handleWatermarks(w http.ResponseWriter, r *http.Request) {
	h, err := svc.deps.Registry.Resolve(chi.URLParam(r, "asset"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	prices, err := h.Prices.LatestBarDates(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	inds, err := h.Indicators.LatestIndicatorDates(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"asset":      h.Asset,
		"prices":     formatDates(prices),
		"indicators": formatDates(inds),
	})
}

// handleStats handles POST /assets/{asset}/stats?as_of=YYYY-MM-DD.
func (svc *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	asOf := svc.now()
	if s := r.URL.Query().Get("as_of"); s != "" {
		t, err := time.Parse(dateLayout, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "as_of: "+err.Error())
			return
		}
		asOf = t
	}
	n, err := svc.deps.Stats.Refresh(r.Context(), chi.URLParam(r, "asset"), asOf)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": n, "as_of": model.DateOnly(asOf).Format(dateLayout)})
}

// dateRange parses from/to query parameters. to defaults to today and from
// to PanelDays before to.
func (svc *Service) dateRange(w http.ResponseWriter, r *http.Request) (from, to time.Time, ok bool) {
	q := r.URL.Query()
	to = model.DateOnly(svc.now())
	if s := q.Get("to"); s != "" {
		t, err := time.Parse(dateLayout, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "to: "+err.Error())
			return from, to, false
		}
		to = t
	}
	from = to.AddDate(0, 0, -svc.cfg.PanelDays)
	if s := q.Get("from"); s != "" {
		t, err := time.Parse(dateLayout, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "from: "+err.Error())
			return from, to, false
		}
		from = t
	}
	if from.After(to) {
		writeError(w, http.StatusBadRequest, "from is after to")
		return from, to, false
	}
	return from, to, true
}

func formatDates(m map[model.Timeframe]time.Time) map[string]string {
	out := make(map[string]string, len(m))
	for tf, d := range m {
		out[string(tf)] = d.Format(dateLayout)
	}
	return out
}

func writeStoreError(w http.ResponseWriter, err error) {
	if registry.IsConfigError(err) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
