package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the indicator engine.
type Metrics struct {
	// Refresh runs
	RefreshRuns     *prometheus.CounterVec // labels: outcome=ok|partial|error
	LastRefreshTime prometheus.Gauge

	// Per (instrument, timeframe) units
	UnitsTotal   *prometheus.CounterVec   // labels: asset, timeframe, status=ok|failed
	RowsInserted *prometheus.CounterVec   // labels: asset, timeframe
	UnitDuration *prometheus.HistogramVec // labels: timeframe

	// Indicator math
	ComputeFailures *prometheus.CounterVec // labels: indicator

	// Consumers
	PanelRows   prometheus.Counter
	ScanSignals *prometheus.CounterVec // labels: scanner
	StatsRows   prometheus.Counter

	// Redis publication behind the circuit breaker
	RedisPublishes           prometheus.Counter
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
}

// NewMetrics creates all metrics and registers them with reg. Passing
// prometheus.DefaultRegisterer exposes them on promhttp.Handler().
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RefreshRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indengine_refresh_runs_total",
			Help: "Indicator refresh runs by outcome",
		}, []string{"outcome"}),
		LastRefreshTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "indengine_last_refresh_timestamp_seconds",
			Help: "Unix time the last refresh run finished",
		}),

		UnitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indengine_units_total",
			Help: "Instrument/timeframe refresh units by status",
		}, []string{"asset", "timeframe", "status"}),
		RowsInserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indengine_rows_inserted_total",
			Help: "Indicator rows committed",
		}, []string{"asset", "timeframe"}),
		UnitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "indengine_unit_duration_seconds",
			Help:    "Time to read, compute and commit one refresh unit",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"timeframe"}),

		ComputeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indengine_compute_failures_total",
			Help: "Indicator computations that failed and were left undefined",
		}, []string{"indicator"}),

		PanelRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indengine_panel_rows_total",
			Help: "Aligned multi-timeframe panel rows built",
		}),
		ScanSignals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indengine_scan_signals_total",
			Help: "Scanner matches by scanner",
		}, []string{"scanner"}),
		StatsRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indengine_week52_stats_rows_total",
			Help: "52-week stats rows upserted",
		}),

		RedisPublishes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indengine_redis_publishes_total",
			Help: "Latest-row and run-summary publications written to Redis",
		}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "indengine_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indengine_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
	}

	reg.MustRegister(
		m.RefreshRuns,
		m.LastRefreshTime,
		m.UnitsTotal,
		m.RowsInserted,
		m.UnitDuration,
		m.ComputeFailures,
		m.PanelRows,
		m.ScanSignals,
		m.StatsRows,
		m.RedisPublishes,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
	)

	return m
}

// HealthStatus represents the service health.
type HealthStatus struct {
	mu sync.RWMutex

	DBOK           bool      `json:"db_ok"`
	RedisEnabled   bool      `json:"redis_enabled"`
	RedisConnected bool      `json:"redis_connected"`
	LastRefreshAt  time.Time `json:"last_refresh_at"`
	LastRefreshOK  bool      `json:"last_refresh_ok"`
	Assets         []string  `json:"assets"`

	DBLatencyMs    float64   `json:"db_latency_ms"`
	RedisLatencyMs float64   `json:"redis_latency_ms"`
	LastCheckAt    time.Time `json:"last_check_at"`
	StartedAt      time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus(assets []string, redisEnabled bool) *HealthStatus {
	return &HealthStatus{
		Assets:       assets,
		RedisEnabled: redisEnabled,
		StartedAt:    time.Now(),
	}
}

// RecordRefresh notes the completion of a refresh run.
func (h *HealthStatus) RecordRefresh(at time.Time, ok bool) {
	h.mu.Lock()
	h.LastRefreshAt = at
	h.LastRefreshOK = ok
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckDB pings the database and records latency + health.
func (h *HealthStatus) CheckDB(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.DBOK = err == nil
	h.DBLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks until ctx is done.
// Either client may be nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, db *sql.DB, interval time.Duration) {
	check := func() {
		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if rdb != nil {
			h.CheckRedis(probeCtx, rdb)
		}
		if db != nil {
			h.CheckDB(probeCtx, db)
		}
	}
	check()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				check()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	if !h.DBOK {
		overallStatus = "unhealthy"
		httpCode = http.StatusServiceUnavailable
	} else if (h.RedisEnabled && !h.RedisConnected) || (!h.LastRefreshAt.IsZero() && !h.LastRefreshOK) {
		overallStatus = "degraded"
	}

	lastRefresh := ""
	if !h.LastRefreshAt.IsZero() {
		lastRefresh = h.LastRefreshAt.Format(time.RFC3339)
	}

	status := struct {
		Status         string   `json:"status"`
		Uptime         string   `json:"uptime"`
		DBOK           bool     `json:"db_ok"`
		DBLatencyMs    float64  `json:"db_latency_ms"`
		RedisEnabled   bool     `json:"redis_enabled"`
		RedisConnected bool     `json:"redis_connected"`
		RedisLatencyMs float64  `json:"redis_latency_ms"`
		LastRefreshAt  string   `json:"last_refresh_at"`
		LastRefreshOK  bool     `json:"last_refresh_ok"`
		Assets         []string `json:"assets"`
		LastCheckAt    string   `json:"last_check_at"`
	}{
		Status:         overallStatus,
		Uptime:         time.Since(h.StartedAt).Round(time.Second).String(),
		DBOK:           h.DBOK,
		DBLatencyMs:    h.DBLatencyMs,
		RedisEnabled:   h.RedisEnabled,
		RedisConnected: h.RedisConnected,
		RedisLatencyMs: h.RedisLatencyMs,
		LastRefreshAt:  lastRefresh,
		LastRefreshOK:  h.LastRefreshOK,
		Assets:         h.Assets,
		LastCheckAt:    h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}
