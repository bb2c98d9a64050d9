// Package redis publishes refresh results to Redis: the latest committed
// indicator row per instrument under a TTL key, and a pub/sub message per
// refresh run. Writes go through a CircuitBreaker so an unreachable Redis
// never slows the refresh down.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"marketpanel/internal/metrics"
	"marketpanel/internal/model"
)

const (
	// RunChannel carries one JSON run summary per refresh.
	RunChannel = "ind:refresh"

	defaultLatestTTL    = 36 * time.Hour
	defaultMaxFailures  = 5
	defaultResetTimeout = 10 * time.Second
	defaultMaxPending   = 10000
)

// Config configures the Redis connection and publication behaviour.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int

	LatestTTL    time.Duration // lifetime of ind:latest keys
	MaxFailures  int           // consecutive errors before the breaker opens
	ResetTimeout time.Duration
	MaxPending   int // latest rows held while the breaker is open
}

func (c *Config) applyDefaults() {
	if c.LatestTTL <= 0 {
		c.LatestTTL = defaultLatestTTL
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = defaultMaxFailures
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = defaultResetTimeout
	}
	if c.MaxPending <= 0 {
		c.MaxPending = defaultMaxPending
	}
}

// LatestKey is the key holding the most recent indicator row of one
// instrument: ind:latest:{asset}:{timeframe}:{symbol}.
func LatestKey(asset string, tf model.Timeframe, symbol string) string {
	return "ind:latest:" + asset + ":" + string(tf) + ":" + symbol
}

// LatestRow is the JSON value stored under LatestKey.
type LatestRow struct {
	Asset    string `json:"asset"`
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
	model.IndicatorRow
}

// Publisher writes latest rows and run summaries. While the breaker is open,
// latest rows are held in memory, one per key, and written once it closes.
// A held row never overwrites a newer row written directly.
type Publisher struct {
	client  *goredis.Client
	cb      *CircuitBreaker
	ttl     time.Duration
	log     zerolog.Logger
	metrics *metrics.Metrics

	// order keeps a flush from interleaving with direct writes: direct writes
	// share it, flush takes it exclusively.
	order sync.RWMutex

	mu         sync.Mutex
	pending    map[string]heldRow
	maxPending int
}

type heldRow struct {
	date time.Time
	data []byte
}

// New connects to Redis and returns a Publisher. The server is pinged once.
func New(cfg Config, log zerolog.Logger) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}

	log.Info().Str("addr", cfg.Addr).Msg("redis connected")
	return NewWithClient(client, cfg, log), nil
}

// NewWithClient wraps an existing client without pinging it.
func NewWithClient(client *goredis.Client, cfg Config, log zerolog.Logger) *Publisher {
	cfg.applyDefaults()
	p := &Publisher{
		client:     client,
		cb:         NewCircuitBreaker(cfg.MaxFailures, cfg.ResetTimeout),
		ttl:        cfg.LatestTTL,
		log:        log.With().Str("component", "redis").Logger(),
		pending:    make(map[string]heldRow),
		maxPending: cfg.MaxPending,
	}
	p.cb.OnStateChange = p.onStateChange
	return p
}

// SetMetrics attaches Prometheus metrics. Call before publishing.
func (p *Publisher) SetMetrics(m *metrics.Metrics) { p.metrics = m }

// Client exposes the underlying client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// Breaker exposes the circuit breaker state.
func (p *Publisher) Breaker() *CircuitBreaker { return p.cb }

func (p *Publisher) onStateChange(from, to State) {
	p.log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("redis circuit breaker transition")
	if p.metrics != nil {
		p.metrics.RedisCircuitBreakerState.Set(float64(to))
		if to == StateOpen {
			p.metrics.RedisCircuitBreakerTrips.Inc()
		}
	}
	if to == StateClosed {
		// Runs after the write that closed the breaker releases order.
		go p.flush()
	}
}

// PublishLatest stores row as the latest indicator row of in.
func (p *Publisher) PublishLatest(ctx context.Context, asset string, in model.Instrument, row model.IndicatorRow) error {
	data, err := json.Marshal(LatestRow{Asset: asset, Symbol: in.Symbol, Exchange: in.Exchange, IndicatorRow: row})
	if err != nil {
		return fmt.Errorf("marshal latest row: %w", err)
	}
	key := LatestKey(asset, row.Timeframe, in.Symbol)

	p.order.RLock()
	defer p.order.RUnlock()
	err = p.cb.Execute(func() error {
		return p.client.Set(ctx, key, data, p.ttl).Err()
	})
	switch {
	case errors.Is(err, ErrCircuitOpen):
		p.hold(key, heldRow{date: row.Date, data: data})
		return nil
	case err != nil:
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	p.supersede(key, row.Date)
	p.published()
	return nil
}

// PublishRun sends a JSON-encoded run summary on RunChannel. Summaries are
// live notifications and are dropped while the breaker is open.
func (p *Publisher) PublishRun(ctx context.Context, summary any) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal run summary: %w", err)
	}
	err = p.cb.Execute(func() error {
		return p.client.Publish(ctx, RunChannel, data).Err()
	})
	if err != nil {
		return fmt.Errorf("redis publish %s: %w", RunChannel, err)
	}
	p.published()
	return nil
}

func (p *Publisher) published() {
	if p.metrics != nil {
		p.metrics.RedisPublishes.Inc()
	}
}

func (p *Publisher) hold(key string, row heldRow) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev, ok := p.pending[key]
	if !ok && len(p.pending) >= p.maxPending {
		p.log.Warn().Str("key", key).Msg("redis pending buffer full, dropping latest row")
		return
	}
	if ok && prev.date.After(row.date) {
		return
	}
	p.pending[key] = row
}

// supersede drops the held row for key once a row dated date or later has
// been written directly.
func (p *Publisher) supersede(key string, date time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if held, ok := p.pending[key]; ok && !held.date.After(date) {
		delete(p.pending, key)
	}
}

// Pending returns the number of latest rows waiting for the breaker to close.
func (p *Publisher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// flush writes held rows in one pipeline.
func (p *Publisher) flush() {
	p.order.Lock()
	defer p.order.Unlock()

	p.mu.Lock()
	if len(p.pending) == 0 {
		p.mu.Unlock()
		return
	}
	held := p.pending
	p.pending = make(map[string]heldRow)
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pipe := p.client.Pipeline()
	for key, row := range held {
		pipe.Set(ctx, key, row.data, p.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		p.log.Error().Err(err).Int("rows", len(held)).Msg("redis flush failed")
		return
	}
	p.log.Info().Int("rows", len(held)).Msg("redis flushed held latest rows")
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
