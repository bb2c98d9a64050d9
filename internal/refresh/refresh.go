// Package refresh drives incremental indicator refreshes. A run walks every
// instrument of the requested asset classes and, per timeframe, resolves the
// cursor window, computes the indicator panel and commits the rows dated
// after the watermark in one transaction. Each (instrument, timeframe) pair
// is an independent unit: a failing unit is reported and the run continues.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"marketpanel/internal/cursor"
	"marketpanel/internal/indicator"
	"marketpanel/internal/logger"
	"marketpanel/internal/metrics"
	"marketpanel/internal/model"
	"marketpanel/internal/notification"
	"marketpanel/internal/registry"
)

// DefaultLookbackRows is the number of bars before the watermark fed back
// into the computation. It covers the 200-bar SMA with room to spare.
const DefaultLookbackRows = 250

// Assets resolves asset keys to storage handles. *registry.Registry
// satisfies it.
type Assets interface {
	ResolveAll(keys []string) ([]registry.Handles, error)
	Timeframes() []model.Timeframe
}

// Publisher receives the latest committed row of every unit and a summary
// of every run. Errors are logged and never fail a unit.
type Publisher interface {
	PublishLatest(ctx context.Context, asset string, in model.Instrument, row model.IndicatorRow) error
	PublishRun(ctx context.Context, summary any) error
}

// Request selects what a run refreshes. Empty Assets or Timeframes mean all
// of them; LookbackRows 0 selects DefaultLookbackRows.
type Request struct {
	Assets       []string `json:"assets"`
	Timeframes   []string `json:"timeframes"`
	LookbackRows int      `json:"lookback_rows"`
}

// UnitFailure is one (instrument, timeframe) unit that committed nothing.
type UnitFailure struct {
	Asset        string          `json:"asset"`
	InstrumentID int64           `json:"instrument_id"`
	Symbol       string          `json:"symbol"`
	Timeframe    model.Timeframe `json:"timeframe"`
	Reason       string          `json:"reason"`
}

// Unit renders the failure key used in logs and alerts.
func (f UnitFailure) Unit() string {
	return fmt.Sprintf("%s/%s#%d/%s", f.Asset, f.Symbol, f.InstrumentID, f.Timeframe)
}

// Report summarises a run. Processed counts units that committed rows;
// Skipped counts units with no bars after the watermark.
type Report struct {
	RunID           string        `json:"run_id"`
	Processed       int           `json:"processed"`
	Skipped         int           `json:"skipped"`
	Inserted        int           `json:"inserted"`
	Failures        []UnitFailure `json:"failures"`
	ComputeFailures int           `json:"compute_failures"`
	Canceled        bool          `json:"canceled"`
	Started         time.Time     `json:"started"`
	Duration        time.Duration `json:"duration"`
}

// Controller runs refreshes. It is safe to call Refresh concurrently for
// disjoint asset classes.
type Controller struct {
	assets   Assets
	calc     *indicator.Calculator
	workers  int
	metrics  *metrics.Metrics
	pub      Publisher
	notifier notification.Notifier
	log      zerolog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithWorkers sets how many instruments are refreshed in parallel. Units of
// one instrument always run in sequence.
func WithWorkers(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithMetrics records per-unit and per-run Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option { return func(c *Controller) { c.metrics = m } }

// WithPublisher publishes committed rows and run summaries.
func WithPublisher(p Publisher) Option { return func(c *Controller) { c.pub = p } }

// WithNotifier sends an alert for runs with failed units.
func WithNotifier(n notification.Notifier) Option { return func(c *Controller) { c.notifier = n } }

// New returns a Controller over assets.
func New(assets Assets, log zerolog.Logger, opts ...Option) *Controller {
	c := &Controller{
		assets:  assets,
		calc:    indicator.NewCalculator(log),
		workers: 1,
		log:     logger.Component(log, "refresh"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// unit is one (instrument, timeframe) refresh.
type unit struct {
	asset string
	h     registry.Handles
	in    model.Instrument
	tf    model.Timeframe
}

type unitResult struct {
	inserted        int
	skipped         bool
	canceled        bool
	computeFailures int
	failure         *UnitFailure
}

// Refresh runs one refresh. Unknown asset or timeframe keys and a negative
// lookback return a *model.ConfigError before any work. A cancelled ctx stops the run between
// units and returns the partial report together with ctx.Err().
func (c *Controller) Refresh(ctx context.Context, req Request) (Report, error) {
	if req.LookbackRows < 0 {
		return Report{}, model.NegativeLookback(req.LookbackRows)
	}
	lookback := req.LookbackRows
	if lookback == 0 {
		lookback = DefaultLookbackRows
	}
	handles, err := c.assets.ResolveAll(req.Assets)
	if err != nil {
		return Report{}, err
	}
	tfs := c.assets.Timeframes()
	if len(req.Timeframes) > 0 {
		if tfs, err = model.ParseTimeframes(req.Timeframes); err != nil {
			return Report{}, err
		}
	}

	rep := Report{RunID: uuid.NewString(), Started: time.Now()}
	ctx = logger.WithRunID(ctx, rep.RunID)
	log := logger.Ctx(ctx, c.log)
	log.Info().Strs("assets", assetKeys(handles)).Int("lookback", lookback).Msg("refresh started")

	var runErr error
	for _, h := range handles {
		if err := c.refreshAsset(ctx, h, tfs, lookback, &rep); err != nil {
			runErr = err
			break
		}
	}
	if runErr != nil && ctx.Err() != nil {
		rep.Canceled = true
		runErr = ctx.Err()
	}
	rep.Duration = time.Since(rep.Started)

	ev := log.Info()
	if len(rep.Failures) > 0 || rep.Canceled {
		ev = log.Warn()
	}
	ev.Int("processed", rep.Processed).
		Int("skipped", rep.Skipped).
		Int("inserted", rep.Inserted).
		Int("failed", len(rep.Failures)).
		Int("compute_failures", rep.ComputeFailures).
		Bool("canceled", rep.Canceled).
		Dur("duration", rep.Duration).
		Msg("refresh finished")

	c.finish(ctx, rep, runErr)
	return rep, runErr
}

// refreshAsset lists the asset's instruments and runs their units. It returns
// a non-nil error only when the instrument list cannot be read or ctx ends.
func (c *Controller) refreshAsset(ctx context.Context, h registry.Handles, tfs []model.Timeframe, lookback int, rep *Report) error {
	instruments, err := h.Symbols.ActiveInstruments(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// The asset is unreadable as a whole; every unit of it fails.
		rep.Failures = append(rep.Failures, UnitFailure{Asset: h.Asset, Reason: "list instruments: " + err.Error()})
		return nil
	}

	results := make([][]unitResult, len(instruments))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i, in := range instruments {
		i, in := i, in
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			for _, tf := range tfs {
				if err := gctx.Err(); err != nil {
					return err
				}
				results[i] = append(results[i], c.runUnit(gctx, unit{asset: h.Asset, h: h, in: in, tf: tf}, lookback))
			}
			return nil
		})
	}
	waitErr := g.Wait()

	for _, rs := range results {
		for _, r := range rs {
			rep.ComputeFailures += r.computeFailures
			switch {
			case r.canceled:
			case r.failure != nil:
				rep.Failures = append(rep.Failures, *r.failure)
			case r.skipped:
				rep.Skipped++
			default:
				rep.Processed++
				rep.Inserted += r.inserted
			}
		}
	}
	if waitErr != nil {
		return waitErr
	}
	return ctx.Err()
}

// runUnit reads, computes and commits one unit. Nothing is written unless
// the whole batch commits.
func (c *Controller) runUnit(ctx context.Context, u unit, lookback int) (res unitResult) {
	start := time.Now()
	log := logger.Ctx(ctx, c.log).With().
		Str("asset", u.asset).
		Str("symbol", u.in.Symbol).
		Int64("instrument_id", u.in.ID).
		Str("timeframe", string(u.tf)).
		Logger()

	defer func() {
		if c.metrics == nil || res.canceled {
			return
		}
		status := "ok"
		switch {
		case res.failure != nil:
			status = "failed"
		case res.skipped:
			status = "skipped"
		}
		c.metrics.UnitsTotal.WithLabelValues(u.asset, string(u.tf), status).Inc()
		c.metrics.UnitDuration.WithLabelValues(string(u.tf)).Observe(time.Since(start).Seconds())
	}()

	fail := func(stage string, err error) unitResult {
		if ctx.Err() != nil {
			// Interrupted, not failed: the unit is simply not done.
			return unitResult{canceled: true}
		}
		log.Error().Err(err).Str("stage", stage).Msg("refresh unit failed")
		f := &UnitFailure{Asset: u.asset, InstrumentID: u.in.ID, Symbol: u.in.Symbol, Timeframe: u.tf, Reason: stage + ": " + err.Error()}
		return unitResult{failure: f, computeFailures: res.computeFailures}
	}

	win, err := cursor.Resolve(ctx, u.h.Prices, u.h.Indicators, u.in.ID, u.tf, lookback)
	if err != nil {
		return fail("cursor", err)
	}
	if win.NewBars() == 0 {
		log.Debug().Msg("up to date")
		return unitResult{skipped: true}
	}

	out := c.calc.Compute(win.Bars)
	res.computeFailures = len(out.Failures)
	if c.metrics != nil {
		for _, f := range out.Failures {
			c.metrics.ComputeFailures.WithLabelValues(f.Indicator).Inc()
		}
	}

	rows := win.Fresh(out.Rows)
	if len(rows) == 0 {
		return unitResult{skipped: true, computeFailures: res.computeFailures}
	}
	n, err := u.h.Indicators.UpsertIndicators(ctx, rows)
	if err != nil {
		return fail("persist", err)
	}
	res.inserted = n

	if c.metrics != nil {
		c.metrics.RowsInserted.WithLabelValues(u.asset, string(u.tf)).Add(float64(n))
	}
	if c.pub != nil {
		if err := c.pub.PublishLatest(ctx, u.asset, u.in, rows[len(rows)-1]); err != nil {
			log.Warn().Err(err).Msg("publish latest row failed")
		}
	}
	log.Debug().Int("rows", n).Bool("backfill", win.Full()).Int("lookback", win.Lookback).Msg("unit committed")
	return res
}

// finish records run-level metrics and sends the summary and any alert.
func (c *Controller) finish(ctx context.Context, rep Report, runErr error) {
	log := logger.Ctx(ctx, c.log)
	if c.metrics != nil {
		outcome := "ok"
		switch {
		case runErr != nil:
			outcome = "error"
		case len(rep.Failures) > 0:
			outcome = "partial"
		}
		c.metrics.RefreshRuns.WithLabelValues(outcome).Inc()
		c.metrics.LastRefreshTime.SetToCurrentTime()
	}

	// The run context may already be cancelled; reporting still goes out.
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if c.pub != nil {
		if err := c.pub.PublishRun(bg, rep); err != nil {
			log.Warn().Err(err).Msg("publish run summary failed")
		}
	}
	if c.notifier != nil && len(rep.Failures) > 0 {
		failures := make([]notification.RunFailure, len(rep.Failures))
		for i, f := range rep.Failures {
			failures[i] = notification.RunFailure{Unit: f.Unit(), Reason: f.Reason}
		}
		if err := c.notifier.Send(bg, notification.RefreshAlert(rep.RunID, rep.Processed, rep.Inserted, failures)); err != nil {
			log.Warn().Err(err).Msg("refresh alert failed")
		}
	}
}

// OK reports whether a run finished without failed units or cancellation.
func (r Report) OK() bool { return len(r.Failures) == 0 && !r.Canceled }

// IsCanceled reports whether err came from a cancelled or expired context.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func assetKeys(hs []registry.Handles) []string {
	out := make([]string, len(hs))
	for i, h := range hs {
		out[i] = h.Asset
	}
	return out
}
