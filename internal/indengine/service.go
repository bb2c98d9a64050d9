// Package indengine is the long-running indicator service. It refreshes
// indicators and 52-week stats on a cron schedule and serves refresh
// triggers, aligned panels, scanner results and watermarks over HTTP.
package indengine

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"marketpanel/internal/align"
	"marketpanel/internal/logger"
	"marketpanel/internal/metrics"
	"marketpanel/internal/refresh"
	"marketpanel/internal/registry"
	"marketpanel/internal/scanner"
	"marketpanel/internal/stats"
)

// ErrBusy is returned when a refresh is requested while one is running.
var ErrBusy = errors.New("refresh already running")

// Deps are the components the service wires together.
type Deps struct {
	Registry *registry.Registry
	Refresh  *refresh.Controller
	Panels   *align.Builder
	Stats    *stats.Refresher
	Scanners *scanner.Engine
	Health   *metrics.HealthStatus
	Gatherer prometheus.Gatherer
}

// Service is the top-level orchestrator of the indicator engine.
type Service struct {
	cfg  Config
	deps Deps
	log  zerolog.Logger
	now  func() time.Time

	cron *cron.Cron

	// mu serialises refresh runs; a second trigger gets ErrBusy.
	mu sync.Mutex
}

// New returns a Service. Scheduled jobs are registered here so that a bad
// cron spec fails at startup.
func New(cfg Config, deps Deps, log zerolog.Logger) (*Service, error) {
	cfg.applyDefaults()
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	svc := &Service{
		cfg:  cfg,
		deps: deps,
		log:  logger.Component(log, "indengine"),
		now:  time.Now,
		cron: cron.New(cron.WithSeconds()),
	}
	if err := svc.registerJobs(); err != nil {
		return nil, err
	}
	return svc, nil
}

// Run starts the scheduler and the HTTP server and blocks until ctx is
// cancelled, then shuts both down.
func (svc *Service) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              svc.cfg.HTTPAddr,
		Handler:           svc.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	svc.cron.Start()
	errCh := make(chan error, 1)
	go func() {
		svc.log.Info().Str("addr", svc.cfg.HTTPAddr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	svc.log.Info().
		Strs("assets", svc.deps.Registry.Keys()).
		Str("refresh_schedule", svc.cfg.RefreshSchedule).
		Str("stats_schedule", svc.cfg.StatsSchedule).
		Msg("indicator engine running")

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	svc.log.Info().Msg("shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), svc.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		svc.log.Error().Err(err).Msg("http shutdown")
	}
	// Waits for a running scheduled job to finish.
	<-svc.cron.Stop().Done()
	svc.log.Info().Msg("shutdown complete")
	return runErr
}

// RunRefresh runs one refresh unless another is in progress.
func (svc *Service) RunRefresh(ctx context.Context, req refresh.Request) (refresh.Report, error) {
	if !svc.mu.TryLock() {
		return refresh.Report{}, ErrBusy
	}
	defer svc.mu.Unlock()

	if req.LookbackRows == 0 {
		req.LookbackRows = svc.cfg.LookbackRows
	}
	rep, err := svc.deps.Refresh.Refresh(ctx, req)
	if svc.deps.Health != nil && !registry.IsConfigError(err) {
		svc.deps.Health.RecordRefresh(svc.now(), err == nil && rep.OK())
	}
	return rep, err
}
