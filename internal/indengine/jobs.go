package indengine

import (
	"context"
	"fmt"

	"marketpanel/internal/refresh"
)

// job is a named unit of scheduled work.
type job struct {
	name string
	run  func(ctx context.Context) error
}

// registerJobs adds the configured cron jobs.
func (svc *Service) registerJobs() error {
	jobs := []struct {
		spec string
		job  job
	}{
		{svc.cfg.RefreshSchedule, job{"refresh", svc.refreshJob}},
		{svc.cfg.StatsSchedule, job{"week52_stats", svc.statsJob}},
	}
	for _, j := range jobs {
		if j.spec == "" {
			continue
		}
		j := j
		if _, err := svc.cron.AddFunc(j.spec, func() { svc.runJob(j.job) }); err != nil {
			return fmt.Errorf("schedule %s %q: %w", j.job.name, j.spec, err)
		}
		svc.log.Info().Str("job", j.job.name).Str("schedule", j.spec).Msg("job registered")
	}
	return nil
}

func (svc *Service) runJob(j job) {
	svc.log.Debug().Str("job", j.name).Msg("running job")
	if err := j.run(context.Background()); err != nil {
		svc.log.Error().Err(err).Str("job", j.name).Msg("job failed")
		return
	}
	svc.log.Debug().Str("job", j.name).Msg("job completed")
}

func (svc *Service) refreshJob(ctx context.Context) error {
	_, err := svc.RunRefresh(ctx, refresh.Request{})
	return err
}

func (svc *Service) statsJob(ctx context.Context) error {
	asOf := svc.now()
	var failed []string
	for _, asset := range svc.deps.Registry.Keys() {
		if _, err := svc.deps.Stats.Refresh(ctx, asset, asOf); err != nil {
			svc.log.Error().Err(err).Str("asset", asset).Msg("52-week stats failed")
			failed = append(failed, asset)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("52-week stats failed for %v", failed)
	}
	return nil
}
