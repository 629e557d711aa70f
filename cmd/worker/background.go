package main

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"vidqueue/internal/domain"
	"vidqueue/internal/infra"
	"vidqueue/internal/poller"
)

const heartbeatSpec = "@every 30s"

type pendingCounter interface {
	CountPending(ctx context.Context, source string) (int, error)
}

type pendingGauge interface {
	SetPending(n int)
}

type inFlightLister interface {
	ListInFlight(ctx context.Context) ([]domain.Job, error)
}

type registrar interface {
	Register(ctx context.Context, reg poller.Registration) error
}

// startHeartbeat publishes the queue depth on a fixed schedule.
func startHeartbeat(ctx context.Context, jobs pendingCounter, source string, gauge pendingGauge, logger *infra.Logger) (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddFunc(heartbeatSpec, func() { heartbeat(ctx, jobs, source, gauge, logger) }); err != nil {
		return nil, fmt.Errorf("schedule heartbeat: %w", err)
	}
	c.Start()
	return c, nil
}

func heartbeat(ctx context.Context, jobs pendingCounter, source string, gauge pendingGauge, logger *infra.Logger) {
	if ctx.Err() != nil {
		return
	}
	n, err := jobs.CountPending(ctx, source)
	if err != nil {
		logger.Warn().Err(err).Msg("worker: heartbeat count failed")
		return
	}
	gauge.SetPending(n)
	logger.Info().Int("pending", n).Str("source", source).Msg("worker: heartbeat")
}

// rehydrate re-registers jobs that were already submitted before a restart.
func rehydrate(ctx context.Context, jobs inFlightLister, polls registrar, logger *infra.Logger) error {
	inFlight, err := jobs.ListInFlight(ctx)
	if err != nil {
		return fmt.Errorf("list in-flight jobs: %w", err)
	}
	restored := 0
	for _, job := range inFlight {
		if job.ProviderTaskID == "" {
			continue
		}
		if err := polls.Register(ctx, poller.FromJob(job)); err != nil {
			return fmt.Errorf("register job %s: %w", job.ID, err)
		}
		restored++
	}
	logger.Info().Int("restored", restored).Msg("worker: in-flight jobs rehydrated")
	return nil
}
