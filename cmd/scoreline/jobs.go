package main

import (
	"context"
	"time"

	"github.com/fortuna/scoreline/internal/cache"
	"github.com/fortuna/scoreline/internal/config"
	"github.com/fortuna/scoreline/internal/events"
	"github.com/fortuna/scoreline/internal/latency"
	"github.com/fortuna/scoreline/internal/lock"
	"github.com/fortuna/scoreline/internal/logging"
	"github.com/fortuna/scoreline/internal/reconcile"
	"github.com/fortuna/scoreline/internal/scheduler"
)

const (
	jobStuckSweep   = "stuck-sweep"
	jobDiarySync    = "diary-sync"
	jobDedupCleanup = "dedup-cleanup"

	resultTTL = 24 * time.Hour
)

type jobDeps struct {
	reconciler *reconcile.Reconciler
	diary      *reconcile.DiarySync
	detector   *events.Detector
	monitor    *latency.Monitor
	cache      *cache.RedisCache
	guard      lock.Locker
}

func newScheduler(cfg *config.Config, d jobDeps) *scheduler.Orchestrator {
	sched := scheduler.NewOrchestrator()

	if cfg.Schedule.EnableStuckSweep {
		sched.Add(scheduler.Job{
			Name:     jobStuckSweep,
			Interval: cfg.Schedule.StuckInterval,
			Timeout:  cfg.Schedule.StuckTimeout,
			Guard:    d.guard,
			Handler: func(ctx context.Context) error {
				res, err := d.reconciler.RunStuckSweep(ctx)
				if res != nil {
					d.saveResult(ctx, jobStuckSweep, res)
				}
				return err
			},
		})
	}

	if cfg.Schedule.EnableDiarySync {
		sched.Add(scheduler.Job{
			Name:       jobDiarySync,
			Interval:   cfg.Schedule.DiaryInterval,
			Timeout:    cfg.Schedule.DiaryTimeout,
			Guard:      d.guard,
			RunAtStart: true,
			Handler: func(ctx context.Context) error {
				res, err := d.diary.SyncDay(ctx, time.Now())
				if res != nil {
					d.saveResult(ctx, jobDiarySync, res)
				}
				return err
			},
		})
	}

	sched.Add(scheduler.Job{
		Name:     jobDedupCleanup,
		Interval: cfg.Schedule.DedupCleanupInterval,
		Handler: func(ctx context.Context) error {
			keys := d.detector.CleanupOldEvents(cfg.Events.DedupMaxAge)
			expired := d.monitor.ExpirePending()
			logging.Debug().Int("dedup_keys", keys).Int("latency_pending", expired).Msg("cleanup complete")
			return nil
		},
	})

	return sched
}

// saveResult keeps the last result of a job for the scheduler status
// endpoint. Errors are logged, not returned.
func (d jobDeps) saveResult(ctx context.Context, job string, result any) {
	if d.cache == nil {
		return
	}
	if err := d.cache.SetJSON(ctx, cache.JobResultKey(job), result, resultTTL); err != nil {
		logging.Warn().Err(err).Str("job", job).Msg("failed to store job result")
	}
}
