package backfill

import (
	"context"
	"fmt"
	"time"

	"github.com/fortuna/scoreline/internal/reconcile"
)

// DaySyncer syncs one local calendar day of the provider diary.
type DaySyncer interface {
	SyncDay(ctx context.Context, day time.Time) (*reconcile.DiaryResult, error)
}

// Runner executes sync specs one local day at a time.
type Runner struct {
	syncer DaySyncer
	loc    *time.Location
}

// NewRunner constructs a runner. loc is the zone job dates are interpreted
// in; nil means UTC.
func NewRunner(syncer DaySyncer, loc *time.Location) *Runner {
	if loc == nil {
		loc = time.UTC
	}
	return &Runner{syncer: syncer, loc: loc}
}

// Run executes the job spec, reporting progress via the Reporter if provided.
func (r *Runner) Run(ctx context.Context, spec JobSpec, reporter Reporter) error {
	if reporter != nil {
		reporter.OnJobStart(spec)
	}

	if spec.DryRun {
		if reporter != nil {
			reporter.OnProgress("Dry-run mode: no data will be written", 0, 0)
			reporter.OnJobComplete()
		}
		return nil
	}

	switch spec.Type {
	case JobTypeDay, JobTypeDateRange:
	default:
		return fmt.Errorf("unsupported job type %s", spec.Type)
	}

	dates := enumerateDates(spec.Start, spec.End, r.loc)
	if len(dates) == 0 {
		if reporter != nil {
			reporter.OnProgress("No dates to process", 0, 0)
			reporter.OnJobComplete()
		}
		return nil
	}

	total := len(dates)
	for idx, date := range dates {
		if err := ctx.Err(); err != nil {
			return err
		}

		if reporter != nil {
			reporter.OnDateStart(date, idx, total)
		}

		res, err := r.syncer.SyncDay(ctx, date)
		if err != nil {
			if reporter != nil {
				reporter.OnJobError(err)
			}
			return fmt.Errorf("sync %s: %w", date.Format("2006-01-02"), err)
		}

		if reporter != nil {
			reporter.OnDateSynced(res)
			reporter.OnProgress(fmt.Sprintf("Synced %s", date.Format("Jan 2, 2006")), idx+1, total)
		}
	}

	if reporter != nil {
		reporter.OnJobComplete()
	}

	return nil
}

// enumerateDates lists local midnights for every calendar day from start
// through end. Only the civil date of the inputs is used.
func enumerateDates(start, end time.Time, loc *time.Location) []time.Time {
	if end.Before(start) {
		start, end = end, start
	}

	var dates []time.Time
	current := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
	final := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, loc)

	for !current.After(final) {
		dates = append(dates, current)
		current = current.AddDate(0, 0, 1)
	}

	return dates
}

func truncateDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
