package backfill

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/fortuna/scoreline/internal/logging"
	"github.com/fortuna/scoreline/internal/reconcile"
)

// maxRangeDays bounds a single date range job.
const maxRangeDays = 62

// Request represents a diary sync invocation request.
type Request struct {
	Day       *time.Time
	StartDate *time.Time
	EndDate   *time.Time
	DryRun    bool
}

// DeriveType infers the job type based on populated fields.
func (r Request) DeriveType() (JobType, error) {
	if r.StartDate != nil && r.EndDate != nil {
		return JobTypeDateRange, nil
	}
	if r.Day != nil {
		return JobTypeDay, nil
	}
	return "", fmt.Errorf("unable to determine job type from request")
}

// Service coordinates job persistence, execution, and status reporting. A
// single worker runs queued jobs in creation order.
type Service struct {
	repo   JobRepository
	runner *Runner

	historyLimit int
	poll         time.Duration
	wake         chan struct{}

	log zerolog.Logger
}

// NewService constructs a Service. Serve runs the worker.
func NewService(repo JobRepository, runner *Runner) *Service {
	return &Service{
		repo:         repo,
		runner:       runner,
		historyLimit: 10,
		poll:         3 * time.Second,
		wake:         make(chan struct{}, 1),
		log:          logging.Component("backfill"),
	}
}

// Serve resets jobs left running by a previous process and works the queue
// until ctx is cancelled. It satisfies suture.Service.
func (s *Service) Serve(ctx context.Context) error {
	if err := s.repo.ResetStuckJobs(ctx); err != nil {
		s.log.Error().Err(err).Msg("failed to reset jobs")
	}

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		ran, err := s.RunNext(ctx)
		if err != nil {
			s.log.Error().Err(err).Msg("claim job error")
		}
		if ran {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-s.wake:
		}
	}
}

// Enqueue creates a new job from the provided request.
func (s *Service) Enqueue(ctx context.Context, req Request) (*Job, error) {
	jobType, err := req.DeriveType()
	if err != nil {
		return nil, err
	}

	job := &Job{
		JobType:       jobType,
		DryRun:        req.DryRun,
		Status:        JobStatusQueued,
		StatusMessage: sql.NullString{String: "Queued", Valid: true},
	}

	switch jobType {
	case JobTypeDay:
		day := truncateDate(*req.Day)
		job.StartDate = sql.NullTime{Time: day, Valid: true}
		job.EndDate = sql.NullTime{Time: day, Valid: true}
	case JobTypeDateRange:
		start, end := truncateDate(*req.StartDate), truncateDate(*req.EndDate)
		if end.Before(start) {
			return nil, fmt.Errorf("end_date %s is before start_date %s", end.Format("2006-01-02"), start.Format("2006-01-02"))
		}
		job.StartDate = sql.NullTime{Time: start, Valid: true}
		job.EndDate = sql.NullTime{Time: end, Valid: true}
	}

	job.ProgressTotal = len(enumerateDates(job.StartDate.Time, job.EndDate.Time, time.UTC))
	if job.ProgressTotal > maxRangeDays {
		return nil, fmt.Errorf("date range spans %d days, limit is %d", job.ProgressTotal, maxRangeDays)
	}

	stored, err := s.repo.CreateJob(ctx, job)
	if err != nil {
		return nil, err
	}

	_ = s.repo.AppendEvent(ctx, stored.JobID, "queued", "Job queued", nil, nil)

	select {
	case s.wake <- struct{}{}:
	default:
	}

	return stored, nil
}

// GetStatus returns the currently running job plus recent history.
func (s *Service) GetStatus(ctx context.Context) (*StatusSummary, error) {
	active, err := s.repo.GetActiveJob(ctx)
	if err != nil {
		return nil, err
	}

	history, err := s.repo.ListRecentJobs(ctx, s.historyLimit)
	if err != nil {
		return nil, err
	}

	return &StatusSummary{
		ActiveJob: active,
		History:   history,
	}, nil
}

// RunNext claims and executes the oldest queued job. It reports whether a
// job was run.
func (s *Service) RunNext(ctx context.Context) (bool, error) {
	job, err := s.repo.MarkNextJobRunning(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	s.executeJob(ctx, job)
	return true, nil
}

func (s *Service) executeJob(ctx context.Context, job *Job) {
	log := s.log.With().Str("job_id", job.JobID).Str("job_type", string(job.JobType)).Logger()

	spec, err := buildSpec(job)
	if err != nil {
		log.Error().Err(err).Msg("invalid job spec")
		_ = s.repo.UpdateStatus(ctx, job.JobID, JobStatusFailed, "Invalid job specification", err)
		return
	}

	reporter := &jobReporter{
		ctx:   ctx,
		repo:  s.repo,
		jobID: job.JobID,
		total: len(enumerateDates(spec.Start, spec.End, time.UTC)),
	}

	if err := s.runner.Run(ctx, spec, reporter); err != nil {
		status := JobStatusFailed
		if ctx.Err() != nil {
			status = JobStatusCancelled
		}
		log.Warn().Err(err).Str("status", string(status)).Msg("sync job stopped")
		// ctx may already be done; the final status write must still land.
		_ = s.repo.UpdateStatus(context.WithoutCancel(ctx), job.JobID, status, "Job failed", err)
		return
	}

	log.Info().Int("days", reporter.total).Int("upserted", reporter.upserted).Msg("sync job completed")
	_ = s.repo.UpdateStatus(ctx, job.JobID, JobStatusCompleted, "Job completed", nil)
}

func buildSpec(job *Job) (JobSpec, error) {
	spec := JobSpec{Type: job.JobType, DryRun: job.DryRun}

	switch job.JobType {
	case JobTypeDay, JobTypeDateRange:
		if !job.StartDate.Valid || !job.EndDate.Valid {
			return spec, fmt.Errorf("job missing start/end dates")
		}
		spec.Start = job.StartDate.Time
		spec.End = job.EndDate.Time
	default:
		return spec, fmt.Errorf("unknown job type %s", job.JobType)
	}

	return spec, nil
}

type jobReporter struct {
	ctx      context.Context
	repo     JobRepository
	jobID    string
	total    int
	upserted int
}

func (r *jobReporter) OnJobStart(spec JobSpec) {
	_ = r.repo.UpdateProgress(r.ctx, r.jobID, 0, r.total, "Job starting")
}

func (r *jobReporter) OnDateStart(date time.Time, index int, total int) {
	msg := fmt.Sprintf("Syncing %s (%d/%d)", date.Format("Jan 2, 2006"), index+1, total)
	_ = r.repo.UpdateProgress(r.ctx, r.jobID, index, valueOr(total, r.total), msg)
}

func (r *jobReporter) OnDateSynced(res *reconcile.DiaryResult) {
	if res == nil {
		return
	}
	r.upserted += res.Upserted
	_ = r.repo.AddUpserted(r.ctx, r.jobID, res.Upserted)
	msg := fmt.Sprintf("Day %s: %d upserted, %d missing teams", res.Day, res.Upserted, res.MissingTeams)
	_ = r.repo.AppendEvent(r.ctx, r.jobID, "day", msg, nil, nil)
}

func (r *jobReporter) OnProgress(message string, current int, total int) {
	_ = r.repo.UpdateProgress(r.ctx, r.jobID, current, valueOr(total, r.total), message)
}

func (r *jobReporter) OnJobComplete() {
	_ = r.repo.UpdateProgress(r.ctx, r.jobID, r.total, r.total, "Job complete")
}

func (r *jobReporter) OnJobError(err error) {
	_ = r.repo.AppendEvent(context.WithoutCancel(r.ctx), r.jobID, "error", err.Error(), nil, nil)
}

func valueOr(val, fallback int) int {
	if val > 0 {
		return val
	}
	return fallback
}
