package backfill

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps jobs in process. Used with the memory store driver
// and in tests.
type MemoryRepository struct {
	mu     sync.Mutex
	jobs   map[string]*Job
	order  []string
	events map[string][]string

	Now func() time.Time
}

var _ JobRepository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		jobs:   make(map[string]*Job),
		events: make(map[string][]string),
		Now:    time.Now,
	}
}

func (r *MemoryRepository) CreateJob(_ context.Context, job *Job) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := job.Copy()
	stored.JobID = uuid.NewString()
	stored.CreatedAt = r.Now()
	stored.UpdatedAt = stored.CreatedAt
	r.jobs[stored.JobID] = stored
	r.order = append(r.order, stored.JobID)
	return stored.Copy(), nil
}

func (r *MemoryRepository) update(jobID string, fn func(j *Job)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s not found", jobID)
	}
	fn(job)
	job.UpdatedAt = r.Now()
	return nil
}

func (r *MemoryRepository) UpdateStatus(_ context.Context, jobID string, status JobStatus, message string, lastErr error) error {
	return r.update(jobID, func(j *Job) {
		j.Status = status
		j.StatusMessage = sql.NullString{String: message, Valid: true}
		j.LastError = sql.NullString{}
		if lastErr != nil {
			j.LastError = sql.NullString{String: lastErr.Error(), Valid: true}
		}
		if status.Finished() {
			j.CompletedAt = sql.NullTime{Time: r.Now(), Valid: true}
		}
	})
}

func (r *MemoryRepository) UpdateProgress(_ context.Context, jobID string, current, total int, message string) error {
	return r.update(jobID, func(j *Job) {
		j.ProgressCurrent = current
		j.ProgressTotal = total
		j.StatusMessage = sql.NullString{String: message, Valid: true}
	})
}

func (r *MemoryRepository) AddUpserted(_ context.Context, jobID string, n int) error {
	return r.update(jobID, func(j *Job) { j.MatchesUpserted += n })
}

func (r *MemoryRepository) AppendEvent(_ context.Context, jobID string, eventType, message string, _, _ *int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[jobID] = append(r.events[jobID], eventType+": "+message)
	return nil
}

// Events returns the log entries recorded for a job.
func (r *MemoryRepository) Events(jobID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events[jobID]...)
}

func (r *MemoryRepository) ResetStuckJobs(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if j.Status == JobStatusRunning {
			j.Status = JobStatusQueued
			j.StatusMessage = sql.NullString{String: "Reset after service restart", Valid: true}
		}
	}
	return nil
}

func (r *MemoryRepository) MarkNextJobRunning(_ context.Context) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.order {
		j := r.jobs[id]
		if j.Status != JobStatusQueued {
			continue
		}
		now := r.Now()
		j.Status = JobStatusRunning
		j.StatusMessage = sql.NullString{String: "Starting job...", Valid: true}
		if !j.StartedAt.Valid {
			j.StartedAt = sql.NullTime{Time: now, Valid: true}
		}
		j.UpdatedAt = now
		return j.Copy(), nil
	}
	return nil, nil
}

func (r *MemoryRepository) GetActiveJob(_ context.Context) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.order {
		if j := r.jobs[id]; j.Status == JobStatusRunning {
			return j.Copy(), nil
		}
	}
	return nil, nil
}

func (r *MemoryRepository) ListRecentJobs(_ context.Context, limit int) ([]*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	jobs := make([]*Job, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		jobs = append(jobs, r.jobs[r.order[i]].Copy())
	}
	sort.SliceStable(jobs, func(i, k int) bool { return jobs[i].CreatedAt.After(jobs[k].CreatedAt) })
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}
