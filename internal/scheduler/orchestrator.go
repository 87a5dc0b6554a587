package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fortuna/scoreline/internal/lock"
	"github.com/fortuna/scoreline/internal/logging"
	"github.com/fortuna/scoreline/internal/metrics"
)

// Handler does one unit of scheduled work. It must honour ctx cancellation.
type Handler func(ctx context.Context) error

// Job describes a periodic task.
type Job struct {
	Name     string
	Interval time.Duration
	// Timeout bounds a single run. Zero means the interval.
	Timeout time.Duration
	// Guard, when set, makes overlapping runs skip instead of queueing.
	Guard lock.Locker
	// RunAtStart fires the first run immediately instead of after Interval.
	RunAtStart bool
	Handler    Handler
}

func (j Job) timeout() time.Duration {
	if j.Timeout > 0 {
		return j.Timeout
	}
	return j.Interval
}

// Outcome of one tick.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeError   Outcome = "error"
	OutcomeTimeout Outcome = "timeout"
	OutcomeSkipped Outcome = "skipped"
)

// JobStatus is the externally visible state of a job.
type JobStatus struct {
	Name         string    `json:"name"`
	Interval     string    `json:"interval"`
	LastRun      time.Time `json:"last_run,omitempty"`
	LastOutcome  Outcome   `json:"last_outcome,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
	LastDuration string    `json:"last_duration,omitempty"`
	Runs         int64     `json:"runs"`
	Skips        int64     `json:"skips"`
	Failures     int64     `json:"failures"`
}

// Orchestrator runs jobs on their own tickers. A failed run is logged and
// metered; the next tick is the retry.
type Orchestrator struct {
	mu     sync.Mutex
	jobs   []Job
	status map[string]*JobStatus
	cancel context.CancelFunc
	log    zerolog.Logger
}

// NewOrchestrator creates an orchestrator for the given jobs.
func NewOrchestrator(jobs ...Job) *Orchestrator {
	o := &Orchestrator{
		status: make(map[string]*JobStatus),
		log:    logging.Component("scheduler"),
	}
	for _, j := range jobs {
		o.Add(j)
	}
	return o
}

// Add registers a job. Jobs added after Serve starts are not scheduled.
func (o *Orchestrator) Add(j Job) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.jobs = append(o.jobs, j)
	o.status[j.Name] = &JobStatus{Name: j.Name, Interval: j.Interval.String()}
}

// Serve runs every job until ctx is cancelled. It satisfies suture.Service.
func (o *Orchestrator) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	o.mu.Lock()
	o.cancel = cancel
	jobs := append([]Job(nil), o.jobs...)
	o.mu.Unlock()

	for _, j := range jobs {
		o.log.Info().Str("job", j.Name).Dur("interval", j.Interval).Dur("timeout", j.timeout()).Msg("job scheduled")
	}

	var wg sync.WaitGroup
	for _, j := range jobs {
		wg.Add(1)
		go func(j Job) {
			defer wg.Done()
			o.loop(ctx, j)
		}(j)
	}

	<-ctx.Done()
	wg.Wait()
	o.log.Info().Msg("scheduler stopped")
	return ctx.Err()
}

// Stop cancels a running Serve.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		o.cancel()
	}
}

func (o *Orchestrator) loop(ctx context.Context, j Job) {
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	if j.RunAtStart {
		o.RunOnce(ctx, j)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.RunOnce(ctx, j)
		}
	}
}

// RunOnce executes a single tick of j: acquire the guard or skip, run the
// handler under the job timeout, then record the outcome.
func (o *Orchestrator) RunOnce(ctx context.Context, j Job) Outcome {
	if j.Guard != nil {
		release, ok, err := j.Guard.TryLock(ctx, j.Name, j.timeout())
		if err != nil {
			o.record(j, OutcomeError, 0, err)
			return OutcomeError
		}
		if !ok {
			o.record(j, OutcomeSkipped, 0, nil)
			return OutcomeSkipped
		}
		defer release()
	}

	runCtx, cancel := context.WithTimeout(ctx, j.timeout())
	defer cancel()

	start := time.Now()
	err := j.Handler(runCtx)
	elapsed := time.Since(start)

	outcome := OutcomeOK
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(runCtx.Err(), context.DeadlineExceeded):
		outcome = OutcomeTimeout
	default:
		outcome = OutcomeError
	}

	o.record(j, outcome, elapsed, err)
	return outcome
}

func (o *Orchestrator) record(j Job, outcome Outcome, elapsed time.Duration, err error) {
	metrics.JobRuns.WithLabelValues(j.Name, string(outcome)).Inc()
	if outcome != OutcomeSkipped {
		metrics.JobDuration.WithLabelValues(j.Name).Observe(elapsed.Seconds())
	}

	o.mu.Lock()
	st, ok := o.status[j.Name]
	if !ok {
		st = &JobStatus{Name: j.Name, Interval: j.Interval.String()}
		o.status[j.Name] = st
	}
	switch outcome {
	case OutcomeSkipped:
		st.Skips++
	default:
		st.Runs++
		st.LastRun = time.Now()
		st.LastOutcome = outcome
		st.LastDuration = elapsed.Round(time.Millisecond).String()
		st.LastError = ""
		if err != nil {
			st.Failures++
			st.LastError = err.Error()
		}
	}
	o.mu.Unlock()

	ev := o.log.Info()
	switch outcome {
	case OutcomeSkipped:
		ev = o.log.Debug()
	case OutcomeError, OutcomeTimeout:
		ev = o.log.Error().Err(err)
	}
	ev.Str("job", j.Name).Str("outcome", string(outcome)).Dur("elapsed", elapsed).Msg("job run")
}

// Status returns a snapshot of every job's status ordered by name.
func (o *Orchestrator) Status() []JobStatus {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]JobStatus, 0, len(o.status))
	for _, st := range o.status {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}
