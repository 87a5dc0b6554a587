package reconcile

import (
	"time"

	"github.com/fortuna/scoreline/internal/store"
)

// Status is the per-match result of one reconciliation attempt.
type Status string

const (
	StatusUpdated   Status = "updated"
	StatusUnchanged Status = "unchanged"
	StatusFinished  Status = "finished"
	StatusNotFound  Status = "not_found"
	StatusSkipped   Status = "skipped"
	StatusError     Status = "error"
)

// MatchOutcome is reported for every candidate a run touched.
type MatchOutcome struct {
	MatchID string            `json:"matchId"`
	Status  Status            `json:"status"`
	Reason  store.StuckReason `json:"reason,omitempty"`
	Error   string            `json:"error,omitempty"`

	StatusID  store.StatusID `json:"statusId,omitempty"`
	Minute    *int           `json:"minute,omitempty"`
	HomeScore *int           `json:"homeScore,omitempty"`
	AwayScore *int           `json:"awayScore,omitempty"`

	Events []string `json:"events,omitempty"`
}

// Summary counts outcomes by status.
type Summary struct {
	Total     int `json:"total"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Finished  int `json:"finished"`
	NotFound  int `json:"notFound"`
	Errors    int `json:"errors"`
	Skipped   int `json:"skipped"`
}

// Result is what a sweep or forced refresh returns to its caller.
type Result struct {
	Source   string         `json:"source"`
	Results  []MatchOutcome `json:"results"`
	Summary  Summary        `json:"summary"`
	Started  time.Time      `json:"started"`
	Duration string         `json:"duration"`

	providerFailures int
}

func newResult(source string, started time.Time) *Result {
	return &Result{Source: source, Results: []MatchOutcome{}, Started: started}
}

func (r *Result) add(o MatchOutcome) {
	r.Results = append(r.Results, o)
	r.Summary.Total++
	switch o.Status {
	case StatusUpdated:
		r.Summary.Updated++
	case StatusUnchanged:
		r.Summary.Unchanged++
	case StatusFinished:
		r.Summary.Finished++
	case StatusNotFound:
		r.Summary.NotFound++
	case StatusSkipped:
		r.Summary.Skipped++
	case StatusError:
		r.Summary.Errors++
	}
}

func (r *Result) finish(now time.Time) {
	r.Duration = now.Sub(r.Started).Round(time.Millisecond).String()
}

// allProviderFailed reports whether every attempted fetch failed upstream.
func (r *Result) allProviderFailed() bool {
	attempted := r.Summary.Total - r.Summary.Skipped
	return attempted > 0 && r.providerFailures == attempted
}

func describe(o *MatchOutcome, m *store.MatchSnapshot) {
	if m == nil {
		return
	}
	o.StatusID = m.StatusID
	o.Minute = m.Minute
	o.HomeScore = m.HomeScoreDisplay
	o.AwayScore = m.AwayScoreDisplay
}
