package store

import (
	"context"
	"time"
)

// Store is the reconciliation store contract. Conditional writes apply per
// field group and report whether the row changed.
type Store interface {
	Get(ctx context.Context, externalID string) (*MatchSnapshot, error)
	FindCandidates(ctx context.Context, c Criteria) ([]*MatchSnapshot, error)
	ConditionalUpdate(ctx context.Context, u Update) (bool, error)
	MarkTerminal(ctx context.Context, externalID string, finalMinute *int, source string, ts time.Time) (bool, error)
	Upsert(ctx context.Context, m *MatchSnapshot) error
}

// ScanKind selects the candidate query.
type ScanKind string

const (
	// ScanStuck finds live matches that look frozen plus overdue kickoffs.
	ScanStuck ScanKind = "stuck"
	// ScanPreSync finds non-terminal matches in a day window that still lack
	// team data.
	ScanPreSync ScanKind = "pre_sync"
)

// StuckReason says which rule made a match a stuck candidate.
type StuckReason string

const (
	ReasonNone           StuckReason = ""
	ReasonHighMinute     StuckReason = "high_minute"
	ReasonStaleScore     StuckReason = "stale_score"
	ReasonHardClose      StuckReason = "hard_close"
	ReasonKickoffOverdue StuckReason = "kickoff_overdue"
)

// LiveStale reports whether the reason describes a live match that stopped
// moving, as opposed to one that never started.
func (r StuckReason) LiveStale() bool {
	switch r {
	case ReasonHighMinute, ReasonStaleScore, ReasonHardClose:
		return true
	}
	return false
}

// Criteria parameterises FindCandidates.
type Criteria struct {
	Kind ScanKind
	Now  time.Time

	FullTimeMinute   int
	HighMinute       int
	StaleScoreWindow time.Duration
	HardCloseAfter   time.Duration
	KickoffOverdue   time.Duration

	DayStart time.Time
	DayEnd   time.Time

	Limit int
}

// StuckReason classifies m against the stuck rules. Rules are checked from
// strongest to weakest signal.
func (c Criteria) StuckReason(m *MatchSnapshot) StuckReason {
	if m.StatusID.IsTerminal() {
		return ReasonNone
	}
	if m.StatusID.IsLive() {
		minute := m.MinuteOr(0)
		if c.HighMinute > 0 && minute >= c.HighMinute {
			return ReasonHighMinute
		}
		if c.FullTimeMinute > 0 && minute >= c.FullTimeMinute {
			if m.ScoreTimestamp.IsZero() || m.ScoreTimestamp.Before(c.Now.Add(-c.StaleScoreWindow)) {
				return ReasonStaleScore
			}
		}
		if c.HardCloseAfter > 0 && !m.MatchTime.IsZero() && m.MatchTime.Before(c.Now.Add(-c.HardCloseAfter)) {
			return ReasonHardClose
		}
		return ReasonNone
	}
	if m.StatusID == StatusNotStarted && c.KickoffOverdue > 0 && !m.MatchTime.IsZero() &&
		m.MatchTime.Before(c.Now.Add(-c.KickoffOverdue)) {
		return ReasonKickoffOverdue
	}
	return ReasonNone
}

// Matches reports whether m belongs to the candidate set.
func (c Criteria) Matches(m *MatchSnapshot) bool {
	switch c.Kind {
	case ScanStuck:
		return c.StuckReason(m) != ReasonNone
	case ScanPreSync:
		if m.StatusID.IsTerminal() {
			return false
		}
		if m.MatchTime.Before(c.DayStart) || !m.MatchTime.Before(c.DayEnd) {
			return false
		}
		return m.HomeTeamID == "" || m.AwayTeamID == ""
	}
	return false
}
