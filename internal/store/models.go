package store

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when no match row exists for an external id.
var ErrNotFound = errors.New("match not found")

// StatusID is the provider's match status code.
type StatusID int

const (
	StatusUnknown         StatusID = 0
	StatusNotStarted      StatusID = 1
	StatusFirstHalf       StatusID = 2
	StatusHalfTime        StatusID = 3
	StatusSecondHalf      StatusID = 4
	StatusOvertime        StatusID = 5
	StatusPenaltyShootout StatusID = 7
	StatusFinished        StatusID = 8
)

// LiveStatuses is the set of in-play statuses, in state machine order.
var LiveStatuses = []StatusID{
	StatusFirstHalf,
	StatusHalfTime,
	StatusSecondHalf,
	StatusOvertime,
	StatusPenaltyShootout,
}

func (s StatusID) String() string {
	switch s {
	case StatusNotStarted:
		return "NOT_STARTED"
	case StatusFirstHalf:
		return "FIRST_HALF"
	case StatusHalfTime:
		return "HALF_TIME"
	case StatusSecondHalf:
		return "SECOND_HALF"
	case StatusOvertime:
		return "OVERTIME"
	case StatusPenaltyShootout:
		return "PENALTY_SHOOTOUT"
	case StatusFinished:
		return "FINISHED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// Known reports whether s is part of the status state machine.
func (s StatusID) Known() bool {
	switch s {
	case StatusNotStarted, StatusFirstHalf, StatusHalfTime, StatusSecondHalf,
		StatusOvertime, StatusPenaltyShootout, StatusFinished:
		return true
	}
	return false
}

// IsLive reports whether the match is in play.
func (s StatusID) IsLive() bool {
	switch s {
	case StatusFirstHalf, StatusHalfTime, StatusSecondHalf, StatusOvertime, StatusPenaltyShootout:
		return true
	}
	return false
}

// IsTerminal reports whether s is the absorbing FINISHED state.
func (s StatusID) IsTerminal() bool {
	return s == StatusFinished
}

// CanAdvance reports whether a normal (non-override) write may move a match
// from one status to another. The provider numbering follows state machine
// order, so backward moves are numerically smaller. FINISHED never moves.
func CanAdvance(from, to StatusID) bool {
	if !to.Known() {
		return false
	}
	if from.IsTerminal() {
		return false
	}
	if !from.Known() {
		return true
	}
	return to >= from
}

// ScoreComponents are the raw per-side score parts reported by the provider.
type ScoreComponents struct {
	Regular  int `json:"regular"`
	Overtime int `json:"overtime"`
	Penalty  int `json:"penalty"`
}

// Display is the number shown to users. The provider's overtime figure
// already includes regular time; shoot-out goals are added on top.
func (c ScoreComponents) Display() int {
	base := c.Regular
	if c.Overtime > base {
		base = c.Overtime
	}
	return base + c.Penalty
}

// Score is one value of the score field group.
type Score struct {
	Home ScoreComponents `json:"home"`
	Away ScoreComponents `json:"away"`
}

// Negative reports whether any component of either side is below zero.
func (s Score) Negative() bool {
	for _, c := range []ScoreComponents{s.Home, s.Away} {
		if c.Regular < 0 || c.Overtime < 0 || c.Penalty < 0 {
			return true
		}
	}
	return false
}

// Display returns both display scores.
func (s Score) Display() (home, away int) {
	return s.Home.Display(), s.Away.Display()
}

// MatchSnapshot is the authoritative row for one match. Status, minute and
// score each carry their own provenance so that a write to one group never
// clobbers a fresher write to another.
type MatchSnapshot struct {
	ExternalID string `json:"external_id"`

	StatusID        StatusID  `json:"status_id"`
	StatusSource    string    `json:"status_source,omitempty"`
	StatusTimestamp time.Time `json:"status_timestamp"`

	Minute          *int      `json:"minute,omitempty"`
	MinuteSource    string    `json:"minute_source,omitempty"`
	MinuteTimestamp time.Time `json:"minute_timestamp"`

	HomeScoreDisplay *int            `json:"home_score_display,omitempty"`
	AwayScoreDisplay *int            `json:"away_score_display,omitempty"`
	Home             ScoreComponents `json:"home_score"`
	Away             ScoreComponents `json:"away_score"`
	ScoreSource      string          `json:"score_source,omitempty"`
	ScoreTimestamp   time.Time       `json:"score_timestamp"`

	MatchTime time.Time `json:"match_time"`

	HomeTeamID    string `json:"home_team_id,omitempty"`
	AwayTeamID    string `json:"away_team_id,omitempty"`
	CompetitionID string `json:"competition_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Score returns the score field group as a value.
func (m *MatchSnapshot) Score() Score {
	return Score{Home: m.Home, Away: m.Away}
}

// HasScore reports whether a score has ever been written.
func (m *MatchSnapshot) HasScore() bool {
	return m.HomeScoreDisplay != nil && m.AwayScoreDisplay != nil
}

// Clone returns a deep copy.
func (m *MatchSnapshot) Clone() *MatchSnapshot {
	if m == nil {
		return nil
	}
	cpy := *m
	cpy.Minute = copyInt(m.Minute)
	cpy.HomeScoreDisplay = copyInt(m.HomeScoreDisplay)
	cpy.AwayScoreDisplay = copyInt(m.AwayScoreDisplay)
	return &cpy
}

// MinuteOr returns the minute or a fallback when none is known.
func (m *MatchSnapshot) MinuteOr(fallback int) int {
	if m.Minute == nil {
		return fallback
	}
	return *m.Minute
}

// FieldGroup is the unit of independent conditional writes.
type FieldGroup string

const (
	GroupStatus FieldGroup = "status"
	GroupMinute FieldGroup = "minute"
	GroupScore  FieldGroup = "score"
)

// Groups records which field groups a write pass actually changed.
type Groups struct {
	Status bool
	Minute bool
	Score  bool
}

// AllGroups marks every field group.
var AllGroups = Groups{Status: true, Minute: true, Score: true}

// Mark sets g's flag for one field group.
func (g *Groups) Mark(fg FieldGroup) {
	switch fg {
	case GroupStatus:
		g.Status = true
	case GroupMinute:
		g.Minute = true
	case GroupScore:
		g.Score = true
	}
}

// Any reports whether at least one group changed.
func (g Groups) Any() bool {
	return g.Status || g.Minute || g.Score
}

// Source tags recorded alongside each field group.
const (
	SourceAutoFinish   = "auto-finish"
	SourceForceRefresh = "api-force-refresh"
	SourceManual       = "manual"
	SourceDiarySync    = "diary-sync"
	SourcePush         = "mqtt"
)

// Update is one conditional write to a single field group. Only the value
// matching Group is read.
type Update struct {
	ExternalID    string
	Group         FieldGroup
	Status        StatusID
	Minute        *int
	Score         Score
	Source        string
	Timestamp     time.Time
	AllowOverride bool
}

// StatusUpdate builds a status-group write.
func StatusUpdate(id string, status StatusID, source string, ts time.Time) Update {
	return Update{ExternalID: id, Group: GroupStatus, Status: status, Source: source, Timestamp: ts}
}

// MinuteUpdate builds a minute-group write.
func MinuteUpdate(id string, minute *int, source string, ts time.Time) Update {
	return Update{ExternalID: id, Group: GroupMinute, Minute: copyInt(minute), Source: source, Timestamp: ts}
}

// ScoreUpdate builds a score-group write.
func ScoreUpdate(id string, score Score, source string, ts time.Time) Update {
	return Update{ExternalID: id, Group: GroupScore, Score: score, Source: source, Timestamp: ts}
}

// Override marks the write as a forced override.
func (u Update) Override() Update {
	u.AllowOverride = true
	return u
}

// Validate rejects malformed updates before they reach a store.
func (u Update) Validate() error {
	if u.ExternalID == "" {
		return errors.New("update: empty external id")
	}
	if u.Timestamp.IsZero() {
		return errors.New("update: zero timestamp")
	}
	switch u.Group {
	case GroupStatus, GroupMinute, GroupScore:
	default:
		return fmt.Errorf("update: unknown field group %q", u.Group)
	}
	return nil
}

// storedTimestamp returns the provenance timestamp for the group.
func (m *MatchSnapshot) storedTimestamp(g FieldGroup) time.Time {
	switch g {
	case GroupStatus:
		return m.StatusTimestamp
	case GroupMinute:
		return m.MinuteTimestamp
	default:
		return m.ScoreTimestamp
	}
}

// Accepts applies the monotonic authority rule: an override always wins,
// otherwise the write must be at least as new as the stored group timestamp.
// Status writes additionally follow the state machine.
func (m *MatchSnapshot) Accepts(u Update) bool {
	if u.AllowOverride {
		if u.Group == GroupStatus && !u.Status.Known() {
			return false
		}
		return true
	}
	if u.Timestamp.Before(m.storedTimestamp(u.Group)) {
		return false
	}
	if u.Group == GroupStatus {
		return CanAdvance(m.StatusID, u.Status)
	}
	return true
}

// AcceptsSync is the rule for the bulk schedule sync. Its values are
// authoritative regardless of stored timestamps, but status still follows the
// state machine.
func (m *MatchSnapshot) AcceptsSync(u Update) bool {
	if u.Group == GroupStatus {
		return CanAdvance(m.StatusID, u.Status)
	}
	return true
}

// MergeSync folds a schedule or push snapshot into an existing row. Team and
// competition ids fill in when present; the kickoff time is immutable once
// set; field groups follow AcceptsSync.
func (m *MatchSnapshot) MergeSync(in *MatchSnapshot) {
	if m.MatchTime.IsZero() {
		m.MatchTime = in.MatchTime
	}
	if in.HomeTeamID != "" {
		m.HomeTeamID = in.HomeTeamID
	}
	if in.AwayTeamID != "" {
		m.AwayTeamID = in.AwayTeamID
	}
	if in.CompetitionID != "" {
		m.CompetitionID = in.CompetitionID
	}
	for _, u := range SplitGroups(in) {
		if m.AcceptsSync(u) {
			m.Apply(u)
		}
	}
}

// Apply writes the update into the snapshot without checking Accepts.
func (m *MatchSnapshot) Apply(u Update) {
	switch u.Group {
	case GroupStatus:
		m.StatusID = u.Status
		m.StatusSource = u.Source
		m.StatusTimestamp = u.Timestamp
	case GroupMinute:
		m.Minute = copyInt(u.Minute)
		m.MinuteSource = u.Source
		m.MinuteTimestamp = u.Timestamp
	case GroupScore:
		home, away := u.Score.Display()
		m.Home = u.Score.Home
		m.Away = u.Score.Away
		m.HomeScoreDisplay = &home
		m.AwayScoreDisplay = &away
		m.ScoreSource = u.Source
		m.ScoreTimestamp = u.Timestamp
	}
	m.UpdatedAt = u.Timestamp
}

// TerminalMinute is the minute a finished match displays: the prior minute
// when it is already past full time, otherwise full time.
func TerminalMinute(prior *int, fullTime int) int {
	if prior != nil && *prior > fullTime {
		return *prior
	}
	return fullTime
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}

// IntPtr is a small helper for optional integer fields.
func IntPtr(v int) *int {
	return &v
}
