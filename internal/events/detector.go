package events

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/fortuna/scoreline/internal/metrics"
	"github.com/fortuna/scoreline/internal/provider"
	"github.com/fortuna/scoreline/internal/store"
)

// DefaultDedupWindow suppresses repeats of the same event key.
const DefaultDedupWindow = 10 * time.Second

const unknownActor = "unknown"

// State is the previously stored view of a match.
type State struct {
	Status    store.StatusID
	Minute    *int
	HomeScore int
	AwayScore int
}

// StateOf projects a stored snapshot. A nil snapshot yields nil.
func StateOf(m *store.MatchSnapshot) *State {
	if m == nil {
		return nil
	}
	s := &State{Status: m.StatusID, Minute: m.Minute}
	if m.HomeScoreDisplay != nil {
		s.HomeScore = *m.HomeScoreDisplay
	}
	if m.AwayScoreDisplay != nil {
		s.AwayScore = *m.AwayScoreDisplay
	}
	return s
}

// Observation is freshly fetched provider state.
type Observation struct {
	Status    store.StatusID
	Minute    *int
	HomeScore int
	AwayScore int
	Incidents []provider.Incident
}

// ObservationOf converts a live feed entry.
func ObservationOf(lm provider.LiveMatch) Observation {
	home, away := lm.Score.Display()
	return Observation{
		Status:    lm.Status,
		Minute:    lm.Minute,
		HomeScore: home,
		AwayScore: away,
		Incidents: lm.Incidents,
	}
}

// Detector turns state transitions and incidents into events, suppressing
// keys already emitted within the dedup window. It holds no timer; call
// CleanupOldEvents periodically. Safe for concurrent use.
type Detector struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	window time.Duration

	Now func() time.Time
}

// NewDetector creates a detector with the given dedup window.
func NewDetector(window time.Duration) *Detector {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &Detector{
		seen:   make(map[string]time.Time),
		window: window,
		Now:    time.Now,
	}
}

// DetectGoal returns a goal event for a goal-typed incident unless the same
// (match, time, player) was emitted within the window. The event carries the
// incident's score, or prev when the incident has none.
func (d *Detector) DetectGoal(meta Meta, inc provider.Incident, prev *State) (GoalEvent, bool) {
	if !inc.IsGoal() {
		return GoalEvent{}, false
	}

	ev := GoalEvent{
		Meta:       meta,
		Team:       side(inc.Position),
		Minute:     inc.Time,
		PlayerID:   inc.PlayerID,
		PlayerName: inc.PlayerName,
		AssistID:   inc.Assist1ID,
		AssistName: inc.Assist1Name,
		Kind:       goalKind(inc.Type),
	}
	if inc.CarriesScore() {
		ev.HomeScore, ev.AwayScore = *inc.HomeScore, *inc.AwayScore
	} else if prev != nil {
		ev.HomeScore, ev.AwayScore = prev.HomeScore, prev.AwayScore
	}

	key := dedupKey(meta.Match, TypeGoal, strconv.Itoa(inc.Time), actor(inc.PlayerID))
	return ev, d.admit(key, TypeGoal)
}

// DetectCard returns a card event for a booking incident.
func (d *Detector) DetectCard(meta Meta, inc provider.Incident) (CardEvent, bool) {
	if !inc.IsCard() {
		return CardEvent{}, false
	}
	ev := CardEvent{
		Meta:       meta,
		Team:       side(inc.Position),
		Minute:     inc.Time,
		PlayerID:   inc.PlayerID,
		PlayerName: inc.PlayerName,
		Card:       cardKind(inc.Type),
	}
	key := dedupKey(meta.Match, TypeCard, strconv.Itoa(inc.Time), actor(inc.PlayerID))
	return ev, d.admit(key, TypeCard)
}

// DetectSubstitution returns a substitution event, keyed by the incoming
// player.
func (d *Detector) DetectSubstitution(meta Meta, inc provider.Incident) (SubstitutionEvent, bool) {
	if !inc.IsSubstitution() {
		return SubstitutionEvent{}, false
	}
	ev := SubstitutionEvent{
		Meta:          meta,
		Team:          side(inc.Position),
		Minute:        inc.Time,
		InPlayerID:    inc.InPlayerID,
		InPlayerName:  inc.InPlayerName,
		OutPlayerID:   inc.OutPlayerID,
		OutPlayerName: inc.OutPlayerName,
	}
	key := dedupKey(meta.Match, TypeSubstitution, strconv.Itoa(inc.Time), actor(inc.InPlayerID))
	return ev, d.admit(key, TypeSubstitution)
}

// DetectScoreChange classifies a score transition. A decrease on either side
// is always a cancellation; otherwise any change is a score change. Keys use
// the transition string because score updates carry no reliable clock time.
func (d *Detector) DetectScoreChange(meta Meta, homeScore, awayScore int, prev *State) (Event, bool) {
	if prev == nil || (homeScore == prev.HomeScore && awayScore == prev.AwayScore) {
		return nil, false
	}
	transition := fmt.Sprintf("%d-%d->%d-%d", prev.HomeScore, prev.AwayScore, homeScore, awayScore)

	if homeScore < prev.HomeScore || awayScore < prev.AwayScore {
		ev := GoalCancelledEvent{
			Meta:          meta,
			HomeScore:     homeScore,
			AwayScore:     awayScore,
			PrevHomeScore: prev.HomeScore,
			PrevAwayScore: prev.AwayScore,
		}
		return ev, d.admit(dedupKey(meta.Match, TypeGoalCancelled, transition, ""), TypeGoalCancelled)
	}

	ev := ScoreChangeEvent{
		Meta:          meta,
		HomeScore:     homeScore,
		AwayScore:     awayScore,
		PrevHomeScore: prev.HomeScore,
		PrevAwayScore: prev.AwayScore,
	}
	return ev, d.admit(dedupKey(meta.Match, TypeScoreChange, transition, ""), TypeScoreChange)
}

// DetectStateChange reports a status transition.
func (d *Detector) DetectStateChange(meta Meta, status store.StatusID, prev *State) (MatchStateChangeEvent, bool) {
	if prev == nil || !status.Known() || status == prev.Status {
		return MatchStateChangeEvent{}, false
	}
	ev := MatchStateChangeEvent{Meta: meta, From: prev.Status, To: status}
	transition := fmt.Sprintf("%d->%d", prev.Status, status)
	return ev, d.admit(dedupKey(meta.Match, TypeMatchStateChange, transition, ""), TypeMatchStateChange)
}

// DetectMinuteUpdate reports a clock change.
func (d *Detector) DetectMinuteUpdate(meta Meta, minute *int, status store.StatusID, prev *State) (MinuteUpdateEvent, bool) {
	if prev == nil || minute == nil || (prev.Minute != nil && *prev.Minute == *minute) {
		return MinuteUpdateEvent{}, false
	}
	ev := MinuteUpdateEvent{Meta: meta, Minute: *minute, Status: status}
	return ev, d.admit(dedupKey(meta.Match, TypeMinuteUpdate, strconv.Itoa(*minute), ""), TypeMinuteUpdate)
}

// Detect runs every detector over one observation and returns the admitted
// events in a stable order: state, minute, score, then incidents by time.
// With no previous state there is no baseline, so nothing is emitted.
func (d *Detector) Detect(matchID string, prev *State, curr Observation, ingestedAt time.Time) []Event {
	return d.DetectApplied(matchID, prev, curr, ingestedAt, store.AllGroups)
}

// DetectApplied is Detect restricted to the field groups a write actually
// changed. Goals follow the score group; bookings and substitutions need at
// least one applied group. Keys of skipped groups are not consumed.
func (d *Detector) DetectApplied(matchID string, prev *State, curr Observation, ingestedAt time.Time, applied store.Groups) []Event {
	if prev == nil || !applied.Any() {
		return nil
	}

	seq := 0
	meta := func() Meta {
		m := Meta{Match: matchID, Ingested: ingestedAt, Seq: seq}
		seq++
		return m
	}

	var out []Event
	if applied.Status {
		if ev, ok := d.DetectStateChange(meta(), curr.Status, prev); ok {
			out = append(out, ev)
		}
	}
	if applied.Minute {
		if ev, ok := d.DetectMinuteUpdate(meta(), curr.Minute, curr.Status, prev); ok {
			out = append(out, ev)
		}
	}

	decreased := curr.HomeScore < prev.HomeScore || curr.AwayScore < prev.AwayScore
	var (
		scoreEv Event
		scoreOK bool
	)
	if applied.Score {
		scoreEv, scoreOK = d.DetectScoreChange(meta(), curr.HomeScore, curr.AwayScore, prev)
	}

	prevMinute := 0
	if prev.Minute != nil {
		prevMinute = *prev.Minute
	}

	var goals, others []Event
	for _, inc := range sortedIncidents(curr.Incidents) {
		switch {
		case inc.IsGoal():
			if !applied.Score || decreased || !goalIsNew(inc, prev, prevMinute) {
				continue
			}
			if ev, ok := d.DetectGoal(meta(), inc, prev); ok {
				goals = append(goals, ev)
			}
		case inc.IsCard():
			if inc.Time < prevMinute {
				continue
			}
			if ev, ok := d.DetectCard(meta(), inc); ok {
				others = append(others, ev)
			}
		case inc.IsSubstitution():
			if inc.Time < prevMinute {
				continue
			}
			if ev, ok := d.DetectSubstitution(meta(), inc); ok {
				others = append(others, ev)
			}
		}
	}

	out = append(out, goals...)
	if scoreOK {
		out = append(out, scoreEv)
	}
	out = append(out, others...)

	for _, ev := range out {
		metrics.EventsDetected.WithLabelValues(string(ev.Type())).Inc()
	}
	return out
}

// CleanupOldEvents forgets dedup keys older than maxAge and returns how many
// were removed.
func (d *Detector) CleanupOldEvents(maxAge time.Duration) int {
	cutoff := d.Now().Add(-maxAge)

	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for key, at := range d.seen {
		if at.Before(cutoff) {
			delete(d.seen, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of remembered dedup keys.
func (d *Detector) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// admit records key and reports whether it was not seen within the window.
func (d *Detector) admit(key string, t Type) bool {
	now := d.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if at, ok := d.seen[key]; ok && now.Sub(at) < d.window {
		metrics.EventsDeduplicated.WithLabelValues(string(t)).Inc()
		return false
	}
	d.seen[key] = now
	return true
}

func dedupKey(matchID string, t Type, moment, who string) string {
	return matchID + "|" + string(t) + "|" + moment + "|" + who
}

func actor(playerID string) string {
	if playerID == "" {
		return unknownActor
	}
	return playerID
}

// goalIsNew decides whether a goal incident postdates the previous snapshot:
// by its carried score when present, otherwise by its clock time.
func goalIsNew(inc provider.Incident, prev *State, prevMinute int) bool {
	if inc.CarriesScore() {
		return *inc.HomeScore > prev.HomeScore || *inc.AwayScore > prev.AwayScore
	}
	return inc.Time >= prevMinute
}

func sortedIncidents(in []provider.Incident) []provider.Incident {
	out := make([]provider.Incident, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out
}

func goalKind(t int) GoalKind {
	switch t {
	case provider.IncidentPenaltyGoal:
		return GoalPenalty
	case provider.IncidentOwnGoal:
		return GoalOwn
	default:
		return GoalRegular
	}
}

func side(position int) Side {
	switch position {
	case provider.PositionHome:
		return SideHome
	case provider.PositionAway:
		return SideAway
	default:
		return ""
	}
}

func cardKind(t int) CardKind {
	switch t {
	case provider.IncidentRedCard:
		return CardRed
	case provider.IncidentSecondYellow:
		return CardSecondYellow
	default:
		return CardYellow
	}
}
