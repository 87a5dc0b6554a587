package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortuna/scoreline/internal/provider"
	"github.com/fortuna/scoreline/internal/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newDetector(t *testing.T) (*Detector, *fakeClock) {
	t.Helper()
	clk := &fakeClock{now: time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)}
	d := NewDetector(10 * time.Second)
	d.Now = clk.Now
	return d, clk
}

func typesOf(evs []Event) []Type {
	out := make([]Type, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Type())
	}
	return out
}

func TestDetectGoalAndScoreChange(t *testing.T) {
	d, clk := newDetector(t)
	prev := &State{Status: store.StatusSecondHalf, Minute: store.IntPtr(50), HomeScore: 1, AwayScore: 0}
	curr := Observation{
		Status: store.StatusSecondHalf, Minute: store.IntPtr(50), HomeScore: 2, AwayScore: 0,
		Incidents: []provider.Incident{
			{Type: provider.IncidentGoal, Position: 1, Time: 20, PlayerID: "p1", HomeScore: store.IntPtr(1), AwayScore: store.IntPtr(0)},
			{Type: provider.IncidentPenaltyGoal, Position: 1, Time: 50, PlayerID: "p9", PlayerName: "Striker", Assist1ID: "p7", HomeScore: store.IntPtr(2), AwayScore: store.IntPtr(0)},
		},
	}

	evs := d.Detect("m1", prev, curr, clk.Now())
	require.Equal(t, []Type{TypeGoal, TypeScoreChange}, typesOf(evs))

	goal := evs[0].(GoalEvent)
	assert.Equal(t, "m1", goal.MatchID())
	assert.Equal(t, SideHome, goal.Team)
	assert.Equal(t, GoalPenalty, goal.Kind)
	assert.Equal(t, "p9", goal.PlayerID)
	assert.Equal(t, "p7", goal.AssistID)
	assert.Equal(t, 50, goal.Minute)

	sc := evs[1].(ScoreChangeEvent)
	assert.Equal(t, 2, sc.HomeScore)
	assert.Equal(t, 1, sc.PrevHomeScore)
}

func TestDetectIsIdempotentWithinWindow(t *testing.T) {
	d, clk := newDetector(t)
	prev := &State{Status: store.StatusSecondHalf, Minute: store.IntPtr(60), HomeScore: 0, AwayScore: 0}
	curr := Observation{
		Status: store.StatusSecondHalf, Minute: store.IntPtr(61), HomeScore: 0, AwayScore: 1,
		Incidents: []provider.Incident{{Type: provider.IncidentGoal, Position: 2, Time: 61, PlayerID: "p3", HomeScore: store.IntPtr(0), AwayScore: store.IntPtr(1)}},
	}

	first := d.Detect("m1", prev, curr, clk.Now())
	assert.Equal(t, []Type{TypeMinuteUpdate, TypeGoal, TypeScoreChange}, typesOf(first))

	clk.Advance(3 * time.Second)
	assert.Empty(t, d.Detect("m1", prev, curr, clk.Now()))

	clk.Advance(10 * time.Second)
	again := d.Detect("m1", prev, curr, clk.Now())
	assert.Len(t, again, 3, "keys expire after the window")
}

func TestDetectConcurrentDuplicatesEmitOnce(t *testing.T) {
	d, clk := newDetector(t)
	prev := &State{Status: store.StatusFirstHalf, Minute: store.IntPtr(30)}
	curr := Observation{
		Status: store.StatusFirstHalf, Minute: store.IntPtr(30), HomeScore: 1,
		Incidents: []provider.Incident{{Type: provider.IncidentGoal, Position: 1, Time: 30, PlayerID: "p1", HomeScore: store.IntPtr(1), AwayScore: store.IntPtr(0)}},
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		goals int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, ev := range d.Detect("m1", prev, curr, clk.Now()) {
				if ev.Type() == TypeGoal {
					mu.Lock()
					goals++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, goals)
}

func TestDetectScoreDecreaseEmitsOnlyCancellation(t *testing.T) {
	d, clk := newDetector(t)
	prev := &State{Status: store.StatusSecondHalf, Minute: store.IntPtr(70), HomeScore: 2, AwayScore: 1}
	curr := Observation{
		Status: store.StatusSecondHalf, Minute: store.IntPtr(70), HomeScore: 1, AwayScore: 1,
		Incidents: []provider.Incident{
			{Type: provider.IncidentGoal, Position: 1, Time: 68, PlayerID: "p1", HomeScore: store.IntPtr(2), AwayScore: store.IntPtr(1)},
		},
	}

	evs := d.Detect("m1", prev, curr, clk.Now())
	require.Equal(t, []Type{TypeGoalCancelled}, typesOf(evs))

	gc := evs[0].(GoalCancelledEvent)
	assert.Equal(t, 1, gc.HomeScore)
	assert.Equal(t, 2, gc.PrevHomeScore)
}

func TestDetectStateChangeAndBookings(t *testing.T) {
	d, clk := newDetector(t)
	prev := &State{Status: store.StatusFirstHalf, Minute: store.IntPtr(44)}
	curr := Observation{
		Status: store.StatusHalfTime, Minute: store.IntPtr(45),
		Incidents: []provider.Incident{
			{Type: provider.IncidentYellowCard, Position: 1, Time: 12, PlayerID: "old"},
			{Type: provider.IncidentSecondYellow, Position: 2, Time: 44, PlayerID: "p5", PlayerName: "Defender"},
			{Type: provider.IncidentSubstitution, Position: 1, Time: 45, InPlayerID: "p12", OutPlayerID: "p4"},
		},
	}

	evs := d.Detect("m1", prev, curr, clk.Now())
	require.Equal(t, []Type{TypeMatchStateChange, TypeMinuteUpdate, TypeCard, TypeSubstitution}, typesOf(evs))

	sc := evs[0].(MatchStateChangeEvent)
	assert.Equal(t, store.StatusFirstHalf, sc.From)
	assert.Equal(t, store.StatusHalfTime, sc.To)

	card := evs[2].(CardEvent)
	assert.Equal(t, CardSecondYellow, card.Card)
	assert.Equal(t, SideAway, card.Team)

	sub := evs[3].(SubstitutionEvent)
	assert.Equal(t, "p12", sub.InPlayerID)
	assert.Equal(t, "p4", sub.OutPlayerID)
}

func TestDetectWithoutBaseline(t *testing.T) {
	d, clk := newDetector(t)
	assert.Nil(t, d.Detect("m1", nil, Observation{Status: store.StatusFirstHalf, HomeScore: 1}, clk.Now()))
}

func TestCleanupOldEvents(t *testing.T) {
	d, clk := newDetector(t)
	prev := &State{Status: store.StatusFirstHalf, Minute: store.IntPtr(1)}

	d.Detect("m1", prev, Observation{Status: store.StatusFirstHalf, Minute: store.IntPtr(2)}, clk.Now())
	clk.Advance(4 * time.Minute)
	d.Detect("m2", prev, Observation{Status: store.StatusFirstHalf, Minute: store.IntPtr(2)}, clk.Now())
	require.Equal(t, 2, d.Len())

	clk.Advance(2 * time.Minute)
	assert.Equal(t, 1, d.CleanupOldEvents(5*time.Minute))
	assert.Equal(t, 1, d.Len())
}

func TestStateOf(t *testing.T) {
	assert.Nil(t, StateOf(nil))

	s := StateOf(&store.MatchSnapshot{
		StatusID:         store.StatusSecondHalf,
		Minute:           store.IntPtr(77),
		HomeScoreDisplay: store.IntPtr(3),
	})
	assert.Equal(t, store.StatusSecondHalf, s.Status)
	assert.Equal(t, 77, *s.Minute)
	assert.Equal(t, 3, s.HomeScore)
	assert.Equal(t, 0, s.AwayScore)
}

func TestDetectGoalDuplicateAndDegradedFields(t *testing.T) {
	d, clk := newDetector(t)
	meta := Meta{Match: "m1", Ingested: clk.Now()}
	prev := &State{HomeScore: 1, AwayScore: 1}
	inc := provider.Incident{Type: provider.IncidentGoal, Time: 77}

	ev, ok := d.DetectGoal(meta, inc, prev)
	require.True(t, ok)
	assert.Equal(t, "", ev.PlayerID, "missing player degrades to empty")
	assert.Equal(t, Side(""), ev.Team)
	assert.Equal(t, 1, ev.HomeScore, "falls back to previous score")

	_, ok = d.DetectGoal(meta, inc, prev)
	assert.False(t, ok, "same (match, time, player) suppressed")

	_, ok = d.DetectGoal(meta, provider.Incident{Type: provider.IncidentYellowCard, Time: 77}, prev)
	assert.False(t, ok, "non-goal incidents never produce a goal")
}

func TestDetectScoreChangeClassification(t *testing.T) {
	cases := []struct {
		name       string
		prev       State
		home, away int
		want       Type
	}{
		{"home up", State{HomeScore: 0, AwayScore: 0}, 1, 0, TypeScoreChange},
		{"away down", State{HomeScore: 2, AwayScore: 1}, 2, 0, TypeGoalCancelled},
		{"one up one down", State{HomeScore: 1, AwayScore: 1}, 2, 0, TypeGoalCancelled},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, clk := newDetector(t)
			prev := tc.prev
			ev, ok := d.DetectScoreChange(Meta{Match: "m1", Ingested: clk.Now()}, tc.home, tc.away, &prev)
			require.True(t, ok)
			assert.Equal(t, tc.want, ev.Type())
		})
	}

	d, clk := newDetector(t)
	_, ok := d.DetectScoreChange(Meta{Match: "m1", Ingested: clk.Now()}, 1, 1, &State{HomeScore: 1, AwayScore: 1})
	assert.False(t, ok, "no change, no event")
}

func TestDetectAppliedSkipsRejectedGroups(t *testing.T) {
	d, clk := newDetector(t)
	prev := &State{Status: store.StatusSecondHalf, Minute: store.IntPtr(60), HomeScore: 0, AwayScore: 0}
	curr := Observation{
		Status: store.StatusFinished, Minute: store.IntPtr(61), HomeScore: 1, AwayScore: 0,
		Incidents: []provider.Incident{{Type: provider.IncidentGoal, Position: 1, Time: 61, PlayerID: "p3", HomeScore: store.IntPtr(1), AwayScore: store.IntPtr(0)}},
	}

	evs := d.DetectApplied("m1", prev, curr, clk.Now(), store.Groups{Minute: true})
	require.Equal(t, []Type{TypeMinuteUpdate}, typesOf(evs))

	assert.Empty(t, d.DetectApplied("m1", prev, curr, clk.Now(), store.Groups{}))

	// Rejected groups did not consume their dedup keys.
	evs = d.DetectApplied("m1", prev, curr, clk.Now(), store.Groups{Status: true, Score: true})
	require.Equal(t, []Type{TypeMatchStateChange, TypeGoal, TypeScoreChange}, typesOf(evs))
	seen := map[int]bool{}
	for _, ev := range evs {
		assert.False(t, seen[ev.Sequence()], "sequence %d reused", ev.Sequence())
		seen[ev.Sequence()] = true
	}
}
