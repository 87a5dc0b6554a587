package latency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortuna/scoreline/internal/events"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newMonitor(capacity int) (*Monitor, *clock) {
	clk := &clock{now: time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)}
	m := NewMonitor(capacity, 100*time.Millisecond)
	m.Now = clk.Now
	return m, clk
}

func goal(match string, ingest time.Time) events.Event {
	return events.GoalEvent{Meta: events.Meta{Match: match, Ingested: ingest}}
}

// measure runs one event through all checkpoints, spending the given time in
// each phase.
func measure(m *Monitor, clk *clock, ev events.Event, process, send time.Duration) {
	m.RecordIngest(ev)
	clk.Advance(process)
	m.RecordEmitted(ev)
	clk.Advance(send)
	m.RecordBroadcastSent(ev)
}

func TestMonitorMeasuresPhases(t *testing.T) {
	m, clk := newMonitor(10)
	ev := goal("m1", clk.Now())

	assert.Equal(t, clk.Now(), m.RecordIngest(ev))
	clk.Advance(20 * time.Millisecond)
	m.RecordEmitted(ev)
	require.Equal(t, 1, m.Pending())

	clk.Advance(5 * time.Millisecond)
	m.RecordBroadcastSent(ev)
	assert.Equal(t, 0, m.Pending())

	recent := m.Recent(5)
	require.Len(t, recent, 1)
	assert.InDelta(t, 20, recent[0].IngestToEmit, 0.001)
	assert.InDelta(t, 5, recent[0].EmitToBroadcast, 0.001)
	assert.InDelta(t, 25, recent[0].Total, 0.001)
}

func TestMonitorKeepsSameTypeEventsApart(t *testing.T) {
	m, clk := newMonitor(10)
	ingest := clk.Now()
	first := events.GoalEvent{Meta: events.Meta{Match: "m1", Ingested: ingest, Seq: 0}, Minute: 30}
	second := events.GoalEvent{Meta: events.Meta{Match: "m1", Ingested: ingest, Seq: 1}, Minute: 31}

	m.RecordIngest(first)
	m.RecordIngest(second)
	assert.Equal(t, 2, m.Pending())

	clk.Advance(10 * time.Millisecond)
	m.RecordEmitted(first)
	m.RecordEmitted(second)
	clk.Advance(time.Millisecond)
	m.RecordBroadcastSent(first)
	m.RecordBroadcastSent(second)

	assert.Equal(t, 0, m.Pending())
	assert.Equal(t, 2, m.Stats(events.TypeGoal).Count)
}

func TestMonitorIgnoresUnknownBroadcast(t *testing.T) {
	m, clk := newMonitor(10)
	m.RecordBroadcastSent(goal("m1", clk.Now()))
	assert.Equal(t, 0, m.Stats("").Count)
}

func TestMonitorRingBufferKeepsNewest(t *testing.T) {
	m, clk := newMonitor(3)
	for i := 1; i <= 5; i++ {
		measure(m, clk, goal("m1", clk.Now()), time.Duration(i)*time.Millisecond, 0)
	}

	s := m.Stats("")
	assert.Equal(t, 3, s.Count)
	assert.InDelta(t, 3, s.Min, 0.001)
	assert.InDelta(t, 5, s.Max, 0.001)
	assert.InDelta(t, 4, s.Avg, 0.001)

	recent := m.Recent(2)
	require.Len(t, recent, 2)
	assert.InDelta(t, 5, recent[0].Total, 0.001)
}

func TestMonitorAllStats(t *testing.T) {
	m, clk := newMonitor(100)
	for i := 0; i < 4; i++ {
		ev := events.MinuteUpdateEvent{Meta: events.Meta{Match: "m1", Ingested: clk.Now()}, Minute: i}
		measure(m, clk, ev, 5*time.Millisecond, 5*time.Millisecond)
	}
	measure(m, clk, goal("m2", clk.Now()), 150*time.Millisecond, 50*time.Millisecond)

	assert.Equal(t, 4, m.Stats(events.TypeMinuteUpdate).Count)
	assert.Equal(t, 1, m.Stats(events.TypeGoal).Count)

	all := m.AllStats()
	require.Contains(t, all, events.TypeGoal)
	assert.InDelta(t, 200, all[events.TypeGoal].P99, 0.001)
	assert.InDelta(t, 10, all[events.TypeMinuteUpdate].P50, 0.001)
}

func TestMonitorExpiresPending(t *testing.T) {
	m, clk := newMonitor(10)
	m.RecordEmitted(goal("m1", clk.Now()))
	clk.Advance(30 * time.Second)
	m.RecordEmitted(goal("m2", clk.Now()))

	clk.Advance(45 * time.Second)
	assert.Equal(t, 1, m.ExpirePending())
	assert.Equal(t, 1, m.Pending())
}

func TestMonitorRunStops(t *testing.T) {
	m, _ := newMonitor(10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.Run(ctx, time.Millisecond), context.Canceled)
}

func TestPercentile(t *testing.T) {
	v := make([]float64, 100)
	for i := range v {
		v[i] = float64(i + 1)
	}
	s := summarise(v)
	assert.Equal(t, 50.0, s.P50)
	assert.Equal(t, 95.0, s.P95)
	assert.Equal(t, 99.0, s.P99)
	assert.Equal(t, 50.5, s.Avg)

	assert.Equal(t, Stats{}, summarise(nil))
}
