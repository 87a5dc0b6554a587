package websocket

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortuna/scoreline/internal/events"
	"github.com/fortuna/scoreline/internal/latency"
)

var at = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

func goal(matchID string) events.GoalEvent {
	return events.GoalEvent{
		Meta:      events.Meta{Match: matchID, Ingested: at},
		Team:      events.SideHome,
		Minute:    23,
		PlayerID:  "p9",
		HomeScore: 1,
		Kind:      events.GoalRegular,
	}
}

func decode(t *testing.T, frame []byte) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(frame, &out))
	return out
}

func recv(t *testing.T, sub *Subscriber) []byte {
	t.Helper()
	select {
	case frame, ok := <-sub.Send():
		require.True(t, ok, "subscriber closed")
		return frame
	case <-time.After(time.Second):
		t.Fatal("no frame")
		return nil
	}
}

func TestSubscribeSendsConnected(t *testing.T) {
	h := NewHub(nil)
	sub := h.Subscribe()

	msg := decode(t, recv(t, sub))
	assert.Equal(t, events.MessageConnected, msg["type"])
	assert.NotEmpty(t, sub.ID())
	assert.Equal(t, 1, h.Count())
}

func TestFanOutDeliversToEverySubscriber(t *testing.T) {
	h := NewHub(nil)
	a, b := h.Subscribe(), h.Subscribe()
	recv(t, a)
	recv(t, b)

	require.NoError(t, h.FanOut(context.Background(), goal("m1")))

	for _, sub := range []*Subscriber{a, b} {
		msg := decode(t, recv(t, sub))
		assert.Equal(t, "GOAL", msg["type"])
		assert.Equal(t, "m1", msg["matchId"])
		assert.Equal(t, "p9", msg["playerId"])
	}

	health := h.Health()
	assert.Equal(t, int64(2), health.Sent)
	assert.Zero(t, health.Errors)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	h := NewHub(nil)
	sub := h.Subscribe()

	h.Unsubscribe(sub)
	h.Unsubscribe(sub)
	h.Unsubscribe(nil)

	health := h.Health()
	assert.Equal(t, 0, health.ActiveCount)
	assert.Equal(t, int64(1), health.TotalConnected)
	assert.Equal(t, int64(1), health.TotalDisconnected)

	recv(t, sub)
	_, ok := <-sub.Send()
	assert.False(t, ok, "queue closed after unsubscribe")
}

func TestFanOutDropsSlowSubscriber(t *testing.T) {
	h := NewHub(nil)
	slow := h.Subscribe()
	fast := h.Subscribe()

	// CONNECTED occupies one slot of slow's queue; fill the rest.
	for i := 0; i < sendBuffer-1; i++ {
		require.True(t, slow.offer([]byte("x")))
	}
	recv(t, fast)

	require.NoError(t, h.FanOut(context.Background(), goal("m1")))

	assert.Equal(t, 1, h.Count())
	assert.Equal(t, int64(1), h.Health().Errors)
	assert.Equal(t, "GOAL", decode(t, recv(t, fast))["type"])
}

func TestFanOutConcurrentWithUnsubscribe(t *testing.T) {
	h := NewHub(nil)
	subs := make([]*Subscriber, 500)
	for i := range subs {
		subs[i] = h.Subscribe()
	}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				assert.NoError(t, h.FanOut(context.Background(), goal("m1")))
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for _, sub := range subs {
			h.Unsubscribe(sub)
		}
	}()
	wg.Wait()

	assert.Zero(t, h.Count())
	assert.Equal(t, int64(500), h.Health().TotalDisconnected)
	for _, sub := range subs {
		for range sub.Send() {
		}
	}
}

func TestFanOutRecordsBroadcastCheckpoint(t *testing.T) {
	mon := latency.NewMonitor(10, time.Second)
	clock := at
	mon.Now = func() time.Time { return clock }

	h := NewHub(mon)
	ev := goal("m1")

	mon.RecordIngest(ev)
	clock = clock.Add(5 * time.Millisecond)
	mon.RecordEmitted(ev)
	clock = clock.Add(2 * time.Millisecond)

	require.NoError(t, h.FanOut(context.Background(), ev))

	recent := mon.Recent(1)
	require.Len(t, recent, 1)
	assert.Equal(t, events.TypeGoal, recent[0].Type)
	assert.InDelta(t, 7.0, recent[0].Total, 0.001)
	assert.Zero(t, mon.Pending())
}

func TestFanOutRejectsNilEvent(t *testing.T) {
	h := NewHub(nil)
	assert.ErrorIs(t, h.FanOut(context.Background(), nil), events.ErrUnknownEvent)
}

func TestHealthUptime(t *testing.T) {
	h := NewHub(nil)
	h.Now = func() time.Time { return h.started.Add(90 * time.Second) }

	health := h.Health()
	assert.Equal(t, int64(90), health.UptimeSeconds)
	assert.Equal(t, "1m30s", health.Uptime)
}
