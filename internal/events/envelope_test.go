package events

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortuna/scoreline/internal/store"
)

type bogusEvent struct{ Meta }

func (bogusEvent) Type() Type { return "BOGUS" }
func (bogusEvent) event()     {}

func TestEncodeGoal(t *testing.T) {
	at := time.UnixMilli(1767000000123)
	b, err := Encode(GoalEvent{
		Meta:       Meta{Match: "m1"},
		Team:       SideAway,
		Minute:     61,
		PlayerID:   "p3",
		PlayerName: "Winger",
		Kind:       GoalOwn,
		HomeScore:  0,
		AwayScore:  1,
	}, at)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, "GOAL", got["type"])
	assert.Equal(t, "m1", got["matchId"])
	assert.Equal(t, "away", got["team"])
	assert.Equal(t, "own_goal", got["goalType"])
	assert.EqualValues(t, 61, got["minute"])
	assert.EqualValues(t, 1767000000123, got["timestamp"])
}

func TestEnvelopeCoversEveryType(t *testing.T) {
	meta := Meta{Match: "m1"}
	all := []Event{
		GoalEvent{Meta: meta},
		CardEvent{Meta: meta},
		SubstitutionEvent{Meta: meta},
		ScoreChangeEvent{Meta: meta},
		GoalCancelledEvent{Meta: meta},
		MatchStateChangeEvent{Meta: meta, From: store.StatusSecondHalf, To: store.StatusFinished},
		MinuteUpdateEvent{Meta: meta},
	}
	require.Len(t, all, len(AllTypes))

	for i, ev := range all {
		env, err := Envelope(ev, time.Now())
		require.NoError(t, err)
		assert.Equal(t, string(AllTypes[i]), env["type"])
	}
}

func TestEnvelopeRejectsUnknown(t *testing.T) {
	_, err := Envelope(bogusEvent{}, time.Now())
	assert.ErrorIs(t, err, ErrUnknownEvent)

	_, err = Envelope(nil, time.Now())
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

func TestControl(t *testing.T) {
	var got map[string]any
	require.NoError(t, json.Unmarshal(Control(MessagePong, time.UnixMilli(5)), &got))
	assert.Equal(t, "PONG", got["type"])
	assert.EqualValues(t, 5, got["timestamp"])
}
