package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScoreComponentsDisplay(t *testing.T) {
	tests := []struct {
		name string
		in   ScoreComponents
		want int
	}{
		{"regular only", ScoreComponents{Regular: 2}, 2},
		{"overtime includes regular", ScoreComponents{Regular: 1, Overtime: 2}, 2},
		{"stale overtime ignored", ScoreComponents{Regular: 3, Overtime: 0}, 3},
		{"penalties added", ScoreComponents{Regular: 1, Overtime: 1, Penalty: 4}, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.Display())
		})
	}
}

func TestCanAdvance(t *testing.T) {
	assert.True(t, CanAdvance(StatusNotStarted, StatusFirstHalf))
	assert.True(t, CanAdvance(StatusSecondHalf, StatusSecondHalf))
	assert.True(t, CanAdvance(StatusSecondHalf, StatusFinished))
	assert.True(t, CanAdvance(StatusUnknown, StatusHalfTime))
	assert.False(t, CanAdvance(StatusSecondHalf, StatusFirstHalf))
	assert.False(t, CanAdvance(StatusFinished, StatusSecondHalf))
	assert.False(t, CanAdvance(StatusFinished, StatusFinished))
	assert.False(t, CanAdvance(StatusFirstHalf, StatusID(6)))
}

func TestAcceptsMonotonicTimestamps(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
	m := &MatchSnapshot{ExternalID: "m1", StatusID: StatusSecondHalf, StatusTimestamp: t0, MinuteTimestamp: t0}

	assert.True(t, m.Accepts(MinuteUpdate("m1", IntPtr(60), "x", t0)), "equal timestamp applies")
	assert.False(t, m.Accepts(MinuteUpdate("m1", IntPtr(60), "x", t0.Add(-time.Second))))
	assert.True(t, m.Accepts(MinuteUpdate("m1", IntPtr(60), "x", t0.Add(-time.Hour)).Override()))

	assert.False(t, m.Accepts(StatusUpdate("m1", StatusFirstHalf, "x", t0.Add(time.Minute))))
	assert.True(t, m.Accepts(StatusUpdate("m1", StatusFirstHalf, "x", t0.Add(-time.Minute)).Override()))
	assert.False(t, m.Accepts(StatusUpdate("m1", StatusID(42), "x", t0).Override()))
}

func TestApplyScoreSetsDisplay(t *testing.T) {
	m := &MatchSnapshot{ExternalID: "m1"}
	ts := time.Now()
	m.Apply(ScoreUpdate("m1", Score{
		Home: ScoreComponents{Regular: 1, Overtime: 2},
		Away: ScoreComponents{Regular: 1, Overtime: 1, Penalty: 3},
	}, "diary-sync", ts))

	assert.Equal(t, 2, *m.HomeScoreDisplay)
	assert.Equal(t, 4, *m.AwayScoreDisplay)
	assert.Equal(t, "diary-sync", m.ScoreSource)
	assert.Equal(t, ts, m.ScoreTimestamp)
}

func TestTerminalMinute(t *testing.T) {
	assert.Equal(t, 90, TerminalMinute(nil, 90))
	assert.Equal(t, 90, TerminalMinute(IntPtr(85), 90))
	assert.Equal(t, 97, TerminalMinute(IntPtr(97), 90))
}

func TestCriteriaStuckReason(t *testing.T) {
	now := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	c := Criteria{
		Kind:             ScanStuck,
		Now:              now,
		FullTimeMinute:   90,
		HighMinute:       120,
		StaleScoreWindow: 15 * time.Minute,
		HardCloseAfter:   3 * time.Hour,
		KickoffOverdue:   20 * time.Minute,
	}

	tests := []struct {
		name string
		m    MatchSnapshot
		want StuckReason
	}{
		{
			name: "high minute",
			m:    MatchSnapshot{StatusID: StatusOvertime, Minute: IntPtr(121), ScoreTimestamp: now, MatchTime: now.Add(-2 * time.Hour)},
			want: ReasonHighMinute,
		},
		{
			name: "full time with stale score",
			m:    MatchSnapshot{StatusID: StatusSecondHalf, Minute: IntPtr(93), ScoreTimestamp: now.Add(-20 * time.Minute), MatchTime: now.Add(-2 * time.Hour)},
			want: ReasonStaleScore,
		},
		{
			name: "full time with fresh score",
			m:    MatchSnapshot{StatusID: StatusSecondHalf, Minute: IntPtr(93), ScoreTimestamp: now.Add(-time.Minute), MatchTime: now.Add(-2 * time.Hour)},
			want: ReasonNone,
		},
		{
			name: "hard close",
			m:    MatchSnapshot{StatusID: StatusHalfTime, Minute: IntPtr(45), ScoreTimestamp: now, MatchTime: now.Add(-4 * time.Hour)},
			want: ReasonHardClose,
		},
		{
			name: "kickoff overdue",
			m:    MatchSnapshot{StatusID: StatusNotStarted, MatchTime: now.Add(-40 * time.Minute)},
			want: ReasonKickoffOverdue,
		},
		{
			name: "kickoff not yet overdue",
			m:    MatchSnapshot{StatusID: StatusNotStarted, MatchTime: now.Add(-10 * time.Minute)},
			want: ReasonNone,
		},
		{
			name: "finished is never a candidate",
			m:    MatchSnapshot{StatusID: StatusFinished, Minute: IntPtr(130), MatchTime: now.Add(-5 * time.Hour)},
			want: ReasonNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := tt.m
			assert.Equal(t, tt.want, c.StuckReason(&m))
		})
	}
}

func TestStuckReasonLiveStale(t *testing.T) {
	assert.True(t, ReasonStaleScore.LiveStale())
	assert.True(t, ReasonHardClose.LiveStale())
	assert.False(t, ReasonKickoffOverdue.LiveStale())
	assert.False(t, ReasonNone.LiveStale())
}
