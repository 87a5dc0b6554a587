package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortuna/scoreline/internal/events"
	"github.com/fortuna/scoreline/internal/store"
)

func TestApplyManualForcesNewerScore(t *testing.T) {
	f := newFixture(t)
	m := liveSnapshot("m1", store.StatusSecondHalf, 70, 1, 0, 0)
	// A provider write stamped ahead of the local clock.
	m.ScoreTimestamp = base.Add(time.Hour)
	f.seed(t, m)

	corrected := score(1, 1)
	out, err := f.rc.ApplyManual(context.Background(), "m1", ManualOverride{Score: &corrected})
	require.NoError(t, err)

	assert.Equal(t, StatusUpdated, out.Status)
	assert.Equal(t, []string{"SCORE_CHANGE"}, out.Events)
	assert.Equal(t, 1, f.rec.count(events.TypeScoreChange))

	got := f.get(t, "m1")
	assert.Equal(t, store.SourceManual, got.ScoreSource)
	assert.Equal(t, 1, *got.AwayScoreDisplay)
}

func TestApplyManualFinishClampsMinute(t *testing.T) {
	f := newFixture(t)
	f.seed(t, liveSnapshot("m1", store.StatusSecondHalf, 84, 2, 1, 0))

	finished := store.StatusFinished
	out, err := f.rc.ApplyManual(context.Background(), "m1", ManualOverride{Status: &finished})
	require.NoError(t, err)

	assert.Equal(t, StatusFinished, out.Status)
	got := f.get(t, "m1")
	assert.Equal(t, store.StatusFinished, got.StatusID)
	assert.Equal(t, 90, *got.Minute)
	assert.Equal(t, store.SourceManual, got.StatusSource)
}

func TestApplyManualCannotReopenFinished(t *testing.T) {
	f := newFixture(t)
	m := liveSnapshot("m1", store.StatusFinished, 90, 2, 1, 0)
	f.seed(t, m)

	live := store.StatusSecondHalf
	out, err := f.rc.ApplyManual(context.Background(), "m1", ManualOverride{Status: &live})
	require.NoError(t, err)

	assert.Equal(t, StatusUnchanged, out.Status)
	assert.Equal(t, store.StatusFinished, f.get(t, "m1").StatusID)
	assert.Empty(t, f.rec.types())
}

func TestApplyManualErrors(t *testing.T) {
	f := newFixture(t)

	_, err := f.rc.ApplyManual(context.Background(), "nope", ManualOverride{Minute: store.IntPtr(10)})
	assert.ErrorIs(t, err, store.ErrNotFound)

	f.seed(t, liveSnapshot("m1", store.StatusFirstHalf, 10, 0, 0, 0))
	bogus := store.StatusID(6)
	_, err = f.rc.ApplyManual(context.Background(), "m1", ManualOverride{Status: &bogus})
	assert.ErrorIs(t, err, ErrInvalidOverride)

	_, err = f.rc.ApplyManual(context.Background(), "m1", ManualOverride{Minute: store.IntPtr(-1)})
	assert.ErrorIs(t, err, ErrInvalidOverride)

	negative := score(1, 0)
	negative.Away.Overtime = -2
	_, err = f.rc.ApplyManual(context.Background(), "m1", ManualOverride{Score: &negative})
	assert.ErrorIs(t, err, ErrInvalidOverride)

	got := f.get(t, "m1")
	assert.Equal(t, 0, got.Home.Regular)
	assert.Equal(t, 0, got.Away.Overtime)
	assert.Empty(t, f.rec.types())

	assert.True(t, ManualOverride{}.Empty())
	assert.ErrorIs(t, ManualOverride{}.Validate(), ErrInvalidOverride)
}
