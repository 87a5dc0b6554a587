package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fortuna/scoreline/internal/metrics"
	"github.com/fortuna/scoreline/internal/provider"
	"github.com/fortuna/scoreline/internal/store"
)

// ApplyPush applies one payload from the push feed. A match the store has
// never seen is inserted without events, since there is no baseline to diff.
func (r *Reconciler) ApplyPush(ctx context.Context, lm provider.LiveMatch) (MatchOutcome, error) {
	ingestedAt := r.Now()

	prev, err := r.store.Get(ctx, lm.ID)
	if errors.Is(err, store.ErrNotFound) {
		if err := r.store.Upsert(ctx, snapshotFromLive(lm, ingestedAt)); err != nil {
			return MatchOutcome{MatchID: lm.ID}, fmt.Errorf("insert pushed match %s: %w", lm.ID, err)
		}
		r.countPush()
		return MatchOutcome{MatchID: lm.ID, Status: StatusUpdated}, nil
	}
	if err != nil {
		return MatchOutcome{MatchID: lm.ID}, fmt.Errorf("load %s: %w", lm.ID, err)
	}

	if prev.StatusID.IsTerminal() {
		out := MatchOutcome{MatchID: lm.ID, Status: StatusSkipped}
		describe(&out, prev)
		return out, nil
	}

	out, err := r.apply(ctx, prev, lm, writeOptions{source: store.SourcePush}, ingestedAt)
	if err != nil {
		return out, err
	}
	r.countPush()
	metrics.MatchOutcomes.WithLabelValues(store.SourcePush, string(out.Status)).Inc()
	return out, nil
}

func (r *Reconciler) countPush() {
	r.mu.Lock()
	r.metrics.PushesApplied++
	r.mu.Unlock()
}

func snapshotFromLive(lm provider.LiveMatch, ts time.Time) *store.MatchSnapshot {
	m := &store.MatchSnapshot{
		ExternalID: lm.ID,
		MatchTime:  lm.KickoffAt,
	}
	if lm.Status.Known() {
		m.StatusID = lm.Status
		m.StatusSource = store.SourcePush
		m.StatusTimestamp = ts
	}
	if lm.Minute != nil {
		m.Minute = store.IntPtr(*lm.Minute)
		m.MinuteSource = store.SourcePush
		m.MinuteTimestamp = ts
	}
	home, away := lm.Score.Display()
	m.Home, m.Away = lm.Score.Home, lm.Score.Away
	m.HomeScoreDisplay, m.AwayScoreDisplay = &home, &away
	m.ScoreSource = store.SourcePush
	m.ScoreTimestamp = ts
	return m
}
