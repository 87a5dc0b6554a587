package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/fortuna/scoreline/internal/metrics"
	"github.com/fortuna/scoreline/internal/provider"
	"github.com/fortuna/scoreline/internal/store"
)

// ErrInvalidOverride is returned for an override the state machine cannot
// express.
var ErrInvalidOverride = errors.New("invalid override")

// ManualOverride is an operator correction. Nil fields keep the stored
// value.
type ManualOverride struct {
	Status *store.StatusID `json:"statusId,omitempty"`
	Minute *int            `json:"minute,omitempty"`
	Score  *store.Score    `json:"score,omitempty"`
}

// Empty reports whether the override changes nothing.
func (o ManualOverride) Empty() bool {
	return o.Status == nil && o.Minute == nil && o.Score == nil
}

// Validate rejects values no match can hold. Status ids are checked against
// the known set.
func (o ManualOverride) Validate() error {
	switch {
	case o.Empty():
		return fmt.Errorf("%w: override must set statusId, minute or score", ErrInvalidOverride)
	case o.Status != nil && !o.Status.Known():
		return fmt.Errorf("%w: unknown status id %d", ErrInvalidOverride, int(*o.Status))
	case o.Minute != nil && *o.Minute < 0:
		return fmt.Errorf("%w: minute %d is negative", ErrInvalidOverride, *o.Minute)
	case o.Score != nil && o.Score.Negative():
		return fmt.Errorf("%w: score components must not be negative", ErrInvalidOverride)
	}
	return nil
}

// ApplyManual writes an operator correction with source manual. Score and
// minute are forced; status still follows the state machine. Detected events
// are broadcast like any other applied write.
func (r *Reconciler) ApplyManual(ctx context.Context, externalID string, o ManualOverride) (MatchOutcome, error) {
	if err := o.Validate(); err != nil {
		return MatchOutcome{MatchID: externalID}, err
	}
	prev, err := r.store.Get(ctx, externalID)
	if err != nil {
		return MatchOutcome{MatchID: externalID}, fmt.Errorf("load %s: %w", externalID, err)
	}

	lm := provider.LiveMatch{
		ID:        externalID,
		Status:    prev.StatusID,
		Score:     prev.Score(),
		Minute:    prev.Minute,
		KickoffAt: prev.MatchTime,
	}
	if o.Status != nil {
		lm.Status = *o.Status
	}
	if o.Minute != nil {
		lm.Minute = store.IntPtr(*o.Minute)
	}
	if o.Score != nil {
		lm.Score = *o.Score
	}

	out, err := r.apply(ctx, prev, lm, writeOptions{source: store.SourceManual, override: true}, r.Now())
	if err != nil {
		return out, err
	}
	metrics.MatchOutcomes.WithLabelValues(store.SourceManual, string(out.Status)).Inc()
	r.log.Info().Str("match_id", externalID).Str("status", string(out.Status)).Strs("events", out.Events).Msg("manual override applied")
	return out, nil
}
