package reconcile

import (
	"context"
	"fmt"

	"github.com/fortuna/scoreline/internal/store"
)

// RunStuckSweep is the scheduled stuck-match job. It scans for live matches
// that stopped moving and overdue kickoffs, then reconciles each against the
// provider with source auto-finish.
func (r *Reconciler) RunStuckSweep(ctx context.Context) (*Result, error) {
	return r.sweep(ctx, writeOptions{source: store.SourceAutoFinish})
}

// ForceRefreshStuck runs the same sweep on demand with the forced-refresh
// source and override semantics.
func (r *Reconciler) ForceRefreshStuck(ctx context.Context) (*Result, error) {
	return r.sweep(ctx, writeOptions{source: store.SourceForceRefresh, override: true})
}

func (r *Reconciler) sweep(ctx context.Context, opts writeOptions) (*Result, error) {
	now := r.Now()
	res := newResult(opts.source, now)

	crit := r.criteria(store.ScanStuck, now)
	candidates, err := r.store.FindCandidates(ctx, crit)
	if err != nil {
		return nil, fmt.Errorf("find stuck candidates: %w", err)
	}

	r.log.Info().Str("source", opts.source).Int("candidates", len(candidates)).Msg("stuck sweep started")

	for _, m := range candidates {
		if err := ctx.Err(); err != nil {
			res.finish(r.Now())
			r.track(res)
			return res, err
		}

		out, err := r.reconcileOne(ctx, m, crit.StuckReason(m), opts, res)
		if err != nil {
			res.finish(r.Now())
			r.track(res)
			return res, err
		}
		res.add(out)
	}

	res.finish(r.Now())
	r.track(res)

	r.log.Info().
		Str("source", opts.source).
		Int("total", res.Summary.Total).
		Int("updated", res.Summary.Updated).
		Int("finished", res.Summary.Finished).
		Int("not_found", res.Summary.NotFound).
		Int("errors", res.Summary.Errors).
		Str("duration", res.Duration).
		Msg("stuck sweep complete")

	if res.allProviderFailed() {
		return res, ErrProviderUnavailable
	}
	return res, nil
}

// ForceRefreshOne reconciles a single match on demand. A match that is not
// in the store yields store.ErrNotFound.
func (r *Reconciler) ForceRefreshOne(ctx context.Context, externalID string) (*Result, error) {
	now := r.Now()
	res := newResult(store.SourceForceRefresh, now)

	m, err := r.store.Get(ctx, externalID)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", externalID, err)
	}

	crit := r.criteria(store.ScanStuck, now)
	out, err := r.reconcileOne(ctx, m, crit.StuckReason(m), writeOptions{source: store.SourceForceRefresh, override: true}, res)
	if err != nil {
		return nil, err
	}
	res.add(out)
	res.finish(r.Now())
	r.track(res)

	if res.allProviderFailed() {
		return res, ErrProviderUnavailable
	}
	return res, nil
}
