package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/fortuna/scoreline/internal/events"
	"github.com/fortuna/scoreline/internal/latency"
	"github.com/fortuna/scoreline/internal/logging"
	"github.com/fortuna/scoreline/internal/metrics"
	"github.com/fortuna/scoreline/internal/provider"
	"github.com/fortuna/scoreline/internal/store"
)

// ErrProviderUnavailable is returned when every provider call of a run failed.
var ErrProviderUnavailable = errors.New("provider unavailable")

// Broadcaster receives every event whose underlying write was applied.
type Broadcaster interface {
	FanOut(ctx context.Context, ev events.Event) error
}

// Thresholds tune the stuck-match scan.
type Thresholds struct {
	FullTimeMinute   int
	HighMinute       int
	StaleScoreWindow time.Duration
	HardCloseAfter   time.Duration
	KickoffOverdue   time.Duration
}

// DefaultThresholds returns the production tuning.
func DefaultThresholds() Thresholds {
	return Thresholds{
		FullTimeMinute:   90,
		HighMinute:       120,
		StaleScoreWindow: 15 * time.Minute,
		HardCloseAfter:   3 * time.Hour,
		KickoffOverdue:   20 * time.Minute,
	}
}

// Config for a Reconciler.
type Config struct {
	Thresholds Thresholds
	// CallGap is the pause between per-candidate provider calls.
	CallGap time.Duration
	// BatchLimit caps candidates per run. Zero means no limit.
	BatchLimit int
}

// Metrics tracks reconciliation totals since process start.
type Metrics struct {
	Runs               int       `json:"runs"`
	MatchesReconciled  int       `json:"matchesReconciled"`
	Finished           int       `json:"finished"`
	NotFound           int       `json:"notFound"`
	Errors             int       `json:"errors"`
	EventsBroadcast    int       `json:"eventsBroadcast"`
	PushesApplied      int       `json:"pushesApplied"`
	LastReconciliation time.Time `json:"lastReconciliation"`
}

// Reconciler fetches provider state for matches and writes it through the
// store's conditional writes. Events are broadcast only when a write applied.
type Reconciler struct {
	store    store.Store
	provider provider.Provider
	detector *events.Detector
	monitor  *latency.Monitor
	sinks    []Broadcaster
	cfg      Config
	limiter  *rate.Limiter
	log      zerolog.Logger

	mu      sync.Mutex
	metrics Metrics

	Now func() time.Time
}

// New creates a reconciler. Every sink receives each broadcast event.
func New(st store.Store, prov provider.Provider, det *events.Detector, mon *latency.Monitor, cfg Config, sinks ...Broadcaster) *Reconciler {
	if cfg.Thresholds.FullTimeMinute <= 0 {
		cfg.Thresholds = DefaultThresholds()
	}

	limit := rate.Inf
	if cfg.CallGap > 0 {
		limit = rate.Every(cfg.CallGap)
	}

	return &Reconciler{
		store:    st,
		provider: prov,
		detector: det,
		monitor:  mon,
		sinks:    sinks,
		cfg:      cfg,
		limiter:  rate.NewLimiter(limit, 1),
		log:      logging.Component("reconcile"),
		Now:      time.Now,
	}
}

// AddSink registers another broadcaster. Not safe once runs have started.
func (r *Reconciler) AddSink(b Broadcaster) {
	r.sinks = append(r.sinks, b)
}

// GetMetrics returns a copy of the running totals.
func (r *Reconciler) GetMetrics() Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.metrics
}

func (r *Reconciler) criteria(kind store.ScanKind, now time.Time) store.Criteria {
	t := r.cfg.Thresholds
	return store.Criteria{
		Kind:             kind,
		Now:              now,
		FullTimeMinute:   t.FullTimeMinute,
		HighMinute:       t.HighMinute,
		StaleScoreWindow: t.StaleScoreWindow,
		HardCloseAfter:   t.HardCloseAfter,
		KickoffOverdue:   t.KickoffOverdue,
		Limit:            r.cfg.BatchLimit,
	}
}

// writeOptions controls how apply writes each field group.
type writeOptions struct {
	source string
	// override forces score and minute. Status still follows the state machine.
	override bool
}

// apply is the shared pipeline: write each changed field group
// conditionally, then detect events only for the groups that landed and
// broadcast them. A store transport error is returned as is.
func (r *Reconciler) apply(ctx context.Context, prev *store.MatchSnapshot, lm provider.LiveMatch, opts writeOptions, ingestedAt time.Time) (MatchOutcome, error) {
	out := MatchOutcome{MatchID: lm.ID}

	applied, finished, err := r.write(ctx, prev, lm, opts, ingestedAt)
	if err != nil {
		return out, err
	}

	switch {
	case finished:
		out.Status = StatusFinished
	case applied.Any():
		out.Status = StatusUpdated
	default:
		out.Status = StatusUnchanged
	}

	if !applied.Any() {
		r.log.Debug().Str("match_id", lm.ID).Msg("no write applied")
		describe(&out, prev)
		return out, nil
	}

	cur, getErr := r.store.Get(ctx, lm.ID)

	obs := events.ObservationOf(lm)
	if finished && getErr == nil {
		// MarkTerminal clamps the minute; report what was stored.
		obs.Minute = cur.Minute
	}

	detected := r.detector.DetectApplied(lm.ID, events.StateOf(prev), obs, ingestedAt, applied)
	for _, ev := range detected {
		r.monitor.RecordIngest(ev)
		r.broadcast(ctx, ev)
		out.Events = append(out.Events, string(ev.Type()))
	}

	if getErr == nil {
		describe(&out, cur)
	} else {
		describe(&out, prev)
	}
	return out, nil
}

// write issues the conditional writes for every group that differs from
// prev, in score, minute, status order, and reports which groups landed. A
// terminal status goes through MarkTerminal, which writes status and the
// clamped minute together.
func (r *Reconciler) write(ctx context.Context, prev *store.MatchSnapshot, lm provider.LiveMatch, opts writeOptions, ts time.Time) (applied store.Groups, finished bool, err error) {
	var updates []store.Update

	if scoreChanged(prev, lm.Score) {
		u := store.ScoreUpdate(lm.ID, lm.Score, opts.source, ts)
		if opts.override {
			u = u.Override()
		}
		updates = append(updates, u)
	}

	if !lm.Status.IsTerminal() && lm.Minute != nil && (prev.Minute == nil || *prev.Minute != *lm.Minute) {
		u := store.MinuteUpdate(lm.ID, lm.Minute, opts.source, ts)
		if opts.override {
			u = u.Override()
		}
		updates = append(updates, u)
	}

	if !lm.Status.IsTerminal() && lm.Status.Known() && lm.Status != prev.StatusID {
		updates = append(updates, store.StatusUpdate(lm.ID, lm.Status, opts.source, ts))
	}

	for _, u := range updates {
		ok, err := r.store.ConditionalUpdate(ctx, u)
		if err != nil {
			return applied, false, fmt.Errorf("write %s for %s: %w", u.Group, u.ExternalID, err)
		}
		metrics.ConditionalWrites.WithLabelValues(string(u.Group), fmt.Sprint(ok)).Inc()
		if ok {
			applied.Mark(u.Group)
		} else {
			r.log.Debug().Str("match_id", u.ExternalID).Str("group", string(u.Group)).Msg("conditional write lost")
		}
	}

	if lm.Status.IsTerminal() && !prev.StatusID.IsTerminal() {
		ok, err := r.store.MarkTerminal(ctx, lm.ID, lm.Minute, opts.source, ts)
		if err != nil {
			return applied, false, fmt.Errorf("mark %s terminal: %w", lm.ID, err)
		}
		metrics.ConditionalWrites.WithLabelValues(string(store.GroupStatus), fmt.Sprint(ok)).Inc()
		if ok {
			applied.Mark(store.GroupStatus)
			applied.Mark(store.GroupMinute)
			finished = true
		}
	}

	return applied, finished, nil
}

func scoreChanged(prev *store.MatchSnapshot, s store.Score) bool {
	if !prev.HasScore() {
		return true
	}
	return prev.Home != s.Home || prev.Away != s.Away
}

// broadcast records the emit checkpoint and hands ev to every sink. Sink
// failures are logged; delivery is best-effort.
func (r *Reconciler) broadcast(ctx context.Context, ev events.Event) {
	r.monitor.RecordEmitted(ev)
	for _, s := range r.sinks {
		if err := s.FanOut(ctx, ev); err != nil {
			r.log.Warn().Err(err).Str("match_id", ev.MatchID()).Str("type", string(ev.Type())).Msg("broadcast failed")
		}
	}

	r.mu.Lock()
	r.metrics.EventsBroadcast++
	r.mu.Unlock()
}

// reconcileOne fetches one candidate and applies what the provider reports.
// Only store transport errors are returned; everything else is an outcome.
func (r *Reconciler) reconcileOne(ctx context.Context, m *store.MatchSnapshot, reason store.StuckReason, opts writeOptions, res *Result) (MatchOutcome, error) {
	out := MatchOutcome{MatchID: m.ExternalID, Reason: reason}

	if m.StatusID.IsTerminal() {
		out.Status = StatusSkipped
		describe(&out, m)
		return out, nil
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return out, err
	}

	ingestedAt := r.Now()
	lives, err := r.provider.FetchDetailLive(ctx, m.ExternalID)
	if err != nil {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		if !errors.Is(err, provider.ErrMalformed) {
			res.providerFailures++
		}
		out.Status = StatusError
		out.Error = err.Error()
		describe(&out, m)
		return out, nil
	}

	var live *provider.LiveMatch
	for i := range lives {
		if lives[i].ID == m.ExternalID {
			live = &lives[i]
			break
		}
	}

	if live == nil {
		if reason.LiveStale() {
			return r.closeAbsent(ctx, m, reason, ingestedAt)
		}
		out.Status = StatusNotFound
		describe(&out, m)
		return out, nil
	}

	applied, err := r.apply(ctx, m, *live, opts, ingestedAt)
	applied.Reason = reason
	return applied, err
}

// closeAbsent is the time-based closure for a live match the provider no
// longer reports.
func (r *Reconciler) closeAbsent(ctx context.Context, m *store.MatchSnapshot, reason store.StuckReason, ts time.Time) (MatchOutcome, error) {
	out := MatchOutcome{MatchID: m.ExternalID, Reason: reason}

	ok, err := r.store.MarkTerminal(ctx, m.ExternalID, nil, store.SourceAutoFinish, ts)
	if err != nil {
		return out, fmt.Errorf("mark %s terminal: %w", m.ExternalID, err)
	}
	metrics.ConditionalWrites.WithLabelValues(string(store.GroupStatus), fmt.Sprint(ok)).Inc()

	if !ok {
		out.Status = StatusUnchanged
		describe(&out, m)
		return out, nil
	}

	out.Status = StatusFinished
	meta := events.Meta{Match: m.ExternalID, Ingested: ts}
	if ev, ok := r.detector.DetectStateChange(meta, store.StatusFinished, events.StateOf(m)); ok {
		r.monitor.RecordIngest(ev)
		r.broadcast(ctx, ev)
		out.Events = append(out.Events, string(ev.Type()))
	}

	if cur, err := r.store.Get(ctx, m.ExternalID); err == nil {
		describe(&out, cur)
	}
	r.log.Info().Str("match_id", m.ExternalID).Str("reason", string(reason)).Msg("absent from provider, closed")
	return out, nil
}

func (r *Reconciler) track(res *Result) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.metrics.Runs++
	r.metrics.MatchesReconciled += res.Summary.Total
	r.metrics.Finished += res.Summary.Finished
	r.metrics.NotFound += res.Summary.NotFound
	r.metrics.Errors += res.Summary.Errors
	r.metrics.LastReconciliation = r.Now()

	for _, o := range res.Results {
		metrics.MatchOutcomes.WithLabelValues(res.Source, string(o.Status)).Inc()
	}
}
