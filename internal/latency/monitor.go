package latency

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fortuna/scoreline/internal/events"
	"github.com/fortuna/scoreline/internal/logging"
	"github.com/fortuna/scoreline/internal/metrics"
)

const (
	DefaultCapacity      = 1000
	DefaultWarnThreshold = 100 * time.Millisecond
	DefaultPendingTTL    = time.Minute
)

type key struct {
	typ     events.Type
	matchID string
	ingest  int64
	seq     int
}

type pending struct {
	ingest time.Time
	emit   time.Time
}

// Measurement is one completed ingest to broadcast path.
type Measurement struct {
	Type            events.Type `json:"type"`
	MatchID         string      `json:"matchId"`
	IngestToEmit    float64     `json:"ingestToEmitMs"`
	EmitToBroadcast float64     `json:"emitToBroadcastMs"`
	Total           float64     `json:"totalMs"`
	At              time.Time   `json:"at"`
}

// Stats summarises total latency in milliseconds.
type Stats struct {
	Count int     `json:"count"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
}

// Monitor tracks per-event latency from provider ingest to subscriber
// delivery. Completed measurements live in a fixed-size ring buffer.
type Monitor struct {
	mu      sync.Mutex
	pending map[key]*pending
	ring    []Measurement
	next    int
	full    bool

	warnThreshold time.Duration
	pendingTTL    time.Duration

	Now func() time.Time
}

// NewMonitor creates a monitor. Non-positive arguments fall back to defaults.
func NewMonitor(capacity int, warnThreshold time.Duration) *Monitor {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if warnThreshold <= 0 {
		warnThreshold = DefaultWarnThreshold
	}
	return &Monitor{
		pending:       make(map[key]*pending),
		ring:          make([]Measurement, capacity),
		warnThreshold: warnThreshold,
		pendingTTL:    DefaultPendingTTL,
		Now:           time.Now,
	}
}

func keyOf(ev events.Event) key {
	return key{typ: ev.Type(), matchID: ev.MatchID(), ingest: ev.IngestedAt().UnixNano(), seq: ev.Sequence()}
}

// RecordIngest opens a measurement for the event and returns its ingest
// timestamp.
func (m *Monitor) RecordIngest(ev events.Event) time.Time {
	k := keyOf(ev)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pending[k]; !ok {
		m.pending[k] = &pending{ingest: ev.IngestedAt()}
	}
	return ev.IngestedAt()
}

// RecordEmitted marks the event as produced and persisted, ready to send.
func (m *Monitor) RecordEmitted(ev events.Event) {
	now := m.Now()
	k := keyOf(ev)

	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pending[k]
	if !ok {
		p = &pending{ingest: ev.IngestedAt()}
		m.pending[k] = p
	}
	p.emit = now
}

// RecordBroadcastSent completes the measurement. Events with no pending
// entry, for example one already expired, are ignored.
func (m *Monitor) RecordBroadcastSent(ev events.Event) {
	now := m.Now()
	k := keyOf(ev)

	m.mu.Lock()
	p, ok := m.pending[k]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.pending, k)
	if p.emit.IsZero() {
		p.emit = now
	}

	meas := Measurement{
		Type:            k.typ,
		MatchID:         k.matchID,
		IngestToEmit:    ms(p.emit.Sub(p.ingest)),
		EmitToBroadcast: ms(now.Sub(p.emit)),
		Total:           ms(now.Sub(p.ingest)),
		At:              now,
	}
	m.ring[m.next] = meas
	m.next = (m.next + 1) % len(m.ring)
	if m.next == 0 {
		m.full = true
	}
	m.mu.Unlock()

	typ := string(k.typ)
	metrics.EventLatency.WithLabelValues(typ, "emit").Observe(meas.IngestToEmit / 1000)
	metrics.EventLatency.WithLabelValues(typ, "broadcast").Observe(meas.EmitToBroadcast / 1000)
	metrics.EventLatency.WithLabelValues(typ, "total").Observe(meas.Total / 1000)

	if total := now.Sub(p.ingest); total > m.warnThreshold {
		logging.Warn().
			Str("component", "latency").
			Str("type", typ).
			Str("match_id", k.matchID).
			Float64("total_ms", meas.Total).
			Msg("event latency above threshold")
	}
}

// ExpirePending drops checkpoints that never completed and returns how many
// were dropped.
func (m *Monitor) ExpirePending() int {
	cutoff := m.Now().Add(-m.pendingTTL)

	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for k, p := range m.pending {
		if p.ingest.Before(cutoff) {
			delete(m.pending, k)
			n++
		}
	}
	return n
}

// Pending returns the number of incomplete measurements.
func (m *Monitor) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Stats summarises the buffered measurements, optionally for one type only.
func (m *Monitor) Stats(typ events.Type) Stats {
	var totals []float64
	for _, meas := range m.snapshot() {
		if typ == "" || meas.Type == typ {
			totals = append(totals, meas.Total)
		}
	}
	return summarise(totals)
}

// AllStats returns Stats for every type with at least one measurement.
func (m *Monitor) AllStats() map[events.Type]Stats {
	grouped := make(map[events.Type][]float64)
	for _, meas := range m.snapshot() {
		grouped[meas.Type] = append(grouped[meas.Type], meas.Total)
	}
	out := make(map[events.Type]Stats, len(grouped))
	for t, v := range grouped {
		out[t] = summarise(v)
	}
	return out
}

// Recent returns up to n of the newest measurements, newest first.
func (m *Monitor) Recent(n int) []Measurement {
	all := m.snapshot()
	out := make([]Measurement, 0, n)
	for i := len(all) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, all[i])
	}
	return out
}

// LogSummary writes an overall summary line and expires stale checkpoints.
func (m *Monitor) LogSummary() {
	expired := m.ExpirePending()
	s := m.Stats("")
	if s.Count == 0 && expired == 0 {
		return
	}
	logging.Info().
		Str("component", "latency").
		Int("count", s.Count).
		Float64("p50_ms", s.P50).
		Float64("p95_ms", s.P95).
		Float64("p99_ms", s.P99).
		Float64("max_ms", s.Max).
		Int("expired_pending", expired).
		Msg("latency summary")
}

// Run logs a summary every interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.LogSummary()
		}
	}
}

// snapshot returns the buffered measurements oldest first.
func (m *Monitor) snapshot() []Measurement {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.full {
		out := make([]Measurement, m.next)
		copy(out, m.ring[:m.next])
		return out
	}
	out := make([]Measurement, 0, len(m.ring))
	out = append(out, m.ring[m.next:]...)
	out = append(out, m.ring[:m.next]...)
	return out
}

func summarise(v []float64) Stats {
	if len(v) == 0 {
		return Stats{}
	}
	sorted := make([]float64, len(v))
	copy(sorted, v)
	sort.Float64s(sorted)

	var sum float64
	for _, x := range sorted {
		sum += x
	}
	return Stats{
		Count: len(sorted),
		P50:   percentile(sorted, 50),
		P95:   percentile(sorted, 95),
		P99:   percentile(sorted, 99),
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Avg:   sum / float64(len(sorted)),
	}
}

// percentile uses the nearest-rank method on sorted input.
func percentile(sorted []float64, p int) float64 {
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
