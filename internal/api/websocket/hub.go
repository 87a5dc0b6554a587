package websocket

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fortuna/scoreline/internal/events"
	"github.com/fortuna/scoreline/internal/latency"
	"github.com/fortuna/scoreline/internal/logging"
	"github.com/fortuna/scoreline/internal/metrics"
)

const sendBuffer = 256

// Subscriber is one registered live channel. Frames arrive on Send; the
// channel is closed when the hub drops the subscriber.
type Subscriber struct {
	id        string
	seq       uint64
	send      chan []byte
	closeOnce sync.Once
}

// ID returns the subscriber's unique id.
func (s *Subscriber) ID() string { return s.id }

// Send is the subscriber's outbound frame queue.
func (s *Subscriber) Send() <-chan []byte { return s.send }

func (s *Subscriber) close() {
	s.closeOnce.Do(func() { close(s.send) })
}

// offer queues a frame without blocking. A full queue means the reader
// stopped keeping up. Callers hold the hub's read lock so the channel cannot
// be closed underneath the send.
func (s *Subscriber) offer(frame []byte) bool {
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

// Health is the broadcaster's connection summary.
type Health struct {
	ActiveCount       int    `json:"activeCount"`
	TotalConnected    int64  `json:"totalConnected"`
	TotalDisconnected int64  `json:"totalDisconnected"`
	Sent              int64  `json:"sent"`
	Errors            int64  `json:"errors"`
	Uptime            string `json:"uptime"`
	UptimeSeconds     int64  `json:"uptimeSeconds"`
}

// Hub tracks subscribers and fans events out to them. Delivery is
// best-effort: a subscriber whose queue is full is dropped.
type Hub struct {
	mu           sync.RWMutex
	subs         map[string]*Subscriber
	seq          uint64
	connected    int64
	disconnected int64
	sent         int64
	errors       int64
	started      time.Time

	monitor *latency.Monitor

	Now func() time.Time
}

// NewHub creates a hub. monitor may be nil.
func NewHub(monitor *latency.Monitor) *Hub {
	return &Hub{
		subs:    make(map[string]*Subscriber),
		started: time.Now(),
		monitor: monitor,
		Now:     time.Now,
	}
}

// Subscribe registers a subscriber and queues the CONNECTED frame.
func (h *Hub) Subscribe() *Subscriber {
	sub := &Subscriber{
		id:   uuid.NewString(),
		send: make(chan []byte, sendBuffer),
	}
	sub.offer(events.Control(events.MessageConnected, h.Now()))

	h.mu.Lock()
	h.seq++
	sub.seq = h.seq
	h.subs[sub.id] = sub
	h.connected++
	active := len(h.subs)
	h.mu.Unlock()

	metrics.ActiveSubscribers.Set(float64(active))
	logging.Debug().Str("subscriber", sub.id).Int("active", active).Msg("subscriber connected")
	return sub
}

// Unsubscribe removes a subscriber. Calling it again is a no-op.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}

	h.mu.Lock()
	_, ok := h.subs[sub.id]
	if ok {
		delete(h.subs, sub.id)
		h.disconnected++
		sub.close()
	}
	active := len(h.subs)
	h.mu.Unlock()

	if !ok {
		return
	}
	metrics.ActiveSubscribers.Set(float64(active))
	logging.Debug().Str("subscriber", sub.id).Int("active", active).Msg("subscriber disconnected")
}

// FanOut serialises ev once and offers it to every subscriber in connection
// order. The broadcast-sent checkpoint is recorded before delivery starts.
// Offers run under the read lock; Unsubscribe closes channels under the
// write lock, so a concurrent disconnect never sees a send on a closed
// channel.
func (h *Hub) FanOut(_ context.Context, ev events.Event) error {
	frame, err := events.Encode(ev, h.Now())
	if err != nil {
		return err
	}

	if h.monitor != nil {
		h.monitor.RecordBroadcastSent(ev)
	}

	var dropped []*Subscriber
	delivered := 0
	h.mu.RLock()
	for _, sub := range h.ordered() {
		if sub.offer(frame) {
			delivered++
			continue
		}
		dropped = append(dropped, sub)
	}
	h.mu.RUnlock()

	for _, sub := range dropped {
		h.Unsubscribe(sub)
	}

	h.mu.Lock()
	h.sent += int64(delivered)
	h.errors += int64(len(dropped))
	h.mu.Unlock()

	metrics.BroadcastSent.Add(float64(delivered))
	metrics.BroadcastErrors.Add(float64(len(dropped)))

	if len(dropped) > 0 {
		logging.Warn().Str("type", string(ev.Type())).Int("dropped", len(dropped)).Msg("dropped slow subscribers")
	}
	return nil
}

// snapshot returns subscribers ordered by connection sequence.
func (h *Hub) snapshot() []*Subscriber {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ordered()
}

// ordered lists subscribers by connection sequence. Callers hold h.mu.
func (h *Hub) ordered() []*Subscriber {
	out := make([]*Subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Count returns the number of active subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Health reports connection counters.
func (h *Hub) Health() Health {
	h.mu.RLock()
	defer h.mu.RUnlock()

	up := h.Now().Sub(h.started)
	return Health{
		ActiveCount:       len(h.subs),
		TotalConnected:    h.connected,
		TotalDisconnected: h.disconnected,
		Sent:              h.sent,
		Errors:            h.errors,
		Uptime:            up.Round(time.Second).String(),
		UptimeSeconds:     int64(up.Seconds()),
	}
}

// CloseAll drops every subscriber.
func (h *Hub) CloseAll() {
	for _, sub := range h.snapshot() {
		h.Unsubscribe(sub)
	}
}
