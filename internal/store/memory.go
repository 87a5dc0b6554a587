package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// DefaultFullTimeMinute is the minute a finished match is clamped to when its
// last known minute is earlier.
const DefaultFullTimeMinute = 90

// MemoryStore is an in-process Store. It applies exactly the same conditional
// rules as the Postgres repository.
type MemoryStore struct {
	mu      sync.RWMutex
	matches map[string]*MatchSnapshot

	FullTimeMinute int
	Now            func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		matches:        make(map[string]*MatchSnapshot),
		FullTimeMinute: DefaultFullTimeMinute,
		Now:            time.Now,
	}
}

// Get returns a copy of the stored match or ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, externalID string) (*MatchSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.matches[externalID]
	if !ok {
		return nil, ErrNotFound
	}
	return m.Clone(), nil
}

// FindCandidates returns copies of the matches c selects, oldest kickoff
// first, capped at c.Limit.
func (s *MemoryStore) FindCandidates(_ context.Context, c Criteria) ([]*MatchSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*MatchSnapshot
	for _, m := range s.matches {
		if c.Matches(m) {
			out = append(out, m.Clone())
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].MatchTime.Equal(out[j].MatchTime) {
			return out[i].MatchTime.Before(out[j].MatchTime)
		}
		return out[i].ExternalID < out[j].ExternalID
	})

	if c.Limit > 0 && len(out) > c.Limit {
		out = out[:c.Limit]
	}
	return out, nil
}

// ConditionalUpdate applies u when Accepts allows it and reports whether it
// did.
func (s *MemoryStore) ConditionalUpdate(_ context.Context, u Update) (bool, error) {
	if err := u.Validate(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.matches[u.ExternalID]
	if !ok {
		return false, ErrNotFound
	}
	if !m.Accepts(u) {
		return false, nil
	}
	m.Apply(u)
	return true, nil
}

// MarkTerminal finishes a live match and clamps its minute to at least the
// full-time minute. It reports false for a match already finished or a
// status write older than the stored one.
func (s *MemoryStore) MarkTerminal(_ context.Context, externalID string, finalMinute *int, source string, ts time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.matches[externalID]
	if !ok {
		return false, ErrNotFound
	}
	if m.StatusID.IsTerminal() || ts.Before(m.StatusTimestamp) {
		return false, nil
	}

	prior := finalMinute
	if prior == nil {
		prior = m.Minute
	}
	minute := TerminalMinute(prior, s.FullTimeMinute)

	m.Apply(StatusUpdate(externalID, StatusFinished, source, ts))
	m.Apply(MinuteUpdate(externalID, &minute, source, ts))
	return true, nil
}

// Upsert inserts a new match or refreshes an existing one. Values are
// written without timestamp checks; status still cannot move backward or
// out of FINISHED, and the kickoff time is kept once set.
func (s *MemoryStore) Upsert(_ context.Context, in *MatchSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.matches[in.ExternalID]
	if !ok {
		m := in.Clone()
		now := s.Now()
		m.CreatedAt = now
		if m.UpdatedAt.IsZero() {
			m.UpdatedAt = now
		}
		if m.HasScore() {
			home, away := m.Score().Display()
			m.HomeScoreDisplay = &home
			m.AwayScoreDisplay = &away
		}
		s.matches[in.ExternalID] = m
		return nil
	}

	existing.MergeSync(in)
	return nil
}

// Len returns the number of stored matches.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.matches)
}

// SplitGroups splits a snapshot into the conditional writes it carries.
func SplitGroups(m *MatchSnapshot) []Update {
	var out []Update
	if m.StatusID.Known() && !m.StatusTimestamp.IsZero() {
		out = append(out, StatusUpdate(m.ExternalID, m.StatusID, m.StatusSource, m.StatusTimestamp))
	}
	if m.Minute != nil && !m.MinuteTimestamp.IsZero() {
		out = append(out, MinuteUpdate(m.ExternalID, m.Minute, m.MinuteSource, m.MinuteTimestamp))
	}
	if m.HasScore() && !m.ScoreTimestamp.IsZero() {
		out = append(out, ScoreUpdate(m.ExternalID, m.Score(), m.ScoreSource, m.ScoreTimestamp))
	}
	return out
}
