package provider

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/fortuna/scoreline/internal/metrics"
	"github.com/fortuna/scoreline/internal/store"
)

// ErrMalformed marks provider payloads that fail structural validation.
var ErrMalformed = errors.New("malformed provider payload")

// Score array indexes: [idOrFlag, statusId, [home...], [away...], kickoffTs?]
const (
	scoreIdxID = iota
	scoreIdxStatus
	scoreIdxHome
	scoreIdxAway
	scoreIdxKickoff
)

// Per-side component indexes inside the home/away arrays.
const (
	componentRegular  = 0
	componentOvertime = 5
	componentPenalty  = 6
)

// ScoreArray is the validated form of the positional score array.
type ScoreArray struct {
	ID        string
	Status    store.StatusID
	Score     store.Score
	KickoffAt time.Time
}

// ParseScore validates the positional score array. Any structural problem
// yields an error wrapping ErrMalformed; callers treat the entry as absent.
func ParseScore(raw json.RawMessage) (ScoreArray, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ScoreArray{}, fmt.Errorf("%w: score is not an array: %v", ErrMalformed, err)
	}
	if len(parts) < scoreIdxKickoff {
		return ScoreArray{}, fmt.Errorf("%w: score array has %d elements", ErrMalformed, len(parts))
	}

	var out ScoreArray

	id, err := parseID(parts[scoreIdxID])
	if err != nil {
		return ScoreArray{}, fmt.Errorf("%w: score id: %v", ErrMalformed, err)
	}
	out.ID = id

	var status int
	if err := json.Unmarshal(parts[scoreIdxStatus], &status); err != nil {
		return ScoreArray{}, fmt.Errorf("%w: status: %v", ErrMalformed, err)
	}
	out.Status = store.StatusID(status)

	if out.Score.Home, err = parseComponents(parts[scoreIdxHome]); err != nil {
		return ScoreArray{}, fmt.Errorf("%w: home score: %v", ErrMalformed, err)
	}
	if out.Score.Away, err = parseComponents(parts[scoreIdxAway]); err != nil {
		return ScoreArray{}, fmt.Errorf("%w: away score: %v", ErrMalformed, err)
	}

	if len(parts) > scoreIdxKickoff {
		var ts int64
		if err := json.Unmarshal(parts[scoreIdxKickoff], &ts); err != nil {
			return ScoreArray{}, fmt.Errorf("%w: kickoff timestamp: %v", ErrMalformed, err)
		}
		if ts > 0 {
			out.KickoffAt = time.Unix(ts, 0)
		}
	}

	return out, nil
}

// matchPayload is one per-match object from the live feed or the push feed.
// The id, minute and incident list are optional; a bad shape there degrades
// to absent data instead of rejecting the match.
type matchPayload struct {
	ID        json.RawMessage `json:"id"`
	Score     json.RawMessage `json:"score"`
	Minute    json.RawMessage `json:"minute,omitempty"`
	Incidents json.RawMessage `json:"incidents"`
}

// incidentPayload is the wire shape of one incident. Ids arrive as strings or
// numbers and the clock as a number or a "45+2" string.
type incidentPayload struct {
	Type          int             `json:"type"`
	Position      int             `json:"position"`
	Time          json.RawMessage `json:"time"`
	PlayerID      json.RawMessage `json:"player_id"`
	PlayerName    string          `json:"player_name"`
	Assist1ID     json.RawMessage `json:"assist1_id"`
	Assist1Name   string          `json:"assist1_name"`
	InPlayerID    json.RawMessage `json:"in_player_id"`
	InPlayerName  string          `json:"in_player_name"`
	OutPlayerID   json.RawMessage `json:"out_player_id"`
	OutPlayerName string          `json:"out_player_name"`
	HomeScore     *int            `json:"home_score"`
	AwayScore     *int            `json:"away_score"`
}

// ParseMatch validates one per-match payload. When the payload has no
// minute it is derived from the current half's kickoff time.
func ParseMatch(raw json.RawMessage, now time.Time) (LiveMatch, error) {
	var p matchPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return LiveMatch{}, fmt.Errorf("%w: match payload: %v", ErrMalformed, err)
	}
	return p.toLiveMatch(now)
}

// rawID is the payload id, empty when absent or unreadable.
func (p matchPayload) rawID() string {
	id, _ := optionalID(p.ID)
	return id
}

func (p matchPayload) toLiveMatch(now time.Time) (LiveMatch, error) {
	if len(p.Score) == 0 {
		return LiveMatch{}, fmt.Errorf("%w: match %q has no score", ErrMalformed, p.rawID())
	}
	sa, err := ParseScore(p.Score)
	if err != nil {
		return LiveMatch{}, err
	}

	id := p.rawID()
	if id == "" {
		id = sa.ID
	}
	if id == "" {
		return LiveMatch{}, fmt.Errorf("%w: match without id", ErrMalformed)
	}

	var minute *int
	if len(p.Minute) > 0 {
		var n int
		if err := json.Unmarshal(p.Minute, &n); err == nil && n >= 0 {
			minute = store.IntPtr(n)
		}
	}
	if minute == nil {
		minute = ComputeMinute(sa.Status, sa.KickoffAt, now)
	}

	incidents, malformed := parseIncidents(p.Incidents)
	if malformed > 0 {
		metrics.MalformedIncidents.Add(float64(malformed))
	}

	return LiveMatch{
		ID:                 id,
		Status:             sa.Status,
		Score:              sa.Score,
		Minute:             minute,
		KickoffAt:          sa.KickoffAt,
		Incidents:          incidents,
		MalformedIncidents: malformed,
	}, nil
}

// parseIncidents validates each timeline entry on its own. Entries with a bad
// shape are dropped and counted; untyped entries are skipped silently. A
// list that is not an array counts as one malformed entry.
func parseIncidents(raw json.RawMessage) ([]Incident, int) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, 0
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, 1
	}

	out := make([]Incident, 0, len(items))
	malformed := 0
	for _, item := range items {
		inc, err := parseIncident(item)
		if err != nil {
			malformed++
			continue
		}
		if inc.Type == 0 {
			continue
		}
		out = append(out, inc)
	}
	return out, malformed
}

func parseIncident(raw json.RawMessage) (Incident, error) {
	var p incidentPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Incident{}, err
	}

	inc := Incident{
		Type:          p.Type,
		Position:      p.Position,
		PlayerName:    p.PlayerName,
		Assist1Name:   p.Assist1Name,
		InPlayerName:  p.InPlayerName,
		OutPlayerName: p.OutPlayerName,
		HomeScore:     p.HomeScore,
		AwayScore:     p.AwayScore,
	}

	var err error
	if inc.Time, err = parseClock(p.Time); err != nil {
		return Incident{}, fmt.Errorf("time: %w", err)
	}
	for _, f := range []struct {
		dst *string
		raw json.RawMessage
	}{
		{&inc.PlayerID, p.PlayerID},
		{&inc.Assist1ID, p.Assist1ID},
		{&inc.InPlayerID, p.InPlayerID},
		{&inc.OutPlayerID, p.OutPlayerID},
	} {
		if *f.dst, err = optionalID(f.raw); err != nil {
			return Incident{}, fmt.Errorf("player id: %w", err)
		}
	}
	return inc, nil
}

// parseClock reads an incident minute: 67, "67", "90'" or "45+2" (47).
func parseClock(raw json.RawMessage) (int, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, err
	}

	s = strings.TrimSuffix(strings.TrimSpace(s), "'")
	base, extra, stoppage := strings.Cut(s, "+")
	b, err := strconv.Atoi(strings.TrimSpace(base))
	if err != nil {
		return 0, err
	}
	if !stoppage {
		return b, nil
	}
	e, err := strconv.Atoi(strings.TrimSpace(extra))
	if err != nil {
		return 0, err
	}
	return b + e, nil
}

// ComponentsFromSlice reads regular, overtime and penalty goals from a
// provider per-side score list. Short lists leave the missing parts at zero.
func ComponentsFromSlice(v []int) store.ScoreComponents {
	var c store.ScoreComponents
	if len(v) > componentRegular {
		c.Regular = v[componentRegular]
	}
	if len(v) > componentOvertime {
		c.Overtime = v[componentOvertime]
	}
	if len(v) > componentPenalty {
		c.Penalty = v[componentPenalty]
	}
	return c
}

func parseComponents(raw json.RawMessage) (store.ScoreComponents, error) {
	var v []int
	if err := json.Unmarshal(raw, &v); err != nil {
		return store.ScoreComponents{}, err
	}
	if len(v) == 0 {
		return store.ScoreComponents{}, errors.New("empty component list")
	}
	for _, n := range v {
		if n < 0 {
			return store.ScoreComponents{}, fmt.Errorf("negative component %d", n)
		}
	}
	return ComponentsFromSlice(v), nil
}

// optionalID is parseID for fields that may be missing or null.
func optionalID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	return parseID(raw)
}

func parseID(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return strconv.FormatInt(n, 10), nil
}

// ComputeMinute derives the match clock from the kickoff time of the current
// half. It returns nil for statuses without a running clock.
func ComputeMinute(status store.StatusID, kickoff, now time.Time) *int {
	var offset int
	switch status {
	case store.StatusFirstHalf:
		offset = 1
	case store.StatusSecondHalf:
		offset = 46
	case store.StatusOvertime:
		offset = 91
	case store.StatusHalfTime:
		return store.IntPtr(45)
	default:
		return nil
	}
	if kickoff.IsZero() {
		return nil
	}

	elapsed := int(now.Sub(kickoff) / time.Minute)
	if elapsed < 0 {
		elapsed = 0
	}
	return store.IntPtr(elapsed + offset)
}
