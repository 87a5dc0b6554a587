package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// ErrUnknownEvent is returned for values outside the closed event set.
var ErrUnknownEvent = errors.New("unknown event type")

// Control messages on the subscriber channel.
const (
	MessageConnected = "CONNECTED"
	MessagePing      = "PING"
	MessagePong      = "PONG"
)

// Envelope builds the flat JSON object sent to subscribers:
// {type, matchId, ...fields, timestamp}. The timestamp is in milliseconds.
func Envelope(ev Event, at time.Time) (map[string]any, error) {
	if ev == nil {
		return nil, ErrUnknownEvent
	}

	out := map[string]any{
		"type":      string(ev.Type()),
		"matchId":   ev.MatchID(),
		"timestamp": at.UnixMilli(),
	}

	switch e := ev.(type) {
	case GoalEvent:
		out["team"] = e.Team
		out["minute"] = e.Minute
		out["playerId"] = e.PlayerID
		out["playerName"] = e.PlayerName
		out["assistId"] = e.AssistID
		out["assistName"] = e.AssistName
		out["goalType"] = e.Kind
		out["homeScore"] = e.HomeScore
		out["awayScore"] = e.AwayScore
	case CardEvent:
		out["team"] = e.Team
		out["minute"] = e.Minute
		out["playerId"] = e.PlayerID
		out["playerName"] = e.PlayerName
		out["cardType"] = e.Card
	case SubstitutionEvent:
		out["team"] = e.Team
		out["minute"] = e.Minute
		out["inPlayerId"] = e.InPlayerID
		out["inPlayerName"] = e.InPlayerName
		out["outPlayerId"] = e.OutPlayerID
		out["outPlayerName"] = e.OutPlayerName
	case ScoreChangeEvent:
		out["homeScore"] = e.HomeScore
		out["awayScore"] = e.AwayScore
		out["prevHomeScore"] = e.PrevHomeScore
		out["prevAwayScore"] = e.PrevAwayScore
	case GoalCancelledEvent:
		out["homeScore"] = e.HomeScore
		out["awayScore"] = e.AwayScore
		out["prevHomeScore"] = e.PrevHomeScore
		out["prevAwayScore"] = e.PrevAwayScore
	case MatchStateChangeEvent:
		out["fromStatus"] = int(e.From)
		out["toStatus"] = int(e.To)
		out["status"] = e.To.String()
	case MinuteUpdateEvent:
		out["minute"] = e.Minute
		out["statusId"] = int(e.Status)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownEvent, ev)
	}

	return out, nil
}

// Encode serialises an event envelope.
func Encode(ev Event, at time.Time) ([]byte, error) {
	env, err := Envelope(ev, at)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// Control builds a control message such as CONNECTED or PONG.
func Control(kind string, at time.Time) []byte {
	b, _ := json.Marshal(map[string]any{"type": kind, "timestamp": at.UnixMilli()})
	return b
}
