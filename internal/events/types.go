package events

import (
	"time"

	"github.com/fortuna/scoreline/internal/store"
)

// Type is the wire name of an event.
type Type string

const (
	TypeGoal             Type = "GOAL"
	TypeCard             Type = "CARD"
	TypeSubstitution     Type = "SUBSTITUTION"
	TypeScoreChange      Type = "SCORE_CHANGE"
	TypeGoalCancelled    Type = "GOAL_CANCELLED"
	TypeMatchStateChange Type = "MATCH_STATE_CHANGE"
	TypeMinuteUpdate     Type = "MINUTE_UPDATE"
)

// AllTypes lists every event type.
var AllTypes = []Type{
	TypeGoal,
	TypeCard,
	TypeSubstitution,
	TypeScoreChange,
	TypeGoalCancelled,
	TypeMatchStateChange,
	TypeMinuteUpdate,
}

// Side is the team an incident belongs to.
type Side string

const (
	SideHome Side = "home"
	SideAway Side = "away"
)

// GoalKind distinguishes how a goal was scored.
type GoalKind string

const (
	GoalRegular GoalKind = "regular"
	GoalPenalty GoalKind = "penalty"
	GoalOwn     GoalKind = "own_goal"
)

// CardKind distinguishes bookings.
type CardKind string

const (
	CardYellow       CardKind = "yellow"
	CardRed          CardKind = "red"
	CardSecondYellow CardKind = "second_yellow"
)

// Event is the closed set of match events. Only types in this package
// implement it.
type Event interface {
	Type() Type
	MatchID() string
	IngestedAt() time.Time
	Sequence() int
	event()
}

// Meta is carried by every event. Seq orders the events detected from one
// observation, so (match, ingest, seq) is unique.
type Meta struct {
	Match    string
	Ingested time.Time
	Seq      int
}

func (m Meta) MatchID() string       { return m.Match }
func (m Meta) IngestedAt() time.Time { return m.Ingested }
func (m Meta) Sequence() int         { return m.Seq }

type GoalEvent struct {
	Meta
	Team       Side
	Minute     int
	PlayerID   string
	PlayerName string
	AssistID   string
	AssistName string
	Kind       GoalKind
	HomeScore  int
	AwayScore  int
}

type CardEvent struct {
	Meta
	Team       Side
	Minute     int
	PlayerID   string
	PlayerName string
	Card       CardKind
}

type SubstitutionEvent struct {
	Meta
	Team          Side
	Minute        int
	InPlayerID    string
	InPlayerName  string
	OutPlayerID   string
	OutPlayerName string
}

// ScoreChangeEvent is emitted whenever the display score goes up.
type ScoreChangeEvent struct {
	Meta
	HomeScore     int
	AwayScore     int
	PrevHomeScore int
	PrevAwayScore int
}

// GoalCancelledEvent is emitted when either side's display score goes down.
type GoalCancelledEvent struct {
	Meta
	HomeScore     int
	AwayScore     int
	PrevHomeScore int
	PrevAwayScore int
}

type MatchStateChangeEvent struct {
	Meta
	From store.StatusID
	To   store.StatusID
}

type MinuteUpdateEvent struct {
	Meta
	Minute int
	Status store.StatusID
}

func (GoalEvent) Type() Type             { return TypeGoal }
func (CardEvent) Type() Type             { return TypeCard }
func (SubstitutionEvent) Type() Type     { return TypeSubstitution }
func (ScoreChangeEvent) Type() Type      { return TypeScoreChange }
func (GoalCancelledEvent) Type() Type    { return TypeGoalCancelled }
func (MatchStateChangeEvent) Type() Type { return TypeMatchStateChange }
func (MinuteUpdateEvent) Type() Type     { return TypeMinuteUpdate }

func (GoalEvent) event()             {}
func (CardEvent) event()             {}
func (SubstitutionEvent) event()     {}
func (ScoreChangeEvent) event()      {}
func (GoalCancelledEvent) event()    {}
func (MatchStateChangeEvent) event() {}
func (MinuteUpdateEvent) event()     {}
