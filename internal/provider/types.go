package provider

import (
	"time"

	"github.com/fortuna/scoreline/internal/store"
)

// Incident type codes used by the provider.
const (
	IncidentGoal         = 1
	IncidentYellowCard   = 3
	IncidentRedCard      = 4
	IncidentPenaltyGoal  = 8
	IncidentSubstitution = 9
	IncidentSecondYellow = 15
	IncidentOwnGoal      = 17
)

// Incident positions.
const (
	PositionHome = 1
	PositionAway = 2
)

// Incident is one validated timeline entry from the live detail feed.
type Incident struct {
	Type          int    `json:"type"`
	Position      int    `json:"position"`
	Time          int    `json:"time"`
	PlayerID      string `json:"player_id,omitempty"`
	PlayerName    string `json:"player_name,omitempty"`
	Assist1ID     string `json:"assist1_id,omitempty"`
	Assist1Name   string `json:"assist1_name,omitempty"`
	InPlayerID    string `json:"in_player_id,omitempty"`
	InPlayerName  string `json:"in_player_name,omitempty"`
	OutPlayerID   string `json:"out_player_id,omitempty"`
	OutPlayerName string `json:"out_player_name,omitempty"`
	HomeScore     *int   `json:"home_score,omitempty"`
	AwayScore     *int   `json:"away_score,omitempty"`
}

// CarriesScore reports whether the incident includes the score after it.
func (i Incident) CarriesScore() bool {
	return i.HomeScore != nil && i.AwayScore != nil
}

// IsGoal reports whether the incident changes the score.
func (i Incident) IsGoal() bool {
	switch i.Type {
	case IncidentGoal, IncidentPenaltyGoal, IncidentOwnGoal:
		return true
	}
	return false
}

// IsCard reports whether the incident is a booking.
func (i Incident) IsCard() bool {
	switch i.Type {
	case IncidentYellowCard, IncidentRedCard, IncidentSecondYellow:
		return true
	}
	return false
}

// IsSubstitution reports whether the incident is a substitution.
func (i Incident) IsSubstitution() bool {
	return i.Type == IncidentSubstitution
}

// LiveMatch is one validated entry of the live detail feed.
type LiveMatch struct {
	ID        string
	Status    store.StatusID
	Score     store.Score
	Minute    *int
	KickoffAt time.Time
	Incidents []Incident
	// MalformedIncidents counts timeline entries dropped for their shape.
	MalformedIncidents int
}

// DiaryEntry is one match from the schedule feed.
type DiaryEntry struct {
	ID            string
	Status        store.StatusID
	MatchTime     time.Time
	HomeTeamID    string
	AwayTeamID    string
	CompetitionID string
	Score         store.Score
	HasScore      bool
}
