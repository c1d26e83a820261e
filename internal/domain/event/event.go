package event

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies a server-pushed match event.
type Type string

const (
	TypeStateChanged Type = "match_state_changed"
	TypeCompleted    Type = "match_completed"
)

// Event is one fanned-out lifecycle notification. Delivery is best-effort and
// at-most-once; the transition log is the durable history.
type Event struct {
	Type        Type       `json:"type"`
	MatchID     uuid.UUID  `json:"match_id"`
	FromState   string     `json:"from_state,omitempty"`
	ToState     string     `json:"to_state,omitempty"`
	Timestamp   *time.Time `json:"timestamp,omitempty"`
	Winner      string     `json:"winner,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// StateChanged builds a transition event.
func StateChanged(matchID uuid.UUID, from, to string, at time.Time) *Event {
	return &Event{
		Type:      TypeStateChanged,
		MatchID:   matchID,
		FromState: from,
		ToState:   to,
		Timestamp: &at,
	}
}

// Completed builds a completion event carrying the winner.
func Completed(matchID uuid.UUID, winner string, at time.Time) *Event {
	return &Event{
		Type:        TypeCompleted,
		MatchID:     matchID,
		Winner:      winner,
		CompletedAt: &at,
	}
}

// Hub is the fan-out port the FSM engine publishes committed transitions to.
// Publish must never block the commit path.
type Hub interface {
	Publish(matchID uuid.UUID, evt *Event)
}
