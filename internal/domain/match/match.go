package match

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// State represents a match lifecycle state.
type State string

const (
	StateCreated   State = "CREATED"
	StateStarted   State = "STARTED"
	StateCompleted State = "COMPLETED"
	StateDisputed  State = "DISPUTED"
	StateFinalized State = "FINALIZED"
)

var (
	ErrNotFound          = errors.New("match not found")
	ErrInvalidTransition = errors.New("invalid match state transition")
	ErrTerminalState     = errors.New("match is finalized and accepts no further transitions")
	ErrStateConflict     = errors.New("match state changed concurrently, re-read before retrying")
	ErrValidation        = errors.New("validation failed")
	ErrDuplicate         = errors.New("match already exists")
)

// transitions is the closed set of allowed state changes. Everything else is
// rejected, including self-loops; request-level retries are the idempotency
// guard's job, not the state machine's.
var transitions = map[State][]State{
	StateCreated:   {StateStarted},
	StateStarted:   {StateCompleted},
	StateCompleted: {StateDisputed, StateFinalized},
	StateDisputed:  {StateFinalized},
	StateFinalized: {},
}

// CanTransitionTo reports whether the state machine allows moving to target.
func (s State) CanTransitionTo(target State) bool {
	for _, next := range transitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// ValidNextStates returns the allowed targets from the current state.
func (s State) ValidNextStates() []State {
	next := transitions[s]
	out := make([]State, len(next))
	copy(out, next)
	return out
}

// IsTerminal reports whether the state accepts no outgoing transitions.
func (s State) IsTerminal() bool {
	return s == StateFinalized
}

// Valid reports whether s is a known lifecycle state.
func (s State) Valid() bool {
	_, ok := transitions[s]
	return ok
}

const (
	// MaxMetadataEntries bounds the extension map so its invariants stay checkable.
	MaxMetadataEntries = 32
	// MaxMetadataValueLen bounds each metadata value.
	MaxMetadataValueLen = 512
)

// Metadata is a bounded key/value extension map of primitive values.
type Metadata map[string]string

// Validate enforces the metadata bounds.
func (m Metadata) Validate() error {
	if len(m) > MaxMetadataEntries {
		return fmt.Errorf("%w: metadata has %d entries, max %d", ErrValidation, len(m), MaxMetadataEntries)
	}
	for k, v := range m {
		if k == "" {
			return fmt.Errorf("%w: metadata key must not be empty", ErrValidation)
		}
		if len(v) > MaxMetadataValueLen {
			return fmt.Errorf("%w: metadata value for %q exceeds %d bytes", ErrValidation, k, MaxMetadataValueLen)
		}
	}
	return nil
}

// Match is the FSM entity. The off-chain copy is the source of temporal truth
// for game flow; the on-chain contract holds settlement truth.
type Match struct {
	ID             uuid.UUID  `json:"id"`
	OnChainMatchID string     `json:"onChainMatchId"`
	PlayerA        string     `json:"playerA"`
	PlayerB        string     `json:"playerB"`
	Winner         *string    `json:"winner,omitempty"`
	State          State      `json:"state"`
	CreatedAt      time.Time  `json:"createdAt"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	EndedAt        *time.Time `json:"endedAt,omitempty"`
	LastChainTx    *string    `json:"lastChainTx,omitempty"`
	IdempotencyKey *string    `json:"idempotencyKey,omitempty"`
	Metadata       Metadata   `json:"metadata,omitempty"`
}

// HasPlayer reports whether id is one of the two participants.
func (m *Match) HasPlayer(id string) bool {
	return id == m.PlayerA || id == m.PlayerB
}

// ValidateWinner checks the winner invariant against the participants.
func (m *Match) ValidateWinner(winner string) error {
	if winner == "" {
		return fmt.Errorf("%w: winner is required", ErrValidation)
	}
	if !m.HasPlayer(winner) {
		return fmt.Errorf("%w: winner must be one of the match players", ErrValidation)
	}
	return nil
}

// ValidateParticipants checks the participant identifiers. They are opaque
// strings here; format validation belongs to the identity collaborator.
func ValidateParticipants(playerA, playerB string) error {
	if playerA == "" || playerB == "" {
		return fmt.Errorf("%w: both players are required", ErrValidation)
	}
	if playerA == playerB {
		return fmt.Errorf("%w: players must be distinct", ErrValidation)
	}
	return nil
}

// Transition is an immutable audit record of one committed state change.
type Transition struct {
	ID         uuid.UUID `json:"id"`
	MatchID    uuid.UUID `json:"matchId"`
	FromState  State     `json:"fromState"`
	ToState    State     `json:"toState"`
	Actor      string    `json:"actor"`
	OccurredAt time.Time `json:"occurredAt"`
	ChainTx    *string   `json:"chainTx,omitempty"`
	Error      *string   `json:"error,omitempty"`
	Metadata   Metadata  `json:"metadata,omitempty"`
}

// Replay folds a transition log from CREATED and returns the resulting state.
// It fails if any recorded transition violates the table or the log does not
// chain (from-state of each record must equal the state reached so far).
func Replay(log []*Transition) (State, error) {
	state := StateCreated
	for i, t := range log {
		if t.FromState != state {
			return state, fmt.Errorf("transition %d: from-state %s does not chain from %s", i, t.FromState, state)
		}
		if !t.FromState.CanTransitionTo(t.ToState) {
			return state, fmt.Errorf("transition %d: %w: %s -> %s", i, ErrInvalidTransition, t.FromState, t.ToState)
		}
		state = t.ToState
	}
	return state, nil
}
