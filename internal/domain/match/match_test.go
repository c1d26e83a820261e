package match

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionTable(t *testing.T) {
	allowed := map[[2]State]bool{
		{StateCreated, StateStarted}:     true,
		{StateStarted, StateCompleted}:   true,
		{StateCompleted, StateDisputed}:  true,
		{StateCompleted, StateFinalized}: true,
		{StateDisputed, StateFinalized}:  true,
	}

	states := []State{StateCreated, StateStarted, StateCompleted, StateDisputed, StateFinalized}
	for _, from := range states {
		for _, to := range states {
			got := from.CanTransitionTo(to)
			want := allowed[[2]State{from, to}]
			assert.Equalf(t, want, got, "%s -> %s", from, to)
		}
	}
}

func TestSelfLoopsRejected(t *testing.T) {
	for _, s := range []State{StateCreated, StateStarted, StateCompleted, StateDisputed, StateFinalized} {
		assert.Falsef(t, s.CanTransitionTo(s), "self-loop on %s", s)
	}
}

func TestFinalizedIsTerminal(t *testing.T) {
	assert.True(t, StateFinalized.IsTerminal())
	assert.Empty(t, StateFinalized.ValidNextStates())
	for _, s := range []State{StateCreated, StateStarted, StateCompleted, StateDisputed} {
		assert.False(t, s.IsTerminal())
		assert.NotEmpty(t, s.ValidNextStates())
	}
}

func TestStateValid(t *testing.T) {
	assert.True(t, StateCreated.Valid())
	assert.False(t, State("PAUSED").Valid())
	assert.False(t, State("").Valid())
}

func TestValidateParticipants(t *testing.T) {
	assert.NoError(t, ValidateParticipants("alice", "bob"))
	assert.ErrorIs(t, ValidateParticipants("", "bob"), ErrValidation)
	assert.ErrorIs(t, ValidateParticipants("alice", ""), ErrValidation)
	assert.ErrorIs(t, ValidateParticipants("alice", "alice"), ErrValidation)
}

func TestValidateWinner(t *testing.T) {
	m := &Match{PlayerA: "alice", PlayerB: "bob"}

	assert.NoError(t, m.ValidateWinner("alice"))
	assert.NoError(t, m.ValidateWinner("bob"))
	assert.ErrorIs(t, m.ValidateWinner("carol"), ErrValidation)
	assert.ErrorIs(t, m.ValidateWinner(""), ErrValidation)
}

func TestMetadataValidate(t *testing.T) {
	assert.NoError(t, Metadata(nil).Validate())
	assert.NoError(t, Metadata{"mode": "ranked"}.Validate())

	big := Metadata{}
	for i := 0; i < MaxMetadataEntries+1; i++ {
		big[fmt.Sprintf("key%d", i)] = "v"
	}
	assert.ErrorIs(t, big.Validate(), ErrValidation)

	assert.ErrorIs(t, Metadata{"": "v"}.Validate(), ErrValidation)
	assert.ErrorIs(t, Metadata{"k": strings.Repeat("x", MaxMetadataValueLen+1)}.Validate(), ErrValidation)
}

func TestReplay(t *testing.T) {
	matchID := uuid.New()
	log := []*Transition{
		{MatchID: matchID, FromState: StateCreated, ToState: StateStarted},
		{MatchID: matchID, FromState: StateStarted, ToState: StateCompleted},
		{MatchID: matchID, FromState: StateCompleted, ToState: StateFinalized},
	}

	state, err := Replay(log)
	require.NoError(t, err)
	assert.Equal(t, StateFinalized, state)
}

func TestReplayEmptyLog(t *testing.T) {
	state, err := Replay(nil)
	require.NoError(t, err)
	assert.Equal(t, StateCreated, state)
}

func TestReplayBrokenChain(t *testing.T) {
	log := []*Transition{
		{FromState: StateCreated, ToState: StateStarted},
		{FromState: StateCompleted, ToState: StateFinalized},
	}
	_, err := Replay(log)
	require.Error(t, err)
}

func TestReplayInvalidTransition(t *testing.T) {
	log := []*Transition{
		{FromState: StateCreated, ToState: StateFinalized},
	}
	_, err := Replay(log)
	require.ErrorIs(t, err, ErrInvalidTransition)
}
