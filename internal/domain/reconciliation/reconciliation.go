package reconciliation

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/match-authority/match-authority/internal/domain/match"
)

var (
	ErrNotFound        = errors.New("reconciliation record not found")
	ErrAlreadyResolved = errors.New("reconciliation record already resolved")
)

// Record is the result of one divergence check between the off-chain FSM state
// and the state reported by the on-chain authority. Divergence is an
// observation, not an exception: resolution is a separate, explicit action.
type Record struct {
	ID               uuid.UUID      `json:"id"`
	MatchID          uuid.UUID      `json:"matchId"`
	CheckedAt        time.Time      `json:"checkedAt"`
	OffChainState    match.State    `json:"offChainState"`
	OnChainState     string         `json:"onChainState"`
	IsDivergent      bool           `json:"isDivergent"`
	ResolutionAction *string        `json:"resolutionAction,omitempty"`
	ResolvedAt       *time.Time     `json:"resolvedAt,omitempty"`
	Metadata         match.Metadata `json:"metadata,omitempty"`
}

// Resolved reports whether resolution fields have been set.
func (r *Record) Resolved() bool {
	return r.ResolvedAt != nil
}
