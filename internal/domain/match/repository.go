package match

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// StateUpdate carries the column values written together with a committed
// state change. Nil fields are left untouched.
type StateUpdate struct {
	Winner    *string
	StartedAt *time.Time
	EndedAt   *time.Time
}

// Repository defines match persistence. UpdateStateCAS is the only way to
// change Match.State: it commits only if the stored state still equals from,
// and reports whether the conditional write won.
type Repository interface {
	Create(ctx context.Context, m *Match) error
	GetByID(ctx context.Context, id uuid.UUID) (*Match, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*Match, error)
	ListActive(ctx context.Context, limit int) ([]*Match, error)
	UpdateStateCAS(ctx context.Context, id uuid.UUID, from, to State, update StateUpdate) (bool, error)
	SetLastChainTx(ctx context.Context, id uuid.UUID, txHash string) error
}

// TransitionRepository defines the append-only transition log.
type TransitionRepository interface {
	Append(ctx context.Context, t *Transition) error
	ListByMatch(ctx context.Context, matchID uuid.UUID) ([]*Transition, error)
}
