package reconciliation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines reconciliation log persistence. The reconciler is the
// only writer; records are mutated once at most, to set resolution fields.
type Repository interface {
	Create(ctx context.Context, r *Record) error
	GetByID(ctx context.Context, id uuid.UUID) (*Record, error)
	ListByMatch(ctx context.Context, matchID uuid.UUID) ([]*Record, error)
	ListUnresolvedDivergent(ctx context.Context, limit int) ([]*Record, error)
	Resolve(ctx context.Context, id uuid.UUID, action string, resolvedAt time.Time) error
}
