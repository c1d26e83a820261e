package chain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines chain operation persistence. The coordinator is the only
// writer.
type Repository interface {
	Create(ctx context.Context, op *Operation) error
	GetByID(ctx context.Context, id uuid.UUID) (*Operation, error)
	GetByTxHash(ctx context.Context, txHash string) (*Operation, error)
	ListByMatch(ctx context.Context, matchID uuid.UUID) ([]*Operation, error)
	ListPending(ctx context.Context, limit int) ([]*Operation, error)
	ListPendingByMatch(ctx context.Context, matchID uuid.UUID) ([]*Operation, error)
	LastConfirmedByMatch(ctx context.Context, matchID uuid.UUID) (*Operation, error)
	MarkSuccess(ctx context.Context, id uuid.UUID, blockHeight int64, confirmedAt time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, message string) error
	IncrementRetry(ctx context.Context, id uuid.UUID) (int, error)
}
