package idempotency

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Repository defines the deduplication ledger. Claim must be a
// unique-constrained insert on the key so concurrent callers race on the
// database, not in application memory.
type Repository interface {
	// Claim inserts op in processing state. Returns ErrDuplicateKey if the
	// key is already held.
	Claim(ctx context.Context, op *Operation) error
	GetByKey(ctx context.Context, key string) (*Operation, error)
	Complete(ctx context.Context, id uuid.UUID, matchID *uuid.UUID, response json.RawMessage, completedAt time.Time) error
	Fail(ctx context.Context, id uuid.UUID, response json.RawMessage, completedAt time.Time) error
}
