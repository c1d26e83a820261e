package idempotency

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle of one caller-keyed operation.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var (
	// ErrDuplicateKey is returned by Repository.Claim when the unique insert
	// loses the race for a key.
	ErrDuplicateKey = errors.New("idempotency key already claimed")
	// ErrOperationInFlight means a concurrent duplicate holds the key.
	ErrOperationInFlight = errors.New("operation with this idempotency key is still in flight")
	// ErrKeyReuse means the key was presented with a different payload. This
	// is surfaced as a conflict, never a silent success with stale data.
	ErrKeyReuse = errors.New("idempotency key reused with a different payload")
	// ErrPreviouslyFailed replays a failed outcome for the same key+payload.
	ErrPreviouslyFailed = errors.New("operation with this idempotency key previously failed")
	// ErrKeyRequired rejects unkeyed requests to guarded operations.
	ErrKeyRequired = errors.New("idempotency key is required")
	ErrNotFound    = errors.New("idempotent operation not found")
)

// Operation is one entry in the deduplication ledger. A key is claimed by a
// unique-constrained insert, executed once, and completed or failed exactly
// once; it is never re-executed.
type Operation struct {
	ID              uuid.UUID       `json:"id"`
	MatchID         *uuid.UUID      `json:"matchId,omitempty"`
	Operation       string          `json:"operation"`
	Key             string          `json:"key"`
	Status          Status          `json:"status"`
	RequestPayload  json.RawMessage `json:"requestPayload,omitempty"`
	ResponsePayload json.RawMessage `json:"responsePayload,omitempty"`
	PayloadHash     string          `json:"payloadHash"`
	CreatedAt       time.Time       `json:"createdAt"`
	CompletedAt     *time.Time      `json:"completedAt,omitempty"`
}
