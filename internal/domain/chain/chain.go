package chain

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/match-authority/match-authority/internal/domain/match"
)

// OperationKind identifies a lifecycle call on the on-chain authority.
type OperationKind string

const (
	KindCreate   OperationKind = "create_match"
	KindStart    OperationKind = "start_match"
	KindComplete OperationKind = "complete_match"
	KindDispute  OperationKind = "raise_dispute"
	KindFinalize OperationKind = "finalize_match"
)

// Valid reports whether k is a known operation kind.
func (k OperationKind) Valid() bool {
	switch k {
	case KindCreate, KindStart, KindComplete, KindDispute, KindFinalize:
		return true
	}
	return false
}

// Status is the submission status of a chain operation.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

var (
	ErrNotFound          = errors.New("chain operation not found")
	ErrUnknownOperation  = errors.New("unknown chain operation kind")
	ErrRetriesExhausted  = errors.New("chain submission retries exhausted")
	ErrStateInconsistent = errors.New("operation inconsistent with committed match state")
)

// Operation tracks one submission to the on-chain authority. It is created
// pending before the network call goes out, so a crash after submission cannot
// lose the transaction reference. Status only moves pending->success or
// pending->failed.
type Operation struct {
	ID           uuid.UUID      `json:"id"`
	MatchID      uuid.UUID      `json:"matchId"`
	Kind         OperationKind  `json:"kind"`
	TxHash       string         `json:"txHash"`
	Status       Status         `json:"status"`
	SubmittedAt  time.Time      `json:"submittedAt"`
	ConfirmedAt  *time.Time     `json:"confirmedAt,omitempty"`
	BlockHeight  *int64         `json:"blockHeight,omitempty"`
	ErrorMessage *string        `json:"errorMessage,omitempty"`
	RetryCount   int            `json:"retryCount"`
	Metadata     match.Metadata `json:"metadata,omitempty"`
}
