package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/match-authority/match-authority/internal/application/alert"
	"github.com/match-authority/match-authority/internal/domain/chain"
	"github.com/match-authority/match-authority/internal/domain/match"
)

const (
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = 10 * time.Second
)

// envelopeMetadataKey stores the signed envelope on the operation so the
// retry sweep can re-submit without rebuilding.
const envelopeMetadataKey = "envelope"

// submittableStates maps each operation kind to the local state that must
// already be committed before the on-chain call goes out. The chain call
// always follows local commitment, never precedes it.
var submittableStates = map[chain.OperationKind]match.State{
	chain.KindCreate:   match.StateCreated,
	chain.KindStart:    match.StateStarted,
	chain.KindComplete: match.StateCompleted,
	chain.KindDispute:  match.StateDisputed,
	chain.KindFinalize: match.StateFinalized,
}

// Coordinator submits lifecycle operations to the on-chain authority, tracks
// transaction status and retries bounded-exponentially. A permanently failed
// submission never rolls back local FSM state.
type Coordinator struct {
	ops     chain.Repository
	matches match.Repository
	client  chain.Client
	alerts  *alert.Evaluator
	logger  zerolog.Logger

	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithRetryPolicy(maxAttempts int, initial, max time.Duration) Option {
	return func(c *Coordinator) {
		c.maxAttempts = maxAttempts
		c.initialBackoff = initial
		c.maxBackoff = max
	}
}

func NewCoordinator(ops chain.Repository, matches match.Repository, client chain.Client, alerts *alert.Evaluator, logger zerolog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		ops:            ops,
		matches:        matches,
		client:         client,
		alerts:         alerts,
		logger:         logger.With().Str("service", "chain_coordinator").Logger(),
		maxAttempts:    DefaultMaxAttempts,
		initialBackoff: DefaultInitialBackoff,
		maxBackoff:     DefaultMaxBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit builds and signs the transaction, persists a pending operation
// carrying the deterministic hash before any network call, then submits. A
// synchronous submission failure leaves the operation pending for the retry
// sweep unless attempts are already exhausted.
func (c *Coordinator) Submit(ctx context.Context, matchID uuid.UUID, kind chain.OperationKind, params map[string]any) (*chain.Operation, error) {
	if !kind.Valid() {
		return nil, chain.ErrUnknownOperation
	}

	m, err := c.matches.GetByID(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, match.ErrNotFound
	}
	if err := c.validateAgainstState(kind, m.State); err != nil {
		return nil, err
	}

	args := map[string]any{"match_id": m.OnChainMatchID}
	for k, v := range params {
		args[k] = v
	}

	tx, err := c.client.BuildTransaction(ctx, string(kind), args)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s transaction: %w", kind, err)
	}

	op := &chain.Operation{
		ID:          uuid.New(),
		MatchID:     matchID,
		Kind:        kind,
		TxHash:      tx.Hash,
		Status:      chain.StatusPending,
		SubmittedAt: time.Now().UTC(),
		Metadata:    match.Metadata{envelopeMetadataKey: tx.Envelope},
	}
	if err := c.ops.Create(ctx, op); err != nil {
		return nil, err
	}

	if err := c.submitOnce(ctx, op, tx); err != nil {
		c.logger.Warn().Err(err).
			Str("match_id", matchID.String()).
			Str("kind", string(kind)).
			Str("tx_hash", tx.Hash).
			Msg("chain submission attempt failed")
	} else if err := c.matches.SetLastChainTx(ctx, matchID, tx.Hash); err != nil {
		c.logger.Error().Err(err).Str("match_id", matchID.String()).Msg("failed to record last chain tx")
	}

	return c.ops.GetByID(ctx, op.ID)
}

// validateAgainstState rejects operations whose local state has not been
// committed yet.
func (c *Coordinator) validateAgainstState(kind chain.OperationKind, state match.State) error {
	expected, ok := submittableStates[kind]
	if !ok {
		return chain.ErrUnknownOperation
	}
	// Later states are fine for re-submission of an earlier operation; only
	// an operation ahead of the committed state is inconsistent.
	if stateRank(state) < stateRank(expected) {
		return fmt.Errorf("%w: %s requires local state %s, have %s", chain.ErrStateInconsistent, kind, expected, state)
	}
	return nil
}

func stateRank(s match.State) int {
	switch s {
	case match.StateCreated:
		return 0
	case match.StateStarted:
		return 1
	case match.StateCompleted:
		return 2
	case match.StateDisputed:
		return 3
	case match.StateFinalized:
		return 4
	}
	return -1
}

// submitOnce performs one network submission and applies the retry policy on
// synchronous failure.
func (c *Coordinator) submitOnce(ctx context.Context, op *chain.Operation, tx *chain.Transaction) error {
	result, err := c.client.SubmitTransaction(ctx, tx)
	if err == nil && result.Status != chain.StatusFailed {
		return nil
	}

	message := "submission rejected"
	if err != nil {
		message = err.Error()
	} else if result.Error != "" {
		message = result.Error
	}

	retries, rerr := c.ops.IncrementRetry(ctx, op.ID)
	if rerr != nil {
		return rerr
	}
	op.RetryCount = retries

	if retries >= c.maxAttempts {
		if merr := c.ops.MarkFailed(ctx, op.ID, message); merr != nil {
			return merr
		}
		op.Status = chain.StatusFailed
		op.ErrorMessage = &message
		c.alerts.ChainFailure(op)
		return fmt.Errorf("%w: %s", chain.ErrRetriesExhausted, message)
	}
	return fmt.Errorf("chain submission failed (attempt %d/%d): %s", retries, c.maxAttempts, message)
}

// ProcessPending drives pending operations forward: confirmed transactions
// are marked success or failed, unseen ones are re-submitted once their
// backoff has elapsed. Runs from a background ticker; never blocks callers.
func (c *Coordinator) ProcessPending(ctx context.Context, limit int) (int, error) {
	pending, err := c.ops.ListPending(ctx, limit)
	if err != nil {
		return 0, err
	}

	processed := 0
	now := time.Now().UTC()
	for _, op := range pending {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		if c.processOne(ctx, op, now) {
			processed++
		}
	}
	return processed, nil
}

func (c *Coordinator) processOne(ctx context.Context, op *chain.Operation, now time.Time) bool {
	status, err := c.client.GetTransaction(ctx, op.TxHash)
	if err != nil {
		c.logger.Warn().Err(err).Str("tx_hash", op.TxHash).Msg("confirmation poll failed")
		return false
	}

	switch {
	case status.Found && status.Status == chain.StatusSuccess:
		if err := c.ops.MarkSuccess(ctx, op.ID, status.BlockHeight, now); err != nil {
			c.logger.Error().Err(err).Str("tx_hash", op.TxHash).Msg("failed to mark operation success")
			return false
		}
		c.logger.Info().
			Str("match_id", op.MatchID.String()).
			Str("kind", string(op.Kind)).
			Str("tx_hash", op.TxHash).
			Int64("block_height", status.BlockHeight).
			Msg("chain operation confirmed")
		return true

	case status.Found && status.Status == chain.StatusFailed:
		if err := c.ops.MarkFailed(ctx, op.ID, status.Error); err != nil {
			c.logger.Error().Err(err).Str("tx_hash", op.TxHash).Msg("failed to mark operation failure")
			return false
		}
		op.Status = chain.StatusFailed
		op.ErrorMessage = &status.Error
		c.alerts.ChainFailure(op)
		return true

	default:
		// Not yet seen by the network: re-submit once the backoff elapsed.
		due := op.SubmittedAt.Add(c.backoffFor(op.RetryCount))
		if now.Before(due) {
			return false
		}
		envelope := op.Metadata[envelopeMetadataKey]
		if envelope == "" {
			c.logger.Error().Str("tx_hash", op.TxHash).Msg("pending operation has no stored envelope, cannot re-submit")
			return false
		}
		tx := &chain.Transaction{Hash: op.TxHash, Envelope: envelope}
		if err := c.submitOnce(ctx, op, tx); err != nil {
			c.logger.Warn().Err(err).Str("tx_hash", op.TxHash).Msg("re-submission attempt failed")
		}
		return true
	}
}

func (c *Coordinator) backoffFor(retries int) time.Duration {
	backoff := c.initialBackoff
	for i := 0; i < retries; i++ {
		backoff *= 2
		if backoff >= c.maxBackoff {
			return c.maxBackoff
		}
	}
	return backoff
}

// SyncStatus reports the chain view of one match: still-pending operations
// and the last confirmed one.
type SyncStatus struct {
	MatchID       uuid.UUID          `json:"matchId"`
	Pending       []*chain.Operation `json:"pendingOperations"`
	LastConfirmed *chain.Operation   `json:"lastConfirmedOperation,omitempty"`
}

func (c *Coordinator) Status(ctx context.Context, matchID uuid.UUID) (*SyncStatus, error) {
	m, err := c.matches.GetByID(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, match.ErrNotFound
	}

	pending, err := c.ops.ListPendingByMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	last, err := c.ops.LastConfirmedByMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if pending == nil {
		pending = []*chain.Operation{}
	}
	return &SyncStatus{MatchID: matchID, Pending: pending, LastConfirmed: last}, nil
}
