package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/match-authority/match-authority/internal/domain/idempotency"
)

// Fn runs the guarded operation exactly once and returns the match it acted
// on plus the response payload to store for replays.
type Fn func(ctx context.Context) (matchID *uuid.UUID, response json.RawMessage, err error)

// Guard wraps externally triggered operations with caller-supplied
// idempotency keys. The key is claimed via a unique-constrained insert, so
// concurrent duplicates race on the database and exactly one executes.
type Guard struct {
	repo   idempotency.Repository
	logger zerolog.Logger
}

func NewGuard(repo idempotency.Repository, logger zerolog.Logger) *Guard {
	return &Guard{
		repo:   repo,
		logger: logger.With().Str("service", "idempotency").Logger(),
	}
}

// Execute runs fn under the idempotency key. A completed record with the same
// payload replays the stored response without re-executing fn, even if the
// underlying match has advanced since. A processing record fails fast with a
// conflict. The same key with a different payload is a conflict, never a
// silent success with stale data.
func (g *Guard) Execute(ctx context.Context, key, operation string, payload json.RawMessage, fn Fn) (json.RawMessage, error) {
	if key == "" {
		return nil, idempotency.ErrKeyRequired
	}

	hash := hashPayload(payload)
	op := &idempotency.Operation{
		ID:             uuid.New(),
		Operation:      operation,
		Key:            key,
		Status:         idempotency.StatusProcessing,
		RequestPayload: payload,
		PayloadHash:    hash,
		CreatedAt:      time.Now().UTC(),
	}

	if err := g.repo.Claim(ctx, op); err != nil {
		if !errors.Is(err, idempotency.ErrDuplicateKey) {
			return nil, err
		}
		return g.replay(ctx, key, operation, hash)
	}

	matchID, response, err := fn(ctx)
	now := time.Now().UTC()
	if err != nil {
		failure, _ := json.Marshal(map[string]string{"error": err.Error()})
		if failErr := g.repo.Fail(ctx, op.ID, failure, now); failErr != nil {
			g.logger.Error().Err(failErr).Str("key", key).Msg("failed to record operation failure")
		}
		return nil, err
	}

	if err := g.repo.Complete(ctx, op.ID, matchID, response, now); err != nil {
		g.logger.Error().Err(err).Str("key", key).Msg("failed to record operation completion")
		return nil, err
	}
	return response, nil
}

func (g *Guard) replay(ctx context.Context, key, operation, hash string) (json.RawMessage, error) {
	existing, err := g.repo.GetByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		// Claim lost to a row that vanished before we could read it.
		return nil, idempotency.ErrOperationInFlight
	}
	if existing.PayloadHash != hash || existing.Operation != operation {
		return nil, fmt.Errorf("%w: operation %s", idempotency.ErrKeyReuse, operation)
	}

	switch existing.Status {
	case idempotency.StatusProcessing:
		return nil, idempotency.ErrOperationInFlight
	case idempotency.StatusCompleted:
		g.logger.Info().Str("key", key).Str("operation", operation).Msg("replaying stored response for idempotent request")
		return existing.ResponsePayload, nil
	default:
		return nil, fmt.Errorf("%w: %s", idempotency.ErrPreviouslyFailed, string(existing.ResponsePayload))
	}
}

func hashPayload(payload json.RawMessage) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
