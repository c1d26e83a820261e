package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/match-authority/match-authority/internal/domain/idempotency"
)

// IdempotencyRepository implements idempotency.Repository.
type IdempotencyRepository struct {
	pool *pgxpool.Pool
}

func NewIdempotencyRepository(pool *pgxpool.Pool) *IdempotencyRepository {
	return &IdempotencyRepository{pool: pool}
}

// Claim races concurrent callers on the key's unique constraint; exactly one
// insert wins.
func (r *IdempotencyRepository) Claim(ctx context.Context, op *idempotency.Operation) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO match_idempotent_operations (id, match_id, operation, idempotency_key, status, request_payload, response_payload, payload_hash, created_at, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, op.ID, op.MatchID, op.Operation, op.Key, op.Status, []byte(op.RequestPayload), nullableJSON(op.ResponsePayload), op.PayloadHash, op.CreatedAt, op.CompletedAt)
	if isUniqueViolation(err) {
		return idempotency.ErrDuplicateKey
	}
	return err
}

func (r *IdempotencyRepository) GetByKey(ctx context.Context, key string) (*idempotency.Operation, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, match_id, operation, idempotency_key, status, request_payload, response_payload, payload_hash, created_at, completed_at
		FROM match_idempotent_operations WHERE idempotency_key=$1
	`, key)
	var op idempotency.Operation
	var request, response []byte
	if err := row.Scan(&op.ID, &op.MatchID, &op.Operation, &op.Key, &op.Status, &request, &response, &op.PayloadHash, &op.CreatedAt, &op.CompletedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	op.RequestPayload = request
	op.ResponsePayload = response
	return &op, nil
}

func (r *IdempotencyRepository) Complete(ctx context.Context, id uuid.UUID, matchID *uuid.UUID, response json.RawMessage, completedAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE match_idempotent_operations SET status=$1, match_id=$2, response_payload=$3, completed_at=$4
		WHERE id=$5 AND status=$6
	`, idempotency.StatusCompleted, matchID, nullableJSON(response), completedAt, id, idempotency.StatusProcessing)
	return err
}

func (r *IdempotencyRepository) Fail(ctx context.Context, id uuid.UUID, response json.RawMessage, completedAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE match_idempotent_operations SET status=$1, response_payload=$2, completed_at=$3
		WHERE id=$4 AND status=$5
	`, idempotency.StatusFailed, nullableJSON(response), completedAt, id, idempotency.StatusProcessing)
	return err
}

func nullableJSON(data json.RawMessage) []byte {
	if len(data) == 0 {
		return nil
	}
	return data
}
