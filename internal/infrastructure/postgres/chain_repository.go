package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/match-authority/match-authority/internal/domain/chain"
)

const chainOpColumns = `id, match_id, kind, tx_hash, status, submitted_at,
		confirmed_at, block_height, error_message, retry_count, metadata`

// ChainOperationRepository implements chain.Repository.
type ChainOperationRepository struct {
	pool *pgxpool.Pool
}

func NewChainOperationRepository(pool *pgxpool.Pool) *ChainOperationRepository {
	return &ChainOperationRepository{pool: pool}
}

func (r *ChainOperationRepository) Create(ctx context.Context, op *chain.Operation) error {
	meta, err := metadataToJSON(op.Metadata)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO match_chain_operations (id, match_id, kind, tx_hash, status, submitted_at, confirmed_at, block_height, error_message, retry_count, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, op.ID, op.MatchID, op.Kind, op.TxHash, op.Status, op.SubmittedAt, op.ConfirmedAt, op.BlockHeight, op.ErrorMessage, op.RetryCount, meta)
	return err
}

func (r *ChainOperationRepository) GetByID(ctx context.Context, id uuid.UUID) (*chain.Operation, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+chainOpColumns+` FROM match_chain_operations WHERE id=$1`, id)
	return scanChainOperation(row)
}

func (r *ChainOperationRepository) GetByTxHash(ctx context.Context, txHash string) (*chain.Operation, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+chainOpColumns+` FROM match_chain_operations WHERE tx_hash=$1`, txHash)
	return scanChainOperation(row)
}

func (r *ChainOperationRepository) ListByMatch(ctx context.Context, matchID uuid.UUID) ([]*chain.Operation, error) {
	return r.list(ctx, `SELECT `+chainOpColumns+` FROM match_chain_operations WHERE match_id=$1 ORDER BY submitted_at ASC`, matchID)
}

func (r *ChainOperationRepository) ListPending(ctx context.Context, limit int) ([]*chain.Operation, error) {
	return r.list(ctx, `
		SELECT `+chainOpColumns+` FROM match_chain_operations
		WHERE status=$1 ORDER BY submitted_at ASC LIMIT $2
	`, chain.StatusPending, limit)
}

func (r *ChainOperationRepository) ListPendingByMatch(ctx context.Context, matchID uuid.UUID) ([]*chain.Operation, error) {
	return r.list(ctx, `
		SELECT `+chainOpColumns+` FROM match_chain_operations
		WHERE match_id=$1 AND status=$2 ORDER BY submitted_at ASC
	`, matchID, chain.StatusPending)
}

func (r *ChainOperationRepository) LastConfirmedByMatch(ctx context.Context, matchID uuid.UUID) (*chain.Operation, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+chainOpColumns+` FROM match_chain_operations
		WHERE match_id=$1 AND status=$2 ORDER BY confirmed_at DESC LIMIT 1
	`, matchID, chain.StatusSuccess)
	return scanChainOperation(row)
}

func (r *ChainOperationRepository) MarkSuccess(ctx context.Context, id uuid.UUID, blockHeight int64, confirmedAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE match_chain_operations SET status=$1, block_height=$2, confirmed_at=$3
		WHERE id=$4 AND status=$5
	`, chain.StatusSuccess, blockHeight, confirmedAt, id, chain.StatusPending)
	return err
}

func (r *ChainOperationRepository) MarkFailed(ctx context.Context, id uuid.UUID, message string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE match_chain_operations SET status=$1, error_message=$2
		WHERE id=$3 AND status=$4
	`, chain.StatusFailed, message, id, chain.StatusPending)
	return err
}

func (r *ChainOperationRepository) IncrementRetry(ctx context.Context, id uuid.UUID) (int, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE match_chain_operations SET retry_count = retry_count + 1
		WHERE id=$1 RETURNING retry_count
	`, id)
	var count int
	if err := row.Scan(&count); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, chain.ErrNotFound
		}
		return 0, err
	}
	return count, nil
}

func (r *ChainOperationRepository) list(ctx context.Context, query string, args ...any) ([]*chain.Operation, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ops []*chain.Operation
	for rows.Next() {
		op, err := scanChainOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

func scanChainOperation(row pgx.Row) (*chain.Operation, error) {
	var op chain.Operation
	var meta []byte
	if err := row.Scan(&op.ID, &op.MatchID, &op.Kind, &op.TxHash, &op.Status, &op.SubmittedAt,
		&op.ConfirmedAt, &op.BlockHeight, &op.ErrorMessage, &op.RetryCount, &meta); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	md, err := metadataFromJSON(meta)
	if err != nil {
		return nil, err
	}
	op.Metadata = md
	return &op, nil
}
