package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/match-authority/match-authority/internal/domain/reconciliation"
)

const reconColumns = `id, match_id, checked_at, off_chain_state, on_chain_state,
		is_divergent, resolution_action, resolved_at, metadata`

// ReconciliationRepository implements reconciliation.Repository.
type ReconciliationRepository struct {
	pool *pgxpool.Pool
}

func NewReconciliationRepository(pool *pgxpool.Pool) *ReconciliationRepository {
	return &ReconciliationRepository{pool: pool}
}

func (r *ReconciliationRepository) Create(ctx context.Context, rec *reconciliation.Record) error {
	meta, err := metadataToJSON(rec.Metadata)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO match_reconciliation_log (id, match_id, checked_at, off_chain_state, on_chain_state, is_divergent, resolution_action, resolved_at, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, rec.ID, rec.MatchID, rec.CheckedAt, rec.OffChainState, rec.OnChainState, rec.IsDivergent, rec.ResolutionAction, rec.ResolvedAt, meta)
	return err
}

func (r *ReconciliationRepository) GetByID(ctx context.Context, id uuid.UUID) (*reconciliation.Record, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+reconColumns+` FROM match_reconciliation_log WHERE id=$1`, id)
	return scanReconciliation(row)
}

func (r *ReconciliationRepository) ListByMatch(ctx context.Context, matchID uuid.UUID) ([]*reconciliation.Record, error) {
	return r.list(ctx, `SELECT `+reconColumns+` FROM match_reconciliation_log WHERE match_id=$1 ORDER BY checked_at DESC`, matchID)
}

func (r *ReconciliationRepository) ListUnresolvedDivergent(ctx context.Context, limit int) ([]*reconciliation.Record, error) {
	return r.list(ctx, `
		SELECT `+reconColumns+` FROM match_reconciliation_log
		WHERE is_divergent AND resolved_at IS NULL ORDER BY checked_at ASC LIMIT $1
	`, limit)
}

// Resolve sets resolution fields once; an already resolved record is left
// untouched and reported as such.
func (r *ReconciliationRepository) Resolve(ctx context.Context, id uuid.UUID, action string, resolvedAt time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE match_reconciliation_log SET resolution_action=$1, resolved_at=$2
		WHERE id=$3 AND resolved_at IS NULL
	`, action, resolvedAt, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		existing, err := r.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return reconciliation.ErrNotFound
		}
		return reconciliation.ErrAlreadyResolved
	}
	return nil
}

func (r *ReconciliationRepository) list(ctx context.Context, query string, args ...any) ([]*reconciliation.Record, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []*reconciliation.Record
	for rows.Next() {
		rec, err := scanReconciliation(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanReconciliation(row pgx.Row) (*reconciliation.Record, error) {
	var rec reconciliation.Record
	var meta []byte
	if err := row.Scan(&rec.ID, &rec.MatchID, &rec.CheckedAt, &rec.OffChainState, &rec.OnChainState,
		&rec.IsDivergent, &rec.ResolutionAction, &rec.ResolvedAt, &meta); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	md, err := metadataFromJSON(meta)
	if err != nil {
		return nil, err
	}
	rec.Metadata = md
	return &rec, nil
}
