package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/match-authority/match-authority/internal/domain/match"
)

const matchColumns = `id, on_chain_match_id, player_a, player_b, winner, state,
		created_at, started_at, ended_at, last_chain_tx, idempotency_key, metadata`

// MatchRepository implements match.Repository.
type MatchRepository struct {
	pool *pgxpool.Pool
}

func NewMatchRepository(pool *pgxpool.Pool) *MatchRepository {
	return &MatchRepository{pool: pool}
}

func (r *MatchRepository) Create(ctx context.Context, m *match.Match) error {
	meta, err := metadataToJSON(m.Metadata)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO matches (id, on_chain_match_id, player_a, player_b, winner, state, created_at, started_at, ended_at, last_chain_tx, idempotency_key, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, m.ID, m.OnChainMatchID, m.PlayerA, m.PlayerB, m.Winner, m.State, m.CreatedAt, m.StartedAt, m.EndedAt, m.LastChainTx, m.IdempotencyKey, meta)
	if isUniqueViolation(err) {
		return match.ErrDuplicate
	}
	return err
}

func (r *MatchRepository) GetByID(ctx context.Context, id uuid.UUID) (*match.Match, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+matchColumns+` FROM matches WHERE id=$1`, id)
	return scanMatch(row)
}

func (r *MatchRepository) GetByIdempotencyKey(ctx context.Context, key string) (*match.Match, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+matchColumns+` FROM matches WHERE idempotency_key=$1`, key)
	return scanMatch(row)
}

func (r *MatchRepository) ListActive(ctx context.Context, limit int) ([]*match.Match, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+matchColumns+` FROM matches
		WHERE state <> $1 ORDER BY created_at ASC LIMIT $2
	`, match.StateFinalized, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var matches []*match.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// UpdateStateCAS commits a state change only if the row still holds the
// expected source state. The rows-affected count decides the race.
func (r *MatchRepository) UpdateStateCAS(ctx context.Context, id uuid.UUID, from, to match.State, update match.StateUpdate) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE matches SET
			state = $1,
			winner = COALESCE($2, winner),
			started_at = COALESCE($3, started_at),
			ended_at = COALESCE($4, ended_at)
		WHERE id = $5 AND state = $6
	`, to, update.Winner, update.StartedAt, update.EndedAt, id, from)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *MatchRepository) SetLastChainTx(ctx context.Context, id uuid.UUID, txHash string) error {
	_, err := r.pool.Exec(ctx, `UPDATE matches SET last_chain_tx=$1 WHERE id=$2`, txHash, id)
	return err
}

func scanMatch(row pgx.Row) (*match.Match, error) {
	var m match.Match
	var meta []byte
	if err := row.Scan(&m.ID, &m.OnChainMatchID, &m.PlayerA, &m.PlayerB, &m.Winner, &m.State,
		&m.CreatedAt, &m.StartedAt, &m.EndedAt, &m.LastChainTx, &m.IdempotencyKey, &meta); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	md, err := metadataFromJSON(meta)
	if err != nil {
		return nil, err
	}
	m.Metadata = md
	return &m, nil
}

// TransitionRepository implements match.TransitionRepository.
type TransitionRepository struct {
	pool *pgxpool.Pool
}

func NewTransitionRepository(pool *pgxpool.Pool) *TransitionRepository {
	return &TransitionRepository{pool: pool}
}

func (r *TransitionRepository) Append(ctx context.Context, t *match.Transition) error {
	meta, err := metadataToJSON(t.Metadata)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO match_transitions (id, match_id, from_state, to_state, actor, occurred_at, chain_tx, error, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, t.ID, t.MatchID, t.FromState, t.ToState, t.Actor, t.OccurredAt, t.ChainTx, t.Error, meta)
	return err
}

func (r *TransitionRepository) ListByMatch(ctx context.Context, matchID uuid.UUID) ([]*match.Transition, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, match_id, from_state, to_state, actor, occurred_at, chain_tx, error, metadata
		FROM match_transitions WHERE match_id=$1 ORDER BY occurred_at ASC
	`, matchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var transitions []*match.Transition
	for rows.Next() {
		var t match.Transition
		var meta []byte
		if err := rows.Scan(&t.ID, &t.MatchID, &t.FromState, &t.ToState, &t.Actor, &t.OccurredAt, &t.ChainTx, &t.Error, &meta); err != nil {
			return nil, err
		}
		md, err := metadataFromJSON(meta)
		if err != nil {
			return nil, err
		}
		t.Metadata = md
		transitions = append(transitions, &t)
	}
	return transitions, rows.Err()
}

func metadataToJSON(m match.Metadata) ([]byte, error) {
	if m == nil {
		m = match.Metadata{}
	}
	return json.Marshal(m)
}

func metadataFromJSON(data []byte) (match.Metadata, error) {
	if len(data) == 0 {
		return match.Metadata{}, nil
	}
	var m match.Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
