package chain

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/match-authority/match-authority/internal/application/alert"
	"github.com/match-authority/match-authority/internal/domain/chain"
	"github.com/match-authority/match-authority/internal/domain/chain/mocks"
	"github.com/match-authority/match-authority/internal/domain/match"
)

// memOpRepo implements chain.Repository in memory.
type memOpRepo struct {
	mu  sync.Mutex
	ops map[uuid.UUID]*chain.Operation
}

func newMemOpRepo() *memOpRepo {
	return &memOpRepo{ops: make(map[uuid.UUID]*chain.Operation)}
}

func (r *memOpRepo) Create(_ context.Context, op *chain.Operation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *op
	r.ops[op.ID] = &cp
	return nil
}

func (r *memOpRepo) GetByID(_ context.Context, id uuid.UUID) (*chain.Operation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.ops[id]
	if !ok {
		return nil, chain.ErrNotFound
	}
	cp := *op
	return &cp, nil
}

func (r *memOpRepo) GetByTxHash(_ context.Context, txHash string) (*chain.Operation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, op := range r.ops {
		if op.TxHash == txHash {
			cp := *op
			return &cp, nil
		}
	}
	return nil, chain.ErrNotFound
}

func (r *memOpRepo) ListByMatch(_ context.Context, matchID uuid.UUID) ([]*chain.Operation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*chain.Operation
	for _, op := range r.ops {
		if op.MatchID == matchID {
			cp := *op
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memOpRepo) ListPending(_ context.Context, limit int) ([]*chain.Operation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*chain.Operation
	for _, op := range r.ops {
		if op.Status != chain.StatusPending {
			continue
		}
		cp := *op
		out = append(out, &cp)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *memOpRepo) ListPendingByMatch(_ context.Context, matchID uuid.UUID) ([]*chain.Operation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*chain.Operation
	for _, op := range r.ops {
		if op.MatchID == matchID && op.Status == chain.StatusPending {
			cp := *op
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memOpRepo) LastConfirmedByMatch(_ context.Context, matchID uuid.UUID) (*chain.Operation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var last *chain.Operation
	for _, op := range r.ops {
		if op.MatchID != matchID || op.Status != chain.StatusSuccess {
			continue
		}
		if last == nil || op.ConfirmedAt.After(*last.ConfirmedAt) {
			cp := *op
			last = &cp
		}
	}
	return last, nil
}

func (r *memOpRepo) MarkSuccess(_ context.Context, id uuid.UUID, blockHeight int64, confirmedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.ops[id]
	if !ok || op.Status != chain.StatusPending {
		return chain.ErrNotFound
	}
	op.Status = chain.StatusSuccess
	op.BlockHeight = &blockHeight
	op.ConfirmedAt = &confirmedAt
	return nil
}

func (r *memOpRepo) MarkFailed(_ context.Context, id uuid.UUID, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.ops[id]
	if !ok || op.Status != chain.StatusPending {
		return chain.ErrNotFound
	}
	op.Status = chain.StatusFailed
	op.ErrorMessage = &message
	return nil
}

func (r *memOpRepo) IncrementRetry(_ context.Context, id uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.ops[id]
	if !ok {
		return 0, chain.ErrNotFound
	}
	op.RetryCount++
	return op.RetryCount, nil
}

// memMatchRepo is the minimal match.Repository the coordinator touches.
type memMatchRepo struct {
	mu      sync.Mutex
	matches map[uuid.UUID]*match.Match
}

func newMemMatchRepo(ms ...*match.Match) *memMatchRepo {
	r := &memMatchRepo{matches: make(map[uuid.UUID]*match.Match)}
	for _, m := range ms {
		cp := *m
		r.matches[m.ID] = &cp
	}
	return r
}

func (r *memMatchRepo) Create(_ context.Context, m *match.Match) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *m
	r.matches[m.ID] = &cp
	return nil
}

func (r *memMatchRepo) GetByID(_ context.Context, id uuid.UUID) (*match.Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matches[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (r *memMatchRepo) GetByIdempotencyKey(context.Context, string) (*match.Match, error) {
	return nil, nil
}

func (r *memMatchRepo) ListActive(context.Context, int) ([]*match.Match, error) {
	return nil, nil
}

func (r *memMatchRepo) UpdateStateCAS(_ context.Context, id uuid.UUID, from, to match.State, _ match.StateUpdate) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matches[id]
	if !ok || m.State != from {
		return false, nil
	}
	m.State = to
	return true, nil
}

func (r *memMatchRepo) SetLastChainTx(_ context.Context, id uuid.UUID, txHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.matches[id]; ok {
		m.LastChainTx = &txHash
	}
	return nil
}

func testMatch(state match.State) *match.Match {
	return &match.Match{
		ID:             uuid.New(),
		OnChainMatchID: "match-abc",
		PlayerA:        "alice",
		PlayerB:        "bob",
		State:          state,
		CreatedAt:      time.Now().UTC(),
	}
}

func noAlerts(t *testing.T) *alert.Evaluator {
	t.Helper()
	e, err := alert.NewEvaluator("", zerolog.Nop())
	require.NoError(t, err)
	return e
}

func TestSubmitPersistsPendingBeforeNetworkCall(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	ops := newMemOpRepo()
	m := testMatch(match.StateCreated)
	matches := newMemMatchRepo(m)

	tx := &chain.Transaction{Hash: "deadbeef", Envelope: "signed-envelope"}
	client.EXPECT().BuildTransaction(gomock.Any(), "create_match", gomock.Any()).Return(tx, nil)
	client.EXPECT().SubmitTransaction(gomock.Any(), tx).DoAndReturn(
		func(ctx context.Context, tx *chain.Transaction) (*chain.TxResult, error) {
			// The pending row must already exist when the network call runs.
			op, err := ops.GetByTxHash(ctx, tx.Hash)
			require.NoError(t, err)
			assert.Equal(t, chain.StatusPending, op.Status)
			return &chain.TxResult{Hash: tx.Hash, Status: chain.StatusPending}, nil
		})

	c := NewCoordinator(ops, matches, client, noAlerts(t), zerolog.Nop())
	op, err := c.Submit(context.Background(), m.ID, chain.KindCreate, nil)
	require.NoError(t, err)

	assert.Equal(t, chain.StatusPending, op.Status)
	assert.Equal(t, "deadbeef", op.TxHash)
	assert.Equal(t, "signed-envelope", op.Metadata["envelope"])

	stored, _ := matches.GetByID(context.Background(), m.ID)
	require.NotNil(t, stored.LastChainTx)
	assert.Equal(t, "deadbeef", *stored.LastChainTx)
}

func TestSubmitRejectsOperationAheadOfLocalState(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	m := testMatch(match.StateCreated)

	c := NewCoordinator(newMemOpRepo(), newMemMatchRepo(m), client, noAlerts(t), zerolog.Nop())
	_, err := c.Submit(context.Background(), m.ID, chain.KindFinalize, nil)
	assert.ErrorIs(t, err, chain.ErrStateInconsistent)
}

func TestSubmitUnknownMatch(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)

	c := NewCoordinator(newMemOpRepo(), newMemMatchRepo(), client, noAlerts(t), zerolog.Nop())
	_, err := c.Submit(context.Background(), uuid.New(), chain.KindCreate, nil)
	assert.ErrorIs(t, err, match.ErrNotFound)
}

func TestRetriesExhaustedNeverRollsBackMatchState(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	ops := newMemOpRepo()
	m := testMatch(match.StateCompleted)
	matches := newMemMatchRepo(m)

	tx := &chain.Transaction{Hash: "cafe01", Envelope: "env"}
	client.EXPECT().BuildTransaction(gomock.Any(), "complete_match", gomock.Any()).Return(tx, nil)
	client.EXPECT().SubmitTransaction(gomock.Any(), gomock.Any()).
		Return(nil, errors.New("rpc unreachable")).Times(3)
	client.EXPECT().GetTransaction(gomock.Any(), "cafe01").
		Return(&chain.TxStatus{Found: false}, nil).AnyTimes()

	c := NewCoordinator(ops, matches, client, noAlerts(t), zerolog.Nop(),
		WithRetryPolicy(3, time.Millisecond, 4*time.Millisecond))

	op, err := c.Submit(context.Background(), m.ID, chain.KindComplete, map[string]any{"winner": "alice"})
	require.NoError(t, err)
	assert.Equal(t, chain.StatusPending, op.Status)
	assert.Equal(t, 1, op.RetryCount)

	// Two sweeps past the backoff exhaust the remaining attempts.
	for i := 0; i < 2; i++ {
		time.Sleep(10 * time.Millisecond)
		_, err = c.ProcessPending(context.Background(), 10)
		require.NoError(t, err)
	}

	final, err := ops.GetByID(context.Background(), op.ID)
	require.NoError(t, err)
	assert.Equal(t, chain.StatusFailed, final.Status)
	assert.Equal(t, 3, final.RetryCount)
	require.NotNil(t, final.ErrorMessage)

	stored, _ := matches.GetByID(context.Background(), m.ID)
	assert.Equal(t, match.StateCompleted, stored.State)
}

func TestProcessPendingConfirmsSuccess(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	ops := newMemOpRepo()
	m := testMatch(match.StateStarted)
	matches := newMemMatchRepo(m)

	op := &chain.Operation{
		ID:          uuid.New(),
		MatchID:     m.ID,
		Kind:        chain.KindStart,
		TxHash:      "feed02",
		Status:      chain.StatusPending,
		SubmittedAt: time.Now().UTC(),
	}
	require.NoError(t, ops.Create(context.Background(), op))

	client.EXPECT().GetTransaction(gomock.Any(), "feed02").
		Return(&chain.TxStatus{Found: true, Status: chain.StatusSuccess, BlockHeight: 42}, nil)

	c := NewCoordinator(ops, matches, client, noAlerts(t), zerolog.Nop())
	processed, err := c.ProcessPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	confirmed, _ := ops.GetByID(context.Background(), op.ID)
	assert.Equal(t, chain.StatusSuccess, confirmed.Status)
	require.NotNil(t, confirmed.BlockHeight)
	assert.Equal(t, int64(42), *confirmed.BlockHeight)
	require.NotNil(t, confirmed.ConfirmedAt)
}

func TestProcessPendingMarksOnChainFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	ops := newMemOpRepo()
	m := testMatch(match.StateDisputed)
	matches := newMemMatchRepo(m)

	op := &chain.Operation{
		ID:          uuid.New(),
		MatchID:     m.ID,
		Kind:        chain.KindDispute,
		TxHash:      "feed03",
		Status:      chain.StatusPending,
		SubmittedAt: time.Now().UTC(),
	}
	require.NoError(t, ops.Create(context.Background(), op))

	client.EXPECT().GetTransaction(gomock.Any(), "feed03").
		Return(&chain.TxStatus{Found: true, Status: chain.StatusFailed, Error: "contract panicked"}, nil)

	c := NewCoordinator(ops, matches, client, noAlerts(t), zerolog.Nop())
	_, err := c.ProcessPending(context.Background(), 10)
	require.NoError(t, err)

	failed, _ := ops.GetByID(context.Background(), op.ID)
	assert.Equal(t, chain.StatusFailed, failed.Status)
	require.NotNil(t, failed.ErrorMessage)
	assert.Equal(t, "contract panicked", *failed.ErrorMessage)

	stored, _ := matches.GetByID(context.Background(), m.ID)
	assert.Equal(t, match.StateDisputed, stored.State)
}

func TestProcessPendingRespectsBackoff(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	ops := newMemOpRepo()
	m := testMatch(match.StateStarted)
	matches := newMemMatchRepo(m)

	op := &chain.Operation{
		ID:          uuid.New(),
		MatchID:     m.ID,
		Kind:        chain.KindStart,
		TxHash:      "feed04",
		Status:      chain.StatusPending,
		SubmittedAt: time.Now().UTC(),
		RetryCount:  1,
		Metadata:    match.Metadata{"envelope": "env"},
	}
	require.NoError(t, ops.Create(context.Background(), op))

	// Unconfirmed but still inside the backoff window: no re-submission.
	client.EXPECT().GetTransaction(gomock.Any(), "feed04").
		Return(&chain.TxStatus{Found: false}, nil)

	c := NewCoordinator(ops, matches, client, noAlerts(t), zerolog.Nop(),
		WithRetryPolicy(3, time.Hour, 2*time.Hour))
	processed, err := c.ProcessPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, processed)
}

func TestBackoffIsBoundedExponential(t *testing.T) {
	c := NewCoordinator(newMemOpRepo(), newMemMatchRepo(), nil, noAlerts(t), zerolog.Nop())

	assert.Equal(t, time.Second, c.backoffFor(0))
	assert.Equal(t, 2*time.Second, c.backoffFor(1))
	assert.Equal(t, 4*time.Second, c.backoffFor(2))
	assert.Equal(t, 8*time.Second, c.backoffFor(3))
	assert.Equal(t, 10*time.Second, c.backoffFor(4))
	assert.Equal(t, 10*time.Second, c.backoffFor(10))
}

func TestStatusReportsPendingAndLastConfirmed(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	ops := newMemOpRepo()
	m := testMatch(match.StateStarted)
	matches := newMemMatchRepo(m)

	confirmedAt := time.Now().UTC()
	height := int64(7)
	require.NoError(t, ops.Create(context.Background(), &chain.Operation{
		ID: uuid.New(), MatchID: m.ID, Kind: chain.KindCreate, TxHash: "aa",
		Status: chain.StatusSuccess, SubmittedAt: confirmedAt.Add(-time.Minute),
		ConfirmedAt: &confirmedAt, BlockHeight: &height,
	}))
	require.NoError(t, ops.Create(context.Background(), &chain.Operation{
		ID: uuid.New(), MatchID: m.ID, Kind: chain.KindStart, TxHash: "bb",
		Status: chain.StatusPending, SubmittedAt: time.Now().UTC(),
	}))

	c := NewCoordinator(ops, matches, client, noAlerts(t), zerolog.Nop())
	status, err := c.Status(context.Background(), m.ID)
	require.NoError(t, err)

	require.Len(t, status.Pending, 1)
	assert.Equal(t, "bb", status.Pending[0].TxHash)
	require.NotNil(t, status.LastConfirmed)
	assert.Equal(t, "aa", status.LastConfirmed.TxHash)
}
