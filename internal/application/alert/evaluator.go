package alert

import (
	"fmt"

	"github.com/Knetic/govaluate"
	"github.com/rs/zerolog"

	"github.com/match-authority/match-authority/internal/domain/chain"
	"github.com/match-authority/match-authority/internal/domain/reconciliation"
)

// Evaluator decides whether a chain failure or a divergence observation
// warrants an operator alert. An optional condition expression over
// {kind, retry_count, is_divergent} narrows the alerts; without one every
// occurrence alerts.
type Evaluator struct {
	expr   *govaluate.EvaluableExpression
	logger zerolog.Logger
}

func NewEvaluator(condition string, logger zerolog.Logger) (*Evaluator, error) {
	e := &Evaluator{logger: logger.With().Str("service", "alert").Logger()}
	if condition == "" {
		return e, nil
	}
	expr, err := govaluate.NewEvaluableExpression(condition)
	if err != nil {
		return nil, fmt.Errorf("invalid alert condition: %w", err)
	}
	e.expr = expr
	return e, nil
}

// ChainFailure raises an operator alert for a permanently failed chain
// operation. Local match state is untouched by design; operators decide
// whether to re-submit or halt.
func (e *Evaluator) ChainFailure(op *chain.Operation) {
	params := map[string]any{
		"kind":         string(op.Kind),
		"retry_count":  op.RetryCount,
		"is_divergent": false,
	}
	if !e.fires(params) {
		return
	}
	evt := e.logger.Error().
		Str("alert", "chain_submission_failed").
		Str("match_id", op.MatchID.String()).
		Str("kind", string(op.Kind)).
		Str("tx_hash", op.TxHash).
		Int("retry_count", op.RetryCount)
	if op.ErrorMessage != nil {
		evt = evt.Str("error", *op.ErrorMessage)
	}
	evt.Msg("on-chain submission permanently failed; local state remains authoritative")
}

// Divergence raises an operator alert for an unresolved divergent record.
func (e *Evaluator) Divergence(rec *reconciliation.Record) {
	params := map[string]any{
		"kind":         "reconcile",
		"retry_count":  0,
		"is_divergent": rec.IsDivergent,
	}
	if !e.fires(params) {
		return
	}
	e.logger.Warn().
		Str("alert", "state_divergence").
		Str("match_id", rec.MatchID.String()).
		Str("off_chain_state", string(rec.OffChainState)).
		Str("on_chain_state", rec.OnChainState).
		Msg("off-chain and on-chain states disagree")
}

func (e *Evaluator) fires(params map[string]any) bool {
	if e.expr == nil {
		return true
	}
	result, err := e.expr.Evaluate(params)
	if err != nil {
		e.logger.Error().Err(err).Msg("alert condition evaluation failed")
		return true
	}
	fire, ok := result.(bool)
	return !ok || fire
}
