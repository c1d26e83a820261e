package alert

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvaluatorEmptyCondition(t *testing.T) {
	e, err := NewEvaluator("", zerolog.Nop())
	require.NoError(t, err)
	assert.True(t, e.fires(map[string]any{"kind": "create_match"}))
}

func TestNewEvaluatorInvalidCondition(t *testing.T) {
	_, err := NewEvaluator("retry_count >>> 2", zerolog.Nop())
	assert.Error(t, err)
}

func TestConditionFiltersAlerts(t *testing.T) {
	e, err := NewEvaluator("retry_count >= 3 || is_divergent", zerolog.Nop())
	require.NoError(t, err)

	assert.True(t, e.fires(map[string]any{"kind": "create_match", "retry_count": 3, "is_divergent": false}))
	assert.False(t, e.fires(map[string]any{"kind": "create_match", "retry_count": 1, "is_divergent": false}))
	assert.True(t, e.fires(map[string]any{"kind": "reconcile", "retry_count": 0, "is_divergent": true}))
}

func TestConditionOnKind(t *testing.T) {
	e, err := NewEvaluator("kind == 'finalize_match'", zerolog.Nop())
	require.NoError(t, err)

	assert.True(t, e.fires(map[string]any{"kind": "finalize_match", "retry_count": 3, "is_divergent": false}))
	assert.False(t, e.fires(map[string]any{"kind": "start_match", "retry_count": 3, "is_divergent": false}))
}

func TestEvaluationErrorDefaultsToFiring(t *testing.T) {
	e, err := NewEvaluator("missing_var > 2", zerolog.Nop())
	require.NoError(t, err)

	// Unknown parameters make evaluation fail; suppressing an alert on a
	// broken condition would hide incidents.
	assert.True(t, e.fires(map[string]any{"kind": "create_match"}))
}
