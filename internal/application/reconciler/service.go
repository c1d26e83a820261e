package reconciler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/match-authority/match-authority/internal/application/alert"
	"github.com/match-authority/match-authority/internal/domain/chain"
	"github.com/match-authority/match-authority/internal/domain/match"
	"github.com/match-authority/match-authority/internal/domain/reconciliation"
)

const defaultSweepLimit = 100

// Service detects divergence between the off-chain FSM state and the state
// reported by the on-chain authority. It observes and records; it never
// mutates a match. Resolution is an explicit operator action.
type Service struct {
	records reconciliation.Repository
	matches match.Repository
	client  chain.Client
	alerts  *alert.Evaluator
	logger  zerolog.Logger
}

func NewService(records reconciliation.Repository, matches match.Repository, client chain.Client, alerts *alert.Evaluator, logger zerolog.Logger) *Service {
	return &Service{
		records: records,
		matches: matches,
		client:  client,
		alerts:  alerts,
		logger:  logger.With().Str("service", "reconciler").Logger(),
	}
}

// Check compares one match against the authority and appends a reconciliation
// record with the outcome.
func (s *Service) Check(ctx context.Context, matchID uuid.UUID) (*reconciliation.Record, error) {
	m, err := s.matches.GetByID(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, match.ErrNotFound
	}

	onChainState, err := s.client.GetMatchState(ctx, m.OnChainMatchID)
	if err != nil {
		return nil, fmt.Errorf("failed to read on-chain state: %w", err)
	}

	rec := &reconciliation.Record{
		ID:            uuid.New(),
		MatchID:       m.ID,
		CheckedAt:     time.Now().UTC(),
		OffChainState: m.State,
		OnChainState:  onChainState,
		IsDivergent:   diverges(m.State, onChainState),
	}
	if err := s.records.Create(ctx, rec); err != nil {
		return nil, err
	}

	if rec.IsDivergent {
		s.alerts.Divergence(rec)
	} else {
		s.logger.Debug().
			Str("match_id", m.ID.String()).
			Str("state", string(m.State)).
			Msg("match in sync with chain")
	}
	return rec, nil
}

// diverges maps the authority's state vocabulary onto ours and compares. A
// value we cannot map counts as divergent; guessing equivalence would hide
// real drift.
func diverges(offChain match.State, onChain string) bool {
	mapped := match.State(strings.ToUpper(strings.TrimSpace(onChain)))
	if !mapped.Valid() {
		return true
	}
	return mapped != offChain
}

// Resolve records the operator's chosen action on a divergent record. A record
// resolves at most once.
func (s *Service) Resolve(ctx context.Context, recordID uuid.UUID, action string) (*reconciliation.Record, error) {
	if strings.TrimSpace(action) == "" {
		return nil, fmt.Errorf("%w: resolution action is required", match.ErrValidation)
	}
	if err := s.records.Resolve(ctx, recordID, action, time.Now().UTC()); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("record_id", recordID.String()).
		Str("action", action).
		Msg("divergence resolved")
	return s.records.GetByID(ctx, recordID)
}

// History returns the reconciliation log for a match, newest first.
func (s *Service) History(ctx context.Context, matchID uuid.UUID) ([]*reconciliation.Record, error) {
	return s.records.ListByMatch(ctx, matchID)
}

// Sweep runs a divergence check across active matches. Per-match failures are
// logged and skipped so one unreachable read does not stall the sweep.
func (s *Service) Sweep(ctx context.Context, limit int) (checked, divergent int, err error) {
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	active, err := s.matches.ListActive(ctx, limit)
	if err != nil {
		return 0, 0, err
	}

	for _, m := range active {
		if err := ctx.Err(); err != nil {
			return checked, divergent, err
		}
		rec, err := s.Check(ctx, m.ID)
		if err != nil {
			s.logger.Warn().Err(err).Str("match_id", m.ID.String()).Msg("reconciliation check failed")
			continue
		}
		checked++
		if rec.IsDivergent {
			divergent++
		}
	}

	s.logger.Info().
		Int("checked", checked).
		Int("divergent", divergent).
		Msg("reconciliation sweep complete")
	return checked, divergent, nil
}
