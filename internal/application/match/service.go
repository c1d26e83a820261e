package match

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	appidem "github.com/match-authority/match-authority/internal/application/idempotency"
	"github.com/match-authority/match-authority/internal/domain/chain"
	"github.com/match-authority/match-authority/internal/domain/event"
	"github.com/match-authority/match-authority/internal/domain/match"
	"github.com/match-authority/match-authority/internal/infrastructure/authz"
)

// SystemActor is recorded on transitions with no explicit caller identity.
const SystemActor = "system"

// Submitter is the chain coordination port. Submission runs after the local
// commit and off the request path; its failures never undo the commit.
type Submitter interface {
	Submit(ctx context.Context, matchID uuid.UUID, kind chain.OperationKind, params map[string]any) (*chain.Operation, error)
}

// CreateRequest carries the fields needed to register a match.
type CreateRequest struct {
	PlayerA        string         `json:"playerA"`
	PlayerB        string         `json:"playerB"`
	IdempotencyKey string         `json:"-"`
	Metadata       match.Metadata `json:"metadata,omitempty"`
}

// View is a match with its full transition history.
type View struct {
	Match       *match.Match        `json:"match"`
	Transitions []*match.Transition `json:"transitions"`
}

// Service is the lifecycle state machine engine. Every transition commits via
// a compare-and-swap on the stored state, so under concurrent drivers exactly
// one caller wins each step and the rest observe a conflict.
type Service struct {
	matches     match.Repository
	transitions match.TransitionRepository
	hub         event.Hub
	submitter   Submitter
	authorizer  authz.Authorizer
	guard       *appidem.Guard
	logger      zerolog.Logger
}

func NewService(
	matches match.Repository,
	transitions match.TransitionRepository,
	hub event.Hub,
	submitter Submitter,
	authorizer authz.Authorizer,
	guard *appidem.Guard,
	logger zerolog.Logger,
) *Service {
	return &Service{
		matches:     matches,
		transitions: transitions,
		hub:         hub,
		submitter:   submitter,
		authorizer:  authorizer,
		guard:       guard,
		logger:      logger.With().Str("service", "match").Logger(),
	}
}

// Create registers a new match in CREATED under the caller's idempotency key.
// Re-sending the same key with the same payload replays the original response
// without creating a second match.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*match.Match, error) {
	if err := match.ValidateParticipants(req.PlayerA, req.PlayerB); err != nil {
		return nil, err
	}
	if err := req.Metadata.Validate(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	response, err := s.guard.Execute(ctx, req.IdempotencyKey, string(chain.KindCreate), payload, func(ctx context.Context) (*uuid.UUID, json.RawMessage, error) {
		m := &match.Match{
			ID:             uuid.New(),
			OnChainMatchID: newOnChainMatchID(),
			PlayerA:        req.PlayerA,
			PlayerB:        req.PlayerB,
			State:          match.StateCreated,
			CreatedAt:      time.Now().UTC(),
			IdempotencyKey: &req.IdempotencyKey,
			Metadata:       req.Metadata,
		}
		if err := s.matches.Create(ctx, m); err != nil {
			return nil, nil, err
		}

		s.logger.Info().
			Str("match_id", m.ID.String()).
			Str("on_chain_match_id", m.OnChainMatchID).
			Msg("match created")
		s.submitAsync(m.ID, chain.KindCreate, map[string]any{
			"player_a": m.PlayerA,
			"player_b": m.PlayerB,
		})

		body, err := json.Marshal(m)
		if err != nil {
			return nil, nil, err
		}
		return &m.ID, body, nil
	})
	if err != nil {
		return nil, err
	}

	var m match.Match
	if err := json.Unmarshal(response, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Start moves a match CREATED -> STARTED and stamps the start time.
func (s *Service) Start(ctx context.Context, matchID uuid.UUID, actor string) (*match.Match, error) {
	now := time.Now().UTC()
	return s.apply(ctx, applyRequest{
		matchID: matchID,
		to:      match.StateStarted,
		actor:   actor,
		kind:    chain.KindStart,
		update:  match.StateUpdate{StartedAt: &now},
	})
}

// Complete moves a match STARTED -> COMPLETED with a declared winner. The
// winner must be one of the two participants.
func (s *Service) Complete(ctx context.Context, matchID uuid.UUID, winner, actor string) (*match.Match, error) {
	now := time.Now().UTC()
	return s.apply(ctx, applyRequest{
		matchID: matchID,
		to:      match.StateCompleted,
		actor:   actor,
		kind:    chain.KindComplete,
		update:  match.StateUpdate{Winner: &winner, EndedAt: &now},
		validate: func(m *match.Match) error {
			return m.ValidateWinner(winner)
		},
		params: map[string]any{"winner": winner},
	})
}

// Dispute moves a match COMPLETED -> DISPUTED. It is a privileged operation.
func (s *Service) Dispute(ctx context.Context, matchID uuid.UUID, reason, actor, credential string) (*match.Match, error) {
	if err := s.authorizer.Allow(ctx, credential, authz.CapabilityRaiseDispute); err != nil {
		return nil, err
	}
	if reason == "" {
		return nil, fmt.Errorf("%w: dispute reason is required", match.ErrValidation)
	}
	return s.apply(ctx, applyRequest{
		matchID:  matchID,
		to:       match.StateDisputed,
		actor:    actor,
		kind:     chain.KindDispute,
		metadata: match.Metadata{"reason": reason},
		params:   map[string]any{"reason": reason},
	})
}

// Finalize moves a match to FINALIZED, from COMPLETED or DISPUTED. FINALIZED
// is absorbing. It is a privileged operation.
func (s *Service) Finalize(ctx context.Context, matchID uuid.UUID, actor, credential string) (*match.Match, error) {
	if err := s.authorizer.Allow(ctx, credential, authz.CapabilityFinalize); err != nil {
		return nil, err
	}
	return s.apply(ctx, applyRequest{
		matchID: matchID,
		to:      match.StateFinalized,
		actor:   actor,
		kind:    chain.KindFinalize,
	})
}

// Get returns a match with its transition history.
func (s *Service) Get(ctx context.Context, matchID uuid.UUID) (*View, error) {
	m, err := s.matches.GetByID(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, match.ErrNotFound
	}
	log, err := s.transitions.ListByMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = []*match.Transition{}
	}
	return &View{Match: m, Transitions: log}, nil
}

// Transitions returns the append-only transition log for a match.
func (s *Service) Transitions(ctx context.Context, matchID uuid.UUID) ([]*match.Transition, error) {
	m, err := s.matches.GetByID(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, match.ErrNotFound
	}
	log, err := s.transitions.ListByMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = []*match.Transition{}
	}
	return log, nil
}

type applyRequest struct {
	matchID  uuid.UUID
	to       match.State
	actor    string
	kind     chain.OperationKind
	update   match.StateUpdate
	validate func(m *match.Match) error
	metadata match.Metadata
	params   map[string]any
}

// apply is the single transition path: load, check the table, attempt the
// conditional write, append the audit record, fan out, then hand off to the
// chain coordinator. Exactly one concurrent caller wins the write; losers get
// a state conflict against the state they loaded.
func (s *Service) apply(ctx context.Context, req applyRequest) (*match.Match, error) {
	m, err := s.matches.GetByID(ctx, req.matchID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, match.ErrNotFound
	}

	from := m.State
	if from.IsTerminal() {
		return nil, fmt.Errorf("%w: cannot move to %s", match.ErrTerminalState, req.to)
	}
	if !from.CanTransitionTo(req.to) {
		return nil, fmt.Errorf("%w: %s -> %s (valid: %v)", match.ErrInvalidTransition, from, req.to, from.ValidNextStates())
	}
	if req.validate != nil {
		if err := req.validate(m); err != nil {
			return nil, err
		}
	}

	ok, err := s.matches.UpdateStateCAS(ctx, m.ID, from, req.to, req.update)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: expected %s", match.ErrStateConflict, from)
	}

	actor := req.actor
	if actor == "" {
		actor = SystemActor
	}
	now := time.Now().UTC()
	t := &match.Transition{
		ID:         uuid.New(),
		MatchID:    m.ID,
		FromState:  from,
		ToState:    req.to,
		Actor:      actor,
		OccurredAt: now,
		Metadata:   req.metadata,
	}
	if err := s.transitions.Append(ctx, t); err != nil {
		// The state change is committed; a lost audit row is logged loudly
		// rather than faked by rolling back.
		s.logger.Error().Err(err).
			Str("match_id", m.ID.String()).
			Str("from", string(from)).
			Str("to", string(req.to)).
			Msg("failed to append transition record")
	}

	s.logger.Info().
		Str("match_id", m.ID.String()).
		Str("from", string(from)).
		Str("to", string(req.to)).
		Str("actor", actor).
		Msg("match state transitioned")

	s.hub.Publish(m.ID, event.StateChanged(m.ID, string(from), string(req.to), now))
	if req.to == match.StateCompleted && req.update.Winner != nil {
		s.hub.Publish(m.ID, event.Completed(m.ID, *req.update.Winner, now))
	}

	s.submitAsync(m.ID, req.kind, req.params)

	return s.matches.GetByID(ctx, m.ID)
}

// submitAsync hands the committed transition to the chain coordinator off the
// request path. A nil submitter disables chain coordination.
func (s *Service) submitAsync(matchID uuid.UUID, kind chain.OperationKind, params map[string]any) {
	if s.submitter == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := s.submitter.Submit(ctx, matchID, kind, params); err != nil {
			s.logger.Warn().Err(err).
				Str("match_id", matchID.String()).
				Str("kind", string(kind)).
				Msg("chain submission did not confirm synchronously")
		}
	}()
}

// newOnChainMatchID mints the contract-side identifier at registration time so
// the local commit never waits on the network.
func newOnChainMatchID() string {
	var buf [16]byte
	_, _ = rand.Read(buf[:])
	return "match-" + hex.EncodeToString(buf[:])
}
