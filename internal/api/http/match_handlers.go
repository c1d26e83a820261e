package httpapi

import (
	"errors"
	"net/http"

	appMatch "github.com/match-authority/match-authority/internal/application/match"
	"github.com/match-authority/match-authority/internal/domain/chain"
	"github.com/match-authority/match-authority/internal/domain/idempotency"
	"github.com/match-authority/match-authority/internal/domain/match"
	"github.com/match-authority/match-authority/internal/domain/reconciliation"
	"github.com/match-authority/match-authority/internal/infrastructure/authz"
)

type completeRequest struct {
	Winner string `json:"winner"`
}

type disputeRequest struct {
	Reason string `json:"reason"`
}

type resolveRequest struct {
	Action string `json:"action"`
}

// respondDomainError maps domain errors onto HTTP statuses. Conflicts from
// the state machine, the conditional write and the idempotency guard all come
// back as 409 so drivers retry with fresh state instead of blindly repeating.
func (s *Server) respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, match.ErrNotFound),
		errors.Is(err, chain.ErrNotFound),
		errors.Is(err, reconciliation.ErrNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, match.ErrValidation),
		errors.Is(err, idempotency.ErrKeyRequired):
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
	case errors.Is(err, authz.ErrForbidden):
		respondError(w, http.StatusForbidden, "FORBIDDEN", err.Error())
	case errors.Is(err, match.ErrInvalidTransition),
		errors.Is(err, match.ErrTerminalState):
		respondError(w, http.StatusConflict, "INVALID_TRANSITION", err.Error())
	case errors.Is(err, match.ErrStateConflict):
		respondError(w, http.StatusConflict, "STATE_CONFLICT", err.Error())
	case errors.Is(err, idempotency.ErrOperationInFlight):
		respondError(w, http.StatusConflict, "OPERATION_IN_FLIGHT", err.Error())
	case errors.Is(err, idempotency.ErrKeyReuse):
		respondError(w, http.StatusConflict, "IDEMPOTENCY_KEY_REUSE", err.Error())
	case errors.Is(err, idempotency.ErrPreviouslyFailed):
		respondError(w, http.StatusConflict, "PREVIOUSLY_FAILED", err.Error())
	case errors.Is(err, reconciliation.ErrAlreadyResolved):
		respondError(w, http.StatusConflict, "ALREADY_RESOLVED", err.Error())
	case errors.Is(err, chain.ErrStateInconsistent):
		respondError(w, http.StatusConflict, "CHAIN_STATE_INCONSISTENT", err.Error())
	default:
		s.logger.Error().Err(err).Msg("request failed")
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"subscribers": s.hub.SubscriberCount(),
	})
}

func (s *Server) createMatch(w http.ResponseWriter, r *http.Request) {
	var req appMatch.CreateRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	req.IdempotencyKey = r.Header.Get("Idempotency-Key")

	m, err := s.matchSvc.Create(r.Context(), req)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, m)
}

func (s *Server) getMatch(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "matchId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid matchId")
		return
	}
	view, err := s.matchSvc.Get(r.Context(), id)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) getTransitions(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "matchId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid matchId")
		return
	}
	log, err := s.matchSvc.Transitions(r.Context(), id)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"matchId": id, "transitions": log})
}

func (s *Server) getChainStatus(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "matchId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid matchId")
		return
	}
	status, err := s.coordinator.Status(r.Context(), id)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) getReconciliations(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "matchId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid matchId")
		return
	}
	records, err := s.reconciler.History(r.Context(), id)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	if records == nil {
		records = []*reconciliation.Record{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"matchId": id, "reconciliations": records})
}

func (s *Server) startMatch(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "matchId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid matchId")
		return
	}
	m, err := s.matchSvc.Start(r.Context(), id, actorFromRequest(r))
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

func (s *Server) completeMatch(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "matchId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid matchId")
		return
	}
	var req completeRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	m, err := s.matchSvc.Complete(r.Context(), id, req.Winner, actorFromRequest(r))
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

func (s *Server) disputeMatch(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "matchId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid matchId")
		return
	}
	var req disputeRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	m, err := s.matchSvc.Dispute(r.Context(), id, req.Reason, actorFromRequest(r), credentialFromRequest(r))
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

func (s *Server) finalizeMatch(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "matchId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid matchId")
		return
	}
	m, err := s.matchSvc.Finalize(r.Context(), id, actorFromRequest(r), credentialFromRequest(r))
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

func (s *Server) reconcileMatch(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "matchId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid matchId")
		return
	}
	rec, err := s.reconciler.Check(r.Context(), id)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) resolveReconciliation(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "recordId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid recordId")
		return
	}
	var req resolveRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	rec, err := s.reconciler.Resolve(r.Context(), id, req.Action)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) matchEvents(w http.ResponseWriter, r *http.Request) {
	s.hub.HandleUpgrade(w, r)
}
