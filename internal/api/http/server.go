package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	appChain "github.com/match-authority/match-authority/internal/application/chain"
	appMatch "github.com/match-authority/match-authority/internal/application/match"
	appReconciler "github.com/match-authority/match-authority/internal/application/reconciler"
	"github.com/match-authority/match-authority/internal/infrastructure/ws"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	matchSvc    *appMatch.Service
	coordinator *appChain.Coordinator
	reconciler  *appReconciler.Service
	hub         *ws.Hub
	logger      zerolog.Logger
}

func NewServer(
	matchSvc *appMatch.Service,
	coordinator *appChain.Coordinator,
	reconciler *appReconciler.Service,
	hub *ws.Hub,
	logger zerolog.Logger,
) *Server {
	return &Server{
		matchSvc:    matchSvc,
		coordinator: coordinator,
		reconciler:  reconciler,
		hub:         hub,
		logger:      logger.With().Str("service", "http").Logger(),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.health)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/matches", func(r chi.Router) {
			r.Post("/", s.createMatch)
			r.Get("/ws", s.matchEvents)

			r.Route("/{matchId}", func(r chi.Router) {
				r.Get("/", s.getMatch)
				r.Get("/transitions", s.getTransitions)
				r.Get("/chain", s.getChainStatus)
				r.Get("/reconciliations", s.getReconciliations)
				r.Post("/start", s.startMatch)
				r.Post("/complete", s.completeMatch)
				r.Post("/dispute", s.disputeMatch)
				r.Post("/finalize", s.finalizeMatch)
				r.Post("/reconcile", s.reconcileMatch)
			})
		})

		r.Post("/reconciliations/{recordId}/resolve", s.resolveReconciliation)
	})

	return r
}

// Helpers
func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":   code,
		"message": message,
	})
}

func parseUUIDParam(r *http.Request, key string) (uuid.UUID, error) {
	val := chi.URLParam(r, key)
	return uuid.Parse(val)
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func actorFromRequest(r *http.Request) string {
	actor := r.Header.Get("X-Actor")
	if actor == "" {
		actor = appMatch.SystemActor
	}
	return actor
}

func credentialFromRequest(r *http.Request) string {
	return r.Header.Get("X-Operator-Token")
}
