// Package api exposes the similarity engine over HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	service "github.com/okian/palate/internal/app"
	"github.com/okian/palate/internal/domain/model"
	"github.com/okian/palate/internal/domain/types"
	"github.com/okian/palate/pkg/logger"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to the engine.
type Dependencies interface {
	RecomputePair(ctx context.Context, a, b string, c model.Category) (*model.TasteSimilarity, error)
	PairScore(ctx context.Context, a, b string, c model.Category) (*model.PairScore, error)
	PinEligibility(ctx context.Context, a, b string) (service.Eligibility, error)

	AllScoresForUser(ctx context.Context, u string) ([]model.UserScore, error)
	HighSimilarity(ctx context.Context, u string) ([]model.UserScore, error)
	ModerateSimilarity(ctx context.Context, u string) ([]model.UserScore, error)
	SimilarUsers(ctx context.Context, q service.Query) (service.Page, error)
	InvalidateUserCaches(ctx context.Context, u string) error

	Submit(ctx context.Context, sig service.Signal) service.Disposition

	RunBatch(ctx context.Context) (service.Report, error)
	LastBatch() (service.Report, bool)
}

// Server wires HTTP routes for the engine API.
type Server struct {
	deps     Dependencies
	stats    *StatsHandler
	health   *HealthHandler
	validate *validator.Validate
	logger   logger.Logger
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		deps:     deps,
		stats:    NewStatsHandler(statsProvider),
		health:   NewHealthHandler(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.Named("http"),
	}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(MetricsMiddleware)

	r.Get("/healthz", s.health.HandleHealth)
	r.Get("/stats", s.stats.HandleStats)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/pairs/{a}/{b}", func(r chi.Router) {
			r.Get("/eligibility", s.handlePinEligibility)
			r.Get("/{category}", s.handleGetPair)
			r.Post("/{category}/recompute", s.handleRecompute)
		})
		r.Route("/users/{id}", func(r chi.Router) {
			r.Get("/scores", s.handleUserScores)
			r.Get("/tiers", s.handleUserTiers)
			r.Get("/similar", s.handleSimilarUsers)
			r.Post("/invalidate", s.handleInvalidate)
		})
		r.Post("/signals", s.handleSignal)
		r.Post("/admin/batch", s.handleRunBatch)
		r.Get("/admin/batch/last", s.handleLastBatch)
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, types.ErrorResponse{Code: code, Message: msg})
}
