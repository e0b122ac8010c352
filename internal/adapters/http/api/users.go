package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	service "github.com/okian/palate/internal/app"
	"github.com/okian/palate/internal/domain/model"
	"github.com/okian/palate/internal/domain/types"
)

// handleUserScores serves GET /v1/users/{id}/scores.
func (s *Server) handleUserScores(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	scores, err := s.deps.AllScoresForUser(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if scores == nil {
		scores = []model.UserScore{}
	}
	writeJSON(w, http.StatusOK, types.ScoresResponse{UserID: id, Scores: scores})
}

// handleUserTiers serves GET /v1/users/{id}/tiers.
func (s *Server) handleUserTiers(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	high, err := s.deps.HighSimilarity(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	moderate, err := s.deps.ModerateSimilarity(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.TiersResponse{UserID: id, High: nonNil(high), Moderate: nonNil(moderate)})
}

// handleSimilarUsers serves GET /v1/users/{id}/similar?category=&offset=&limit=.
func (s *Server) handleSimilarUsers(w http.ResponseWriter, r *http.Request) {
	q := service.Query{
		UserID:   chi.URLParam(r, "id"),
		Category: model.Category(r.URL.Query().Get("category")),
	}
	var err error
	if q.Offset, err = intParam(r, "offset"); err != nil {
		s.fail(w, r, err)
		return
	}
	if q.Limit, err = intParam(r, "limit"); err != nil {
		s.fail(w, r, err)
		return
	}

	page, err := s.deps.SimilarUsers(r.Context(), q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// handleInvalidate serves POST /v1/users/{id}/invalidate.
func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.InvalidateUserCaches(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// intParam reads an optional non-negative integer query parameter; absent is 0.
func intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", ErrBadRequest, name)
	}
	return n, nil
}

func nonNil(s []model.UserScore) []model.UserScore {
	if s == nil {
		return []model.UserScore{}
	}
	return s
}
