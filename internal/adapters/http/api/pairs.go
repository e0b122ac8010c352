package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/okian/palate/internal/domain/model"
	"github.com/okian/palate/internal/domain/scoring"
	"github.com/okian/palate/internal/domain/types"
)

func pairParams(r *http.Request) (a, b string, c model.Category, err error) {
	a, b = chi.URLParam(r, "a"), chi.URLParam(r, "b")
	c = model.Category(chi.URLParam(r, "category"))
	if c != "" && !c.Valid() {
		return "", "", "", fmt.Errorf("%w: unknown category %q", ErrBadRequest, c)
	}
	return a, b, c, nil
}

// handleGetPair serves GET /v1/pairs/{a}/{b}/{category}.
func (s *Server) handleGetPair(w http.ResponseWriter, r *http.Request) {
	a, b, c, err := pairParams(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ps, err := s.deps.PairScore(r.Context(), a, b, c)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if ps == nil {
		s.fail(w, r, fmt.Errorf("%w: no score for %s/%s in %s", ErrNotFound, a, b, c))
		return
	}
	writeJSON(w, http.StatusOK, types.NewPairResponse(a, b, c, *ps, scoring.TierFor(ps.Score)))
}

// handleRecompute serves POST /v1/pairs/{a}/{b}/{category}/recompute.
// A pair below the overlap threshold answers 204 because its row was removed.
func (s *Server) handleRecompute(w http.ResponseWriter, r *http.Request) {
	a, b, c, err := pairParams(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	row, err := s.deps.RecomputePair(r.Context(), a, b, c)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if row == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

// handlePinEligibility serves GET /v1/pairs/{a}/{b}/eligibility.
func (s *Server) handlePinEligibility(w http.ResponseWriter, r *http.Request) {
	a, b, _, err := pairParams(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	e, err := s.deps.PinEligibility(r.Context(), a, b)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}
