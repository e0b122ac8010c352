package api

import (
	"context"
	"net/http"
)

// handleRunBatch serves POST /v1/admin/batch. It blocks until the run ends;
// 409 means another process holds the batch lock. A client that hangs up
// does not stop the run.
func (s *Server) handleRunBatch(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.RunBatch(context.WithoutCancel(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if report.Skipped {
		writeJSON(w, http.StatusConflict, report)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleLastBatch serves GET /v1/admin/batch/last.
func (s *Server) handleLastBatch(w http.ResponseWriter, r *http.Request) {
	report, ok := s.deps.LastBatch()
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", nil)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
