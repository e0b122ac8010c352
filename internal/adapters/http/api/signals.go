package api

import (
	"fmt"
	"net/http"

	"github.com/goccy/go-json"

	service "github.com/okian/palate/internal/app"
	"github.com/okian/palate/internal/domain/model"
	"github.com/okian/palate/internal/domain/types"
)

// signalRequest is the body of POST /v1/signals.
type signalRequest struct {
	SenderID string `json:"sender_id" validate:"required"`
	AuthorID string `json:"author_id" validate:"required"`
	NoteType string `json:"note_type" validate:"required,oneof=restaurant wine spirit visit"`
	Reaction string `json:"reaction" validate:"required,oneof=echo diverge bookmark"`
}

// handleSignal serves POST /v1/signals. The recompute runs asynchronously:
// 202 when queued or already pending, 200 when the signal does not
// qualify, 429 when the queue is full.
func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	var req signalRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.fail(w, r, fmt.Errorf("%w: invalid JSON: %w", ErrBadRequest, err))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.fail(w, r, fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}

	d := s.deps.Submit(r.Context(), service.Signal{
		SenderID: req.SenderID,
		AuthorID: req.AuthorID,
		NoteType: model.NoteType(req.NoteType),
		Reaction: service.Reaction(req.Reaction),
	})
	switch d {
	case service.DispositionAccepted, service.DispositionCoalesced:
		writeJSON(w, http.StatusAccepted, types.AckResponse{Status: string(d)})
	case service.DispositionDropped:
		writeError(w, http.StatusTooManyRequests, "queue_full", nil)
	default:
		writeJSON(w, http.StatusOK, types.AckResponse{Status: string(d)})
	}
}
