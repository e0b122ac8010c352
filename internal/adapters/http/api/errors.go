package api

import (
	"errors"
	"net/http"

	service "github.com/okian/palate/internal/app"
	"github.com/okian/palate/pkg/logger"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest = errors.New("bad request")
	ErrNotFound   = errors.New("not found")
)

// statusFor maps an engine error onto an HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, service.ErrInvalidUser),
		errors.Is(err, service.ErrSelfPair),
		errors.Is(err, service.ErrUnknownCategory):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "not_found"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(r.Context(), "request failed", logger.String("path", r.URL.Path), logger.Error(err))
		err = nil
	}
	writeError(w, status, code, err)
}
