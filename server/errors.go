package server

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/teranos/missionctl/errors"
)

// statusForError maps the shared sentinels onto HTTP status codes
func statusForError(err error) int {
	switch {
	case errors.IsNotFoundError(err):
		return http.StatusNotFound
	case errors.IsInvalidRequestError(err):
		return http.StatusBadRequest
	case errors.IsConflictError(err):
		return http.StatusConflict
	case errors.Is(err, errors.ErrUnauthorized):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// handleError answers with the status matching err. Only server-side
// failures are logged; the client sees the message for 4xx and a generic
// message for 5xx.
func handleError(w http.ResponseWriter, log *zap.SugaredLogger, err error, context string) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		log.Errorw(context, "error", err)
		writeError(w, status, context)
		return
	}
	writeError(w, status, err.Error())
}
