package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/starford/deckpack/internal/apperr"
	"github.com/starford/deckpack/internal/deckservice"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error  string         `json:"error" validate:"required"`
	Issues []apperr.Issue `json:"issues,omitempty"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// writeError maps a service error to a status code. Client errors carry the
// error text; anything unrecognised is logged and reported as internal.
func writeError(w http.ResponseWriter, op string, err error) {
	var de *apperr.DefinitionError
	switch {
	case errors.As(err, &de):
		writeJSON(w, http.StatusUnprocessableEntity, errResponse{Error: "definition invalid", Issues: de.Issues})
	case errors.Is(err, apperr.ErrInvalidArgument):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, apperr.ErrConflict):
		writeJSON(w, http.StatusConflict, errorBody("checksum mismatch"))
	case errors.Is(err, apperr.ErrAlreadyExists):
		writeJSON(w, http.StatusConflict, errorBody("already exists"))
	case errors.Is(err, apperr.ErrIDCollision), errors.Is(err, apperr.ErrMediaMissing):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrRemote):
		writeJSON(w, http.StatusBadGateway, errorBody(err.Error()))
	case errors.Is(err, deckservice.ErrImportDisabled):
		writeJSON(w, http.StatusServiceUnavailable, errorBody(err.Error()))
	default:
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}
