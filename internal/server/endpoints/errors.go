package endpoints

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jackzampolin/qforge/internal/jobs"
	"github.com/jackzampolin/qforge/internal/pipeline"
	"github.com/jackzampolin/qforge/internal/store"
)

// ErrorResponse is a standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// errorStatus maps a service error onto an HTTP status code.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case pipeline.IsInputInvalid(err):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrTerminal), errors.Is(err, store.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, jobs.ErrQueueFull), errors.Is(err, jobs.ErrStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError writes err with the status errorStatus picks for it.
func writeServiceError(w http.ResponseWriter, err error) {
	writeJSON(w, errorStatus(err), ErrorResponse{
		Error: err.Error(),
		Kind:  string(pipeline.KindOf(err)),
	})
}
