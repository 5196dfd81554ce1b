package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"zonedispatch/internal/dispatch"
	"zonedispatch/internal/geocode"
	"zonedispatch/internal/integrations/csvorders"
	"zonedispatch/internal/logger"
	"zonedispatch/internal/presence"
	"zonedispatch/internal/store"
	"zonedispatch/internal/zones"
)

// Problem represents an RFC7807 problem details response body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

// writeError maps domain errors onto problem responses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var collab *geocode.CollaboratorError
	switch {
	case errors.Is(err, zones.ErrValidation),
		errors.Is(err, dispatch.ErrReasonRequired),
		errors.Is(err, dispatch.ErrInvalidJob),
		errors.Is(err, geocode.ErrEmptyQuery),
		errors.Is(err, presence.ErrInvalidStatus),
		errors.Is(err, csvorders.ErrNoOSColumn):
		writeProblem(w, http.StatusUnprocessableEntity, "Validation failed", err.Error(), r.URL.Path)
	case errors.Is(err, store.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "Not found", err.Error(), r.URL.Path)
	case errors.Is(err, dispatch.ErrInvalidTransition),
		errors.Is(err, dispatch.ErrStale),
		errors.Is(err, dispatch.ErrDriverUnavailable):
		writeProblem(w, http.StatusConflict, "Conflict", err.Error(), r.URL.Path)
	case errors.As(err, &collab):
		writeProblem(w, http.StatusBadGateway, "Upstream unavailable", err.Error(), r.URL.Path)
	default:
		logger.L().Error("http_internal_error", "path", r.URL.Path, "err", err)
		writeProblem(w, http.StatusInternalServerError, "Internal error", err.Error(), r.URL.Path)
	}
}

// decodeJSON reads a JSON body into v, writing a 400 problem on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", fmt.Sprint(err), r.URL.Path)
		return false
	}
	return true
}
