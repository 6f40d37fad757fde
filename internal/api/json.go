package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"transitopt/internal/model"
	"transitopt/internal/store"
)

const maxBodyBytes = 1 << 20

// Problem represents an RFC7807 problem details response body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	Kind     string `json:"kind,omitempty"`
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

// writeError maps an engine or store error to a problem response.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, title := statusFor(err)
	kind := model.ErrorKind(err)
	switch {
	case errors.Is(err, store.ErrNotFound):
		kind = "not_found"
	case errors.Is(err, store.ErrConflict):
		kind = "conflict"
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   err.Error(),
		Instance: r.URL.Path,
		Kind:     kind,
	})
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrUnknownStop):
		return http.StatusNotFound, "Unknown stop"
	case errors.Is(err, model.ErrNoRouteFound):
		return http.StatusNotFound, "No route found"
	case errors.Is(err, model.ErrNoPath):
		return http.StatusNotFound, "No path"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, model.ErrDuplicateStop):
		return http.StatusConflict, "Duplicate stop"
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "Already exists"
	case errors.Is(err, model.ErrInvalidWeight):
		return http.StatusBadRequest, "Invalid weight"
	case errors.Is(err, model.ErrInvalidInput):
		return http.StatusBadRequest, "Invalid input"
	case errors.Is(err, model.ErrTooManyStops):
		return http.StatusBadRequest, "Too many stops"
	case errors.Is(err, model.ErrInfeasible):
		return http.StatusUnprocessableEntity, "Infeasible"
	default:
		return http.StatusInternalServerError, "Internal error"
	}
}

// decodeJSON reads a single JSON document, rejecting unknown fields and trailing data.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("unexpected data after JSON body")
	}
	return nil
}
