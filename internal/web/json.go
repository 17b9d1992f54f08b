package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/vbonduro/treetag/internal/form"
	"github.com/vbonduro/treetag/internal/service"
	"github.com/vbonduro/treetag/internal/session"
	"github.com/vbonduro/treetag/internal/species"
	"github.com/vbonduro/treetag/internal/store"
)

// maxJSONBody bounds request bodies other than photo uploads.
const maxJSONBody = 64 * 1024

type errorResponse struct {
	Error  string                `json:"error"`
	Fields map[form.Field]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("request body required")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// errorStatus maps domain errors onto HTTP status codes. Unknown errors are
// reported as 500.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, store.ErrTreeNotFound):
		return http.StatusNotFound
	case errors.Is(err, form.ErrUnknownField), errors.Is(err, form.ErrFieldType):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, form.ErrSubmitting),
		errors.Is(err, session.ErrPickerOpen),
		errors.Is(err, species.ErrPickerClosed):
		return http.StatusConflict
	case errors.Is(err, form.ErrInvalid),
		errors.Is(err, service.ErrInvalidFormValues),
		errors.Is(err, service.ErrNoPhoto),
		errors.Is(err, species.ErrUnknownSpecies):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrIdentifyDisabled):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// writeError reports err to the client. Internal errors are logged and
// replaced by fallback.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status := errorStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error(fallback, "method", r.Method, "path", r.URL.Path, "error", err)
		msg = fallback
	}
	writeJSON(w, status, errorResponse{Error: msg})
}
