// Package httpapi is the thin HTTP/push facade of design §4.8/§6: it
// parses and validates requests, invokes the orchestrator and backup
// engine, and adapts their results to the public API surface. It is
// deliberately thin — the core logic lives in internal/orchestrator and
// internal/backup.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/lmdudester/garcon/internal/apperrors"
)

// statusFor maps an apperrors.Kind to its HTTP status code (design §7
// "User-visible mapping").
func statusFor(kind apperrors.Kind) int {
	switch kind {
	case apperrors.Validation:
		return http.StatusBadRequest
	case apperrors.NotFound:
		return http.StatusNotFound
	case apperrors.Conflict, apperrors.State:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func writeError(w http.ResponseWriter, log zerolog.Logger, err error) {
	kind := apperrors.KindOf(err)
	status := statusFor(kind)

	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("internal error")
		writeJSON(w, status, errorBody{Message: "internal error"})
		return
	}

	writeJSON(w, status, errorBody{Message: err.Error(), Code: string(kind)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperrors.Wrap(apperrors.Validation, "malformed request body", err)
	}
	return nil
}
