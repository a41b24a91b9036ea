package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"analyzerd/internal/manager"
	"analyzerd/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Error().Err(err).Msg("encode response")
	}
}

// statusFor maps a whole-call service error to an HTTP status.
func statusFor(err error) int {
	var he HTTPError
	switch {
	case errors.As(err, &he):
		return he.StatusCode()
	case errors.Is(err, manager.ErrInvalidText),
		errors.Is(err, manager.ErrInvalidOptions),
		errors.Is(err, manager.ErrNoKinds),
		errors.Is(err, manager.ErrNoTexts),
		errors.Is(err, manager.ErrTooManyTexts),
		manager.IsUnknownKind(err):
		return http.StatusBadRequest
	case errors.Is(err, manager.ErrNotLoaded), errors.Is(err, manager.ErrSlotBusy):
		return http.StatusConflict
	case errors.Is(err, manager.ErrShuttingDown), manager.IsDependencyUnavailable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
