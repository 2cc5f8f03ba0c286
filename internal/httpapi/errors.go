package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"mnemo/internal/core"
)

// apiError is the {code, message, detail?} shape §7 requires on every
// error response, on both transports.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// respondErr classifies err per the §7 taxonomy and writes the matching
// HTTP status and apiError body.
func respondErr(w http.ResponseWriter, err error) {
	status, code := classifyErr(err)
	respondJSON(w, status, apiError{Code: code, Message: err.Error()})
}

func classifyErr(err error) (int, string) {
	var verr *core.ValidationError
	var nerr *core.NotConfiguredError
	var terr *core.TransientExternalError
	var ferr *core.FatalError
	var aerr *core.AllProvidersFailedError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, "validation_error"
	case errors.As(err, &nerr):
		return http.StatusUnprocessableEntity, "not_configured"
	case errors.As(err, &aerr), errors.As(err, &terr):
		return http.StatusServiceUnavailable, "transient_external_error"
	case errors.As(err, &ferr):
		return http.StatusInternalServerError, "fatal_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
