package web

import (
	"encoding/json"
	"net/http"

	"ximopet/internal/app"
	"ximopet/internal/core"
)

type errorResponse struct {
	Error     string         `json:"error"`
	Code      string         `json:"code"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, message, code string, status int) {
	writeErrorDetails(w, r, message, code, status, nil)
}

func writeErrorDetails(w http.ResponseWriter, r *http.Request, message, code string, status int, details map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := errorResponse{
		Error:     message,
		Code:      code,
		Details:   details,
		RequestID: requestIDFromContext(r.Context()),
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// writeFailure maps an application failure onto its HTTP status.
func writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	f := app.AsFailure(err)
	writeErrorDetails(w, r, f.Message, string(f.Kind), statusForKind(f.Kind), f.Details)
}

func statusForKind(kind core.ErrorKind) int {
	switch kind {
	case core.KindValidation:
		return http.StatusBadRequest
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindInvalidQuantity, core.KindMissingSubLocation, core.KindDateOutOfRange, core.KindMissingConversion:
		return http.StatusUnprocessableEntity
	case core.KindInsufficientStock, core.KindInsufficientAvailable, core.KindInvalidTransition,
		core.KindNotEditable, core.KindBatchReferenced, core.KindIntegrityMismatch:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// writeJSON writes a JSON response with status 200.
func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
