package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/undoable/undoable/internal/errs"
)

// errorResponse is the JSON body the gateway returns for every
// non-2xx response (spec section 7).
type errorResponse struct {
	Code     string `json:"code,omitempty"`
	Message  string `json:"message"`
	Recovery string `json:"recovery,omitempty"`
}

func statusFor(kind errs.Kind) int {
	switch kind {
	case errs.Validation:
		return http.StatusBadRequest
	case errs.NotFound:
		return http.StatusNotFound
	case errs.Conflict:
		return http.StatusConflict
	case errs.Unauthorized:
		return http.StatusUnauthorized
	case errs.Forbidden:
		return http.StatusForbidden
	case errs.KindLocked:
		return http.StatusLocked
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err *errs.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(err.Kind))
	_ = json.NewEncoder(w).Encode(errorResponse{
		Code:     err.Code,
		Message:  err.Message,
		Recovery: err.Recovery,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) *errs.Error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errs.Validationf("invalid request body: %v", err)
	}
	return nil
}
