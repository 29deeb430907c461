package server

import (
	"encoding/json"
	"net/http"

	"github.com/stakemetrics/query-cost-api/internal/model"
)

// Error codes carried in the envelope alongside the estimation error kinds.
const (
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodePayloadTooLarge = "PAYLOAD_TOO_LARGE"
	CodeServerBusy      = "SERVER_BUSY"
)

// apiError is one entry in the error envelope.
type apiError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

type errorEnvelope struct {
	Errors []apiError `json:"errors"`
}

// writeError sends a single-error envelope with the given status.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Errors: []apiError{{Message: message, Code: code}}})
}

// writeEstimateError maps an estimation failure onto a status and code.
// Syntax, computation, and depth failures are client errors.
func writeEstimateError(w http.ResponseWriter, err error) {
	kind := model.ErrorKindFor(err)
	status := http.StatusBadRequest
	if kind == model.ErrorKindInternal {
		status = http.StatusInternalServerError
	}
	writeError(w, status, kind.String(), err.Error())
}
