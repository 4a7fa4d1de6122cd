package api

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/modelforge/internal/errors"
	"github.com/modelforge/internal/logging"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// respondError maps err onto the error taxonomy and writes it. Server-side
// failures are logged with the request logger; their causes stay private
// unless they come from the IPFS gateway.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	ce := apperrors.Categorize(err)

	if ce.StatusCode >= http.StatusInternalServerError {
		logger := logging.FromContext(r.Context()).WithField("code", ce.Code)
		if ce.Cause != nil {
			logger = logger.WithError(ce.Cause)
		}
		logger.Error(ce.Message)
	}

	details := ce.Details
	if ce.Category == apperrors.CategorySystem {
		details = nil
	}
	respondJSON(w, ce.StatusCode, ErrorResponse{Error: ce.Message, Code: ce.Code, Details: details})
}

// respondMessage writes an error body without a categorized error
func respondMessage(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// parseJSONBody parses JSON request body.
func parseJSONBody(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(v); err != nil {
		return apperrors.NewValidationError("Invalid request body", map[string]string{"body": err.Error()})
	}
	return nil
}
