package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"inferd/internal/infer"
	"inferd/pkg/types"
)

var errBestOfStream = errors.New("`best_of` != 1 is not supported when streaming")

// statusFor maps the core error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch err.(type) {
	case *infer.OverloadedError:
		return http.StatusTooManyRequests
	case *infer.ValidationError, *infer.TemplateError,
		*infer.MissingTemplateVariableError, *infer.ToolError:
		return http.StatusUnprocessableEntity
	case *infer.GenerationError:
		return http.StatusFailedDependency
	case *infer.IncompleteGenerationError, *infer.IncompleteGenerationStreamError,
		*infer.StreamSerializationError, *infer.EnergyConsumptionError:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

// writeError renders a core error with its mapped status and class.
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{
		Error:     err.Error(),
		ErrorType: infer.ErrorType(err),
		Code:      status,
	})
}

// writeJSONError writes a consistent JSON error payload for transport-level
// failures that never reach the core.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}
