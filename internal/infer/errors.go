package infer

import (
	"encoding/json"
	"errors"
)

// The closed failure taxonomy of the core. Each kind maps to exactly one
// metric tag (see ErrorType) and one default HTTP status.

// GenerationError signals a backend failure mid-stream or mid-continuation.
type GenerationError struct{ Msg string }

func (e *GenerationError) Error() string { return "Request failed during generation: " + e.Msg }

// OverloadedError signals that the admission gate is full.
type OverloadedError struct{}

func (e *OverloadedError) Error() string { return "Model is overloaded" }

// ValidationError wraps a request validation failure.
type ValidationError struct{ Cause error }

func (e *ValidationError) Error() string { return "Input validation error: " + e.Cause.Error() }
func (e *ValidationError) Unwrap() error { return e.Cause }

// IncompleteGenerationError signals a stream that ended without an End event.
type IncompleteGenerationError struct{}

func (e *IncompleteGenerationError) Error() string { return "Incomplete generation" }

// IncompleteGenerationStreamError is reserved for partial-event corruption.
type IncompleteGenerationStreamError struct{}

func (e *IncompleteGenerationStreamError) Error() string { return "Incomplete generation stream" }

// TemplateError wraps a chat-template failure (missing or render error).
type TemplateError struct{ Cause error }

func (e *TemplateError) Error() string { return "Template error: " + e.Cause.Error() }
func (e *TemplateError) Unwrap() error { return e.Cause }

// ErrTemplateNotFound is the cause used when no chat template is configured.
var ErrTemplateNotFound = errors.New("template not found")

// MissingTemplateVariableError signals a template referencing an undefined
// variable.
type MissingTemplateVariableError struct{ Name string }

func (e *MissingTemplateVariableError) Error() string {
	return "Missing template variable: " + e.Name
}

// ToolError surfaces a tool-grammar construction failure.
type ToolError struct{ Msg string }

func (e *ToolError) Error() string { return "Tool error: " + e.Msg }

// StreamSerializationError signals an event that could not be serialized for
// the wire.
type StreamSerializationError struct{ Msg string }

func (e *StreamSerializationError) Error() string {
	return "Stream event serialization error: " + e.Msg
}

// EnergyConsumptionError signals a hardware counter failure.
type EnergyConsumptionError struct{ Msg string }

func (e *EnergyConsumptionError) Error() string { return "Energy consumption error: " + e.Msg }

// ErrorType classifies err for metric tagging. Unknown errors classify as
// generation failures.
func ErrorType(err error) string {
	switch {
	case isA[*GenerationError](err):
		return "generation"
	case isA[*OverloadedError](err):
		return "overloaded"
	case isA[*ValidationError](err):
		return "validation"
	case isA[*IncompleteGenerationError](err):
		return "incomplete_generation"
	case isA[*IncompleteGenerationStreamError](err):
		return "incomplete_generation_stream"
	case isA[*TemplateError](err):
		return "template_error"
	case isA[*MissingTemplateVariableError](err):
		return "missing_template_variable"
	case isA[*ToolError](err):
		return "tool_error"
	case isA[*StreamSerializationError](err):
		return "stream_serialization_error"
	case isA[*EnergyConsumptionError](err):
		return "energy_consumption_error"
	default:
		return "generation"
	}
}

func isA[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}

// IsOverloaded reports whether err is an admission rejection (429 mapping).
func IsOverloaded(err error) bool { return isA[*OverloadedError](err) }

// IsValidation reports whether err is a request validation failure.
func IsValidation(err error) bool { return isA[*ValidationError](err) }

// IsTemplate reports whether err is a chat-template failure.
func IsTemplate(err error) bool {
	return isA[*TemplateError](err) || isA[*MissingTemplateVariableError](err)
}

// APIError is the wire form of an error inside an SSE error event.
type APIError struct {
	Message        string `json:"message"`
	HTTPStatusCode int    `json:"http_status_code"`
}

// ErrorEvent is the SSE payload produced for failed streams:
// {"error":{"message":...,"http_status_code":422}}.
type ErrorEvent struct {
	Error APIError `json:"error"`
}

// MarshalErrorEvent renders err as the SSE error payload.
func MarshalErrorEvent(err error) []byte {
	b, mErr := json.Marshal(ErrorEvent{Error: APIError{Message: err.Error(), HTTPStatusCode: 422}})
	if mErr != nil {
		// ErrorEvent contains only strings and ints; this cannot fail.
		return []byte(`{"error":{"message":"unknown","http_status_code":422}}`)
	}
	return b
}
