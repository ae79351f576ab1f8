// Package errors provides typed error handling with rich context for the
// dispatch server. Every failure that can surface from a dispatch carries an
// ErrorCode so the HTTP boundary and the metrics pipeline can classify it
// without string matching.
package errors

import (
	"encoding/json"
	"fmt"
)

// ErrorCode classifies dispatch errors for monitoring and recovery.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeRegistryUnavailable indicates the tool server catalog could not be
	// loaded. Fatal at startup, retryable with backoff.
	CodeRegistryUnavailable ErrorCode = "REGISTRY_UNAVAILABLE"

	// CodeUnknownTool indicates the model proposed a tool that is not in the
	// registry.
	CodeUnknownTool ErrorCode = "UNKNOWN_TOOL"

	// CodeMissingArgument indicates a required tool parameter was absent from
	// the model's proposal.
	CodeMissingArgument ErrorCode = "MISSING_ARGUMENT"

	// CodeToolFailure indicates a tool invocation failed.
	CodeToolFailure ErrorCode = "TOOL_FAILURE"

	// CodeUnparseableResponse indicates a tool payload could not be decoded.
	// Absorbed inside the dispatch; never surfaces to the caller as a failure.
	CodeUnparseableResponse ErrorCode = "UNPARSEABLE_RESPONSE"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeModelError indicates the model host is unreachable or returned a
	// malformed completion.
	CodeModelError ErrorCode = "MODEL_ERROR"

	// CodeInvalidInput indicates the inbound request was invalid.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"
)

// DispatchError is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type DispatchError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Attributes  map[string]string
	Recoverable bool
	StatusCode  int
}

// Error implements the error interface.
func (e *DispatchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *DispatchError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *DispatchError) MarshalJSON() ([]byte, error) {
	type Alias DispatchError
	return json.Marshal(&struct {
		Message     string `json:"message"`
		Code        string `json:"code"`
		Err         string `json:"error,omitempty"`
		Recoverable bool   `json:"recoverable"`
		*Alias
	}{
		Message:     e.Error(),
		Code:        string(e.Code),
		Err:         fmt.Sprintf("%v", e.Err),
		Recoverable: e.Recoverable,
		Alias:       (*Alias)(e),
	})
}

// New creates a new DispatchError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *DispatchError {
	return &DispatchError{
		Code:       code,
		Message:    msg,
		Err:        cause,
		Context:    make(map[string]interface{}),
		Attributes: make(map[string]string),
		StatusCode: codeToStatusCode(code),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *DispatchError) WithContext(key string, value interface{}) *DispatchError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithAttribute adds a string attribute for OTEL traces.
// Returns the error for method chaining.
func (e *DispatchError) WithAttribute(key, value string) *DispatchError {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *DispatchError) WithRecoverable(recoverable bool) *DispatchError {
	e.Recoverable = recoverable
	return e
}

// AsDispatchError attempts to convert an error to a DispatchError.
// Returns the error as DispatchError if it is one, or wraps it otherwise.
func AsDispatchError(err error) *DispatchError {
	if err == nil {
		return nil
	}
	if de, ok := err.(*DispatchError); ok {
		return de
	}
	return New(CodeInternal, "wrapped error", err)
}

// CodeOf returns the ErrorCode carried by err, or CodeInternal for untyped
// errors. Nil errors return an empty code.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if de, ok := err.(*DispatchError); ok {
		return de.Code
	}
	return CodeInternal
}

// RecoverableString returns "true" or "false" as a string for observability.
func (e *DispatchError) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}

// codeToStatusCode maps error codes to HTTP status codes.
func codeToStatusCode(code ErrorCode) int {
	switch code {
	case CodeUnknownTool:
		return 404
	case CodeInvalidInput, CodeMissingArgument:
		return 400
	case CodeTimeout:
		return 408
	case CodeRegistryUnavailable:
		return 503
	default:
		return 500
	}
}
