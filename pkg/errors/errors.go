// SPDX-License-Identifier: Apache-2.0
// Package errors provides typed error handling with rich context for semmesh.
package errors

import (
	"encoding/json"
	"fmt"
)

// ErrorCode classifies semmesh errors for monitoring and recovery.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates the input was invalid.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeSchemaIncompatible indicates negotiation failed because the intent's
	// required fields cannot be satisfied by the capability's declared inputs.
	// Recoverable by choosing another capability.
	CodeSchemaIncompatible ErrorCode = "SCHEMA_INCOMPATIBLE"

	// CodeSealBreach indicates a gossip envelope's integrity seal did not match.
	CodeSealBreach ErrorCode = "SEAL_BREACH"

	// CodeMalformedMessage indicates a gossip envelope could not be parsed.
	CodeMalformedMessage ErrorCode = "MALFORMED_MESSAGE"

	// CodeRateLimit indicates a participant exceeded its rate window.
	CodeRateLimit ErrorCode = "RATE_LIMITED"

	// CodeConcurrencyLimit indicates a participant is at its concurrency cap.
	CodeConcurrencyLimit ErrorCode = "CONCURRENCY_LIMITED"

	// CodePeerUnreachable indicates a gossip peer could not be reached.
	CodePeerUnreachable ErrorCode = "PEER_UNREACHABLE"

	// CodeDuplicateID indicates a capability id is already registered.
	CodeDuplicateID ErrorCode = "DUPLICATE_ID"

	// CodeProofInvalid indicates an onboarding proof failed verification.
	CodeProofInvalid ErrorCode = "PROOF_INVALID"

	// CodeUnauthorized indicates a participant's tier does not permit the action.
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// CodeNotFound indicates a resource was not found.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"
)

// MeshError is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type MeshError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Attributes  map[string]string
	Recoverable bool
	StatusCode  int
}

// Error implements the error interface.
func (e *MeshError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *MeshError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *MeshError) MarshalJSON() ([]byte, error) {
	type Alias MeshError
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

// New creates a new MeshError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *MeshError {
	return &MeshError{
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
func (e *MeshError) WithContext(key string, value interface{}) *MeshError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithAttribute adds a string attribute for OTEL traces.
// Returns the error for method chaining.
func (e *MeshError) WithAttribute(key, value string) *MeshError {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *MeshError) WithRecoverable(recoverable bool) *MeshError {
	e.Recoverable = recoverable
	return e
}

// AsMeshError attempts to convert an error to a MeshError.
// Returns the error as MeshError if it is one, or wraps it otherwise.
func AsMeshError(err error) *MeshError {
	if err == nil {
		return nil
	}
	if me, ok := err.(*MeshError); ok {
		return me
	}
	// Wrap unknown error as internal
	return New(CodeInternal, "wrapped error", err)
}

// IsCode reports whether err is a MeshError carrying the given code.
func IsCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	if me, ok := err.(*MeshError); ok {
		return me.Code == code
	}
	return false
}

// codeToStatusCode maps error codes to HTTP-ish status codes.
func codeToStatusCode(code ErrorCode) int {
	switch code {
	case CodeNotFound:
		return 404
	case CodeUnauthorized, CodeSealBreach, CodeProofInvalid:
		return 401
	case CodeInvalidInput, CodeMalformedMessage, CodeSchemaIncompatible:
		return 400
	case CodeTimeout:
		return 408
	case CodeRateLimit, CodeConcurrencyLimit:
		return 429
	case CodeDuplicateID:
		return 409
	case CodePeerUnreachable:
		return 502
	default:
		return 500
	}
}
