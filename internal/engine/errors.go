package engine

import (
	"errors"
	"fmt"
)

// QueryError is a failure to turn query text, an operation name and
// variables into a producer. The session manager classifies every
// QueryError as a validation error.
type QueryError struct {
	// Code identifies the error category.
	Code QueryErrorCode

	// Message is a human-readable description.
	Message string

	// Operation is the requested operation name, if any.
	Operation string

	// Err is the underlying cause, if any.
	Err error
}

// QueryErrorCode categorizes query errors.
type QueryErrorCode string

const (
	// ErrCodeParseFailed indicates the document did not compile or validate.
	ErrCodeParseFailed QueryErrorCode = "PARSE_FAILED"

	// ErrCodeUnknownOperation indicates no operation has the requested name.
	ErrCodeUnknownOperation QueryErrorCode = "UNKNOWN_OPERATION"

	// ErrCodeAmbiguousOperation indicates the name matches more than one
	// operation, or no name was given for a multi-operation document.
	ErrCodeAmbiguousOperation QueryErrorCode = "AMBIGUOUS_OPERATION"

	// ErrCodeInvalidVariables indicates the variables are not a JSON object
	// of supported values.
	ErrCodeInvalidVariables QueryErrorCode = "INVALID_VARIABLES"

	// ErrCodeUnboundVariable indicates a referenced variable is missing.
	ErrCodeUnboundVariable QueryErrorCode = "UNBOUND_VARIABLE"

	// ErrCodeAlreadyListening indicates Listen was called twice.
	ErrCodeAlreadyListening QueryErrorCode = "ALREADY_LISTENING"
)

// Error implements the error interface.
func (e *QueryError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("%s: %s (operation=%s)", e.Code, e.Message, e.Operation)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *QueryError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code QueryErrorCode) bool {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe.Code == code
	}
	return false
}

// IsParseError reports whether err is a document compile or validation
// failure. Uses errors.As to handle wrapped errors.
func IsParseError(err error) bool {
	return hasCode(err, ErrCodeParseFailed)
}

// IsOperationError reports whether err is an unknown or ambiguous
// operation name.
func IsOperationError(err error) bool {
	return hasCode(err, ErrCodeUnknownOperation) || hasCode(err, ErrCodeAmbiguousOperation)
}

// IsVariableError reports whether err concerns query variables.
func IsVariableError(err error) bool {
	return hasCode(err, ErrCodeInvalidVariables) || hasCode(err, ErrCodeUnboundVariable)
}

// ErrorCode returns err's QueryErrorCode, or "" if err is not a QueryError.
func ErrorCode(err error) QueryErrorCode {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe.Code
	}
	return ""
}
