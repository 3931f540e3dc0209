package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorType represents different types of errors that can occur
type ErrorType string

const (
	ErrorTypeNetwork     ErrorType = "network"
	ErrorTypeRateLimit   ErrorType = "rate_limit"
	ErrorTypeRejected    ErrorType = "rejected"
	ErrorTypeParsing     ErrorType = "parsing"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeServerError ErrorType = "server_error"
	ErrorTypeStorage     ErrorType = "storage"
	ErrorTypeUnknown     ErrorType = "unknown"
)

var (
	// ErrNoMarker is returned when no run marker exists
	ErrNoMarker = stderrors.New("run marker not found")
	// ErrMalformedMarker is returned when a run marker cannot be parsed
	ErrMalformedMarker = stderrors.New("run marker is malformed")
	// ErrPoolClosed is returned when submitting to a stopped worker pool
	ErrPoolClosed = stderrors.New("worker pool is closed")
)

// Error represents a remote or storage error with type information
type Error struct {
	Type    ErrorType
	Message string
	Code    int
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error (code %d): %s: %v", e.Type, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a typed error
func New(t ErrorType, code int, msg string) *Error {
	return &Error{Type: t, Code: code, Message: msg}
}

// Wrap creates a typed error around cause
func Wrap(t ErrorType, cause error, msg string) *Error {
	return &Error{Type: t, Message: msg, Err: cause}
}

// FromStatus classifies a non-success HTTP status code
func FromStatus(statusCode int) *Error {
	msg := fmt.Sprintf("unexpected status %d", statusCode)
	switch {
	case statusCode == 429:
		return New(ErrorTypeRateLimit, statusCode, msg)
	case statusCode == 404:
		return New(ErrorTypeNotFound, statusCode, msg)
	case statusCode >= 500:
		return New(ErrorTypeServerError, statusCode, msg)
	default:
		return New(ErrorTypeRejected, statusCode, msg)
	}
}

// TypeOf returns the ErrorType of err, or ErrorTypeUnknown
func TypeOf(err error) ErrorType {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeUnknown
}

// StatusCode returns the HTTP status carried by err, or 0
func StatusCode(err error) int {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return 0
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeRateLimit, ErrorTypeServerError:
		return true
	default:
		return false
	}
}
