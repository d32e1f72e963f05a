// Package llmerrors provides structured classification of provider errors
// for retry and cascade decisions.
package llmerrors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType categorizes provider errors for the retry/cascade policy.
type ErrorType int8

const (
	// ErrorTypeRateLimit covers 429, quota, and resource-exhausted errors.
	ErrorTypeRateLimit ErrorType = iota
	// ErrorTypeTimeout covers deadline, connection, and network errors.
	ErrorTypeTimeout
	// ErrorTypeEmptyResponse covers HTTP 200 with no usable content.
	ErrorTypeEmptyResponse
	// ErrorTypeAuth covers 401/403 and bad API keys. Not retryable.
	ErrorTypeAuth
	// ErrorTypeBadPrompt covers malformed requests. Not retryable.
	ErrorTypeBadPrompt
	// ErrorTypeUnknown is the default for unclassified errors.
	ErrorTypeUnknown
)

// String returns the metrics label for the error type.
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeTimeout:
		return "timeout"
	case ErrorTypeEmptyResponse:
		return "empty_response"
	case ErrorTypeAuth:
		return "auth"
	case ErrorTypeBadPrompt:
		return "bad_prompt"
	case ErrorTypeUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// Error is a classified provider error with retry metadata.
type Error struct {
	Err        error
	Message    string
	Type       ErrorType
	StatusCode int
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("llm error (%s): %s", e.Type.String(), e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("llm error (%s): %v", e.Type.String(), e.Err)
	}
	return fmt.Sprintf("llm error (%s): status %d", e.Type.String(), e.StatusCode)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the error class should be retried with the
// same model. Blocklist approach: retryable unless explicitly not.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeAuth, ErrorTypeBadPrompt:
		return false
	default:
		return true
	}
}

// New creates a classified error.
func New(errorType ErrorType, message string) *Error {
	return &Error{Type: errorType, Message: message}
}

// NewWithStatus creates a classified error carrying an HTTP status.
func NewWithStatus(errorType ErrorType, statusCode int, message string) *Error {
	return &Error{Type: errorType, StatusCode: statusCode, Message: message}
}

// NewWithCause creates a classified error wrapping another error.
func NewWithCause(errorType ErrorType, cause error, message string) *Error {
	return &Error{Type: errorType, Err: cause, Message: message}
}

// Is checks whether err is classified as the given type.
func Is(err error, errorType ErrorType) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type == errorType
	}
	return false
}

// TypeOf returns the classified type, classifying on the fly if needed.
func TypeOf(err error) ErrorType {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type
	}
	return Classify(err).Type
}

// Classify maps an arbitrary provider error onto an ErrorType by inspecting
// wrapped context errors and well-known string markers. Providers that can
// classify more precisely (status codes) should do so and skip this.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewWithCause(ErrorTypeTimeout, err, "request deadline exceeded")
	}
	if errors.Is(err, context.Canceled) {
		return NewWithCause(ErrorTypeTimeout, err, "request canceled")
	}

	lower := strings.ToLower(err.Error())

	switch {
	case strings.Contains(lower, "429"),
		strings.Contains(lower, "quota"),
		strings.Contains(lower, "resourceexhausted"),
		strings.Contains(lower, "resource_exhausted"),
		strings.Contains(lower, "too many requests"),
		strings.Contains(lower, "rate limit"):
		return NewWithCause(ErrorTypeRateLimit, err, "rate limiting detected")

	case strings.Contains(lower, "timeout"),
		strings.Contains(lower, "deadline"),
		strings.Contains(lower, "connection"),
		strings.Contains(lower, "network"),
		strings.Contains(lower, "temporarily"),
		strings.Contains(lower, "unavailable"),
		strings.Contains(lower, "eof"),
		strings.Contains(lower, "reset"),
		strings.Contains(lower, "500"),
		strings.Contains(lower, "502"),
		strings.Contains(lower, "503"),
		strings.Contains(lower, "504"):
		return NewWithCause(ErrorTypeTimeout, err, "transient network or server error")

	case strings.Contains(lower, "401"),
		strings.Contains(lower, "403"),
		strings.Contains(lower, "unauthorized"),
		strings.Contains(lower, "api key"),
		strings.Contains(lower, "permission"):
		return NewWithCause(ErrorTypeAuth, err, "authentication error")

	case strings.Contains(lower, "400"),
		strings.Contains(lower, "invalid argument"),
		strings.Contains(lower, "malformed"),
		strings.Contains(lower, "too large"):
		return NewWithCause(ErrorTypeBadPrompt, err, "request rejected by provider")

	default:
		return NewWithCause(ErrorTypeUnknown, err, "unclassified provider error")
	}
}
