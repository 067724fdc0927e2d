// Package apperror implements the error taxonomy shared across the gateway:
// transient network failures, permanent venue failures, client protocol and
// validation errors, slow-consumer terminations, and model invariant
// violations all carry a Code so callers can branch on kind without string
// matching.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Code identifies an error kind from the gateway's taxonomy.
type Code string

const (
	CodeTransientNetwork    Code = "TRANSIENT_NETWORK"
	CodePermanentVenue      Code = "PERMANENT_VENUE"
	CodeProtocolViolation   Code = "PROTOCOL_VIOLATION"
	CodeValidationFailure   Code = "VALIDATION_FAILURE"
	CodeSlowConsumer        Code = "SLOW_CONSUMER"
	CodeInvariantViolation  Code = "INVARIANT_VIOLATION"
	CodeShutdownRequested   Code = "SHUTDOWN_REQUESTED"
	CodeNotFound            Code = "NOT_FOUND"
	CodeUnavailable         Code = "UNAVAILABLE"
	CodeUnknown             Code = "UNKNOWN"
)

// AppError is the structured error type returned by gateway components.
type AppError struct {
	Code       Code
	Message    string
	StatusCode int
	Context    string
	Timestamp  time.Time
	cause      error
}

func (e *AppError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (context: %s)", e.Code, e.Message, e.Context)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.cause }

func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Option customizes an AppError at construction time.
type Option func(*AppError)

func WithContext(context string) Option {
	return func(e *AppError) { e.Context = context }
}

func WithCause(cause error) Option {
	return func(e *AppError) { e.cause = cause }
}

func WithStatusCode(code int) Option {
	return func(e *AppError) { e.StatusCode = code }
}

// New builds an AppError for the given code and message.
func New(code Code, message string, opts ...Option) *AppError {
	e := &AppError{
		Code:       code,
		Message:    message,
		StatusCode: defaultStatusCode(code),
		Timestamp:  time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Wrap attaches a code/message to an underlying error, preserving it as cause.
// If err already is or wraps an *AppError, that AppError is returned unchanged.
func Wrap(err error, code Code, message string) *AppError {
	if err == nil {
		return nil
	}
	var existing *AppError
	if errors.As(err, &existing) {
		return existing
	}
	return New(code, message, WithCause(err))
}

// CodeOf extracts the Code from an error, or CodeUnknown if it isn't an AppError.
func CodeOf(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

func defaultStatusCode(code Code) int {
	switch code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeValidationFailure, CodeProtocolViolation:
		return http.StatusBadRequest
	case CodeUnavailable, CodePermanentVenue:
		return http.StatusServiceUnavailable
	case CodeSlowConsumer:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
