package domain

import (
	"errors"
	"fmt"
)

var (
	// Taxonomy roots; every typed error below unwraps to one of these.
	ErrValidation = errors.New("validation failed")
	ErrTransport  = errors.New("transport failure")
	ErrDomain     = errors.New("service reported failure")

	ErrNotFound         = errors.New("entity not found")
	ErrExchangeInFlight = errors.New("an exchange is already in flight")
	ErrNoIdentity       = errors.New("no identity key set")
	// ErrSuperseded: the reply belongs to a job or session that was reset
	// or replaced while the request was in flight. The reply is discarded.
	ErrSuperseded = errors.New("superseded by a newer request")
)

// ValidationError is a local precondition failure. No request was sent.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// TransportError wraps a network failure or a non-2xx response from the study service.
type TransportError struct {
	Op         string
	StatusCode int // 0 when the request never got a response
	Detail     string
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Detail != "":
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Detail)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
	case e.Detail != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Detail)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return e.Op + ": transport failure"
	}
}

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

func (e *TransportError) Unwrap() error { return e.Err }

// DomainError means the service answered but reported that the job or session failed.
type DomainError struct {
	Op      string
	Message string
}

func (e *DomainError) Error() string {
	if e.Op == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *DomainError) Unwrap() error { return ErrDomain }

// Describe returns the text shown to a user for err. Typed errors keep their
// own message so callers never see wrapping prefixes twice.
func Describe(err error, fallback string) string {
	if err == nil {
		return fallback
	}
	var de *DomainError
	if errors.As(err, &de) && de.Message != "" {
		return de.Message
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return fallback
}
