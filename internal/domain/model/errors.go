package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrorClass drives retry decisions in the resilience layer.
type ErrorClass string

const (
	ErrorClassTransient   ErrorClass = "transient"    // timeouts, 5xx, 429, connection errors
	ErrorClassPermanent   ErrorClass = "permanent"    // auth failures, invalid model, other 4xx
	ErrorClassCircuitOpen ErrorClass = "circuit_open" // fast-fail, provider not called
)

// ProviderError is the classified failure of a single provider call.
type ProviderError struct {
	ModelID    string
	Provider   ProviderKind
	Class      ErrorClass
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s (model %s) %s error (status %d): %v", e.Provider, e.ModelID, e.Class, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s (model %s) %s error: %v", e.Provider, e.ModelID, e.Class, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether the resilience layer may attempt the call again.
func (e *ProviderError) Retryable() bool { return e.Class == ErrorClassTransient }

// NewTransientError wraps err as a retryable provider failure.
func NewTransientError(modelID string, provider ProviderKind, status int, err error) *ProviderError {
	return &ProviderError{ModelID: modelID, Provider: provider, Class: ErrorClassTransient, StatusCode: status, Err: err}
}

// NewPermanentError wraps err as a non-retryable provider failure.
func NewPermanentError(modelID string, provider ProviderKind, status int, err error) *ProviderError {
	return &ProviderError{ModelID: modelID, Provider: provider, Class: ErrorClassPermanent, StatusCode: status, Err: err}
}

// CircuitOpenError is returned without touching the provider while the
// breaker is open.
type CircuitOpenError struct {
	ModelID    string
	Provider   ProviderKind
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for model %s (provider %s), retry after %s", e.ModelID, e.Provider, e.RetryAfter)
}

// IsTransient reports whether err is classified as retryable.
func IsTransient(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Class == ErrorClassTransient
}

// IsCircuitOpen reports whether err is a breaker fast-fail.
func IsCircuitOpen(err error) bool {
	var coe *CircuitOpenError
	if errors.As(err, &coe) {
		return true
	}
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Class == ErrorClassCircuitOpen
}

// DuplicateModelError is returned when registering an id that already exists.
type DuplicateModelError struct {
	ID string
}

func (e *DuplicateModelError) Error() string {
	return fmt.Sprintf("model %q is already registered", e.ID)
}

// NotFoundError is returned for lookups and deregistrations of unknown ids.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("model %q is not registered", e.ID)
}

// ProviderUnsupportedError is returned by the adapter factory for unknown
// provider kinds.
type ProviderUnsupportedError struct {
	Kind ProviderKind
}

func (e *ProviderUnsupportedError) Error() string {
	return fmt.Sprintf("provider kind %q is not supported", e.Kind)
}
