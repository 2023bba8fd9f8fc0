package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrNoCredential     = errors.New("no credential configured")
	ErrSignatureInvalid = errors.New("signature invalid")
	ErrHistoryBoundary  = errors.New("history boundary reached")
	ErrInvalidStep      = errors.New("invalid pipeline step")
)

// ProviderError wraps a failure reported by an external generation provider.
// Transient errors (throttling, 5xx) are retried by the retry executor; fatal
// errors (bad request, safety block) propagate immediately.
type ProviderError struct {
	Provider  string
	Code      string
	Message   string
	Transient bool
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Provider, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// IsTransient reports whether err is a provider error worth retrying.
func IsTransient(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return false
}
