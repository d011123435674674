package embedding

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrAuthentication is returned when no API key is supplied or the provider rejects it.
// It is never retried.
var ErrAuthentication = errors.New("embedding: missing or invalid API key")

// ProviderError is a non-success response or transport fault from the embedding provider.
type ProviderError struct {
	// StatusCode is the HTTP status, or 0 for a transport fault.
	StatusCode int
	// Message is the provider's error message when it sent one.
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	switch {
	case e.StatusCode == 0:
		return fmt.Sprintf("embedding provider request failed: %s", e.Message)
	case e.Message != "":
		return fmt.Sprintf("embedding provider error (%d): %s", e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("embedding provider error (%d)", e.StatusCode)
	}
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Temporary reports whether the failure is worth retrying: transport faults,
// rate limiting and server errors.
func (e *ProviderError) Temporary() bool {
	return e.StatusCode == 0 ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= http.StatusInternalServerError
}
