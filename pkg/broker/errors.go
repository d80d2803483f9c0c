package broker

import (
	"errors"
	"fmt"
)

// Sentinel errors for the broker package.
var (
	// ErrMissingAPIKey indicates no server secret was configured.
	ErrMissingAPIKey = errors.New("broker: API key is required")

	// ErrMissingServerURL indicates the client has nowhere to fetch from.
	ErrMissingServerURL = errors.New("broker: server URL is required")

	// ErrNoClientSecret indicates the payload carried no usable client_secret.value.
	ErrNoClientSecret = errors.New("broker: no client secret in session payload")
)

// APIError is an unsuccessful reply from the sessions endpoint or the backend.
type APIError struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Code is the provider error code, when one was sent.
	Code string

	// Message is the human-readable error message.
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("broker: API error (HTTP %d) [%s]: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("broker: API error (HTTP %d): %s", e.StatusCode, e.Message)
}

// missingSecret wraps ErrNoClientSecret with the upstream failure, if any.
func missingSecret(apiErr *APIError) error {
	if apiErr == nil {
		return ErrNoClientSecret
	}
	return fmt.Errorf("%w: %w", ErrNoClientSecret, apiErr)
}
