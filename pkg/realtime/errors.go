package realtime

import (
	"errors"
	"fmt"
)

// Sentinel errors for the realtime package.
var (
	// ErrMalformedEvent indicates a data channel message could not be decoded.
	ErrMalformedEvent = errors.New("realtime: malformed event")

	// ErrHandshake indicates the offer/answer exchange failed.
	ErrHandshake = errors.New("realtime: handshake failed")

	// ErrChannelClosed indicates the data channel is not open.
	ErrChannelClosed = errors.New("realtime: data channel not open")

	// ErrNoSource indicates Dial was called without a local audio source.
	ErrNoSource = errors.New("realtime: audio source is required")
)

// HandshakeError is a rejected SDP exchange.
type HandshakeError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *HandshakeError) Error() string {
	return fmt.Sprintf("realtime: handshake rejected (HTTP %d): %s", e.StatusCode, e.Body)
}

// Unwrap lets errors.Is match ErrHandshake.
func (e *HandshakeError) Unwrap() error {
	return ErrHandshake
}
