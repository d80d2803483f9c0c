package session

import (
	"errors"
	"fmt"
)

// Sentinel errors for the session package.
var (
	// ErrNotListening indicates there is no live connection to send on.
	ErrNotListening = errors.New("session: not listening")

	// ErrMissingDependency indicates New was called without a collaborator.
	ErrMissingDependency = errors.New("session: missing dependency")
)

// Stage names the step of a start attempt that failed.
type Stage string

const (
	StageCredential Stage = "credential"
	StageMedia      Stage = "media"
	StageHandshake  Stage = "handshake"
)

// StartError is a failed start attempt.
type StartError struct {
	Stage Stage
	Err   error
}

// Error implements the error interface.
func (e *StartError) Error() string {
	return fmt.Sprintf("session: %s failed: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying cause.
func (e *StartError) Unwrap() error {
	return e.Err
}

// StageOf returns the failed stage of err, or "" when err is not a StartError.
func StageOf(err error) Stage {
	var se *StartError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
