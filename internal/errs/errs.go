// Package errs defines the error taxonomy shared by the store, the
// session engine, the API layer, and the client. Errors are built on
// sentinel values so callers can classify with errors.Is regardless of
// how many times the error was wrapped on the way up.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a request rejected before any state change.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks a lookup that matched nothing. Callers treat it
	// as "nothing to show", not a hard failure.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a mutation that contradicts the current state,
	// e.g. patching a session that is already terminal.
	ErrConflict = errors.New("conflict")
	// ErrTransient marks a network-level failure that may succeed on
	// retry. Only idempotent requests are retried automatically.
	ErrTransient = errors.New("transient network error")
	// ErrStreamDisconnect marks a dropped event-stream connection.
	ErrStreamDisconnect = errors.New("stream disconnected")
)

func Validation(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, a...))
}

func NotFound(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, a...))
}

func Conflict(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, a...))
}

func Transient(err error) error {
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

// StreamDisconnect wraps the reason an event stream dropped. A clean
// server-side close carries no cause and yields the bare sentinel.
func StreamDisconnect(err error) error {
	if err == nil {
		return ErrStreamDisconnect
	}
	return fmt.Errorf("%w: %v", ErrStreamDisconnect, err)
}

func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }
func IsNotFound(err error) bool   { return errors.Is(err, ErrNotFound) }
func IsConflict(err error) bool   { return errors.Is(err, ErrConflict) }
func IsTransient(err error) bool  { return errors.Is(err, ErrTransient) }

func IsStreamDisconnect(err error) bool { return errors.Is(err, ErrStreamDisconnect) }
