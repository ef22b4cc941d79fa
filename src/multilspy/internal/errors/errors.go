// Package errors defines the error taxonomy for the client engine.
package errors

import (
	stderr "errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
)

// New returns an error that formats as the given text.
// Each call to New returns a distinct error value even if the text is identical.
func New(msg string) error {
	return stderr.New(msg)
}

var (
	// ErrNotReady reports that an operation was attempted outside the Ready state.
	ErrNotReady = New("session is not ready")
	// ErrAlreadyStarted reports a second Start on the same session.
	ErrAlreadyStarted = New("session already started")
	// ErrDocumentNotOpen reports a content query against a file with no open entry.
	ErrDocumentNotOpen = New("document is not open")
	// ErrDocumentAlreadyOpen reports a duplicate open for the same path.
	ErrDocumentAlreadyOpen = New("document is already open")
	// ErrUnsupportedOperation reports an operation outside the engine variant's capability set.
	ErrUnsupportedOperation = New("operation not supported by this engine")
	// ErrConnClosed reports a send on a torn-down connection.
	ErrConnClosed = New("connection is closed")
)

// UUIDNotFoundError indicates that an entry matching the given UUID was not found.
type UUIDNotFoundError struct {
	UUID uuid.UUID
}

// Error is an implementation of the error interface.
func (e *UUIDNotFoundError) Error() string {
	return fmt.Sprintf("no session found for uuid %q", e.UUID)
}

// IsStateError reports whether the error is a synchronous state rejection,
// produced before any bytes reach the wire.
func IsStateError(e error) bool {
	return stderr.Is(e, ErrNotReady) ||
		stderr.Is(e, ErrAlreadyStarted) ||
		stderr.Is(e, ErrDocumentNotOpen) ||
		stderr.Is(e, ErrDocumentAlreadyOpen) ||
		stderr.Is(e, ErrUnsupportedOperation)
}

// TransportError is a framing or stream failure. Fatal to the session: byte
// alignment cannot be reestablished after a framing violation.
type TransportError struct {
	Err error
}

// Error is an implementation of the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %v", e.Err)
}

// Unwrap exposes the underlying cause.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProcessExitError reports that the engine process exited. The exit code and
// residual stderr are diagnostic context, not protocol errors.
type ProcessExitError struct {
	ExitCode int
	Stderr   string
}

// Error is an implementation of the error interface.
func (e *ProcessExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("engine process exited with code %d", e.ExitCode)
	}
	return fmt.Sprintf("engine process exited with code %d: %s", e.ExitCode, e.Stderr)
}

// RequestTimeoutError reports that no response arrived within the bound
// configured for one request. Local to that request.
type RequestTimeoutError struct {
	Method  string
	Timeout time.Duration
}

// Error is an implementation of the error interface.
func (e *RequestTimeoutError) Error() string {
	return fmt.Sprintf("request %q timed out after %v", e.Method, e.Timeout)
}

// RequestCancelledError reports that the caller cancelled a pending request.
type RequestCancelledError struct {
	Method string
}

// Error is an implementation of the error interface.
func (e *RequestCancelledError) Error() string {
	return fmt.Sprintf("request %q cancelled", e.Method)
}

// IsSessionFatal reports whether the error forces the session into Failed.
// Transport and process errors propagate to every outstanding caller.
func IsSessionFatal(e error) bool {
	var te *TransportError
	var pe *ProcessExitError
	return stderr.As(e, &te) || stderr.As(e, &pe)
}

// IsTimeout reports whether the error is a per-request timeout.
func IsTimeout(e error) bool {
	var te *RequestTimeoutError
	return stderr.As(e, &te)
}
