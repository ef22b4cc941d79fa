package errors

import (
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsStateError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "not ready", err: ErrNotReady, want: true},
		{name: "already started", err: ErrAlreadyStarted, want: true},
		{name: "document not open", err: ErrDocumentNotOpen, want: true},
		{name: "unsupported", err: ErrUnsupportedOperation, want: true},
		{name: "wrapped", err: fmt.Errorf("query: %w", ErrNotReady), want: true},
		{name: "unrelated", err: io.EOF, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsStateError(tt.err))
		})
	}
}

func TestIsSessionFatal(t *testing.T) {
	assert.True(t, IsSessionFatal(&TransportError{Err: io.ErrUnexpectedEOF}))
	assert.True(t, IsSessionFatal(&ProcessExitError{ExitCode: 1}))
	assert.True(t, IsSessionFatal(fmt.Errorf("read loop: %w", &TransportError{Err: io.EOF})))
	assert.False(t, IsSessionFatal(&RequestTimeoutError{Method: "textDocument/definition"}))
	assert.False(t, IsSessionFatal(ErrNotReady))
}

func TestErrorMessages(t *testing.T) {
	assert.Contains(t, (&ProcessExitError{ExitCode: 137, Stderr: "killed"}).Error(), "137")
	assert.Contains(t, (&ProcessExitError{ExitCode: 2}).Error(), "code 2")
	assert.Contains(t, (&RequestTimeoutError{Method: "initialize", Timeout: time.Second}).Error(), "initialize")
	assert.Contains(t, (&RequestCancelledError{Method: "textDocument/hover"}).Error(), "cancelled")
	assert.ErrorIs(t, (&TransportError{Err: io.EOF}).Unwrap(), io.EOF)
}

func TestIsTimeout(t *testing.T) {
	assert.True(t, IsTimeout(&RequestTimeoutError{Method: "x"}))
	assert.False(t, IsTimeout(ErrNotReady))
}
