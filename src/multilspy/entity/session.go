// Package entity contains the domain types shared across the multilspy client engine.
package entity

import (
	"github.com/gofrs/uuid"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

// SessionState identifies where a session is in its lifecycle.
type SessionState int32

const (
	// StateUnstarted means the session has been constructed but Start has not been called.
	StateUnstarted SessionState = iota
	// StateInitializing means the engine process is up and the initialize handshake is in flight.
	StateInitializing
	// StateReady means the handshake completed and document/query operations are accepted.
	StateReady
	// StateShuttingDown means Stop has begun and no new operations are accepted.
	StateShuttingDown
	// StateStopped means the engine process has been terminated. Terminal.
	StateStopped
	// StateFailed means an unrecoverable transport or process failure
	// occurred. No operations are accepted; Stop still moves the session
	// to StateStopped once the process is reaped.
	StateFailed
)

// String returns a human-readable state name.
func (s SessionState) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateShuttingDown:
		return "shutting down"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the session has ended: no operations are
// accepted and only Stop's Failed to Stopped cleanup transition remains.
func (s SessionState) Terminal() bool {
	return s == StateStopped || s == StateFailed
}

// SessionInfo is the descriptive snapshot of a session stored in the repository.
type SessionInfo struct {
	UUID           uuid.UUID    `json:"uuid" zap:"uuid"`
	RepositoryRoot string       `json:"repositoryRoot" zap:"repositoryRoot"`
	Engine         string       `json:"engine" zap:"engine"`
	State          SessionState `json:"state" zap:"state"`
}

// Document tracks the client-side state of one open file.
type Document struct {
	// Path is the canonical absolute path of the file.
	Path string
	// URI is the file URI sent to the engine.
	URI uri.URI
	// LanguageID is the language identifier sent on open.
	LanguageID protocol.LanguageIdentifier
	// Version is incremented on every change notification, starting at 1 on open.
	Version int32
	// Open reports whether a didOpen has been sent without a matching didClose.
	Open bool
	// Dirty is set when the file changed on disk behind the open copy.
	Dirty bool
	// Content is the last text the engine was told about.
	Content string
}
