package entity

import "encoding/json"

// LaunchSpec describes how to start an engine process. It is supplied by a
// per-engine adapter and consumed unmodified by the process supervisor.
type LaunchSpec struct {
	// Command is the executable to run.
	Command string `yaml:"command"`
	// Args are command-line arguments.
	Args []string `yaml:"args"`
	// WorkDir is the working directory, typically the repository root.
	WorkDir string `yaml:"workDir"`
	// Env holds additional KEY=VALUE pairs appended to the inherited environment.
	Env []string `yaml:"env"`
}

// EngineConfig bundles everything an adapter supplies for one engine variant.
// InitializePayload is opaque to the core: it is sent verbatim as the
// initialize request's parameters after placeholder expansion.
type EngineConfig struct {
	Name              string          `yaml:"name"`
	Launch            LaunchSpec      `yaml:"launch"`
	LanguageID        string          `yaml:"languageId"`
	InitializePayload json.RawMessage `yaml:"-"`
	// InitializePayloadPath points at a JSON payload template on disk, used
	// when InitializePayload is not set inline.
	InitializePayloadPath string `yaml:"initializePayloadPath"`
}

// EngineCaps is the per-variant capability set selected at session
// construction. Variants differ per engine; behavior is never selected by
// runtime type inspection.
type EngineCaps interface {
	// CanOpenDocuments reports whether the engine accepts document sync notifications.
	CanOpenDocuments() bool
	// CanQueryDefinition reports whether definition queries are supported.
	CanQueryDefinition() bool
	// CanQueryReferences reports whether reference queries are supported.
	CanQueryReferences() bool
	// CanQueryCompletion reports whether completion queries are supported.
	CanQueryCompletion() bool
	// CanQueryHover reports whether hover queries are supported.
	CanQueryHover() bool
	// CanQuerySymbols reports whether document symbol queries are supported.
	CanQuerySymbols() bool
	// RequiresOpenDocument reports whether content queries demand a prior didOpen.
	RequiresOpenDocument() bool
}

// ProtocolCaps is the default capability set for engines reached over the
// wire protocol: everything supported, documents must be opened first.
type ProtocolCaps struct{}

// CanOpenDocuments implements EngineCaps.
func (ProtocolCaps) CanOpenDocuments() bool { return true }

// CanQueryDefinition implements EngineCaps.
func (ProtocolCaps) CanQueryDefinition() bool { return true }

// CanQueryReferences implements EngineCaps.
func (ProtocolCaps) CanQueryReferences() bool { return true }

// CanQueryCompletion implements EngineCaps.
func (ProtocolCaps) CanQueryCompletion() bool { return true }

// CanQueryHover implements EngineCaps.
func (ProtocolCaps) CanQueryHover() bool { return true }

// CanQuerySymbols implements EngineCaps.
func (ProtocolCaps) CanQuerySymbols() bool { return true }

// RequiresOpenDocument implements EngineCaps.
func (ProtocolCaps) RequiresOpenDocument() bool { return true }
