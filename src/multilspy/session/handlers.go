package session

import (
	"context"
	"encoding/json"

	"go.lsp.dev/protocol"
)

// registerDefaultHandlers installs the baseline handlers every session
// carries. Adapters may replace any of them before Start.
func (s *Session) registerDefaultHandlers() {
	s.table.RegisterNotification(protocol.MethodWindowLogMessage, s.handleLogMessage)
	s.table.RegisterNotification(protocol.MethodTextDocumentPublishDiagnostics, s.handlePublishDiagnostics)
	// Progress chatter is dropped on the floor; registering it silences the
	// unhandled-notification counter for a method every engine emits.
	s.table.RegisterNotification(protocol.MethodProgress, func(context.Context, json.RawMessage) {})
}

// handleLogMessage mirrors the engine's window/logMessage traffic into the
// session log at a matching level.
func (s *Session) handleLogMessage(_ context.Context, params json.RawMessage) {
	var msg protocol.LogMessageParams
	if err := json.Unmarshal(params, &msg); err != nil {
		s.logger.Debugw("malformed logMessage params", "error", err)
		return
	}
	switch msg.Type {
	case protocol.MessageTypeError:
		s.logger.Errorw("engine log", "message", msg.Message)
	case protocol.MessageTypeWarning:
		s.logger.Warnw("engine log", "message", msg.Message)
	case protocol.MessageTypeInfo:
		s.logger.Infow("engine log", "message", msg.Message)
	default:
		s.logger.Debugw("engine log", "message", msg.Message)
	}
}

// handlePublishDiagnostics retains the latest diagnostics per document,
// last write wins.
func (s *Session) handlePublishDiagnostics(_ context.Context, params json.RawMessage) {
	var diag protocol.PublishDiagnosticsParams
	if err := json.Unmarshal(params, &diag); err != nil {
		s.logger.Debugw("malformed publishDiagnostics params", "error", err)
		return
	}
	s.docMu.Lock()
	s.diags[string(diag.URI)] = diag.Diagnostics
	s.docMu.Unlock()
	s.scope.Counter("diagnostics_published").Inc(1)
}
