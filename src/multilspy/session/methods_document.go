package session

import (
	"context"
	"os"
	"path/filepath"

	"go.lsp.dev/protocol"

	"github.com/jaredhancock31/multilspy/src/multilspy/entity"
	"github.com/jaredhancock31/multilspy/src/multilspy/internal/errors"
	"github.com/jaredhancock31/multilspy/src/multilspy/mapper"
)

// OpenDocument reads path from disk and announces it open to the engine with
// version 1. Notifications for one document are emitted in call order; the
// document lock is held across the write to keep it that way.
func (s *Session) OpenDocument(ctx context.Context, path string) error {
	if err := s.requireReady(); err != nil {
		return err
	}
	if !s.caps.CanOpenDocuments() {
		return errors.ErrUnsupportedOperation
	}
	path = s.canonicalPath(path)

	s.docMu.Lock()
	defer s.docMu.Unlock()

	if doc, ok := s.docs[path]; ok && doc.Open {
		return errors.ErrDocumentAlreadyOpen
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	doc := &entity.Document{
		Path:       path,
		URI:        mapper.FileURI(path),
		LanguageID: protocol.LanguageIdentifier(s.cfg.LanguageID),
		Version:    1,
		Open:       true,
		Content:    string(content),
	}
	if err := s.corr.Notify(protocol.MethodTextDocumentDidOpen, protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{
			URI:        doc.URI,
			LanguageID: doc.LanguageID,
			Version:    doc.Version,
			Text:       doc.Content,
		},
	}); err != nil {
		return err
	}
	s.docs[path] = doc

	if s.watcher != nil {
		if err := s.watcher.Add(path); err != nil {
			s.logger.Debugw("watching document failed", "path", path, "error", err)
		}
	}
	s.scope.Counter("documents_opened").Inc(1)
	return nil
}

// ChangeDocument replaces the open document's content, sending the engine a
// minimal incremental change set and bumping the version counter.
func (s *Session) ChangeDocument(ctx context.Context, path, content string) error {
	if err := s.requireReady(); err != nil {
		return err
	}
	if !s.caps.CanOpenDocuments() {
		return errors.ErrUnsupportedOperation
	}
	path = s.canonicalPath(path)

	s.docMu.Lock()
	defer s.docMu.Unlock()

	doc, ok := s.docs[path]
	if !ok || !doc.Open {
		return errors.ErrDocumentNotOpen
	}
	if doc.Content == content {
		return nil
	}

	changes, err := mapper.ChangeEventsFromTexts(doc.Content, content)
	if err != nil {
		// Positions could not be derived; a whole-document replacement is
		// always expressible.
		changes = mapper.FullChangeEvent(content)
	}

	doc.Version++
	if err := s.corr.Notify(protocol.MethodTextDocumentDidChange, protocol.DidChangeTextDocumentParams{
		TextDocument: protocol.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: doc.URI},
			Version:                doc.Version,
		},
		ContentChanges: changes,
	}); err != nil {
		doc.Version--
		return err
	}
	doc.Content = content
	doc.Dirty = false
	return nil
}

// CloseDocument announces the document closed and forgets its state.
func (s *Session) CloseDocument(ctx context.Context, path string) error {
	if err := s.requireReady(); err != nil {
		return err
	}
	if !s.caps.CanOpenDocuments() {
		return errors.ErrUnsupportedOperation
	}
	path = s.canonicalPath(path)

	s.docMu.Lock()
	defer s.docMu.Unlock()

	doc, ok := s.docs[path]
	if !ok || !doc.Open {
		return errors.ErrDocumentNotOpen
	}
	if err := s.corr.Notify(protocol.MethodTextDocumentDidClose, protocol.DidCloseTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: doc.URI},
	}); err != nil {
		return err
	}
	delete(s.docs, path)
	delete(s.diags, string(doc.URI))

	if s.watcher != nil {
		s.watcher.Remove(path)
	}
	return nil
}

// Document returns a snapshot of one open document's client-side state.
func (s *Session) Document(path string) (entity.Document, bool) {
	path = s.canonicalPath(path)
	s.docMu.Lock()
	defer s.docMu.Unlock()
	doc, ok := s.docs[path]
	if !ok {
		return entity.Document{}, false
	}
	return *doc, true
}

// Diagnostics returns the engine's last published diagnostics for path,
// nil when none have arrived.
func (s *Session) Diagnostics(path string) []protocol.Diagnostic {
	key := string(mapper.FileURI(s.canonicalPath(path)))
	s.docMu.Lock()
	defer s.docMu.Unlock()
	return s.diags[key]
}

// markDirty records an external modification to an open document's file.
func (s *Session) markDirty(path string) {
	s.docMu.Lock()
	defer s.docMu.Unlock()
	doc, ok := s.docs[path]
	if !ok || !doc.Open {
		return
	}
	doc.Dirty = true
	s.scope.Counter("documents_dirtied").Inc(1)
}

// canonicalPath makes path absolute relative to the repository root.
func (s *Session) canonicalPath(path string) string {
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.repoRoot, path)
	}
	return filepath.Clean(path)
}
