package session

import (
	"context"
	"encoding/json"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/jaredhancock31/multilspy/src/multilspy/entity"
	"github.com/jaredhancock31/multilspy/src/multilspy/internal/errors"
	"github.com/jaredhancock31/multilspy/src/multilspy/mapper"
)

// Definition resolves the definition sites for the symbol at pos.
func (s *Session) Definition(ctx context.Context, path string, pos entity.Position) ([]entity.Location, error) {
	if !s.caps.CanQueryDefinition() {
		return nil, errors.ErrUnsupportedOperation
	}
	docURI, err := s.queryTarget(path)
	if err != nil {
		return nil, err
	}

	var raw json.RawMessage
	if err := s.corr.Call(ctx, protocol.MethodTextDocumentDefinition, protocol.DefinitionParams{
		TextDocumentPositionParams: positionParams(docURI, pos),
	}, &raw, s.requestTimeout); err != nil {
		return nil, err
	}
	return mapper.LocationsFromRaw(raw, s.repoRoot)
}

// References resolves all reference sites for the symbol at pos, the
// declaration included.
func (s *Session) References(ctx context.Context, path string, pos entity.Position) ([]entity.Location, error) {
	if !s.caps.CanQueryReferences() {
		return nil, errors.ErrUnsupportedOperation
	}
	docURI, err := s.queryTarget(path)
	if err != nil {
		return nil, err
	}

	var raw json.RawMessage
	if err := s.corr.Call(ctx, protocol.MethodTextDocumentReferences, protocol.ReferenceParams{
		TextDocumentPositionParams: positionParams(docURI, pos),
		Context:                    protocol.ReferenceContext{IncludeDeclaration: true},
	}, &raw, s.requestTimeout); err != nil {
		return nil, err
	}
	return mapper.LocationsFromRaw(raw, s.repoRoot)
}

// Completion proposes completions at pos. Rejected when the engine did not
// negotiate a completion provider during the handshake.
func (s *Session) Completion(ctx context.Context, path string, pos entity.Position) ([]entity.CompletionItem, error) {
	if !s.caps.CanQueryCompletion() {
		return nil, errors.ErrUnsupportedOperation
	}
	docURI, err := s.queryTarget(path)
	if err != nil {
		return nil, err
	}
	if s.Capabilities().CompletionProvider == nil {
		return nil, errors.ErrUnsupportedOperation
	}

	var raw json.RawMessage
	if err := s.corr.Call(ctx, protocol.MethodTextDocumentCompletion, protocol.CompletionParams{
		TextDocumentPositionParams: positionParams(docURI, pos),
	}, &raw, s.requestTimeout); err != nil {
		return nil, err
	}
	return mapper.CompletionItemsFromRaw(raw)
}

// Hover resolves hover content for the symbol at pos, nil when the engine
// has nothing to say.
func (s *Session) Hover(ctx context.Context, path string, pos entity.Position) (*entity.Hover, error) {
	if !s.caps.CanQueryHover() {
		return nil, errors.ErrUnsupportedOperation
	}
	docURI, err := s.queryTarget(path)
	if err != nil {
		return nil, err
	}

	var raw json.RawMessage
	if err := s.corr.Call(ctx, protocol.MethodTextDocumentHover, protocol.HoverParams{
		TextDocumentPositionParams: positionParams(docURI, pos),
	}, &raw, s.requestTimeout); err != nil {
		return nil, err
	}
	return mapper.HoverFromRaw(raw)
}

// DocumentSymbols lists the symbols declared in the document.
func (s *Session) DocumentSymbols(ctx context.Context, path string) ([]entity.Symbol, error) {
	if !s.caps.CanQuerySymbols() {
		return nil, errors.ErrUnsupportedOperation
	}
	docURI, err := s.queryTarget(path)
	if err != nil {
		return nil, err
	}

	var raw json.RawMessage
	if err := s.corr.Call(ctx, protocol.MethodTextDocumentDocumentSymbol, protocol.DocumentSymbolParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: docURI},
	}, &raw, s.requestTimeout); err != nil {
		return nil, err
	}
	return mapper.SymbolsFromRaw(raw)
}

// queryTarget gates a content query on session and document state and
// resolves the document URI.
func (s *Session) queryTarget(path string) (uri.URI, error) {
	if err := s.requireReady(); err != nil {
		return "", err
	}
	path = s.canonicalPath(path)

	if s.caps.RequiresOpenDocument() {
		s.docMu.Lock()
		doc, ok := s.docs[path]
		s.docMu.Unlock()
		if !ok || !doc.Open {
			return "", errors.ErrDocumentNotOpen
		}
		return doc.URI, nil
	}
	return mapper.FileURI(path), nil
}

func positionParams(docURI uri.URI, pos entity.Position) protocol.TextDocumentPositionParams {
	return protocol.TextDocumentPositionParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: docURI},
		Position:     mapper.PositionToProtocol(pos),
	}
}
