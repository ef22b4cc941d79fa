package entity

import "go.lsp.dev/protocol"

// The common result shapes returned to callers. They are language-agnostic
// and identical regardless of which engine variant served the query.

// Position is a zero-based line/character pair.
type Position struct {
	Line      uint32 `json:"line"`
	Character uint32 `json:"character"`
}

// Range is a half-open [Start, End) span within a document.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Location identifies a span of text in a file.
type Location struct {
	URI          string `json:"uri"`
	Range        Range  `json:"range"`
	AbsolutePath string `json:"absolutePath"`
	// RelativePath is relative to the repository root, empty when the
	// location falls outside the repository.
	RelativePath string `json:"relativePath"`
}

// Symbol describes a named program construct within a document.
type Symbol struct {
	Name           string              `json:"name"`
	Kind           protocol.SymbolKind `json:"kind"`
	Range          Range               `json:"range"`
	SelectionRange Range               `json:"selectionRange"`
	Detail         string              `json:"detail,omitempty"`
	Children       []Symbol            `json:"children,omitempty"`
}

// CompletionItem is a single completion proposal.
type CompletionItem struct {
	Text   string                      `json:"text"`
	Kind   protocol.CompletionItemKind `json:"kind"`
	Detail string                      `json:"detail,omitempty"`
}

// Hover carries the textual hover content for a position.
type Hover struct {
	Contents string              `json:"contents"`
	Kind     protocol.MarkupKind `json:"kind"`
}
