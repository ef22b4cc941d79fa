// Package mapper converts between wire-level protocol shapes and the
// engine-agnostic result types returned to callers.
package mapper

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/tidwall/gjson"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/jaredhancock31/multilspy/src/multilspy/entity"
)

// LocationsFromRaw normalizes a definition or references result into a flat
// location list. Engines legitimately answer with null, a single Location,
// a Location array, or a LocationLink array.
func LocationsFromRaw(raw json.RawMessage, repoRoot string) ([]entity.Location, error) {
	parsed := gjson.ParseBytes(raw)
	switch {
	case !parsed.Exists() || parsed.Type == gjson.Null:
		return nil, nil

	case parsed.IsObject():
		var loc protocol.Location
		if err := json.Unmarshal(raw, &loc); err != nil {
			return nil, fmt.Errorf("decoding location: %w", err)
		}
		return []entity.Location{locationFromProtocol(loc, repoRoot)}, nil

	case parsed.IsArray():
		arr := parsed.Array()
		if len(arr) == 0 {
			return nil, nil
		}
		// LocationLink carries targetUri instead of uri.
		if arr[0].Get("targetUri").Exists() {
			var links []protocol.LocationLink
			if err := json.Unmarshal(raw, &links); err != nil {
				return nil, fmt.Errorf("decoding location links: %w", err)
			}
			out := make([]entity.Location, 0, len(links))
			for _, link := range links {
				out = append(out, locationFromProtocol(protocol.Location{
					URI:   link.TargetURI,
					Range: link.TargetSelectionRange,
				}, repoRoot))
			}
			return out, nil
		}
		var locs []protocol.Location
		if err := json.Unmarshal(raw, &locs); err != nil {
			return nil, fmt.Errorf("decoding locations: %w", err)
		}
		out := make([]entity.Location, 0, len(locs))
		for _, loc := range locs {
			out = append(out, locationFromProtocol(loc, repoRoot))
		}
		return out, nil
	}
	return nil, fmt.Errorf("unexpected location result shape: %s", parsed.Type)
}

func locationFromProtocol(loc protocol.Location, repoRoot string) entity.Location {
	out := entity.Location{
		URI:   string(loc.URI),
		Range: rangeFromProtocol(loc.Range),
	}
	if loc.URI != "" {
		out.AbsolutePath = loc.URI.Filename()
		if rel, err := filepath.Rel(repoRoot, out.AbsolutePath); err == nil && filepath.IsLocal(rel) {
			out.RelativePath = rel
		}
	}
	return out
}

// SymbolsFromRaw normalizes a document symbol result. Engines answer with
// either a hierarchical DocumentSymbol array or a flat SymbolInformation
// array; the latter is lifted into the hierarchical shape with no children.
func SymbolsFromRaw(raw json.RawMessage) ([]entity.Symbol, error) {
	parsed := gjson.ParseBytes(raw)
	if !parsed.Exists() || parsed.Type == gjson.Null {
		return nil, nil
	}
	if !parsed.IsArray() {
		return nil, fmt.Errorf("unexpected symbol result shape: %s", parsed.Type)
	}
	arr := parsed.Array()
	if len(arr) == 0 {
		return nil, nil
	}

	if arr[0].Get("location").Exists() {
		var infos []protocol.SymbolInformation
		if err := json.Unmarshal(raw, &infos); err != nil {
			return nil, fmt.Errorf("decoding symbol information: %w", err)
		}
		out := make([]entity.Symbol, 0, len(infos))
		for _, info := range infos {
			r := rangeFromProtocol(info.Location.Range)
			out = append(out, entity.Symbol{
				Name:           info.Name,
				Kind:           info.Kind,
				Range:          r,
				SelectionRange: r,
			})
		}
		return out, nil
	}

	var symbols []protocol.DocumentSymbol
	if err := json.Unmarshal(raw, &symbols); err != nil {
		return nil, fmt.Errorf("decoding document symbols: %w", err)
	}
	return symbolsFromProtocol(symbols), nil
}

func symbolsFromProtocol(symbols []protocol.DocumentSymbol) []entity.Symbol {
	if len(symbols) == 0 {
		return nil
	}
	out := make([]entity.Symbol, 0, len(symbols))
	for _, sym := range symbols {
		out = append(out, entity.Symbol{
			Name:           sym.Name,
			Kind:           sym.Kind,
			Range:          rangeFromProtocol(sym.Range),
			SelectionRange: rangeFromProtocol(sym.SelectionRange),
			Detail:         sym.Detail,
			Children:       symbolsFromProtocol(sym.Children),
		})
	}
	return out
}

// CompletionItemsFromRaw normalizes a completion result, which is either a
// CompletionList or a bare CompletionItem array.
func CompletionItemsFromRaw(raw json.RawMessage) ([]entity.CompletionItem, error) {
	parsed := gjson.ParseBytes(raw)
	if !parsed.Exists() || parsed.Type == gjson.Null {
		return nil, nil
	}

	var items []protocol.CompletionItem
	switch {
	case parsed.IsObject():
		var list protocol.CompletionList
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("decoding completion list: %w", err)
		}
		items = list.Items
	case parsed.IsArray():
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("decoding completion items: %w", err)
		}
	default:
		return nil, fmt.Errorf("unexpected completion result shape: %s", parsed.Type)
	}

	out := make([]entity.CompletionItem, 0, len(items))
	for _, item := range items {
		text := item.InsertText
		if text == "" && item.TextEdit != nil {
			text = item.TextEdit.NewText
		}
		if text == "" {
			text = item.Label
		}
		out = append(out, entity.CompletionItem{
			Text:   text,
			Kind:   item.Kind,
			Detail: item.Detail,
		})
	}
	return out, nil
}

// HoverFromRaw normalizes a hover result. The contents field may be a
// MarkupContent object, a bare string, a MarkedString object, or an array
// of either; everything collapses to plain text joined by blank lines.
func HoverFromRaw(raw json.RawMessage) (*entity.Hover, error) {
	parsed := gjson.ParseBytes(raw)
	if !parsed.Exists() || parsed.Type == gjson.Null {
		return nil, nil
	}
	contents := parsed.Get("contents")
	if !contents.Exists() {
		return nil, fmt.Errorf("hover result has no contents")
	}

	out := &entity.Hover{Kind: protocol.PlainText}
	switch {
	case contents.Type == gjson.String:
		out.Contents = contents.String()
	case contents.IsObject():
		if kind := contents.Get("kind"); kind.Exists() {
			out.Kind = protocol.MarkupKind(kind.String())
		}
		out.Contents = contents.Get("value").String()
	case contents.IsArray():
		var parts []string
		for _, part := range contents.Array() {
			if part.Type == gjson.String {
				parts = append(parts, part.String())
			} else if value := part.Get("value"); value.Exists() {
				parts = append(parts, value.String())
			}
		}
		out.Contents = joinSections(parts)
	default:
		return nil, fmt.Errorf("unexpected hover contents shape: %s", contents.Type)
	}
	return out, nil
}

func joinSections(parts []string) string {
	out := ""
	for i, part := range parts {
		if i > 0 {
			out += "\n\n"
		}
		out += part
	}
	return out
}

func rangeFromProtocol(r protocol.Range) entity.Range {
	return entity.Range{
		Start: entity.Position{Line: r.Start.Line, Character: r.Start.Character},
		End:   entity.Position{Line: r.End.Line, Character: r.End.Character},
	}
}

// PositionToProtocol converts a caller position into the wire form.
func PositionToProtocol(p entity.Position) protocol.Position {
	return protocol.Position{Line: p.Line, Character: p.Character}
}

// FileURI converts an absolute path into a file scheme URI.
func FileURI(path string) uri.URI {
	return uri.File(path)
}
