package mapper

import (
	"bytes"

	"github.com/sergi/go-diff/diffmatchpatch"
	"go.lsp.dev/protocol"
)

// EditOffset is a byte-offset edit within a text: [start, end) is replaced
// with text.
type EditOffset struct {
	start int
	end   int
	text  string
}

// ChangeEventsFromTexts diffs two document snapshots into incremental
// didChange events. Events are ordered from the end of the document toward
// the start, so each range remains valid as the engine applies the batch
// sequentially.
func ChangeEventsFromTexts(before, after string) ([]protocol.TextDocumentContentChangeEvent, error) {
	if before == after {
		return nil, nil
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before, after, false)

	initialText, edits := diffsToEditOffsets(diffs)
	m := NewTextOffsetMapper(initialText.Bytes())

	events := make([]protocol.TextDocumentContentChangeEvent, 0, len(edits))
	for i := len(edits) - 1; i >= 0; i-- {
		edit := edits[i]
		start, err := m.OffsetPosition(edit.start)
		if err != nil {
			return nil, err
		}
		end, err := m.OffsetPosition(edit.end)
		if err != nil {
			return nil, err
		}
		events = append(events, protocol.TextDocumentContentChangeEvent{
			Range: &protocol.Range{Start: start, End: end},
			Text:  edit.text,
		})
	}
	return events, nil
}

// FullChangeEvent replaces the whole document, for engines that only
// advertise full text synchronization.
func FullChangeEvent(text string) []protocol.TextDocumentContentChangeEvent {
	return []protocol.TextDocumentContentChangeEvent{{Text: text}}
}

// diffsToEditOffsets converts diffs into offset based edits within the
// initial text, merging a deletion with a directly following insertion into
// a single replacement.
func diffsToEditOffsets(diffs []diffmatchpatch.Diff) (bytes.Buffer, []EditOffset) {
	var initialText bytes.Buffer
	edits := make([]EditOffset, 0, len(diffs))
	offset := 0
	for _, d := range diffs {
		start := offset
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			initialText.WriteString(d.Text)
			offset += len(d.Text)
			edits = append(edits, EditOffset{start: start, end: offset})
		case diffmatchpatch.DiffEqual:
			initialText.WriteString(d.Text)
			offset += len(d.Text)
		case diffmatchpatch.DiffInsert:
			if n := len(edits); n > 0 && edits[n-1].end == start && edits[n-1].text == "" {
				edits[n-1].text = d.Text
				continue
			}
			edits = append(edits, EditOffset{start: start, end: start, text: d.Text})
		}
	}
	return initialText, edits
}
