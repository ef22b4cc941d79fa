package mapper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/protocol"
)

// applyChanges replays incremental events against a document the way an
// engine would, converting each range back to byte offsets as it goes.
func applyChanges(t *testing.T, text string, events []protocol.TextDocumentContentChangeEvent) string {
	t.Helper()
	for _, ev := range events {
		require.NotNil(t, ev.Range)
		m := NewTextOffsetMapper([]byte(text))
		start, err := m.PositionOffset(ev.Range.Start)
		require.NoError(t, err)
		end, err := m.PositionOffset(ev.Range.End)
		require.NoError(t, err)
		text = text[:start] + ev.Text + text[end:]
	}
	return text
}

func TestChangeEventsFromTexts(t *testing.T) {
	tests := []struct {
		name   string
		before string
		after  string
	}{
		{
			name:   "identical snapshots",
			before: "package a\n",
			after:  "package a\n",
		},
		{
			name:   "append line",
			before: "package a\n",
			after:  "package a\n\nfunc b() {}\n",
		},
		{
			name:   "delete line",
			before: "package a\n\nvar x = 1\n",
			after:  "package a\n",
		},
		{
			name:   "replace in place",
			before: "func handler(w io.Writer) error {\n\treturn nil\n}\n",
			after:  "func handler(w io.Writer) (int, error) {\n\treturn 0, nil\n}\n",
		},
		{
			name:   "multiple disjoint edits",
			before: "alpha\nbravo\ncharlie\ndelta\n",
			after:  "alpha\nBRAVO\ncharlie\nDELTA!\n",
		},
		{
			name:   "multibyte runes",
			before: "// naïve\nvar café = 1\n",
			after:  "// naïve\nvar café = 2\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := ChangeEventsFromTexts(tt.before, tt.after)
			require.NoError(t, err)
			if tt.before == tt.after {
				assert.Empty(t, events)
				return
			}
			assert.Equal(t, tt.after, applyChanges(t, tt.before, events))
		})
	}
}

func TestChangeEventsOrderedBackToFront(t *testing.T) {
	events, err := ChangeEventsFromTexts("alpha\nbravo\ncharlie\n", "ALPHA\nbravo\nCHARLIE\n")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(events), 2)
	for i := 1; i < len(events); i++ {
		prev, cur := events[i-1].Range, events[i].Range
		assert.True(t, cur.Start.Line < prev.Start.Line ||
			(cur.Start.Line == prev.Start.Line && cur.Start.Character <= prev.Start.Character))
	}
}

func TestFullChangeEvent(t *testing.T) {
	events := FullChangeEvent("whole document")
	require.Len(t, events, 1)
	assert.Nil(t, events[0].Range)
	assert.Equal(t, "whole document", events[0].Text)
}
