// Package text indexes document text by line and converts between byte
// offsets and LSP positions. Columns are counted in UTF-16 code units, as
// the protocol requires; offsets are byte offsets into the Go string.
package text

import (
	"fmt"
	"sort"
	"unicode/utf8"

	"fortio.org/safecast"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

const maxUInteger = ^protocol.UInteger(0)

// LineIndex records where each line of a text starts.
// Line terminators are "\r\n", "\n" and a lone "\r".
type LineIndex struct {
	text   string
	starts []int
}

// NewLineIndex builds the line index of text.
func NewLineIndex(text string) *LineIndex {
	starts := make([]int, 1, 1+len(text)/32)
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '\r':
			if i+1 < len(text) && text[i+1] == '\n' {
				i++
			}
			starts = append(starts, i+1)
		case '\n':
			starts = append(starts, i+1)
		}
	}
	return &LineIndex{text: text, starts: starts}
}

func (l *LineIndex) Text() string { return l.text }

func (l *LineIndex) Len() int { return len(l.text) }

func (l *LineIndex) LineCount() int { return len(l.starts) }

// LineStart returns the offset of the first byte of line. Lines past the
// end resolve to the end of the text.
func (l *LineIndex) LineStart(line int) int {
	if line < 0 {
		return 0
	}
	if line >= len(l.starts) {
		return len(l.text)
	}
	return l.starts[line]
}

// lineBounds returns the content of line without its terminator.
func (l *LineIndex) lineBounds(line int) (start, end int) {
	start = l.starts[line]
	if line+1 >= len(l.starts) {
		return start, len(l.text)
	}
	end = l.starts[line+1]
	if end > start && l.text[end-1] == '\n' {
		end--
	}
	if end > start && l.text[end-1] == '\r' {
		end--
	}
	return start, end
}

// Position converts a byte offset into a line/column position. Offsets
// outside the text are clamped, offsets inside a line terminator resolve to
// the end of that line.
func (l *LineIndex) Position(offset int) protocol.Position {
	if offset < 0 {
		offset = 0
	}
	if offset > len(l.text) {
		offset = len(l.text)
	}
	line := sort.Search(len(l.starts), func(i int) bool { return l.starts[i] > offset }) - 1
	start, end := l.lineBounds(line)
	if offset > end {
		offset = end
	}
	return protocol.Position{
		Line:      toUInteger(line),
		Character: toUInteger(utf16Len(l.text[start:offset])),
	}
}

// Offset converts a position into a byte offset. Lines past the end map to
// the end of the text, columns past the end of a line map to its end.
func (l *LineIndex) Offset(pos protocol.Position) int {
	line := int(pos.Line)
	if line >= len(l.starts) {
		return len(l.text)
	}
	start, end := l.lineBounds(line)
	units := 0
	off := start
	for off < end {
		r, size := utf8.DecodeRuneInString(l.text[off:end])
		need := 1
		if r > 0xFFFF {
			need = 2
		}
		if units+need > int(pos.Character) {
			break
		}
		units += need
		off += size
	}
	return off
}

// Range converts the byte span [start, end) into a protocol range.
func (l *LineIndex) Range(start, end int) protocol.Range {
	return protocol.Range{Start: l.Position(start), End: l.Position(end)}
}

// Offsets converts a protocol range into byte offsets.
func (l *LineIndex) Offsets(r protocol.Range) (start, end int) {
	start, end = l.Offset(r.Start), l.Offset(r.End)
	if end < start {
		end = start
	}
	return start, end
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		if r > 0xFFFF {
			n += 2
		} else {
			n++
		}
	}
	return n
}

func toUInteger(n int) protocol.UInteger {
	if n < 0 {
		return 0
	}
	v, err := safecast.Conv[protocol.UInteger](n)
	if err != nil {
		return maxUInteger
	}
	return v
}

// ApplyChange applies one content change event of a didChange notification
// to text. Ranged events splice the text, whole-document events replace it.
func ApplyChange(text string, change any) (string, error) {
	switch c := change.(type) {
	case protocol.TextDocumentContentChangeEvent:
		if c.Range == nil {
			return c.Text, nil
		}
		start, end := NewLineIndex(text).Offsets(*c.Range)
		return text[:start] + c.Text + text[end:], nil
	case protocol.TextDocumentContentChangeEventWhole:
		return c.Text, nil
	default:
		return text, fmt.Errorf("unexpected change event type %T", change)
	}
}

// ApplyChanges applies the content changes of one didChange notification in
// order; each change is relative to the result of the previous one.
func ApplyChanges(text string, changes []any) (string, error) {
	var err error
	for _, change := range changes {
		if text, err = ApplyChange(text, change); err != nil {
			return text, err
		}
	}
	return text, nil
}
