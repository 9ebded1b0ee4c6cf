// Package differ computes minimal edit scripts between two versions of a
// generated projection so that only the changed regions need to be sent to
// the client.
package differ

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrOverlappingEdits is returned by Apply for edits that are out of order,
// overlap or fall outside the text.
var ErrOverlappingEdits = errors.New("differ: overlapping or out of range edits")

// maxCost bounds the edit distance explored by the LCS core. Past it the
// changed middle region is replaced as a whole.
const maxCost = 1024

// Edit replaces the bytes [Start, End) of the old text with NewText.
type Edit struct {
	Start   int
	End     int
	NewText string
}

func (e Edit) String() string {
	return fmt.Sprintf("[%d,%d) -> %q", e.Start, e.End, e.NewText)
}

// Diff returns the edits that turn oldText into newText, ordered by
// ascending start offset and non-overlapping. With lineOnly set the
// comparison works on whole lines (terminators included), otherwise on
// runes.
func Diff(oldText, newText string, lineOnly bool) []Edit {
	if oldText == newText {
		return nil
	}

	var edits []Edit
	if lineOnly {
		edits = diffTokens(oldText, newText, splitLines(oldText), splitLines(newText))
	} else {
		edits = diffTokens(oldText, newText, splitRunes(oldText), splitRunes(newText))
	}

	if verifyRoundTrip {
		got, err := Apply(oldText, edits)
		if err != nil {
			panic(fmt.Sprintf("differ: invalid edit script: %v", err))
		}
		if got != newText {
			panic(fmt.Sprintf("differ: edit script does not reproduce new text (lineOnly=%v)", lineOnly))
		}
	}
	return edits
}

// Apply applies edits produced by Diff to text.
func Apply(text string, edits []Edit) (string, error) {
	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for i, e := range edits {
		if e.Start < last || e.End < e.Start || e.End > len(text) {
			return "", fmt.Errorf("%w: edit %d %s after offset %d", ErrOverlappingEdits, i, e, last)
		}
		b.WriteString(text[last:e.Start])
		b.WriteString(e.NewText)
		last = e.End
	}
	b.WriteString(text[last:])
	return b.String(), nil
}

// tokens is a tokenized text. offsets has one more element than items, the
// last being the length of the text.
type tokens[T comparable] struct {
	items   []T
	offsets []int
}

func splitRunes(s string) tokens[rune] {
	t := tokens[rune]{
		items:   make([]rune, 0, len(s)),
		offsets: make([]int, 0, len(s)+1),
	}
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			// Keep invalid bytes distinct from each other.
			r = -rune(s[i])
		}
		t.items = append(t.items, r)
		t.offsets = append(t.offsets, i)
		i += size
	}
	t.offsets = append(t.offsets, len(s))
	return t
}

func splitLines(s string) tokens[string] {
	var t tokens[string]
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\r':
			if i+1 < len(s) && s[i+1] == '\n' {
				i++
			}
		case '\n':
		default:
			continue
		}
		t.items = append(t.items, s[start:i+1])
		t.offsets = append(t.offsets, start)
		start = i + 1
	}
	if start < len(s) {
		t.items = append(t.items, s[start:])
		t.offsets = append(t.offsets, start)
	}
	t.offsets = append(t.offsets, len(s))
	return t
}

// hunk is a changed region in token indices: a[A0:A1] becomes b[B0:B1].
type hunk struct {
	A0, A1 int
	B0, B1 int
}

func diffTokens[T comparable](oldText, newText string, a, b tokens[T]) []Edit {
	n, m := len(a.items), len(b.items)

	prefix := 0
	for prefix < n && prefix < m && a.items[prefix] == b.items[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < n-prefix && suffix < m-prefix && a.items[n-1-suffix] == b.items[m-1-suffix] {
		suffix++
	}

	hunks, ok := lcsHunks(a.items[prefix:n-suffix], b.items[prefix:m-suffix])
	if !ok {
		hunks = []hunk{{A0: 0, A1: n - prefix - suffix, B0: 0, B1: m - prefix - suffix}}
	}

	edits := make([]Edit, 0, len(hunks))
	for _, h := range hunks {
		edits = append(edits, Edit{
			Start:   a.offsets[prefix+h.A0],
			End:     a.offsets[prefix+h.A1],
			NewText: newText[b.offsets[prefix+h.B0]:b.offsets[prefix+h.B1]],
		})
	}
	return edits
}

// lcsHunks runs the greedy O(ND) shortest edit script search over a and b
// and groups the resulting deletions and insertions into hunks. It reports
// false when the edit distance exceeds maxCost.
func lcsHunks[T comparable](a, b []T) ([]hunk, bool) {
	n, m := len(a), len(b)
	if n == 0 && m == 0 {
		return nil, true
	}
	if n == 0 || m == 0 {
		return []hunk{{A0: 0, A1: n, B0: 0, B1: m}}, true
	}

	limit := min(n+m, maxCost)
	offset := limit + 1
	v := make([]int, 2*limit+3)
	// trace[d] holds v[-d-1 .. d+1] as it was before round d.
	var trace [][]int
	found := false

	for d := 0; d <= limit && !found; d++ {
		trace = append(trace, append([]int(nil), v[offset-d-1:offset+d+2]...))
		for k := -d; k <= d; k += 2 {
			var x int
			if k == -d || (k != d && v[offset+k-1] < v[offset+k+1]) {
				x = v[offset+k+1]
			} else {
				x = v[offset+k-1] + 1
			}
			y := x - k
			for x < n && y < m && a[x] == b[y] {
				x++
				y++
			}
			v[offset+k] = x
			if x >= n && y >= m {
				found = true
				break
			}
		}
	}
	if !found {
		return nil, false
	}

	// Walk back from (n, m). Each round d > 0 contributes exactly one
	// deletion or insertion, preceded by a diagonal of equal tokens.
	var steps []hunk
	x, y := n, m
	for d := len(trace) - 1; d > 0; d-- {
		row := trace[d]
		at := func(k int) int { return row[k+d+1] }
		k := x - y
		var prevK int
		if k == -d || (k != d && at(k-1) < at(k+1)) {
			prevK = k + 1
		} else {
			prevK = k - 1
		}
		prevX := at(prevK)
		prevY := prevX - prevK
		if prevK == k-1 {
			steps = append(steps, hunk{A0: prevX, A1: prevX + 1, B0: prevY, B1: prevY})
		} else {
			steps = append(steps, hunk{A0: prevX, A1: prevX, B0: prevY, B1: prevY + 1})
		}
		x, y = prevX, prevY
	}

	var hunks []hunk
	for i := len(steps) - 1; i >= 0; i-- {
		h := steps[i]
		if len(hunks) > 0 {
			last := &hunks[len(hunks)-1]
			if last.A1 == h.A0 && last.B1 == h.B0 {
				last.A1 = h.A1
				last.B1 = h.B1
				continue
			}
		}
		hunks = append(hunks, h)
	}
	return hunks, true
}
