package differ_test

import (
	"errors"
	"strings"
	"testing"

	"loom/internal/differ"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, oldText, newText string, lineOnly bool) []differ.Edit {
	t.Helper()
	edits := differ.Diff(oldText, newText, lineOnly)
	got, err := differ.Apply(oldText, edits)
	require.NoError(t, err)
	require.Equal(t, newText, got)
	return edits
}

func TestDiffLines(t *testing.T) {
	edits := roundTrip(t, "Hello\r\nWorld\r\n123", "Hola\r\nWorld\r\n\r\n1234", true)
	assert.Equal(t, []differ.Edit{
		{Start: 0, End: 7, NewText: "Hola\r\n"},
		{Start: 14, End: 17, NewText: "\r\n1234"},
	}, edits)
}

func TestDiffRunes(t *testing.T) {
	tests := []struct {
		name    string
		oldText string
		newText string
		want    []differ.Edit
	}{
		{"identical", "same", "same", nil},
		{"insert", "abc", "abXc", []differ.Edit{{Start: 2, End: 2, NewText: "X"}}},
		{"delete", "abXc", "abc", []differ.Edit{{Start: 2, End: 3, NewText: ""}}},
		{"multibyte", "héllo", "hallo", []differ.Edit{{Start: 1, End: 3, NewText: "a"}}},
		{"from empty", "", "new", []differ.Edit{{Start: 0, End: 0, NewText: "new"}}},
		{"to empty", "old", "", []differ.Edit{{Start: 0, End: 3, NewText: ""}}},
		{
			"two separate changes",
			"func a() { return 1 }",
			"func b() { return 2 }",
			[]differ.Edit{
				{Start: 5, End: 6, NewText: "b"},
				{Start: 18, End: 19, NewText: "2"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := roundTrip(t, tt.oldText, tt.newText, false)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDiffEditsAreOrdered(t *testing.T) {
	oldText := "one\ntwo\nthree\nfour\nfive\n"
	newText := "zero\none\n2\nthree\nfive\nsix\n"
	for _, lineOnly := range []bool{false, true} {
		edits := roundTrip(t, oldText, newText, lineOnly)
		for i := 1; i < len(edits); i++ {
			assert.LessOrEqual(t, edits[i-1].End, edits[i].Start, "edits %d and %d", i-1, i)
		}
	}
}

func TestDiffFallsBackOnLargeDistance(t *testing.T) {
	oldText := strings.Repeat("a", 1500)
	newText := strings.Repeat("b", 1500)

	edits := roundTrip(t, oldText, newText, false)
	assert.Equal(t, []differ.Edit{{Start: 0, End: 1500, NewText: newText}}, edits)
}

func TestApplyRejectsOverlappingEdits(t *testing.T) {
	_, err := differ.Apply("abcdef", []differ.Edit{
		{Start: 1, End: 4, NewText: "x"},
		{Start: 3, End: 5, NewText: "y"},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, differ.ErrOverlappingEdits))

	_, err = differ.Apply("abc", []differ.Edit{{Start: 2, End: 9}})
	assert.True(t, errors.Is(err, differ.ErrOverlappingEdits))
}

func FuzzDiff(f *testing.F) {
	seeds := [][2]string{
		{"", ""},
		{"Hello\r\nWorld\r\n123", "Hola\r\nWorld\r\n\r\n1234"},
		{"a\rb\nc", "a\r\nb\nc\r"},
		{"@{ var x = 1; }", "@{ var y = 2; }"},
		{"日本語", "日本"},
	}
	for _, s := range seeds {
		f.Add(s[0], s[1])
	}

	f.Fuzz(func(t *testing.T, oldText, newText string) {
		for _, lineOnly := range []bool{false, true} {
			edits := differ.Diff(oldText, newText, lineOnly)
			got, err := differ.Apply(oldText, edits)
			if err != nil {
				t.Fatalf("Apply() error = %v", err)
			}
			if got != newText {
				t.Fatalf("lineOnly=%v: Apply(Diff(%q, %q)) = %q", lineOnly, oldText, newText, got)
			}
		}
	})
}
