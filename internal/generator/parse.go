package generator

import (
	"strings"

	"loom/internal/mapping"
)

type segmentKind int

const (
	markupSegment segmentKind = iota
	codeSegment
	exprSegment
	importSegment
	commentSegment
	escapeSegment
)

// segment is one construct of a template. Start and End cover the whole
// construct including its delimiters; Body is the part that is projected.
type segment struct {
	Kind  segmentKind
	Start int
	End   int
	Body  mapping.Span
	// Problem is set for constructs that are not terminated or malformed.
	Problem string
}

func isIdentStart(c byte) bool {
	return c == '_' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

func isIdentByte(c byte) bool {
	return isIdentStart(c) || ('0' <= c && c <= '9')
}

// parse splits src into segments. Markup segments are never empty; all
// segments together cover src without gaps.
func parse(src string) []segment {
	var segs []segment
	markStart := 0
	flush := func(end int) {
		if end > markStart {
			segs = append(segs, segment{
				Kind:  markupSegment,
				Start: markStart,
				End:   end,
				Body:  mapping.Span{Start: markStart, Length: end - markStart},
			})
		}
	}
	add := func(s segment) {
		flush(s.Start)
		segs = append(segs, s)
		markStart = s.End
	}

	i := 0
	for i < len(src) {
		if src[i] != '@' || i+1 >= len(src) || (i > 0 && isIdentByte(src[i-1])) {
			i++
			continue
		}

		switch c := src[i+1]; {
		case c == '@':
			add(segment{Kind: escapeSegment, Start: i, End: i + 1})
			// The second at sign is markup.
			i += 2

		case c == '*':
			s := segment{Kind: commentSegment, Start: i, End: len(src)}
			if end := strings.Index(src[i+2:], "*@"); end >= 0 {
				s.End = i + 2 + end + 2
			} else {
				s.Problem = "unterminated comment"
			}
			add(s)
			i = s.End

		case c == '{':
			add(balancedSegment(src, i, codeSegment, '{', '}', "unterminated code block"))
			i = markStart

		case c == '(':
			add(balancedSegment(src, i, exprSegment, '(', ')', "unterminated expression"))
			i = markStart

		case isDirective(src, i+1, "import"):
			add(importDirective(src, i))
			i = markStart

		case isIdentStart(c):
			add(implicitExpression(src, i))
			i = markStart

		default:
			i++
		}
	}
	flush(len(src))
	return segs
}

func isDirective(src string, at int, name string) bool {
	if !strings.HasPrefix(src[at:], name) {
		return false
	}
	end := at + len(name)
	return end == len(src) || !isIdentByte(src[end])
}

func balancedSegment(src string, at int, kind segmentKind, open, close byte, problem string) segment {
	bodyStart := at + 2
	end := scanBalanced(src, bodyStart, open, close)
	if end < 0 {
		return segment{
			Kind:    kind,
			Start:   at,
			End:     len(src),
			Body:    mapping.Span{Start: bodyStart, Length: len(src) - bodyStart},
			Problem: problem,
		}
	}
	return segment{
		Kind:  kind,
		Start: at,
		End:   end + 1,
		Body:  mapping.Span{Start: bodyStart, Length: end - bodyStart},
	}
}

// scanBalanced returns the index of the close byte matching an open byte
// just before from, or -1. Go string and rune literals are skipped.
func scanBalanced(src string, from int, open, close byte) int {
	depth := 1
	for i := from; i < len(src); i++ {
		switch c := src[i]; c {
		case '"', '\'':
			i = skipQuoted(src, i, c)
		case '`':
			if end := strings.IndexByte(src[i+1:], '`'); end >= 0 {
				i += end + 1
			} else {
				return -1
			}
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// skipQuoted returns the index of the quote closing the literal that starts
// at i. Unterminated literals end at the line break.
func skipQuoted(src string, i int, quote byte) int {
	for j := i + 1; j < len(src); j++ {
		switch src[j] {
		case '\\':
			j++
		case quote:
			return j
		case '\n':
			return j - 1
		}
	}
	return len(src) - 1
}

func importDirective(src string, at int) segment {
	j := at + 1 + len("import")
	for j < len(src) && (src[j] == ' ' || src[j] == '\t') {
		j++
	}
	if j < len(src) && src[j] == '"' {
		if end := strings.IndexAny(src[j+1:], "\"\r\n"); end >= 0 && src[j+1+end] == '"' {
			closing := j + 1 + end
			return segment{
				Kind:  importSegment,
				Start: at,
				End:   closing + 1,
				Body:  mapping.Span{Start: j, Length: closing + 1 - j},
			}
		}
	}
	end := at + 1 + len("import")
	return segment{
		Kind:    importSegment,
		Start:   at,
		End:     end,
		Body:    mapping.Span{Start: end, Length: 0},
		Problem: "import directive expects a quoted path",
	}
}

// implicitExpression reads @name.member(args)[index] chains.
func implicitExpression(src string, at int) segment {
	j := scanIdent(src, at+1)
	for j < len(src) {
		switch {
		case src[j] == '.' && j+1 < len(src) && isIdentStart(src[j+1]):
			j = scanIdent(src, j+1)
			continue
		case src[j] == '(':
			if end := scanBalanced(src, j+1, '(', ')'); end >= 0 {
				j = end + 1
				continue
			}
		case src[j] == '[':
			if end := scanBalanced(src, j+1, '[', ']'); end >= 0 {
				j = end + 1
				continue
			}
		}
		break
	}
	return segment{
		Kind:  exprSegment,
		Start: at,
		End:   j,
		Body:  mapping.Span{Start: at + 1, Length: j - at - 1},
	}
}

func scanIdent(src string, i int) int {
	for i < len(src) && isIdentByte(src[i]) {
		i++
	}
	return i
}
