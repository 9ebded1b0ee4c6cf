// Package mapping translates positions between a host template and one of
// its generated projections using the ordered source mappings emitted by the
// generator.
//
// A span contains both of its edges: an index equal to Start or to
// Start+Length is inside the span. The first mapping in declaration order
// that contains an index wins.
package mapping

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"loom/internal/text"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

// ErrMalformedMapping is reported by Validate for mapping data that no
// document could have produced.
var ErrMalformedMapping = errors.New("mapping: malformed source mapping")

// UndefinedRange marks a diagnostic whose location could not be mapped.
var UndefinedRange = protocol.Range{
	Start: protocol.Position{Line: math.MaxInt32, Character: math.MaxInt32},
	End:   protocol.Position{Line: math.MaxInt32, Character: math.MaxInt32},
}

// IsUndefined reports whether r is UndefinedRange.
func IsUndefined(r protocol.Range) bool {
	return r == UndefinedRange
}

// Span is a region of a document given by its absolute start offset and
// length.
type Span struct {
	Start  int `json:"start" msgpack:"start"`
	Length int `json:"length" msgpack:"length"`
}

func (s Span) End() int { return s.Start + s.Length }

func (s Span) String() string { return fmt.Sprintf("[%d,%d)", s.Start, s.End()) }

func (s Span) contains(index int) bool {
	return s.Start <= index && index <= s.End()
}

// SourceMapping pairs a span of the host document with the span of the
// projection generated from it.
type SourceMapping struct {
	Origin    Span `json:"origin"`
	Generated Span `json:"generated"`
}

// ToGenerated maps an absolute host index into the projection.
func ToGenerated(mappings []SourceMapping, hostIndex int) (int, bool) {
	for _, m := range mappings {
		if m.Origin.contains(hostIndex) {
			return m.Generated.Start + (hostIndex - m.Origin.Start), true
		}
	}
	return 0, false
}

// ToHost maps an absolute projection index back into the host document.
func ToHost(mappings []SourceMapping, generatedIndex int) (int, bool) {
	for _, m := range mappings {
		if m.Generated.contains(generatedIndex) {
			return m.Origin.Start + (generatedIndex - m.Generated.Start), true
		}
	}
	return 0, false
}

// MapToGenerated maps a host position into the projection and returns the
// projection position together with its absolute index. The boolean is
// false when the position belongs to host-only content.
func MapToGenerated(mappings []SourceMapping, host, generated *text.LineIndex, pos protocol.Position) (protocol.Position, int, bool) {
	index, ok := ToGenerated(mappings, host.Offset(pos))
	if !ok || index > generated.Len() {
		return protocol.Position{}, 0, false
	}
	return generated.Position(index), index, true
}

// MapToHost maps a projection position back into the host document. The
// boolean is false when the position belongs to generated-only content.
func MapToHost(mappings []SourceMapping, host, generated *text.LineIndex, pos protocol.Position) (protocol.Position, int, bool) {
	index, ok := ToHost(mappings, generated.Offset(pos))
	if !ok || index > host.Len() {
		return protocol.Position{}, 0, false
	}
	return host.Position(index), index, true
}

// MapRangeToHost maps both ends of a projection range into the host
// document. The range maps only if both ends do.
func MapRangeToHost(mappings []SourceMapping, host, generated *text.LineIndex, r protocol.Range) (protocol.Range, bool) {
	start, end := generated.Offsets(r)
	hs, ok := ToHost(mappings, start)
	if !ok {
		return protocol.Range{}, false
	}
	he, ok := ToHost(mappings, end)
	if !ok || he < hs || he > host.Len() {
		return protocol.Range{}, false
	}
	return host.Range(hs, he), true
}

// MapRangeToGenerated maps both ends of a host range into the projection.
func MapRangeToGenerated(mappings []SourceMapping, host, generated *text.LineIndex, r protocol.Range) (protocol.Range, bool) {
	start, end := host.Offsets(r)
	gs, ok := ToGenerated(mappings, start)
	if !ok {
		return protocol.Range{}, false
	}
	ge, ok := ToGenerated(mappings, end)
	if !ok || ge < gs || ge > generated.Len() {
		return protocol.Range{}, false
	}
	return generated.Range(gs, ge), true
}

// Validate checks mappings against the lengths of the documents they
// relate. Spans must lie inside their document and must not overlap other
// than at a single shared boundary point.
func Validate(mappings []SourceMapping, hostLen, generatedLen int) error {
	for i, m := range mappings {
		if err := checkSpan(m.Origin, hostLen); err != nil {
			return fmt.Errorf("%w: mapping %d origin %s: %v", ErrMalformedMapping, i, m.Origin, err)
		}
		if err := checkSpan(m.Generated, generatedLen); err != nil {
			return fmt.Errorf("%w: mapping %d generated %s: %v", ErrMalformedMapping, i, m.Generated, err)
		}
	}
	if i, j, ok := overlapping(mappings, func(m SourceMapping) Span { return m.Origin }); ok {
		return fmt.Errorf("%w: origin spans of mappings %d and %d overlap", ErrMalformedMapping, i, j)
	}
	if i, j, ok := overlapping(mappings, func(m SourceMapping) Span { return m.Generated }); ok {
		return fmt.Errorf("%w: generated spans of mappings %d and %d overlap", ErrMalformedMapping, i, j)
	}
	return nil
}

func checkSpan(s Span, docLen int) error {
	switch {
	case s.Start < 0 || s.Length < 0:
		return errors.New("negative start or length")
	case s.End() > docLen:
		return fmt.Errorf("ends past document length %d", docLen)
	}
	return nil
}

func overlapping(mappings []SourceMapping, side func(SourceMapping) Span) (int, int, bool) {
	order := make([]int, len(mappings))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return side(mappings[order[a]]).Start < side(mappings[order[b]]).Start
	})
	for k := 1; k < len(order); k++ {
		prev, cur := side(mappings[order[k-1]]), side(mappings[order[k]])
		if cur.Start < prev.End() {
			return order[k-1], order[k], true
		}
	}
	return 0, 0, false
}
