package mapping_test

import (
	"errors"
	"strings"
	"testing"

	"loom/internal/mapping"
	"loom/internal/text"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

func single() []mapping.SourceMapping {
	return []mapping.SourceMapping{{
		Origin:    mapping.Span{Start: 16, Length: 12},
		Generated: mapping.Span{Start: 11, Length: 12},
	}}
}

func TestToGenerated(t *testing.T) {
	tests := []struct {
		name string
		host int
		want int
		ok   bool
	}{
		{"span start", 16, 11, true},
		{"inside span", 20, 15, true},
		{"span end is inclusive", 28, 23, true},
		{"before span", 15, 0, false},
		{"after span", 29, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := mapping.ToGenerated(single(), tt.host)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToHost(t *testing.T) {
	got, ok := mapping.ToHost(single(), 23)
	require.True(t, ok)
	assert.Equal(t, 28, got)

	_, ok = mapping.ToHost(single(), 24)
	assert.False(t, ok)
}

func TestFirstMappingWins(t *testing.T) {
	mappings := []mapping.SourceMapping{
		{Origin: mapping.Span{Start: 0, Length: 5}, Generated: mapping.Span{Start: 100, Length: 5}},
		{Origin: mapping.Span{Start: 5, Length: 5}, Generated: mapping.Span{Start: 200, Length: 5}},
	}

	got, ok := mapping.ToGenerated(mappings, 5)
	require.True(t, ok)
	assert.Equal(t, 105, got, "shared boundary resolves to the earlier mapping")
}

func TestMapPositions(t *testing.T) {
	host := text.NewLineIndex("<div>\n  <p>@user.Name</p>\n</div>")
	generated := text.NewLineIndex("package views\n\nfunc render() {\n\t_ = user.Name\n}\n")

	hostStart := strings.Index(host.Text(), "user.Name")
	genStart := strings.Index(generated.Text(), "user.Name")
	mappings := []mapping.SourceMapping{{
		Origin:    mapping.Span{Start: hostStart, Length: len("user.Name")},
		Generated: mapping.Span{Start: genStart, Length: len("user.Name")},
	}}

	hostPos := host.Position(hostStart + 5)
	genPos, genIndex, ok := mapping.MapToGenerated(mappings, host, generated, hostPos)
	require.True(t, ok)
	assert.Equal(t, genStart+5, genIndex)
	assert.Equal(t, protocol.Position{Line: 3, Character: 10}, genPos)

	back, hostIndex, ok := mapping.MapToHost(mappings, host, generated, genPos)
	require.True(t, ok)
	assert.Equal(t, hostStart+5, hostIndex)
	assert.Equal(t, hostPos, back)

	_, _, ok = mapping.MapToGenerated(mappings, host, generated, protocol.Position{Line: 0, Character: 1})
	assert.False(t, ok, "markup is host-only content")

	_, _, ok = mapping.MapToHost(mappings, host, generated, protocol.Position{Line: 0, Character: 0})
	assert.False(t, ok, "package clause is generated-only content")
}

func TestMapRangeToHost(t *testing.T) {
	host := text.NewLineIndex(strings.Repeat("x", 40))
	generated := text.NewLineIndex(strings.Repeat("y", 40))

	r, ok := mapping.MapRangeToHost(single(), host, generated, generated.Range(12, 20))
	require.True(t, ok)
	assert.Equal(t, host.Range(17, 25), r)

	_, ok = mapping.MapRangeToHost(single(), host, generated, generated.Range(5, 20))
	assert.False(t, ok, "range starting outside every mapping")

	r, ok = mapping.MapRangeToGenerated(single(), host, generated, host.Range(16, 28))
	require.True(t, ok)
	assert.Equal(t, generated.Range(11, 23), r)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		mappings []mapping.SourceMapping
		wantErr  bool
	}{
		{"empty", nil, false},
		{"single", single(), false},
		{
			"adjacent spans share a boundary",
			[]mapping.SourceMapping{
				{Origin: mapping.Span{Start: 0, Length: 4}, Generated: mapping.Span{Start: 0, Length: 4}},
				{Origin: mapping.Span{Start: 4, Length: 4}, Generated: mapping.Span{Start: 4, Length: 4}},
			},
			false,
		},
		{
			"overlapping origins",
			[]mapping.SourceMapping{
				{Origin: mapping.Span{Start: 0, Length: 5}, Generated: mapping.Span{Start: 0, Length: 5}},
				{Origin: mapping.Span{Start: 4, Length: 4}, Generated: mapping.Span{Start: 10, Length: 4}},
			},
			true,
		},
		{
			"overlapping generated spans",
			[]mapping.SourceMapping{
				{Origin: mapping.Span{Start: 0, Length: 5}, Generated: mapping.Span{Start: 10, Length: 5}},
				{Origin: mapping.Span{Start: 10, Length: 4}, Generated: mapping.Span{Start: 12, Length: 4}},
			},
			true,
		},
		{
			"past end of host",
			[]mapping.SourceMapping{{Origin: mapping.Span{Start: 30, Length: 20}, Generated: mapping.Span{Start: 0, Length: 20}}},
			true,
		},
		{
			"negative length",
			[]mapping.SourceMapping{{Origin: mapping.Span{Start: 3, Length: -1}, Generated: mapping.Span{Start: 0, Length: 0}}},
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mapping.Validate(tt.mappings, 40, 40)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, mapping.ErrMalformedMapping))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestUndefinedRange(t *testing.T) {
	assert.True(t, mapping.IsUndefined(mapping.UndefinedRange))
	assert.False(t, mapping.IsUndefined(protocol.Range{}))
}
