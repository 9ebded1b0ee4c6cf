package project

import (
	"fmt"
	"sync"
	"sync/atomic"

	"loom/internal/mapping"
	"loom/internal/text"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

var sequence atomic.Uint64

// DocumentSnapshot is one version of a host document's text. Snapshots are
// never mutated; a change produces a new snapshot with a larger Sequence.
type DocumentSnapshot struct {
	Host HostDocument
	Text string
	// Version is the client's document version, 0 for documents that were
	// never opened.
	Version int32
	Open    bool
	// ProjectPath names the owning project. It is only used for lookups.
	ProjectPath string
	Sequence    uint64

	linesOnce sync.Once
	lines     *text.LineIndex
}

func NewSnapshot(host HostDocument, projectPath, content string, version int32, open bool) *DocumentSnapshot {
	return &DocumentSnapshot{
		Host:        host,
		Text:        content,
		Version:     version,
		Open:        open,
		ProjectPath: projectPath,
		Sequence:    sequence.Add(1),
	}
}

func (s *DocumentSnapshot) Path() string { return s.Host.FilePath }

// Lines returns the line index of the snapshot text.
func (s *DocumentSnapshot) Lines() *text.LineIndex {
	s.linesOnce.Do(func() { s.lines = text.NewLineIndex(s.Text) })
	return s.lines
}

func (s *DocumentSnapshot) WithText(content string, version int32) *DocumentSnapshot {
	return NewSnapshot(s.Host, s.ProjectPath, content, version, s.Open)
}

func (s *DocumentSnapshot) WithOpen(open bool, version int32) *DocumentSnapshot {
	return NewSnapshot(s.Host, s.ProjectPath, s.Text, version, open)
}

func (s *DocumentSnapshot) WithHost(host HostDocument, projectPath string) *DocumentSnapshot {
	return NewSnapshot(host, projectPath, s.Text, s.Version, s.Open)
}

func (s *DocumentSnapshot) String() string {
	return fmt.Sprintf("%s#%d (v%d)", s.Host.FilePath, s.Sequence, s.Version)
}

// ProjectionKind names one of the projections generated from a host
// document.
type ProjectionKind int

const (
	// Code is the embedded-language projection.
	Code ProjectionKind = iota
	// Markup is the markup projection.
	Markup
)

// ProjectionKinds lists every projection kind in publishing order.
var ProjectionKinds = []ProjectionKind{Code, Markup}

func (k ProjectionKind) String() string {
	switch k {
	case Code:
		return "code"
	case Markup:
		return "markup"
	default:
		return fmt.Sprintf("ProjectionKind(%d)", int(k))
	}
}

// ParseProjectionKind is the inverse of ProjectionKind.String.
func ParseProjectionKind(s string) (ProjectionKind, error) {
	switch s {
	case "code":
		return Code, nil
	case "markup":
		return Markup, nil
	}
	return 0, fmt.Errorf("unknown projection kind %q", s)
}

func (k ProjectionKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *ProjectionKind) UnmarshalText(b []byte) error {
	v, err := ParseProjectionKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// GeneratedOutput is the projection of one kind.
type GeneratedOutput struct {
	Kind        ProjectionKind
	Text        string
	Mappings    []mapping.SourceMapping
	Diagnostics []protocol.Diagnostic

	linesOnce sync.Once
	lines     *text.LineIndex
}

func (o *GeneratedOutput) Lines() *text.LineIndex {
	o.linesOnce.Do(func() { o.lines = text.NewLineIndex(o.Text) })
	return o.lines
}

// GeneratedDocument holds every projection of a snapshot.
type GeneratedDocument struct {
	Outputs map[ProjectionKind]*GeneratedOutput
	// Unsupported marks documents the generator could not handle.
	Unsupported bool
}

func (d *GeneratedDocument) Output(kind ProjectionKind) (*GeneratedOutput, bool) {
	if d == nil {
		return nil, false
	}
	o, ok := d.Outputs[kind]
	return o, ok
}
