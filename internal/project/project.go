// Package project holds the immutable data model shared by the
// synchronization core: projects, host documents, document snapshots and
// the projections generated from them.
package project

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// FileKind classifies a host document.
type FileKind int

const (
	// Component documents render through a type named after the file.
	Component FileKind = iota
	// Legacy documents render through a plain function.
	Legacy
)

func (k FileKind) String() string {
	switch k {
	case Component:
		return "component"
	case Legacy:
		return "legacy"
	default:
		return fmt.Sprintf("FileKind(%d)", int(k))
	}
}

// ParseFileKind is the inverse of FileKind.String.
func ParseFileKind(s string) (FileKind, error) {
	switch s {
	case "component":
		return Component, nil
	case "legacy":
		return Legacy, nil
	}
	return 0, fmt.Errorf("unknown file kind %q", s)
}

// KindForPath classifies a document by its extension: ".loom" files are
// components, everything else is legacy.
func KindForPath(path string) FileKind {
	if strings.EqualFold(filepath.Ext(path), ".loom") {
		return Component
	}
	return Legacy
}

// HostDocument identifies a template inside a project. It is replaced as a
// whole when the document is renamed or changes kind.
type HostDocument struct {
	FilePath   string   `msgpack:"file_path"`
	TargetPath string   `msgpack:"target_path"`
	Kind       FileKind `msgpack:"kind"`
}

// NewHostDocument derives the target path and kind from filePath.
func NewHostDocument(filePath string) HostDocument {
	return HostDocument{
		FilePath:   filePath,
		TargetPath: strings.TrimSuffix(filePath, filepath.Ext(filePath)) + ".go",
		Kind:       KindForPath(filePath),
	}
}

// Configuration is the per-project generator configuration.
type Configuration struct {
	RootPackage     string   `msgpack:"root_package" json:"rootPackage"`
	LanguageVersion string   `msgpack:"language_version" json:"languageVersion"`
	Imports         []string `msgpack:"imports" json:"imports"`
}

// DefaultConfiguration is used for new projects and for projects whose
// persisted configuration could not be read.
func DefaultConfiguration() Configuration {
	return Configuration{RootPackage: "views", LanguageVersion: "1.24"}
}

// TagHelperDescriptor describes a component that templates may use as an
// element.
type TagHelperDescriptor struct {
	Name       string   `msgpack:"name"`
	TagName    string   `msgpack:"tag_name"`
	TypeName   string   `msgpack:"type_name"`
	Attributes []string `msgpack:"attributes"`
}

// WorkspaceState is project-wide metadata discovered outside of the
// templates themselves.
type WorkspaceState struct {
	TagHelpers      []TagHelperDescriptor `msgpack:"tag_helpers"`
	LanguageVersion string                `msgpack:"language_version"`
}

// Project owns a set of host documents. A Project is never modified after
// construction; the With* methods return a changed copy.
type Project struct {
	Path           string
	Configuration  Configuration
	WorkspaceState WorkspaceState
	documents      map[string]HostDocument
}

func NewProject(path string, cfg Configuration) *Project {
	return &Project{
		Path:          path,
		Configuration: cfg,
		documents:     map[string]HostDocument{},
	}
}

func (p *Project) clone() *Project {
	c := *p
	c.documents = make(map[string]HostDocument, len(p.documents))
	for k, v := range p.documents {
		c.documents[k] = v
	}
	return &c
}

// Document looks up a host document by its normalized path.
func (p *Project) Document(path string) (HostDocument, bool) {
	d, ok := p.documents[path]
	return d, ok
}

// Documents returns the host documents ordered by path.
func (p *Project) Documents() []HostDocument {
	docs := make([]HostDocument, 0, len(p.documents))
	for _, d := range p.documents {
		docs = append(docs, d)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].FilePath < docs[j].FilePath })
	return docs
}

func (p *Project) DocumentCount() int { return len(p.documents) }

func (p *Project) WithDocument(doc HostDocument) *Project {
	c := p.clone()
	c.documents[doc.FilePath] = doc
	return c
}

func (p *Project) WithoutDocument(path string) *Project {
	c := p.clone()
	delete(c.documents, path)
	return c
}

func (p *Project) WithConfiguration(cfg Configuration) *Project {
	c := p.clone()
	c.Configuration = cfg
	return c
}

func (p *Project) WithWorkspaceState(state WorkspaceState) *Project {
	c := p.clone()
	c.WorkspaceState = state
	return c
}

// Generator turns a document snapshot into its projections. Implementations
// must be safe for concurrent use.
type Generator interface {
	Generate(ctx context.Context, snapshot *DocumentSnapshot, cfg Configuration) (*GeneratedDocument, error)
}
