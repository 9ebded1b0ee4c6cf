// Package resolver converts between document URIs and the normalized file
// paths used as document identities.
package resolver

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"slices"
	"strings"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

var (
	ErrNotFileURI   = errors.New("resolver: not a file uri")
	ErrInvalidPath  = errors.New("resolver: invalid path")
	ErrOutsideRoot  = errors.New("resolver: path outside of the workspace root")
	ErrNotATemplate = errors.New("resolver: not a template")
)

// Document is a resolved document location.
type Document struct {
	URI          protocol.DocumentUri
	Path         string
	RelativePath string
}

// NormalizePath cleans path and makes it absolute.
func NormalizePath(path string) (string, error) {
	if path == "" {
		return "", ErrInvalidPath
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	return filepath.Clean(abs), nil
}

// PathFromURI returns the normalized path of a file URI.
func PathFromURI(uri protocol.DocumentUri) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("parsing uri %q: %w", uri, err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("%w: %s", ErrNotFileURI, uri)
	}
	return NormalizePath(filepath.FromSlash(u.Path))
}

// URIFromPath returns the file URI of path.
func URIFromPath(path string) protocol.DocumentUri {
	u := url.URL{
		Scheme: "file",
		Path:   filepath.ToSlash(filepath.Clean(path)),
	}
	return u.String()
}

// Resolver resolves documents of one workspace.
type Resolver struct {
	root       string
	extensions []string
}

// NewResolver creates a resolver for the workspace at root. Only files with
// one of extensions are templates.
func NewResolver(root string, extensions []string) (*Resolver, error) {
	normalized, err := NormalizePath(root)
	if err != nil {
		return nil, err
	}
	exts := make([]string, 0, len(extensions))
	for _, e := range extensions {
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts = append(exts, strings.ToLower(e))
	}
	return &Resolver{root: normalized, extensions: exts}, nil
}

func (r *Resolver) Root() string { return r.root }

// IsTemplate reports whether path has a template extension.
func (r *Resolver) IsTemplate(path string) bool {
	return slices.Contains(r.extensions, strings.ToLower(filepath.Ext(path)))
}

// Resolve accepts a URI, an absolute path or a path relative to the
// workspace root.
func (r *Resolver) Resolve(ref string) (Document, error) {
	if strings.HasPrefix(ref, "file:") {
		path, err := PathFromURI(ref)
		if err != nil {
			return Document{}, err
		}
		return r.resolveAbsolute(path)
	}
	if filepath.IsAbs(ref) {
		return r.resolveAbsolute(ref)
	}
	return r.resolveAbsolute(filepath.Join(r.root, ref))
}

func (r *Resolver) resolveAbsolute(path string) (Document, error) {
	cleaned := filepath.Clean(path)
	rel, err := filepath.Rel(r.root, cleaned)
	if err != nil {
		return Document{}, fmt.Errorf("%w: %s", ErrOutsideRoot, cleaned)
	}
	return Document{
		URI:          URIFromPath(cleaned),
		Path:         cleaned,
		RelativePath: filepath.ToSlash(rel),
	}, nil
}

// ResolveImport resolves the target of an import directive found in
// source. References starting with "." are relative to the importing
// document, others to the workspace root. A reference without extension
// gets the first template extension.
func (r *Resolver) ResolveImport(source Document, reference string) (Document, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" || strings.HasSuffix(reference, "/") {
		return Document{}, fmt.Errorf("%w: %q", ErrInvalidPath, reference)
	}
	if filepath.Ext(reference) == "" && len(r.extensions) > 0 {
		reference += r.extensions[0]
	}
	if !r.IsTemplate(reference) {
		return Document{}, fmt.Errorf("%w: %s", ErrNotATemplate, reference)
	}
	if strings.HasPrefix(reference, ".") {
		return r.resolveAbsolute(filepath.Join(filepath.Dir(source.Path), reference))
	}
	return r.resolveAbsolute(filepath.Join(r.root, reference))
}
