// Package manager owns the project snapshot graph: the set of projects,
// their host documents and the latest snapshot of every document. All
// methods must be called on the foreground queue; the manager does no
// locking of its own.
package manager

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"loom/internal/project"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("loom.manager")

var (
	ErrProjectNotFound  = errors.New("manager: project not found")
	ErrProjectExists    = errors.New("manager: project already exists")
	ErrDocumentNotFound = errors.New("manager: document not found")
)

// MiscellaneousProject owns documents that are opened outside of every
// known project.
const MiscellaneousProject = "<miscellaneous>"

type ChangeKind int

const (
	ProjectAdded ChangeKind = iota
	ProjectRemoved
	ProjectConfigurationChanged
	ProjectWorkspaceStateChanged
	DocumentAdded
	DocumentRemoved
	DocumentChanged
	DocumentOpened
	DocumentClosed
)

func (k ChangeKind) String() string {
	switch k {
	case ProjectAdded:
		return "ProjectAdded"
	case ProjectRemoved:
		return "ProjectRemoved"
	case ProjectConfigurationChanged:
		return "ProjectConfigurationChanged"
	case ProjectWorkspaceStateChanged:
		return "ProjectWorkspaceStateChanged"
	case DocumentAdded:
		return "DocumentAdded"
	case DocumentRemoved:
		return "DocumentRemoved"
	case DocumentChanged:
		return "DocumentChanged"
	case DocumentOpened:
		return "DocumentOpened"
	case DocumentClosed:
		return "DocumentClosed"
	}
	return fmt.Sprintf("ChangeKind(%d)", int(k))
}

// ChangeEvent describes one change of the snapshot graph. Older is nil for
// additions and Newer is nil for removals. Project events carry no
// snapshots.
type ChangeEvent struct {
	Kind         ChangeKind
	ProjectPath  string
	DocumentPath string
	Older        *project.DocumentSnapshot
	Newer        *project.DocumentSnapshot
	Project      *project.Project
}

type Listener func(ChangeEvent)

// TextLoader supplies the text of documents that are not open.
type TextLoader interface {
	Load(path string) (string, error)
}

// FileLoader reads document text from disk.
type FileLoader struct{}

func (FileLoader) Load(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

type Manager struct {
	loader    TextLoader
	projects  map[string]*project.Project
	documents map[string]*project.DocumentSnapshot
	listeners []Listener
}

func New(loader TextLoader) *Manager {
	if loader == nil {
		loader = FileLoader{}
	}
	return &Manager{
		loader: loader,
		projects: map[string]*project.Project{
			MiscellaneousProject: project.NewProject(MiscellaneousProject, project.DefaultConfiguration()),
		},
		documents: map[string]*project.DocumentSnapshot{},
	}
}

func (m *Manager) AddListener(l Listener) {
	m.listeners = append(m.listeners, l)
}

func (m *Manager) notify(e ChangeEvent) {
	log.Debug("change", "kind", e.Kind.String(), "project", e.ProjectPath, "document", e.DocumentPath)
	for _, l := range m.listeners {
		l(e)
	}
}

func (m *Manager) Project(path string) (*project.Project, bool) {
	p, ok := m.projects[path]
	return p, ok
}

// Projects returns every project except the miscellaneous one, ordered by
// path.
func (m *Manager) Projects() []*project.Project {
	var out []*project.Project
	for path, p := range m.projects {
		if path != MiscellaneousProject {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Document returns the latest snapshot of path.
func (m *Manager) Document(path string) (*project.DocumentSnapshot, bool) {
	s, ok := m.documents[path]
	return s, ok
}

func (m *Manager) IsOpen(path string) bool {
	s, ok := m.documents[path]
	return ok && s.Open
}

// Snapshot returns the latest snapshot of path together with the
// configuration of its project.
func (m *Manager) Snapshot(path string) (*project.DocumentSnapshot, project.Configuration, bool) {
	s, ok := m.documents[path]
	if !ok {
		return nil, project.Configuration{}, false
	}
	p, ok := m.projects[s.ProjectPath]
	if !ok {
		return nil, project.Configuration{}, false
	}
	return s, p.Configuration, true
}

// Documents returns the latest snapshots of the documents of a project
// ordered by path.
func (m *Manager) Documents(projectPath string) []*project.DocumentSnapshot {
	p, ok := m.projects[projectPath]
	if !ok {
		return nil
	}
	var out []*project.DocumentSnapshot
	for _, d := range p.Documents() {
		if s, ok := m.documents[d.FilePath]; ok {
			out = append(out, s)
		}
	}
	return out
}

// OwnerOf returns the innermost project whose directory contains path, or
// the miscellaneous project.
func (m *Manager) OwnerOf(path string) string {
	owner := MiscellaneousProject
	for root := range m.projects {
		if root == MiscellaneousProject || !within(root, path) {
			continue
		}
		if owner == MiscellaneousProject || len(root) > len(owner) {
			owner = root
		}
	}
	return owner
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// AddProject adds p together with its documents. Documents of the
// miscellaneous project that live below p move into it.
func (m *Manager) AddProject(p *project.Project) error {
	if _, ok := m.projects[p.Path]; ok {
		return fmt.Errorf("%w: %s", ErrProjectExists, p.Path)
	}
	docs := p.Documents()
	empty := project.NewProject(p.Path, p.Configuration).WithWorkspaceState(p.WorkspaceState)
	m.projects[p.Path] = empty
	m.notify(ChangeEvent{Kind: ProjectAdded, ProjectPath: p.Path, Project: empty})

	for _, s := range m.Documents(MiscellaneousProject) {
		if m.OwnerOf(s.Path()) == p.Path {
			m.move(s, p.Path)
		}
	}
	for _, doc := range docs {
		if err := m.AddDocument(p.Path, doc); err != nil {
			log.Warning("skipping document of added project", "project", p.Path, "document", doc.FilePath, "error", err.Error())
		}
	}
	return nil
}

// RemoveProject removes a project. Its open documents move to the
// miscellaneous project, closed ones are removed.
func (m *Manager) RemoveProject(path string) error {
	p, ok := m.projects[path]
	if !ok || path == MiscellaneousProject {
		return fmt.Errorf("%w: %s", ErrProjectNotFound, path)
	}
	for _, s := range m.Documents(path) {
		if s.Open {
			m.move(s, MiscellaneousProject)
		} else {
			m.removeDocument(path, s)
		}
	}
	delete(m.projects, path)
	m.notify(ChangeEvent{Kind: ProjectRemoved, ProjectPath: path, Project: p})
	return nil
}

func (m *Manager) ChangeConfiguration(path string, cfg project.Configuration) error {
	p, ok := m.projects[path]
	if !ok {
		return fmt.Errorf("%w: %s", ErrProjectNotFound, path)
	}
	p = p.WithConfiguration(cfg)
	m.projects[path] = p
	m.notify(ChangeEvent{Kind: ProjectConfigurationChanged, ProjectPath: path, Project: p})
	return nil
}

func (m *Manager) ChangeWorkspaceState(path string, state project.WorkspaceState) error {
	p, ok := m.projects[path]
	if !ok {
		return fmt.Errorf("%w: %s", ErrProjectNotFound, path)
	}
	p = p.WithWorkspaceState(state)
	m.projects[path] = p
	m.notify(ChangeEvent{Kind: ProjectWorkspaceStateChanged, ProjectPath: path, Project: p})
	return nil
}

// AddDocument adds host to a project, loading its text through the
// TextLoader. A document that is already known under a different host
// document or project is removed and added again.
func (m *Manager) AddDocument(projectPath string, host project.HostDocument) error {
	p, ok := m.projects[projectPath]
	if !ok {
		return fmt.Errorf("%w: %s", ErrProjectNotFound, projectPath)
	}
	if old, ok := m.documents[host.FilePath]; ok {
		if old.Host == host && old.ProjectPath == projectPath {
			return nil
		}
		m.removeDocument(old.ProjectPath, old)
	}

	content, err := m.loader.Load(host.FilePath)
	if err != nil {
		log.Warning("cannot load document text", "path", host.FilePath, "error", err.Error())
	}
	s := project.NewSnapshot(host, projectPath, content, 0, false)
	m.projects[projectPath] = p.WithDocument(host)
	m.documents[host.FilePath] = s
	m.notify(ChangeEvent{Kind: DocumentAdded, ProjectPath: projectPath, DocumentPath: host.FilePath, Newer: s})
	return nil
}

func (m *Manager) RemoveDocument(projectPath, path string) error {
	s, ok := m.documents[path]
	if !ok || s.ProjectPath != projectPath {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, path)
	}
	m.removeDocument(projectPath, s)
	return nil
}

func (m *Manager) removeDocument(projectPath string, s *project.DocumentSnapshot) {
	if p, ok := m.projects[projectPath]; ok {
		m.projects[projectPath] = p.WithoutDocument(s.Path())
	}
	delete(m.documents, s.Path())
	m.notify(ChangeEvent{Kind: DocumentRemoved, ProjectPath: projectPath, DocumentPath: s.Path(), Older: s})
}

// move transfers a document to another project as a removal followed by an
// addition that keeps its text and open state.
func (m *Manager) move(s *project.DocumentSnapshot, to string) {
	m.removeDocument(s.ProjectPath, s)
	moved := s.WithHost(s.Host, to)
	m.projects[to] = m.projects[to].WithDocument(s.Host)
	m.documents[s.Path()] = moved
	m.notify(ChangeEvent{Kind: DocumentAdded, ProjectPath: to, DocumentPath: s.Path(), Newer: moved})
}

// OpenDocument marks path open with the editor's text. Unknown documents
// are added to their owning project first.
func (m *Manager) OpenDocument(path, content string, version int32) {
	s, ok := m.documents[path]
	if !ok {
		owner := m.OwnerOf(path)
		host := project.NewHostDocument(path)
		m.projects[owner] = m.projects[owner].WithDocument(host)
		s = project.NewSnapshot(host, owner, content, version, false)
		m.documents[path] = s
		m.notify(ChangeEvent{Kind: DocumentAdded, ProjectPath: owner, DocumentPath: path, Newer: s})
	}
	opened := s.WithText(content, version).WithOpen(true, version)
	m.documents[path] = opened
	m.notify(ChangeEvent{Kind: DocumentOpened, ProjectPath: opened.ProjectPath, DocumentPath: path, Older: s, Newer: opened})
}

// ChangeDocument replaces the text of path.
func (m *Manager) ChangeDocument(path, content string, version int32) error {
	s, ok := m.documents[path]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, path)
	}
	changed := s.WithText(content, version)
	m.documents[path] = changed
	m.notify(ChangeEvent{Kind: DocumentChanged, ProjectPath: s.ProjectPath, DocumentPath: path, Older: s, Newer: changed})
	return nil
}

// CloseDocument marks path closed and reloads its text from the
// TextLoader. Documents of the miscellaneous project are removed once
// closed.
func (m *Manager) CloseDocument(path string) error {
	s, ok := m.documents[path]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, path)
	}
	content, err := m.loader.Load(path)
	if err != nil {
		log.Debug("keeping editor text of closed document", "path", path, "error", err.Error())
		content = s.Text
	}
	closed := s.WithOpen(false, s.Version).WithText(content, s.Version)
	m.documents[path] = closed
	m.notify(ChangeEvent{Kind: DocumentClosed, ProjectPath: s.ProjectPath, DocumentPath: path, Older: s, Newer: closed})

	if s.ProjectPath == MiscellaneousProject {
		m.removeDocument(MiscellaneousProject, closed)
	}
	return nil
}

// ReloadDocument reloads the text of a closed document from the
// TextLoader. Open documents keep the editor's text.
func (m *Manager) ReloadDocument(path string) error {
	s, ok := m.documents[path]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, path)
	}
	if s.Open {
		return nil
	}
	content, err := m.loader.Load(path)
	if err != nil {
		return fmt.Errorf("reloading %s: %w", path, err)
	}
	if content == s.Text {
		return nil
	}
	return m.ChangeDocument(path, content, s.Version)
}
