// Package store persists project configuration and the set of host
// documents of every project in a SQLite database.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"loom/internal/project"

	_ "github.com/mattn/go-sqlite3"
	"github.com/tliron/commonlog"
	"github.com/vmihailenco/msgpack/v5"
)

var log = commonlog.GetLogger("loom.store")

// record is the persisted form of the mutable project state.
type record struct {
	Configuration  project.Configuration  `msgpack:"configuration"`
	WorkspaceState project.WorkspaceState `msgpack:"workspace_state"`
}

// Store is a SQLite backed project store. It is safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

// Open opens (or creates) the database at path, enables WAL mode and
// foreign keys, and brings the schema up to date.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	log.Debug("opened store", "path", path)
	return &Store{db: db}, nil
}

// WithTx runs fn inside a transaction that is committed if fn succeeds.
func (s *Store) WithTx(fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrDatabaseClosed
	}
	return s.withTx(fn)
}

func (s *Store) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// SaveProject replaces the stored state of p.
func (s *Store) SaveProject(p *project.Project) error {
	blob, err := msgpack.Marshal(record{Configuration: p.Configuration, WorkspaceState: p.WorkspaceState})
	if err != nil {
		return fmt.Errorf("failed to encode configuration of %s: %w", p.Path, err)
	}
	return s.WithTx(func(tx *sql.Tx) error {
		return saveProject(tx, p, blob)
	})
}

func saveProject(tx *sql.Tx, p *project.Project, blob []byte) error {
	if _, err := tx.Exec(`
        INSERT INTO projects (path, configuration, updated_at) VALUES (?, ?, ?)
        ON CONFLICT(path) DO UPDATE SET configuration = excluded.configuration, updated_at = excluded.updated_at
    `, p.Path, blob, time.Now().Unix()); err != nil {
		return fmt.Errorf("failed to upsert project %s: %w", p.Path, err)
	}
	if _, err := tx.Exec(`DELETE FROM documents WHERE project_path = ?`, p.Path); err != nil {
		return fmt.Errorf("failed to delete documents of %s: %w", p.Path, err)
	}
	for _, doc := range p.Documents() {
		if _, err := tx.Exec(`
            INSERT INTO documents (project_path, file_path, target_path, kind) VALUES (?, ?, ?, ?)
        `, p.Path, doc.FilePath, doc.TargetPath, doc.Kind.String()); err != nil {
			return fmt.Errorf("failed to insert document %s: %w", doc.FilePath, err)
		}
	}
	return nil
}

// LoadProjects returns every stored project ordered by path. A project
// whose configuration cannot be decoded is reset to the default
// configuration with no documents, and the reset is written back.
func (s *Store) LoadProjects() ([]*project.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrDatabaseClosed
	}

	type row struct {
		path string
		blob []byte
	}
	rows, err := s.db.Query(`SELECT path, configuration FROM projects ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	var stored []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.path, &r.blob); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		stored = append(stored, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	docs, err := s.loadDocuments()
	if err != nil {
		return nil, err
	}

	var projects []*project.Project
	var reset []*project.Project
	for _, r := range stored {
		var rec record
		if err := msgpack.Unmarshal(r.blob, &rec); err != nil {
			log.Warning("resetting project with unreadable configuration", "path", r.path, "error", err.Error())
			p := project.NewProject(r.path, project.DefaultConfiguration())
			projects = append(projects, p)
			reset = append(reset, p)
			continue
		}
		p := project.NewProject(r.path, rec.Configuration).WithWorkspaceState(rec.WorkspaceState)
		for _, doc := range docs[r.path] {
			p = p.WithDocument(doc)
		}
		projects = append(projects, p)
	}

	if len(reset) > 0 {
		err := s.withTx(func(tx *sql.Tx) error {
			for _, p := range reset {
				blob, err := msgpack.Marshal(record{Configuration: p.Configuration})
				if err != nil {
					return err
				}
				if err := saveProject(tx, p, blob); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to rewrite reset projects: %w", err)
		}
	}
	return projects, nil
}

func (s *Store) loadDocuments() (map[string][]project.HostDocument, error) {
	rows, err := s.db.Query(`SELECT project_path, file_path, target_path, kind FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	docs := map[string][]project.HostDocument{}
	for rows.Next() {
		var projectPath, kind string
		var doc project.HostDocument
		if err := rows.Scan(&projectPath, &doc.FilePath, &doc.TargetPath, &kind); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		if doc.Kind, err = project.ParseFileKind(kind); err != nil {
			doc.Kind = project.KindForPath(doc.FilePath)
		}
		docs[projectPath] = append(docs[projectPath], doc)
	}
	return docs, rows.Err()
}

// DeleteProject removes a project and its documents.
func (s *Store) DeleteProject(path string) error {
	return s.WithTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM projects WHERE path = ?`, path)
		if err != nil {
			return fmt.Errorf("failed to delete project %s: %w", path, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
