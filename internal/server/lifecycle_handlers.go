package server

import (
	"context"
	"errors"
	"fmt"
	"os"

	"loom/internal/manager"
	"loom/internal/resolver"
	"loom/internal/scanner"
	"loom/internal/session"
	"loom/internal/store"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

func (s *Server) initialize(
	context *glsp.Context,
	params *protocol.InitializeParams,
) (any, error) {
	cfg, err := s.base.Overlay(params.InitializationOptions)
	if err != nil {
		return nil, fmt.Errorf("invalid initializationOptions: %w", err)
	}

	root, err := workspaceRoot(params)
	if err != nil {
		return nil, err
	}
	res, err := resolver.NewResolver(root, cfg.Extensions)
	if err != nil {
		return nil, err
	}

	opts := session.Options{Config: cfg, Metrics: s.metrics}
	st, err := store.Open(cfg.StorePath)
	if err != nil {
		log.Warning("continuing without project persistence", "path", cfg.StorePath, "error", err.Error())
	} else {
		opts.Store = st
	}
	sess := session.New(context.Notify, opts)

	s.mu.Lock()
	s.config = cfg
	s.resolver = res
	s.session = sess
	s.store = st
	s.mu.Unlock()

	if err := s.openWorkspace(sess, res, cfg.Workers); err != nil {
		return nil, err
	}
	log.Info("initialized", "root", res.Root(), "store", cfg.StorePath)

	syncKind := protocol.TextDocumentSyncKindIncremental
	capabilities := s.handler.CreateServerCapabilities()
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: &protocol.True,
		Change:    &syncKind,
		Save:      &protocol.SaveOptions{IncludeText: &protocol.False},
	}
	capabilities.ExecuteCommandProvider = &protocol.ExecuteCommandOptions{
		Commands: []string{SweepOutputsCommand},
	}

	version := Version
	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    Name,
			Version: &version,
		},
	}, nil
}

// openWorkspace restores persisted projects, makes sure the workspace root
// is a project and adds the templates found below it in the background.
func (s *Server) openWorkspace(sess *session.Session, res *resolver.Resolver, workers int) error {
	ctx := context.Background()
	if err := sess.Restore(ctx); err != nil {
		log.Warning("cannot restore projects", "error", err.Error())
	}
	if err := sess.AddProject(ctx, res.Root()); err != nil && !errors.Is(err, manager.ErrProjectExists) {
		return fmt.Errorf("adding workspace project: %w", err)
	}

	go func() {
		err := scanner.Scan(ctx, res, workers, func(doc resolver.Document, _ []byte) error {
			return sess.AddDocument(ctx, doc.Path)
		})
		if err != nil {
			log.Warning("workspace scan failed", "root", res.Root(), "error", err.Error())
		}
	}()
	return nil
}

func workspaceRoot(params *protocol.InitializeParams) (string, error) {
	switch {
	case params.RootURI != nil && *params.RootURI != "":
		return resolver.PathFromURI(*params.RootURI)
	case len(params.WorkspaceFolders) > 0:
		return resolver.PathFromURI(params.WorkspaceFolders[0].URI)
	case params.RootPath != nil && *params.RootPath != "":
		return resolver.NormalizePath(*params.RootPath)
	}
	return os.Getwd()
}

func (s *Server) initialized(
	context *glsp.Context,
	params *protocol.InitializedParams,
) error {
	log.Info("client initialized")
	return nil
}

func (s *Server) shutdown(context *glsp.Context) error {
	protocol.SetTraceValue(protocol.TraceValueOff)
	s.mu.Lock()
	sess, st := s.session, s.store
	s.session = nil
	s.mu.Unlock()

	if sess != nil {
		sess.Close()
	}
	if st != nil {
		return st.Close()
	}
	return nil
}

func (s *Server) setTrace(context *glsp.Context, params *protocol.SetTraceParams) error {
	protocol.SetTraceValue(params.Value)
	return nil
}
