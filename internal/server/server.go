// Package server exposes the session over the language server protocol.
package server

import (
	"sync"

	"loom/internal/config"
	"loom/internal/metrics"
	"loom/internal/resolver"
	"loom/internal/session"
	"loom/internal/store"

	"github.com/tliron/commonlog"
	protocol "github.com/tliron/glsp/protocol_3_16"
	"github.com/tliron/glsp/server"
)

var log = commonlog.GetLogger("loom.server")

const Name = "loom"

// Version is set at build time.
var Version = "dev"

type Options struct {
	// Config is the configuration before initializationOptions are
	// applied.
	Config  config.Config
	Metrics *metrics.Metrics
	Debug   bool
}

type Server struct {
	handler *protocol.Handler
	base    config.Config
	metrics *metrics.Metrics

	mu       sync.Mutex
	config   config.Config
	resolver *resolver.Resolver
	session  *session.Session
	store    *store.Store
}

// New returns the LSP server and the handler state behind it.
func New(opts Options) (*server.Server, *Server) {
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	s := &Server{
		base:    opts.Config,
		config:  opts.Config,
		metrics: opts.Metrics,
	}
	s.handler = &protocol.Handler{
		Initialize:                      s.initialize,
		Initialized:                     s.initialized,
		Shutdown:                        s.shutdown,
		SetTrace:                        s.setTrace,
		TextDocumentDidOpen:             s.textDocumentDidOpen,
		TextDocumentDidChange:           s.textDocumentDidChange,
		TextDocumentDidSave:             s.textDocumentDidSave,
		TextDocumentDidClose:            s.textDocumentDidClose,
		WorkspaceDidChangeConfiguration: s.workspaceDidChangeConfiguration,
		WorkspaceDidChangeWatchedFiles:  s.workspaceDidChangeWatchedFiles,
		WorkspaceExecuteCommand:         s.workspaceExecuteCommand,
	}
	return server.NewServer(&handler{Handler: s.handler, server: s}, Name, opts.Debug), s
}

// current returns the session, or nil before initialize.
func (s *Server) current() (*session.Session, *resolver.Resolver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session, s.resolver
}
