package server

import (
	"context"

	"loom/internal/resolver"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

// templatePath resolves uri and reports whether it names a template of the
// workspace.
func (s *Server) templatePath(uri protocol.DocumentUri) (string, bool) {
	sess, res := s.current()
	if sess == nil {
		return "", false
	}
	path, err := resolver.PathFromURI(uri)
	if err != nil {
		log.Debug("ignoring document", "uri", uri, "error", err.Error())
		return "", false
	}
	return path, res.IsTemplate(path)
}

func (s *Server) textDocumentDidOpen(
	context *glsp.Context,
	params *protocol.DidOpenTextDocumentParams,
) error {
	path, ok := s.templatePath(params.TextDocument.URI)
	if !ok {
		return nil
	}
	sess, _ := s.current()
	return sess.OpenDocument(background(), path, params.TextDocument.Text, params.TextDocument.Version)
}

func (s *Server) textDocumentDidChange(
	context *glsp.Context,
	params *protocol.DidChangeTextDocumentParams,
) error {
	path, ok := s.templatePath(params.TextDocument.URI)
	if !ok {
		return nil
	}
	sess, _ := s.current()
	return sess.ChangeDocument(background(), path, params.TextDocument.Version, params.ContentChanges)
}

// textDocumentDidSave is a no-op: open documents follow the editor's text.
func (s *Server) textDocumentDidSave(
	context *glsp.Context,
	params *protocol.DidSaveTextDocumentParams,
) error {
	return nil
}

func (s *Server) textDocumentDidClose(
	context *glsp.Context,
	params *protocol.DidCloseTextDocumentParams,
) error {
	path, ok := s.templatePath(params.TextDocument.URI)
	if !ok {
		return nil
	}
	sess, _ := s.current()
	return sess.CloseDocument(background(), path)
}

func background() context.Context { return context.Background() }
