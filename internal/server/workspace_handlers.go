package server

import (
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

// settingsSection is the key of the server's settings in
// workspace/didChangeConfiguration payloads.
const settingsSection = "loom"

func (s *Server) workspaceDidChangeConfiguration(
	context *glsp.Context,
	params *protocol.DidChangeConfigurationParams,
) error {
	sess, _ := s.current()
	if sess == nil {
		return nil
	}
	settings := params.Settings
	if m, ok := settings.(map[string]any); ok {
		if section, ok := m[settingsSection]; ok {
			settings = section
		}
	}

	s.mu.Lock()
	cfg, err := s.config.Overlay(settings)
	if err == nil {
		s.config = cfg
	}
	s.mu.Unlock()
	if err != nil {
		log.Warning("ignoring invalid settings", "error", err.Error())
		return nil
	}
	return sess.UpdateSettings(background(), cfg)
}

func (s *Server) workspaceDidChangeWatchedFiles(
	context *glsp.Context,
	params *protocol.DidChangeWatchedFilesParams,
) error {
	sess, _ := s.current()
	if sess == nil {
		return nil
	}
	for _, change := range params.Changes {
		path, ok := s.templatePath(change.URI)
		if !ok {
			continue
		}
		var err error
		switch change.Type {
		case protocol.FileChangeTypeCreated:
			err = sess.AddDocument(background(), path)
		case protocol.FileChangeTypeChanged:
			err = sess.ReloadDocument(background(), path)
		case protocol.FileChangeTypeDeleted:
			err = sess.RemoveDocument(background(), path)
		}
		if err != nil {
			log.Warning("cannot apply file change", "path", path, "type", change.Type, "error", err.Error())
		}
	}
	return nil
}
