package server

import (
	"encoding/json"
	"errors"
	"fmt"

	"loom/internal/project"
	"loom/internal/session"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

// Custom requests.
const (
	MapToProjectionMethod = "loom/mapToProjection"
	MapToHostMethod       = "loom/mapToHost"
)

// SweepOutputsCommand frees generated output of closed documents.
const SweepOutputsCommand = "loom.sweepOutputs"

var errNotInitialized = errors.New("server not initialized")

// MappingParams are the parameters of MapToProjectionMethod and
// MapToHostMethod. Position is in the coordinates of the source side.
type MappingParams struct {
	TextDocument   protocol.TextDocumentIdentifier `json:"textDocument"`
	ProjectionKind project.ProjectionKind          `json:"projectionKind"`
	Position       protocol.Position               `json:"position"`
}

// handler adds the custom requests to the protocol handler.
type handler struct {
	*protocol.Handler
	server *Server
}

func (h *handler) Handle(context *glsp.Context) (r any, validMethod bool, validParams bool, err error) {
	switch context.Method {
	case MapToProjectionMethod, MapToHostMethod:
		var params MappingParams
		if err := json.Unmarshal(context.Params, &params); err != nil {
			return nil, true, false, err
		}
		r, err := h.server.mapPosition(context.Method, &params)
		return r, true, true, err
	}
	return h.Handler.Handle(context)
}

func (s *Server) mapPosition(method string, params *MappingParams) (any, error) {
	sess, _ := s.current()
	if sess == nil {
		return nil, errNotInitialized
	}
	path, ok := s.templatePath(params.TextDocument.URI)
	if !ok {
		return session.MappingResult{}, nil
	}

	var (
		res session.MappingResult
		err error
	)
	if method == MapToProjectionMethod {
		res, err = sess.MapToProjection(background(), path, params.ProjectionKind, params.Position)
	} else {
		res, err = sess.MapToHost(background(), path, params.ProjectionKind, params.Position)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Server) workspaceExecuteCommand(
	context *glsp.Context,
	params *protocol.ExecuteCommandParams,
) (any, error) {
	sess, _ := s.current()
	if sess == nil {
		return nil, errNotInitialized
	}
	switch params.Command {
	case SweepOutputsCommand:
		return sess.SweepOutputs(), nil
	}
	return nil, fmt.Errorf("unknown command %q", params.Command)
}
