package session

import (
	"context"
	"errors"
	"fmt"

	"loom/internal/mapping"
	"loom/internal/project"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

// MappingResult answers a position query. HostDocumentVersion is the
// version of the snapshot the answer was computed from. Found is false
// when the session does not know the document.
type MappingResult struct {
	Position            protocol.Position `json:"position"`
	Offset              int               `json:"offset"`
	HostDocumentVersion int32             `json:"hostDocumentVersion"`
	Mapped              bool              `json:"mapped"`
	Found               bool              `json:"found"`
}

// MapToProjection maps a host position of path into the kind projection.
// Unknown documents give a result that is neither found nor mapped.
func (s *Session) MapToProjection(ctx context.Context, path string, kind project.ProjectionKind, pos protocol.Position) (MappingResult, error) {
	snapshot, out, err := s.output(ctx, path, kind)
	if errors.Is(err, ErrNotFound) {
		log.Debug("mapping request for unknown document", "path", path)
		return MappingResult{}, nil
	}
	if err != nil {
		return MappingResult{}, err
	}
	mapped, offset, ok := mapping.MapToGenerated(out.Mappings, snapshot.Lines(), out.Lines(), pos)
	return result(snapshot, mapped, offset, ok), nil
}

// MapToHost maps a position of the kind projection of path back to the
// host document.
func (s *Session) MapToHost(ctx context.Context, path string, kind project.ProjectionKind, pos protocol.Position) (MappingResult, error) {
	snapshot, out, err := s.output(ctx, path, kind)
	if errors.Is(err, ErrNotFound) {
		log.Debug("mapping request for unknown document", "path", path)
		return MappingResult{}, nil
	}
	if err != nil {
		return MappingResult{}, err
	}
	mapped, offset, ok := mapping.MapToHost(out.Mappings, snapshot.Lines(), out.Lines(), pos)
	return result(snapshot, mapped, offset, ok), nil
}

func result(snapshot *project.DocumentSnapshot, pos protocol.Position, offset int, ok bool) MappingResult {
	if !ok {
		return MappingResult{HostDocumentVersion: snapshot.Version, Found: true}
	}
	return MappingResult{Position: pos, Offset: offset, HostDocumentVersion: snapshot.Version, Mapped: true, Found: true}
}

// output returns the projection of the latest snapshot of path, generating
// it outside the foreground queue when nothing is cached yet.
func (s *Session) output(ctx context.Context, path string, kind project.ProjectionKind) (*project.DocumentSnapshot, *project.GeneratedOutput, error) {
	var (
		snapshot *project.DocumentSnapshot
		cfg      project.Configuration
		doc      *project.GeneratedDocument
		cached   bool
	)
	err := s.run(ctx, "lookup output", func() error {
		var ok bool
		snapshot, cfg, ok = s.manager.Snapshot(path)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		doc, cached = s.outputs.Lookup(snapshot)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if !cached {
		if doc, err = s.outputs.Generate(ctx, snapshot, cfg); err != nil {
			return nil, nil, err
		}
	}
	out, ok := doc.Output(kind)
	if !ok {
		return snapshot, &project.GeneratedOutput{Kind: kind}, nil
	}
	return snapshot, out, nil
}
