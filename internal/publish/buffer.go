// Package publish sends projection text and diagnostics to the client,
// diffing against what was published before so that unchanged state is not
// sent again.
package publish

import (
	"sync"

	"loom/internal/differ"
	"loom/internal/mapping"
	"loom/internal/metrics"
	"loom/internal/project"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
)

var log = commonlog.GetLogger("loom.publish")

// UpdateProjectionBufferMethod is the notification carrying BufferUpdate.
const UpdateProjectionBufferMethod = "loom/updateProjectionBuffer"

// DefaultLineDiffThreshold is the projection size above which the line
// differ is used.
const DefaultLineDiffThreshold = 64 * 1024

// NotifyFunc sends a notification to the client.
type NotifyFunc = glsp.NotifyFunc

// BufferChange replaces Span of the previously published text.
type BufferChange struct {
	Span    mapping.Span `json:"span"`
	NewText string       `json:"newText"`
}

// BufferUpdate is the payload of UpdateProjectionBufferMethod.
type BufferUpdate struct {
	HostDocumentFilePath string                 `json:"hostDocumentFilePath"`
	ProjectionKind       project.ProjectionKind `json:"projectionKind"`
	Changes              []BufferChange         `json:"changes"`
	HostDocumentVersion  *int32                 `json:"hostDocumentVersion"`
	PreviousWasEmpty     bool                   `json:"previousWasEmpty"`
}

type bufferKey struct {
	path string
	kind project.ProjectionKind
}

// BufferPublisher publishes generated projection text as minimal edits
// against the text it published last.
type BufferPublisher struct {
	mu                sync.Mutex
	notify            NotifyFunc
	published         map[bufferKey]string
	lineDiffThreshold int
	metrics           *metrics.Metrics
}

func NewBufferPublisher(notify NotifyFunc, lineDiffThreshold int, m *metrics.Metrics) *BufferPublisher {
	if lineDiffThreshold <= 0 {
		lineDiffThreshold = DefaultLineDiffThreshold
	}
	if m == nil {
		m = metrics.New()
	}
	return &BufferPublisher{
		notify:            notify,
		published:         make(map[bufferKey]string),
		lineDiffThreshold: lineDiffThreshold,
		metrics:           m,
	}
}

// Publish sends newText for (path, kind). The first publication carries the
// whole text; later ones carry the edits from the previous text, which is
// an empty list when nothing changed.
func (p *BufferPublisher) Publish(path string, kind project.ProjectionKind, newText string, version *int32) {
	p.mu.Lock()
	key := bufferKey{path: path, kind: kind}
	old, seen := p.published[key]
	p.published[key] = newText
	p.mu.Unlock()

	update := BufferUpdate{
		HostDocumentFilePath: path,
		ProjectionKind:       kind,
		Changes:              []BufferChange{},
		HostDocumentVersion:  version,
		PreviousWasEmpty:     !seen,
	}
	switch {
	case !seen:
		update.Changes = append(update.Changes, BufferChange{NewText: newText})
	case old != newText:
		lineOnly := len(old) > p.lineDiffThreshold || len(newText) > p.lineDiffThreshold
		for _, e := range differ.Diff(old, newText, lineOnly) {
			update.Changes = append(update.Changes, BufferChange{
				Span:    mapping.Span{Start: e.Start, Length: e.End - e.Start},
				NewText: e.NewText,
			})
		}
	}

	log.Debug("publishing projection buffer", "path", path, "kind", kind.String(), "changes", len(update.Changes))
	p.metrics.ObserveBufferUpdate(kind.String(), len(update.Changes))
	p.notify(UpdateProjectionBufferMethod, update)
}

// Forget discards the published text of path so that the next Publish
// sends the whole text again.
func (p *BufferPublisher) Forget(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, kind := range project.ProjectionKinds {
		delete(p.published, bufferKey{path: path, kind: kind})
	}
}

// Published returns the text last published for (path, kind).
func (p *BufferPublisher) Published(path string, kind project.ProjectionKind) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	text, ok := p.published[bufferKey{path: path, kind: kind}]
	return text, ok
}
