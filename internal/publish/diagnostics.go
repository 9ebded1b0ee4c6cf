package publish

import (
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"loom/internal/cache"
	"loom/internal/mapping"
	"loom/internal/metrics"
	"loom/internal/project"
	"loom/internal/resolver"
	"loom/internal/scheduler"

	"fortio.org/safecast"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

// DefaultClearDelay is the interval of the closed document sweep.
const DefaultClearDelay = 2 * time.Second

// OpenChecker reports whether a document is open in the client.
type OpenChecker interface {
	IsOpen(path string) bool
}

type DiagnosticsOptions struct {
	IgnoredCodes []string
	ClearDelay   time.Duration
	Clock        scheduler.Clock
	Metrics      *metrics.Metrics
}

// DiagnosticsPublisher maps projection diagnostics to the host document and
// publishes them when they differ from the last published set.
//
// All methods are expected to run on the foreground queue.
type DiagnosticsPublisher struct {
	notify     NotifyFunc
	versions   cache.VersionCache
	documents  OpenChecker
	foreground *scheduler.Scheduler
	clock      scheduler.Clock
	clearDelay time.Duration
	metrics    *metrics.Metrics

	mu        sync.Mutex
	ignored   map[string]struct{}
	published map[string]map[project.ProjectionKind][]protocol.Diagnostic
	sweep     scheduler.Timer
}

func NewDiagnosticsPublisher(notify NotifyFunc, versions cache.VersionCache, documents OpenChecker, foreground *scheduler.Scheduler, opts DiagnosticsOptions) *DiagnosticsPublisher {
	if opts.ClearDelay <= 0 {
		opts.ClearDelay = DefaultClearDelay
	}
	if opts.Clock == nil {
		opts.Clock = scheduler.RealClock{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	p := &DiagnosticsPublisher{
		notify:     notify,
		versions:   versions,
		documents:  documents,
		foreground: foreground,
		clock:      opts.Clock,
		clearDelay: opts.ClearDelay,
		metrics:    opts.Metrics,
		published:  make(map[string]map[project.ProjectionKind][]protocol.Diagnostic),
	}
	p.SetIgnoredCodes(opts.IgnoredCodes)
	return p
}

// SetIgnoredCodes replaces the codes of diagnostics that are never
// published unless they are errors.
func (p *DiagnosticsPublisher) SetIgnoredCodes(codes []string) {
	ignored := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		ignored[c] = struct{}{}
	}
	p.mu.Lock()
	p.ignored = ignored
	p.mu.Unlock()
}

// OnProjectionDiagnostics publishes diagnostics reported against output,
// the projection of snapshot.
func (p *DiagnosticsPublisher) OnProjectionDiagnostics(snapshot *project.DocumentSnapshot, output *project.GeneratedOutput, diagnostics []protocol.Diagnostic) {
	p.mu.Lock()
	ignored := p.ignored
	p.mu.Unlock()

	mapped := make([]protocol.Diagnostic, 0, len(diagnostics))
	for _, d := range diagnostics {
		isError := isErrorSeverity(d)
		if _, skip := ignored[codeOf(d)]; skip && !isError {
			continue
		}
		r, ok := mapping.MapRangeToHost(output.Mappings, snapshot.Lines(), output.Lines(), d.Range)
		if !ok {
			if !isError {
				continue
			}
			r = mapping.UndefinedRange
		}
		d.Range = r
		mapped = append(mapped, d)
	}

	var version *protocol.UInteger
	if v, ok := p.versions.TryGetVersion(snapshot); ok {
		if u, err := safecast.Conv[protocol.UInteger](v); err == nil {
			version = &u
		}
	}

	path := snapshot.Path()
	p.mu.Lock()
	previous := p.published[path][output.Kind]
	if sameDiagnostics(previous, mapped) {
		p.mu.Unlock()
		p.metrics.ObserveDiagnostics(false)
		return
	}
	kinds, ok := p.published[path]
	if !ok {
		kinds = make(map[project.ProjectionKind][]protocol.Diagnostic)
		p.published[path] = kinds
	}
	if len(mapped) == 0 {
		delete(kinds, output.Kind)
	} else {
		kinds[output.Kind] = mapped
	}
	all := union(kinds)
	if len(kinds) == 0 {
		delete(p.published, path)
	}
	p.ensureSweep()
	p.mu.Unlock()

	p.metrics.ObserveDiagnostics(true)
	log.Debug("publishing diagnostics", "path", path, "count", len(all))
	p.notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         resolver.URIFromPath(path),
		Version:     version,
		Diagnostics: all,
	})
}

// ClearClosedDocuments publishes an empty diagnostics set for every
// document with published diagnostics that is no longer open. The sweep
// reschedules itself while open documents still have diagnostics.
func (p *DiagnosticsPublisher) ClearClosedDocuments() {
	p.mu.Lock()
	p.sweep = nil
	var closed []string
	for path := range p.published {
		if !p.documents.IsOpen(path) {
			closed = append(closed, path)
			delete(p.published, path)
		}
	}
	if len(p.published) > 0 {
		p.ensureSweep()
	}
	p.mu.Unlock()

	sort.Strings(closed)
	for _, path := range closed {
		p.notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
			URI:         resolver.URIFromPath(path),
			Diagnostics: []protocol.Diagnostic{},
		})
	}
	if len(closed) > 0 {
		p.metrics.ObserveClosedCleared(len(closed))
		log.Debug("cleared diagnostics of closed documents", "count", len(closed))
	}
}

// ensureSweep must be called with p.mu held.
func (p *DiagnosticsPublisher) ensureSweep() {
	if p.sweep != nil || len(p.published) == 0 {
		return
	}
	p.sweep = p.clock.AfterFunc(p.clearDelay, func() {
		p.foreground.ScheduleOrDrop(scheduler.Task{
			Name: "clear closed diagnostics",
			Execute: func() error {
				p.ClearClosedDocuments()
				return nil
			},
		})
	})
}

// Stop cancels a pending sweep.
func (p *DiagnosticsPublisher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sweep != nil {
		p.sweep.Stop()
		p.sweep = nil
	}
}

// Published returns the diagnostics currently published for path.
func (p *DiagnosticsPublisher) Published(path string) []protocol.Diagnostic {
	p.mu.Lock()
	defer p.mu.Unlock()
	return union(p.published[path])
}

// isErrorSeverity treats a missing severity as an error.
func isErrorSeverity(d protocol.Diagnostic) bool {
	return d.Severity == nil || *d.Severity == protocol.DiagnosticSeverityError
}

func codeOf(d protocol.Diagnostic) string {
	if d.Code == nil || d.Code.Value == nil {
		return ""
	}
	return fmt.Sprint(d.Code.Value)
}

func union(kinds map[project.ProjectionKind][]protocol.Diagnostic) []protocol.Diagnostic {
	all := []protocol.Diagnostic{}
	for _, kind := range project.ProjectionKinds {
		all = append(all, kinds[kind]...)
	}
	return all
}

func diagnosticKey(d protocol.Diagnostic) string {
	severity := "-"
	if d.Severity != nil {
		severity = fmt.Sprint(*d.Severity)
	}
	r := d.Range
	return fmt.Sprintf("%d:%d-%d:%d|%s|%s|%s",
		r.Start.Line, r.Start.Character, r.End.Line, r.End.Character,
		severity, codeOf(d), d.Message)
}

// sameDiagnostics compares a and b as multisets.
func sameDiagnostics(a, b []protocol.Diagnostic) bool {
	if len(a) != len(b) {
		return false
	}
	keys := func(ds []protocol.Diagnostic) []string {
		out := make([]string, len(ds))
		for i, d := range ds {
			out[i] = diagnosticKey(d)
		}
		sort.Strings(out)
		return out
	}
	return slices.Equal(keys(a), keys(b))
}
