// Package session wires the synchronization core together. Every mutation
// of the project snapshot graph runs as a task on one foreground queue;
// generation and analysis run on worker goroutines and re-enter the queue
// to apply their results.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"loom/internal/analyzer"
	"loom/internal/cache"
	"loom/internal/config"
	"loom/internal/generator"
	"loom/internal/manager"
	"loom/internal/metrics"
	"loom/internal/pipeline"
	"loom/internal/project"
	"loom/internal/publish"
	"loom/internal/scheduler"
	"loom/internal/text"

	"github.com/tliron/commonlog"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

var log = commonlog.GetLogger("loom.session")

// ErrNotFound is returned for projects and documents the session does not
// know.
var ErrNotFound = errors.New("session: not found")

const queueSize = 1024

// ProjectStore persists projects across restarts.
type ProjectStore interface {
	SaveProject(p *project.Project) error
	DeleteProject(path string) error
	LoadProjects() ([]*project.Project, error)
}

type Options struct {
	Config    config.Config
	Generator project.Generator
	Loader    manager.TextLoader
	Store     ProjectStore
	Clock     scheduler.Clock
	Metrics   *metrics.Metrics
}

type Session struct {
	foreground  *scheduler.Scheduler
	manager     *manager.Manager
	versions    *cache.DocumentVersionCache
	outputs     *cache.OutputCache
	queue       *pipeline.Queue
	buffers     *publish.BufferPublisher
	diagnostics *publish.DiagnosticsPublisher
	analyzers   []analyzer.Analyzer
	store       ProjectStore
	metrics     *metrics.Metrics

	// cfg and restoring are only touched on the foreground queue.
	cfg       config.Config
	restoring bool

	ctx      context.Context
	cancel   context.CancelFunc
	analysis sync.WaitGroup
	stopOnce sync.Once
}

// New creates a session that sends its notifications through notify. The
// foreground queue starts running immediately.
func New(notify publish.NotifyFunc, opts Options) *Session {
	if opts.Generator == nil {
		opts.Generator = generator.New()
	}
	if opts.Clock == nil {
		opts.Clock = scheduler.RealClock{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	cfg := opts.Config

	s := &Session{
		foreground: scheduler.NewScheduler(queueSize),
		manager:    manager.New(opts.Loader),
		versions:   cache.NewDocumentVersionCache(cfg.MaxTrackingCount),
		outputs:    cache.NewOutputCache(opts.Generator),
		store:      opts.Store,
		metrics:    opts.Metrics,
		cfg:        cfg,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.queue = pipeline.NewQueue(s.foreground, s.outputs, s.manager, pipeline.Options{
		Delay:   cfg.RegenerationDelay.Std(),
		Workers: cfg.Workers,
		Clock:   opts.Clock,
		Metrics: opts.Metrics,
	})
	s.buffers = publish.NewBufferPublisher(notify, cfg.LineDiffThreshold, opts.Metrics)
	s.diagnostics = publish.NewDiagnosticsPublisher(notify, s.versions, s.manager, s.foreground, publish.DiagnosticsOptions{
		IgnoredCodes: cfg.IgnoredDiagnosticCodes,
		ClearDelay:   cfg.DiagnosticsClearDelay.Std(),
		Clock:        opts.Clock,
		Metrics:      opts.Metrics,
	})
	if cfg.Analyzers {
		s.analyzers = []analyzer.Analyzer{
			analyzer.NewCodeAnalyzer(cfg.Workers),
			analyzer.NewMarkupAnalyzer(cfg.Workers),
		}
	}

	s.manager.AddListener(s.onChange)
	s.queue.AddListener(s)

	s.foreground.RunScheduler()
	if interval := cfg.OutputSweepInterval.Std(); interval > 0 {
		s.foreground.SchedulePeriodicTask(interval, scheduler.Task{
			Name: "sweep generated output",
			Execute: func() error {
				s.SweepOutputs()
				return nil
			},
		})
	}
	return s
}

// Close stops timers, waits for running analyses and drains the foreground
// queue.
func (s *Session) Close() error {
	s.stopOnce.Do(func() {
		s.queue.Close()
		s.diagnostics.Stop()
		s.cancel()
		s.analysis.Wait()
		s.foreground.StopScheduler()
		for _, a := range s.analyzers {
			if c, ok := a.(interface{ Close() error }); ok {
				if err := c.Close(); err != nil {
					log.Warning("closing analyzer", "kind", a.Kind().String(), "error", err.Error())
				}
			}
		}
	})
	return nil
}

func (s *Session) run(ctx context.Context, name string, fn func() error) error {
	return s.foreground.Run(ctx, scheduler.Task{Name: name, Execute: fn})
}

// Flush waits until every task posted before the call has run.
func (s *Session) Flush(ctx context.Context) error {
	return s.foreground.Flush(ctx)
}

// ProjectConfiguration returns the configuration given to new projects.
func (s *Session) ProjectConfiguration() project.Configuration {
	cfg := project.DefaultConfiguration()
	if s.cfg.RootPackage != "" {
		cfg.RootPackage = s.cfg.RootPackage
	}
	return cfg
}

// Restore adds the projects of the store. Projects that already exist are
// skipped.
func (s *Session) Restore(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	projects, err := s.store.LoadProjects()
	if err != nil {
		return fmt.Errorf("loading projects: %w", err)
	}
	return s.run(ctx, "restore projects", func() error {
		s.restoring = true
		defer func() { s.restoring = false }()
		for _, p := range projects {
			if _, ok := s.manager.Project(p.Path); ok {
				continue
			}
			if err := s.manager.AddProject(p); err != nil {
				return err
			}
			log.Info("restored project", "path", p.Path, "documents", p.DocumentCount())
		}
		return nil
	})
}

func (s *Session) AddProject(ctx context.Context, path string) error {
	return s.run(ctx, "add project", func() error {
		return s.manager.AddProject(project.NewProject(path, s.ProjectConfiguration()))
	})
}

func (s *Session) RemoveProject(ctx context.Context, path string) error {
	return s.run(ctx, "remove project", func() error {
		return s.manager.RemoveProject(path)
	})
}

func (s *Session) ChangeConfiguration(ctx context.Context, projectPath string, cfg project.Configuration) error {
	return s.run(ctx, "change configuration", func() error {
		return s.manager.ChangeConfiguration(projectPath, cfg)
	})
}

func (s *Session) ChangeWorkspaceState(ctx context.Context, projectPath string, state project.WorkspaceState) error {
	return s.run(ctx, "change workspace state", func() error {
		return s.manager.ChangeWorkspaceState(projectPath, state)
	})
}

// AddDocument adds path to the project that owns it.
func (s *Session) AddDocument(ctx context.Context, path string) error {
	return s.run(ctx, "add document", func() error {
		owner := s.manager.OwnerOf(path)
		if owner == manager.MiscellaneousProject {
			return nil
		}
		return s.manager.AddDocument(owner, project.NewHostDocument(path))
	})
}

func (s *Session) RemoveDocument(ctx context.Context, path string) error {
	return s.run(ctx, "remove document", func() error {
		snapshot, ok := s.manager.Document(path)
		if !ok {
			return nil
		}
		return s.manager.RemoveDocument(snapshot.ProjectPath, path)
	})
}

func (s *Session) OpenDocument(ctx context.Context, path, content string, version int32) error {
	return s.run(ctx, "open document", func() error {
		s.manager.OpenDocument(path, content, version)
		return nil
	})
}

// ChangeDocument applies LSP content changes to the latest text of path.
// Changes to unknown documents are ignored.
func (s *Session) ChangeDocument(ctx context.Context, path string, version int32, changes []any) error {
	return s.run(ctx, "change document", func() error {
		snapshot, ok := s.manager.Document(path)
		if !ok {
			log.Debug("change for unknown document", "path", path)
			return nil
		}
		content, err := text.ApplyChanges(snapshot.Text, changes)
		if err != nil {
			return fmt.Errorf("applying changes to %s: %w", path, err)
		}
		return s.manager.ChangeDocument(path, content, version)
	})
}

// ReloadDocument picks up a change on disk of a closed document.
func (s *Session) ReloadDocument(ctx context.Context, path string) error {
	return s.run(ctx, "reload document", func() error {
		if _, ok := s.manager.Document(path); !ok {
			return nil
		}
		return s.manager.ReloadDocument(path)
	})
}

func (s *Session) CloseDocument(ctx context.Context, path string) error {
	return s.run(ctx, "close document", func() error {
		return s.manager.CloseDocument(path)
	})
}

// UpdateSettings applies settings received after start. Timing, worker
// and store settings keep their start-up values.
func (s *Session) UpdateSettings(ctx context.Context, cfg config.Config) error {
	return s.run(ctx, "update settings", func() error {
		s.cfg = cfg
		s.diagnostics.SetIgnoredCodes(cfg.IgnoredDiagnosticCodes)
		log.Info("settings updated", "ignored", len(cfg.IgnoredDiagnosticCodes))
		return nil
	})
}

// Document returns the latest snapshot of path.
func (s *Session) Document(ctx context.Context, path string) (*project.DocumentSnapshot, error) {
	var snapshot *project.DocumentSnapshot
	err := s.run(ctx, "lookup document", func() error {
		var ok bool
		if snapshot, ok = s.manager.Document(path); !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil
	})
	return snapshot, err
}

func (s *Session) Project(ctx context.Context, path string) (*project.Project, error) {
	var p *project.Project
	err := s.run(ctx, "lookup project", func() error {
		var ok bool
		if p, ok = s.manager.Project(path); !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil
	})
	return p, err
}

// SweepOutputs frees generated output that no open document pins.
func (s *Session) SweepOutputs() int {
	n := s.outputs.Sweep()
	s.metrics.ObserveOutputsSwept(n)
	return n
}

// onChange keeps the caches and publishers in line with the snapshot
// graph. It runs on the foreground queue.
func (s *Session) onChange(e manager.ChangeEvent) {
	switch e.Kind {
	case manager.DocumentOpened:
		s.track(e.Newer)
		if e.Older != nil && e.Older.Open {
			s.outputs.Unpin(e.Older)
		}
		s.outputs.Pin(e.Newer)
		s.queue.Enqueue(e.DocumentPath)

	case manager.DocumentChanged:
		s.track(e.Newer)
		if e.Older.Open {
			s.outputs.Unpin(e.Older)
			s.outputs.Pin(e.Newer)
		}
		s.queue.Enqueue(e.DocumentPath)

	case manager.DocumentClosed:
		s.versions.Evict(e.DocumentPath)
		s.buffers.Forget(e.DocumentPath)
		s.outputs.Unpin(e.Older)

	case manager.DocumentAdded:
		if e.Newer.Open {
			s.track(e.Newer)
			s.outputs.Pin(e.Newer)
			s.queue.Enqueue(e.DocumentPath)
		}
		s.persist(e.ProjectPath)

	case manager.DocumentRemoved:
		s.versions.Evict(e.DocumentPath)
		s.buffers.Forget(e.DocumentPath)
		s.outputs.Release(e.DocumentPath)
		s.persist(e.ProjectPath)

	case manager.ProjectConfigurationChanged, manager.ProjectWorkspaceStateChanged:
		for _, d := range s.manager.Documents(e.ProjectPath) {
			s.queue.Enqueue(d.Path())
		}
		s.persist(e.ProjectPath)

	case manager.ProjectAdded:
		s.persist(e.ProjectPath)

	case manager.ProjectRemoved:
		if s.store != nil && e.ProjectPath != manager.MiscellaneousProject {
			if err := s.store.DeleteProject(e.ProjectPath); err != nil {
				log.Warning("cannot delete persisted project", "path", e.ProjectPath, "error", err.Error())
			}
		}
	}
}

func (s *Session) track(snapshot *project.DocumentSnapshot) {
	s.versions.Track(snapshot, snapshot.Version)
}

func (s *Session) persist(projectPath string) {
	if s.store == nil || s.restoring || projectPath == manager.MiscellaneousProject {
		return
	}
	p, ok := s.manager.Project(projectPath)
	if !ok {
		return
	}
	if err := s.store.SaveProject(p); err != nil {
		log.Warning("cannot persist project", "path", projectPath, "error", err.Error())
	}
}

// OnRegenerated publishes the projection buffers of a regenerated document
// and starts the analysis of its projections. It runs on the foreground
// queue.
func (s *Session) OnRegenerated(snapshot *project.DocumentSnapshot, doc *project.GeneratedDocument) {
	var version *int32
	if v, ok := s.versions.TryGetVersion(snapshot); ok {
		version = &v
	}
	for _, kind := range project.ProjectionKinds {
		if out, ok := doc.Output(kind); ok {
			s.buffers.Publish(snapshot.Path(), kind, out.Text, version)
		}
	}

	if len(s.analyzers) == 0 || doc.Unsupported {
		s.publishDiagnostics(snapshot, doc, nil)
		return
	}

	s.analysis.Add(1)
	go func() {
		defer s.analysis.Done()
		found := s.analyze(snapshot, doc)
		err := s.foreground.Schedule(scheduler.Task{
			Name: "publish diagnostics",
			Execute: func() error {
				s.publishDiagnostics(snapshot, doc, found)
				return nil
			},
		})
		if err != nil {
			log.Debug("diagnostics dropped", "snapshot", snapshot.String(), "error", err.Error())
		}
	}()
}

// analyze runs off the foreground queue.
func (s *Session) analyze(snapshot *project.DocumentSnapshot, doc *project.GeneratedDocument) map[project.ProjectionKind][]protocol.Diagnostic {
	found := make(map[project.ProjectionKind][]protocol.Diagnostic)
	for _, a := range s.analyzers {
		out, ok := doc.Output(a.Kind())
		if !ok {
			continue
		}
		diags, err := a.Analyze(s.ctx, out)
		if err != nil {
			s.metrics.ObserveAnalyzerError(a.Kind().String())
			log.Warning("analysis failed", "snapshot", snapshot.String(), "kind", a.Kind().String(), "error", err.Error())
			continue
		}
		found[a.Kind()] = diags
	}
	return found
}

func (s *Session) publishDiagnostics(snapshot *project.DocumentSnapshot, doc *project.GeneratedDocument, found map[project.ProjectionKind][]protocol.Diagnostic) {
	if current, ok := s.manager.Document(snapshot.Path()); !ok || current != snapshot {
		s.metrics.ObserveStaleResult()
		return
	}
	for _, kind := range project.ProjectionKinds {
		out, ok := doc.Output(kind)
		if !ok {
			continue
		}
		diags := append(append([]protocol.Diagnostic(nil), out.Diagnostics...), found[kind]...)
		s.diagnostics.OnProjectionDiagnostics(snapshot, out, diags)
	}
}
