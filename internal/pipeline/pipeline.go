// Package pipeline regenerates the projections of open documents after a
// quiet period, coalescing bursts of change notifications into one pass.
package pipeline

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	"loom/internal/cache"
	"loom/internal/metrics"
	"loom/internal/project"
	"loom/internal/scheduler"

	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"
)

var log = commonlog.GetLogger("loom.pipeline")

// DefaultDelay is the quiet period before a pass starts.
const DefaultDelay = 200 * time.Millisecond

// State of a Queue.
type State int

const (
	Idle State = iota
	Scheduled
	Running
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scheduled:
		return "scheduled"
	case Running:
		return "running"
	}
	return "unknown"
}

// DocumentResolver answers questions about the current document state.
// It is only called on the foreground queue.
type DocumentResolver interface {
	IsOpen(path string) bool
	// Snapshot returns the latest snapshot of path and the configuration
	// of its project.
	Snapshot(path string) (*project.DocumentSnapshot, project.Configuration, bool)
}

// Listener receives regenerated documents on the foreground queue.
type Listener interface {
	OnRegenerated(snapshot *project.DocumentSnapshot, doc *project.GeneratedDocument)
}

type Options struct {
	Delay   time.Duration
	Workers int
	Clock   scheduler.Clock
	Metrics *metrics.Metrics
}

type job struct {
	snapshot *project.DocumentSnapshot
	cfg      project.Configuration
}

type result struct {
	snapshot *project.DocumentSnapshot
	doc      *project.GeneratedDocument
}

// Queue is the debounced regeneration queue. Enqueue must be called on the
// foreground queue; generation itself runs on worker goroutines and its
// results are applied back on the foreground queue.
type Queue struct {
	foreground *scheduler.Scheduler
	outputs    *cache.OutputCache
	resolver   DocumentResolver
	delay      time.Duration
	workers    int
	clock      scheduler.Clock
	metrics    *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     State
	pending   map[string]struct{}
	timer     scheduler.Timer
	passes    int
	listeners []Listener
}

func NewQueue(foreground *scheduler.Scheduler, outputs *cache.OutputCache, resolver DocumentResolver, opts Options) *Queue {
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.Clock == nil {
		opts.Clock = scheduler.RealClock{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		foreground: foreground,
		outputs:    outputs,
		resolver:   resolver,
		delay:      opts.Delay,
		workers:    opts.Workers,
		clock:      opts.Clock,
		metrics:    opts.Metrics,
		ctx:        ctx,
		cancel:     cancel,
		pending:    make(map[string]struct{}),
	}
}

func (q *Queue) AddListener(l Listener) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.listeners = append(q.listeners, l)
}

// Enqueue asks for path to be regenerated. Closed documents are ignored.
// The debounce timer starts with the first unconsumed trigger and is not
// restarted by later ones.
func (q *Queue) Enqueue(path string) {
	if !q.resolver.IsOpen(path) {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending[path] = struct{}{}
	if q.state == Idle {
		q.state = Scheduled
		q.startTimer()
	}
}

// startTimer must be called with q.mu held.
func (q *Queue) startTimer() {
	q.timer = q.clock.AfterFunc(q.delay, q.fire)
}

func (q *Queue) fire() {
	if !q.foreground.ScheduleOrDrop(scheduler.Task{Name: "regenerate", Execute: q.drain}) {
		q.mu.Lock()
		q.state = Idle
		q.mu.Unlock()
	}
}

func (q *Queue) drain() error {
	q.mu.Lock()
	q.state = Running
	paths := make([]string, 0, len(q.pending))
	for p := range q.pending {
		paths = append(paths, p)
	}
	q.pending = make(map[string]struct{})
	q.mu.Unlock()

	sort.Strings(paths)
	jobs := make([]job, 0, len(paths))
	for _, path := range paths {
		snapshot, cfg, ok := q.resolver.Snapshot(path)
		if !ok || !snapshot.Open {
			continue
		}
		jobs = append(jobs, job{snapshot: snapshot, cfg: cfg})
	}

	go q.generate(jobs)
	return nil
}

// generate runs off the foreground queue. A failing document is logged and
// skipped.
func (q *Queue) generate(jobs []job) {
	start := time.Now()
	results := make([]result, len(jobs))

	var g errgroup.Group
	g.SetLimit(max(1, min(q.workers, len(jobs))))
	for i, j := range jobs {
		g.Go(func() error {
			doc, err := q.outputs.Generate(q.ctx, j.snapshot, j.cfg)
			q.metrics.ObserveRegeneration(err, err == nil && doc.Unsupported)
			if err != nil {
				log.Error("generation failed", "path", j.snapshot.Path(), "error", err)
				return nil
			}
			results[i] = result{snapshot: j.snapshot, doc: doc}
			return nil
		})
	}
	_ = g.Wait()
	q.metrics.ObservePass(time.Since(start))

	q.foreground.ScheduleOrDrop(scheduler.Task{
		Name:    "apply regenerated",
		Execute: func() error { return q.apply(results) },
	})
}

func (q *Queue) apply(results []result) error {
	q.mu.Lock()
	listeners := append([]Listener(nil), q.listeners...)
	q.mu.Unlock()

	for _, r := range results {
		if r.doc == nil {
			continue
		}
		current, _, ok := q.resolver.Snapshot(r.snapshot.Path())
		if !ok || current != r.snapshot {
			q.metrics.ObserveStaleResult()
			log.Debug("discarding stale result", "snapshot", r.snapshot.String())
			continue
		}
		q.outputs.Put(r.snapshot, r.doc)
		for _, l := range listeners {
			l.OnRegenerated(r.snapshot, r.doc)
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.passes++
	if len(q.pending) > 0 {
		q.state = Scheduled
		q.startTimer()
	} else {
		q.state = Idle
	}
	return nil
}

func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Passes returns the number of completed regeneration passes.
func (q *Queue) Passes() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.passes
}

// Close stops the pending timer and cancels in-flight generation.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.timer != nil {
		q.timer.Stop()
	}
	q.cancel()
}
