package pipeline_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"loom/internal/cache"
	"loom/internal/pipeline"
	"loom/internal/project"
	"loom/internal/scheduler"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const delay = 200 * time.Millisecond

type documents struct {
	mu        sync.Mutex
	snapshots map[string]*project.DocumentSnapshot
}

func (d *documents) set(s *project.DocumentSnapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.snapshots[s.Path()] = s
}

func (d *documents) IsOpen(path string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.snapshots[path]
	return ok && s.Open
}

func (d *documents) Snapshot(path string) (*project.DocumentSnapshot, project.Configuration, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.snapshots[path]
	return s, project.DefaultConfiguration(), ok
}

type generator struct {
	mu      sync.Mutex
	calls   []string
	fail    map[string]bool
	started chan string
	release chan struct{}
}

func (g *generator) Generate(_ context.Context, s *project.DocumentSnapshot, _ project.Configuration) (*project.GeneratedDocument, error) {
	g.mu.Lock()
	g.calls = append(g.calls, s.Path())
	fail := g.fail[s.Path()]
	g.mu.Unlock()

	if g.started != nil {
		g.started <- s.Path()
	}
	if g.release != nil {
		<-g.release
	}
	if fail {
		return nil, errors.New("generator failed")
	}
	return &project.GeneratedDocument{Outputs: map[project.ProjectionKind]*project.GeneratedOutput{
		project.Code: {Kind: project.Code, Text: s.Text},
	}}, nil
}

func (g *generator) Calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	calls := append([]string(nil), g.calls...)
	sort.Strings(calls)
	return calls
}

type recorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *recorder) OnRegenerated(s *project.DocumentSnapshot, _ *project.GeneratedDocument) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, s.Path())
}

func (r *recorder) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	paths := append([]string(nil), r.paths...)
	sort.Strings(paths)
	return paths
}

type fixture struct {
	clock    *scheduler.FakeClock
	fg       *scheduler.Scheduler
	docs     *documents
	gen      *generator
	outputs  *cache.OutputCache
	queue    *pipeline.Queue
	recorder *recorder
}

func setupTest(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock:    scheduler.NewFakeClock(),
		fg:       scheduler.NewScheduler(64),
		docs:     &documents{snapshots: map[string]*project.DocumentSnapshot{}},
		gen:      &generator{fail: map[string]bool{}},
		recorder: &recorder{},
	}
	f.fg.RunScheduler()
	f.outputs = cache.NewOutputCache(f.gen)
	f.queue = pipeline.NewQueue(f.fg, f.outputs, f.docs, pipeline.Options{
		Delay:   delay,
		Workers: 2,
		Clock:   f.clock,
	})
	f.queue.AddListener(f.recorder)
	t.Cleanup(func() {
		f.queue.Close()
		f.fg.StopScheduler()
	})
	return f
}

func (f *fixture) open(path string) *project.DocumentSnapshot {
	s := project.NewSnapshot(project.NewHostDocument(path), "/p", "text of "+path, 1, true)
	f.docs.set(s)
	return s
}

func (f *fixture) waitForPasses(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return f.queue.Passes() >= n }, 2*time.Second, time.Millisecond)
	require.NoError(t, f.fg.Flush(context.Background()))
}

func TestDebounceCoalescing(t *testing.T) {
	f := setupTest(t)
	f.open("/p/a.tmpl")
	f.open("/p/b.tmpl")

	f.queue.Enqueue("/p/a.tmpl")
	assert.Equal(t, pipeline.Scheduled, f.queue.State())
	f.clock.Advance(delay / 2)
	f.queue.Enqueue("/p/b.tmpl")
	f.queue.Enqueue("/p/a.tmpl")
	assert.Equal(t, 1, f.clock.Pending(), "later triggers do not start another timer")

	f.clock.Advance(delay / 2)
	f.waitForPasses(t, 1)

	assert.Equal(t, 1, f.queue.Passes())
	assert.Equal(t, []string{"/p/a.tmpl", "/p/b.tmpl"}, f.gen.Calls())
	assert.Equal(t, []string{"/p/a.tmpl", "/p/b.tmpl"}, f.recorder.Paths())
	assert.Equal(t, pipeline.Idle, f.queue.State())
}

func TestEnqueueIgnoresClosedDocuments(t *testing.T) {
	f := setupTest(t)
	s := f.open("/p/a.tmpl")
	f.docs.set(s.WithOpen(false, 1))

	f.queue.Enqueue("/p/a.tmpl")
	f.queue.Enqueue("/p/unknown.tmpl")

	assert.Equal(t, pipeline.Idle, f.queue.State())
	assert.Equal(t, 0, f.clock.Pending())
}

func TestGenerationFailureDoesNotAbortPass(t *testing.T) {
	f := setupTest(t)
	f.open("/p/a.tmpl")
	f.open("/p/b.tmpl")
	f.gen.fail["/p/a.tmpl"] = true

	f.queue.Enqueue("/p/a.tmpl")
	f.queue.Enqueue("/p/b.tmpl")
	f.clock.Advance(delay)
	f.waitForPasses(t, 1)

	assert.Equal(t, []string{"/p/a.tmpl", "/p/b.tmpl"}, f.gen.Calls())
	assert.Equal(t, []string{"/p/b.tmpl"}, f.recorder.Paths())
}

func TestWorkArrivingWhileRunningSchedulesAnotherPass(t *testing.T) {
	f := setupTest(t)
	f.gen.started = make(chan string, 4)
	f.gen.release = make(chan struct{})
	f.open("/p/a.tmpl")
	f.open("/p/b.tmpl")

	f.queue.Enqueue("/p/a.tmpl")
	f.clock.Advance(delay)
	<-f.gen.started
	require.Equal(t, pipeline.Running, f.queue.State())

	f.queue.Enqueue("/p/b.tmpl")
	assert.Equal(t, pipeline.Running, f.queue.State())
	assert.Equal(t, 0, f.clock.Pending(), "no timer while running")

	f.gen.release <- struct{}{}
	f.waitForPasses(t, 1)
	assert.Equal(t, pipeline.Scheduled, f.queue.State())
	assert.Equal(t, 1, f.clock.Pending())

	f.clock.Advance(delay)
	<-f.gen.started
	f.gen.release <- struct{}{}
	f.waitForPasses(t, 2)

	assert.Equal(t, pipeline.Idle, f.queue.State())
	assert.Equal(t, []string{"/p/a.tmpl", "/p/b.tmpl"}, f.recorder.Paths())
}

func TestStaleResultsAreDiscarded(t *testing.T) {
	f := setupTest(t)
	f.gen.started = make(chan string, 4)
	f.gen.release = make(chan struct{})
	old := f.open("/p/a.tmpl")

	f.queue.Enqueue("/p/a.tmpl")
	f.clock.Advance(delay)
	<-f.gen.started

	newer := old.WithText("changed", 2)
	f.docs.set(newer)

	f.gen.release <- struct{}{}
	f.waitForPasses(t, 1)

	assert.Empty(t, f.recorder.Paths())
	_, ok := f.outputs.Lookup(old)
	assert.False(t, ok)
}
