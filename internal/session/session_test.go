package session

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"loom/internal/config"
	"loom/internal/project"
	"loom/internal/publish"
	"loom/internal/scheduler"
	"loom/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

const page = "/site/index.tmpl"

type mapLoader map[string]string

func (l mapLoader) Load(path string) (string, error) { return l[path], nil }

type recorder struct {
	mu          sync.Mutex
	buffers     []publish.BufferUpdate
	diagnostics []protocol.PublishDiagnosticsParams
}

func (r *recorder) notify(method string, params any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch method {
	case publish.UpdateProjectionBufferMethod:
		r.buffers = append(r.buffers, params.(publish.BufferUpdate))
	case protocol.ServerTextDocumentPublishDiagnostics:
		r.diagnostics = append(r.diagnostics, params.(protocol.PublishDiagnosticsParams))
	}
}

func (r *recorder) bufferUpdates() []publish.BufferUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]publish.BufferUpdate(nil), r.buffers...)
}

func (r *recorder) published() []protocol.PublishDiagnosticsParams {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.PublishDiagnosticsParams(nil), r.diagnostics...)
}

type fixture struct {
	t       *testing.T
	ctx     context.Context
	session *Session
	clock   *scheduler.FakeClock
	rec     *recorder
}

func setupTest(t *testing.T, configure func(*config.Config, *Options)) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Analyzers = false
	cfg.OutputSweepInterval = 0
	opts := Options{
		Loader: mapLoader{},
		Clock:  scheduler.NewFakeClock(),
	}
	if configure != nil {
		configure(&cfg, &opts)
	}
	opts.Config = cfg

	rec := &recorder{}
	s := New(rec.notify, opts)
	t.Cleanup(func() { s.Close() })

	f := &fixture{t: t, ctx: context.Background(), session: s, clock: opts.Clock.(*scheduler.FakeClock), rec: rec}
	require.NoError(t, s.AddProject(f.ctx, "/site"))
	return f
}

// regenerate lets the debounce timer fire and waits for n buffer updates
// in total.
func (f *fixture) regenerate(n int) {
	f.t.Helper()
	require.NoError(f.t, f.session.Flush(f.ctx))
	f.clock.Advance(config.Default().RegenerationDelay.Std())
	require.Eventually(f.t, func() bool { return len(f.rec.bufferUpdates()) >= n }, 2*time.Second, 5*time.Millisecond)
	require.NoError(f.t, f.session.Flush(f.ctx))
}

func codes(p protocol.PublishDiagnosticsParams) []string {
	var out []string
	for _, d := range p.Diagnostics {
		out = append(out, d.Code.Value.(string))
	}
	return out
}

func TestOpenPublishesBuffersAndDiagnostics(t *testing.T) {
	f := setupTest(t, nil)
	src := "<p>@(a + </p>"
	require.NoError(t, f.session.OpenDocument(f.ctx, page, src, 1))
	f.regenerate(2)

	updates := f.rec.bufferUpdates()
	require.Len(t, updates, 2)
	for _, u := range updates {
		assert.Equal(t, page, u.HostDocumentFilePath)
		assert.True(t, u.PreviousWasEmpty)
		require.NotNil(t, u.HostDocumentVersion)
		assert.Equal(t, int32(1), *u.HostDocumentVersion)
		require.Len(t, u.Changes, 1)
	}
	assert.Equal(t, project.Code, updates[0].ProjectionKind)
	assert.Contains(t, updates[0].Changes[0].NewText, "fmt.Fprint(w, a + </p>)")

	require.Eventually(t, func() bool { return len(f.rec.published()) == 1 }, 2*time.Second, 5*time.Millisecond)
	published := f.rec.published()[0]
	assert.Equal(t, "file:///site/index.tmpl", published.URI)
	require.NotNil(t, published.Version)
	assert.Equal(t, protocol.UInteger(1), *published.Version)
	assert.Equal(t, []string{"LOOM0002"}, codes(published))
	assert.Equal(t, protocol.UInteger(5), published.Diagnostics[0].Range.Start.Character)
}

func TestChangePublishesMinimalEdits(t *testing.T) {
	f := setupTest(t, nil)
	require.NoError(t, f.session.OpenDocument(f.ctx, page, "<h1>@title</h1>", 1))
	f.regenerate(2)

	change := protocol.TextDocumentContentChangeEvent{
		Range: &protocol.Range{
			Start: protocol.Position{Line: 0, Character: 5},
			End:   protocol.Position{Line: 0, Character: 10},
		},
		Text: "name",
	}
	require.NoError(t, f.session.ChangeDocument(f.ctx, page, 2, []any{change}))
	snapshot, err := f.session.Document(f.ctx, page)
	require.NoError(t, err)
	assert.Equal(t, "<h1>@name</h1>", snapshot.Text)

	f.regenerate(4)
	updates := f.rec.bufferUpdates()
	require.Len(t, updates, 4)
	code := updates[2]
	assert.Equal(t, project.Code, code.ProjectionKind)
	assert.False(t, code.PreviousWasEmpty)
	assert.Equal(t, int32(2), *code.HostDocumentVersion)
	require.NotEmpty(t, code.Changes)
	for _, c := range code.Changes {
		assert.Less(t, c.Span.Length+len(c.NewText), 12, "edits stay local to the change")
	}
	assert.Empty(t, f.rec.published(), "clean documents publish no diagnostics")

	assert.NoError(t, f.session.ChangeDocument(f.ctx, "/site/missing.tmpl", 1, []any{change}))
	_, err = f.session.Document(f.ctx, "/site/missing.tmpl")
	assert.ErrorIs(t, err, ErrNotFound, "a change does not create a document")
}

func TestBurstOfChangesIsCoalesced(t *testing.T) {
	f := setupTest(t, nil)
	require.NoError(t, f.session.OpenDocument(f.ctx, page, "<b>1</b>", 1))
	for v := int32(2); v <= 5; v++ {
		whole := protocol.TextDocumentContentChangeEventWhole{Text: strings.Repeat("<b>x</b>", int(v))}
		require.NoError(t, f.session.ChangeDocument(f.ctx, page, v, []any{whole}))
	}
	f.regenerate(2)

	updates := f.rec.bufferUpdates()
	require.Len(t, updates, 2, "one regeneration for the whole burst")
	assert.Equal(t, int32(5), *updates[0].HostDocumentVersion)
	assert.Equal(t, 1, f.session.queue.Passes())
}

func TestCloseClearsDiagnostics(t *testing.T) {
	f := setupTest(t, nil)
	require.NoError(t, f.session.OpenDocument(f.ctx, page, "<p>@(a + </p>", 1))
	f.regenerate(2)
	require.Eventually(t, func() bool { return len(f.rec.published()) == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, f.session.CloseDocument(f.ctx, page))
	f.clock.Advance(config.Default().DiagnosticsClearDelay.Std())
	require.Eventually(t, func() bool { return len(f.rec.published()) == 2 }, 2*time.Second, 5*time.Millisecond)
	cleared := f.rec.published()[1]
	assert.Equal(t, "file:///site/index.tmpl", cleared.URI)
	assert.Empty(t, cleared.Diagnostics)

	// The buffer was forgotten, so reopening publishes the whole text.
	require.NoError(t, f.session.OpenDocument(f.ctx, page, "<p>@(a + </p>", 3))
	f.regenerate(4)
	assert.True(t, f.rec.bufferUpdates()[2].PreviousWasEmpty)
}

func TestMapToProjectionAndBack(t *testing.T) {
	f := setupTest(t, nil)
	require.NoError(t, f.session.OpenDocument(f.ctx, page, "<h1>@title</h1>", 4))

	res, err := f.session.MapToProjection(f.ctx, page, project.Code, protocol.Position{Line: 0, Character: 7})
	require.NoError(t, err)
	require.True(t, res.Mapped)
	assert.Equal(t, int32(4), res.HostDocumentVersion)

	back, err := f.session.MapToHost(f.ctx, page, project.Code, res.Position)
	require.NoError(t, err)
	require.True(t, back.Mapped)
	assert.Equal(t, protocol.Position{Line: 0, Character: 7}, back.Position)
	assert.Equal(t, 7, back.Offset)

	res, err = f.session.MapToProjection(f.ctx, page, project.Code, protocol.Position{Line: 0, Character: 1})
	require.NoError(t, err)
	assert.False(t, res.Mapped, "markup has no place in the code projection")

	res, err = f.session.MapToProjection(f.ctx, page, project.Markup, protocol.Position{Line: 0, Character: 1})
	require.NoError(t, err)
	assert.True(t, res.Mapped)
	assert.Equal(t, 1, res.Offset)

	res, err = f.session.MapToHost(f.ctx, "/site/missing.tmpl", project.Code, protocol.Position{})
	require.NoError(t, err)
	assert.False(t, res.Found)
	assert.False(t, res.Mapped)
}

func TestSweepOutputs(t *testing.T) {
	f := setupTest(t, nil)
	require.NoError(t, f.session.OpenDocument(f.ctx, page, "<h1>@title</h1>", 1))
	f.regenerate(2)

	assert.Zero(t, f.session.SweepOutputs(), "open documents keep their output")
	require.NoError(t, f.session.CloseDocument(f.ctx, page))
	assert.Equal(t, 1, f.session.SweepOutputs())
}

func TestReopenReleasesPreviousSnapshot(t *testing.T) {
	f := setupTest(t, nil)
	require.NoError(t, f.session.OpenDocument(f.ctx, page, "<h1>@title</h1>", 1))
	f.regenerate(2)

	require.NoError(t, f.session.OpenDocument(f.ctx, page, "<h1>@name</h1>", 2))
	assert.Equal(t, 1, f.session.SweepOutputs(), "output of the replaced snapshot is freed")

	require.NoError(t, f.session.CloseDocument(f.ctx, page))
	assert.Equal(t, 1, f.session.SweepOutputs())
}

func TestAnalyzersReportSyntaxErrors(t *testing.T) {
	f := setupTest(t, func(cfg *config.Config, _ *Options) { cfg.Analyzers = true })
	require.NoError(t, f.session.OpenDocument(f.ctx, page, "<p>@{ x := }</p>", 1))
	f.regenerate(2)

	require.Eventually(t, func() bool { return len(f.rec.published()) == 1 }, 2*time.Second, 5*time.Millisecond)
	for _, code := range codes(f.rec.published()[0]) {
		assert.True(t, strings.HasPrefix(code, "LOOM1"), code)
	}
}

func TestPersistenceAndRestore(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "loom.db"))
	require.NoError(t, err)
	defer st.Close()
	loader := mapLoader{page: "<h1>disk</h1>"}

	f := setupTest(t, func(_ *config.Config, opts *Options) {
		opts.Store = st
		opts.Loader = loader
	})
	require.NoError(t, f.session.AddDocument(f.ctx, page))
	require.NoError(t, f.session.ChangeConfiguration(f.ctx, "/site", project.Configuration{RootPackage: "pages"}))
	require.NoError(t, f.session.Close())

	restored := New((&recorder{}).notify, Options{Config: config.Default(), Loader: loader, Store: st, Clock: scheduler.NewFakeClock()})
	defer restored.Close()
	require.NoError(t, restored.Restore(context.Background()))

	p, err := restored.Project(context.Background(), "/site")
	require.NoError(t, err)
	assert.Equal(t, "pages", p.Configuration.RootPackage)
	snapshot, err := restored.Document(context.Background(), page)
	require.NoError(t, err)
	assert.Equal(t, "<h1>disk</h1>", snapshot.Text)
	assert.False(t, snapshot.Open)

	require.NoError(t, restored.RemoveProject(context.Background(), "/site"))
	projects, err := st.LoadProjects()
	require.NoError(t, err)
	assert.Empty(t, projects)
}

func TestUpdateSettingsIgnoresWarnings(t *testing.T) {
	f := setupTest(t, nil)
	cfg := config.Default()
	cfg.IgnoredDiagnosticCodes = []string{"LOOM0002"}
	require.NoError(t, f.session.UpdateSettings(f.ctx, cfg))

	// Errors are published even when their code is ignored.
	require.NoError(t, f.session.OpenDocument(f.ctx, page, "<p>@(a + </p>", 1))
	f.regenerate(2)
	require.Eventually(t, func() bool { return len(f.rec.published()) == 1 }, 2*time.Second, 5*time.Millisecond)
}
