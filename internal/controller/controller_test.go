package controller

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/previewlabs/previewd/pkg/bundler"
	"github.com/previewlabs/previewd/pkg/eventbus"
	"github.com/previewlabs/previewd/pkg/filetree"
	"github.com/previewlabs/previewd/pkg/overlay"
	"github.com/previewlabs/previewd/pkg/profile"
	"github.com/previewlabs/previewd/pkg/sandbox"
	"github.com/previewlabs/previewd/pkg/store"
	sqliteStore "github.com/previewlabs/previewd/store/sqlite"
)

// --- stubs ---

type stubFetcher struct {
	mu    sync.Mutex
	tree  *filetree.Tree
	err   error
	calls int
}

func (f *stubFetcher) Fetch(_ context.Context, _, _ string) (*filetree.Tree, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.tree, nil
}

func (f *stubFetcher) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *stubFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// stubProcess replays lines, then blocks until killed (a dev server) or
// exits (an install run).
type stubProcess struct {
	lines  []string
	pos    int
	block  bool
	killed chan struct{}
	once   sync.Once
}

func (p *stubProcess) Scan() bool {
	if p.pos < len(p.lines) {
		p.pos++
		return true
	}
	if p.block {
		<-p.killed
	}
	return false
}
func (p *stubProcess) Text() string       { return p.lines[p.pos-1] }
func (p *stubProcess) Err() error         { return nil }
func (p *stubProcess) Wait() (int, error) { return 0, nil }
func (p *stubProcess) Kill() error {
	p.once.Do(func() { close(p.killed) })
	return nil
}

type stubRuntime struct {
	mu            sync.Mutex
	bootCalls     int
	mountCalls    int
	teardownCalls int
	bootCtxs      []context.Context
	procs         []*stubProcess
}

func (r *stubRuntime) Boot(ctx context.Context, opts sandbox.BootOptions) (sandbox.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bootCalls++
	r.bootCtxs = append(r.bootCtxs, ctx)
	return sandbox.Handle(fmt.Sprintf("box-%s-%d", opts.ViewID, r.bootCalls)), nil
}

func (r *stubRuntime) Mount(_ context.Context, _ sandbox.Handle, _ *filetree.Tree) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mountCalls++
	return nil
}

func (r *stubRuntime) Spawn(_ context.Context, _ sandbox.Handle, program string, args []string) (sandbox.Process, error) {
	var p *stubProcess
	if len(args) > 0 && args[0] == "install" {
		p = &stubProcess{lines: []string{"added 10 packages"}, killed: make(chan struct{})}
	} else {
		p = &stubProcess{
			lines:  []string{"compiling...", "Local: http://localhost:3000/"},
			block:  true,
			killed: make(chan struct{}),
		}
	}
	r.mu.Lock()
	r.procs = append(r.procs, p)
	r.mu.Unlock()
	return p, nil
}

func (r *stubRuntime) PreviewURL(_ context.Context, _ sandbox.Handle, port int) (string, error) {
	return fmt.Sprintf("http://10.0.0.99:%d", port), nil
}

func (r *stubRuntime) Teardown(_ context.Context, _ sandbox.Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.teardownCalls++
	for _, p := range r.procs {
		p.Kill()
	}
	return nil
}

func (r *stubRuntime) counts() (boots, mounts, teardowns int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bootCalls, r.mountCalls, r.teardownCalls
}

func (r *stubRuntime) bootContext(i int) context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bootCtxs[i]
}

// --- helpers ---

func reactTree(t *testing.T) *filetree.Tree {
	t.Helper()
	b := filetree.NewBuilder()
	files := map[string]string{
		"package.json": `{"dependencies":{"react":"18.0.0"},"scripts":{"start":"react-scripts start"}}`,
		"src/index.js": "render()",
		"src/App.js":   "export default App",
	}
	for path, content := range files {
		if err := b.Add(path, content); err != nil {
			t.Fatalf("add %s: %v", path, err)
		}
	}
	return b.Build()
}

func testController(t *testing.T) (*Controller, *stubFetcher, *stubRuntime, store.Store) {
	t.Helper()
	st, err := sqliteStore.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	fetcher := &stubFetcher{tree: reactTree(t)}
	rt := &stubRuntime{}
	profiler := profile.New(nil)
	selector := bundler.New(profiler.Rules())

	c := New(
		Config{
			Image:        "test-image",
			StartTimeout: 5 * time.Second,
			OutputLines:  100,
		},
		st, eventbus.NewInMemoryBus(), fetcher, rt, profiler, selector,
	)
	return c, fetcher, rt, st
}

// --- tests ---

func TestBootReachesRunning(t *testing.T) {
	c, _, rt, st := testController(t)
	if _, err := c.CreateView("v1", "owner/repo", "main", store.EngineSandbox); err != nil {
		t.Fatalf("CreateView: %v", err)
	}

	env, err := c.Boot("v1", "main")
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if env.Phase != PhaseRunning {
		t.Fatalf("expected running, got %s (error %q)", env.Phase, env.Error)
	}
	if env.PreviewURL != "http://10.0.0.99:3000" {
		t.Fatalf("unexpected preview URL %q", env.PreviewURL)
	}
	if env.Branch != "main" {
		t.Fatalf("expected booted branch main, got %q", env.Branch)
	}

	boots, mounts, _ := rt.counts()
	if boots != 1 || mounts != 1 {
		t.Fatalf("expected one boot and one mount, got %d/%d", boots, mounts)
	}

	rec, err := st.GetView("v1")
	if err != nil {
		t.Fatalf("GetView: %v", err)
	}
	if rec.Phase != string(PhaseRunning) {
		t.Fatalf("phase not persisted, got %q", rec.Phase)
	}

	events, err := st.EventsForView("v1", 0)
	if err != nil || len(events) == 0 {
		t.Fatalf("expected persisted events, got %d (err %v)", len(events), err)
	}
}

func TestConcurrentBootsCoalesce(t *testing.T) {
	c, _, rt, _ := testController(t)
	if _, err := c.CreateView("v1", "owner/repo", "main", store.EngineSandbox); err != nil {
		t.Fatalf("CreateView: %v", err)
	}

	var wg sync.WaitGroup
	envs := make([]Environment, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			env, err := c.Boot("v1", "main")
			if err != nil {
				t.Errorf("Boot %d: %v", i, err)
				return
			}
			envs[i] = env
		}(i)
	}
	wg.Wait()

	boots, _, _ := rt.counts()
	if boots != 1 {
		t.Fatalf("expected exactly one boot sequence, got %d", boots)
	}
	for i, env := range envs {
		if env.Phase != PhaseRunning {
			t.Fatalf("caller %d got phase %s", i, env.Phase)
		}
	}
}

func TestBootForSameBranchIsIdempotent(t *testing.T) {
	c, _, rt, _ := testController(t)
	c.CreateView("v1", "owner/repo", "main", store.EngineSandbox)

	if env, _ := c.Boot("v1", "main"); env.Phase != PhaseRunning {
		t.Fatalf("first boot did not reach running: %s", env.Phase)
	}
	if env, _ := c.Boot("v1", "main"); env.Phase != PhaseRunning {
		t.Fatalf("second boot did not attach: %s", env.Phase)
	}

	boots, _, _ := rt.counts()
	if boots != 1 {
		t.Fatalf("running environment rebooted: %d boots", boots)
	}
}

func TestBootDifferentBranchReplacesSandbox(t *testing.T) {
	c, _, rt, _ := testController(t)
	c.CreateView("v1", "owner/repo", "main", store.EngineSandbox)

	if env, _ := c.Boot("v1", "main"); env.Phase != PhaseRunning {
		t.Fatalf("first boot did not reach running: %s", env.Phase)
	}

	env, err := c.Boot("v1", "feature")
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if env.Phase != PhaseRunning || env.Branch != "feature" {
		t.Fatalf("expected running on feature, got %s on %q", env.Phase, env.Branch)
	}

	// The main-branch sandbox is reclaimed before the feature one boots; a
	// view never holds two sandboxes at once.
	boots, _, teardowns := rt.counts()
	if boots != 2 {
		t.Fatalf("expected two boot sequences, got %d", boots)
	}
	if teardowns != 1 {
		t.Fatalf("first sandbox never reclaimed: %d teardowns", teardowns)
	}
}

func TestRebootCancelsPriorAttemptContext(t *testing.T) {
	c, fetcher, rt, _ := testController(t)
	c.CreateView("v1", "owner/repo", "main", store.EngineSandbox)

	fetcher.setErr(errors.New("transient"))
	if env, _ := c.Boot("v1", "main"); env.Phase != PhaseError {
		t.Fatal("expected failed boot")
	}

	fetcher.setErr(nil)
	if env, _ := c.Boot("v1", "main"); env.Phase != PhaseRunning {
		t.Fatalf("expected running, got %s", env.Phase)
	}

	// The failed attempt's context is released when the next boot starts,
	// so its output drain does not outlive it.
	select {
	case <-rt.bootContext(0).Done():
	default:
		t.Fatal("first attempt's context still live after reboot")
	}
}

func TestFetchFailureSurfacedVerbatim(t *testing.T) {
	c, fetcher, rt, _ := testController(t)
	c.CreateView("v1", "owner/repo", "main", store.EngineSandbox)
	fetcher.setErr(errors.New("branch gone: 404"))

	env, err := c.Boot("v1", "main")
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if env.Phase != PhaseError {
		t.Fatalf("expected error phase, got %s", env.Phase)
	}
	if !strings.Contains(env.Error, "branch gone: 404") {
		t.Fatalf("fetch error not surfaced: %q", env.Error)
	}
	// Fetch happens once; the orchestrator does not retry it.
	if fetcher.callCount() != 1 {
		t.Fatalf("expected a single fetch, got %d", fetcher.callCount())
	}

	// The half-booted sandbox is reclaimed.
	_, _, teardowns := rt.counts()
	if teardowns != 1 {
		t.Fatalf("expected one teardown after failure, got %d", teardowns)
	}
}

func TestRetryAfterError(t *testing.T) {
	c, fetcher, _, _ := testController(t)
	c.CreateView("v1", "owner/repo", "main", store.EngineSandbox)

	fetcher.setErr(errors.New("transient"))
	if env, _ := c.Boot("v1", "main"); env.Phase != PhaseError {
		t.Fatal("expected failed boot")
	}

	fetcher.setErr(nil)
	env, err := c.Retry("v1")
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if env.Phase != PhaseRunning {
		t.Fatalf("expected running after retry, got %s (error %q)", env.Phase, env.Error)
	}
	if env.Error != "" {
		t.Fatalf("stale error survived retry: %q", env.Error)
	}
}

func TestRefreshFilesOutsideRunningIsNoop(t *testing.T) {
	c, fetcher, rt, _ := testController(t)
	c.CreateView("v1", "owner/repo", "main", store.EngineSandbox)

	res, err := c.RefreshFiles("v1")
	if err != nil {
		t.Fatalf("RefreshFiles: %v", err)
	}
	if res.Success || res.SkippedCount != 0 {
		t.Fatalf("expected {false, 0}, got %+v", res)
	}
	if fetcher.callCount() != 0 {
		t.Fatal("refresh outside running must not fetch")
	}
	if _, mounts, _ := rt.counts(); mounts != 0 {
		t.Fatal("refresh outside running must not touch the sandbox")
	}
}

func TestRefreshFilesSkipsEditedPaths(t *testing.T) {
	c, _, rt, st := testController(t)
	c.CreateView("v1", "owner/repo", "main", store.EngineSandbox)
	if env, _ := c.Boot("v1", "main"); env.Phase != PhaseRunning {
		t.Fatal("boot did not reach running")
	}

	// One edit owns a path present upstream, one is a brand-new file.
	st.UpsertEdit("v1", overlay.PendingEdit{Path: "src/index.js", Content: "local version"})
	st.UpsertEdit("v1", overlay.PendingEdit{Path: "src/brand-new.js", Content: "new"})

	res, err := c.RefreshFiles("v1")
	if err != nil {
		t.Fatalf("RefreshFiles: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.SkippedCount != 1 {
		t.Fatalf("expected 1 skipped path, got %d", res.SkippedCount)
	}

	_, mounts, _ := rt.counts()
	if mounts != 2 {
		t.Fatalf("expected boot mount plus refresh mount, got %d", mounts)
	}

	// The environment stays running throughout.
	env, _ := c.Environment("v1")
	if env.Phase != PhaseRunning {
		t.Fatalf("refresh changed phase to %s", env.Phase)
	}
}

func TestRefreshFailureReportedInResult(t *testing.T) {
	c, fetcher, _, _ := testController(t)
	c.CreateView("v1", "owner/repo", "main", store.EngineSandbox)
	if env, _ := c.Boot("v1", "main"); env.Phase != PhaseRunning {
		t.Fatal("boot did not reach running")
	}

	fetcher.setErr(errors.New("rate limited"))
	res, err := c.RefreshFiles("v1")
	if err != nil {
		t.Fatalf("RefreshFiles: %v", err)
	}
	if res.Success {
		t.Fatal("expected failed refresh")
	}
	if !strings.Contains(res.Error, "rate limited") {
		t.Fatalf("fetch error not surfaced: %q", res.Error)
	}

	// A failed refresh never takes the environment down.
	env, _ := c.Environment("v1")
	if env.Phase != PhaseRunning {
		t.Fatalf("expected running after failed refresh, got %s", env.Phase)
	}
}

func TestObserveBranchUndefinedNeverTearsDown(t *testing.T) {
	c, _, rt, _ := testController(t)
	c.CreateView("v1", "owner/repo", "", store.EngineSandbox)

	if err := c.ObserveBranch("v1", ""); err != nil {
		t.Fatalf("ObserveBranch: %v", err)
	}
	if err := c.ObserveBranch("v1", "main"); err != nil {
		t.Fatalf("ObserveBranch: %v", err)
	}

	// No boot has completed yet: switching branches costs nothing.
	if _, _, teardowns := rt.counts(); teardowns != 0 {
		t.Fatalf("expected zero teardowns before first boot, got %d", teardowns)
	}
}

func TestObserveBranchChangeAfterBootTearsDownOnce(t *testing.T) {
	c, _, rt, _ := testController(t)
	c.CreateView("v1", "owner/repo", "main", store.EngineSandbox)
	if env, _ := c.Boot("v1", "main"); env.Phase != PhaseRunning {
		t.Fatal("boot did not reach running")
	}

	// Same branch: nothing happens.
	c.ObserveBranch("v1", "main")
	if _, _, teardowns := rt.counts(); teardowns != 0 {
		t.Fatal("same-branch observation must not tear down")
	}

	// Different branch: exactly one teardown, no automatic reboot.
	c.ObserveBranch("v1", "feature")
	boots, _, teardowns := rt.counts()
	if teardowns != 1 {
		t.Fatalf("expected one teardown, got %d", teardowns)
	}
	if boots != 1 {
		t.Fatalf("branch change must not auto-reboot, got %d boots", boots)
	}

	env, _ := c.Environment("v1")
	if env.Phase != PhaseIdle {
		t.Fatalf("expected idle after branch change, got %s", env.Phase)
	}

	// Observing the same new branch again is idempotent.
	c.ObserveBranch("v1", "feature")
	if _, _, teardowns := rt.counts(); teardowns != 1 {
		t.Fatalf("repeated observation tore down again: %d", teardowns)
	}

	// The next boot runs on the new branch.
	env, err := c.Boot("v1", "feature")
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if env.Phase != PhaseRunning || env.Branch != "feature" {
		t.Fatalf("expected running on feature, got %s on %q", env.Phase, env.Branch)
	}
}

func TestEmbeddedEngineSkipsSandbox(t *testing.T) {
	c, _, rt, _ := testController(t)
	c.CreateView("v1", "owner/repo", "main", store.EngineEmbedded)

	env, err := c.Boot("v1", "main")
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if env.Phase != PhaseRunning {
		t.Fatalf("expected running, got %s (error %q)", env.Phase, env.Error)
	}
	if env.Plan == nil {
		t.Fatal("expected a bundling plan for the embedded engine")
	}
	if env.Plan.Mode != bundler.ModeTemplate || env.Plan.Template != bundler.TemplateReact {
		t.Fatalf("unexpected plan %s/%s", env.Plan.Mode, env.Plan.Template)
	}

	boots, mounts, _ := rt.counts()
	if boots != 0 || mounts != 0 {
		t.Fatalf("embedded path must not touch the sandbox runtime, got %d/%d", boots, mounts)
	}
}

func TestBootUnknownView(t *testing.T) {
	c, _, _, _ := testController(t)
	if _, err := c.Boot("ghost", "main"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReleaseTearsDownAndForgets(t *testing.T) {
	c, _, rt, _ := testController(t)
	c.CreateView("v1", "owner/repo", "main", store.EngineSandbox)
	if env, _ := c.Boot("v1", "main"); env.Phase != PhaseRunning {
		t.Fatal("boot did not reach running")
	}

	if err := c.Release("v1"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, _, teardowns := rt.counts(); teardowns != 1 {
		t.Fatalf("expected one teardown on release, got %d", teardowns)
	}
	if _, err := c.Environment("v1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after release, got %v", err)
	}
}

func TestRestoreRegistersStoredViews(t *testing.T) {
	c, _, _, st := testController(t)
	now := time.Now().UTC()
	st.CreateView(&store.View{
		ID: "old", Repo: "owner/repo", Branch: "main",
		Engine: store.EngineSandbox, Phase: "running",
		CreatedAt: now, UpdatedAt: now,
	})

	if err := c.Restore(); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	// Restored views come back idle; they boot on the next request.
	env, err := c.Environment("old")
	if err != nil {
		t.Fatalf("Environment: %v", err)
	}
	if env.Phase != PhaseIdle {
		t.Fatalf("expected idle after restore, got %s", env.Phase)
	}
}
