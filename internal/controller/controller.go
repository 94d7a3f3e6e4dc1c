// Package controller owns the per-view environment lifecycle: it drives a
// view through boot, fetch, mount, install, and start, guards concurrent
// boot attempts, and streams process output to the event bus and the store.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/previewlabs/previewd/pkg/bundler"
	"github.com/previewlabs/previewd/pkg/eventbus"
	"github.com/previewlabs/previewd/pkg/filetree"
	"github.com/previewlabs/previewd/pkg/overlay"
	"github.com/previewlabs/previewd/pkg/profile"
	"github.com/previewlabs/previewd/pkg/sandbox"
	"github.com/previewlabs/previewd/pkg/snapshot"
	"github.com/previewlabs/previewd/pkg/store"
	"github.com/previewlabs/previewd/pkg/supervisor"
)

// Phase is the lifecycle state of a view's environment.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseBooting    Phase = "booting"
	PhaseFetching   Phase = "fetching"
	PhaseMounting   Phase = "mounting"
	PhaseInstalling Phase = "installing"
	PhaseStarting   Phase = "starting"
	PhaseRunning    Phase = "running"
	PhaseError      Phase = "error"
)

// inFlight reports whether a phase is part of an active boot attempt.
func inFlight(p Phase) bool {
	switch p {
	case PhaseBooting, PhaseFetching, PhaseMounting, PhaseInstalling, PhaseStarting:
		return true
	}
	return false
}

// Environment is a point-in-time snapshot of a view's environment, safe to
// hand to HTTP handlers.
type Environment struct {
	ViewID     string        `json:"view_id"`
	Phase      Phase         `json:"phase"`
	Branch     string        `json:"branch,omitempty"`
	PreviewURL string        `json:"preview_url,omitempty"`
	Error      string        `json:"error,omitempty"`
	Output     []string      `json:"output"`
	Plan       *bundler.Plan `json:"plan,omitempty"`
}

// RefreshResult reports the outcome of a file refresh.
type RefreshResult struct {
	Success      bool   `json:"success"`
	SkippedCount int    `json:"skipped_count"`
	Error        string `json:"error,omitempty"`
}

// Config holds the controller's tunables.
type Config struct {
	Image            string
	Network          string
	SandboxEnv       []string
	InstallTimeout   time.Duration
	StartTimeout     time.Duration
	EmulationTimeout time.Duration
	IdleTimeout      time.Duration
	OutputLines      int
}

// view is the controller's in-memory entry for one viewing session.
type view struct {
	id     string
	repo   string
	engine store.Engine

	mu              sync.Mutex
	phase           Phase
	bootID          string // id of the current (or last) boot attempt
	requestedBranch string
	bootedBranch    string // branch of the last completed boot
	completed       bool   // at least one boot reached running
	handle          sandbox.Handle
	previewURL      string
	errMsg          string
	output          *ring
	plan            *bundler.Plan
	cancelBoot      context.CancelFunc
	lastTouch       time.Time
}

// Controller manages the environment lifecycle for all registered views.
type Controller struct {
	cfg      Config
	store    store.Store
	bus      eventbus.Bus
	fetcher  snapshot.Fetcher
	rt       sandbox.Runtime
	sup      *supervisor.Supervisor
	profiler *profile.Profiler
	selector *bundler.Selector

	boots singleflight.Group

	mu    sync.Mutex
	views map[string]*view

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Controller. The supervisor is built on the same runtime so
// install and start run inside the sandboxes the controller boots.
func New(cfg Config, st store.Store, bus eventbus.Bus, fetcher snapshot.Fetcher, rt sandbox.Runtime, profiler *profile.Profiler, selector *bundler.Selector) *Controller {
	if cfg.StartTimeout == 0 {
		cfg.StartTimeout = 30 * time.Second
	}
	if cfg.EmulationTimeout == 0 {
		cfg.EmulationTimeout = 2 * time.Minute
	}
	sup := supervisor.New(rt)
	if cfg.InstallTimeout > 0 {
		sup = sup.WithInstallTimeout(cfg.InstallTimeout)
	}
	return &Controller{
		cfg:      cfg,
		store:    st,
		bus:      bus,
		fetcher:  fetcher,
		rt:       rt,
		sup:      sup,
		profiler: profiler,
		selector: selector,
		views:    make(map[string]*view),
	}
}

// Start launches the controller's background loops.
func (c *Controller) Start(ctx context.Context) {
	c.ctx, c.cancel = context.WithCancel(ctx)

	if c.cfg.IdleTimeout > 0 {
		c.wg.Add(1)
		go c.reapIdle()
	}
	log.Printf("controller started")
}

// Stop cancels all in-flight boots, tears down every sandbox, and waits for
// background loops to exit.
func (c *Controller) Stop() {
	if c.cancel != nil {
		c.cancel()
	}

	c.mu.Lock()
	views := make([]*view, 0, len(c.views))
	for _, v := range c.views {
		views = append(views, v)
	}
	c.mu.Unlock()

	for _, v := range views {
		c.release(v, "controller shutdown")
	}
	c.wg.Wait()
	log.Printf("controller stopped")
}

// CreateView registers a new viewing session and persists it. An empty id
// gets a generated one.
func (c *Controller) CreateView(id, repo, branch string, engine store.Engine) (*store.View, error) {
	if id == "" {
		id = uuid.New().String()[:8]
	}
	if engine == "" {
		engine = store.EngineSandbox
	}
	now := time.Now().UTC()
	rec := &store.View{
		ID:        id,
		Repo:      repo,
		Branch:    branch,
		Engine:    engine,
		Phase:     string(PhaseIdle),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.store.CreateView(rec); err != nil {
		return nil, fmt.Errorf("creating view: %w", err)
	}

	c.mu.Lock()
	c.views[id] = &view{
		id:              id,
		repo:            repo,
		engine:          engine,
		phase:           PhaseIdle,
		requestedBranch: branch,
		output:          newRing(c.cfg.OutputLines),
		lastTouch:       time.Now(),
	}
	c.mu.Unlock()

	log.Printf("view %s created for %s (%s engine)", id, repo, engine)
	return rec, nil
}

// Boot brings the view's environment up for the given branch. Concurrent
// calls for the same view coalesce into one boot sequence; every caller gets
// the same resulting snapshot. Orchestration failures are reported inside
// the snapshot, not as a Go error.
func (c *Controller) Boot(viewID, branch string) (Environment, error) {
	v, err := c.lookup(viewID)
	if err != nil {
		return Environment{}, err
	}
	v.touch()

	res, err, _ := c.boots.Do(viewID, func() (interface{}, error) {
		return c.runBoot(v, branch), nil
	})
	if err != nil {
		return Environment{}, err
	}
	return res.(Environment), nil
}

// runBoot executes one boot attempt. It is only ever entered single-flight
// per view.
func (c *Controller) runBoot(v *view, branch string) Environment {
	v.mu.Lock()
	v.requestedBranch = branch
	if v.phase == PhaseRunning && v.bootedBranch == branch {
		env := c.snapshotLocked(v)
		v.mu.Unlock()
		return env
	}
	if inFlight(v.phase) {
		// A stray attempt slipped past the single-flight gate; attach to
		// the current state instead of starting a second sequence.
		env := c.snapshotLocked(v)
		v.mu.Unlock()
		return env
	}
	supersedes := v.phase == PhaseRunning
	v.mu.Unlock()

	// Booting a different branch replaces the live environment. Reclaim
	// its sandbox before the new sequence allocates one; a view never owns
	// two sandboxes at once.
	if supersedes {
		c.resetForReboot(v, fmt.Sprintf("rebooting on branch %s", branch))
	}

	v.mu.Lock()
	bootID := uuid.New().String()[:8]
	base := c.ctx
	if base == nil {
		base = context.Background()
	}
	attemptCtx, cancel := context.WithCancel(base)
	if v.cancelBoot != nil {
		// A failed attempt leaves its cancel func behind; release the old
		// attempt's context so its output drain exits.
		v.cancelBoot()
	}
	v.bootID = bootID
	v.cancelBoot = cancel
	v.errMsg = ""
	v.previewURL = ""
	v.plan = nil
	v.output = newRing(c.cfg.OutputLines)
	engine := v.engine
	v.mu.Unlock()

	log.Printf("view %s: boot %s starting (branch %q, engine %s)", v.id, bootID, branch, engine)

	if engine == store.EngineEmbedded {
		return c.runEmbeddedBoot(attemptCtx, v, bootID, branch)
	}
	return c.runSandboxBoot(attemptCtx, v, bootID, branch)
}

// runSandboxBoot is the primary path: boot a sandbox, mount the reconciled
// tree, install, and start the dev server.
func (c *Controller) runSandboxBoot(ctx context.Context, v *view, bootID, branch string) Environment {
	c.setPhase(v, bootID, PhaseBooting)

	handle, err := c.rt.Boot(ctx, sandbox.BootOptions{
		ViewID:  v.id,
		Image:   c.cfg.Image,
		Network: c.cfg.Network,
		Env:     c.cfg.SandboxEnv,
	})
	if err != nil {
		return c.fail(v, bootID, fmt.Sprintf("sandbox boot failed: %v", err))
	}
	v.mu.Lock()
	if v.bootID != bootID {
		v.mu.Unlock()
		c.teardown(handle)
		return c.snapshot(v)
	}
	v.handle = handle
	v.mu.Unlock()

	mounted, err := c.fetchAndReconcile(ctx, v, bootID)
	if err != nil {
		return c.fail(v, bootID, err.Error())
	}

	c.setPhase(v, bootID, PhaseMounting)
	if err := c.rt.Mount(ctx, handle, mounted); err != nil {
		return c.fail(v, bootID, fmt.Sprintf("mounting files: %v", err))
	}

	prof := c.profiler.Profile(mounted)
	log.Printf("view %s: profiled as %s (toolchain=%v)", v.id, prof.Family, prof.NeedsFullToolchain)

	sink := make(chan string, 256)
	c.wg.Add(1)
	go c.drainOutput(ctx, v, bootID, sink)

	c.setPhase(v, bootID, PhaseInstalling)
	code, err := c.sup.Install(ctx, handle, prof.Install, sink)
	if err != nil {
		return c.fail(v, bootID, fmt.Sprintf("install failed: %v", err))
	}
	if code != 0 {
		return c.fail(v, bootID, fmt.Sprintf("install exited with code %d", code))
	}

	c.setPhase(v, bootID, PhaseStarting)
	budget := c.cfg.StartTimeout
	if prof.NeedsFullToolchain {
		budget = c.cfg.EmulationTimeout
	}
	err = c.sup.Start(ctx, handle, prof.Start, budget, sink, func(url string) {
		c.ready(v, bootID, branch, url)
	})
	if err != nil {
		return c.fail(v, bootID, fmt.Sprintf("start failed: %v", err))
	}
	return c.snapshot(v)
}

// runEmbeddedBoot is the secondary path: no sandbox, just a bundling plan
// computed from the reconciled tree and handed to the in-browser engine.
func (c *Controller) runEmbeddedBoot(ctx context.Context, v *view, bootID, branch string) Environment {
	mounted, err := c.fetchAndReconcile(ctx, v, bootID)
	if err != nil {
		return c.fail(v, bootID, err.Error())
	}

	c.setPhase(v, bootID, PhaseMounting)
	plan := c.selector.Select(mounted)

	v.mu.Lock()
	if v.bootID != bootID {
		v.mu.Unlock()
		return c.snapshot(v)
	}
	v.plan = plan
	v.mu.Unlock()

	log.Printf("view %s: bundling plan %s (template %s)", v.id, plan.Mode, plan.Template)
	c.ready(v, bootID, branch, "")
	return c.snapshot(v)
}

// fetchAndReconcile fetches the branch snapshot from the provider, prunes
// out paths owned by pending edits, and lays the edits back over the tree.
// Fetch errors are surfaced verbatim; there is no retry here.
func (c *Controller) fetchAndReconcile(ctx context.Context, v *view, bootID string) (*filetree.Tree, error) {
	c.setPhase(v, bootID, PhaseFetching)

	tree, err := c.fetcher.Fetch(ctx, v.repo, c.branchOf(v))
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", v.repo, err)
	}

	edits, err := c.store.PendingEdits(v.id)
	if err != nil {
		// Edits are an overlay on top of the snapshot; a read failure must
		// not take the whole boot down.
		log.Printf("view %s: reading pending edits: %v", v.id, err)
		edits = nil
	}

	pruned := overlay.Reconcile(tree, overlay.ExcludeSet(edits))
	mounted, err := overlay.Apply(pruned, edits)
	if err != nil {
		return nil, fmt.Errorf("applying pending edits: %w", err)
	}
	return mounted, nil
}

// ready records a successful boot. Results from a superseded attempt are
// discarded.
func (c *Controller) ready(v *view, bootID, branch, url string) {
	v.mu.Lock()
	if v.bootID != bootID {
		v.mu.Unlock()
		log.Printf("view %s: discarding ready signal from stale boot %s", v.id, bootID)
		return
	}
	v.phase = PhaseRunning
	v.previewURL = url
	v.bootedBranch = branch
	v.completed = true
	v.errMsg = ""
	v.mu.Unlock()

	c.persist(v)
	c.emit(v.id, "phase", string(PhaseRunning))
	c.emit(v.id, "ready", url)
	log.Printf("view %s: running at %q", v.id, url)
}

// fail records a failed boot attempt and tears down its sandbox. Errors are
// terminal for the attempt only; Retry starts a fresh sequence.
func (c *Controller) fail(v *view, bootID, msg string) Environment {
	v.mu.Lock()
	if v.bootID != bootID {
		env := c.snapshotLocked(v)
		v.mu.Unlock()
		log.Printf("view %s: discarding failure from stale boot %s: %s", v.id, bootID, msg)
		return env
	}
	v.phase = PhaseError
	v.errMsg = msg
	handle := v.handle
	v.handle = ""
	env := c.snapshotLocked(v)
	v.mu.Unlock()

	if handle != "" {
		c.teardown(handle)
	}
	c.persist(v)
	c.emit(v.id, "phase", string(PhaseError))
	c.emit(v.id, "error", msg)
	log.Printf("view %s: boot %s failed: %s", v.id, bootID, msg)
	return env
}

// RefreshFiles re-fetches the booted branch and remounts it without
// restarting the dev server. Outside the running phase it is a no-op that
// never touches the sandbox. Failures are reported in the result; the
// environment stays running.
func (c *Controller) RefreshFiles(viewID string) (RefreshResult, error) {
	v, err := c.lookup(viewID)
	if err != nil {
		return RefreshResult{}, err
	}
	v.touch()

	v.mu.Lock()
	if v.phase != PhaseRunning {
		v.mu.Unlock()
		return RefreshResult{Success: false, SkippedCount: 0}, nil
	}
	handle := v.handle
	branch := v.bootedBranch
	engine := v.engine
	v.mu.Unlock()

	ctx := c.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	tree, err := c.fetcher.Fetch(ctx, v.repo, branch)
	if err != nil {
		return RefreshResult{Error: fmt.Sprintf("fetching %s: %v", v.repo, err)}, nil
	}

	edits, err := c.store.PendingEdits(v.id)
	if err != nil {
		log.Printf("view %s: reading pending edits: %v", v.id, err)
		edits = nil
	}
	exclude := overlay.ExcludeSet(edits)
	skipped := 0
	for path := range exclude {
		if tree.HasFile(path) {
			skipped++
		}
	}

	mounted, err := overlay.Apply(overlay.Reconcile(tree, exclude), edits)
	if err != nil {
		return RefreshResult{SkippedCount: skipped, Error: fmt.Sprintf("applying pending edits: %v", err)}, nil
	}

	if engine == store.EngineEmbedded {
		plan := c.selector.Select(mounted)
		v.mu.Lock()
		v.plan = plan
		v.mu.Unlock()
		log.Printf("view %s: refreshed bundling plan, %d paths kept local", v.id, skipped)
		return RefreshResult{Success: true, SkippedCount: skipped}, nil
	}

	if err := c.rt.Mount(ctx, handle, mounted); err != nil {
		return RefreshResult{SkippedCount: skipped, Error: fmt.Sprintf("remounting files: %v", err)}, nil
	}
	log.Printf("view %s: refreshed files, %d paths kept local", v.id, skipped)
	return RefreshResult{Success: true, SkippedCount: skipped}, nil
}

// Retry abandons the current attempt or error state, tears down the
// sandbox, and boots again from scratch on the requested branch.
func (c *Controller) Retry(viewID string) (Environment, error) {
	v, err := c.lookup(viewID)
	if err != nil {
		return Environment{}, err
	}
	v.touch()

	branch := c.resetForReboot(v, "retry requested")
	return c.Boot(viewID, branch)
}

// ObserveBranch reacts to the collaborator switching branches. An undefined
// branch never triggers a teardown. A switch to a different defined branch
// after a completed boot tears the environment down exactly once; the next
// Boot call brings it back up on the new branch.
func (c *Controller) ObserveBranch(viewID, branch string) error {
	v, err := c.lookup(viewID)
	if err != nil {
		return err
	}
	v.touch()
	if branch == "" {
		return nil
	}

	v.mu.Lock()
	v.requestedBranch = branch
	stale := v.completed && v.bootedBranch != branch
	v.mu.Unlock()

	if !stale {
		return nil
	}
	log.Printf("view %s: branch changed to %q, tearing down stale environment", v.id, branch)
	c.resetForReboot(v, fmt.Sprintf("branch changed to %s", branch))
	return nil
}

// resetForReboot cancels any in-flight boot, tears the sandbox down, and
// returns the view to idle. It returns the branch the next boot should use.
func (c *Controller) resetForReboot(v *view, reason string) string {
	v.mu.Lock()
	if v.cancelBoot != nil {
		v.cancelBoot()
		v.cancelBoot = nil
	}
	handle := v.handle
	v.handle = ""
	v.bootID = ""
	v.phase = PhaseIdle
	v.previewURL = ""
	v.errMsg = ""
	v.plan = nil
	v.completed = false
	v.bootedBranch = ""
	branch := v.requestedBranch
	v.mu.Unlock()

	if handle != "" {
		c.teardown(handle)
	}
	c.persist(v)
	c.emit(v.id, "phase", string(PhaseIdle))
	log.Printf("view %s: reset to idle (%s)", v.id, reason)
	return branch
}

// Release tears a view's environment down and forgets it. Called when the
// viewing session ends.
func (c *Controller) Release(viewID string) error {
	v, err := c.lookup(viewID)
	if err != nil {
		return err
	}
	c.release(v, "view released")

	c.mu.Lock()
	delete(c.views, viewID)
	c.mu.Unlock()
	return nil
}

func (c *Controller) release(v *view, reason string) {
	v.mu.Lock()
	if v.cancelBoot != nil {
		v.cancelBoot()
		v.cancelBoot = nil
	}
	handle := v.handle
	v.handle = ""
	v.bootID = ""
	v.phase = PhaseIdle
	v.previewURL = ""
	v.mu.Unlock()

	if handle != "" {
		c.teardown(handle)
	}
	c.persist(v)
	log.Printf("view %s: environment released (%s)", v.id, reason)
}

// Environment returns the view's current snapshot.
func (c *Controller) Environment(viewID string) (Environment, error) {
	v, err := c.lookup(viewID)
	if err != nil {
		return Environment{}, err
	}
	v.touch()
	return c.snapshot(v), nil
}

// Touch marks the view as recently observed so the idle reaper leaves it
// alone.
func (c *Controller) Touch(viewID string) {
	if v, err := c.lookup(viewID); err == nil {
		v.touch()
	}
}

// Restore re-registers views found in the store on startup. Environments
// are not rebooted; they come back idle and boot on the next request.
func (c *Controller) Restore() error {
	views, err := c.store.ListViews()
	if err != nil {
		return fmt.Errorf("listing views: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rec := range views {
		if _, ok := c.views[rec.ID]; ok {
			continue
		}
		c.views[rec.ID] = &view{
			id:              rec.ID,
			repo:            rec.Repo,
			engine:          rec.Engine,
			phase:           PhaseIdle,
			requestedBranch: rec.Branch,
			output:          newRing(c.cfg.OutputLines),
			lastTouch:       time.Now(),
		}
	}
	log.Printf("restored %d views from store", len(views))
	return nil
}

// drainOutput moves process output lines from the supervisor's sink into
// the ring buffer, the event bus, and the store. Lines from a superseded
// boot are dropped. Streaming here never blocks the supervisor; the sink is
// buffered and the supervisor drops on overflow.
func (c *Controller) drainOutput(ctx context.Context, v *view, bootID string, sink chan string) {
	defer c.wg.Done()
	for {
		select {
		case line := <-sink:
			v.mu.Lock()
			stale := v.bootID != bootID
			if !stale {
				v.output.append(line)
			}
			v.mu.Unlock()
			if !stale {
				c.emit(v.id, "output", line)
			}
		case <-ctx.Done():
			return
		}
	}
}

// reapIdle tears down environments nobody has observed for IdleTimeout.
func (c *Controller) reapIdle() {
	defer c.wg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-c.cfg.IdleTimeout)
			c.mu.Lock()
			var idle []*view
			for _, v := range c.views {
				v.mu.Lock()
				if v.lastTouch.Before(cutoff) && (v.phase == PhaseRunning || v.phase == PhaseError) {
					idle = append(idle, v)
				}
				v.mu.Unlock()
			}
			c.mu.Unlock()

			for _, v := range idle {
				log.Printf("view %s: idle past %s, reclaiming sandbox", v.id, c.cfg.IdleTimeout)
				c.release(v, "idle timeout")
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Controller) lookup(viewID string) (*view, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.views[viewID]
	if !ok {
		return nil, fmt.Errorf("view %s: %w", viewID, ErrNotFound)
	}
	return v, nil
}

// ErrNotFound is returned for operations on an unregistered view.
var ErrNotFound = errors.New("not found")

func (c *Controller) branchOf(v *view) string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.requestedBranch
}

func (c *Controller) setPhase(v *view, bootID string, p Phase) {
	v.mu.Lock()
	if v.bootID != bootID {
		v.mu.Unlock()
		return
	}
	v.phase = p
	v.mu.Unlock()

	c.persist(v)
	c.emit(v.id, "phase", string(p))
}

func (c *Controller) snapshot(v *view) Environment {
	v.mu.Lock()
	defer v.mu.Unlock()
	return c.snapshotLocked(v)
}

func (c *Controller) snapshotLocked(v *view) Environment {
	return Environment{
		ViewID:     v.id,
		Phase:      v.phase,
		Branch:     v.bootedBranch,
		PreviewURL: v.previewURL,
		Error:      v.errMsg,
		Output:     v.output.snapshot(),
		Plan:       v.plan,
	}
}

// persist writes the view's current phase to the store.
func (c *Controller) persist(v *view) {
	v.mu.Lock()
	rec := &store.View{
		ID:         v.id,
		Repo:       v.repo,
		Branch:     v.requestedBranch,
		Engine:     v.engine,
		Phase:      string(v.phase),
		PreviewURL: v.previewURL,
		Error:      v.errMsg,
	}
	v.mu.Unlock()

	if err := c.store.UpdateView(rec); err != nil {
		log.Printf("view %s: persisting state: %v", v.id, err)
	}
}

// emit stores an event and publishes it to live subscribers. The store
// assigns the event id so replay and live streams stay ordered.
func (c *Controller) emit(viewID, typ, data string) {
	e := &eventbus.Event{
		ViewID:    viewID,
		Type:      typ,
		Data:      data,
		CreatedAt: time.Now(),
	}
	if err := c.store.AddEvent(e); err != nil {
		log.Printf("view %s: storing event: %v", viewID, err)
	}
	c.bus.Publish(viewID, e)
}

// teardown destroys a sandbox on a background context so shutdown of the
// controller's own context cannot strand containers.
func (c *Controller) teardown(h sandbox.Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := c.rt.Teardown(ctx, h); err != nil {
		log.Printf("tearing down sandbox %s: %v", h, err)
	}
}

func (v *view) touch() {
	v.mu.Lock()
	v.lastTouch = time.Now()
	v.mu.Unlock()
}
