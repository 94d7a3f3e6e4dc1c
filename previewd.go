// Package previewd is the top-level entry point for the previewd runtime
// environment orchestrator.
//
// Use the Builder to compose a previewd application:
//
//	app, err := previewd.NewBuilder().Build()
//	app.Start(ctx)
//
// Or customize individual components:
//
//	app, err := previewd.NewBuilder().
//	    WithStore(myStore).
//	    WithFetcher(myFetcher).
//	    WithSandbox(myRuntime).
//	    Build()
package previewd

import (
	"context"
	"fmt"
	"os"

	"github.com/previewlabs/previewd/internal/config"
	"github.com/previewlabs/previewd/internal/controller"
	"github.com/previewlabs/previewd/internal/server"
	"github.com/previewlabs/previewd/pkg/bundler"
	"github.com/previewlabs/previewd/pkg/eventbus"
	"github.com/previewlabs/previewd/pkg/profile"
	"github.com/previewlabs/previewd/pkg/sandbox"
	"github.com/previewlabs/previewd/pkg/snapshot"
	ghSnapshot "github.com/previewlabs/previewd/pkg/snapshot/github"
	"github.com/previewlabs/previewd/pkg/store"
	dockerSandbox "github.com/previewlabs/previewd/sandbox/docker"
	sqliteStore "github.com/previewlabs/previewd/store/sqlite"
)

// Builder constructs a previewd App.
type Builder struct {
	config  *config.Config
	store   store.Store
	bus     eventbus.Bus
	sandbox sandbox.Runtime
	fetcher snapshot.Fetcher
	rules   *profile.Rules
}

// NewBuilder creates a new Builder with sensible defaults.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithConfig sets the application configuration.
func (b *Builder) WithConfig(cfg *config.Config) *Builder {
	b.config = cfg
	return b
}

// WithStore sets the persistence implementation.
func (b *Builder) WithStore(s store.Store) *Builder {
	b.store = s
	return b
}

// WithBus sets the event bus implementation.
func (b *Builder) WithBus(bus eventbus.Bus) *Builder {
	b.bus = bus
	return b
}

// WithSandbox sets the sandbox runtime implementation.
func (b *Builder) WithSandbox(rt sandbox.Runtime) *Builder {
	b.sandbox = rt
	return b
}

// WithFetcher sets the snapshot fetcher implementation.
func (b *Builder) WithFetcher(f snapshot.Fetcher) *Builder {
	b.fetcher = f
	return b
}

// WithRules overrides the detection marker rules.
func (b *Builder) WithRules(r *profile.Rules) *Builder {
	b.rules = r
	return b
}

// Build creates the App. Missing components are filled with defaults.
func (b *Builder) Build() (*App, error) {
	if err := applyDefaults(b); err != nil {
		return nil, err
	}

	profiler := profile.New(b.rules)
	selector := bundler.New(profiler.Rules())

	ctrl := controller.New(
		controller.Config{
			Image:            b.config.DockerImage,
			Network:          b.config.DockerNetwork,
			SandboxEnv:       b.config.SandboxEnv(),
			InstallTimeout:   b.config.InstallTimeout,
			StartTimeout:     b.config.StartTimeout,
			EmulationTimeout: b.config.EmulationTimeout,
			IdleTimeout:      b.config.IdleTimeout,
			OutputLines:      b.config.OutputLines,
		},
		b.store,
		b.bus,
		b.fetcher,
		b.sandbox,
		profiler,
		selector,
	)

	srv := server.New(b.config, b.store, b.bus, ctrl)

	return &App{
		config: b.config,
		store:  b.store,
		ctrl:   ctrl,
		server: srv,
	}, nil
}

// App is a running previewd application.
type App struct {
	config *config.Config
	store  store.Store
	ctrl   *controller.Controller
	server *server.Server
}

// Controller returns the underlying lifecycle controller for direct access.
func (a *App) Controller() *controller.Controller { return a.ctrl }

// Start runs the application until the context is cancelled.
func (a *App) Start(ctx context.Context) error {
	a.ctrl.Start(ctx)
	if err := a.ctrl.Restore(); err != nil {
		return err
	}

	err := a.server.Start(ctx)

	a.ctrl.Stop()
	if cerr := a.store.Close(); err == nil {
		err = cerr
	}
	return err
}

// applyDefaults fills in missing fields on the builder.
func applyDefaults(b *Builder) error {
	if b.config == nil {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		b.config = cfg
	}

	if b.store == nil {
		st, err := sqliteStore.New(b.config.DatabasePath)
		if err != nil {
			return fmt.Errorf("initializing store: %w", err)
		}
		b.store = st
	}

	if b.bus == nil {
		b.bus = eventbus.NewInMemoryBus()
	}

	if b.sandbox == nil {
		b.sandbox = dockerSandbox.New()
	}

	if b.fetcher == nil {
		token := b.config.GitHubToken
		if token == "" {
			token = os.Getenv("GITHUB_TOKEN")
		}
		b.fetcher = ghSnapshot.New(token)
	}

	if b.rules == nil && b.config.RulesPath != "" {
		r, err := profile.LoadRules(b.config.RulesPath)
		if err != nil {
			return fmt.Errorf("loading rules: %w", err)
		}
		b.rules = r
	}

	return nil
}
