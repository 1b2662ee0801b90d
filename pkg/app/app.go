// Package app wires the engine, host library and cache together and runs
// scripts headlessly under a frame loop.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/kromenak/gengine-sub002/pkg/bytecode"
	"github.com/kromenak/gengine-sub002/pkg/config"
	"github.com/kromenak/gengine-sub002/pkg/engine"
	"github.com/kromenak/gengine-sub002/pkg/hostlib"
	"github.com/kromenak/gengine-sub002/pkg/logger"
	"github.com/kromenak/gengine-sub002/pkg/script"
	"github.com/kromenak/gengine-sub002/pkg/store"
	"github.com/kromenak/gengine-sub002/pkg/vm"
)

// ErrTimeout is returned by Run when threads are still live at the deadline.
var ErrTimeout = errors.New("timed out with threads still running")

// Application runs Sheep scripts without a renderer.
type Application struct {
	config   *config.Config
	log      *slog.Logger
	out      io.Writer
	registry *vm.Registry
	lib      *hostlib.Library
	manager  *engine.Manager
	cache    *store.Store
}

// New creates an application. Script output goes to out.
func New(cfg *config.Config, out io.Writer) *Application {
	return &Application{
		config: cfg,
		out:    out,
	}
}

// Setup builds the host registry, opens the cache and creates the manager.
// Host functions from the configured manifest that the built-in library does
// not provide are registered as logging stubs.
func (app *Application) Setup() error {
	app.log = logger.GetLogger()

	app.registry = vm.NewRegistry()
	app.lib = hostlib.New(app.out, hostlib.WithLogger(app.log))
	if err := app.lib.Register(app.registry); err != nil {
		return fmt.Errorf("failed to register host library: %w", err)
	}

	if path := app.config.Hosts.Manifest; path != "" {
		decls, err := config.LoadManifest(path)
		if err != nil {
			return err
		}
		if err := hostlib.RegisterStubs(app.registry, decls, app.log); err != nil {
			return fmt.Errorf("failed to register manifest %s: %w", path, err)
		}
		app.log.Info("Host manifest loaded", "path", path, "functions", len(decls))
	}

	policy, err := app.config.DuplicatePolicy()
	if err != nil {
		return err
	}
	opts := []engine.Option{
		engine.WithLogger(app.log),
		engine.WithDuplicateGlobals(policy),
		engine.WithWarningsAsErrors(app.config.Compiler.WarningsAsErrors),
		engine.WithMaxStack(app.config.Runtime.MaxStack),
		engine.WithInstructionLimit(app.config.Runtime.InstructionLimit),
	}

	if path := app.config.Cache.Path; path != "" {
		app.cache, err = store.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open script cache: %w", err)
		}
		opts = append(opts, engine.WithCache(app.cache))
		app.log.Debug("Script cache opened", "path", path)
	}

	app.manager = engine.NewManager(app.registry, opts...)
	return nil
}

// Close releases the cache.
func (app *Application) Close() error {
	if app.cache != nil {
		return app.cache.Close()
	}
	return nil
}

// Manager returns the execution manager. Setup must have been called.
func (app *Application) Manager() *engine.Manager {
	return app.manager
}

// Registry returns the host function registry.
func (app *Application) Registry() *vm.Registry {
	return app.registry
}

// LoadScript reads a source or compiled .shp file and returns it compiled.
func (app *Application) LoadScript(path string) (*bytecode.Script, error) {
	s, err := script.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if s.Compiled {
		app.log.Debug("Loading compiled asset", "name", s.Name, "size", len(s.Data))
		return app.manager.Load(s.Name, s.Data)
	}
	app.log.Debug("Compiling script", "name", s.Name, "size", len(s.Data))
	return app.manager.Compile(s.Name, s.Content)
}

// Run starts the entry function and drives frames until no thread is left,
// the configured timeout elapses, or ctx is cancelled. A thread that ends with
// a runtime error makes Run return that error once the loop finishes.
func (app *Application) Run(ctx context.Context, s *bytecode.Script, entry string) error {
	var threadErr error
	_, err := app.manager.Execute(s, entry, "main", func(id vm.ThreadID, state vm.State, err error) {
		app.log.Debug("Thread finished", "thread", uint64(id), "state", state.String())
		if err != nil && threadErr == nil {
			threadErr = err
		}
	})
	if err != nil {
		return err
	}

	if timeout := app.config.Runtime.Timeout.Duration; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ticker := time.NewTicker(app.config.FrameInterval())
	defer ticker.Stop()

	for app.manager.IsAnyThreadRunning() {
		select {
		case <-ctx.Done():
			app.manager.StopThreadsByTag("main")
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrTimeout
			}
			return ctx.Err()
		case <-ticker.C:
			app.lib.Tick()
			app.manager.Update()
		}
	}

	app.log.Info("All threads finished", "frames", app.manager.Frame())
	return threadErr
}
