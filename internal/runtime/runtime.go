// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

// Package runtime owns one plugin host: the shared Lua state, the
// reflection bridge, the plugin manager, timers, web requests and
// datafiles, driven by a single poll loop.
//
// All Lua work happens on the goroutine calling Start, Tick, Run, Call and
// Close. Web request workers never touch Lua; their results are delivered
// by Tick.
//
//nolint:gocritic // captLocal: L is the idiomatic name for lua.LState
package runtime

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/cinderhost/cinder/internal/bridge"
	"github.com/cinderhost/cinder/internal/config"
	"github.com/cinderhost/cinder/internal/datafile"
	"github.com/cinderhost/cinder/internal/plugin"
	"github.com/cinderhost/cinder/internal/plugin/hostfunc"
	pluginlua "github.com/cinderhost/cinder/internal/plugin/lua"
	"github.com/cinderhost/cinder/internal/store"
	"github.com/cinderhost/cinder/internal/timer"
	"github.com/cinderhost/cinder/internal/webrequest"
	"github.com/cinderhost/cinder/pkg/errutil"
)

// HostGlobal is the global table scripts reach the host through.
const HostGlobal = "host"

// TypeRegistrar adds host types to the bridge registry before plugins load.
type TypeRegistrar func(*bridge.Registry) error

// Runtime is one plugin host.
type Runtime struct {
	cfg    *config.Config
	logger *slog.Logger

	L         *lua.LState
	bridge    *bridge.Bridge
	manager   *plugin.Manager
	scheduler *timer.Scheduler
	queue     *webrequest.Queue
	datafiles *datafile.Registry

	clock      timer.Clock
	client     *http.Client
	store      datafile.Store
	registrars []TypeRegistrar
	closers    []func()

	mu      sync.Mutex
	reloads []string

	ready  atomic.Bool
	closed atomic.Bool
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) {
		r.logger = l
	}
}

// WithClock replaces the timer clock.
func WithClock(c timer.Clock) Option {
	return func(r *Runtime) {
		r.clock = c
	}
}

// WithHTTPClient replaces the client used for plugin web requests.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Runtime) {
		r.client = c
	}
}

// WithDatafileStore replaces the datastore selected by the configuration.
func WithDatafileStore(s datafile.Store) Option {
	return func(r *Runtime) {
		r.store = s
	}
}

// WithTypes registers host types with the bridge. May be repeated.
func WithTypes(fn TypeRegistrar) Option {
	return func(r *Runtime) {
		r.registrars = append(r.registrars, fn)
	}
}

// New builds a runtime from cfg. Plugins are not loaded until Start.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Runtime, error) {
	r := &Runtime{
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.client == nil {
		r.client = webrequest.NewClient(cfg.RequestTimeout)
	}

	policy, err := bridge.NewPolicy(cfg.Policy)
	if err != nil {
		return nil, oops.In("runtime").Code("CONFIG_INVALID").Errorf("invalid policy: %v", err)
	}
	reg := bridge.NewRegistry(policy)
	for _, register := range r.registrars {
		if err := register(reg); err != nil {
			return nil, oops.In("runtime").Wrapf(err, "register host types")
		}
	}

	if r.store == nil {
		if err := r.openStore(ctx); err != nil {
			return nil, err
		}
	}

	L, err := pluginlua.NewStateFactory().NewState(context.Background())
	if err != nil {
		r.runClosers()
		return nil, oops.In("runtime").Code("STATE_INIT_FAILED").Wrap(err)
	}
	r.L = L

	r.bridge = bridge.New(reg, bridge.WithLogger(r.logger))
	r.manager = plugin.NewManager(L, cfg.PluginsDir(), plugin.WithLogger(r.logger))

	timerOpts := []timer.Option{timer.WithLogger(r.logger)}
	if r.clock != nil {
		timerOpts = append(timerOpts, timer.WithClock(r.clock))
	}
	r.scheduler = timer.NewScheduler(timerOpts...)
	r.queue = webrequest.NewQueue(
		webrequest.WithClient(r.client),
		webrequest.WithMaxInFlight(cfg.MaxInFlight),
		webrequest.WithLogger(r.logger),
	)
	r.datafiles = datafile.NewRegistry(r.store)

	mod := L.NewTable()
	r.bridge.Register(L, mod)
	hostfunc.New(
		hostfunc.WithManager(r.manager),
		hostfunc.WithScheduler(r.scheduler),
		hostfunc.WithQueue(r.queue),
		hostfunc.WithDatafiles(r.datafiles),
		hostfunc.WithReloader(r.RequestReload),
		hostfunc.WithLogger(r.logger),
	).Register(L, mod)
	L.SetGlobal(HostGlobal, mod)

	return r, nil
}

func (r *Runtime) openStore(ctx context.Context) error {
	switch r.cfg.Datastore {
	case config.DatastorePostgres:
		pg, err := store.Connect(ctx, r.cfg.DatabaseURL, store.DefaultConnectOptions())
		if err != nil {
			return err
		}
		r.store = pg
		r.closers = append(r.closers, pg.Close)
	default:
		r.store = datafile.NewFileStore(r.cfg.DataDir())
	}
	return nil
}

func (r *Runtime) runClosers() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

// State returns the shared Lua state.
func (r *Runtime) State() *lua.LState { return r.L }

// Bridge returns the reflection bridge.
func (r *Runtime) Bridge() *bridge.Bridge { return r.bridge }

// Manager returns the plugin manager.
func (r *Runtime) Manager() *plugin.Manager { return r.manager }

// Scheduler returns the timer scheduler.
func (r *Runtime) Scheduler() *timer.Scheduler { return r.scheduler }

// Queue returns the web request queue.
func (r *Runtime) Queue() *webrequest.Queue { return r.queue }

// Datafiles returns the datafile registry.
func (r *Runtime) Datafiles() *datafile.Registry { return r.datafiles }

// Ready reports whether Start has completed.
func (r *Runtime) Ready() bool { return r.ready.Load() }

// Start loads every plugin in the plugins directory, resolves
// dependencies and broadcasts Init and PostInit.
func (r *Runtime) Start(ctx context.Context) error {
	if err := r.manager.LoadAll(ctx); err != nil {
		return oops.In("runtime").With("path", r.cfg.PluginsDir()).Wrapf(err, "load plugins")
	}
	r.ready.Store(true)
	r.logger.Info("plugins loaded", "count", len(r.manager.Plugins()))
	return nil
}

// RequestReload queues a reload of name for the next Tick.
func (r *Runtime) RequestReload(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, queued := range r.reloads {
		if queued == name {
			return
		}
	}
	r.reloads = append(r.reloads, name)
}

// Tick runs one poll iteration: queued reloads, due timers, then finished
// web requests.
func (r *Runtime) Tick(ctx context.Context) {
	r.mu.Lock()
	reloads := r.reloads
	r.reloads = nil
	r.mu.Unlock()

	for _, name := range reloads {
		if n := r.scheduler.DestroyOwner(name); n > 0 {
			r.logger.Debug("destroyed timers of reloading plugin", "plugin", name, "count", n)
		}
		_, _ = r.manager.Reload(ctx, name) //nolint:errcheck // logged by Reload
	}

	r.scheduler.Update(ctx)
	r.queue.Poll(ctx)
}

// Run ticks every tick-rate until ctx is done.
func (r *Runtime) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.TickRate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Call broadcasts hook with args converted through the bridge and returns
// the first non-nil result as a Go value, or nil.
func (r *Runtime) Call(ctx context.Context, hook string, args ...any) any {
	return r.bridge.ToGo(r.manager.Call(ctx, hook, r.toLua(args)...))
}

// CallPlugin calls hook on one plugin.
func (r *Runtime) CallPlugin(ctx context.Context, name, hook string, args ...any) (any, error) {
	ret, err := r.manager.CallPlugin(ctx, name, hook, r.toLua(args)...)
	if err != nil {
		return nil, err
	}
	return r.bridge.ToGo(ret), nil
}

func (r *Runtime) toLua(args []any) []lua.LValue {
	out := make([]lua.LValue, len(args))
	for i, a := range args {
		out[i] = r.bridge.ToLua(r.L, a)
	}
	return out
}

// Close unloads every plugin, saves changed datafiles, stops the request
// queue and closes the Lua state. Calling Close again does nothing.
func (r *Runtime) Close(ctx context.Context) error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	r.ready.Store(false)

	var first error
	if err := r.manager.Close(ctx); err != nil {
		errutil.LogError(r.logger, "failed to unload plugins", err)
		first = err
	}
	r.scheduler.Clear()
	r.queue.Close()
	if err := r.datafiles.SaveAll(ctx); err != nil {
		errutil.LogError(r.logger, "failed to save datafiles", err)
		if first == nil {
			first = err
		}
	}
	r.L.Close()
	r.runClosers()
	return first
}
