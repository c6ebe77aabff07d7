// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/cinderhost/cinder/pkg/errutil"
)

var tracer = otel.Tracer("cinder/plugin")

// Lifecycle hooks called by the Manager.
const (
	HookInit     = "Init"
	HookPostInit = "PostInit"
	HookUnload   = "Unload"
)

// Manager owns the loaded plugins and the hook registrations.
//
// Lua work happens on the goroutine driving the shared state; the mutex
// only guards the maps, so hooks may call back into the Manager.
type Manager struct {
	L          *lua.LState
	pluginsDir string
	logger     *slog.Logger

	mu      sync.RWMutex
	plugins map[string]*Plugin
	hooks   map[string]map[*Plugin]struct{}
}

// ManagerOption configures the Manager.
type ManagerOption func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = l
	}
}

// NewManager creates a plugin manager loading plugins from pluginsDir into L.
func NewManager(L *lua.LState, pluginsDir string, opts ...ManagerOption) *Manager {
	m := &Manager{
		L:          L,
		pluginsDir: pluginsDir,
		logger:     slog.Default(),
		plugins:    make(map[string]*Plugin),
		hooks:      make(map[string]map[*Plugin]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Dir returns the plugins directory.
func (m *Manager) Dir() string {
	return m.pluginsDir
}

// AddPlugin registers p and every hook in its hook table. A plugin with the
// same name must be removed first.
func (m *Manager) AddPlugin(p *Plugin) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.plugins[p.Name]; exists {
		return oops.In("plugin").Code("PLUGIN_ALREADY_LOADED").With("plugin", p.Name).
			Errorf("plugin %q is already loaded", p.Name)
	}
	m.plugins[p.Name] = p
	for hook := range p.hooks {
		set, ok := m.hooks[hook]
		if !ok {
			set = make(map[*Plugin]struct{})
			m.hooks[hook] = set
		}
		set[p] = struct{}{}
	}
	PluginsLoaded.Set(float64(len(m.plugins)))
	return nil
}

// RemovePlugin unregisters p from the plugin set and every hook set.
func (m *Manager) RemovePlugin(p *Plugin) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(p)
}

func (m *Manager) removeLocked(p *Plugin) {
	if cur, ok := m.plugins[p.Name]; ok && cur == p {
		delete(m.plugins, p.Name)
	}
	for hook := range p.hooks {
		set := m.hooks[hook]
		delete(set, p)
		if len(set) == 0 {
			delete(m.hooks, hook)
		}
	}
	PluginsLoaded.Set(float64(len(m.plugins)))
}

// Get returns the plugin called name.
func (m *Manager) Get(name string) (*Plugin, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plugins[name]
	return p, ok
}

// Plugins returns the names of all loaded plugins, sorted.
func (m *Manager) Plugins() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.plugins))
	for name := range m.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Hooks returns the names of the plugins registered for hook, sorted.
func (m *Manager) Hooks(hook string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.hooks[hook]))
	for p := range m.hooks[hook] {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) snapshot(hook string) []*Plugin {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := m.hooks[hook]
	if len(set) == 0 {
		return nil
	}
	out := make([]*Plugin, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	return out
}

// Call broadcasts hook to the plugins registered for it and returns the
// first non-nil result; the remaining plugins are not called. Iteration
// order is unspecified. A failing plugin is logged and skipped.
func (m *Manager) Call(ctx context.Context, hook string, args ...lua.LValue) lua.LValue {
	targets := m.snapshot(hook)
	if len(targets) == 0 {
		return lua.LNil
	}

	ctx, span := tracer.Start(ctx, "plugin.broadcast")
	defer span.End()
	span.SetAttributes(
		attribute.String("hook.name", hook),
		attribute.Int("hook.targets", len(targets)),
	)

	for _, p := range targets {
		ret, err := m.callOne(ctx, p, hook, args)
		if err != nil {
			span.RecordError(err)
			continue
		}
		if ret != lua.LNil {
			span.SetAttributes(attribute.String("hook.answered_by", p.Name))
			return ret
		}
	}
	return lua.LNil
}

// CallPlugin calls hook on the plugin called name only.
func (m *Manager) CallPlugin(ctx context.Context, name, hook string, args ...lua.LValue) (lua.LValue, error) {
	p, ok := m.Get(name)
	if !ok {
		return lua.LNil, oops.In("plugin").Code("PLUGIN_NOT_FOUND").With("plugin", name).
			Errorf("plugin %q is not loaded", name)
	}
	if !p.HasHook(hook) {
		return lua.LNil, nil
	}
	return m.callOne(ctx, p, hook, args)
}

func (m *Manager) callOne(ctx context.Context, p *Plugin, hook string, args []lua.LValue) (lua.LValue, error) {
	ctx, span := tracer.Start(ctx, "plugin.call")
	defer span.End()
	span.SetAttributes(
		attribute.String("plugin.name", p.Name),
		attribute.String("hook.name", hook),
	)

	start := time.Now()
	ret, err := p.Call(ctx, hook, args...)
	HookDuration.WithLabelValues(hook).Observe(time.Since(start).Seconds())
	if err != nil {
		HookCalls.WithLabelValues(hook, StatusError).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return lua.LNil, err
	}
	HookCalls.WithLabelValues(hook, StatusSuccess).Inc()
	return ret, nil
}

// Discover lists the plugin sources (*.lua) in the plugins directory,
// sorted. A missing directory yields no plugins.
func (m *Manager) Discover(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(m.pluginsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read plugins directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		files = append(files, filepath.Join(m.pluginsDir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// Load loads filename and registers the resulting plugin. Failures are
// logged and returned; the plugin is not registered.
func (m *Manager) Load(ctx context.Context, filename string) (*Plugin, error) {
	p, err := Load(ctx, m.L, filename, WithPluginLogger(m.logger))
	if err == nil {
		err = m.AddPlugin(p)
	}
	if err != nil {
		errutil.LogError(m.logger.With("plugin", NameFromFilename(filename)), "failed to load plugin", err)
		return nil, err
	}
	m.logger.Info("loaded plugin",
		"plugin", p.Name,
		"title", p.Descriptor.Title,
		"version", p.Descriptor.Version,
		"author", p.Descriptor.Author)
	return p, nil
}

// LoadAll loads every discovered plugin, drops those whose dependencies
// are unmet, then broadcasts Init and PostInit.
//
// Individual plugin failures are logged and skipped; only an unreadable
// plugins directory is an error.
func (m *Manager) LoadAll(ctx context.Context) error {
	files, err := m.Discover(ctx)
	if err != nil {
		return err
	}
	for _, file := range files {
		_, _ = m.Load(ctx, file) //nolint:errcheck // logged by Load
	}

	m.ResolveDependencies()

	m.Call(ctx, HookInit)
	m.Call(ctx, HookPostInit)
	return nil
}

// ResolveDependencies removes every plugin with a missing, excluded or
// version-mismatched dependency, repeating until a pass excludes nothing.
// It returns the names of the removed plugins, sorted.
func (m *Manager) ResolveDependencies() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.plugins))
	for name := range m.plugins {
		names = append(names, name)
	}
	sort.Strings(names)

	excluded := make(map[string]struct{})
	lookup := func(name string) *Plugin {
		if _, gone := excluded[name]; gone {
			return nil
		}
		return m.plugins[name]
	}
	for changed := true; changed; {
		changed = false
		for _, name := range names {
			if _, gone := excluded[name]; gone {
				continue
			}
			dep, missing := unmet(m.plugins[name], lookup)
			if !missing {
				continue
			}
			excluded[name] = struct{}{}
			changed = true
			m.logger.Warn("excluding plugin with unmet dependency",
				"plugin", name,
				"dependency", dep.String())
		}
	}

	removed := make([]string, 0, len(excluded))
	for _, name := range names {
		if _, gone := excluded[name]; gone {
			m.removeLocked(m.plugins[name])
			removed = append(removed, name)
		}
	}
	return removed
}

// Reload replaces the plugin called name with a freshly loaded instance
// of the same file. The old instance receives Unload first; the new one
// receives Init and PostInit. Dependents of name are not re-checked.
func (m *Manager) Reload(ctx context.Context, name string) (*Plugin, error) {
	old, ok := m.Get(name)
	if !ok {
		err := oops.In("plugin").Code("PLUGIN_NOT_FOUND").With("plugin", name).
			Errorf("cannot reload %q: plugin is not loaded", name)
		errutil.LogError(m.logger, "failed to reload plugin", err)
		return nil, err
	}

	m.lifecycle(ctx, old, HookUnload)
	m.RemovePlugin(old)

	p, err := Load(ctx, m.L, old.Filename, WithPluginLogger(m.logger))
	if err == nil {
		if dep, missing := unmet(p, func(n string) *Plugin { pp, _ := m.Get(n); return pp }); missing {
			err = oops.In("plugin").Code("DEPENDENCY_MISSING").
				With("plugin", name).With("dependency", dep.String()).
				Errorf("dependency %q of %q is not satisfied", dep.String(), name)
		}
	}
	if err == nil {
		err = m.AddPlugin(p)
	}
	if err != nil {
		errutil.LogError(m.logger.With("plugin", name), "failed to reload plugin", err)
		return nil, err
	}

	m.logger.Info("reloaded plugin", "plugin", name, "version", p.Descriptor.Version)
	m.lifecycle(ctx, p, HookInit)
	m.lifecycle(ctx, p, HookPostInit)
	return p, nil
}

// lifecycle calls hook on p if p defines it. Errors are logged by Plugin.Call.
func (m *Manager) lifecycle(ctx context.Context, p *Plugin, hook string) {
	if p.HasHook(hook) {
		_, _ = m.callOne(ctx, p, hook, nil) //nolint:errcheck // logged by Plugin.Call
	}
}

// Unload calls the Unload hook of name and removes it.
func (m *Manager) Unload(ctx context.Context, name string) error {
	p, ok := m.Get(name)
	if !ok {
		return oops.In("plugin").Code("PLUGIN_NOT_FOUND").With("plugin", name).
			Errorf("plugin %q is not loaded", name)
	}
	m.lifecycle(ctx, p, HookUnload)
	m.RemovePlugin(p)
	m.logger.Info("unloaded plugin", "plugin", name)
	return nil
}

// Close unloads every plugin.
func (m *Manager) Close(ctx context.Context) error {
	for _, name := range m.Plugins() {
		if err := m.Unload(ctx, name); err != nil {
			return err
		}
	}
	return nil
}
