// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

// Package plugin loads Lua plugins into the shared state and dispatches
// hooks to them.
package plugin

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	pluginlua "github.com/cinderhost/cinder/internal/plugin/lua"
	"github.com/cinderhost/cinder/pkg/errutil"
)

// Plugin is one loaded script module.
type Plugin struct {
	Name       string
	Filename   string
	Descriptor Descriptor
	Depends    []Dependency

	L      *lua.LState
	table  *lua.LTable
	hooks  map[string]*lua.LFunction
	logger *slog.Logger
	depth  int
}

// LoadOption configures plugin loading.
type LoadOption func(*Plugin)

// WithPluginLogger sets the logger hook failures are reported to.
func WithPluginLogger(l *slog.Logger) LoadOption {
	return func(p *Plugin) {
		p.logger = l
	}
}

// NameFromFilename derives the plugin name from its source file.
func NameFromFilename(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Load reads filename and loads it into L as a plugin named after the file.
func Load(ctx context.Context, L *lua.LState, filename string, opts ...LoadOption) (*Plugin, error) {
	name := NameFromFilename(filename)
	src, err := os.ReadFile(filepath.Clean(filename))
	if err != nil {
		return nil, oops.In("plugin").Code("PLUGIN_NOT_FOUND").
			With("plugin", name).With("path", filename).
			Hint("failed to read plugin source").
			Wrap(err)
	}
	return LoadSource(ctx, L, name, filename, src, opts...)
}

// LoadSource compiles src and runs it as the module body of plugin name.
//
// The module body sees its plugin table as the global PLUGIN. Afterwards the
// table's functions, and those inherited from BasePlugin, become the hook
// table, and the descriptor fields are validated. Any failure leaves L
// without a trace of the plugin beyond what the body itself did.
func LoadSource(ctx context.Context, L *lua.LState, name, filename string, src []byte, opts ...LoadOption) (*Plugin, error) {
	p := &Plugin{
		Name:     name,
		Filename: filename,
		L:        L,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}

	proto, err := pluginlua.Compile(filename, src)
	if err != nil {
		return nil, oops.In("plugin").With("plugin", name).Wrap(err)
	}

	p.table = pluginlua.NewPluginTable(L, name, filename)
	prevGlobal := L.GetGlobal(pluginlua.PluginGlobal)
	L.SetGlobal(pluginlua.PluginGlobal, p.table)
	_, err = CallFunction(ctx, L, name, L.NewFunctionFromProto(proto))
	L.SetGlobal(pluginlua.PluginGlobal, prevGlobal)
	if err != nil {
		return nil, oops.In("plugin").Code("PLUGIN_EXEC_FAILED").
			With("plugin", name).With("path", filename).
			Hint("module body raised an error").
			Wrap(err)
	}

	p.hooks = pluginlua.HarvestFunctions(L, p.table)

	d, err := ReadDescriptor(p.table)
	if err != nil {
		return nil, oops.In("plugin").With("plugin", name).Wrap(err)
	}
	p.Descriptor = *d
	if p.Depends, err = parseDependencies(d.Depends); err != nil {
		return nil, oops.In("plugin").With("plugin", name).Wrap(err)
	}
	return p, nil
}

// Table returns the plugin's own Lua table.
func (p *Plugin) Table() *lua.LTable {
	return p.table
}

// HasHook reports whether the hook table contains hook.
func (p *Plugin) HasHook(hook string) bool {
	_, ok := p.hooks[hook]
	return ok
}

// HookNames returns the hook table keys, sorted.
func (p *Plugin) HookNames() []string {
	names := make([]string, 0, len(p.hooks))
	for name := range p.hooks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InCall reports whether a hook of p is currently executing. Nested calls
// into the same plugin are permitted.
func (p *Plugin) InCall() bool {
	return p.depth > 0
}

// Call invokes hook with the plugin table prepended to args and returns its
// first result. A missing hook returns LNil without error. Runtime errors
// are logged with the hook, the plugin and the plugin that was executing
// before this call, and returned.
func (p *Plugin) Call(ctx context.Context, hook string, args ...lua.LValue) (lua.LValue, error) {
	fn, ok := p.hooks[hook]
	if !ok {
		return lua.LNil, nil
	}

	caller := CallerFrom(ctx)
	full := make([]lua.LValue, 0, len(args)+1)
	full = append(full, p.table)
	full = append(full, args...)

	p.depth++
	defer func() { p.depth-- }()

	ret, err := CallFunction(ctx, p.L, p.Name, fn, full...)
	if err != nil {
		err = oops.In("plugin").Code("PLUGIN_EXEC_FAILED").
			With("plugin", p.Name).With("hook", hook).With("caller", caller).
			Wrap(err)
		errutil.LogError(p.logger, "failed to call hook", err)
		return lua.LNil, err
	}
	return ret, nil
}
