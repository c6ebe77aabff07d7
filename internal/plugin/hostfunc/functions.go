// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

// Package hostfunc provides the host functions plugins reach through the
// global host table: logging, cross-plugin calls, timers, web requests and
// datafiles.
//
// Every function attributes its work to the plugin currently executing, as
// recorded in the Lua state's context by plugin.CallFunction.
//
//nolint:gocritic // captLocal: L is the idiomatic name for lua.LState
package hostfunc

import (
	"context"
	"log/slog"
	"strings"

	"github.com/oklog/ulid/v2"
	lua "github.com/yuin/gopher-lua"

	"github.com/cinderhost/cinder/internal/datafile"
	"github.com/cinderhost/cinder/internal/plugin"
	"github.com/cinderhost/cinder/internal/timer"
	"github.com/cinderhost/cinder/internal/webrequest"
)

// Reloader queues a reload of the named plugin.
type Reloader func(name string)

// Functions provides host functions to Lua plugins.
type Functions struct {
	manager   *plugin.Manager
	scheduler *timer.Scheduler
	queue     *webrequest.Queue
	datafiles *datafile.Registry
	reload    Reloader
	logger    *slog.Logger
}

// Option configures Functions.
type Option func(*Functions)

// WithManager enables call_plugins and find_plugin.
func WithManager(m *plugin.Manager) Option {
	return func(f *Functions) {
		f.manager = m
	}
}

// WithScheduler enables new_timer.
func WithScheduler(s *timer.Scheduler) Option {
	return func(f *Functions) {
		f.scheduler = s
	}
}

// WithQueue enables send_request and post_request.
func WithQueue(q *webrequest.Queue) Option {
	return func(f *Functions) {
		f.queue = q
	}
}

// WithDatafiles enables the datafile functions.
func WithDatafiles(r *datafile.Registry) Option {
	return func(f *Functions) {
		f.datafiles = r
	}
}

// WithReloader enables reload_plugin.
func WithReloader(r Reloader) Option {
	return func(f *Functions) {
		f.reload = r
	}
}

// WithLogger sets the logger host.print and host.error write to.
func WithLogger(l *slog.Logger) Option {
	return func(f *Functions) {
		f.logger = l
	}
}

// New creates host functions. Services not supplied make their functions
// return nil and an error message.
func New(opts ...Option) *Functions {
	f := &Functions{logger: slog.Default()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Register adds the host functions to mod.
func (f *Functions) Register(L *lua.LState, mod *lua.LTable) {
	f.registerMetatables(L)
	L.SetFuncs(mod, map[string]lua.LGFunction{
		"print":           f.print,
		"error":           f.error,
		"throw":           throw,
		"new_id":          newID,
		"call_plugins":    f.callPlugins,
		"find_plugin":     f.findPlugin,
		"reload_plugin":   f.reloadPlugin,
		"new_timer":       f.newTimer,
		"send_request":    f.sendRequest,
		"post_request":    f.postRequest,
		"get_datafile":    f.getDatafile,
		"list_datafiles":  f.listDatafiles,
		"remove_datafile": f.removeDatafile,
	})
}

func (f *Functions) registerMetatables(L *lua.LState) {
	timerMT := L.NewTypeMetatable(timerTypeName)
	L.SetField(timerMT, "__index", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"destroy":   timerDestroy,
		"remaining": timerRemaining,
		"finished":  timerFinished,
		"id":        timerID,
	}))

	dataMT := L.NewTypeMetatable(datafileTypeName)
	L.SetField(dataMT, "__index", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"get_text": datafileGetText,
		"set_text": datafileSetText,
		"save":     datafileSave,
		"reload":   datafileReload,
		"name":     datafileName,
	}))
	L.SetField(dataMT, "__tostring", L.NewFunction(datafileName))
}

// caller returns the plugin currently executing on L.
func caller(L *lua.LState) string {
	return plugin.CallerFrom(L.Context())
}

// message joins every argument with tostring semantics.
func message(L *lua.LState) string {
	parts := make([]string, 0, L.GetTop())
	for i := 1; i <= L.GetTop(); i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	return strings.Join(parts, " ")
}

func (f *Functions) print(L *lua.LState) int {
	f.logger.Info(message(L), "plugin", caller(L))
	return 0
}

func (f *Functions) error(L *lua.LState) int {
	f.logger.Error(message(L), "plugin", caller(L))
	return 0
}

// throw raises a script error carrying the message.
func throw(L *lua.LState) int {
	L.RaiseError("%s", L.CheckString(1))
	return 0
}

func newID(L *lua.LState) int {
	L.Push(lua.LString(ulid.Make().String()))
	return 1
}

func (f *Functions) callPlugins(L *lua.LState) int {
	if f.manager == nil {
		return f.pushUnavailable(L, "call_plugins", "plugin manager")
	}
	hook := L.CheckString(1)
	args := make([]lua.LValue, 0, L.GetTop())
	for i := 2; i <= L.GetTop(); i++ {
		args = append(args, L.Get(i))
	}
	L.Push(f.manager.Call(luaContext(L), hook, args...))
	return 1
}

func (f *Functions) findPlugin(L *lua.LState) int {
	if f.manager == nil {
		return f.pushUnavailable(L, "find_plugin", "plugin manager")
	}
	p, ok := f.manager.Get(L.CheckString(1))
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(p.Table())
	return 1
}

// reloadPlugin queues the reload; it runs on the next poll tick, outside
// the calling hook.
func (f *Functions) reloadPlugin(L *lua.LState) int {
	if f.reload == nil {
		return f.pushUnavailable(L, "reload_plugin", "reloader")
	}
	name := L.CheckString(1)
	f.logger.Debug("plugin reload requested", "plugin", name, "caller", caller(L))
	f.reload(name)
	L.Push(lua.LTrue)
	return 1
}

// luaContext returns L's context, or Background if none is set.
func luaContext(L *lua.LState) context.Context {
	if ctx := L.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
