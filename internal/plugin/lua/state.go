// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

// Package lua provides the sandboxed Lua runtime shared by all plugins.
package lua

import (
	"context"
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// safeLibrary represents a Lua library that is safe to load in sandboxed state.
type safeLibrary struct {
	name string
	fn   lua.LGFunction
}

// defaultSafeLibraries returns the list of libraries safe to load.
// Safe: base, table, string, math, coroutine.
// Blocked: os, io, debug, package.
func defaultSafeLibraries() []safeLibrary {
	return []safeLibrary{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
		{lua.CoroutineLibName, lua.OpenCoroutine},
	}
}

// StateFactory creates sandboxed Lua states with only safe libraries and
// the BasePlugin prototype installed.
type StateFactory struct {
	// libraries allows overriding the default safe libraries for testing.
	libraries []safeLibrary
	base      map[string]lua.LGFunction
}

// FactoryOption configures a StateFactory.
type FactoryOption func(*StateFactory)

// WithBaseFunction adds fn to the BasePlugin prototype under name. Every
// plugin inherits it as a hook unless it defines its own.
func WithBaseFunction(name string, fn lua.LGFunction) FactoryOption {
	return func(f *StateFactory) {
		f.base[name] = fn
	}
}

// NewStateFactory creates a new state factory.
func NewStateFactory(opts ...FactoryOption) *StateFactory {
	f := &StateFactory{
		libraries: defaultSafeLibraries(),
		base:      defaultBaseFunctions(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// unsafeBaseFunctions lists base library functions that must be blocked for security.
// These functions load code from the filesystem or from strings outside the loader.
var unsafeBaseFunctions = []string{"dofile", "loadfile", "loadstring", "load", "require", "module"}

// NewState creates a fresh Lua state with only safe libraries loaded and
// the BasePlugin global defined.
//
// The ctx parameter becomes the state's base context.
func (f *StateFactory) NewState(ctx context.Context) (*lua.LState, error) {
	L := lua.NewState(lua.Options{
		SkipOpenLibs: true, // Don't load any libraries by default
	})

	for _, lib := range f.libraries {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, fmt.Errorf("failed to open library %s: %w", lib.name, err)
		}
	}

	for _, fn := range unsafeBaseFunctions {
		L.SetGlobal(fn, lua.LNil)
	}

	base := L.NewTable()
	L.SetFuncs(base, f.base)
	L.SetGlobal(BaseName, base)

	if ctx != nil {
		L.SetContext(ctx)
	}
	return L, nil
}
