// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

package lua

import (
	"strconv"

	lua "github.com/yuin/gopher-lua"
)

// BaseName is the global holding the prototype every plugin table inherits
// from through its metatable.
const BaseName = "BasePlugin"

// PluginGlobal is the global exposing the plugin table while its module
// body runs.
const PluginGlobal = "PLUGIN"

func defaultBaseFunctions() map[string]lua.LGFunction {
	return map[string]lua.LGFunction{
		"GetName":          baseGetName,
		"GetVersionString": baseGetVersionString,
	}
}

// BasePlugin:GetName() returns the plugin name.
func baseGetName(L *lua.LState) int {
	self := L.CheckTable(1)
	L.Push(self.RawGetString("Name"))
	return 1
}

// BasePlugin:GetVersionString() renders Version without trailing zeros.
func baseGetVersionString(L *lua.LState) int {
	self := L.CheckTable(1)
	v, ok := self.RawGetString("Version").(lua.LNumber)
	if !ok {
		L.Push(lua.LString(""))
		return 1
	}
	L.Push(lua.LString(strconv.FormatFloat(float64(v), 'f', -1, 64)))
	return 1
}

// NewPluginTable creates a plugin table preset with name and filename that
// inherits from BasePlugin.
func NewPluginTable(L *lua.LState, name, filename string) *lua.LTable {
	tbl := L.NewTable()
	tbl.RawSetString("Name", lua.LString(name))
	tbl.RawSetString("Filename", lua.LString(filename))

	if base, ok := L.GetGlobal(BaseName).(*lua.LTable); ok {
		mt := L.NewTable()
		mt.RawSetString("__index", base)
		L.SetMetatable(tbl, mt)
	}
	return tbl
}

// HarvestFunctions collects the functions of tbl, then those of its
// metatable's __index table that tbl does not define itself.
func HarvestFunctions(L *lua.LState, tbl *lua.LTable) map[string]*lua.LFunction {
	out := make(map[string]*lua.LFunction)
	tbl.ForEach(func(k, v lua.LValue) {
		name, ok := k.(lua.LString)
		fn, isFn := v.(*lua.LFunction)
		if ok && isFn {
			out[string(name)] = fn
		}
	})

	mt, ok := L.GetMetatable(tbl).(*lua.LTable)
	if !ok {
		return out
	}
	base, ok := mt.RawGetString("__index").(*lua.LTable)
	if !ok {
		return out
	}
	base.ForEach(func(k, v lua.LValue) {
		name, ok := k.(lua.LString)
		fn, isFn := v.(*lua.LFunction)
		if !ok || !isFn {
			return
		}
		if _, own := out[string(name)]; !own {
			out[string(name)] = fn
		}
	})
	return out
}
