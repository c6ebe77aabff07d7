// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

//nolint:gocritic // captLocal: L is the idiomatic name for lua.LState
package hostfunc

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/cinderhost/cinder/internal/datafile"
	"github.com/cinderhost/cinder/pkg/errutil"
)

const datafileTypeName = "cinder.datafile"

// host.get_datafile(name) returns the datafile, or nil for an invalid name
// or a store failure.
func (f *Functions) getDatafile(L *lua.LState) int {
	if f.datafiles == nil {
		return f.pushUnavailable(L, "get_datafile", "datafile store")
	}
	name := L.CheckString(1)
	d, err := f.datafiles.Get(luaContext(L), name)
	if err != nil {
		errutil.LogError(f.logger.With("plugin", caller(L)), "failed to get datafile", err)
		return pushError(L, err.Error())
	}
	L.Push(newUserData(L, &luaDatafile{d: d, f: f}, datafileTypeName))
	return 1
}

func (f *Functions) listDatafiles(L *lua.LState) int {
	if f.datafiles == nil {
		return f.pushUnavailable(L, "list_datafiles", "datafile store")
	}
	names, err := f.datafiles.List(luaContext(L), L.OptString(1, ""))
	if err != nil {
		errutil.LogError(f.logger.With("plugin", caller(L)), "failed to list datafiles", err)
		return pushError(L, err.Error())
	}
	tbl := L.CreateTable(len(names), 0)
	for _, n := range names {
		tbl.Append(lua.LString(n))
	}
	L.Push(tbl)
	return 1
}

func (f *Functions) removeDatafile(L *lua.LState) int {
	if f.datafiles == nil {
		return f.pushUnavailable(L, "remove_datafile", "datafile store")
	}
	removed, err := f.datafiles.Remove(luaContext(L), L.CheckString(1))
	if err != nil {
		errutil.LogError(f.logger.With("plugin", caller(L)), "failed to remove datafile", err)
		return pushError(L, err.Error())
	}
	L.Push(lua.LBool(removed))
	return 1
}

type luaDatafile struct {
	d *datafile.Datafile
	f *Functions
}

func datafileName(L *lua.LState) int {
	L.Push(lua.LString(checkUserData[*luaDatafile](L, 1, "datafile").d.Name()))
	return 1
}

func datafileGetText(L *lua.LState) int {
	L.Push(lua.LString(checkUserData[*luaDatafile](L, 1, "datafile").d.Text()))
	return 1
}

func datafileSetText(L *lua.LState) int {
	checkUserData[*luaDatafile](L, 1, "datafile").d.SetText(L.CheckString(2))
	return 0
}

// datafile:save() returns true, or false after logging the failure.
func datafileSave(L *lua.LState) int {
	ld := checkUserData[*luaDatafile](L, 1, "datafile")
	if err := ld.d.Save(luaContext(L)); err != nil {
		errutil.LogError(ld.f.logger.With("plugin", caller(L)), "failed to save datafile", err)
		L.Push(lua.LFalse)
		return 1
	}
	L.Push(lua.LTrue)
	return 1
}

func datafileReload(L *lua.LState) int {
	ld := checkUserData[*luaDatafile](L, 1, "datafile")
	if err := ld.d.Reload(luaContext(L)); err != nil {
		errutil.LogError(ld.f.logger.With("plugin", caller(L)), "failed to reload datafile", err)
		L.Push(lua.LFalse)
		return 1
	}
	L.Push(lua.LTrue)
	return 1
}
