// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

//nolint:gocritic // captLocal: L is the idiomatic name for lua.LState
package hostfunc

import (
	lua "github.com/yuin/gopher-lua"
)

// pushError pushes nil followed by an error string and returns 2.
func pushError(L *lua.LState, errMsg string) int {
	L.Push(lua.LNil)
	L.Push(lua.LString(errMsg))
	return 2
}

// pushUnavailable logs and reports a host function whose backing service
// was not configured.
func (f *Functions) pushUnavailable(L *lua.LState, funcName, service string) int {
	f.logger.Error(funcName+" called but "+service+" is not configured", "plugin", caller(L))
	return pushError(L, service+" not configured")
}

// checkUserData returns argument n as the host value T wrapped in userdata,
// raising a script error otherwise.
func checkUserData[T any](L *lua.LState, n int, want string) T {
	ud := L.CheckUserData(n)
	v, ok := ud.Value.(T)
	if !ok {
		L.ArgError(n, want+" expected")
	}
	return v
}

// newUserData wraps v with the named metatable.
func newUserData(L *lua.LState, v any, metatable string) *lua.LUserData {
	ud := L.NewUserData()
	ud.Value = v
	L.SetMetatable(ud, L.GetTypeMetatable(metatable))
	return ud
}
