// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

package plugin

import (
	"context"

	lua "github.com/yuin/gopher-lua"
)

type callerKey struct{}

// WithCaller returns a context recording name as the plugin currently
// executing.
func WithCaller(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, callerKey{}, name)
}

// CallerFrom returns the plugin recorded by WithCaller, or "" outside any
// plugin call. A nil ctx is allowed.
func CallerFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	name, _ := ctx.Value(callerKey{}).(string)
	return name
}

// CallFunction runs fn on L as plugin owner. L's context is replaced by one
// carrying owner for the duration of the call and restored afterwards, also
// when fn raises. It returns fn's first result.
func CallFunction(ctx context.Context, L *lua.LState, owner string, fn *lua.LFunction, args ...lua.LValue) (lua.LValue, error) {
	prev := L.Context()
	L.SetContext(WithCaller(ctx, owner))
	defer func() {
		if prev == nil {
			L.RemoveContext()
			return
		}
		L.SetContext(prev)
	}()

	if err := L.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, args...); err != nil {
		return lua.LNil, err
	}
	ret := L.Get(-1)
	L.Pop(1)
	return ret, nil
}
