// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

//nolint:gocritic // captLocal: L is the idiomatic name for lua.LState
package hostfunc

import (
	"context"

	lua "github.com/yuin/gopher-lua"

	"github.com/cinderhost/cinder/internal/plugin"
	"github.com/cinderhost/cinder/internal/webrequest"
)

// host.send_request(url, fn) queues a GET. fn(code, body) runs on a later
// poll tick.
func (f *Functions) sendRequest(L *lua.LState) int {
	if f.queue == nil {
		return f.pushUnavailable(L, "send_request", "web request queue")
	}
	url := L.CheckString(1)
	owner := caller(L)
	f.queue.Send(owner, url, requestCallback(L, owner, L.OptFunction(2, nil)))
	L.Push(lua.LTrue)
	return 1
}

// host.post_request(url, body, fn) queues a form POST.
func (f *Functions) postRequest(L *lua.LState) int {
	if f.queue == nil {
		return f.pushUnavailable(L, "post_request", "web request queue")
	}
	url := L.CheckString(1)
	body := L.CheckString(2)
	owner := caller(L)
	f.queue.Post(owner, url, body, requestCallback(L, owner, L.OptFunction(3, nil)))
	L.Push(lua.LTrue)
	return 1
}

func requestCallback(L *lua.LState, owner string, fn *lua.LFunction) webrequest.Callback {
	if fn == nil {
		return nil
	}
	return func(ctx context.Context, code int, body string) error {
		_, err := plugin.CallFunction(ctx, L, owner, fn, lua.LNumber(code), lua.LString(body))
		return err
	}
}
