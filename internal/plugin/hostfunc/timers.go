// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

//nolint:gocritic // captLocal: L is the idiomatic name for lua.LState
package hostfunc

import (
	"context"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/cinderhost/cinder/internal/plugin"
	"github.com/cinderhost/cinder/internal/timer"
)

const timerTypeName = "cinder.timer"

// host.new_timer(delay_seconds, iterations, fn) returns a timer handle.
// fn runs on the poll loop attributed to the plugin that created it.
func (f *Functions) newTimer(L *lua.LState) int {
	if f.scheduler == nil {
		return f.pushUnavailable(L, "new_timer", "timer scheduler")
	}
	seconds := float64(L.CheckNumber(1))
	iterations := L.CheckInt(2)
	fn := L.CheckFunction(3)
	owner := caller(L)

	delay := time.Duration(seconds * float64(time.Second))
	t, err := f.scheduler.Create(owner, delay, iterations, func(ctx context.Context) error {
		_, err := plugin.CallFunction(ctx, L, owner, fn)
		return err
	})
	if err != nil {
		return pushError(L, err.Error())
	}
	L.Push(newUserData(L, t, timerTypeName))
	return 1
}

func timerDestroy(L *lua.LState) int {
	checkUserData[*timer.Timer](L, 1, "timer").Destroy()
	return 0
}

func timerRemaining(L *lua.LState) int {
	L.Push(lua.LNumber(checkUserData[*timer.Timer](L, 1, "timer").Remaining()))
	return 1
}

func timerFinished(L *lua.LState) int {
	L.Push(lua.LBool(checkUserData[*timer.Timer](L, 1, "timer").Finished()))
	return 1
}

func timerID(L *lua.LState) int {
	L.Push(lua.LString(checkUserData[*timer.Timer](L, 1, "timer").ID()))
	return 1
}
