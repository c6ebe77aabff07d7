// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

package bridge

import (
	"reflect"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
)

func arityFits(ft reflect.Type, n int) bool {
	if ft.IsVariadic() {
		return n >= ft.NumIn()-1
	}
	return n == ft.NumIn()
}

// convertArgs converts Lua arguments to the parameter types of ft.
func (b *Bridge) convertArgs(ft reflect.Type, args []lua.LValue) ([]reflect.Value, error) {
	in := make([]reflect.Value, len(args))
	for i, arg := range args {
		var pt reflect.Type
		if ft.IsVariadic() && i >= ft.NumIn()-1 {
			pt = ft.In(ft.NumIn() - 1).Elem()
		} else {
			pt = ft.In(i)
		}
		v, err := b.fromLua(arg, pt)
		if err != nil {
			return nil, oops.In("bridge").With("argument", i+1).Wrap(err)
		}
		in[i] = v
	}
	return in, nil
}

// pick selects the first candidate whose arity fits args and whose
// parameters accept them. Fixed-arity candidates are tried before variadic ones.
func (b *Bridge) pick(cands []*Func, args []lua.LValue) (*Func, []reflect.Value, error) {
	var lastErr error
	for _, variadic := range []bool{false, true} {
		for _, c := range cands {
			ft := c.fn.Type()
			if ft.IsVariadic() != variadic || !arityFits(ft, len(args)) {
				continue
			}
			in, err := b.convertArgs(ft, args)
			if err != nil {
				lastErr = err
				continue
			}
			return c, in, nil
		}
	}

	builder := oops.In("bridge").Code("MEMBER_NOT_FOUND").With("arguments", len(args))
	if len(cands) > 0 {
		builder = builder.With("type", cands[0].owner).With("member", cands[0].name)
	}
	if lastErr != nil {
		return nil, nil, builder.Wrapf(lastErr, "no overload accepts the given arguments")
	}
	return nil, nil, builder.Errorf("no overload takes %d arguments", len(args))
}

// invoke calls f, turning a host panic into an error.
func (b *Bridge) invoke(f *Func, in []reflect.Value) (out []reflect.Value, err error) {
	defer recoverInto(&err, f.owner, f.name)
	return f.fn.Call(in), nil
}

// Call resolves the overload matching args among cands and invokes it.
// A trailing error result is returned as err and stripped from out.
func (b *Bridge) Call(cands []*Func, args []lua.LValue) ([]reflect.Value, error) {
	f, in, err := b.pick(cands, args)
	if err != nil {
		return nil, err
	}
	out, err := b.invoke(f, in)
	if err != nil {
		return nil, err
	}
	if len(out) > 0 && out[len(out)-1].Type() == errorType {
		if err := errorResult(out); err != nil {
			return nil, oops.In("bridge").With("type", f.owner).With("member", f.name).Wrap(err)
		}
		out = out[:len(out)-1]
	}
	return out, nil
}

// callable wraps cands as a Lua function. Errors raised by the host, and
// argument mismatches, surface as Lua errors in the calling script.
func (b *Bridge) callable(L *lua.LState, cands []*Func) *lua.LFunction {
	return L.NewFunction(func(L *lua.LState) int {
		args := make([]lua.LValue, L.GetTop())
		for i := range args {
			args[i] = L.Get(i + 1)
		}
		out, err := b.Call(cands, args)
		if err != nil {
			Failures.WithLabelValues("invoke").Inc()
			L.RaiseError("%s", err.Error())
			return 0
		}
		for _, v := range out {
			L.Push(b.toLua(L, v))
		}
		return len(out)
	})
}
