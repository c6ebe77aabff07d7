// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

package bridge

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
)

// Metatable names for host values travelling through Lua.
const (
	valueTypeName  = "cinder.value"
	typeTypeName   = "cinder.type"
	memberTypeName = "cinder.member"
)

var (
	lvalueType  = reflect.TypeOf((*lua.LValue)(nil)).Elem()
	rtypeType   = reflect.TypeOf((*reflect.Type)(nil)).Elem()
	emptyIfType = reflect.TypeOf((*any)(nil)).Elem()
)

func conversionError(from string, to reflect.Type) error {
	return oops.In("bridge").Code("CONVERSION_FAILED").
		With("from", from).With("to", to.String()).
		Errorf("cannot convert %s to %s", from, to)
}

func nillable(k reflect.Kind) bool {
	switch k {
	case reflect.Pointer, reflect.Interface, reflect.Slice, reflect.Map, reflect.Func, reflect.Chan:
		return true
	default:
		return false
	}
}

func isNumeric(k reflect.Kind) bool {
	return isInt(k) || isUint(k) || k == reflect.Float32 || k == reflect.Float64
}

func isInt(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Int64
}

func isUint(k reflect.Kind) bool {
	return k >= reflect.Uint && k <= reflect.Uintptr
}

// convertValue coerces v to target, widening or narrowing numbers, parsing
// and formatting strings, and copying values behind pointers as needed.
func convertValue(v reflect.Value, target reflect.Type) (reflect.Value, error) {
	if !v.IsValid() {
		if nillable(target.Kind()) {
			return reflect.Zero(target), nil
		}
		return reflect.Value{}, conversionError("nil", target)
	}
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return convertValue(reflect.Value{}, target)
		}
		v = v.Elem()
	}

	vt := v.Type()
	switch {
	case vt == target:
		return v, nil
	case target.Kind() == reflect.Interface && vt.Implements(target):
		out := reflect.New(target).Elem()
		out.Set(v)
		return out, nil
	case isNumeric(vt.Kind()) && isNumeric(target.Kind()):
		return v.Convert(target), nil
	case target.Kind() == reflect.String && isNumeric(vt.Kind()):
		return reflect.ValueOf(formatNumber(v)).Convert(target), nil
	case target.Kind() == reflect.String && vt.Kind() == reflect.Bool:
		return reflect.ValueOf(strconv.FormatBool(v.Bool())).Convert(target), nil
	case vt.Kind() == reflect.String && target.Kind() != reflect.String:
		return parseString(v.String(), target)
	case vt.Kind() == reflect.Bool && isNumeric(target.Kind()):
		n := 0
		if v.Bool() {
			n = 1
		}
		return reflect.ValueOf(n).Convert(target), nil
	case target.Kind() == reflect.Bool && isNumeric(vt.Kind()):
		return reflect.ValueOf(!v.IsZero()).Convert(target), nil
	case vt.Kind() == reflect.Pointer && !v.IsNil() && vt.Elem() == target:
		return v.Elem(), nil
	case target.Kind() == reflect.Pointer && target.Elem() == vt:
		p := reflect.New(vt)
		p.Elem().Set(v)
		return p, nil
	case vt.Kind() == target.Kind() && vt.ConvertibleTo(target):
		return v.Convert(target), nil
	}
	return reflect.Value{}, conversionError(vt.String(), target)
}

func formatNumber(v reflect.Value) string {
	switch k := v.Kind(); {
	case isInt(k):
		return strconv.FormatInt(v.Int(), 10)
	case isUint(k):
		return strconv.FormatUint(v.Uint(), 10)
	default:
		return strconv.FormatFloat(v.Float(), 'g', -1, 64)
	}
}

func parseString(s string, target reflect.Type) (reflect.Value, error) {
	k := target.Kind()
	var (
		out reflect.Value
		err error
	)
	switch {
	case isInt(k):
		var n int64
		n, err = strconv.ParseInt(s, 10, target.Bits())
		out = reflect.ValueOf(n)
	case isUint(k):
		var n uint64
		n, err = strconv.ParseUint(s, 10, target.Bits())
		out = reflect.ValueOf(n)
	case k == reflect.Float32 || k == reflect.Float64:
		var f float64
		f, err = strconv.ParseFloat(s, target.Bits())
		out = reflect.ValueOf(f)
	case k == reflect.Bool:
		var b bool
		b, err = strconv.ParseBool(s)
		out = reflect.ValueOf(b)
	case k == reflect.Slice && target.Elem().Kind() == reflect.Uint8:
		return reflect.ValueOf([]byte(s)).Convert(target), nil
	default:
		return reflect.Value{}, conversionError("string", target)
	}
	if err != nil {
		return reflect.Value{}, oops.In("bridge").Code("CONVERSION_FAILED").
			With("to", target.String()).Wrapf(err, "parse %q", s)
	}
	return out.Convert(target), nil
}

// fromLua converts a Lua value to a Go value of type target.
func (b *Bridge) fromLua(lv lua.LValue, target reflect.Type) (reflect.Value, error) {
	if target.Kind() == reflect.Interface && target.Implements(lvalueType) {
		if reflect.TypeOf(lv).Implements(target) {
			out := reflect.New(target).Elem()
			out.Set(reflect.ValueOf(lv))
			return out, nil
		}
	}
	if rt := reflect.TypeOf(lv); rt.AssignableTo(target) && target != emptyIfType {
		return reflect.ValueOf(lv), nil
	}

	switch v := lv.(type) {
	case *lua.LNilType:
		return convertValue(reflect.Value{}, target)
	case lua.LBool:
		return convertValue(reflect.ValueOf(bool(v)), target)
	case lua.LNumber:
		return convertValue(reflect.ValueOf(float64(v)), target)
	case lua.LString:
		return convertValue(reflect.ValueOf(string(v)), target)
	case *lua.LUserData:
		if t, ok := v.Value.(*Type); ok {
			if target == rtypeType || target == emptyIfType {
				if t.rtype == nil {
					return reflect.Value{}, oops.In("bridge").Code("TYPE_MISMATCH").
						With("type", t.name).Errorf("generic definition %s has no concrete type", t.name)
				}
				return reflect.ValueOf(&t.rtype).Elem(), nil
			}
		}
		return convertValue(reflect.ValueOf(v.Value), target)
	case *lua.LTable:
		return b.tableToGo(v, target)
	case *lua.LFunction:
		if target == emptyIfType {
			return reflect.ValueOf(lv), nil
		}
	}
	return reflect.Value{}, conversionError(lv.Type().String(), target)
}

func (b *Bridge) tableToGo(tbl *lua.LTable, target reflect.Type) (reflect.Value, error) {
	switch target.Kind() {
	case reflect.Slice:
		n := tbl.Len()
		out := reflect.MakeSlice(target, n, n)
		for i := 1; i <= n; i++ {
			ev, err := b.fromLua(tbl.RawGetInt(i), target.Elem())
			if err != nil {
				return reflect.Value{}, oops.In("bridge").With("index", i).Wrap(err)
			}
			out.Index(i - 1).Set(ev)
		}
		return out, nil
	case reflect.Array:
		out := reflect.New(target).Elem()
		for i := 0; i < target.Len(); i++ {
			ev, err := b.fromLua(tbl.RawGetInt(i+1), target.Elem())
			if err != nil {
				return reflect.Value{}, oops.In("bridge").With("index", i+1).Wrap(err)
			}
			out.Index(i).Set(ev)
		}
		return out, nil
	case reflect.Map:
		out := reflect.MakeMap(target)
		var convErr error
		tbl.ForEach(func(k, v lua.LValue) {
			if convErr != nil {
				return
			}
			kv, err := b.fromLua(k, target.Key())
			if err != nil {
				convErr = err
				return
			}
			vv, err := b.fromLua(v, target.Elem())
			if err != nil {
				convErr = err
				return
			}
			out.SetMapIndex(kv, vv)
		})
		if convErr != nil {
			return reflect.Value{}, convErr
		}
		return out, nil
	case reflect.Struct:
		out := reflect.New(target).Elem()
		var convErr error
		tbl.ForEach(func(k, v lua.LValue) {
			name, ok := k.(lua.LString)
			if !ok || convErr != nil {
				return
			}
			sf, ok := target.FieldByName(string(name))
			if !ok || !sf.IsExported() {
				return
			}
			fv, err := b.fromLua(v, sf.Type)
			if err != nil {
				convErr = oops.In("bridge").With("field", string(name)).Wrap(err)
				return
			}
			out.FieldByIndex(sf.Index).Set(fv)
		})
		if convErr != nil {
			return reflect.Value{}, convErr
		}
		return out, nil
	case reflect.Pointer:
		ev, err := b.tableToGo(tbl, target.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		p := reflect.New(target.Elem())
		p.Elem().Set(ev)
		return p, nil
	case reflect.Interface:
		if target == emptyIfType {
			return reflect.ValueOf(b.ToGo(tbl)), nil
		}
	}
	return reflect.Value{}, conversionError("table", target)
}

// ToGo converts a Lua value to its natural Go representation: tables with
// a sequence part become []any, other tables map[string]any.
func (b *Bridge) ToGo(lv lua.LValue) any {
	switch v := lv.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		return float64(v)
	case lua.LString:
		return string(v)
	case *lua.LUserData:
		if t, ok := v.Value.(*Type); ok && t.rtype != nil {
			return t.rtype
		}
		return v.Value
	case *lua.LTable:
		if n := v.Len(); n > 0 {
			out := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				out = append(out, b.ToGo(v.RawGetInt(i)))
			}
			return out
		}
		out := make(map[string]any)
		v.ForEach(func(k, val lua.LValue) {
			out[k.String()] = b.ToGo(val)
		})
		return out
	default:
		return lv
	}
}

// ToLua converts a Go value for scripts. Scalars become Lua scalars,
// reflect.Type values become type handles and anything else is wrapped as
// an opaque host value.
func (b *Bridge) ToLua(L *lua.LState, x any) lua.LValue {
	return b.toLua(L, reflect.ValueOf(x))
}

func (b *Bridge) toLua(L *lua.LState, v reflect.Value) lua.LValue {
	if !v.IsValid() {
		return lua.LNil
	}
	if nillable(v.Kind()) && v.IsNil() {
		return lua.LNil
	}
	if v.Type().Implements(lvalueType) {
		lv, _ := v.Interface().(lua.LValue)
		return lv
	}
	if v.Type().Implements(rtypeType) {
		rt, _ := v.Interface().(reflect.Type)
		return b.typeUserData(L, b.reg.TypeOf(rt))
	}

	switch k := v.Kind(); {
	case k == reflect.Interface:
		return b.toLua(L, v.Elem())
	case k == reflect.Bool:
		return lua.LBool(v.Bool())
	case isInt(k):
		return lua.LNumber(v.Int())
	case isUint(k):
		return lua.LNumber(v.Uint())
	case k == reflect.Float32 || k == reflect.Float64:
		return lua.LNumber(v.Float())
	case k == reflect.String:
		return lua.LString(v.String())
	}

	ud := L.NewUserData()
	ud.Value = v.Interface()
	L.SetMetatable(ud, L.GetTypeMetatable(valueTypeName))
	return ud
}

func (b *Bridge) typeUserData(L *lua.LState, t *Type) *lua.LUserData {
	ud := L.NewUserData()
	ud.Value = t
	L.SetMetatable(ud, L.GetTypeMetatable(typeTypeName))
	return ud
}

func (b *Bridge) memberUserData(L *lua.LState, m *Member) *lua.LUserData {
	ud := L.NewUserData()
	ud.Value = m
	L.SetMetatable(ud, L.GetTypeMetatable(memberTypeName))
	return ud
}

func describe(lv lua.LValue) string {
	if ud, ok := lv.(*lua.LUserData); ok {
		return fmt.Sprintf("userdata<%T>", ud.Value)
	}
	return lv.Type().String()
}
