// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

package bridge

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
)

// Register installs the reflection functions into mod (the script-visible
// "host" table) and the metatables for host values into L.
func (b *Bridge) Register(L *lua.LState, mod *lua.LTable) {
	b.registerMetatables(L)
	L.SetFuncs(mod, map[string]lua.LGFunction{
		"get_type":                b.luaGetType,
		"make_generic_type":       b.luaMakeGenericType,
		"new":                     b.luaNew,
		"new_array":               b.luaNewArray,
		"request_static":          b.luaRequestStatic,
		"request_method":          b.luaRequestMethod,
		"request_static_property": b.luaRequestMember("request_static_property", b.ResolveStaticProperty),
		"request_property":        b.luaRequestMember("request_property", b.ResolveProperty),
		"request_static_field":    b.luaRequestMember("request_static_field", b.ResolveStaticField),
		"request_field":           b.luaRequestMember("request_field", b.ResolveField),
		"request_enum":            b.luaRequestEnum,
		"read_property":           b.luaRead("read_property", KindProperty),
		"read_field":              b.luaRead("read_field", KindField),
		"write_property":          b.luaWrite("write_property", KindProperty),
		"write_field":             b.luaWrite("write_field", KindField),
		"cast_read_property":      b.luaCastRead("cast_read_property", KindProperty),
		"cast_read_field":         b.luaCastRead("cast_read_field", KindField),
		"read_ulong_as_uint":      b.luaReadULongAsUInt,
		"read_ulong_as_string":    b.luaReadULongAsString,
		"array_from_table":        b.luaArrayFromTable,
		"table_from_array":        b.luaTableFromArray,
		"convert_and_set":         b.luaConvertAndSet,
		"read_field_into":         b.luaReadInto("read_field_into", KindField),
		"read_property_into":      b.luaReadInto("read_property_into", KindProperty),
	})
}

func (b *Bridge) registerMetatables(L *lua.LState) {
	value := L.NewTypeMetatable(valueTypeName)
	L.SetField(value, "__tostring", L.NewFunction(func(L *lua.LState) int {
		ud := L.CheckUserData(1)
		L.Push(lua.LString(fmt.Sprint(ud.Value)))
		return 1
	}))
	L.SetField(value, "__len", L.NewFunction(func(L *lua.LState) int {
		v := reflect.Indirect(reflect.ValueOf(L.CheckUserData(1).Value))
		switch v.Kind() {
		case reflect.Slice, reflect.Array, reflect.Map, reflect.String, reflect.Chan:
			L.Push(lua.LNumber(v.Len()))
		default:
			L.Push(lua.LNumber(0))
		}
		return 1
	}))

	typ := L.NewTypeMetatable(typeTypeName)
	L.SetField(typ, "__tostring", L.NewFunction(func(L *lua.LState) int {
		t, _ := L.CheckUserData(1).Value.(*Type)
		L.Push(lua.LString(t.String()))
		return 1
	}))
	L.SetField(typ, "__eq", L.NewFunction(func(L *lua.LState) int {
		a, _ := L.CheckUserData(1).Value.(*Type)
		c, _ := L.CheckUserData(2).Value.(*Type)
		L.Push(lua.LBool(a != nil && c != nil && a.name == c.name))
		return 1
	}))

	member := L.NewTypeMetatable(memberTypeName)
	L.SetField(member, "__tostring", L.NewFunction(func(L *lua.LState) int {
		m, _ := L.CheckUserData(1).Value.(*Member)
		L.Push(lua.LString(m.String()))
		return 1
	}))
}

func argError(op string, n int, want string, got lua.LValue) error {
	return oops.In("bridge").Code("TYPE_MISMATCH").
		With("operation", op).With("argument", n).
		Errorf("argument %d: expected %s, got %s", n, want, describe(got))
}

func (b *Bridge) typeArg(L *lua.LState, n int, op string) *Type {
	lv := L.Get(n)
	if ud, ok := lv.(*lua.LUserData); ok {
		if t, ok := ud.Value.(*Type); ok {
			return t
		}
	}
	b.fail(L, op, argError(op, n, "type", lv))
	return nil
}

func (b *Bridge) memberArg(L *lua.LState, n int, op string) *Member {
	lv := L.Get(n)
	if ud, ok := lv.(*lua.LUserData); ok {
		if m, ok := ud.Value.(*Member); ok {
			return m
		}
	}
	b.fail(L, op, argError(op, n, "member", lv))
	return nil
}

// hostValue returns the Go value behind lv. Absent arguments are invalid
// values, which static members ignore.
func (b *Bridge) hostValue(lv lua.LValue) reflect.Value {
	switch v := lv.(type) {
	case *lua.LNilType:
		return reflect.Value{}
	case *lua.LUserData:
		if t, ok := v.Value.(*Type); ok && t.rtype != nil {
			return reflect.ValueOf(&t.rtype).Elem()
		}
		return reflect.ValueOf(v.Value)
	default:
		return reflect.ValueOf(b.ToGo(lv))
	}
}

func (b *Bridge) varargs(L *lua.LState, from int) []lua.LValue {
	top := L.GetTop()
	if top < from {
		return nil
	}
	args := make([]lua.LValue, 0, top-from+1)
	for i := from; i <= top; i++ {
		args = append(args, L.Get(i))
	}
	return args
}

// bindPath stores v at a dotted global path, creating intermediate tables.
// An empty path binds nothing.
func bindPath(L *lua.LState, path string, v lua.LValue) error {
	if path == "" {
		return nil
	}
	parts := strings.Split(path, ".")
	tbl := L.G.Global
	for i, part := range parts[:len(parts)-1] {
		next := tbl.RawGetString(part)
		switch nt := next.(type) {
		case *lua.LTable:
			tbl = nt
		case *lua.LNilType:
			created := L.NewTable()
			tbl.RawSetString(part, created)
			tbl = created
		default:
			return oops.In("bridge").Code("INVALID_PATH").
				With("path", path).
				Errorf("%s is a %s, not a table", strings.Join(parts[:i+1], "."), next.Type())
		}
	}
	tbl.RawSetString(parts[len(parts)-1], v)
	return nil
}

// host.get_type(name) -> type | nil
func (b *Bridge) luaGetType(L *lua.LState) int {
	name := L.CheckString(1)
	t, err := b.ResolveTypeByName(name)
	if err != nil {
		b.fail(L, "get_type", err, "type", name)
		L.Push(lua.LNil)
		return 1
	}
	L.Push(b.typeUserData(L, t))
	return 1
}

// host.make_generic_type(def, {args...}) -> type | nil
func (b *Bridge) luaMakeGenericType(L *lua.LState) int {
	def := b.typeArg(L, 1, "make_generic_type")
	tbl := L.OptTable(2, L.NewTable())
	if def == nil {
		L.Push(lua.LNil)
		return 1
	}

	args := make([]*Type, 0, tbl.Len())
	for i := 1; i <= tbl.Len(); i++ {
		ud, ok := tbl.RawGetInt(i).(*lua.LUserData)
		if !ok {
			b.fail(L, "make_generic_type", argError("make_generic_type", i, "type", tbl.RawGetInt(i)), "type", def.name)
			L.Push(lua.LNil)
			return 1
		}
		t, ok := ud.Value.(*Type)
		if !ok {
			b.fail(L, "make_generic_type", argError("make_generic_type", i, "type", ud), "type", def.name)
			L.Push(lua.LNil)
			return 1
		}
		args = append(args, t)
	}

	t, err := b.MakeGenericType(def, args)
	if err != nil {
		b.fail(L, "make_generic_type", err, "type", def.name)
		L.Push(lua.LNil)
		return 1
	}
	L.Push(b.typeUserData(L, t))
	return 1
}

// host.new(type, ...) -> value | nil
func (b *Bridge) luaNew(L *lua.LState) int {
	t := b.typeArg(L, 1, "new")
	if t == nil {
		L.Push(lua.LNil)
		return 1
	}
	v, err := b.Instantiate(t, b.varargs(L, 2))
	if err != nil {
		b.fail(L, "new", err, "type", t.name)
		L.Push(lua.LNil)
		return 1
	}
	L.Push(b.toLua(L, v))
	return 1
}

// host.new_array(type, n) -> value | nil
func (b *Bridge) luaNewArray(L *lua.LState) int {
	t := b.typeArg(L, 1, "new_array")
	n := L.OptInt(2, 0)
	if t == nil {
		L.Push(lua.LNil)
		return 1
	}
	v, err := b.NewArray(t, n)
	if err != nil {
		b.fail(L, "new_array", err, "type", t.name)
		L.Push(lua.LNil)
		return 1
	}
	L.Push(b.toLua(L, v))
	return 1
}

// host.request_static(path, type, name) -> candidate count
func (b *Bridge) luaRequestStatic(L *lua.LState) int {
	path := L.CheckString(1)
	t := b.typeArg(L, 2, "request_static")
	name := L.CheckString(3)
	if t == nil {
		L.Push(lua.LNumber(0))
		return 1
	}

	cands, err := b.ResolveStatic(t, name)
	if err == nil {
		err = bindPath(L, path, b.callable(L, cands))
	}
	if err != nil {
		b.fail(L, "request_static", err, "path", path, "type", t.name, "member", name)
		L.Push(lua.LNumber(0))
		return 1
	}
	L.Push(lua.LNumber(len(cands)))
	return 1
}

// host.request_method(path, type, name) -> function | nil
func (b *Bridge) luaRequestMethod(L *lua.LState) int {
	path := L.CheckString(1)
	t := b.typeArg(L, 2, "request_method")
	name := L.CheckString(3)
	if t == nil {
		L.Push(lua.LNil)
		return 1
	}

	f, err := b.ResolveMethod(t, name)
	var fn *lua.LFunction
	if err == nil {
		fn = b.callable(L, []*Func{f})
		err = bindPath(L, path, fn)
	}
	if err != nil {
		b.fail(L, "request_method", err, "path", path, "type", t.name, "member", name)
		L.Push(lua.LNil)
		return 1
	}
	L.Push(fn)
	return 1
}

// luaRequestMember builds host.request_{static_,}{property,field}(path, type, name) -> member | nil.
func (b *Bridge) luaRequestMember(op string, resolve func(*Type, string) (*Member, error)) lua.LGFunction {
	return func(L *lua.LState) int {
		path := L.CheckString(1)
		t := b.typeArg(L, 2, op)
		name := L.CheckString(3)
		if t == nil {
			L.Push(lua.LNil)
			return 1
		}

		m, err := resolve(t, name)
		var ud *lua.LUserData
		if err == nil {
			ud = b.memberUserData(L, m)
			err = bindPath(L, path, ud)
		}
		if err != nil {
			b.fail(L, op, err, "path", path, "type", t.name, "member", name)
			L.Push(lua.LNil)
			return 1
		}
		L.Push(ud)
		return 1
	}
}

// host.request_enum(path, type) -> table | nil
func (b *Bridge) luaRequestEnum(L *lua.LState) int {
	path := L.CheckString(1)
	t := b.typeArg(L, 2, "request_enum")
	if t == nil {
		L.Push(lua.LNil)
		return 1
	}

	members, err := b.ResolveEnum(t)
	tbl := L.NewTable()
	if err == nil {
		for _, em := range members {
			tbl.RawSetString(em.Name, b.toLua(L, em.Value))
		}
		err = bindPath(L, path, tbl)
	}
	if err != nil {
		b.fail(L, "request_enum", err, "path", path, "type", t.name)
		L.Push(lua.LNil)
		return 1
	}
	L.Push(tbl)
	return 1
}

func (b *Bridge) kindMember(L *lua.LState, n int, op string, kind MemberKind) *Member {
	m := b.memberArg(L, n, op)
	if m != nil && m.kind != kind {
		b.fail(L, op, m.errorf("TYPE_MISMATCH", "%s is not a %s", m, kind))
		return nil
	}
	return m
}

// luaRead builds host.read_{property,field}(member, [obj]) -> value | nil.
func (b *Bridge) luaRead(op string, kind MemberKind) lua.LGFunction {
	return func(L *lua.LState) int {
		m := b.kindMember(L, 1, op, kind)
		if m == nil {
			L.Push(lua.LNil)
			return 1
		}
		v, err := m.Get(b.hostValue(L.Get(2)))
		if err != nil {
			b.fail(L, op, err)
			L.Push(lua.LNil)
			return 1
		}
		L.Push(b.toLua(L, v))
		return 1
	}
}

// luaWrite builds host.write_{property,field}(member, value, [obj]) -> bool.
func (b *Bridge) luaWrite(op string, kind MemberKind) lua.LGFunction {
	return func(L *lua.LState) int {
		m := b.kindMember(L, 1, op, kind)
		if m == nil {
			L.Push(lua.LFalse)
			return 1
		}
		v, err := b.fromLua(L.Get(2), m.vtype)
		if err == nil {
			err = m.Set(b.hostValue(L.Get(3)), v)
		}
		if err != nil {
			b.fail(L, op, err)
			L.Push(lua.LFalse)
			return 1
		}
		L.Push(lua.LTrue)
		return 1
	}
}

// luaCastRead builds host.cast_read_{property,field}(member, type, [obj]) -> value | nil.
func (b *Bridge) luaCastRead(op string, kind MemberKind) lua.LGFunction {
	return func(L *lua.LState) int {
		m := b.kindMember(L, 1, op, kind)
		t := b.typeArg(L, 2, op)
		if m == nil || t == nil {
			L.Push(lua.LNil)
			return 1
		}
		if t.rtype == nil {
			b.fail(L, op, oops.In("bridge").Code("TYPE_MISMATCH").With("type", t.name).
				Errorf("cannot cast to generic definition %s", t.name))
			L.Push(lua.LNil)
			return 1
		}
		v, err := m.CastRead(b.hostValue(L.Get(3)), t.rtype)
		if err != nil {
			b.fail(L, op, err)
			L.Push(lua.LNil)
			return 1
		}
		L.Push(b.toLua(L, v))
		return 1
	}
}

// host.read_ulong_as_uint(member, [obj]) -> number (0 on failure)
func (b *Bridge) luaReadULongAsUInt(L *lua.LState) int {
	m := b.memberArg(L, 1, "read_ulong_as_uint")
	if m == nil {
		L.Push(lua.LNumber(0))
		return 1
	}
	u, err := m.ReadAsUInt(b.hostValue(L.Get(2)))
	if err != nil {
		b.fail(L, "read_ulong_as_uint", err)
	}
	L.Push(lua.LNumber(u))
	return 1
}

// host.read_ulong_as_string(member, [obj]) -> string ("" on failure)
func (b *Bridge) luaReadULongAsString(L *lua.LState) int {
	m := b.memberArg(L, 1, "read_ulong_as_string")
	if m == nil {
		L.Push(lua.LString(""))
		return 1
	}
	s, err := m.ReadAsDecimalString(b.hostValue(L.Get(2)))
	if err != nil {
		b.fail(L, "read_ulong_as_string", err)
	}
	L.Push(lua.LString(s))
	return 1
}

// host.array_from_table(type, tbl, [count]) -> value | nil
func (b *Bridge) luaArrayFromTable(L *lua.LState) int {
	t := b.typeArg(L, 1, "array_from_table")
	tbl := L.CheckTable(2)
	count := L.OptInt(3, tbl.Len())
	if t == nil {
		L.Push(lua.LNil)
		return 1
	}
	arr, err := b.ArrayFromSequence(t, tbl, count)
	if err != nil {
		b.fail(L, "array_from_table", err, "type", t.name)
		L.Push(lua.LNil)
		return 1
	}
	L.Push(b.toLua(L, arr))
	return 1
}

// host.table_from_array(arr) -> table | nil
func (b *Bridge) luaTableFromArray(L *lua.LState) int {
	tbl, err := b.SequenceFromArray(L, b.hostValue(L.Get(1)))
	if err != nil {
		b.fail(L, "table_from_array", err)
		L.Push(lua.LNil)
		return 1
	}
	L.Push(tbl)
	return 1
}

// host.convert_and_set(arr, index, value, [type]) -> bool
func (b *Bridge) luaConvertAndSet(L *lua.LState) int {
	arr := b.hostValue(L.Get(1))
	index := L.CheckInt(2)
	var target *Type
	if L.GetTop() >= 4 && L.Get(4) != lua.LNil {
		if target = b.typeArg(L, 4, "convert_and_set"); target == nil {
			L.Push(lua.LFalse)
			return 1
		}
	}
	if err := b.ConvertAndSetOnArray(arr, index, L.Get(3), target); err != nil {
		b.fail(L, "convert_and_set", err, "index", index)
		L.Push(lua.LFalse)
		return 1
	}
	L.Push(lua.LTrue)
	return 1
}

// luaReadInto builds host.read_{field,property}_into(arr, index, member, obj) -> bool.
func (b *Bridge) luaReadInto(op string, kind MemberKind) lua.LGFunction {
	return func(L *lua.LState) int {
		arr := b.hostValue(L.Get(1))
		index := L.CheckInt(2)
		m := b.memberArg(L, 3, op)
		if m == nil {
			L.Push(lua.LFalse)
			return 1
		}
		err := b.readIntoArray(kind, arr, index, m, b.hostValue(L.Get(4)))
		if err != nil {
			b.fail(L, op, err, "index", index)
			L.Push(lua.LFalse)
			return 1
		}
		L.Push(lua.LTrue)
		return 1
	}
}
