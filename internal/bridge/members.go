// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

package bridge

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/samber/oops"
)

// MemberKind distinguishes readable/writable members.
type MemberKind int

// Member kinds.
const (
	KindProperty MemberKind = iota + 1
	KindField
)

func (k MemberKind) String() string {
	switch k {
	case KindProperty:
		return "property"
	case KindField:
		return "field"
	default:
		return "unknown"
	}
}

// Member is a resolved property or field handle.
type Member struct {
	kind   MemberKind
	name   string
	owner  string
	static bool
	vtype  reflect.Type
	get    func(obj reflect.Value) (reflect.Value, error)
	set    func(obj, v reflect.Value) error
}

// Name returns the member name.
func (m *Member) Name() string { return m.name }

// Kind returns whether m is a property or a field.
func (m *Member) Kind() MemberKind { return m.kind }

// Static reports whether m ignores its receiver.
func (m *Member) Static() bool { return m.static }

// ValueType returns the declared type of the member.
func (m *Member) ValueType() reflect.Type { return m.vtype }

func (m *Member) String() string {
	return fmt.Sprintf("%s %s.%s", m.kind, m.owner, m.name)
}

func (m *Member) errorf(code, format string, args ...any) error {
	return oops.In("bridge").Code(code).
		With("type", m.owner).
		With("member", m.name).
		Errorf(format, args...)
}

// Get reads the member from obj (ignored for static members).
func (m *Member) Get(obj reflect.Value) (v reflect.Value, err error) {
	if !m.static && !obj.IsValid() {
		return reflect.Value{}, m.errorf("INSTANCE_REQUIRED", "%s needs an instance", m)
	}
	defer recoverInto(&err, m.owner, m.name)
	return m.get(obj)
}

// Set writes v, converted to the declared type, into obj.
func (m *Member) Set(obj, v reflect.Value) (err error) {
	if m.set == nil {
		return m.errorf("READ_ONLY", "%s is read-only", m)
	}
	if !m.static && !obj.IsValid() {
		return m.errorf("INSTANCE_REQUIRED", "%s needs an instance", m)
	}
	cv, err := convertValue(v, m.vtype)
	if err != nil {
		return oops.In("bridge").With("member", m.name).Wrap(err)
	}
	defer recoverInto(&err, m.owner, m.name)
	return m.set(obj, cv)
}

// CastRead reads the member and converts the value to target.
func (m *Member) CastRead(obj reflect.Value, target reflect.Type) (reflect.Value, error) {
	v, err := m.Get(obj)
	if err != nil {
		return reflect.Value{}, err
	}
	return convertValue(v, target)
}

func (m *Member) readUint64(obj reflect.Value) (uint64, error) {
	if m.vtype.Kind() != reflect.Uint64 {
		return 0, m.errorf("TYPE_MISMATCH", "%s has type %s, not uint64", m, m.vtype)
	}
	v, err := m.Get(obj)
	if err != nil {
		return 0, err
	}
	return v.Uint(), nil
}

// ReadAsUInt returns the low 32 bits of a uint64 member. Members of any
// other type yield 0 and a TYPE_MISMATCH error.
func (m *Member) ReadAsUInt(obj reflect.Value) (uint32, error) {
	u, err := m.readUint64(obj)
	if err != nil {
		return 0, err
	}
	return uint32(u & 0xFFFFFFFF), nil
}

// ReadAsDecimalString renders a uint64 member losslessly in base 10.
// Members of any other type yield "" and a TYPE_MISMATCH error.
func (m *Member) ReadAsDecimalString(obj reflect.Value) (string, error) {
	u, err := m.readUint64(obj)
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(u, 10), nil
}

func newStaticProperty(t *Type, name string, getter, setter any) (*Member, error) {
	g := reflect.ValueOf(getter)
	if g.Kind() != reflect.Func || g.Type().NumIn() != 0 || !validGetterOuts(g.Type()) {
		return nil, oops.In("bridge").Code("INVALID_REGISTRATION").
			With("type", t.name).With("member", name).
			Errorf("property getter must be func() T or func() (T, error), got %T", getter)
	}
	m := &Member{
		kind:   KindProperty,
		name:   name,
		owner:  t.name,
		static: true,
		vtype:  g.Type().Out(0),
		get: func(reflect.Value) (reflect.Value, error) {
			return callGetter(g)
		},
	}
	if setter != nil {
		s := reflect.ValueOf(setter)
		if s.Kind() != reflect.Func || s.Type().NumIn() != 1 || s.Type().In(0) != m.vtype {
			return nil, oops.In("bridge").Code("INVALID_REGISTRATION").
				With("type", t.name).With("member", name).
				Errorf("property setter must be func(%s), got %T", m.vtype, setter)
		}
		m.set = func(_, v reflect.Value) error {
			return errorResult(s.Call([]reflect.Value{v}))
		}
	}
	return m, nil
}

func newStaticField(t *Type, name string, elem reflect.Value) *Member {
	return &Member{
		kind:   KindField,
		name:   name,
		owner:  t.name,
		static: true,
		vtype:  elem.Type(),
		get: func(reflect.Value) (reflect.Value, error) {
			return elem, nil
		},
		set: func(_, v reflect.Value) error {
			elem.Set(v)
			return nil
		},
	}
}

// ResolveStatic gathers the static callables named name on t.
//
// A single candidate is returned as-is. With several candidates, generic
// ones and ones declaring by-reference parameters are filtered out; the
// survivors are returned and the caller binds them as an overload set when
// more than one remains.
func (b *Bridge) ResolveStatic(t *Type, name string) ([]*Func, error) {
	candidates := t.statics[name]
	switch len(candidates) {
	case 0:
		return nil, oops.In("bridge").Code("MEMBER_NOT_FOUND").
			With("type", t.name).With("member", name).
			Errorf("failed to locate static method %s on type %s", name, t.name)
	case 1:
		return candidates, nil
	}

	filtered := make([]*Func, 0, len(candidates))
	for _, c := range candidates {
		if c.usable() {
			filtered = append(filtered, c)
		}
	}
	if len(filtered) == 0 {
		return nil, oops.In("bridge").Code("MEMBER_NOT_FOUND").
			With("type", t.name).With("member", name).With("candidates", len(candidates)).
			Errorf("no usable overload of static method %s on type %s", name, t.name)
	}
	return filtered, nil
}

// ResolveMethod binds the instance method name of t as a function taking
// the receiver as its first argument.
func (b *Bridge) ResolveMethod(t *Type, name string) (*Func, error) {
	if t.rtype == nil {
		return nil, notFound(t, "instance method", name)
	}
	meth, ok := lookupMethod(t.rtype, name)
	if !ok {
		return nil, notFound(t, "instance method", name)
	}

	recvType := t.rtype
	if recvType.Kind() != reflect.Interface && recvType.Kind() != reflect.Pointer {
		recvType = reflect.PointerTo(recvType)
	}
	ins := []reflect.Type{recvType}
	for i := meth.firstArg; i < meth.typ.NumIn(); i++ {
		ins = append(ins, meth.typ.In(i))
	}
	outs := make([]reflect.Type, meth.typ.NumOut())
	for i := range outs {
		outs[i] = meth.typ.Out(i)
	}
	variadic := meth.typ.IsVariadic()
	ft := reflect.FuncOf(ins, outs, variadic)
	fn := reflect.MakeFunc(ft, func(args []reflect.Value) []reflect.Value {
		recv := receiver(args[0], t.rtype).MethodByName(name)
		if variadic {
			return recv.CallSlice(args[1:])
		}
		return recv.Call(args[1:])
	})
	return &Func{name: name, owner: t.name, fn: fn}, nil
}

// ResolveStaticProperty returns the registered static property name of t.
func (b *Bridge) ResolveStaticProperty(t *Type, name string) (*Member, error) {
	if m, ok := t.props[name]; ok {
		return m, nil
	}
	return nil, notFound(t, "static property", name)
}

// ResolveProperty returns the instance property name of t: a getter method
// Name() with an optional SetName(v) setter.
func (b *Bridge) ResolveProperty(t *Type, name string) (*Member, error) {
	if t.rtype == nil {
		return nil, notFound(t, "instance property", name)
	}
	getter, ok := lookupMethod(t.rtype, name)
	if !ok || getter.typ.NumIn() != getter.firstArg || !validGetterOuts(getter.typ) {
		return nil, notFound(t, "instance property", name)
	}

	rt := t.rtype
	m := &Member{
		kind:  KindProperty,
		name:  name,
		owner: t.name,
		vtype: getter.typ.Out(0),
		get: func(obj reflect.Value) (reflect.Value, error) {
			return callGetter(receiver(obj, rt).MethodByName(name))
		},
	}
	setName := "Set" + name
	if setter, ok := lookupMethod(rt, setName); ok &&
		setter.typ.NumIn() == setter.firstArg+1 && setter.typ.In(setter.firstArg) == m.vtype {
		m.set = func(obj, v reflect.Value) error {
			return errorResult(receiver(obj, rt).MethodByName(setName).Call([]reflect.Value{v}))
		}
	}
	return m, nil
}

// ResolveStaticField returns the registered static field name of t.
func (b *Bridge) ResolveStaticField(t *Type, name string) (*Member, error) {
	if m, ok := t.fields[name]; ok {
		return m, nil
	}
	return nil, notFound(t, "static field", name)
}

// ResolveField returns the exported struct field name of t.
func (b *Bridge) ResolveField(t *Type, name string) (*Member, error) {
	if t.rtype == nil || t.rtype.Kind() != reflect.Struct {
		return nil, notFound(t, "instance field", name)
	}
	sf, ok := t.rtype.FieldByName(name)
	if !ok || !sf.IsExported() {
		return nil, notFound(t, "instance field", name)
	}

	rt := t.rtype
	index := sf.Index
	return &Member{
		kind:  KindField,
		name:  name,
		owner: t.name,
		vtype: sf.Type,
		get: func(obj reflect.Value) (reflect.Value, error) {
			v := reflect.Indirect(obj)
			if v.Type() != rt {
				return reflect.Value{}, mismatch(rt, v.Type())
			}
			return v.FieldByIndex(index), nil
		},
		set: func(obj, v reflect.Value) error {
			if obj.Kind() != reflect.Pointer || obj.Type().Elem() != rt {
				return oops.In("bridge").Code("TYPE_MISMATCH").
					With("type", FullName(rt)).With("member", name).
					Errorf("writing field %s needs a *%s, got %s", name, rt, obj.Type())
			}
			obj.Elem().FieldByIndex(index).Set(v)
			return nil
		},
	}, nil
}

// ResolveEnum returns the registered enum members of t.
func (b *Bridge) ResolveEnum(t *Type) ([]EnumMember, error) {
	if !t.IsEnum() {
		return nil, oops.In("bridge").Code("MEMBER_NOT_FOUND").
			With("type", t.name).
			Errorf("type %s has no registered enum values", t.name)
	}
	out := make([]EnumMember, len(t.enum))
	copy(out, t.enum)
	return out, nil
}

type methodInfo struct {
	typ      reflect.Type
	firstArg int
}

// lookupMethod finds name in the method set of *rt (or rt for interfaces).
// firstArg skips the receiver parameter of concrete method types.
func lookupMethod(rt reflect.Type, name string) (methodInfo, bool) {
	if rt.Kind() == reflect.Interface {
		m, ok := rt.MethodByName(name)
		return methodInfo{typ: m.Type}, ok
	}
	if rt.Kind() != reflect.Pointer {
		rt = reflect.PointerTo(rt)
	}
	m, ok := rt.MethodByName(name)
	return methodInfo{typ: m.Type, firstArg: 1}, ok
}

// receiver returns obj in a form whose method set includes pointer methods.
func receiver(obj reflect.Value, rt reflect.Type) reflect.Value {
	if obj.Kind() == reflect.Interface && !obj.IsNil() {
		obj = obj.Elem()
	}
	if obj.Type() == rt && rt.Kind() != reflect.Interface && rt.Kind() != reflect.Pointer && !obj.CanAddr() {
		p := reflect.New(rt)
		p.Elem().Set(obj)
		return p
	}
	if obj.CanAddr() && obj.Kind() != reflect.Pointer {
		return obj.Addr()
	}
	return obj
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

func validGetterOuts(ft reflect.Type) bool {
	switch ft.NumOut() {
	case 1:
		return true
	case 2:
		return ft.Out(1) == errorType
	default:
		return false
	}
}

func callGetter(fn reflect.Value) (reflect.Value, error) {
	out := fn.Call(nil)
	if err := errorResult(out); err != nil {
		return reflect.Value{}, err
	}
	return out[0], nil
}

// errorResult returns the trailing error of a call result, if any.
func errorResult(out []reflect.Value) error {
	if len(out) == 0 {
		return nil
	}
	last := out[len(out)-1]
	if last.Type() != errorType || last.IsNil() {
		return nil
	}
	err, _ := last.Interface().(error)
	return err
}

func notFound(t *Type, what, name string) error {
	return oops.In("bridge").Code("MEMBER_NOT_FOUND").
		With("type", t.name).With("member", name).
		Errorf("failed to locate %s %s on type %s", what, name, t.name)
}

func mismatch(want, got reflect.Type) error {
	return oops.In("bridge").Code("TYPE_MISMATCH").
		With("want", want.String()).With("got", got.String()).
		Errorf("expected %s, got %s", want, got)
}

// recoverInto turns a panic raised by host code into an error.
func recoverInto(err *error, owner, member string) {
	if r := recover(); r != nil {
		*err = oops.In("bridge").Code("HOST_PANIC").
			With("type", owner).With("member", member).
			Errorf("host code panicked: %v", r)
	}
}
