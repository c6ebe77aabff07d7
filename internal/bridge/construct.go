// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

package bridge

import (
	"reflect"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
)

// MakeGenericType instantiates the generic definition def with args.
func (b *Bridge) MakeGenericType(def *Type, args []*Type) (t *Type, err error) {
	if def == nil || !def.IsGenericDefinition() {
		return nil, oops.In("bridge").Code("CONSTRUCT_FAILED").
			With("type", def.String()).
			Errorf("%s is not a generic definition", def)
	}
	if len(args) != def.generic.arity {
		return nil, oops.In("bridge").Code("CONSTRUCT_FAILED").
			With("type", def.name).With("want", def.generic.arity).With("got", len(args)).
			Errorf("generic %s takes %d type arguments, got %d", def.name, def.generic.arity, len(args))
	}
	targs := make([]reflect.Type, len(args))
	for i, a := range args {
		if a == nil || a.rtype == nil {
			return nil, oops.In("bridge").Code("CONSTRUCT_FAILED").
				With("type", def.name).With("argument", i+1).
				Errorf("type argument %d of %s is not a concrete type", i+1, def.name)
		}
		targs[i] = a.rtype
	}

	defer recoverInto(&err, def.name, "instantiate")
	rt, err := def.generic.instantiate(targs)
	if err != nil {
		return nil, oops.In("bridge").Code("CONSTRUCT_FAILED").With("type", def.name).Wrap(err)
	}
	return b.reg.TypeOf(rt), nil
}

// Instantiate creates a value of t. With registered constructors the first
// overload accepting args is used. Without constructors only the zero value
// can be made: a pointer to a new value for structs, an empty slice or map
// otherwise.
func (b *Bridge) Instantiate(t *Type, args []lua.LValue) (reflect.Value, error) {
	if t == nil || t.rtype == nil {
		return reflect.Value{}, oops.In("bridge").Code("CONSTRUCT_FAILED").
			With("type", t.String()).
			Errorf("cannot instantiate %s", t)
	}
	if len(t.ctors) > 0 {
		out, err := b.Call(t.ctors, args)
		if err != nil {
			return reflect.Value{}, oops.In("bridge").Code("CONSTRUCT_FAILED").With("type", t.name).
				Errorf("construct %s: %v", t.name, err)
		}
		if len(out) == 0 {
			return reflect.Value{}, oops.In("bridge").Code("CONSTRUCT_FAILED").With("type", t.name).
				Errorf("constructor of %s returned nothing", t.name)
		}
		return out[0], nil
	}
	if len(args) > 0 {
		return reflect.Value{}, oops.In("bridge").Code("CONSTRUCT_FAILED").
			With("type", t.name).With("arguments", len(args)).
			Errorf("%s has no constructor taking %d arguments", t.name, len(args))
	}

	switch t.rtype.Kind() {
	case reflect.Slice:
		return reflect.MakeSlice(t.rtype, 0, 0), nil
	case reflect.Map:
		return reflect.MakeMap(t.rtype), nil
	case reflect.Pointer:
		return reflect.New(t.rtype.Elem()), nil
	case reflect.Struct:
		return reflect.New(t.rtype), nil
	case reflect.Interface, reflect.Func, reflect.Chan:
		return reflect.Value{}, oops.In("bridge").Code("CONSTRUCT_FAILED").
			With("type", t.name).Errorf("cannot instantiate %s value %s", t.rtype.Kind(), t.name)
	default:
		return reflect.New(t.rtype).Elem(), nil
	}
}

// NewArray creates a slice of n zero elements of type elem.
func (b *Bridge) NewArray(elem *Type, n int) (reflect.Value, error) {
	if elem == nil || elem.rtype == nil {
		return reflect.Value{}, oops.In("bridge").Code("CONSTRUCT_FAILED").
			With("type", elem.String()).Errorf("array element type must be concrete")
	}
	if n < 0 {
		return reflect.Value{}, oops.In("bridge").Code("CONSTRUCT_FAILED").
			With("type", elem.name).With("length", n).Errorf("negative array length %d", n)
	}
	return reflect.MakeSlice(reflect.SliceOf(elem.rtype), n, n), nil
}

// ArrayFromSequence builds a slice of count elements of type elem, copying
// seq[1..count] into positions 0..count-1.
func (b *Bridge) ArrayFromSequence(elem *Type, seq *lua.LTable, count int) (reflect.Value, error) {
	arr, err := b.NewArray(elem, count)
	if err != nil {
		return reflect.Value{}, err
	}
	for i := 0; i < count; i++ {
		v, err := b.fromLua(seq.RawGetInt(i+1), elem.rtype)
		if err != nil {
			return reflect.Value{}, oops.In("bridge").Code("CONVERSION_FAILED").
				With("type", elem.name).With("index", i+1).Wrap(err)
		}
		arr.Index(i).Set(v)
	}
	return arr, nil
}

// SequenceFromArray copies a slice or array into a fresh Lua sequence.
func (b *Bridge) SequenceFromArray(L *lua.LState, arr reflect.Value) (*lua.LTable, error) {
	arr = reflect.Indirect(arr)
	if arr.Kind() == reflect.Interface {
		arr = arr.Elem()
	}
	if arr.Kind() != reflect.Slice && arr.Kind() != reflect.Array {
		return nil, oops.In("bridge").Code("TYPE_MISMATCH").
			With("got", arr.Kind().String()).Errorf("expected a slice or array, got %s", arr.Kind())
	}
	tbl := L.CreateTable(arr.Len(), 0)
	for i := 0; i < arr.Len(); i++ {
		tbl.RawSetInt(i+1, b.toLua(L, arr.Index(i)))
	}
	return tbl, nil
}

// ConvertAndSetOnArray converts value to target and stores it at the
// zero-based index of arr.
func (b *Bridge) ConvertAndSetOnArray(arr reflect.Value, index int, value lua.LValue, target *Type) error {
	slot, err := arraySlot(arr, index)
	if err != nil {
		return err
	}
	rt := slot.Type()
	if target != nil && target.rtype != nil {
		rt = target.rtype
	}
	v, err := b.fromLua(value, rt)
	if err != nil {
		return err
	}
	return storeSlot(slot, v)
}

// ReadFieldAndSetOnArray reads the field m of obj into arr[index].
func (b *Bridge) ReadFieldAndSetOnArray(arr reflect.Value, index int, m *Member, obj reflect.Value) error {
	return b.readIntoArray(KindField, arr, index, m, obj)
}

// ReadPropertyAndSetOnArray reads the property m of obj into arr[index].
func (b *Bridge) ReadPropertyAndSetOnArray(arr reflect.Value, index int, m *Member, obj reflect.Value) error {
	return b.readIntoArray(KindProperty, arr, index, m, obj)
}

func (b *Bridge) readIntoArray(kind MemberKind, arr reflect.Value, index int, m *Member, obj reflect.Value) error {
	if m.kind != kind {
		return m.errorf("TYPE_MISMATCH", "%s is not a %s", m, kind)
	}
	slot, err := arraySlot(arr, index)
	if err != nil {
		return err
	}
	v, err := m.Get(obj)
	if err != nil {
		return err
	}
	return storeSlot(slot, v)
}

func arraySlot(arr reflect.Value, index int) (reflect.Value, error) {
	if arr.Kind() == reflect.Interface {
		arr = arr.Elem()
	}
	if arr.Kind() == reflect.Pointer && arr.Elem().Kind() == reflect.Array {
		arr = arr.Elem()
	}
	if arr.Kind() != reflect.Slice && arr.Kind() != reflect.Array {
		return reflect.Value{}, oops.In("bridge").Code("TYPE_MISMATCH").
			With("got", arr.Kind().String()).Errorf("expected a slice or array, got %s", arr.Kind())
	}
	if index < 0 || index >= arr.Len() {
		return reflect.Value{}, oops.In("bridge").Code("INDEX_OUT_OF_RANGE").
			With("index", index).With("length", arr.Len()).
			Errorf("index %d out of range [0,%d)", index, arr.Len())
	}
	slot := arr.Index(index)
	if !slot.CanSet() {
		return reflect.Value{}, oops.In("bridge").Code("TYPE_MISMATCH").
			With("index", index).Errorf("array element %d is not settable", index)
	}
	return slot, nil
}

func storeSlot(slot, v reflect.Value) error {
	cv, err := convertValue(v, slot.Type())
	if err != nil {
		return err
	}
	slot.Set(cv)
	return nil
}
