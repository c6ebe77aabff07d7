// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

package bridge

import (
	"fmt"
	"reflect"
)

var builtinSamples = []any{
	false,
	int(0), int8(0), int16(0), int32(0), int64(0),
	uint(0), uint8(0), uint16(0), uint32(0), uint64(0),
	float32(0), float64(0),
	"",
}

// registerBuiltins adds scalar types and the slice/map/ptr generic
// definitions. Builtin names carry no package, so the policy never blocks them.
func registerBuiltins(r *Registry) {
	for _, sample := range builtinSamples {
		rt := reflect.TypeOf(sample)
		t := newType(rt.String(), rt)
		r.types[t.name] = t
		r.byRType[rt] = t
	}

	anyType := reflect.TypeOf((*any)(nil)).Elem()
	t := newType("any", anyType)
	r.types[t.name] = t
	r.byRType[anyType] = t

	typeType := reflect.TypeOf((*reflect.Type)(nil)).Elem()
	t = newType(FullName(typeType), typeType)
	r.types[t.name] = t
	r.byRType[typeType] = t

	builtinGeneric(r, "slice", 1, func(args []reflect.Type) (reflect.Type, error) {
		return reflect.SliceOf(args[0]), nil
	})
	builtinGeneric(r, "map", 2, func(args []reflect.Type) (reflect.Type, error) {
		if !args[0].Comparable() {
			return nil, fmt.Errorf("map key type %s is not comparable", args[0])
		}
		return reflect.MapOf(args[0], args[1]), nil
	})
	builtinGeneric(r, "ptr", 1, func(args []reflect.Type) (reflect.Type, error) {
		return reflect.PointerTo(args[0]), nil
	})
}

func builtinGeneric(r *Registry, name string, arity int, fn func([]reflect.Type) (reflect.Type, error)) {
	t := newType(name, nil)
	t.generic = &genericDef{arity: arity, instantiate: fn}
	r.types[name] = t
}
