// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

// Package bridge exposes registered host types to Lua scripts by name.
//
// Go cannot enumerate or look up types at runtime, so the host registers
// the types scripts may reach together with their package-level members
// (static functions, properties, fields, constructors and enum values).
// Instance members are discovered through reflection on the registered type.
// Everything a script resolves goes through the Registry, and every name is
// checked against the Policy both when it is registered and when it is looked up.
package bridge

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/samber/oops"
)

// Func is one callable candidate: a static function, a constructor or an
// instance method expression (receiver first).
type Func struct {
	name    string
	owner   string
	fn      reflect.Value
	generic bool
}

// Name returns the script-visible name of the candidate.
func (f *Func) Name() string { return f.name }

// Type returns the Go function type of the candidate.
func (f *Func) Type() reflect.Type { return f.fn.Type() }

// usable reports whether the candidate survives overload filtering:
// generic candidates and candidates declaring by-reference (output)
// parameters are dropped.
func (f *Func) usable() bool {
	if f.generic {
		return false
	}
	ft := f.fn.Type()
	for i := 0; i < ft.NumIn(); i++ {
		if isOutParam(ft.In(i)) {
			return false
		}
	}
	return true
}

// isOutParam reports whether t is a pointer to a non-struct value, the Go
// spelling of a by-reference parameter.
func isOutParam(t reflect.Type) bool {
	return t.Kind() == reflect.Pointer && t.Elem().Kind() != reflect.Struct
}

// EnumMember is one named value of a registered enum type.
type EnumMember struct {
	Name  string
	Value reflect.Value
}

type genericDef struct {
	arity       int
	instantiate func(args []reflect.Type) (reflect.Type, error)
}

// Type is a registered host type, or a generic definition when RType is nil.
type Type struct {
	name    string
	rtype   reflect.Type
	statics map[string][]*Func
	props   map[string]*Member
	fields  map[string]*Member
	ctors   []*Func
	enum    []EnumMember
	generic *genericDef
}

// Name returns the full type name used for lookup.
func (t *Type) Name() string { return t.name }

// RType returns the Go type, nil for generic definitions.
func (t *Type) RType() reflect.Type { return t.rtype }

// IsGenericDefinition reports whether t must be instantiated before use.
func (t *Type) IsGenericDefinition() bool { return t.generic != nil }

// IsEnum reports whether enum values were registered for t.
func (t *Type) IsEnum() bool { return len(t.enum) > 0 }

func (t *Type) String() string {
	if t == nil {
		return "<nil>"
	}
	return t.name
}

// TypeOption attaches package-level members to a type during registration.
type TypeOption func(t *Type) error

// Static registers fn as a static callable. Registering the same name
// more than once creates overloads.
func Static(name string, fn any) TypeOption {
	return staticFunc(name, fn, false)
}

// GenericStatic registers fn as a generic static callable. Such candidates
// are only bound when they are the sole candidate for their name.
func GenericStatic(name string, fn any) TypeOption {
	return staticFunc(name, fn, true)
}

func staticFunc(name string, fn any, generic bool) TypeOption {
	return func(t *Type) error {
		rv := reflect.ValueOf(fn)
		if rv.Kind() != reflect.Func {
			return oops.In("bridge").Code("INVALID_REGISTRATION").
				With("type", t.name).With("member", name).
				Errorf("static %s must be a function, got %T", name, fn)
		}
		t.statics[name] = append(t.statics[name], &Func{name: name, owner: t.name, fn: rv, generic: generic})
		return nil
	}
}

// StaticProperty registers a package-level property backed by a getter
// func() T and an optional setter func(T). Pass nil for a read-only property.
func StaticProperty(name string, getter, setter any) TypeOption {
	return func(t *Type) error {
		m, err := newStaticProperty(t, name, getter, setter)
		if err != nil {
			return err
		}
		t.props[name] = m
		return nil
	}
}

// StaticField registers a package-level variable. ptr must point to it.
func StaticField(name string, ptr any) TypeOption {
	return func(t *Type) error {
		rv := reflect.ValueOf(ptr)
		if rv.Kind() != reflect.Pointer || rv.IsNil() {
			return oops.In("bridge").Code("INVALID_REGISTRATION").
				With("type", t.name).With("member", name).
				Errorf("static field %s must be a non-nil pointer, got %T", name, ptr)
		}
		t.fields[name] = newStaticField(t, name, rv.Elem())
		return nil
	}
}

// Constructor registers fn as a constructor overload. fn may return the
// instance alone or the instance followed by an error.
func Constructor(fn any) TypeOption {
	return func(t *Type) error {
		rv := reflect.ValueOf(fn)
		if rv.Kind() != reflect.Func || rv.Type().NumOut() == 0 {
			return oops.In("bridge").Code("INVALID_REGISTRATION").
				With("type", t.name).
				Errorf("constructor must be a function returning a value, got %T", fn)
		}
		t.ctors = append(t.ctors, &Func{name: "new", owner: t.name, fn: rv})
		return nil
	}
}

// Enum registers the named values of an enum type. Each value must be of
// the registered type; its name comes from fmt (so String methods apply).
func Enum(values ...any) TypeOption {
	return func(t *Type) error {
		for _, v := range values {
			rv := reflect.ValueOf(v)
			if rv.Type() != t.rtype {
				return oops.In("bridge").Code("INVALID_REGISTRATION").
					With("type", t.name).
					Errorf("enum value %v has type %s", v, rv.Type())
			}
			t.enum = append(t.enum, EnumMember{Name: fmt.Sprint(v), Value: rv})
		}
		return nil
	}
}

// Registry is the set of host types scripts may resolve.
//
// Registry is not safe for concurrent use; it is populated at startup and
// then read from the poll loop only.
type Registry struct {
	policy  *Policy
	types   map[string]*Type
	byRType map[reflect.Type]*Type
}

// NewRegistry creates a registry enforcing policy, pre-populated with the
// builtin scalar types and the slice, map and ptr generic definitions.
func NewRegistry(policy *Policy) *Registry {
	r := &Registry{
		policy:  policy,
		types:   make(map[string]*Type),
		byRType: make(map[reflect.Type]*Type),
	}
	registerBuiltins(r)
	return r
}

// FullName returns the lookup name of a Go type: "pkg/path.Name" for named
// types, the Go spelling otherwise.
func FullName(rt reflect.Type) string {
	if rt.Name() != "" && rt.PkgPath() != "" {
		return rt.PkgPath() + "." + rt.Name()
	}
	return rt.String()
}

// Register adds the type of sample. A reflect.Type is used as-is and a nil
// pointer to a named type registers the pointed-to type.
func (r *Registry) Register(sample any, opts ...TypeOption) (*Type, error) {
	rt, ok := sample.(reflect.Type)
	if !ok {
		rt = reflect.TypeOf(sample)
	}
	if rt == nil {
		return nil, oops.In("bridge").Code("INVALID_REGISTRATION").Errorf("cannot register untyped nil")
	}
	if rt.Kind() == reflect.Pointer && rt.Name() == "" && rt.Elem().Name() != "" {
		rt = rt.Elem()
	}
	return r.add(FullName(rt), rt, nil, opts)
}

// RegisterGeneric adds a generic definition. instantiate receives exactly
// arity type arguments.
func (r *Registry) RegisterGeneric(name string, arity int, instantiate func(args []reflect.Type) (reflect.Type, error)) (*Type, error) {
	if arity <= 0 || instantiate == nil {
		return nil, oops.In("bridge").Code("INVALID_REGISTRATION").With("type", name).
			Errorf("generic definition needs a positive arity and an instantiate function")
	}
	return r.add(name, nil, &genericDef{arity: arity, instantiate: instantiate}, nil)
}

func (r *Registry) add(name string, rt reflect.Type, gen *genericDef, opts []TypeOption) (*Type, error) {
	if err := r.policy.Check(name); err != nil {
		return nil, oops.In("bridge").With("operation", "register").Wrap(err)
	}
	if _, exists := r.types[name]; exists {
		return nil, oops.In("bridge").Code("INVALID_REGISTRATION").With("type", name).Errorf("type %q already registered", name)
	}

	t := newType(name, rt)
	t.generic = gen
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}

	r.types[name] = t
	if rt != nil {
		r.byRType[rt] = t
	}
	return t, nil
}

func newType(name string, rt reflect.Type) *Type {
	return &Type{
		name:    name,
		rtype:   rt,
		statics: make(map[string][]*Func),
		props:   make(map[string]*Member),
		fields:  make(map[string]*Member),
	}
}

// Lookup resolves a full type name after applying the policy.
func (r *Registry) Lookup(name string) (*Type, error) {
	if err := r.policy.Check(name); err != nil {
		return nil, oops.In("bridge").With("operation", "lookup").Wrap(err)
	}
	t, ok := r.types[name]
	if !ok {
		return nil, oops.In("bridge").Code("TYPE_NOT_FOUND").With("type", name).Errorf("type %q is not registered", name)
	}
	return t, nil
}

// TypeOf returns the entry for rt, creating a member-less entry for types
// derived at runtime (generic instantiations, element types, results).
func (r *Registry) TypeOf(rt reflect.Type) *Type {
	if t, ok := r.byRType[rt]; ok {
		return t
	}
	t := newType(FullName(rt), rt)
	r.byRType[rt] = t
	if _, exists := r.types[t.name]; !exists {
		r.types[t.name] = t
	}
	return t
}

// Names returns every registered type name, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
