// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

package bridge_test

import (
	"container/list"
	"os"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cinderhost/cinder/internal/bridge"
	"github.com/cinderhost/cinder/pkg/errutil"
)

func TestPolicy_Check(t *testing.T) {
	tests := []struct {
		name    string
		cfg     bridge.PolicyConfig
		typ     string
		blocked bool
	}{
		{name: "builtin", cfg: bridge.DefaultPolicyConfig(), typ: "int"},
		{name: "composite spelling", cfg: bridge.DefaultPolicyConfig(), typ: "[]string"},
		{name: "third-party module", cfg: bridge.DefaultPolicyConfig(), typ: "github.com/acme/shop.Item"},
		{name: "allowed core root", cfg: bridge.DefaultPolicyConfig(), typ: "container/list.List"},
		{name: "reflection allowed", cfg: bridge.DefaultPolicyConfig(), typ: "reflect.Value"},
		{name: "core runtime package", cfg: bridge.DefaultPolicyConfig(), typ: "os.File", blocked: true},
		{name: "nested core package", cfg: bridge.DefaultPolicyConfig(), typ: "net/http.Client", blocked: true},
		{name: "denied substring", cfg: bridge.DefaultPolicyConfig(), typ: "github.com/yuin/gopher-lua.LState", blocked: true},
		{name: "denied package", cfg: bridge.DefaultPolicyConfig(), typ: "unsafe.Pointer", blocked: true},
		{
			name:    "glob pattern",
			cfg:     bridge.PolicyConfig{Deny: []string{"*.Secret*"}},
			typ:     "github.com/acme/vault.SecretKey",
			blocked: true,
		},
		{
			name: "glob pattern does not match",
			cfg:  bridge.PolicyConfig{Deny: []string{"*.Secret*"}},
			typ:  "github.com/acme/vault.PublicKey",
		},
		{
			name:    "dotless module is core without host listing",
			cfg:     bridge.PolicyConfig{},
			typ:     "game/world.Room",
			blocked: true,
		},
		{
			name: "host module",
			cfg:  bridge.PolicyConfig{HostModules: []string{"game"}},
			typ:  "game/world.Room",
		},
		{
			name:    "host module prefix needs a path boundary",
			cfg:     bridge.PolicyConfig{HostModules: []string{"game"}},
			typ:     "gamekit/world.Room",
			blocked: true,
		},
		{
			name:    "deny wins over host module",
			cfg:     bridge.PolicyConfig{Deny: []string{"Room"}, HostModules: []string{"game"}},
			typ:     "game/world.Room",
			blocked: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := bridge.NewPolicy(tt.cfg)
			require.NoError(t, err)

			err = p.Check(tt.typ)
			if tt.blocked {
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, "TYPE_BLOCKED")
				errutil.AssertErrorContext(t, err, "type", tt.typ)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewPolicy_RejectsEmptyPattern(t *testing.T) {
	_, err := bridge.NewPolicy(bridge.PolicyConfig{Deny: []string{"ok", ""}})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "POLICY_INVALID")
	errutil.AssertErrorContext(t, err, "index", 1)
}

func TestRegistry_Register(t *testing.T) {
	f := newFixture(t)

	t.Run("pointer sample registers the named type", func(t *testing.T) {
		typ := f.lookup(t, pkg+"Counter")
		assert.Equal(t, reflect.TypeOf(Counter{}), typ.RType())
		assert.False(t, typ.IsGenericDefinition())
	})

	t.Run("reflect.Type sample", func(t *testing.T) {
		typ, err := f.reg.Register(reflect.TypeOf(list.List{}))
		require.NoError(t, err)
		assert.Equal(t, "container/list.List", typ.Name())
	})

	t.Run("duplicate", func(t *testing.T) {
		_, err := f.reg.Register(Point{})
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "INVALID_REGISTRATION")
	})

	t.Run("blocked by policy", func(t *testing.T) {
		_, err := f.reg.Register((*os.File)(nil))
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "TYPE_BLOCKED")
		errutil.AssertErrorContext(t, err, "operation", "register")
	})

	t.Run("untyped nil", func(t *testing.T) {
		_, err := f.reg.Register(nil)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "INVALID_REGISTRATION")
	})

	t.Run("invalid options", func(t *testing.T) {
		for name, opt := range map[string]bridge.TypeOption{
			"static not a function":  bridge.Static("X", 42),
			"field not a pointer":    bridge.StaticField("X", 42),
			"constructor no results": bridge.Constructor(func() {}),
			"enum of another type":   bridge.Enum(42),
			"getter with arguments":  bridge.StaticProperty("X", func(int) int { return 0 }, nil),
			"setter of another type": bridge.StaticProperty("X", func() int { return 0 }, func(string) {}),
		} {
			t.Run(name, func(t *testing.T) {
				_, err := f.reg.Register(struct{ N int }{}, opt)
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, "INVALID_REGISTRATION")
			})
		}
	})

	t.Run("generic definition", func(t *testing.T) {
		_, err := f.reg.RegisterGeneric("pair", 0, nil)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "INVALID_REGISTRATION")

		typ, err := f.reg.RegisterGeneric("pair", 2, func(args []reflect.Type) (reflect.Type, error) {
			return reflect.ArrayOf(2, args[0]), nil
		})
		require.NoError(t, err)
		assert.True(t, typ.IsGenericDefinition())
		assert.Nil(t, typ.RType())
	})
}

func TestRegistry_Lookup(t *testing.T) {
	f := newFixture(t)

	_, err := f.reg.Lookup(pkg + "Missing")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "TYPE_NOT_FOUND")

	_, err = f.reg.Lookup("os.File")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "TYPE_BLOCKED")
	errutil.AssertErrorContext(t, err, "operation", "lookup")

	names := f.reg.Names()
	assert.Contains(t, names, "int")
	assert.Contains(t, names, "slice")
	assert.Contains(t, names, pkg+"Counter")
	assert.IsIncreasing(t, names)
}

func TestRegistry_TypeOfCachesDerivedTypes(t *testing.T) {
	f := newFixture(t)
	rt := reflect.TypeOf(map[string]Point{})

	first := f.reg.TypeOf(rt)
	assert.Same(t, first, f.reg.TypeOf(rt))
	assert.Equal(t, rt.String(), first.Name())
	assert.Same(t, f.lookup(t, "int"), f.reg.TypeOf(reflect.TypeOf(0)))
}

func TestResolveStatic(t *testing.T) {
	f := newFixture(t)
	counter := f.lookup(t, pkg+"Counter")

	t.Run("generic and out-parameter overloads are filtered", func(t *testing.T) {
		cands, err := f.bridge.ResolveStatic(counter, "Parse")
		require.NoError(t, err)
		require.Len(t, cands, 1)
		assert.Equal(t, reflect.TypeOf(func(string) (int, error) { return 0, nil }), cands[0].Type())
		assert.Equal(t, "Parse", cands[0].Name())
	})

	t.Run("several survivors form an overload set", func(t *testing.T) {
		cands, err := f.bridge.ResolveStatic(counter, "Sum")
		require.NoError(t, err)
		assert.Len(t, cands, 2)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := f.bridge.ResolveStatic(counter, "Nope")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "MEMBER_NOT_FOUND")
	})

	t.Run("single generic candidate is kept", func(t *testing.T) {
		typ, err := f.reg.Register(struct{ G int }{}, bridge.GenericStatic("Only", func() int { return 1 }))
		require.NoError(t, err)
		cands, err := f.bridge.ResolveStatic(typ, "Only")
		require.NoError(t, err)
		assert.Len(t, cands, 1)
	})

	t.Run("no usable overload", func(t *testing.T) {
		typ, err := f.reg.Register(struct{ H int }{},
			bridge.GenericStatic("Both", func() int { return 1 }),
			bridge.Static("Both", func(out *int) {}),
		)
		require.NoError(t, err)
		_, err = f.bridge.ResolveStatic(typ, "Both")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "MEMBER_NOT_FOUND")
		errutil.AssertErrorContext(t, err, "candidates", 2)
	})
}

func TestResolveMembers(t *testing.T) {
	f := newFixture(t)
	counter := f.lookup(t, pkg+"Counter")
	c := &Counter{Count: 3, Label: "a"}

	t.Run("property with setter", func(t *testing.T) {
		m, err := f.bridge.ResolveProperty(counter, "Name")
		require.NoError(t, err)
		assert.Equal(t, bridge.KindProperty, m.Kind())
		require.NoError(t, m.Set(reflect.ValueOf(c), reflect.ValueOf("b")))
		v, err := m.Get(reflect.ValueOf(c))
		require.NoError(t, err)
		assert.Equal(t, "b", v.String())
	})

	t.Run("property without setter is read-only", func(t *testing.T) {
		m, err := f.bridge.ResolveProperty(counter, "Total")
		require.NoError(t, err)
		err = m.Set(reflect.ValueOf(c), reflect.ValueOf(1))
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "READ_ONLY")
	})

	t.Run("methods with arguments are not properties", func(t *testing.T) {
		_, err := f.bridge.ResolveProperty(counter, "Add")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "MEMBER_NOT_FOUND")
	})

	t.Run("instance member without instance", func(t *testing.T) {
		m, err := f.bridge.ResolveField(counter, "Count")
		require.NoError(t, err)
		_, err = m.Get(reflect.Value{})
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "INSTANCE_REQUIRED")
	})

	t.Run("field write needs a pointer", func(t *testing.T) {
		m, err := f.bridge.ResolveField(counter, "Count")
		require.NoError(t, err)
		err = m.Set(reflect.ValueOf(Counter{}), reflect.ValueOf(1))
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "TYPE_MISMATCH")
	})

	t.Run("field read converts through CastRead", func(t *testing.T) {
		m, err := f.bridge.ResolveField(counter, "Count")
		require.NoError(t, err)
		v, err := m.CastRead(reflect.ValueOf(c), reflect.TypeOf(""))
		require.NoError(t, err)
		assert.Equal(t, "3", v.String())
	})

	t.Run("unexported or missing field", func(t *testing.T) {
		_, err := f.bridge.ResolveField(counter, "count")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "MEMBER_NOT_FOUND")
	})

	t.Run("static property and field", func(t *testing.T) {
		prop, err := f.bridge.ResolveStaticProperty(counter, "Limit")
		require.NoError(t, err)
		assert.True(t, prop.Static())
		require.NoError(t, prop.Set(reflect.Value{}, reflect.ValueOf(float64(25))))
		assert.Equal(t, 25, f.limit)

		field, err := f.bridge.ResolveStaticField(counter, "Version")
		require.NoError(t, err)
		require.NoError(t, field.Set(reflect.Value{}, reflect.ValueOf("2.0")))
		assert.Equal(t, "2.0", f.version)

		_, err = f.bridge.ResolveStaticField(counter, "Limit")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "MEMBER_NOT_FOUND")
	})

	t.Run("enum", func(t *testing.T) {
		members, err := f.bridge.ResolveEnum(f.lookup(t, pkg+"Color"))
		require.NoError(t, err)
		require.Len(t, members, 3)
		assert.Equal(t, "Blue", members[2].Name)

		_, err = f.bridge.ResolveEnum(counter)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "MEMBER_NOT_FOUND")
	})
}

func TestMember_NarrowReads(t *testing.T) {
	f := newFixture(t)
	counter := f.lookup(t, pkg+"Counter")
	c := reflect.ValueOf(&Counter{Count: 7, Big: 1<<40 + 7})

	big, err := f.bridge.ResolveField(counter, "Big")
	require.NoError(t, err)
	u, err := big.ReadAsUInt(c)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), u)
	s, err := big.ReadAsDecimalString(c)
	require.NoError(t, err)
	assert.Equal(t, "1099511627783", s)

	count, err := f.bridge.ResolveField(counter, "Count")
	require.NoError(t, err)
	u, err = count.ReadAsUInt(c)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "TYPE_MISMATCH")
	assert.Zero(t, u)
	s, err = count.ReadAsDecimalString(c)
	require.Error(t, err)
	assert.Empty(t, s)
}

func TestInstantiate(t *testing.T) {
	f := newFixture(t)

	t.Run("struct without constructor", func(t *testing.T) {
		v, err := f.bridge.Instantiate(f.lookup(t, pkg+"Point"), nil)
		require.NoError(t, err)
		assert.IsType(t, &Point{}, v.Interface())
	})

	t.Run("arguments without constructor", func(t *testing.T) {
		_, err := f.bridge.Instantiate(f.lookup(t, pkg+"Point"), toArgs(1))
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "CONSTRUCT_FAILED")
	})

	t.Run("scalar zero value", func(t *testing.T) {
		v, err := f.bridge.Instantiate(f.lookup(t, "int"), nil)
		require.NoError(t, err)
		assert.Equal(t, 0, v.Interface())
	})

	t.Run("interfaces cannot be made", func(t *testing.T) {
		_, err := f.bridge.Instantiate(f.lookup(t, "any"), nil)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "CONSTRUCT_FAILED")
	})

	t.Run("constructor overload by arity", func(t *testing.T) {
		v, err := f.bridge.Instantiate(f.lookup(t, pkg+"Counter"), toArgs(4))
		require.NoError(t, err)
		assert.Equal(t, 4, v.Interface().(*Counter).Count)
	})

	t.Run("generic definitions cannot be made", func(t *testing.T) {
		_, err := f.bridge.Instantiate(f.lookup(t, "slice"), nil)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "CONSTRUCT_FAILED")
	})
}

func TestMakeGenericType(t *testing.T) {
	f := newFixture(t)
	intType := f.lookup(t, "int")
	point := f.lookup(t, pkg+"Point")

	tests := []struct {
		name     string
		def      string
		args     []*bridge.Type
		want     reflect.Type
		wantCode string
	}{
		{name: "slice", def: "slice", args: []*bridge.Type{intType}, want: reflect.TypeOf([]int{})},
		{name: "map", def: "map", args: []*bridge.Type{intType, point}, want: reflect.TypeOf(map[int]Point{})},
		{name: "ptr", def: "ptr", args: []*bridge.Type{point}, want: reflect.TypeOf(&Point{})},
		{name: "wrong arity", def: "map", args: []*bridge.Type{intType}, wantCode: "CONSTRUCT_FAILED"},
		{name: "not generic", def: "int", args: []*bridge.Type{intType}, wantCode: "CONSTRUCT_FAILED"},
		{name: "uncomparable key", def: "map", args: []*bridge.Type{f.reg.TypeOf(reflect.TypeOf([]int{})), intType}, wantCode: "CONSTRUCT_FAILED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.bridge.MakeGenericType(f.lookup(t, tt.def), tt.args)
			if tt.wantCode != "" {
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, tt.wantCode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.RType())
		})
	}
}
