// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

package bridge_test

import (
	"errors"
	"io"
	"log/slog"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"

	"github.com/cinderhost/cinder/internal/bridge"
)

const pkg = "github.com/cinderhost/cinder/internal/bridge_test."

type Counter struct {
	Count int
	Label string
	Big   uint64
}

func (c *Counter) Add(n int) int {
	c.Count += n
	return c.Count
}

func (c *Counter) Total() int { return c.Count }

func (c *Counter) Name() string { return c.Label }

func (c *Counter) SetName(s string) { c.Label = s }

func (c *Counter) Fail() error { return errors.New("counter broke") }

func (c *Counter) Explode() { panic("boom") }

type Point struct {
	X, Y int
}

type Color int

const (
	Red Color = iota
	Green
	Blue
)

func (c Color) String() string {
	switch c {
	case Red:
		return "Red"
	case Green:
		return "Green"
	case Blue:
		return "Blue"
	default:
		return "Color(" + strconv.Itoa(int(c)) + ")"
	}
}

// fixture holds the package-level state exposed through static members.
type fixture struct {
	reg     *bridge.Registry
	bridge  *bridge.Bridge
	limit   int
	version string
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, opts ...bridge.Option) *fixture {
	t.Helper()
	policy, err := bridge.NewPolicy(bridge.DefaultPolicyConfig())
	require.NoError(t, err)

	f := &fixture{reg: bridge.NewRegistry(policy), limit: 10, version: "1.0"}
	_, err = f.reg.Register((*Counter)(nil),
		bridge.Constructor(func() *Counter { return &Counter{} }),
		bridge.Constructor(func(start int) *Counter { return &Counter{Count: start} }),
		bridge.Static("Parse", func(s string) (int, error) { return strconv.Atoi(s) }),
		bridge.GenericStatic("Parse", func(s string) int { return len(s) }),
		bridge.Static("Parse", func(s string, out *int) bool {
			n, err := strconv.Atoi(s)
			*out = n
			return err == nil
		}),
		bridge.Static("Sum", func(a, b int) int { return a + b }),
		bridge.Static("Sum", func(a, b, c int) int { return a + b + c }),
		bridge.Static("Join", func(sep string, parts ...string) string {
			out := ""
			for i, p := range parts {
				if i > 0 {
					out += sep
				}
				out += p
			}
			return out
		}),
		bridge.Static("Dist", func(p Point) int { return p.X + p.Y }),
		bridge.StaticProperty("Limit", func() int { return f.limit }, func(v int) { f.limit = v }),
		bridge.StaticProperty("Build", func() string { return "dev" }, nil),
		bridge.StaticField("Version", &f.version),
	)
	require.NoError(t, err)
	_, err = f.reg.Register(Point{})
	require.NoError(t, err)
	_, err = f.reg.Register(Red, bridge.Enum(Red, Green, Blue))
	require.NoError(t, err)

	opts = append([]bridge.Option{bridge.WithLogger(quiet())}, opts...)
	f.bridge = bridge.New(f.reg, opts...)
	return f
}

// state returns a Lua state with the bridge installed as the host table.
func (f *fixture) state(t *testing.T) *lua.LState {
	t.Helper()
	L := lua.NewState()
	t.Cleanup(L.Close)
	mod := L.NewTable()
	f.bridge.Register(L, mod)
	L.SetGlobal("host", mod)
	return L
}

func (f *fixture) lookup(t *testing.T, name string) *bridge.Type {
	t.Helper()
	typ, err := f.reg.Lookup(name)
	require.NoError(t, err)
	return typ
}
