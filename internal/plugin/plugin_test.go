// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

package plugin_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"

	"github.com/cinderhost/cinder/internal/plugin"
	pluginlua "github.com/cinderhost/cinder/internal/plugin/lua"
	"github.com/cinderhost/cinder/pkg/errutil"
)

func load(t *testing.T, L *lua.LState, name, src string) (*plugin.Plugin, error) {
	t.Helper()
	return plugin.LoadSource(context.Background(), L, name, name+".lua", []byte(src), plugin.WithPluginLogger(quiet))
}

func TestLoadSource_Descriptor(t *testing.T) {
	L := newState(t)
	p, err := load(t, L, "economy", `
		PLUGIN.Title = "Economy"
		PLUGIN.Description = "money"
		PLUGIN.Version = 1.2
		PLUGIN.Author = "tests"
		PLUGIN.Depends = {"bank", "ledger >= 2"}
		function PLUGIN:Pay() end
	`)
	require.NoError(t, err)

	assert.Equal(t, "economy", p.Name)
	assert.Equal(t, plugin.Descriptor{
		Title:       "Economy",
		Description: "money",
		Version:     1.2,
		Author:      "tests",
		Depends:     []string{"bank", "ledger >= 2"},
	}, p.Descriptor)
	require.Len(t, p.Depends, 2)
	assert.Equal(t, "ledger", p.Depends[1].Name)
	assert.Equal(t, []string{"GetName", "GetVersionString", "Pay"}, p.HookNames())
	assert.Equal(t, lua.LString("economy"), p.Table().RawGetString("Name"))
}

func TestLoadSource_Failures(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		wantCode string
	}{
		{name: "syntax error", src: `function (`, wantCode: "PLUGIN_COMPILE_FAILED"},
		{name: "module body raises", src: descriptor + `error("boom")`, wantCode: "PLUGIN_EXEC_FAILED"},
		{name: "missing author", src: `PLUGIN.Title = "t"; PLUGIN.Description = "d"; PLUGIN.Version = 1`, wantCode: "INVALID_DESCRIPTOR"},
		{name: "version is a string", src: `PLUGIN.Title = "t"; PLUGIN.Description = "d"; PLUGIN.Author = "a"; PLUGIN.Version = "1"`, wantCode: "INVALID_DESCRIPTOR"},
		{name: "title is a function", src: descriptor + `function PLUGIN.Title() end`, wantCode: "INVALID_DESCRIPTOR"},
		{name: "depends holds numbers", src: descriptor + `PLUGIN.Depends = {1, 2}`, wantCode: "INVALID_DESCRIPTOR"},
		{name: "bad constraint", src: descriptor + `PLUGIN.Depends = {"bank >= soon"}`, wantCode: "INVALID_DESCRIPTOR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(t, newState(t), "broken", tt.src)
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, tt.wantCode)
		})
	}
}

func TestLoadSource_RestoresPluginGlobal(t *testing.T) {
	L := newState(t)
	L.SetGlobal(pluginlua.PluginGlobal, lua.LString("outer"))

	_, err := load(t, L, "ok", descriptor)
	require.NoError(t, err)
	assert.Equal(t, lua.LString("outer"), L.GetGlobal(pluginlua.PluginGlobal))

	_, err = load(t, L, "bad", descriptor+`error("x")`)
	require.Error(t, err)
	assert.Equal(t, lua.LString("outer"), L.GetGlobal(pluginlua.PluginGlobal))
}

func TestPlugin_Call(t *testing.T) {
	L := newState(t)
	p, err := load(t, L, "calc", descriptor+`
		function PLUGIN:Add(a, b) return a + b end
		function PLUGIN:Who() return whoami() end
		function PLUGIN:Fail() error("bad") end
	`)
	require.NoError(t, err)

	ret, err := p.Call(context.Background(), "Add", lua.LNumber(2), lua.LNumber(3))
	require.NoError(t, err)
	assert.Equal(t, lua.LNumber(5), ret)

	ret, err = p.Call(context.Background(), "Missing")
	require.NoError(t, err)
	assert.Equal(t, lua.LNil, ret)

	var during bool
	var caller string
	L.SetGlobal("whoami", L.NewFunction(func(L *lua.LState) int {
		during = p.InCall()
		caller = plugin.CallerFrom(L.Context())
		return 0
	}))
	_, err = p.Call(context.Background(), "Who")
	require.NoError(t, err)
	assert.True(t, during)
	assert.Equal(t, "calc", caller)
	assert.False(t, p.InCall())

	_, err = p.Call(plugin.WithCaller(context.Background(), "scheduler"), "Fail")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "PLUGIN_EXEC_FAILED")
	errutil.AssertErrorContext(t, err, "caller", "scheduler")
	assert.False(t, p.InCall())
}

func TestCallFunction_RestoresContext(t *testing.T) {
	L := newState(t)
	require.NoError(t, L.DoString(`
		function ok() return seen() end
		function fails() seen(); error("x") end
	`))
	var seenBy []string
	L.SetGlobal("seen", L.NewFunction(func(L *lua.LState) int {
		seenBy = append(seenBy, plugin.CallerFrom(L.Context()))
		L.Push(lua.LString("done"))
		return 1
	}))

	outer := plugin.WithCaller(context.Background(), "outer")
	L.SetContext(outer)

	ret, err := plugin.CallFunction(context.Background(), L, "first", L.GetGlobal("ok").(*lua.LFunction))
	require.NoError(t, err)
	assert.Equal(t, lua.LString("done"), ret)
	assert.Equal(t, outer, L.Context())

	_, err = plugin.CallFunction(context.Background(), L, "second", L.GetGlobal("fails").(*lua.LFunction))
	require.Error(t, err)
	assert.Equal(t, outer, L.Context())
	assert.Equal(t, []string{"first", "second"}, seenBy)
}

func TestCallerFrom(t *testing.T) {
	assert.Empty(t, plugin.CallerFrom(nil)) //nolint:staticcheck // nil context is allowed
	assert.Empty(t, plugin.CallerFrom(context.Background()))
	assert.Equal(t, "x", plugin.CallerFrom(plugin.WithCaller(context.Background(), "x")))
}

func TestParseDependency(t *testing.T) {
	tests := []struct {
		entry    string
		wantName string
		version  float64
		want     bool
		wantErr  bool
	}{
		{entry: "Economy", wantName: "Economy", version: 0.1, want: true},
		{entry: "Economy >= 1.2", wantName: "Economy", version: 1.2, want: true},
		{entry: "Economy >= 1.2", wantName: "Economy", version: 1.1, want: false},
		{entry: "  Economy   < 2  ", wantName: "Economy", version: 1.9, want: true},
		{entry: "Economy ^1", wantName: "Economy", version: 2, want: false},
		{entry: "", wantErr: true},
		{entry: "Economy >= banana", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.entry, func(t *testing.T) {
			dep, err := plugin.ParseDependency(tt.entry)
			if tt.wantErr {
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, "INVALID_DESCRIPTOR")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, dep.Name)

			p := &plugin.Plugin{Name: tt.wantName, Descriptor: plugin.Descriptor{Version: tt.version}}
			assert.Equal(t, tt.want, dep.SatisfiedBy(p))
			assert.False(t, dep.SatisfiedBy(nil))
			assert.False(t, dep.SatisfiedBy(&plugin.Plugin{Name: "Other"}))
		})
	}
}

func TestGenerateSchema(t *testing.T) {
	data, err := plugin.GenerateSchema()
	require.NoError(t, err)

	var schema struct {
		ID       string         `json:"$id"`
		Required []string       `json:"required"`
		Props    map[string]any `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(data, &schema))
	assert.Equal(t, plugin.SchemaID, schema.ID)
	assert.ElementsMatch(t, []string{"Title", "Description", "Version", "Author"}, schema.Required)
	assert.Contains(t, schema.Props, "Depends")
}

func TestFormatSchemaError(t *testing.T) {
	assert.Empty(t, plugin.FormatSchemaError(nil))

	tbl := newState(t).NewTable()
	_, err := plugin.ReadDescriptor(tbl)
	require.Error(t, err)
	assert.NotEmpty(t, plugin.FormatSchemaError(err))
}

func TestMetrics_HookCalls(t *testing.T) {
	m, _, dir := newManager(t)
	_, err := m.Load(context.Background(), writePlugin(t, dir, "metered", `function PLUGIN:Metered() return 1 end`))
	require.NoError(t, err)

	before := testutil.ToFloat64(plugin.HookCalls.WithLabelValues("Metered", plugin.StatusSuccess))
	m.Call(context.Background(), "Metered")
	assert.Equal(t, before+1, testutil.ToFloat64(plugin.HookCalls.WithLabelValues("Metered", plugin.StatusSuccess)))
}
