// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

package runtime_test

import (
	"container/list"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	lua "github.com/yuin/gopher-lua"

	"github.com/cinderhost/cinder/internal/bridge"
	"github.com/cinderhost/cinder/internal/config"
	"github.com/cinderhost/cinder/internal/runtime"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

const header = `
PLUGIN.Title = "Test"
PLUGIN.Description = "test plugin"
PLUGIN.Version = 1
PLUGIN.Author = "tests"
`

func writePlugin(dir, name, body string) {
	GinkgoHelper()
	Expect(os.WriteFile(filepath.Join(dir, name+".lua"), []byte(header+body), 0o600)).To(Succeed())
}

var _ = Describe("Runtime", func() {
	var (
		ctx   context.Context
		cfg   config.Config
		clock *fakeClock
		rt    *runtime.Runtime
		opts  []runtime.Option
	)

	BeforeEach(func() {
		ctx = context.Background()
		cfg = config.Default()
		cfg.Root = GinkgoT().TempDir()
		Expect(cfg.EnsureDirs()).To(Succeed())
		clock = &fakeClock{now: time.Unix(1_700_000_000, 0)}
		opts = []runtime.Option{
			runtime.WithClock(clock),
			runtime.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		}
	})

	start := func() {
		GinkgoHelper()
		var err error
		rt, err = runtime.New(ctx, &cfg, opts...)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { _ = rt.Close(ctx) })
		Expect(rt.Start(ctx)).To(Succeed())
	}

	global := func(name string) lua.LValue {
		return rt.State().GetGlobal(name)
	}

	Describe("Start", func() {
		It("loads plugins, drops unmet dependencies and runs Init then PostInit", func() {
			writePlugin(cfg.PluginsDir(), "economy", `
				order = ""
				function PLUGIN:Init() order = order .. "init;" end
				function PLUGIN:PostInit() order = order .. "post;" end
			`)
			writePlugin(cfg.PluginsDir(), "shop", `PLUGIN.Depends = {"economy >= 1"}`)
			writePlugin(cfg.PluginsDir(), "bank", `PLUGIN.Depends = {"vault"}`)
			writePlugin(cfg.PluginsDir(), "atm", `PLUGIN.Depends = {"bank"}`)

			start()

			Expect(rt.Ready()).To(BeTrue())
			Expect(rt.Manager().Plugins()).To(Equal([]string{"economy", "shop"}))
			Expect(global("order").String()).To(Equal("init;post;"))
		})

		It("skips plugins that fail to load", func() {
			writePlugin(cfg.PluginsDir(), "broken", `this is not lua`)
			writePlugin(cfg.PluginsDir(), "fine", ``)
			start()
			Expect(rt.Manager().Plugins()).To(Equal([]string{"fine"}))
		})
	})

	Describe("Call", func() {
		It("converts arguments and returns the first non-nil result", func() {
			writePlugin(cfg.PluginsDir(), "greeter", `
				function PLUGIN:Greet(name, times) return "hello " .. name .. " x" .. times end
			`)
			writePlugin(cfg.PluginsDir(), "silent", `
				function PLUGIN:Greet() return nil end
			`)
			start()

			Expect(rt.Call(ctx, "Greet", "ada", 2)).To(Equal("hello ada x2"))
			Expect(rt.Call(ctx, "Nobody", "ada")).To(BeNil())

			got, err := rt.CallPlugin(ctx, "silent", "Greet")
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(BeNil())
			_, err = rt.CallPlugin(ctx, "missing", "Greet")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Tick", func() {
		It("fires timers as their creating plugin", func() {
			writePlugin(cfg.PluginsDir(), "ticker", `
				ticks = 0
				function PLUGIN:Init()
					host.new_timer(1, 2, function() ticks = ticks + 1 end)
				end
			`)
			start()

			rt.Tick(ctx)
			Expect(global("ticks")).To(Equal(lua.LNumber(0)))
			for range 3 {
				clock.Advance(time.Second)
				rt.Tick(ctx)
			}
			Expect(global("ticks")).To(Equal(lua.LNumber(2)))
			Expect(rt.Scheduler().Len()).To(BeZero())
		})

		It("delivers web request results on a later tick", func() {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("pong"))
			}))
			DeferCleanup(srv.Close)

			writePlugin(cfg.PluginsDir(), "pinger", `
				function PLUGIN:Ping(url)
					return host.send_request(url, function(code, body)
						got = code .. ":" .. body
					end)
				end
			`)
			start()

			Expect(rt.Call(ctx, "Ping", srv.URL)).To(BeTrue())
			Expect(global("got")).To(Equal(lua.LNil))
			Eventually(func() lua.LValue {
				rt.Tick(ctx)
				return global("got")
			}, 5*time.Second, 10*time.Millisecond).Should(Equal(lua.LString("200:pong")))
		})

		It("runs queued reloads and drops the old instance's timers", func() {
			writePlugin(cfg.PluginsDir(), "counter", `
				loads = (loads or 0) + 1
				fired = fired or 0
				function PLUGIN:Init()
					host.new_timer(1, 0, function() fired = fired + 1 end)
				end
				function PLUGIN:Reload() return host.reload_plugin("counter") end
			`)
			start()
			old, ok := rt.Manager().Get("counter")
			Expect(ok).To(BeTrue())

			Expect(rt.Call(ctx, "Reload")).To(BeTrue())
			Expect(global("loads")).To(Equal(lua.LNumber(1)))

			rt.Tick(ctx)
			Expect(global("loads")).To(Equal(lua.LNumber(2)))
			cur, ok := rt.Manager().Get("counter")
			Expect(ok).To(BeTrue())
			Expect(cur).NotTo(BeIdenticalTo(old))
			Expect(rt.Scheduler().Len()).To(Equal(1))

			clock.Advance(time.Second)
			rt.Tick(ctx)
			Expect(global("fired")).To(Equal(lua.LNumber(1)))
		})
	})

	Describe("datafiles", func() {
		It("persists through the file datastore", func() {
			writePlugin(cfg.PluginsDir(), "notes", `
				function PLUGIN:Init()
					local d = host.get_datafile("notes_main")
					d:set_text("remember")
				end
			`)
			start()
			Expect(rt.Close(ctx)).To(Succeed())

			body, err := os.ReadFile(filepath.Join(cfg.DataDir(), "notes_main.txt"))
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(Equal("remember"))
		})
	})

	Describe("host types", func() {
		It("exposes registered types to scripts", func() {
			opts = append(opts, runtime.WithTypes(func(reg *bridge.Registry) error {
				_, err := reg.Register((*list.List)(nil), bridge.Constructor(list.New))
				return err
			}))
			writePlugin(cfg.PluginsDir(), "lists", `
				function PLUGIN:Init()
					local t = host.get_type("container/list.List")
					local l = host.new(t)
					host.request_method("List.PushBack", t, "PushBack")
					List.PushBack(l, "a")
					List.PushBack(l, "b")
					local length = host.request_method("", t, "Len")
					size = length(l)
				end
			`)
			start()
			Expect(global("size")).To(Equal(lua.LNumber(2)))
		})

		It("rejects blocked registrations", func() {
			cfg.Policy.Deny = append(cfg.Policy.Deny, "container/list")
			_, err := runtime.New(ctx, &cfg, runtime.WithTypes(func(reg *bridge.Registry) error {
				_, err := reg.Register((*list.List)(nil))
				return err
			}))
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Run", func() {
		It("ticks until the context ends", func() {
			cfg.TickRate = 5 * time.Millisecond
			writePlugin(cfg.PluginsDir(), "ticker", `
				ticks = 0
				function PLUGIN:Init()
					host.new_timer(0, 0, function() ticks = ticks + 1 end)
				end
			`)
			start()

			runCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
			defer cancel()
			Expect(rt.Run(runCtx)).To(Succeed())
			Expect(float64(global("ticks").(lua.LNumber))).To(BeNumerically(">", 0))
		})
	})

	Describe("Close", func() {
		It("calls Unload before saving datafiles and is idempotent", func() {
			writePlugin(cfg.PluginsDir(), "bye", `
				function PLUGIN:Unload()
					host.get_datafile("bye_state"):set_text("unloaded")
				end
			`)
			start()
			Expect(rt.Close(ctx)).To(Succeed())
			Expect(rt.Ready()).To(BeFalse())
			Expect(rt.Close(ctx)).To(Succeed())

			body, err := os.ReadFile(filepath.Join(cfg.DataDir(), "bye_state.txt"))
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(Equal("unloaded"))
		})
	})
})
