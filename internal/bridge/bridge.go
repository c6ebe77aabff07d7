// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

package bridge

import (
	"log/slog"

	lua "github.com/yuin/gopher-lua"

	"github.com/cinderhost/cinder/internal/plugin"
	"github.com/cinderhost/cinder/pkg/errutil"
)

// Bridge resolves registered host members for scripts.
//
// A Bridge belongs to the goroutine driving its Lua state.
type Bridge struct {
	reg    *Registry
	logger *slog.Logger
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger used for resolution failures.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		b.logger = l
	}
}

// New creates a bridge over reg.
func New(reg *Registry, opts ...Option) *Bridge {
	b := &Bridge{
		reg:    reg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Registry returns the registry the bridge resolves against.
func (b *Bridge) Registry() *Registry {
	return b.reg
}

// ResolveTypeByName looks up a registered type after applying the policy.
func (b *Bridge) ResolveTypeByName(name string) (*Type, error) {
	return b.reg.Lookup(name)
}

// fail logs a resolution failure attributed to the calling plugin. Scripts
// receive a sentinel instead of an error.
func (b *Bridge) fail(L *lua.LState, op string, err error, attrs ...any) {
	Failures.WithLabelValues(op).Inc()
	logger := b.logger.With("operation", op)
	if caller := plugin.CallerFrom(L.Context()); caller != "" {
		logger = logger.With("plugin", caller)
	}
	if len(attrs) > 0 {
		logger = logger.With(attrs...)
	}
	errutil.LogError(logger, "bridge request failed", err)
}
