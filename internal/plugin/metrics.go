// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

package plugin

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Status constants for hook call metrics.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// HookCalls is the counter for hook invocations on individual plugins.
// Use RegisterMetrics to register this with a Prometheus registry.
var HookCalls = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cinder_hook_calls_total",
		Help: "Total number of plugin hook invocations",
	},
	[]string{"hook", "status"},
)

// HookDuration is the histogram for hook execution duration.
// Use RegisterMetrics to register this with a Prometheus registry.
var HookDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "cinder_hook_duration_seconds",
		Help:    "Plugin hook execution duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"hook"},
)

// PluginsLoaded is the number of registered plugins.
var PluginsLoaded = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "cinder_plugins_loaded",
		Help: "Number of loaded plugins",
	},
)

// RegisterMetrics registers plugin package metrics with the given Prometheus registry.
// This must be called at startup to make metrics available on /metrics.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(HookCalls)
	reg.MustRegister(HookDuration)
	reg.MustRegister(PluginsLoaded)
}
