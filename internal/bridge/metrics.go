// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

package bridge

import "github.com/prometheus/client_golang/prometheus"

// Failures counts bridge requests that degraded to a sentinel result,
// labelled by operation.
// Use RegisterMetrics to register this with a Prometheus registry.
var Failures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cinder_bridge_failures_total",
		Help: "Total number of failed reflection bridge requests",
	},
	[]string{"kind"},
)

// RegisterMetrics registers bridge metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Failures)
}
