// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

package timer

import "github.com/prometheus/client_golang/prometheus"

// Status constants for timer metrics.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Fires counts timer callback executions.
// Use RegisterMetrics to register this with a Prometheus registry.
var Fires = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cinder_timer_fires_total",
		Help: "Total number of timer callback executions",
	},
	[]string{"status"},
)

// TimersActive is the number of timers that have not finished.
var TimersActive = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "cinder_timers_active",
		Help: "Number of active timers",
	},
)

// RegisterMetrics registers timer metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Fires)
	reg.MustRegister(TimersActive)
}
