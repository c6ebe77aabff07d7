// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

package webrequest

import "github.com/prometheus/client_golang/prometheus"

// Status constants for request metrics.
const (
	StatusSuccess   = "success"
	StatusHTTPError = "http_error"
	StatusFailure   = "failure"
)

// Completed counts requests delivered to the poll loop.
// Use RegisterMetrics to register this with a Prometheus registry.
var Completed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cinder_webrequests_total",
		Help: "Total number of completed plugin web requests",
	},
	[]string{"status"},
)

// InFlight is the number of requests currently running.
var InFlight = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "cinder_webrequests_in_flight",
		Help: "Number of plugin web requests currently running",
	},
)

// Queued is the number of requests waiting for a slot.
var Queued = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "cinder_webrequests_queued",
		Help: "Number of plugin web requests waiting to run",
	},
)

// RegisterMetrics registers web request metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Completed)
	reg.MustRegister(InFlight)
	reg.MustRegister(Queued)
}
