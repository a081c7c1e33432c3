// Copyright 2026 The Panel Engine Authors
package obs

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ModeSlicesRendered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mode_slices_rendered_total",
		Help: "Total number of display slices rendered, by mode",
	}, []string{"mode"})
	ModeSliceDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mode_slice_duration_seconds",
		Help:    "Histogram of how long each rendered slice actually ran",
		Buckets: prometheus.DefBuckets,
	})
	RotationIndex = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rotation_index",
		Help: "Current cursor into the available_modes rotation",
	})
	BrightnessCurrent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "brightness_current",
		Help: "Current backlight brightness (0-100)",
	})
	DisplayActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "display_active",
		Help: "1 if the schedule says the panel should be on, else 0",
	})
	OnDemandActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "on_demand_active",
		Help: "1 if an on-demand request currently owns the panel, else 0",
	})
	CircuitBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "plugin_circuit_breaker_state",
		Help: "0 Closed, 1 HalfOpen, 2 Open, by plugin",
	}, []string{"plugin"})
	CircuitBreakerTrips = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "plugin_circuit_breaker_trips_total",
		Help: "Count of times a plugin's circuit breaker transitioned to Open",
	}, []string{"plugin"})
	PluginFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "plugin_call_failures_total",
		Help: "Total plugin call failures, by plugin and operation",
	}, []string{"plugin", "op"})
	WifiBannerShown = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wifi_banner_shown_total",
		Help: "Total number of times a WiFi banner preempted rendering",
	})
)

func init() {
	prometheus.MustRegister(
		ModeSlicesRendered, ModeSliceDuration, RotationIndex, BrightnessCurrent,
		DisplayActive, OnDemandActive, CircuitBreakerState, CircuitBreakerTrips,
		PluginFailures, WifiBannerShown,
	)
}
