// Copyright 2026 The Panel Engine Authors

// Package executor wraps every call into a plugin with a circuit-breaker
// gate, a per-operation-class timeout, and a tri-state outcome in place of
// exception-driven control flow, generalized from worker call-wrapping
// that guards a dequeue loop against a misbehaving job handler.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/ledwall/panelengine/internal/config"
	"github.com/ledwall/panelengine/internal/health"
	"github.com/ledwall/panelengine/internal/plugin"
	"go.uber.org/zap"
)

// Outcome is the result of one Display call: exactly one of Rendered,
// NoContent, or Failed is true, replacing the original's
// exception/return-code ambiguity.
type Outcome struct {
	Rendered  bool
	NoContent bool
	Failed    bool
	Err       error
}

// Executor wraps plugin calls with health tracking and timeouts.
type Executor struct {
	tracker *health.Tracker
	log     *zap.Logger
	cfg     config.ExecutorConfig
}

func New(tracker *health.Tracker, cfg config.ExecutorConfig, log *zap.Logger) *Executor {
	return &Executor{tracker: tracker, cfg: cfg, log: log}
}

// Display invokes p.Display(mode, forceClear) under the plugin's circuit
// breaker and a display-class timeout, never letting a plugin error or
// panic escape to the Run Loop.
func (e *Executor) Display(ctx context.Context, pluginID string, p plugin.Plugin, mode string, forceClear bool) Outcome {
	if !e.tracker.Allow(pluginID) {
		return Outcome{Failed: true, Err: fmt.Errorf("plugin %s: circuit open", pluginID)}
	}

	dctx, cancel := context.WithTimeout(ctx, e.cfg.DisplayTimeout)
	defer cancel()

	rendered, err := e.callDisplay(dctx, p, mode, forceClear)
	e.tracker.Record(pluginID, err)
	if err != nil {
		return Outcome{Failed: true, Err: fmt.Errorf("plugin %s display: %w", pluginID, err)}
	}
	if !rendered {
		return Outcome{NoContent: true}
	}
	return Outcome{Rendered: true}
}

// callDisplay recovers a panicking plugin into an error so one misbehaving
// plugin cannot take down the Run Loop.
func (e *Executor) callDisplay(ctx context.Context, p plugin.Plugin, mode string, forceClear bool) (bool, error) {
	type result struct {
		ok  bool
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{false, fmt.Errorf("plugin panic: %v", r)}
			}
		}()
		ok, callErr := p.Display(ctx, mode, forceClear)
		done <- result{ok, callErr}
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case r := <-done:
		return r.ok, r.err
	}
}

// Update invokes p.Update under the plugin's circuit breaker and an
// update-class timeout. Errors are tracked but never block the caller.
func (e *Executor) Update(ctx context.Context, pluginID string, p plugin.Plugin) error {
	if !e.tracker.Allow(pluginID) {
		return fmt.Errorf("plugin %s: circuit open", pluginID)
	}

	uctx, cancel := context.WithTimeout(ctx, e.cfg.UpdateTimeout)
	defer cancel()

	err := e.callUpdate(uctx, p)
	e.tracker.Record(pluginID, err)
	if err != nil {
		e.log.Warn("plugin update failed", zap.String("plugin_id", pluginID), zap.Error(err))
	}
	return err
}

func (e *Executor) callUpdate(ctx context.Context, p plugin.Plugin) error {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("plugin panic: %v", r)
			}
		}()
		done <- p.Update(ctx)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// SliceBudget is the computed duration envelope for one mode's render slice.
type SliceBudget struct {
	Target time.Duration
	MinDur time.Duration
	MaxDur time.Duration
}

// ComputeSliceBudget derives the render slice envelope for (mode, plugin),
// sanitizing non-positive values.
func ComputeSliceBudget(p plugin.Plugin, mode string, globalDynamicCap time.Duration, onDemandRemaining time.Duration, log *zap.Logger) SliceBudget {
	const defaultSlice = 15 * time.Second
	const defaultCap = 180 * time.Second

	base := p.GetDisplayDuration(mode)
	if base <= 0 {
		log.Warn("non-positive display duration, using default slice", zap.String("mode", mode))
		base = defaultSlice
	}

	if !p.SupportsDynamicDuration() {
		return SliceBudget{Target: base, MinDur: base, MaxDur: base}
	}

	cap := p.GetDynamicDurationCap()
	if cap <= 0 {
		cap = defaultCap
	}
	if globalDynamicCap > 0 && globalDynamicCap < cap {
		cap = globalDynamicCap
	}
	if onDemandRemaining > 0 && onDemandRemaining < cap {
		cap = onDemandRemaining
	}

	target := cap
	if cycle, ok := p.GetCycleDuration(mode); ok && cycle > 0 {
		target = cycle
	}

	maxDur := target
	if maxDur > cap {
		maxDur = cap
	}
	if maxDur < base {
		maxDur = base
	}

	return SliceBudget{Target: target, MinDur: base, MaxDur: maxDur}
}
