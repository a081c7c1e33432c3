// Copyright 2026 The Panel Engine Authors

// Package runloop implements the Run Loop: the single control thread that
// drives every panel write, orchestrating the Schedule Evaluator, Arbiter,
// Plugin Executor, and Request Channel into one deterministic sequence of
// updates per iteration, generalized from a single-goroutine work-queue
// dequeue loop: "fetch and process one job" becomes "decide and render
// one mode".
package runloop

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ledwall/panelengine/internal/arbiter"
	"github.com/ledwall/panelengine/internal/config"
	"github.com/ledwall/panelengine/internal/executor"
	"github.com/ledwall/panelengine/internal/health"
	"github.com/ledwall/panelengine/internal/obs"
	"github.com/ledwall/panelengine/internal/ondemand"
	"github.com/ledwall/panelengine/internal/plugin"
	"github.com/ledwall/panelengine/internal/reqchan"
	"github.com/ledwall/panelengine/internal/rotation"
	"github.com/ledwall/panelengine/internal/schedule"
	"github.com/ledwall/panelengine/internal/ticker"
	"github.com/ledwall/panelengine/internal/wifibanner"
	"go.uber.org/zap"
)

// tickerGapWidth is the blank-pixel gap the Ticker Compositor inserts
// between adjacent plugins' frame bags on the ribbon.
const tickerGapWidth = 16

// configChangeBuffer bounds the config hot-reload channel: one pending
// reload is enough, since a second file write before the first is drained
// just means the newer Config wins.
const configChangeBuffer = 1

// Engine is the Run Loop's owner. It exclusively owns RotationState and
// OnDemandState; external callers only write to the Request Channel.
type Engine struct {
	cfg      *config.Config
	log      *zap.Logger
	registry *plugin.Registry
	exec     *executor.Executor
	tracker  *health.Tracker
	rc       reqchan.RequestChannel
	snapshot *reqchan.SnapshotStore
	ondemand *ondemand.Manager
	updateSched *executor.UpdateScheduler
	tickerComp  *ticker.Compositor
	tickerSink  ticker.FrameSink
	configCh    chan *config.Config

	rotationState rotation.State
	onDemand      ondemand.State
	forceChange   bool
	lastActive    bool
	lastDimmed    bool
	processedID   string

	nowFunc   func() time.Time
	sleepFunc func(ctx context.Context, d time.Duration, tickEvery time.Duration, onTick func())
}

// New builds an Engine. snapshot may be nil, in which case on-demand state
// survives only as long as the Request Channel keeps display_on_demand_config.
func New(cfg *config.Config, log *zap.Logger, registry *plugin.Registry, exec *executor.Executor, tracker *health.Tracker, rc reqchan.RequestChannel, snapshot *reqchan.SnapshotStore, mgr *ondemand.Manager) *Engine {
	return &Engine{
		cfg:         cfg,
		log:         log,
		registry:    registry,
		exec:        exec,
		tracker:     tracker,
		rc:          rc,
		snapshot:    snapshot,
		ondemand:    mgr,
		updateSched: executor.NewUpdateScheduler(),
		tickerComp:  ticker.New(cfg.Display.VegasScroll, log),
		configCh:    make(chan *config.Config, configChangeBuffer),
		nowFunc:     time.Now,
		sleepFunc:   tickableSleep,
	}
}

// SetTickerSink wires the downstream frame writer the Ticker Compositor
// draws composed ribbon frames to. Like plugin factories, the hardware
// write lives outside this engine; a nil sink (the default) makes a
// ticker decision degrade to an idle wait instead of rendering anything.
func (e *Engine) SetTickerSink(sink ticker.FrameSink) {
	e.tickerSink = sink
}

// ConfigChanges returns the channel a downstream watcher (config.WatchConfig)
// publishes reloaded configs to. The Run Loop is the channel's only reader,
// draining it once per iteration between slices so a reload never races a
// render in progress.
func (e *Engine) ConfigChanges() chan<- *config.Config {
	return e.configCh
}

// tickableSleep blocks up to d, waking every tickEvery to run onTick, so
// background plugin updates keep firing during long slices or idle waits
// instead of stalling for the full sleep.
func tickableSleep(ctx context.Context, d time.Duration, tickEvery time.Duration, onTick func()) {
	deadline := time.Now().Add(d)
	ticker := time.NewTicker(tickEvery)
	defer ticker.Stop()
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(min(remaining, tickEvery)):
			if onTick != nil {
				onTick()
			}
			return
		case <-ticker.C:
			if onTick != nil {
				onTick()
			}
		}
	}
}

func min(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

// Run drives the Run Loop until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.restoreOnDemandSnapshot(ctx)
	for ctx.Err() == nil {
		e.iterate(ctx)
	}
	return ctx.Err()
}

// restoreOnDemandSnapshot restores an in-flight on-demand session across a
// restart: the Request Channel's copy of display_on_demand_config wins when
// present, falling back to the local SQLite snapshot so a Redis flush
// doesn't also lose the session.
func (e *Engine) restoreOnDemandSnapshot(ctx context.Context) {
	raw, ok, err := e.rc.Get(ctx, reqchan.KeyOnDemandConfig)
	if err != nil || !ok {
		if e.snapshot == nil {
			return
		}
		raw, ok, err = e.snapshot.Load()
		if err != nil || !ok {
			return
		}
	}
	var s ondemand.State
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		e.log.Warn("failed to restore on-demand snapshot", zap.Error(err))
		return
	}
	e.onDemand = s
	e.rotationState.ResumeIndex = s.ResumeIndex
	e.log.Info("restored on-demand state from snapshot", zap.String("plugin_id", s.PluginID))
}

// persistOnDemandConfig writes the current OnDemandState to both the
// Request Channel and the local snapshot store so a restart can recover it.
func (e *Engine) persistOnDemandConfig(ctx context.Context) {
	payload, err := json.Marshal(e.onDemand)
	if err != nil {
		e.log.Error("failed to marshal on-demand config snapshot", zap.Error(err))
		return
	}
	if err := e.rc.Set(ctx, reqchan.KeyOnDemandConfig, string(payload)); err != nil {
		e.log.Warn("failed to persist on-demand config to request channel", zap.Error(err))
	}
	if e.snapshot != nil {
		if err := e.snapshot.Save(string(payload)); err != nil {
			e.log.Warn("failed to persist on-demand config snapshot", zap.Error(err))
		}
	}
}

// iterate performs one Run Loop pass: poll on-demand requests, tick plugin
// updates, evaluate the schedule, check on-demand expiry, decide what to
// render, render it, publish state, and advance rotation.
func (e *Engine) iterate(ctx context.Context) {
	now := e.nowFunc()
	nowSec := float64(now.Unix())

	// 1-2: poll the request channel's single request key and apply the
	// on-demand directive stored there.
	e.processOnDemandRequests(ctx, nowSec)

	// 3: run due plugin updates inline; each Update call blocks for at most
	// the executor's update timeout.
	e.tickPluginUpdates(ctx)

	// drain at most one pending config reload between slices, so a reload
	// never lands mid-render.
	e.drainConfigChanges()

	// 4: schedule evaluation, with on-demand override.
	result := schedule.Evaluate(now, e.cfg.Schedule, e.cfg.DimSchedule, e.cfg.Display.Hardware.Brightness)
	if result.Degraded {
		e.log.Warn("schedule evaluation degraded to always-active", zap.String("reason", result.DegradeMsg))
	}
	active := result.Active || e.onDemand.Active
	if active != e.lastActive {
		e.log.Info("display active transition", zap.Bool("active", active))
		e.lastActive = active
		obs.DisplayActive.Set(boolToFloat(active))
	}
	if !active {
		e.sleepFunc(ctx, e.cfg.Engine.IdleSleep, e.cfg.Engine.NormalTickInterval, func() { e.tickPluginUpdates(ctx) })
		return
	}

	// 5: dim schedule.
	dimmed := result.Brightness != e.cfg.Display.Hardware.Brightness
	if dimmed != e.lastDimmed {
		e.log.Info("brightness dim transition", zap.Bool("dimmed", dimmed))
		e.lastDimmed = dimmed
	}
	obs.BrightnessCurrent.Set(float64(result.Brightness))

	// expiry check before arbitration so an expired on-demand doesn't win.
	e.checkOnDemandExpiry(ctx, nowSec)

	// 6: arbiter decision.
	decision := e.decide(ctx, now)

	// 7: WiFi banner short-circuits plugin dispatch entirely.
	if decision.Reason == arbiter.ReasonWifiBanner {
		obs.WifiBannerShown.Inc()
		e.sleepFunc(ctx, e.cfg.Engine.WifiBannerSleep, e.cfg.Engine.WifiBannerSleep, nil)
		e.publishState(ctx, nowSec)
		return
	}

	// 7b: the ticker compositor owns its own render loop instead of a
	// single plugin's Display, so it is dispatched before the
	// empty-PluginID idle fallback below would otherwise swallow it.
	if decision.Reason == arbiter.ReasonTicker {
		e.runTicker(ctx)
		e.publishState(ctx, nowSec)
		return
	}

	if decision.PluginID == "" {
		e.sleepFunc(ctx, e.cfg.Engine.IdleSleep, e.cfg.Engine.NormalTickInterval, func() { e.tickPluginUpdates(ctx) })
		return
	}

	desc, ok := e.registry.Get(decision.PluginID)
	if !ok {
		e.sleepFunc(ctx, e.cfg.Engine.NormalTickInterval, e.cfg.Engine.NormalTickInterval, nil)
		return
	}

	lastOutcome := e.renderSlice(ctx, decision, desc)
	e.publishState(ctx, nowSec)

	if decision.Reason == arbiter.ReasonRotation || decision.Reason == arbiter.ReasonLivePriority {
		e.advanceRotation(desc.ID, lastOutcome)
	}
	e.forceChange = false
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// decide gathers the Arbiter's input and asks it for a decision.
func (e *Engine) decide(ctx context.Context, now time.Time) arbiter.Decision {
	in := arbiter.Input{
		OnDemandActive:      e.onDemand.Active,
		OnDemandMode:        e.onDemand.CurrentMode(),
		OnDemandPlugin:      e.onDemand.PluginID,
		LivePriorityPlugins: arbiter.LiveCandidatesFromRegistry(e.registry.All()),
		AvailableModes:      e.registry.AvailableModes(),
		TickerEnabled:       e.cfg.Display.VegasScroll.Enabled,
		TickerMode:          ticker.ModeName,
	}

	if banner, err := wifibanner.Read(e.cfg.WifiBanner.StatusFilePath, e.nowFunc); err == nil && banner != nil {
		in.WifiBannerValid = true
	}

	modes := e.registry.AvailableModes()
	e.rotationState.ClampToLen(len(modes))
	in.RotationMode = e.rotationState.Current(modes)
	if owner, ok := e.registry.OwnerOf(in.RotationMode); ok {
		in.RotationPluginID = owner.ID
	}

	return arbiter.Decide(in)
}

// renderSlice computes the slice budget and runs the inner render loop for
// (mode, plugin): repeated Display calls ticked at the plugin's cadence
// until the budget, a completed cycle, or a failure ends the slice.
func (e *Engine) renderSlice(ctx context.Context, decision arbiter.Decision, desc *plugin.Descriptor) executor.Outcome {
	p := desc.Instance
	mode := decision.Mode
	var lastOutcome executor.Outcome

	var onDemandRemaining time.Duration
	if r := e.onDemand.Remaining(float64(e.nowFunc().Unix())); r != nil {
		onDemandRemaining = time.Duration(*r) * time.Second
	}
	globalCap := time.Duration(e.cfg.Display.DynamicDuration.MaxDurationSeconds) * time.Second
	budget := executor.ComputeSliceBudget(p, mode, globalCap, onDemandRemaining, e.log)

	if e.forceChange {
		p.ResetCycleState()
	}

	tickInterval := e.cfg.Engine.NormalTickInterval
	if p.EnableScrolling() {
		tickInterval = e.cfg.Engine.ScrollTickInterval
	}

	start := e.nowFunc()
	firstIter := true
	for {
		forceClear := e.forceChange && firstIter
		firstIter = false

		outcome := e.exec.Display(ctx, desc.ID, p, mode, forceClear)
		lastOutcome = outcome
		if outcome.Failed {
			e.log.Warn("plugin display failed", zap.String("plugin_id", desc.ID), zap.Error(outcome.Err))
			break
		}

		e.sleepFunc(ctx, tickInterval, tickInterval, func() {
			e.tickPluginUpdates(ctx)
			e.processOnDemandRequests(ctx, float64(e.nowFunc().Unix()))
			e.checkOnDemandExpiry(ctx, float64(e.nowFunc().Unix()))
		})

		if ctx.Err() != nil {
			return lastOutcome
		}

		elapsed := e.nowFunc().Sub(start)
		if elapsed >= budget.Target {
			break
		}
		if p.SupportsDynamicDuration() && elapsed >= budget.MinDur+e.cfg.Engine.CycleGrace && p.IsCycleComplete() {
			break
		}
		if outcome.NoContent && !p.SupportsDynamicDuration() {
			break
		}
	}

	if !lastOutcome.Failed && !p.SupportsDynamicDuration() {
		remaining := budget.MaxDur - e.nowFunc().Sub(start)
		if remaining > 0 {
			e.sleepFunc(ctx, remaining, tickInterval, func() { e.tickPluginUpdates(ctx) })
		}
	}

	return lastOutcome
}

// advanceRotation moves the rotation cursor past the just-rendered mode, or
// past every mode owned by pluginID if the last outcome was a failure, so a
// crashing plugin's other modes are not immediately re-tried.
func (e *Engine) advanceRotation(pluginID string, outcome executor.Outcome) {
	modes := e.registry.AvailableModes()
	if outcome.Failed {
		e.rotationState.SkipPlugin(modes, pluginID, func(mode string) string {
			if owner, ok := e.registry.OwnerOf(mode); ok {
				return owner.ID
			}
			return ""
		})
		return
	}
	e.rotationState.Advance(modes)
}

// tickPluginUpdates runs Update on every enabled plugin whose declared
// cadence (update_cron or update_interval_s) is due, rather than on every
// Run Loop tick regardless of how expensive or rate-limited a plugin's
// refresh is.
func (e *Engine) tickPluginUpdates(ctx context.Context) {
	now := e.nowFunc()
	for _, desc := range e.registry.All() {
		if !desc.Enabled {
			continue
		}
		if !e.updateSched.Due(desc.ID, desc.Manifest, now) {
			continue
		}
		_ = e.exec.Update(ctx, desc.ID, desc.Instance)
	}
}

// runTicker composes the current ribbon from every loaded, enabled plugin
// that implements ticker.FrameSource and drives it until the interrupt
// probe reports that a higher-priority signal wants the panel back.
// Without a registered sink or without any plugin contributing frames, it
// waits one normal tick interval instead of rendering.
func (e *Engine) runTicker(ctx context.Context) {
	if e.tickerSink == nil {
		e.sleepFunc(ctx, e.cfg.Engine.NormalTickInterval, e.cfg.Engine.NormalTickInterval, nil)
		return
	}

	sources := make(map[string]ticker.FrameSource)
	var discoveryOrder []string
	for _, desc := range e.registry.All() {
		if !desc.Enabled {
			continue
		}
		discoveryOrder = append(discoveryOrder, desc.ID)
		if src, ok := desc.Instance.(ticker.FrameSource); ok {
			sources[desc.ID] = src
		}
	}
	if len(sources) == 0 {
		e.sleepFunc(ctx, e.cfg.Engine.NormalTickInterval, e.cfg.Engine.NormalTickInterval, nil)
		return
	}

	order := ticker.OrderedPluginIDs(e.cfg.Display.VegasScroll, discoveryOrder)
	ribbon := ticker.CollectRibbon(ctx, order, sources, tickerGapWidth, e.log)
	if len(ribbon) == 0 {
		e.sleepFunc(ctx, e.cfg.Engine.NormalTickInterval, e.cfg.Engine.NormalTickInterval, nil)
		return
	}

	probe := func() bool {
		nowSec := float64(e.nowFunc().Unix())
		e.processOnDemandRequests(ctx, nowSec)
		e.checkOnDemandExpiry(ctx, nowSec)
		return e.decide(ctx, e.nowFunc()).Reason != arbiter.ReasonTicker
	}
	render := func(f ticker.Frame) error {
		return e.tickerSink.WriteFrame(ctx, f)
	}

	if err := e.tickerComp.Run(ctx, ribbon, render, probe); err != nil && ctx.Err() == nil {
		e.log.Warn("ticker compositor run failed", zap.Error(err))
	}
}

// drainConfigChanges applies at most one pending reloaded config, pushing
// it to every loaded plugin's OnConfigChange so a plugin can react (e.g.
// re-read a tunable) without restarting the daemon.
func (e *Engine) drainConfigChanges() {
	select {
	case cfg := <-e.configCh:
		e.cfg = cfg
		e.tickerComp = ticker.New(cfg.Display.VegasScroll, e.log)
		for _, desc := range e.registry.All() {
			desc.Instance.OnConfigChange(cfg)
		}
		e.log.Info("applied reloaded config")
	default:
	}
}

func (e *Engine) publishState(ctx context.Context, nowSec float64) {
	wire := e.onDemand.ToWire(nowSec)
	payload, err := json.Marshal(wire)
	if err != nil {
		e.log.Error("failed to marshal on-demand state", zap.Error(err))
		return
	}
	if err := e.rc.Set(ctx, reqchan.KeyOnDemandState, string(payload)); err != nil {
		e.log.Warn("failed to publish on-demand state", zap.Error(err))
	}
	obs.OnDemandActive.Set(boolToFloat(e.onDemand.Active))
	obs.RotationIndex.Set(float64(e.rotationState.Index))
}

// processOnDemandRequests reads the Request Channel's single request key
// once and applies the one request stored there, discarding a start whose
// request_id was already processed. A request overwritten by a newer one
// before this poll is never seen, so of a start and a stop submitted
// between two polls only the later one is applied.
func (e *Engine) processOnDemandRequests(ctx context.Context, nowSec float64) {
	raw, ok, err := e.rc.Get(ctx, reqchan.KeyOnDemandRequest)
	if err != nil || !ok {
		return
	}

	var req ondemand.Request
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		e.log.Warn("malformed on-demand request, discarding", zap.Error(err))
		return
	}

	if req.Action == "start" && req.RequestID == e.processedID {
		return
	}

	if err := e.rc.Set(ctx, reqchan.KeyOnDemandProcessed, req.RequestID); err != nil {
		e.log.Warn("failed to record processed request id", zap.Error(err))
	}
	e.processedID = req.RequestID

	switch req.Action {
	case "start":
		e.applyStartRequest(ctx, req, nowSec)
	case "stop":
		e.applyStopRequest(ctx)
	}
}

func (e *Engine) applyStartRequest(ctx context.Context, req ondemand.Request, nowSec float64) {
	pluginID, modes, err := e.ondemand.Resolve(req)
	if err != nil {
		e.onDemand = ondemand.ApplyError(req, err, nowSec)
		e.log.Warn("on-demand start request rejected", zap.String("request_id", req.RequestID), zap.Error(err))
		e.persistOnDemandConfig(ctx)
		return
	}
	e.registry.SetEnabled(pluginID, true)
	e.rotationState.ResumeIndex = e.rotationState.Index
	e.onDemand = ondemand.ApplyStart(req, pluginID, modes, nowSec)
	e.forceChange = true
	e.log.Info("on-demand request started", zap.String("plugin_id", pluginID), zap.String("request_id", req.RequestID))
	e.persistOnDemandConfig(ctx)
}

func (e *Engine) applyStopRequest(ctx context.Context) {
	if !e.onDemand.Active {
		e.onDemand.LastEvent = "stop-request-ignored"
		return
	}
	e.onDemand = ondemand.ApplyStop(e.rotationState.ResumeIndex)
	e.rotationState.Index = e.rotationState.ResumeIndex
	e.forceChange = true
	e.persistOnDemandConfig(ctx)
}

func (e *Engine) checkOnDemandExpiry(ctx context.Context, nowSec float64) {
	expired, next := ondemand.CheckExpiry(e.onDemand, nowSec, e.rotationState.ResumeIndex)
	if !expired {
		return
	}
	e.onDemand = next
	e.rotationState.Index = e.rotationState.ResumeIndex
	e.forceChange = true
	e.log.Info("on-demand request expired")
	e.persistOnDemandConfig(ctx)
}
