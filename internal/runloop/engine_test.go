// Copyright 2026 The Panel Engine Authors
package runloop

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/ledwall/panelengine/internal/config"
	"github.com/ledwall/panelengine/internal/executor"
	"github.com/ledwall/panelengine/internal/health"
	"github.com/ledwall/panelengine/internal/ondemand"
	"github.com/ledwall/panelengine/internal/plugin"
	"github.com/ledwall/panelengine/internal/reqchan"
	"github.com/ledwall/panelengine/internal/ticker"
	"go.uber.org/zap"
)

type stubPlugin struct {
	plugin.BasePlugin
	modes        []string
	displayCalls int
	fail         bool
	livePriority bool
	liveContent  bool
	liveModes    []string
}

func (s *stubPlugin) Modes() []string { return s.modes }
func (s *stubPlugin) Display(ctx context.Context, mode string, forceClear bool) (bool, error) {
	s.displayCalls++
	if s.fail {
		return false, errDisplayFailed
	}
	return true, nil
}
func (s *stubPlugin) HasLivePriority() bool   { return s.livePriority }
func (s *stubPlugin) HasLiveContent() bool    { return s.liveContent }
func (s *stubPlugin) GetLiveModes() []string  { return s.liveModes }

// FrameBag lets every stubPlugin double as a ticker.FrameSource so tests can
// exercise the ribbon without a separate plugin type.
func (s *stubPlugin) FrameBag(ctx context.Context) ([]ticker.Frame, error) {
	if s.fail {
		return nil, errDisplayFailed
	}
	return []ticker.Frame{{PluginID: s.ID, Image: []byte("x"), Width: 10}}, nil
}

var errDisplayFailed = &stubError{"plugin exploded"}

type stubError struct{ msg string }

func (e *stubError) Error() string { return e.msg }

type stubFrameSink struct {
	mu     sync.Mutex
	frames []ticker.Frame
}

func (s *stubFrameSink) WriteFrame(ctx context.Context, f ticker.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
	return nil
}

func (s *stubFrameSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func testConfig() *config.Config {
	cfg := config.Config{}
	cfg.Display.Hardware.Brightness = 80
	cfg.Display.DynamicDuration.MaxDurationSeconds = 180
	cfg.Engine.IdleSleep = 5 * time.Millisecond
	cfg.Engine.NormalTickInterval = time.Millisecond
	cfg.Engine.ScrollTickInterval = time.Millisecond
	cfg.Engine.WifiBannerSleep = time.Millisecond
	cfg.Engine.CycleGrace = time.Millisecond
	cfg.CircuitBreaker.MinSamples = 3
	cfg.CircuitBreaker.CooldownPeriod = time.Minute
	cfg.Executor.DisplayTimeout = 50 * time.Millisecond
	cfg.Executor.UpdateTimeout = 50 * time.Millisecond
	cfg.WifiBanner.StatusFilePath = "/nonexistent/wifi_status.json"
	return &cfg
}

func testEngine(t *testing.T, plugins map[string]*stubPlugin) (*Engine, reqchan.RequestChannel) {
	t.Helper()
	log := zap.NewNop()
	cfg := testConfig()

	registry := plugin.NewRegistry(log)
	var manifests []plugin.Manifest
	for id, p := range plugins {
		pp := p
		registry.RegisterFactory(id, func(m plugin.Manifest) (plugin.Plugin, error) { return pp, nil })
		manifests = append(manifests, plugin.Manifest{ID: id, Enabled: true})
	}
	if err := registry.Load(manifests); err != nil {
		t.Fatalf("Load: %v", err)
	}

	tracker := health.NewTracker(cfg.CircuitBreaker, log)
	exec := executor.New(tracker, cfg.Executor, log)
	rc := reqchan.NewMemory()
	mgr := ondemand.NewManager(registry)

	e := New(cfg, log, registry, exec, tracker, rc, nil, mgr)
	return e, rc
}

func TestIterateIdleRotationAdvancesCursor(t *testing.T) {
	clock := &stubPlugin{BasePlugin: plugin.BasePlugin{ID: "clock"}, modes: []string{"clock"}}
	weather := &stubPlugin{BasePlugin: plugin.BasePlugin{ID: "weather"}, modes: []string{"weather"}}
	e, _ := testEngine(t, map[string]*stubPlugin{"clock": clock, "weather": weather})

	ctx := context.Background()
	e.iterate(ctx)
	if clock.displayCalls == 0 && weather.displayCalls == 0 {
		t.Fatal("expected one plugin to have been rendered")
	}
	if clock.displayCalls > 0 && weather.displayCalls > 0 {
		t.Fatal("expected exactly one plugin rendered per iteration, not both")
	}

	startIndex := e.rotationState.Index
	e.iterate(ctx)
	if e.rotationState.Index == startIndex && len(e.registry.AvailableModes()) > 1 {
		t.Fatal("expected rotation cursor to advance across iterations")
	}
}

func TestIterateOnDemandStartPreemptsRotation(t *testing.T) {
	clock := &stubPlugin{BasePlugin: plugin.BasePlugin{ID: "clock"}, modes: []string{"clock"}}
	scoreboard := &stubPlugin{BasePlugin: plugin.BasePlugin{ID: "scoreboard"}, modes: []string{"scoreboard"}}
	e, rc := testEngine(t, map[string]*stubPlugin{"clock": clock, "scoreboard": scoreboard})

	ctx := context.Background()
	req := ondemand.Request{RequestID: "r1", Action: "start", PluginID: "scoreboard"}
	payload, _ := json.Marshal(req)
	if err := rc.Set(ctx, reqchan.KeyOnDemandRequest, string(payload)); err != nil {
		t.Fatalf("Set: %v", err)
	}

	e.iterate(ctx)

	if !e.onDemand.Active || e.onDemand.PluginID != "scoreboard" {
		t.Fatalf("expected on-demand to activate scoreboard, got %+v", e.onDemand)
	}
	if scoreboard.displayCalls == 0 {
		t.Fatal("expected scoreboard to be rendered under on-demand override")
	}
}

func TestIterateOnDemandExpiresBackToRotation(t *testing.T) {
	clock := &stubPlugin{BasePlugin: plugin.BasePlugin{ID: "clock"}, modes: []string{"clock"}}
	e, _ := testEngine(t, map[string]*stubPlugin{"clock": clock})

	dur := 1.0
	e.onDemand = ondemand.ApplyStart(ondemand.Request{RequestID: "r1", Duration: &dur}, "clock", []string{"clock"}, 1000)
	// The clock starts past the expiry and keeps moving, so the rotation
	// slice that follows the expiry can reach its budget and end.
	base := time.Now()
	e.nowFunc = func() time.Time { return time.Unix(1002, 0).Add(time.Since(base)) }

	ctx := context.Background()
	e.iterate(ctx)

	if e.onDemand.Active {
		t.Fatalf("expected on-demand to have expired, got %+v", e.onDemand)
	}
}

func TestIterateLivePriorityPreemptsRotation(t *testing.T) {
	clock := &stubPlugin{BasePlugin: plugin.BasePlugin{ID: "clock"}, modes: []string{"clock"}}
	scoreboard := &stubPlugin{
		BasePlugin:   plugin.BasePlugin{ID: "scoreboard"},
		modes:        []string{"scoreboard", "scoreboard_live"},
		livePriority: true,
		liveContent:  true,
		liveModes:    []string{"scoreboard_live"},
	}
	e, _ := testEngine(t, map[string]*stubPlugin{"clock": clock, "scoreboard": scoreboard})

	ctx := context.Background()
	e.iterate(ctx)

	if scoreboard.displayCalls == 0 {
		t.Fatal("expected scoreboard_live to preempt rotation")
	}
}

func TestIteratePluginFailureOpensCircuitAndSkipsPlugin(t *testing.T) {
	buggy := &stubPlugin{BasePlugin: plugin.BasePlugin{ID: "buggy"}, modes: []string{"buggy"}, fail: true}
	clock := &stubPlugin{BasePlugin: plugin.BasePlugin{ID: "clock"}, modes: []string{"clock"}}
	e, _ := testEngine(t, map[string]*stubPlugin{"buggy": buggy, "clock": clock})

	ctx := context.Background()
	e.rotationState.Index = 0
	modes := e.registry.AvailableModes()
	for i, m := range modes {
		if m == "buggy" {
			e.rotationState.Index = i
		}
	}

	for i := 0; i < 10; i++ {
		e.iterate(ctx)
	}

	summary, ok := e.tracker.Summary("buggy")
	if !ok {
		t.Fatal("expected buggy plugin to have a health summary")
	}
	if summary.Failures == 0 {
		t.Fatal("expected recorded failures for buggy plugin")
	}
	// buggy holds every other turn (5 of 10); once its circuit opens, later
	// turns are skipped without calling Display.
	if buggy.displayCalls >= 5 {
		t.Fatalf("expected the open circuit to skip at least one of buggy's turns, got %d Display calls", buggy.displayCalls)
	}
}

func TestIterateScheduleInactiveSkipsRendering(t *testing.T) {
	clock := &stubPlugin{BasePlugin: plugin.BasePlugin{ID: "clock"}, modes: []string{"clock"}}
	e, _ := testEngine(t, map[string]*stubPlugin{"clock": clock})
	e.cfg.Schedule.Enabled = true
	e.cfg.Schedule.Mode = "global"
	e.cfg.Schedule.StartTime = "00:00"
	e.cfg.Schedule.EndTime = "00:01"
	e.nowFunc = func() time.Time {
		return time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	}

	ctx := context.Background()
	e.iterate(ctx)

	if clock.displayCalls != 0 {
		t.Fatal("expected no rendering while outside the active schedule window")
	}
}

func TestIterateInvalidOnDemandRequestSetsErrorStatus(t *testing.T) {
	clock := &stubPlugin{BasePlugin: plugin.BasePlugin{ID: "clock"}, modes: []string{"clock"}}
	e, rc := testEngine(t, map[string]*stubPlugin{"clock": clock})

	ctx := context.Background()
	req := ondemand.Request{RequestID: "bad1", Action: "start", PluginID: "not-a-real-plugin-zzz"}
	payload, _ := json.Marshal(req)
	if err := rc.Set(ctx, reqchan.KeyOnDemandRequest, string(payload)); err != nil {
		t.Fatalf("Set: %v", err)
	}

	e.iterate(ctx)

	if e.onDemand.Active {
		t.Fatal("expected invalid on-demand request to stay inactive")
	}
	if e.onDemand.Status != "error" {
		t.Fatalf("expected error status, got %q", e.onDemand.Status)
	}
}

func TestIterateTickerRoutesToCompositorWhenEnabled(t *testing.T) {
	clock := &stubPlugin{BasePlugin: plugin.BasePlugin{ID: "clock"}, modes: []string{"clock"}}
	e, _ := testEngine(t, map[string]*stubPlugin{"clock": clock})
	e.cfg.Display.VegasScroll.Enabled = true
	e.cfg.Display.VegasScroll.TargetFPS = 200
	e.tickerComp = ticker.New(e.cfg.Display.VegasScroll, e.log)
	sink := &stubFrameSink{}
	e.SetTickerSink(sink)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	e.iterate(ctx)

	if sink.count() == 0 {
		t.Fatal("expected the ticker compositor to write at least one frame")
	}
	if clock.displayCalls != 0 {
		t.Fatal("expected the ticker path to skip the per-plugin Display call")
	}
}

func TestIterateTickerWithoutSinkDegradesToIdle(t *testing.T) {
	clock := &stubPlugin{BasePlugin: plugin.BasePlugin{ID: "clock"}, modes: []string{"clock"}}
	e, _ := testEngine(t, map[string]*stubPlugin{"clock": clock})
	e.cfg.Display.VegasScroll.Enabled = true

	ctx := context.Background()
	e.iterate(ctx)

	if clock.displayCalls != 0 {
		t.Fatal("expected no plugin rendering when a ticker decision has no registered sink")
	}
}

func TestDrainConfigChangesAppliesReloadAndNotifiesPlugins(t *testing.T) {
	clock := &stubPlugin{BasePlugin: plugin.BasePlugin{ID: "clock"}, modes: []string{"clock"}}
	e, _ := testEngine(t, map[string]*stubPlugin{"clock": clock})

	next := testConfig()
	next.Display.Hardware.Brightness = 42
	e.configCh <- next

	e.drainConfigChanges()

	if e.cfg.Display.Hardware.Brightness != 42 {
		t.Fatalf("expected reloaded config to replace the engine's config, got brightness %d", e.cfg.Display.Hardware.Brightness)
	}
}

func TestApplyStartRequestEnablesDisabledPlugin(t *testing.T) {
	scoreboard := &stubPlugin{BasePlugin: plugin.BasePlugin{ID: "scoreboard"}, modes: []string{"scoreboard"}}
	e, rc := testEngine(t, map[string]*stubPlugin{"scoreboard": scoreboard})
	e.registry.SetEnabled("scoreboard", false)

	ctx := context.Background()
	req := ondemand.Request{RequestID: "r1", Action: "start", PluginID: "scoreboard"}
	payload, _ := json.Marshal(req)
	if err := rc.Set(ctx, reqchan.KeyOnDemandRequest, string(payload)); err != nil {
		t.Fatalf("Set: %v", err)
	}

	e.iterate(ctx)

	desc, ok := e.registry.Get("scoreboard")
	if !ok || !desc.Enabled {
		t.Fatal("expected on-demand start to re-enable a disabled plugin")
	}
}
