// Copyright 2026 The Panel Engine Authors
package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ledwall/panelengine/internal/config"
	"github.com/ledwall/panelengine/internal/health"
	"github.com/ledwall/panelengine/internal/plugin"
	"go.uber.org/zap"
)

type fakePlugin struct {
	plugin.BasePlugin
	displayResult bool
	displayErr    error
	displayDelay  time.Duration
	dynamic       bool
	dynCap        time.Duration
	cycle         time.Duration
	hasCycle      bool
}

func (f *fakePlugin) Display(ctx context.Context, mode string, forceClear bool) (bool, error) {
	if f.displayDelay > 0 {
		select {
		case <-time.After(f.displayDelay):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	return f.displayResult, f.displayErr
}
func (f *fakePlugin) SupportsDynamicDuration() bool        { return f.dynamic }
func (f *fakePlugin) GetDynamicDurationCap() time.Duration { return f.dynCap }
func (f *fakePlugin) GetCycleDuration(mode string) (time.Duration, bool) {
	return f.cycle, f.hasCycle
}

func testExecutor() *Executor {
	tr := health.NewTracker(config.CircuitBreakerConfig{MinSamples: 5, CooldownPeriod: time.Second}, zap.NewNop())
	cfg := config.ExecutorConfig{DisplayTimeout: 50 * time.Millisecond, UpdateTimeout: 50 * time.Millisecond}
	return New(tr, cfg, zap.NewNop())
}

func TestExecutorDisplayRendered(t *testing.T) {
	e := testExecutor()
	p := &fakePlugin{BasePlugin: plugin.BasePlugin{ID: "clock"}, displayResult: true}
	out := e.Display(context.Background(), "clock", p, "clock", false)
	if !out.Rendered || out.Failed || out.NoContent {
		t.Fatalf("expected Rendered outcome, got %+v", out)
	}
}

func TestExecutorDisplayNoContent(t *testing.T) {
	e := testExecutor()
	p := &fakePlugin{BasePlugin: plugin.BasePlugin{ID: "clock"}, displayResult: false}
	out := e.Display(context.Background(), "clock", p, "clock", false)
	if !out.NoContent || out.Failed || out.Rendered {
		t.Fatalf("expected NoContent outcome, got %+v", out)
	}
}

func TestExecutorDisplayFailed(t *testing.T) {
	e := testExecutor()
	p := &fakePlugin{BasePlugin: plugin.BasePlugin{ID: "clock"}, displayErr: errors.New("broke")}
	out := e.Display(context.Background(), "clock", p, "clock", false)
	if !out.Failed || out.Rendered || out.NoContent {
		t.Fatalf("expected Failed outcome, got %+v", out)
	}
}

func TestExecutorDisplayTimeout(t *testing.T) {
	e := testExecutor()
	p := &fakePlugin{BasePlugin: plugin.BasePlugin{ID: "slow"}, displayResult: true, displayDelay: 200 * time.Millisecond}
	out := e.Display(context.Background(), "slow", p, "slow", false)
	if !out.Failed {
		t.Fatalf("expected Failed outcome on timeout, got %+v", out)
	}
}

func TestExecutorSkipsCallWhenCircuitOpen(t *testing.T) {
	e := testExecutor()
	p := &fakePlugin{BasePlugin: plugin.BasePlugin{ID: "flaky"}, displayErr: errors.New("fail")}
	for i := 0; i < 5; i++ {
		e.Display(context.Background(), "flaky", p, "flaky", false)
	}
	calledAgain := &fakePlugin{BasePlugin: plugin.BasePlugin{ID: "flaky"}, displayResult: true}
	out := e.Display(context.Background(), "flaky", calledAgain, "flaky", false)
	if !out.Failed {
		t.Fatalf("expected circuit-open failure without invoking plugin, got %+v", out)
	}
}

func TestComputeSliceBudgetStaticPlugin(t *testing.T) {
	p := &fakePlugin{BasePlugin: plugin.BasePlugin{ID: "clock", DisplayDuration: 10 * time.Second}}
	b := ComputeSliceBudget(p, "clock", 180*time.Second, 0, zap.NewNop())
	if b.Target != 10*time.Second || b.MinDur != 10*time.Second || b.MaxDur != 10*time.Second {
		t.Fatalf("expected static 10s budget, got %+v", b)
	}
}

func TestComputeSliceBudgetDynamicUsesCycleWhenPresent(t *testing.T) {
	p := &fakePlugin{
		BasePlugin: plugin.BasePlugin{ID: "scoreboard", DisplayDuration: 20 * time.Second},
		dynamic:    true,
		dynCap:     120 * time.Second,
		cycle:      45 * time.Second,
		hasCycle:   true,
	}
	b := ComputeSliceBudget(p, "scoreboard", 180*time.Second, 0, zap.NewNop())
	if b.Target != 45*time.Second {
		t.Fatalf("expected target to follow plugin cycle, got %+v", b)
	}
	if b.MaxDur > 120*time.Second {
		t.Fatalf("expected max to respect plugin cap, got %+v", b)
	}
}

func TestComputeSliceBudgetRespectsOnDemandRemaining(t *testing.T) {
	p := &fakePlugin{
		BasePlugin: plugin.BasePlugin{ID: "scoreboard", DisplayDuration: 20 * time.Second},
		dynamic:    true,
		dynCap:     120 * time.Second,
	}
	b := ComputeSliceBudget(p, "scoreboard", 180*time.Second, 10*time.Second, zap.NewNop())
	if b.MaxDur > 20*time.Second {
		t.Fatalf("expected on-demand remaining to bound max duration above base, got %+v", b)
	}
}

// zeroDurationPlugin reports a zero display duration; BasePlugin alone
// would substitute its own 30s default and never reach the sanitizer.
type zeroDurationPlugin struct{ fakePlugin }

func (z *zeroDurationPlugin) GetDisplayDuration(mode string) time.Duration { return 0 }

func TestComputeSliceBudgetSanitizesNonPositive(t *testing.T) {
	p := &zeroDurationPlugin{fakePlugin{BasePlugin: plugin.BasePlugin{ID: "broken"}}}
	b := ComputeSliceBudget(p, "broken", 180*time.Second, 0, zap.NewNop())
	if b.Target != 15*time.Second {
		t.Fatalf("expected sanitized default 15s slice, got %+v", b)
	}
}
