// Copyright 2026 The Panel Engine Authors
package ondemand

import (
	"context"
	"testing"

	"github.com/ledwall/panelengine/internal/plugin"
	"go.uber.org/zap"
)

type stubPlugin struct {
	plugin.BasePlugin
	modes []string
}

func (s *stubPlugin) Modes() []string { return s.modes }
func (s *stubPlugin) Display(ctx context.Context, mode string, forceClear bool) (bool, error) {
	return true, nil
}

func newTestRegistry(t *testing.T) *plugin.Registry {
	t.Helper()
	r := plugin.NewRegistry(zap.NewNop())
	r.RegisterFactory("scoreboard", func(m plugin.Manifest) (plugin.Plugin, error) {
		return &stubPlugin{BasePlugin: plugin.BasePlugin{ID: "scoreboard"}, modes: []string{"scoreboard_recent", "scoreboard_live"}}, nil
	})
	r.RegisterFactory("clock", func(m plugin.Manifest) (plugin.Plugin, error) {
		return &stubPlugin{BasePlugin: plugin.BasePlugin{ID: "clock"}, modes: []string{"clock"}}, nil
	})
	if err := r.Load([]plugin.Manifest{
		{ID: "scoreboard", Enabled: true},
		{ID: "clock", Enabled: true},
	}); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return r
}

func TestResolveExactPluginAndMode(t *testing.T) {
	m := NewManager(newTestRegistry(t))
	id, modes, err := m.Resolve(Request{PluginID: "scoreboard", Mode: "scoreboard_live"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if id != "scoreboard" || len(modes) != 1 || modes[0] != "scoreboard_live" {
		t.Fatalf("unexpected resolution: %s %v", id, modes)
	}
}

func TestResolvePluginOnlyReturnsAllModes(t *testing.T) {
	m := NewManager(newTestRegistry(t))
	id, modes, err := m.Resolve(Request{PluginID: "scoreboard"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if id != "scoreboard" || len(modes) != 2 {
		t.Fatalf("expected both scoreboard modes, got %v", modes)
	}
}

func TestResolveUnknownPluginFuzzyMatches(t *testing.T) {
	m := NewManager(newTestRegistry(t))
	id, _, err := m.Resolve(Request{PluginID: "scorebord"})
	if err != nil {
		t.Fatalf("expected fuzzy match to succeed, got %v", err)
	}
	if id != "scoreboard" {
		t.Fatalf("expected fuzzy match to resolve to scoreboard, got %s", id)
	}
}

func TestResolveTrulyUnknownPluginFails(t *testing.T) {
	m := NewManager(newTestRegistry(t))
	_, _, err := m.Resolve(Request{PluginID: "zzzzznotaplugin"})
	if err != ErrUnknownPlugin {
		t.Fatalf("expected ErrUnknownPlugin, got %v", err)
	}
}

func TestResolveMissingPluginAndMode(t *testing.T) {
	m := NewManager(newTestRegistry(t))
	_, _, err := m.Resolve(Request{})
	if err != ErrMissingMode {
		t.Fatalf("expected ErrMissingMode, got %v", err)
	}
}

func TestResolveInvalidModeForPlugin(t *testing.T) {
	m := NewManager(newTestRegistry(t))
	_, _, err := m.Resolve(Request{PluginID: "clock", Mode: "not-a-real-mode-at-all"})
	if err != ErrInvalidMode {
		t.Fatalf("expected ErrInvalidMode, got %v", err)
	}
}

func TestApplyStartPinnedWhenNoDuration(t *testing.T) {
	s := ApplyStart(Request{RequestID: "r1"}, "clock", []string{"clock"}, 1000)
	if !s.Pinned || s.ExpiresAt != nil {
		t.Fatalf("expected pinned state with no expiry, got %+v", s)
	}
}

func TestApplyStartWithDurationSetsExpiry(t *testing.T) {
	dur := 30.0
	s := ApplyStart(Request{RequestID: "r1", Duration: &dur}, "clock", []string{"clock"}, 1000)
	if s.Pinned || s.ExpiresAt == nil || *s.ExpiresAt != 1030 {
		t.Fatalf("expected expiry at 1030, got %+v", s)
	}
}

func TestCheckExpiryFiresExactlyAtDeadline(t *testing.T) {
	dur := 10.0
	s := ApplyStart(Request{RequestID: "r1"}, "clock", []string{"clock"}, 1000)
	s.Pinned = false
	exp := 1010.0
	s.ExpiresAt = &exp
	_ = dur

	expired, next := CheckExpiry(s, 1009, 0)
	if expired {
		t.Fatal("expected not yet expired before deadline")
	}
	expired, next = CheckExpiry(s, 1010, 2)
	if !expired || next.LastEvent != "expired" || next.ResumeIndex != 2 {
		t.Fatalf("expected expiry at deadline, got expired=%v next=%+v", expired, next)
	}
}

func TestCheckExpiryNeverFiresForPinned(t *testing.T) {
	s := ApplyStart(Request{RequestID: "r1"}, "clock", []string{"clock"}, 1000)
	expired, _ := CheckExpiry(s, 1000000, 0)
	if expired {
		t.Fatal("pinned state must never expire")
	}
}

func TestStateToWireRemainingCountdown(t *testing.T) {
	dur := 20.0
	s := ApplyStart(Request{RequestID: "r1", Duration: &dur}, "clock", []string{"clock"}, 1000)
	wire := s.ToWire(1005)
	if wire.Remaining == nil || *wire.Remaining != 15 {
		t.Fatalf("expected 15s remaining, got %+v", wire.Remaining)
	}
}

func TestApplyErrorTransition(t *testing.T) {
	s := ApplyError(Request{RequestID: "r1"}, ErrUnknownPlugin, 1000)
	if s.Active || s.Status != "error" || s.LastError != "unknown-plugin" {
		t.Fatalf("unexpected error state: %+v", s)
	}
}
