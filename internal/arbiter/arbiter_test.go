// Copyright 2026 The Panel Engine Authors
package arbiter

import "testing"

func TestDecideOnDemandTakesTopPriority(t *testing.T) {
	in := Input{
		OnDemandActive:  true,
		OnDemandMode:    "scoreboard_live",
		OnDemandPlugin:  "scoreboard",
		WifiBannerValid: true,
		TickerEnabled:   true,
	}
	d := Decide(in)
	if d.Reason != ReasonOnDemand || d.Mode != "scoreboard_live" {
		t.Fatalf("expected on-demand decision, got %+v", d)
	}
}

func TestDecideWifiBannerBeatsLivePriorityAndRotation(t *testing.T) {
	in := Input{
		WifiBannerValid: true,
		LivePriorityPlugins: []LiveCandidate{
			{PluginID: "scoreboard", HasLivePriority: true, HasLiveContent: true, LiveModes: []string{"scoreboard_live"}},
		},
		AvailableModes: []string{"scoreboard_live"},
		RotationMode:   "clock",
	}
	d := Decide(in)
	if d.Reason != ReasonWifiBanner || d.PluginID != "" {
		t.Fatalf("expected wifi banner decision with no plugin dispatch, got %+v", d)
	}
}

func TestDecideLivePriorityMatchInAvailableModes(t *testing.T) {
	in := Input{
		LivePriorityPlugins: []LiveCandidate{
			{PluginID: "scoreboard", HasLivePriority: true, HasLiveContent: true, LiveModes: []string{"scoreboard_live"}},
		},
		AvailableModes: []string{"clock", "scoreboard_live"},
		RotationMode:   "clock",
	}
	d := Decide(in)
	if d.Reason != ReasonLivePriority || d.Mode != "scoreboard_live" || d.PluginID != "scoreboard" {
		t.Fatalf("expected live priority decision, got %+v", d)
	}
}

func TestDecideLivePriorityFallsBackToLiveSuffixMode(t *testing.T) {
	in := Input{
		LivePriorityPlugins: []LiveCandidate{
			{PluginID: "scoreboard", HasLivePriority: true, HasLiveContent: true, LiveModes: []string{"scoreboard_live"}},
		},
		AvailableModes: []string{"clock"}, // scoreboard_live not in available_modes
		RotationMode:   "clock",
	}
	d := Decide(in)
	if d.Reason != ReasonLivePriority || d.Mode != "scoreboard_live" {
		t.Fatalf("expected fallback to _live suffix mode, got %+v", d)
	}
}

func TestDecideLivePriorityRequiresBothFlags(t *testing.T) {
	in := Input{
		LivePriorityPlugins: []LiveCandidate{
			{PluginID: "scoreboard", HasLivePriority: true, HasLiveContent: false, LiveModes: []string{"scoreboard_live"}},
		},
		AvailableModes: []string{"clock"},
		RotationMode:   "clock",
		RotationPluginID: "clock",
	}
	d := Decide(in)
	if d.Reason != ReasonRotation {
		t.Fatalf("expected rotation when live content absent, got %+v", d)
	}
}

func TestDecideTickerWhenEnabledAndNoHigherSignal(t *testing.T) {
	in := Input{
		TickerEnabled: true,
		TickerMode:    "ticker_ribbon",
		RotationMode:  "clock",
	}
	d := Decide(in)
	if d.Reason != ReasonTicker || d.Mode != "ticker_ribbon" {
		t.Fatalf("expected ticker decision, got %+v", d)
	}
}

func TestDecideNormalRotationWhenNoSignals(t *testing.T) {
	in := Input{RotationMode: "weather_current", RotationPluginID: "weather"}
	d := Decide(in)
	if d.Reason != ReasonRotation || d.Mode != "weather_current" || d.PluginID != "weather" {
		t.Fatalf("expected rotation decision, got %+v", d)
	}
}
