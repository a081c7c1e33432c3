// Copyright 2026 The Panel Engine Authors

// Package arbiter implements the pure decision function choosing which
// mode the Run Loop renders next, evaluating signals in a fixed priority
// order: on-demand, then WiFi banner, then live priority, then ticker,
// then rotation. Arbiter never sleeps and owns no state.
package arbiter

import (
	"strings"

	"github.com/ledwall/panelengine/internal/plugin"
)

// Reason tags the Arbiter's decision for logging and state publication.
type Reason string

const (
	ReasonOnDemand     Reason = "on-demand"
	ReasonWifiBanner   Reason = "wifi-banner"
	ReasonLivePriority Reason = "live-priority"
	ReasonTicker       Reason = "ticker"
	ReasonRotation     Reason = "rotation"
)

// Decision is the Arbiter's output: a (mode, plugin) pair plus the reason
// it was chosen. PluginID is empty when Reason is ReasonWifiBanner or
// ReasonTicker, since those paths skip per-plugin dispatch entirely.
type Decision struct {
	Reason   Reason
	Mode     string
	PluginID string
}

// Input bundles every signal the Arbiter consults, gathered by the Run Loop
// before each iteration's decision.
type Input struct {
	OnDemandActive bool
	OnDemandMode   string
	OnDemandPlugin string

	WifiBannerValid bool

	LivePriorityPlugins []LiveCandidate
	AvailableModes      []string

	TickerEnabled bool
	TickerMode    string

	RotationMode     string
	RotationPluginID string
}

// LiveCandidate is one loaded plugin's live-preemption signal.
type LiveCandidate struct {
	PluginID        string
	HasLivePriority bool
	HasLiveContent  bool
	LiveModes       []string
}

// Decide selects the mode/plugin to render according to the fixed
// priority order.
func Decide(in Input) Decision {
	if in.OnDemandActive {
		return Decision{Reason: ReasonOnDemand, Mode: in.OnDemandMode, PluginID: in.OnDemandPlugin}
	}

	if in.WifiBannerValid {
		return Decision{Reason: ReasonWifiBanner}
	}

	if mode, pluginID, ok := scanLivePriority(in.LivePriorityPlugins, in.AvailableModes); ok {
		return Decision{Reason: ReasonLivePriority, Mode: mode, PluginID: pluginID}
	}

	if in.TickerEnabled {
		return Decision{Reason: ReasonTicker, Mode: in.TickerMode}
	}

	return Decision{Reason: ReasonRotation, Mode: in.RotationMode, PluginID: in.RotationPluginID}
}

// scanLivePriority asks every live-capable plugin whether it has priority
// live content, picking the first live mode that exists in availableModes;
// absent a match, it falls back to the plugin's first declared live mode if
// that mode ends in "_live".
func scanLivePriority(candidates []LiveCandidate, availableModes []string) (mode, pluginID string, ok bool) {
	known := make(map[string]bool, len(availableModes))
	for _, m := range availableModes {
		known[m] = true
	}

	for _, c := range candidates {
		if !c.HasLivePriority || !c.HasLiveContent {
			continue
		}
		for _, lm := range c.LiveModes {
			if known[lm] {
				return lm, c.PluginID, true
			}
		}
		if len(c.LiveModes) > 0 && strings.HasSuffix(c.LiveModes[0], "_live") {
			return c.LiveModes[0], c.PluginID, true
		}
	}
	return "", "", false
}

// LiveCandidatesFromRegistry builds the Arbiter's live-priority scan input
// from every loaded plugin in the registry, decoupling Decide from the
// registry's concrete type for testability.
func LiveCandidatesFromRegistry(descriptors []*plugin.Descriptor) []LiveCandidate {
	out := make([]LiveCandidate, 0, len(descriptors))
	for _, d := range descriptors {
		if !d.Enabled {
			continue
		}
		out = append(out, LiveCandidate{
			PluginID:        d.ID,
			HasLivePriority: d.Instance.HasLivePriority(),
			HasLiveContent:  d.Instance.HasLiveContent(),
			LiveModes:       d.Instance.GetLiveModes(),
		})
	}
	return out
}
