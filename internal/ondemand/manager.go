// Copyright 2026 The Panel Engine Authors
package ondemand

import (
	"fmt"

	"github.com/ledwall/panelengine/internal/plugin"
	"github.com/lithammer/fuzzysearch/fuzzy"
)

// Manager resolves and applies on-demand requests against the loaded
// plugin registry, owning no I/O of its own — the Run Loop drives it with
// requests pulled from the Request Channel.
type Manager struct {
	registry *plugin.Registry
}

func NewManager(registry *plugin.Registry) *Manager {
	return &Manager{registry: registry}
}

// Resolve validates a start request's plugin_id/mode against the registry,
// falling back to a fuzzy match before declaring an error, so a near-miss
// operator typo ("scorebord") still resolves.
func (m *Manager) Resolve(req Request) (pluginID string, modes []string, err error) {
	pluginID = req.PluginID
	if pluginID == "" && req.Mode != "" {
		owner, ok := m.registry.OwnerOf(req.Mode)
		if !ok {
			owner, ok = m.fuzzyModeOwner(req.Mode)
			if !ok {
				return "", nil, ErrInvalidMode
			}
		}
		pluginID = owner.ID
	}
	if pluginID == "" {
		return "", nil, ErrMissingMode
	}

	desc, ok := m.registry.Get(pluginID)
	if !ok {
		desc, ok = m.fuzzyPlugin(pluginID)
		if !ok {
			return "", nil, ErrUnknownPlugin
		}
		pluginID = desc.ID
	}

	pluginModes := desc.Instance.Modes()
	if len(pluginModes) == 0 {
		pluginModes = desc.Manifest.Modes
	}

	if req.Mode == "" {
		if len(pluginModes) == 0 {
			return "", nil, ErrMissingMode
		}
		return pluginID, pluginModes, nil
	}

	for _, mode := range pluginModes {
		if mode == req.Mode {
			return pluginID, []string{mode}, nil
		}
	}
	if fuzzyMode, ok := fuzzyBestMatch(req.Mode, pluginModes); ok {
		return pluginID, []string{fuzzyMode}, nil
	}
	return "", nil, ErrInvalidMode
}

func (m *Manager) fuzzyPlugin(target string) (*plugin.Descriptor, bool) {
	var ids []string
	for _, d := range m.registry.All() {
		ids = append(ids, d.ID)
	}
	best, ok := fuzzyBestMatch(target, ids)
	if !ok {
		return nil, false
	}
	return m.registry.Get(best)
}

func (m *Manager) fuzzyModeOwner(target string) (*plugin.Descriptor, bool) {
	modes := m.registry.AvailableModes()
	best, ok := fuzzyBestMatch(target, modes)
	if !ok {
		return nil, false
	}
	return m.registry.OwnerOf(best)
}

// fuzzyBestMatch returns the candidate with the best fuzzy-search rank
// against target, requiring at least a loose subsequence match.
func fuzzyBestMatch(target string, candidates []string) (string, bool) {
	best := ""
	bestRank := -1
	for _, c := range candidates {
		if !fuzzy.Match(target, c) {
			continue
		}
		rank := fuzzy.RankMatch(target, c)
		if rank < 0 {
			continue
		}
		if bestRank == -1 || rank < bestRank {
			bestRank = rank
			best = c
		}
	}
	return best, bestRank != -1
}

// StartError wraps a Resolve failure with the request that caused it, for
// logging context at the call site.
type StartError struct {
	Request Request
	Err     error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("on-demand start request %s: %v", e.Request.RequestID, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }
