// Copyright 2026 The Panel Engine Authors
package plugin

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Factory constructs the live instance for a manifest's plugin id. Plugin
// implementations live outside this engine; the factory is how the owning
// binary wires its compiled-in plugins without the registry needing to
// dynamically load code.
type Factory func(m Manifest) (Plugin, error)

// Registry is the in-memory catalog of loaded plugins. The enabled-set is
// read-only from the Run Loop's perspective once built;
// mutations happen only through Load/SetEnabled, serialized by mu.
type Registry struct {
	mu        sync.RWMutex
	log       *zap.Logger
	factories map[string]Factory
	plugins   map[string]*Descriptor
	order     []string // discovery order, preserved for deterministic rotation
	modeOwner map[string]string
}

func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		log:       log,
		factories: make(map[string]Factory),
		plugins:   make(map[string]*Descriptor),
		modeOwner: make(map[string]string),
	}
}

// RegisterFactory associates a plugin id with the constructor for its
// compiled-in implementation.
func (r *Registry) RegisterFactory(id string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[id] = f
}

// Load instantiates every enabled manifest whose id has a registered
// factory, building the flat available_modes list in discovery order.
func (r *Registry) Load(manifests []Manifest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.plugins = make(map[string]*Descriptor)
	r.order = nil
	r.modeOwner = make(map[string]string)

	for _, m := range manifests {
		if !m.Enabled {
			continue
		}
		factory, ok := r.factories[m.ID]
		if !ok {
			r.log.Warn("no factory registered for plugin manifest, skipping", zap.String("plugin_id", m.ID))
			continue
		}
		instance, err := factory(m)
		if err != nil {
			return fmt.Errorf("construct plugin %s: %w", m.ID, err)
		}
		modes := instance.Modes()
		if len(modes) == 0 {
			modes = m.Modes
		}
		if len(modes) == 0 {
			modes = []string{m.ID}
		}
		desc := &Descriptor{ID: m.ID, Manifest: m, Instance: instance, Enabled: true}
		r.plugins[m.ID] = desc
		r.order = append(r.order, m.ID)
		for _, mode := range modes {
			if owner, exists := r.modeOwner[mode]; exists {
				r.log.Warn("duplicate mode name across plugins, keeping first owner",
					zap.String("mode", mode), zap.String("owner", owner), zap.String("rejected", m.ID))
				continue
			}
			r.modeOwner[mode] = m.ID
		}
		instance.OnEnable()
	}
	return nil
}

// AvailableModes returns the flat, ordered list of modes owned by
// currently loaded, enabled plugins, in plugin discovery order.
func (r *Registry) AvailableModes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var modes []string
	for _, id := range r.order {
		desc := r.plugins[id]
		if !desc.Enabled {
			continue
		}
		pluginModes := desc.Instance.Modes()
		if len(pluginModes) == 0 {
			pluginModes = desc.Manifest.Modes
		}
		for _, mode := range pluginModes {
			if owner, ok := r.modeOwner[mode]; ok && owner == id {
				modes = append(modes, mode)
			}
		}
	}
	return modes
}

// OwnerOf returns the loaded plugin owning mode, if any.
func (r *Registry) OwnerOf(mode string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.modeOwner[mode]
	if !ok {
		return nil, false
	}
	return r.plugins[id], true
}

// Get returns the loaded descriptor for a plugin id.
func (r *Registry) Get(pluginID string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.plugins[pluginID]
	return d, ok
}

// All returns every loaded descriptor in discovery order.
func (r *Registry) All() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.plugins[id])
	}
	return out
}

// SetEnabled flips a plugin's enabled flag in memory only, without
// persisting to config — used when an on-demand request targets a plugin
// configured disabled. OnEnable/OnDisable are idempotent by construction,
// so repeated calls with the same enabled value are harmless no-ops.
func (r *Registry) SetEnabled(pluginID string, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.plugins[pluginID]
	if !ok {
		return
	}
	if d.Enabled == enabled {
		return
	}
	d.Enabled = enabled
	if enabled {
		d.Instance.OnEnable()
	} else {
		d.Instance.OnDisable()
	}
}

// UpdateInterval resolves a plugin's update cadence: an explicit cron
// expression wins, otherwise a fixed interval, otherwise a conservative
// default.
func (m Manifest) UpdateInterval() (cron string, interval time.Duration) {
	if m.UpdateCron != "" {
		return m.UpdateCron, 0
	}
	if m.UpdateIntervalSecs > 0 {
		return "", time.Duration(m.UpdateIntervalSecs) * time.Second
	}
	return "", 30 * time.Second
}
