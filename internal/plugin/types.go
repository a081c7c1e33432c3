// Copyright 2026 The Panel Engine Authors
package plugin

import (
	"context"
	"time"
)

// Plugin is the explicit capability contract a content producer implements.
// It replaces duck-typed attribute probing ("does this object have a
// method named X?") with a real interface: every capability is a method,
// and BasePlugin supplies documented defaults so a plugin author only
// overrides what they need.
type Plugin interface {
	// Modes enumerates the display modes this plugin currently offers.
	Modes() []string
	// Update refreshes internal data; must not block the panel.
	Update(ctx context.Context) error
	// Display draws one frame for mode and reports whether it drew content.
	Display(ctx context.Context, mode string, forceClear bool) (bool, error)

	GetDisplayDuration(mode string) time.Duration
	SupportsDynamicDuration() bool
	GetDynamicDurationCap() time.Duration
	// GetCycleDuration returns the plugin-computed total for one full
	// cycle of mode, and whether it has an opinion at all.
	GetCycleDuration(mode string) (time.Duration, bool)
	ResetCycleState()
	IsCycleComplete() bool

	HasLivePriority() bool
	HasLiveContent() bool
	GetLiveModes() []string

	EnableScrolling() bool

	OnConfigChange(cfg interface{})
	OnEnable()
	OnDisable()
}

// BasePlugin implements every Plugin method except Display with its
// documented default.
// Embed it and override selectively.
type BasePlugin struct {
	ID              string
	DisplayDuration time.Duration
}

func (b *BasePlugin) Modes() []string { return []string{b.ID} }
func (b *BasePlugin) Update(ctx context.Context) error { return nil }
func (b *BasePlugin) GetDisplayDuration(mode string) time.Duration {
	if b.DisplayDuration > 0 {
		return b.DisplayDuration
	}
	return 30 * time.Second
}
func (b *BasePlugin) SupportsDynamicDuration() bool       { return false }
func (b *BasePlugin) GetDynamicDurationCap() time.Duration { return 180 * time.Second }
func (b *BasePlugin) GetCycleDuration(mode string) (time.Duration, bool) { return 0, false }
func (b *BasePlugin) ResetCycleState()                    {}
func (b *BasePlugin) IsCycleComplete() bool                { return false }
func (b *BasePlugin) HasLivePriority() bool                { return false }
func (b *BasePlugin) HasLiveContent() bool                 { return false }
func (b *BasePlugin) GetLiveModes() []string                { return nil }
func (b *BasePlugin) EnableScrolling() bool                 { return false }
func (b *BasePlugin) OnConfigChange(cfg interface{})         {}
func (b *BasePlugin) OnEnable()                              {}
func (b *BasePlugin) OnDisable()                             {}

// Manifest is a plugin's self-description, loaded from a manifest.yaml file
// discovered under the configured plugins directory, narrowed from a
// sandboxed-runtime manifest shape to a declared-capability manifest for
// in-process Go plugins.
type Manifest struct {
	ID                      string   `yaml:"id"`
	Enabled                 bool     `yaml:"enabled"`
	Modes                   []string `yaml:"modes"`
	DisplayDurationSeconds  int      `yaml:"display_duration_s"`
	SupportsDynamicDuration bool     `yaml:"supports_dynamic_duration"`
	DynamicDurationCapS     int      `yaml:"dynamic_duration_cap_s"`
	EnableScrolling         bool     `yaml:"enable_scrolling"`
	HasLivePriority         bool     `yaml:"has_live_priority"`
	LiveModes               []string `yaml:"live_modes"`
	// UpdateCron, if set, drives the Plugin Executor's background update
	// ticker via a cron expression instead of a fixed interval.
	UpdateCron         string `yaml:"update_cron"`
	UpdateIntervalSecs int    `yaml:"update_interval_s"`
}

// Descriptor is the Registry's resolved view of one loaded plugin: manifest
// fields merged with its live instance.
type Descriptor struct {
	ID       string
	Manifest Manifest
	Instance Plugin
	Enabled  bool
}

// Mode is a value view into the plugin that owns it.
type Mode struct {
	Name          string
	OwnerPluginID string
	BaseDuration  time.Duration
	IsLiveVariant bool
}
