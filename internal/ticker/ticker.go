// Copyright 2026 The Panel Engine Authors

// Package ticker implements the optional Ticker Compositor: a continuously
// scrolling horizontal ribbon composed from every participating plugin's
// frame bag. The frame timer is a time.NewTicker-driven rate loop,
// repurposed from "emit jobs at a computed rate" to "step through the
// ribbon by scroll_speed entries per frame at a configured FPS".
package ticker

import (
	"context"
	"time"

	"github.com/ledwall/panelengine/internal/config"
	"go.uber.org/zap"
)

// ModeName is the Arbiter mode string for the ribbon; it names no plugin's
// own mode and is never looked up in a registry's available_modes list.
const ModeName = "ticker"

// Frame is one image a plugin contributes to the ribbon.
type Frame struct {
	PluginID string
	Image    []byte
	Width    int
}

// FrameSink writes one composited ribbon Frame to the physical display.
// Content plugins and the hardware driver both live outside this engine
// (the control surface is out of scope); a downstream build supplies a
// FrameSink the same way it supplies plugin factories.
type FrameSink interface {
	WriteFrame(ctx context.Context, f Frame) error
}

// FrameSource is the compositor-specific hook a plugin implements to
// participate in the ribbon, separate from the normal Plugin.Display
// contract since it returns a bag of frames rather than drawing one.
type FrameSource interface {
	FrameBag(ctx context.Context) ([]Frame, error)
}

// InterruptProbe reports whether a higher-priority signal (on-demand,
// live-priority, WiFi banner) needs the panel, so the compositor can yield
// cleanly.
type InterruptProbe func() bool

// Compositor drives the scrolling ribbon's frame timer.
type Compositor struct {
	cfg    config.VegasScrollConfig
	log    *zap.Logger
	offset int // scroll position as a ribbon entry index; Run reduces it modulo the ribbon length
}

func New(cfg config.VegasScrollConfig, log *zap.Logger) *Compositor {
	return &Compositor{cfg: cfg, log: log}
}

// OrderedPluginIDs returns cfg.PluginOrder with ExcludedPlugins removed,
// falling back to discoveryOrder for any plugin PluginOrder omits,
// preserving discovery order for newcomers joining the priority list with
// per-plugin opt-outs.
func OrderedPluginIDs(cfg config.VegasScrollConfig, discoveryOrder []string) []string {
	excluded := make(map[string]bool, len(cfg.ExcludedPlugins))
	for _, id := range cfg.ExcludedPlugins {
		excluded[id] = true
	}
	seen := make(map[string]bool)
	var out []string
	for _, id := range cfg.PluginOrder {
		if excluded[id] || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	for _, id := range discoveryOrder {
		if excluded[id] || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// CollectRibbon asks every source for its frame bag, in pluginOrder,
// separated by blank gaps, building the buffer-ahead window the frame
// timer will scroll through.
func CollectRibbon(ctx context.Context, pluginOrder []string, sources map[string]FrameSource, gapWidth int, log *zap.Logger) []Frame {
	var ribbon []Frame
	for _, id := range pluginOrder {
		src, ok := sources[id]
		if !ok {
			continue
		}
		frames, err := src.FrameBag(ctx)
		if err != nil {
			log.Warn("frame bag fetch failed, skipping plugin this pass", zap.String("plugin_id", id), zap.Error(err))
			continue
		}
		if len(frames) == 0 {
			continue
		}
		if len(ribbon) > 0 {
			ribbon = append(ribbon, Frame{Width: gapWidth})
		}
		ribbon = append(ribbon, frames...)
	}
	return ribbon
}

// Run drives the ribbon frame-by-frame at cfg.TargetFPS, consulting probe
// every probeEvery frames and yielding control (returning) when it reports
// true — the Run Loop resumes per-iteration arbitration on return.
func (c *Compositor) Run(ctx context.Context, ribbon []Frame, render func(Frame) error, probe InterruptProbe) error {
	if len(ribbon) == 0 {
		return nil
	}

	fps := c.cfg.TargetFPS
	if fps <= 0 {
		fps = 30
	}
	tickInterval := time.Second / time.Duration(fps)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	const probeEvery = 10
	framesSinceProbe := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			frame := ribbon[c.offset%len(ribbon)]
			if err := render(frame); err != nil {
				return err
			}
			c.advance()

			framesSinceProbe++
			if framesSinceProbe >= probeEvery {
				framesSinceProbe = 0
				if probe != nil && probe() {
					return nil
				}
			}
		}
	}
}

// advance moves the scroll offset forward by scroll_speed ribbon entries
// (at least one). The offset is not wrapped here; Run indexes the ribbon
// with the offset modulo the ribbon length.
func (c *Compositor) advance() {
	speed := c.cfg.ScrollSpeed
	if speed <= 0 {
		speed = 1
	}
	c.offset += speed
}

// Offset returns the compositor's current scroll position, exposed for
// tests and state publication.
func (c *Compositor) Offset() int { return c.offset }
