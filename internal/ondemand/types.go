// Copyright 2026 The Panel Engine Authors

// Package ondemand manages an operator's on-demand override of the
// rotation: the request and state records, resolving a request's
// plugin/mode against the registry, the start/stop/error transitions, and
// tracking expiration. The Run Loop reads requests off the Request Channel
// and discards repeated start request ids.
package ondemand

import "errors"

var (
	ErrUnknownPlugin = errors.New("unknown-plugin")
	ErrInvalidMode   = errors.New("invalid-mode")
	ErrMissingMode   = errors.New("missing-mode")
)

// Request is the wire record read from display_on_demand_request.
type Request struct {
	RequestID string   `json:"request_id"`
	Action    string   `json:"action"` // "start" | "stop"
	PluginID  string   `json:"plugin_id,omitempty"`
	Mode      string   `json:"mode,omitempty"`
	Duration  *float64 `json:"duration,omitempty"`
	Pinned    bool     `json:"pinned,omitempty"`
	Timestamp float64  `json:"timestamp,omitempty"`
}

// State is the engine-owned view of the active on-demand override.
type State struct {
	RequestID   string
	Active      bool
	Status      string // "idle" | "active" | "error"
	PluginID    string
	Modes       []string
	ModeIndex   int
	StartedAt   float64
	ExpiresAt   *float64
	ResumeIndex int
	Pinned      bool
	LastEvent   string
	LastError   string
	LastUpdated float64
}

// CurrentMode returns the mode State.ModeIndex currently points at, or ""
// if inactive or out of range.
func (s *State) CurrentMode() string {
	if !s.Active || s.ModeIndex < 0 || s.ModeIndex >= len(s.Modes) {
		return ""
	}
	return s.Modes[s.ModeIndex]
}

// Remaining returns the seconds left before expiry as of now, or nil for a
// pinned or inactive state.
func (s *State) Remaining(now float64) *float64 {
	if !s.Active || s.ExpiresAt == nil {
		return nil
	}
	r := *s.ExpiresAt - now
	if r < 0 {
		r = 0
	}
	return &r
}

// WireState is State's JSON projection for display_on_demand_state.
type WireState struct {
	Active      bool     `json:"active"`
	Status      string   `json:"status"`
	Mode        *string  `json:"mode"`
	PluginID    *string  `json:"plugin_id"`
	Modes       []string `json:"modes"`
	ModeIndex   int      `json:"mode_index"`
	RequestedAt *float64 `json:"requested_at"`
	ExpiresAt   *float64 `json:"expires_at"`
	Remaining   *float64 `json:"remaining"`
	Pinned      bool     `json:"pinned"`
	LastEvent   *string  `json:"last_event"`
	LastError   *string  `json:"last_error"`
	LastUpdated float64  `json:"last_updated"`
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// ToWire projects State into the wire format written to the Request
// Channel, computing remaining from now.
func (s *State) ToWire(now float64) WireState {
	var mode *string
	if m := s.CurrentMode(); m != "" {
		mode = &m
	}
	return WireState{
		Active:      s.Active,
		Status:      s.Status,
		Mode:        mode,
		PluginID:    strPtr(s.PluginID),
		Modes:       s.Modes,
		ModeIndex:   s.ModeIndex,
		RequestedAt: nonZero(s.StartedAt),
		ExpiresAt:   s.ExpiresAt,
		Remaining:   s.Remaining(now),
		Pinned:      s.Pinned,
		LastEvent:   strPtr(s.LastEvent),
		LastError:   strPtr(s.LastError),
		LastUpdated: now,
	}
}

func nonZero(f float64) *float64 {
	if f == 0 {
		return nil
	}
	return &f
}
