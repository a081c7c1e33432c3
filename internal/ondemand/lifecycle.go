// Copyright 2026 The Panel Engine Authors
package ondemand

// ApplyStart transitions state into an active on-demand override for a
// validated start request. now is epoch seconds. A stop request with a
// previously seen request_id is still processed (operators may click
// repeatedly); a start request with a seen request_id must be discarded
// by the caller before calling ApplyStart.
func ApplyStart(req Request, pluginID string, modes []string, now float64) State {
	s := State{
		RequestID: req.RequestID,
		Active:    true,
		Status:    "active",
		PluginID:  pluginID,
		Modes:     modes,
		ModeIndex: 0,
		StartedAt: now,
		Pinned:    req.Pinned || req.Duration == nil,
		LastEvent: "started",
	}
	if req.Duration != nil && *req.Duration > 0 {
		expires := now + *req.Duration
		s.ExpiresAt = &expires
		s.Pinned = false
	}
	return s
}

// ApplyError transitions state to the error status without activating an
// override, for an unknown plugin, invalid mode, or missing mode.
func ApplyError(req Request, err error, now float64) State {
	return State{
		RequestID: req.RequestID,
		Active:    false,
		Status:    "error",
		LastEvent: "error",
		LastError: err.Error(),
	}
}

// ApplyStop clears an active override, recording resumeIndex for the
// caller to restore normal rotation from.
func ApplyStop(resumeIndex int) State {
	return State{
		Status:      "idle",
		LastEvent:   "requested-stop",
		ResumeIndex: resumeIndex,
	}
}

// CheckExpiry returns (expired, newState): if s is active, pinned false,
// and s.ExpiresAt has passed now, it reports the post-expiry idle state
// with last_event "expired"; otherwise s is returned unchanged.
func CheckExpiry(s State, now float64, resumeIndex int) (expired bool, next State) {
	if !s.Active || s.Pinned || s.ExpiresAt == nil {
		return false, s
	}
	if now < *s.ExpiresAt {
		return false, s
	}
	return true, State{
		Status:      "idle",
		LastEvent:   "expired",
		ResumeIndex: resumeIndex,
	}
}
