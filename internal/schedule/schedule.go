// Copyright 2026 The Panel Engine Authors

// Package schedule implements the Clock & Schedule Evaluator: a pure
// function of wall-clock time and config, built around time-window-shaped
// config structs and day-of-week range modeling.
package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/ledwall/panelengine/internal/config"
)

// Result is the Schedule Evaluator's output.
type Result struct {
	Active     bool
	Brightness int
	Degraded   bool   // true if an invalid time string forced "always active"
	DegradeMsg string
}

var weekdayNames = [...]string{
	time.Sunday:    "sunday",
	time.Monday:    "monday",
	time.Tuesday:   "tuesday",
	time.Wednesday: "wednesday",
	time.Thursday:  "thursday",
	time.Friday:    "friday",
	time.Saturday:  "saturday",
}

// Evaluate resolves the active window and dim window against now, returning
// whether the display should be on and at what brightness. It is pure: no
// I/O, no mutation, no clock reads of its own.
func Evaluate(now time.Time, active config.ScheduleConfig, dim config.DimScheduleConfig, nominalBrightness int) Result {
	isActive, activeDegraded, activeMsg := true, false, ""
	if active.Enabled {
		isActive, activeDegraded, activeMsg = evalWindow(now, active)
	}
	brightness := nominalBrightness
	dimDegraded, dimMsg := false, ""
	if isActive {
		isDimmed, degraded, msg := evalWindow(now, dim.ScheduleConfig)
		dimDegraded, dimMsg = degraded, msg
		if isDimmed {
			brightness = dim.DimBrightness
		}
	}

	res := Result{Active: isActive, Brightness: brightness}
	switch {
	case activeDegraded:
		res.Degraded, res.DegradeMsg = true, activeMsg
	case dimDegraded:
		res.Degraded, res.DegradeMsg = true, dimMsg
	}
	return res
}

// evalWindow answers whether cfg's window is active at now, reporting a
// disabled cfg as inactive. Evaluate only calls this for the on/off window
// when active.Enabled is true — a disabled on/off window means always
// active and never reaches here; a disabled dim window means never dimmed,
// which this inactive-by-default behavior already gives it.
func evalWindow(now time.Time, cfg config.ScheduleConfig) (active bool, degraded bool, msg string) {
	if !cfg.Enabled {
		return false, false, ""
	}

	start, end, enabled, ok := resolveWindow(now, cfg)
	if !enabled {
		return false, false, ""
	}
	if !ok {
		return true, true, fmt.Sprintf("invalid time window %q..%q, treating as always active", cfg.StartTime, cfg.EndTime)
	}

	return inWindow(now, start, end), false, ""
}

// resolveWindow picks the start/end/enabled triple for now's mode (global
// vs. per-day), falling back to the global window for days missing an
// explicit override.
func resolveWindow(now time.Time, cfg config.ScheduleConfig) (start, end time.Time, enabled bool, ok bool) {
	if strings.EqualFold(cfg.Mode, "per-day") {
		dayName := weekdayNames[now.Weekday()]
		if day, found := cfg.Days[dayName]; found {
			if !day.Enabled {
				return time.Time{}, time.Time{}, false, true
			}
			s, e, parseOK := parseWindow(now, day.StartTime, day.EndTime)
			return s, e, true, parseOK
		}
	}
	s, e, parseOK := parseWindow(now, cfg.StartTime, cfg.EndTime)
	return s, e, true, parseOK
}

// parseWindow turns "HH:MM" start/end strings into concrete times anchored
// to now's calendar day.
func parseWindow(now time.Time, startStr, endStr string) (start, end time.Time, ok bool) {
	s, err1 := time.ParseInLocation("15:04", startStr, now.Location())
	e, err2 := time.ParseInLocation("15:04", endStr, now.Location())
	if err1 != nil || err2 != nil {
		return time.Time{}, time.Time{}, false
	}
	start = time.Date(now.Year(), now.Month(), now.Day(), s.Hour(), s.Minute(), 0, 0, now.Location())
	end = time.Date(now.Year(), now.Month(), now.Day(), e.Hour(), e.Minute(), 0, 0, now.Location())
	return start, end, true
}

// inWindow applies the overnight wraparound rule: end < start wraps past
// midnight and matches t >= start || t <= end.
func inWindow(now, start, end time.Time) bool {
	if end.Before(start) {
		return !now.Before(start) || !now.After(end)
	}
	return !now.Before(start) && !now.After(end)
}
