// Copyright 2026 The Panel Engine Authors
package executor

import (
	"time"

	"github.com/ledwall/panelengine/internal/plugin"
	"github.com/robfig/cron/v3"
)

// UpdateScheduler tracks each plugin's next-due background update time,
// computed from its manifest's cron expression or fixed interval, so
// Update fires at the cadence the plugin declares instead of on every Run
// Loop tick.
type UpdateScheduler struct {
	parser  cron.Parser
	nextDue map[string]time.Time
}

func NewUpdateScheduler() *UpdateScheduler {
	return &UpdateScheduler{
		parser:  cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		nextDue: make(map[string]time.Time),
	}
}

// Due reports whether pluginID's Update is due at now. A plugin seen for
// the first time is always due immediately, scheduling its first real
// interval from that point.
func (s *UpdateScheduler) Due(pluginID string, m plugin.Manifest, now time.Time) bool {
	due, scheduled := s.nextDue[pluginID]
	if scheduled && now.Before(due) {
		return false
	}
	s.scheduleNext(pluginID, m, now)
	return true
}

func (s *UpdateScheduler) scheduleNext(pluginID string, m plugin.Manifest, now time.Time) {
	cronExpr, interval := m.UpdateInterval()
	if cronExpr != "" {
		if sched, err := s.parser.Parse(cronExpr); err == nil {
			s.nextDue[pluginID] = sched.Next(now)
			return
		}
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	s.nextDue[pluginID] = now.Add(interval)
}
