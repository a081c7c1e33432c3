// Copyright 2026 The Panel Engine Authors

// Package health tracks per-plugin circuit breaker state and failure
// history for the Plugin Executor, adapting circuit breaker bookkeeping
// from a per-worker-job concern to a per-plugin one.
package health

import (
	"sync"
	"time"

	"github.com/ledwall/panelengine/internal/breaker"
	"github.com/ledwall/panelengine/internal/config"
	"github.com/ledwall/panelengine/internal/obs"
	"go.uber.org/zap"
)

// Summary is a point-in-time view of one plugin's health.
type Summary struct {
	PluginID       string
	State          breaker.State
	Failures       int
	Successes      int
	LastError      error
	LastFailureAt  time.Time
}

// Tracker owns one CircuitBreaker per plugin id, created lazily on first
// use so plugins discovered after startup are tracked without
// preregistration.
type Tracker struct {
	mu       sync.Mutex
	log      *zap.Logger
	cfg      config.CircuitBreakerConfig
	breakers map[string]*breaker.CircuitBreaker
	summary  map[string]*Summary
}

func NewTracker(cfg config.CircuitBreakerConfig, log *zap.Logger) *Tracker {
	return &Tracker{
		log:      log,
		cfg:      cfg,
		breakers: make(map[string]*breaker.CircuitBreaker),
		summary:  make(map[string]*Summary),
	}
}

func (t *Tracker) breakerFor(pluginID string) *breaker.CircuitBreaker {
	t.mu.Lock()
	defer t.mu.Unlock()
	cb, ok := t.breakers[pluginID]
	if !ok {
		cb = breaker.New(t.cfg.MinSamples, t.cfg.CooldownPeriod, 30*time.Minute)
		t.breakers[pluginID] = cb
		t.summary[pluginID] = &Summary{PluginID: pluginID}
	}
	return cb
}

// Allow reports whether pluginID's circuit permits a call right now.
func (t *Tracker) Allow(pluginID string) bool {
	return t.breakerFor(pluginID).Allow()
}

// Record reports the outcome of a call Allow permitted. The failure counter
// and the breaker-state gauge are updated on every call; the log line and
// the trip counter fire only on a state transition.
func (t *Tracker) Record(pluginID string, err error) {
	cb := t.breakerFor(pluginID)
	before := cb.State()
	cb.Record(err == nil)
	after := cb.State()

	t.mu.Lock()
	s := t.summary[pluginID]
	if err != nil {
		s.Failures++
		s.LastError = err
		s.LastFailureAt = time.Now()
		obs.PluginFailures.WithLabelValues(pluginID, "display").Inc()
	} else {
		s.Successes++
	}
	t.mu.Unlock()

	obs.CircuitBreakerState.WithLabelValues(pluginID).Set(float64(after))
	if before != after {
		t.log.Info("circuit breaker state changed",
			zap.String("plugin_id", pluginID),
			zap.Int("from", int(before)),
			zap.Int("to", int(after)))
		if after == breaker.Open {
			obs.CircuitBreakerTrips.WithLabelValues(pluginID).Inc()
		}
	}
}

// Summary returns a snapshot of pluginID's health, if known.
func (t *Tracker) Summary(pluginID string) (Summary, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.summary[pluginID]
	if !ok {
		return Summary{}, false
	}
	cb := t.breakers[pluginID]
	out := *s
	out.State = cb.State()
	return out, true
}

// All returns a snapshot of every tracked plugin's health, for the /statez
// surface.
func (t *Tracker) All() []Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Summary, 0, len(t.summary))
	for id, s := range t.summary {
		cb := t.breakers[id]
		snap := *s
		snap.State = cb.State()
		out = append(out, snap)
	}
	return out
}
