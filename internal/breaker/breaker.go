// Copyright 2026 The Panel Engine Authors
package breaker

import (
	"sync"
	"time"
)

// State is the circuit breaker's lifecycle position for one plugin.
type State int

const (
	Closed State = iota
	HalfOpen
	Open
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case HalfOpen:
		return "half-open"
	case Open:
		return "open"
	default:
		return "unknown"
	}
}

// CircuitBreaker suppresses calls into a plugin that has failed repeatedly.
// It opens after a run of consecutive failures, backs off exponentially on
// repeated trips, and closes again on a single success.
type CircuitBreaker struct {
	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	failureThreshold    int
	baseCooldown        time.Duration
	maxCooldown         time.Duration
	currentCooldown     time.Duration
	openUntil           time.Time
	halfOpenInFlight    bool
}

// New returns a breaker that opens after failureThreshold consecutive
// failures, backing off from baseCooldown doubling up to maxCooldown.
func New(failureThreshold int, baseCooldown, maxCooldown time.Duration) *CircuitBreaker {
	if failureThreshold < 1 {
		failureThreshold = 1
	}
	return &CircuitBreaker{
		state:            Closed,
		failureThreshold: failureThreshold,
		baseCooldown:     baseCooldown,
		maxCooldown:      maxCooldown,
		currentCooldown:  baseCooldown,
	}
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Allow reports whether a call should proceed. Open skips calls until the
// cooldown elapses, at which point exactly one half-open probe is allowed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case Open:
		if time.Now().Before(cb.openUntil) {
			return false
		}
		cb.state = HalfOpen
		cb.halfOpenInFlight = true
		return true
	case HalfOpen:
		if cb.halfOpenInFlight {
			return false
		}
		cb.halfOpenInFlight = true
		return true
	default:
		return true
	}
}

// Record reports the outcome of a call that Allow permitted. A single
// success closes the breaker and resets backoff; a failure in Closed state
// accumulates toward failureThreshold, and a failure in HalfOpen re-opens
// with the cooldown doubled (capped at maxCooldown).
func (cb *CircuitBreaker) Record(ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if ok {
		cb.consecutiveFailures = 0
		cb.currentCooldown = cb.baseCooldown
		cb.state = Closed
		cb.halfOpenInFlight = false
		return
	}

	switch cb.state {
	case HalfOpen:
		cb.halfOpenInFlight = false
		cb.trip()
	case Closed:
		cb.consecutiveFailures++
		if cb.consecutiveFailures >= cb.failureThreshold {
			cb.trip()
		}
	case Open:
		// a Record while Open without an intervening Allow cannot happen in
		// normal use; ignore rather than corrupt backoff state.
	}
}

// trip opens the breaker and doubles the next cooldown, up to maxCooldown.
// Caller must hold cb.mu.
func (cb *CircuitBreaker) trip() {
	cb.state = Open
	cb.openUntil = time.Now().Add(cb.currentCooldown)
	next := cb.currentCooldown * 2
	if next > cb.maxCooldown {
		next = cb.maxCooldown
	}
	cb.currentCooldown = next
	cb.consecutiveFailures = 0
}
