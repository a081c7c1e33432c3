// Copyright 2026 The Panel Engine Authors

// Package reqchan implements the Request Channel: the cache-backed
// key/value coupling between the control plane and the engine, built
// around a pooled connection client and a pluggable-backend shape.
package reqchan

import (
	"context"
	"time"
)

// RequestChannel is a process-wide key/value store with per-key TTL.
// Receive gives the engine a bounded blocking read without requiring a
// queue-shaped primitive from the backend.
type RequestChannel interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	// Receive polls key until it appears, timeout elapses, or ctx is
	// cancelled, whichever comes first.
	Receive(ctx context.Context, key string, timeout time.Duration) (string, bool, error)
}

const (
	KeyOnDemandRequest    = "display_on_demand_request"
	KeyOnDemandProcessed  = "display_on_demand_processed_id"
	KeyOnDemandConfig     = "display_on_demand_config"
	KeyOnDemandState      = "display_on_demand_state"
)
