// Copyright 2026 The Panel Engine Authors
package reqchan

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	value   string
	expires time.Time
	hasTTL  bool
}

// Memory is an in-process RequestChannel fake, used by engine tests and as
// a standalone fallback mode when no Redis is configured.
type Memory struct {
	mu   sync.Mutex
	data map[string]entry
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]entry)}
}

func (m *Memory) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[key]
	if !ok {
		return "", false, nil
	}
	if e.hasTTL && time.Now().After(e.expires) {
		delete(m.data, key)
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *Memory) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = entry{value: value}
	return nil
}

func (m *Memory) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = entry{value: value, expires: time.Now().Add(ttl), hasTTL: true}
	return nil
}

func (m *Memory) Receive(ctx context.Context, key string, timeout time.Duration) (string, bool, error) {
	const pollInterval = 5 * time.Millisecond
	deadline := time.Now().Add(timeout)

	if val, ok, err := m.Get(ctx, key); err != nil || ok {
		return val, ok, err
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		case <-ticker.C:
			if time.Now().After(deadline) {
				return "", false, nil
			}
			val, ok, err := m.Get(ctx, key)
			if err != nil || ok {
				return val, ok, err
			}
		}
	}
}
