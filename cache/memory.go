package cache

import (
	"context"
	"sync"
	"time"

	"github.com/chainworks/steward/outcome"
)

// Memory is an in-process Cache for development and testing.
// Safe for concurrent use.
type Memory struct {
	mu       sync.Mutex
	outcomes map[string]memEntry
	counters map[string]counterEntry
}

type memEntry struct {
	out     *outcome.Outcome
	expires time.Time
}

type counterEntry struct {
	n       int64
	expires time.Time
}

// NewMemory returns an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{
		outcomes: make(map[string]memEntry),
		counters: make(map[string]counterEntry),
	}
}

// GetOutcome returns the cached outcome for key, or nil on miss or expiry.
func (m *Memory) GetOutcome(_ context.Context, key string) (*outcome.Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.outcomes[key]
	if !ok || time.Now().After(e.expires) {
		delete(m.outcomes, key)
		return nil, nil
	}
	cp := *e.out
	return &cp, nil
}

// SetOutcome mirrors an outcome with the given TTL.
func (m *Memory) SetOutcome(_ context.Context, key string, out *outcome.Outcome, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *out
	m.outcomes[key] = memEntry{out: &cp, expires: time.Now().Add(ttl)}
	return nil
}

// Incr increments a windowed counter and returns the new value.
func (m *Memory) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	e, ok := m.counters[key]
	if !ok || now.After(e.expires) {
		e = counterEntry{expires: now.Add(window)}
	}
	e.n++
	m.counters[key] = e
	return e.n, nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
