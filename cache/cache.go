// Package cache defines the volatile read-through/write-through layer in
// front of the idempotency store, plus rate-limit counters. The cache is
// never authoritative: every value it holds can be rebuilt from the
// durable stores, so eviction or total loss affects latency only.
package cache

import (
	"context"
	"time"

	"github.com/chainworks/steward/outcome"
)

// Cache is the volatile lookup layer. Implementations must treat all
// operations as best-effort; callers degrade to the durable store on
// any error or miss.
type Cache interface {
	// GetOutcome returns the cached terminal outcome for an idempotency
	// key, or nil on miss.
	GetOutcome(ctx context.Context, key string) (*outcome.Outcome, error)

	// SetOutcome mirrors a terminal outcome for an idempotency key with
	// the given TTL.
	SetOutcome(ctx context.Context, key string, out *outcome.Outcome, ttl time.Duration) error

	// Incr increments a rate-limit counter and returns its new value.
	// The counter expires after window.
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)

	// Close releases cache resources.
	Close() error
}

// Nop is a Cache that stores nothing. Used when no cache is configured;
// correctness is unaffected because the idempotency store remains the
// source of truth.
type Nop struct{}

// GetOutcome always misses.
func (Nop) GetOutcome(_ context.Context, _ string) (*outcome.Outcome, error) { return nil, nil }

// SetOutcome discards the value.
func (Nop) SetOutcome(_ context.Context, _ string, _ *outcome.Outcome, _ time.Duration) error {
	return nil
}

// Incr always returns 1, never limiting.
func (Nop) Incr(_ context.Context, _ string, _ time.Duration) (int64, error) { return 1, nil }

// Close is a no-op.
func (Nop) Close() error { return nil }
