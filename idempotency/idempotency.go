// Package idempotency provides the durable mapping from idempotency keys
// to terminal call outcomes. It is the authority behind the at-most-once
// side-effect guarantee: once a terminal outcome is recorded for a key,
// every later lookup returns that outcome without touching the provider.
package idempotency

import (
	"context"
	"time"

	"github.com/chainworks/steward/id"
	"github.com/chainworks/steward/outcome"
)

// Key derives the idempotency key for one step of one workflow instance.
// The same (instance, step) pair always produces the same key, so retries
// at any level collapse onto one record.
func Key(instanceID id.InstanceID, stepName string) string {
	return instanceID.String() + ":" + stepName
}

// Record is the durable idempotency entry for one key.
type Record struct {
	ID          id.RecordID      `json:"id"`
	Key         string           `json:"key"`
	FirstSeenAt time.Time        `json:"first_seen_at"`
	Outcome     *outcome.Outcome `json:"outcome,omitempty"`
	ExpiresAt   time.Time        `json:"expires_at"`
}

// Terminal reports whether the record carries a terminal outcome.
func (r *Record) Terminal() bool {
	return r != nil && r.Outcome != nil && r.Outcome.Class.Terminal()
}

// Store defines the persistence contract for idempotency records.
// Implementations must make PutOutcome an atomic per-key
// read-modify-write: two concurrent writers for the same key must
// resolve to exactly one stored outcome.
type Store interface {
	// GetRecord retrieves the record for a key.
	// Returns steward.ErrRecordNotFound if no record exists.
	GetRecord(ctx context.Context, key string) (*Record, error)

	// PutOutcome records a terminal outcome for a key. The first
	// terminal write wins: if the key already holds a terminal outcome,
	// the existing record is returned unchanged. A record is created
	// with FirstSeenAt stamped if none exists yet.
	PutOutcome(ctx context.Context, key string, out *outcome.Outcome, expiresAt time.Time) (*Record, error)

	// PurgeExpired removes records whose ExpiresAt is before the given
	// time. Returns the number of records removed.
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}
