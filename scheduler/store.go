package scheduler

import (
	"context"
	"time"

	"github.com/chainworks/steward/id"
)

// Store defines the persistence contract for triggers.
type Store interface {
	// RegisterTrigger persists a new trigger. Returns
	// steward.ErrDuplicateTrigger if the name already exists.
	RegisterTrigger(ctx context.Context, t *Trigger) error

	// GetTrigger retrieves a trigger by ID.
	// Returns steward.ErrTriggerNotFound if absent.
	GetTrigger(ctx context.Context, triggerID id.TriggerID) (*Trigger, error)

	// ListTriggers returns all triggers.
	ListTriggers(ctx context.Context) ([]*Trigger, error)

	// UpdateTrigger updates a trigger's schedule bookkeeping and
	// enablement.
	UpdateTrigger(ctx context.Context, t *Trigger) error

	// AcquireTriggerLock attempts to take the firing lock for a
	// trigger. Returns true if acquired. The lock expires after ttl,
	// so a sweeper that dies mid-firing cannot hold a trigger forever.
	AcquireTriggerLock(ctx context.Context, triggerID id.TriggerID, owner id.SweeperID, ttl time.Duration) (bool, error)

	// ReleaseTriggerLock releases the firing lock if owner holds it.
	ReleaseTriggerLock(ctx context.Context, triggerID id.TriggerID, owner id.SweeperID) error

	// DeleteTrigger removes a trigger by ID.
	DeleteTrigger(ctx context.Context, triggerID id.TriggerID) error
}
