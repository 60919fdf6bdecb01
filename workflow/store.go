package workflow

import (
	"context"
	"time"

	"github.com/chainworks/steward/id"
)

// ListOpts controls filtering and pagination for instance list queries.
type ListOpts struct {
	// Limit is the maximum number of instances to return. Zero means
	// no limit.
	Limit int
	// Offset is the number of instances to skip.
	Offset int
	// Status filters by instance status. Empty means all statuses.
	Status Status
	// Definition filters by definition name. Empty means all.
	Definition string
}

// Store defines the persistence contract for workflow instances and
// their step-attempt audit log.
//
// UpdateInstance must be an atomic per-row compare-and-swap on Version:
// a write whose Version does not match the stored value fails with
// steward.ErrConflict and leaves the row unchanged. This is what keeps
// two concurrent sweep cycles from double-advancing one instance.
type Store interface {
	// CreateInstance persists a new instance. Fails with
	// steward.ErrInstanceExists if an instance with the same
	// TriggerFiring already exists (duplicate-safe trigger firing).
	CreateInstance(ctx context.Context, inst *Instance) error

	// GetInstance retrieves an instance by ID.
	// Returns steward.ErrInstanceNotFound if absent.
	GetInstance(ctx context.Context, instanceID id.InstanceID) (*Instance, error)

	// UpdateInstance persists changes to an instance iff inst.Version
	// matches the stored version, then increments it. Returns
	// steward.ErrConflict on a version mismatch.
	UpdateInstance(ctx context.Context, inst *Instance) error

	// ListInstances returns instances matching the given options,
	// ordered by creation time.
	ListInstances(ctx context.Context, opts ListOpts) ([]*Instance, error)

	// ListDue returns up to limit instances that the retry sweep should
	// advance: status pending, or status running with NextRetryAt at or
	// before now (or unset). Instances awaiting callbacks are never due.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*Instance, error)

	// FindByCorrelation locates the instance holding the given
	// correlation id. Returns steward.ErrInstanceNotFound if no
	// instance holds it.
	FindByCorrelation(ctx context.Context, correlationID string) (*Instance, error)

	// AppendAttempt appends to the audit log. Attempts are immutable
	// once written.
	AppendAttempt(ctx context.Context, att *StepAttempt) error

	// ListAttempts returns all attempts for an instance ordered by
	// (step index, attempt number), compensation attempts last in
	// execution order.
	ListAttempts(ctx context.Context, instanceID id.InstanceID) ([]*StepAttempt, error)
}
