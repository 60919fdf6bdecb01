package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chainworks/steward"
	"github.com/chainworks/steward/backoff"
	"github.com/chainworks/steward/id"
	"github.com/chainworks/steward/integration"
	"github.com/chainworks/steward/review"
	"github.com/chainworks/steward/workflow"
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRetryPolicy sets the default cross-invocation retry policy for
// steps that do not carry their own.
func WithRetryPolicy(p backoff.Policy) Option {
	return func(o *Orchestrator) { o.retry = p }
}

// WithReview sets the manual-review service for compensation failures.
func WithReview(svc *review.Service) Option {
	return func(o *Orchestrator) { o.review = svc }
}

// Orchestrator drives workflow instances through their definitions.
type Orchestrator struct {
	store    workflow.Store
	registry *workflow.Registry
	clients  *integration.ClientSet
	review   *review.Service
	retry    backoff.Policy
	logger   *slog.Logger

	// locks serializes Advance/Resume/Cancel per instance within this
	// process. Entries are never removed; instances are short-lived
	// relative to process lifetime and a bare mutex is tiny.
	locks sync.Map
}

// New creates an Orchestrator.
func New(store workflow.Store, registry *workflow.Registry, clients *integration.ClientSet, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		store:    store,
		registry: registry,
		clients:  clients,
		retry:    backoff.DefaultPolicy(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// lock returns the per-instance mutex, creating it on first use.
func (o *Orchestrator) lock(instanceID id.InstanceID) *sync.Mutex {
	mu, _ := o.locks.LoadOrStore(instanceID.String(), &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// CreateInstance creates a new pending instance of a registered
// definition. triggerFiring deduplicates scheduler-created instances;
// pass "" for API-created ones.
func (o *Orchestrator) CreateInstance(ctx context.Context, definition string, input []byte, triggerFiring string) (*workflow.Instance, error) {
	if _, ok := o.registry.Get(definition); !ok {
		return nil, fmt.Errorf("orchestrator: create %q: %w", definition, steward.ErrDefinitionNotFound)
	}

	inst := &workflow.Instance{
		Entity:        steward.NewEntity(),
		ID:            id.NewInstanceID(),
		Definition:    definition,
		Status:        workflow.StatusPending,
		Input:         input,
		TriggerFiring: triggerFiring,
	}
	if err := o.store.CreateInstance(ctx, inst); err != nil {
		return nil, fmt.Errorf("orchestrator: create %q: %w", definition, err)
	}

	o.logger.Info("workflow instance created",
		slog.String("instance_id", inst.ID.String()),
		slog.String("definition", definition),
	)
	return inst, nil
}

// GetInstance retrieves an instance by ID. Read-only; callers must not
// mutate instance state directly.
func (o *Orchestrator) GetInstance(ctx context.Context, instanceID id.InstanceID) (*workflow.Instance, error) {
	return o.store.GetInstance(ctx, instanceID)
}

// ListAttempts returns the audit log for an instance.
func (o *Orchestrator) ListAttempts(ctx context.Context, instanceID id.InstanceID) ([]*workflow.StepAttempt, error) {
	return o.store.ListAttempts(ctx, instanceID)
}

// Cancel requests cancellation of an instance. Pending and running
// instances are cancelled immediately. An instance awaiting a callback
// has the request deferred; it is honored when the callback resolves.
// Terminal and failed instances return steward.ErrInstanceTerminal: a
// failed instance is already settled and belongs to compensation.
func (o *Orchestrator) Cancel(ctx context.Context, instanceID id.InstanceID) error {
	mu := o.lock(instanceID)
	mu.Lock()
	defer mu.Unlock()

	inst, err := o.store.GetInstance(ctx, instanceID)
	if err != nil {
		return err
	}

	switch {
	case inst.Status.Terminal() || inst.Status == workflow.StatusFailed:
		return fmt.Errorf("orchestrator: cancel %s: %w", instanceID, steward.ErrInstanceTerminal)

	case inst.Status == workflow.StatusAwaitingCallback:
		inst.CancelRequested = true
		inst.Touch()
		if err := o.update(ctx, inst); err != nil {
			return err
		}
		o.logger.Info("cancellation deferred until callback resolves",
			slog.String("instance_id", instanceID.String()),
		)
		return nil

	default:
		o.finalize(inst, workflow.StatusCancelled, "cancelled")
		if err := o.update(ctx, inst); err != nil {
			return err
		}
		o.logger.Info("workflow instance cancelled",
			slog.String("instance_id", instanceID.String()),
		)
		return nil
	}
}

// finalize stamps a terminal status onto the instance.
func (o *Orchestrator) finalize(inst *workflow.Instance, status workflow.Status, reason string) {
	now := time.Now().UTC()
	inst.Status = status
	inst.ReasonCode = reason
	inst.NextRetryAt = nil
	inst.CompletedAt = &now
	inst.Touch()
}

// update persists the instance, absorbing one version conflict. A
// conflict means another process wrote the row between our load and our
// write. The row is reloaded once: if the other writer made the same
// transition (same status and step index), ours is already applied and
// the write succeeds vacuously at the fresh state; otherwise our view
// is stale and the caller must abandon the transition.
func (o *Orchestrator) update(ctx context.Context, inst *workflow.Instance) error {
	err := o.store.UpdateInstance(ctx, inst)
	if err == nil || !errors.Is(err, steward.ErrConflict) {
		return err
	}

	fresh, loadErr := o.store.GetInstance(ctx, inst.ID)
	if loadErr != nil {
		return fmt.Errorf("orchestrator: reload after conflict: %w", loadErr)
	}
	if fresh.Status == inst.Status && fresh.StepIndex == inst.StepIndex {
		*inst = *fresh
		return nil
	}

	o.logger.Debug("dropping conflicting transition",
		slog.String("instance_id", inst.ID.String()),
		slog.String("their_status", string(fresh.Status)),
		slog.String("our_status", string(inst.Status)),
	)
	return steward.ErrConflict
}
