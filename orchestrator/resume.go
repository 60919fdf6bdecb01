package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chainworks/steward"
	"github.com/chainworks/steward/outcome"
	"github.com/chainworks/steward/workflow"
)

// Resume applies a provider callback's outcome to the instance holding
// the given correlation id. Only instances in awaiting-callback are
// resumable; anything else returns steward.ErrNotAwaiting, which the
// webhook ingress acknowledges and logs without re-applying state.
func (o *Orchestrator) Resume(ctx context.Context, correlationID string, out *outcome.Outcome) error {
	found, err := o.store.FindByCorrelation(ctx, correlationID)
	if err != nil {
		return fmt.Errorf("orchestrator: resume %q: %w", correlationID, steward.ErrNotAwaiting)
	}

	mu := o.lock(found.ID)
	mu.Lock()
	defer mu.Unlock()

	// Reload under the lock; the correlation may have been consumed
	// between lookup and acquisition.
	inst, err := o.store.GetInstance(ctx, found.ID)
	if err != nil {
		return err
	}
	if inst.Status != workflow.StatusAwaitingCallback || inst.CorrelationID != correlationID {
		return fmt.Errorf("orchestrator: resume %q: instance %s is %s: %w",
			correlationID, inst.ID, inst.Status, steward.ErrNotAwaiting)
	}

	def, ok := o.registry.Get(inst.Definition)
	if !ok {
		return fmt.Errorf("orchestrator: resume %s: definition %q: %w", inst.ID, inst.Definition, steward.ErrDefinitionNotFound)
	}
	step, ok := def.Step(inst.StepIndex)
	if !ok {
		return fmt.Errorf("orchestrator: resume %s: step index %d out of range: %w", inst.ID, inst.StepIndex, steward.ErrInvalidState)
	}

	attempt := inst.Attempt + 1
	o.recordAttempt(ctx, workflow.NewAttempt(inst.ID, inst.StepIndex, step.Name, attempt, time.Now().UTC(), out))

	o.logger.Info("instance resumed by callback",
		slog.String("instance_id", inst.ID.String()),
		slog.String("step", step.Name),
		slog.String("correlation_id", correlationID),
		slog.String("class", string(out.Class)),
	)

	inst.CorrelationID = ""

	switch out.Class {
	case outcome.Success:
		o.completeStep(inst, step, out)
		inst.Status = workflow.StatusRunning
		if inst.CancelRequested {
			// Deferred cancellation, honored now that the callback
			// resolved.
			o.finalize(inst, workflow.StatusCancelled, "cancelled")
			return o.update(ctx, inst)
		}
		if err := o.update(ctx, inst); err != nil {
			return err
		}
		return o.advanceLocked(ctx, inst)

	case outcome.TransientFailure:
		// The settlement failed in a retryable way; re-drive the step
		// from the top through the sweep. The provider deduplicates on
		// the unchanged idempotency key.
		inst.Status = workflow.StatusRunning
		return o.deferRetry(ctx, inst, def, step, attempt, out)

	default:
		inst.Status = workflow.StatusRunning
		return o.failAndCompensate(ctx, inst, def, step, out)
	}
}
