package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chainworks/steward"
	"github.com/chainworks/steward/backoff"
	"github.com/chainworks/steward/id"
	"github.com/chainworks/steward/integration"
	"github.com/chainworks/steward/outcome"
	"github.com/chainworks/steward/workflow"
)

// Advance loads the instance and executes steps until it parks:
// terminal, awaiting a callback, or waiting out a retry delay. The
// per-instance lock is held for the whole call, so no two step attempts
// for one instance are ever in flight concurrently.
func (o *Orchestrator) Advance(ctx context.Context, instanceID id.InstanceID) error {
	mu := o.lock(instanceID)
	mu.Lock()
	defer mu.Unlock()

	inst, err := o.store.GetInstance(ctx, instanceID)
	if err != nil {
		return err
	}
	return o.advanceLocked(ctx, inst)
}

// advanceLocked runs the step loop. Callers hold the instance lock.
func (o *Orchestrator) advanceLocked(ctx context.Context, inst *workflow.Instance) error {
	// A failed instance is settled: compensation within the same
	// failAndCompensate call is the only transition left, never a
	// re-drive of the failed step.
	if inst.Status.Terminal() || inst.Status == workflow.StatusFailed || inst.Status == workflow.StatusAwaitingCallback {
		return nil
	}
	if inst.NextRetryAt != nil && inst.NextRetryAt.After(time.Now()) {
		return nil
	}

	if inst.CancelRequested {
		o.finalize(inst, workflow.StatusCancelled, "cancelled")
		return o.update(ctx, inst)
	}

	def, ok := o.registry.Get(inst.Definition)
	if !ok {
		return fmt.Errorf("orchestrator: advance %s: definition %q: %w", inst.ID, inst.Definition, steward.ErrDefinitionNotFound)
	}

	if inst.Status == workflow.StatusPending {
		inst.Status = workflow.StatusRunning
		inst.Touch()
		if err := o.update(ctx, inst); err != nil {
			return err
		}
	}

	for {
		step, ok := def.Step(inst.StepIndex)
		if !ok {
			o.finalize(inst, workflow.StatusSucceeded, "")
			if err := o.update(ctx, inst); err != nil {
				return err
			}
			o.logger.Info("workflow instance succeeded",
				slog.String("instance_id", inst.ID.String()),
				slog.String("definition", inst.Definition),
			)
			return nil
		}

		parked, err := o.executeStep(ctx, inst, def, step)
		if err != nil || parked {
			return err
		}
	}
}

// executeStep runs one forward step attempt and applies the resulting
// transition. It reports parked=true when the instance cannot continue
// synchronously (awaiting callback, retry delay, or a terminal state).
func (o *Orchestrator) executeStep(ctx context.Context, inst *workflow.Instance, def *workflow.Definition, step workflow.Step) (parked bool, err error) {
	inv, ok := o.clients.Get(step.Capability)
	if !ok {
		// A step whose capability has no registered client can never
		// complete; treat it like a business rejection so compensation
		// runs for whatever already happened.
		o.logger.Error("no client for capability",
			slog.String("instance_id", inst.ID.String()),
			slog.String("capability", step.Capability),
		)
		return true, o.failAndCompensate(ctx, inst, def, step,
			outcome.Permanent("capability-unconfigured", "no integration client registered for "+step.Capability, nil))
	}

	attempt := inst.Attempt + 1
	started := time.Now().UTC()

	out, err := inv.Invoke(ctx, &integration.Call{
		Capability: step.Capability,
		InstanceID: inst.ID,
		StepName:   step.Name,
		Payload:    inst.Input,
		Timeout:    step.Timeout,
	})
	if err != nil {
		// Infrastructure fault: the call never carried the idempotency
		// guarantee, so it does not consume the step's retry budget.
		// Leave the instance running and let the sweep re-drive it.
		o.logger.Warn("step attempt aborted before provider call",
			slog.String("instance_id", inst.ID.String()),
			slog.String("step", step.Name),
			slog.String("error", err.Error()),
		)
		next := time.Now().UTC().Add(o.stepPolicy(step).Strategy.Delay(1))
		inst.NextRetryAt = &next
		inst.Touch()
		if upErr := o.update(ctx, inst); upErr != nil {
			return true, errors.Join(err, upErr)
		}
		return true, err
	}

	o.recordAttempt(ctx, workflow.NewAttempt(inst.ID, inst.StepIndex, step.Name, attempt, started, out))

	switch out.Class {
	case outcome.Success:
		if step.Async {
			return true, o.parkAwaitingCallback(ctx, inst, def, step, attempt, out)
		}
		o.completeStep(inst, step, out)
		return false, o.update(ctx, inst)

	case outcome.TransientFailure:
		return true, o.deferRetry(ctx, inst, def, step, attempt, out)

	default:
		return true, o.failAndCompensate(ctx, inst, def, step, out)
	}
}

// completeStep records the output and moves the cursor to the next step.
func (o *Orchestrator) completeStep(inst *workflow.Instance, step workflow.Step, out *outcome.Outcome) {
	inst.SetOutput(step.Name, out.Payload)
	inst.StepIndex++
	inst.Attempt = 0
	inst.NextRetryAt = nil
	inst.Touch()
}

// parkAwaitingCallback transitions an asynchronous step into
// awaiting-callback, keyed by the provider's reference. A provider that
// accepted the operation without returning a reference leaves the
// instance unresumable, which is a permanent failure.
func (o *Orchestrator) parkAwaitingCallback(ctx context.Context, inst *workflow.Instance, def *workflow.Definition, step workflow.Step, attempt int, out *outcome.Outcome) error {
	if out.ProviderRef == "" {
		o.logger.Error("async step accepted without a correlation reference",
			slog.String("instance_id", inst.ID.String()),
			slog.String("step", step.Name),
		)
		return o.failAndCompensate(ctx, inst, def, step,
			outcome.Permanent("missing-correlation", steward.ErrMissingCorrelation.Error(), out.Payload))
	}

	inst.Status = workflow.StatusAwaitingCallback
	// The submit was recorded as this attempt number; persisting it means
	// the callback settlement records as the next one.
	inst.Attempt = attempt
	inst.CorrelationID = out.ProviderRef
	inst.NextRetryAt = nil
	inst.Touch()
	if err := o.update(ctx, inst); err != nil {
		return err
	}

	o.logger.Info("instance awaiting provider callback",
		slog.String("instance_id", inst.ID.String()),
		slog.String("step", step.Name),
		slog.String("correlation_id", inst.CorrelationID),
	)
	return nil
}

// deferRetry schedules a cross-invocation re-attempt, or fails the
// instance when the step's budget is exhausted.
func (o *Orchestrator) deferRetry(ctx context.Context, inst *workflow.Instance, def *workflow.Definition, step workflow.Step, attempt int, out *outcome.Outcome) error {
	policy := o.stepPolicy(step)
	inst.Attempt = attempt

	if policy.Exhausted(attempt) {
		o.logger.Warn("step retry budget exhausted",
			slog.String("instance_id", inst.ID.String()),
			slog.String("step", step.Name),
			slog.Int("attempts", attempt),
		)
		return o.failAndCompensate(ctx, inst, def, step,
			outcome.Permanent("retries-exhausted", fmt.Sprintf("step %q failed transiently %d times (last: %s)", step.Name, attempt, out.Code), out.Payload))
	}

	next := time.Now().UTC().Add(policy.Strategy.Delay(attempt))
	inst.NextRetryAt = &next
	inst.Touch()
	if err := o.update(ctx, inst); err != nil {
		return err
	}

	o.logger.Info("step deferred for retry",
		slog.String("instance_id", inst.ID.String()),
		slog.String("step", step.Name),
		slog.Int("attempt", attempt),
		slog.Time("next_retry_at", next),
	)
	return nil
}

// stepPolicy returns the step's retry policy or the engine default.
func (o *Orchestrator) stepPolicy(step workflow.Step) backoff.Policy {
	if step.Retry != nil {
		return *step.Retry
	}
	return o.retry
}

// recordAttempt appends to the audit log. A write failure is logged and
// swallowed: the audit log must never block a state transition, and the
// idempotency store already holds the authoritative outcome.
func (o *Orchestrator) recordAttempt(ctx context.Context, att *workflow.StepAttempt) {
	if err := o.store.AppendAttempt(ctx, att); err != nil {
		o.logger.Error("failed to append step attempt",
			slog.String("instance_id", att.InstanceID.String()),
			slog.String("step", att.StepName),
			slog.String("error", err.Error()),
		)
	}
}
