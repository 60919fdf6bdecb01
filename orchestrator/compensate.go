package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/chainworks/steward/integration"
	"github.com/chainworks/steward/outcome"
	"github.com/chainworks/steward/workflow"
)

// failAndCompensate marks the instance failed with the outcome's reason
// code, then undoes already-completed compensable steps in reverse
// order. When at least one compensating action ran, the instance ends
// compensated; with nothing to undo it stays failed.
func (o *Orchestrator) failAndCompensate(ctx context.Context, inst *workflow.Instance, def *workflow.Definition, step workflow.Step, out *outcome.Outcome) error {
	o.finalize(inst, workflow.StatusFailed, out.Code)
	if err := o.update(ctx, inst); err != nil {
		return err
	}

	o.logger.Warn("workflow instance failed",
		slog.String("instance_id", inst.ID.String()),
		slog.String("definition", inst.Definition),
		slog.String("step", step.Name),
		slog.String("reason", out.Code),
	)

	if !o.compensate(ctx, inst, def) {
		return nil
	}

	inst.Status = workflow.StatusCompensated
	now := time.Now().UTC()
	inst.CompletedAt = &now
	inst.Touch()
	if err := o.update(ctx, inst); err != nil {
		return err
	}

	o.logger.Info("workflow instance compensated",
		slog.String("instance_id", inst.ID.String()),
		slog.String("definition", inst.Definition),
	)
	return nil
}

// compensate undoes completed compensable steps in reverse order.
// Each compensating action is attempted exactly once; a failure is
// escalated to the manual-review queue and the remaining undos still
// run, so one stuck refund cannot block the rest. Reports whether any
// compensating action was attempted.
func (o *Orchestrator) compensate(ctx context.Context, inst *workflow.Instance, def *workflow.Definition) bool {
	ran := false
	for i := inst.StepIndex - 1; i >= 0; i-- {
		step, ok := def.Step(i)
		if !ok || !step.Compensable {
			continue
		}
		ran = true
		o.compensateStep(ctx, inst, i, step)
	}
	return ran
}

// compensateStep invokes one compensating action. The forward step's
// recorded output is the call payload: it carries the provider
// references (charge id, batch id) the undo needs.
func (o *Orchestrator) compensateStep(ctx context.Context, inst *workflow.Instance, stepIndex int, step workflow.Step) {
	payload := []byte(inst.Outputs[step.Name])

	inv, ok := o.clients.Get(step.CompensateWith)
	if !ok {
		o.escalate(ctx, inst, step, payload,
			outcome.Permanent("capability-unconfigured", "no integration client registered for "+step.CompensateWith, nil))
		return
	}

	started := time.Now().UTC()
	out, err := inv.Invoke(ctx, &integration.Call{
		Capability: step.CompensateWith,
		InstanceID: inst.ID,
		StepName:   step.Name + ".compensate",
		Payload:    payload,
		Timeout:    step.Timeout,
	})
	if err != nil {
		out = outcome.Permanent("infrastructure", err.Error(), nil)
	}

	att := workflow.NewAttempt(inst.ID, stepIndex, step.Name, 1, started, out)
	att.Compensation = true
	o.recordAttempt(ctx, att)

	if out.Class != outcome.Success {
		o.escalate(ctx, inst, step, payload, out)
		return
	}

	o.logger.Info("step compensated",
		slog.String("instance_id", inst.ID.String()),
		slog.String("step", step.Name),
		slog.String("capability", step.CompensateWith),
	)
}

// escalate queues a failed compensation for manual review.
func (o *Orchestrator) escalate(ctx context.Context, inst *workflow.Instance, step workflow.Step, payload []byte, out *outcome.Outcome) {
	if o.review == nil {
		o.logger.Error("compensation failed and no review queue configured",
			slog.String("instance_id", inst.ID.String()),
			slog.String("step", step.Name),
			slog.String("code", out.Code),
		)
		return
	}
	if err := o.review.Push(ctx, inst.ID, inst.Definition, step.Name, step.CompensateWith, payload, out); err != nil {
		o.logger.Error("failed to queue compensation for review",
			slog.String("instance_id", inst.ID.String()),
			slog.String("step", step.Name),
			slog.String("error", err.Error()),
		)
	}
}
