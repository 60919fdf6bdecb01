// Package workflow defines the orchestration data model: declarative
// workflow definitions, durable workflow instances, the append-only
// step-attempt audit log, and the workflow store interface.
//
// # Definitions
//
// A [Definition] is a named, ordered sequence of [Step] values. Each step
// names a capability (the integration client that executes it), declares
// whether it is compensable and which capability undoes it, and whether
// its result arrives asynchronously via webhook:
//
//	var ComplianceCheck = &workflow.Definition{
//	    Name: "compliance-check",
//	    Steps: []workflow.Step{
//	        {Name: "verify-training", Capability: "verify-training"},
//	        {Name: "charge-fee", Capability: "charge-fee",
//	            Compensable: true, CompensateWith: "refund-fee", Async: true},
//	        {Name: "send-sms", Capability: "send-sms"},
//	    },
//	}
//
// # Instances
//
// An [Instance] is one execution of a definition. It progresses through
// a state machine owned exclusively by the orchestrator:
//
//	pending → running → {awaiting-callback ⇄ running} → succeeded
//	pending → running → failed → compensated
//	pending|running → cancelled
//
// Instances carry an optimistic-concurrency version; stores reject stale
// writes with steward.ErrConflict so two sweep cycles can never
// double-advance the same instance.
//
// # Step attempts
//
// Every integration call made on behalf of an instance appends a
// [StepAttempt]. Attempts are never mutated after creation and are
// totally ordered per instance by (step index, attempt number).
package workflow
