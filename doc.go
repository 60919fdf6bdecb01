// Package steward provides a workflow orchestration engine for
// training-compliance operations that span unreliable external providers:
// a training-status service, a payment gateway, an SMS gateway, and a
// mail relay.
//
// Steward is a library, not a service. Import it, configure a store,
// register workflow definitions and provider clients, and start it.
//
// # Quick Start
//
//	s, err := steward.New(
//	    steward.WithStore(pgStore),
//	    steward.WithConcurrency(8),
//	)
//
// # Architecture
//
// Steward follows a composable store pattern where each subsystem
// (workflow, idempotency, scheduler, webhook, review) defines its own
// store interface. A single backend implements all of them.
//
// The orchestrator advances each workflow instance step by step through
// integration clients that enforce timeouts, bounded retry with backoff,
// and at-most-once side effects via the idempotency store. The scheduler
// fires cron triggers and sweeps retryable instances; the webhook ingress
// resumes instances waiting on asynchronous provider callbacks.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package steward
