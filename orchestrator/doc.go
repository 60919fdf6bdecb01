// Package orchestrator is the execution core: it advances workflow
// instances step by step through integration clients, persists every
// transition, and applies compensation when a step fails for good.
//
// One instance is advanced by at most one goroutine at a time. Within a
// process this is enforced by a per-instance lock held for the duration
// of Advance; across processes by the optimistic version check on every
// instance write. A conflicting write reloads the row and re-attempts
// the transition once; if the row moved on, the transition is dropped
// and the other writer's result stands.
//
// The [Pool] provides the parallel execution units: worker goroutines
// that poll the store for due instances and call Advance on each.
//
// Asynchronous steps park the instance in awaiting-callback and only
// [Orchestrator.Resume], driven by the webhook ingress, moves it again.
// The retry sweep never touches a parked instance.
package orchestrator
